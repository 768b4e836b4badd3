package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore persists user grants in Postgres.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a grant store backed by the given pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) GetGrant(ctx context.Context, userID, provider string) (*Grant, error) {
	g := &Grant{}
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, provider, refresh_token, subject_token, updated_at
		FROM credential_grants
		WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	).Scan(&g.UserID, &g.Provider, &g.RefreshToken, &g.SubjectToken, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credentials.GetGrant %s/%s: %w", userID, provider, err)
	}
	return g, nil
}

func (s *PgStore) PutGrant(ctx context.Context, g *Grant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credential_grants (user_id, provider, refresh_token, subject_token, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			refresh_token = EXCLUDED.refresh_token,
			subject_token = EXCLUDED.subject_token,
			updated_at    = EXCLUDED.updated_at`,
		g.UserID, g.Provider, g.RefreshToken, g.SubjectToken, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("credentials.PutGrant %s/%s: %w", g.UserID, g.Provider, err)
	}
	return nil
}

// MemoryStore keeps grants in memory; used in tests and no-database setups.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[string]*Grant
}

// NewMemoryStore creates a store seeded with the given grants.
func NewMemoryStore(grants ...*Grant) *MemoryStore {
	m := &MemoryStore{grants: make(map[string]*Grant)}
	for _, g := range grants {
		m.grants[g.UserID+"/"+g.Provider] = g
	}
	return m
}

func (m *MemoryStore) GetGrant(_ context.Context, userID, provider string) (*Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.grants[userID+"/"+provider]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (m *MemoryStore) PutGrant(_ context.Context, g *Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.grants[g.UserID+"/"+g.Provider] = &cp
	return nil
}
