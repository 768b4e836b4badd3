package correlate

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgIndex persists the event index in Postgres so correlations survive a
// restart alongside the journal.
type PgIndex struct {
	pool *pgxpool.Pool
}

// NewPgIndex creates an index backed by the given pool.
func NewPgIndex(pool *pgxpool.Pool) *PgIndex {
	return &PgIndex{pool: pool}
}

func (p *PgIndex) Put(ctx context.Context, source, key, correlationID string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO event_index (source, event_key, correlation_id, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (source, event_key) DO UPDATE SET
			correlation_id = EXCLUDED.correlation_id,
			created_at     = NOW()`,
		source, key, correlationID)
	if err != nil {
		return fmt.Errorf("correlate.Put %s/%s: %w", source, key, err)
	}
	return nil
}

func (p *PgIndex) Lookup(ctx context.Context, source, key string) (string, bool, error) {
	var id string
	err := p.pool.QueryRow(ctx, `
		SELECT correlation_id FROM event_index
		WHERE source = $1 AND event_key = $2`,
		source, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("correlate.Lookup %s/%s: %w", source, key, err)
	}
	return id, true, nil
}

func (p *PgIndex) Delete(ctx context.Context, source, key string) error {
	_, err := p.pool.Exec(ctx, `
		DELETE FROM event_index WHERE source = $1 AND event_key = $2`,
		source, key)
	if err != nil {
		return fmt.Errorf("correlate.Delete %s/%s: %w", source, key, err)
	}
	return nil
}
