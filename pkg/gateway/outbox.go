package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MemoryOutbox is the in-process OutboxStore used when no database is
// configured.
type MemoryOutbox struct {
	mu    sync.Mutex
	items map[string]*memOutboxItem
	order []string
}

type memOutboxItem struct {
	n       *Notification
	status  string // "pending" | "processing" | "sent" | "failed"
	nextAt  time.Time
	lastErr string
}

// NewMemoryOutbox creates an empty in-memory outbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{items: make(map[string]*memOutboxItem)}
}

func (m *MemoryOutbox) Enqueue(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.items[n.ID] = &memOutboxItem{n: &cp, status: "pending"}
	m.order = append(m.order, n.ID)
	return nil
}

// ClaimDue mirrors the Postgres claim: a claimed item is 'processing' and its
// attempt is counted, so it cannot be claimed again until MarkRetry requeues it.
func (m *MemoryOutbox) ClaimDue(_ context.Context, limit int) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var out []*Notification
	for _, id := range m.order {
		item := m.items[id]
		if item.status != "pending" || item.nextAt.After(now) {
			continue
		}
		item.status = "processing"
		item.n.Attempts++
		cp := *item.n
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryOutbox) MarkSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		item.status = "sent"
	}
	return nil
}

func (m *MemoryOutbox) MarkRetry(_ context.Context, id string, next time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		item.status = "pending"
		item.nextAt = next
		item.lastErr = lastErr
	}
	return nil
}

func (m *MemoryOutbox) MarkFailed(_ context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		item.status = "failed"
		item.lastErr = reason
	}
	return nil
}

// PgOutbox persists notifications in Postgres so deliveries survive restarts.
type PgOutbox struct {
	pool *pgxpool.Pool
}

// NewPgOutbox creates an outbox backed by the given pool.
func NewPgOutbox(pool *pgxpool.Pool) *PgOutbox {
	return &PgOutbox{pool: pool}
}

func (p *PgOutbox) Enqueue(ctx context.Context, n *Notification) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO notification_outbox (
			id, correlation_id, kind, tool, user_id, state, deadline,
			notify_url, secret_ref, status, attempt_count, next_attempt_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'pending',0,NOW(),$10,NOW())`,
		n.ID, n.CorrelationID, n.Kind, n.Tool, n.UserID, n.State, n.Deadline,
		n.URL, n.SecretRef, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("outbox.Enqueue %s: %w", n.ID, err)
	}
	return nil
}

// ClaimDue moves due rows to 'processing' and counts the attempt in the same
// statement, so two overlapping dispatch passes can never deliver the same
// notification twice. A claimed row leaves 'processing' only through
// MarkSent, MarkRetry, or MarkFailed.
func (p *PgOutbox) ClaimDue(ctx context.Context, limit int) ([]*Notification, error) {
	rows, err := p.pool.Query(ctx, `
		WITH due AS (
			SELECT id
			FROM notification_outbox
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		UPDATE notification_outbox o
		SET status = 'processing', attempt_count = o.attempt_count + 1, updated_at = NOW()
		FROM due
		WHERE o.id = due.id
		RETURNING o.id, o.correlation_id, o.kind, o.tool, o.user_id, o.state, o.deadline,
		          o.notify_url, o.secret_ref, o.attempt_count, o.created_at`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox.ClaimDue: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		if err := rows.Scan(
			&n.ID, &n.CorrelationID, &n.Kind, &n.Tool, &n.UserID, &n.State, &n.Deadline,
			&n.URL, &n.SecretRef, &n.Attempts, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("outbox scan: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PgOutbox) MarkSent(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE notification_outbox
		SET status = 'sent', updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

func (p *PgOutbox) MarkRetry(ctx context.Context, id string, next time.Time, lastErr string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE notification_outbox
		SET status = 'pending', next_attempt_at = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1`, id, next, lastErr)
	return err
}

func (p *PgOutbox) MarkFailed(ctx context.Context, id string, reason string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE notification_outbox
		SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1`, id, reason)
	return err
}
