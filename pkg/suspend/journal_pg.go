package suspend

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgJournal persists pending-call state in Postgres. The engine's in-memory
// table stays authoritative for live calls; this is the durability and
// archival substrate behind it.
type PgJournal struct {
	pool *pgxpool.Pool
}

// NewPgJournal creates a journal backed by the given pool.
func NewPgJournal(pool *pgxpool.Pool) *PgJournal {
	return &PgJournal{pool: pool}
}

// Record upserts the call's current state keyed by correlation id.
func (j *PgJournal) Record(ctx context.Context, call *PendingCall) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO pending_calls (
			correlation_id, tool, adapter_id, arguments, user_id,
			state, created_at, deadline,
			decided_by, decided_at, deny_reason, resumed_at,
			event_source, event_key, result, exec_error, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW())
		ON CONFLICT (correlation_id) DO UPDATE SET
			state       = EXCLUDED.state,
			decided_by  = EXCLUDED.decided_by,
			decided_at  = EXCLUDED.decided_at,
			deny_reason = EXCLUDED.deny_reason,
			resumed_at  = EXCLUDED.resumed_at,
			result      = EXCLUDED.result,
			exec_error  = EXCLUDED.exec_error,
			updated_at  = NOW()`,
		call.CorrelationID, call.Tool, call.AdapterID, call.Arguments, call.UserID,
		string(call.State), call.CreatedAt, call.Deadline,
		nullStr(call.DecidedBy), call.DecidedAt, nullStr(call.DenyReason), call.ResumedAt,
		nullStr(call.EventSource), nullStr(call.EventKey), call.Result, nullStr(call.ExecError),
	)
	if err != nil {
		return fmt.Errorf("suspend.Record %s: %w", call.CorrelationID, err)
	}
	return nil
}

// LoadOpen returns all calls that still accept transitions.
func (j *PgJournal) LoadOpen(ctx context.Context) ([]*PendingCall, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT correlation_id, tool, adapter_id, arguments, user_id,
		       state, created_at, deadline,
		       decided_by, decided_at, deny_reason, resumed_at,
		       event_source, event_key, result, exec_error
		FROM pending_calls
		WHERE state IN ('pending','approved')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("suspend.LoadOpen query: %w", err)
	}
	defer rows.Close()
	return scanCalls(rows)
}

// ListResolved returns terminal calls last updated before the cutoff, for the
// archiver to bundle and purge.
func (j *PgJournal) ListResolved(ctx context.Context, before time.Time, limit int) ([]*PendingCall, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT correlation_id, tool, adapter_id, arguments, user_id,
		       state, created_at, deadline,
		       decided_by, decided_at, deny_reason, resumed_at,
		       event_source, event_key, result, exec_error
		FROM pending_calls
		WHERE state IN ('denied','expired','resumed') AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("suspend.ListResolved query: %w", err)
	}
	defer rows.Close()
	return scanCalls(rows)
}

// Purge deletes the given resolved calls after archival.
func (j *PgJournal) Purge(ctx context.Context, correlationIDs []string) (int64, error) {
	if len(correlationIDs) == 0 {
		return 0, nil
	}
	tag, err := j.pool.Exec(ctx, `
		DELETE FROM pending_calls
		WHERE correlation_id = ANY($1)
		  AND state IN ('denied','expired','resumed')`,
		correlationIDs)
	if err != nil {
		return 0, fmt.Errorf("suspend.Purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCalls(rows pgx.Rows) ([]*PendingCall, error) {
	var out []*PendingCall
	for rows.Next() {
		c := &PendingCall{}
		var state string
		var decidedBy, denyReason, eventSource, eventKey, execError *string
		err := rows.Scan(
			&c.CorrelationID, &c.Tool, &c.AdapterID, &c.Arguments, &c.UserID,
			&state, &c.CreatedAt, &c.Deadline,
			&decidedBy, &c.DecidedAt, &denyReason, &c.ResumedAt,
			&eventSource, &eventKey, &c.Result, &execError,
		)
		if err != nil {
			return nil, fmt.Errorf("suspend scan: %w", err)
		}
		c.State = State(state)
		c.DecidedBy = deref(decidedBy)
		c.DenyReason = deref(denyReason)
		c.EventSource = deref(eventSource)
		c.EventKey = deref(eventKey)
		c.ExecError = deref(execError)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("suspend rows: %w", err)
	}
	return out, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
