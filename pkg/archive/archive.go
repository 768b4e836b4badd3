// Package archive moves resolved suspensions out of the hot journal into
// object storage as dated JSON bundles.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentictrust/actiongate/pkg/suspend"
	"github.com/google/uuid"
)

const defaultBatchSize = 500

// Source is the slice of the journal the archiver reads and trims.
type Source interface {
	ListResolved(ctx context.Context, before time.Time, limit int) ([]*suspend.PendingCall, error)
	Purge(ctx context.Context, correlationIDs []string) (int64, error)
}

// Uploader writes one bundle to object storage.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

// Service bundles and purges resolved calls.
type Service struct {
	source   Source
	uploader Uploader
	log      *slog.Logger
	// minAge keeps recently resolved calls queryable before archival.
	minAge time.Duration
	batch  int
}

// New creates the archiver. minAge is how long a resolved call stays in the
// journal before it is eligible.
func New(source Source, uploader Uploader, minAge time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		source:   source,
		uploader: uploader,
		log:      log,
		minAge:   minAge,
		batch:    defaultBatchSize,
	}
}

// Bundle is the archived artifact: a batch of resolved calls with enough
// metadata to audit decisions without the database.
type Bundle struct {
	BundleID  string                 `json:"bundle_id"`
	CreatedAt time.Time              `json:"created_at"`
	CallCount int                    `json:"call_count"`
	Calls     []*suspend.PendingCall `json:"calls"`
}

// RunOnce archives one batch. It returns the object key, or "" when nothing
// was eligible. The purge happens only after a successful upload, so a
// storage failure can duplicate a bundle but never lose one.
func (s *Service) RunOnce(ctx context.Context) (string, error) {
	cutoff := time.Now().UTC().Add(-s.minAge)
	calls, err := s.source.ListResolved(ctx, cutoff, s.batch)
	if err != nil {
		return "", err
	}
	if len(calls) == 0 {
		return "", nil
	}

	now := time.Now().UTC()
	bundle := Bundle{
		BundleID:  uuid.NewString(),
		CreatedAt: now,
		CallCount: len(calls),
		Calls:     calls,
	}
	body, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}

	key := fmt.Sprintf("calls/%04d/%02d/%02d/%s.json", now.Year(), now.Month(), now.Day(), bundle.BundleID)
	if err := s.uploader.Upload(ctx, key, body); err != nil {
		return "", err
	}

	ids := make([]string, len(calls))
	for i, c := range calls {
		ids[i] = c.CorrelationID
	}
	purged, err := s.source.Purge(ctx, ids)
	if err != nil {
		// The bundle is already durable; a failed purge means the next run
		// re-archives the same calls.
		return key, fmt.Errorf("purge after upload: %w", err)
	}

	s.log.InfoContext(ctx, "archived resolved calls",
		"key", key, "count", len(calls), "purged", purged)
	return key, nil
}
