package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/agentictrust/actiongate/pkg/suspend"
)

type fakeSource struct {
	resolved []*suspend.PendingCall
	purged   []string
	purgeErr error
}

func (f *fakeSource) ListResolved(_ context.Context, before time.Time, limit int) ([]*suspend.PendingCall, error) {
	var out []*suspend.PendingCall
	for _, c := range f.resolved {
		if len(out) >= limit {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeSource) Purge(_ context.Context, ids []string) (int64, error) {
	if f.purgeErr != nil {
		return 0, f.purgeErr
	}
	f.purged = append(f.purged, ids...)
	return int64(len(ids)), nil
}

type fakeUploader struct {
	key  string
	body []byte
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, key string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.key = key
	f.body = body
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func resolvedCall(id string) *suspend.PendingCall {
	decided := time.Now().UTC().Add(-2 * time.Hour)
	return &suspend.PendingCall{
		CorrelationID: id,
		Tool:          "purchase_article",
		AdapterID:     "rightfind",
		UserID:        "u1",
		State:         suspend.StateResumed,
		CreatedAt:     decided.Add(-time.Hour),
		Deadline:      decided.Add(22 * time.Hour),
		DecidedBy:     "manager",
		DecidedAt:     &decided,
	}
}

func TestRunOnceUploadsAndPurges(t *testing.T) {
	src := &fakeSource{resolved: []*suspend.PendingCall{resolvedCall("c1"), resolvedCall("c2")}}
	up := &fakeUploader{}
	s := New(src, up, time.Hour, testLogger())

	key, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if key == "" || up.key != key {
		t.Fatalf("expected uploaded bundle, key=%q", key)
	}

	var bundle Bundle
	if err := json.Unmarshal(up.body, &bundle); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	if bundle.CallCount != 2 || len(bundle.Calls) != 2 {
		t.Fatalf("unexpected bundle: %+v", bundle)
	}
	if len(src.purged) != 2 {
		t.Fatalf("expected 2 purged, got %v", src.purged)
	}
}

func TestRunOnceNothingEligible(t *testing.T) {
	s := New(&fakeSource{}, &fakeUploader{}, time.Hour, testLogger())
	key, err := s.RunOnce(context.Background())
	if err != nil || key != "" {
		t.Fatalf("expected no-op, got key=%q err=%v", key, err)
	}
}

func TestUploadFailureSkipsPurge(t *testing.T) {
	src := &fakeSource{resolved: []*suspend.PendingCall{resolvedCall("c1")}}
	up := &fakeUploader{err: fmt.Errorf("storage down")}
	s := New(src, up, time.Hour, testLogger())

	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
	if len(src.purged) != 0 {
		t.Fatal("purge must not run after a failed upload")
	}
}

func TestPurgeFailureStillReturnsKey(t *testing.T) {
	src := &fakeSource{
		resolved: []*suspend.PendingCall{resolvedCall("c1")},
		purgeErr: fmt.Errorf("db down"),
	}
	up := &fakeUploader{}
	s := New(src, up, time.Hour, testLogger())

	key, err := s.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected purge error")
	}
	if key == "" || up.key == "" {
		t.Fatal("bundle should be durable despite purge failure")
	}
}
