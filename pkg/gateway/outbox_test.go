package gateway

import (
	"context"
	"testing"
	"time"
)

func TestClaimDueIsExclusive(t *testing.T) {
	ctx := context.Background()
	outbox := NewMemoryOutbox()
	_ = outbox.Enqueue(ctx, sampleNotification("https://hooks.example.com/x"))

	first, err := outbox.ClaimDue(ctx, 10)
	if err != nil || len(first) != 1 {
		t.Fatalf("expected one claimed item, got %d err=%v", len(first), err)
	}
	if first[0].Attempts != 1 {
		t.Fatalf("claim must count the attempt, got %d", first[0].Attempts)
	}

	// An overlapping pass must not see the claimed item.
	second, err := outbox.ClaimDue(ctx, 10)
	if err != nil || len(second) != 0 {
		t.Fatalf("claimed item handed out twice: %d err=%v", len(second), err)
	}
}

func TestMarkRetryRequeuesForClaim(t *testing.T) {
	ctx := context.Background()
	outbox := NewMemoryOutbox()
	_ = outbox.Enqueue(ctx, sampleNotification("https://hooks.example.com/x"))

	claimed, _ := outbox.ClaimDue(ctx, 10)
	if len(claimed) != 1 {
		t.Fatalf("expected one claimed item, got %d", len(claimed))
	}
	if err := outbox.MarkRetry(ctx, claimed[0].ID, time.Now().UTC().Add(-time.Second), "boom"); err != nil {
		t.Fatalf("mark retry: %v", err)
	}

	again, _ := outbox.ClaimDue(ctx, 10)
	if len(again) != 1 {
		t.Fatalf("expected requeued item claimable, got %d", len(again))
	}
	if again[0].Attempts != 2 {
		t.Fatalf("expected second attempt, got %d", again[0].Attempts)
	}
}

func TestMarkSentRetiresItem(t *testing.T) {
	ctx := context.Background()
	outbox := NewMemoryOutbox()
	_ = outbox.Enqueue(ctx, sampleNotification("https://hooks.example.com/x"))

	claimed, _ := outbox.ClaimDue(ctx, 10)
	if err := outbox.MarkSent(ctx, claimed[0].ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if due, _ := outbox.ClaimDue(ctx, 10); len(due) != 0 {
		t.Fatalf("sent item claimed again: %d", len(due))
	}
}
