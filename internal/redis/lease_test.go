package redis

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLease_ExclusiveUntilReleased(t *testing.T) {
	client, _, cleanup := setupTestClient(t)
	defer cleanup()
	ctx := context.Background()

	lease, err := client.AcquireLease(ctx, "dispatcher", time.Minute)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if _, err := client.AcquireLease(ctx, "dispatcher", time.Minute); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
	if _, err := client.AcquireLease(ctx, "invoicer", time.Minute); err != nil {
		t.Fatalf("leases for different workers must not collide: %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := client.AcquireLease(ctx, "dispatcher", time.Minute); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestLease_ExpiresAndReleaseIsTokenChecked(t *testing.T) {
	client, mr, cleanup := setupTestClient(t)
	defer cleanup()
	ctx := context.Background()

	stale, err := client.AcquireLease(ctx, "invoicer", 30*time.Second)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	mr.FastForward(31 * time.Second)

	current, err := client.AcquireLease(ctx, "invoicer", 30*time.Second)
	if err != nil {
		t.Fatalf("acquire after expiry failed: %v", err)
	}

	// the stale holder must not delete the new holder's lease
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release failed: %v", err)
	}
	if !mr.Exists("lease:invoicer") {
		t.Fatal("stale release removed the current lease")
	}
	if err := stale.Extend(ctx); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld extending a lost lease, got %v", err)
	}

	mr.FastForward(20 * time.Second)
	if err := current.Extend(ctx); err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	mr.FastForward(20 * time.Second)
	if !mr.Exists("lease:invoicer") {
		t.Fatal("extended lease expired early")
	}
}
