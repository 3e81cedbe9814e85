package lockstore

import (
	"context"
	"testing"
	"time"
)

func TestSessionLockKey(t *testing.T) {
	if got := SessionLockKey("user_42"); got != "lock:session:user_42" {
		t.Errorf("SessionLockKey = %q, want %q", got, "lock:session:user_42")
	}
}

func TestRateKey(t *testing.T) {
	if got := RateKey("user_42", "session_start"); got != "rate:session_start:user_42" {
		t.Errorf("RateKey = %q, want %q", got, "rate:session_start:user_42")
	}

	// Keys for different actions must never collide.
	if RateKey("user_42", "session_start") == RateKey("user_42", "api") {
		t.Error("expected distinct keys for distinct actions")
	}
}

func TestNoop_AlwaysAllows(t *testing.T) {
	ctx := context.Background()
	store := NewNoop()

	count, err := store.IncrWithExpiry(ctx, "rate:api:u1", time.Minute)
	if err != nil {
		t.Fatalf("IncrWithExpiry returned error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected count 0 from noop store, got %d", count)
	}

	if err := store.SetWithTTL(ctx, "lock:session:u1", "sess_1", time.Hour); err != nil {
		t.Fatalf("SetWithTTL returned error: %v", err)
	}

	// A set must never become visible: the noop store holds nothing, so the
	// concurrency gate always opens.
	_, exists, err := store.Get(ctx, "lock:session:u1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if exists {
		t.Error("expected noop store to report no keys")
	}

	if err := store.Refresh(ctx, "lock:session:u1", time.Hour); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if err := store.Delete(ctx, "lock:session:u1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
}

func TestNewRedisStoreFromURL_InvalidURL(t *testing.T) {
	if _, err := NewRedisStoreFromURL(context.Background(), "not-a-redis-url"); err == nil {
		t.Fatal("expected error for unparseable Redis URL")
	}
}
