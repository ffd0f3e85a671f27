package woolfarm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreRoundtrip(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if snap, err := store.LoadAuthoritative(ctx, "u1"); err != nil || snap != nil {
		t.Fatalf("empty store load = %v, %v; want nil, nil", snap, err)
	}

	s := testSnapshot(t0)
	s.Version = 1
	if err := store.Persist(ctx, "u1", s); err != nil {
		t.Fatalf("persist: %v", err)
	}

	loaded, err := store.LoadAuthoritative(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Version != 1 {
		t.Errorf("version = %d, want 1", loaded.Version)
	}

	// Loads are isolated copies.
	loaded.Resources[ResourceWool] = MustDecimal("999")
	again, _ := store.LoadAuthoritative(ctx, "u1")
	if !again.Resources[ResourceWool].IsZero() {
		t.Error("mutation of a loaded snapshot leaked into the store")
	}
}

func TestMemoryStoreAncestors(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if snap, err := store.LoadAncestor(ctx, "u1", "phone"); err != nil || snap != nil {
		t.Fatalf("unknown ancestor = %v, %v; want nil, nil", snap, err)
	}

	s := testSnapshot(t0)
	s.Version = 2
	if err := store.SaveAncestor(ctx, "u1", "phone", s); err != nil {
		t.Fatalf("save ancestor: %v", err)
	}

	loaded, err := store.LoadAncestor(ctx, "u1", "phone")
	if err != nil || loaded == nil {
		t.Fatalf("load ancestor: %v, %v", loaded, err)
	}
	if loaded.Version != 2 {
		t.Errorf("ancestor version = %d, want 2", loaded.Version)
	}
	if other, _ := store.LoadAncestor(ctx, "u1", "tablet"); other != nil {
		t.Error("ancestor leaked across devices")
	}
}

func TestMemoryStoreHistoryWindow(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for v := int64(1); v <= 5; v++ {
		s := testSnapshot(t0.Add(time.Duration(v) * time.Minute))
		s.Version = v
		if err := store.Persist(ctx, "u1", s); err != nil {
			t.Fatalf("persist v%d: %v", v, err)
		}
	}

	hist, err := store.LoadHistory(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("history len = %d, want 3 (window pruned)", len(hist))
	}
	if hist[0].Version != 3 || hist[2].Version != 5 {
		t.Errorf("history versions = %d..%d, want 3..5 oldest first", hist[0].Version, hist[2].Version)
	}

	limited, _ := store.LoadHistory(ctx, "u1", 2)
	if len(limited) != 2 || limited[0].Version != 4 {
		t.Errorf("limited history wrong: %+v", limited)
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	store.Close()

	if _, err := store.LoadAuthoritative(ctx, "u1"); !errors.Is(err, ErrClosed) {
		t.Errorf("load after close = %v, want ErrClosed", err)
	}
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Persist(ctx, "u1", testSnapshot(t0)); !errors.Is(err, ErrClosed) {
		t.Errorf("persist after close = %v, want ErrClosed", err)
	}
}

func TestMemoryLockerExclusive(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// A second acquire for the same user must block until release.
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(waitCtx, "u1", 0); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("second acquire = %v, want ErrLockTimeout", err)
	}

	// Other users are unaffected.
	other, err := locker.Acquire(ctx, "u2", 0)
	if err != nil {
		t.Fatalf("acquire other user: %v", err)
	}
	other.Release()

	lock.Release()
	relocked, err := locker.Acquire(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	relocked.Release()
}

func TestMemoryLockerReleaseIdempotent(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lock.Release()
	lock.Release() // second release must not free someone else's slot

	next, err := locker.Acquire(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(waitCtx, "u1", 0); !errors.Is(err, ErrLockTimeout) {
		t.Error("double release corrupted the lock slot")
	}
	next.Release()
}

func TestMemoryLockerTTLReclaim(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	// Simulate a crashed holder: acquire with a short TTL, never release.
	if _, err := locker.Acquire(ctx, "u1", 30*time.Millisecond); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	lock, err := locker.Acquire(waitCtx, "u1", 0)
	if err != nil {
		t.Fatalf("lock not reclaimed after TTL: %v", err)
	}
	lock.Release()
}
