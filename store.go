package woolfarm

import (
	"context"
	"time"
)

// SnapshotStore abstracts the authoritative snapshot persistence the engine
// depends on. Implementations must make Persist atomic relative to
// concurrent reads for the same user.
type SnapshotStore interface {
	// LoadAuthoritative returns the current authoritative snapshot for a
	// user, or nil when the user has never synced.
	LoadAuthoritative(ctx context.Context, userID string) (*Snapshot, error)

	// LoadAncestor returns the last snapshot the given device successfully
	// synced against, or nil when unknown.
	LoadAncestor(ctx context.Context, userID, deviceID string) (*Snapshot, error)

	// LoadHistory returns up to limit recent snapshots for the user,
	// ordered oldest to newest.
	LoadHistory(ctx context.Context, userID string, limit int) ([]*Snapshot, error)

	// Persist writes the snapshot as the new authoritative record and
	// appends it to the user's history.
	Persist(ctx context.Context, userID string, s *Snapshot) error

	// SaveAncestor records the snapshot as the device's sync base for
	// future three-way merges.
	SaveAncestor(ctx context.Context, userID, deviceID string, s *Snapshot) error

	// Close releases any resources.
	Close() error
}

// UserLock is a held per-user critical section.
type UserLock interface {
	// Release ends the critical section. Safe to call more than once.
	Release()
}

// UserLocker serializes sync calls per user: at most one in-flight sync per
// userID. The in-process implementation suits single-instance deployments;
// multi-instance deployments inject a distributed implementation with the
// same contract.
type UserLocker interface {
	// Acquire blocks until the user's lock is held, the context is done,
	// or the bounded wait elapses. The ttl guards against a holder that
	// never releases.
	Acquire(ctx context.Context, userID string, ttl time.Duration) (UserLock, error)
}

// Interface guards.
var (
	_ SnapshotStore = (*MemoryStore)(nil)
	_ SnapshotStore = (*SQLiteStore)(nil)
	_ UserLocker    = (*MemoryLocker)(nil)
)
