package woolfarm

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory SnapshotStore for tests and single-process
// deployments.
type MemoryStore struct {
	mu            sync.RWMutex
	authoritative map[string]*Snapshot
	ancestors     map[string]map[string]*Snapshot
	history       map[string][]*Snapshot
	historyLimit  int
	closed        bool
}

// NewMemoryStore creates an empty in-memory store. historyLimit bounds the
// retained history window per user; 0 means the default of 100.
func NewMemoryStore(historyLimit int) *MemoryStore {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &MemoryStore{
		authoritative: make(map[string]*Snapshot),
		ancestors:     make(map[string]map[string]*Snapshot),
		history:       make(map[string][]*Snapshot),
		historyLimit:  historyLimit,
	}
}

// LoadAuthoritative returns the current authoritative snapshot, nil if none.
func (s *MemoryStore) LoadAuthoritative(_ context.Context, userID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if snap, ok := s.authoritative[userID]; ok {
		return snap.Clone(), nil
	}
	return nil, nil
}

// LoadAncestor returns the device's last synced snapshot, nil if unknown.
func (s *MemoryStore) LoadAncestor(_ context.Context, userID, deviceID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if devices, ok := s.ancestors[userID]; ok {
		if snap, ok := devices[deviceID]; ok {
			return snap.Clone(), nil
		}
	}
	return nil, nil
}

// LoadHistory returns up to limit snapshots, oldest to newest.
func (s *MemoryStore) LoadHistory(_ context.Context, userID string, limit int) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	hist := s.history[userID]
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	out := make([]*Snapshot, len(hist))
	for i, snap := range hist {
		out[i] = snap.Clone()
	}
	return out, nil
}

// Persist installs the snapshot as authoritative and appends it to history.
func (s *MemoryStore) Persist(_ context.Context, userID string, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	cp := snap.Clone()
	s.authoritative[userID] = cp
	s.history[userID] = append(s.history[userID], cp)
	if over := len(s.history[userID]) - s.historyLimit; over > 0 {
		s.history[userID] = s.history[userID][over:]
	}
	return nil
}

// SaveAncestor records the device's sync base.
func (s *MemoryStore) SaveAncestor(_ context.Context, userID, deviceID string, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	devices, ok := s.ancestors[userID]
	if !ok {
		devices = make(map[string]*Snapshot)
		s.ancestors[userID] = devices
	}
	devices[deviceID] = snap.Clone()
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// MemoryLocker is an in-process UserLocker backed by per-user channels. A
// lock held past its TTL is reclaimed so a crashed holder cannot wedge the
// account forever.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMemoryLocker creates an in-process per-user locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]chan struct{})}
}

type memoryLock struct {
	ch      chan struct{}
	release sync.Once
	expiry  *time.Timer
}

// Release ends the critical section.
func (l *memoryLock) Release() {
	l.release.Do(func() {
		if l.expiry != nil {
			l.expiry.Stop()
		}
		<-l.ch
	})
}

// Acquire blocks until the user's slot is free or the context is done.
func (ml *MemoryLocker) Acquire(ctx context.Context, userID string, ttl time.Duration) (UserLock, error) {
	ml.mu.Lock()
	ch, ok := ml.locks[userID]
	if !ok {
		ch = make(chan struct{}, 1)
		ml.locks[userID] = ch
	}
	ml.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, newSyncError(SyncErrorTypeLockTimeout, "user lock wait expired", userID, ctx.Err())
	}

	lock := &memoryLock{ch: ch}
	if ttl > 0 {
		lock.expiry = time.AfterFunc(ttl, lock.Release)
	}
	return lock, nil
}
