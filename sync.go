package woolfarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SyncStatus is the outcome of a sync attempt.
type SyncStatus string

const (
	// SyncStatusAccepted means the incoming snapshot became authoritative
	// without conflicts.
	SyncStatusAccepted SyncStatus = "accepted"
	// SyncStatusMerged means the snapshot was accepted after three-way
	// conflict resolution.
	SyncStatusMerged SyncStatus = "merged"
	// SyncStatusRejected means validation failed and the authoritative
	// snapshot is unchanged.
	SyncStatusRejected SyncStatus = "rejected"
)

// SyncResult is the outcome of a Sync call.
type SyncResult struct {
	Status SyncStatus `json:"status"`

	// Snapshot is the authoritative snapshot after the sync. On rejection
	// it is the unchanged previous authoritative snapshot.
	Snapshot *Snapshot `json:"snapshot"`

	// Validation carries the confidence score and any violations.
	Validation ValidationResult `json:"validation"`

	// Conflicts lists the three-way merge decisions, if any.
	Conflicts []SyncConflict `json:"conflicts,omitempty"`

	// NoOp is true when the incoming snapshot was byte-identical to the
	// authoritative one and nothing was written.
	NoOp bool `json:"no_op,omitempty"`
}

// SyncConfig configures the sync orchestrator.
type SyncConfig struct {
	// SyncTimeout bounds a single Sync call end to end. Default: 30s.
	SyncTimeout time.Duration `yaml:"sync_timeout"`

	// LockTTL is how long a per-user lock is held before it is reclaimed
	// from a crashed holder. Default: 30s.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// HistoryLimit is how many historical snapshots are loaded for
	// anomaly detection. Default: 50.
	HistoryLimit int `yaml:"history_limit"`
}

// DefaultSyncConfig returns sensible orchestrator defaults.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		SyncTimeout:  30 * time.Second,
		LockTTL:      30 * time.Second,
		HistoryLimit: 50,
	}
}

// SyncEngineOptions injects collaborators into the engine. Zero-value
// fields fall back to the defaults built from Config.
type SyncEngineOptions struct {
	// Store overrides the SQLite snapshot store.
	Store SnapshotStore
	// Locker overrides the in-process per-user locker.
	Locker UserLocker
	// Archive overrides the S3 archive backend.
	Archive ArchiveBackend
	// Audit overrides the slog audit sink.
	Audit AuditSink
	// Logger overrides slog.Default().
	Logger *slog.Logger
}

// SyncEngine serializes and validates snapshot syncs per user. All
// methods are safe for concurrent use.
type SyncEngine struct {
	mu     sync.RWMutex
	closed bool

	store     SnapshotStore
	locker    UserLocker
	validator *StateValidator
	resolver  *ConflictResolver
	calc      *ProductionCalculator
	archive   *SnapshotArchive
	audit     AuditSink
	retryer   *Retryer
	logger    *slog.Logger
	config    SyncConfig

	// now is replaceable in tests.
	now func() time.Time
}

// Open creates a SyncEngine with the default collaborators built from
// the configuration.
func Open(cfg Config) (*SyncEngine, error) {
	return NewSyncEngine(cfg, SyncEngineOptions{})
}

// NewSyncEngine creates a SyncEngine, honoring any injected
// collaborators.
func NewSyncEngine(cfg Config, opts SyncEngineOptions) (*SyncEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Sync.SyncTimeout <= 0 {
		cfg.Sync.SyncTimeout = 30 * time.Second
	}
	if cfg.Sync.LockTTL <= 0 {
		cfg.Sync.LockTTL = 30 * time.Second
	}
	if cfg.Sync.HistoryLimit <= 0 {
		cfg.Sync.HistoryLimit = 50
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := opts.Store
	if store == nil {
		if cfg.Store.Path != "" {
			s, err := NewSQLiteStore(cfg.Store)
			if err != nil {
				return nil, fmt.Errorf("open snapshot store: %w", err)
			}
			store = s
		} else {
			store = NewMemoryStore(cfg.Store.HistoryLimit)
		}
	}

	locker := opts.Locker
	if locker == nil {
		locker = NewMemoryLocker()
	}

	var archive *SnapshotArchive
	backend := opts.Archive
	if backend == nil && cfg.Archive != nil && cfg.Archive.Enabled {
		b, err := NewS3ArchiveBackend(cfg.Archive.S3)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open archive backend: %w", err)
		}
		backend = b
	}
	if backend != nil {
		var enc *Encryptor
		if cfg.Encryption != nil {
			e, err := NewEncryptor(*cfg.Encryption)
			if err != nil {
				store.Close()
				return nil, fmt.Errorf("init encryption: %w", err)
			}
			enc = e
		}
		archive = NewSnapshotArchive(backend, enc)
	}

	audit := opts.Audit
	if audit == nil {
		audit = NewLogAuditSink(logger)
	}

	retryCfg := cfg.Retry
	if retryCfg.RetryIf == nil {
		retryCfg.RetryIf = IsRetryable
	}

	calc := NewProductionCalculator(cfg.Production)
	detector := NewAnomalyDetector(calc, cfg.Anomaly)

	return &SyncEngine{
		store:     store,
		locker:    locker,
		validator: NewStateValidator(calc, detector, cfg.Validator),
		resolver:  NewConflictResolver(calc, cfg.Resolver),
		calc:      calc,
		archive:   archive,
		audit:     audit,
		retryer:   NewRetryer(retryCfg),
		logger:    logger,
		config:    cfg.Sync,
		now:       time.Now,
	}, nil
}

// Sync processes one client snapshot for a user. Syncs for the same user
// are fully serialized; a second sync for the user blocks until the
// first completes or the context expires.
//
// A rejected snapshot is not an error: the result carries the rejection
// and the unchanged authoritative snapshot. Errors are reserved for
// malformed input, lock or sync timeouts, persistence failures, and
// detected corruption.
func (e *SyncEngine) Sync(ctx context.Context, userID, deviceID string, incoming *Snapshot) (*SyncResult, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	e.mu.RUnlock()

	if userID == "" {
		return nil, newSyncError(SyncErrorTypeMalformed, "empty user id", userID, ErrMalformedInput)
	}
	if incoming == nil {
		return nil, newSyncError(SyncErrorTypeMalformed, "nil snapshot", userID, ErrMalformedInput)
	}
	if err := incoming.Validate(); err != nil {
		return nil, newSyncError(SyncErrorTypeMalformed, err.Error(), userID, ErrMalformedInput)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.SyncTimeout)
	defer cancel()

	lock, err := e.locker.Acquire(ctx, userID, e.config.LockTTL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newSyncError(SyncErrorTypeLockTimeout, "user lock not acquired", userID, ErrLockTimeout)
		}
		return nil, err
	}
	defer lock.Release()

	result, err := e.syncLocked(ctx, userID, deviceID, incoming)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, newSyncError(SyncErrorTypeTimeout, "sync deadline exceeded", userID, ErrSyncTimeout)
	}
	return result, err
}

// syncLocked runs the sync pipeline while holding the user lock.
func (e *SyncEngine) syncLocked(ctx context.Context, userID, deviceID string, incoming *Snapshot) (*SyncResult, error) {
	authoritative, err := e.store.LoadAuthoritative(ctx, userID)
	if err != nil {
		return nil, newSyncError(SyncErrorTypePersistence, "load authoritative snapshot", userID, err)
	}

	if authoritative == nil {
		return e.firstSync(ctx, userID, deviceID, incoming)
	}

	if authoritative.Checksum != "" && !VerifyChecksum(authoritative, authoritative.Checksum) {
		e.audit.Emit(newAuditEvent(AuditCorruption, userID, deviceID, SeverityHigh,
			"authoritative snapshot failed checksum verification"))
		return nil, newSyncError(SyncErrorTypeCorruption, "authoritative snapshot checksum mismatch", userID, ErrCorruption)
	}

	// Retried delivery of an already-applied snapshot is a no-op. The
	// version is server-assigned on persist, so compare content with the
	// version normalized to the authoritative one.
	resend := incoming.Clone()
	resend.Version = authoritative.Version
	if ComputeChecksum(resend) == authoritative.Checksum {
		return &SyncResult{
			Status:     SyncStatusAccepted,
			Snapshot:   authoritative,
			Validation: ValidationResult{Accepted: true, ConfidenceScore: 1.0},
			NoOp:       true,
		}, nil
	}

	ancestor, err := e.store.LoadAncestor(ctx, userID, deviceID)
	if err != nil {
		return nil, newSyncError(SyncErrorTypePersistence, "load sync ancestor", userID, err)
	}
	if ancestor == nil {
		ancestor = authoritative
	}

	var resolved *Snapshot
	var conflicts []SyncConflict
	if ancestor.Version == authoritative.Version {
		// No concurrent writes since this device last synced.
		resolved = incoming.Clone()
	} else {
		resolved, conflicts = e.resolver.Resolve(ancestor, incoming, authoritative)
	}

	history, err := e.store.LoadHistory(ctx, userID, e.config.HistoryLimit)
	if err != nil {
		// Anomaly detection degrades gracefully without history.
		e.logger.Warn("history load failed, skipping anomaly detection",
			"user", userID, "error", err)
		history = nil
	}

	elapsed := e.now().Sub(authoritative.Timestamp)
	validation := e.validator.Validate(authoritative, resolved, elapsed, history)

	if !validation.Accepted {
		e.emitRejection(userID, deviceID, validation)
		return &SyncResult{
			Status:     SyncStatusRejected,
			Snapshot:   authoritative,
			Validation: validation,
			Conflicts:  conflicts,
		}, nil
	}

	resolved.Version = authoritative.Version + 1
	resolved.DeviceID = deviceID
	resolved.Checksum = ComputeChecksum(resolved)

	if err := e.retryer.Do(ctx, func() error {
		return e.store.Persist(ctx, userID, resolved)
	}); err != nil {
		return nil, newSyncError(SyncErrorTypePersistence, "persist snapshot", userID, err)
	}
	if err := e.store.SaveAncestor(ctx, userID, deviceID, resolved); err != nil {
		return nil, newSyncError(SyncErrorTypePersistence, "save sync ancestor", userID, err)
	}

	e.archiveSuperseded(ctx, userID, authoritative)

	status := SyncStatusAccepted
	if len(conflicts) > 0 {
		status = SyncStatusMerged
		e.emitConflicts(userID, deviceID, conflicts)
	}

	e.logger.Debug("sync complete",
		"user", userID,
		"device", deviceID,
		"status", string(status),
		"version", resolved.Version,
		"confidence", validation.ConfidenceScore,
		"conflicts", len(conflicts),
	)

	return &SyncResult{
		Status:     status,
		Snapshot:   resolved,
		Validation: validation,
		Conflicts:  conflicts,
	}, nil
}

// firstSync installs the first snapshot for a user.
func (e *SyncEngine) firstSync(ctx context.Context, userID, deviceID string, incoming *Snapshot) (*SyncResult, error) {
	snap := incoming.Clone()
	snap.Version = 1
	snap.DeviceID = deviceID
	snap.Checksum = ComputeChecksum(snap)

	if err := e.retryer.Do(ctx, func() error {
		return e.store.Persist(ctx, userID, snap)
	}); err != nil {
		return nil, newSyncError(SyncErrorTypePersistence, "persist snapshot", userID, err)
	}
	if err := e.store.SaveAncestor(ctx, userID, deviceID, snap); err != nil {
		return nil, newSyncError(SyncErrorTypePersistence, "save sync ancestor", userID, err)
	}

	e.logger.Debug("first sync", "user", userID, "device", deviceID)

	return &SyncResult{
		Status:     SyncStatusAccepted,
		Snapshot:   snap,
		Validation: ValidationResult{Accepted: true, ConfidenceScore: 1.0},
	}, nil
}

// Authoritative returns the current authoritative snapshot for a user,
// or nil when the user has never synced.
func (e *SyncEngine) Authoritative(ctx context.Context, userID string) (*Snapshot, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	e.mu.RUnlock()

	snap, err := e.store.LoadAuthoritative(ctx, userID)
	if err != nil {
		return nil, newSyncError(SyncErrorTypePersistence, "load authoritative snapshot", userID, err)
	}
	return snap, nil
}

// History returns up to limit historical snapshots for a user, oldest
// first.
func (e *SyncEngine) History(ctx context.Context, userID string, limit int) ([]*Snapshot, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	e.mu.RUnlock()

	if limit <= 0 {
		limit = e.config.HistoryLimit
	}
	snaps, err := e.store.LoadHistory(ctx, userID, limit)
	if err != nil {
		return nil, newSyncError(SyncErrorTypePersistence, "load history", userID, err)
	}
	return snaps, nil
}

// Close releases the store and archive. In-flight syncs holding the
// user lock complete; new calls fail with ErrClosed.
func (e *SyncEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	if err := e.store.Close(); err != nil {
		firstErr = err
	}
	if e.archive != nil {
		if err := e.archive.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// archiveSuperseded copies the replaced authoritative snapshot to the
// archive. Archive failures are logged but never fail the sync.
func (e *SyncEngine) archiveSuperseded(ctx context.Context, userID string, superseded *Snapshot) {
	if e.archive == nil {
		return
	}
	if err := e.archive.Store(ctx, userID, superseded); err != nil {
		e.logger.Warn("archive of superseded snapshot failed",
			"user", userID, "version", superseded.Version, "error", err)
	}
}

func (e *SyncEngine) emitRejection(userID, deviceID string, validation ValidationResult) {
	event := newAuditEvent(AuditSyncRejected, userID, deviceID, SeverityHigh,
		fmt.Sprintf("sync rejected with confidence %.2f", validation.ConfidenceScore))
	event.Violations = validation.Violations
	e.audit.Emit(event)
}

func (e *SyncEngine) emitConflicts(userID, deviceID string, conflicts []SyncConflict) {
	sev := SeverityLow
	for _, c := range conflicts {
		if c.Severity > sev {
			sev = c.Severity
		}
	}
	event := newAuditEvent(AuditSyncConflict, userID, deviceID, sev,
		fmt.Sprintf("%d conflicts resolved", len(conflicts)))
	event.Conflicts = conflicts
	e.audit.Emit(event)
}
