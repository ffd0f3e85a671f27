package woolfarm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/snappy"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// SQLiteStoreConfig configures the SQLite snapshot store.
type SQLiteStoreConfig struct {
	// Path to the SQLite database file
	Path string `yaml:"path"`

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string `yaml:"journal_mode"`

	// Synchronous sets the synchronous flag (OFF, NORMAL, FULL, EXTRA)
	Synchronous string `yaml:"synchronous"`

	// BusyTimeout is the timeout for acquiring locks in milliseconds
	BusyTimeout int `yaml:"busy_timeout"`

	// MaxConnections is the max number of database connections
	MaxConnections int `yaml:"max_connections"`

	// HistoryLimit bounds the retained history rows per user. Older rows
	// are pruned on persist. Default: 100.
	HistoryLimit int `yaml:"history_limit"`
}

// DefaultSQLiteStoreConfig returns default configuration.
func DefaultSQLiteStoreConfig() SQLiteStoreConfig {
	return SQLiteStoreConfig{
		Path:           "woolfarm.db",
		JournalMode:    "WAL",
		Synchronous:    "NORMAL",
		BusyTimeout:    5000,
		MaxConnections: 10,
		HistoryLimit:   100,
	}
}

// SQLiteStore implements SnapshotStore on SQLite. Snapshot bodies are
// stored as snappy-compressed JSON blobs alongside their checksum so load
// paths can detect corruption without decoding.
type SQLiteStore struct {
	db     *sql.DB
	config SQLiteStoreConfig
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed snapshot store.
func NewSQLiteStore(config SQLiteStoreConfig) (*SQLiteStore, error) {
	if config.Path == "" {
		config.Path = "woolfarm.db"
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.Synchronous == "" {
		config.Synchronous = "NORMAL"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 100
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_synchronous=%s&_busy_timeout=%d",
		config.Path, config.JournalMode, config.Synchronous, config.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxConnections / 2)

	store := &SQLiteStore{db: db, config: config}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS authoritative (
		user_id    TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		checksum   TEXT NOT NULL,
		blob       BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS ancestors (
		user_id   TEXT NOT NULL,
		device_id TEXT NOT NULL,
		blob      BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, device_id)
	);
	CREATE TABLE IF NOT EXISTS history (
		user_id    TEXT NOT NULL,
		version    INTEGER NOT NULL,
		blob       BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, version)
	);
	CREATE INDEX IF NOT EXISTS idx_history_user_created
		ON history(user_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// encodeSnapshot serializes a snapshot to a snappy-compressed JSON blob.
func encodeSnapshot(snap *Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

// decodeSnapshot reverses encodeSnapshot. Decode failures are surfaced as
// corruption so operators can recover from history rather than the engine
// silently repairing.
func decodeSnapshot(blob []byte, userID string) (*Snapshot, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, newSyncError(SyncErrorTypeCorruption, "snapshot blob decompression failed", userID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, newSyncError(SyncErrorTypeCorruption, "snapshot blob decode failed", userID, err)
	}
	return &snap, nil
}

// LoadAuthoritative returns the current authoritative snapshot, nil if none.
func (s *SQLiteStore) LoadAuthoritative(ctx context.Context, userID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM authoritative WHERE user_id = ?`, userID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load authoritative: %w", err)
	}
	return decodeSnapshot(blob, userID)
}

// LoadAncestor returns the device's last synced snapshot, nil if unknown.
func (s *SQLiteStore) LoadAncestor(ctx context.Context, userID, deviceID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM ancestors WHERE user_id = ? AND device_id = ?`,
		userID, deviceID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ancestor: %w", err)
	}
	return decodeSnapshot(blob, userID)
}

// LoadHistory returns up to limit snapshots, oldest to newest.
func (s *SQLiteStore) LoadHistory(ctx context.Context, userID string, limit int) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = s.config.HistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT blob FROM (
			SELECT blob, version FROM history WHERE user_id = ?
			ORDER BY version DESC LIMIT ?
		) ORDER BY version ASC`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		snap, err := decodeSnapshot(blob, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Persist installs the snapshot as authoritative and appends it to history
// in one transaction, pruning history rows beyond the configured window.
func (s *SQLiteStore) Persist(ctx context.Context, userID string, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	blob, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	defer tx.Rollback()

	now := snap.Timestamp.UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO authoritative (user_id, version, checksum, blob, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			version = excluded.version,
			checksum = excluded.checksum,
			blob = excluded.blob,
			updated_at = excluded.updated_at`,
		userID, snap.Version, snap.Checksum, blob, now); err != nil {
		return fmt.Errorf("upsert authoritative: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO history (user_id, version, blob, created_at)
		 VALUES (?, ?, ?, ?)`,
		userID, snap.Version, blob, now); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM history WHERE user_id = ? AND version NOT IN (
			SELECT version FROM history WHERE user_id = ?
			ORDER BY version DESC LIMIT ?
		)`, userID, userID, s.config.HistoryLimit); err != nil {
		return fmt.Errorf("prune history: %w", err)
	}

	return tx.Commit()
}

// SaveAncestor records the device's sync base.
func (s *SQLiteStore) SaveAncestor(ctx context.Context, userID, deviceID string, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	blob, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encode ancestor: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO ancestors (user_id, device_id, blob, updated_at)
		 VALUES (?, ?, ?, ?)`,
		userID, deviceID, blob, snap.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("save ancestor: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
