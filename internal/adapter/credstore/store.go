// Package credstore keeps the device's single credential record in a
// SQLite-backed key-value namespace.
package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/port"
	"golang-wifiprov/internal/types"

	_ "modernc.org/sqlite"
)

// Entry keys of the persisted record
const (
	KeySSID     = "ssid"
	KeyPassword = "password"
	KeyAPIKey   = "openai_key"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY(namespace, key)
);
`

// Store implements the CredentialStore port.
type Store struct {
	path      string
	namespace string

	mu sync.Mutex
	db *sql.DB

	// beforeCommit runs inside the save transaction after every entry was
	// written; an error aborts the transaction.
	beforeCommit func() error
}

// Ensure Store implements the CredentialStore port
var _ port.CredentialStore = (*Store)(nil)

// New returns the store at path without touching the disk. The database is
// opened by the first operation; an open that fails is retried by the next.
func New(path, namespace string) *Store {
	return &Store{path: path, namespace: namespace}
}

// Open returns the store at path, opened and ready.
func Open(ctx context.Context, path, namespace string) (*Store, error) {
	s := New(path, namespace)
	if _, err := s.conn(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	db, err := openStore(ctx, s.path)
	if err != nil {
		return nil, err
	}
	logging.WithComponent("credstore").WithFields(map[string]interface{}{
		"path":      s.path,
		"namespace": s.namespace,
	}).Debug("Credential store opened")
	s.db = db
	return db, nil
}

// openStore opens (creating if needed) the database at path. A file that is
// not a usable database is erased and re-created, so a corrupted store costs
// the device its credentials rather than its ability to boot.
func openStore(ctx context.Context, path string) (*sql.DB, error) {
	logger := logging.WithComponent("credstore").WithField("path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: create store dir: %v", types.ErrStoreUnavailable, err)
	}

	db, err := openDB(ctx, path)
	if err != nil {
		logger.WithError(err).Warn("Store is unusable, erasing and re-creating it")
		if rmErr := removeDBFiles(path); rmErr != nil {
			return nil, fmt.Errorf("%w: erase store: %v", types.ErrStoreUnavailable, rmErr)
		}
		db, err = openDB(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
		}
	}

	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("%w: chmod store: %v", types.ErrStoreUnavailable, err)
	}

	return db, nil
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	var check string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&check); err != nil {
		db.Close()
		return nil, fmt.Errorf("check sqlite: %w", err)
	}
	if check != "ok" {
		db.Close()
		return nil, fmt.Errorf("check sqlite: %s", check)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

func removeDBFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the committed record, or nil when no usable record exists.
func (s *Store) Load(ctx context.Context) (*types.CredentialRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT key, value FROM entries WHERE namespace = ?`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	entries := make(map[string]string, 3)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
		}
		entries[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}

	ssid, hasSSID := entries[KeySSID]
	password, hasPassword := entries[KeyPassword]
	if !hasSSID || ssid == "" {
		return nil, nil
	}
	if !hasPassword {
		logging.WithComponent("credstore").WithField("ssid", ssid).Warn("Stored record has no password entry, treating as absent")
		return nil, nil
	}

	return &types.CredentialRecord{
		SSID:     ssid,
		Password: password,
		APIKey:   entries[KeyAPIKey],
	}, nil
}

// Save commits every field of record in one transaction.
func (s *Store) Save(ctx context.Context, record types.CredentialRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreWriteFailed, err)
	}

	db, err := s.conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreWriteFailed, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", types.ErrStoreWriteFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck

	put := func(key, value string) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO entries(namespace, key, value) VALUES (?, ?, ?)
ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value
`, s.namespace, key, value)
		if err != nil {
			return fmt.Errorf("%w: write %s: %v", types.ErrStoreWriteFailed, key, err)
		}
		return nil
	}

	if err := put(KeySSID, record.SSID); err != nil {
		return err
	}
	if err := put(KeyPassword, record.Password); err != nil {
		return err
	}
	if record.APIKey != "" {
		if err := put(KeyAPIKey, record.APIKey); err != nil {
			return err
		}
	} else if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE namespace = ? AND key = ?`, s.namespace, KeyAPIKey); err != nil {
		return fmt.Errorf("%w: drop %s: %v", types.ErrStoreWriteFailed, KeyAPIKey, err)
	}

	if s.beforeCommit != nil {
		if err := s.beforeCommit(); err != nil {
			return fmt.Errorf("%w: %v", types.ErrStoreWriteFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", types.ErrStoreWriteFailed, err)
	}

	logging.WithComponent("credstore").WithFields(map[string]interface{}{
		"ssid":    record.SSID,
		"has_key": record.APIKey != "",
	}).Info("Credentials saved")
	return nil
}

// Clear erases every entry of the namespace.
func (s *Store) Clear(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreWriteFailed, err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM entries WHERE namespace = ?`, s.namespace); err != nil {
		return fmt.Errorf("%w: clear: %v", types.ErrStoreWriteFailed, err)
	}
	logging.WithComponent("credstore").Info("Credentials cleared")
	return nil
}
