// Package metadatastore is the durable backend for the Session Manager & User Registry
// (spec.md §4.5, §6.2): the user/token table and the file-action queue. Grounded on
// poyhsiao-memoNexus's internal/db package for the modernc.org/sqlite (pure Go, no cgo) open
// pattern, adapted from a content store to a small key-value/queue schema.
package metadatastore

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"golang.org/x/crypto/nacl/secretbox"
)

// FileAction is the side effect queued against a database path on session termination
// (spec.md §4.5).
type FileAction string

const (
	ActionDelete           FileAction = "delete"
	ActionBackupThenDelete FileAction = "backup_then_delete"
)

// FileActionRecord is one durable queue entry, drained on next launch before sync begins
// (spec.md §4.5).
type FileActionRecord struct {
	Path     string
	Action   FileAction
	QueuedAt time.Time
}

// UserRecord is the Session Manager's persisted view of one signed-in identity (spec.md §4.5).
type UserRecord struct {
	Identity          string
	RefreshToken      string
	AccessToken       string
	AccessTokenExpiry time.Time
}

// SealKey is the caller-supplied 32-byte key metadata columns are sealed under when
// metadata_mode=Encrypted (spec.md §6.3). It is never derived from a platform keychain here;
// keychain integration is an external collaborator per spec.md §1.
type SealKey [32]byte

// Store wraps a modernc.org/sqlite-backed database at <base_file_path>/metadata.db, or an
// in-memory ":memory:" database when metadata_mode=None (spec.md §4.5).
type Store struct {
	db      *sql.DB
	sealKey *SealKey
}

// Open creates or attaches to the metadata database at path ("" or ":memory:" selects an
// in-memory store). When sealKey is non-nil, token columns are sealed with nacl/secretbox.
func Open(path string, sealKey *SealKey) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("metadatastore: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("metadatastore: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("metadatastore: enable foreign keys: %w", err)
	}

	store := &Store{db: db, sealKey: sealKey}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS users (
	identity            TEXT PRIMARY KEY,
	refresh_token       BLOB NOT NULL,
	access_token        BLOB NOT NULL,
	access_token_expiry INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS file_actions (
	path      TEXT PRIMARY KEY,
	action    TEXT NOT NULL,
	queued_at INTEGER NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("metadatastore: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) seal(plaintext string) ([]byte, error) {
	if s.sealKey == nil {
		return []byte(plaintext), nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, (*[32]byte)(s.sealKey))
	return sealed, nil
}

func (s *Store) open(sealed []byte) (string, error) {
	if s.sealKey == nil {
		return string(sealed), nil
	}
	if len(sealed) < 24 {
		return "", fmt.Errorf("metadatastore: sealed value too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	opened, ok := secretbox.Open(nil, sealed[24:], &nonce, (*[32]byte)(s.sealKey))
	if !ok {
		return "", fmt.Errorf("metadatastore: seal verification failed")
	}
	return string(opened), nil
}

// PutUser upserts a user's tokens (spec.md §4.5).
func (s *Store) PutUser(record UserRecord) error {
	refreshSealed, err := s.seal(record.RefreshToken)
	if err != nil {
		return err
	}
	accessSealed, err := s.seal(record.AccessToken)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
INSERT INTO users (identity, refresh_token, access_token, access_token_expiry)
VALUES (?, ?, ?, ?)
ON CONFLICT(identity) DO UPDATE SET
	refresh_token = excluded.refresh_token,
	access_token = excluded.access_token,
	access_token_expiry = excluded.access_token_expiry
`, record.Identity, refreshSealed, accessSealed, record.AccessTokenExpiry.UnixNano())
	if err != nil {
		return fmt.Errorf("metadatastore: put user: %w", err)
	}
	return nil
}

// GetUser returns the persisted record for identity, or nil if none exists.
func (s *Store) GetUser(identity string) (*UserRecord, error) {
	row := s.db.QueryRow(`SELECT refresh_token, access_token, access_token_expiry FROM users WHERE identity = ?`, identity)

	var refreshSealed, accessSealed []byte
	var expiryNanos int64
	if err := row.Scan(&refreshSealed, &accessSealed, &expiryNanos); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("metadatastore: get user: %w", err)
	}

	refresh, err := s.open(refreshSealed)
	if err != nil {
		return nil, err
	}
	access, err := s.open(accessSealed)
	if err != nil {
		return nil, err
	}

	return &UserRecord{
		Identity:          identity,
		RefreshToken:      refresh,
		AccessToken:       access,
		AccessTokenExpiry: time.Unix(0, expiryNanos),
	}, nil
}

// QueueFileAction durably enqueues a file-system side effect for `path` (spec.md §4.5). A later
// queue for the same path replaces the earlier one — backup-then-delete always wins over a
// plain delete since it is strictly safer.
func (s *Store) QueueFileAction(record FileActionRecord) error {
	_, err := s.db.Exec(`
INSERT INTO file_actions (path, action, queued_at)
VALUES (?, ?, ?)
ON CONFLICT(path) DO UPDATE SET action = CASE WHEN file_actions.action = 'backup_then_delete' THEN file_actions.action ELSE excluded.action END, queued_at = excluded.queued_at
`, record.Path, string(record.Action), record.QueuedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("metadatastore: queue file action: %w", err)
	}
	return nil
}

// DrainFileActions returns every queued file action and removes them from the store, in the
// order a caller should apply them on next launch before sync begins (spec.md §4.5).
func (s *Store) DrainFileActions() ([]FileActionRecord, error) {
	rows, err := s.db.Query(`SELECT path, action, queued_at FROM file_actions ORDER BY queued_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("metadatastore: drain file actions: %w", err)
	}
	defer rows.Close()

	out := []FileActionRecord{}
	for rows.Next() {
		var path, action string
		var queuedAtNanos int64
		if err := rows.Scan(&path, &action, &queuedAtNanos); err != nil {
			return nil, fmt.Errorf("metadatastore: scan file action: %w", err)
		}
		out = append(out, FileActionRecord{Path: path, Action: FileAction(action), QueuedAt: time.Unix(0, queuedAtNanos)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`DELETE FROM file_actions`); err != nil {
		return nil, fmt.Errorf("metadatastore: clear drained actions: %w", err)
	}
	return out, nil
}
