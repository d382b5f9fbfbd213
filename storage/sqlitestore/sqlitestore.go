// Package sqlitestore implements storage.Store on a single SQLite table using
// the pure-Go modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/storage"
)

// Store is a SQLite backed storage.Store
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and runs migrations.
// Use ":memory:" for a throwaway database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.WrapFatal(err, "sqlitestore", "New", "open database")
	}
	// one writer keeps SQLITE_BUSY out of the snapshot path
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.WrapFatal(err, "sqlitestore", "New", "migrate")
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		PRAGMA journal_mode=WAL;
		CREATE TABLE IF NOT EXISTS blobs (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`)
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Put upserts the blob at key
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, key, data, time.Now().UTC())
	if err != nil {
		return errors.WrapTransient(err, "sqlitestore", "Put", "upsert "+key)
	}
	return nil
}

// Get returns the blob at key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = ?`, key).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(storage.ErrNotFound, "sqlitestore", "Get", "read "+key)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "sqlitestore", "Get", "read "+key)
	}
	return data, nil
}

// UpdatedAt returns when key was last written
func (s *Store) UpdatedAt(ctx context.Context, key string) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM blobs WHERE key = ?`, key).Scan(&ts)
	if stderrors.Is(err, sql.ErrNoRows) {
		return time.Time{}, errors.Wrap(storage.ErrNotFound, "sqlitestore", "UpdatedAt", "read "+key)
	}
	if err != nil {
		return time.Time{}, errors.WrapTransient(err, "sqlitestore", "UpdatedAt", "read "+key)
	}
	return ts, nil
}

// List returns keys with the given prefix in lexicographic order
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM blobs WHERE key LIKE ? ESCAPE '\' ORDER BY key`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, errors.WrapTransient(err, "sqlitestore", "List", "query keys")
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.WrapTransient(err, "sqlitestore", "List", "scan key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "sqlitestore", "List", "iterate keys")
	}
	return keys, nil
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key); err != nil {
		return errors.WrapTransient(err, "sqlitestore", "Delete", "delete "+key)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
