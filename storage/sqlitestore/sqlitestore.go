// Package sqlitestore persists subject records in a SQLite database, one
// row per (collection, identifier) with the record as a JSON text column.
//
// The database uses WAL mode for concurrent reads during writes, a single
// writer connection, and a busy timeout for lock contention. Corrupt
// payloads are logged and treated as missing.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/bergwerkLABS/LuckPerms/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS subject_data (
    collection TEXT NOT NULL,
    identifier TEXT NOT NULL,
    record     TEXT NOT NULL,
    PRIMARY KEY (collection, identifier)
);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// Store is a SQLite storage backend.
type Store struct {
	db     *sql.DB
	log    zerolog.Logger
	closed atomic.Bool
}

// Open creates or opens the database at path and applies the schema.
// Idempotent: safe to call against an existing database.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: connect: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY churn from the save dispatcher.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitestore: apply pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: apply schema: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// ListCollections returns every collection with at least one record.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT collection FROM subject_data ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list collections: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan collection: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// LoadAll reads every record of a collection. Corrupt payloads are logged
// and skipped.
func (s *Store) LoadAll(ctx context.Context, collection string) (map[string]storage.SubjectRecord, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier, record FROM subject_data WHERE collection = ? ORDER BY identifier`,
		strings.ToLower(collection))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load collection %s: %w", collection, err)
	}
	defer rows.Close()

	out := map[string]storage.SubjectRecord{}
	for rows.Next() {
		var identifier, payload string
		if err := rows.Scan(&identifier, &payload); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan record: %w", err)
		}
		var rec storage.SubjectRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			s.log.Warn().Err(err).
				Str("collection", collection).
				Str("subject", identifier).
				Msg("record corrupt, treating as empty")
			continue
		}
		out[identifier] = rec
	}
	return out, rows.Err()
}

// Load reads one subject's record. A missing or corrupt row reports
// found=false.
func (s *Store) Load(ctx context.Context, collection, identifier string) (storage.SubjectRecord, bool, error) {
	if s.closed.Load() {
		return storage.SubjectRecord{}, false, storage.ErrClosed
	}
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM subject_data WHERE collection = ? AND identifier = ?`,
		strings.ToLower(collection), strings.ToLower(identifier)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SubjectRecord{}, false, nil
	}
	if err != nil {
		return storage.SubjectRecord{}, false, fmt.Errorf("sqlitestore: load %s/%s: %w", collection, identifier, err)
	}

	var rec storage.SubjectRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		s.log.Warn().Err(err).
			Str("collection", collection).
			Str("subject", identifier).
			Msg("record corrupt, treating as empty")
		return storage.SubjectRecord{}, false, nil
	}
	return rec, true, nil
}

// Save upserts a record, or deletes the row when the record is empty.
func (s *Store) Save(ctx context.Context, collection, identifier string, record storage.SubjectRecord) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	coll := strings.ToLower(collection)
	id := strings.ToLower(identifier)

	if record.IsEmpty() {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM subject_data WHERE collection = ? AND identifier = ?`, coll, id); err != nil {
			return fmt.Errorf("sqlitestore: delete %s/%s: %w", collection, identifier, err)
		}
		return nil
	}

	record.Normalize()
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("sqlitestore: encode %s/%s: %w", collection, identifier, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO subject_data (collection, identifier, record) VALUES (?, ?, ?)
		 ON CONFLICT (collection, identifier) DO UPDATE SET record = excluded.record`,
		coll, id, string(payload)); err != nil {
		return fmt.Errorf("sqlitestore: save %s/%s: %w", collection, identifier, err)
	}
	return nil
}

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
