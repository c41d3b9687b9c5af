// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jllopis/mathqa/pkg/corpus"
	"github.com/jllopis/mathqa/pkg/errors"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists snapshots in SQLite. Several named snapshots may
// share one database; each store instance owns one name.
type SQLiteStore struct {
	db   *sql.DB
	name string
}

// OpenSQLite opens (or creates) the database at path and returns a store
// for the snapshot called name.
func OpenSQLite(path, name string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to open sqlite database", err).
			WithContext("path", path)
	}
	// ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db, name)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore creates a SQLite-backed store on db and ensures schema.
func NewSQLiteStore(db *sql.DB, name string) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidInput, "db is nil", nil)
	}
	if name == "" {
		name = "default"
	}
	if err := ensureSnapshotSchema(db); err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to create snapshot schema", err)
	}
	return &SQLiteStore{db: db, name: name}, nil
}

// Name implements Store.
func (s *SQLiteStore) Name() string {
	return "sqlite:" + s.name
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save replaces the named snapshot inside a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to begin snapshot transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM index_items WHERE name = ?`, s.name); err != nil {
		return errors.New(errors.CodeInternal, "failed to clear snapshot items", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO index_snapshots (name, model, dimension, record_count, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			model = excluded.model,
			dimension = excluded.dimension,
			record_count = excluded.record_count,
			created_at = excluded.created_at
	`, s.name, snap.Model, snap.Dimension, len(snap.Records), snap.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return errors.New(errors.CodeInternal, "failed to write snapshot header", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO index_items (name, position, record_json, embedding) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to prepare snapshot insert", err)
	}
	defer stmt.Close()

	for i, rec := range snap.Records {
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return errors.New(errors.CodeInternal, "failed to encode record", err).WithContext("position", i)
		}
		if _, err := stmt.ExecContext(ctx, s.name, i, string(recJSON), EncodeVector(snap.Vectors[i])); err != nil {
			return errors.New(errors.CodeInternal, "failed to write snapshot item", err).WithContext("position", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.New(errors.CodeInternal, "failed to commit snapshot", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	var (
		snap      Snapshot
		count     int
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT model, dimension, record_count, created_at FROM index_snapshots WHERE name = ?
	`, s.name).Scan(&snap.Model, &snap.Dimension, &count, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.CodeIndexNotFound, "no snapshot in database", err).
			WithContext("name", s.name)
	}
	if err != nil {
		return nil, errors.New(errors.CodeCorruptIndex, "failed to read snapshot header", err).
			WithContext("name", s.name)
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		snap.CreatedAt = ts
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, record_json, embedding FROM index_items WHERE name = ? ORDER BY position ASC
	`, s.name)
	if err != nil {
		return nil, errors.New(errors.CodeCorruptIndex, "failed to read snapshot items", err)
	}
	defer rows.Close()

	snap.Records = make([]corpus.Record, 0, count)
	snap.Vectors = make([][]float32, 0, count)
	for rows.Next() {
		var (
			pos     int
			recJSON string
			blob    []byte
		)
		if err := rows.Scan(&pos, &recJSON, &blob); err != nil {
			return nil, errors.New(errors.CodeCorruptIndex, "failed to scan snapshot item", err)
		}
		if pos != len(snap.Records) {
			return nil, errors.Newf(errors.CodeCorruptIndex, "snapshot item %d is out of sequence", pos)
		}
		var rec corpus.Record
		if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
			return nil, errors.New(errors.CodeCorruptIndex, "failed to decode record", err).WithContext("position", pos)
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			return nil, errors.New(errors.CodeCorruptIndex, "failed to decode vector", err).WithContext("position", pos)
		}
		snap.Records = append(snap.Records, rec)
		snap.Vectors = append(snap.Vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeCorruptIndex, "failed to iterate snapshot items", err)
	}
	if len(snap.Records) != count {
		return nil, errors.Newf(errors.CodeCorruptIndex, "snapshot header claims %d records, found %d",
			count, len(snap.Records))
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

func ensureSnapshotSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS index_snapshots (
			name TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			record_count INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS index_items (
			name TEXT NOT NULL,
			position INTEGER NOT NULL,
			record_json TEXT NOT NULL,
			embedding BLOB NOT NULL,
			PRIMARY KEY (name, position)
		);
	`)
	return err
}
