// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store is C1, the persistent store: a thin wrapper over
// database/sql that owns connection setup, schema migration, and
// serialisable transactions. It provides no semantic rules of its own
// (those live in internal/repo and above); it only guarantees the
// contract of spec.md §6.1.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Queryer is the subset of *sql.DB / *sql.Tx that repositories need.
// Repositories accept a Queryer so the same code runs standalone or
// inside Store.RunInTransaction.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the *sql.DB connection pool.
type Store struct {
	db *sql.DB
}

// Config configures the pool (§5 "Shared resources": the store
// connection pool is bounded, configured min/max).
type Config struct {
	// Path is a sqlite DSN: a file path, or "file::memory:?cache=shared"
	// for an in-process test database.
	Path        string
	MaxOpenConns int
	MaxIdleConns int
}

// Open opens the database, applies pragmas for serialisable-ish write
// behaviour, runs pending migrations, and returns a ready Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", cfg.Path, err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = maxOpen
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// DB exposes the underlying *sql.DB for use as a Queryer outside a
// transaction.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// RunInTransaction runs fn inside a BEGIN IMMEDIATE transaction: fn's
// writes are serialised against other writers for the duration, which
// is how §6.1's "serialisable transactions" requirement and §5's
// checkpoint atomicity are satisfied on SQLite. If fn returns an
// error (or panics) the transaction is rolled back; otherwise it is
// committed.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context, q Queryer) error) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("store: acquire conn: %w", err)
	}
	defer conn.Close()

	// BEGIN IMMEDIATE acquires the write lock up front instead of on
	// first write, so two concurrent RunInTransaction callers contend
	// here rather than deadlocking against each other mid-transaction.
	// A short bounded backoff absorbs that contention instead of
	// surfacing SQLITE_BUSY to the caller on the first collision.
	beginBackoff := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	err = backoff.Retry(func() error {
		_, beginErr := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if beginErr != nil && !isBusy(beginErr) {
			return backoff.Permanent(beginErr)
		}
		return beginErr
	}, backoff.WithContext(beginBackoff, ctx))
	if err != nil {
		return fmt.Errorf("store: begin immediate: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			conn.ExecContext(ctx, "ROLLBACK")
			panic(p)
		}
	}()

	if err = fn(ctx, conn); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

// isBusy reports whether err is SQLite reporting the database is
// locked by another writer, the only condition BEGIN IMMEDIATE's
// retry loop backs off on.
func isBusy(err error) bool {
	var sqliteErr *sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.BUSY
}
