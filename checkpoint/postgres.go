//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2026 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of SpecIndex.
//
// SpecIndex is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SpecIndex is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with SpecIndex. If not, see https://www.gnu.org/licenses/.

package checkpoint

// This file implements a PostgreSQL-backed checkpoint store so multiple
// loader hosts can share a single source of truth for resume offsets.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStoreOptions configures the PostgreSQL checkpoint store.
type PostgresStoreOptions struct {
	DSN          string        // PostgreSQL connection string
	TableName    string        // Checkpoint table name
	CreateTable  bool          // Create the table if it does not exist
	QueryTimeout time.Duration // Timeout for individual queries
	MaxOpenConns int           // Max open connections
}

// PostgresStoreOption represents a configuration function for PostgresStoreOptions.
type PostgresStoreOption func(*PostgresStoreOptions)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) PostgresStoreOption {
	return func(opts *PostgresStoreOptions) {
		opts.DSN = dsn
	}
}

// WithTableName sets the checkpoint table name.
func WithTableName(name string) PostgresStoreOption {
	return func(opts *PostgresStoreOptions) {
		opts.TableName = name
	}
}

// WithCreateTable controls whether the table is created on startup.
func WithCreateTable(create bool) PostgresStoreOption {
	return func(opts *PostgresStoreOptions) {
		opts.CreateTable = create
	}
}

// WithQueryTimeout sets the timeout applied to each query.
func WithQueryTimeout(d time.Duration) PostgresStoreOption {
	return func(opts *PostgresStoreOptions) {
		opts.QueryTimeout = d
	}
}

// PostgresStore persists watermark offsets in a PostgreSQL table keyed by job id.
type PostgresStore struct {
	db   *sql.DB
	opts PostgresStoreOptions
}

// NewPostgresStore connects to PostgreSQL and optionally creates the
// checkpoint table.
func NewPostgresStore(ctx context.Context, opts ...PostgresStoreOption) (*PostgresStore, error) {
	popts := PostgresStoreOptions{
		TableName:    "specindex_checkpoints",
		CreateTable:  true,
		QueryTimeout: 10 * time.Second,
		MaxOpenConns: 2,
	}
	for _, opt := range opts {
		opt(&popts)
	}
	if popts.DSN == "" {
		return nil, &StoreError{Op: "validate", Err: fmt.Errorf("dsn is required")}
	}

	db, err := sql.Open("postgres", popts.DSN)
	if err != nil {
		return nil, &StoreError{Op: "connect", Err: err}
	}
	db.SetMaxOpenConns(popts.MaxOpenConns)

	pingCtx, cancel := context.WithTimeout(ctx, popts.QueryTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &StoreError{Op: "ping", Err: err}
	}

	store := &PostgresStore{db: db, opts: popts}
	if popts.CreateTable {
		if err := store.createTable(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return store, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		job_id     TEXT PRIMARY KEY,
		row_offset BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`, s.opts.TableName)

	qctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()
	if _, err := s.db.ExecContext(qctx, query); err != nil {
		return &StoreError{Op: "create_table", Err: err}
	}
	return nil
}

// Load returns the last stored offset for job, or 0 when no row exists.
func (s *PostgresStore) Load(ctx context.Context, job string) (int64, error) {
	query := fmt.Sprintf(`SELECT row_offset FROM %s WHERE job_id = $1`, s.opts.TableName)

	qctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	var offset int64
	err := s.db.QueryRowContext(qctx, query, job).Scan(&offset)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &StoreError{Op: "load", Err: err}
	}
	return offset, nil
}

// Store upserts the offset for job.
func (s *PostgresStore) Store(ctx context.Context, job string, offset int64) error {
	query := fmt.Sprintf(`INSERT INTO %s (job_id, row_offset, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO UPDATE
		SET row_offset = EXCLUDED.row_offset, updated_at = EXCLUDED.updated_at`,
		s.opts.TableName)

	qctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(qctx, query, job, offset, time.Now().UTC()); err != nil {
		return &StoreError{Op: "store", Err: err}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	if err := s.db.Close(); err != nil {
		return &StoreError{Op: "close", Err: err}
	}
	return nil
}
