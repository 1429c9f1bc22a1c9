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

// Package checkpoint provides durable offset stores used to resume an
// interrupted load without reprocessing already-indexed rows.
//
// This file implements a local-file store. Offsets are written with a
// temp-file-and-rename sequence so a crash mid-write never leaves a
// corrupt checkpoint behind.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StoreError wraps checkpoint persistence errors with context about the operation.
type StoreError struct {
	Op  string // The operation being performed (e.g., "load", "store")
	Err error  // The underlying error
}

// Error returns the error string for StoreError.
func (e *StoreError) Error() string {
	return fmt.Sprintf("checkpoint store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for StoreError.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// fileRecord is the on-disk checkpoint format.
type fileRecord struct {
	JobID     string    `json:"job_id"`
	Offset    int64     `json:"offset"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileStore persists the watermark offset for a job in a local JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a FileStore backed by the given path. The parent
// directory must already exist.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, &StoreError{Op: "validate", Err: fmt.Errorf("path is required")}
	}
	return &FileStore{path: path}, nil
}

// Load returns the last stored offset for job. A missing file or a file
// written for a different job yields offset 0.
func (s *FileStore) Load(_ context.Context, job string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, &StoreError{Op: "load", Err: err}
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, &StoreError{Op: "load", Err: fmt.Errorf("decode %s: %w", s.path, err)}
	}
	if rec.JobID != job {
		return 0, nil
	}
	return rec.Offset, nil
}

// Store durably records the offset for job, replacing any previous value.
func (s *FileStore) Store(_ context.Context, job string, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := fileRecord{JobID: job, Offset: offset, UpdatedAt: time.Now().UTC()}
	data, err := json.Marshal(&rec)
	if err != nil {
		return &StoreError{Op: "store", Err: err}
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return &StoreError{Op: "store", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StoreError{Op: "store", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StoreError{Op: "store", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StoreError{Op: "store", Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return &StoreError{Op: "store", Err: err}
	}
	return nil
}

// Close releases resources held by the store. FileStore holds none.
func (s *FileStore) Close() error {
	return nil
}
