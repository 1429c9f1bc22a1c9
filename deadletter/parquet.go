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

// Package deadletter records rows rejected during a load so they can be
// inspected and replayed after the run.
//
// This file implements a Parquet-backed reject sink with a fixed schema
// (line, stage, reason, raw) and buffered row-group writes.
package deadletter

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/specindex"
)

// ParquetSinkError wraps dead-letter write errors with context about the operation.
type ParquetSinkError struct {
	Op  string // The operation being performed (e.g., "write", "flush")
	Err error  // The underlying error
}

// Error returns the error string for ParquetSinkError.
func (e *ParquetSinkError) Error() string {
	return fmt.Sprintf("deadletter parquet sink %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for ParquetSinkError.
func (e *ParquetSinkError) Unwrap() error {
	return e.Err
}

// ParquetSinkStats holds dead-letter write statistics.
type ParquetSinkStats struct {
	RowsWritten   int64         // Total rejected rows written
	FlushCount    int64         // Number of row-group flushes
	WriteDuration time.Duration // Total time spent flushing
	LastWriteTime time.Time     // Time of last flush
}

// ParquetSinkOptions configures the Parquet dead-letter sink.
type ParquetSinkOptions struct {
	Path         string // Output file path
	BufferSize   int    // Rows buffered before a flush
	RowGroupSize int64  // Max rows per Parquet row group
}

// ParquetSinkOption represents a configuration function for ParquetSinkOptions.
type ParquetSinkOption func(*ParquetSinkOptions)

// WithBufferSize sets the number of rows buffered before a flush.
func WithBufferSize(n int) ParquetSinkOption {
	return func(opts *ParquetSinkOptions) {
		opts.BufferSize = n
	}
}

// WithRowGroupSize sets the maximum rows per Parquet row group.
func WithRowGroupSize(n int64) ParquetSinkOption {
	return func(opts *ParquetSinkOptions) {
		opts.RowGroupSize = n
	}
}

// ParquetSink writes rejected rows to a Parquet file.
type ParquetSink struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	schema    *arrow.Schema
	allocator memory.Allocator
	opts      ParquetSinkOptions

	mu     sync.Mutex
	buf    []specindex.RejectedRow
	closed bool
	stats  ParquetSinkStats
}

// NewParquetSink creates the output file and prepares the Parquet writer.
func NewParquetSink(path string, opts ...ParquetSinkOption) (*ParquetSink, error) {
	popts := ParquetSinkOptions{
		Path:         path,
		BufferSize:   1000,
		RowGroupSize: 10000,
	}
	for _, opt := range opts {
		opt(&popts)
	}
	if popts.Path == "" {
		return nil, &ParquetSinkError{Op: "validate", Err: fmt.Errorf("path is required")}
	}

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "line", Type: arrow.PrimitiveTypes.Int64},
		{Name: "stage", Type: arrow.BinaryTypes.String},
		{Name: "reason", Type: arrow.BinaryTypes.String},
		{Name: "raw", Type: arrow.BinaryTypes.String},
	}, nil)

	file, err := os.Create(popts.Path)
	if err != nil {
		return nil, &ParquetSinkError{Op: "create", Err: err}
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithMaxRowGroupLength(popts.RowGroupSize),
	)
	writer, err := pqarrow.NewFileWriter(schema, file, props, pqarrow.DefaultWriterProps())
	if err != nil {
		file.Close()
		return nil, &ParquetSinkError{Op: "create", Err: err}
	}

	return &ParquetSink{
		file:      file,
		writer:    writer,
		schema:    schema,
		allocator: memory.NewGoAllocator(),
		opts:      popts,
		buf:       make([]specindex.RejectedRow, 0, popts.BufferSize),
	}, nil
}

// Write buffers a rejected row, flushing a row group when the buffer fills.
func (s *ParquetSink) Write(_ context.Context, row specindex.RejectedRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &ParquetSinkError{Op: "write", Err: fmt.Errorf("sink is closed")}
	}
	s.buf = append(s.buf, row)
	if len(s.buf) >= s.opts.BufferSize {
		return s.flushLocked()
	}
	return nil
}

// Flush writes any buffered rows to the file.
func (s *ParquetSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &ParquetSinkError{Op: "flush", Err: fmt.Errorf("sink is closed")}
	}
	return s.flushLocked()
}

// flushLocked writes the buffer as one Arrow record. Caller holds s.mu.
func (s *ParquetSink) flushLocked() error {
	if len(s.buf) == 0 {
		return nil
	}
	start := time.Now()

	lineB := array.NewInt64Builder(s.allocator)
	stageB := array.NewStringBuilder(s.allocator)
	reasonB := array.NewStringBuilder(s.allocator)
	rawB := array.NewStringBuilder(s.allocator)
	defer lineB.Release()
	defer stageB.Release()
	defer reasonB.Release()
	defer rawB.Release()

	for _, row := range s.buf {
		lineB.Append(row.Line)
		stageB.Append(row.Stage)
		reasonB.Append(row.Reason)
		rawB.Append(row.Raw)
	}

	arrays := []arrow.Array{
		lineB.NewArray(),
		stageB.NewArray(),
		reasonB.NewArray(),
		rawB.NewArray(),
	}
	record := array.NewRecord(s.schema, arrays, int64(len(s.buf)))
	defer record.Release()
	for _, arr := range arrays {
		defer arr.Release()
	}

	if err := s.writer.Write(record); err != nil {
		return &ParquetSinkError{Op: "flush", Err: err}
	}

	s.stats.RowsWritten += int64(len(s.buf))
	s.stats.FlushCount++
	s.stats.WriteDuration += time.Since(start)
	s.stats.LastWriteTime = time.Now()
	s.buf = s.buf[:0]
	return nil
}

// Close flushes remaining rows and finalizes the Parquet file.
func (s *ParquetSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	s.closed = true

	if err := s.writer.Close(); err != nil {
		return &ParquetSinkError{Op: "close", Err: err}
	}
	s.file = nil
	return nil
}

// Stats returns a copy of the sink statistics.
func (s *ParquetSink) Stats() ParquetSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
