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

package specindex

import (
	"context"
)

// Package specindex defines the core interfaces and types for the SpecIndex loader.
//
// SpecIndex is a schema-driven bulk loader that streams large gzipped CSV
// exports of museum specimen occurrence records into a searchable index
// backend, in constant memory, with typed field coercion, bounded batching,
// and resumable at-least-once delivery.
//
// This file contains the primary interfaces for record sources, index
// backends, checkpoint stores, and dead-letter sinks.

// RawRow is a single CSV data row, keyed by header column name.
// Line is the 1-based line number of the row in the input file.
type RawRow struct {
	Line   int64
	Values map[string]string
}

// Document is a typed, index-ready specimen record.
// ID is the stable document identifier built from the institution acronym,
// collection code, and catalog number. Fields maps schema field names to
// coerced values (string, []string, float64, or int64).
// Documents are immutable once constructed.
type Document struct {
	ID     string
	Fields map[string]interface{}
}

// Batch is a bounded, ordered group of documents submitted to the index
// backend as one unit.
type Batch []Document

// BatchResult reports the outcome of a single batch submission.
// Acknowledged lists the document identifiers the backend accepted.
// Rejected maps each refused document identifier to the backend's reason.
type BatchResult struct {
	Acknowledged []string
	Rejected     map[string]string
}

// RecordSource defines the interface for streaming raw rows.
// Implementations decompress and parse the input on the fly.
type RecordSource interface {
	// Read returns the next row or io.EOF when the input is exhausted.
	// A structurally unparsable line is reported as a *MalformedRowError;
	// the stream remains readable afterwards. Any other error is fatal.
	Read(ctx context.Context) (RawRow, error)
	// Close releases any resources held by the source.
	Close() error
}

// Transformer converts a raw row into a typed document.
type Transformer interface {
	// Transform coerces row values according to the schema. Field-level
	// coercion failures are returned as FieldErrors alongside the document;
	// they never reject the row on their own. A non-nil error is a whole-row
	// rejection (*MissingKeyError or *EmptyDocumentError) and no document
	// is produced.
	Transform(row RawRow) (Document, []FieldError, error)
}

// Indexer is the narrow bulk-upsert capability the loader requires of an
// index backend. Submissions are at-least-once: implementations retry
// transport failures with exponential backoff before returning an error,
// and upsert by document identifier so re-submission is idempotent.
type Indexer interface {
	// Submit writes one batch. A non-nil error means the batch could not be
	// delivered after retries and is fatal to the run. Partial backend
	// rejections are reported in the BatchResult, not as an error.
	Submit(ctx context.Context, batch Batch) (BatchResult, error)
	// Close releases any resources held by the indexer.
	Close() error
}

// CheckpointStore persists the resume watermark for a named job.
type CheckpointStore interface {
	// Load returns the last persisted offset for the job, or 0 if none.
	Load(ctx context.Context, job string) (int64, error)
	// Store persists the offset for the job, overwriting any previous value.
	Store(ctx context.Context, job string, offset int64) error
	// Close releases any resources held by the store.
	Close() error
}

// RejectedRow captures a row the pipeline could not index, for offline triage.
type RejectedRow struct {
	Line   int64  // 1-based input line number, 0 when unknown
	Stage  string // "parse", "transform", or "index"
	Reason string
	Raw    string // raw line bytes or document identifier, depending on stage
}

// RejectSink receives rejected rows. Implementations buffer and must be
// flushed before the run report is final.
type RejectSink interface {
	Write(ctx context.Context, row RejectedRow) error
	Flush() error
	Close() error
}
