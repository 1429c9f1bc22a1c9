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

import "fmt"

// Package specindex defines the error taxonomy for the SpecIndex loader.
//
// Errors fall into three tiers. Fatal errors (wrapped as *LoaderError) abort
// the run. Row-level errors (*MalformedRowError, *MissingKeyError,
// *EmptyDocumentError) skip and count the offending row. Field-level errors
// (FieldError) omit a single field from an otherwise indexable document.

// LoaderError wraps a fatal pipeline error with context about the operation.
type LoaderError struct {
	Op  string // The operation that failed (e.g., "read", "submit", "checkpoint")
	Err error  // The underlying error
}

// Error returns the error string for LoaderError.
func (e *LoaderError) Error() string {
	return fmt.Sprintf("loader %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for LoaderError.
func (e *LoaderError) Unwrap() error {
	return e.Err
}

// MalformedRowError reports a CSV line that could not be parsed
// (unbalanced quotes, wrong field count). Row-level, never fatal.
type MalformedRowError struct {
	Line int64  // 1-based line number in the input
	Raw  string // raw bytes of the offending line, best effort
	Err  error  // parser error
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("malformed row at line %d: %v", e.Line, e.Err)
}

func (e *MalformedRowError) Unwrap() error {
	return e.Err
}

// MissingKeyError reports a row lacking one or more of the three key columns
// the document identifier is built from. Row-level, never fatal.
type MissingKeyError struct {
	Line    int64
	Missing []string // names of the empty key columns
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("row at line %d missing key columns %v", e.Line, e.Missing)
}

// EmptyDocumentError reports a row that produced zero indexed fields after
// transformation. Row-level, never fatal.
type EmptyDocumentError struct {
	Line int64
}

func (e *EmptyDocumentError) Error() string {
	return fmt.Sprintf("row at line %d produced an empty document", e.Line)
}

// FieldErrorCode classifies a field-level coercion failure.
type FieldErrorCode string

const (
	// InvalidNumber marks a Decimal or Integer value that failed to parse.
	InvalidNumber FieldErrorCode = "invalid_number"
	// OutOfRange marks a parsed value outside the field's declared domain.
	OutOfRange FieldErrorCode = "out_of_range"
	// InvalidURL marks a URL field that is not an absolute http(s) URL.
	InvalidURL FieldErrorCode = "invalid_url"
)

// FieldError is a non-fatal, field-level coercion failure. The field is
// omitted from the document; the document itself is still indexed.
type FieldError struct {
	Field string
	Code  FieldErrorCode
	Value string // the raw value that failed coercion
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %s: %s (%q)", e.Field, e.Code, e.Value)
}
