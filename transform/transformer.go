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

package transform

import (
	"encoding/csv"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aaronlmathis/specindex"
	"github.com/aaronlmathis/specindex/schema"
)

// Package transform converts raw CSV rows into typed index documents
// according to the schema registry.
//
// Transformation is stateless with respect to row content, so any number
// of workers may share one Transformer. Field-level coercion failures are
// diagnostics: the field is omitted and the document survives. Only a
// missing key or a fully empty document rejects the row.

// Coordinate domains. Values outside these are omitted, never clamped.
const (
	minLatitude  = -90.0
	maxLatitude  = 90.0
	minLongitude = -180.0
	maxLongitude = 180.0
)

// TransformerStats holds counters about transformation outcomes.
type TransformerStats struct {
	RowsTransformed  int64
	RowsRejected     int64
	FieldErrors      int64
	UnmappedPrefixes map[string]int64 // guid_prefix values absent from the type lookup
}

// TransformerOptions configures the transformer.
type TransformerOptions struct {
	Lookup *schema.TypeLookup
}

// TransformerOption represents a configuration function for TransformerOptions.
type TransformerOption func(*TransformerOptions)

// WithTypeLookup sets the guid_prefix → type lookup used to stamp the
// derived "type" field. Defaults to an empty lookup (prefix fallback).
func WithTypeLookup(lookup *schema.TypeLookup) TransformerOption {
	return func(o *TransformerOptions) { o.Lookup = lookup }
}

// Transformer implements specindex.Transformer against a schema registry.
type Transformer struct {
	registry *schema.Registry
	lookup   *schema.TypeLookup

	rowsTransformed atomic.Int64
	rowsRejected    atomic.Int64
	fieldErrors     atomic.Int64
	unmappedMu      sync.Mutex
	unmapped        map[string]int64
}

// NewTransformer creates a transformer bound to a validated registry.
func NewTransformer(registry *schema.Registry, options ...TransformerOption) *Transformer {
	opts := TransformerOptions{Lookup: schema.EmptyTypeLookup()}
	for _, option := range options {
		option(&opts)
	}
	return &Transformer{
		registry: registry,
		lookup:   opts.Lookup,
		unmapped: make(map[string]int64),
	}
}

// Stats returns a snapshot of transformation counters.
func (t *Transformer) Stats() TransformerStats {
	t.unmappedMu.Lock()
	unmapped := make(map[string]int64, len(t.unmapped))
	for k, v := range t.unmapped {
		unmapped[k] = v
	}
	t.unmappedMu.Unlock()

	return TransformerStats{
		RowsTransformed:  t.rowsTransformed.Load(),
		RowsRejected:     t.rowsRejected.Load(),
		FieldErrors:      t.fieldErrors.Load(),
		UnmappedPrefixes: unmapped,
	}
}

// Transform implements the specindex.Transformer interface.
func (t *Transformer) Transform(row specindex.RawRow) (specindex.Document, []specindex.FieldError, error) {
	id, err := t.documentID(row)
	if err != nil {
		t.rowsRejected.Add(1)
		return specindex.Document{}, nil, err
	}

	fields := make(map[string]interface{})
	var fieldErrs []specindex.FieldError

	for _, def := range t.registry.All() {
		if !def.Indexed {
			continue
		}
		raw, ok := row.Values[def.Name]
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		value, ferr := t.coerce(def, raw)
		if ferr != nil {
			fieldErrs = append(fieldErrs, *ferr)
			continue
		}
		if value == nil {
			continue
		}
		fields[def.Name] = value
	}

	t.fieldErrors.Add(int64(len(fieldErrs)))

	if len(fields) == 0 {
		t.rowsRejected.Add(1)
		return specindex.Document{}, fieldErrs, &specindex.EmptyDocumentError{Line: row.Line}
	}

	if prefix, ok := fields["guid_prefix"].(string); ok {
		typ, mapped := t.lookup.TypeFor(prefix)
		fields[schema.DerivedTypeField] = typ
		if !mapped {
			t.unmappedMu.Lock()
			t.unmapped[prefix]++
			t.unmappedMu.Unlock()
		}
	}

	t.rowsTransformed.Add(1)
	return specindex.Document{ID: id, Fields: fields}, fieldErrs, nil
}

// documentID builds the stable identifier from the three key columns.
// The identifier is derived regardless of other field outcomes; any empty
// key column rejects the row, since it could be neither indexed nor
// deduplicated safely.
func (t *Transformer) documentID(row specindex.RawRow) (string, error) {
	inst := strings.TrimSpace(row.Values[schema.KeyInstitution])
	coll := strings.TrimSpace(row.Values[schema.KeyCollection])
	cat := strings.TrimSpace(row.Values[schema.KeyCatalogNum])

	var missing []string
	if inst == "" {
		missing = append(missing, schema.KeyInstitution)
	}
	if coll == "" {
		missing = append(missing, schema.KeyCollection)
	}
	if cat == "" {
		missing = append(missing, schema.KeyCatalogNum)
	}
	if len(missing) > 0 {
		return "", &specindex.MissingKeyError{Line: row.Line, Missing: missing}
	}

	return inst + ":" + coll + ":" + cat, nil
}

// coerce converts one trimmed, non-empty raw value to its declared type.
func (t *Transformer) coerce(def schema.FieldDefinition, raw string) (interface{}, *specindex.FieldError) {
	switch def.Type {
	case schema.Keyword, schema.Text:
		return raw, nil

	case schema.KeywordList:
		tokens := SplitKeywordList(raw)
		if len(tokens) == 0 {
			// Nothing but separators and whitespace: field absent, not an error.
			return nil, nil
		}
		return tokens, nil

	case schema.Decimal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &specindex.FieldError{Field: def.Name, Code: specindex.InvalidNumber, Value: raw}
		}
		if out := decimalOutOfRange(def.Name, f); out {
			return nil, &specindex.FieldError{Field: def.Name, Code: specindex.OutOfRange, Value: raw}
		}
		return f, nil

	case schema.Integer:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &specindex.FieldError{Field: def.Name, Code: specindex.InvalidNumber, Value: raw}
		}
		if out := integerOutOfRange(def.Name, n); out {
			return nil, &specindex.FieldError{Field: def.Name, Code: specindex.OutOfRange, Value: raw}
		}
		return n, nil

	case schema.URL:
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, &specindex.FieldError{Field: def.Name, Code: specindex.InvalidURL, Value: raw}
		}
		return raw, nil
	}

	// Unreachable: the registry validates types at startup.
	return raw, nil
}

func decimalOutOfRange(field string, v float64) bool {
	switch field {
	case "dec_lat":
		return v < minLatitude || v > maxLatitude
	case "dec_long":
		return v < minLongitude || v > maxLongitude
	}
	return false
}

func integerOutOfRange(field string, v int64) bool {
	switch field {
	case "year":
		return v < 0
	case "month":
		return v < 1 || v > 12
	case "day":
		return v < 1 || v > 31
	}
	return false
}

// SplitKeywordList splits a raw list value into trimmed, deduplicated
// tokens, preserving first-seen order. The split is quote-aware: the value
// is parsed as a single CSV record, so a token that arrives still wrapped
// in its own quotes keeps embedded commas intact, while a plain value
// splits naively on comma.
func SplitKeywordList(raw string) []string {
	cr := csv.NewReader(strings.NewReader(raw))
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	parts, err := cr.Read()
	if err != nil {
		parts = strings.Split(raw, ",")
	}

	seen := make(map[string]struct{}, len(parts))
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		tokens = append(tokens, p)
	}
	return tokens
}
