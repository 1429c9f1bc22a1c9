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

package schema

import (
	"fmt"
)

// Package schema holds the fixed field schema for specimen occurrence
// records: the single source of truth for column recognition, type
// coercion, and backend index mappings.
//
// The registry is immutable after construction and validated once at
// startup. Schema problems are reported here and never at per-row time.

// Type is the semantic coercion target for a schema field.
type Type string

const (
	// Keyword is an exact-match facet value, stored trimmed.
	Keyword Type = "keyword"
	// KeywordList is a comma-separated list of keyword tokens.
	KeywordList Type = "keyword_list"
	// Text is free text, stored trimmed.
	Text Type = "text"
	// Decimal is a base-10 floating point value.
	Decimal Type = "decimal"
	// Integer is a base-10 integer value.
	Integer Type = "integer"
	// URL is an absolute http or https URL.
	URL Type = "url"
)

// FieldDefinition declares one schema field.
type FieldDefinition struct {
	Name    string
	Type    Type
	Indexed bool
}

// Key columns the document identifier is derived from.
const (
	KeyInstitution = "institution_acronym"
	KeyCollection  = "collection_cde"
	KeyCatalogNum  = "cat_num"
)

// DerivedTypeField is the name of the field stamped from the guid_prefix
// lookup table. It is derived, not mapped from a CSV column.
const DerivedTypeField = "type"

// fieldTable is the fixed 26-field specimen schema, in index-mapping order.
var fieldTable = []FieldDefinition{
	{Name: "guid_prefix", Type: Keyword, Indexed: true},
	{Name: "cataloged_item_type", Type: Keyword, Indexed: true},
	{Name: "cat_num", Type: Text, Indexed: true},
	{Name: "institution_acronym", Type: Keyword, Indexed: true},
	{Name: "collection_cde", Type: Keyword, Indexed: true},
	{Name: "collectors", Type: KeywordList, Indexed: true},
	{Name: "continent_ocean", Type: Keyword, Indexed: true},
	{Name: "country", Type: Keyword, Indexed: true},
	{Name: "state_prov", Type: Keyword, Indexed: true},
	{Name: "county", Type: Keyword, Indexed: true},
	{Name: "dec_lat", Type: Decimal, Indexed: true},
	{Name: "dec_long", Type: Decimal, Indexed: true},
	{Name: "coordinateuncertaintyinmeters", Type: Decimal, Indexed: true},
	{Name: "scientific_name", Type: Text, Indexed: true},
	{Name: "identifiedby", Type: Text, Indexed: true},
	{Name: "kingdom", Type: Keyword, Indexed: true},
	{Name: "phylum", Type: Keyword, Indexed: true},
	{Name: "family", Type: Keyword, Indexed: true},
	{Name: "genus", Type: Keyword, Indexed: true},
	{Name: "species", Type: Keyword, Indexed: true},
	{Name: "subspecies", Type: Keyword, Indexed: true},
	{Name: "relatedinformation", Type: URL, Indexed: true},
	{Name: "year", Type: Integer, Indexed: true},
	{Name: "month", Type: Integer, Indexed: true},
	{Name: "day", Type: Integer, Indexed: true},
	{Name: "taxon_rank", Type: Keyword, Indexed: true},
}

// RegistryError wraps schema validation errors.
type RegistryError struct {
	Op  string // The operation that failed (e.g., "validate")
	Err error  // The underlying error
}

// Error returns the error string for RegistryError.
func (e *RegistryError) Error() string {
	return fmt.Sprintf("schema registry %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for RegistryError.
func (e *RegistryError) Unwrap() error {
	return e.Err
}

// Registry is the validated, read-only set of field definitions.
type Registry struct {
	ordered []FieldDefinition
	byName  map[string]FieldDefinition
}

// NewRegistry builds the registry from the built-in field table and
// validates it. Fails fast on duplicate names or unknown types.
func NewRegistry() (*Registry, error) {
	return newRegistry(fieldTable)
}

func newRegistry(defs []FieldDefinition) (*Registry, error) {
	r := &Registry{
		ordered: make([]FieldDefinition, len(defs)),
		byName:  make(map[string]FieldDefinition, len(defs)),
	}
	copy(r.ordered, defs)

	for _, def := range r.ordered {
		if def.Name == "" {
			return nil, &RegistryError{Op: "validate", Err: fmt.Errorf("field with empty name")}
		}
		if _, dup := r.byName[def.Name]; dup {
			return nil, &RegistryError{Op: "validate", Err: fmt.Errorf("duplicate field %q", def.Name)}
		}
		switch def.Type {
		case Keyword, KeywordList, Text, Decimal, Integer, URL:
		default:
			return nil, &RegistryError{Op: "validate", Err: fmt.Errorf("field %q has unknown type %q", def.Name, def.Type)}
		}
		r.byName[def.Name] = def
	}

	for _, key := range []string{KeyInstitution, KeyCollection, KeyCatalogNum} {
		if _, ok := r.byName[key]; !ok {
			return nil, &RegistryError{Op: "validate", Err: fmt.Errorf("key column %q not in schema", key)}
		}
	}

	return r, nil
}

// DefinitionFor returns the definition for a CSV column name.
// Unknown columns are not an error; they are simply not indexed.
func (r *Registry) DefinitionFor(column string) (FieldDefinition, bool) {
	def, ok := r.byName[column]
	return def, ok
}

// All returns the ordered field definitions. The returned slice is a copy.
func (r *Registry) All() []FieldDefinition {
	out := make([]FieldDefinition, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of field definitions.
func (r *Registry) Len() int {
	return len(r.ordered)
}
