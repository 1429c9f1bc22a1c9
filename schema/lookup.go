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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// This file implements the guid_prefix → collection type lookup table.
// Each specimen row carries a guid_prefix; the lookup maps it to a
// human-facing collection type stamped into the derived "type" field.
// Prefixes absent from the table fall back to the prefix itself.

// TypeLookup maps guid_prefix values to collection type names.
// Read-only after construction.
type TypeLookup struct {
	mapping map[string]string
}

// EmptyTypeLookup returns a lookup with no mappings; every prefix falls
// back to itself.
func EmptyTypeLookup() *TypeLookup {
	return &TypeLookup{mapping: map[string]string{}}
}

// LoadTypeLookup reads a lookup CSV with headers guid_prefix,type.
// A missing file is not an error: an empty lookup is returned so callers
// can log the condition and continue with fallback behavior. A present
// file missing the required headers is fatal.
func LoadTypeLookup(path string) (*TypeLookup, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return EmptyTypeLookup(), nil
		}
		return nil, &RegistryError{Op: "open_lookup", Err: err}
	}
	defer f.Close()

	lookup, err := ReadTypeLookup(f)
	if err != nil {
		return nil, err
	}
	return lookup, nil
}

// ReadTypeLookup parses lookup rows from an open reader.
func ReadTypeLookup(r io.Reader) (*TypeLookup, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, &RegistryError{Op: "read_lookup", Err: fmt.Errorf("lookup file is empty")}
		}
		return nil, &RegistryError{Op: "read_lookup", Err: err}
	}

	prefixIdx, typeIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.TrimPrefix(col, "\uFEFF")) {
		case "guid_prefix":
			prefixIdx = i
		case "type":
			typeIdx = i
		}
	}
	if prefixIdx < 0 || typeIdx < 0 {
		return nil, &RegistryError{
			Op:  "read_lookup",
			Err: fmt.Errorf("lookup file missing required columns guid_prefix, type"),
		}
	}

	mapping := make(map[string]string)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &RegistryError{Op: "read_lookup", Err: err}
		}
		if prefixIdx >= len(rec) {
			continue
		}
		prefix := strings.TrimSpace(rec[prefixIdx])
		if prefix == "" {
			continue
		}
		typ := ""
		if typeIdx < len(rec) {
			typ = strings.TrimSpace(rec[typeIdx])
		}
		if typ == "" {
			typ = prefix
		}
		mapping[prefix] = typ
	}

	return &TypeLookup{mapping: mapping}, nil
}

// TypeFor resolves a guid_prefix. Unmapped prefixes fall back to the
// prefix itself; mapped reports which case occurred.
func (t *TypeLookup) TypeFor(prefix string) (value string, mapped bool) {
	if v, ok := t.mapping[prefix]; ok {
		return v, true
	}
	return prefix, false
}

// Len returns the number of mappings.
func (t *TypeLookup) Len() int {
	return len(t.mapping)
}
