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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BuiltinSchema(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	assert.Equal(t, 26, reg.Len())

	counts := map[Type]int{}
	for _, def := range reg.All() {
		counts[def.Type]++
		assert.True(t, def.Indexed, "field %s should be indexed", def.Name)
	}
	assert.Equal(t, 15, counts[Keyword])
	assert.Equal(t, 3, counts[Text])
	assert.Equal(t, 1, counts[KeywordList])
	assert.Equal(t, 3, counts[Decimal])
	assert.Equal(t, 3, counts[Integer])
	assert.Equal(t, 1, counts[URL])
}

func TestRegistry_DefinitionFor(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	def, ok := reg.DefinitionFor("dec_lat")
	require.True(t, ok)
	assert.Equal(t, Decimal, def.Type)

	def, ok = reg.DefinitionFor("collectors")
	require.True(t, ok)
	assert.Equal(t, KeywordList, def.Type)

	_, ok = reg.DefinitionFor("not_a_column")
	assert.False(t, ok)

	// Key columns must always resolve.
	for _, key := range []string{KeyInstitution, KeyCollection, KeyCatalogNum} {
		_, ok := reg.DefinitionFor(key)
		assert.True(t, ok, "key column %s", key)
	}
}

func TestRegistry_AllReturnsCopy(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	defs := reg.All()
	defs[0].Name = "mutated"

	fresh := reg.All()
	assert.NotEqual(t, "mutated", fresh[0].Name)
}

func TestRegistry_Validation(t *testing.T) {
	t.Run("duplicate name", func(t *testing.T) {
		_, err := newRegistry([]FieldDefinition{
			{Name: "institution_acronym", Type: Keyword, Indexed: true},
			{Name: "collection_cde", Type: Keyword, Indexed: true},
			{Name: "cat_num", Type: Text, Indexed: true},
			{Name: "cat_num", Type: Text, Indexed: true},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := newRegistry([]FieldDefinition{
			{Name: "institution_acronym", Type: Type("blob"), Indexed: true},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown type")
	})

	t.Run("missing key column", func(t *testing.T) {
		_, err := newRegistry([]FieldDefinition{
			{Name: "country", Type: Keyword, Indexed: true},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "key column")
	})
}

func TestReadTypeLookup(t *testing.T) {
	t.Run("basic mapping", func(t *testing.T) {
		in := "guid_prefix,type\nMVZ:Mamm,mammal specimen\nMVZ:Bird,bird specimen\n"
		lookup, err := ReadTypeLookup(strings.NewReader(in))
		require.NoError(t, err)
		assert.Equal(t, 2, lookup.Len())

		v, mapped := lookup.TypeFor("MVZ:Mamm")
		assert.True(t, mapped)
		assert.Equal(t, "mammal specimen", v)
	})

	t.Run("unmapped prefix falls back", func(t *testing.T) {
		lookup, err := ReadTypeLookup(strings.NewReader("guid_prefix,type\nMVZ:Mamm,mammal\n"))
		require.NoError(t, err)

		v, mapped := lookup.TypeFor("UAM:Fish")
		assert.False(t, mapped)
		assert.Equal(t, "UAM:Fish", v)
	})

	t.Run("empty type column falls back to prefix", func(t *testing.T) {
		lookup, err := ReadTypeLookup(strings.NewReader("guid_prefix,type\nMVZ:Herp,\n"))
		require.NoError(t, err)

		v, mapped := lookup.TypeFor("MVZ:Herp")
		assert.True(t, mapped)
		assert.Equal(t, "MVZ:Herp", v)
	})

	t.Run("missing headers is fatal", func(t *testing.T) {
		_, err := ReadTypeLookup(strings.NewReader("prefix,kind\nMVZ:Mamm,mammal\n"))
		require.Error(t, err)
	})
}

func TestLoadTypeLookup_MissingFile(t *testing.T) {
	lookup, err := LoadTypeLookup("/nonexistent/lookup.csv")
	require.NoError(t, err)
	assert.Equal(t, 0, lookup.Len())

	v, mapped := lookup.TypeFor("MVZ:Mamm")
	assert.False(t, mapped)
	assert.Equal(t, "MVZ:Mamm", v)
}
