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

package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ackAll renders a bulk response acknowledging every submitted document.
func ackAll(t *testing.T, body io.Reader) []byte {
	t.Helper()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	items := []map[string]interface{}{}
	lines := strings.Split(string(data), "\n")
	for i := 0; i+1 < len(lines); i += 2 {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		var action map[string]map[string]string
		require.NoError(t, json.Unmarshal([]byte(lines[i]), &action))
		items = append(items, map[string]interface{}{
			"index": map[string]interface{}{"_id": action["index"]["_id"], "status": 201},
		})
	}
	out, err := json.Marshal(map[string]interface{}{"errors": false, "items": items})
	require.NoError(t, err)
	return out
}

func TestRunLoad_UnreadableInputIsInvocationError(t *testing.T) {
	flags := &loadFlags{
		input:   filepath.Join(t.TempDir(), "missing.csv.gz"),
		backend: "elastic",
	}

	err := runLoad(context.Background(), flags)
	require.Error(t, err)

	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 2, ee.code)
}

func TestRunLoad_BadLookupFileIsInvocationError(t *testing.T) {
	input := writeTempFile(t, "specimens.csv",
		"institution_acronym,collection_cde,cat_num\nMVZ,Mamm,1\n")
	lookup := writeTempFile(t, "lookup.csv", "foo,bar\nx,y\n")

	flags := &loadFlags{
		input:      input,
		lookupFile: lookup,
		backend:    "elastic",
	}

	err := runLoad(context.Background(), flags)
	require.Error(t, err)

	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 2, ee.code)
}

func TestRunLoad_EndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_bulk", r.URL.Path)
		w.Write(ackAll(t, r.Body))
	}))
	defer server.Close()

	input := writeTempFile(t, "specimens.csv",
		"institution_acronym,collection_cde,cat_num,country\n"+
			"MVZ,Mamm,1,USA\n"+
			"MVZ,Mamm,2,Peru\n")

	flags := &loadFlags{
		input:      input,
		batchSize:  10,
		concurrent: 1,
		workers:    2,
		job:        "e2e",
		backend:    "elastic",
		elasticURL: server.URL,
		index:      "specimens",
	}

	require.NoError(t, runLoad(context.Background(), flags))
}
