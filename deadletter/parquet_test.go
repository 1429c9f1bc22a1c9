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

package deadletter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/specindex"
)

func reject(line int64, stage string) specindex.RejectedRow {
	return specindex.RejectedRow{
		Line:   line,
		Stage:  stage,
		Reason: "test rejection",
		Raw:    fmt.Sprintf("raw,line,%d", line),
	}
}

func TestParquetSink_BasicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rejects.parquet")
	sink, err := NewParquetSink(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, reject(4, "parse")))
	require.NoError(t, sink.Write(ctx, reject(9, "transform")))
	require.NoError(t, sink.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	stats := sink.Stats()
	assert.Equal(t, int64(2), stats.RowsWritten)
	assert.Equal(t, int64(1), stats.FlushCount)
}

func TestParquetSink_BufferedFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rejects.parquet")
	sink, err := NewParquetSink(path, WithBufferSize(10))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		require.NoError(t, sink.Write(ctx, reject(int64(i+2), "parse")))
	}

	// Two full buffers flushed, five rows still pending.
	assert.Equal(t, int64(20), sink.Stats().RowsWritten)
	assert.Equal(t, int64(2), sink.Stats().FlushCount)

	require.NoError(t, sink.Flush())
	assert.Equal(t, int64(25), sink.Stats().RowsWritten)

	require.NoError(t, sink.Close())
}

func TestParquetSink_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rejects.parquet")
	sink, err := NewParquetSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Write(context.Background(), reject(2, "index")))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	err = sink.Write(context.Background(), reject(3, "parse"))
	require.Error(t, err)

	var sinkErr *ParquetSinkError
	assert.ErrorAs(t, err, &sinkErr)
}

func TestParquetSink_EmptyFileOnNoRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rejects.parquet")
	sink, err := NewParquetSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	// A valid parquet file with zero rows is still produced.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.Equal(t, int64(0), sink.Stats().RowsWritten)
}

func TestParquetSink_Validation(t *testing.T) {
	_, err := NewParquetSink("")
	require.Error(t, err)
}
