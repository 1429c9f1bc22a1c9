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
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSource replays a scripted sequence of rows and row-level errors.
type mockSource struct {
	items []sourceItem
	pos   int
	mu    sync.Mutex
}

type sourceItem struct {
	row RawRow
	err error
}

func (m *mockSource) Read(ctx context.Context) (RawRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return RawRow{}, err
	}
	if m.pos >= len(m.items) {
		return RawRow{}, io.EOF
	}
	item := m.items[m.pos]
	m.pos++
	return item.row, item.err
}

func (m *mockSource) Close() error { return nil }

// sourceOf builds a source of well-formed rows with ids 1..n.
func sourceOf(n int) *mockSource {
	src := &mockSource{}
	for i := 1; i <= n; i++ {
		src.items = append(src.items, sourceItem{row: RawRow{
			Line:   int64(i + 1),
			Values: map[string]string{"id": fmt.Sprintf("%d", i)},
		}})
	}
	return src
}

// mockTransformer turns the "id" value into the document identifier.
// Rows whose id carries a "bad-" prefix are rejected.
type mockTransformer struct{}

func (mockTransformer) Transform(row RawRow) (Document, []FieldError, error) {
	id := row.Values["id"]
	if len(id) > 4 && id[:4] == "bad-" {
		return Document{}, nil, &EmptyDocumentError{Line: row.Line}
	}
	return Document{ID: id, Fields: map[string]interface{}{"id": id}}, nil, nil
}

// mockIndexer acknowledges every document unless a hook decides otherwise.
type mockIndexer struct {
	mu      sync.Mutex
	batches [][]string
	submit  func(batch Batch) (BatchResult, error)
	delay   time.Duration
}

func (m *mockIndexer) Submit(ctx context.Context, batch Batch) (BatchResult, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return BatchResult{}, ctx.Err()
		}
	}

	ids := make([]string, len(batch))
	for i, doc := range batch {
		ids[i] = doc.ID
	}
	m.mu.Lock()
	m.batches = append(m.batches, ids)
	m.mu.Unlock()

	if m.submit != nil {
		return m.submit(batch)
	}
	return BatchResult{Acknowledged: ids}, nil
}

func (m *mockIndexer) Close() error { return nil }

func (m *mockIndexer) allIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, b := range m.batches {
		ids = append(ids, b...)
	}
	return ids
}

// mockCheckpoint records every persisted offset.
type mockCheckpoint struct {
	mu      sync.Mutex
	offsets []int64
}

func (m *mockCheckpoint) Load(ctx context.Context, job string) (int64, error) { return 0, nil }

func (m *mockCheckpoint) Store(ctx context.Context, job string, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets = append(m.offsets, offset)
	return nil
}

func (m *mockCheckpoint) Close() error { return nil }

func (m *mockCheckpoint) stored() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.offsets))
	copy(out, m.offsets)
	return out
}

// mockRejectSink collects rejected rows.
type mockRejectSink struct {
	mu      sync.Mutex
	rows    []RejectedRow
	flushed bool
}

func (m *mockRejectSink) Write(ctx context.Context, row RejectedRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, row)
	return nil
}

func (m *mockRejectSink) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed = true
	return nil
}

func (m *mockRejectSink) Close() error { return nil }

func TestLoader_BasicRun(t *testing.T) {
	indexer := &mockIndexer{}
	loader, err := NewLoader(sourceOf(25), mockTransformer{}, indexer,
		WithBatchSize(10))
	require.NoError(t, err)

	report, err := loader.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, int64(25), report.RowsRead)
	assert.Equal(t, int64(25), report.RowsIndexed)
	assert.Equal(t, int64(0), report.RowsFailed)
	assert.Equal(t, int64(25), report.LastOffset)
	assert.Len(t, indexer.batches, 3) // 10 + 10 + 5
}

func TestLoader_BatchesBuiltInInputOrder(t *testing.T) {
	// Many transform workers, one submitter: the acknowledged id stream
	// must match the input order exactly.
	indexer := &mockIndexer{}
	loader, err := NewLoader(sourceOf(50), mockTransformer{}, indexer,
		WithBatchSize(7),
		WithTransformWorkers(8),
		WithConcurrency(1))
	require.NoError(t, err)

	_, err = loader.Run(context.Background())
	require.NoError(t, err)

	want := make([]string, 50)
	for i := range want {
		want[i] = fmt.Sprintf("%d", i+1)
	}
	assert.Equal(t, want, indexer.allIDs())
}

func TestLoader_RowErrorsAreNotFatal(t *testing.T) {
	src := sourceOf(5)
	// A malformed line and a row the transformer rejects, mixed in.
	src.items = append(src.items,
		sourceItem{err: &MalformedRowError{Line: 8, Raw: "garbage", Err: io.ErrUnexpectedEOF}},
		sourceItem{row: RawRow{Line: 9, Values: map[string]string{"id": "bad-one"}}},
		sourceItem{row: RawRow{Line: 10, Values: map[string]string{"id": "6"}}},
	)

	sink := &mockRejectSink{}
	indexer := &mockIndexer{}
	loader, err := NewLoader(src, mockTransformer{}, indexer,
		WithBatchSize(3), WithRejectSink(sink))
	require.NoError(t, err)

	report, err := loader.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, int64(8), report.RowsRead)
	assert.Equal(t, int64(6), report.RowsIndexed)
	assert.Equal(t, int64(2), report.RowsFailed)

	assert.True(t, sink.flushed)
	require.Len(t, sink.rows, 2)
	stages := []string{sink.rows[0].Stage, sink.rows[1].Stage}
	assert.Contains(t, stages, "parse")
	assert.Contains(t, stages, "transform")
}

func TestLoader_BackendPartialRejection(t *testing.T) {
	indexer := &mockIndexer{
		submit: func(batch Batch) (BatchResult, error) {
			res := BatchResult{Rejected: map[string]string{}}
			for _, doc := range batch {
				if doc.ID == "3" {
					res.Rejected[doc.ID] = "mapper_parsing_exception"
					continue
				}
				res.Acknowledged = append(res.Acknowledged, doc.ID)
			}
			return res, nil
		},
	}
	sink := &mockRejectSink{}
	loader, err := NewLoader(sourceOf(5), mockTransformer{}, indexer,
		WithBatchSize(5), WithRejectSink(sink))
	require.NoError(t, err)

	report, err := loader.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, int64(4), report.RowsIndexed)
	assert.Equal(t, int64(1), report.RowsFailed)
	assert.Equal(t, int64(1), report.BackendRejects)

	require.Len(t, sink.rows, 1)
	assert.Equal(t, "index", sink.rows[0].Stage)
}

func TestLoader_FatalSubmitError(t *testing.T) {
	indexer := &mockIndexer{
		submit: func(batch Batch) (BatchResult, error) {
			return BatchResult{}, fmt.Errorf("cluster unreachable")
		},
	}
	loader, err := NewLoader(sourceOf(20), mockTransformer{}, indexer,
		WithBatchSize(5))
	require.NoError(t, err)

	report, err := loader.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, report.State)

	var loaderErr *LoaderError
	require.ErrorAs(t, err, &loaderErr)
	assert.Equal(t, "submit", loaderErr.Op)
}

func TestLoader_FatalReadError(t *testing.T) {
	src := sourceOf(3)
	src.items = append(src.items, sourceItem{err: fmt.Errorf("disk gone")})

	loader, err := NewLoader(src, mockTransformer{}, &mockIndexer{},
		WithBatchSize(100))
	require.NoError(t, err)

	report, err := loader.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, report.State)

	var loaderErr *LoaderError
	require.ErrorAs(t, err, &loaderErr)
	assert.Equal(t, "read", loaderErr.Op)
}

func TestLoader_CheckpointAdvancesContiguously(t *testing.T) {
	store := &mockCheckpoint{}
	indexer := &mockIndexer{}
	loader, err := NewLoader(sourceOf(30), mockTransformer{}, indexer,
		WithBatchSize(10), WithCheckpoint(store))
	require.NoError(t, err)

	report, err := loader.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(30), report.LastOffset)

	offsets := store.stored()
	require.NotEmpty(t, offsets)
	// Offsets only ever move forward and end at the full row count.
	for i := 1; i < len(offsets); i++ {
		assert.Greater(t, offsets[i], offsets[i-1])
	}
	assert.Equal(t, int64(30), offsets[len(offsets)-1])
}

func TestLoader_TrailingRejectsAdvanceWatermark(t *testing.T) {
	src := sourceOf(10)
	src.items = append(src.items,
		sourceItem{err: &MalformedRowError{Line: 12, Raw: "x", Err: io.ErrUnexpectedEOF}},
		sourceItem{err: &MalformedRowError{Line: 13, Raw: "y", Err: io.ErrUnexpectedEOF}},
	)

	store := &mockCheckpoint{}
	loader, err := NewLoader(src, mockTransformer{}, &mockIndexer{},
		WithBatchSize(10), WithCheckpoint(store))
	require.NoError(t, err)

	report, err := loader.Run(context.Background())
	require.NoError(t, err)

	// The two rejected rows after the last batch are still covered.
	assert.Equal(t, int64(12), report.LastOffset)
	offsets := store.stored()
	assert.Equal(t, int64(12), offsets[len(offsets)-1])
}

func TestLoader_ResumeOffsetsShiftWatermark(t *testing.T) {
	store := &mockCheckpoint{}
	loader, err := NewLoader(sourceOf(10), mockTransformer{}, &mockIndexer{},
		WithBatchSize(5), WithCheckpoint(store), WithResumeFrom(100))
	require.NoError(t, err)

	report, err := loader.Run(context.Background())
	require.NoError(t, err)

	// 100 rows were covered by the previous run, 10 by this one.
	assert.Equal(t, int64(110), report.LastOffset)
	assert.Equal(t, int64(10), report.RowsRead)
}

func TestLoader_Cancellation(t *testing.T) {
	indexer := &mockIndexer{delay: 20 * time.Millisecond}
	loader, err := NewLoader(sourceOf(500), mockTransformer{}, indexer,
		WithBatchSize(10), WithConcurrency(2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	report, err := loader.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, StateFailed, report.State)

	// Whatever was acknowledged before the cancel is reflected; nothing
	// is counted for unresolved batches.
	acked := int64(len(indexer.allIDs()))
	assert.GreaterOrEqual(t, acked, report.RowsIndexed)
}

func TestLoader_EmptySource(t *testing.T) {
	loader, err := NewLoader(sourceOf(0), mockTransformer{}, &mockIndexer{})
	require.NoError(t, err)

	report, err := loader.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, int64(0), report.RowsRead)
	assert.Equal(t, int64(0), report.RowsIndexed)
}

func TestNewLoader_Validation(t *testing.T) {
	_, err := NewLoader(nil, mockTransformer{}, &mockIndexer{})
	require.Error(t, err)

	_, err = NewLoader(sourceOf(1), nil, &mockIndexer{})
	require.Error(t, err)

	_, err = NewLoader(sourceOf(1), mockTransformer{}, nil)
	require.Error(t, err)

	_, err = NewLoader(sourceOf(1), mockTransformer{}, &mockIndexer{}, WithResumeFrom(-1))
	require.Error(t, err)
}

func BenchmarkLoader_Run(b *testing.B) {
	for _, batchSize := range []int{100, 500, 1000} {
		b.Run(fmt.Sprintf("batch_%d", batchSize), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				loader, err := NewLoader(sourceOf(5000), mockTransformer{}, &mockIndexer{},
					WithBatchSize(batchSize), WithTransformWorkers(4))
				if err != nil {
					b.Fatal(err)
				}
				if _, err := loader.Run(context.Background()); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
