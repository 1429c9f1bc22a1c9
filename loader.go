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
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Package specindex implements the run coordinator for the SpecIndex loader.
//
// The Loader drives RecordSource → Transformer → Indexer through bounded
// channels so parsing, transformation, and network submission proceed
// concurrently. Transformation is parallel; results are resequenced so
// batches are always constructed in input order, even though submissions
// may complete out of order.

// State is the coordinator's lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateStreaming
	StateDraining
	StateCompleted
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RunState is a snapshot of the loader's progress counters.
// LastOffset is the resume watermark: the count of input rows whose batches
// have been contiguously acknowledged by the backend.
type RunState struct {
	RowsRead    int64
	RowsIndexed int64
	RowsFailed  int64
	LastOffset  int64
}

// RunReport is the final outcome of a run.
type RunReport struct {
	RunState
	FieldErrors    int64 // individual field coercion failures (documents kept)
	BackendRejects int64 // documents refused by the backend (subset of RowsFailed)
	State          State
	Duration       time.Duration
}

// LoaderOptions configures the run coordinator.
type LoaderOptions struct {
	BatchSize        int    // documents per batch submission
	Concurrency      int    // concurrent batch submissions
	TransformWorkers int    // parallel transform workers
	ResumeFrom       int64  // rows already indexed by a previous run
	Job              string // checkpoint key
	ProgressEvery    int64  // log progress every N rows consumed
	Logger           *zap.Logger
}

// LoaderOption represents a configuration function for LoaderOptions.
type LoaderOption func(*Loader)

// WithBatchSize sets the number of documents per batch submission.
func WithBatchSize(n int) LoaderOption {
	return func(l *Loader) { l.opts.BatchSize = n }
}

// WithConcurrency sets the number of concurrent batch submissions.
func WithConcurrency(n int) LoaderOption {
	return func(l *Loader) { l.opts.Concurrency = n }
}

// WithTransformWorkers sets the number of parallel transform workers.
func WithTransformWorkers(n int) LoaderOption {
	return func(l *Loader) { l.opts.TransformWorkers = n }
}

// WithResumeFrom skips rows already indexed by a previous run. The record
// source must be positioned past the same offset (see readers.WithSkipRows).
func WithResumeFrom(offset int64) LoaderOption {
	return func(l *Loader) { l.opts.ResumeFrom = offset }
}

// WithJob sets the checkpoint key identifying this load job.
func WithJob(job string) LoaderOption {
	return func(l *Loader) { l.opts.Job = job }
}

// WithProgressEvery sets the progress logging interval in rows.
func WithProgressEvery(n int64) LoaderOption {
	return func(l *Loader) { l.opts.ProgressEvery = n }
}

// WithLogger sets the loader's logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) { l.opts.Logger = logger }
}

// WithCheckpoint sets the store the resume watermark is persisted to after
// each acknowledged batch. Without one, progress is tracked in memory only.
func WithCheckpoint(store CheckpointStore) LoaderOption {
	return func(l *Loader) { l.checkpoint = store }
}

// WithRejectSink sets the dead-letter sink rejected rows are captured to.
func WithRejectSink(sink RejectSink) LoaderOption {
	return func(l *Loader) { l.rejects = sink }
}

// Loader coordinates a single load run end-to-end.
type Loader struct {
	source      RecordSource
	transformer Transformer
	indexer     Indexer
	checkpoint  CheckpointStore
	rejects     RejectSink
	opts        LoaderOptions

	state          atomic.Int32
	rowsRead       atomic.Int64
	rowsIndexed    atomic.Int64
	rowsFailed     atomic.Int64
	fieldErrs      atomic.Int64
	backendRejects atomic.Int64
	watermark      atomic.Int64

	fatalMu  sync.Mutex
	fatalErr error
	cancel   context.CancelFunc
}

// NewLoader creates a run coordinator over the given source, transformer,
// and index backend. Accepts functional options for configuration.
func NewLoader(source RecordSource, transformer Transformer, indexer Indexer, options ...LoaderOption) (*Loader, error) {
	l := &Loader{
		source:      source,
		transformer: transformer,
		indexer:     indexer,
		opts: LoaderOptions{
			BatchSize:        500,
			Concurrency:      2,
			TransformWorkers: 4,
			ProgressEvery:    100000,
			Job:              "specindex",
		},
	}

	for _, option := range options {
		option(l)
	}

	if source == nil {
		return nil, &LoaderError{Op: "validate", Err: errors.New("record source is required")}
	}
	if transformer == nil {
		return nil, &LoaderError{Op: "validate", Err: errors.New("transformer is required")}
	}
	if indexer == nil {
		return nil, &LoaderError{Op: "validate", Err: errors.New("indexer is required")}
	}
	if l.opts.BatchSize <= 0 {
		l.opts.BatchSize = 500
	}
	if l.opts.Concurrency <= 0 {
		l.opts.Concurrency = 1
	}
	if l.opts.TransformWorkers <= 0 {
		l.opts.TransformWorkers = 1
	}
	if l.opts.ResumeFrom < 0 {
		return nil, &LoaderError{Op: "validate", Err: errors.New("resume offset must be non-negative")}
	}
	if l.opts.Logger == nil {
		l.opts.Logger = zap.NewNop()
	}

	l.watermark.Store(l.opts.ResumeFrom)
	return l, nil
}

// State returns the coordinator's current lifecycle state.
func (l *Loader) State() State {
	return State(l.state.Load())
}

// Stats returns a snapshot of the loader's progress counters.
// Safe to call from any goroutine while the run is in flight.
func (l *Loader) Stats() RunState {
	return RunState{
		RowsRead:    l.rowsRead.Load(),
		RowsIndexed: l.rowsIndexed.Load(),
		RowsFailed:  l.rowsFailed.Load(),
		LastOffset:  l.watermark.Load(),
	}
}

// rowItem carries one raw row (or its parse error) plus its input sequence
// number through the transform stage.
type rowItem struct {
	seq    int64
	row    RawRow
	rowErr error
}

// xformResult is the outcome of transforming one row.
type xformResult struct {
	seq       int64
	doc       Document
	hasDoc    bool
	fieldErrs []FieldError
	reject    error // row-level rejection, nil when hasDoc
	line      int64
	raw       string
}

// batchJob is one dispatched batch plus row-range bookkeeping for the
// watermark. idx is contiguous from zero in dispatch order; endSeq is the
// sequence number of the last input row covered by this batch.
type batchJob struct {
	idx    int
	docs   Batch
	endSeq int64
}

type batchAck struct {
	job batchJob
	res BatchResult
	err error
}

// Run executes the pipeline until the source is exhausted, a fatal error
// occurs, or ctx is cancelled. In-flight batch submissions are always
// awaited before Run returns, so the report reflects only resolved batches.
func (l *Loader) Run(ctx context.Context) (RunReport, error) {
	start := time.Now()
	l.state.Store(int32(StateStarting))

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	defer cancel()

	chanCap := 2 * l.opts.BatchSize
	rowCh := make(chan rowItem, chanCap)
	resCh := make(chan xformResult, chanCap)
	jobCh := make(chan batchJob, l.opts.Concurrency)
	ackCh := make(chan batchAck, l.opts.Concurrency)

	l.opts.Logger.Info("run starting",
		zap.Int("batch_size", l.opts.BatchSize),
		zap.Int("concurrency", l.opts.Concurrency),
		zap.Int("transform_workers", l.opts.TransformWorkers),
		zap.Int64("resume_from", l.opts.ResumeFrom),
	)

	// Stage 1: reader.
	var readerWG sync.WaitGroup
	readerWG.Add(1)
	go func() {
		defer readerWG.Done()
		defer close(rowCh)
		l.readRows(runCtx, rowCh)
	}()

	// Stage 2: transform workers.
	var workerWG sync.WaitGroup
	for i := 0; i < l.opts.TransformWorkers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			l.transformRows(rowCh, resCh)
		}()
	}
	go func() {
		workerWG.Wait()
		close(resCh)
	}()

	// Stage 4: submit workers.
	var submitWG sync.WaitGroup
	for i := 0; i < l.opts.Concurrency; i++ {
		submitWG.Add(1)
		go func() {
			defer submitWG.Done()
			for job := range jobCh {
				res, err := l.indexer.Submit(runCtx, job.docs)
				ackCh <- batchAck{job: job, res: res, err: err}
			}
		}()
	}
	go func() {
		submitWG.Wait()
		close(ackCh)
	}()

	// Stage 5: committer.
	var commitWG sync.WaitGroup
	var jobsAcked atomic.Int64
	commitWG.Add(1)
	go func() {
		defer commitWG.Done()
		l.commitAcks(runCtx, ackCh, &jobsAcked)
	}()

	// Stage 3: the coordinator consumes transform results in input order
	// and builds batches.
	l.state.Store(int32(StateStreaming))
	lastSeq, jobsDispatched := l.buildBatches(runCtx, resCh, jobCh)

	l.state.Store(int32(StateDraining))
	close(jobCh)
	commitWG.Wait()
	readerWG.Wait()

	// Rows rejected after the final dispatched batch still advance the
	// watermark once every batch is acknowledged.
	l.fatalMu.Lock()
	fatal := l.fatalErr
	l.fatalMu.Unlock()
	if fatal == nil && runCtx.Err() == nil && jobsAcked.Load() == int64(jobsDispatched) {
		l.advanceWatermark(ctx, l.opts.ResumeFrom+lastSeq)
	}

	report := RunReport{
		RunState:       l.Stats(),
		FieldErrors:    l.fieldErrs.Load(),
		BackendRejects: l.backendRejects.Load(),
		Duration:       time.Since(start),
	}

	var err error
	switch {
	case fatal != nil:
		err = fatal
	case ctx.Err() != nil:
		err = &LoaderError{Op: "run", Err: ctx.Err()}
	}

	if err != nil {
		l.state.Store(int32(StateFailed))
	} else {
		l.state.Store(int32(StateCompleted))
	}
	report.State = l.State()

	if l.rejects != nil {
		if ferr := l.rejects.Flush(); ferr != nil {
			l.opts.Logger.Warn("dead-letter flush failed", zap.Error(ferr))
		}
	}

	l.opts.Logger.Info("run finished",
		zap.String("state", report.State.String()),
		zap.Int64("rows_read", report.RowsRead),
		zap.Int64("rows_indexed", report.RowsIndexed),
		zap.Int64("rows_failed", report.RowsFailed),
		zap.Int64("field_errors", report.FieldErrors),
		zap.Int64("last_offset", report.LastOffset),
		zap.Duration("duration", report.Duration),
	)

	return report, err
}

// readRows streams rows from the source into rowCh, assigning sequence
// numbers. Malformed rows travel through the same channel so the
// resequencer sees every sequence number exactly once.
func (l *Loader) readRows(ctx context.Context, rowCh chan<- rowItem) {
	var seq int64
	for {
		if ctx.Err() != nil {
			return
		}

		row, err := l.source.Read(ctx)
		if err != nil {
			if err == io.EOF {
				return
			}
			var malformed *MalformedRowError
			if errors.As(err, &malformed) {
				seq++
				select {
				case rowCh <- rowItem{seq: seq, rowErr: malformed}:
				case <-ctx.Done():
					return
				}
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			l.fail(&LoaderError{Op: "read", Err: err})
			return
		}

		seq++
		select {
		case rowCh <- rowItem{seq: seq, row: row}:
		case <-ctx.Done():
			return
		}
	}
}

// transformRows drains rowCh, applying the transformer. Pure and stateless,
// so any number of workers may run it concurrently.
func (l *Loader) transformRows(rowCh <-chan rowItem, resCh chan<- xformResult) {
	for item := range rowCh {
		if item.rowErr != nil {
			var malformed *MalformedRowError
			res := xformResult{seq: item.seq, reject: item.rowErr}
			if errors.As(item.rowErr, &malformed) {
				res.line = malformed.Line
				res.raw = malformed.Raw
			}
			resCh <- res
			continue
		}

		doc, fieldErrs, err := l.transformer.Transform(item.row)
		if err != nil {
			resCh <- xformResult{seq: item.seq, reject: err, line: item.row.Line}
			continue
		}
		resCh <- xformResult{
			seq:       item.seq,
			doc:       doc,
			hasDoc:    true,
			fieldErrs: fieldErrs,
			line:      item.row.Line,
		}
	}
}

// buildBatches consumes transform results in strict input order (results
// from parallel workers are resequenced by sequence number) and dispatches
// fixed-size batches. Returns the last consumed sequence number and the
// number of batches dispatched.
func (l *Loader) buildBatches(ctx context.Context, resCh <-chan xformResult, jobCh chan<- batchJob) (int64, int) {
	pending := make(map[int64]xformResult)
	next := int64(1)
	var lastSeq int64
	var jobIdx int

	batch := make(Batch, 0, l.opts.BatchSize)

	dispatch := func(endSeq int64) bool {
		if len(batch) == 0 {
			return true
		}
		job := batchJob{idx: jobIdx, docs: batch, endSeq: endSeq}
		select {
		case jobCh <- job:
			jobIdx++
			batch = make(Batch, 0, l.opts.BatchSize)
			return true
		case <-ctx.Done():
			return false
		}
	}

	// On cancellation the loop keeps draining resCh so the transform
	// workers can exit, but stops counting and dispatching.
	aborted := false

	for res := range resCh {
		if aborted {
			continue
		}
		pending[res.seq] = res
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			lastSeq = next
			next++

			l.consumeResult(ctx, r, &batch)

			if len(batch) >= l.opts.BatchSize {
				if !dispatch(lastSeq) {
					aborted = true
					break
				}
			}

			read := l.rowsRead.Load()
			if l.opts.ProgressEvery > 0 && read%l.opts.ProgressEvery == 0 {
				l.opts.Logger.Info("progress",
					zap.Int64("rows_read", read),
					zap.Int64("rows_indexed", l.rowsIndexed.Load()),
					zap.Int64("rows_failed", l.rowsFailed.Load()),
				)
			}
		}
	}

	if !aborted && ctx.Err() == nil {
		dispatch(lastSeq)
	}
	return lastSeq, jobIdx
}

// consumeResult applies one in-order transform result to the run counters
// and the current batch.
func (l *Loader) consumeResult(ctx context.Context, r xformResult, batch *Batch) {
	l.rowsRead.Add(1)

	if r.reject != nil {
		l.rowsFailed.Add(1)
		l.opts.Logger.Debug("row rejected", zap.Int64("line", r.line), zap.Error(r.reject))
		l.writeReject(ctx, RejectedRow{
			Line:   r.line,
			Stage:  rejectStage(r.reject),
			Reason: r.reject.Error(),
			Raw:    r.raw,
		})
		return
	}

	for _, fe := range r.fieldErrs {
		l.fieldErrs.Add(1)
		l.opts.Logger.Debug("field dropped",
			zap.Int64("line", r.line),
			zap.String("field", fe.Field),
			zap.String("code", string(fe.Code)),
		)
	}

	*batch = append(*batch, r.doc)
}

// commitAcks processes batch acknowledgements. Batches complete out of
// order; the watermark only advances over the contiguous acknowledged
// prefix so a persisted offset never covers an unresolved batch.
func (l *Loader) commitAcks(ctx context.Context, ackCh <-chan batchAck, jobsAcked *atomic.Int64) {
	done := make(map[int]int64)
	nextIdx := 0

	for ack := range ackCh {
		if ack.err != nil {
			l.fail(&LoaderError{Op: "submit", Err: ack.err})
			continue
		}

		l.rowsIndexed.Add(int64(len(ack.res.Acknowledged)))
		for id, reason := range ack.res.Rejected {
			l.rowsFailed.Add(1)
			l.backendRejects.Add(1)
			l.opts.Logger.Warn("document rejected by backend",
				zap.String("id", id),
				zap.String("reason", reason),
			)
			l.writeReject(ctx, RejectedRow{Stage: "index", Reason: reason, Raw: id})
		}
		jobsAcked.Add(1)

		done[ack.job.idx] = ack.job.endSeq
		for {
			endSeq, ok := done[nextIdx]
			if !ok {
				break
			}
			delete(done, nextIdx)
			nextIdx++
			l.advanceWatermark(ctx, l.opts.ResumeFrom+endSeq)
		}
	}
}

// advanceWatermark moves the resume watermark forward and persists it.
// Persistence failures are logged, not fatal: the watermark is an
// optimization and the backend upsert keeps re-delivery idempotent.
func (l *Loader) advanceWatermark(ctx context.Context, offset int64) {
	if offset <= l.watermark.Load() {
		return
	}
	l.watermark.Store(offset)
	if l.checkpoint == nil {
		return
	}
	if err := l.checkpoint.Store(ctx, l.opts.Job, offset); err != nil {
		l.opts.Logger.Warn("checkpoint store failed",
			zap.Int64("offset", offset),
			zap.Error(err),
		)
	}
}

// fail records the first fatal error and cancels the run.
func (l *Loader) fail(err error) {
	l.fatalMu.Lock()
	if l.fatalErr == nil {
		l.fatalErr = err
	}
	l.fatalMu.Unlock()
	l.opts.Logger.Error("fatal pipeline error", zap.Error(err))
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *Loader) writeReject(ctx context.Context, row RejectedRow) {
	if l.rejects == nil {
		return
	}
	if err := l.rejects.Write(ctx, row); err != nil {
		l.opts.Logger.Warn("dead-letter write failed", zap.Int64("line", row.Line), zap.Error(err))
	}
}

func rejectStage(err error) string {
	var malformed *MalformedRowError
	if errors.As(err, &malformed) {
		return "parse"
	}
	return "transform"
}
