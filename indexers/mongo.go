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

package indexers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aaronlmathis/specindex"
)

// Package indexers provides implementations of specindex.Indexer.
//
// This file implements the MongoDB backend: each batch becomes one
// unordered BulkWrite of ReplaceOne upserts keyed on _id, giving the same
// idempotent, document-identifier-keyed semantics as the Elasticsearch
// backend. The driver has no equivalent of retryablehttp, so the same
// exponential backoff policy is applied around the BulkWrite call here.

// MongoIndexerError provides structured error information for MongoDB
// indexer operations.
type MongoIndexerError struct {
	Op  string // The operation that failed (e.g., "connect", "bulk_write")
	Err error  // The underlying error
}

// Error returns the error string for MongoIndexerError.
func (e *MongoIndexerError) Error() string {
	return fmt.Sprintf("mongo indexer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for MongoIndexerError.
func (e *MongoIndexerError) Unwrap() error {
	return e.Err
}

// MongoIndexerStats holds submission statistics.
type MongoIndexerStats struct {
	BatchesSubmitted int64
	DocsAcknowledged int64
	DocsRejected     int64
	Retries          int64
	SubmitDuration   time.Duration
	LastSubmitTime   time.Time
}

// MongoIndexerOptions configures the MongoDB indexer.
type MongoIndexerOptions struct {
	URI         string // MongoDB connection URI
	Database    string
	Collection  string
	Timeout     time.Duration // Per-operation timeout
	MaxPoolSize uint64
}

// MongoIndexerOption represents a configuration function for MongoIndexerOptions.
type MongoIndexerOption func(*MongoIndexerOptions)

// WithMongoURI sets the connection URI.
func WithMongoURI(uri string) MongoIndexerOption {
	return func(opts *MongoIndexerOptions) { opts.URI = uri }
}

// WithMongoDatabase sets the database name.
func WithMongoDatabase(db string) MongoIndexerOption {
	return func(opts *MongoIndexerOptions) { opts.Database = db }
}

// WithMongoCollection sets the collection name.
func WithMongoCollection(coll string) MongoIndexerOption {
	return func(opts *MongoIndexerOptions) { opts.Collection = coll }
}

// WithMongoTimeout sets the per-operation timeout.
func WithMongoTimeout(timeout time.Duration) MongoIndexerOption {
	return func(opts *MongoIndexerOptions) { opts.Timeout = timeout }
}

// WithMongoMaxPoolSize sets the connection pool size.
func WithMongoMaxPoolSize(size uint64) MongoIndexerOption {
	return func(opts *MongoIndexerOptions) { opts.MaxPoolSize = size }
}

// MongoIndexer implements specindex.Indexer for MongoDB.
// Safe for concurrent Submit calls.
type MongoIndexer struct {
	client *mongo.Client
	coll   *mongo.Collection
	opts   MongoIndexerOptions
	mu     sync.Mutex
	stats  MongoIndexerStats
}

// NewMongoIndexer connects to MongoDB and returns a ready indexer.
func NewMongoIndexer(ctx context.Context, opts ...MongoIndexerOption) (*MongoIndexer, error) {
	mopts := MongoIndexerOptions{
		Database:    "specindex",
		Collection:  "specimens",
		Timeout:     60 * time.Second,
		MaxPoolSize: 10,
	}
	for _, opt := range opts {
		opt(&mopts)
	}
	if mopts.URI == "" {
		return nil, &MongoIndexerError{Op: "validate", Err: fmt.Errorf("uri is required")}
	}

	clientOpts := options.Client().
		ApplyURI(mopts.URI).
		SetMaxPoolSize(mopts.MaxPoolSize).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, &MongoIndexerError{Op: "connect", Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, mopts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, &MongoIndexerError{Op: "ping", Err: err}
	}

	return &MongoIndexer{
		client: client,
		coll:   client.Database(mopts.Database).Collection(mopts.Collection),
		opts:   mopts,
	}, nil
}

// Stats returns a copy of the current submission statistics.
func (m *MongoIndexer) Stats() MongoIndexerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Submit implements the specindex.Indexer interface. Transport failures
// are retried with exponential backoff (base 500ms, doubling, capped
// attempts); write errors on individual documents are surfaced as
// rejections and never retried.
func (m *MongoIndexer) Submit(ctx context.Context, batch specindex.Batch) (specindex.BatchResult, error) {
	if len(batch) == 0 {
		return specindex.BatchResult{}, nil
	}

	start := time.Now()

	models := make([]mongo.WriteModel, len(batch))
	for i, doc := range batch {
		replacement := bson.M{"_id": doc.ID}
		for k, v := range doc.Fields {
			replacement[k] = v
		}
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(replacement).
			SetUpsert(true)
	}

	bulkOpts := options.BulkWrite().SetOrdered(false)

	var writeErrs []mongo.BulkWriteError
	wait := retryWaitBase
	var lastErr error
	for attempt := 0; attempt <= retryMax; attempt++ {
		if attempt > 0 {
			m.mu.Lock()
			m.stats.Retries++
			m.mu.Unlock()
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return specindex.BatchResult{}, &MongoIndexerError{Op: "bulk_write", Err: ctx.Err()}
			}
			if wait *= 2; wait > retryWaitMax {
				wait = retryWaitMax
			}
		}

		opCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
		_, err := m.coll.BulkWrite(opCtx, models, bulkOpts)
		cancel()

		if err == nil {
			lastErr = nil
			break
		}

		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) && bwe.WriteConcernError == nil {
			// Per-document write errors: the rest of the batch landed.
			writeErrs, lastErr = bwe.WriteErrors, nil
			break
		}
		if ctx.Err() != nil {
			return specindex.BatchResult{}, &MongoIndexerError{Op: "bulk_write", Err: ctx.Err()}
		}
		lastErr = err
	}
	if lastErr != nil {
		return specindex.BatchResult{}, &MongoIndexerError{Op: "bulk_write", Err: lastErr}
	}

	result := specindex.BatchResult{
		Acknowledged: make([]string, 0, len(batch)),
		Rejected:     make(map[string]string),
	}
	rejectedIdx := make(map[int]struct{}, len(writeErrs))
	for _, we := range writeErrs {
		if we.Index >= 0 && we.Index < len(batch) {
			rejectedIdx[we.Index] = struct{}{}
			result.Rejected[batch[we.Index].ID] = we.Message
		}
	}
	for i, doc := range batch {
		if _, bad := rejectedIdx[i]; !bad {
			result.Acknowledged = append(result.Acknowledged, doc.ID)
		}
	}

	m.mu.Lock()
	m.stats.BatchesSubmitted++
	m.stats.DocsAcknowledged += int64(len(result.Acknowledged))
	m.stats.DocsRejected += int64(len(result.Rejected))
	m.stats.SubmitDuration += time.Since(start)
	m.stats.LastSubmitTime = time.Now()
	m.mu.Unlock()

	return result, nil
}

// Close implements the specindex.Indexer interface.
func (m *MongoIndexer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil {
		return &MongoIndexerError{Op: "disconnect", Err: err}
	}
	return nil
}
