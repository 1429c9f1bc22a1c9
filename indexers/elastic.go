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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/aaronlmathis/specindex"
	"github.com/aaronlmathis/specindex/schema"
)

// Package indexers provides implementations of specindex.Indexer.
//
// This file implements the Elasticsearch backend over the _bulk API.
// Each submission is one NDJSON request of index actions keyed by document
// identifier, so re-submitting a batch upserts rather than duplicates.
// Transport failures are retried by the HTTP client with exponential
// backoff; per-document rejections come back in the bulk response and are
// surfaced in the BatchResult, never retried.

// Retry policy for batch submissions.
const (
	retryWaitBase = 500 * time.Millisecond
	retryWaitMax  = 8 * time.Second
	retryMax      = 5
)

// ElasticIndexerError wraps Elasticsearch-specific errors with context
// about the operation.
type ElasticIndexerError struct {
	Op  string // The operation that failed (e.g., "bulk", "create_index")
	Err error  // The underlying error
}

// Error returns the error string for ElasticIndexerError.
func (e *ElasticIndexerError) Error() string {
	return fmt.Sprintf("elastic indexer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for ElasticIndexerError.
func (e *ElasticIndexerError) Unwrap() error {
	return e.Err
}

// ElasticIndexerStats holds submission statistics.
type ElasticIndexerStats struct {
	BatchesSubmitted int64
	DocsAcknowledged int64
	DocsRejected     int64
	BytesSent        int64
	SubmitDuration   time.Duration
	LastSubmitTime   time.Time
}

// ElasticIndexerOptions configures the Elasticsearch indexer.
type ElasticIndexerOptions struct {
	URL      string // Base URL, e.g. http://localhost:9200
	Index    string // Target index name
	Username string // Basic auth username (optional)
	Password string // Basic auth password (optional)
	Timeout  time.Duration
}

// ElasticIndexerOption represents a configuration function for ElasticIndexerOptions.
type ElasticIndexerOption func(*ElasticIndexerOptions)

// WithElasticURL sets the base URL of the cluster.
func WithElasticURL(url string) ElasticIndexerOption {
	return func(opts *ElasticIndexerOptions) { opts.URL = url }
}

// WithElasticIndex sets the target index name.
func WithElasticIndex(index string) ElasticIndexerOption {
	return func(opts *ElasticIndexerOptions) { opts.Index = index }
}

// WithElasticBasicAuth sets basic auth credentials.
func WithElasticBasicAuth(username, password string) ElasticIndexerOption {
	return func(opts *ElasticIndexerOptions) {
		opts.Username = username
		opts.Password = password
	}
}

// WithElasticTimeout sets the per-request timeout.
func WithElasticTimeout(timeout time.Duration) ElasticIndexerOption {
	return func(opts *ElasticIndexerOptions) { opts.Timeout = timeout }
}

// ElasticIndexer implements specindex.Indexer for Elasticsearch.
// Safe for concurrent Submit calls.
type ElasticIndexer struct {
	client *retryablehttp.Client
	opts   ElasticIndexerOptions
	mu     sync.Mutex
	stats  ElasticIndexerStats
}

// NewElasticIndexer creates an Elasticsearch indexer with the given options.
func NewElasticIndexer(options ...ElasticIndexerOption) (*ElasticIndexer, error) {
	opts := ElasticIndexerOptions{Timeout: 60 * time.Second}
	for _, option := range options {
		option(&opts)
	}

	if opts.URL == "" {
		return nil, &ElasticIndexerError{Op: "validate", Err: fmt.Errorf("url is required")}
	}
	if opts.Index == "" {
		return nil, &ElasticIndexerError{Op: "validate", Err: fmt.Errorf("index name is required")}
	}
	opts.URL = strings.TrimRight(opts.URL, "/")

	client := retryablehttp.NewClient()
	client.RetryWaitMin = retryWaitBase
	client.RetryWaitMax = retryWaitMax
	client.RetryMax = retryMax
	client.HTTPClient.Timeout = opts.Timeout
	client.Logger = nil

	return &ElasticIndexer{client: client, opts: opts}, nil
}

// Stats returns a copy of the current submission statistics.
func (e *ElasticIndexer) Stats() ElasticIndexerStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Submit implements the specindex.Indexer interface.
func (e *ElasticIndexer) Submit(ctx context.Context, batch specindex.Batch) (specindex.BatchResult, error) {
	if len(batch) == 0 {
		return specindex.BatchResult{}, nil
	}

	start := time.Now()

	body, err := encodeBulk(e.opts.Index, batch)
	if err != nil {
		return specindex.BatchResult{}, &ElasticIndexerError{Op: "encode", Err: err}
	}

	resp, err := e.do(ctx, http.MethodPost, "/_bulk", body, "application/x-ndjson")
	if err != nil {
		return specindex.BatchResult{}, &ElasticIndexerError{Op: "bulk", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return specindex.BatchResult{}, &ElasticIndexerError{
			Op:  "bulk",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(msg)),
		}
	}

	result, err := decodeBulkResponse(resp.Body, batch)
	if err != nil {
		return specindex.BatchResult{}, &ElasticIndexerError{Op: "decode", Err: err}
	}

	e.mu.Lock()
	e.stats.BatchesSubmitted++
	e.stats.DocsAcknowledged += int64(len(result.Acknowledged))
	e.stats.DocsRejected += int64(len(result.Rejected))
	e.stats.BytesSent += int64(body.Len())
	e.stats.SubmitDuration += time.Since(start)
	e.stats.LastSubmitTime = time.Now()
	e.mu.Unlock()

	return result, nil
}

// EnsureIndex creates the target index with type mappings derived from the
// schema registry. With recreate set, an existing index is deleted first;
// otherwise an existing index is left untouched.
func (e *ElasticIndexer) EnsureIndex(ctx context.Context, reg *schema.Registry, recreate bool) error {
	resp, err := e.do(ctx, http.MethodHead, "/"+e.opts.Index, nil, "")
	if err != nil {
		return &ElasticIndexerError{Op: "head_index", Err: err}
	}
	resp.Body.Close()
	exists := resp.StatusCode == http.StatusOK

	if exists && !recreate {
		return nil
	}
	if exists {
		del, err := e.do(ctx, http.MethodDelete, "/"+e.opts.Index, nil, "")
		if err != nil {
			return &ElasticIndexerError{Op: "delete_index", Err: err}
		}
		del.Body.Close()
		if del.StatusCode < 200 || del.StatusCode > 299 {
			return &ElasticIndexerError{Op: "delete_index", Err: fmt.Errorf("status %d", del.StatusCode)}
		}
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": mappingProperties(reg),
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return &ElasticIndexerError{Op: "create_index", Err: err}
	}

	put, err := e.do(ctx, http.MethodPut, "/"+e.opts.Index, bytes.NewBuffer(body), "application/json")
	if err != nil {
		return &ElasticIndexerError{Op: "create_index", Err: err}
	}
	defer put.Body.Close()
	if put.StatusCode < 200 || put.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(put.Body, 4096))
		return &ElasticIndexerError{Op: "create_index", Err: fmt.Errorf("status %d: %s", put.StatusCode, string(msg))}
	}
	return nil
}

// Close implements the specindex.Indexer interface.
func (e *ElasticIndexer) Close() error {
	e.client.HTTPClient.CloseIdleConnections()
	return nil
}

func (e *ElasticIndexer) do(ctx context.Context, method, path string, body *bytes.Buffer, contentType string) (*http.Response, error) {
	var rawBody interface{}
	if body != nil {
		rawBody = body.Bytes()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, e.opts.URL+path, rawBody)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if e.opts.Username != "" {
		req.SetBasicAuth(e.opts.Username, e.opts.Password)
	}
	return e.client.Do(req)
}

// encodeBulk renders a batch as NDJSON bulk actions.
func encodeBulk(index string, batch specindex.Batch) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	for _, doc := range batch {
		action := map[string]map[string]string{
			"index": {"_index": index, "_id": doc.ID},
		}
		if err := enc.Encode(action); err != nil {
			return nil, err
		}
		if err := enc.Encode(doc.Fields); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

type bulkResponse struct {
	Errors bool                `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

type bulkItem struct {
	ID     string         `json:"_id"`
	Status int            `json:"status"`
	Error  *bulkItemError `json:"error"`
}

type bulkItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// decodeBulkResponse maps per-item outcomes back onto the submitted batch.
func decodeBulkResponse(r io.Reader, batch specindex.Batch) (specindex.BatchResult, error) {
	var resp bulkResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return specindex.BatchResult{}, err
	}
	if len(resp.Items) != len(batch) {
		return specindex.BatchResult{}, fmt.Errorf("bulk response has %d items for %d documents", len(resp.Items), len(batch))
	}

	result := specindex.BatchResult{
		Acknowledged: make([]string, 0, len(batch)),
		Rejected:     make(map[string]string),
	}
	for i, item := range resp.Items {
		// Each item is keyed by its action, "index" here.
		var entry bulkItem
		for _, v := range item {
			entry = v
			break
		}
		id := entry.ID
		if id == "" {
			id = batch[i].ID
		}
		if entry.Error != nil || entry.Status >= 400 {
			reason := fmt.Sprintf("status %d", entry.Status)
			if entry.Error != nil {
				reason = fmt.Sprintf("%s: %s", entry.Error.Type, entry.Error.Reason)
			}
			result.Rejected[id] = reason
			continue
		}
		result.Acknowledged = append(result.Acknowledged, id)
	}
	return result, nil
}

// mappingProperties builds the index mapping from the schema, including the
// derived collection type field.
func mappingProperties(reg *schema.Registry) map[string]interface{} {
	props := make(map[string]interface{}, reg.Len()+1)
	for _, def := range reg.All() {
		props[def.Name] = map[string]string{"type": esType(def.Type)}
	}
	props[schema.DerivedTypeField] = map[string]string{"type": "keyword"}
	return props
}

func esType(t schema.Type) string {
	switch t {
	case schema.Keyword, schema.KeywordList, schema.URL:
		return "keyword"
	case schema.Text:
		return "text"
	case schema.Decimal:
		return "double"
	case schema.Integer:
		return "integer"
	default:
		return "keyword"
	}
}
