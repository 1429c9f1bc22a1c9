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

package readers

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aaronlmathis/specindex"
)

// Package readers provides implementations of specindex.RecordSource.
//
// This file implements the streaming CSV source: gzip detection, BOM
// stripping, header-driven column mapping, and per-row malformed-line
// reporting, all in constant memory regardless of file size.

// CSVSourceError wraps structured error information for the CSV source.
type CSVSourceError struct {
	Op  string // The operation that failed (e.g., "open", "read_header")
	Err error  // The underlying error
}

// Error returns the error string for CSVSourceError.
func (e *CSVSourceError) Error() string {
	return fmt.Sprintf("csv source %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for CSVSourceError.
func (e *CSVSourceError) Unwrap() error {
	return e.Err
}

// CSVSourceStats holds statistics about the CSV source's performance.
type CSVSourceStats struct {
	RowsRead        int64         // Data rows returned (excludes header and skipped rows)
	RowsSkipped     int64         // Rows discarded by the resume offset
	MalformedRows   int64         // Rows reported as MalformedRowError
	CompressedBytes int64         // Bytes consumed from the underlying reader
	ReadDuration    time.Duration // Total time spent reading
	LastReadTime    time.Time     // Time of the last read
}

// CSVSourceOptions configures the CSV source.
type CSVSourceOptions struct {
	Comma    rune  // Field delimiter
	SkipRows int64 // Data rows to discard after the header (resume offset)
}

// CSVSourceOption represents a configuration function for CSVSourceOptions.
type CSVSourceOption func(*CSVSourceOptions)

// WithComma sets the field delimiter.
func WithComma(r rune) CSVSourceOption {
	return func(o *CSVSourceOptions) { o.Comma = r }
}

// WithSkipRows discards the first n data rows, for resuming a previous run
// from its persisted watermark. Skipped rows are counted but not parsed
// into records; malformed rows inside the skipped prefix are ignored.
func WithSkipRows(n int64) CSVSourceOption {
	return func(o *CSVSourceOptions) { o.SkipRows = n }
}

// countingReader tracks bytes consumed from the raw input, before
// decompression.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// CSVSource implements specindex.RecordSource for plain or gzipped CSV.
// The header row defines column order; rows are mapped by column name so
// the pipeline is independent of column position.
type CSVSource struct {
	reader  *csv.Reader
	headers []string
	counter *countingReader
	gz      *gzip.Reader
	closer  io.Closer
	rowNum  int64 // data rows consumed, including skipped and malformed
	skipped bool
	stats   CSVSourceStats
	opts    CSVSourceOptions
}

// Open creates a CSVSource for a file path, detecting gzip by content.
func Open(path string, options ...CSVSourceOption) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &CSVSourceError{Op: "open", Err: err}
	}
	src, err := NewCSVSource(f, options...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

// NewCSVSource creates a CSVSource over an open reader. Gzip input is
// detected by its magic bytes and decompressed on the fly; a UTF-8 byte
// order mark before the header is stripped.
func NewCSVSource(r io.ReadCloser, options ...CSVSourceOption) (*CSVSource, error) {
	opts := CSVSourceOptions{Comma: ','}
	for _, option := range options {
		option(&opts)
	}
	if opts.SkipRows < 0 {
		return nil, &CSVSourceError{Op: "validate", Err: fmt.Errorf("skip rows must be non-negative")}
	}

	counter := &countingReader{r: r}
	buf := bufio.NewReaderSize(counter, 64*1024)

	src := &CSVSource{
		counter: counter,
		closer:  r,
		opts:    opts,
	}

	magic, err := buf.Peek(2)
	if err != nil && err != io.EOF {
		return nil, &CSVSourceError{Op: "detect_gzip", Err: err}
	}
	var stream io.Reader = buf
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(buf)
		if err != nil {
			return nil, &CSVSourceError{Op: "open_gzip", Err: err}
		}
		src.gz = gz
		stream = bufio.NewReaderSize(gz, 64*1024)
	}

	cr := csv.NewReader(stream)
	cr.Comma = opts.Comma
	cr.ReuseRecord = false
	src.reader = cr

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, &CSVSourceError{Op: "read_header", Err: fmt.Errorf("input is empty")}
		}
		return nil, &CSVSourceError{Op: "read_header", Err: err}
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	src.headers = header

	return src, nil
}

// Headers returns the column names from the header row.
func (c *CSVSource) Headers() []string {
	out := make([]string, len(c.headers))
	copy(out, c.headers)
	return out
}

// Read implements the specindex.RecordSource interface. Structurally
// unparsable lines return a *specindex.MalformedRowError and leave the
// stream readable; the caller decides whether to skip or abort.
func (c *CSVSource) Read(ctx context.Context) (specindex.RawRow, error) {
	start := time.Now()

	select {
	case <-ctx.Done():
		return specindex.RawRow{}, &CSVSourceError{Op: "read", Err: ctx.Err()}
	default:
	}

	if !c.skipped {
		if err := c.skipRows(); err != nil {
			return specindex.RawRow{}, err
		}
	}

	record, err := c.reader.Read()
	c.rowNum++
	c.stats.LastReadTime = time.Now()
	c.stats.ReadDuration += time.Since(start)
	c.stats.CompressedBytes = c.counter.n.Load()

	if err != nil {
		if err == io.EOF {
			c.rowNum--
			return specindex.RawRow{}, io.EOF
		}
		c.stats.MalformedRows++
		return specindex.RawRow{}, c.malformed(record, err)
	}

	values := make(map[string]string, len(c.headers))
	for i, val := range record {
		if i >= len(c.headers) {
			break
		}
		values[c.headers[i]] = val
	}

	c.stats.RowsRead++
	return specindex.RawRow{Line: c.line(), Values: values}, nil
}

// Close implements the specindex.RecordSource interface.
func (c *CSVSource) Close() error {
	if c.gz != nil {
		if err := c.gz.Close(); err != nil {
			c.closer.Close()
			return &CSVSourceError{Op: "close_gzip", Err: err}
		}
	}
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Stats returns CSV source performance statistics.
func (c *CSVSource) Stats() CSVSourceStats {
	return c.stats
}

// skipRows discards the resume prefix. Malformed rows in the prefix were
// already accounted for by the run that persisted the watermark.
func (c *CSVSource) skipRows() error {
	c.skipped = true
	for c.stats.RowsSkipped < c.opts.SkipRows {
		_, err := c.reader.Read()
		if err == io.EOF {
			return nil
		}
		c.rowNum++
		c.stats.RowsSkipped++
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return &CSVSourceError{Op: "skip", Err: err}
			}
		}
	}
	return nil
}

// malformed classifies a csv parse failure as row-level or fatal.
func (c *CSVSource) malformed(record []string, err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		raw := ""
		if len(record) > 0 {
			// Wrong-field-count rows still parse; keep what we saw.
			raw = strings.Join(record, string(c.opts.Comma))
		}
		return &specindex.MalformedRowError{Line: c.line(), Raw: raw, Err: parseErr.Err}
	}
	return &CSVSourceError{Op: "read", Err: err}
}

// line is the 1-based input row number of the row just consumed, counting
// the header as row 1.
func (c *CSVSource) line() int64 {
	return c.rowNum + 1
}
