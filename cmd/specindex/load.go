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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aaronlmathis/specindex"
	"github.com/aaronlmathis/specindex/checkpoint"
	"github.com/aaronlmathis/specindex/deadletter"
	"github.com/aaronlmathis/specindex/indexers"
	"github.com/aaronlmathis/specindex/readers"
	"github.com/aaronlmathis/specindex/schema"
	"github.com/aaronlmathis/specindex/transform"
)

// loadFlags collects the flag values for the load command.
type loadFlags struct {
	input      string
	batchSize  int
	concurrent int
	workers    int
	job        string
	resume     bool
	lookupFile string
	deadLetter string

	backend     string
	elasticURL  string
	index       string
	elasticUser string
	elasticPass string
	mongoURI    string
	mongoDB     string
	mongoColl   string
	createIndex bool
	recreate    bool

	checkpointFile string
	checkpointDSN  string

	s3Region   string
	s3Profile  string
	s3Endpoint string
}

func newLoadCommand() *cobra.Command {
	var flags loadFlags

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Stream a CSV export into the index backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), &flags)
		},
	}

	cmd.Flags().StringVar(&flags.input, "input", "", "CSV export path (local file or s3://bucket/key)")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 500, "documents per bulk submission")
	cmd.Flags().IntVar(&flags.concurrent, "concurrency", 2, "concurrent bulk submissions")
	cmd.Flags().IntVar(&flags.workers, "workers", 4, "parallel transform workers")
	cmd.Flags().StringVar(&flags.job, "job", "specindex", "job id for checkpointing")
	cmd.Flags().BoolVar(&flags.resume, "resume", false, "resume from the stored checkpoint")
	cmd.Flags().StringVar(&flags.lookupFile, "lookup-file", "", "guid_prefix to type lookup CSV")
	cmd.Flags().StringVar(&flags.deadLetter, "dead-letter", "", "write rejected rows to this parquet file")

	cmd.Flags().StringVar(&flags.backend, "backend", "elastic", "index backend: elastic or mongo")
	cmd.Flags().StringVar(&flags.elasticURL, "elastic-url", "http://localhost:9200", "Elasticsearch base URL")
	cmd.Flags().StringVar(&flags.index, "index", "specimens", "Elasticsearch index name")
	cmd.Flags().StringVar(&flags.elasticUser, "elastic-user", "", "Elasticsearch basic auth username")
	cmd.Flags().StringVar(&flags.elasticPass, "elastic-pass", "", "Elasticsearch basic auth password")
	cmd.Flags().StringVar(&flags.mongoURI, "mongo-uri", "", "MongoDB connection URI")
	cmd.Flags().StringVar(&flags.mongoDB, "mongo-db", "specindex", "MongoDB database name")
	cmd.Flags().StringVar(&flags.mongoColl, "mongo-collection", "specimens", "MongoDB collection name")
	cmd.Flags().BoolVar(&flags.createIndex, "create-index", false, "create the index with schema mappings before loading")
	cmd.Flags().BoolVar(&flags.recreate, "recreate-index", false, "drop and recreate the index before loading")

	cmd.Flags().StringVar(&flags.checkpointFile, "checkpoint", "", "checkpoint file path")
	cmd.Flags().StringVar(&flags.checkpointDSN, "checkpoint-dsn", "", "PostgreSQL DSN for a shared checkpoint store")

	cmd.Flags().StringVar(&flags.s3Region, "s3-region", "", "AWS region for s3:// inputs")
	cmd.Flags().StringVar(&flags.s3Profile, "s3-profile", "", "AWS shared config profile for s3:// inputs")
	cmd.Flags().StringVar(&flags.s3Endpoint, "s3-endpoint", "", "custom S3 endpoint URL")

	return cmd
}

func runLoad(ctx context.Context, flags *loadFlags) error {
	if flags.input == "" {
		return fmt.Errorf("--input is required")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	registry, err := schema.NewRegistry()
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	lookup, err := loadLookup(flags.lookupFile, logger)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	transformer := transform.NewTransformer(registry, transform.WithTypeLookup(lookup))

	store, err := openCheckpointStore(ctx, flags)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	if store != nil {
		defer store.Close()
	}

	var resumeFrom int64
	if flags.resume {
		if store == nil {
			return fmt.Errorf("--resume requires --checkpoint or --checkpoint-dsn")
		}
		resumeFrom, err = store.Load(ctx, flags.job)
		if err != nil {
			return &exitError{code: 1, err: err}
		}
		if resumeFrom > 0 {
			logger.Info("resuming from checkpoint",
				zap.String("job", flags.job),
				zap.Int64("offset", resumeFrom))
		}
	}

	source, err := openSource(ctx, flags.input, resumeFrom, flags)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	defer source.Close()

	indexer, err := openIndexer(ctx, flags, registry)
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	options := []specindex.LoaderOption{
		specindex.WithBatchSize(flags.batchSize),
		specindex.WithConcurrency(flags.concurrent),
		specindex.WithTransformWorkers(flags.workers),
		specindex.WithResumeFrom(resumeFrom),
		specindex.WithJob(flags.job),
		specindex.WithLogger(logger),
	}
	if store != nil {
		options = append(options, specindex.WithCheckpoint(store))
	}
	if flags.deadLetter != "" {
		sink, err := deadletter.NewParquetSink(flags.deadLetter)
		if err != nil {
			indexer.Close()
			return &exitError{code: 1, err: err}
		}
		defer sink.Close()
		options = append(options, specindex.WithRejectSink(sink))
	}

	loader, err := specindex.NewLoader(source, transformer, indexer, options...)
	if err != nil {
		indexer.Close()
		return &exitError{code: 1, err: err}
	}

	report, runErr := loader.Run(ctx)
	indexer.Close()

	logger.Info("run finished",
		zap.String("state", report.State.String()),
		zap.Int64("rows_read", report.RowsRead),
		zap.Int64("rows_indexed", report.RowsIndexed),
		zap.Int64("rows_failed", report.RowsFailed),
		zap.Int64("field_errors", report.FieldErrors),
		zap.Int64("backend_rejects", report.BackendRejects),
		zap.Int64("watermark", report.LastOffset),
		zap.Duration("duration", report.Duration.Round(time.Millisecond)))

	if runErr != nil {
		return &exitError{code: 1, err: runErr}
	}
	if report.State != specindex.StateCompleted || report.RowsIndexed == 0 {
		return &exitError{code: 1, err: fmt.Errorf("run ended in state %s with %d rows indexed",
			report.State, report.RowsIndexed)}
	}
	return nil
}

// loadLookup reads the guid_prefix lookup file. A missing file is a warning,
// not an error; the transformer falls back to the raw prefix.
func loadLookup(path string, logger *zap.Logger) (*schema.TypeLookup, error) {
	if path == "" {
		return schema.EmptyTypeLookup(), nil
	}
	lookup, err := schema.LoadTypeLookup(path)
	if err != nil {
		return nil, err
	}
	if lookup.Len() == 0 {
		logger.Warn("type lookup file missing or empty, falling back to raw guid_prefix",
			zap.String("path", path))
	}
	return lookup, nil
}

func openSource(ctx context.Context, input string, skip int64, flags *loadFlags) (*readers.CSVSource, error) {
	csvOpts := []readers.CSVSourceOption{}
	if skip > 0 {
		csvOpts = append(csvOpts, readers.WithSkipRows(skip))
	}
	if strings.HasPrefix(input, "s3://") {
		s3Opts := []readers.S3SourceOption{readers.WithS3CSVOptions(csvOpts...)}
		if flags.s3Region != "" {
			s3Opts = append(s3Opts, readers.WithS3Region(flags.s3Region))
		}
		if flags.s3Profile != "" {
			s3Opts = append(s3Opts, readers.WithS3Profile(flags.s3Profile))
		}
		if flags.s3Endpoint != "" {
			s3Opts = append(s3Opts, readers.WithS3Endpoint(flags.s3Endpoint))
		}
		return readers.OpenS3(ctx, input, s3Opts...)
	}
	return readers.Open(input, csvOpts...)
}

func openIndexer(ctx context.Context, flags *loadFlags, registry *schema.Registry) (specindex.Indexer, error) {
	switch flags.backend {
	case "elastic":
		opts := []indexers.ElasticIndexerOption{
			indexers.WithElasticURL(flags.elasticURL),
			indexers.WithElasticIndex(flags.index),
		}
		if flags.elasticUser != "" {
			opts = append(opts, indexers.WithElasticBasicAuth(flags.elasticUser, flags.elasticPass))
		}
		indexer, err := indexers.NewElasticIndexer(opts...)
		if err != nil {
			return nil, err
		}
		if flags.createIndex || flags.recreate {
			if err := indexer.EnsureIndex(ctx, registry, flags.recreate); err != nil {
				indexer.Close()
				return nil, err
			}
		}
		return indexer, nil
	case "mongo":
		if flags.mongoURI == "" {
			return nil, fmt.Errorf("--mongo-uri is required for the mongo backend")
		}
		return indexers.NewMongoIndexer(ctx,
			indexers.WithMongoURI(flags.mongoURI),
			indexers.WithMongoDatabase(flags.mongoDB),
			indexers.WithMongoCollection(flags.mongoColl))
	default:
		return nil, fmt.Errorf("unknown backend %q (want elastic or mongo)", flags.backend)
	}
}

func openCheckpointStore(ctx context.Context, flags *loadFlags) (specindex.CheckpointStore, error) {
	if flags.checkpointDSN != "" {
		return checkpoint.NewPostgresStore(ctx, checkpoint.WithPostgresDSN(flags.checkpointDSN))
	}
	if flags.checkpointFile != "" {
		return checkpoint.NewFileStore(flags.checkpointFile)
	}
	return nil, nil
}
