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
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Package readers provides implementations of specindex.RecordSource.
//
// This file implements the S3 object source: the occurrence export is
// fetched with GetObject and its body streamed straight into the CSV
// source, so an arbitrarily large archive is never held in memory.

// S3SourceError provides structured error information for S3 operations.
type S3SourceError struct {
	Op  string // The operation that failed (e.g., "get_object", "parse_url")
	Err error  // The underlying error
}

// Error returns the error string for S3SourceError.
func (e *S3SourceError) Error() string {
	return fmt.Sprintf("s3 source %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for S3SourceError.
func (e *S3SourceError) Unwrap() error {
	return e.Err
}

// S3SourceOptions configures access to the object store.
type S3SourceOptions struct {
	Region         string          // AWS region
	Profile        string          // AWS profile to use
	Credentials    aws.Credentials // Explicit credentials
	EndpointURL    string          // Custom endpoint (for S3-compatible services)
	ForcePathStyle bool            // Use path-style addressing
	CSVOptions     []CSVSourceOption
}

// S3SourceOption represents a configuration function for S3SourceOptions.
type S3SourceOption func(*S3SourceOptions)

// WithS3Region sets the AWS region.
func WithS3Region(region string) S3SourceOption {
	return func(opts *S3SourceOptions) { opts.Region = region }
}

// WithS3Profile sets the AWS shared-config profile.
func WithS3Profile(profile string) S3SourceOption {
	return func(opts *S3SourceOptions) { opts.Profile = profile }
}

// WithS3Credentials sets explicit static credentials.
func WithS3Credentials(creds aws.Credentials) S3SourceOption {
	return func(opts *S3SourceOptions) { opts.Credentials = creds }
}

// WithS3Endpoint sets a custom endpoint for S3-compatible services.
func WithS3Endpoint(endpoint string) S3SourceOption {
	return func(opts *S3SourceOptions) { opts.EndpointURL = endpoint }
}

// WithS3PathStyle enables path-style addressing.
func WithS3PathStyle(pathStyle bool) S3SourceOption {
	return func(opts *S3SourceOptions) { opts.ForcePathStyle = pathStyle }
}

// WithS3CSVOptions forwards options to the underlying CSV source.
func WithS3CSVOptions(options ...CSVSourceOption) S3SourceOption {
	return func(opts *S3SourceOptions) {
		opts.CSVOptions = append(opts.CSVOptions, options...)
	}
}

// OpenS3 streams a single object given as an s3://bucket/key URL.
// The returned source is the standard CSV source over the object body;
// gzip detection and resume skipping work identically to local files.
func OpenS3(ctx context.Context, rawURL string, options ...S3SourceOption) (*CSVSource, error) {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return nil, err
	}

	opts := S3SourceOptions{}
	for _, option := range options {
		option(&opts)
	}

	cfg, err := loadAWSConfig(ctx, opts)
	if err != nil {
		return nil, &S3SourceError{Op: "load_config", Err: err}
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.EndpointURL != "" {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &S3SourceError{Op: "get_object", Err: fmt.Errorf("s3://%s/%s: %w", bucket, key, err)}
	}

	src, err := NewCSVSource(out.Body, opts.CSVOptions...)
	if err != nil {
		out.Body.Close()
		return nil, err
	}
	return src, nil
}

// ParseS3URL splits an s3://bucket/key URL into bucket and key.
func ParseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", &S3SourceError{Op: "parse_url", Err: err}
	}
	if u.Scheme != "s3" {
		return "", "", &S3SourceError{Op: "parse_url", Err: fmt.Errorf("not an s3 URL: %s", rawURL)}
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", &S3SourceError{Op: "parse_url", Err: fmt.Errorf("missing bucket or key: %s", rawURL)}
	}
	return bucket, key, nil
}

// loadAWSConfig builds the AWS configuration from options.
func loadAWSConfig(ctx context.Context, opts S3SourceOptions) (aws.Config, error) {
	configOpts := []func(*config.LoadOptions) error{}

	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, err
	}

	if opts.Credentials.AccessKeyID != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(
				opts.Credentials.AccessKeyID,
				opts.Credentials.SecretAccessKey,
				opts.Credentials.SessionToken,
			),
		)
	}

	return cfg, nil
}
