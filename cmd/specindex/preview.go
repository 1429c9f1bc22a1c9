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
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aaronlmathis/specindex"
	"github.com/aaronlmathis/specindex/schema"
	"github.com/aaronlmathis/specindex/transform"
)

func newPreviewCommand() *cobra.Command {
	var flags loadFlags
	var maxPreview int

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Transform the first rows of an export and print the documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd.Context(), &flags, maxPreview)
		},
	}

	cmd.Flags().StringVar(&flags.input, "input", "", "CSV export path (local file or s3://bucket/key)")
	cmd.Flags().StringVar(&flags.lookupFile, "lookup-file", "", "guid_prefix to type lookup CSV")
	cmd.Flags().IntVar(&maxPreview, "max-preview", 5, "number of documents to print")
	cmd.Flags().StringVar(&flags.s3Region, "s3-region", "", "AWS region for s3:// inputs")
	cmd.Flags().StringVar(&flags.s3Profile, "s3-profile", "", "AWS shared config profile for s3:// inputs")
	cmd.Flags().StringVar(&flags.s3Endpoint, "s3-endpoint", "", "custom S3 endpoint URL")

	return cmd
}

func runPreview(ctx context.Context, flags *loadFlags, maxPreview int) error {
	if flags.input == "" {
		return fmt.Errorf("--input is required")
	}
	if maxPreview <= 0 {
		return fmt.Errorf("--max-preview must be positive")
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

	source, err := openSource(ctx, flags.input, 0, flags)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	defer source.Close()

	printed := 0
	for printed < maxPreview {
		row, err := source.Read(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			var malformed *specindex.MalformedRowError
			if errors.As(err, &malformed) {
				fmt.Printf("line %d: malformed row: %v\n", malformed.Line, malformed.Err)
				continue
			}
			return &exitError{code: 1, err: err}
		}

		doc, fieldErrs, err := transformer.Transform(row)
		if err != nil {
			fmt.Printf("line %d: rejected: %v\n", row.Line, err)
			continue
		}
		for _, fe := range fieldErrs {
			fmt.Printf("line %d: field %s: %s (%q)\n", row.Line, fe.Field, fe.Code, fe.Value)
		}

		data, err := json.MarshalIndent(doc.Fields, "", "  ")
		if err != nil {
			return &exitError{code: 1, err: err}
		}
		fmt.Printf("%s %s\n", doc.ID, data)
		printed++
	}

	printUnmapped(transformer.Stats().UnmappedPrefixes)
	return nil
}

// printUnmapped summarizes guid_prefix values that had no lookup entry,
// in descending count order.
func printUnmapped(unmapped map[string]int64) {
	if len(unmapped) == 0 {
		return
	}
	prefixes := make([]string, 0, len(unmapped))
	for p := range unmapped {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if unmapped[prefixes[i]] != unmapped[prefixes[j]] {
			return unmapped[prefixes[i]] > unmapped[prefixes[j]]
		}
		return prefixes[i] < prefixes[j]
	})

	fmt.Println("unmapped guid_prefix values:")
	for _, p := range prefixes {
		fmt.Printf("  %s: %d\n", p, unmapped[p])
	}
}
