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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseS3URL(t *testing.T) {
	bucket, key, err := ParseS3URL("s3://exports/specimens/occurrence.csv.gz")
	require.NoError(t, err)
	assert.Equal(t, "exports", bucket)
	assert.Equal(t, "specimens/occurrence.csv.gz", key)

	_, _, err = ParseS3URL("https://exports/occurrence.csv.gz")
	require.Error(t, err)

	_, _, err = ParseS3URL("s3://exports")
	require.Error(t, err)

	_, _, err = ParseS3URL("s3:///occurrence.csv.gz")
	require.Error(t, err)
}
