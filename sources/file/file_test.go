// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_Fetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0644))

	source, err := Open(path)
	require.NoError(t, err)
	defer source.Close()

	ctx := context.Background()
	testCases := []struct {
		name          string
		start, length int
		want          string
	}{
		{"prefix", 0, 4, "0123"},
		{"middle", 3, 3, "345"},
		{"short at end", 8, 10, "89"},
		{"past end", 10, 5, ""},
		{"empty range", 2, 0, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := source.Fetch(ctx, int64(tc.start), tc.length)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
	assert.Equal(t, int64(10), source.Size())

	_, err = source.Fetch(ctx, -1, 2)
	assert.Error(t, err)
}

func TestSource_Cancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))
	source, err := Open(path)
	require.NoError(t, err)
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = source.Fetch(ctx, 0, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
