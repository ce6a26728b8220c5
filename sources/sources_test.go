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

package sources

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memory []byte

func (m memory) Fetch(_ context.Context, start int64, length int) ([]byte, error) {
	if start >= int64(len(m)) {
		return nil, nil
	}
	end := start + int64(length)
	if end > int64(len(m)) {
		end = int64(len(m))
	}
	return m[start:end], nil
}

func TestReader(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 100)
	var calls int
	fetcher := FetcherFunc(func(ctx context.Context, start int64, length int) ([]byte, error) {
		calls++
		return memory(data).Fetch(ctx, start, length)
	})

	got, err := io.ReadAll(NewReader(context.Background(), fetcher, 5, 64))
	require.NoError(t, err)
	assert.Equal(t, data[5:], got)
	assert.Equal(t, (len(data)-5)/64+1, calls)
}

func TestReader_ExactMultiple(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 128)
	got, err := io.ReadAll(NewReader(context.Background(), memory(data), 0, 64))
	require.NoError(t, err)
	assert.Len(t, got, 128)
}

func TestReader_Error(t *testing.T) {
	failure := &NetworkError{Op: "fetching", Err: errors.New("connection reset")}
	fetcher := FetcherFunc(func(context.Context, int64, int) ([]byte, error) {
		return nil, failure
	})
	_, err := ReadAll(context.Background(), fetcher, 0)
	var networkErr *NetworkError
	require.True(t, errors.As(err, &networkErr))
	assert.Equal(t, "fetching: connection reset", err.Error())
}

func TestHTTPStatusError(t *testing.T) {
	assert.True(t, (&HTTPStatusError{Code: 503}).Temporary())
	assert.False(t, (&HTTPStatusError{Code: 404}).Temporary())
	assert.Equal(t, "unexpected response status: 404 Not Found", (&HTTPStatusError{Code: 404}).Error())
	assert.Equal(t, "unexpected response status: 403 Forbidden", (&HTTPStatusError{Code: 403, Status: "403 Forbidden"}).Error())
}

func TestReaderAt(t *testing.T) {
	r := NewReaderAt(context.Background(), memory("0123456789"))

	buffer := make([]byte, 4)
	n, err := r.ReadAt(buffer, 3)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(buffer[:n]))

	n, err = r.ReadAt(buffer, 8)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "89", string(buffer[:n]))

	section := io.NewSectionReader(r, 2, 5)
	all, err := io.ReadAll(section)
	require.NoError(t, err)
	assert.Equal(t, "23456", string(all))
}
