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

package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/googlegenomics/trackreader/sources"
)

type fakeClient struct {
	objects map[string][]byte
	err     error
}

func (c *fakeClient) NewObjectHandle(bucket, object string) ObjectHandle {
	return &fakeHandle{client: c, key: bucket + "/" + object}
}

type fakeHandle struct {
	client *fakeClient
	key    string
}

func (h *fakeHandle) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	if h.client.err != nil {
		return nil, h.client.err
	}
	data, ok := h.client.objects[h.key]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	if offset >= int64(len(data)) {
		return nil, &googleapi.Error{Code: http.StatusRequestedRangeNotSatisfiable}
	}
	end := offset + length
	if length < 0 || end > int64(len(data)) {
		end = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[offset:end])), nil
}

func TestParseURL(t *testing.T) {
	testCases := []struct {
		location       string
		bucket, object string
		wantErr        bool
	}{
		{"gs://bucket/path/to/track.bw", "bucket", "path/to/track.bw", false},
		{"gs://bucket/", "", "", true},
		{"gs://bucket", "", "", true},
		{"http://bucket/object", "", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.location, func(t *testing.T) {
			bucket, object, err := ParseURL(tc.location)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.bucket, bucket)
			assert.Equal(t, tc.object, object)
		})
	}
}

func TestSource_Fetch(t *testing.T) {
	client := &fakeClient{objects: map[string][]byte{"b/o": []byte("0123456789")}}
	source := New(client, "b", "o")
	ctx := context.Background()

	got, err := source.Fetch(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "234", string(got))

	got, err = source.Fetch(ctx, 8, 10)
	require.NoError(t, err)
	assert.Equal(t, "89", string(got))

	got, err = source.Fetch(ctx, 20, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSource_Errors(t *testing.T) {
	testCases := []struct {
		name     string
		client   *fakeClient
		wantCode int
	}{
		{"missing object", &fakeClient{}, http.StatusNotFound},
		{"forbidden", &fakeClient{err: &googleapi.Error{Code: http.StatusForbidden}}, http.StatusForbidden},
		{"unauthorized", &fakeClient{err: &googleapi.Error{Code: http.StatusUnauthorized}}, http.StatusUnauthorized},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.client, "b", "o").Fetch(context.Background(), 0, 10)
			var statusErr *sources.HTTPStatusError
			require.True(t, errors.As(err, &statusErr), "got %v", err)
			assert.Equal(t, tc.wantCode, statusErr.Code)
		})
	}

	_, err := New(&fakeClient{err: errors.New("connection reset")}, "b", "o").Fetch(context.Background(), 0, 10)
	var networkErr *sources.NetworkError
	assert.True(t, errors.As(err, &networkErr), "got %v", err)
}

func TestNewClientFromAuthorization_InvalidToken(t *testing.T) {
	for _, header := range []string{"", "Basic abc", "Bearer"} {
		_, err := NewClientFromAuthorization(context.Background(), header)
		assert.Equal(t, ErrMissingOrInvalidToken, err, "header %q", header)
	}
}
