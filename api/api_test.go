// Copyright 2017 Google Inc.
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

package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/googlegenomics/trackreader/genomics"
	"github.com/googlegenomics/trackreader/internal/bgzf"
	"github.com/googlegenomics/trackreader/internal/config"
	"github.com/googlegenomics/trackreader/sources"
	"github.com/googlegenomics/trackreader/sources/gcs"
	"github.com/googlegenomics/trackreader/sources/location"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func put(w *bytes.Buffer, values ...interface{}) {
	for _, v := range values {
		if s, ok := v.(string); ok {
			w.WriteString(s)
			continue
		}
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			panic(err)
		}
	}
}

// writeTrack writes a single block bedGraph-like tabix file and its index
// into directory.
func writeTrack(t *testing.T, directory, name string) {
	block, err := bgzf.EncodeBlock([]byte("chr1\t100\t200\t1.5\nchr1\t300\t400\t2\n"))
	require.NoError(t, err)
	data := append(append([]byte{}, block...), bgzf.EOFMarker...)

	var w bytes.Buffer
	names := "chr1\x00"
	put(&w, "TBI\x01", int32(1))
	put(&w, int32(0x10000), int32(1), int32(2), int32(3), int32('#'), int32(0), int32(len(names)), names)
	put(&w, int32(1), uint32(4681), int32(1), uint64(bgzf.NewAddress(0, 0)), uint64(bgzf.NewAddress(uint64(len(block)), 0)))
	put(&w, int32(1), uint64(bgzf.NewAddress(0, 0)))
	index, err := bgzf.EncodeBlock(w.Bytes())
	require.NoError(t, err)
	index = append(index, bgzf.EOFMarker...)

	require.NoError(t, os.WriteFile(filepath.Join(directory, name), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(directory, name+".tbi"), index, 0o644))
}

func newTestServer(t *testing.T, cfg config.Config, open Opener) (*Server, *gin.Engine) {
	server := NewServer(open, cfg)
	t.Cleanup(func() { server.Close() })
	router := gin.New()
	server.Register(router)
	return server, router
}

func newDirectoryServer(t *testing.T) (*Server, *gin.Engine) {
	directory := t.TempDir()
	writeTrack(t, directory, "peaks.bed.gz")
	cfg := config.Default()
	cfg.Server.Directory = directory
	return newTestServer(t, cfg, NewOpener(location.Options{Directory: directory}))
}

func get(router http.Handler, url string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	for key, values := range header {
		req.Header[key] = values
	}
	router.ServeHTTP(w, req)
	return w
}

func expectError(t *testing.T, name string, code int, w *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, code, w.Code)
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body %q", w.Body.String())
	assert.Equal(t, name, body.Error)
	assert.NotEmpty(t, body.Message)
}

func TestFeatures(t *testing.T) {
	_, router := newDirectoryServer(t)

	testCases := []struct {
		name string
		url  string
		want string
	}{
		{
			"region",
			"/features/peaks.bed.gz?referenceName=chr1&start=150&end=350",
			`{"features":[{"chr":"chr1","start":100,"end":200,"value":1.5},{"chr":"chr1","start":300,"end":400,"value":2}]}`,
		},
		{
			"whole reference by alias",
			"/features/peaks.bed.gz?referenceName=1",
			`{"features":[{"chr":"chr1","start":100,"end":200,"value":1.5},{"chr":"chr1","start":300,"end":400,"value":2}]}`,
		},
		{
			"binned",
			"/features/peaks.bed.gz?referenceName=chr1&start=100&end=400&binSize=300&windowFunction=max",
			`{"features":[{"chr":"chr1","start":100,"end":400,"value":2}]}`,
		},
		{
			"unknown reference",
			"/features/peaks.bed.gz?referenceName=chrZ&start=0&end=100",
			`{"features":[]}`,
		},
		{
			"explicit format",
			"/features/peaks.bed.gz?format=tabix&referenceName=chr1&start=0&end=150",
			`{"features":[{"chr":"chr1","start":100,"end":200,"value":1.5}]}`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := get(router, tc.url, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.JSONEq(t, tc.want, w.Body.String())
		})
	}
}

func TestReferences(t *testing.T) {
	server, router := newDirectoryServer(t)

	w := get(router, "/references/peaks.bed.gz", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"references":["chr1"]}`, w.Body.String())

	// The reader opened above is reused.
	get(router, "/features/peaks.bed.gz?referenceName=chr1&start=0&end=10", nil)
	assert.Equal(t, 1, server.readers.len())
}

func TestRequestID(t *testing.T) {
	_, router := newDirectoryServer(t)

	w := get(router, "/references/peaks.bed.gz", nil)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = get(router, "/references/peaks.bed.gz", http.Header{requestIDHeader: {"abc"}, "Origin": {"https://igv.org"}})
	assert.Equal(t, "abc", w.Header().Get(requestIDHeader))
	assert.Equal(t, "https://igv.org", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestInvalidInputs(t *testing.T) {
	_, router := newDirectoryServer(t)

	testCases := []struct{ name, url, error string }{
		{"missing ID", "/features/?referenceName=chr1", "InvalidInput"},
		{"missing reference name", "/features/peaks.bed.gz?start=1", "InvalidInput"},
		{"bad start", "/features/peaks.bed.gz?referenceName=chr1&start=x", "InvalidInput"},
		{"bad end", "/features/peaks.bed.gz?referenceName=chr1&end=-1", "InvalidInput"},
		{"empty range", "/features/peaks.bed.gz?referenceName=chr1&start=10&end=10", "InvalidRange"},
		{"bad bin size", "/features/peaks.bed.gz?referenceName=chr1&binSize=wide", "InvalidInput"},
		{"bad window function", "/features/peaks.bed.gz?referenceName=chr1&binSize=10&windowFunction=median", "InvalidInput"},
		{"window function without bin size", "/features/peaks.bed.gz?referenceName=chr1&windowFunction=mean", "InvalidInput"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			expectError(t, tc.error, http.StatusBadRequest, get(router, tc.url, nil))
		})
	}
}

func TestUnsupportedFormats(t *testing.T) {
	_, router := newDirectoryServer(t)

	testCases := []struct{ name, url string }{
		{"unknown extension", "/features/reads.cram?referenceName=chr1"},
		{"unknown format", "/features/peaks.bed.gz?format=XYZ&referenceName=chr1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			expectError(t, "UnsupportedFormat", http.StatusBadRequest, get(router, tc.url, nil))
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, router := newDirectoryServer(t)
	expectError(t, "NotFound", http.StatusNotFound,
		get(router, "/features/missing.bed.gz?referenceName=chr1", nil))
}

func TestWhitelist(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Buckets = []string{"allowed"}
	var opened []string
	open := func(req *http.Request, path string) (location.Source, error) {
		opened = append(opened, path)
		return nil, &sources.HTTPStatusError{Code: http.StatusNotFound}
	}
	_, router := newTestServer(t, cfg, open)

	expectError(t, "PermissionDenied", http.StatusForbidden,
		get(router, "/references/other/signal.bw", nil))
	expectError(t, "InvalidInput", http.StatusBadRequest,
		get(router, "/references/allowed", nil))
	expectError(t, "NotFound", http.StatusNotFound,
		get(router, "/references/allowed/signal.bw", nil))
	assert.Equal(t, []string{"gs://allowed/signal.bw"}, opened)
}

func TestBearerTokenOpener(t *testing.T) {
	_, router := newTestServer(t, config.Default(), NewBearerTokenOpener(location.Options{}))

	expectError(t, "PermissionDenied", http.StatusForbidden,
		get(router, "/references/bucket/signal.bw", nil))
	expectError(t, "PermissionDenied", http.StatusForbidden,
		get(router, "/references/bucket/signal.bw", http.Header{"Authorization": {"Basic abc"}}))
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want string
		code int
	}{
		{"invalid argument", &genomics.InvalidArgumentError{Name: "end", Value: 1, Reason: "bad"}, "InvalidInput", http.StatusBadRequest},
		{"missing token", fmt.Errorf("opening: %w", gcs.ErrMissingOrInvalidToken), "PermissionDenied", http.StatusForbidden},
		{"missing file", fmt.Errorf("mapping: %w", os.ErrNotExist), "NotFound", http.StatusNotFound},
		{"not found", &sources.HTTPStatusError{Code: http.StatusNotFound}, "NotFound", http.StatusNotFound},
		{"unauthorized", &sources.HTTPStatusError{Code: http.StatusUnauthorized}, "InvalidAuthentication", http.StatusUnauthorized},
		{"forbidden", &sources.HTTPStatusError{Code: http.StatusForbidden}, "PermissionDenied", http.StatusForbidden},
		{"server error", &sources.HTTPStatusError{Code: http.StatusServiceUnavailable}, "Unavailable", http.StatusBadGateway},
		{"network", &sources.NetworkError{Op: "fetch", Err: errors.New("reset")}, "Unavailable", http.StatusBadGateway},
		{"corrupt", fmt.Errorf("loading: %w", genomics.NewFormatError("TBI", errors.New("bad magic"))), "FormatError", http.StatusUnprocessableEntity},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got *apiError
			require.True(t, errors.As(classify("testing", tc.err), &got))
			assert.Equal(t, tc.want, got.name)
			assert.Equal(t, tc.code, got.code)
		})
	}

	plain := errors.New("boom")
	assert.Equal(t, plain, classify("testing", plain))
}

type fakeSource struct {
	closed   bool
	closeErr error
}

func (s *fakeSource) Fetch(ctx context.Context, start int64, length int) ([]byte, error) {
	return nil, nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return s.closeErr
}

func TestReaderCache(t *testing.T) {
	c := newReaderCache(1)
	first, second := &fakeSource{}, &fakeSource{}
	opener := func(source *fakeSource) func() (*openReader, error) {
		return func() (*openReader, error) {
			return &openReader{sources: []location.Source{source}}, nil
		}
	}

	a, err := c.acquire("a", opener(first))
	require.NoError(t, err)
	again, err := c.acquire("a", opener(second))
	require.NoError(t, err)
	assert.Same(t, a, again)

	// Evicting a reader in use defers closing it until it is released.
	b, err := c.acquire("b", opener(second))
	require.NoError(t, err)
	assert.Equal(t, 1, c.len())
	assert.False(t, first.closed)
	c.release(a)
	assert.False(t, first.closed)
	c.release(again)
	assert.True(t, first.closed)

	c.release(b)
	assert.False(t, second.closed)
	require.NoError(t, c.close())
	assert.True(t, second.closed)

	_, err = c.acquire("c", func() (*openReader, error) { return nil, errors.New("boom") })
	assert.Error(t, err)
	assert.Equal(t, 0, c.len())
}

func TestReaderCache_LogsCloseErrors(t *testing.T) {
	var logs bytes.Buffer
	log := logrus.New()
	log.SetOutput(&logs)

	c := newReaderCache(1)
	c.setLogger(log)
	opener := func(source *fakeSource) func() (*openReader, error) {
		return func() (*openReader, error) {
			return &openReader{sources: []location.Source{source}}, nil
		}
	}

	testCases := []struct {
		name    string
		release bool
	}{
		{"closed on eviction", false},
		{"closed on release", true},
	}
	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			logs.Reset()
			source := &fakeSource{closeErr: errors.New("close failed")}
			entry, err := c.acquire(fmt.Sprintf("held%d", i), opener(source))
			require.NoError(t, err)
			if !tc.release {
				c.release(entry)
			}

			next, err := c.acquire(fmt.Sprintf("next%d", i), opener(&fakeSource{}))
			require.NoError(t, err)
			defer c.release(next)
			if tc.release {
				assert.False(t, source.closed)
				c.release(entry)
			}

			assert.True(t, source.closed)
			assert.Contains(t, logs.String(), "close failed")
		})
	}
}
