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

// Package sources defines the byte-range contract that track readers use to
// read local and remote files, and the errors sources report.
package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Fetcher reads byte ranges from a resource.
type Fetcher interface {
	// Fetch returns up to length bytes starting at start.  A result shorter
	// than length means the resource ended; a start at or past the end yields
	// an empty result and no error.
	Fetch(ctx context.Context, start int64, length int) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, start int64, length int) ([]byte, error)

// Fetch calls f(ctx, start, length).
func (f FetcherFunc) Fetch(ctx context.Context, start int64, length int) ([]byte, error) {
	return f(ctx, start, length)
}

// NetworkError reports a transport failure.  Callers may retry.
type NetworkError struct {
	Op  string
	Err error
}

func (err *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", err.Op, err.Err)
}

func (err *NetworkError) Unwrap() error {
	return err.Err
}

// HTTPStatusError reports a response with a status of 400 or above.
type HTTPStatusError struct {
	Code   int
	Status string
}

func (err *HTTPStatusError) Error() string {
	if err.Status == "" {
		return fmt.Sprintf("unexpected response status: %d %s", err.Code, http.StatusText(err.Code))
	}
	return fmt.Sprintf("unexpected response status: %s", err.Status)
}

// Temporary reports whether the request may succeed if repeated.
func (err *HTTPStatusError) Temporary() bool {
	return err.Code >= 500
}

// DefaultReadSize is the size of each fetch issued by a Reader.
const DefaultReadSize = 1 << 20

// Reader is a sequential io.Reader over a Fetcher, used to stream whole
// indexes and headers.
type Reader struct {
	ctx      context.Context
	fetcher  Fetcher
	offset   int64
	readSize int
	buffer   []byte
	eof      bool
}

// NewReader returns a Reader that starts at offset and fetches readSize bytes
// at a time.  A readSize of zero selects DefaultReadSize.
func NewReader(ctx context.Context, fetcher Fetcher, offset int64, readSize int) *Reader {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	return &Reader{ctx: ctx, fetcher: fetcher, offset: offset, readSize: readSize}
}

func (r *Reader) Read(p []byte) (int, error) {
	if len(r.buffer) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		data, err := r.fetcher.Fetch(r.ctx, r.offset, r.readSize)
		if err != nil {
			return 0, err
		}
		r.offset += int64(len(data))
		r.buffer = data
		r.eof = len(data) < r.readSize
		if len(data) == 0 {
			return 0, io.EOF
		}
	}
	n := copy(p, r.buffer)
	r.buffer = r.buffer[n:]
	return n, nil
}

// ReadAll fetches everything from offset to the end of the resource.
func ReadAll(ctx context.Context, fetcher Fetcher, offset int64) ([]byte, error) {
	return io.ReadAll(NewReader(ctx, fetcher, offset, 0))
}

// ReaderAt adapts a Fetcher to io.ReaderAt.  Every ReadAt is one fetch made
// with the context the ReaderAt was created with.
type ReaderAt struct {
	ctx     context.Context
	fetcher Fetcher
}

// NewReaderAt returns a ReaderAt that fetches from fetcher using ctx.
func NewReaderAt(ctx context.Context, fetcher Fetcher) *ReaderAt {
	return &ReaderAt{ctx: ctx, fetcher: fetcher}
}

// ReadAt reads len(p) bytes at offset, returning io.EOF when the resource
// ends first.
func (r *ReaderAt) ReadAt(p []byte, offset int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data, err := r.fetcher.Fetch(r.ctx, offset, len(p))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
