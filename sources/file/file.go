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

// Package file provides a sources.Fetcher over local files.
package file

import (
	"context"
	"fmt"

	"golang.org/x/exp/mmap"
)

// Source reads ranges of a memory-mapped local file.  It is safe for
// concurrent use.
type Source struct {
	reader *mmap.ReaderAt
	path   string
}

// Open maps the file at path.  The caller must Close the returned Source.
func Open(path string) (*Source, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	return &Source{reader: reader, path: path}, nil
}

// Fetch copies up to length bytes starting at start.
func (s *Source) Fetch(ctx context.Context, start int64, length int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if start < 0 || length < 0 {
		return nil, fmt.Errorf("invalid range %d+%d", start, length)
	}
	size := int64(s.reader.Len())
	if start >= size {
		return nil, nil
	}
	if end := start + int64(length); end > size {
		length = int(size - start)
	}
	data := make([]byte, length)
	n, err := s.reader.ReadAt(data, start)
	if err != nil && n < length {
		return nil, fmt.Errorf("reading %s at %d: %w", s.path, start, err)
	}
	return data, nil
}

// Size returns the length of the file.
func (s *Source) Size() int64 {
	return int64(s.reader.Len())
}

// Close unmaps the file.
func (s *Source) Close() error {
	return s.reader.Close()
}
