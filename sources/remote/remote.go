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

// Package remote provides a sources.Fetcher that reads byte ranges over HTTP.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/googlegenomics/trackreader/sources"
)

// Source issues HTTP Range requests against a single URL.
type Source struct {
	url     string
	client  *http.Client
	headers http.Header
}

// Option configures a Source.
type Option func(*Source)

// WithClient makes the Source use client instead of http.DefaultClient.
func WithClient(client *http.Client) Option {
	return func(s *Source) { s.client = client }
}

// WithTokenSource authorizes every request with tokens from ts.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(s *Source) {
		base := s.client
		if base == nil {
			base = http.DefaultClient
		}
		s.client = &http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: base.Transport},
			Timeout:   base.Timeout,
		}
	}
}

// WithHeader adds a header to every request.
func WithHeader(name, value string) Option {
	return func(s *Source) { s.headers.Add(name, value) }
}

// New returns a Source for url.
func New(url string, opts ...Option) *Source {
	s := &Source{url: url, client: http.DefaultClient, headers: make(http.Header)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch requests bytes [start, start+length) from the server.
func (s *Source) Fetch(ctx context.Context, start int64, length int) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	req, err := http.NewRequest(http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req = req.WithContext(ctx)
	for name, values := range s.headers {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	req.Header.Set("Range", fmtRange(start, length))

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &sources.NetworkError{Op: fmt.Sprintf("fetching %s", s.url), Err: err}
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return nil, nil
	case resp.StatusCode >= 400:
		return nil, &sources.HTTPStatusError{Code: resp.StatusCode, Status: resp.Status}
	case resp.StatusCode == http.StatusOK:
		// The server ignored the Range header and is sending everything.
		if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, &sources.NetworkError{Op: "skipping to range start", Err: err}
		}
	}

	data, err := io.ReadAll(io.LimitReader(body, int64(length)))
	if err != nil {
		return nil, &sources.NetworkError{Op: fmt.Sprintf("reading %s", s.url), Err: err}
	}
	return data, nil
}

func fmtRange(start int64, length int) string {
	return fmt.Sprintf("bytes=%d-%d", start, start+int64(length)-1)
}
