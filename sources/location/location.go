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

// Package location opens a sources.Fetcher for a file location: a gs:// URL,
// an http(s):// URL or a local path.
package location

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"

	"github.com/googlegenomics/trackreader/sources"
	"github.com/googlegenomics/trackreader/sources/file"
	"github.com/googlegenomics/trackreader/sources/gcs"
	"github.com/googlegenomics/trackreader/sources/remote"
)

// Source is a Fetcher that holds resources until closed.
type Source interface {
	sources.Fetcher
	Close() error
}

// Options configures how locations are opened.
type Options struct {
	// Storage is used for gs:// locations.  A nil Storage selects the
	// application default client.
	Storage gcs.Client
	// HTTPClient is used for http(s):// locations.
	HTTPClient *http.Client
	// TokenSource, if set, authorizes http(s):// requests.
	TokenSource oauth2.TokenSource
	// Directory, if set, is the only directory local paths may be read from.
	Directory string
}

type nopCloser struct {
	sources.Fetcher
}

func (nopCloser) Close() error { return nil }

// Open returns a Source for location.
func Open(ctx context.Context, location string, opts Options) (Source, error) {
	switch {
	case strings.HasPrefix(location, "gs://"):
		bucket, object, err := gcs.ParseURL(location)
		if err != nil {
			return nil, err
		}
		client := opts.Storage
		if client == nil {
			if client, err = gcs.NewDefaultClient(ctx); err != nil {
				return nil, err
			}
		}
		return nopCloser{gcs.New(client, bucket, object)}, nil

	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		if _, err := url.Parse(location); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", location, err)
		}
		var options []remote.Option
		if opts.HTTPClient != nil {
			options = append(options, remote.WithClient(opts.HTTPClient))
		}
		if opts.TokenSource != nil {
			options = append(options, remote.WithTokenSource(opts.TokenSource))
		}
		return nopCloser{remote.New(location, options...)}, nil
	}

	path := strings.TrimPrefix(location, "file://")
	if opts.Directory != "" {
		resolved, err := Resolve(opts.Directory, path)
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	source, err := file.Open(path)
	if err != nil {
		return nil, err
	}
	return source, nil
}

// Resolve joins path onto directory and rejects paths that escape it.
func Resolve(directory, path string) (string, error) {
	joined := filepath.Join(directory, filepath.FromSlash(path))
	rel, err := filepath.Rel(directory, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q is outside %q", path, directory)
	}
	return joined, nil
}
