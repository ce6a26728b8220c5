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

// Package gcs provides a sources.Fetcher for objects in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/googlegenomics/trackreader/sources"
)

// Client is an interface to the storage engine.
type Client interface {
	// NewObjectHandle returns a handle to a specified object in the storage
	// engine.
	NewObjectHandle(bucket, object string) ObjectHandle
}

// ObjectHandle is an interface to the actual storage engine in use.
type ObjectHandle interface {
	// NewRangeReader returns a reader that reads from a specified range.
	// Length of -1 means to capture everything until the end.
	NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error)
}

// StorageClient is a Client for accessing Google Cloud Storage.
type StorageClient struct {
	*storage.Client
}

// NewObjectHandle returns a handle to a specified object in the storage
// engine.
func (c StorageClient) NewObjectHandle(bucket, object string) ObjectHandle {
	return storageObjectHandle{c.Bucket(bucket).Object(object)}
}

type storageObjectHandle struct {
	*storage.ObjectHandle
}

func (h storageObjectHandle) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	return h.ObjectHandle.NewRangeReader(ctx, offset, length)
}

var (
	defaultClientsMu sync.Mutex
	defaultClients   = map[string]*storage.Client{}
)

// cachedClient creates a client once per key and shares it afterwards.
func cachedClient(ctx context.Context, key string, opts ...option.ClientOption) (Client, error) {
	defaultClientsMu.Lock()
	defer defaultClientsMu.Unlock()

	if client, ok := defaultClients[key]; ok {
		return StorageClient{client}, nil
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	defaultClients[key] = client
	return StorageClient{client}, nil
}

// NewDefaultClient returns a storage client that uses the application default
// credentials.  The underlying client is shared between callers.
func NewDefaultClient(ctx context.Context) (Client, error) {
	return cachedClient(ctx, "default")
}

// NewPublicClient returns a storage client that does not use any form of
// client authorization.  It can only be used to read publicly-readable
// objects.
func NewPublicClient(ctx context.Context) (Client, error) {
	return cachedClient(ctx, "public", option.WithoutAuthentication())
}

// ErrMissingOrInvalidToken is returned when an Authorization header does not
// carry a bearer token.
var ErrMissingOrInvalidToken = errors.New("missing or invalid bearer token")

// NewClientFromAuthorization constructs a storage client that uses the OAuth2
// bearer token in an Authorization header value to make storage requests.
func NewClientFromAuthorization(ctx context.Context, authorization string) (Client, error) {
	fields := strings.Split(authorization, " ")
	if len(fields) != 2 || fields[0] != "Bearer" {
		return nil, ErrMissingOrInvalidToken
	}
	token := oauth2.Token{
		TokenType:   fields[0],
		AccessToken: fields[1],
	}
	client, err := storage.NewClient(ctx, option.WithTokenSource(oauth2.StaticTokenSource(&token)))
	if err != nil {
		return nil, fmt.Errorf("creating client with token source: %w", err)
	}
	return StorageClient{client}, nil
}

// ParseURL splits a gs://bucket/object location.
func ParseURL(location string) (bucket, object string, err error) {
	rest := strings.TrimPrefix(location, "gs://")
	if rest == location {
		return "", "", fmt.Errorf("%q is not a gs:// URL", location)
	}
	fields := strings.SplitN(rest, "/", 2)
	if len(fields) != 2 || fields[0] == "" || fields[1] == "" {
		return "", "", fmt.Errorf("%q does not name a bucket and object", location)
	}
	return fields[0], fields[1], nil
}

// Source reads byte ranges from a single object.
type Source struct {
	handle ObjectHandle
	name   string
}

// New returns a Source that reads object from bucket using client.
func New(client Client, bucket, object string) *Source {
	return &Source{
		handle: client.NewObjectHandle(bucket, object),
		name:   fmt.Sprintf("gs://%s/%s", bucket, object),
	}
}

// Fetch reads bytes [start, start+length) from the object.
func (s *Source) Fetch(ctx context.Context, start int64, length int) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	r, err := s.handle.NewRangeReader(ctx, start, int64(length))
	if err != nil {
		return nil, s.storageError("opening range", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, s.storageError("reading range", err)
	}
	if len(data) > length {
		data = data[:length]
	}
	return data, nil
}

// storageError maps storage failures onto the errors shared by all sources.
// An unsatisfiable range is reported as a nil error so Fetch returns an empty
// result.
func (s *Source) storageError(op string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return &sources.HTTPStatusError{Code: http.StatusNotFound}
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusRequestedRangeNotSatisfiable {
			return nil
		}
		return &sources.HTTPStatusError{Code: apiErr.Code}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &sources.NetworkError{Op: fmt.Sprintf("%s of %s", op, s.name), Err: err}
}
