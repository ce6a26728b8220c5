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

// Package api implements an HTTP service that returns the features of indexed
// genomic files.
//
// Files are named by the path following /features/ or /references/.  When the
// server has a directory the path is relative to it; otherwise the path is a
// Google Cloud Storage bucket and object.
package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/googlegenomics/trackreader/genomics"
	"github.com/googlegenomics/trackreader/internal/config"
	"github.com/googlegenomics/trackreader/internal/summary"
	"github.com/googlegenomics/trackreader/reader"
	"github.com/googlegenomics/trackreader/sources"
	"github.com/googlegenomics/trackreader/sources/gcs"
)

const (
	featuresPath   = "/features"
	referencesPath = "/references"

	requestIDHeader = "X-Request-Id"
	requestIDKey    = "requestID"
)

var (
	errInvalidOrUnspecifiedID = errors.New("invalid or unspecified ID")
	errMissingReferenceName   = errors.New("no reference name specified")
)

// Server provides the feature service.  Must be created with NewServer.
type Server struct {
	open      Opener
	cfg       config.Config
	log       logrus.FieldLogger
	whitelist map[string]bool
	readers   *readerCache
}

// NewServer returns a new Server that opens files with open and reads them
// as configured by cfg.  Opened files are kept for later requests.
func NewServer(open Opener, cfg config.Config) *Server {
	server := &Server{
		open:      open,
		cfg:       cfg,
		log:       logrus.StandardLogger(),
		whitelist: make(map[string]bool),
		readers:   newReaderCache(cfg.Server.MaxReaders),
	}
	server.Whitelist(cfg.Server.Buckets)
	return server
}

// Whitelist adds buckets to the set of buckets which the server is allowed to
// access.  If the set is empty then reads from any bucket are allowed.
func (server *Server) Whitelist(buckets []string) {
	for _, bucket := range buckets {
		if bucket = strings.TrimSpace(bucket); bucket != "" {
			server.whitelist[bucket] = true
		}
	}
}

// SetLogger replaces the logger used for requests and readers.
func (server *Server) SetLogger(log logrus.FieldLogger) {
	server.log = log
	server.readers.setLogger(log)
}

// Register adds the service endpoints to router.
func (server *Server) Register(router gin.IRouter) {
	group := router.Group("", server.logRequests, forwardOrigin)
	group.GET(featuresPath+"/*id", server.serveFeatures)
	group.GET(referencesPath+"/*id", server.serveReferences)
}

// Close releases the files held for later requests.
func (server *Server) Close() error {
	return server.readers.close()
}

type featureJSON struct {
	Chr   string  `json:"chr"`
	Start uint32  `json:"start"`
	End   uint32  `json:"end"`
	Value float64 `json:"value"`
	Name  string  `json:"name,omitempty"`
}

func (server *Server) serveFeatures(c *gin.Context) {
	query, err := parseQuery(c)
	if err != nil {
		server.writeError(c, err)
		return
	}

	r, release, err := server.reader(c)
	if err != nil {
		server.writeError(c, err)
		return
	}
	defer release()

	features, err := r.Query(c.Request.Context(), query)
	if err != nil {
		server.writeError(c, classify("reading features", err))
		return
	}

	out := make([]featureJSON, len(features))
	for i, f := range features {
		out[i] = featureJSON{f.Chr, f.Start, f.End, f.Value, f.Name}
	}
	c.JSON(http.StatusOK, gin.H{"features": out})
}

func (server *Server) serveReferences(c *gin.Context) {
	r, release, err := server.reader(c)
	if err != nil {
		server.writeError(c, err)
		return
	}
	defer release()

	names, err := r.References(c.Request.Context())
	if err != nil {
		server.writeError(c, classify("reading references", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"references": names})
}

// reader returns the reader for the file named in the request, opening it if
// no earlier request did.  release must be called once the reader is no
// longer used.
func (server *Server) reader(c *gin.Context) (*reader.Reader, func(), error) {
	data, err := server.location(c.Param("id"))
	if err != nil {
		return nil, nil, err
	}

	var format reader.Format
	if name := c.Query("format"); name != "" {
		format, err = reader.ParseFormat(name)
	} else {
		format, err = reader.DetectFormat(data)
	}
	if err != nil {
		return nil, nil, newUnsupportedFormatError(err)
	}

	var index string
	if format.Indexed() {
		index = reader.IndexLocation(data, format)
		if id := c.Query("index"); id != "" {
			if index, err = server.location(id); err != nil {
				return nil, nil, err
			}
		}
	}

	req := c.Request
	key := strings.Join([]string{string(format), data, index, req.Header.Get("Authorization")}, "\x00")
	entry, err := server.readers.acquire(key, func() (*openReader, error) {
		return server.openReader(req, format, data, index, c.GetString(requestIDKey))
	})
	if err != nil {
		return nil, nil, err
	}
	return entry.reader, func() { server.readers.release(entry) }, nil
}

func (server *Server) openReader(req *http.Request, format reader.Format, data, index, requestID string) (*openReader, error) {
	entry := &openReader{}
	source, err := server.open(req, data)
	if err != nil {
		return nil, classify("opening data", err)
	}
	entry.sources = append(entry.sources, source)

	var indexSource sources.Fetcher
	if index != "" {
		source, err := server.open(req, index)
		if err != nil {
			entry.closeSources()
			return nil, classify("opening index", err)
		}
		entry.sources = append(entry.sources, source)
		indexSource = source
	}

	log := server.log.WithFields(logrus.Fields{"location": data, "opened_by": requestID})
	entry.reader, err = reader.New(format, entry.sources[0], indexSource, server.cfg.ReaderOptions(log))
	if err != nil {
		entry.closeSources()
		return nil, newUnsupportedFormatError(err)
	}
	return entry, nil
}

// location maps a file ID onto the location it is read from.
func (server *Server) location(id string) (string, error) {
	id = strings.TrimPrefix(id, "/")
	if id == "" {
		return "", newInvalidInputError("parsing ID", errInvalidOrUnspecifiedID)
	}
	if server.cfg.Server.Directory != "" {
		if strings.Contains(id, "://") {
			return "", newInvalidInputError("parsing ID", errInvalidOrUnspecifiedID)
		}
		return id, nil
	}

	bucket, object, err := parseID(id)
	if err != nil {
		return "", newInvalidInputError("parsing ID", err)
	}
	if err := server.checkWhitelist(bucket); err != nil {
		return "", newPermissionDeniedError("checking whitelist", err)
	}
	return fmt.Sprintf("gs://%s/%s", bucket, object), nil
}

func (server *Server) checkWhitelist(bucket string) error {
	if len(server.whitelist) == 0 || server.whitelist[bucket] {
		return nil
	}
	return fmt.Errorf("access to bucket %s is not allowed", bucket)
}

// parseID parses path and returns a GCS bucket and object, or an error.
func parseID(path string) (string, string, error) {
	if parts := strings.SplitN(path, "/", 2); len(parts) == 2 {
		if parts[0] != "" && parts[1] != "" {
			return parts[0], parts[1], nil
		}
	}
	return "", "", errInvalidOrUnspecifiedID
}

func parseQuery(c *gin.Context) (reader.Query, error) {
	var (
		name   = c.Query("referenceName")
		start  = c.Query("start")
		end    = c.Query("end")
		bin    = c.Query("binSize")
		window = c.Query("windowFunction")
	)
	if name == "" {
		return reader.Query{}, newInvalidInputError("parsing region", errMissingReferenceName)
	}
	query := reader.Query{Chr: name, End: math.MaxUint32}

	if start != "" {
		n, err := strconv.ParseUint(start, 10, 32)
		if err != nil {
			return reader.Query{}, newInvalidInputError("parsing start", err)
		}
		query.Start = uint32(n)
	}
	if end != "" {
		n, err := strconv.ParseUint(end, 10, 32)
		if err != nil {
			return reader.Query{}, newInvalidInputError("parsing end", err)
		}
		query.End = uint32(n)
	}
	if query.End <= query.Start {
		return reader.Query{}, newInvalidRangeError(fmt.Errorf("%s:%d-%d: start >= end", name, query.Start, query.End))
	}

	if bin != "" {
		size, err := strconv.ParseFloat(bin, 64)
		if err != nil || size < 0 || math.IsNaN(size) || math.IsInf(size, 0) {
			return reader.Query{}, newInvalidInputError("parsing binSize", fmt.Errorf("invalid bin size %q", bin))
		}
		query.BinSize = size
	}
	fn, err := summary.ParseFunc(window)
	if err != nil {
		return reader.Query{}, newInvalidInputError("parsing windowFunction", err)
	}
	if fn != summary.None && query.BinSize == 0 {
		return reader.Query{}, newInvalidInputError("parsing windowFunction", errors.New("binSize is required"))
	}
	query.Function = fn
	return query, nil
}

// apiError is used to capture errors that have been defined in the API.
type apiError struct {
	name  string
	code  int
	cause error
}

func (err *apiError) Error() string {
	return fmt.Sprintf("%s (%d): %v", err.name, err.code, err.cause)
}

func (err *apiError) Unwrap() error {
	return err.cause
}

func newAPIError(name string, code int, context string, err error) error {
	return &apiError{name, code, fmt.Errorf("%s: %w", context, err)}
}

func newInvalidAuthenticationError(context string, err error) error {
	return newAPIError("InvalidAuthentication", http.StatusUnauthorized, context, err)
}

func newInvalidInputError(context string, err error) error {
	return newAPIError("InvalidInput", http.StatusBadRequest, context, err)
}

func newInvalidRangeError(err error) error {
	return &apiError{"InvalidRange", http.StatusBadRequest, err}
}

func newPermissionDeniedError(context string, err error) error {
	return newAPIError("PermissionDenied", http.StatusForbidden, context, err)
}

func newUnsupportedFormatError(err error) error {
	return &apiError{"UnsupportedFormat", http.StatusBadRequest, err}
}

func newNotFoundError(context string, err error) error {
	return newAPIError("NotFound", http.StatusNotFound, context, err)
}

func newFormatError(context string, err error) error {
	return newAPIError("FormatError", http.StatusUnprocessableEntity, context, err)
}

func newUnavailableError(context string, err error) error {
	return newAPIError("Unavailable", http.StatusBadGateway, context, err)
}

// classify maps errors from sources and readers onto API errors.  Errors it
// does not recognise are returned unchanged.
func classify(context string, err error) error {
	var (
		api     *apiError
		invalid *genomics.InvalidArgumentError
		format  *genomics.FormatError
		status  *sources.HTTPStatusError
		network *sources.NetworkError
	)
	switch {
	case errors.As(err, &api):
		return err
	case errors.Is(err, gcs.ErrMissingOrInvalidToken):
		return newPermissionDeniedError(context, err)
	case errors.As(err, &invalid):
		return newInvalidInputError(context, err)
	case errors.Is(err, os.ErrNotExist):
		return newNotFoundError(context, err)
	case errors.As(err, &status):
		switch status.Code {
		case http.StatusNotFound:
			return newNotFoundError(context, err)
		case http.StatusUnauthorized:
			return newInvalidAuthenticationError(context, err)
		case http.StatusForbidden:
			return newPermissionDeniedError(context, err)
		}
		return newUnavailableError(context, err)
	case errors.As(err, &network):
		return newUnavailableError(context, err)
	case errors.As(err, &format):
		return newFormatError(context, err)
	}
	return err
}

// writeError writes either a JSON object or bare HTTP error describing err.
// A JSON object is written only when the error has a name and code defined
// by the API.
func (server *Server) writeError(c *gin.Context, err error) {
	log := server.log.WithField("request_id", c.GetString(requestIDKey))
	var api *apiError
	if errors.As(err, &api) {
		log.WithError(err).Info("Request failed")
		c.JSON(api.code, gin.H{
			"error":   api.name,
			"message": fmt.Sprintf("%s: %v", http.StatusText(api.code), api.cause),
		})
		return
	}

	log.WithError(err).Error("Request failed")
	code := http.StatusInternalServerError
	c.String(code, "%s: %v", http.StatusText(code), err)
}

// logRequests tags each request with an ID and logs it once handled.
func (server *Server) logRequests(c *gin.Context) {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.New().String()
	}
	c.Set(requestIDKey, id)
	c.Header(requestIDHeader, id)

	start := time.Now()
	c.Next()
	server.log.WithFields(logrus.Fields{
		"request_id": id,
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"status":     c.Writer.Status(),
		"latency":    time.Since(start),
	}).Info("Handled request")
}

func forwardOrigin(c *gin.Context) {
	if origin := c.GetHeader("Origin"); origin != "" {
		c.Header("Access-Control-Allow-Origin", origin)
	}
	c.Next()
}
