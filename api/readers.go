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

package api

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/googlegenomics/trackreader/reader"
	"github.com/googlegenomics/trackreader/sources/location"
)

// openReader is a reader with the sources it owns.  The sources are closed
// once the reader has been evicted and no request uses it.
type openReader struct {
	reader  *reader.Reader
	sources []location.Source

	refs    int
	evicted bool
}

func (entry *openReader) closeSources() error {
	var errs []error
	for _, source := range entry.sources {
		errs = append(errs, source.Close())
	}
	return errors.Join(errs...)
}

// readerCache keeps up to max readers, evicting the oldest first.  Sources
// that fail to close outside of close are reported to log.
type readerCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*openReader
	order   []string
	log     logrus.FieldLogger
}

func newReaderCache(size int) *readerCache {
	if size <= 0 {
		size = 1
	}
	return &readerCache{
		max:     size,
		entries: make(map[string]*openReader),
		log:     logrus.StandardLogger(),
	}
}

func (c *readerCache) setLogger(log logrus.FieldLogger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = log
}

// acquire returns the reader cached under key, creating it with open if
// needed.  Each successful call must be paired with a call to release.
func (c *readerCache) acquire(key string, open func() (*openReader, error)) (*openReader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		var err error
		if entry, err = open(); err != nil {
			return nil, err
		}
		c.entries[key] = entry
		c.order = append(c.order, key)
		for len(c.order) > c.max {
			if err := c.evictLocked(c.order[0]); err != nil {
				c.log.WithError(err).Warn("Failed to close evicted reader")
			}
		}
	}
	entry.refs++
	return entry, nil
}

func (c *readerCache) release(entry *openReader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.refs--
	if entry.evicted && entry.refs == 0 {
		if err := entry.closeSources(); err != nil {
			c.log.WithError(err).Warn("Failed to close evicted reader")
		}
	}
}

func (c *readerCache) evictLocked(key string) error {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	entry := c.entries[key]
	delete(c.entries, key)
	entry.evicted = true
	if entry.refs == 0 {
		return entry.closeSources()
	}
	return nil
}

func (c *readerCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *readerCache) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for len(c.order) > 0 {
		errs = append(errs, c.evictLocked(c.order[0]))
	}
	return errors.Join(errs...)
}
