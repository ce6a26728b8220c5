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

// Package cache keeps recently fetched byte windows of a resource so that
// nearby reads are served without another round trip.
package cache

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/googlegenomics/trackreader/genomics"
	"github.com/googlegenomics/trackreader/sources"
)

// Options controls how much is fetched on a miss and how much is kept.
type Options struct {
	// Padding is added on both sides of every fetched window.
	Padding int64
	// MinFetch is the minimum number of bytes requested past the start.
	MinFetch int
	// MaxEntries is the number of windows kept before the oldest is evicted.
	MaxEntries int
}

// DefaultOptions are used for zero-valued fields of Options.
var DefaultOptions = Options{
	Padding:    1000,
	MinFetch:   0,
	MaxEntries: 5,
}

// Stats counts cache activity.
type Stats struct {
	Hits, Misses, Fetches, Evictions int64
}

type entry struct {
	start int64
	data  []byte
	eof   bool
	seq   uint64
}

func (e *entry) end() int64 {
	return e.start + int64(len(e.data))
}

// slice returns the requested bytes if the entry holds them.  An entry that
// reaches the end of the resource serves any request starting inside it.
func (e *entry) slice(start int64, length int) ([]byte, bool) {
	if start < e.start {
		return nil, false
	}
	if end := start + int64(length); end <= e.end() {
		return e.data[start-e.start : end-e.start], true
	}
	if e.eof && start <= e.end() {
		return e.data[start-e.start:], true
	}
	return nil, false
}

func lessEntry(a, b *entry) bool {
	if a.start != b.start {
		return a.start < b.start
	}
	return a.seq < b.seq
}

// call is a fetch in progress.  Waiters block on done and then read entry or
// err.
type call struct {
	start, end int64
	done       chan struct{}
	entry      *entry
	err        error
}

func (c *call) covers(start int64, length int) bool {
	return start >= c.start && start+int64(length) <= c.end
}

// Cache serves byte ranges from a Fetcher through a small set of windows.  It
// is safe for concurrent use.
type Cache struct {
	fetcher sources.Fetcher
	opts    Options

	mu       sync.Mutex
	entries  *btree.BTreeG[*entry]
	order    []*entry
	seq      uint64
	inflight []*call

	hits, misses, fetches, evictions atomic.Int64
}

// New returns a Cache in front of fetcher.
func New(fetcher sources.Fetcher, opts Options) *Cache {
	if opts.Padding < 0 {
		opts.Padding = 0
	}
	if opts.MinFetch < 0 {
		opts.MinFetch = 0
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultOptions.MaxEntries
	}
	return &Cache{
		fetcher: fetcher,
		opts:    opts,
		entries: btree.NewG[*entry](8, lessEntry),
	}
}

// Get returns length bytes starting at start.  The result is shorter than
// length only when the resource ends first.  The returned slice aliases the
// cache and must not be modified.
func (c *Cache) Get(ctx context.Context, start int64, length int) ([]byte, error) {
	if start < 0 {
		return nil, &genomics.InvalidArgumentError{Name: "start", Value: start, Reason: "must not be negative"}
	}
	if length < 0 {
		return nil, &genomics.InvalidArgumentError{Name: "length", Value: length, Reason: "must not be negative"}
	}

	for {
		c.mu.Lock()
		if data, ok := c.lookup(start, length); ok {
			c.mu.Unlock()
			c.hits.Add(1)
			return data, nil
		}
		if pending := c.pending(start, length); pending != nil {
			c.mu.Unlock()
			data, err := c.wait(ctx, pending, start, length)
			if err != nil && isContextError(err) && ctx.Err() == nil {
				// The fetch belonged to a caller that gave up; try again.
				continue
			}
			return data, err
		}
		c.misses.Add(1)
		pending := c.begin(start, length)
		c.mu.Unlock()

		c.fetch(ctx, pending)
		if pending.err != nil {
			return nil, pending.err
		}
		return sliceOrEmpty(pending.entry, start, length), nil
	}
}

// Fetch is Get, so that a Cache can stand in for the Fetcher it wraps.
func (c *Cache) Fetch(ctx context.Context, start int64, length int) ([]byte, error) {
	return c.Get(ctx, start, length)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Fetches:   c.fetches.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Len returns the number of windows held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// lookup must be called with mu held.
func (c *Cache) lookup(start int64, length int) (data []byte, found bool) {
	c.entries.DescendLessOrEqual(&entry{start: start, seq: math.MaxUint64}, func(e *entry) bool {
		data, found = e.slice(start, length)
		return !found
	})
	return data, found
}

// pending must be called with mu held.
func (c *Cache) pending(start int64, length int) *call {
	for _, pending := range c.inflight {
		if pending.covers(start, length) {
			return pending
		}
	}
	return nil
}

// begin registers a new fetch window and must be called with mu held.
func (c *Cache) begin(start int64, length int) *call {
	size := length
	if size < c.opts.MinFetch {
		size = c.opts.MinFetch
	}
	windowStart := start - c.opts.Padding
	if windowStart < 0 {
		windowStart = 0
	}
	pending := &call{
		start: windowStart,
		end:   start + int64(size) + c.opts.Padding,
		done:  make(chan struct{}),
	}
	c.inflight = append(c.inflight, pending)
	return pending
}

func (c *Cache) fetch(ctx context.Context, pending *call) {
	want := int(pending.end - pending.start)
	c.fetches.Add(1)
	data, err := c.fetcher.Fetch(ctx, pending.start, want)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(pending.done)

	for i, other := range c.inflight {
		if other == pending {
			c.inflight = append(c.inflight[:i], c.inflight[i+1:]...)
			break
		}
	}
	if err != nil {
		pending.err = err
		return
	}
	if data == nil {
		data = []byte{}
	}
	c.seq++
	e := &entry{start: pending.start, data: data, eof: len(data) < want, seq: c.seq}
	c.entries.ReplaceOrInsert(e)
	c.order = append(c.order, e)
	for len(c.order) > c.opts.MaxEntries {
		c.entries.Delete(c.order[0])
		c.order = c.order[1:]
		c.evictions.Add(1)
	}
	pending.entry = e
}

func (c *Cache) wait(ctx context.Context, pending *call, start int64, length int) ([]byte, error) {
	select {
	case <-pending.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if pending.err != nil {
		return nil, pending.err
	}
	c.hits.Add(1)
	return sliceOrEmpty(pending.entry, start, length), nil
}

// sliceOrEmpty serves a request from a freshly fetched window.  The window
// covers the request, so a miss here means the resource ended before start.
func sliceOrEmpty(e *entry, start int64, length int) []byte {
	if data, ok := e.slice(start, length); ok {
		return data
	}
	return []byte{}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
