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

// Package reader answers interval queries against indexed genomic files.  A
// Reader resolves the chromosome name, asks the file's index which chunks may
// hold overlapping records, merges them into a few byte ranges, fetches those
// through a small cache, decodes the records and optionally bins them.
package reader

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/googlegenomics/trackreader/alias"
	"github.com/googlegenomics/trackreader/genomics"
	"github.com/googlegenomics/trackreader/internal/bgzf"
	"github.com/googlegenomics/trackreader/internal/cache"
	"github.com/googlegenomics/trackreader/internal/summary"
	"github.com/googlegenomics/trackreader/sources"
)

// Options configures a Reader.
type Options struct {
	// Cache sizes the range cache in front of the data file.
	Cache cache.Options
	// Merge bounds how chunks are merged into fetch ranges.
	Merge bgzf.MergeOptions
	// Concurrency is the number of ranges fetched at once.
	Concurrency int
	// Resolver, if set, replaces the alias table built from the file's names.
	Resolver alias.Resolver
	// Aliases are extra alias to name mappings added to the alias table.
	Aliases map[string]string
	// Logger receives warnings about ranges that could not be read.
	Logger logrus.FieldLogger
}

// DefaultOptions returns the options used for zero-valued Options fields.
func DefaultOptions() Options {
	return Options{
		Cache:       cache.DefaultOptions,
		Merge:       bgzf.DefaultMergeOptions,
		Concurrency: 4,
		Logger:      logrus.StandardLogger(),
	}
}

func (opts Options) withDefaults() Options {
	defaults := DefaultOptions()
	if opts.Cache == (cache.Options{}) {
		opts.Cache = defaults.Cache
	}
	if opts.Merge == (bgzf.MergeOptions{}) {
		opts.Merge = defaults.Merge
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaults.Concurrency
	}
	if opts.Logger == nil {
		opts.Logger = defaults.Logger
	}
	return opts
}

// Query describes one request.
type Query struct {
	// Chr is the chromosome name as the caller knows it.
	Chr string
	// Start and End delimit the zero-based, half-open range to read.
	Start, End uint32
	// BinSize is the number of bases per output bin when Function is not
	// summary.None.
	BinSize float64
	// Function is the window function used to bin numeric features.
	Function summary.Func
}

// Reader reads features from one indexed file.  It owns the file's range
// cache and parsed index and is safe for concurrent use.
type Reader struct {
	format Format
	data   *cache.Cache
	index  sources.Fetcher
	opts   Options
	log    logrus.FieldLogger

	mu       sync.Mutex
	decoder  decoder
	resolver alias.Resolver
}

// New returns a Reader for a file in the given format whose bytes come from
// data.  index supplies the separate index file of BAM and tabix files and is
// ignored for bigWig.  Nothing is read until the first query.
func New(format Format, data, index sources.Fetcher, opts Options) (*Reader, error) {
	if _, ok := decoders[format]; !ok {
		return nil, &genomics.InvalidArgumentError{Name: "format", Value: format, Reason: "unsupported"}
	}
	if format.Indexed() && index == nil {
		return nil, &genomics.InvalidArgumentError{Name: "index", Value: nil, Reason: fmt.Sprintf("required for %s files", format)}
	}
	opts = opts.withDefaults()
	return &Reader{
		format: format,
		data:   cache.New(data, opts.Cache),
		index:  index,
		opts:   opts,
		log:    opts.Logger.WithField("format", format),
	}, nil
}

// load parses the index and header on first use.  A failed load is not
// remembered, so a later query retries it.
func (r *Reader) load(ctx context.Context) (decoder, alias.Resolver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decoder != nil {
		return r.decoder, r.resolver, nil
	}

	d, err := decoders[r.format](ctx, r.data, r.index)
	if err != nil {
		return nil, nil, fmt.Errorf("loading %s index: %w", r.format, err)
	}

	resolver := r.opts.Resolver
	if resolver == nil {
		table := alias.NewTable(d.names())
		extras := d.aliases()
		for from, to := range r.opts.Aliases {
			extras = append(extras, aliasPair{from, to})
		}
		for _, extra := range extras {
			if err := table.Add(extra.alias, extra.name); err != nil {
				r.log.WithError(err).WithField("alias", extra.alias).Debug("Ignoring alias")
			}
		}
		resolver = table
	}
	r.decoder, r.resolver = d, resolver
	return d, resolver, nil
}

// References returns the names of the file's reference sequences.
func (r *Reader) References(ctx context.Context) ([]string, error) {
	d, _, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return d.names(), nil
}

// Stats returns the counters of the Reader's range cache.
func (r *Reader) Stats() cache.Stats {
	return r.data.Stats()
}

// ReadFeatures returns the features on chr overlapping [start, end), ordered
// by start.
func (r *Reader) ReadFeatures(ctx context.Context, chr string, start, end uint32) ([]genomics.Feature, error) {
	return r.Query(ctx, Query{Chr: chr, Start: start, End: end})
}

// Query returns the features matching q, ordered by start.  A chromosome the
// file does not have yields no features.  Ranges that cannot be fetched or
// decoded are logged and skipped; a corrupt index fails the whole query.
func (r *Reader) Query(ctx context.Context, q Query) ([]genomics.Feature, error) {
	if q.End <= q.Start {
		return nil, &genomics.InvalidArgumentError{Name: "end", Value: q.End, Reason: fmt.Sprintf("must be greater than start (%d)", q.Start)}
	}
	d, resolver, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	name, ok := resolver.Resolve(q.Chr)
	if !ok {
		return nil, nil
	}
	ref, ok := d.reference(name)
	if !ok {
		return nil, nil
	}

	chunks, lowWater, err := d.chunks(ctx, ref, q)
	if err != nil {
		return nil, fmt.Errorf("reading index for %s: %w", name, err)
	}
	merged := bgzf.Coalesce(chunks, lowWater, r.opts.Merge)
	members := assign(merged, chunks)
	log := r.log.WithFields(logrus.Fields{"chr": name, "start": q.Start, "end": q.End})
	log.WithFields(logrus.Fields{"chunks": len(chunks), "ranges": len(merged)}).Debug("Reading ranges")

	results := make([][]genomics.Feature, len(merged))
	g := new(errgroup.Group)
	g.SetLimit(r.opts.Concurrency)
	for i, chunk := range merged {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start, length := d.span(chunk)
			log := log.WithFields(logrus.Fields{"chunk": chunk, "offset": start, "length": length})
			data, err := r.data.Get(ctx, start, length)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.WithError(err).Warn("Skipping range that could not be fetched")
				return nil
			}
			if len(data) == 0 {
				return nil
			}
			features, err := d.decode(data, start, chunk, members[i], ref, name, q)
			if err != nil {
				log.WithError(err).Warn("Skipping range that could not be decoded")
				return nil
			}
			results[i] = features
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var features []genomics.Feature
	for _, result := range results {
		features = append(features, result...)
	}
	sort.SliceStable(features, func(i, j int) bool {
		return features[i].Start < features[j].Start
	})

	if d.numeric() && q.Function != summary.None {
		return summary.Summarize(features, q.Start, q.BinSize, q.Function)
	}
	return features, nil
}

// assign returns, for each merged chunk, the input chunks starting within it
// in order of their start.  Repeated chunks are assigned once.  Chunks
// dropped by the low water mark belong to no merged chunk.
func assign(merged, chunks []bgzf.Chunk) [][]bgzf.Chunk {
	sorted := append([]bgzf.Chunk(nil), chunks...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})
	members := make([][]bgzf.Chunk, len(merged))
	for j, chunk := range sorted {
		if j > 0 && sorted[j-1] == chunk {
			continue
		}
		for i := range merged {
			if merged[i].Start <= chunk.Start && chunk.Start < merged[i].End {
				members[i] = append(members[i], chunk)
				break
			}
		}
	}
	return members
}
