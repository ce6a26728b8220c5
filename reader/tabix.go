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

package reader

import (
	"context"
	"fmt"

	"github.com/googlegenomics/trackreader/genomics"
	"github.com/googlegenomics/trackreader/internal/bgzf"
	"github.com/googlegenomics/trackreader/internal/index"
	"github.com/googlegenomics/trackreader/internal/tabix"
	"github.com/googlegenomics/trackreader/sources"
)

type tabixDecoder struct {
	index *index.Index
	ids   map[string]int
}

func loadTabix(ctx context.Context, _, indexSource sources.Fetcher) (decoder, error) {
	idx, err := index.Read(sources.NewReader(ctx, indexSource, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	if idx.Tabix == nil {
		return nil, genomics.NewFormatError("tabix", fmt.Errorf("%s index has no tabix header", idx.Format))
	}
	return &tabixDecoder{index: idx, ids: referenceMap(idx.Tabix.Names)}, nil
}

func (d *tabixDecoder) names() []string {
	return d.index.Tabix.Names
}

func (d *tabixDecoder) aliases() []aliasPair {
	return nil
}

func (d *tabixDecoder) reference(name string) (int, bool) {
	id, ok := d.ids[name]
	return id, ok
}

func (d *tabixDecoder) chunks(_ context.Context, ref int, q Query) ([]bgzf.Chunk, bgzf.Address, error) {
	chunks, lowWater := d.index.Chunks(ref, q.Start, q.End)
	return chunks, lowWater, nil
}

func (d *tabixDecoder) span(chunk bgzf.Chunk) (int64, int) {
	return bgzfSpan(chunk)
}

func (d *tabixDecoder) decode(data []byte, base int64, chunk bgzf.Chunk, _ []bgzf.Chunk, _ int, chr string, q Query) ([]genomics.Feature, error) {
	lines, err := bgzf.Slice(data, uint64(base), chunk)
	if err != nil {
		return nil, sliceError("tabix", err)
	}
	return tabix.Decode(lines, d.index.Tabix, chr, q.Start, q.End)
}

// numeric reports whether records can be summarized.  Only the generic
// preset holds non-overlapping signal tracks; VCF and SAM records overlap.
func (d *tabixDecoder) numeric() bool {
	return d.index.Tabix.Format&0xffff == 0
}
