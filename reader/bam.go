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
	"github.com/googlegenomics/trackreader/internal/bam"
	"github.com/googlegenomics/trackreader/internal/bgzf"
	"github.com/googlegenomics/trackreader/internal/index"
	"github.com/googlegenomics/trackreader/internal/sam"
	"github.com/googlegenomics/trackreader/sources"
)

type bamDecoder struct {
	index  *index.Index
	header *bam.Header
	refs   []sam.Reference
}

func loadBAM(ctx context.Context, data, indexSource sources.Fetcher) (decoder, error) {
	idx, err := index.Read(sources.NewReader(ctx, indexSource, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	if idx.Format == "TBI" {
		return nil, genomics.NewFormatError("BAM", fmt.Errorf("%s index cannot index a BAM file", idx.Format))
	}
	header, err := bam.ReadHeader(sources.NewReader(ctx, data, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	refs, err := sam.References(header.Text)
	if err != nil {
		return nil, genomics.NewFormatError("SAM", err)
	}
	return &bamDecoder{index: idx, header: header, refs: refs}, nil
}

func (d *bamDecoder) names() []string {
	return d.header.Names()
}

func (d *bamDecoder) aliases() []aliasPair {
	var pairs []aliasPair
	for _, ref := range d.refs {
		for _, alias := range ref.Aliases {
			pairs = append(pairs, aliasPair{alias, ref.Name})
		}
	}
	return pairs
}

func (d *bamDecoder) reference(name string) (int, bool) {
	id, ok := d.header.ReferenceID(name)
	return int(id), ok
}

func (d *bamDecoder) chunks(_ context.Context, ref int, q Query) ([]bgzf.Chunk, bgzf.Address, error) {
	chunks, lowWater := d.index.Chunks(ref, q.Start, q.End)
	return chunks, lowWater, nil
}

func (d *bamDecoder) span(chunk bgzf.Chunk) (int64, int) {
	return bgzfSpan(chunk)
}

func (d *bamDecoder) decode(data []byte, base int64, chunk bgzf.Chunk, _ []bgzf.Chunk, ref int, chr string, q Query) ([]genomics.Feature, error) {
	records, err := bgzf.Slice(data, uint64(base), chunk)
	if err != nil {
		return nil, sliceError("BAM", err)
	}
	return bam.Decode(records, int32(ref), chr, q.Start, q.End)
}

func (d *bamDecoder) numeric() bool {
	return false
}
