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
	"github.com/googlegenomics/trackreader/internal/bigwig"
	"github.com/googlegenomics/trackreader/sources"
)

type bigwigDecoder struct {
	file *bigwig.File
	data sources.Fetcher
}

func loadBigWig(ctx context.Context, data, _ sources.Fetcher) (decoder, error) {
	file, err := bigwig.Open(sources.NewReaderAt(ctx, data))
	if err != nil {
		return nil, err
	}
	return &bigwigDecoder{file: file, data: data}, nil
}

func (d *bigwigDecoder) names() []string {
	entries := d.file.Chromosomes.Entries()
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name
	}
	return names
}

func (d *bigwigDecoder) aliases() []aliasPair {
	return nil
}

func (d *bigwigDecoder) reference(name string) (int, bool) {
	entry, ok := d.file.Chromosomes.Lookup(name)
	return int(entry.ID), ok
}

func (d *bigwigDecoder) chunks(ctx context.Context, ref int, q Query) ([]bgzf.Chunk, bgzf.Address, error) {
	level := d.file.Level(q.BinSize, q.Function)
	blocks, err := d.file.Blocks(sources.NewReaderAt(ctx, d.data), level, uint32(ref), q.Start, q.End)
	return blocks, 0, err
}

// span covers the blocks of a merged chunk exactly; bigWig blocks are
// addressed by their file offsets alone.
func (d *bigwigDecoder) span(chunk bgzf.Chunk) (int64, int) {
	start := chunk.Start.BlockOffset()
	return int64(start), int(chunk.End.BlockOffset() - start)
}

func (d *bigwigDecoder) decode(data []byte, base int64, _ bgzf.Chunk, members []bgzf.Chunk, ref int, chr string, q Query) ([]genomics.Feature, error) {
	level := d.file.Level(q.BinSize, q.Function)
	var features []genomics.Feature
	for _, member := range members {
		start := int64(member.Start.BlockOffset()) - base
		end := int64(member.End.BlockOffset()) - base
		if start < 0 || end > int64(len(data)) {
			return nil, genomics.NewFormatError("bigWig", fmt.Errorf("block %v lies outside fetched range", member))
		}
		decoded, err := d.file.Decode(data[start:end], level, chr, uint32(ref), q.Start, q.End, q.Function)
		if err != nil {
			return nil, err
		}
		features = append(features, decoded...)
	}
	return features, nil
}

func (d *bigwigDecoder) numeric() bool {
	return true
}
