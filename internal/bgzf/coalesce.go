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

package bgzf

import "sort"

// MergeOptions bounds how aggressively Coalesce joins chunks.  Merging trades
// extra (unwanted) bytes per fetch for fewer round trips.
type MergeOptions struct {
	// MaxGap is the largest distance, in compressed bytes, between the end of
	// one chunk's last block and the next chunk's first block that may be
	// bridged by a merge.  Gaps must be strictly smaller.
	MaxGap uint64
	// MaxSpan stops a merged chunk from growing once the distance between its
	// first and last block reaches this many bytes.
	MaxSpan uint64
}

// DefaultMergeOptions are tuned for typical compressed block sizes.
var DefaultMergeOptions = MergeOptions{
	MaxGap:  65000,
	MaxSpan: 5000000,
}

func (opts MergeOptions) canMerge(running, candidate Chunk) bool {
	var gap uint64
	if head, tail := candidate.Start.BlockOffset(), running.End.BlockOffset(); head > tail {
		gap = head - tail
	}
	span := running.End.BlockOffset() - running.Start.BlockOffset()
	return gap < opts.MaxGap && span < opts.MaxSpan
}

// Coalesce returns the chunks in input sorted by start address and joined
// into as few chunks as opts allows.  If lowWater is non-zero, chunks that
// end at or before it are discarded first.  Every returned chunk describes a
// single physical read, and the returned chunks are pairwise disjoint.  The
// input slice is not modified.
func Coalesce(input []Chunk, lowWater Address, opts MergeOptions) []Chunk {
	chunks := make([]Chunk, 0, len(input))
	for _, chunk := range input {
		if lowWater > 0 && chunk.End <= lowWater {
			continue
		}
		chunks = append(chunks, chunk)
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Start < chunks[j].Start
	})

	var merged []Chunk
	for _, chunk := range chunks {
		n := len(merged)
		if n == 0 {
			merged = append(merged, chunk)
			continue
		}
		running := &merged[n-1]
		if opts.canMerge(*running, chunk) {
			if running.End < chunk.End {
				running.End = chunk.End
			}
			continue
		}
		// A chunk refused because the running chunk is already too long may
		// still overlap it; only its part past the running chunk is kept.
		if chunk.Start < running.End {
			if chunk.End <= running.End {
				continue
			}
			chunk.Start = running.End
		}
		merged = append(merged, chunk)
	}
	return merged
}

// Contains reports whether inner lies entirely within the chunk.
func (v Chunk) Contains(inner Chunk) bool {
	return v.Start <= inner.Start && inner.End <= v.End
}
