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
	"net/url"
	"path"
	"strings"

	"github.com/googlegenomics/trackreader/genomics"
	"github.com/googlegenomics/trackreader/internal/bgzf"
	"github.com/googlegenomics/trackreader/sources"
)

// Format is a supported file format.
type Format string

// Supported formats.
const (
	BAM    Format = "BAM"
	Tabix  Format = "tabix"
	BigWig Format = "bigWig"
)

// Indexed reports whether files of the format come with a separate index.
func (f Format) Indexed() bool {
	return f == BAM || f == Tabix
}

// ParseFormat returns the format called name, ignoring case.
func ParseFormat(name string) (Format, error) {
	for _, format := range []Format{BAM, Tabix, BigWig} {
		if strings.EqualFold(name, string(format)) {
			return format, nil
		}
	}
	return "", &genomics.InvalidArgumentError{Name: "format", Value: name, Reason: "must be one of BAM, tabix or bigWig"}
}

// DetectFormat guesses the format of the file at location from its
// extension.
func DetectFormat(location string) (Format, error) {
	name := location
	if u, err := url.Parse(location); err == nil && u.Scheme != "" {
		name = u.Path
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".bam":
		return BAM, nil
	case ".bw", ".bigwig":
		return BigWig, nil
	case ".gz", ".bgz":
		return Tabix, nil
	}
	return "", &genomics.InvalidArgumentError{Name: "location", Value: location, Reason: "unknown file extension"}
}

// IndexLocation returns the conventional location of the index for the file
// at location, or "" when the format has no separate index.
func IndexLocation(location string, format Format) string {
	suffix := ""
	switch format {
	case BAM:
		suffix = ".bai"
	case Tabix:
		suffix = ".tbi"
	default:
		return ""
	}
	if u, err := url.Parse(location); err == nil && u.Scheme != "" && u.RawQuery != "" {
		u.Path += suffix
		return u.String()
	}
	return location + suffix
}

type aliasPair struct {
	alias, name string
}

// decoder holds a file's parsed index and header and decodes its records.
type decoder interface {
	// names returns the reference names, by reference ID.
	names() []string
	// aliases returns alternative names the file declares itself.
	aliases() []aliasPair
	// reference returns the ID of the named reference.
	reference(name string) (int, bool)
	// chunks returns the candidate chunks for q on reference ref and the low
	// water mark below which no record can overlap q.
	chunks(ctx context.Context, ref int, q Query) ([]bgzf.Chunk, bgzf.Address, error)
	// span returns the byte range to fetch for a merged chunk.
	span(chunk bgzf.Chunk) (int64, int)
	// decode decodes the records in data, fetched from offset base for the
	// merged chunk, whose original chunks are members.
	decode(data []byte, base int64, chunk bgzf.Chunk, members []bgzf.Chunk, ref int, chr string, q Query) ([]genomics.Feature, error)
	// numeric reports whether features can be binned.
	numeric() bool
}

type loader func(ctx context.Context, data, index sources.Fetcher) (decoder, error)

var decoders = map[Format]loader{
	BAM:    loadBAM,
	Tabix:  loadTabix,
	BigWig: loadBigWig,
}

// bgzfSpan covers every block from the chunk's first to its last.
func bgzfSpan(chunk bgzf.Chunk) (int64, int) {
	start := chunk.Start.BlockOffset()
	return int64(start), int(chunk.End.BlockOffset()-start) + bgzf.MaximumBlockSize
}

func referenceMap(names []string) map[string]int {
	ids := make(map[string]int, len(names))
	for i, name := range names {
		ids[name] = i
	}
	return ids
}

func sliceError(format string, err error) error {
	return fmt.Errorf("inflating %s range: %w", format, err)
}
