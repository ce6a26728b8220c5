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

// Package index parses binning indexes (BAI, tabix and CSI) and answers which
// BGZF chunks may hold records overlapping a region.
package index

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/googlegenomics/trackreader/genomics"
	"github.com/googlegenomics/trackreader/internal/bgzf"
	"github.com/googlegenomics/trackreader/internal/binary"
)

const (
	baiMagic = "BAI\x01"
	tbiMagic = "TBI\x01"
	csiMagic = "CSI\x01"

	// The binning scheme used by BAI and tabix indexes, as specified in the
	// SAM specification section 5.1.1.
	defaultMinShift = 14
	defaultDepth    = 5

	// This ID is used by BAI and tabix as a virtual bin ID for (unused) chunk
	// metadata.
	metadataID = 37450

	// This is just to prevent arbitrarily long allocations due to malformed
	// data.
	maximumCount = 1 << 24
)

// Index is a parsed binning index.
type Index struct {
	// Format is one of "BAI", "TBI" or "CSI".
	Format string
	// MinShift is the number of bits for the minimal interval and Depth is the
	// depth of the binning index.
	MinShift, Depth int32
	// References holds the bins of each reference, by reference ID.
	References []Reference
	// Tabix is set when the index describes a text file.
	Tabix *TabixHeader
}

// Reference is the index data for one reference sequence.
type Reference struct {
	Bins map[uint32]Bin
	// Intervals is the linear index (BAI and tabix only): the virtual offset
	// of the first record overlapping each 16kbp window.
	Intervals []bgzf.Address
}

// Bin represents a contiguous genomic region.
type Bin struct {
	// ID is an identifier for the bin.
	ID uint32
	// Offset is the virtual file offset of the first overlapping record (CSI
	// only).
	Offset bgzf.Address
	// Chunks are the chunks of records that fall into the bin.
	Chunks []bgzf.Chunk
}

// TabixHeader describes the layout of the text file a tabix index covers.
type TabixHeader struct {
	// Format is 0 (generic), 1 (SAM) or 2 (VCF), optionally or'ed with
	// ZeroBased.
	Format int32
	// SequenceColumn, BeginColumn and EndColumn are one-based column numbers.
	// EndColumn is zero when records have no end column.
	SequenceColumn, BeginColumn, EndColumn int32
	// Meta is the character that starts header lines.
	Meta byte
	// Skip is the number of leading lines to ignore.
	Skip int32
	// Names are the sequence names, by reference ID.
	Names []string
}

// ZeroBased is set in TabixHeader.Format when begin columns are zero-based
// and end columns exclusive.
const ZeroBased = 0x10000

// Read parses a BAI index or a BGZF compressed tabix or CSI index.
func Read(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, genomics.NewFormatError("index", fmt.Errorf("reading magic: %w", err))
	}
	if string(magic) == baiMagic {
		index, err := readBAI(br)
		if err != nil {
			return nil, genomics.NewFormatError("BAI", err)
		}
		return index, nil
	}

	gz, err := gzip.NewReader(br)
	if err != nil {
		return nil, genomics.NewFormatError("index", fmt.Errorf("initializing gzip reader: %w", err))
	}
	defer gz.Close()
	inflated := bufio.NewReader(gz)
	if magic, err = inflated.Peek(4); err != nil {
		return nil, genomics.NewFormatError("index", fmt.Errorf("reading magic: %w", err))
	}
	switch string(magic) {
	case tbiMagic:
		index, err := readTBI(inflated)
		if err != nil {
			return nil, genomics.NewFormatError("TBI", err)
		}
		return index, nil
	case csiMagic:
		index, err := readCSI(inflated)
		if err != nil {
			return nil, genomics.NewFormatError("CSI", err)
		}
		return index, nil
	}
	return nil, genomics.NewFormatError("index", fmt.Errorf("unknown magic %q", magic))
}

func readBAI(r io.Reader) (*Index, error) {
	if err := binary.ExpectBytes(r, []byte(baiMagic)); err != nil {
		return nil, err
	}
	index := &Index{Format: "BAI", MinShift: defaultMinShift, Depth: defaultDepth}
	if err := index.readReferences(r, false); err != nil {
		return nil, err
	}
	return index, nil
}

func readTBI(r io.Reader) (*Index, error) {
	if err := binary.ExpectBytes(r, []byte(tbiMagic)); err != nil {
		return nil, err
	}
	index := &Index{Format: "TBI", MinShift: defaultMinShift, Depth: defaultDepth}
	var references int32
	if err := binary.Read(r, &references); err != nil {
		return nil, fmt.Errorf("reading reference count: %w", err)
	}
	header, err := readTabixHeader(r)
	if err != nil {
		return nil, err
	}
	if len(header.Names) != int(references) {
		return nil, fmt.Errorf("%d sequence names for %d references", len(header.Names), references)
	}
	index.Tabix = header
	if err := index.readBins(r, references, false); err != nil {
		return nil, err
	}
	return index, nil
}

func readCSI(r io.Reader) (*Index, error) {
	if err := binary.ExpectBytes(r, []byte(csiMagic)); err != nil {
		return nil, err
	}
	var header struct {
		MinimumWidth    int32
		Depth           int32
		AuxiliaryLength int32
	}
	if err := binary.Read(r, &header); err != nil {
		return nil, fmt.Errorf("reading the csi header: %w", err)
	}
	if header.MinimumWidth < 0 || header.Depth < 0 || header.MinimumWidth+3*header.Depth > 63 {
		return nil, fmt.Errorf("invalid binning scheme (min_shift %d, depth %d)", header.MinimumWidth, header.Depth)
	}
	if header.AuxiliaryLength < 0 || header.AuxiliaryLength > maximumCount {
		return nil, fmt.Errorf("invalid auxiliary data length (%d bytes)", header.AuxiliaryLength)
	}
	aux := make([]byte, header.AuxiliaryLength)
	if _, err := io.ReadFull(r, aux); err != nil {
		return nil, fmt.Errorf("reading auxiliary data: %w", err)
	}

	index := &Index{Format: "CSI", MinShift: header.MinimumWidth, Depth: header.Depth}
	// Tabix writes its header into the auxiliary data of CSI indexes.
	if len(aux) >= 28 {
		tabix, err := readTabixHeader(bytes.NewReader(aux))
		if err != nil {
			return nil, fmt.Errorf("reading auxiliary tabix header: %w", err)
		}
		index.Tabix = tabix
	}
	if err := index.readReferences(r, true); err != nil {
		return nil, err
	}
	return index, nil
}

func readTabixHeader(r io.Reader) (*TabixHeader, error) {
	var fields struct {
		Format                                 int32
		SequenceColumn, BeginColumn, EndColumn int32
		Meta                                   int32
		Skip                                   int32
		NamesLength                            int32
	}
	if err := binary.Read(r, &fields); err != nil {
		return nil, fmt.Errorf("reading tabix header: %w", err)
	}
	if fields.NamesLength < 0 || fields.NamesLength > maximumCount {
		return nil, fmt.Errorf("invalid names length (%d bytes)", fields.NamesLength)
	}
	names := make([]byte, fields.NamesLength)
	if _, err := io.ReadFull(r, names); err != nil {
		return nil, fmt.Errorf("reading sequence names: %w", err)
	}
	header := &TabixHeader{
		Format:         fields.Format,
		SequenceColumn: fields.SequenceColumn,
		BeginColumn:    fields.BeginColumn,
		EndColumn:      fields.EndColumn,
		Meta:           byte(fields.Meta),
		Skip:           fields.Skip,
	}
	if len(names) > 0 {
		header.Names = strings.Split(strings.TrimSuffix(string(names), "\x00"), "\x00")
	}
	return header, nil
}

func (index *Index) readReferences(r io.Reader, csi bool) error {
	var references int32
	if err := binary.Read(r, &references); err != nil {
		return fmt.Errorf("reading reference count: %w", err)
	}
	return index.readBins(r, references, csi)
}

func (index *Index) readBins(r io.Reader, references int32, csi bool) error {
	if references < 0 || references > maximumCount {
		return fmt.Errorf("invalid reference count (%d references)", references)
	}
	pseudoBin := index.pseudoBin()
	index.References = make([]Reference, references)
	for i := range index.References {
		var binCount int32
		if err := binary.Read(r, &binCount); err != nil {
			return fmt.Errorf("reading bin count: %w", err)
		}
		if binCount < 0 || binCount > maximumCount {
			return fmt.Errorf("invalid bin count (%d bins)", binCount)
		}
		reference := Reference{Bins: make(map[uint32]Bin, binCount)}
		for j := int32(0); j < binCount; j++ {
			bin, err := readBin(r, csi)
			if err != nil {
				return err
			}
			if bin.ID == pseudoBin {
				continue
			}
			reference.Bins[bin.ID] = bin
		}
		if !csi {
			intervals, err := readIntervals(r)
			if err != nil {
				return err
			}
			reference.Intervals = intervals
		}
		index.References[i] = reference
	}
	return nil
}

func readBin(r io.Reader, csi bool) (Bin, error) {
	var bin Bin
	if err := binary.Read(r, &bin.ID); err != nil {
		return bin, fmt.Errorf("reading bin header: %w", err)
	}
	if csi {
		if err := binary.Read(r, &bin.Offset); err != nil {
			return bin, fmt.Errorf("reading bin offset: %w", err)
		}
	}
	var chunks int32
	if err := binary.Read(r, &chunks); err != nil {
		return bin, fmt.Errorf("reading chunk count: %w", err)
	}
	if chunks < 0 || chunks > maximumCount {
		return bin, fmt.Errorf("invalid chunk count (%d chunks)", chunks)
	}
	bin.Chunks = make([]bgzf.Chunk, chunks)
	if err := binary.Read(r, bin.Chunks); err != nil {
		return bin, fmt.Errorf("reading chunks: %w", err)
	}
	return bin, nil
}

func readIntervals(r io.Reader) ([]bgzf.Address, error) {
	var intervals int32
	if err := binary.Read(r, &intervals); err != nil {
		return nil, fmt.Errorf("reading interval count: %w", err)
	}
	if intervals < 0 || intervals > maximumCount {
		return nil, fmt.Errorf("invalid interval count (%d intervals)", intervals)
	}
	offsets := make([]bgzf.Address, intervals)
	if err := binary.Read(r, offsets); err != nil {
		return nil, fmt.Errorf("reading offsets: %w", err)
	}
	return offsets, nil
}

// pseudoBin returns the ID of the bin that holds metadata instead of chunks.
func (index *Index) pseudoBin() uint32 {
	if index.Format != "CSI" {
		return metadataID
	}
	return uint32((1<<uint((index.Depth+1)*3))-1)/7 + 1
}

// Chunks returns the chunks that may hold records of reference ref overlapping
// the zero-based, half-open range [start, end), and the low water mark below
// which no such record can start.  The chunks are neither sorted nor merged.
func (index *Index) Chunks(ref int, start, end uint32) ([]bgzf.Chunk, bgzf.Address) {
	if ref < 0 || ref >= len(index.References) {
		return nil, 0
	}
	reference := index.References[ref]

	var lowWater bgzf.Address
	if window := int(start >> defaultMinShift); index.Format != "CSI" && window < len(reference.Intervals) {
		lowWater = reference.Intervals[window]
	}

	var chunks []bgzf.Chunk
	for _, id := range binsForRange(start, end, index.MinShift, index.Depth) {
		bin, ok := reference.Bins[id]
		if !ok {
			continue
		}
		for _, chunk := range bin.Chunks {
			if chunk.End >= bin.Offset {
				chunks = append(chunks, chunk)
			}
		}
	}
	return chunks, lowWater
}

func binsForRange(start, end uint32, minShift, depth int32) []uint32 {
	maxWidth := maximumBinWidth(minShift, depth)
	if end == 0 || uint64(end) > maxWidth {
		end = uint32(min(maxWidth, 1<<32-1))
	}
	if end <= start {
		return nil
	}

	// This is derived from the C examples in the CSI index specification.
	end--
	var bins []uint32
	for l, t, s := uint(0), uint(0), uint(minShift+depth*3); l <= uint(depth); l++ {
		b := t + (uint(start) >> s)
		e := t + (uint(end) >> s)
		for i := b; i <= e; i++ {
			bins = append(bins, uint32(i))
		}
		s -= 3
		t += 1 << (l * 3)
	}
	return bins
}

func maximumBinWidth(minShift, depth int32) uint64 {
	return uint64(1) << uint(minShift+depth*3)
}
