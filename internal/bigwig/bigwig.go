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

// Package bigwig reads bigWig files: the header, the chromosome dictionary,
// the R-tree index over data blocks, and the blocks themselves.
package bigwig

import (
	"bytes"
	encoding "encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"

	"github.com/googlegenomics/trackreader/genomics"
	"github.com/googlegenomics/trackreader/internal/bgzf"
	"github.com/googlegenomics/trackreader/internal/binary"
	"github.com/googlegenomics/trackreader/internal/bptree"
	"github.com/googlegenomics/trackreader/internal/summary"
)

const (
	// Magic identifies a bigWig file.
	Magic = 0x888FFC26

	rtreeMagic = 0x2468ACE0

	headerSize       = 64
	zoomHeaderSize   = 24
	rtreeHeaderSize  = 48
	nodeHeaderSize   = 4
	leafItemSize     = 32
	internalItemSize = 24
	sectionSize      = 24
	zoomRecordSize   = 32

	// Section types.
	bedGraph  = 1
	varStep   = 2
	fixedStep = 3

	// This is just to prevent arbitrarily long allocations due to malformed
	// data.
	maximumZoomLevels = 64

	// Writers keep compressed data blocks to a few kilobytes; a larger size
	// means a corrupt index rather than a real block.
	maximumBlockSize = 1 << 24

	// Block addresses keep their file offset in 48 bits.
	maximumFileOffset = 1<<48 - 1
)

// Header holds the fixed fields at the start of a bigWig file.
type Header struct {
	Magic             uint32
	Version           uint16
	ZoomLevels        uint16
	ChromTreeOffset   uint64
	DataOffset        uint64
	IndexOffset       uint64
	FieldCount        uint16
	DefinedFieldCount uint16
	SQLOffset         uint64
	SummaryOffset     uint64
	UncompressBufSize uint32
	ExtensionOffset   uint64
}

// ZoomHeader locates the data and index of one zoom level.
type ZoomHeader struct {
	ReductionLevel uint32
	Reserved       uint32
	DataOffset     uint64
	IndexOffset    uint64
}

// Summary is the whole-file summary.
type Summary struct {
	BasesCovered uint64
	Min, Max     float64
	Sum          float64
	SumSquares   float64
}

// File is an opened bigWig file.
type File struct {
	Header
	Zooms       []ZoomHeader
	Summary     *Summary
	Chromosomes *bptree.Dictionary

	order encoding.ByteOrder
}

// Open reads the header, zoom headers, summary and chromosome dictionary.
func Open(r io.ReaderAt) (*File, error) {
	buffer := make([]byte, headerSize)
	if err := readFull(r, 0, buffer); err != nil {
		return nil, readError("reading header", err)
	}
	order, err := binary.ByteOrder(buffer, Magic)
	if err != nil {
		return nil, formatError(err)
	}

	f := &File{order: order}
	if err := encoding.Read(bytes.NewReader(buffer), order, &f.Header); err != nil {
		return nil, formatError(fmt.Errorf("decoding header: %w", err))
	}
	if f.ZoomLevels > maximumZoomLevels {
		return nil, formatError(fmt.Errorf("invalid zoom level count (%d levels)", f.ZoomLevels))
	}

	f.Zooms = make([]ZoomHeader, f.ZoomLevels)
	if len(f.Zooms) > 0 {
		if err := binary.ReadAt(r, order, headerSize, f.Zooms); err != nil {
			return nil, readError("reading zoom headers", err)
		}
	}

	if f.SummaryOffset > 0 {
		f.Summary = &Summary{}
		if err := binary.ReadAt(r, order, int64(f.SummaryOffset), f.Summary); err != nil {
			return nil, readError("reading summary", err)
		}
	}

	if f.Chromosomes, err = bptree.Read(r, int64(f.ChromTreeOffset)); err != nil {
		return nil, fmt.Errorf("reading chromosome tree: %w", err)
	}
	return f, nil
}

// Level returns the zoom level to read for bins of binSize bases summarized
// with fn: the one with the largest reduction level not above binSize, or -1
// for the full resolution data.
func (f *File) Level(binSize float64, fn summary.Func) int {
	level := -1
	if fn == summary.None || binSize <= 1 {
		return level
	}
	for i, zoom := range f.Zooms {
		if float64(zoom.ReductionLevel) > binSize {
			continue
		}
		if level < 0 || zoom.ReductionLevel > f.Zooms[level].ReductionLevel {
			level = i
		}
	}
	return level
}

type rtreeItem struct {
	StartChrom, StartBase uint32
	EndChrom, EndBase     uint32
	Offset                uint64
	Size                  uint64
}

func (item rtreeItem) overlaps(chrom, start, end uint32) bool {
	if item.EndChrom < chrom || (item.EndChrom == chrom && item.EndBase <= start) {
		return false
	}
	if item.StartChrom > chrom || (item.StartChrom == chrom && item.StartBase >= end) {
		return false
	}
	return true
}

// Blocks returns the data blocks of the given level whose bounds overlap
// [start, end) on chromosome chrom.  Each block is expressed as a chunk whose
// addresses have no in-block offset.
func (f *File) Blocks(r io.ReaderAt, level int, chrom, start, end uint32) ([]bgzf.Chunk, error) {
	offset := int64(f.IndexOffset)
	if level >= 0 {
		if level >= len(f.Zooms) {
			return nil, &genomics.InvalidArgumentError{Name: "zoom level", Value: level, Reason: "out of range"}
		}
		offset = int64(f.Zooms[level].IndexOffset)
	}

	header := make([]byte, rtreeHeaderSize)
	if err := readFull(r, offset, header); err != nil {
		return nil, readError("reading R-tree header", err)
	}
	if magic := f.order.Uint32(header); magic != rtreeMagic {
		return nil, formatError(fmt.Errorf("wrong R-tree magic 0x%08x", magic))
	}
	if f.order.Uint64(header[8:]) == 0 {
		return nil, nil
	}

	var blocks []bgzf.Chunk
	visited := make(map[int64]bool)
	pending := []int64{offset + rtreeHeaderSize}
	for len(pending) > 0 {
		node := pending[0]
		pending = pending[1:]
		if visited[node] {
			return nil, formatError(fmt.Errorf("R-tree node at %d is reachable more than once", node))
		}
		visited[node] = true

		leaf, items, err := f.readNode(r, node)
		if err != nil {
			return nil, readError(fmt.Sprintf("reading R-tree node at %d", node), err)
		}
		for _, item := range items {
			if !item.overlaps(chrom, start, end) {
				continue
			}
			if !leaf {
				pending = append(pending, int64(item.Offset))
				continue
			}
			if item.Size > maximumBlockSize || item.Offset > maximumFileOffset-item.Size {
				return nil, formatError(fmt.Errorf("data block at %d has invalid size %d", item.Offset, item.Size))
			}
			blocks = append(blocks, bgzf.Chunk{
				Start: bgzf.NewAddress(item.Offset, 0),
				End:   bgzf.NewAddress(item.Offset+item.Size, 0),
			})
		}
	}
	return blocks, nil
}

func (f *File) readNode(r io.ReaderAt, offset int64) (bool, []rtreeItem, error) {
	header := make([]byte, nodeHeaderSize)
	if err := readFull(r, offset, header); err != nil {
		return false, nil, err
	}
	leaf, count := header[0] == 1, int(f.order.Uint16(header[2:]))

	itemSize := internalItemSize
	if leaf {
		itemSize = leafItemSize
	}
	buffer := make([]byte, count*itemSize)
	if err := readFull(r, offset+nodeHeaderSize, buffer); err != nil {
		return false, nil, err
	}

	items := make([]rtreeItem, count)
	for i := range items {
		b := buffer[i*itemSize:]
		items[i] = rtreeItem{
			StartChrom: f.order.Uint32(b[0:]),
			StartBase:  f.order.Uint32(b[4:]),
			EndChrom:   f.order.Uint32(b[8:]),
			EndBase:    f.order.Uint32(b[12:]),
			Offset:     f.order.Uint64(b[16:]),
		}
		if leaf {
			items[i].Size = f.order.Uint64(b[24:])
		}
	}
	return leaf, items, nil
}

// Decode decodes one data block of the given level and returns the features
// on chromosome chrom overlapping [start, end), named chr.  Zoom records are
// valued by fn: their minimum, maximum, or otherwise their mean.
func (f *File) Decode(block []byte, level int, chr string, chrom, start, end uint32, fn summary.Func) ([]genomics.Feature, error) {
	if f.UncompressBufSize > 0 {
		inflated, err := inflate(block)
		if err != nil {
			return nil, formatError(fmt.Errorf("inflating block: %w", err))
		}
		block = inflated
	}
	if level >= 0 {
		return f.decodeZoom(block, chr, chrom, start, end, fn), nil
	}
	features, err := f.decodeSection(block, chr, chrom, start, end)
	if err != nil {
		return nil, formatError(err)
	}
	return features, nil
}

func inflate(data []byte) ([]byte, error) {
	z, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer z.Close()
	return io.ReadAll(z)
}

func (f *File) decodeSection(data []byte, chr string, chrom, start, end uint32) ([]genomics.Feature, error) {
	if len(data) < sectionSize {
		return nil, fmt.Errorf("section header is shorter than %d bytes", sectionSize)
	}
	var header struct {
		Chrom      uint32
		Start, End uint32
		Step, Span uint32
		Type       uint8
		Reserved   uint8
		ItemCount  uint16
	}
	if err := encoding.Read(bytes.NewReader(data), f.order, &header); err != nil {
		return nil, fmt.Errorf("decoding section header: %w", err)
	}
	if header.Chrom != chrom {
		return nil, nil
	}
	data = data[sectionSize:]

	var itemSize int
	switch header.Type {
	case bedGraph:
		itemSize = 12
	case varStep:
		itemSize = 8
	case fixedStep:
		itemSize = 4
	default:
		return nil, fmt.Errorf("unsupported section type %d", header.Type)
	}
	count := int(header.ItemCount)
	if len(data) < count*itemSize {
		return nil, fmt.Errorf("section holds %d bytes for %d items", len(data), count)
	}

	var features []genomics.Feature
	for i := 0; i < count; i++ {
		item := data[i*itemSize:]
		var feature genomics.Feature
		switch header.Type {
		case bedGraph:
			feature.Start = f.order.Uint32(item[0:])
			feature.End = f.order.Uint32(item[4:])
			feature.Value = f.float(item[8:])
		case varStep:
			feature.Start = f.order.Uint32(item[0:])
			feature.End = feature.Start + header.Span
			feature.Value = f.float(item[4:])
		case fixedStep:
			feature.Start = header.Start + uint32(i)*header.Step
			feature.End = feature.Start + header.Span
			feature.Value = f.float(item[0:])
		}
		if feature.Start >= end {
			break
		}
		if feature.End <= start {
			continue
		}
		feature.Chr = chr
		features = append(features, feature)
	}
	return features, nil
}

func (f *File) decodeZoom(data []byte, chr string, chrom, start, end uint32, fn summary.Func) []genomics.Feature {
	var features []genomics.Feature
	for ; len(data) >= zoomRecordSize; data = data[zoomRecordSize:] {
		if f.order.Uint32(data[0:]) != chrom {
			continue
		}
		feature := genomics.Feature{
			Chr:   chr,
			Start: f.order.Uint32(data[4:]),
			End:   f.order.Uint32(data[8:]),
		}
		valid := f.order.Uint32(data[12:])
		if valid == 0 || feature.End <= start {
			continue
		}
		if feature.Start >= end {
			break
		}
		switch fn {
		case summary.Min:
			feature.Value = f.float(data[16:])
		case summary.Max:
			feature.Value = f.float(data[20:])
		default:
			feature.Value = f.float(data[24:]) / float64(valid)
		}
		features = append(features, feature)
	}
	return features
}

func (f *File) float(b []byte) float64 {
	return float64(math.Float32frombits(f.order.Uint32(b)))
}

func readFull(r io.ReaderAt, offset int64, buffer []byte) error {
	_, err := io.ReadFull(io.NewSectionReader(r, offset, int64(len(buffer))), buffer)
	return err
}

// readError reports truncated data as a format error and passes any other
// failure of the underlying reader through.
func readError(context string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return formatError(fmt.Errorf("%s: %w", context, err))
	}
	return fmt.Errorf("%s: %w", context, err)
}

func formatError(err error) error {
	return genomics.NewFormatError("bigWig", err)
}
