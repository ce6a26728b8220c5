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

// Package bptree reads the B+ tree that maps chromosome names to the numeric
// identifiers and sizes used inside bigWig and bigBed files.
package bptree

import (
	encoding "encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/googlegenomics/trackreader/genomics"
	"github.com/googlegenomics/trackreader/internal/binary"
)

// Magic identifies the header of a chromosome B+ tree.
const Magic = 0x78CA8C91

const (
	headerSize     = 32
	nodeHeaderSize = 4

	// This is just to prevent arbitrarily long allocations due to malformed
	// data.  No chromosome name should be longer than this in practice.
	maximumKeySize = 1024

	// Leaf values are an eight byte id and size; anything beyond that is
	// padding which is skipped, but is bounded for the same reason as keys.
	leafValueSize    = 8
	maximumValueSize = 1024
)

// Entry is one chromosome in the dictionary.
type Entry struct {
	Name string
	ID   uint32
	Size uint32
}

// Header holds the fixed fields at the start of a tree.
type Header struct {
	BlockSize uint32
	KeySize   uint32
	ValueSize uint32
	ItemCount uint64
}

// Dictionary is a decoded tree.
type Dictionary struct {
	Header

	byName map[string]Entry
	byID   map[uint32]Entry
}

// Lookup returns the entry for the named chromosome.
func (d *Dictionary) Lookup(name string) (Entry, bool) {
	entry, ok := d.byName[name]
	return entry, ok
}

// ByID returns the entry with the provided identifier.
func (d *Dictionary) ByID(id uint32) (Entry, bool) {
	entry, ok := d.byID[id]
	return entry, ok
}

// Len returns the number of chromosomes in the dictionary.
func (d *Dictionary) Len() int {
	return len(d.byName)
}

// Entries returns all entries ordered by identifier.
func (d *Dictionary) Entries() []Entry {
	entries := make([]Entry, 0, len(d.byID))
	for _, entry := range d.byID {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Read decodes the tree whose header starts at offset in r.  Nodes are
// visited from an explicit worklist of file offsets; a node reachable twice
// is reported as corrupt data.
func Read(r io.ReaderAt, offset int64) (*Dictionary, error) {
	header := make([]byte, headerSize)
	if err := readFull(r, offset, header); err != nil {
		return nil, readError("reading header", err)
	}
	order, err := binary.ByteOrder(header, Magic)
	if err != nil {
		return nil, formatError(err)
	}

	d := &Dictionary{
		Header: Header{
			BlockSize: order.Uint32(header[4:]),
			KeySize:   order.Uint32(header[8:]),
			ValueSize: order.Uint32(header[12:]),
			ItemCount: order.Uint64(header[16:]),
		},
		byName: make(map[string]Entry),
		byID:   make(map[uint32]Entry),
	}
	if d.KeySize == 0 || d.KeySize > maximumKeySize {
		return nil, formatError(fmt.Errorf("invalid key size (%d bytes)", d.KeySize))
	}
	if d.ValueSize < leafValueSize || d.ValueSize > maximumValueSize {
		return nil, formatError(fmt.Errorf("invalid value size (%d bytes)", d.ValueSize))
	}
	if d.BlockSize == 0 {
		return nil, formatError(errors.New("invalid block size (0 items)"))
	}
	if d.ItemCount == 0 {
		return d, nil
	}

	visited := make(map[int64]bool)
	pending := []int64{offset + headerSize}
	for len(pending) > 0 {
		node := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if visited[node] {
			return nil, formatError(fmt.Errorf("node at %d is reachable more than once", node))
		}
		visited[node] = true

		children, err := d.readNode(r, order, node)
		if err != nil {
			return nil, readError(fmt.Sprintf("reading node at %d", node), err)
		}
		pending = append(pending, children...)
	}
	return d, nil
}

// readNode decodes the node at offset.  Leaf items are added to d and the
// offsets of the children of an internal node are returned.
func (d *Dictionary) readNode(r io.ReaderAt, order encoding.ByteOrder, offset int64) ([]int64, error) {
	header := make([]byte, nodeHeaderSize)
	if err := readFull(r, offset, header); err != nil {
		return nil, err
	}
	leaf, count := header[0] == 1, int(order.Uint16(header[2:]))
	if count > int(d.BlockSize) {
		return nil, formatError(fmt.Errorf("node holds %d items, block size is %d", count, d.BlockSize))
	}

	itemSize := int(d.KeySize) + 8
	if leaf {
		itemSize = int(d.KeySize) + int(d.ValueSize)
	}
	items := make([]byte, count*itemSize)
	if err := readFull(r, offset+nodeHeaderSize, items); err != nil {
		return nil, err
	}

	var children []int64
	for i := 0; i < count; i++ {
		item := items[i*itemSize : (i+1)*itemSize]
		key, value := binary.String(item[:d.KeySize]), item[d.KeySize:]
		if !leaf {
			children = append(children, int64(order.Uint64(value)))
			continue
		}
		entry := Entry{
			Name: key,
			ID:   order.Uint32(value),
			Size: order.Uint32(value[4:]),
		}
		d.byName[entry.Name] = entry
		d.byID[entry.ID] = entry
	}
	return children, nil
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
	return genomics.NewFormatError("B+ tree", err)
}
