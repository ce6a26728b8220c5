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

package bptree

import (
	"bytes"
	encoding "encoding/binary"
	"sort"
)

type node struct {
	entries  []Entry
	children []*node
}

func (n *node) leaf() bool {
	return n.children == nil
}

func (n *node) firstKey() string {
	for !n.leaf() {
		n = n.children[0]
	}
	if len(n.entries) == 0 {
		return ""
	}
	return n.entries[0].Name
}

func (n *node) count() int {
	if n.leaf() {
		return len(n.entries)
	}
	return len(n.children)
}

// Encode returns a little endian tree holding entries, with at most blockSize
// items per node.  Child offsets are absolute, assuming the tree is written
// at position base of a file.
func Encode(entries []Entry, blockSize uint32, base int64) []byte {
	if blockSize < 2 {
		blockSize = 2
	}
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	keySize := 1
	for _, entry := range sorted {
		if len(entry.Name) > keySize {
			keySize = len(entry.Name)
		}
	}

	var level []*node
	for i := 0; i < len(sorted); i += int(blockSize) {
		end := i + int(blockSize)
		if end > len(sorted) {
			end = len(sorted)
		}
		level = append(level, &node{entries: sorted[i:end]})
	}
	if len(level) == 0 {
		level = []*node{{}}
	}
	levels := [][]*node{level}
	for len(level) > 1 {
		var parents []*node
		for i := 0; i < len(level); i += int(blockSize) {
			end := i + int(blockSize)
			if end > len(level) {
				end = len(level)
			}
			parents = append(parents, &node{children: level[i:end]})
		}
		level = parents
		levels = append(levels, level)
	}

	// Leaf values and child offsets are both eight bytes wide, so every node
	// with n items occupies the same number of bytes.
	itemSize := int64(keySize + 8)
	offsets := make(map[*node]int64)
	position := base + headerSize
	for l := len(levels) - 1; l >= 0; l-- {
		for _, n := range levels[l] {
			offsets[n] = position
			position += nodeHeaderSize + int64(n.count())*itemSize
		}
	}

	var buffer bytes.Buffer
	write := func(v interface{}) {
		encoding.Write(&buffer, encoding.LittleEndian, v)
	}
	write(uint32(Magic))
	write(blockSize)
	write(uint32(keySize))
	write(uint32(leafValueSize))
	write(uint64(len(sorted)))
	write(uint64(0))
	for l := len(levels) - 1; l >= 0; l-- {
		for _, n := range levels[l] {
			var isLeaf uint8
			if n.leaf() {
				isLeaf = 1
			}
			write(isLeaf)
			write(uint8(0))
			write(uint16(n.count()))
			if n.leaf() {
				for _, entry := range n.entries {
					buffer.Write(paddedKey(entry.Name, keySize))
					write(entry.ID)
					write(entry.Size)
				}
				continue
			}
			for _, child := range n.children {
				buffer.Write(paddedKey(child.firstKey(), keySize))
				write(uint64(offsets[child]))
			}
		}
	}
	return buffer.Bytes()
}

func paddedKey(key string, size int) []byte {
	padded := make([]byte, size)
	copy(padded, key)
	return padded
}
