// Copyright 2017 Google Inc.
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

// Package bgzf provides support for parsing BGZF files.
package bgzf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/googlegenomics/trackreader/genomics"
)

// LastAddress is the maximum valid BGZF address.
const LastAddress = Address(0xffffffffffffffff)

// MaximumBlockSize is the maximum BGZF block size.
const MaximumBlockSize = 65536

// headerSize is the size of a BGZF block header including the BC extra field.
const headerSize = 18

// EOFMarker is the empty block that terminates a BGZF file.
var EOFMarker = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00,
	0x00, 0xff, 0x06, 0x00, 0x42, 0x43, 0x02, 0x00,
	0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

var errTruncated = errors.New("truncated block")

// Address stores a BGZF "virtual address".  The lower 16 bits store the data
// offset inside the uncompressed stream and upper 48 bits store the block
// offset inside the compressed archive set.  Comparing two addresses as
// integers orders them by block and then by data offset.
type Address uint64

// BlockOffset returns the offset to the start of the compressed block.
func (v Address) BlockOffset() uint64 {
	return uint64(v >> 16)
}

// DataOffset returns the offset to the data in the uncompressed block.
func (v Address) DataOffset() uint16 {
	return uint16(v & 0xffff)
}

// String returns a representation of v that can be parsed with ParseAddress.
func (v Address) String() string {
	return strconv.FormatUint(uint64(v), 16)
}

// ParseAddress attempts to parse input into an Address.
func ParseAddress(input string) (Address, error) {
	v, err := strconv.ParseUint(input, 16, 64)
	return Address(v), err
}

// NewAddress returns a new Address with the provided offsets.
func NewAddress(blockOffset uint64, dataOffset uint16) Address {
	return Address(blockOffset<<16 | uint64(dataOffset))
}

// Chunk specifies a region from Start to End inside a BGZF file.  Formats
// with a linear (uncompressed) index use Chunks with zero data offsets to
// describe plain byte ranges.
type Chunk struct {
	Start, End Address
}

// String returns a human readable description of the receiver.
func (v Chunk) String() string {
	return fmt.Sprintf("[%s-%s]", v.Start, v.End)
}

// Block is a single decoded BGZF block.
type Block struct {
	// Offset is the position of the compressed block relative to the start of
	// the data it was decoded from.
	Offset uint64
	// Size is the compressed size of the block.
	Size int
	Data []byte
}

// DecodeBlock decodes a single BGZF block from r and returns the uncompressed
// data and the original block size (or an error).  Note that DecodeBlock may
// read bytes past the end of the block if r does not implement io.ByteReader.
func DecodeBlock(r io.Reader) ([]byte, uint16, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("initializing gzip reader: %w", err)
	}
	defer gzr.Close()

	extra := gzr.Header.Extra
	if len(extra) < 6 {
		return nil, 0, fmt.Errorf("missing BGZF extra field (%d bytes)", len(extra))
	}
	if extra[0] != 0x42 || extra[1] != 0x43 {
		return nil, 0, fmt.Errorf("unexpected extra ID: %x", extra[0:2])
	}
	if extra[2] != 2 || extra[3] != 0 {
		return nil, 0, fmt.Errorf("unexpected extra length: %x", extra[2:4])
	}

	gzr.Multistream(false)
	var buffer bytes.Buffer
	if _, err := io.Copy(&buffer, gzr); err != nil {
		return nil, 0, fmt.Errorf("decompressing data: %w", err)
	}
	return buffer.Bytes(), (uint16(extra[4]) | uint16(extra[5])<<8) + 1, nil
}

// DecodeBlocks decodes the consecutive BGZF blocks held in data.  A final
// block cut short by the end of data is silently dropped, since windows
// fetched from a remote file routinely end mid-block.
func DecodeBlocks(data []byte) ([]Block, error) {
	var blocks []Block
	for offset := 0; offset < len(data); {
		size, err := blockSize(data[offset:])
		if err == errTruncated {
			break
		}
		if err != nil {
			return nil, genomics.NewFormatError("BGZF", fmt.Errorf("block at %d: %w", offset, err))
		}
		if offset+size > len(data) {
			break
		}
		decoded, _, err := DecodeBlock(bytes.NewReader(data[offset : offset+size]))
		if err != nil {
			return nil, genomics.NewFormatError("BGZF", fmt.Errorf("block at %d: %w", offset, err))
		}
		blocks = append(blocks, Block{Offset: uint64(offset), Size: size, Data: decoded})
		offset += size
	}
	return blocks, nil
}

// blockSize returns the compressed size of the block starting at data[0] by
// reading the BSIZE subfield of its header.
func blockSize(data []byte) (int, error) {
	if len(data) < headerSize {
		return 0, errTruncated
	}
	if data[0] != 0x1f || data[1] != 0x8b || data[2] != 0x08 || data[3]&0x04 == 0 {
		return 0, fmt.Errorf("not a BGZF block header: %x", data[:4])
	}
	xlen := int(data[10]) | int(data[11])<<8
	if len(data) < 12+xlen {
		return 0, errTruncated
	}
	for extra := data[12 : 12+xlen]; len(extra) >= 4; {
		length := int(extra[2]) | int(extra[3])<<8
		if extra[0] == 0x42 && extra[1] == 0x43 && length == 2 && len(extra) >= 6 {
			return (int(extra[4]) | int(extra[5])<<8) + 1, nil
		}
		if len(extra) < 4+length {
			break
		}
		extra = extra[4+length:]
	}
	return 0, errors.New("missing BSIZE subfield")
}

// Slice decodes the blocks in data, which was read from the file starting at
// position base, and returns the uncompressed bytes addressed by chunk.  If the
// block holding chunk.End was not part of data, everything decoded after
// chunk.Start is returned.
func Slice(data []byte, base uint64, chunk Chunk) ([]byte, error) {
	blocks, err := DecodeBlocks(data)
	if err != nil {
		return nil, err
	}

	var (
		output     []byte
		started    bool
		head, tail = chunk.Start.BlockOffset(), chunk.End.BlockOffset()
	)
	for _, block := range blocks {
		position := base + block.Offset
		if position < head {
			continue
		}
		decoded := block.Data
		if position == tail {
			decoded = decoded[:clamp(int(chunk.End.DataOffset()), len(decoded))]
		}
		if position == head {
			decoded = decoded[clamp(int(chunk.Start.DataOffset()), len(decoded)):]
		}
		if !started && position != head {
			return nil, genomics.NewFormatError("BGZF", fmt.Errorf("no block at offset %d", head))
		}
		started = true
		output = append(output, decoded...)
		if position >= tail {
			break
		}
	}
	return output, nil
}

func clamp(n, limit int) int {
	if n > limit {
		return limit
	}
	return n
}

// EncodeBlock returns a single BGZF block that encodes the bytes in data.
func EncodeBlock(data []byte) ([]byte, error) {
	if len(data) > MaximumBlockSize {
		return nil, errors.New("data exceeds maximum block size")
	}

	var buffer bytes.Buffer
	gzw := gzip.NewWriter(&buffer)

	gzw.Header.Extra = []byte{
		0x42, 0x43, // Extra ID.
		0x02, 0x00, // Length of extra data (2 bytes).
		0x88, 0x88, // BSIZE (filled in after writing the archive).
	}
	if _, err := gzw.Write(data); err != nil {
		return nil, fmt.Errorf("writing compressed data: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing writer: %w", err)
	}
	bsize := buffer.Len() - 1
	encoded := buffer.Bytes()
	encoded[16] = byte(bsize)
	encoded[17] = byte(bsize >> 8)
	return encoded, nil
}
