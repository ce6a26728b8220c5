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

// Package bam provides support for parsing BAM files.
package bam

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/googlegenomics/trackreader/genomics"
	tbinary "github.com/googlegenomics/trackreader/internal/binary"
)

const (
	bamMagic = "BAM\x01"

	// This is just to prevent arbitrarily long allocations due to malformed
	// data.  No reference name should be longer than this in practice.
	maximumNameLength = 1024

	// Upper bounds on the SAM header text and the reference count.
	maximumTextLength = 1 << 28
	maximumReferences = 1 << 24

	// The size of the fixed-width part of an alignment record, excluding the
	// block size.
	fixedRecordSize = 32

	flagUnmapped = 0x4
)

// Reference is a reference sequence declared in the BAM header.
type Reference struct {
	Name   string
	Length uint32
}

// Header is the parsed BAM header.
type Header struct {
	// Text is the SAM header text.
	Text string
	// References are the reference sequences, by reference ID.
	References []Reference
}

// ReferenceID returns the ID of the named reference.
func (h *Header) ReferenceID(name string) (int32, bool) {
	for i, reference := range h.References {
		if reference.Name == name {
			return int32(i), true
		}
	}
	return 0, false
}

// Names returns the reference names, by reference ID.
func (h *Header) Names() []string {
	names := make([]string, len(h.References))
	for i, reference := range h.References {
		names[i] = reference.Name
	}
	return names
}

// ReadHeader reads the BAM header from the start of a BGZF compressed BAM
// stream.
func ReadHeader(r io.Reader) (*Header, error) {
	header, err := readHeader(r)
	if err != nil {
		return nil, genomics.NewFormatError("BAM", err)
	}
	return header, nil
}

func readHeader(r io.Reader) (*Header, error) {
	bam, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer bam.Close()

	if err := tbinary.ExpectBytes(bam, []byte(bamMagic)); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	var length int32
	if err := tbinary.Read(bam, &length); err != nil {
		return nil, fmt.Errorf("reading SAM header length: %w", err)
	}
	if length < 0 || length > maximumTextLength {
		return nil, fmt.Errorf("invalid SAM header length (%d bytes)", length)
	}
	text := make([]byte, length)
	if _, err := io.ReadFull(bam, text); err != nil {
		return nil, fmt.Errorf("reading SAM header: %w", err)
	}
	var count int32
	if err := tbinary.Read(bam, &count); err != nil {
		return nil, fmt.Errorf("reading references count: %w", err)
	}
	if count < 0 || count > maximumReferences {
		return nil, fmt.Errorf("invalid reference count (%d references)", count)
	}

	header := &Header{Text: tbinary.String(text), References: make([]Reference, count)}
	for i := range header.References {
		if err := tbinary.Read(bam, &length); err != nil {
			return nil, fmt.Errorf("reading name length: %w", err)
		}
		// The name length includes a null terminating character.
		if length < 1 || length > maximumNameLength {
			return nil, fmt.Errorf("invalid name length (%d bytes)", length)
		}
		name := make([]byte, length)
		if _, err := io.ReadFull(bam, name); err != nil {
			return nil, fmt.Errorf("reading name: %w", err)
		}
		var size uint32
		if err := tbinary.Read(bam, &size); err != nil {
			return nil, fmt.Errorf("reading reference length: %w", err)
		}
		header.References[i] = Reference{Name: string(name[:length-1]), Length: size}
	}
	return header, nil
}

// Decode decodes the alignment records in data, which must start at a record
// boundary, and returns those on reference ref overlapping [start, end) as
// features on chr.  Each feature is named after its read and valued with its
// mapping quality.  Decoding stops at the first record past the range; a
// truncated final record is ignored.
func Decode(data []byte, ref int32, chr string, start, end uint32) ([]genomics.Feature, error) {
	region := genomics.Region{ReferenceID: ref, Start: start, End: end}
	var features []genomics.Feature
	for len(data) >= 4 {
		size := int(binary.LittleEndian.Uint32(data))
		if size < fixedRecordSize {
			return features, genomics.NewFormatError("BAM", fmt.Errorf("invalid record size (%d bytes)", size))
		}
		if len(data) < 4+size {
			break
		}
		record, err := parseRecord(data[4 : 4+size])
		if err != nil {
			return features, genomics.NewFormatError("BAM", err)
		}
		data = data[4+size:]

		if record.ref < 0 || record.flag&flagUnmapped != 0 || record.ref < ref {
			continue
		}
		if record.ref > ref || uint32(record.pos) >= end {
			break
		}
		if !region.Overlaps(record.ref, uint32(record.pos), record.end) {
			continue
		}
		features = append(features, genomics.Feature{
			Chr:   chr,
			Start: uint32(record.pos),
			End:   record.end,
			Value: float64(record.mapq),
			Name:  record.name,
		})
	}
	return features, nil
}

type record struct {
	ref, pos int32
	end      uint32
	mapq     uint8
	flag     uint16
	name     string
}

func parseRecord(data []byte) (record, error) {
	var r record
	r.ref = int32(binary.LittleEndian.Uint32(data[0:]))
	r.pos = int32(binary.LittleEndian.Uint32(data[4:]))
	nameLength := int(data[8])
	r.mapq = data[9]
	cigarOps := int(binary.LittleEndian.Uint16(data[12:]))
	r.flag = binary.LittleEndian.Uint16(data[14:])

	if r.pos < 0 {
		r.pos = 0
	}
	cigarStart := fixedRecordSize + nameLength
	if cigarStart+4*cigarOps > len(data) {
		return r, fmt.Errorf("record fields exceed record size (%d bytes)", len(data))
	}
	r.name = tbinary.String(data[fixedRecordSize:cigarStart])

	var reference uint32
	for i := 0; i < cigarOps; i++ {
		op := binary.LittleEndian.Uint32(data[cigarStart+4*i:])
		switch op & 0xf {
		case 0, 2, 3, 7, 8: // M, D, N, =, X
			reference += op >> 4
		}
	}
	if reference == 0 {
		reference = 1
	}
	r.end = uint32(r.pos) + reference
	return r, nil
}
