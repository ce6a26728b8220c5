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
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/googlegenomics/trackreader/genomics"
)

func TestRead_RoundTrip(t *testing.T) {
	entries := []Entry{
		{"chr1", 0, 248956422},
		{"chr10", 1, 133797422},
		{"chrX", 2, 156040895},
	}
	for _, blockSize := range []uint32{1, 2, 3, 256} {
		t.Run(fmt.Sprintf("block size %d", blockSize), func(t *testing.T) {
			d, err := Read(bytes.NewReader(Encode(entries, blockSize, 0)), 0)
			if err != nil {
				t.Fatalf("Read() returned error: %v", err)
			}
			if got, want := d.Entries(), entries; !reflect.DeepEqual(got, want) {
				t.Errorf("Entries(): got %v, want %v", got, want)
			}
			if got, want := d.Len(), 3; got != want {
				t.Errorf("Len(): got %d, want %d", got, want)
			}
		})
	}
}

func TestRead_PaddedKeys(t *testing.T) {
	entries := []Entry{{"1", 7, 10}, {"chrUn_KI270742v1", 8, 20}, {"MT", 9, 16569}}
	d, err := Read(bytes.NewReader(Encode(entries, 256, 0)), 0)
	if err != nil {
		t.Fatalf("Read() returned error: %v", err)
	}
	if got, want := d.KeySize, uint32(len("chrUn_KI270742v1")); got != want {
		t.Errorf("KeySize: got %d, want %d", got, want)
	}
	for _, want := range entries {
		got, ok := d.Lookup(want.Name)
		if !ok {
			t.Errorf("Lookup(%q) failed", want.Name)
			continue
		}
		if got != want {
			t.Errorf("Lookup(%q): got %+v, want %+v", want.Name, got, want)
		}
		if byID, ok := d.ByID(want.ID); !ok || byID != want {
			t.Errorf("ByID(%d): got %+v, %v", want.ID, byID, ok)
		}
	}
}

func TestRead_Offset(t *testing.T) {
	const base = 977
	entries := make([]Entry, 40)
	for i := range entries {
		entries[i] = Entry{fmt.Sprintf("contig%02d", i), uint32(i), uint32(1000 * i)}
	}
	data := append(make([]byte, base), Encode(entries, 4, base)...)
	d, err := Read(bytes.NewReader(data), base)
	if err != nil {
		t.Fatalf("Read() returned error: %v", err)
	}
	if got, want := d.Entries(), entries; !reflect.DeepEqual(got, want) {
		t.Errorf("Entries(): got %v, want %v", got, want)
	}
}

func TestRead_Empty(t *testing.T) {
	d, err := Read(bytes.NewReader(Encode(nil, 256, 0)), 0)
	if err != nil {
		t.Fatalf("Read() returned error: %v", err)
	}
	if got := d.Len(); got != 0 {
		t.Errorf("Len(): got %d, want 0", got)
	}
	if _, ok := d.Lookup("chr1"); ok {
		t.Errorf("Lookup() on an empty tree succeeded")
	}
}

func TestRead_BigEndian(t *testing.T) {
	const keySize = 4
	var buffer bytes.Buffer
	write := func(v interface{}) { encoding.Write(&buffer, encoding.BigEndian, v) }
	write(uint32(Magic))
	write(uint32(256))
	write(uint32(keySize))
	write(uint32(8))
	write(uint64(1))
	write(uint64(0))
	write(uint8(1))
	write(uint8(0))
	write(uint16(1))
	buffer.WriteString("chr2")
	write(uint32(5))
	write(uint32(242193529))

	d, err := Read(bytes.NewReader(buffer.Bytes()), 0)
	if err != nil {
		t.Fatalf("Read() returned error: %v", err)
	}
	if got, want := d.Entries(), []Entry{{"chr2", 5, 242193529}}; !reflect.DeepEqual(got, want) {
		t.Errorf("Entries(): got %v, want %v", got, want)
	}
}

func TestRead_Errors(t *testing.T) {
	valid := Encode([]Entry{{"chr1", 0, 10}, {"chr2", 1, 20}, {"chr3", 2, 30}}, 2, 0)

	badMagic := append([]byte(nil), valid...)
	badMagic[0] ^= 0xff

	badKeySize := append([]byte(nil), valid...)
	encoding.LittleEndian.PutUint32(badKeySize[8:], 0)

	hugeValueSize := append([]byte(nil), valid...)
	encoding.LittleEndian.PutUint32(hugeValueSize[12:], 0xffffffff)

	zeroBlockSize := append([]byte(nil), valid...)
	encoding.LittleEndian.PutUint32(zeroBlockSize[4:], 0)

	// A node may not claim more items than the block size allows, whatever
	// the file size suggests.
	overfullNode := append([]byte(nil), valid...)
	encoding.LittleEndian.PutUint16(overfullNode[headerSize+2:], 0xffff)

	// The root of this tree is an internal node whose children are at
	// positions 32+4+2*12 and beyond; point its first child back at itself.
	cyclic := append([]byte(nil), valid...)
	encoding.LittleEndian.PutUint64(cyclic[headerSize+nodeHeaderSize+4:], headerSize)

	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", badMagic},
		{"zero key size", badKeySize},
		{"huge value size", hugeValueSize},
		{"zero block size", zeroBlockSize},
		{"node larger than block size", overfullNode},
		{"truncated", valid[:len(valid)-3]},
		{"cycle", cyclic},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(bytes.NewReader(tc.data), 0)
			var formatErr *genomics.FormatError
			if !errors.As(err, &formatErr) {
				t.Fatalf("Read(): got %v, want a FormatError", err)
			}
		})
	}
}
