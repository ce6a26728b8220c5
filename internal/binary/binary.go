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

// Package binary provides support for operating on binary data.
package binary

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ExpectBytes reads len(want) bytes from r and checks that they match want.
func ExpectBytes(r io.Reader, want []byte) error {
	got := make([]byte, len(want))
	if _, err := io.ReadFull(r, got); err != nil {
		return fmt.Errorf("reading magic: %w", err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("wrong magic %v (wanted %v)", got, want)
	}
	return nil
}

// Read reads a little endian value from r into v using binary.Read.
func Read(r io.Reader, v interface{}) error {
	return binary.Read(r, binary.LittleEndian, v)
}

// ReadAt reads a value encoded with order from r at offset into v.
func ReadAt(r io.ReaderAt, order binary.ByteOrder, offset int64, v interface{}) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("unsupported type %T", v)
	}
	return binary.Read(io.NewSectionReader(r, offset, int64(size)), order, v)
}

// ByteOrder returns the byte order in which magic is stored in the first four
// bytes of header.
func ByteOrder(header []byte, magic uint32) (binary.ByteOrder, error) {
	if len(header) < 4 {
		return nil, fmt.Errorf("short header (%d bytes)", len(header))
	}
	switch {
	case binary.LittleEndian.Uint32(header) == magic:
		return binary.LittleEndian, nil
	case binary.BigEndian.Uint32(header) == magic:
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("wrong magic 0x%08x (wanted 0x%08x)", binary.LittleEndian.Uint32(header), magic)
}

// String returns the contents of a fixed width, NUL padded field.
func String(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}
