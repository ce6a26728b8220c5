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

// Package tabix decodes the text records of a tabix indexed file.
package tabix

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/googlegenomics/trackreader/genomics"
	"github.com/googlegenomics/trackreader/internal/index"
)

const (
	formatSAM = 1
	formatVCF = 2
)

// Decode parses the lines in data, which must start at a line boundary, and
// returns the records on sequence chr overlapping the zero-based, half-open
// range [start, end).  Lines starting with the header's meta character are
// skipped, as is a partial final line.  The feature value is taken from the
// column after the end column when it is numeric.
func Decode(data []byte, header *index.TabixHeader, chr string, start, end uint32) ([]genomics.Feature, error) {
	var features []genomics.Feature
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(data[:i], []byte{'\r'})
		data = data[i+1:]
		if len(line) == 0 || line[0] == header.Meta {
			continue
		}

		feature, err := parseLine(line, header)
		if err != nil {
			return features, genomics.NewFormatError("tabix", err)
		}
		if feature.Chr != chr {
			continue
		}
		if feature.Start >= end {
			break
		}
		if feature.End <= start {
			continue
		}
		features = append(features, feature)
	}
	return features, nil
}

func parseLine(line []byte, header *index.TabixHeader) (genomics.Feature, error) {
	var feature genomics.Feature
	fields := bytes.Split(line, []byte{'\t'})
	column := func(n int32) ([]byte, error) {
		if n < 1 || int(n) > len(fields) {
			return nil, fmt.Errorf("line %q has no column %d", line, n)
		}
		return fields[n-1], nil
	}

	name, err := column(header.SequenceColumn)
	if err != nil {
		return feature, err
	}
	feature.Chr = string(name)

	begin, err := column(header.BeginColumn)
	if err != nil {
		return feature, err
	}
	position, err := strconv.ParseUint(string(begin), 10, 32)
	if err != nil {
		return feature, fmt.Errorf("parsing begin: %w", err)
	}
	zeroBased := header.Format&index.ZeroBased != 0
	if !zeroBased && position > 0 {
		position--
	}
	feature.Start = uint32(position)
	feature.End = feature.Start + 1

	valueColumn := header.BeginColumn + 1
	switch header.Format & 0xffff {
	case formatVCF:
		// The end is derived from the length of the reference allele.
		if ref, err := column(4); err == nil && len(ref) > 0 {
			feature.End = feature.Start + uint32(len(ref))
		}
		valueColumn = 6
	case formatSAM:
		valueColumn = 5
	default:
		if header.EndColumn > 0 && header.EndColumn != header.BeginColumn {
			last, err := column(header.EndColumn)
			if err != nil {
				return feature, err
			}
			position, err := strconv.ParseUint(string(last), 10, 32)
			if err != nil {
				return feature, fmt.Errorf("parsing end: %w", err)
			}
			feature.End = uint32(position)
			valueColumn = header.EndColumn + 1
		}
	}
	if feature.End <= feature.Start {
		feature.End = feature.Start + 1
	}

	if field, err := column(valueColumn); err == nil {
		if value, err := strconv.ParseFloat(string(field), 64); err == nil {
			feature.Value = value
		} else {
			feature.Name = string(field)
		}
	}
	return feature, nil
}
