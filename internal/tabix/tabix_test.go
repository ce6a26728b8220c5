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

package tabix

import (
	"errors"
	"reflect"
	"testing"

	"github.com/googlegenomics/trackreader/genomics"
	"github.com/googlegenomics/trackreader/internal/index"
)

var bedGraph = &index.TabixHeader{
	Format:         index.ZeroBased,
	SequenceColumn: 1,
	BeginColumn:    2,
	EndColumn:      3,
	Meta:           '#',
}

func TestDecode_BedGraph(t *testing.T) {
	data := []byte("#track type=bedGraph\n" +
		"chr1\t0\t100\t1.5\n" +
		"chr1\t100\t200\t2\n" +
		"chr1\t200\t300\tpeak\n" +
		"chr1\t300\t400\t4\n" +
		"chr2\t0\t100\t5\n" +
		"chr1\t400\t50")

	got, err := Decode(data, bedGraph, "chr1", 150, 300)
	if err != nil {
		t.Fatalf("Decode() = %v", err)
	}
	want := []genomics.Feature{
		{Chr: "chr1", Start: 100, End: 200, Value: 2},
		{Chr: "chr1", Start: 200, End: 300, Name: "peak"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Decode() = %v, want %v", got, want)
	}
}

func TestDecode_Formats(t *testing.T) {
	testCases := []struct {
		name   string
		header *index.TabixHeader
		line   string
		want   genomics.Feature
	}{
		{
			"gff",
			&index.TabixHeader{SequenceColumn: 1, BeginColumn: 4, EndColumn: 5, Meta: '#'},
			"chr1\tsrc\tgene\t11\t20\t0.5\t+\n",
			genomics.Feature{Chr: "chr1", Start: 10, End: 20, Value: 0.5},
		},
		{
			"vcf",
			&index.TabixHeader{Format: formatVCF, SequenceColumn: 1, BeginColumn: 2, EndColumn: 0, Meta: '#'},
			"chr1\t15\trs1\tACG\tA\t29.5\tPASS\n",
			genomics.Feature{Chr: "chr1", Start: 14, End: 17, Value: 29.5},
		},
		{
			"sam",
			&index.TabixHeader{Format: formatSAM, SequenceColumn: 3, BeginColumn: 4, EndColumn: 0, Meta: '@'},
			"read1\t0\tchr1\t12\t60\t10M\n",
			genomics.Feature{Chr: "chr1", Start: 11, End: 12, Value: 60},
		},
		{
			"point without value",
			&index.TabixHeader{Format: index.ZeroBased, SequenceColumn: 1, BeginColumn: 2, Meta: '#'},
			"chr1\t10\n",
			genomics.Feature{Chr: "chr1", Start: 10, End: 11},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.line), tc.header, "chr1", 0, 100)
			if err != nil {
				t.Fatalf("Decode() = %v", err)
			}
			if len(got) != 1 || !reflect.DeepEqual(got[0], tc.want) {
				t.Errorf("Decode() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	testCases := []struct {
		name string
		line string
	}{
		{"missing column", "chr1\t10\n"},
		{"bad begin", "chr1\tten\t20\n"},
		{"bad end", "chr1\t10\ttwenty\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.line), bedGraph, "chr1", 0, 100)
			var formatErr *genomics.FormatError
			if !errors.As(err, &formatErr) {
				t.Errorf("Decode() = %v, want FormatError", err)
			}
		})
	}
}
