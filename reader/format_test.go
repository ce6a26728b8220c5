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

package reader

import "testing"

func TestParseFormat(t *testing.T) {
	testCases := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"BAM", BAM, false},
		{"bam", BAM, false},
		{"Tabix", Tabix, false},
		{"BIGWIG", BigWig, false},
		{"cram", "", true},
		{"", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseFormat(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestDetectFormat(t *testing.T) {
	testCases := []struct {
		location string
		want     Format
		wantErr  bool
	}{
		{"gs://bucket/sample.bam", BAM, false},
		{"/data/signal.bw", BigWig, false},
		{"https://example.com/signal.bigWig?token=x", BigWig, false},
		{"peaks.bed.gz", Tabix, false},
		{"calls.vcf.bgz", Tabix, false},
		{"reads.cram", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.location, func(t *testing.T) {
			got, err := DetectFormat(tc.location)
			if (err != nil) != tc.wantErr {
				t.Fatalf("DetectFormat(%q) error = %v, wantErr %v", tc.location, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("DetectFormat(%q) = %q, want %q", tc.location, got, tc.want)
			}
		})
	}
}

func TestIndexLocation(t *testing.T) {
	testCases := []struct {
		location string
		format   Format
		want     string
	}{
		{"gs://bucket/sample.bam", BAM, "gs://bucket/sample.bam.bai"},
		{"/data/peaks.bed.gz", Tabix, "/data/peaks.bed.gz.tbi"},
		{"https://example.com/a.bam?sig=1", BAM, "https://example.com/a.bam.bai?sig=1"},
		{"/data/signal.bw", BigWig, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.location, func(t *testing.T) {
			if got := IndexLocation(tc.location, tc.format); got != tc.want {
				t.Errorf("IndexLocation(%q) = %q, want %q", tc.location, got, tc.want)
			}
		})
	}
}
