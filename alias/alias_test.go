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

package alias

import (
	"strings"
	"testing"
)

func TestTable_Resolve(t *testing.T) {
	table := NewTable([]string{"chr1", "chr2", "chrM", "X", "GL000226.1"})
	testCases := []struct {
		query string
		want  string
		ok    bool
	}{
		{"chr1", "chr1", true},
		{"1", "chr1", true},
		{"CHR2", "chr2", true},
		{"chrX", "X", true},
		{"x", "X", true},
		{"MT", "chrM", true},
		{"M", "chrM", true},
		{"gl000226.1", "GL000226.1", true},
		{"chr3", "", false},
		{"", "", false},
	}
	for _, tc := range testCases {
		t.Run(tc.query, func(t *testing.T) {
			got, ok := table.Resolve(tc.query)
			if got != tc.want || ok != tc.ok {
				t.Errorf("Resolve(%q) = %q, %v, want %q, %v", tc.query, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestTable_ExactNamesWin(t *testing.T) {
	table := NewTable([]string{"chr1", "1"})
	for _, name := range []string{"chr1", "1"} {
		if got, _ := table.Resolve(name); got != name {
			t.Errorf("Resolve(%q) = %q", name, got)
		}
	}
}

func TestTable_Add(t *testing.T) {
	table := NewTable([]string{"chr1"})
	if err := table.Add("NC_000001.11", "chr1"); err != nil {
		t.Fatalf("Add() = %v", err)
	}
	if got, ok := table.Resolve("nc_000001.11"); !ok || got != "chr1" {
		t.Errorf("Resolve() = %q, %v", got, ok)
	}
	if err := table.Add("foo", "chr9"); err == nil {
		t.Errorf("Add() to an unknown sequence succeeded")
	}
}

func TestTable_Load(t *testing.T) {
	table := NewTable([]string{"chr1", "chrUn_gl000220"})
	aliases := "# ucsc\tgenbank\trefseq\n" +
		"chr1\tCM000663.2\tNC_000001.11\n" +
		"chrUn_gl000220\tGL000220.1\n" +
		"chr9\tCM000671.2\n"
	if err := table.Load(strings.NewReader(aliases)); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	testCases := map[string]string{
		"CM000663.2":   "chr1",
		"NC_000001.11": "chr1",
		"GL000220.1":   "chrUn_gl000220",
	}
	for query, want := range testCases {
		if got, ok := table.Resolve(query); !ok || got != want {
			t.Errorf("Resolve(%q) = %q, %v, want %q", query, got, ok, want)
		}
	}
	if _, ok := table.Resolve("CM000671.2"); ok {
		t.Errorf("alias of an unknown sequence resolved")
	}
	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
}
