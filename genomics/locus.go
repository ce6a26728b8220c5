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

package genomics

import (
	"fmt"
	"strconv"
	"strings"
)

// Locus is a named genomic interval as typed by a user.
type Locus struct {
	Name string
	// Start and End are zero-based and half-open.  An End of zero selects the
	// whole reference.
	Start, End uint32
}

// ParseLocus parses strings of the form "chr1", "chr1:1000" and
// "chr1:1,000-2,000".  Positions in the input are one-based and inclusive, as
// displayed by genome browsers.
func ParseLocus(input string) (Locus, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Locus{}, &InvalidArgumentError{"locus", input, "empty"}
	}

	colon := strings.LastIndex(input, ":")
	if colon < 0 {
		return Locus{Name: input}, nil
	}
	locus := Locus{Name: input[:colon]}
	if locus.Name == "" {
		return Locus{}, &InvalidArgumentError{"locus", input, "missing reference name"}
	}

	span := strings.Replace(input[colon+1:], ",", "", -1)
	parts := strings.SplitN(span, "-", 2)
	start, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil || start == 0 {
		return Locus{}, &InvalidArgumentError{"locus", input, fmt.Sprintf("bad start %q", parts[0])}
	}
	locus.Start = uint32(start - 1)
	locus.End = uint32(start)

	if len(parts) == 2 {
		end, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return Locus{}, &InvalidArgumentError{"locus", input, fmt.Sprintf("bad end %q", parts[1])}
		}
		if uint32(end) < uint32(start) {
			return Locus{}, &InvalidArgumentError{"locus", input, "start > end"}
		}
		locus.End = uint32(end)
	}
	return locus, nil
}

func (locus Locus) String() string {
	if locus.End == 0 {
		return locus.Name
	}
	return fmt.Sprintf("%s:%d-%d", locus.Name, locus.Start+1, locus.End)
}
