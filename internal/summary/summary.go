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

// Package summary reduces dense numeric features to fixed-width bins.
package summary

import (
	"fmt"
	"math"
	"strings"

	"github.com/googlegenomics/trackreader/genomics"
)

// Func is a window function applied to the features in each bin.
type Func int

const (
	// None leaves features unchanged.
	None Func = iota
	// Mean is the mean value weighted by the fraction of the bin covered.
	Mean
	// Min is the smallest value in the bin.
	Min
	// Max is the largest value in the bin.
	Max
)

var funcNames = map[Func]string{
	None: "none",
	Mean: "mean",
	Min:  "min",
	Max:  "max",
}

func (f Func) String() string {
	if name, ok := funcNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Func(%d)", int(f))
}

// ParseFunc returns the window function called name.  An empty name selects
// None.
func ParseFunc(name string) (Func, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return None, nil
	case "mean":
		return Mean, nil
	case "min":
		return Min, nil
	case "max":
		return Max, nil
	}
	return None, &genomics.InvalidArgumentError{
		Name:   "window function",
		Value:  name,
		Reason: "must be one of none, mean, min or max",
	}
}

// bin accumulates the contributions of features to one output bin.
type bin struct {
	index       int64
	sum, weight float64
	min, max    float64
	count       int
}

func newBin(index int64) bin {
	return bin{index: index, min: math.Inf(1), max: math.Inf(-1)}
}

func (b bin) fold(value, weight float64) bin {
	b.sum += value * weight
	b.weight += weight
	b.min = math.Min(b.min, value)
	b.max = math.Max(b.max, value)
	b.count++
	return b
}

func (b bin) value(fn Func) float64 {
	switch fn {
	case Min:
		return b.min
	case Max:
		return b.max
	}
	return b.sum / b.weight
}

// Summarize bins features, which must be sorted by start, non-overlapping and
// on one reference, into bins of binSize bases starting at queryStart.
// Adjacent output features with equal values are merged.  When fn is None,
// binSize is at most one or features is empty, features is returned as is.
func Summarize(features []genomics.Feature, queryStart uint32, binSize float64, fn Func) ([]genomics.Feature, error) {
	if _, ok := funcNames[fn]; !ok {
		return nil, &genomics.InvalidArgumentError{Name: "window function", Value: fn, Reason: "unknown"}
	}
	if fn == None || binSize <= 1 || len(features) == 0 {
		return features, nil
	}

	s := summarizer{
		chr:        features[0].Chr,
		queryStart: float64(queryStart),
		binSize:    binSize,
		fn:         fn,
	}
	for _, feature := range features {
		s.add(feature)
	}
	s.flush()
	return merge(s.out), nil
}

type summarizer struct {
	chr        string
	queryStart float64
	binSize    float64
	fn         Func

	current bin
	active  bool
	out     []genomics.Feature
}

func (s *summarizer) position(pos uint32) float64 {
	return (float64(pos) - s.queryStart) / s.binSize
}

func (s *summarizer) add(feature genomics.Feature) {
	if feature.End <= feature.Start {
		return
	}
	start, end := s.position(feature.Start), s.position(feature.End)
	first := int64(math.Floor(start))
	last := int64(math.Ceil(end)) - 1

	if first == last {
		s.fold(first, feature.Value, end-start)
		return
	}
	s.fold(first, feature.Value, float64(first+1)-start)
	if last > first+1 {
		s.flush()
		s.emit(first+1, last, feature.Value)
	}
	s.fold(last, feature.Value, end-float64(last))
}

func (s *summarizer) fold(index int64, value, weight float64) {
	if s.active && s.current.index != index {
		s.flush()
	}
	if !s.active {
		s.current = newBin(index)
		s.active = true
	}
	s.current = s.current.fold(value, weight)
}

func (s *summarizer) flush() {
	if !s.active {
		return
	}
	s.emit(s.current.index, s.current.index+1, s.current.value(s.fn))
	s.active = false
}

// emit appends a feature covering bins [from, to).
func (s *summarizer) emit(from, to int64, value float64) {
	s.out = append(s.out, genomics.Feature{
		Chr:   s.chr,
		Start: s.coordinate(from),
		End:   s.coordinate(to),
		Value: value,
	})
}

func (s *summarizer) coordinate(index int64) uint32 {
	pos := s.queryStart + float64(index)*s.binSize
	if pos < 0 {
		return 0
	}
	return uint32(math.Round(pos))
}

// merge joins neighbouring features that carry the same value.
func merge(features []genomics.Feature) []genomics.Feature {
	var merged []genomics.Feature
	for _, feature := range features {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.Value == feature.Value && feature.Start <= last.End {
				if feature.End > last.End {
					last.End = feature.End
				}
				continue
			}
		}
		merged = append(merged, feature)
	}
	return merged
}
