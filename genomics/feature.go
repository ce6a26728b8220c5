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

import "fmt"

// Feature is a single record returned by a track reader.  Numeric (wig-like)
// sources set Value; alignment sources also set Name.
type Feature struct {
	Chr        string
	Start, End uint32
	Value      float64
	Name       string
}

// Width returns the number of bases covered by the feature.
func (f Feature) Width() uint32 {
	if f.End <= f.Start {
		return 0
	}
	return f.End - f.Start
}

func (f Feature) String() string {
	if f.Name != "" {
		return fmt.Sprintf("%s:%d-%d(%s)=%g", f.Chr, f.Start, f.End, f.Name, f.Value)
	}
	return fmt.Sprintf("%s:%d-%d=%g", f.Chr, f.Start, f.End, f.Value)
}
