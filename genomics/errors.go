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

// FormatError reports binary data that does not match the structure expected
// for a format: a wrong magic number, a corrupt block header, a truncated
// index.
type FormatError struct {
	Format string
	Err    error
}

// NewFormatError returns a *FormatError for format describing err.
func NewFormatError(format string, err error) error {
	return &FormatError{Format: format, Err: err}
}

func (err *FormatError) Error() string {
	return fmt.Sprintf("invalid %s data: %v", err.Format, err.Err)
}

func (err *FormatError) Unwrap() error {
	return err.Err
}

// InvalidArgumentError reports a call-time parameter that cannot be used.
type InvalidArgumentError struct {
	Name   string
	Value  interface{}
	Reason string
}

func (err *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", err.Name, err.Value, err.Reason)
}
