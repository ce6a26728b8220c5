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

// Package alias maps the chromosome names a caller uses onto the names a
// file uses.
package alias

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Resolver maps a query name onto a file's own name.
type Resolver interface {
	// Resolve returns the file's name for name, or false when the file has
	// no such sequence.
	Resolve(name string) (string, bool)
}

// Table is a Resolver built from the names in a file.  It is safe for
// concurrent use.
type Table struct {
	mu      sync.RWMutex
	names   map[string]bool
	aliases map[string]string
}

// NewTable returns a table over the sequence names of a file.  Besides exact
// matches it resolves names case-insensitively, with or without a "chr"
// prefix, and the mitochondrial names M, MT and chrM onto one another.
func NewTable(names []string) *Table {
	t := &Table{names: make(map[string]bool), aliases: make(map[string]string)}
	for _, name := range names {
		t.names[name] = true
	}
	for _, name := range names {
		for _, alias := range defaultAliases(name) {
			t.addLocked(alias, name)
		}
	}
	return t
}

func defaultAliases(name string) []string {
	lower := strings.ToLower(name)
	aliases := []string{lower}
	if trimmed := strings.TrimPrefix(lower, "chr"); trimmed != lower {
		aliases = append(aliases, trimmed)
	} else {
		aliases = append(aliases, "chr"+lower)
	}
	switch lower {
	case "chrm", "m", "mt", "chrmt":
		aliases = append(aliases, "chrm", "m", "mt", "chrmt")
	}
	return aliases
}

// addLocked records alias for name unless alias is already taken.
func (t *Table) addLocked(alias, name string) {
	key := strings.ToLower(alias)
	if _, ok := t.aliases[key]; !ok {
		t.aliases[key] = name
	}
}

// Add makes alias resolve to name, replacing any earlier mapping.  name must
// be one of the table's names.
func (t *Table) Add(alias, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.names[name] {
		return fmt.Errorf("no sequence named %q", name)
	}
	t.aliases[strings.ToLower(alias)] = name
	return nil
}

// Load reads alias lines, such as a UCSC chromAlias file, where each line
// lists tab separated names of one sequence.  The first name on a line that
// the table knows becomes the target of the others; lines naming no known
// sequence are ignored, as are lines starting with '#'.
func (t *Table) Load(r io.Reader) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		var target string
		for _, field := range fields {
			if t.names[field] {
				target = field
				break
			}
		}
		if target == "" {
			continue
		}
		for _, field := range fields {
			if field != "" && field != target {
				t.aliases[strings.ToLower(field)] = target
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading aliases: %w", err)
	}
	return nil
}

// Resolve returns the file's name for name.
func (t *Table) Resolve(name string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.names[name] {
		return name, true
	}
	target, ok := t.aliases[strings.ToLower(name)]
	return target, ok
}

// Len returns the number of sequence names in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names)
}
