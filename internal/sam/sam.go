// Package sam provides support for parsing SAM header text.
package sam

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
)

var tagRe = regexp.MustCompile(`\b(SN|AN):(\S+)\b`)

// Reference is a reference sequence declared by an @SQ line.
type Reference struct {
	// Name is the SN tag.
	Name string
	// Aliases are the alternative names listed in the AN tag.
	Aliases []string
}

// References returns the @SQ references declared in a SAM header, in order.
func References(text string) ([]Reference, error) {
	var references []Reference

	// @SQ SN:foo LN:5 AN:bar,baz ...
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(nil, 1<<20)
	for scanner.Scan() {
		if !strings.HasPrefix(scanner.Text(), "@SQ") {
			continue
		}
		var reference Reference
		for _, tag := range tagRe.FindAllStringSubmatch(scanner.Text(), -1) {
			switch tag[1] {
			case "SN":
				reference.Name = tag[2]
			case "AN":
				reference.Aliases = append(reference.Aliases, strings.Split(tag[2], ",")...)
			}
		}
		if reference.Name == "" {
			return nil, fmt.Errorf("@SQ line %d has no SN tag", len(references)+1)
		}
		references = append(references, reference)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	return references, nil
}
