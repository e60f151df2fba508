// Package segmenter splits newsletter bodies into logical sections using
// structural heuristics. It has no dependencies and no state.
package segmenter

import (
	"regexp"
	"sort"
	"strings"
)

// sectionPatterns mark the start of a section. Every match start becomes a boundary.
var sectionPatterns = []*regexp.Regexp{
	// Capitalized phrase followed by a colon: "Top Stories:"
	regexp.MustCompile(`(?m)^[ \t]*[A-Z][A-Za-z0-9 \t&]*:`),
	// Capitalized phrase alone on its line: "Research & Papers". Mail bodies end lines with CRLF.
	regexp.MustCompile(`(?m)^[ \t]*[A-Z][A-Za-z \t&]+\r?$`),
	// Numbered item: "3. Something"
	regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+[A-Z]`),
	// Bullet item: "• Something"
	regexp.MustCompile(`(?m)^[ \t]*[•★✦][ \t]+[A-Z]`),
}

// Boundaries returns the sorted, de-duplicated section start offsets of body, always including 0
func Boundaries(body string) []int {
	seen := map[int]struct{}{0: {}}
	for _, re := range sectionPatterns {
		for _, loc := range re.FindAllStringIndex(body, -1) {
			seen[loc[0]] = struct{}{}
		}
	}

	offsets := make([]int, 0, len(seen))
	for off := range seen {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)
	return offsets
}

// Parse splits body into trimmed, non-empty sections in document order.
// A body without recognizable structure comes back as a single section.
func Parse(body string) []string {
	if strings.TrimSpace(body) == "" {
		return []string{}
	}

	boundaries := Boundaries(body)
	if len(boundaries) == 1 {
		return []string{strings.TrimSpace(body)}
	}

	sections := make([]string, 0, len(boundaries))
	for i, start := range boundaries {
		end := len(body)
		if i+1 < len(boundaries) {
			end = boundaries[i+1]
		}
		if section := strings.TrimSpace(body[start:end]); section != "" {
			sections = append(sections, section)
		}
	}
	return sections
}
