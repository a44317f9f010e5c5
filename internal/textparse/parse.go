// Package textparse turns recognised label text into candidate ingredient
// names.
package textparse

import (
	"regexp"
	"strings"
)

// marker finds the first "ingredients" heading followed by a colon or
// whitespace; the list is everything after it.
var marker = regexp.MustCompile(`(?is)ingredients[:\s]+(.*)`)

// Parse returns the comma-separated segments of text, trimmed and lowercased,
// in order and with duplicates kept. When the text contains an ingredients
// marker only the part after the first marker is used. Empty segments are
// dropped; empty input yields an empty slice.
func Parse(text string) []string {
	body := text
	if m := marker.FindStringSubmatch(text); m != nil {
		body = m[1]
	}

	names := []string{}
	for _, seg := range strings.Split(body, ",") {
		seg = strings.ToLower(strings.TrimSpace(seg))
		if seg == "" {
			continue
		}
		names = append(names, seg)
	}
	return names
}
