// Package identity turns raw product labels into stable product identities.
package identity

import (
	"regexp"
	"strings"
)

var (
	// Everything except letters, digits, underscore, whitespace and hyphen.
	nonWord = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)

	articles = map[string]bool{"the": true, "a": true, "an": true}

	// Marketplace names carry no identity information.
	marketplaceStopwords = map[string]bool{
		"amazon":     true,
		"walmart":    true,
		"ebay":       true,
		"tiktok":     true,
		"reddit":     true,
		"aliexpress": true,
		"etsy":       true,
	}
)

// Normalize maps a raw product label to its comparison key. It is total and
// idempotent; empty input yields the empty string.
func Normalize(raw string) string {
	s := strings.ToLower(raw)
	s = nonWord.ReplaceAllString(s, "")

	tokens := strings.Fields(s)
	kept := tokens[:0]
	for _, t := range tokens {
		if !marketplaceStopwords[t] {
			kept = append(kept, t)
		}
	}
	for len(kept) > 0 && articles[kept[0]] {
		kept = kept[1:]
	}
	return strings.Join(kept, " ")
}
