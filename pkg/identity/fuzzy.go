package identity

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// TokenSortRatio scores the similarity of a and b on a 0-100 scale,
// ignoring token order. Either side empty scores 0.
func TokenSortRatio(a, b string) int {
	sa, sb := sortTokens(a), sortTokens(b)
	if sa == "" || sb == "" {
		return 0
	}
	if sa == sb {
		return 100
	}

	longest := max(utf8.RuneCountInString(sa), utf8.RuneCountInString(sb))
	dist := levenshtein.ComputeDistance(sa, sb)
	return int(math.Round(100 * (1 - float64(dist)/float64(longest))))
}

func sortTokens(s string) string {
	tokens := strings.Fields(strings.ToLower(s))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
