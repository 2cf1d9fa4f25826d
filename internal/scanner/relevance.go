package scanner

import (
	"strings"
)

// minWordLen is the shortest term considered for substring matching; shorter
// terms ("ai", "ml", "go") match too much text accidentally, so they only
// count when they appear as a whole word.
const minWordLen = 4

// MatchesDomains reports whether descriptive text is relevant to an agent's
// declared domains. Matching is case-insensitive substring plus per-word
// overlap. An agent with no declared domains matches everything: a
// broad-purpose agent should see the whole feed rather than nothing.
func MatchesDomains(domains []string, text string) bool {
	if len(domains) == 0 {
		return true
	}

	haystack := strings.ToLower(text)
	words := strings.Fields(haystack)
	for _, domain := range domains {
		d := strings.ToLower(strings.TrimSpace(domain))
		if d == "" {
			continue
		}
		if matchesTerm(haystack, words, d) {
			return true
		}
		for _, term := range strings.Fields(d) {
			if matchesTerm(haystack, words, term) {
				return true
			}
		}
	}
	return false
}

func matchesTerm(haystack string, words []string, term string) bool {
	if len(term) >= minWordLen {
		return strings.Contains(haystack, term)
	}
	for _, w := range words {
		if strings.Trim(w, ".,;:!?()[]\"'") == term {
			return true
		}
	}
	return false
}
