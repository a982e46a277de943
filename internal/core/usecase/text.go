package usecase

import (
	"strings"
	"unicode"
)

var stopWords = toSet(
	"a", "about", "above", "after", "again", "all", "also", "an", "and", "any", "are", "aren't", "as", "at",
	"be", "because", "been", "before", "being", "below", "between", "both", "but", "by",
	"can", "can't", "cannot", "could", "did", "didn't", "do", "does", "doesn't", "doing", "don't", "down", "during",
	"each", "few", "for", "from", "further", "get", "gets", "getting", "give", "had", "has", "have", "having",
	"here", "how", "i", "if", "in", "into", "is", "isn't", "it", "its", "itself", "just",
	"like", "make", "me", "more", "most", "my", "need", "no", "nor", "not", "now",
	"of", "off", "on", "once", "only", "or", "other", "our", "out", "over", "own",
	"please", "same", "should", "show", "so", "some", "such", "tell", "than", "that", "the", "their", "them",
	"then", "there", "these", "they", "this", "those", "through", "to", "too",
	"under", "until", "up", "use", "used", "using", "very", "want", "was", "way", "we", "were", "what",
	"when", "where", "which", "while", "who", "whom", "why", "will", "with", "work", "works", "would",
	"you", "your",
)

func toSet(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

// significantWords returns lowercased query words longer than 3 characters
// that are not stop words, in order of first appearance.
func significantWords(text string) []string {
	tokens := splitAlphaNumLower(text)
	out := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if len(token) <= 3 {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// termCoverage is the fraction of terms found literally in haystack (already lowercased).
func termCoverage(terms []string, haystack string) float64 {
	if len(terms) == 0 {
		return 0
	}
	hits := 0
	for _, term := range terms {
		if strings.Contains(haystack, strings.ToLower(term)) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func missingTerms(terms []string, haystack string) []string {
	out := make([]string, 0)
	for _, term := range terms {
		if !strings.Contains(haystack, strings.ToLower(term)) {
			out = append(out, term)
		}
	}
	return out
}

func dedupeStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
