package patterns

import (
	"sort"
	"strings"
	"unicode"
)

// stopwords excluded from trigger signatures.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"from": {}, "what": {}, "how": {}, "why": {}, "when": {}, "where": {},
	"which": {}, "are": {}, "is": {}, "was": {}, "were": {}, "been": {},
	"have": {}, "has": {}, "had": {}, "does": {}, "did": {}, "can": {},
	"could": {}, "should": {}, "would": {}, "will": {}, "may": {},
	"might": {}, "about": {}, "into": {}, "over": {}, "under": {},
	"please": {}, "some": {}, "such": {}, "more": {}, "most": {},
	"other": {}, "than": {}, "then": {}, "them": {}, "they": {},
	"you": {}, "your": {}, "our": {}, "its": {}, "it's": {}, "me": {},
	"my": {}, "do": {}, "to": {}, "of": {}, "in": {}, "on": {}, "at": {},
	"by": {}, "as": {}, "an": {}, "a": {}, "i": {}, "it": {}, "be": {},
	"or": {}, "not": {}, "no": {}, "so": {}, "if": {},
}

// minTermLength drops fragments too short to carry meaning.
const minTermLength = 3

// Signature reduces a query to its trigger signature: the sorted set of
// significant key terms, joined by spaces. Equal signatures mean equal
// triggers regardless of phrasing order.
func Signature(query string) string {
	terms := KeyTerms(query)
	return strings.Join(terms, " ")
}

// KeyTerms extracts the sorted unique significant terms of a text.
func KeyTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < minTermLength {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	sort.Strings(terms)
	return terms
}

// Jaccard returns the term-set similarity of two texts in [0,1].
func Jaccard(a, b string) float64 {
	ta, tb := KeyTerms(a), KeyTerms(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		set[t] = struct{}{}
	}

	intersection := 0
	for _, t := range tb {
		if _, ok := set[t]; ok {
			intersection++
		}
	}

	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
