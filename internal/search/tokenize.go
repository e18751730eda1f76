package search

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "on": {}, "in": {}, "for": {}, "by": {},
	"and": {}, "or": {}, "to": {}, "with": {}, "from": {}, "at": {}, "as": {},
	"is": {}, "are": {}, "was": {}, "what": {}, "how": {}, "which": {}, "me": {},
	"show": {}, "display": {}, "give": {}, "get": {}, "plot": {}, "chart": {}, "graph": {},
	"vs": {}, "versus": {}, "over": {}, "per": {}, "all": {}, "my": {},
}

// Tokenize lower-cases s, splits on non-alphanumerics, drops stop words and strips plurals
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, stem(f))
	}
	return out
}

func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}

type tokenSet map[string]struct{}

func newTokenSet(parts ...string) tokenSet {
	ts := make(tokenSet)
	for _, p := range parts {
		for _, t := range Tokenize(p) {
			ts[t] = struct{}{}
		}
	}
	return ts
}

func (ts tokenSet) has(t string) bool {
	_, ok := ts[t]
	return ok
}
