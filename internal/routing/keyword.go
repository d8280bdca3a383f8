package routing

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"drax-assistant/internal/domain"
)

const (
	capabilityWeight  = 2
	descriptionWeight = 1
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "can": {},
	"do": {}, "for": {}, "from": {}, "how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "me": {},
	"my": {}, "of": {}, "on": {}, "or": {}, "please": {}, "the": {}, "to": {}, "using": {},
	"what": {}, "whats": {}, "with": {}, "you": {}, "your": {}, "expert": {},
}

// KeywordScorer scores providers by token overlap between the request and
// each descriptor. Capability tags weigh twice as much as description words.
// It is a pure function of the request text and the descriptors.
type KeywordScorer struct{}

func (KeywordScorer) Score(_ context.Context, q Query, providers []domain.ProviderDescriptor) ([]Candidate, error) {
	terms := uniqueTokens(q.Text)
	out := make([]Candidate, 0, len(providers))
	if len(terms) == 0 {
		for _, p := range providers {
			out = append(out, Candidate{Name: p.Name, Rationale: "no meaningful terms in request"})
		}
		return out, nil
	}

	for _, p := range providers {
		caps := tokenSet(strings.Join(p.Capabilities, " "))
		desc := tokenSet(p.Name + " " + p.Description)

		raw := 0
		var matched []string
		for _, term := range terms {
			if _, ok := caps[term]; ok {
				raw += capabilityWeight
				matched = append(matched, term)
				continue
			}
			if _, ok := desc[term]; ok {
				raw += descriptionWeight
				matched = append(matched, term)
			}
		}
		c := Candidate{
			Name:  p.Name,
			Score: float64(raw) / float64(capabilityWeight*len(terms)),
		}
		if len(matched) > 0 {
			c.Rationale = fmt.Sprintf("matched %s", strings.Join(matched, ", "))
		}
		out = append(out, c)
	}
	return out, nil
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop || len(f) < 2 {
			continue
		}
		out = append(out, normalizeToken(f))
	}
	return out
}

// normalizeToken folds simple plurals so "stocks" matches "stock".
func normalizeToken(t string) string {
	if len(t) > 3 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss") {
		return t[:len(t)-1]
	}
	return t
}

func uniqueTokens(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range tokenize(s) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range tokenize(s) {
		set[t] = struct{}{}
	}
	return set
}
