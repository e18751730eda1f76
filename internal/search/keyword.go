package search

import (
	"sort"
	"strings"

	"tlcharts/internal/domain"
)

// Field weights of the lexical scorer
const (
	weightTitle       = 3.0
	weightTags        = 2.0
	weightDomainPage  = 2.0
	weightColumns     = 1.5
	weightDescription = 1.0
	bonusTitlePhrase  = 2.0

	maxPerToken = weightTitle + weightTags + weightDomainPage + weightColumns + weightDescription
)

type indexedDoc struct {
	api         domain.APIDescriptor
	titleLower  string
	title       tokenSet
	tags        tokenSet
	domainPage  tokenSet
	columns     tokenSet
	description tokenSet
}

func newIndexedDoc(api domain.APIDescriptor) indexedDoc {
	cols := make([]string, 0, len(api.Columns))
	for _, c := range api.Columns {
		cols = append(cols, c.Name)
	}

	return indexedDoc{
		api:         api,
		titleLower:  strings.ToLower(api.Title),
		title:       newTokenSet(api.Title),
		tags:        newTokenSet(api.Tags...),
		domainPage:  newTokenSet(api.Domain, api.Page),
		columns:     newTokenSet(cols...),
		description: newTokenSet(api.Description),
	}
}

// text is what gets embedded for the vector side
func (d *indexedDoc) text() string {
	var b strings.Builder
	b.WriteString(d.api.Title)
	b.WriteString(". ")
	b.WriteString(d.api.Description)
	b.WriteString(". domain ")
	b.WriteString(d.api.Domain)
	if d.api.Page != "" {
		b.WriteString(" ")
		b.WriteString(d.api.Page)
	}
	if len(d.api.Tags) > 0 {
		b.WriteString(". tags ")
		b.WriteString(strings.Join(d.api.Tags, " "))
	}
	if len(d.api.Columns) > 0 {
		b.WriteString(". columns")
		for _, c := range d.api.Columns {
			b.WriteString(" ")
			b.WriteString(strings.ReplaceAll(c.Name, "_", " "))
		}
	}
	return b.String()
}

func (d *indexedDoc) score(tokens []string, normalized string) float64 {
	var s float64
	for _, t := range tokens {
		if d.title.has(t) {
			s += weightTitle
		}
		if d.tags.has(t) {
			s += weightTags
		}
		if d.domainPage.has(t) {
			s += weightDomainPage
		}
		if d.columns.has(t) {
			s += weightColumns
		}
		if d.description.has(t) {
			s += weightDescription
		}
	}
	if s > 0 && normalized != "" && strings.Contains(d.titleLower, normalized) {
		s += bonusTitlePhrase
	}
	return s
}

// relevance maps a raw lexical score into [0,1]
func relevance(raw float64, tokens int) float64 {
	if raw <= 0 || tokens == 0 {
		return 0
	}
	r := raw / (maxPerToken*float64(tokens) + bonusTitlePhrase)
	if r > 1 {
		return 1
	}
	return r
}

type scored struct {
	id    string
	score float64
}

// sortScored orders by score desc, ties by id asc
func sortScored(s []scored) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].score != s[j].score {
			return s[i].score > s[j].score
		}
		return s[i].id < s[j].id
	})
}

func keywordRank(docs []indexedDoc, query string) []scored {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}
	normalized := domain.NormalizeQuery(query)

	out := make([]scored, 0, len(docs))
	for i := range docs {
		raw := docs[i].score(tokens, normalized)
		if raw <= 0 {
			continue
		}
		out = append(out, scored{id: docs[i].api.ID, score: relevance(raw, len(tokens))})
	}
	sortScored(out)
	return out
}
