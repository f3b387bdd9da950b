// Package rag selects knowledge entries used to ground reply generation.
package rag

import (
	"sort"
	"strings"
	"unicode"

	"inbox_worker/core/domain"
)

type Ranker struct {
	categoryWeight float64
	tagWeight      float64
	titleWeight    float64
}

func NewRanker() *Ranker {
	return &Ranker{
		categoryWeight: 2.0,
		tagWeight:      1.0,
		titleWeight:    0.5,
	}
}

type RankedEntry struct {
	*domain.KnowledgeEntry
	Score float64
}

// Rank scores entries by tag and category relevance to the record, then
// orders ties by recency. At most n entries are returned.
func (r *Ranker) Rank(entries []*domain.KnowledgeEntry, category domain.Category, content string, n int) []*RankedEntry {
	if len(entries) == 0 || n <= 0 {
		return nil
	}

	words := tokenize(content)
	ranked := make([]*RankedEntry, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		ranked = append(ranked, &RankedEntry{
			KnowledgeEntry: e,
			Score:          r.score(e, category, words),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].CreatedAt.After(ranked[j].CreatedAt)
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func (r *Ranker) score(e *domain.KnowledgeEntry, category domain.Category, words map[string]struct{}) float64 {
	var score float64
	cat := normalizeTerm(string(category))

	if cat != "" && normalizeTerm(e.Category) == cat {
		score += r.categoryWeight
	}
	for _, tag := range e.Tags {
		t := normalizeTerm(tag)
		if t == "" {
			continue
		}
		if t == cat {
			score += r.categoryWeight
			continue
		}
		if _, ok := words[t]; ok {
			score += r.tagWeight
		}
	}
	for w := range tokenize(e.Title) {
		if _, ok := words[w]; ok {
			score += r.titleWeight
		}
	}
	return score
}

func normalizeTerm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// tokenize lowercases s and splits it on anything that is not a letter or
// digit. Words shorter than three runes are dropped.
func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len([]rune(f)) >= 3 {
			words[f] = struct{}{}
		}
	}
	return words
}
