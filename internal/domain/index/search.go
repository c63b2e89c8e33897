package index

import (
	"cmp"
	"slices"
	"strings"
)

// match ranks, best first.
const (
	rankExact = iota
	rankPrefix
	rankSubstring
	rankQualified
	rankNone
)

func rank(e *Entry, query string) int {
	name := strings.ToLower(e.Name)
	switch {
	case name == query:
		return rankExact
	case strings.HasPrefix(name, query):
		return rankPrefix
	case strings.Contains(name, query):
		return rankSubstring
	case strings.Contains(strings.ToLower(e.QualifiedName()), query):
		return rankQualified
	default:
		return rankNone
	}
}

// Search returns entries whose name matches query case-insensitively,
// exact matches first, then prefix, substring and qualified-name matches.
// Ties are ordered by name, path and position. limit <= 0 means no limit.
// An empty query matches nothing.
func Search(entries []Entry, query string, limit int) []Entry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	type hit struct {
		rank int
		e    *Entry
	}
	var hits []hit
	for i := range entries {
		if r := rank(&entries[i], query); r != rankNone {
			hits = append(hits, hit{r, &entries[i]})
		}
	}
	slices.SortFunc(hits, func(a, b hit) int {
		return cmp.Or(
			cmp.Compare(a.rank, b.rank),
			cmp.Compare(a.e.Name, b.e.Name),
			Compare(a.e, b.e),
		)
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Entry, len(hits))
	for i, h := range hits {
		out[i] = *h.e
	}
	return out
}

// Compare orders entries by path, then position.
func Compare(a, b *Entry) int {
	return cmp.Or(
		cmp.Compare(a.Path, b.Path),
		cmp.Compare(a.Range.Start.Line, b.Range.Start.Line),
		cmp.Compare(a.Range.Start.Character, b.Range.Start.Character),
	)
}
