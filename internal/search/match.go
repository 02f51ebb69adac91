package search

import (
	"strings"

	"vodstream/catalogservice/internal/domain"
)

const (
	TypeHintMovie = "movie"
	TypeHintTV    = "tv"
)

// MatchCandidates narrows cached search results to the entries that describe
// the requested title. An empty year matches any entry. The type hint checks
// the episode count: a movie has one episode, a series more.
// Entries from lazy sources carry no episodes yet and skip that check.
func MatchCandidates(results []domain.CatalogEntry, title, year, typeHint string) []domain.CatalogEntry {
	want := NormalizeTitle(title)
	if want == "" {
		return nil
	}
	year = strings.TrimSpace(year)
	typeHint = strings.ToLower(strings.TrimSpace(typeHint))

	matched := make([]domain.CatalogEntry, 0)
	for _, entry := range results {
		if NormalizeTitle(entry.Title) != want {
			continue
		}
		if year != "" && strings.TrimSpace(entry.Year) != year {
			continue
		}
		if !domain.IsLazySource(entry.Source) && !episodeCountFits(len(entry.Episodes), typeHint) {
			continue
		}
		matched = append(matched, entry)
	}
	return matched
}

func episodeCountFits(count int, typeHint string) bool {
	switch typeHint {
	case TypeHintMovie:
		return count == 1
	case TypeHintTV:
		return count > 1
	default:
		return true
	}
}
