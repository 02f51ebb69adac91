package domain

import (
	"strconv"
	"strings"
)

type SubtitleTrack struct {
	Label    string `json:"label"`
	URL      string `json:"url"`
	Language string `json:"language,omitempty"`
}

// CatalogEntry is the canonical search result every provider adapter normalizes into.
// An entry with no episodes from a lazily-resolving provider must be completed
// through the detail endpoint before playback.
type CatalogEntry struct {
	Source         string                  `json:"source"`
	ID             string                  `json:"id"`
	Title          string                  `json:"title"`
	Poster         string                  `json:"poster"`
	Episodes       []string                `json:"episodes"`
	EpisodesTitles []string                `json:"episodes_titles"`
	Year           string                  `json:"year"`
	Desc           string                  `json:"desc,omitempty"`
	TypeName       string                  `json:"type_name,omitempty"`
	SourceName     string                  `json:"source_name"`
	DoubanID       int                     `json:"douban_id,omitempty"`
	ProxyMode      bool                    `json:"proxyMode,omitempty"`
	Subtitles      map[int][]SubtitleTrack `json:"subtitles,omitempty"`
	Remarks        string                  `json:"remarks,omitempty"`
}

// Key identifies an entry across providers.
func (e CatalogEntry) Key() string {
	return CandidateKey(e.Source, e.ID)
}

func CandidateKey(source, id string) string {
	return source + "-" + id
}

func (e CatalogEntry) NeedsDetail() bool {
	return len(e.Episodes) == 0
}

var completedMarkers = []string{"完结", "全集", "已完结", "完結", "finished", "complete"}

// Completed reports whether the remarks mark the title as finished airing.
func (e CatalogEntry) Completed() bool {
	remarks := strings.ToLower(strings.TrimSpace(e.Remarks))
	if remarks == "" {
		return false
	}
	for _, marker := range completedMarkers {
		if strings.Contains(remarks, marker) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so cached values are never shared with callers.
func (e CatalogEntry) Clone() CatalogEntry {
	cloned := e
	cloned.Episodes = append([]string(nil), e.Episodes...)
	cloned.EpisodesTitles = append([]string(nil), e.EpisodesTitles...)
	if e.Subtitles != nil {
		cloned.Subtitles = make(map[int][]SubtitleTrack, len(e.Subtitles))
		for index, tracks := range e.Subtitles {
			cloned.Subtitles[index] = append([]SubtitleTrack(nil), tracks...)
		}
	}
	return cloned
}

func CloneEntries(entries []CatalogEntry) []CatalogEntry {
	if entries == nil {
		return nil
	}
	out := make([]CatalogEntry, len(entries))
	for i, entry := range entries {
		out[i] = entry.Clone()
	}
	return out
}

// AlignEpisodeTitles pads or trims titles so both lists have equal length.
// Missing titles are numbered from one.
func AlignEpisodeTitles(episodes, titles []string) []string {
	if len(episodes) == 0 {
		return []string{}
	}
	aligned := make([]string, len(episodes))
	for i := range episodes {
		if i < len(titles) && strings.TrimSpace(titles[i]) != "" {
			aligned[i] = strings.TrimSpace(titles[i])
			continue
		}
		aligned[i] = strconv.Itoa(i + 1)
	}
	return aligned
}

type SearchResponse struct {
	Results   []CatalogEntry   `json:"results"`
	Providers []ProviderStatus `json:"-"`
	ElapsedMS int64            `json:"-"`
	Cacheable bool             `json:"-"`
}

// Sources served by the privileged integrations. Their search results carry no
// episodes until completed.
const (
	SourceMediaServer = "mediaserver"
	SourceLibrary     = "library"
)

func IsLazySource(source string) bool {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case SourceMediaServer, SourceLibrary:
		return true
	default:
		return false
	}
}
