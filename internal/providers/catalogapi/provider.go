package catalogapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"vodstream/catalogservice/internal/domain"
	"vodstream/catalogservice/internal/providers/common"
)

const defaultMaxPages = 3

var ErrItemNotFound = errors.New("catalog item not found")

type Config struct {
	Source    domain.ProviderConfig
	Client    *http.Client
	UserAgent string
	// MaxPages bounds how many result pages one search reads.
	MaxPages int
}

// Provider queries one CMS-style catalog API (`?ac=videolist`).
type Provider struct {
	source    domain.ProviderConfig
	client    *http.Client
	userAgent string
	maxPages  int
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Provider{
		source:    cfg.Source,
		client:    client,
		userAgent: strings.TrimSpace(cfg.UserAgent),
		maxPages:  maxPages,
	}
}

func (p *Provider) Key() string {
	return strings.TrimSpace(p.source.Key)
}

func (p *Provider) Info() domain.ProviderInfo {
	label := strings.TrimSpace(p.source.Name)
	if label == "" {
		label = p.Key()
	}
	return domain.ProviderInfo{
		Name:    strings.ToLower(p.Key()),
		Label:   label,
		Kind:    "catalog",
		Enabled: p.source.Enabled(),
	}
}

func (p *Provider) Search(ctx context.Context, query string) ([]domain.CatalogEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.CatalogEntry{}, nil
	}

	first, err := p.fetchList(ctx, p.source.API, url.Values{"ac": {"videolist"}, "wd": {query}})
	if err != nil {
		return nil, err
	}
	entries := p.toEntries(first.List)

	pages := int(first.PageCount)
	if pages > p.maxPages {
		pages = p.maxPages
	}
	for page := 2; page <= pages; page++ {
		next, err := p.fetchList(ctx, p.source.API, url.Values{"ac": {"videolist"}, "wd": {query}, "pg": {fmt.Sprint(page)}})
		if err != nil {
			// Later pages are best effort; the first page already answered.
			break
		}
		entries = append(entries, p.toEntries(next.List)...)
	}
	return entries, nil
}

// Detail fetches one item by id with its full episode list.
func (p *Provider) Detail(ctx context.Context, id string) (domain.CatalogEntry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.CatalogEntry{}, ErrItemNotFound
	}
	base := strings.TrimSpace(p.source.Detail)
	if base == "" {
		base = p.source.API
	}
	response, err := p.fetchList(ctx, base, url.Values{"ac": {"videolist"}, "ids": {id}})
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	for _, entry := range p.toEntries(response.List) {
		if entry.ID == id {
			return entry, nil
		}
	}
	if len(response.List) == 1 {
		return p.toEntry(response.List[0]), nil
	}
	return domain.CatalogEntry{}, fmt.Errorf("%w: %s/%s", ErrItemNotFound, p.Key(), id)
}

func (p *Provider) fetchList(ctx context.Context, base string, params url.Values) (listResponse, error) {
	endpoint, err := url.Parse(strings.TrimSpace(base))
	if err != nil || endpoint.Host == "" {
		return listResponse{}, fmt.Errorf("%s: invalid api url %q", p.Key(), base)
	}
	query := endpoint.Query()
	for key, values := range params {
		query[key] = values
	}
	endpoint.RawQuery = query.Encode()

	var response listResponse
	err = common.DoJSON(ctx, p.client, common.Request{
		Source:    p.Key(),
		URL:       endpoint.String(),
		UserAgent: p.userAgent,
	}, &response)
	if err != nil {
		return listResponse{}, err
	}
	return response, nil
}

func (p *Provider) toEntries(items []vodItem) []domain.CatalogEntry {
	entries := make([]domain.CatalogEntry, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(string(item.ID)) == "" || strings.TrimSpace(item.Name) == "" {
			continue
		}
		entries = append(entries, p.toEntry(item))
	}
	return entries
}

func (p *Provider) toEntry(item vodItem) domain.CatalogEntry {
	episodes, titles := parsePlayList(item.PlayURL)
	sourceName := strings.TrimSpace(p.source.Name)
	if sourceName == "" {
		sourceName = p.Key()
	}
	return domain.CatalogEntry{
		Source:         p.Key(),
		ID:             strings.TrimSpace(string(item.ID)),
		Title:          strings.TrimSpace(item.Name),
		Poster:         strings.TrimSpace(item.Pic),
		Episodes:       episodes,
		EpisodesTitles: domain.AlignEpisodeTitles(episodes, titles),
		Year:           common.ParseYear(string(item.Year)),
		Desc:           common.CleanHTMLText(item.Content),
		TypeName:       strings.TrimSpace(item.TypeName),
		SourceName:     sourceName,
		DoubanID:       int(item.DoubanID),
		ProxyMode:      p.source.ProxyMode,
		Remarks:        strings.TrimSpace(item.Remarks),
	}
}
