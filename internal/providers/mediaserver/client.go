package mediaserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"vodstream/catalogservice/internal/domain"
	"vodstream/catalogservice/internal/providers/common"
)

const defaultLabel = "Media Server"

var ErrNotConfigured = errors.New("media server is not configured")

type Config struct {
	BaseURL   string
	APIKey    string
	UserID    string
	Label     string
	UserAgent string
	Client    *http.Client
}

// Client talks to an Emby/Jellyfin-style media server. Search results carry no
// episodes; Detail resolves playable HLS URLs.
type Client struct {
	baseURL   string
	apiKey    string
	userID    string
	label     string
	userAgent string
	client    *http.Client
}

type itemsResponse struct {
	Items []item `json:"Items"`
}

type item struct {
	ID                string            `json:"Id"`
	Name              string            `json:"Name"`
	Type              string            `json:"Type"`
	ProductionYear    int               `json:"ProductionYear"`
	Overview          string            `json:"Overview"`
	ImageTags         map[string]string `json:"ImageTags"`
	IndexNumber       int               `json:"IndexNumber"`
	ParentIndexNumber int               `json:"ParentIndexNumber"`
	Status            string            `json:"Status"`
	ProviderIDs       map[string]string `json:"ProviderIds"`
}

func NewClient(cfg Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	label := strings.TrimSpace(cfg.Label)
	if label == "" {
		label = defaultLabel
	}
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		userID:    strings.TrimSpace(cfg.UserID),
		label:     label,
		userAgent: cfg.UserAgent,
		client:    client,
	}
}

func (c *Client) Name() string {
	return domain.SourceMediaServer
}

func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != "" && c.apiKey != "" && c.userID != ""
}

func (c *Client) Search(ctx context.Context, query string) ([]domain.CatalogEntry, error) {
	if !c.Enabled() {
		return []domain.CatalogEntry{}, nil
	}
	params := url.Values{
		"SearchTerm":       {strings.TrimSpace(query)},
		"IncludeItemTypes": {"Movie,Series"},
		"Recursive":        {"true"},
		"Fields":           {"ProductionYear,Overview,ProviderIds"},
		"Limit":            {"50"},
	}
	var response itemsResponse
	if err := c.get(ctx, "/Users/"+url.PathEscape(c.userID)+"/Items", params, &response); err != nil {
		return nil, err
	}
	entries := make([]domain.CatalogEntry, 0, len(response.Items))
	for _, it := range response.Items {
		if it.ID == "" || strings.TrimSpace(it.Name) == "" {
			continue
		}
		entries = append(entries, c.toEntry(it))
	}
	return entries, nil
}

// Detail returns the item with its playable episode list. Movies have a
// single episode; series list every episode ordered by season and number.
func (c *Client) Detail(ctx context.Context, id string) (domain.CatalogEntry, error) {
	if !c.Enabled() {
		return domain.CatalogEntry{}, ErrNotConfigured
	}
	var it item
	if err := c.get(ctx, "/Users/"+url.PathEscape(c.userID)+"/Items/"+url.PathEscape(id), nil, &it); err != nil {
		return domain.CatalogEntry{}, err
	}
	entry := c.toEntry(it)

	if !strings.EqualFold(it.Type, "Series") {
		entry.Episodes = []string{c.streamURL(it.ID)}
		entry.EpisodesTitles = []string{strings.TrimSpace(it.Name)}
		return entry, nil
	}

	var episodes itemsResponse
	params := url.Values{"UserId": {c.userID}, "Fields": {"Overview"}}
	if err := c.get(ctx, "/Shows/"+url.PathEscape(it.ID)+"/Episodes", params, &episodes); err != nil {
		return domain.CatalogEntry{}, err
	}
	sort.SliceStable(episodes.Items, func(i, j int) bool {
		a, b := episodes.Items[i], episodes.Items[j]
		if a.ParentIndexNumber != b.ParentIndexNumber {
			return a.ParentIndexNumber < b.ParentIndexNumber
		}
		return a.IndexNumber < b.IndexNumber
	})
	urls := make([]string, 0, len(episodes.Items))
	titles := make([]string, 0, len(episodes.Items))
	for _, episode := range episodes.Items {
		if episode.ID == "" {
			continue
		}
		urls = append(urls, c.streamURL(episode.ID))
		titles = append(titles, episodeTitle(episode))
	}
	entry.Episodes = urls
	entry.EpisodesTitles = domain.AlignEpisodeTitles(urls, titles)
	return entry, nil
}

func (c *Client) toEntry(it item) domain.CatalogEntry {
	entry := domain.CatalogEntry{
		Source:         domain.SourceMediaServer,
		ID:             it.ID,
		Title:          strings.TrimSpace(it.Name),
		Episodes:       []string{},
		EpisodesTitles: []string{},
		Desc:           common.CleanHTMLText(it.Overview),
		SourceName:     c.label,
	}
	if it.ProductionYear > 0 {
		entry.Year = strconv.Itoa(it.ProductionYear)
	}
	if strings.EqualFold(it.Type, "Series") {
		entry.TypeName = "tv"
	} else {
		entry.TypeName = "movie"
	}
	if strings.EqualFold(it.Status, "Ended") {
		entry.Remarks = "finished"
	}
	if tag := it.ImageTags["Primary"]; tag != "" {
		entry.Poster = c.baseURL + "/Items/" + url.PathEscape(it.ID) + "/Images/Primary?tag=" + url.QueryEscape(tag)
	}
	if douban, err := strconv.Atoi(it.ProviderIDs["Douban"]); err == nil {
		entry.DoubanID = douban
	}
	return entry
}

func episodeTitle(episode item) string {
	name := strings.TrimSpace(episode.Name)
	if episode.ParentIndexNumber > 0 && episode.IndexNumber > 0 {
		prefix := fmt.Sprintf("S%02dE%02d", episode.ParentIndexNumber, episode.IndexNumber)
		if name == "" {
			return prefix
		}
		return prefix + " " + name
	}
	return name
}

// streamURL is consumed by players that cannot send headers, so the key
// travels in the query string.
func (c *Client) streamURL(id string) string {
	params := url.Values{"api_key": {c.apiKey}, "MediaSourceId": {id}}
	return c.baseURL + "/Videos/" + url.PathEscape(id) + "/master.m3u8?" + params.Encode()
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dest any) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return common.DoJSON(ctx, c.client, common.Request{
		Source:    domain.SourceMediaServer,
		URL:       target,
		Headers:   map[string]string{"X-Emby-Token": c.apiKey},
		UserAgent: c.userAgent,
	}, dest)
}
