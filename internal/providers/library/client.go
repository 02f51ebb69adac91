package library

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"vodstream/catalogservice/internal/domain"
	"vodstream/catalogservice/internal/providers/common"
)

const defaultLabel = "Personal Library"

var (
	ErrNotConfigured = errors.New("personal library is not configured")
	ErrListFailed    = errors.New("library listing failed")
	ErrInvalidID     = errors.New("invalid library item id")
)

var (
	bracketYearPattern = regexp.MustCompile(`\s*[\(\[（【]\s*((?:19|20)\d{2})\s*[\)\]）】]\s*`)
	videoExtensions    = map[string]struct{}{".mp4": {}, ".mkv": {}, ".m3u8": {}, ".ts": {}, ".flv": {}, ".webm": {}, ".mov": {}, ".avi": {}}
)

type Config struct {
	BaseURL   string
	Token     string
	Root      string
	Label     string
	UserAgent string
	Client    *http.Client
	Cache     *MetadataCache
}

// Client reads an OpenList/alist-style file server where each directory under
// Root is one title and the video files inside it are its episodes.
type Client struct {
	baseURL   string
	token     string
	root      string
	label     string
	userAgent string
	client    *http.Client
	cache     *MetadataCache
}

type listRequest struct {
	Path    string `json:"path"`
	Refresh bool   `json:"refresh"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
}

type listResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Content []fsObject `json:"content"`
		Total   int        `json:"total"`
	} `json:"data"`
}

type fsObject struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
	Sign  string `json:"sign"`
	Thumb string `json:"thumb"`
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
	root := "/" + strings.Trim(strings.TrimSpace(cfg.Root), "/")
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:     strings.TrimSpace(cfg.Token),
		root:      root,
		label:     label,
		userAgent: cfg.UserAgent,
		client:    client,
		cache:     cfg.Cache,
	}
}

func (c *Client) Name() string {
	return domain.SourceLibrary
}

func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// Search matches title directories by a case-insensitive substring test that
// ignores whitespace. Results carry no episodes until Detail is called.
func (c *Client) Search(ctx context.Context, query string) ([]domain.CatalogEntry, error) {
	if !c.Enabled() {
		return []domain.CatalogEntry{}, nil
	}
	needle := compact(query)
	if needle == "" {
		return []domain.CatalogEntry{}, nil
	}
	objects, err := c.list(ctx, c.root)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.CatalogEntry, 0)
	for _, object := range objects {
		if !object.IsDir || !strings.Contains(compact(object.Name), needle) {
			continue
		}
		entries = append(entries, c.toEntry(object))
	}
	return entries, nil
}

// Detail lists the video files of one title directory in name order.
func (c *Client) Detail(ctx context.Context, id string) (domain.CatalogEntry, error) {
	if !c.Enabled() {
		return domain.CatalogEntry{}, ErrNotConfigured
	}
	if id == "" || id == ".." || strings.ContainsAny(id, "/\\") {
		return domain.CatalogEntry{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	dir := path.Join(c.root, id)
	objects, err := c.list(ctx, dir)
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	files := make([]fsObject, 0, len(objects))
	for _, object := range objects {
		if object.IsDir {
			continue
		}
		if _, ok := videoExtensions[strings.ToLower(path.Ext(object.Name))]; ok {
			files = append(files, object)
		}
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	entry := c.toEntry(fsObject{Name: id, IsDir: true})
	for _, file := range files {
		entry.Episodes = append(entry.Episodes, c.downloadURL(path.Join(dir, file.Name), file.Sign))
		entry.EpisodesTitles = append(entry.EpisodesTitles, strings.TrimSuffix(file.Name, path.Ext(file.Name)))
	}
	if len(files) == 1 {
		entry.TypeName = "movie"
	} else if len(files) > 1 {
		entry.TypeName = "tv"
	}
	return entry, nil
}

func (c *Client) toEntry(object fsObject) domain.CatalogEntry {
	title := object.Name
	year := ""
	if match := bracketYearPattern.FindStringSubmatch(title); match != nil {
		year = match[1]
		title = bracketYearPattern.ReplaceAllString(title, " ")
	}
	return domain.CatalogEntry{
		Source:         domain.SourceLibrary,
		ID:             object.Name,
		Title:          strings.TrimSpace(title),
		Poster:         common.AbsoluteURL(c.baseURL, object.Thumb),
		Episodes:       []string{},
		EpisodesTitles: []string{},
		Year:           year,
		SourceName:     c.label,
	}
}

func (c *Client) downloadURL(filePath, sign string) string {
	escaped := (&url.URL{Path: filePath}).EscapedPath()
	link := c.baseURL + "/d" + escaped
	if sign != "" {
		link += "?sign=" + url.QueryEscape(sign)
	}
	return link
}

func (c *Client) list(ctx context.Context, dir string) ([]fsObject, error) {
	if cached, ok := c.cache.get(dir); ok {
		return cached, nil
	}
	body, err := json.Marshal(listRequest{Path: dir, PerPage: 0, Page: 1})
	if err != nil {
		return nil, err
	}
	var response listResponse
	err = common.DoJSON(ctx, c.client, common.Request{
		Source:    domain.SourceLibrary,
		Method:    http.MethodPost,
		URL:       c.baseURL + "/api/fs/list",
		Body:      bytes.NewReader(body),
		Headers:   map[string]string{"Authorization": c.token, "Content-Type": "application/json"},
		UserAgent: c.userAgent,
	}, &response)
	if err != nil {
		return nil, err
	}
	if response.Code != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: %d %s", ErrListFailed, dir, response.Code, response.Message)
	}
	c.cache.put(dir, response.Data.Content)
	return response.Data.Content, nil
}

func compact(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), ""))
}
