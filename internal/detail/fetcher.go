package detail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
	"vodstream/catalogservice/internal/domain"
	"vodstream/catalogservice/internal/metrics"
	"vodstream/catalogservice/internal/search"
)

const (
	DefaultTimeout  = 20 * time.Second
	defaultMemoTTL  = 5 * time.Minute
	defaultMemoSize = 1024
)

var ErrUnknownSource = errors.New("unknown detail source")

// DetailFetchError reports an upstream failure while completing an entry. The
// caller keeps the skeletal entry it already has.
type DetailFetchError struct {
	Source string
	ID     string
	Err    error
}

func (e *DetailFetchError) Error() string {
	return fmt.Sprintf("detail %s/%s: %v", e.Source, e.ID, e.Err)
}

func (e *DetailFetchError) Unwrap() error {
	return e.Err
}

// Source resolves one item into an entry with its episode list.
type Source interface {
	Detail(ctx context.Context, id string) (domain.CatalogEntry, error)
}

type CatalogFactory func(cfg domain.ProviderConfig) Source

type Fetcher struct {
	mediaServer Source
	library     Source
	resolver    search.SourceResolver
	newCatalog  CatalogFactory
	timeout     time.Duration
	group       singleflight.Group
	memo        *expirable.LRU[string, domain.CatalogEntry]
}

type Option func(*Fetcher)

func WithMediaServer(source Source) Option {
	return func(f *Fetcher) {
		f.mediaServer = source
	}
}

func WithLibrary(source Source) Option {
	return func(f *Fetcher) {
		f.library = source
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

func WithMemo(size int, ttl time.Duration) Option {
	return func(f *Fetcher) {
		if size <= 0 {
			size = defaultMemoSize
		}
		f.memo = expirable.NewLRU[string, domain.CatalogEntry](size, nil, ttl)
	}
}

func NewFetcher(resolver search.SourceResolver, factory CatalogFactory, opts ...Option) *Fetcher {
	f := &Fetcher{
		resolver:   resolver,
		newCatalog: factory,
		timeout:    DefaultTimeout,
		memo:       expirable.NewLRU[string, domain.CatalogEntry](defaultMemoSize, nil, defaultMemoTTL),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Complete fetches the full entry for (source, id). Identical concurrent calls
// share one upstream request and results are memoised briefly, so repeating a
// call returns the same entry.
func (f *Fetcher) Complete(ctx context.Context, source, id, title string) (domain.CatalogEntry, error) {
	id = strings.TrimSpace(id)
	backend, source, err := f.route(ctx, strings.TrimSpace(source))
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	key := domain.CandidateKey(source, id)

	if cached, ok := f.memo.Get(key); ok {
		metrics.DetailRequestsTotal.WithLabelValues(source, "memo").Inc()
		return cached.Clone(), nil
	}

	ch := f.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		entry, err := backend.Detail(fetchCtx, id)
		if err != nil {
			return domain.CatalogEntry{}, err
		}
		if strings.TrimSpace(entry.Title) == "" {
			entry.Title = strings.TrimSpace(title)
		}
		entry.Source = source
		entry.ID = id
		entry.EpisodesTitles = domain.AlignEpisodeTitles(entry.Episodes, entry.EpisodesTitles)
		f.memo.Add(key, entry)
		return entry, nil
	})

	select {
	case <-ctx.Done():
		return domain.CatalogEntry{}, &DetailFetchError{Source: source, ID: id, Err: ctx.Err()}
	case result := <-ch:
		if result.Err != nil {
			metrics.DetailRequestsTotal.WithLabelValues(source, "error").Inc()
			slog.Warn("detail fetch failed",
				slog.String("source", source),
				slog.String("id", id),
				slog.String("error", result.Err.Error()),
			)
			return domain.CatalogEntry{}, &DetailFetchError{Source: source, ID: id, Err: result.Err}
		}
		metrics.DetailRequestsTotal.WithLabelValues(source, "ok").Inc()
		return result.Val.(domain.CatalogEntry).Clone(), nil
	}
}

// CompleteEntry returns entry unchanged when it already has episodes. On
// failure the prior entry is returned together with the error.
func (f *Fetcher) CompleteEntry(ctx context.Context, entry domain.CatalogEntry) (domain.CatalogEntry, error) {
	if !entry.NeedsDetail() {
		return entry, nil
	}
	completed, err := f.Complete(ctx, entry.Source, entry.ID, entry.Title)
	if err != nil {
		return entry, err
	}
	if completed.Poster == "" {
		completed.Poster = entry.Poster
	}
	if completed.SourceName == "" {
		completed.SourceName = entry.SourceName
	}
	return completed, nil
}

// route resolves source case-insensitively and returns the backend together
// with the source's configured spelling, which keys memo and singleflight.
func (f *Fetcher) route(ctx context.Context, source string) (Source, string, error) {
	switch lowered := strings.ToLower(source); lowered {
	case domain.SourceMediaServer:
		if f.mediaServer != nil {
			return f.mediaServer, lowered, nil
		}
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownSource, source)
	case domain.SourceLibrary:
		if f.library != nil {
			return f.library, lowered, nil
		}
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	if f.resolver == nil || f.newCatalog == nil || source == "" {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	sources, err := f.resolver.EffectiveSources(ctx)
	if err != nil {
		return nil, "", &DetailFetchError{Source: source, Err: err}
	}
	for _, cfg := range sources {
		key := strings.TrimSpace(cfg.Key)
		if strings.EqualFold(key, source) && cfg.Enabled() {
			return f.newCatalog(cfg), key, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnknownSource, source)
}
