package detail

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"vodstream/catalogservice/internal/domain"
)

type fakeSource struct {
	entry   domain.CatalogEntry
	err     error
	release chan struct{}
	calls   atomic.Int32
}

func (s *fakeSource) Detail(ctx context.Context, id string) (domain.CatalogEntry, error) {
	s.calls.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return domain.CatalogEntry{}, ctx.Err()
		}
	}
	if s.err != nil {
		return domain.CatalogEntry{}, s.err
	}
	entry := s.entry
	entry.ID = id
	return entry, nil
}

type staticResolver []domain.ProviderConfig

func (r staticResolver) EffectiveSources(context.Context) ([]domain.ProviderConfig, error) {
	return r, nil
}

func catalogFetcher(source *fakeSource, opts ...Option) *Fetcher {
	resolver := staticResolver{{Key: "alpha", API: "http://alpha.test"}, {Key: "off", API: "http://off.test", Disabled: true}}
	return NewFetcher(resolver, func(domain.ProviderConfig) Source { return source }, opts...)
}

func TestCompleteIsIdempotent(t *testing.T) {
	source := &fakeSource{entry: domain.CatalogEntry{
		Title:    "三体",
		Episodes: []string{"https://cdn.test/1.m3u8", "https://cdn.test/2.m3u8"},
	}}
	fetcher := catalogFetcher(source)

	first, err := fetcher.Complete(context.Background(), "alpha", "42", "三体")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	second, err := fetcher.Complete(context.Background(), "alpha", "42", "三体")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated completion differs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1", "2"}, first.EpisodesTitles); diff != "" {
		t.Fatalf("titles not aligned (-want +got):\n%s", diff)
	}
	if first.Source != "alpha" || first.ID != "42" {
		t.Fatalf("unexpected identity: %s/%s", first.Source, first.ID)
	}
	if source.calls.Load() != 1 {
		t.Fatalf("expected memoised second call, got %d upstream calls", source.calls.Load())
	}

	second.Episodes[0] = "mutated"
	third, _ := fetcher.Complete(context.Background(), "alpha", "42", "三体")
	if third.Episodes[0] != "https://cdn.test/1.m3u8" {
		t.Fatal("memoised entry was mutated through a returned value")
	}
}

func TestCompleteCollapsesConcurrentCalls(t *testing.T) {
	source := &fakeSource{
		entry:   domain.CatalogEntry{Title: "x", Episodes: []string{"https://cdn.test/1.m3u8"}},
		release: make(chan struct{}),
	}
	fetcher := catalogFetcher(source, WithMemo(16, time.Minute))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			_, errs[index] = fetcher.Complete(context.Background(), "alpha", "7", "x")
		}(i)
	}
	deadline := time.Now().Add(time.Second)
	for source.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(source.release)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}
	if source.calls.Load() != 1 {
		t.Fatalf("expected a single upstream call, got %d", source.calls.Load())
	}
}

func TestCompleteUsesConfiguredSourceSpelling(t *testing.T) {
	source := &fakeSource{entry: domain.CatalogEntry{Title: "x", Episodes: []string{"https://cdn.test/1.m3u8"}}}
	fetcher := catalogFetcher(source)

	for _, spelling := range []string{"ALPHA", " Alpha ", "alpha"} {
		entry, err := fetcher.Complete(context.Background(), spelling, "9", "x")
		if err != nil {
			t.Fatalf("Complete(%q): %v", spelling, err)
		}
		if entry.Source != "alpha" || entry.Key() != "alpha-9" {
			t.Fatalf("Complete(%q): expected canonical source, got %q", spelling, entry.Source)
		}
	}
	if source.calls.Load() != 1 {
		t.Fatalf("spellings of one source must share the memo, got %d upstream calls", source.calls.Load())
	}

	media := &fakeSource{entry: domain.CatalogEntry{Title: "m", Episodes: []string{"u"}}}
	withMedia := NewFetcher(nil, nil, WithMediaServer(media))
	entry, err := withMedia.Complete(context.Background(), "MediaServer", "1", "m")
	if err != nil || entry.Source != domain.SourceMediaServer {
		t.Fatalf("expected %q, got %q (err %v)", domain.SourceMediaServer, entry.Source, err)
	}
}

func TestCompleteUnknownSource(t *testing.T) {
	fetcher := catalogFetcher(&fakeSource{})
	for _, source := range []string{"missing", "off", "", domain.SourceMediaServer} {
		if _, err := fetcher.Complete(context.Background(), source, "1", ""); !errors.Is(err, ErrUnknownSource) {
			t.Fatalf("source %q: expected ErrUnknownSource, got %v", source, err)
		}
	}
}

func TestCompleteWrapsUpstreamFailure(t *testing.T) {
	upstream := &domain.UpstreamStatusError{Source: "alpha", StatusCode: 502}
	fetcher := catalogFetcher(&fakeSource{err: upstream})

	_, err := fetcher.Complete(context.Background(), "alpha", "1", "")
	var fetchErr *DetailFetchError
	if !errors.As(err, &fetchErr) || fetchErr.Source != "alpha" || fetchErr.ID != "1" {
		t.Fatalf("expected DetailFetchError, got %v", err)
	}
	if !errors.Is(err, upstream) {
		t.Fatalf("expected wrapped upstream error, got %v", err)
	}
}

func TestCompleteEntryRoutesIntegrations(t *testing.T) {
	media := &fakeSource{entry: domain.CatalogEntry{Title: "m", Episodes: []string{"http://media.test/Videos/1/master.m3u8"}}}
	fetcher := NewFetcher(nil, nil, WithMediaServer(media))

	skeletal := domain.CatalogEntry{Source: domain.SourceMediaServer, ID: "1", Title: "m", Poster: "http://media.test/p.jpg", SourceName: "Home"}
	completed, err := fetcher.CompleteEntry(context.Background(), skeletal)
	if err != nil {
		t.Fatalf("CompleteEntry: %v", err)
	}
	if len(completed.Episodes) != 1 || completed.Poster != skeletal.Poster || completed.SourceName != "Home" {
		t.Fatalf("unexpected completed entry: %+v", completed)
	}

	ready := domain.CatalogEntry{Source: "alpha", ID: "2", Episodes: []string{"u"}}
	unchanged, err := fetcher.CompleteEntry(context.Background(), ready)
	if err != nil || !cmp.Equal(ready, unchanged) {
		t.Fatalf("entry with episodes must pass through: %+v %v", unchanged, err)
	}
}

func TestCompleteEntryKeepsPriorEntryOnFailure(t *testing.T) {
	fetcher := NewFetcher(nil, nil, WithLibrary(&fakeSource{err: errors.New("listing failed")}))
	skeletal := domain.CatalogEntry{Source: domain.SourceLibrary, ID: "x", Title: "x"}

	got, err := fetcher.CompleteEntry(context.Background(), skeletal)
	var fetchErr *DetailFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected DetailFetchError, got %v", err)
	}
	if !cmp.Equal(skeletal, got) {
		t.Fatalf("expected prior entry back, got %+v", got)
	}
}
