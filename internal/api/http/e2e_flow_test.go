package apihttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"vodstream/catalogservice/internal/detail"
	"vodstream/catalogservice/internal/domain"
	"vodstream/catalogservice/internal/probe"
	"vodstream/catalogservice/internal/providers/catalogapi"
	"vodstream/catalogservice/internal/resultcache"
	"vodstream/catalogservice/internal/search"
	"vodstream/catalogservice/internal/selector"
)

type e2eResolver struct {
	sources []domain.ProviderConfig
}

func (r e2eResolver) EffectiveSources(context.Context) ([]domain.ProviderConfig, error) {
	return append([]domain.ProviderConfig(nil), r.sources...), nil
}

// newMediaOrigin serves a master playlist per episode. Paths under /slow/ are
// delayed and advertise 720p, the rest 1080p.
func newMediaOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slow := strings.HasPrefix(r.URL.Path, "/slow/")
		if slow {
			time.Sleep(150 * time.Millisecond)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/index.m3u8"):
			resolution := "1920x1080"
			if slow {
				resolution = "1280x720"
			}
			fmt.Fprintf(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=%s\nhd.m3u8\n", resolution)
		case strings.HasSuffix(r.URL.Path, "/hd.m3u8"):
			fmt.Fprint(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.0,\nseg0.ts\n#EXT-X-ENDLIST\n")
		case strings.HasSuffix(r.URL.Path, "/seg0.ts"):
			w.Header().Set("Content-Type", "video/mp2t")
			_, _ = w.Write(make([]byte, 64*1024))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newCatalogUpstream(t *testing.T, id, mediaBase string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wd") == "" && r.URL.Query().Get("ids") == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		playURL := fmt.Sprintf("第1集$%s/ep1/index.m3u8#第2集$%s/ep2/index.m3u8", mediaBase, mediaBase)
		payload := map[string]any{
			"code":      1,
			"page":      1,
			"pagecount": 1,
			"list": []map[string]any{{
				"vod_id":        id,
				"vod_name":      "三体",
				"vod_year":      "2023",
				"type_name":     "国产剧",
				"vod_play_from": "m3u8",
				"vod_play_url":  playURL,
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestEndToEndSearchSelectAndDetail(t *testing.T) {
	origin := newMediaOrigin(t)
	alpha := newCatalogUpstream(t, "1024", origin.URL+"/fast")
	beta := newCatalogUpstream(t, "2048", origin.URL+"/slow")

	resolver := e2eResolver{sources: []domain.ProviderConfig{
		{Key: "alpha", Name: "Alpha", API: alpha.URL + "/api.php/provide/vod"},
		{Key: "beta", Name: "Beta", API: beta.URL + "/api.php/provide/vod"},
		{Key: "off", Name: "Off", API: "http://127.0.0.1:1/api", Disabled: true},
	}}
	searchService := search.NewService(resolver, func(cfg domain.ProviderConfig) search.Provider {
		return catalogapi.NewProvider(catalogapi.Config{Source: cfg})
	}, search.WithProviderTimeout(5*time.Second))
	fetcher := detail.NewFetcher(resolver, func(cfg domain.ProviderConfig) detail.Source {
		return catalogapi.NewProvider(catalogapi.Config{Source: cfg})
	})
	sel := selector.New(probe.NewHTTPProber(probe.Config{SampleBytes: 32 * 1024}), selector.WithProbeTimeout(5*time.Second))
	cache := resultcache.New(resultcache.NewMemoryStore(16, time.Minute))

	handler := NewServer(searchService,
		WithResultCache(cache),
		WithDetail(fetcher),
		WithSelector(sel),
		WithSelectTimeout(10*time.Second),
	).Handler()

	req := httptest.NewRequest(http.MethodGet, "/search?q="+url.QueryEscape("三体"), nil)
	req.Header.Set(sessionHeader, "e2e")
	rec := serve(handler, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var searchResult struct {
		Results []domain.CatalogEntry `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &searchResult); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(searchResult.Results) != 2 || searchResult.Results[0].Source != "alpha" || searchResult.Results[1].Source != "beta" {
		t.Fatalf("unexpected search results %+v", searchResult.Results)
	}
	if rec.Header().Get("Cache-Control") == "" {
		t.Fatalf("expected cache directive on non-empty results")
	}

	req = httptest.NewRequest(http.MethodGet, "/source-select?title="+url.QueryEscape("三体")+"&year=2023&type=tv", nil)
	req.Header.Set(sessionHeader, "e2e")
	rec = serve(handler, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("select: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var selection struct {
		Selected   domain.CatalogEntry            `json:"selected"`
		Candidates []domain.ScoredCandidate       `json:"candidates"`
		Probes     map[string]domain.ProbeOutcome `json:"probes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &selection); err != nil {
		t.Fatalf("decode select: %v", err)
	}
	if selection.Selected.Key() != "alpha-1024" {
		t.Fatalf("expected the faster 1080p source to win, got %s (%+v)", selection.Selected.Key(), selection.Candidates)
	}
	if len(selection.Candidates) != 2 || len(selection.Probes) != 2 {
		t.Fatalf("expected both candidates probed, got %+v", selection.Probes)
	}
	if selection.Candidates[0].Probe.Quality != domain.Resolution1080p || selection.Candidates[1].Probe.Quality != domain.Resolution720p {
		t.Fatalf("unexpected probe qualities %+v", selection.Candidates)
	}

	rec = serve(handler, httptest.NewRequest(http.MethodGet, "/source-detail?source=beta&id=2048", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("detail: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var entry domain.CatalogEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if entry.Key() != "beta-2048" || len(entry.Episodes) != 2 || len(entry.EpisodesTitles) != 2 {
		t.Fatalf("unexpected detail entry %+v", entry)
	}

	rec = serve(handler, httptest.NewRequest(http.MethodGet, "/source-detail?source=off&id=1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("disabled source detail: expected 404, got %d", rec.Code)
	}
}
