package mediaserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"vodstream/catalogservice/internal/domain"
)

func newMediaServer(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/Users/u1/Items", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Emby-Token") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("SearchTerm") != "三体" {
			_, _ = w.Write([]byte(`{"Items":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"Items":[
			{"Id":"s1","Name":"三体","Type":"Series","ProductionYear":2023,"Status":"Ended","ImageTags":{"Primary":"abc"},"ProviderIds":{"Douban":"25887288"}},
			{"Id":"m1","Name":"三体 特别篇","Type":"Movie","ProductionYear":2024}
		]}`))
	})
	mux.HandleFunc("/Users/u1/Items/m1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Id":"m1","Name":"三体 特别篇","Type":"Movie","ProductionYear":2024}`))
	})
	mux.HandleFunc("/Users/u1/Items/s1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Id":"s1","Name":"三体","Type":"Series","ProductionYear":2023}`))
	})
	mux.HandleFunc("/Shows/s1/Episodes", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Items":[
			{"Id":"e2","Name":"第二集","IndexNumber":2,"ParentIndexNumber":1},
			{"Id":"e1","Name":"","IndexNumber":1,"ParentIndexNumber":1}
		]}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	client := NewClient(Config{BaseURL: server.URL + "/", APIKey: "key", UserID: "u1", Client: server.Client()})
	return client, server
}

func TestSearchReturnsSkeletalEntries(t *testing.T) {
	client, server := newMediaServer(t)

	entries, err := client.Search(context.Background(), "三体")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	series := entries[0]
	if series.Source != domain.SourceMediaServer || series.TypeName != "tv" || series.Year != "2023" || series.DoubanID != 25887288 {
		t.Fatalf("unexpected series entry: %+v", series)
	}
	if !series.NeedsDetail() || !series.Completed() {
		t.Fatalf("expected lazy completed series: %+v", series)
	}
	if series.Poster != server.URL+"/Items/s1/Images/Primary?tag=abc" {
		t.Fatalf("unexpected poster %q", series.Poster)
	}
}

func TestDetailResolvesEpisodes(t *testing.T) {
	client, server := newMediaServer(t)

	movie, err := client.Detail(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Detail movie: %v", err)
	}
	if len(movie.Episodes) != 1 || !strings.HasPrefix(movie.Episodes[0], server.URL+"/Videos/m1/master.m3u8?") {
		t.Fatalf("unexpected movie episodes: %v", movie.Episodes)
	}
	if !strings.Contains(movie.Episodes[0], "api_key=key") {
		t.Fatalf("stream url must carry the api key: %s", movie.Episodes[0])
	}

	series, err := client.Detail(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Detail series: %v", err)
	}
	if diff := cmp.Diff([]string{"S01E01", "S01E02 第二集"}, series.EpisodesTitles); diff != "" {
		t.Fatalf("episode titles mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(series.Episodes[0], "/Videos/e1/") || !strings.Contains(series.Episodes[1], "/Videos/e2/") {
		t.Fatalf("episodes not ordered: %v", series.Episodes)
	}
}

func TestDisabledClient(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://media.test"})
	if client.Enabled() {
		t.Fatal("client without credentials must be disabled")
	}
	entries, err := client.Search(context.Background(), "x")
	if err != nil || len(entries) != 0 {
		t.Fatalf("disabled search must be empty: %v %v", entries, err)
	}
	if _, err := client.Detail(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
