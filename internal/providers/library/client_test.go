package library

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"vodstream/catalogservice/internal/domain"
)

type fakeFileServer struct {
	listings map[string]string
	calls    atomic.Int32
}

func (f *fakeFileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/fs/list" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Header.Get("Authorization") != "tok" {
		_, _ = w.Write([]byte(`{"code":401,"message":"token is invalidated"}`))
		return
	}
	f.calls.Add(1)
	var request listRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	listing, ok := f.listings[request.Path]
	if !ok {
		_, _ = w.Write([]byte(`{"code":500,"message":"object not found"}`))
		return
	}
	_, _ = w.Write([]byte(`{"code":200,"message":"success","data":{"content":` + listing + `}}`))
}

func newLibrary(t *testing.T, token string, cache *MetadataCache) (*Client, *fakeFileServer, *httptest.Server) {
	t.Helper()
	files := &fakeFileServer{listings: map[string]string{
		"/media": `[
			{"name":"流浪地球 (2019)","is_dir":true},
			{"name":"流浪地球2【2023】","is_dir":true,"thumb":"/thumbs/2.jpg"},
			{"name":"readme.txt","is_dir":false}
		]`,
		"/media/流浪地球 (2019)": `[
			{"name":"poster.jpg","is_dir":false},
			{"name":"流浪地球.mkv","is_dir":false,"sign":"s+1"}
		]`,
	}}
	server := httptest.NewServer(files)
	t.Cleanup(server.Close)
	client := NewClient(Config{BaseURL: server.URL, Token: token, Root: "/media/", Client: server.Client(), Cache: cache})
	return client, files, server
}

func TestSearchMatchesDirectoriesAndUsesCache(t *testing.T) {
	cache := NewMetadataCache(8, time.Minute)
	client, files, server := newLibrary(t, "tok", cache)

	entries, err := client.Search(context.Background(), "流浪 地球")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	titles := make([]string, 0, len(entries))
	for _, entry := range entries {
		titles = append(titles, entry.Title+"|"+entry.Year)
	}
	if diff := cmp.Diff([]string{"流浪地球|2019", "流浪地球2|2023"}, titles); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	if entries[1].Poster != server.URL+"/thumbs/2.jpg" || !entries[0].NeedsDetail() {
		t.Fatalf("unexpected entry: %+v", entries[1])
	}

	if _, err := client.Search(context.Background(), "流浪地球2"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if files.calls.Load() != 1 {
		t.Fatalf("expected cached root listing, got %d calls", files.calls.Load())
	}

	cache.Reset()
	if _, err := client.Search(context.Background(), "流浪地球"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if files.calls.Load() != 2 {
		t.Fatalf("expected listing refetch after Reset, got %d calls", files.calls.Load())
	}
}

func TestDetailListsVideoFiles(t *testing.T) {
	client, _, server := newLibrary(t, "tok", nil)

	entry, err := client.Detail(context.Background(), "流浪地球 (2019)")
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	want := []string{server.URL + "/d/media/%E6%B5%81%E6%B5%AA%E5%9C%B0%E7%90%83%20%282019%29/%E6%B5%81%E6%B5%AA%E5%9C%B0%E7%90%83.mkv?sign=s%2B1"}
	if diff := cmp.Diff(want, entry.Episodes); diff != "" {
		t.Fatalf("episodes mismatch (-want +got):\n%s", diff)
	}
	if entry.TypeName != "movie" || entry.EpisodesTitles[0] != "流浪地球" || entry.Source != domain.SourceLibrary {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestLibraryErrors(t *testing.T) {
	client, _, _ := newLibrary(t, "wrong", nil)
	if _, err := client.Search(context.Background(), "x"); !errors.Is(err, ErrListFailed) {
		t.Fatalf("expected ErrListFailed, got %v", err)
	}
	if _, err := client.Detail(context.Background(), "../etc"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := NewClient(Config{}).Detail(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
