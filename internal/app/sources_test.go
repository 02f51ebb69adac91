package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"vodstream/catalogservice/internal/domain"
)

const sourcesYAML = `sources:
  - key: alpha
    name: Alpha
    api: https://alpha.test/api.php/provide/vod
  - key: beta
    api: https://beta.test/api.php/provide/vod
    detail: https://beta.test/detail
    proxyMode: true
  - key: gamma
    name: Gamma
    api: https://gamma.test/api
    disabled: true
`

func writeSources(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write sources: %v", err)
	}
}

func TestLoadSourcesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	writeSources(t, path, sourcesYAML)

	registry, err := NewSourceRegistry(path, `[{"key":"ignored","api":"http://x"}]`)
	if err != nil {
		t.Fatalf("NewSourceRegistry: %v", err)
	}
	got, err := registry.EffectiveSources(context.Background())
	if err != nil {
		t.Fatalf("EffectiveSources: %v", err)
	}
	want := []domain.ProviderConfig{
		{Key: "alpha", Name: "Alpha", API: "https://alpha.test/api.php/provide/vod"},
		{Key: "beta", Name: "beta", API: "https://beta.test/api.php/provide/vod", Detail: "https://beta.test/detail", ProxyMode: true},
		{Key: "gamma", Name: "Gamma", API: "https://gamma.test/api", Disabled: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}

	got[0].Key = "mutated"
	again, _ := registry.EffectiveSources(context.Background())
	if again[0].Key != "alpha" {
		t.Fatalf("snapshot must not be shared with callers")
	}
}

func TestParseSourcesJSON(t *testing.T) {
	registry, err := NewSourceRegistry("", `[{"key":" alpha ","name":"Alpha","api":"https://alpha.test/api"}]`)
	if err != nil {
		t.Fatalf("NewSourceRegistry: %v", err)
	}
	got, _ := registry.EffectiveSources(context.Background())
	if len(got) != 1 || got[0].Key != "alpha" || !got[0].Enabled() {
		t.Fatalf("unexpected sources %+v", got)
	}

	empty, err := NewSourceRegistry("", "")
	if err != nil {
		t.Fatalf("empty registry: %v", err)
	}
	if got, _ := empty.EffectiveSources(context.Background()); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
}

func TestInvalidSourcesRejected(t *testing.T) {
	cases := map[string]string{
		"missing api": `[{"key":"alpha"}]`,
		"duplicate":   `[{"key":"alpha","api":"http://a"},{"key":"ALPHA","api":"http://b"}]`,
		"reserved":    `[{"key":"mediaserver","api":"http://a"}]`,
		"malformed":   `{"key":`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseSourcesJSON([]byte(payload)); !errors.Is(err, ErrInvalidSources) {
				t.Fatalf("expected ErrInvalidSources, got %v", err)
			}
		})
	}
}

func TestReloadKeepsPreviousSnapshotOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	writeSources(t, path, sourcesYAML)
	registry, err := NewSourceRegistry(path, "")
	if err != nil {
		t.Fatalf("NewSourceRegistry: %v", err)
	}

	writeSources(t, path, "sources:\n  - key: alpha\n")
	if err := registry.Reload(); !errors.Is(err, ErrInvalidSources) {
		t.Fatalf("expected ErrInvalidSources, got %v", err)
	}
	got, _ := registry.EffectiveSources(context.Background())
	if len(got) != 3 {
		t.Fatalf("expected previous snapshot, got %+v", got)
	}
}

func TestWatchReloadsChangedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	writeSources(t, path, sourcesYAML)
	registry, err := NewSourceRegistry(path, "")
	if err != nil {
		t.Fatalf("NewSourceRegistry: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := registry.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer registry.Close()

	writeSources(t, path, "sources:\n  - key: delta\n    api: https://delta.test/api\n")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := registry.EffectiveSources(context.Background())
		if len(got) == 1 && got[0].Key == "delta" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("sources were not reloaded after the file changed")
}
