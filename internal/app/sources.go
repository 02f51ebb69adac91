package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
	"vodstream/catalogservice/internal/domain"
)

var ErrInvalidSources = errors.New("invalid catalog sources")

const reloadDebounce = 300 * time.Millisecond

type sourcesFile struct {
	Sources []domain.ProviderConfig `yaml:"sources"`
}

// SourceRegistry holds the current provider list. Reads see an immutable
// snapshot; a failed reload keeps the previous one.
type SourceRegistry struct {
	path     string
	snapshot atomic.Pointer[[]domain.ProviderConfig]

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewSourceRegistry builds a registry from a YAML file when path is set,
// otherwise from the inline JSON list.
func NewSourceRegistry(path, inlineJSON string) (*SourceRegistry, error) {
	registry := &SourceRegistry{path: strings.TrimSpace(path)}
	var (
		sources []domain.ProviderConfig
		err     error
	)
	switch {
	case registry.path != "":
		sources, err = LoadSourcesFile(registry.path)
	case strings.TrimSpace(inlineJSON) != "":
		sources, err = ParseSourcesJSON([]byte(inlineJSON))
	}
	if err != nil {
		return nil, err
	}
	registry.store(sources)
	return registry, nil
}

// NewStaticSourceRegistry wraps a fixed list.
func NewStaticSourceRegistry(sources []domain.ProviderConfig) *SourceRegistry {
	registry := &SourceRegistry{}
	registry.store(sources)
	return registry
}

func (r *SourceRegistry) EffectiveSources(context.Context) ([]domain.ProviderConfig, error) {
	current := r.snapshot.Load()
	if current == nil {
		return []domain.ProviderConfig{}, nil
	}
	return append([]domain.ProviderConfig(nil), (*current)...), nil
}

func (r *SourceRegistry) store(sources []domain.ProviderConfig) {
	cloned := append([]domain.ProviderConfig(nil), sources...)
	r.snapshot.Store(&cloned)
}

// Reload re-reads the sources file.
func (r *SourceRegistry) Reload() error {
	if r.path == "" {
		return nil
	}
	sources, err := LoadSourcesFile(r.path)
	if err != nil {
		return err
	}
	previous := 0
	if current := r.snapshot.Load(); current != nil {
		previous = len(*current)
	}
	r.store(sources)
	slog.Info("catalog sources reloaded",
		slog.String("path", r.path),
		slog.Int("previous", previous),
		slog.Int("sources", len(sources)),
	)
	return nil
}

// Watch reloads the sources file on change until ctx ends. The directory is
// watched so editors that replace the file are seen too.
func (r *SourceRegistry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create sources watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch sources file: %w", err)
	}
	r.mu.Lock()
	r.watcher = watcher
	r.mu.Unlock()

	go r.watchLoop(ctx, watcher)
	return nil
}

func (r *SourceRegistry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	target := filepath.Clean(r.path)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := r.Reload(); err != nil {
					slog.Error("catalog sources reload failed",
						slog.String("path", r.path),
						slog.String("error", err.Error()),
					)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("catalog sources watcher error", slog.String("error", err.Error()))
		}
	}
}

func (r *SourceRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	r.watcher = nil
	return err
}

func LoadSourcesFile(path string) ([]domain.ProviderConfig, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var file sourcesFile
	if err := yaml.Unmarshal(payload, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSources, path, err)
	}
	return normalizeSources(file.Sources)
}

func ParseSourcesJSON(payload []byte) ([]domain.ProviderConfig, error) {
	var sources []domain.ProviderConfig
	if err := json.Unmarshal(payload, &sources); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSources, err)
	}
	return normalizeSources(sources)
}

func normalizeSources(sources []domain.ProviderConfig) ([]domain.ProviderConfig, error) {
	out := make([]domain.ProviderConfig, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	for i, source := range sources {
		source.Key = strings.TrimSpace(source.Key)
		source.Name = strings.TrimSpace(source.Name)
		source.API = strings.TrimSpace(source.API)
		source.Detail = strings.TrimSpace(source.Detail)
		if source.Key == "" || source.API == "" {
			return nil, fmt.Errorf("%w: entry %d needs key and api", ErrInvalidSources, i)
		}
		if domain.IsLazySource(source.Key) {
			return nil, fmt.Errorf("%w: key %q is reserved", ErrInvalidSources, source.Key)
		}
		folded := strings.ToLower(source.Key)
		if _, ok := seen[folded]; ok {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidSources, source.Key)
		}
		seen[folded] = struct{}{}
		if source.Name == "" {
			source.Name = source.Key
		}
		out = append(out, source)
	}
	return out, nil
}
