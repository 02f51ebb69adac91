package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"vodstream/catalogservice/internal/domain"
)

var ErrSourceResolution = errors.New("cannot resolve search sources")

const DefaultProviderTimeout = 20 * time.Second

// Provider queries one upstream catalog and normalizes the answer.
type Provider interface {
	Key() string
	Info() domain.ProviderInfo
	Search(ctx context.Context, query string) ([]domain.CatalogEntry, error)
}

// Integration is a privileged source (media server, personal library) that is
// configured outside the provider list.
type Integration interface {
	Name() string
	Enabled() bool
	Search(ctx context.Context, query string) ([]domain.CatalogEntry, error)
}

// SourceResolver yields the provider list a request may query.
type SourceResolver interface {
	EffectiveSources(ctx context.Context) ([]domain.ProviderConfig, error)
}

type ProviderFactory func(cfg domain.ProviderConfig) Provider

type Service struct {
	resolver       SourceResolver
	newProvider    ProviderFactory
	mediaServer    Integration
	library        Integration
	timeout        time.Duration
	maxConcurrent  int64
	retry          RetryConfig
	filter         ContentFilter
	filterDisabled bool
	healthMu       sync.Mutex
	health         map[string]*sourceHealth
}

type ServiceOption func(*Service)

func WithMediaServer(integration Integration) ServiceOption {
	return func(s *Service) {
		s.mediaServer = integration
	}
}

func WithLibrary(integration Integration) ServiceOption {
	return func(s *Service) {
		s.library = integration
	}
}

func WithProviderTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func WithContentFilter(filter ContentFilter) ServiceOption {
	return func(s *Service) {
		s.filter = filter
	}
}

func WithFilterDisabled(disabled bool) ServiceOption {
	return func(s *Service) {
		s.filterDisabled = disabled
	}
}

func WithRetryConfig(cfg RetryConfig) ServiceOption {
	return func(s *Service) {
		s.retry = cfg
	}
}

func WithMaxConcurrentProviders(limit int) ServiceOption {
	return func(s *Service) {
		if limit > 0 {
			s.maxConcurrent = int64(limit)
		}
	}
}

func NewService(resolver SourceResolver, factory ProviderFactory, opts ...ServiceOption) *Service {
	svc := &Service{
		resolver:      resolver,
		newProvider:   factory,
		timeout:       DefaultProviderTimeout,
		maxConcurrent: maxConcurrentProviders,
		retry:         DefaultRetryConfig(),
		filter:        NewContentFilter(DefaultDeniedTerms),
		health:        make(map[string]*sourceHealth),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Providers lists the integrations followed by the configured catalog providers.
func (s *Service) Providers() []domain.ProviderInfo {
	items := make([]domain.ProviderInfo, 0)
	for _, integration := range []Integration{s.mediaServer, s.library} {
		if integration == nil {
			continue
		}
		items = append(items, domain.ProviderInfo{
			Name:    integration.Name(),
			Label:   integration.Name(),
			Kind:    string(kindIntegration),
			Enabled: integration.Enabled(),
		})
	}
	if s.resolver == nil {
		return items
	}
	sources, err := s.resolver.EffectiveSources(context.Background())
	if err != nil {
		return items
	}
	for _, cfg := range sources {
		label := strings.TrimSpace(cfg.Name)
		if label == "" {
			label = cfg.Key
		}
		items = append(items, domain.ProviderInfo{
			Name:    strings.ToLower(strings.TrimSpace(cfg.Key)),
			Label:   label,
			Kind:    string(kindCatalog),
			Enabled: cfg.Enabled(),
		})
	}
	return items
}
