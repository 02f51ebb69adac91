package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "vodstream/catalogservice/internal/api/http"
	"vodstream/catalogservice/internal/app"
	"vodstream/catalogservice/internal/detail"
	"vodstream/catalogservice/internal/domain"
	"vodstream/catalogservice/internal/metrics"
	"vodstream/catalogservice/internal/probe"
	"vodstream/catalogservice/internal/providers/catalogapi"
	"vodstream/catalogservice/internal/providers/library"
	"vodstream/catalogservice/internal/providers/mediaserver"
	"vodstream/catalogservice/internal/resultcache"
	"vodstream/catalogservice/internal/search"
	"vodstream/catalogservice/internal/selector"
	"vodstream/catalogservice/internal/telemetry"
)

const serviceName = "catalog-service"

func main() {
	if err := app.LoadDotEnv(); err != nil {
		slog.Warn("failed to load .env", slog.String("error", err.Error()))
	}
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("providerTimeout", cfg.ProviderTimeout),
		slog.Duration("searchCacheTime", cfg.SearchCacheTime),
		slog.String("sourcesFile", cfg.SourcesFile),
		slog.Bool("hasInlineSources", cfg.SourcesJSON != ""),
		slog.Bool("hasMediaServer", cfg.MediaServerURL != ""),
		slog.Bool("hasLibrary", cfg.LibraryURL != ""),
		slog.Bool("hasRedis", cfg.RedisURL != ""),
		slog.Bool("contentFilterDisabled", cfg.ContentFilterOff),
		slog.Int("probeBatchSize", cfg.ProbeBatchSize),
		slog.Duration("selectTimeout", cfg.SelectTimeout),
	)

	registry, err := app.NewSourceRegistry(cfg.SourcesFile, cfg.SourcesJSON)
	if err != nil {
		logger.Error("failed to load catalog sources", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := registry.Watch(rootCtx); err != nil {
		logger.Warn("catalog sources hot reload disabled", slog.String("error", err.Error()))
	}
	defer registry.Close()

	upstreamClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	newCatalog := func(source domain.ProviderConfig) *catalogapi.Provider {
		return catalogapi.NewProvider(catalogapi.Config{
			Source:    source,
			Client:    upstreamClient,
			UserAgent: cfg.UserAgent,
		})
	}

	mediaServer := mediaserver.NewClient(mediaserver.Config{
		BaseURL:   cfg.MediaServerURL,
		APIKey:    cfg.MediaServerKey,
		UserID:    cfg.MediaServerUser,
		Label:     cfg.MediaServerLabel,
		UserAgent: cfg.UserAgent,
		Client:    upstreamClient,
	})
	libraryClient := library.NewClient(library.Config{
		BaseURL:   cfg.LibraryURL,
		Token:     cfg.LibraryToken,
		Root:      cfg.LibraryRoot,
		Label:     cfg.LibraryLabel,
		UserAgent: cfg.UserAgent,
		Client:    upstreamClient,
		Cache:     library.NewMetadataCache(0, cfg.LibraryCacheTTL),
	})

	searchOpts := []search.ServiceOption{
		search.WithProviderTimeout(cfg.ProviderTimeout),
		search.WithFilterDisabled(cfg.ContentFilterOff),
	}
	if len(cfg.ContentFilter) > 0 {
		filter, err := search.ParseContentFilter(cfg.ContentFilter)
		if err != nil {
			logger.Error("invalid content filter rules", slog.String("error", err.Error()))
			os.Exit(1)
		}
		searchOpts = append(searchOpts, search.WithContentFilter(filter))
	}
	detailOpts := []detail.Option{detail.WithTimeout(cfg.ProviderTimeout)}
	if mediaServer.Enabled() {
		searchOpts = append(searchOpts, search.WithMediaServer(mediaServer))
		detailOpts = append(detailOpts, detail.WithMediaServer(mediaServer))
	}
	if libraryClient.Enabled() {
		searchOpts = append(searchOpts, search.WithLibrary(libraryClient))
		detailOpts = append(detailOpts, detail.WithLibrary(libraryClient))
	}

	searchService := search.NewService(registry, func(source domain.ProviderConfig) search.Provider {
		return newCatalog(source)
	}, searchOpts...)
	fetcher := detail.NewFetcher(registry, func(source domain.ProviderConfig) detail.Source {
		return newCatalog(source)
	}, detailOpts...)

	prober := probe.NewHTTPProber(probe.Config{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		SampleBytes: cfg.ProbeSampleBytes,
		UserAgent:   cfg.UserAgent,
	})
	sourceSelector := selector.New(prober,
		selector.WithProbeTimeout(cfg.ProbeTimeout),
		selector.WithBatchSize(cfg.ProbeBatchSize),
	)

	handler := apihttp.NewServer(searchService,
		apihttp.WithLogger(logger),
		apihttp.WithResultCache(resultcache.New(buildResultStore(cfg, logger))),
		apihttp.WithDetail(fetcher),
		apihttp.WithSelector(sourceSelector),
		apihttp.WithCacheTime(cfg.SearchCacheTime),
		apihttp.WithSelectTimeout(cfg.SelectTimeout),
		apihttp.WithPrivateProxyTargets(cfg.VideoProxyLAN),
		apihttp.WithRateLimit(float64(cfg.RateLimitRPS), cfg.RateLimitBurst),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// /video-proxy streams media; rely on request contexts instead of a write timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("catalog service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.String("version", telemetry.Version),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("catalog service stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildResultStore prefers Redis so session results survive restarts and are
// shared between replicas. An unusable Redis falls back to memory.
func buildResultStore(cfg app.Config, logger *slog.Logger) resultcache.Store {
	memory := resultcache.NewMemoryStore(0, cfg.SessionCacheTTL)
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return memory
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory result cache", slog.String("error", err.Error()))
		return memory
	}
	store := resultcache.NewRedisStore(redis.NewClient(redisOpts), cfg.SessionCacheTTL)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		logger.Warn("redis not reachable, using in-memory result cache", slog.String("error", err.Error()))
		return memory
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return store
}
