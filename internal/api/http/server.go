package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"vodstream/catalogservice/internal/detail"
	"vodstream/catalogservice/internal/domain"
	"vodstream/catalogservice/internal/resultcache"
	"vodstream/catalogservice/internal/search"
	"vodstream/catalogservice/internal/selector"
)

type SearchService interface {
	Search(ctx context.Context, query string) (domain.SearchResponse, error)
	Providers() []domain.ProviderInfo
	ProviderDiagnostics() []domain.ProviderDiagnostics
}

type ResultCache interface {
	Lookup(ctx context.Context, sessionID, query string, fetch resultcache.FetchFunc) ([]domain.CatalogEntry, error)
}

type DetailService interface {
	Complete(ctx context.Context, source, id, title string) (domain.CatalogEntry, error)
	CompleteEntry(ctx context.Context, entry domain.CatalogEntry) (domain.CatalogEntry, error)
}

type SourceSelector interface {
	Select(ctx context.Context, candidates []domain.CatalogEntry) (selector.Selection, error)
}

type Server struct {
	search        SearchService
	cache         ResultCache
	detail        DetailService
	selector      SourceSelector
	logger        *slog.Logger
	cacheTime     time.Duration
	selectTimeout time.Duration
	proxyGuard    func(ctx context.Context, u *url.URL) error
	proxyClient   *http.Client
	rateRPS       float64
	rateBurst     int
}

const (
	maxQueryLength      = 500
	sessionHeader       = "X-Session-ID"
	sessionCookie       = "sid"
	maxSessionIDLength  = 128
	defaultCacheTime    = 2 * time.Hour
	videoProxyPath      = "/video-proxy"
	defaultRateLimitRPS = 50
	defaultRateBurst    = 100
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithResultCache(cache ResultCache) ServerOption {
	return func(s *Server) {
		s.cache = cache
	}
}

func WithDetail(service DetailService) ServerOption {
	return func(s *Server) {
		s.detail = service
	}
}

func WithSelector(sel SourceSelector) ServerOption {
	return func(s *Server) {
		s.selector = sel
	}
}

// WithCacheTime sets max-age and s-maxage of cacheable search responses.
func WithCacheTime(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.cacheTime = d
		}
	}
}

// WithSelectTimeout bounds one /source-select request. Zero means no bound.
func WithSelectTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.selectTimeout = d
	}
}

// WithPrivateProxyTargets lets /video-proxy reach loopback and private
// networks, e.g. a media server on the LAN.
func WithPrivateProxyTargets(allow bool) ServerOption {
	return func(s *Server) {
		if allow {
			s.proxyGuard = validateProxyScheme
		}
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateRPS = rps
			s.rateBurst = burst
		}
	}
}

func NewServer(searchService SearchService, options ...ServerOption) *Server {
	server := &Server{
		search:     searchService,
		logger:     slog.Default(),
		cacheTime:  defaultCacheTime,
		proxyGuard: validateProxyURL,
		rateRPS:    defaultRateLimitRPS,
		rateBurst:  defaultRateBurst,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	server.proxyClient = newVideoProxyClient(server.proxyGuard)
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search/providers", s.handleProviders)
	mux.HandleFunc("/search/providers/health", s.handleProvidersHealth)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/source-detail", s.handleSourceDetail)
	mux.HandleFunc("/source-select", s.handleSourceSelect)
	mux.HandleFunc(videoProxyPath, s.handleVideoProxy)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "catalog-service",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health" && p != videoProxyPath
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// handleSearch answers with the aggregated results. Cache directives are set
// for the empty query and for non-empty results only; an empty result for a
// real query reflects transient provider state and must not be cached.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	if query == "" {
		s.setCacheDirective(w)
		writeJSON(w, http.StatusOK, searchPayload{Results: []domain.CatalogEntry{}})
		return
	}

	startedAt := time.Now()
	var (
		results []domain.CatalogEntry
		err     error
	)
	if sessionID, ok := requestSession(r); ok && s.cache != nil {
		results, err = s.cache.Lookup(r.Context(), sessionID, query, s.search.Search)
	} else {
		var response domain.SearchResponse
		response, err = s.search.Search(r.Context(), query)
		results = response.Results
		s.logProviderFailures(query, response.Providers)
	}
	if err != nil {
		s.logger.Error("search request failed",
			slog.String("query", truncate(query, 80)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
		return
	}

	s.logger.Info("search completed",
		slog.String("query", truncate(query, 80)),
		slog.Int("results", len(results)),
		slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
	)
	if len(results) > 0 {
		s.setCacheDirective(w)
	}
	if results == nil {
		results = []domain.CatalogEntry{}
	}
	writeJSON(w, http.StatusOK, searchPayload{Results: rewriteProxyEntries(results)})
}

type searchPayload struct {
	Results []domain.CatalogEntry `json:"results"`
}

func (s *Server) handleSourceDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.detail == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "detail service is not configured")
		return
	}
	q := r.URL.Query()
	source := strings.TrimSpace(q.Get("source"))
	id := strings.TrimSpace(q.Get("id"))
	if source == "" || id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "source and id are required")
		return
	}

	entry, err := s.detail.Complete(r.Context(), source, id, strings.TrimSpace(q.Get("title")))
	if err != nil {
		s.writeDetailError(w, source, id, err)
		return
	}
	writeJSON(w, http.StatusOK, rewriteProxyEntry(entry))
}

func (s *Server) writeDetailError(w http.ResponseWriter, source, id string, err error) {
	var fetchErr *detail.DetailFetchError
	switch {
	case errors.Is(err, detail.ErrUnknownSource):
		writeError(w, http.StatusNotFound, "unknown_source", "unknown source: "+source)
	case errors.As(err, &fetchErr):
		s.logger.Warn("detail request failed",
			slog.String("source", source),
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "upstream_error", "failed to fetch source detail")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "detail failed")
	}
}

type selectPayload struct {
	Selected   domain.CatalogEntry            `json:"selected"`
	Candidates []domain.ScoredCandidate       `json:"candidates"`
	Probes     map[string]domain.ProbeOutcome `json:"probes"`
	Matched    int                            `json:"matched"`
}

// handleSourceSelect runs the playback-page flow: session results, title
// matching, probing and completion of the winner.
func (s *Server) handleSourceSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil || s.selector == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "source selection is not configured")
		return
	}
	q := r.URL.Query()
	title := strings.TrimSpace(q.Get("title"))
	if title == "" || len(title) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}
	sessionID := s.ensureSession(w, r)

	ctx := r.Context()
	if s.selectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.selectTimeout)
		defer cancel()
	}

	var (
		results []domain.CatalogEntry
		err     error
	)
	if s.cache != nil {
		results, err = s.cache.Lookup(ctx, sessionID, title, s.search.Search)
	} else {
		var response domain.SearchResponse
		response, err = s.search.Search(ctx, title)
		results = response.Results
	}
	if err != nil {
		s.logger.Error("source select search failed", slog.String("title", truncate(title, 80)), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
		return
	}

	candidates := search.MatchCandidates(results, title, q.Get("year"), q.Get("type"))
	if len(candidates) == 0 {
		writeError(w, http.StatusNotFound, "no_candidates", "no matching sources")
		return
	}

	selection, err := s.selector.Select(ctx, candidates)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "selection failed")
		return
	}

	best := selection.Best
	if s.detail != nil {
		completed, detailErr := s.detail.CompleteEntry(ctx, best)
		if detailErr != nil {
			s.logger.Warn("selected source could not be completed",
				slog.String("candidate", best.Key()),
				slog.String("error", detailErr.Error()),
			)
		}
		best = completed
	}

	scored := make([]domain.ScoredCandidate, 0, len(selection.Scored))
	for _, item := range selection.Scored {
		item.Entry = rewriteProxyEntry(item.Entry)
		scored = append(scored, item)
	}
	probes := selection.Probes
	if probes == nil {
		probes = map[string]domain.ProbeOutcome{}
	}
	writeJSON(w, http.StatusOK, selectPayload{
		Selected:   rewriteProxyEntry(best),
		Candidates: scored,
		Probes:     probes,
		Matched:    len(candidates),
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/providers" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.search.Providers(),
	})
}

func (s *Server) handleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/providers/health" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     s.search.ProviderDiagnostics(),
	})
}

func (s *Server) setCacheDirective(w http.ResponseWriter) {
	seconds := strconv.Itoa(int(s.cacheTime.Seconds()))
	w.Header().Set("Cache-Control", "public, max-age="+seconds+", s-maxage="+seconds)
}

func (s *Server) logProviderFailures(query string, statuses []domain.ProviderStatus) {
	failed := make([]string, 0, len(statuses))
	for _, status := range statuses {
		if !status.OK {
			failed = append(failed, status.Name)
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("search providers partially failed",
			slog.String("query", truncate(query, 80)),
			slog.Any("failedProviders", failed),
		)
	}
}

func requestSession(r *http.Request) (string, bool) {
	if value := strings.TrimSpace(r.Header.Get(sessionHeader)); value != "" && len(value) <= maxSessionIDLength {
		return value, true
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if value := strings.TrimSpace(cookie.Value); value != "" && len(value) <= maxSessionIDLength {
			return value, true
		}
	}
	return "", false
}

// ensureSession returns the caller's session id, issuing a new cookie when the
// request carries none.
func (s *Server) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if sessionID, ok := requestSession(r); ok {
		return sessionID
	}
	sessionID := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(sessionHeader, sessionID)
	return sessionID
}

// rewriteProxyEntry routes episodes of proxy-mode entries through /video-proxy.
func rewriteProxyEntry(entry domain.CatalogEntry) domain.CatalogEntry {
	if !entry.ProxyMode || len(entry.Episodes) == 0 {
		return entry
	}
	rewritten := entry.Clone()
	for i, episode := range rewritten.Episodes {
		if strings.HasPrefix(episode, videoProxyPath+"?") {
			continue
		}
		rewritten.Episodes[i] = videoProxyPath + "?url=" + url.QueryEscape(episode)
	}
	return rewritten
}

func rewriteProxyEntries(entries []domain.CatalogEntry) []domain.CatalogEntry {
	out := make([]domain.CatalogEntry, len(entries))
	for i, entry := range entries {
		out[i] = rewriteProxyEntry(entry)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
