package apihttp

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"vodstream/catalogservice/internal/metrics"
)

// routeClass groups request paths for metric labels, log levels and the
// request limiter.
type routeClass struct {
	label string
	// quiet routes log successful requests at debug.
	quiet bool
	// open routes bypass the request limiter.
	open bool
}

var routeClasses = map[string]routeClass{
	"/health":                  {label: "/health", quiet: true, open: true},
	"/metrics":                 {label: "/metrics", quiet: true, open: true},
	"/search":                  {label: "/search"},
	"/search/providers":        {label: "/search/providers"},
	"/search/providers/health": {label: "/search/providers"},
	"/source-detail":           {label: "/source-detail"},
	"/source-select":           {label: "/source-select"},
	videoProxyPath:             {label: videoProxyPath, quiet: true},
}

func classifyRoute(path string) routeClass {
	if class, ok := routeClasses[path]; ok {
		return class
	}
	return routeClass{label: "/other"}
}

func normalizeRoute(path string) string {
	return classifyRoute(path).label
}

// statusRecorder remembers what a handler wrote. Flush passes through so the
// video relay can push chunks while the request is still open.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	bytes   int
	flushes int
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

func (rec *statusRecorder) Flush() {
	if flusher, ok := rec.ResponseWriter.(http.Flusher); ok {
		rec.flushes++
		flusher.Flush()
	}
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

func (rec *statusRecorder) code() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		class := classifyRoute(r.URL.Path)
		level := slog.LevelInfo
		switch status := rec.code(); {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		case class.quiet:
			level = slog.LevelDebug
		}

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", class.label),
			slog.Int("status", rec.code()),
			slog.Int("bytes", rec.bytes),
			slog.Int64("durationMs", time.Since(startedAt).Milliseconds()),
			slog.String("clientIP", clientIP(r)),
		}
		if session := strings.TrimSpace(r.Header.Get(sessionHeader)); session != "" {
			attrs = append(attrs, slog.String("session", truncate(session, maxSessionIDLength)))
		}
		if r.URL.Path == videoProxyPath {
			// The target URL may carry signed tokens; only its host is logged.
			if target, err := url.Parse(r.URL.Query().Get("url")); err == nil && target.Host != "" {
				attrs = append(attrs, slog.String("upstream", target.Host))
			}
			if rec.flushes > 0 {
				attrs = append(attrs, slog.Int("flushes", rec.flushes))
			}
		} else if rawQuery := strings.TrimSpace(r.URL.RawQuery); rawQuery != "" {
			attrs = append(attrs, slog.String("query", truncate(rawQuery, 180)))
		}
		logger.LogAttrs(r.Context(), level, "http request", attrs...)
	})
}

// recoveryMiddleware turns a handler panic into the error envelope, unless the
// handler already started its response.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			logger.Error("panic recovered",
				slog.Any("error", recovered),
				slog.String("method", r.Method),
				slog.String("route", normalizeRoute(r.URL.Path)),
				slog.Bool("responseStarted", rec.status != 0),
				slog.String("stack", string(debug.Stack())),
			)
			if rec.status == 0 {
				writeError(rec, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		route := normalizeRoute(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.code())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(startedAt).Seconds())
	})
}

// rateLimitMiddleware shares one token bucket across all limited routes.
// Over-limit requests get 429 with Retry-After.
func rateLimitMiddleware(rps float64, burst int, next http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !classifyRoute(r.URL.Path).open && !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if forwarded, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(forwarded) != "" {
		return strings.TrimSpace(forwarded)
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}
