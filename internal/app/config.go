package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr         string
	ProviderTimeout  time.Duration
	SearchCacheTime  time.Duration
	LogLevel         string
	LogFormat        string
	UserAgent        string
	ContentFilterOff bool
	ContentFilter    []string
	SourcesFile      string
	SourcesJSON      string
	MediaServerURL   string
	MediaServerKey   string
	MediaServerUser  string
	MediaServerLabel string
	LibraryURL       string
	LibraryToken     string
	LibraryRoot      string
	LibraryLabel     string
	LibraryCacheTTL  time.Duration
	RedisURL         string
	SessionCacheTTL  time.Duration
	ProbeBatchSize   int
	ProbeSampleBytes int64
	ProbeTimeout     time.Duration
	SelectTimeout    time.Duration
	VideoProxyLAN    bool
	RateLimitRPS     int
	RateLimitBurst   int
}

// LoadDotEnv reads .env files into the process environment. Variables that are
// already set win. Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		ProviderTimeout:  time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 20)) * time.Second,
		SearchCacheTime:  time.Duration(getEnvInt("SEARCH_CACHE_TIME_SECONDS", 7200)) * time.Second,
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:        getEnv("USER_AGENT", ""),
		ContentFilterOff: getEnvBool("CONTENT_FILTER_DISABLED", false),
		ContentFilter:    getEnvList("CONTENT_FILTER_TERMS"),
		SourcesFile:      getEnv("CATALOG_SOURCES_FILE", ""),
		SourcesJSON:      getEnv("CATALOG_SOURCES", ""),
		MediaServerURL:   getEnv("MEDIA_SERVER_URL", ""),
		MediaServerKey:   getEnv("MEDIA_SERVER_API_KEY", ""),
		MediaServerUser:  getEnv("MEDIA_SERVER_USER_ID", ""),
		MediaServerLabel: getEnv("MEDIA_SERVER_LABEL", ""),
		LibraryURL:       getEnv("LIBRARY_URL", ""),
		LibraryToken:     getEnv("LIBRARY_TOKEN", ""),
		LibraryRoot:      getEnv("LIBRARY_ROOT", "/"),
		LibraryLabel:     getEnv("LIBRARY_LABEL", ""),
		LibraryCacheTTL:  time.Duration(getEnvInt("LIBRARY_CACHE_TTL_MINUTES", 60)) * time.Minute,
		RedisURL:         getEnv("REDIS_URL", ""),
		SessionCacheTTL:  time.Duration(getEnvInt("SESSION_CACHE_TTL_MINUTES", 30)) * time.Minute,
		ProbeBatchSize:   getEnvInt("PROBE_BATCH_SIZE", 0),
		ProbeSampleBytes: int64(getEnvInt("PROBE_SAMPLE_BYTES", 1<<20)),
		ProbeTimeout:     time.Duration(getEnvInt("PROBE_TIMEOUT_SECONDS", 20)) * time.Second,
		SelectTimeout:    time.Duration(getEnvInt("SELECT_TIMEOUT_SECONDS", 0)) * time.Second,
		VideoProxyLAN:    getEnvBool("VIDEO_PROXY_ALLOW_PRIVATE", false),
		RateLimitRPS:     getEnvInt("RATE_LIMIT_RPS", 50),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 100),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getEnvList splits a comma separated value. Unset yields nil.
func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
