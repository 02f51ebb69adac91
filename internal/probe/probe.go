package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	"vodstream/catalogservice/internal/domain"
	"vodstream/catalogservice/internal/metrics"
)

const (
	DefaultSampleBytes = 1 << 20
	maxManifestBytes   = 2 << 20
	defaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

var (
	ErrProbeStatus   = errors.New("probe: unexpected upstream status")
	ErrProbeManifest = errors.New("probe: unreadable playlist")
	ErrProbeEmpty    = errors.New("probe: playlist has no segments")
)

// Prober measures one stream URL.
type Prober interface {
	Probe(ctx context.Context, url string) (domain.ProbeResult, error)
}

type Config struct {
	Client      *http.Client
	SampleBytes int64
	UserAgent   string
}

// HTTPProber measures HLS and progressive streams over HTTP. Ping is the time
// to the first response headers; resolution comes from the master playlist;
// throughput from a ranged read of the first media segment.
type HTTPProber struct {
	client      *http.Client
	sampleBytes int64
	userAgent   string
}

func NewHTTPProber(cfg Config) *HTTPProber {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	sample := cfg.SampleBytes
	if sample <= 0 {
		sample = DefaultSampleBytes
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &HTTPProber{client: client, sampleBytes: sample, userAgent: userAgent}
}

func (p *HTTPProber) Probe(ctx context.Context, target string) (domain.ProbeResult, error) {
	startedAt := time.Now()
	result, err := p.probe(ctx, target)
	metrics.ProbeDuration.Observe(time.Since(startedAt).Seconds())
	if err != nil {
		metrics.ProbesTotal.WithLabelValues("error").Inc()
		return domain.ProbeResult{}, err
	}
	metrics.ProbesTotal.WithLabelValues("ok").Inc()
	return result, nil
}

func (p *HTTPProber) probe(ctx context.Context, target string) (domain.ProbeResult, error) {
	base, err := url.Parse(strings.TrimSpace(target))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return domain.ProbeResult{}, fmt.Errorf("probe: invalid url %q", target)
	}

	if !looksLikePlaylist(base) {
		return p.probeProgressive(ctx, base)
	}

	body, ping, err := p.fetchManifest(ctx, base)
	if err != nil {
		return domain.ProbeResult{}, err
	}
	result := domain.ProbeResult{Quality: domain.ResolutionUnknown, PingMS: ping}

	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(body), false)
	if err != nil {
		return domain.ProbeResult{}, fmt.Errorf("%w: %v", ErrProbeManifest, err)
	}

	mediaURL := base
	if listType == m3u8.MASTER {
		master := playlist.(*m3u8.MasterPlaylist)
		variant := bestVariant(master)
		if variant == nil {
			return domain.ProbeResult{}, ErrProbeEmpty
		}
		result.Quality = qualityFromResolution(variant.Resolution)
		mediaURL, err = base.Parse(strings.TrimSpace(variant.URI))
		if err != nil {
			return domain.ProbeResult{}, fmt.Errorf("%w: variant uri: %v", ErrProbeManifest, err)
		}
		body, _, err = p.fetchManifest(ctx, mediaURL)
		if err != nil {
			return domain.ProbeResult{}, err
		}
		playlist, listType, err = m3u8.DecodeFrom(strings.NewReader(body), false)
		if err != nil || listType != m3u8.MEDIA {
			return domain.ProbeResult{}, fmt.Errorf("%w: variant is not a media playlist", ErrProbeManifest)
		}
	}

	segment := firstSegment(playlist.(*m3u8.MediaPlaylist))
	if segment == "" {
		return domain.ProbeResult{}, ErrProbeEmpty
	}
	segmentURL, err := mediaURL.Parse(segment)
	if err != nil {
		return domain.ProbeResult{}, fmt.Errorf("%w: segment uri: %v", ErrProbeManifest, err)
	}
	read, elapsed, _, err := p.sample(ctx, segmentURL)
	if err != nil {
		return domain.ProbeResult{}, err
	}
	result.LoadSpeed = FormatSpeed(read, elapsed)
	return result, nil
}

// probeProgressive handles direct files: one ranged read gives ping and speed.
func (p *HTTPProber) probeProgressive(ctx context.Context, target *url.URL) (domain.ProbeResult, error) {
	read, elapsed, ping, err := p.sample(ctx, target)
	if err != nil {
		return domain.ProbeResult{}, err
	}
	return domain.ProbeResult{
		Quality:   domain.ResolutionUnknown,
		LoadSpeed: FormatSpeed(read, elapsed),
		PingMS:    ping,
	}, nil
}

func (p *HTTPProber) fetchManifest(ctx context.Context, target *url.URL) (string, int64, error) {
	req, err := p.newRequest(ctx, target)
	if err != nil {
		return "", 0, err
	}
	startedAt := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("probe: %w", err)
	}
	ping := time.Since(startedAt).Milliseconds()
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("%w: %d", ErrProbeStatus, resp.StatusCode)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return "", 0, fmt.Errorf("probe: read playlist: %w", err)
	}
	return string(payload), max(ping, 1), nil
}

// sample reads up to sampleBytes and reports bytes read, read duration and
// time to headers in milliseconds.
func (p *HTTPProber) sample(ctx context.Context, target *url.URL) (int64, time.Duration, int64, error) {
	req, err := p.newRequest(ctx, target)
	if err != nil {
		return 0, 0, 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", p.sampleBytes-1))

	startedAt := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()
	headersAt := time.Now()
	ping := max(headersAt.Sub(startedAt).Milliseconds(), 1)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, 0, ping, fmt.Errorf("%w: %d", ErrProbeStatus, resp.StatusCode)
	}
	read, err := io.Copy(io.Discard, io.LimitReader(resp.Body, p.sampleBytes))
	if err != nil && read == 0 {
		return 0, 0, ping, fmt.Errorf("probe: read sample: %w", err)
	}
	return read, time.Since(startedAt), ping, nil
}

func (p *HTTPProber) newRequest(ctx context.Context, target *url.URL) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("probe: build request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	return req, nil
}

func looksLikePlaylist(target *url.URL) bool {
	return strings.HasSuffix(strings.ToLower(target.Path), ".m3u8")
}

func bestVariant(master *m3u8.MasterPlaylist) *m3u8.Variant {
	var best *m3u8.Variant
	for _, variant := range master.Variants {
		if variant == nil || strings.TrimSpace(variant.URI) == "" || variant.Iframe {
			continue
		}
		if best == nil || variantPixels(variant) > variantPixels(best) ||
			(variantPixels(variant) == variantPixels(best) && variant.Bandwidth > best.Bandwidth) {
			best = variant
		}
	}
	return best
}

func variantPixels(variant *m3u8.Variant) int {
	width, height := parseResolution(variant.Resolution)
	return width * height
}

func firstSegment(media *m3u8.MediaPlaylist) string {
	if media == nil {
		return ""
	}
	for _, segment := range media.Segments {
		if segment != nil && strings.TrimSpace(segment.URI) != "" {
			return strings.TrimSpace(segment.URI)
		}
	}
	return ""
}
