package common

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"vodstream/catalogservice/internal/domain"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxPayloadBytes  = 8 * 1024 * 1024
)

// Request describes one JSON call against an upstream.
type Request struct {
	Source    string
	Method    string
	URL       string
	Headers   map[string]string
	Body      io.Reader
	UserAgent string
}

// DoJSON issues the request and decodes a JSON body into dest. Non-2xx
// responses become *domain.UpstreamStatusError.
func DoJSON(ctx context.Context, client *http.Client, request Request, dest any) error {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, request.URL, request.Body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", request.Source, err)
	}
	userAgent := strings.TrimSpace(request.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for key, value := range request.Headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", request.Source, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return &domain.UpstreamStatusError{Source: request.Source, StatusCode: resp.StatusCode}
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", request.Source, err)
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("%s: decode body: %w", request.Source, err)
	}
	return nil
}
