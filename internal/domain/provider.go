package domain

import (
	"strings"
	"time"
)

// ProviderConfig describes one upstream catalog API.
type ProviderConfig struct {
	Key       string `json:"key" yaml:"key"`
	Name      string `json:"name" yaml:"name"`
	API       string `json:"api" yaml:"api"`
	Detail    string `json:"detail,omitempty" yaml:"detail,omitempty"`
	Disabled  bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	ProxyMode bool   `json:"proxyMode,omitempty" yaml:"proxyMode,omitempty"`
}

func (c ProviderConfig) Enabled() bool {
	return !c.Disabled && strings.TrimSpace(c.Key) != "" && strings.TrimSpace(c.API) != ""
}

type ProviderInfo struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

type ProviderStatus struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Count   int    `json:"count"`
	Timeout bool   `json:"timeout,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ProviderDiagnostics struct {
	Name                string     `json:"name"`
	Label               string     `json:"label"`
	Kind                string     `json:"kind"`
	Enabled             bool       `json:"enabled"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	BlockedUntil        *time.Time `json:"blockedUntil,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	LastTimeout         bool       `json:"lastTimeout,omitempty"`
	LastQuery           string     `json:"lastQuery,omitempty"`
	TotalRequests       int64      `json:"totalRequests,omitempty"`
	TotalFailures       int64      `json:"totalFailures,omitempty"`
	TimeoutCount        int64      `json:"timeoutCount,omitempty"`
	AbandonedCount      int64      `json:"abandonedCount,omitempty"`
}
