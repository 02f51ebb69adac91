package search

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"time"

	"vodstream/catalogservice/internal/domain"
	"vodstream/catalogservice/internal/metrics"
)

type sourceKind string

const (
	kindIntegration sourceKind = "integration"
	kindCatalog     sourceKind = "catalog"
)

// breakerPolicy decides when a source is taken out of rotation and for how long.
type breakerPolicy struct {
	threshold int
	base      time.Duration
	max       time.Duration
}

// Integrations are operator-run and usually come back quickly, so they tolerate
// more failures and sit out for less time than public catalogs.
var breakerPolicies = map[sourceKind]breakerPolicy{
	kindCatalog:     {threshold: 3, base: time.Minute, max: 10 * time.Minute},
	kindIntegration: {threshold: 5, base: 15 * time.Second, max: 2 * time.Minute},
}

func policyFor(kind sourceKind) breakerPolicy {
	if policy, ok := breakerPolicies[kind]; ok {
		return policy
	}
	return breakerPolicies[kindCatalog]
}

// blockFor is base doubled once per failure past the threshold, capped at max.
func (p breakerPolicy) blockFor(failures int) time.Duration {
	d := p.base
	for i := p.threshold; i < failures; i++ {
		d *= 2
		if d >= p.max {
			return p.max
		}
	}
	return d
}

type callOutcome int

const (
	outcomeOK callOutcome = iota
	outcomeFailed
	outcomeTimedOut
	// outcomeAbandoned: the request that triggered the call went away.
	outcomeAbandoned
)

func (o callOutcome) label() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeTimedOut:
		return "timeout"
	case outcomeAbandoned:
		return "abandoned"
	default:
		return "error"
	}
}

func classifyOutcome(err error) callOutcome {
	var netErr net.Error
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrCallerGone), errors.Is(err, context.Canceled):
		return outcomeAbandoned
	case errors.Is(err, ErrCallTimeout), errors.Is(err, context.DeadlineExceeded):
		return outcomeTimedOut
	case errors.As(err, &netErr) && netErr.Timeout():
		return outcomeTimedOut
	default:
		return outcomeFailed
	}
}

type sourceHealth struct {
	kind        sourceKind
	streak      int
	openUntil   time.Time
	lastError   string
	lastOK      time.Time
	lastFailed  time.Time
	lastLatency time.Duration
	lastTimeout bool
	lastQuery   string
	calls       int64
	failures    int64
	timeouts    int64
	abandoned   int64
}

func healthKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *Service) isProviderBlocked(providerName string, now time.Time) (bool, time.Time, string) {
	key := healthKey(providerName)
	if s == nil || key == "" {
		return false, time.Time{}, ""
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state := s.health[key]
	if state == nil || state.openUntil.IsZero() || now.After(state.openUntil) {
		return false, time.Time{}, ""
	}
	return true, state.openUntil, state.lastError
}

// recordProviderResult feeds one call outcome into the source's breaker.
// Abandoned calls are counted for diagnostics but leave the breaker alone.
func (s *Service) recordProviderResult(kind sourceKind, providerName, query string, err error, latency time.Duration, now time.Time) {
	key := healthKey(providerName)
	if s == nil || key == "" {
		return
	}
	outcome := classifyOutcome(err)
	metrics.ProviderRequestsTotal.WithLabelValues(key, outcome.label()).Inc()

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state := s.health[key]
	if state == nil {
		state = &sourceHealth{kind: kind}
		s.health[key] = state
	}
	state.kind = kind

	if outcome == outcomeAbandoned {
		state.abandoned++
		return
	}

	state.calls++
	state.lastQuery = strings.TrimSpace(query)
	state.lastTimeout = outcome == outcomeTimedOut
	if latency > 0 {
		state.lastLatency = latency
		metrics.ProviderRequestDuration.WithLabelValues(key).Observe(latency.Seconds())
	}

	if outcome == outcomeOK {
		state.streak = 0
		state.openUntil = time.Time{}
		state.lastError = ""
		state.lastOK = now
		metrics.ProviderAvailable.WithLabelValues(key).Set(1)
		return
	}

	if state.lastTimeout {
		state.timeouts++
	}
	state.streak++
	state.failures++
	state.lastFailed = now
	state.lastError = err.Error()

	policy := policyFor(kind)
	if state.streak >= policy.threshold {
		state.openUntil = now.Add(policy.blockFor(state.streak))
		metrics.ProviderAvailable.WithLabelValues(key).Set(0)
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// ProviderDiagnostics reports breaker state for every known source, sorted by name.
func (s *Service) ProviderDiagnostics() []domain.ProviderDiagnostics {
	infos := s.Providers()
	if len(infos) == 0 {
		return nil
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	items := make([]domain.ProviderDiagnostics, 0, len(infos))
	for _, info := range infos {
		item := domain.ProviderDiagnostics{
			Name:    info.Name,
			Label:   info.Label,
			Kind:    info.Kind,
			Enabled: info.Enabled,
		}
		if state := s.health[healthKey(info.Name)]; state != nil {
			item.ConsecutiveFailures = state.streak
			item.BlockedUntil = timePtr(state.openUntil)
			item.LastError = state.lastError
			item.LastSuccessAt = timePtr(state.lastOK)
			item.LastFailureAt = timePtr(state.lastFailed)
			item.LastLatencyMS = state.lastLatency.Milliseconds()
			item.LastTimeout = state.lastTimeout
			item.LastQuery = state.lastQuery
			item.TotalRequests = state.calls
			item.TotalFailures = state.failures
			item.TimeoutCount = state.timeouts
			item.AbandonedCount = state.abandoned
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return items
}
