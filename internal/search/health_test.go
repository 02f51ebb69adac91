package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBreakerPolicyBlockFor(t *testing.T) {
	catalog := policyFor(kindCatalog)
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, time.Minute},
		{3, time.Minute},
		{4, 2 * time.Minute},
		{6, 8 * time.Minute},
		{7, 10 * time.Minute},
		{12, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := catalog.blockFor(tt.failures); got != tt.want {
			t.Errorf("catalog blockFor(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}

	integration := policyFor(kindIntegration)
	if got := integration.blockFor(integration.threshold); got != 15*time.Second {
		t.Errorf("integration blockFor(threshold) = %v", got)
	}
	if got := integration.blockFor(50); got != integration.max {
		t.Errorf("integration blockFor(50) = %v, want cap %v", got, integration.max)
	}
	if got := policyFor("unknown"); got != catalog {
		t.Errorf("unknown kind should fall back to catalog policy, got %+v", got)
	}
}

func TestClassifyOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want callOutcome
	}{
		{nil, outcomeOK},
		{errors.New("bad payload"), outcomeFailed},
		{fmt.Errorf("%w: provider alpha after 20s", ErrCallTimeout), outcomeTimedOut},
		{context.DeadlineExceeded, outcomeTimedOut},
		{fmt.Errorf("%w: %w", ErrCallerGone, context.DeadlineExceeded), outcomeAbandoned},
		{context.Canceled, outcomeAbandoned},
	}
	for _, tt := range tests {
		if got := classifyOutcome(tt.err); got != tt.want {
			t.Errorf("classifyOutcome(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCircuitBreakerBlocksAndResets(t *testing.T) {
	svc := NewService(nil, nil)
	baseTime := time.Now()
	policy := policyFor(kindCatalog)
	failure := fmt.Errorf("%w: provider alpha after 20s", ErrCallTimeout)

	for i := 0; i < policy.threshold; i++ {
		svc.recordProviderResult(kindCatalog, "alpha", "q", failure, 10*time.Millisecond, baseTime)
	}
	blocked, until, lastErr := svc.isProviderBlocked("ALPHA", baseTime)
	if !blocked {
		t.Fatal("expected provider to be blocked after threshold failures")
	}
	if until.Sub(baseTime) != policy.base {
		t.Fatalf("expected block of %v, got %v", policy.base, until.Sub(baseTime))
	}
	if lastErr != failure.Error() {
		t.Fatalf("unexpected last error %q", lastErr)
	}

	if blocked, _, _ := svc.isProviderBlocked("alpha", until.Add(time.Second)); blocked {
		t.Fatal("expected block to expire")
	}

	svc.recordProviderResult(kindCatalog, "alpha", "q", nil, 10*time.Millisecond, until.Add(2*time.Second))
	if blocked, _, _ := svc.isProviderBlocked("alpha", until.Add(3*time.Second)); blocked {
		t.Fatal("expected success to clear the block")
	}

	state := svc.health["alpha"]
	if state.calls != int64(policy.threshold+1) || state.timeouts != int64(policy.threshold) {
		t.Fatalf("unexpected counters: %+v", state)
	}
}

func TestAbandonedCallsLeaveBreakerClosed(t *testing.T) {
	svc := NewService(nil, nil)
	now := time.Now()
	gone := fmt.Errorf("%w: %w", ErrCallerGone, context.Canceled)

	for i := 0; i < 10; i++ {
		svc.recordProviderResult(kindCatalog, "alpha", "q", gone, time.Millisecond, now)
	}
	if blocked, _, _ := svc.isProviderBlocked("alpha", now); blocked {
		t.Fatal("caller cancellations must not open the breaker")
	}
	state := svc.health["alpha"]
	if state.abandoned != 10 || state.calls != 0 || state.streak != 0 {
		t.Fatalf("unexpected counters: %+v", state)
	}
}

func TestIntegrationToleratesMoreFailures(t *testing.T) {
	svc := NewService(nil, nil)
	now := time.Now()
	failure := errors.New("connection refused")
	catalogThreshold := policyFor(kindCatalog).threshold

	for i := 0; i < catalogThreshold; i++ {
		svc.recordProviderResult(kindIntegration, "mediaserver", "q", failure, time.Millisecond, now)
	}
	if blocked, _, _ := svc.isProviderBlocked("mediaserver", now); blocked {
		t.Fatalf("integration blocked after only %d failures", catalogThreshold)
	}

	policy := policyFor(kindIntegration)
	for i := catalogThreshold; i < policy.threshold; i++ {
		svc.recordProviderResult(kindIntegration, "mediaserver", "q", failure, time.Millisecond, now)
	}
	blocked, until, _ := svc.isProviderBlocked("mediaserver", now)
	if !blocked || until.Sub(now) != policy.base {
		t.Fatalf("expected %v integration block, got blocked=%v for %v", policy.base, blocked, until.Sub(now))
	}
}
