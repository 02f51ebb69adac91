package selector

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"vodstream/catalogservice/internal/domain"
	"vodstream/catalogservice/internal/metrics"
	"vodstream/catalogservice/internal/probe"
	"vodstream/catalogservice/internal/search"
)

const DefaultProbeTimeout = 20 * time.Second

var ErrNoCandidates = errors.New("no candidates to select from")

const errNoEpisodes = "candidate has no episodes"

// Selection is the outcome of one selection run. Probes holds every
// candidate's outcome keyed by domain.CandidateKey, including failures.
type Selection struct {
	Best   domain.CatalogEntry
	Scored []domain.ScoredCandidate
	Probes map[string]domain.ProbeOutcome
}

type Selector struct {
	prober    probe.Prober
	timeout   time.Duration
	batchSize int
}

type Option func(*Selector)

func WithProbeTimeout(timeout time.Duration) Option {
	return func(s *Selector) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithBatchSize fixes the number of concurrent probes per batch. Zero keeps
// the default of two batches, ceil(n/2) each.
func WithBatchSize(size int) Option {
	return func(s *Selector) {
		if size >= 0 {
			s.batchSize = size
		}
	}
}

func New(prober probe.Prober, opts ...Option) *Selector {
	s := &Selector{prober: prober, timeout: DefaultProbeTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select probes candidates in sequential batches and returns the best scoring
// one. A single candidate is returned without probing; when no probe succeeds
// the first candidate wins.
func (s *Selector) Select(ctx context.Context, candidates []domain.CatalogEntry) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{}, ErrNoCandidates
	}
	if len(candidates) == 1 {
		metrics.SelectionsTotal.WithLabelValues("single").Inc()
		return Selection{Best: candidates[0], Scored: []domain.ScoredCandidate{}, Probes: map[string]domain.ProbeOutcome{}}, nil
	}

	outcomes := make([]domain.ProbeOutcome, len(candidates))
	size := s.batchSize
	if size <= 0 {
		size = (len(candidates) + 1) / 2
	}
	for start := 0; start < len(candidates); start += size {
		end := min(start+size, len(candidates))
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				outcomes[index] = s.probeCandidate(ctx, candidates[index])
			}(i)
		}
		wg.Wait()
	}

	probes := make(map[string]domain.ProbeOutcome, len(candidates))
	successful := make([]domain.ProbeResult, 0, len(candidates))
	for i, candidate := range candidates {
		probes[candidate.Key()] = outcomes[i]
		if outcomes[i].OK() {
			successful = append(successful, *outcomes[i].Result)
		}
	}

	if len(successful) == 0 {
		metrics.SelectionsTotal.WithLabelValues("fallback").Inc()
		slog.Info("all probes failed, keeping first candidate",
			slog.String("candidate", candidates[0].Key()),
			slog.Int("candidates", len(candidates)),
		)
		return Selection{Best: candidates[0], Scored: []domain.ScoredCandidate{}, Probes: probes}, nil
	}

	bounds := ComputeBounds(successful)
	scored := make([]domain.ScoredCandidate, 0, len(successful))
	for i, candidate := range candidates {
		if !outcomes[i].OK() {
			continue
		}
		result := *outcomes[i].Result
		scored = append(scored, domain.ScoredCandidate{Entry: candidate, Probe: result, Score: Score(result, bounds)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	metrics.SelectionsTotal.WithLabelValues("scored").Inc()
	return Selection{Best: scored[0].Entry, Scored: scored, Probes: probes}, nil
}

func (s *Selector) probeCandidate(ctx context.Context, candidate domain.CatalogEntry) domain.ProbeOutcome {
	target := ProbeTarget(candidate)
	if target == "" {
		metrics.ProbesTotal.WithLabelValues("skipped").Inc()
		return domain.ProbeOutcome{Skipped: true, Error: errNoEpisodes}
	}
	run := search.RunWithDeadline(ctx, search.CallProbe, candidate.Key(), s.timeout, domain.ProbeResult{}, func(probeCtx context.Context) (domain.ProbeResult, error) {
		return s.prober.Probe(probeCtx, target)
	})
	if run.Err != nil {
		return domain.ProbeOutcome{Error: run.Err.Error()}
	}
	result := run.Value
	return domain.ProbeOutcome{Result: &result}
}

// ProbeTarget picks the second episode when there is more than one, else the
// first. No episodes yields "".
func ProbeTarget(candidate domain.CatalogEntry) string {
	switch {
	case len(candidate.Episodes) > 1:
		return candidate.Episodes[1]
	case len(candidate.Episodes) == 1:
		return candidate.Episodes[0]
	default:
		return ""
	}
}
