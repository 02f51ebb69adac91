package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"vodstream/catalogservice/internal/domain"
)

// maxConcurrentProviders limits the number of provider queries that can run simultaneously.
const maxConcurrentProviders = 16

type searchTask struct {
	name   string
	kind   sourceKind
	search func(ctx context.Context, query string) ([]domain.CatalogEntry, error)
}

// Search fans the query out to every enabled source and concatenates the results
// in a fixed order: media server, personal library, then catalog providers in
// configuration order. A failing or slow source contributes nothing; only an
// unresolvable provider list is reported as an error.
func (s *Service) Search(ctx context.Context, query string) (domain.SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.SearchResponse{Results: []domain.CatalogEntry{}, Cacheable: true}, nil
	}

	tasks, err := s.buildTasks(ctx)
	if err != nil {
		return domain.SearchResponse{}, err
	}

	startedAt := time.Now()
	slots := make([][]domain.CatalogEntry, len(tasks))
	statuses := make([]domain.ProviderStatus, len(tasks))

	sem := semaphore.NewWeighted(s.maxConcurrent)
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(index int, current searchTask) {
			defer wg.Done()
			slots[index], statuses[index] = s.runTask(ctx, sem, current, query)
		}(i, task)
	}
	wg.Wait()

	total := 0
	for _, slot := range slots {
		total += len(slot)
	}
	results := make([]domain.CatalogEntry, 0, total)
	for _, slot := range slots {
		results = append(results, slot...)
	}

	if !s.filterDisabled {
		results = s.filter.Apply(results)
	}

	slog.Debug("search completed",
		slog.String("query", query),
		slog.Int("sources", len(tasks)),
		slog.Int("results", len(results)),
		slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
	)

	return domain.SearchResponse{
		Results:   results,
		Providers: statuses,
		ElapsedMS: time.Since(startedAt).Milliseconds(),
		Cacheable: len(results) > 0,
	}, nil
}

func (s *Service) buildTasks(ctx context.Context) ([]searchTask, error) {
	tasks := make([]searchTask, 0)
	for _, integration := range []Integration{s.mediaServer, s.library} {
		if integration == nil || !integration.Enabled() {
			continue
		}
		tasks = append(tasks, searchTask{name: integration.Name(), kind: kindIntegration, search: integration.Search})
	}

	if s.resolver == nil {
		return tasks, nil
	}
	sources, err := s.resolver.EffectiveSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceResolution, err)
	}
	for _, cfg := range sources {
		if !cfg.Enabled() || s.newProvider == nil {
			continue
		}
		provider := s.newProvider(cfg)
		if provider == nil {
			continue
		}
		tasks = append(tasks, searchTask{name: provider.Key(), kind: kindCatalog, search: provider.Search})
	}
	return tasks, nil
}

// runTask queries one source. The per-source deadline starts before the
// concurrency slot is taken, so queueing behind other sources spends the same
// budget. Outcomes caused by the caller's own context never reach the breaker.
func (s *Service) runTask(ctx context.Context, sem *semaphore.Weighted, task searchTask, query string) ([]domain.CatalogEntry, domain.ProviderStatus) {
	name := strings.ToLower(strings.TrimSpace(task.name))
	status := domain.ProviderStatus{Name: name}

	if blocked, until, lastErr := s.isProviderBlocked(name, time.Now()); blocked {
		status.Error = fmt.Sprintf("provider temporarily unhealthy until %s: %s", until.UTC().Format(time.RFC3339), lastErr)
		return nil, status
	}

	deadline := time.Now().Add(s.timeout)
	slotCtx, cancelSlot := context.WithDeadline(ctx, deadline)
	err := sem.Acquire(slotCtx, 1)
	cancelSlot()
	if err != nil {
		if ctx.Err() != nil {
			status.Error = fmt.Sprintf("%s: %v", ErrCallerGone, ctx.Err())
			return nil, status
		}
		status.Timeout = true
		status.Error = fmt.Sprintf("%s: %s waiting for a free slot", ErrCallTimeout, name)
		return nil, status
	}
	defer sem.Release(1)

	remaining := time.Until(deadline)
	if remaining <= 0 {
		status.Timeout = true
		status.Error = fmt.Sprintf("%s: %s waiting for a free slot", ErrCallTimeout, name)
		return nil, status
	}

	result := RunWithDeadline(ctx, CallProvider, name, remaining, []domain.CatalogEntry{}, func(runCtx context.Context) ([]domain.CatalogEntry, error) {
		var items []domain.CatalogEntry
		err := RetryWithBackoff(runCtx, s.retry, func() error {
			var err error
			items, err = task.search(runCtx, query)
			return err
		})
		return items, err
	})
	s.recordProviderResult(task.kind, name, query, result.Err, result.Elapsed, time.Now())

	status.OK = result.Err == nil
	status.Timeout = result.TimedOut
	status.Count = len(result.Value)
	if result.Err != nil {
		status.Error = result.Err.Error()
	}
	return result.Value, status
}
