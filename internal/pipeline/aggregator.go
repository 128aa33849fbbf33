// Package pipeline lists the catalog, fetches and filters each file, folds
// the results into one Dataset, and manages the snapshot for a run.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/storm-events-archive/internal/domain"
	"github.com/couchcryptid/storm-events-archive/internal/observability"
)

// Fetcher downloads one catalog file and returns its rows of the target event type.
type Fetcher interface {
	Target() string
	FetchAndFilter(ctx context.Context, id domain.FileIdentifier, baseURL string) (domain.Dataset, domain.FetchStats, error)
}

// OutcomeKind classifies what a single file contributed.
type OutcomeKind string

const (
	OutcomeContributed OutcomeKind = "contributed"
	OutcomeEmpty       OutcomeKind = "empty"
	OutcomeFailed      OutcomeKind = "failed"
)

// Outcome is the result of processing one identifier.
type Outcome struct {
	ID       domain.FileIdentifier
	Kind     OutcomeKind
	Records  int
	Stats    domain.FetchStats
	Duration time.Duration
	Err      error
}

// Failure names an identifier that could not be processed.
type Failure struct {
	ID  domain.FileIdentifier
	Err error
}

// Result is the fold of every dispatched fetch.
type Result struct {
	Dataset   domain.Dataset
	Outcomes  []Outcome // one per dispatched identifier, in catalog order
	Failures  []Failure
	Pending   []domain.FileIdentifier // never dispatched because the run was cancelled
	Cancelled bool
	// RowsSkipped totals the target-category rows dropped as undecodable
	// by files that were not failed.
	RowsSkipped int
}

// Complete reports whether every identifier was processed successfully.
func (r Result) Complete() bool {
	return len(r.Failures) == 0 && len(r.Pending) == 0 && !r.Cancelled
}

// FailedIDs returns the identifiers of every failure.
func (r Result) FailedIDs() []domain.FileIdentifier {
	ids := make([]domain.FileIdentifier, len(r.Failures))
	for i, f := range r.Failures {
		ids[i] = f.ID
	}
	return ids
}

// AggregatorConfig controls how files are fetched.
type AggregatorConfig struct {
	BaseURL     string
	Concurrency int
	// DrainTimeout bounds how long in-flight fetches may keep running once
	// the run is cancelled.
	DrainTimeout time.Duration
}

// Aggregator runs the fetcher over a set of identifiers on a bounded worker
// pool and folds the per-file datasets together.
type Aggregator struct {
	fetcher Fetcher
	cfg     AggregatorConfig
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewAggregator creates an Aggregator. Concurrency below 1 is treated as 1.
func NewAggregator(f Fetcher, cfg AggregatorConfig, logger *slog.Logger, metrics *observability.Metrics) *Aggregator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	return &Aggregator{fetcher: f, cfg: cfg, logger: logger, metrics: metrics}
}

type slot struct {
	done    bool
	dataset domain.Dataset
	outcome Outcome
}

// Aggregate fetches every identifier and returns the combined dataset with a
// per-file account of what happened. It never fails as a whole: file errors
// are reported in Result.Failures. Cancelling ctx stops dispatching new
// fetches; fetches already running are allowed to finish within DrainTimeout
// and their results are kept.
func (a *Aggregator) Aggregate(ctx context.Context, ids []domain.FileIdentifier) Result {
	fetchCtx, cancelFetches := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFetches()
	defer drainAfterCancel(ctx, a.cfg.DrainTimeout, cancelFetches)()

	// Each worker writes only to the slot of the index it received, so the
	// fold below needs no locking and its order does not depend on scheduling.
	slots := make([]slot, len(ids))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for range min(a.cfg.Concurrency, len(ids)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				slots[i] = a.fetchOne(fetchCtx, ids[i])
			}
		}()
	}

dispatch:
	for i := range ids {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	return a.fold(ctx, ids, slots)
}

// drainAfterCancel calls cancel d after ctx is done. The returned stop func
// disarms it unless the timer has already fired.
func drainAfterCancel(ctx context.Context, d time.Duration, cancel func()) (stop func()) {
	var (
		mu      sync.Mutex
		timer   *time.Timer
		stopped bool
	)
	stopWatch := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			timer = time.AfterFunc(d, cancel)
		}
	})
	return func() {
		stopWatch()
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
	}
}

func (a *Aggregator) fetchOne(ctx context.Context, id domain.FileIdentifier) slot {
	start := time.Now()
	ds, stats, err := a.fetcher.FetchAndFilter(ctx, id, a.cfg.BaseURL)
	elapsed := time.Since(start)
	a.metrics.FetchDuration.Observe(elapsed.Seconds())
	a.metrics.RowsSkipped.Add(float64(stats.RowsSkipped))

	out := Outcome{ID: id, Stats: stats, Duration: elapsed}
	switch {
	case err != nil:
		out.Kind = OutcomeFailed
		out.Err = err
		a.logger.Warn("file failed", "file", id, "error", err, "duration", elapsed)
	case ds.Len() == 0:
		out.Kind = OutcomeEmpty
		a.logger.Info("file had no matching rows", "file", id, "rows_read", stats.RowsRead, "duration", elapsed)
	default:
		out.Kind = OutcomeContributed
		out.Records = ds.Len()
		a.logger.Info("file processed", "file", id, "records", ds.Len(),
			"rows_read", stats.RowsRead, "rows_skipped", stats.RowsSkipped, "duration", elapsed)
	}
	return slot{done: true, dataset: ds, outcome: out}
}

func (a *Aggregator) fold(ctx context.Context, ids []domain.FileIdentifier, slots []slot) Result {
	res := Result{
		Dataset:   domain.NewDataset(a.fetcher.Target()),
		Outcomes:  make([]Outcome, 0, len(ids)),
		Cancelled: ctx.Err() != nil,
	}
	for i, s := range slots {
		if !s.done {
			res.Pending = append(res.Pending, ids[i])
			continue
		}
		out := s.outcome
		if out.Kind != OutcomeFailed {
			if err := res.Dataset.Append(s.dataset.Records...); err != nil {
				out.Kind, out.Records, out.Err = OutcomeFailed, 0, err
				a.logger.Warn("file rejected", "file", out.ID, "error", err)
			}
		}
		if out.Kind != OutcomeFailed {
			res.RowsSkipped += out.Stats.RowsSkipped
		}
		a.metrics.FilesFetched.WithLabelValues(string(out.Kind)).Inc()
		a.metrics.RecordsRetained.Add(float64(out.Records))
		res.Outcomes = append(res.Outcomes, out)
	}

	for _, out := range domain.Filter(res.Outcomes, func(o Outcome) bool { return o.Kind == OutcomeFailed }) {
		res.Failures = append(res.Failures, Failure{ID: out.ID, Err: out.Err})
	}
	return res
}
