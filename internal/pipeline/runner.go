package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/storm-events-archive/internal/domain"
	"github.com/couchcryptid/storm-events-archive/internal/observability"
)

// Lister returns the identifiers published on the catalog index page.
type Lister interface {
	ListFiles(ctx context.Context, indexURL string) ([]domain.FileIdentifier, error)
}

// SnapshotStore persists and restores a named Dataset.
type SnapshotStore interface {
	Save(name string, ds domain.Dataset, meta domain.SnapshotMeta) error
	Load(name string) (domain.Dataset, domain.SnapshotMeta, error)
}

// Publisher hands the final Dataset to a downstream consumer.
type Publisher interface {
	Publish(ctx context.Context, ds domain.Dataset, runID string) error
}

// RunOptions selects where the Dataset comes from and whether it is cached.
type RunOptions struct {
	RefreshFromSource bool
	PersistToCache    bool
	CacheName         string
	// AllowPartial persists a snapshot even when some files failed or the
	// run was cancelled.
	AllowPartial bool
}

// Validate rejects option combinations that have no defined behavior.
func (o RunOptions) Validate() error {
	if o.CacheName == "" && (o.PersistToCache || !o.RefreshFromSource) {
		return fmt.Errorf("%w: cache name is required", domain.ErrConfig)
	}
	if !o.RefreshFromSource && o.PersistToCache {
		return fmt.Errorf("%w: persisting requires refreshing from source; disable one of them", domain.ErrConfig)
	}
	return nil
}

// RunResult is what a run produced. Dataset is valid whenever Run returns a
// nil error, even if CacheErr is set.
type RunResult struct {
	RunID     string
	Dataset   domain.Dataset
	Sources   []domain.FileIdentifier
	Outcomes  []Outcome
	Failures  []Failure
	Pending   []domain.FileIdentifier
	Cancelled bool
	// RowsSkipped counts target-category rows dropped because they could
	// not be decoded. They are not part of Dataset.
	RowsSkipped int
	FromCache   bool
	Cached      bool
	// CacheSkipped is set when persisting was requested but the run was incomplete.
	CacheSkipped bool
	CacheErr     error
}

// Summary is a serializable digest of a RunResult.
type Summary struct {
	RunID       string                  `json:"run_id"`
	EventType   string                  `json:"event_type"`
	Records     int                     `json:"records"`
	Files       int                     `json:"files"`
	Failed      []domain.FileIdentifier `json:"failed"`
	Pending     []domain.FileIdentifier `json:"pending"`
	Cancelled   bool                    `json:"cancelled"`
	RowsSkipped int                     `json:"rows_skipped"`
	FromCache   bool                    `json:"from_cache"`
	Cached      bool                    `json:"cached"`
	CacheError  string                  `json:"cache_error,omitempty"`
	FinishedAt  time.Time               `json:"finished_at"`
}

// Summary digests the result for logs and the status endpoint.
func (r RunResult) Summary() Summary {
	s := Summary{
		RunID:       r.RunID,
		EventType:   r.Dataset.EventType,
		Records:     r.Dataset.Len(),
		Files:       len(r.Sources),
		Failed:      make([]domain.FileIdentifier, 0, len(r.Failures)),
		Pending:     make([]domain.FileIdentifier, 0, len(r.Pending)),
		Cancelled:   r.Cancelled,
		RowsSkipped: r.RowsSkipped,
		FromCache:   r.FromCache,
		Cached:      r.Cached,
		FinishedAt:  domain.Now(),
	}
	for _, f := range r.Failures {
		s.Failed = append(s.Failed, f.ID)
	}
	s.Pending = append(s.Pending, r.Pending...)
	if r.CacheErr != nil {
		s.CacheError = r.CacheErr.Error()
	}
	return s
}

// RunnerConfig describes the catalog subset a run fetches.
type RunnerConfig struct {
	IndexURL string
	Years    []int
	MaxFiles int
}

// Runner drives one run through LISTING, FETCHING and then CACHING, or loads a
// prior snapshot instead.
type Runner struct {
	lister     Lister
	aggregator *Aggregator
	store      SnapshotStore
	publisher  Publisher
	cfg        RunnerConfig
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
	last       atomic.Pointer[Summary]
}

// NewRunner creates a Runner. publisher may be nil.
func NewRunner(l Lister, agg *Aggregator, store SnapshotStore, pub Publisher, cfg RunnerConfig, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		lister:     l,
		aggregator: agg,
		store:      store,
		publisher:  pub,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once a run has produced a Dataset.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no dataset has been produced yet")
	}
	return nil
}

// LastRun returns the summary of the most recent successful run.
func (r *Runner) LastRun() (Summary, bool) {
	s := r.last.Load()
	if s == nil {
		return Summary{}, false
	}
	return *s, true
}

// Run executes a single run. Errors returned are fatal for the run: invalid
// options, a failed catalog listing, an unusable snapshot when not refreshing,
// or a failed publish. Per-file failures and snapshot write failures are
// reported in the result instead.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	if err := opts.Validate(); err != nil {
		return RunResult{}, err
	}

	res := RunResult{RunID: uuid.NewString()}
	logger := r.logger.With("run_id", res.RunID)
	start := time.Now()

	r.metrics.PipelineRunning.Set(1)
	defer r.metrics.PipelineRunning.Set(0)

	if !opts.RefreshFromSource {
		if err := r.useCache(opts.CacheName, &res, logger); err != nil {
			return RunResult{}, err
		}
	} else {
		if err := r.refresh(ctx, opts, &res, logger); err != nil {
			return RunResult{}, err
		}
	}
	summary := res.Summary()
	r.last.Store(&summary)
	r.ready.Store(true)

	logger.Info("run finished",
		"records", res.Dataset.Len(),
		"files", len(res.Sources),
		"failed", len(res.Failures),
		"pending", len(res.Pending),
		"rows_skipped", res.RowsSkipped,
		"from_cache", res.FromCache,
		"cached", res.Cached,
		"duration", time.Since(start),
	)

	if r.publisher != nil {
		if ctx.Err() != nil {
			logger.Warn("skipping publish, run cancelled")
			return res, nil
		}
		if err := r.publisher.Publish(ctx, res.Dataset, res.RunID); err != nil {
			return res, fmt.Errorf("publish dataset: %w", err)
		}
		logger.Info("dataset published", "records", res.Dataset.Len())
	}
	return res, nil
}

func (r *Runner) useCache(name string, res *RunResult, logger *slog.Logger) error {
	logger.Info("loading snapshot", "name", name)
	ds, meta, err := r.store.Load(name)
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			return fmt.Errorf("%w: refresh disabled and no snapshot to reuse: %w", domain.ErrConfig, err)
		}
		return fmt.Errorf("load snapshot: %w", err)
	}
	r.metrics.SnapshotRecords.Set(float64(ds.Len()))
	res.Dataset = ds
	res.Sources = meta.Sources
	res.FromCache = true
	return nil
}

func (r *Runner) refresh(ctx context.Context, opts RunOptions, res *RunResult, logger *slog.Logger) error {
	logger.Info("listing catalog", "url", r.cfg.IndexURL)
	ids, err := r.lister.ListFiles(ctx, r.cfg.IndexURL)
	if err != nil {
		return err
	}
	selected := domain.SelectFiles(ids, r.cfg.Years, r.cfg.MaxFiles)
	r.metrics.CatalogFiles.Set(float64(len(selected)))
	logger.Info("catalog listed", "available", len(ids), "selected", len(selected))

	agg := r.aggregator.Aggregate(ctx, selected)
	res.Dataset = agg.Dataset
	res.Sources = selected
	res.Outcomes = agg.Outcomes
	res.Failures = agg.Failures
	res.Pending = agg.Pending
	res.Cancelled = agg.Cancelled
	res.RowsSkipped = agg.RowsSkipped
	if len(agg.Failures) > 0 {
		logger.Warn("some files failed", "failed", agg.FailedIDs())
	}
	if agg.RowsSkipped > 0 {
		logger.Warn("undecodable rows dropped", "rows_skipped", agg.RowsSkipped, "event_type", agg.Dataset.EventType)
	}
	if agg.Cancelled {
		logger.Warn("run cancelled", "completed", len(agg.Outcomes), "pending", len(agg.Pending))
	}

	if !opts.PersistToCache {
		return nil
	}
	if !agg.Complete() && !opts.AllowPartial {
		res.CacheSkipped = true
		logger.Warn("skipping snapshot, run incomplete", "name", opts.CacheName)
		return nil
	}
	meta := domain.SnapshotMeta{RunID: res.RunID, Sources: selected}
	if err := r.store.Save(opts.CacheName, res.Dataset, meta); err != nil {
		r.metrics.SnapshotWrites.WithLabelValues("error").Inc()
		res.CacheErr = err
		logger.Error("snapshot write failed", "name", opts.CacheName, "error", err)
		return nil
	}
	r.metrics.SnapshotWrites.WithLabelValues("success").Inc()
	r.metrics.SnapshotRecords.Set(float64(res.Dataset.Len()))
	res.Cached = true
	return nil
}
