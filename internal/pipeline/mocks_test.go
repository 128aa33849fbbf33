package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-events-archive/internal/domain"
	"github.com/couchcryptid/storm-events-archive/internal/observability"
	"github.com/couchcryptid/storm-events-archive/internal/pipeline"
)

const target = "Tornado"

// --- mocks ---

type fileResult struct {
	records int
	skipped int
	err     error
	delay   time.Duration
	gate    chan struct{} // when set, the fetch blocks until the gate is closed
}

type mockFetcher struct {
	files   map[domain.FileIdentifier]fileResult
	started chan domain.FileIdentifier
	calls   atomic.Int64

	mu       sync.Mutex
	inflight int
	peak     int
	ctxErrs  []error
}

func newMockFetcher(files map[domain.FileIdentifier]fileResult) *mockFetcher {
	return &mockFetcher{files: files, started: make(chan domain.FileIdentifier, 64)}
}

func (m *mockFetcher) Target() string { return target }

func (m *mockFetcher) FetchAndFilter(ctx context.Context, id domain.FileIdentifier, _ string) (domain.Dataset, domain.FetchStats, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.inflight++
	m.peak = max(m.peak, m.inflight)
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}()
	m.started <- id

	fr := m.files[id]
	if fr.gate != nil {
		<-fr.gate
	}
	if fr.delay > 0 {
		time.Sleep(fr.delay)
	}
	m.mu.Lock()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	m.mu.Unlock()
	if fr.err != nil {
		return domain.Dataset{}, domain.FetchStats{RowsSkipped: fr.skipped}, fr.err
	}

	ds := domain.NewDataset(target)
	for i := range fr.records {
		_ = ds.Append(record(int64(i+1), id))
	}
	return ds, domain.FetchStats{
		RowsRead:    fr.records*2 + fr.skipped,
		RowsMatched: fr.records + fr.skipped,
		RowsSkipped: fr.skipped,
	}, nil
}

func (m *mockFetcher) peakConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// wrongTypeFetcher returns records of another event type.
type wrongTypeFetcher struct{}

func (wrongTypeFetcher) Target() string { return target }

func (wrongTypeFetcher) FetchAndFilter(_ context.Context, id domain.FileIdentifier, _ string) (domain.Dataset, domain.FetchStats, error) {
	r := record(1, id)
	r.EventType = "Hail"
	return domain.Dataset{EventType: "Hail", Records: []domain.Record{r}}, domain.FetchStats{}, nil
}

type mockLister struct {
	ids   []domain.FileIdentifier
	err   error
	calls int
}

func (m *mockLister) ListFiles(_ context.Context, _ string) ([]domain.FileIdentifier, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.ids, nil
}

type memStore struct {
	saved   map[string]domain.Dataset
	meta    map[string]domain.SnapshotMeta
	saveErr error
	loadErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{saved: map[string]domain.Dataset{}, meta: map[string]domain.SnapshotMeta{}}
}

func (m *memStore) Save(name string, ds domain.Dataset, meta domain.SnapshotMeta) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[name] = ds
	m.meta[name] = meta
	return nil
}

func (m *memStore) Load(name string) (domain.Dataset, domain.SnapshotMeta, error) {
	if m.loadErr != nil {
		return domain.Dataset{}, domain.SnapshotMeta{}, m.loadErr
	}
	ds, ok := m.saved[name]
	if !ok {
		return domain.Dataset{}, domain.SnapshotMeta{}, domain.ErrCacheMiss
	}
	return ds, m.meta[name], nil
}

type mockPublisher struct {
	err       error
	published []domain.Dataset
	runIDs    []string
}

func (m *mockPublisher) Publish(_ context.Context, ds domain.Dataset, runID string) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, ds)
	m.runIDs = append(m.runIDs, runID)
	return nil
}

// --- helpers ---

func record(eventID int64, id domain.FileIdentifier) domain.Record {
	return domain.Record{
		EventID:    eventID,
		EventType:  target,
		BeginLat:   35.0,
		BeginLon:   -97.0,
		SourceFile: id,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAggregator(f pipeline.Fetcher, concurrency int) *pipeline.Aggregator {
	return pipeline.NewAggregator(f, pipeline.AggregatorConfig{
		BaseURL:      "http://catalog.test/",
		Concurrency:  concurrency,
		DrainTimeout: time.Second,
	}, testLogger(), observability.NewMetricsForTesting())
}
