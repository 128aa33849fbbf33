// Command validate checks the integrity of a persisted snapshot: that it
// decodes, that every record satisfies the dataset invariants, and
// optionally that it matches the source files it was built from.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -cache-dir data/cache \
//	  -name tornado_data \
//	  -source-dir data/mock/csvfiles
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/couchcryptid/storm-events-archive/internal/adapter/noaa"
	"github.com/couchcryptid/storm-events-archive/internal/adapter/snapshot"
	"github.com/couchcryptid/storm-events-archive/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	cacheDir := flag.String("cache-dir", "data/cache", "directory holding snapshots")
	name := flag.String("name", "tornado_data", "snapshot name")
	eventType := flag.String("event-type", "", "expected event type (defaults to the snapshot's)")
	sourceDir := flag.String("source-dir", "", "optional directory with the .csv.gz files the snapshot was built from")
	flag.Parse()

	os.Exit(run(*cacheDir, *name, *eventType, *sourceDir))
}

func run(cacheDir, name, eventType, sourceDir string) int {
	fmt.Println("=== Snapshot Integrity Validation ===")
	fmt.Println()

	store := snapshot.NewStore(cacheDir, nil)
	info, err := store.Stat(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	ds, meta, err := store.Load(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	if eventType == "" {
		eventType = ds.EventType
	}

	phases := []*phase{
		validateEnvelope(info, ds, eventType),
		validateRecords(ds, meta),
	}
	if sourceDir != "" {
		phases = append(phases, validateSourceParity(ds, meta, sourceDir))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Snapshot %s: %d records from %d files, run %s, written %s (%d bytes)\n",
		info.Path, info.Records, len(info.Sources), info.RunID, info.CreatedAt.Format("2006-01-02 15:04:05Z07:00"), info.Size)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Envelope ──

func validateEnvelope(info snapshot.Info, ds domain.Dataset, eventType string) *phase {
	p := &phase{name: "Phase 1: Envelope"}
	if info.Version != snapshot.FormatVersion {
		p.errorf("version %d, want %d", info.Version, snapshot.FormatVersion)
	}
	if ds.EventType != eventType {
		p.errorf("event type %q, want %q", ds.EventType, eventType)
	}
	if info.Records != ds.Len() {
		p.errorf("stat reports %d records, load returned %d", info.Records, ds.Len())
	}
	if info.RunID == "" {
		p.errorf("run_id is empty")
	}
	if info.CreatedAt.IsZero() {
		p.errorf("created_at is zero")
	}
	return p
}

// ── Phase 2: Record invariants ──

func validateRecords(ds domain.Dataset, meta domain.SnapshotMeta) *phase {
	p := &phase{name: "Phase 2: Record invariants"}
	seen := make(map[int64]int, ds.Len())
	for i, r := range ds.Records {
		pf := func(format string, args ...any) {
			p.errorf("record %d (event %d): %s", i, r.EventID, fmt.Sprintf(format, args...))
		}
		if r.EventType != ds.EventType {
			pf("event type %q in a %q dataset", r.EventType, ds.EventType)
		}
		if r.EventID <= 0 {
			pf("event_id is not positive")
		}
		if prev, dup := seen[r.EventID]; dup {
			pf("duplicate event_id, first seen at record %d", prev)
		}
		seen[r.EventID] = i

		checkCoordinate(pf, "begin_lat", r.BeginLat, 90)
		checkCoordinate(pf, "begin_lon", r.BeginLon, 180)
		if (r.EndLat == nil) != (r.EndLon == nil) {
			pf("only one end coordinate is present")
		}
		if r.EndLat != nil {
			checkCoordinate(pf, "end_lat", *r.EndLat, 90)
		}
		if r.EndLon != nil {
			checkCoordinate(pf, "end_lon", *r.EndLon, 180)
		}
		if len(meta.Sources) > 0 && !slices.Contains(meta.Sources, r.SourceFile) {
			pf("source_file %q is not among the snapshot sources", r.SourceFile)
		}
	}
	return p
}

func checkCoordinate(pf func(string, ...any), field string, v, limit float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > limit {
		pf("%s %v out of range", field, v)
	}
}

// ── Phase 3: Source parity ──
// Re-reads every source file and compares the records it yields.

func validateSourceParity(ds domain.Dataset, meta domain.SnapshotMeta, dir string) *phase {
	p := &phase{name: "Phase 3: Source parity (snapshot vs CSV)"}

	bySource := map[domain.FileIdentifier][]int64{}
	for _, r := range ds.Records {
		bySource[r.SourceFile] = append(bySource[r.SourceFile], r.EventID)
	}

	for _, id := range meta.Sources {
		f, err := os.Open(filepath.Join(dir, string(id)))
		if err != nil {
			p.errorf("%s: %v", id, err)
			continue
		}
		src, _, err := noaa.DecodeDetails(f, id, ds.EventType)
		_ = f.Close()
		if err != nil {
			p.errorf("%s: %v", id, err)
			continue
		}

		want := make([]int64, 0, src.Len())
		for _, r := range src.Records {
			want = append(want, r.EventID)
		}
		got := bySource[id]
		if !slices.Equal(want, got) {
			p.errorf("%s: source yields %d records, snapshot holds %d", id, len(want), len(got))
		}
		delete(bySource, id)
	}
	for id, ids := range bySource {
		p.errorf("%d records reference %s, which is not a listed source", len(ids), id)
	}
	return p
}
