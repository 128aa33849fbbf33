// Package snapshot persists an aggregated Dataset to a named local file and
// reads it back.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/storm-events-archive/internal/domain"
)

// FormatVersion is bumped whenever the envelope layout changes.
const FormatVersion = 1

const fileSuffix = ".json.gz"

var nameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Snapshot is the on-disk envelope.
type Snapshot struct {
	Version   int                     `json:"version"`
	Name      string                  `json:"name"`
	RunID     string                  `json:"run_id"`
	CreatedAt time.Time               `json:"created_at"`
	EventType string                  `json:"event_type"`
	Schema    []string                `json:"schema"`
	Sources   []domain.FileIdentifier `json:"sources"`
	Records   []domain.Record         `json:"records"`
}

// Info describes a snapshot without its records.
type Info struct {
	Name      string
	Path      string
	Size      int64
	Version   int
	RunID     string
	CreatedAt time.Time
	EventType string
	Sources   []domain.FileIdentifier
	Records   int
}

// Store reads and writes snapshots under one directory. It is the only
// component that touches persisted state.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir. The directory is created on the
// first Save.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// Path returns the file a snapshot name maps to.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+fileSuffix)
}

// Save writes ds as the snapshot called name, replacing any previous one.
// The new file is written to a temporary path and renamed into place, so a
// failed Save leaves the previous snapshot readable.
func (s *Store) Save(name string, ds domain.Dataset, meta domain.SnapshotMeta) error {
	if err := validateName(name); err != nil {
		return err
	}
	for _, r := range ds.Records {
		if !r.ValidText() {
			return fmt.Errorf("%w: %s: event %d has text that is not valid UTF-8", domain.ErrCacheWrite, name, r.EventID)
		}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create cache dir: %w", domain.ErrCacheWrite, err)
	}

	records := ds.Records
	if records == nil {
		records = []domain.Record{}
	}
	sources := meta.Sources
	if sources == nil {
		sources = []domain.FileIdentifier{}
	}
	snap := Snapshot{
		Version:   FormatVersion,
		Name:      name,
		RunID:     meta.RunID,
		CreatedAt: domain.Now(),
		EventType: ds.EventType,
		Schema:    domain.Schema,
		Sources:   sources,
		Records:   records,
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", domain.ErrCacheWrite, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := encode(tmp, &snap); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrCacheWrite, name, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", domain.ErrCacheWrite, name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", domain.ErrCacheWrite, name, err)
	}
	if err := os.Rename(tmpPath, s.Path(name)); err != nil {
		return fmt.Errorf("%w: replace %s: %w", domain.ErrCacheWrite, name, err)
	}
	committed = true

	s.logger.Info("snapshot saved", "name", name, "path", s.Path(name), "records", len(records))
	return nil
}

// Load reads the snapshot called name. A snapshot that was never written is
// ErrCacheMiss; one that cannot be decoded is ErrCacheCorrupt.
func (s *Store) Load(name string) (domain.Dataset, domain.SnapshotMeta, error) {
	snap, err := s.read(name)
	if err != nil {
		return domain.Dataset{}, domain.SnapshotMeta{}, err
	}

	ds := domain.NewDataset(snap.EventType)
	if err := ds.Append(snap.Records...); err != nil {
		return domain.Dataset{}, domain.SnapshotMeta{}, fmt.Errorf("%w: %s: %w", domain.ErrCacheCorrupt, name, err)
	}
	s.logger.Info("snapshot loaded", "name", name, "records", ds.Len(), "created_at", snap.CreatedAt)
	return ds, domain.SnapshotMeta{RunID: snap.RunID, CreatedAt: snap.CreatedAt, Sources: snap.Sources}, nil
}

// Stat returns snapshot metadata. The file is fully decoded so a corrupt
// snapshot is reported the same way Load would.
func (s *Store) Stat(name string) (Info, error) {
	snap, err := s.read(name)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(s.Path(name))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %w", domain.ErrCacheMiss, name, err)
	}
	return Info{
		Name:      name,
		Path:      s.Path(name),
		Size:      fi.Size(),
		Version:   snap.Version,
		RunID:     snap.RunID,
		CreatedAt: snap.CreatedAt,
		EventType: snap.EventType,
		Sources:   snap.Sources,
		Records:   len(snap.Records),
	}, nil
}

func (s *Store) read(name string) (Snapshot, error) {
	if err := validateName(name); err != nil {
		return Snapshot{}, err
	}

	f, err := os.Open(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, fmt.Errorf("%w: %s", domain.ErrCacheMiss, name)
		}
		return Snapshot{}, fmt.Errorf("%w: open %s: %w", domain.ErrCacheCorrupt, name, err)
	}
	defer f.Close()

	snap, err := decode(f)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s: %w", domain.ErrCacheCorrupt, name, err)
	}
	if snap.Version != FormatVersion {
		return Snapshot{}, fmt.Errorf("%w: %s: version %d, want %d", domain.ErrCacheCorrupt, name, snap.Version, FormatVersion)
	}
	if !slices.Equal(snap.Schema, domain.Schema) {
		return Snapshot{}, fmt.Errorf("%w: %s: schema mismatch", domain.ErrCacheCorrupt, name)
	}
	if snap.Records == nil {
		return Snapshot{}, fmt.Errorf("%w: %s: records missing", domain.ErrCacheCorrupt, name)
	}
	return snap, nil
}

func encode(w io.Writer, snap *Snapshot) error {
	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(snap); err != nil {
		_ = gz.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	return nil
}

func decode(r io.Reader) (Snapshot, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decompress: %w", err)
	}
	defer gz.Close()

	var snap Snapshot
	dec := json.NewDecoder(gz)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode: %w", err)
	}
	// Drain to surface a truncated stream's checksum error.
	if _, err := io.Copy(io.Discard, gz); err != nil {
		return Snapshot{}, fmt.Errorf("decompress: %w", err)
	}
	return snap, nil
}

func validateName(name string) error {
	if !nameRe.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: invalid snapshot name %q", domain.ErrConfig, name)
	}
	return nil
}
