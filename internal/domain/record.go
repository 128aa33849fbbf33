package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// FileIdentifier names one downloadable file in the catalog, e.g.
// "StormEvents_details-ftp_v1.0_d2020_c20240216.csv.gz".
type FileIdentifier string

// dataYearRe extracts the data year from the "_dYYYY_" token of an identifier.
var dataYearRe = regexp.MustCompile(`_d(\d{4})(?:_|\.)`)

// Year returns the data year encoded in the identifier.
func (id FileIdentifier) Year() (int, bool) {
	m := dataYearRe.FindStringSubmatch(string(id))
	if len(m) != 2 {
		return 0, false
	}
	y, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return y, true
}

// NamingPolicy decides which catalog entries are identifiers of interest.
type NamingPolicy struct {
	Prefix    string
	Extension string
}

// Accepts reports whether name carries both the family prefix and the
// compressed-file extension.
func (p NamingPolicy) Accepts(name string) bool {
	return strings.HasPrefix(name, p.Prefix) && strings.HasSuffix(name, p.Extension)
}

// Record is one row of the Storm Events details file. Pointer fields are
// optional: nil means the value was blank, unparsable, or the column was
// missing from the source file.
type Record struct {
	EventID          int64    `json:"event_id"`
	EpisodeID        *int64   `json:"episode_id"`
	EventType        string   `json:"event_type"`
	State            string   `json:"state"`
	StateFIPS        *int     `json:"state_fips"`
	Year             *int     `json:"year"`
	MonthName        string   `json:"month_name"`
	BeginDateTime    string   `json:"begin_date_time"`
	EndDateTime      string   `json:"end_date_time"`
	CZTimezone       string   `json:"cz_timezone"`
	CZName           string   `json:"cz_name"`
	WFO              string   `json:"wfo"`
	InjuriesDirect   *int     `json:"injuries_direct"`
	InjuriesIndirect *int     `json:"injuries_indirect"`
	DeathsDirect     *int     `json:"deaths_direct"`
	DeathsIndirect   *int     `json:"deaths_indirect"`
	DamageProperty   string   `json:"damage_property"`
	DamageCrops      string   `json:"damage_crops"`
	Source           string   `json:"source"`
	TorFScale        string   `json:"tor_f_scale"`
	TorLength        *float64 `json:"tor_length"`
	TorWidth         *float64 `json:"tor_width"`
	BeginLocation    string   `json:"begin_location"`
	EndLocation      string   `json:"end_location"`
	BeginLat         float64  `json:"begin_lat"`
	BeginLon         float64  `json:"begin_lon"`
	EndLat           *float64 `json:"end_lat"`
	EndLon           *float64 `json:"end_lon"`
	EventNarrative   string   `json:"event_narrative"`

	// SourceFile is the catalog identifier the record was read from.
	SourceFile FileIdentifier `json:"source_file"`
}

// HasEndCoordinates reports whether the record describes a track (begin and
// end point) rather than a single touchdown point.
func (r Record) HasEndCoordinates() bool {
	return r.EndLat != nil && r.EndLon != nil
}

// ValidText reports whether every string field is valid UTF-8, so that it
// survives JSON encoding unchanged.
func (r Record) ValidText() bool {
	for _, s := range []string{
		r.EventType, r.State, r.MonthName, r.BeginDateTime, r.EndDateTime,
		r.CZTimezone, r.CZName, r.WFO, r.DamageProperty, r.DamageCrops,
		r.Source, r.TorFScale, r.BeginLocation, r.EndLocation, r.EventNarrative,
		string(r.SourceFile),
	} {
		if !utf8.ValidString(s) {
			return false
		}
	}
	return true
}

// Schema lists the serialized record columns in order. Snapshots embed it so
// that a snapshot written with a different layout is detected on load.
var Schema = []string{
	"event_id", "episode_id", "event_type", "state", "state_fips", "year",
	"month_name", "begin_date_time", "end_date_time", "cz_timezone", "cz_name",
	"wfo", "injuries_direct", "injuries_indirect", "deaths_direct",
	"deaths_indirect", "damage_property", "damage_crops", "source",
	"tor_f_scale", "tor_length", "tor_width", "begin_location", "end_location",
	"begin_lat", "begin_lon", "end_lat", "end_lon", "event_narrative",
	"source_file",
}

// Dataset is an ordered collection of records sharing one event type.
type Dataset struct {
	EventType string   `json:"event_type"`
	Records   []Record `json:"records"`
}

// NewDataset returns an empty dataset for the given event type.
func NewDataset(eventType string) Dataset {
	return Dataset{EventType: eventType, Records: []Record{}}
}

// Len returns the number of records.
func (d Dataset) Len() int { return len(d.Records) }

// Append adds records to the dataset. It rejects the whole call if any record
// belongs to a different event type.
func (d *Dataset) Append(records ...Record) error {
	for i := range records {
		if records[i].EventType != d.EventType {
			return fmt.Errorf("%w: record %d has %q, dataset holds %q",
				ErrCategoryMismatch, records[i].EventID, records[i].EventType, d.EventType)
		}
	}
	if d.Records == nil {
		d.Records = make([]Record, 0, len(records))
	}
	d.Records = append(d.Records, records...)
	return nil
}

// Filter returns the items for which keep returns true, preserving order.
func Filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

// FetchStats describes what one file contributed.
type FetchStats struct {
	Bytes       int // compressed payload size
	RowsRead    int // data rows in the file, excluding the header
	RowsMatched int // rows whose EVENT_TYPE equals the target
	RowsSkipped int // matching or malformed rows that could not be decoded
}

// SnapshotMeta is the provenance stored with a persisted Dataset.
type SnapshotMeta struct {
	RunID     string
	CreatedAt time.Time // set by the store on save
	Sources   []FileIdentifier
}
