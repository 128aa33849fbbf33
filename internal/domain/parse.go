package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// essentialColumns must be present in every details file.
var essentialColumns = []string{"EVENT_ID", "EVENT_TYPE", "BEGIN_LAT", "BEGIN_LON"}

// Header maps CSV column names to their positions in a row.
type Header struct {
	index map[string]int
	width int
}

// NewHeader indexes a CSV header row and checks that every essential column
// is present.
func NewHeader(columns []string) (Header, error) {
	h := Header{index: make(map[string]int, len(columns)), width: len(columns)}
	for i, c := range columns {
		c = strings.TrimSpace(strings.TrimPrefix(c, "\ufeff"))
		h.index[strings.ToUpper(c)] = i
	}

	var missing []string
	for _, c := range essentialColumns {
		if _, ok := h.index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return Header{}, fmt.Errorf("%w: missing columns %s", ErrSchema, strings.Join(missing, ", "))
	}
	return h, nil
}

// Has reports whether the header contains the column.
func (h Header) Has(column string) bool {
	_, ok := h.index[column]
	return ok
}

// raw returns the cell of a column as read, or "" when the column is absent.
func (h Header) raw(row []string, column string) string {
	i, ok := h.index[column]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// field returns the trimmed value of a column, or "" when the column is absent.
func (h Header) field(row []string, column string) string {
	return strings.TrimSpace(h.raw(row, column))
}

// text returns a trimmed free-text cell as valid UTF-8.
func (h Header) text(row []string, column string) string {
	return toUTF8(h.field(row, column))
}

// EventTypeIs returns a row predicate matching the EVENT_TYPE cell byte for
// byte. Padding and case differences do not match.
func (h Header) EventTypeIs(target string) func([]string) bool {
	return func(row []string) bool {
		return h.raw(row, "EVENT_TYPE") == target
	}
}

// toUTF8 returns s unchanged when it is valid UTF-8. Older details files carry
// Windows-1252 bytes in place names and narratives; those are transcoded.
func toUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	if out, err := charmap.Windows1252.NewDecoder().String(s); err == nil && utf8.ValidString(out) {
		return out
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

// SelectRecords decodes the rows whose EVENT_TYPE equals target. Rows of other
// categories are never decoded. Matching rows that cannot be decoded are
// dropped and counted in skipped.
func SelectRecords(h Header, rows [][]string, target string, source FileIdentifier) (records []Record, skipped int) {
	matching := Filter(rows, h.EventTypeIs(target))
	records = make([]Record, 0, len(matching))
	for _, row := range matching {
		rec, err := ParseRecord(h, row)
		if err != nil {
			skipped++
			continue
		}
		rec.SourceFile = source
		records = append(records, rec)
	}
	return records, skipped
}

var errRowWidth = errors.New("row width does not match header")

// ParseRecord decodes one CSV row. It fails only when the row is misshapen or
// an essential field cannot be decoded; other unparsable values are absent.
func ParseRecord(h Header, row []string) (Record, error) {
	if len(row) != h.width {
		return Record{}, fmt.Errorf("%w: %d fields, header has %d", errRowWidth, len(row), h.width)
	}

	eventID, err := strconv.ParseInt(h.field(row, "EVENT_ID"), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse EVENT_ID: %w", err)
	}
	beginLat, err := parseCoordinate(h.field(row, "BEGIN_LAT"), 90)
	if err != nil {
		return Record{}, fmt.Errorf("parse BEGIN_LAT: %w", err)
	}
	beginLon, err := parseCoordinate(h.field(row, "BEGIN_LON"), 180)
	if err != nil {
		return Record{}, fmt.Errorf("parse BEGIN_LON: %w", err)
	}

	return Record{
		EventID:          eventID,
		EpisodeID:        parseOptionalInt64(h.field(row, "EPISODE_ID")),
		EventType:        h.raw(row, "EVENT_TYPE"),
		State:            h.text(row, "STATE"),
		StateFIPS:        parseOptionalInt(h.field(row, "STATE_FIPS")),
		Year:             parseOptionalInt(h.field(row, "YEAR")),
		MonthName:        h.text(row, "MONTH_NAME"),
		BeginDateTime:    h.text(row, "BEGIN_DATE_TIME"),
		EndDateTime:      h.text(row, "END_DATE_TIME"),
		CZTimezone:       h.text(row, "CZ_TIMEZONE"),
		CZName:           h.text(row, "CZ_NAME"),
		WFO:              h.text(row, "WFO"),
		InjuriesDirect:   parseOptionalInt(h.field(row, "INJURIES_DIRECT")),
		InjuriesIndirect: parseOptionalInt(h.field(row, "INJURIES_INDIRECT")),
		DeathsDirect:     parseOptionalInt(h.field(row, "DEATHS_DIRECT")),
		DeathsIndirect:   parseOptionalInt(h.field(row, "DEATHS_INDIRECT")),
		DamageProperty:   h.text(row, "DAMAGE_PROPERTY"),
		DamageCrops:      h.text(row, "DAMAGE_CROPS"),
		Source:           h.text(row, "SOURCE"),
		TorFScale:        h.text(row, "TOR_F_SCALE"),
		TorLength:        parseOptionalFloat(h.field(row, "TOR_LENGTH")),
		TorWidth:         parseOptionalFloat(h.field(row, "TOR_WIDTH")),
		BeginLocation:    h.text(row, "BEGIN_LOCATION"),
		EndLocation:      h.text(row, "END_LOCATION"),
		BeginLat:         beginLat,
		BeginLon:         beginLon,
		EndLat:           parseOptionalCoordinate(h.field(row, "END_LAT"), 90),
		EndLon:           parseOptionalCoordinate(h.field(row, "END_LON"), 180),
		EventNarrative:   h.text(row, "EVENT_NARRATIVE"),
	}, nil
}

// parseFinite parses s as a float64 and rejects NaN and infinities, which
// strconv accepts but no column legitimately carries.
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

func parseCoordinate(s string, limit float64) (float64, error) {
	if s == "" {
		return 0, errors.New("empty coordinate")
	}
	v, err := parseFinite(s)
	if err != nil {
		return 0, err
	}
	if v < -limit || v > limit {
		return 0, fmt.Errorf("coordinate %g out of range", v)
	}
	return v, nil
}

func parseOptionalCoordinate(s string, limit float64) *float64 {
	v, err := parseCoordinate(s, limit)
	if err != nil {
		return nil
	}
	return &v
}

func parseOptionalFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := parseFinite(s)
	if err != nil {
		return nil
	}
	return &v
}

func parseOptionalInt(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func parseOptionalInt64(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
