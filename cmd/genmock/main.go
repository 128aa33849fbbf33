// Command genmock writes a mock Storm Events catalog: an index.html listing
// plus one gzip-compressed details CSV per year. Output is deterministic for
// a given seed, so the files can serve as local fixtures for the archive and
// validate commands.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock/csvfiles -years 2019-2021 -rows 200
//
// Serve the directory (e.g. python3 -m http.server) and point CATALOG_URL at it.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"html/template"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/storm-events-archive/internal/config"
	"github.com/couchcryptid/storm-events-archive/internal/domain"
)

// columns is the header of a details file, in NOAA order.
var columns = []string{
	"EVENT_ID", "EPISODE_ID", "EVENT_TYPE", "STATE", "STATE_FIPS", "YEAR",
	"MONTH_NAME", "BEGIN_DATE_TIME", "END_DATE_TIME", "CZ_TIMEZONE", "CZ_NAME",
	"WFO", "INJURIES_DIRECT", "INJURIES_INDIRECT", "DEATHS_DIRECT",
	"DEATHS_INDIRECT", "DAMAGE_PROPERTY", "DAMAGE_CROPS", "SOURCE",
	"TOR_F_SCALE", "TOR_LENGTH", "TOR_WIDTH", "BEGIN_LOCATION", "END_LOCATION",
	"BEGIN_LAT", "BEGIN_LON", "END_LAT", "END_LON", "EVENT_NARRATIVE",
}

// legacyDropped are the columns missing from files older than 1996, which
// exercises schema drift in the reader.
var legacyDropped = map[string]bool{"TOR_LENGTH": true, "TOR_WIDTH": true, "END_LAT": true, "END_LON": true}

type state struct {
	name   string
	fips   int
	wfo    string
	lat    float64
	lon    float64
	county string
}

var states = []state{
	{"OKLAHOMA", 40, "OUN", 35.5, -97.5, "CLEVELAND"},
	{"KANSAS", 20, "ICT", 38.0, -97.3, "SEDGWICK"},
	{"TEXAS", 48, "FWD", 32.8, -97.3, "TARRANT"},
	{"NEBRASKA", 31, "OAX", 41.2, -96.0, "DOUGLAS"},
	{"ALABAMA", 1, "BMX", 33.5, -86.8, "JEFFERSON"},
	{"IOWA", 19, "DMX", 41.6, -93.6, "POLK"},
}

var eventTypes = []string{"Tornado", "Tornado", "Hail", "Thunderstorm Wind", "Flash Flood", "Heavy Rain"}

var fScales = []string{"EF0", "EF0", "EF1", "EF1", "EF2", "EF3", "EF4", "EFU"}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE HTML PUBLIC "-//W3C//DTD HTML 3.2 Final//EN">
<html>
 <head><title>Index of /pub/data/swdi/stormevents/csvfiles</title></head>
 <body>
<h1>Index of /pub/data/swdi/stormevents/csvfiles</h1>
<table>
   <tr><th>Name</th><th>Last modified</th><th>Size</th></tr>
   <tr><th colspan="3"><hr></th></tr>
<tr><td><a href="/pub/data/swdi/stormevents/">Parent Directory</a></td><td>&nbsp;</td><td> - </td></tr>
<tr><td><a href="README">README</a></td><td>{{.Modified}}</td><td>4K</td></tr>
{{range .Files}}<tr><td><a href="{{.Name}}">{{.Name}}</a></td><td>{{$.Modified}}</td><td>{{.Size}}</td></tr>
{{end}}   <tr><th colspan="3"><hr></th></tr>
</table>
</body></html>
`))

type indexEntry struct {
	Name string
	Size string
}

type stats struct {
	rows   int
	byType map[string]int
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/mock/csvfiles", "output directory")
	yearSpec := flag.String("years", "1995,2019-2021", "years to generate, e.g. 2019,2021-2023")
	rows := flag.Int("rows", 200, "rows per file")
	seed := flag.Uint64("seed", 42, "random seed")
	flag.Parse()

	years, err := config.ParseYears(*yearSpec)
	if err != nil {
		return fmt.Errorf("invalid -years: %w", err)
	}
	if len(years) == 0 || *rows < 1 {
		flag.Usage()
		return fmt.Errorf("need at least one year and one row")
	}

	// Fixed clock for reproducible creation stamps in file names.
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.February, 16, 9, 12, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	st, err := generate(*out, years, *rows, *seed)
	if err != nil {
		return err
	}
	log.Printf("total: %d rows", st.rows)
	types := make([]string, 0, len(st.byType))
	for t := range st.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		log.Printf("  %-20s %d", t, st.byType[t])
	}
	return nil
}

func generate(dir string, years []int, rowsPerFile int, seed uint64) (stats, error) {
	st := stats{byType: map[string]int{}}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return st, err
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	stamp := domain.Now().Format("20060102")
	nextID := int64(10000000)

	var entries []indexEntry
	for _, year := range years {
		name := fmt.Sprintf("StormEvents_details-ftp_v1.0_d%d_c%s.csv.gz", year, stamp)
		header := columns
		if year < 1996 {
			header = domain.Filter(columns, func(c string) bool { return !legacyDropped[c] })
		}

		var rows [][]string
		for range rowsPerFile {
			row := mockRow(rng, nextID, year)
			nextID++
			st.rows++
			st.byType[row["EVENT_TYPE"]]++
			rows = append(rows, project(row, header))
		}

		size, err := writeGzipCSV(filepath.Join(dir, name), header, rows)
		if err != nil {
			return st, fmt.Errorf("write %s: %w", name, err)
		}
		entries = append(entries, indexEntry{Name: name, Size: humanSize(size)})
		log.Printf("%s: %d rows, %d bytes", name, len(rows), size)
	}

	f, err := os.Create(filepath.Join(dir, "index.html"))
	if err != nil {
		return st, err
	}
	defer f.Close()
	err = indexTmpl.Execute(f, struct {
		Modified string
		Files    []indexEntry
	}{Modified: domain.Now().Format("2006-01-02 15:04"), Files: entries})
	if err != nil {
		return st, fmt.Errorf("write index: %w", err)
	}
	return st, f.Close()
}

func mockRow(rng *rand.Rand, id int64, year int) map[string]string {
	s := states[rng.IntN(len(states))]
	eventType := eventTypes[rng.IntN(len(eventTypes))]
	month := time.Month(3 + rng.IntN(4))
	begin := time.Date(year, month, 1+rng.IntN(28), rng.IntN(24), rng.IntN(60), 0, 0, time.UTC)
	end := begin.Add(time.Duration(5+rng.IntN(40)) * time.Minute)
	lat := s.lat + rng.Float64() - 0.5
	lon := s.lon + rng.Float64() - 0.5

	row := map[string]string{
		"EVENT_ID":          strconv.FormatInt(id, 10),
		"EPISODE_ID":        strconv.FormatInt(id/10, 10),
		"EVENT_TYPE":        eventType,
		"STATE":             s.name,
		"STATE_FIPS":        strconv.Itoa(s.fips),
		"YEAR":              strconv.Itoa(year),
		"MONTH_NAME":        month.String(),
		"BEGIN_DATE_TIME":   begin.Format("02-Jan-06 15:04:05"),
		"END_DATE_TIME":     end.Format("02-Jan-06 15:04:05"),
		"CZ_TIMEZONE":       "CST-6",
		"CZ_NAME":           s.county,
		"WFO":               s.wfo,
		"INJURIES_DIRECT":   strconv.Itoa(rng.IntN(3)),
		"INJURIES_INDIRECT": "0",
		"DEATHS_DIRECT":     "0",
		"DEATHS_INDIRECT":   "0",
		"DAMAGE_PROPERTY":   fmt.Sprintf("%d.00K", rng.IntN(500)),
		"DAMAGE_CROPS":      "0.00K",
		"SOURCE":            "Emergency Manager",
		"BEGIN_LOCATION":    "2N " + s.county,
		"BEGIN_LAT":         strconv.FormatFloat(lat, 'f', 4, 64),
		"BEGIN_LON":         strconv.FormatFloat(lon, 'f', 4, 64),
		"EVENT_NARRATIVE":   fmt.Sprintf("Mock %s report near %s, %s.", eventType, s.county, s.name),
	}
	if eventType == "Tornado" {
		row["TOR_F_SCALE"] = fScales[rng.IntN(len(fScales))]
		row["TOR_LENGTH"] = strconv.FormatFloat(0.1+rng.Float64()*12, 'f', 2, 64)
		row["TOR_WIDTH"] = strconv.Itoa(25 + rng.IntN(800))
		// Roughly a third of tornadoes are point touchdowns without an end.
		if rng.IntN(3) > 0 {
			row["END_LOCATION"] = "4NE " + s.county
			row["END_LAT"] = strconv.FormatFloat(lat+rng.Float64()*0.1, 'f', 4, 64)
			row["END_LON"] = strconv.FormatFloat(lon+rng.Float64()*0.1, 'f', 4, 64)
		}
	}
	return row
}

func project(row map[string]string, header []string) []string {
	out := make([]string, len(header))
	for i, c := range header {
		out[i] = row[c]
	}
	return out
}

func writeGzipCSV(path string, header []string, rows [][]string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	w := csv.NewWriter(zw)
	if err := w.Write(header); err != nil {
		return 0, err
	}
	if err := w.WriteAll(rows); err != nil {
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func humanSize(n int64) string {
	if n < 1024 {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprintf("%dK", (n+1023)/1024)
}
