package noaa

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/storm-events-archive/internal/domain"
)

// Fetcher downloads one details file and keeps the rows of a single event type.
type Fetcher struct {
	client *Client
	target string
}

// NewFetcher creates a Fetcher retaining rows whose EVENT_TYPE equals target.
func NewFetcher(client *Client, target string) *Fetcher {
	return &Fetcher{client: client, target: target}
}

// Target returns the event type the fetcher retains.
func (f *Fetcher) Target() string { return f.target }

// FetchAndFilter downloads baseURL+id and returns the matching records.
func (f *Fetcher) FetchAndFilter(ctx context.Context, id domain.FileIdentifier, baseURL string) (domain.Dataset, domain.FetchStats, error) {
	body, _, err := f.client.Get(ctx, baseURL+string(id))
	if err != nil {
		return domain.Dataset{}, domain.FetchStats{}, err
	}

	ds, stats, err := DecodeDetails(bytes.NewReader(body), id, f.target)
	stats.Bytes = len(body)
	if err != nil {
		return domain.Dataset{}, stats, fmt.Errorf("decode %s: %w", id, err)
	}
	return ds, stats, nil
}

// DecodeDetails decompresses a gzip CSV details file and returns the rows of
// the target event type.
func DecodeDetails(r io.Reader, id domain.FileIdentifier, target string) (domain.Dataset, domain.FetchStats, error) {
	var stats domain.FetchStats

	gz, err := gzip.NewReader(r)
	if err != nil {
		return domain.Dataset{}, stats, fmt.Errorf("%w: decompress: %w", domain.ErrParse, err)
	}
	defer gz.Close()

	cr := csv.NewReader(gz)
	cr.FieldsPerRecord = -1

	columns, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Dataset{}, stats, fmt.Errorf("%w: empty file", domain.ErrParse)
		}
		return domain.Dataset{}, stats, fmt.Errorf("%w: read header: %w", domain.ErrParse, err)
	}
	header, err := domain.NewHeader(columns)
	if err != nil {
		return domain.Dataset{}, stats, err
	}

	matches := header.EventTypeIs(target)
	var rows [][]string
	var lastParseErr *csv.ParseError
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			if lastParseErr != nil && errors.Is(lastParseErr.Err, csv.ErrQuote) {
				return domain.Dataset{}, stats, fmt.Errorf("%w: unterminated quoted field: %w", domain.ErrParse, lastParseErr)
			}
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			// A row error confined to one line costs that row only. One that
			// spans lines has swallowed the rows after it.
			if parseErr.StartLine != parseErr.Line {
				return domain.Dataset{}, stats, fmt.Errorf("%w: malformed row spans lines %d-%d: %w",
					domain.ErrParse, parseErr.StartLine, parseErr.Line, parseErr)
			}
			stats.RowsRead++
			stats.RowsSkipped++
			lastParseErr = parseErr
			continue
		}
		if err != nil {
			return domain.Dataset{}, stats, fmt.Errorf("%w: decompress: %w", domain.ErrParse, err)
		}
		lastParseErr = nil
		stats.RowsRead++
		if matches(row) {
			rows = append(rows, row)
		}
	}
	stats.RowsMatched = len(rows)

	records, skipped := domain.SelectRecords(header, rows, target, id)
	stats.RowsSkipped += skipped

	ds := domain.NewDataset(target)
	if err := ds.Append(records...); err != nil {
		return domain.Dataset{}, stats, err
	}
	return ds, stats, nil
}
