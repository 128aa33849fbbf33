package noaa

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-events-archive/internal/domain"
)

const mixedDetails = detailsHdr + "\n" +
	"1,10,Tornado,KANSAS,2020,EF1,38.1,-97.2,38.2,-97.1\n" +
	"2,10,Hail,KANSAS,2020,,38.1,-97.2,,\n" +
	"3,11,Thunderstorm Wind,TEXAS,2020,,31.0,-98.4,,\n" +
	"4,11,Tornado,TEXAS,2020,EF0,31.0,-98.4,,\n" +
	"5,12,Flash Flood,IOWA,2020,,41.5,-93.6,41.6,-93.5\n" +
	"6,12,Hail,IOWA,2020,,41.5,-93.6,,\n" +
	"7,13,TORNADO,OKLAHOMA,2020,EF2,35.0,-97.0,35.1,-96.9\n" +
	"8,13,Tornado,OKLAHOMA,2020,EF3,35.2,-97.4,35.4,-97.0\n" +
	"9,14,Heavy Rain,OHIO,2020,,40.0,-83.0,,\n" +
	"10,14,Lightning,OHIO,2020,,40.0,-83.0,,\n"

func TestDecodeDetails_ThreeOfTen(t *testing.T) {
	ds, stats, err := DecodeDetails(bytes.NewReader(gzipBytes(t, mixedDetails)), testFile, "Tornado")
	require.NoError(t, err)

	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, "Tornado", ds.EventType)
	for _, r := range ds.Records {
		assert.Equal(t, "Tornado", r.EventType)
		assert.Equal(t, domain.FileIdentifier(testFile), r.SourceFile)
	}
	assert.Equal(t, domain.FetchStats{RowsRead: 10, RowsMatched: 3}, stats)
}

func TestDecodeDetails_NoMatchesIsEmptyNotError(t *testing.T) {
	ds, _, err := DecodeDetails(bytes.NewReader(gzipBytes(t, mixedDetails)), testFile, "Blizzard")
	require.NoError(t, err)
	assert.NotNil(t, ds.Records)
	assert.Zero(t, ds.Len())
}

func TestDecodeDetails_MalformedRowsSkipped(t *testing.T) {
	body := detailsHdr + "\n" +
		"1,10,Tornado,KANSAS,2020,EF1,38.1,-97.2,38.2,-97.1\n" +
		"2,10,Tornado,KAN\"SAS,2020,EF1,38.1,-97.2,,\n" +
		"3,10,Tornado,KANSAS,2020,EF1,n/a,-97.2,,\n"

	ds, stats, err := DecodeDetails(bytes.NewReader(gzipBytes(t, body)), testFile, "Tornado")
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
	assert.Equal(t, 2, stats.RowsSkipped)
}

func TestDecodeDetails_UnterminatedQuoteFailsFile(t *testing.T) {
	body := detailsHdr + "\n" +
		"1,10,Tornado,\"KANSAS,2020,EF1,38.1,-97.2,38.2,-97.1\n" +
		"2,10,Tornado,KANSAS,2020,EF1,38.1,-97.2,,\n" +
		"3,10,Tornado,TEXAS,2020,EF0,31.0,-98.4,,\n" +
		"4,10,Tornado,IOWA,2020,EF2,41.5,-93.6,,\n"

	ds, _, err := DecodeDetails(bytes.NewReader(gzipBytes(t, body)), testFile, "Tornado")
	require.ErrorIs(t, err, domain.ErrParse)
	assert.Zero(t, ds.Len())
}

func TestDecodeDetails_UnterminatedQuoteOnLastRow(t *testing.T) {
	body := detailsHdr + "\n" +
		"1,10,Tornado,KANSAS,2020,EF1,38.1,-97.2,38.2,-97.1\n" +
		"2,10,Tornado,\"KANSAS,2020,EF1,38.1,-97.2,,"

	_, _, err := DecodeDetails(bytes.NewReader(gzipBytes(t, body)), testFile, "Tornado")
	require.ErrorIs(t, err, domain.ErrParse)
}

func TestDecodeDetails_PaddedEventTypeNotRetained(t *testing.T) {
	body := detailsHdr + "\n" +
		"1,10, Tornado,KANSAS,2020,EF1,38.1,-97.2,,\n" +
		"2,10,Tornado ,KANSAS,2020,EF1,38.1,-97.2,,\n"

	ds, stats, err := DecodeDetails(bytes.NewReader(gzipBytes(t, body)), testFile, "Tornado")
	require.NoError(t, err)
	assert.Zero(t, ds.Len())
	assert.Equal(t, domain.FetchStats{RowsRead: 2}, stats)
}

func TestDecodeDetails_NotGzip(t *testing.T) {
	_, _, err := DecodeDetails(bytes.NewReader([]byte(mixedDetails)), testFile, "Tornado")
	require.ErrorIs(t, err, domain.ErrParse)
}

func TestDecodeDetails_TruncatedGzip(t *testing.T) {
	payload := gzipBytes(t, mixedDetails)
	_, _, err := DecodeDetails(bytes.NewReader(payload[:len(payload)/2]), testFile, "Tornado")
	require.ErrorIs(t, err, domain.ErrParse)
}

func TestDecodeDetails_MissingEssentialColumn(t *testing.T) {
	body := "EVENT_ID,EVENT_TYPE,STATE\n1,Tornado,KANSAS\n"
	_, _, err := DecodeDetails(bytes.NewReader(gzipBytes(t, body)), testFile, "Tornado")
	require.ErrorIs(t, err, domain.ErrSchema)
}

func TestDecodeDetails_EmptyFile(t *testing.T) {
	_, _, err := DecodeDetails(bytes.NewReader(gzipBytes(t, "")), testFile, "Tornado")
	require.ErrorIs(t, err, domain.ErrParse)
}

func TestFetcher_FetchAndFilter(t *testing.T) {
	payload := gzipBytes(t, mixedDetails)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/csvfiles/"+testFile {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/gzip")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := NewFetcher(testClient(1), "Tornado")
	ds, stats, err := f.FetchAndFilter(context.Background(), testFile, srv.URL+"/csvfiles/")
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, len(payload), stats.Bytes)

	_, _, err = f.FetchAndFilter(context.Background(), "StormEvents_details-missing.csv.gz", srv.URL+"/csvfiles/")
	require.ErrorIs(t, err, domain.ErrTransport)
}
