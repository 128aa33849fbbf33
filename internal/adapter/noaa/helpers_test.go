package noaa

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-events-archive/internal/observability"
)

const (
	testFile   = "StormEvents_details-ftp_v1.0_d2020_c20240216.csv.gz"
	detailsHdr = "EVENT_ID,EPISODE_ID,EVENT_TYPE,STATE,YEAR,TOR_F_SCALE,BEGIN_LAT,BEGIN_LON,END_LAT,END_LON"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(attempts int) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 2 * time.Second},
		attempts:   attempts,
		backoff:    time.Millisecond,
		maxBackoff: 5 * time.Millisecond,
		logger:     discardLogger(),
		metrics:    observability.NewMetricsForTesting(),
	}
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
