//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/storm-events-archive/internal/adapter/kafka"
	"github.com/couchcryptid/storm-events-archive/internal/adapter/noaa"
	"github.com/couchcryptid/storm-events-archive/internal/adapter/snapshot"
	"github.com/couchcryptid/storm-events-archive/internal/config"
	"github.com/couchcryptid/storm-events-archive/internal/domain"
	"github.com/couchcryptid/storm-events-archive/internal/observability"
	"github.com/couchcryptid/storm-events-archive/internal/pipeline"
)

const testSinkTopic = "test-tornado-events"

const detailsHeader = "EVENT_ID,EPISODE_ID,EVENT_TYPE,STATE,YEAR,TOR_F_SCALE,BEGIN_LAT,BEGIN_LON,END_LAT,END_LON"

var catalogFiles = map[string]string{
	"StormEvents_details-ftp_v1.0_d2019_c20240216.csv.gz": detailsHeader + "\n" +
		"101,1,Tornado,KANSAS,2019,EF1,38.1,-97.2,38.2,-97.1\n" +
		"102,1,Hail,KANSAS,2019,,38.1,-97.2,,\n" +
		"103,2,Tornado,TEXAS,2019,EF0,31.0,-98.4,,\n",
	"StormEvents_details-ftp_v1.0_d2020_c20240216.csv.gz": detailsHeader + "\n" +
		"201,3,Thunderstorm Wind,IOWA,2020,,41.5,-93.6,,\n" +
		"202,4,Tornado,OKLAHOMA,2020,EF3,35.2,-97.4,35.4,-97.0\n",
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	kc, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("storm-archive-test"))
	if err != nil {
		t.Skipf("skip: cannot start kafka: %v", err)
	}
	t.Cleanup(func() { _ = kc.Terminate(context.Background()) })

	brokers, err := kc.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

func catalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	var index bytes.Buffer
	index.WriteString("<html><body><table><tr><th>Name</th></tr>\n")
	for name := range catalogFiles {
		fmt.Fprintf(&index, "<tr><td><a href=%q>%s</a></td></tr>\n", name, name)
	}
	index.WriteString("</table></body></html>\n")

	mux := http.NewServeMux()
	mux.HandleFunc("/csvfiles/", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[len("/csvfiles/"):]
		if name == "" {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write(index.Bytes())
			return
		}
		body, ok := catalogFiles[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/gzip")
		zw := gzip.NewWriter(w)
		_, _ = zw.Write([]byte(body))
		_ = zw.Close()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// TestArchiveRunPublishesToKafka runs a refresh against a local catalog,
// persists the snapshot, and checks every tornado record arrives on the topic.
func TestArchiveRunPublishesToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	srv := catalogServer(t)
	cfg := &config.Config{
		CatalogURL:       srv.URL + "/csvfiles/",
		FilePrefix:       "StormEvents_details",
		FileExtension:    ".csv.gz",
		TargetEvent:      "Tornado",
		CacheDir:         t.TempDir(),
		CacheName:        "tornado_data",
		FetchTimeout:     10 * time.Second,
		FetchRetries:     2,
		FetchMaxBackoff:  time.Second,
		FetchConcurrency: 2,
		KafkaEnabled:     true,
		KafkaBrokers:     []string{broker},
		KafkaSinkTopic:   testSinkTopic,
	}

	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()
	client := noaa.NewClient(cfg.FetchTimeout, cfg.FetchRetries, cfg.FetchMaxBackoff, logger, metrics)
	catalog := noaa.NewCatalog(client, domain.NamingPolicy{Prefix: cfg.FilePrefix, Extension: cfg.FileExtension})
	fetcher := noaa.NewFetcher(client, cfg.TargetEvent)
	agg := pipeline.NewAggregator(fetcher, pipeline.AggregatorConfig{BaseURL: cfg.CatalogURL, Concurrency: cfg.FetchConcurrency}, logger, metrics)
	store := snapshot.NewStore(cfg.CacheDir, logger)

	writer := kafka.NewWriter(cfg, logger)
	t.Cleanup(func() { _ = writer.Close() })

	runner := pipeline.NewRunner(catalog, agg, store, writer, pipeline.RunnerConfig{IndexURL: cfg.CatalogURL}, logger, metrics)
	res, err := runner.Run(ctx, pipeline.RunOptions{RefreshFromSource: true, PersistToCache: true, CacheName: cfg.CacheName})
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	require.True(t, res.Cached)
	require.Equal(t, 3, res.Dataset.Len())

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	ids := map[string]domain.Record{}
	for len(ids) < res.Dataset.Len() {
		readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := consumer.ReadMessage(readCtx)
		readCancel()
		require.NoError(t, err, "read from sink topic")

		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, "Tornado", headers["event_type"])
		assert.Equal(t, res.RunID, headers["run_id"])
		assert.NotEmpty(t, headers["source_file"])

		var rec domain.Record
		require.NoError(t, json.Unmarshal(msg.Value, &rec))
		ids[string(msg.Key)] = rec
	}

	assert.Contains(t, ids, "101")
	assert.Contains(t, ids, "103")
	assert.Contains(t, ids, "202")
	assert.Nil(t, ids["103"].EndLat, "missing end coordinates stay null on the wire")
	require.NotNil(t, ids["202"].EndLat)
	assert.InDelta(t, 35.4, *ids["202"].EndLat, 1e-9)

	// The persisted snapshot serves a follow-up run without the network.
	srv.Close()
	cached, err := runner.Run(ctx, pipeline.RunOptions{CacheName: cfg.CacheName})
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
	assert.Equal(t, res.Dataset, cached.Dataset)
}
