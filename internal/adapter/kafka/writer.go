package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/storm-events-archive/internal/config"
	"github.com/couchcryptid/storm-events-archive/internal/domain"
)

// publishChunk caps the number of messages handed to one WriteMessages call.
const publishChunk = 500

// Writer publishes the records of a Dataset to a Kafka topic, one message
// per record. It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaSinkTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes every record and writes them in chunks. Records are
// keyed by event ID so re-publishing a run lands on the same partitions.
func (w *Writer) Publish(ctx context.Context, ds domain.Dataset, runID string) error {
	if ds.Len() == 0 {
		w.logger.Info("nothing to publish", "run_id", runID)
		return nil
	}
	publishedAt := domain.Now()
	for start := 0; start < ds.Len(); start += publishChunk {
		end := min(start+publishChunk, ds.Len())
		msgs := make([]kafkago.Message, 0, end-start)
		for i := start; i < end; i++ {
			msg, err := serializeToMessage(ds.Records[i], runID, publishedAt)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("write messages %d-%d: %w", start, end, err)
		}
		w.logger.Debug("published chunk", "run_id", runID, "from", start, "to", end)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Record into a Kafka message.
func serializeToMessage(rec domain.Record, runID string, publishedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize record %d: %w", rec.EventID, err)
	}
	return kafkago.Message{
		Key:   []byte(strconv.FormatInt(rec.EventID, 10)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(rec.EventType)},
			{Key: "run_id", Value: []byte(runID)},
			{Key: "source_file", Value: []byte(rec.SourceFile)},
			{Key: "published_at", Value: []byte(publishedAt.Format(time.RFC3339))},
		},
	}, nil
}
