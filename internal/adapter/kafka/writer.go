package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/territory-sync/internal/config"
	"github.com/couchcryptid/territory-sync/internal/consistency"
	"github.com/couchcryptid/territory-sync/internal/domain"
)

// messageWriter is the part of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes repair outcomes and run summaries to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured report topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaReportTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishOutcomes writes one message per outcome in a single
// WriteMessages call. Messages are keyed by entity so every outcome for
// the same club or meet lands on one partition.
func (w *Writer) PublishOutcomes(ctx context.Context, runID string, outcomes []consistency.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(outcomes))
	for i := range outcomes {
		msg, err := serializeOutcome(runID, outcomes[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d outcome(s): %w", len(msgs), err)
	}
	w.logger.Debug("outcomes published", "run_id", runID, "count", len(msgs))
	return nil
}

// PublishSummary writes the end-of-run summary.
func (w *Writer) PublishSummary(ctx context.Context, s consistency.Summary) error {
	msg, err := serializeSummary(s)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

type outcomeEvent struct {
	RunID string `json:"run_id"`
	consistency.Outcome
}

// serializeOutcome marshals a repair outcome into a Kafka message.
func serializeOutcome(runID string, o consistency.Outcome) (kafkago.Message, error) {
	data, err := json.Marshal(outcomeEvent{RunID: runID, Outcome: o})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize outcome %s: %w", o.Finding.Ref, err)
	}
	return kafkago.Message{
		Key:   []byte(o.Finding.Ref.String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte("repair_outcome")},
			{Key: "run_id", Value: []byte(runID)},
			{Key: "status", Value: []byte(o.Status)},
			{Key: "published_at", Value: []byte(domain.Now().Format(time.RFC3339))},
		},
	}, nil
}

func serializeSummary(s consistency.Summary) (kafkago.Message, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize summary %s: %w", s.RunID, err)
	}
	return kafkago.Message{
		Key:   []byte("run/" + s.RunID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte("run_summary")},
			{Key: "run_id", Value: []byte(s.RunID)},
			{Key: "published_at", Value: []byte(domain.Now().Format(time.RFC3339))},
		},
	}, nil
}
