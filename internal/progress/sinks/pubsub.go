package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/progress"
)

// Publisher is the subset of a message publisher the notification sink needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, attrs map[string]string) (string, error)
	Close() error
}

// Notification is the JSON body published for dataset and run completions.
type Notification struct {
	RunID   string            `json:"run_id"`
	Stage   string            `json:"stage"`
	TS      time.Time         `json:"ts"`
	Dataset string            `json:"dataset,omitempty"`
	Status  string            `json:"status,omitempty"`
	Count   int64             `json:"count,omitempty"`
	Seconds float64           `json:"elapsed_seconds,omitempty"`
	Note    string            `json:"note,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// PubSubSink publishes dataset completions and run summaries so downstream
// loaders can pick up freshly archived period files.
type PubSubSink struct {
	pub    Publisher
	topic  string
	logger *zap.Logger
}

// NewPubSubSink builds a PubSubSink for topic.
func NewPubSubSink(pub Publisher, topic string, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{pub: pub, topic: topic, logger: logger}
}

// Consume publishes the notification-worthy events of the batch.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageDatasetDone, progress.StageRunSummary, progress.StageBackfillDone:
		default:
			continue
		}
		n := Notification{
			RunID:   evt.RunID,
			Stage:   string(evt.Stage),
			TS:      evt.TS,
			Dataset: evt.Dataset,
			Status:  evt.Status,
			Count:   evt.Count,
			Seconds: evt.Dur.Seconds(),
			Note:    evt.Note,
			Fields:  evt.Fields,
		}
		attrs := map[string]string{"stage": string(evt.Stage)}
		if evt.Dataset != "" {
			attrs["dataset"] = evt.Dataset
		}
		id, err := s.pub.Publish(ctx, s.topic, n, attrs)
		if err != nil {
			return fmt.Errorf("publish %s: %w", evt.Stage, err)
		}
		s.logger.Debug("published notification", zap.String("stage", string(evt.Stage)), zap.String("message_id", id))
	}
	return nil
}

// Close closes the underlying publisher.
func (s *PubSubSink) Close(context.Context) error {
	if err := s.pub.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}
