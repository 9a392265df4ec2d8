// Package kafka announces published tile releases on a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/wind-tile-service/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Notifier produces one message per published release.
// It implements pipeline.ReleaseNotifier.
type Notifier struct {
	writer messageWriter
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for topic.
func NewNotifier(brokers []string, topic string, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Notifier{writer: w, logger: logger}
}

// ReleaseEvent is the message body announcing a release.
type ReleaseEvent struct {
	ReleaseID   string    `json:"release_id"`
	CycleID     string    `json:"cycle_id"`
	RunTime     time.Time `json:"run_time"`
	PublishedAt time.Time `json:"published_at"`
	Levels      []string  `json:"levels"`
	Forecasts   []string  `json:"forecasts"`
	MaxZoom     int       `json:"max_zoom"`
	TileCount   int       `json:"tile_count"`
}

// NotifyRelease publishes rel to the topic.
func (n *Notifier) NotifyRelease(ctx context.Context, rel domain.Release) error {
	msg, err := serializeToMessage(rel)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write release event: %w", err)
	}
	n.logger.Debug("release event written", "release_id", rel.ID)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals a release into a Kafka message keyed by
// release ID.
func serializeToMessage(rel domain.Release) (kafkago.Message, error) {
	m := rel.Manifest
	data, err := json.Marshal(ReleaseEvent{
		ReleaseID:   rel.ID,
		CycleID:     m.CycleID,
		RunTime:     m.RunTime,
		PublishedAt: m.PublishedAt,
		Levels:      m.Levels,
		Forecasts:   m.Forecasts,
		MaxZoom:     m.MaxZoom,
		TileCount:   m.TileCount,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize release event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rel.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_time", Value: []byte(m.RunTime.UTC().Format(time.RFC3339))},
			{Key: "published_at", Value: []byte(m.PublishedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
