// Package alert delivers operator notifications for failures that need attention
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Alert is the envelope appended to the alert stream
type Alert struct {
	ID         string            `json:"id"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	Fields     map[string]string `json:"fields,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// StreamNotifier appends alerts to a Redis stream consumed by on-call tooling
type StreamNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamNotifier creates a notifier writing to stream, trimmed to about maxLen entries
func NewStreamNotifier(client *redis.Client, stream string, maxLen int64) *StreamNotifier {
	return &StreamNotifier{client: client, stream: stream, maxLen: maxLen}
}

// Notify publishes one alert
func (n *StreamNotifier) Notify(ctx context.Context, subject, body string, fields map[string]string) error {
	if n.stream == "" {
		return fmt.Errorf("stream name is required")
	}

	raw, err := json.Marshal(Alert{
		ID:         uuid.NewString(),
		Subject:    subject,
		Body:       body,
		Fields:     fields,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]interface{}{"subject": subject, "alert": raw},
	}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}

	if err := n.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// LogNotifier writes alerts to the log when no alert stream is configured
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the alert at error level
func (n *LogNotifier) Notify(ctx context.Context, subject, body string, fields map[string]string) error {
	zf := []zap.Field{zap.String("subject", subject), zap.String("body", body)}
	for k, v := range fields {
		zf = append(zf, zap.String(k, v))
	}
	n.logger.Error("operator alert", zf...)
	return nil
}
