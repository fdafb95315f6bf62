package alert

import (
	"context"
	"fmt"

	rediscommon "owl-thermo/common/redis"
	"owl-thermo/internal/models"
)

// Sink 报警事件的下游（通知、websocket、Redis stream）
type Sink interface {
	Name() string
	Publish(ctx context.Context, events []models.AlertEvent) error
}

// Dispatcher 通知发送（由 notifier.DingTalk 实现）
type Dispatcher interface {
	Send(ctx context.Context, alerts []models.AlertDescriptor) bool
}

// NotifierSink 一批事件合并成一条通知
type NotifierSink struct {
	dispatcher Dispatcher
}

func NewNotifierSink(d Dispatcher) *NotifierSink {
	return &NotifierSink{dispatcher: d}
}

func (s *NotifierSink) Name() string { return "notifier" }

func (s *NotifierSink) Publish(ctx context.Context, events []models.AlertEvent) error {
	alerts := make([]models.AlertDescriptor, 0, len(events))
	for _, e := range events {
		alerts = append(alerts, e.AlertDescriptor)
	}
	if !s.dispatcher.Send(ctx, alerts) {
		return fmt.Errorf("%w: delivery failed for %d alerts", models.ErrNotification, len(alerts))
	}
	return nil
}

// StreamSink 每个事件写入一条 Redis stream 消息
type StreamSink struct {
	client *rediscommon.Client
	stream string
	maxLen int64
}

func NewStreamSink(client *rediscommon.Client, stream string, maxLen int64) *StreamSink {
	return &StreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *StreamSink) Name() string { return "stream" }

func (s *StreamSink) Publish(ctx context.Context, events []models.AlertEvent) error {
	for _, e := range events {
		if _, err := rediscommon.PublishJSONToStream(ctx, s.client, s.stream, e, s.maxLen); err != nil {
			return fmt.Errorf("failed to publish alert %s: %w", e.EventID, err)
		}
	}
	return nil
}
