package ingest

import (
	"context"
	"fmt"

	mqttcommon "owl-thermo/common/mqtt"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅（由 common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 从 MQTT 接收遥测并交给写入服务
type MQTTConsumer struct {
	sub     Subscriber
	topic   string
	qos     byte
	service *Service
	logger  *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(sub Subscriber, topic string, qos byte, service *Service, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		sub:     sub,
		topic:   topic,
		qos:     qos,
		service: service,
		logger:  logger,
	}
}

// Start 订阅主题，阻塞直到 ctx 取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if c.topic == "" {
		return fmt.Errorf("telemetry MQTT topic not configured")
	}

	handler := func(topic string, payload []byte) error {
		return c.handleMessage(ctx, topic, payload)
	}
	if err := c.sub.Subscribe(c.topic, c.qos, handler); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", c.topic))

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() {
	if err := c.sub.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
}

// handleMessage 无效消息记录后丢弃
func (c *MQTTConsumer) handleMessage(ctx context.Context, topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	receipt, err := c.service.Ingest(ctx, payload)
	if err != nil {
		return fmt.Errorf("failed to ingest telemetry from %s: %w", topic, err)
	}

	c.logger.Debug("MQTT telemetry stored",
		zap.String("topic", topic),
		zap.Int64("record_id", receipt.RecordID),
	)
	return nil
}
