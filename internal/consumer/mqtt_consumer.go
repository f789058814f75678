package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	mqttcommon "wisefido-badge-locator/common/mqtt"
	"wisefido-badge-locator/internal/config"
	"wisefido-badge-locator/internal/metrics"
	"wisefido-badge-locator/internal/models"
	"wisefido-badge-locator/internal/positioning"

	"go.uber.org/zap"
)

// ErrMalformedPayload 无法解析的基站消息
var ErrMalformedPayload = errors.New("malformed anchor payload")

// BatchProcessor 基站批次处理（positioning.Pipeline）
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batch models.AnchorBatch) []positioning.Outcome
}

// Subscriber MQTT 订阅接口（common/mqtt.Client）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 基站 RSSI 批次消费者
type MQTTConsumer struct {
	topic      string
	qos        byte
	subscriber Subscriber
	directory  SubjectDirectory
	processor  BatchProcessor
	logger     *zap.Logger
	now        func() time.Time
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(
	cfg *config.Config,
	subscriber Subscriber,
	directory SubjectDirectory,
	processor BatchProcessor,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		topic:      cfg.Locator.Topics.Anchor,
		qos:        cfg.MQTT.QoS,
		subscriber: subscriber,
		directory:  directory,
		processor:  processor,
		logger:     logger,
		now:        time.Now,
	}
}

// Start 订阅基站主题；消息处理沿用 ctx
func (c *MQTTConsumer) Start(ctx context.Context) error {
	handler := func(topic string, payload []byte) error {
		return c.HandleMessage(ctx, topic, payload)
	}
	if err := c.subscriber.Subscribe(c.topic, c.qos, handler); err != nil {
		return fmt.Errorf("failed to subscribe to anchor topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.topic),
	)
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() error {
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// HandleMessage 处理一条基站消息
//
// 无法解析的消息返回 ErrMalformedPayload；无法解析工牌的读数被丢弃，不影响其他读数。
func (c *MQTTConsumer) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	msg, err := ParseAnchorMessage(topic, payload, c.now())
	if err != nil {
		metrics.IncAnchorMessage("malformed")
		return err
	}

	batch := models.AnchorBatch{
		AnchorID:   msg.AnchorID,
		AnchorX:    msg.X,
		AnchorY:    msg.Y,
		ObservedAt: time.UnixMilli(msg.Timestamp).UTC(),
		Readings:   make([]models.SubjectReading, 0, len(msg.Readings)),
	}

	for _, r := range msg.Readings {
		subjectID, err := c.directory.ResolveBadge(ctx, r.BadgeID)
		if err != nil {
			if errors.Is(err, positioning.ErrUnknownSubject) {
				metrics.IncDiscarded("unknown_badge")
				c.logger.Warn("Unknown badge, discarding reading",
					zap.String("anchor_id", msg.AnchorID),
					zap.String("badge_id", r.BadgeID),
				)
			} else {
				metrics.IncDiscarded("directory_error")
				c.logger.Error("Failed to resolve badge",
					zap.String("anchor_id", msg.AnchorID),
					zap.String("badge_id", r.BadgeID),
					zap.Error(err),
				)
			}
			continue
		}
		batch.Readings = append(batch.Readings, models.SubjectReading{
			SubjectID: subjectID,
			RSSI:      r.RSSI,
		})
	}

	if len(batch.Readings) == 0 {
		metrics.IncAnchorMessage("empty")
		c.logger.Debug("No resolvable readings in anchor message",
			zap.String("anchor_id", msg.AnchorID),
		)
		return nil
	}

	outcomes := c.processor.ProcessBatch(ctx, batch)
	metrics.IncAnchorMessage("success")

	c.logger.Debug("Processed anchor batch",
		zap.String("anchor_id", msg.AnchorID),
		zap.Int("readings", len(batch.Readings)),
		zap.Int("subjects", len(outcomes)),
	)
	return nil
}

type anchorPayload struct {
	AnchorID  string                        `json:"anchor_id"`
	X         *float64                      `json:"x"`
	Y         *float64                      `json:"y"`
	Timestamp int64                         `json:"timestamp"`
	Readings  []models.AnchorMessageReading `json:"readings"`
}

// ParseAnchorMessage 解析 anchors/{anchor_id}/rssi 消息
//
// anchor_id 缺省时取主题中间段；timestamp 缺省时使用 receivedAt。
func ParseAnchorMessage(topic string, payload []byte, receivedAt time.Time) (models.AnchorMessage, error) {
	var raw anchorPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return models.AnchorMessage{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	anchorID := raw.AnchorID
	if anchorID == "" {
		anchorID = anchorFromTopic(topic)
	}
	if anchorID == "" {
		return models.AnchorMessage{}, fmt.Errorf("%w: missing anchor id (topic %s)", ErrMalformedPayload, topic)
	}
	if raw.X == nil || raw.Y == nil {
		return models.AnchorMessage{}, fmt.Errorf("%w: anchor %s has no coordinates", ErrMalformedPayload, anchorID)
	}
	if math.IsNaN(*raw.X) || math.IsInf(*raw.X, 0) || math.IsNaN(*raw.Y) || math.IsInf(*raw.Y, 0) {
		return models.AnchorMessage{}, fmt.Errorf("%w: anchor %s has non-finite coordinates", ErrMalformedPayload, anchorID)
	}

	ts := raw.Timestamp
	if ts <= 0 {
		ts = receivedAt.UnixMilli()
	}

	readings := make([]models.AnchorMessageReading, 0, len(raw.Readings))
	for _, r := range raw.Readings {
		if r.BadgeID == "" {
			continue
		}
		readings = append(readings, r)
	}

	return models.AnchorMessage{
		AnchorID:  anchorID,
		X:         *raw.X,
		Y:         *raw.Y,
		Timestamp: ts,
		Readings:  readings,
	}, nil
}

// anchorFromTopic 主题格式: anchors/{anchor_id}/rssi
func anchorFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2]
}
