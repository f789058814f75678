package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "wisefido-badge-locator/common/redis"
	"wisefido-badge-locator/internal/config"
	"wisefido-badge-locator/internal/metrics"
	"wisefido-badge-locator/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// subject 变更事件类型
const (
	EventSubjectUpdated  = "subject.updated"
	EventSubjectDeleted  = "subject.deleted"
	EventBadgeReassigned = "badge.reassigned"
)

// Invalidator 清除 subject 的缓存状态（positioning.Pipeline）
type Invalidator interface {
	Invalidate(subjectID string)
}

// SubjectEventConsumer subject:events 流消费者
type SubjectEventConsumer struct {
	client      *redis.Client
	stream      string
	group       string
	name        string
	batchSize   int64
	block       time.Duration
	invalidator Invalidator
	directory   *CachedDirectory
	logger      *zap.Logger
}

// NewSubjectEventConsumer 创建事件消费者；directory 可为 nil
func NewSubjectEventConsumer(
	cfg *config.Config,
	client *redis.Client,
	invalidator Invalidator,
	directory *CachedDirectory,
	logger *zap.Logger,
) *SubjectEventConsumer {
	return &SubjectEventConsumer{
		client:      client,
		stream:      cfg.Locator.Stream.SubjectEvents,
		group:       cfg.Locator.ConsumerGroup,
		name:        cfg.Locator.ConsumerName,
		batchSize:   cfg.Locator.BatchSize,
		block:       2 * time.Second,
		invalidator: invalidator,
		directory:   directory,
		logger:      logger,
	}
}

// Start 创建消费者组并循环消费，阻塞直到 ctx 取消
func (c *SubjectEventConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.client, c.stream, c.group); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.stream, err)
	}

	c.logger.Info("Subject event consumer started",
		zap.String("consumer_group", c.group),
		zap.String("consumer_name", c.name),
		zap.String("stream", c.stream),
	)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume subject events",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)

			// 指数退避
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = time.Second
	}
}

// consumeOnce 读取一批事件，逐条处理并确认
func (c *SubjectEventConsumer) consumeOnce(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(ctx, c.client, c.stream, c.group, c.name, c.batchSize, c.block)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		if err := c.handleMessage(msg); err != nil {
			// 无法解析的事件同样确认，避免反复投递
			c.logger.Warn("Dropping subject event",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
		if err := rediscommon.Ack(ctx, c.client, c.stream, c.group, msg.ID); err != nil {
			c.logger.Error("Failed to ack subject event",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (c *SubjectEventConsumer) handleMessage(msg rediscommon.StreamMessage) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("missing data field in message")
	}

	var event models.SubjectEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return fmt.Errorf("failed to unmarshal subject event: %w", err)
	}

	c.HandleEvent(event)
	return nil
}

// HandleEvent 按事件类型清除流水线与工牌目录缓存
func (c *SubjectEventConsumer) HandleEvent(event models.SubjectEvent) {
	switch event.EventType {
	case EventSubjectUpdated:
		c.invalidate(event.SubjectID)
	case EventSubjectDeleted:
		c.invalidate(event.SubjectID)
		if c.directory != nil && event.SubjectID != "" {
			c.directory.ForgetSubject(event.SubjectID)
		}
	case EventBadgeReassigned:
		if c.directory != nil && event.BadgeID != "" {
			c.directory.ForgetBadge(event.BadgeID)
		}
		c.invalidate(event.SubjectID)
	default:
		c.logger.Debug("Ignoring subject event",
			zap.String("event_type", event.EventType),
			zap.String("subject_id", event.SubjectID),
		)
		return
	}

	metrics.IncInvalidation(event.EventType)
	c.logger.Info("Applied subject event",
		zap.String("event_type", event.EventType),
		zap.String("subject_id", event.SubjectID),
		zap.String("badge_id", event.BadgeID),
	)
}

func (c *SubjectEventConsumer) invalidate(subjectID string) {
	if subjectID == "" {
		return
	}
	c.invalidator.Invalidate(subjectID)
}
