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
	"wisefido-badge-locator/internal/positioning"
	"wisefido-badge-locator/internal/zones"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// PositionPublisher 实时位置推送（Redis Stream + 实时缓存键）
type PositionPublisher struct {
	client    *redis.Client
	stream    string
	maxLen    int64
	keyPrefix string
	ttl       time.Duration
	zones     *zones.Map
	logger    *zap.Logger
}

// NewPositionPublisher 创建位置推送器；zoneMap 可为 nil
func NewPositionPublisher(cfg *config.Config, client *redis.Client, zoneMap *zones.Map, logger *zap.Logger) *PositionPublisher {
	return &PositionPublisher{
		client:    client,
		stream:    cfg.Locator.Stream.Position,
		maxLen:    cfg.Locator.Stream.PositionMax,
		keyPrefix: cfg.Locator.Cache.RealtimeKeyPrefix,
		ttl:       time.Duration(cfg.Locator.Cache.RealtimeTTL) * time.Second,
		zones:     zoneMap,
		logger:    logger,
	}
}

// RealtimeKey subject 的实时位置键
func (p *PositionPublisher) RealtimeKey(subjectID string) string {
	return p.keyPrefix + subjectID + ":realtime"
}

// Publish 写入位置流并刷新实时键
func (p *PositionPublisher) Publish(ctx context.Context, update models.PositionUpdate) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, update, p.maxLen); err != nil {
		return fmt.Errorf("failed to publish position to %s: %w", p.stream, err)
	}

	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal position update: %w", err)
	}
	if err := p.client.Set(ctx, p.RealtimeKey(update.SubjectID), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set realtime position: %w", err)
	}
	return nil
}

// OnAccepted positioning.AcceptedHook，推送失败只记录日志
func (p *PositionPublisher) OnAccepted(ctx context.Context, outcome positioning.Outcome) {
	update, ok := p.buildUpdate(outcome)
	if !ok {
		return
	}

	if err := p.Publish(ctx, update); err != nil {
		metrics.IncPublish("error")
		p.logger.Warn("Failed to publish position update",
			zap.String("subject_id", outcome.SubjectID),
			zap.Error(err),
		)
		return
	}
	metrics.IncPublish("success")
}

func (p *PositionPublisher) buildUpdate(outcome positioning.Outcome) (models.PositionUpdate, bool) {
	x, y, ok := outcome.State.XY()
	if !ok {
		return models.PositionUpdate{}, false
	}

	update := models.PositionUpdate{
		SubjectID: outcome.SubjectID,
		X:         x,
		Y:         y,
		Tier:      string(outcome.Tier),
		Timestamp: outcome.State.LastSeenAt.UnixMilli(),
	}
	if outcome.Estimate != nil {
		update.Method = outcome.Estimate.Method
	}
	if p.zones != nil {
		if zone, found := p.zones.Classify(x, y); found {
			update.Zone = zone.Name
		}
	}
	return update, true
}
