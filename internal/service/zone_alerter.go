package service

import (
	"context"

	"wisefido-badge-locator/internal/metrics"
	"wisefido-badge-locator/internal/positioning"
	"wisefido-badge-locator/internal/repository"
	"wisefido-badge-locator/internal/zones"

	"go.uber.org/zap"
)

// AlertRecorder 告警持久化
type AlertRecorder interface {
	RecordAlert(ctx context.Context, alert *repository.ZoneAlert) error
}

// ZoneAlerter subject 进入禁区时记录告警
type ZoneAlerter struct {
	zones  *zones.Map
	alerts AlertRecorder
	logger *zap.Logger
}

// NewZoneAlerter 创建禁区告警器
func NewZoneAlerter(zoneMap *zones.Map, alerts AlertRecorder, logger *zap.Logger) *ZoneAlerter {
	return &ZoneAlerter{
		zones:  zoneMap,
		alerts: alerts,
		logger: logger,
	}
}

// OnAccepted positioning.AcceptedHook
func (a *ZoneAlerter) OnAccepted(ctx context.Context, outcome positioning.Outcome) {
	if a.zones == nil || a.zones.Len() == 0 {
		return
	}
	x, y, ok := outcome.State.XY()
	if !ok {
		return
	}
	prevX, prevY, hasPrev := outcome.Previous.XY()

	zone, entered := a.zones.EnteredForbidden(prevX, prevY, hasPrev, x, y)
	if !entered {
		return
	}

	alert := &repository.ZoneAlert{
		SubjectID:   outcome.SubjectID,
		ZoneName:    zone.Name,
		ZoneType:    string(zone.Type),
		X:           x,
		Y:           y,
		TriggeredAt: outcome.State.LastSeenAt,
	}
	metrics.IncZoneAlert(zone.Name)
	a.logger.Warn("Subject entered forbidden zone",
		zap.String("subject_id", outcome.SubjectID),
		zap.String("zone", zone.Name),
		zap.Float64("x", x),
		zap.Float64("y", y),
	)

	if err := a.alerts.RecordAlert(ctx, alert); err != nil {
		a.logger.Error("Failed to record zone alert",
			zap.String("subject_id", outcome.SubjectID),
			zap.String("zone", zone.Name),
			zap.Error(err),
		)
	}
}
