package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ZoneAlert subject 进入禁区的告警记录
type ZoneAlert struct {
	AlertID     uuid.UUID `json:"alert_id"`
	SubjectID   string    `json:"subject_id"`
	ZoneName    string    `json:"zone_name"`
	ZoneType    string    `json:"zone_type"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// AlertStore 区域告警存储
type AlertStore struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// NewAlertStore 创建告警存储
func NewAlertStore(db *sql.DB, driver string, logger *zap.Logger) *AlertStore {
	return &AlertStore{
		db:     db,
		driver: driver,
		logger: logger,
	}
}

// RecordAlert 写入告警；AlertID 为空时自动生成
func (s *AlertStore) RecordAlert(ctx context.Context, alert *ZoneAlert) error {
	if alert.AlertID == uuid.Nil {
		alert.AlertID = uuid.New()
	}

	var err error
	if s.driver == DriverSQLite {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO zone_alerts (alert_id, subject_id, zone_name, zone_type, x, y, triggered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, alert.AlertID.String(), alert.SubjectID, alert.ZoneName, alert.ZoneType, alert.X, alert.Y, alert.TriggeredAt.UnixNano())
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO zone_alerts (alert_id, subject_id, zone_name, zone_type, x, y, triggered_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, alert.AlertID.String(), alert.SubjectID, alert.ZoneName, alert.ZoneType, alert.X, alert.Y, alert.TriggeredAt.UTC())
	}
	if err != nil {
		return fmt.Errorf("failed to record zone alert for subject %s: %w", alert.SubjectID, err)
	}
	return nil
}

// ListAlerts 按时间倒序列出 subject 的告警
func (s *AlertStore) ListAlerts(ctx context.Context, subjectID string, limit int) ([]ZoneAlert, error) {
	query := `
		SELECT alert_id, subject_id, zone_name, zone_type, x, y, triggered_at
		FROM zone_alerts
		WHERE subject_id = $1
		ORDER BY triggered_at DESC
		LIMIT $2
	`
	if s.driver == DriverSQLite {
		query = `
			SELECT alert_id, subject_id, zone_name, zone_type, x, y, triggered_at
			FROM zone_alerts
			WHERE subject_id = ?
			ORDER BY triggered_at DESC
			LIMIT ?
		`
	}

	rows, err := s.db.QueryContext(ctx, query, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query zone alerts: %w", err)
	}
	defer rows.Close()

	var alerts []ZoneAlert
	for rows.Next() {
		var a ZoneAlert
		var id string
		if s.driver == DriverSQLite {
			var nanos int64
			if err := rows.Scan(&id, &a.SubjectID, &a.ZoneName, &a.ZoneType, &a.X, &a.Y, &nanos); err != nil {
				return nil, fmt.Errorf("failed to scan zone alert: %w", err)
			}
			a.TriggeredAt = time.Unix(0, nanos).UTC()
		} else {
			if err := rows.Scan(&id, &a.SubjectID, &a.ZoneName, &a.ZoneType, &a.X, &a.Y, &a.TriggeredAt); err != nil {
				return nil, fmt.Errorf("failed to scan zone alert: %w", err)
			}
		}
		if a.AlertID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid alert id %q: %w", id, err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate zone alerts: %w", err)
	}
	return alerts, nil
}
