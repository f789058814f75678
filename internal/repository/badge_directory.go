package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wisefido-badge-locator/internal/positioning"

	"go.uber.org/zap"
)

// ErrUnknownSubject 工牌不存在或已停用
var ErrUnknownSubject = positioning.ErrUnknownSubject

// BadgeDirectory 工牌 → subject 映射
type BadgeDirectory struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// NewBadgeDirectory 创建工牌目录
func NewBadgeDirectory(db *sql.DB, driver string, logger *zap.Logger) *BadgeDirectory {
	return &BadgeDirectory{
		db:     db,
		driver: driver,
		logger: logger,
	}
}

// ResolveBadge 查找工牌当前绑定的 subject
func (d *BadgeDirectory) ResolveBadge(ctx context.Context, badgeID string) (string, error) {
	query := `SELECT subject_id FROM badges WHERE badge_id = $1 AND active`
	if d.driver == DriverSQLite {
		query = `SELECT subject_id FROM badges WHERE badge_id = ? AND active`
	}

	var subjectID string
	err := d.db.QueryRowContext(ctx, query, badgeID).Scan(&subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("badge %s: %w", badgeID, ErrUnknownSubject)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve badge %s: %w", badgeID, err)
	}
	return subjectID, nil
}

// AssignBadge 绑定工牌到 subject（已存在则改绑并重新启用）
func (d *BadgeDirectory) AssignBadge(ctx context.Context, badgeID, subjectID string) error {
	query := `
		INSERT INTO badges (badge_id, subject_id, active, updated_at)
		VALUES ($1, $2, TRUE, now())
		ON CONFLICT (badge_id) DO UPDATE SET
			subject_id = EXCLUDED.subject_id,
			active = TRUE,
			updated_at = now()
	`
	if d.driver == DriverSQLite {
		query = `
			INSERT INTO badges (badge_id, subject_id, active, updated_at)
			VALUES (?, ?, 1, strftime('%s', 'now'))
			ON CONFLICT (badge_id) DO UPDATE SET
				subject_id = excluded.subject_id,
				active = 1,
				updated_at = excluded.updated_at
		`
	}

	if _, err := d.db.ExecContext(ctx, query, badgeID, subjectID); err != nil {
		return fmt.Errorf("failed to assign badge %s: %w", badgeID, err)
	}
	return nil
}
