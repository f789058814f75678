package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wisefido-badge-locator/internal/models"
	"wisefido-badge-locator/internal/positioning"

	"go.uber.org/zap"
)

// PostgresPositionStore subject 位置状态（PostgreSQL）
type PostgresPositionStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresPositionStore 创建 PostgreSQL 位置存储
func NewPostgresPositionStore(db *sql.DB, logger *zap.Logger) *PostgresPositionStore {
	return &PostgresPositionStore{
		db:     db,
		logger: logger,
	}
}

// GetLastPosition 读取 subject 最近一次被接受的位置
//
// 没有记录时返回空状态；last_x / last_y 只有一个为空的行视为没有位置。
func (s *PostgresPositionStore) GetLastPosition(ctx context.Context, subjectID string) (models.SubjectPositionState, error) {
	query := `
		SELECT last_x, last_y, last_seen_at
		FROM subject_positions
		WHERE subject_id = $1
	`

	var x, y sql.NullFloat64
	var seenAt time.Time
	err := s.db.QueryRowContext(ctx, query, subjectID).Scan(&x, &y, &seenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SubjectPositionState{SubjectID: subjectID}, nil
	}
	if err != nil {
		return models.SubjectPositionState{}, fmt.Errorf("failed to query position for subject %s: %w", subjectID, err)
	}

	return stateFromColumns(subjectID, x, y, seenAt), nil
}

// UpsertPosition 写入位置；库中已有更新的 last_seen_at 时不覆盖并返回 false
func (s *PostgresPositionStore) UpsertPosition(ctx context.Context, subjectID string, x, y float64, at time.Time) (bool, error) {
	query := `
		INSERT INTO subject_positions (subject_id, last_x, last_y, last_seen_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (subject_id) DO UPDATE SET
			last_x = EXCLUDED.last_x,
			last_y = EXCLUDED.last_y,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = now()
		WHERE subject_positions.last_seen_at <= EXCLUDED.last_seen_at
	`

	result, err := s.db.ExecContext(ctx, query, subjectID, x, y, at.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to upsert position for subject %s: %w", subjectID, err)
	}
	return rowsWritten(result)
}

// SQLitePositionStore subject 位置状态（SQLite，时间列存 Unix 纳秒）
type SQLitePositionStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLitePositionStore 创建 SQLite 位置存储
func NewSQLitePositionStore(db *sql.DB, logger *zap.Logger) *SQLitePositionStore {
	return &SQLitePositionStore{
		db:     db,
		logger: logger,
	}
}

// GetLastPosition 读取 subject 最近一次被接受的位置
func (s *SQLitePositionStore) GetLastPosition(ctx context.Context, subjectID string) (models.SubjectPositionState, error) {
	query := `
		SELECT last_x, last_y, last_seen_at
		FROM subject_positions
		WHERE subject_id = ?
	`

	var x, y sql.NullFloat64
	var seenAt int64
	err := s.db.QueryRowContext(ctx, query, subjectID).Scan(&x, &y, &seenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SubjectPositionState{SubjectID: subjectID}, nil
	}
	if err != nil {
		return models.SubjectPositionState{}, fmt.Errorf("failed to query position for subject %s: %w", subjectID, err)
	}

	return stateFromColumns(subjectID, x, y, time.Unix(0, seenAt).UTC()), nil
}

// UpsertPosition 写入位置；库中已有更新的 last_seen_at 时不覆盖并返回 false
func (s *SQLitePositionStore) UpsertPosition(ctx context.Context, subjectID string, x, y float64, at time.Time) (bool, error) {
	query := `
		INSERT INTO subject_positions (subject_id, last_x, last_y, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (subject_id) DO UPDATE SET
			last_x = excluded.last_x,
			last_y = excluded.last_y,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at
		WHERE subject_positions.last_seen_at <= excluded.last_seen_at
	`

	result, err := s.db.ExecContext(ctx, query, subjectID, x, y, at.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to upsert position for subject %s: %w", subjectID, err)
	}
	return rowsWritten(result)
}

// NewPositionStore 按驱动选择位置存储实现
func NewPositionStore(db *sql.DB, driver string, logger *zap.Logger) (positioning.PositionStore, error) {
	switch driver {
	case "", DriverPostgres:
		return NewPostgresPositionStore(db, logger), nil
	case DriverSQLite:
		return NewSQLitePositionStore(db, logger), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func stateFromColumns(subjectID string, x, y sql.NullFloat64, seenAt time.Time) models.SubjectPositionState {
	if !x.Valid || !y.Valid {
		return models.SubjectPositionState{SubjectID: subjectID}
	}
	return models.NewSubjectPositionState(subjectID, x.Float64, y.Float64, seenAt)
}

func rowsWritten(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
