package storage

import (
	"context"
	"fmt"

	apperrors "github.com/eco-assistant/internal/errors"
	"github.com/eco-assistant/internal/models"
	"github.com/eco-assistant/internal/types"
)

// ActionLogRepository writes and reads credited actions in ClickHouse
type ActionLogRepository struct {
	db *ClickHouseDB
}

// NewActionLogRepository creates a new action log repository
func NewActionLogRepository(db *ClickHouseDB) *ActionLogRepository {
	return &ActionLogRepository{db: db}
}

// InsertActions writes records in a single batch
func (r *ActionLogRepository) InsertActions(ctx context.Context, records []models.ActionRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO action_log (user_id, action, category, points, score_new, created_at)
	`)
	if err != nil {
		return apperrors.NewDatabaseError("prepare action batch", err)
	}

	for _, rec := range records {
		if err := batch.Append(
			rec.UserID,
			string(rec.Action),
			rec.Category,
			int32(rec.Points),   // #nosec G115 - action points are small constants
			int32(rec.ScoreNew), // #nosec G115 - score fits comfortably in int32
			rec.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to append action for user %d: %w", rec.UserID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return apperrors.NewDatabaseError("send action batch", err)
	}
	return nil
}

// GetUserActions returns the latest actions of a user, newest first
func (r *ActionLogRepository) GetUserActions(ctx context.Context, userID int64, limit int) ([]models.ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Conn().Query(ctx, `
		SELECT user_id, action, category, points, score_new, created_at
		FROM action_log
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query actions", err)
	}
	defer func() { _ = rows.Close() }()

	var records []models.ActionRecord
	for rows.Next() {
		var (
			rec              models.ActionRecord
			action           string
			points, scoreNew int32
		)
		if err := rows.Scan(&rec.UserID, &action, &rec.Category, &points, &scoreNew, &rec.CreatedAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan action", err)
		}
		rec.Action = types.ActionType(action)
		rec.Points = int(points)
		rec.ScoreNew = int(scoreNew)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("query actions", err)
	}
	return records, nil
}
