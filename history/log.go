package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"ollama-chat/models"
)

// Log is the append-only record of turns per user.
type Log struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLog returns a Log backed by db.
func NewLog(db *gorm.DB) *Log {
	return &Log{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Append persists one turn. It is the single write path for history.
func (l *Log) Append(ctx context.Context, nt models.NewTurn) (models.Turn, error) {
	if strings.TrimSpace(nt.Model) == "" {
		return models.Turn{}, fmt.Errorf("%w: model is required", models.ErrValidation)
	}
	if nt.Prompt == "" && (nt.Image == nil || *nt.Image == "") {
		return models.Turn{}, fmt.Errorf("%w: prompt or image is required", models.ErrValidation)
	}

	turn := models.Turn{
		UserID:    nt.UserID,
		Model:     nt.Model,
		Prompt:    nt.Prompt,
		Response:  nt.Response,
		Image:     nt.Image,
		Timestamp: l.now(),
	}
	if turn.Image != nil && *turn.Image == "" {
		turn.Image = nil
	}
	if err := l.db.WithContext(ctx).Omit("User").Create(&turn).Error; err != nil {
		return models.Turn{}, fmt.Errorf("%w: append turn for user %d: %v", models.ErrPersistence, nt.UserID, err)
	}
	return turn, nil
}

// Recent returns up to limit turns, most recent first.
func (l *Log) Recent(ctx context.Context, userID uint, limit int) ([]models.Turn, error) {
	return l.recent(ctx, userID, limit, false)
}

// RecentWithoutImages returns up to limit text-only turns, most recent first.
// The image filter runs in the query, before the limit.
func (l *Log) RecentWithoutImages(ctx context.Context, userID uint, limit int) ([]models.Turn, error) {
	return l.recent(ctx, userID, limit, true)
}

func (l *Log) recent(ctx context.Context, userID uint, limit int, textOnly bool) ([]models.Turn, error) {
	turns := []models.Turn{}
	if limit <= 0 {
		return turns, nil
	}
	q := l.db.WithContext(ctx).Where("user_id = ?", userID)
	if textOnly {
		q = q.Where("image_data IS NULL")
	}
	if err := q.Order("timestamp DESC, id DESC").Limit(limit).Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("%w: recent turns for user %d: %v", models.ErrPersistence, userID, err)
	}
	return turns, nil
}

// Clear deletes every turn of userID and returns how many were removed.
func (l *Log) Clear(ctx context.Context, userID uint) (int64, error) {
	res := l.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Turn{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: clear history for user %d: %v", models.ErrPersistence, userID, res.Error)
	}
	return res.RowsAffected, nil
}
