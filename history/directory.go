// Package history stores users and their conversation turns, and renders
// the bounded context window folded into new prompts.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ollama-chat/models"
)

// Directory resolves display names to stable user identities.
type Directory struct {
	db *gorm.DB
}

// NewDirectory returns a Directory backed by db.
func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// NormalizeName trims the name and rejects empty names.
func NormalizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: name is required", models.ErrValidation)
	}
	return trimmed, nil
}

// Resolve returns the user for name, creating it on first use. The second
// return value reports whether this call created the row.
//
// Uniqueness is enforced by the users.name index: concurrent first logins
// race on INSERT ... ON CONFLICT DO NOTHING and all read back the same row.
func (d *Directory) Resolve(ctx context.Context, name string) (models.User, bool, error) {
	trimmed, err := NormalizeName(name)
	if err != nil {
		return models.User{}, false, err
	}

	candidate := models.User{Name: trimmed, CreatedAt: time.Now().UTC()}
	res := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&candidate)
	if res.Error != nil {
		return models.User{}, false, fmt.Errorf("%w: create user %q: %v", models.ErrPersistence, trimmed, res.Error)
	}

	user, err := d.Lookup(ctx, trimmed)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.User{}, false, fmt.Errorf("%w: user %q vanished after insert", models.ErrPersistence, trimmed)
		}
		return models.User{}, false, err
	}
	return user, res.RowsAffected > 0, nil
}

// Lookup finds a user by exact name. Unknown names yield models.ErrNotFound.
func (d *Directory) Lookup(ctx context.Context, name string) (models.User, error) {
	var user models.User
	err := d.db.WithContext(ctx).Where("name = ?", name).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, fmt.Errorf("%w: user %q", models.ErrNotFound, name)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("%w: lookup user %q: %v", models.ErrPersistence, name, err)
	}
	return user, nil
}

// Stats summarises the stored history of userID. A user without turns gets
// zero counts and nil timestamps.
func (d *Directory) Stats(ctx context.Context, userID uint) (models.UserStats, error) {
	var stats models.UserStats
	q := d.db.WithContext(ctx).Model(&models.Turn{}).Where("user_id = ?", userID)

	if err := q.Session(&gorm.Session{}).Count(&stats.TotalTurns).Error; err != nil {
		return models.UserStats{}, fmt.Errorf("%w: count turns: %v", models.ErrPersistence, err)
	}
	if stats.TotalTurns == 0 {
		return stats, nil
	}
	if err := q.Session(&gorm.Session{}).Distinct("model").Count(&stats.DistinctModelsUsed).Error; err != nil {
		return models.UserStats{}, fmt.Errorf("%w: count models: %v", models.ErrPersistence, err)
	}

	var first, last models.Turn
	if err := q.Session(&gorm.Session{}).Order("timestamp ASC, id ASC").Take(&first).Error; err != nil {
		return models.UserStats{}, fmt.Errorf("%w: first turn: %v", models.ErrPersistence, err)
	}
	if err := q.Session(&gorm.Session{}).Order("timestamp DESC, id DESC").Take(&last).Error; err != nil {
		return models.UserStats{}, fmt.Errorf("%w: last turn: %v", models.ErrPersistence, err)
	}
	stats.FirstTurnAt = &first.Timestamp
	stats.LastTurnAt = &last.Timestamp
	return stats, nil
}
