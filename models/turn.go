package models

import (
	"time"
)

// Turn is one stored prompt/response exchange.
// Turns are immutable; they are only removed by clearing a user's history.
// 对话记录，image 为空表示纯文本轮次。
type Turn struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"not null;index:idx_turns_user_time,priority:1"`
	User      *User     `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	Model     string    `json:"model" gorm:"not null"`
	Prompt    string    `json:"prompt" gorm:"not null"`
	Response  string    `json:"response" gorm:"not null"`
	Image     *string   `json:"image_data" gorm:"column:image_data"`
	Timestamp time.Time `json:"timestamp" gorm:"not null;index:idx_turns_user_time,priority:2"`
}

// TableName keeps the logical name used by the HTTP surface.
func (Turn) TableName() string { return "conversations" }

// HasImage reports whether the turn carried an image.
func (t Turn) HasImage() bool { return t.Image != nil && *t.Image != "" }

// NewTurn carries the fields of a turn about to be appended.
type NewTurn struct {
	UserID   uint
	Model    string
	Prompt   string
	Response string
	Image    *string
}

// ConversationsResponse is returned by GET /api/conversations/:userName.
type ConversationsResponse struct {
	Conversations []Turn `json:"conversations"`
}

// ClearResponse is returned by DELETE /api/conversations/:userName.
type ClearResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	DeletedCount int64  `json:"deletedCount"`
}
