package models

import (
	"time"
)

// User is a named chat participant. Names are unauthenticated identifiers,
// unique across the store and never mutated once created.
// 用户按名称唯一，首次登录时创建。
type User struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName keeps the table short and explicit.
func (User) TableName() string { return "users" }

// UserStats summarises a user's stored history.
// FirstTurnAt and LastTurnAt are nil when the user has no turns.
type UserStats struct {
	TotalTurns         int64      `json:"total_conversations"`
	DistinctModelsUsed int64      `json:"models_used"`
	FirstTurnAt        *time.Time `json:"first_conversation"`
	LastTurnAt         *time.Time `json:"last_conversation"`
}

// LoginRequest is the POST /api/user/login body.
type LoginRequest struct {
	Name string `json:"name" binding:"required"`
}

// LoginResponse mirrors the login reply shape.
type LoginResponse struct {
	Success bool   `json:"success"`
	User    User   `json:"user"`
	Message string `json:"message"`
}

// UserResponse is returned by GET /api/user/:name.
type UserResponse struct {
	User  User      `json:"user"`
	Stats UserStats `json:"stats"`
}
