package history

import (
	"context"
	"strings"

	"ollama-chat/models"
)

// DefaultWindowTurns is the number of prior turns folded into a prompt.
const DefaultWindowTurns = 5

// TurnSource is the read side of the conversation log.
type TurnSource interface {
	Recent(ctx context.Context, userID uint, limit int) ([]models.Turn, error)
	RecentWithoutImages(ctx context.Context, userID uint, limit int) ([]models.Turn, error)
}

// WindowBuilder renders recent turns into a prompt digest.
type WindowBuilder struct {
	source TurnSource
}

// NewWindowBuilder returns a builder reading from source.
func NewWindowBuilder(source TurnSource) *WindowBuilder {
	return &WindowBuilder{source: source}
}

// Build returns the chronological digest of the user's last maxTurns turns.
// With excludeImageTurns the window is filled from text-only turns, reaching
// further back in history when recent turns carried images.
func (b *WindowBuilder) Build(ctx context.Context, userID uint, maxTurns int, excludeImageTurns bool) (string, error) {
	var (
		turns []models.Turn
		err   error
	)
	if excludeImageTurns {
		turns, err = b.source.RecentWithoutImages(ctx, userID, maxTurns)
	} else {
		turns, err = b.source.Recent(ctx, userID, maxTurns)
	}
	if err != nil {
		return "", err
	}
	return RenderDigest(turns), nil
}

// RenderDigest renders most-recent-first turns in chronological order.
func RenderDigest(recentFirst []models.Turn) string {
	var sb strings.Builder
	for i := len(recentFirst) - 1; i >= 0; i-- {
		t := recentFirst[i]
		sb.WriteString("User: ")
		sb.WriteString(t.Prompt)
		sb.WriteString("\nAssistant: ")
		sb.WriteString(t.Response)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}
