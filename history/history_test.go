package history

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ollama-chat/database"
	"ollama-chat/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// steppedLog returns a Log whose clock advances one second per append so
// ordering does not depend on wall-clock resolution.
func steppedLog(db *gorm.DB) *Log {
	l := NewLog(db)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var n int
	l.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return l
}

func img(s string) *string { return &s }

func TestResolveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(newTestDB(t))

	first, created, err := dir.Resolve(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := dir.Resolve(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	padded, _, err := dir.Resolve(ctx, "  alice ")
	require.NoError(t, err)
	assert.Equal(t, first.ID, padded.ID)
	assert.Equal(t, "alice", padded.Name)
}

func TestResolveIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(newTestDB(t))

	lower, _, err := dir.Resolve(ctx, "alice")
	require.NoError(t, err)
	upper, created, err := dir.Resolve(ctx, "Alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, lower.ID, upper.ID)
}

func TestResolveRejectsEmptyName(t *testing.T) {
	dir := NewDirectory(newTestDB(t))
	for _, name := range []string{"", "   ", "\t\n"} {
		_, _, err := dir.Resolve(context.Background(), name)
		assert.ErrorIs(t, err, models.ErrValidation, "name %q", name)
	}
}

func TestResolveConcurrentFirstLogin(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	dir := NewDirectory(db)

	const workers = 16
	ids := make([]uint, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, _, err := dir.Resolve(ctx, "carol")
			ids[i], errs[i] = u.ID, err
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	var count int64
	require.NoError(t, db.Model(&models.User{}).Where("name = ?", "carol").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestLookupUnknown(t *testing.T) {
	_, err := NewDirectory(newTestDB(t)).Lookup(context.Background(), "nobody")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	dir := NewDirectory(db)
	log := steppedLog(db)

	user, _, err := dir.Resolve(ctx, "dave")
	require.NoError(t, err)

	empty, err := dir.Stats(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalTurns)
	assert.Nil(t, empty.FirstTurnAt)
	assert.Nil(t, empty.LastTurnAt)

	var appended []models.Turn
	for _, m := range []string{"llama3", "llava", "llama3"} {
		turn, err := log.Append(ctx, models.NewTurn{UserID: user.ID, Model: m, Prompt: "p", Response: "r"})
		require.NoError(t, err)
		appended = append(appended, turn)
	}

	stats, err := dir.Stats(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalTurns)
	assert.Equal(t, int64(2), stats.DistinctModelsUsed)
	require.NotNil(t, stats.FirstTurnAt)
	require.NotNil(t, stats.LastTurnAt)
	assert.True(t, stats.FirstTurnAt.Equal(appended[0].Timestamp))
	assert.True(t, stats.LastTurnAt.Equal(appended[2].Timestamp))
}

func TestAppendThenRecentRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user, _, err := NewDirectory(db).Resolve(ctx, "erin")
	require.NoError(t, err)
	log := steppedLog(db)

	_, err = log.Append(ctx, models.NewTurn{UserID: user.ID, Model: "llama3", Prompt: "older", Response: "x"})
	require.NoError(t, err)
	turn, err := log.Append(ctx, models.NewTurn{UserID: user.ID, Model: "llama3", Prompt: "what is go?", Response: "a language"})
	require.NoError(t, err)

	recent, err := log.Recent(ctx, user.ID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, turn.ID, recent[0].ID)
	assert.Equal(t, "what is go?", recent[0].Prompt)
	assert.Equal(t, "a language", recent[0].Response)
	assert.Nil(t, recent[0].Image)
}

func TestAppendUnknownUser(t *testing.T) {
	log := NewLog(newTestDB(t))
	_, err := log.Append(context.Background(), models.NewTurn{UserID: 999, Model: "llama3", Prompt: "hi", Response: "hello"})
	assert.ErrorIs(t, err, models.ErrPersistence)
}

func TestAppendRequiresModelAndContent(t *testing.T) {
	log := NewLog(newTestDB(t))
	ctx := context.Background()

	_, err := log.Append(ctx, models.NewTurn{UserID: 1, Prompt: "hi", Response: "hello"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = log.Append(ctx, models.NewTurn{UserID: 1, Model: "llava", Response: "hello"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRecentEmptyHistory(t *testing.T) {
	recent, err := NewLog(newTestDB(t)).Recent(context.Background(), 7, 10)
	require.NoError(t, err)
	assert.NotNil(t, recent)
	assert.Empty(t, recent)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	dir := NewDirectory(db)
	log := steppedLog(db)

	user, _, err := dir.Resolve(ctx, "frank")
	require.NoError(t, err)
	other, _, err := dir.Resolve(ctx, "grace")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := log.Append(ctx, models.NewTurn{UserID: user.ID, Model: "llama3", Prompt: fmt.Sprint(i), Response: "r"})
		require.NoError(t, err)
	}
	_, err = log.Append(ctx, models.NewTurn{UserID: other.ID, Model: "llama3", Prompt: "keep", Response: "r"})
	require.NoError(t, err)

	n, err := log.Clear(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	recent, err := log.Recent(ctx, user.ID, 50)
	require.NoError(t, err)
	assert.Empty(t, recent)

	n, err = log.Clear(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	kept, err := log.Recent(ctx, other.ID, 50)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}
