package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-chat/models"
)

func TestOpenCreatesTables(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "nested", "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	assert.True(t, db.Migrator().HasTable(&models.User{}))
	assert.True(t, db.Migrator().HasTable(&models.Turn{}))
	assert.NoError(t, Ping(db))
}

func TestOpenEnforcesForeignKeys(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	turn := models.Turn{UserID: 42, Model: "llama3", Prompt: "hi", Response: "hello"}
	err = db.Create(&turn).Error
	assert.Error(t, err, "insert with unknown user must violate the foreign key")
}

func TestDSNFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{":memory:", "file::memory:?_foreign_keys=on&_busy_timeout=5000"},
		{"chat.db", "chat.db?_foreign_keys=on&_busy_timeout=5000"},
		{"file:chat.db?cache=shared", "file:chat.db?cache=shared&_foreign_keys=on&_busy_timeout=5000"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, dsnFor(tt.path))
		})
	}
}
