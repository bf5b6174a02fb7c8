package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ollama-chat/models"
)

// IdentityCache keeps the logged-in user across client restarts.
type IdentityCache interface {
	Load() (*models.User, error)
	Save(models.User) error
	Clear() error
}

// FileIdentityCache stores the identity as JSON in a single file.
type FileIdentityCache struct {
	Path string
}

// Load returns nil without error when no identity is cached.
func (f FileIdentityCache) Load() (*models.User, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity %s: %w", f.Path, err)
	}
	var u models.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode identity %s: %w", f.Path, err)
	}
	if u.Name == "" {
		return nil, nil
	}
	return &u, nil
}

// Save writes u, creating the parent directory.
func (f FileIdentityCache) Save(u models.User) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0o600)
}

// Clear removes the cached identity.
func (f FileIdentityCache) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryIdentityCache is an in-process IdentityCache.
type MemoryIdentityCache struct {
	mu   sync.Mutex
	user *models.User
}

func (m *MemoryIdentityCache) Load() (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil, nil
	}
	u := *m.user
	return &u, nil
}

func (m *MemoryIdentityCache) Save(u models.User) error {
	m.mu.Lock()
	m.user = &u
	m.mu.Unlock()
	return nil
}

func (m *MemoryIdentityCache) Clear() error {
	m.mu.Lock()
	m.user = nil
	m.mu.Unlock()
	return nil
}
