package session

import (
	"strings"
	"sync"
)

// DefaultImageModels lists model name fragments known to accept images.
var DefaultImageModels = []string{
	"llava",
	"bakllava",
	"moondream",
	"llama3.2-vision",
	"minicpm-v",
	"qwen2.5vl",
	"gemma3",
	"granite3.2-vision",
}

// Registry answers whether a model accepts image input.
type Registry interface {
	SupportsImages(model string) bool
}

// CapabilityRegistry maps model name fragments to image support. A model
// matches a fragment by case-insensitive substring; the longest matching
// fragment decides, so "llava" can be overridden by a more specific entry.
type CapabilityRegistry struct {
	mu      sync.RWMutex
	entries map[string]bool
}

// NewCapabilityRegistry returns a registry marking every fragment in
// imageModels as image-capable.
func NewCapabilityRegistry(imageModels ...string) *CapabilityRegistry {
	r := &CapabilityRegistry{entries: make(map[string]bool, len(imageModels))}
	for _, m := range imageModels {
		r.Set(m, true)
	}
	return r
}

// Set records whether fragment supports images.
func (r *CapabilityRegistry) Set(fragment string, supportsImages bool) {
	key := strings.ToLower(strings.TrimSpace(fragment))
	if key == "" {
		return
	}
	r.mu.Lock()
	r.entries[key] = supportsImages
	r.mu.Unlock()
}

// SupportsImages reports whether model is image-capable.
func (r *CapabilityRegistry) SupportsImages(model string) bool {
	name := strings.ToLower(model)
	if name == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	best, supported := -1, false
	for fragment, ok := range r.entries {
		if len(fragment) > best && strings.Contains(name, fragment) {
			best, supported = len(fragment), ok
		}
	}
	return supported
}
