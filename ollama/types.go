// Package ollama talks to the completion service: model listing and
// non-streaming or pass-through streaming generation.
package ollama

import (
	"ollama-chat/models"
)

// Default configuration constants
const (
	DefaultEndpoint = "http://localhost:11434"
)

// API endpoints
const (
	EndpointTags     = "/api/tags"
	EndpointGenerate = "/api/generate"
)

// GenerateRequest is the body sent to /api/generate.
type GenerateRequest struct {
	Model   string                  `json:"model"`
	Prompt  string                  `json:"prompt"`
	Stream  bool                    `json:"stream"`
	Images  []string                `json:"images,omitempty"`
	Options *models.GenerateOptions `json:"options,omitempty"`
}

// GenerateResult holds a completed non-streaming generation.
// Raw keeps every field the service returned so it can be passed through.
type GenerateResult struct {
	Response string
	Raw      map[string]any
}
