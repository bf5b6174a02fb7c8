package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// GenerateOptions enumerates the inference parameters accepted by /api/generate.
// Unknown keys are rejected by the decoder instead of being forwarded.
// 只保留温度、top_p 与 num_predict 三个参数。
type GenerateOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

// UnmarshalJSON rejects option keys outside the enumerated set.
func (o *GenerateOptions) UnmarshalJSON(data []byte) error {
	type plain GenerateOptions
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var p plain
	if err := dec.Decode(&p); err != nil {
		return fmt.Errorf("%w: options: %v", ErrValidation, err)
	}
	*o = GenerateOptions(p)
	return nil
}

// Option ranges.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinTopP        = 0.0
	MaxTopP        = 1.0
	// NumPredict accepts -1 (no limit), -2 (fill context) or a positive count.
	MinNumPredict = -2
	MaxNumPredict = 131072
)

// Validate checks every set option against its range.
func (o GenerateOptions) Validate() error {
	if o.Temperature != nil && (*o.Temperature < MinTemperature || *o.Temperature > MaxTemperature) {
		return fmt.Errorf("%w: temperature must be between %.1f and %.1f", ErrValidation, MinTemperature, MaxTemperature)
	}
	if o.TopP != nil && (*o.TopP < MinTopP || *o.TopP > MaxTopP) {
		return fmt.Errorf("%w: top_p must be between %.1f and %.1f", ErrValidation, MinTopP, MaxTopP)
	}
	if o.NumPredict != nil {
		n := *o.NumPredict
		if n == 0 || n < MinNumPredict || n > MaxNumPredict {
			return fmt.Errorf("%w: num_predict must be -1, -2 or between 1 and %d", ErrValidation, MaxNumPredict)
		}
	}
	return nil
}

// IsZero reports whether no option is set.
func (o GenerateOptions) IsZero() bool {
	return o.Temperature == nil && o.TopP == nil && o.NumPredict == nil
}

// GenerateRequest is the POST /api/generate body.
type GenerateRequest struct {
	Model    string           `json:"model"`
	Prompt   string           `json:"prompt"`
	UserName string           `json:"userName"`
	Images   []string         `json:"images"`
	Options  *GenerateOptions `json:"options,omitempty"`
}

// ModelSummary is the subset of an upstream model entry the chat client reads.
type ModelSummary struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ModelListResponse is the decoded form of the passthrough /api/models body.
type ModelListResponse struct {
	Models []ModelSummary `json:"models"`
}

// RawModelList keeps the upstream tags body untouched for passthrough.
type RawModelList = datatypes.JSON

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Ollama   string `json:"ollama"`
	Database string `json:"database"`
	Error    string `json:"error,omitempty"`
}
