package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"gorm.io/datatypes"
)

// Sentinel errors for completion service calls
var (
	// ErrNotRunning is returned when nothing listens at the configured endpoint
	ErrNotRunning = errors.New("ollama not running")
	// ErrConnectionTimeout is returned when the request times out
	ErrConnectionTimeout = errors.New("ollama connection timeout")
	// ErrRequestFailed is returned for non-2xx replies and malformed bodies
	ErrRequestFailed = errors.New("ollama request failed")
	// ErrConnectionFailed is returned when the connection fails for other reasons
	ErrConnectionFailed = errors.New("ollama connection failed")
)

// maxErrorBody bounds how much of a failed reply is kept for diagnostics.
const maxErrorBody = 1024

// Client provides methods to communicate with the completion service.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient returns a client for endpoint. A zero timeout means requests
// are only bounded by their context.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the configured endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Tags fetches the model list and returns the body untouched.
func (c *Client) Tags(ctx context.Context) (datatypes.JSON, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+EndpointTags, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read tags: %v", ErrRequestFailed, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: tags body is not JSON", ErrRequestFailed)
	}
	return datatypes.JSON(body), nil
}

// Generate performs one non-streaming completion.
func (c *Client) Generate(ctx context.Context, gr GenerateRequest) (GenerateResult, error) {
	gr.Stream = false
	resp, err := c.post(ctx, gr)
	if err != nil {
		return GenerateResult{}, err
	}
	defer resp.Body.Close()

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return GenerateResult{}, fmt.Errorf("%w: decode response: %v", ErrRequestFailed, err)
	}
	if msg, ok := raw["error"]; ok {
		return GenerateResult{}, fmt.Errorf("%w: %v", ErrRequestFailed, msg)
	}
	text, ok := raw["response"].(string)
	if !ok {
		return GenerateResult{}, fmt.Errorf("%w: response field missing", ErrRequestFailed)
	}
	return GenerateResult{Response: text, Raw: raw}, nil
}

// GenerateStream starts a streaming completion and returns the raw body.
// The caller must close it.
func (c *Client) GenerateStream(ctx context.Context, gr GenerateRequest) (io.ReadCloser, error) {
	gr.Stream = true
	resp, err := c.post(ctx, gr)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, gr GenerateRequest) (*http.Response, error) {
	body, err := json.Marshal(gr)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+EndpointGenerate, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// do sends req and converts transport failures and non-2xx replies into
// the package sentinels. On success the caller owns the body.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		classified := classifyError(err)
		if errors.Is(classified, ErrNotRunning) {
			return nil, fmt.Errorf("%w at %s (start with: ollama serve)", ErrNotRunning, c.endpoint)
		}
		return nil, classified
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			return nil, fmt.Errorf("%w: status %d (failed to read error: %v)", ErrRequestFailed, resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return resp, nil
}

// classifyError converts low-level HTTP errors into the package sentinels.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrConnectionTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrConnectionTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrNotRunning
	}
	return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
}
