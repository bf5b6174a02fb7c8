package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"ollama-chat/constants"
	"ollama-chat/models"
)

// Reply is the outcome of a generation request.
type Reply struct {
	Response     string
	HistorySaved bool
	Warning      string
}

// Transport reaches the chat server.
type Transport interface {
	Login(ctx context.Context, name string) (models.User, error)
	History(ctx context.Context, name string) ([]models.Turn, error)
	Models(ctx context.Context) ([]models.ModelSummary, error)
	Generate(ctx context.Context, req models.GenerateRequest) (Reply, error)
	ClearHistory(ctx context.Context, name string) (int64, error)
	Health(ctx context.Context) (models.HealthResponse, error)
}

// HTTPError is a non-2xx reply from the server.
type HTTPError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP error! status: %d", e.Status)
	}
	return fmt.Sprintf("HTTP error! status: %d: %s", e.Status, e.Message)
}

// HTTPTransport talks to the server's JSON API. The client carries no
// timeout; a request lasts until the server answers or the transport fails.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport returns a transport for baseURL. A nil client means
// http.DefaultClient.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

func (t *HTTPTransport) Login(ctx context.Context, name string) (models.User, error) {
	var out models.LoginResponse
	if err := t.call(ctx, http.MethodPost, "/api/user/login", models.LoginRequest{Name: name}, &out); err != nil {
		return models.User{}, err
	}
	return out.User, nil
}

func (t *HTTPTransport) History(ctx context.Context, name string) ([]models.Turn, error) {
	var out models.ConversationsResponse
	if err := t.call(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (t *HTTPTransport) Models(ctx context.Context) ([]models.ModelSummary, error) {
	var out models.ModelListResponse
	if err := t.call(ctx, http.MethodGet, "/api/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

func (t *HTTPTransport) Generate(ctx context.Context, req models.GenerateRequest) (Reply, error) {
	var out struct {
		Response     string `json:"response"`
		HistorySaved *bool  `json:"history_saved"`
		Warning      string `json:"warning"`
	}
	if err := t.call(ctx, http.MethodPost, "/api/generate", req, &out); err != nil {
		return Reply{}, err
	}
	saved := out.HistorySaved == nil || *out.HistorySaved
	return Reply{Response: out.Response, HistorySaved: saved, Warning: out.Warning}, nil
}

func (t *HTTPTransport) ClearHistory(ctx context.Context, name string) (int64, error) {
	var out models.ClearResponse
	if err := t.call(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(name), nil, &out); err != nil {
		return 0, err
	}
	return out.DeletedCount, nil
}

// Health returns the decoded health body; an unhealthy 503 is not an error.
func (t *HTTPTransport) Health(ctx context.Context) (models.HealthResponse, error) {
	var out models.HealthResponse
	err := t.call(ctx, http.MethodGet, "/api/health", nil, &out)
	var herr *HTTPError
	if errors.As(err, &herr) && herr.Status == http.StatusServiceUnavailable {
		out = models.HealthResponse{Status: constants.StatusUnhealthy}
		_ = json.Unmarshal(herr.Body, &out)
		return out, nil
	}
	return out, err
}

func (t *HTTPTransport) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &HTTPError{Status: resp.StatusCode, Message: e.Error, Body: raw}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
