package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Model produces a completion for a prompt. The resolver treats it as best
// effort: any failure falls back to the deterministic keyword matcher.
type Model interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// HTTPModel calls a completion endpoint over HTTP.
type HTTPModel struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewHTTPModel creates a model client with sane defaults.
func NewHTTPModel(baseURL, apiKey string) *HTTPModel {
	return &HTTPModel{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Timeout:    30 * time.Second,
	}
}

// ModelError wraps non-2xx completion responses.
type ModelError struct {
	StatusCode int
	Body       string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model error: status=%d body=%s", e.StatusCode, e.Body)
}

// Complete is safe for concurrent use; it never mutates the receiver.
func (m *HTTPModel) Complete(ctx context.Context, prompt string) (string, error) {
	client := m.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: m.Timeout}
	}
	body := map[string]any{"prompt": prompt}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return "", err
	}
	url := strings.TrimRight(m.BaseURL, "/") + "/v1/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.APIKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", &ModelError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Text, nil
}
