package orchestratorsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal orchestrator HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// TaskCard represents the API task card model.
type TaskCard struct {
	ID                  string  `json:"id"`
	TenantID            string  `json:"tenant_id"`
	EntityID            *string `json:"entity_id,omitempty"`
	EntityType          string  `json:"entity_type,omitempty"`
	Title               string  `json:"title"`
	Description         string  `json:"description,omitempty"`
	TaskType            string  `json:"task_type"`
	Status              string  `json:"status"`
	Priority            int     `json:"priority"`
	DedupKey            string  `json:"dedup_key"`
	Source              string  `json:"source,omitempty"`
	ActionURL           *string `json:"action_url,omitempty"`
	SuggestedActionJSON *string `json:"suggested_action_json,omitempty"`
	ExpiresAt           *string `json:"expires_at,omitempty"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

// TaskCardInput is the creation payload.
type TaskCardInput struct {
	EntityID        string         `json:"entity_id,omitempty"`
	EntityType      string         `json:"entity_type,omitempty"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	TaskType        string         `json:"task_type"`
	Priority        *int           `json:"priority"`
	DedupKey        string         `json:"dedup_key"`
	Source          string         `json:"source,omitempty"`
	ActionURL       *string        `json:"action_url,omitempty"`
	SuggestedAction map[string]any `json:"suggested_action,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ExpiresAt       *string        `json:"expires_at,omitempty"`
}

// TaskCardResult reports whether the card was inserted or absorbed by an
// existing pending card.
type TaskCardResult struct {
	Card    TaskCard `json:"card"`
	Created bool     `json:"created"`
}

// ChatOutcome is the conversational endpoint's response.
type ChatOutcome struct {
	Response   string          `json:"response"`
	Intent     *ChatIntent     `json:"intent,omitempty"`
	L0Result   json.RawMessage `json:"l0_result,omitempty"`
	TaskCardID string          `json:"task_card_id,omitempty"`
}

// ChatIntent is the resolved structured intent, when one was matched.
type ChatIntent struct {
	Key    string         `json:"intent_key"`
	Level  string         `json:"automation_level"`
	Class  string         `json:"execution_class,omitempty"`
	Params map[string]any `json:"params"`
}

// SafetyState is one throttle window row.
type SafetyState struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	ActionType    string `json:"action_type"`
	WindowStart   string `json:"window_start"`
	ExecutedCount int    `json:"executed_count"`
	MaxAllowed    int    `json:"max_allowed"`
	State         string `json:"state"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Chat resolves a natural-language message for the authenticated tenant.
func (c *Client) Chat(ctx context.Context, message string) (ChatOutcome, error) {
	var resp ChatOutcome
	err := c.do(ctx, http.MethodPost, "v0/chat", map[string]any{"message": message}, &resp)
	return resp, err
}

// CreateTaskCard creates a task card idempotently.
func (c *Client) CreateTaskCard(ctx context.Context, input TaskCardInput) (TaskCardResult, error) {
	var resp TaskCardResult
	err := c.do(ctx, http.MethodPost, "v0/task-cards", input, &resp)
	return resp, err
}

// ListTaskCards returns the tenant's task cards, optionally filtered by
// status.
func (c *Client) ListTaskCards(ctx context.Context, status string) ([]TaskCard, error) {
	endpoint := "v0/task-cards"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Items []TaskCard `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// UpdateTaskCardStatus moves a card to a new status.
func (c *Client) UpdateTaskCardStatus(ctx context.Context, cardID, status string) (TaskCard, error) {
	var resp TaskCard
	endpoint := fmt.Sprintf("v0/task-cards/%s", url.PathEscape(cardID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// SafetyStates returns the tenant's throttle windows.
func (c *Client) SafetyStates(ctx context.Context) ([]SafetyState, error) {
	var resp struct {
		Items []SafetyState `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/safety-state", nil, &resp)
	return resp.Items, err
}

// Health pings the health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v0/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
