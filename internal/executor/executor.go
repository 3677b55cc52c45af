// Package executor provides the client that asks the game backend to perform
// one bot action. The scheduler decides when; the backend does the work and
// runs its own precondition checks.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/agentfi/agentfi-bot-scheduler/pkg/config"
)

// ErrRejected wraps a refusal reported by the backend, such as an unmet
// precondition.
var ErrRejected = errors.New("executor: rejected")

// --- Public types ---

// Executor performs a single bot action.
type Executor interface {
	Execute(ctx context.Context, req Request) (Outcome, error)
}

// Request identifies the action to perform.
type Request struct {
	AgentID string            `json:"agent_id"`
	Action  string            `json:"action"`
	Target  string            `json:"target,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	FireAt  time.Time         `json:"fire_at"`
}

// Outcome is what the backend reports back. Earned feeds target-driven
// counters; NextAt, when set, overrides the scheduler's next instant. Amount
// is the quantity moved by transfers such as withdrawals.
type Outcome struct {
	Earned int64
	Amount float64
	NextAt time.Time
}

// Func adapts a plain function to Executor.
type Func func(ctx context.Context, req Request) (Outcome, error)

func (f Func) Execute(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}

// --- HTTP client ---

// HTTPClient calls POST {base}/internal/bots/{agent}/actions/{action}.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a backend client.
func NewHTTPClient(cfg config.ExecutorConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Execute sends the action to the backend.
func (c *HTTPClient) Execute(ctx context.Context, req Request) (Outcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("executor: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/internal/bots/%s/actions/%s",
		c.baseURL, url.PathEscape(req.AgentID), url.PathEscape(req.Action))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("executor: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Outcome{}, fmt.Errorf("executor: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, fmt.Errorf("executor: read response: %w", err)
	}

	var apiResp actionResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &apiResp); err != nil && resp.StatusCode < 300 {
			return Outcome{}, fmt.Errorf("executor: unmarshal response: %w", err)
		}
	}

	switch {
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		return Outcome{}, fmt.Errorf("%w: %s", ErrRejected, apiResp.message(respBody))
	case resp.StatusCode >= 300:
		return Outcome{}, fmt.Errorf("executor: backend returned status %d: %s", resp.StatusCode, apiResp.message(respBody))
	case apiResp.OK != nil && !*apiResp.OK:
		return Outcome{}, fmt.Errorf("%w: %s", ErrRejected, apiResp.message(respBody))
	}

	out := Outcome{Earned: apiResp.Earned, Amount: apiResp.Amount}
	if apiResp.NextAt > 0 {
		out.NextAt = time.UnixMilli(apiResp.NextAt)
	}

	slog.Debug("executor: action done",
		slog.String("agent_id", req.AgentID),
		slog.String("action", req.Action),
		slog.Int("duration_ms", int(time.Since(start).Milliseconds())),
		slog.Int64("earned", out.Earned),
	)
	return out, nil
}

// --- wire types ---

type actionResponse struct {
	OK     *bool   `json:"ok"`
	Earned int64   `json:"earned"`
	Amount float64 `json:"amount"`
	NextAt int64   `json:"next_at"` // epoch ms
	Error  string  `json:"error"`
}

func (r actionResponse) message(raw []byte) string {
	if r.Error != "" {
		return r.Error
	}
	return truncate(string(raw), 200)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
