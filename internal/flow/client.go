// Package flow calls the remote conversational flow that answers visitors.
package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/sv-explore/internal/domain"
	"github.com/tidwall/gjson"
)

// replyPath locates the assistant text in a run response.
const replyPath = "outputs.0.outputs.0.results.message.text"

// maxResponseBody caps how much of a flow response is read.
const maxResponseBody = 4 << 20

var (
	// ErrTimeout is returned when the flow does not answer within the client timeout.
	ErrTimeout = errors.New("flow: request timed out")

	// ErrInvalidResponse is returned when the reply text cannot be found in the response.
	ErrInvalidResponse = errors.New("flow: invalid response from server")
)

// StatusError reports a non-2xx answer from the flow.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("flow: unexpected status %d: %s", e.Code, e.Body)
}

// Request is one visitor turn sent to the flow.
type Request struct {
	Message   string
	User      string
	SessionID string
	History   domain.Transcript
}

// Runner produces an assistant reply for a visitor turn.
type Runner interface {
	Run(ctx context.Context, req Request) (string, error)
}

// Config configures the HTTP client.
type Config struct {
	BaseURL  string
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client talks to the flow's run endpoint over HTTP.
type Client struct {
	http   *http.Client
	runURL string
	apiKey string
	logger *slog.Logger
}

var _ Runner = (*Client)(nil)

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Endpoint == "" {
		return nil, fmt.Errorf("flow: base URL and endpoint are required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("flow: invalid base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		runURL: strings.TrimRight(cfg.BaseURL, "/") + "/api/v1/run/" + url.PathEscape(cfg.Endpoint),
		apiKey: cfg.APIKey,
		logger: logger,
	}, nil
}

type runPayload struct {
	InputValue          string `json:"input_value"`
	OutputType          string `json:"output_type"`
	InputType           string `json:"input_type"`
	ConversationHistory string `json:"conversation_history,omitempty"`
	User                string `json:"user"`
	SessionID           string `json:"session_id"`
}

// Run posts the turn and returns the assistant text.
func (c *Client) Run(ctx context.Context, req Request) (string, error) {
	payload := runPayload{
		InputValue: req.Message,
		OutputType: "chat",
		InputType:  "chat",
		User:       req.User,
		SessionID:  req.SessionID,
	}
	if len(req.History) > 0 {
		history, err := json.Marshal(req.History)
		if err != nil {
			return "", fmt.Errorf("flow: encode history: %w", err)
		}
		payload.ConversationHistory = string(history)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("flow: encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.runURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("flow: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("Flow request timed out", "session_id", req.SessionID, "elapsed", time.Since(start))
			return "", ErrTimeout
		}
		return "", fmt.Errorf("flow: send request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close flow response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if isTimeout(err) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("flow: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 512)}
	}

	reply := gjson.GetBytes(data, replyPath)
	if !reply.Exists() || reply.Type != gjson.String {
		c.logger.Warn("Flow response missing reply text", "session_id", req.SessionID, "bytes", len(data))
		return "", ErrInvalidResponse
	}

	c.logger.Debug("Flow replied", "session_id", req.SessionID, "elapsed", time.Since(start), "reply_length", len(reply.String()))
	return reply.String(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
