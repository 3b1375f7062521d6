// Package llm calls the remote text-generation service. The Client
// interface is the narrow seam the engine sees; HTTPClient implements it
// against any OpenAI-style chat-completions endpoint, and tests substitute
// a fake without a server.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Arachne/pkg/errors"
)

// Client sends one prompt to the remote service and returns the raw reply
// text. Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// defaultTimeout bounds a request when the caller passes no timeout.
const defaultTimeout = 180 * time.Second

// errorBodyLimit caps how much of an error response is read back for the
// failure message.
const errorBodyLimit = 2048

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// HTTPClient calls a chat-completions endpoint with bearer authentication.
type HTTPClient struct {
	endpoint string
	apiKey   string
	model    string
	timeout  time.Duration
	httpc    *http.Client
	logger   *zap.Logger
}

// NewHTTPClient creates a client for one endpoint/model pair. timeout
// bounds each request; non-positive values fall back to 180s.
func NewHTTPClient(endpoint, apiKey, model string, timeout time.Duration, logger *zap.Logger) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, errors.New("endpoint cannot be empty")
	}
	if apiKey == "" {
		return nil, errors.New("api key cannot be empty")
	}
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		timeout:  timeout,
		httpc:    &http.Client{},
		logger:   logger,
	}, nil
}

// Complete sends the prompt as a single user message and returns the first
// choice's content. Transport failures, non-2xx statuses, undecodable
// bodies, and empty choice lists all surface as NETWORK errors so the
// retry policy treats them uniformly.
func (c *HTTPClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", sdkerrors.NewNetworkError("failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", sdkerrors.NewNetworkError("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", sdkerrors.NewNetworkError("request failed", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		c.logger.Debug("Remote service returned error status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet))
		return "", sdkerrors.NewNetworkError(fmt.Sprintf("service returned status %d", resp.StatusCode), nil)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", sdkerrors.NewNetworkError("failed to decode reply", err)
	}
	if len(parsed.Choices) == 0 {
		return "", sdkerrors.NewNetworkError("reply contains no choices", nil)
	}
	return parsed.Choices[0].Message.Content, nil
}
