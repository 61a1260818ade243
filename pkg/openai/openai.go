// Package openai issues streaming chat completion requests against an
// OpenAI-compatible endpoint and hands the response to the stream assembler.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/renatogalera/chatstream/pkg/delta"
	"github.com/renatogalera/chatstream/pkg/httpx"
	"github.com/renatogalera/chatstream/pkg/stream"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	APIKeyEnv      = "OPENAI_API_KEY"

	chatCompletionsPath = "/chat/completions"
	maxErrorBody        = 1 << 20
)

// Client talks to the chat completions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     zerolog.Logger
	hooks      *delta.Hooks
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the default SSE-friendly HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger handed to every stream.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithParserHooks sets the diagnostic hooks of every stream's delta parser.
func WithParserHooks(h *Hooks) ClientOption {
	return func(c *Client) { c.hooks = h }
}

// Hooks is re-exported so callers configuring a Client need not import delta.
type Hooks = delta.Hooks

// NewClient returns a Client. An empty apiKey falls back to OPENAI_API_KEY.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	if strings.TrimSpace(apiKey) == "" {
		apiKey = os.Getenv(APIKeyEnv)
	}
	c := &Client{
		httpClient: httpx.NewDefaultClient(),
		baseURL:    DefaultBaseURL,
		apiKey:     strings.TrimSpace(apiKey),
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream sends req and returns the decoded token stream. Transport failures
// return *TransportError; a failed response returns *APIError or
// *StatusError. Each call gets its own parser, so concurrent streams never
// share reassembly state. Cancelling ctx aborts the request and completes
// the stream.
func (c *Client) Stream(ctx context.Context, req ChatRequest, cb *stream.Callbacks, opts ...stream.Option) (*stream.Stream, error) {
	req.Stream = true
	body, err := req.Body()
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	httpx.SetStreamHeaders(httpReq)

	c.logger.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("functions", len(req.Functions)).
		Msg("Sending chat completion request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			return nil, fmt.Errorf("failed to read error response: %w", err)
		}
		return nil, decodeError(resp.StatusCode, resp.Status, data)
	}

	parser := delta.New(delta.WithLogger(c.logger))
	if c.hooks != nil {
		parser = delta.New(delta.WithHooks(c.hooks))
	}
	opts = append([]stream.Option{stream.WithLogger(c.logger)}, opts...)
	return stream.New(ctx, resp, parser, cb, opts...), nil
}
