package plugin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const (
	defaultCallTimeout = 30 * time.Second
	maxResultBody      = 1 << 20
)

// Executor posts function-call arguments to a plugin server.
type Executor struct {
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewExecutor returns an Executor for the plugin server at baseURL. A nil
// client gets a default one with a per-call timeout.
func NewExecutor(baseURL string, client *http.Client) *Executor {
	if client == nil {
		client = &http.Client{Timeout: defaultCallTimeout}
	}
	return &Executor{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  log.Logger,
	}
}

// WithLogger returns a copy of e that logs to logger.
func (e *Executor) WithLogger(logger zerolog.Logger) *Executor {
	cp := *e
	cp.logger = logger
	return &cp
}

// Call POSTs arguments to endpoint and returns the "result" field of the
// JSON response, or "ok" when the response carries none.
func (e *Executor) Call(ctx context.Context, endpoint, arguments string) (string, error) {
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	url := e.baseURL + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(arguments))
	if err != nil {
		return "", fmt.Errorf("failed to create plugin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call plugin %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBody))
	if err != nil {
		return "", fmt.Errorf("failed to read plugin response: %w", err)
	}
	e.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Plugin call finished")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("plugin %s returned %s: %s", endpoint, resp.Status, strings.TrimSpace(string(body)))
	}

	if r := gjson.GetBytes(body, "result"); r.Exists() && r.Type != gjson.Null {
		if r.IsObject() || r.IsArray() {
			return r.Raw, nil
		}
		return r.String(), nil
	}
	return "ok", nil
}
