// Package mockserver is an OpenAI-compatible upstream that serves recorded
// or synthesized SSE streams. It backs the serve command and tests.
package mockserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	chunkTemplate    = `{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{}}]}`
	defaultChunkSize = 4
	maxRequestBody   = 4 << 20
)

// Server serves one canned stream for every chat completion request.
type Server struct {
	Router chi.Router

	capture []byte
	reply   string
	chunk   int
	delay   time.Duration
	apiKey  string
	logger  zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCapture serves data verbatim, one event at a time.
func WithCapture(data []byte) Option {
	return func(s *Server) { s.capture = data }
}

// WithReply synthesizes a content stream for text.
func WithReply(text string) Option {
	return func(s *Server) { s.reply = text }
}

// WithChunkSize sets how many runes each synthesized chunk carries.
func WithChunkSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.chunk = n
		}
	}
}

// WithDelay pauses between events.
func WithDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// WithAPIKey requires "Authorization: Bearer <key>" on completion requests.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithLogger sets the logger for request and lifecycle lines.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New builds the server and its routes.
func New(opts ...Option) *Server {
	s := &Server{chunk: defaultChunkSize, logger: log.Logger}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Head("/healthz", s.healthz)
	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(pr chi.Router) {
			pr.Use(s.requireKey)
			pr.Get("/chat/completions", s.completions)
			pr.Post("/chat/completions", s.completions)
		})
	})
	s.Router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.logger.Info().Str("addr", addr).Msg("Mock upstream listening")
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down mock upstream: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+s.apiKey {
			writeError(w, http.StatusUnauthorized, "Incorrect API key provided", "invalid_request_error", "invalid_api_key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) completions(w http.ResponseWriter, r *http.Request) {
	model := "mock"
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil || !gjson.ValidBytes(body) {
			writeError(w, http.StatusBadRequest, "Request body is not valid JSON", "invalid_request_error", "")
			return
		}
		if st := gjson.GetBytes(body, "stream"); st.Exists() && !st.Bool() {
			writeError(w, http.StatusBadRequest, "Only streaming requests are supported", "invalid_request_error", "")
			return
		}
		if m := gjson.GetBytes(body, "model").String(); m != "" {
			model = m
		}
	}

	payload := s.capture
	if payload == nil {
		var err error
		payload, err = Synthesize(model, s.reply, s.chunk)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error(), "server_error", "")
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	events := splitEvents(payload)
	s.logger.Debug().Str("model", model).Int("events", len(events)).Msg("Serving stream")
	for i, ev := range events {
		if i > 0 && s.delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.delay):
			}
		}
		if _, err := w.Write(ev); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// splitEvents cuts data after every blank line, keeping the separators.
func splitEvents(data []byte) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		i := bytes.Index(data, []byte("\n\n"))
		if i < 0 {
			out = append(out, data)
			break
		}
		out = append(out, data[:i+2])
		data = data[i+2:]
	}
	return out
}

func writeError(w http.ResponseWriter, status int, message, typ, code string) {
	body := []byte(`{"error":{}}`)
	body, _ = sjson.SetBytes(body, "error.message", message)
	body, _ = sjson.SetBytes(body, "error.type", typ)
	body, _ = sjson.SetRawBytes(body, "error.param", []byte("null"))
	if code == "" {
		body, _ = sjson.SetRawBytes(body, "error.code", []byte("null"))
	} else {
		body, _ = sjson.SetBytes(body, "error.code", code)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Synthesize renders text as a content stream of chunkSize-rune deltas,
// followed by a stop chunk and the [DONE] sentinel.
func Synthesize(model, text string, chunkSize int) ([]byte, error) {
	var b bytes.Buffer
	for _, piece := range splitRunes(text, chunkSize) {
		if err := writeChunk(&b, model, map[string]any{"choices.0.delta.content": piece}); err != nil {
			return nil, err
		}
	}
	if err := writeChunk(&b, model, map[string]any{"choices.0.finish_reason": "stop"}); err != nil {
		return nil, err
	}
	b.WriteString("data: [DONE]\n\n")
	return b.Bytes(), nil
}

// SynthesizeFunctionCall renders a function call whose arguments arrive in
// chunkSize-rune fragments.
func SynthesizeFunctionCall(model, name, arguments string, chunkSize int) ([]byte, error) {
	var b bytes.Buffer
	if err := writeChunk(&b, model, map[string]any{
		"choices.0.delta.role":                    "assistant",
		"choices.0.delta.function_call.name":      name,
		"choices.0.delta.function_call.arguments": "",
	}); err != nil {
		return nil, err
	}
	for _, piece := range splitRunes(arguments, chunkSize) {
		if err := writeChunk(&b, model, map[string]any{"choices.0.delta.function_call.arguments": piece}); err != nil {
			return nil, err
		}
	}
	if err := writeChunk(&b, model, map[string]any{"choices.0.finish_reason": "function_call"}); err != nil {
		return nil, err
	}
	b.WriteString("data: [DONE]\n\n")
	return b.Bytes(), nil
}

func writeChunk(b *bytes.Buffer, model string, fields map[string]any) error {
	chunk := []byte(chunkTemplate)
	var err error
	if chunk, err = sjson.SetBytes(chunk, "model", model); err != nil {
		return fmt.Errorf("failed to build chunk: %w", err)
	}
	for _, path := range sortedKeys(fields) {
		if chunk, err = sjson.SetBytes(chunk, path, fields[path]); err != nil {
			return fmt.Errorf("failed to build chunk: %w", err)
		}
	}
	b.WriteString("data: ")
	b.Write(chunk)
	b.WriteString("\n\n")
	return nil
}

func splitRunes(s string, n int) []string {
	if n <= 0 {
		n = defaultChunkSize
	}
	var out []string
	runes := []rune(s)
	for len(runes) > 0 {
		k := min(n, len(runes))
		out = append(out, string(runes[:k]))
		runes = runes[k:]
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
