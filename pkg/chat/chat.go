// Package chat runs a conversation over the streaming client, including the
// function-call follow-up loop against a plugin server.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/renatogalera/chatstream/pkg/openai"
	"github.com/renatogalera/chatstream/pkg/plugin"
	"github.com/renatogalera/chatstream/pkg/prompt"
	"github.com/renatogalera/chatstream/pkg/stream"
)

const (
	DefaultMaxFunctionCalls = 3

	functionCallMarker = `{"function_call":`
)

// ErrFunctionCallLimit is returned when the model keeps calling functions
// after the configured number of follow-ups.
var ErrFunctionCallLimit = errors.New("function call limit reached")

// Streamer opens a chat completion stream. *openai.Client satisfies it.
type Streamer interface {
	Stream(ctx context.Context, req openai.ChatRequest, cb *stream.Callbacks, opts ...stream.Option) (*stream.Stream, error)
}

// Caller executes a plugin call. *plugin.Executor satisfies it.
type Caller interface {
	Call(ctx context.Context, endpoint, arguments string) (string, error)
}

// FunctionCall is a function invocation requested by the model.
type FunctionCall struct {
	Name      string
	Arguments string
}

// SessionConfig holds the per-session request settings.
type SessionConfig struct {
	Model            string
	SystemPrompt     string
	MaxTokens        int
	Temperature      float64
	MaxFunctionCalls int
	Registry         *plugin.Registry
	Executor         Caller
	Logger           *zerolog.Logger

	// OnFunctionCall, when set, is told about each call before it runs.
	OnFunctionCall func(fc FunctionCall, known bool)
}

// Session is one conversation. It is safe for use by one Send at a time.
type Session struct {
	id       string
	streamer Streamer
	cfg      SessionConfig
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	history []openai.Message
}

// NewSession returns a Session that streams replies through s.
func NewSession(s Streamer, cfg SessionConfig) *Session {
	if cfg.MaxFunctionCalls <= 0 {
		cfg.MaxFunctionCalls = DefaultMaxFunctionCalls
	}
	if cfg.Registry == nil {
		cfg.Registry = plugin.NewRegistry()
	}
	id := uuid.NewString()
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Session{
		id:       id,
		streamer: s,
		cfg:      cfg,
		logger:   logger.With().Str("session", id).Logger(),
		now:      time.Now,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// History returns a copy of the conversation so far, without the system
// prompt.
func (s *Session) History() []openai.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]openai.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Reset clears the conversation.
func (s *Session) Reset() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

func (s *Session) append(msgs ...openai.Message) {
	s.mu.Lock()
	s.history = append(s.history, msgs...)
	s.mu.Unlock()
}

// Send adds a user message and streams the reply, passing cb to every
// stream it opens. When the reply is a function call the call is executed
// and the model is asked again with the result, up to MaxFunctionCalls
// times. The text of the last reply is returned. If ctx is cancelled the
// partial reply is kept and returned without an error.
func (s *Session) Send(ctx context.Context, text string, cb *stream.Callbacks) (string, error) {
	s.append(openai.Message{Role: openai.RoleUser, Content: text})

	for calls := 0; ; calls++ {
		reply, err := s.fetch(ctx, cb)
		if reply != "" {
			s.append(openai.Message{Role: openai.RoleAssistant, Content: reply})
		}
		if err != nil {
			return reply, err
		}
		if ctx.Err() != nil {
			s.logger.Debug().Msg("Reply cancelled")
			return reply, nil
		}

		fc, ok := ParseFunctionCall(reply)
		if !ok {
			return reply, nil
		}
		if calls >= s.cfg.MaxFunctionCalls {
			return reply, fmt.Errorf("%w (%d)", ErrFunctionCallLimit, s.cfg.MaxFunctionCalls)
		}
		if err := s.runFunction(ctx, fc); err != nil {
			return reply, err
		}
	}
}

func (s *Session) runFunction(ctx context.Context, fc FunctionCall) error {
	endpoint, known := s.cfg.Registry.Endpoint(fc.Name)
	if s.cfg.OnFunctionCall != nil {
		s.cfg.OnFunctionCall(fc, known)
	}
	if !known {
		s.logger.Warn().Str("function", fc.Name).Msg("Model called an unknown function")
		s.append(openai.Message{Role: openai.RoleAssistant, Content: prompt.FunctionApology(fc.Name)})
		return nil
	}
	if s.cfg.Executor == nil {
		return fmt.Errorf("no plugin server configured for function %q", fc.Name)
	}

	s.logger.Info().Str("function", fc.Name).Str("endpoint", endpoint).Msg("Calling plugin")
	result, err := s.cfg.Executor.Call(ctx, endpoint, fc.Arguments)
	if err != nil {
		return fmt.Errorf("failed to run function %s: %w", fc.Name, err)
	}
	s.append(openai.Message{Role: openai.RoleFunction, Name: fc.Name, Content: prompt.FunctionResult(result)})
	return nil
}

func (s *Session) fetch(ctx context.Context, cb *stream.Callbacks) (string, error) {
	req := s.request()
	st, err := s.streamer.Stream(ctx, req, cb, stream.WithLogger(s.logger))
	if err != nil {
		return "", err
	}
	return st.Text()
}

func (s *Session) request() openai.ChatRequest {
	msgs := []openai.Message{{
		Role:    openai.RoleSystem,
		Content: prompt.BuildSystemPrompt(s.cfg.SystemPrompt, s.cfg.Model, s.now()),
	}}
	msgs = append(msgs, s.History()...)

	req := openai.ChatRequest{
		Model:       s.cfg.Model,
		Messages:    msgs,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		Stream:      true,
	}
	if fns := s.cfg.Registry.Functions(); len(fns) > 0 {
		req.Functions = fns
		req.FunctionCall = "auto"
	}
	return req
}

// ParseFunctionCall extracts a function call from a completed assistant
// message. The call may be preceded by ordinary text.
func ParseFunctionCall(content string) (FunctionCall, bool) {
	idx := strings.Index(content, functionCallMarker)
	if idx < 0 {
		return FunctionCall{}, false
	}
	raw := content[idx:]
	if !gjson.Valid(raw) {
		return FunctionCall{}, false
	}
	fc := gjson.Get(raw, "function_call")
	name := strings.TrimSpace(fc.Get("name").String())
	if name == "" {
		return FunctionCall{}, false
	}
	return FunctionCall{Name: name, Arguments: fc.Get("arguments").String()}, true
}
