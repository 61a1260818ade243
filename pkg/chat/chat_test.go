package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renatogalera/chatstream/pkg/openai"
	"github.com/renatogalera/chatstream/pkg/plugin"
	"github.com/renatogalera/chatstream/pkg/stream"
)

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func contentBody(text string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%s}}]}\n\ndata: [DONE]\n\n", jsonString(text))
}

func functionCallBody(name, args string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"function_call\":{\"name\":%s,\"arguments\":\"\"}}}]}\n\n", jsonString(name)) +
		fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"function_call\":{\"arguments\":%s}}}]}\n\n", jsonString(args)) +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"function_call\"}]}\n\n" +
		"data: [DONE]\n\n"
}

// fakeStreamer replays one canned SSE body per request.
type fakeStreamer struct {
	bodies   []string
	requests []openai.ChatRequest
	err      error
}

func (f *fakeStreamer) Stream(ctx context.Context, req openai.ChatRequest, cb *stream.Callbacks, opts ...stream.Option) (*stream.Stream, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.bodies) == 0 {
		return nil, errors.New("unexpected request")
	}
	body := f.bodies[0]
	f.bodies = f.bodies[1:]
	resp := &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}
	return stream.New(ctx, resp, nil, cb, opts...), nil
}

type fakeCaller struct {
	endpoint, args string
	result         string
	err            error
}

func (f *fakeCaller) Call(_ context.Context, endpoint, arguments string) (string, error) {
	f.endpoint, f.args = endpoint, arguments
	return f.result, f.err
}

func registryWith(t *testing.T, name, endpoint string) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(openai.Function{Name: name}, endpoint))
	return r
}

func TestParseFunctionCall(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    FunctionCall
		ok      bool
	}{
		{name: "plain text", content: "hello", ok: false},
		{
			name:    "assembled call",
			content: `{"function_call": {"name": "weather", "arguments": "{\"city\": \"Lisbon\"}"}}`,
			want:    FunctionCall{Name: "weather", Arguments: `{"city": "Lisbon"}`},
			ok:      true,
		},
		{
			name:    "text before call",
			content: `Let me check.{"function_call": {"name": "weather", "arguments": ""}}`,
			want:    FunctionCall{Name: "weather"},
			ok:      true,
		},
		{name: "truncated call", content: `{"function_call": {"name": "weather", "argum`, ok: false},
		{name: "empty name", content: `{"function_call": {"name": "", "arguments": ""}}`, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseFunctionCall(tt.content)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSession_PlainReply(t *testing.T) {
	fs := &fakeStreamer{bodies: []string{contentBody("Hi there")}}
	var tokens []string
	s := NewSession(fs, SessionConfig{Model: "gpt-4o", SystemPrompt: "Be {MODEL}", MaxTokens: 100, Temperature: 0.5})

	reply, err := s.Send(context.Background(), "hello", &stream.Callbacks{
		OnToken: func(_ context.Context, tok string) error {
			tokens = append(tokens, tok)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)
	assert.Equal(t, []string{"Hi there"}, tokens)

	require.Len(t, fs.requests, 1)
	req := fs.requests[0]
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, 100, req.MaxTokens)
	assert.True(t, req.Stream)
	assert.Empty(t, req.Functions)
	assert.Equal(t, openai.Message{Role: openai.RoleSystem, Content: "Be gpt-4o"}, req.Messages[0])
	assert.Equal(t, openai.Message{Role: openai.RoleUser, Content: "hello"}, req.Messages[1])

	assert.Equal(t, []openai.Message{
		{Role: openai.RoleUser, Content: "hello"},
		{Role: openai.RoleAssistant, Content: "Hi there"},
	}, s.History())
	assert.NotEmpty(t, s.ID())

	s.Reset()
	assert.Empty(t, s.History())
}

func TestSession_FunctionCallFollowUp(t *testing.T) {
	fs := &fakeStreamer{bodies: []string{
		functionCallBody("weather", ` {"city": "Lisbon"}`),
		contentBody("It is sunny in Lisbon."),
	}}
	caller := &fakeCaller{result: "sunny"}
	var seen []FunctionCall
	s := NewSession(fs, SessionConfig{
		Model:    "gpt-4o",
		Registry: registryWith(t, "weather", "/weather"),
		Executor: caller,
		OnFunctionCall: func(fc FunctionCall, known bool) {
			assert.True(t, known)
			seen = append(seen, fc)
		},
	})

	reply, err := s.Send(context.Background(), "weather in Lisbon?", nil)
	require.NoError(t, err)
	assert.Equal(t, "It is sunny in Lisbon.", reply)

	assert.Equal(t, "/weather", caller.endpoint)
	assert.Equal(t, `{"city": "Lisbon"}`, caller.args)
	require.Len(t, seen, 1)
	assert.Equal(t, "weather", seen[0].Name)

	require.Len(t, fs.requests, 2)
	assert.Equal(t, "auto", fs.requests[0].FunctionCall)
	require.Len(t, fs.requests[0].Functions, 1)

	follow := fs.requests[1].Messages
	last := follow[len(follow)-1]
	assert.Equal(t, openai.Message{Role: openai.RoleFunction, Name: "weather", Content: "result: sunny"}, last)
	assert.Len(t, s.History(), 4)
}

func TestSession_UnknownFunctionApologises(t *testing.T) {
	fs := &fakeStreamer{bodies: []string{
		functionCallBody("nope", `{}`),
		contentBody("Sorry about that."),
	}}
	s := NewSession(fs, SessionConfig{Model: "m", Executor: &fakeCaller{}})

	reply, err := s.Send(context.Background(), "do it", nil)
	require.NoError(t, err)
	assert.Equal(t, "Sorry about that.", reply)

	msgs := fs.requests[1].Messages
	assert.Equal(t, openai.Message{
		Role:    openai.RoleAssistant,
		Content: "I'm sorry, I used the incorrect function name 'nope'. Let me try again:\n",
	}, msgs[len(msgs)-1])
}

func TestSession_FunctionCallLimit(t *testing.T) {
	fs := &fakeStreamer{bodies: []string{
		functionCallBody("weather", `{}`),
		functionCallBody("weather", `{}`),
	}}
	s := NewSession(fs, SessionConfig{
		Model:            "m",
		MaxFunctionCalls: 1,
		Registry:         registryWith(t, "weather", "/weather"),
		Executor:         &fakeCaller{result: "x"},
	})

	_, err := s.Send(context.Background(), "loop", nil)
	require.ErrorIs(t, err, ErrFunctionCallLimit)
	assert.Len(t, fs.requests, 2)
}

func TestSession_PluginError(t *testing.T) {
	boom := errors.New("plugin down")
	fs := &fakeStreamer{bodies: []string{functionCallBody("weather", `{}`)}}
	s := NewSession(fs, SessionConfig{
		Model:    "m",
		Registry: registryWith(t, "weather", "/weather"),
		Executor: &fakeCaller{err: boom},
	})

	_, err := s.Send(context.Background(), "hi", nil)
	require.ErrorIs(t, err, boom)
}

func TestSession_StreamError(t *testing.T) {
	upstream := &openai.StatusError{StatusCode: 500, Status: "500 Internal Server Error"}
	fs := &fakeStreamer{err: upstream}
	s := NewSession(fs, SessionConfig{Model: "m"})

	_, err := s.Send(context.Background(), "hi", nil)
	var se *openai.StatusError
	require.ErrorAs(t, err, &se)
	assert.Len(t, s.History(), 1, "only the user message is recorded")
}

func TestSession_CancelledKeepsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fs := &fakeStreamer{bodies: []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"part\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"ial\"}}]}\n\n",
	}}
	s := NewSession(fs, SessionConfig{Model: "m"})

	reply, err := s.Send(ctx, "hi", &stream.Callbacks{
		OnCompletion: func(context.Context, string) error {
			cancel()
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "partial", reply)
	assert.Len(t, fs.requests, 1)
}
