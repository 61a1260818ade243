// Package delta turns chat-completion stream payloads into output tokens,
// reassembling streamed function calls into a single JSON document.
package delta

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// DefaultMaxBuffer bounds how much unparsed payload text a Parser keeps while
// waiting for an object to complete.
const DefaultMaxBuffer = 1024 * 1024

const (
	functionCallOpen  = `{"function_call": {"name": "`
	functionCallArgs  = `", "arguments": "`
	functionCallClose = `"}}`

	finishFunctionCall = "function_call"
)

var (
	// ErrMalformedPayload marks payload text that is not a JSON object.
	ErrMalformedPayload = errors.New("malformed stream payload")
	// ErrIncompletePayload marks buffered text still unterminated when the
	// stream ended.
	ErrIncompletePayload = errors.New("incomplete stream payload at end of stream")
	// ErrBufferOverflow marks buffered text dropped for exceeding the limit.
	ErrBufferOverflow = errors.New("stream payload exceeds buffer limit")
)

// Option configures a Parser.
type Option func(*Parser)

// WithHooks replaces the diagnostic hooks. A nil value silences diagnostics.
func WithHooks(h *Hooks) Option {
	return func(p *Parser) { p.hooks = h }
}

// WithLogger reports skipped payloads on logger instead of the global logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Parser) { p.hooks = LogHooks(logger) }
}

// WithMaxBuffer sets the buffered-text limit.
func WithMaxBuffer(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxBuf = n
		}
	}
}

// Parser holds the reassembly state of one stream. It is not safe for
// concurrent use; give every stream its own Parser.
type Parser struct {
	buf    []byte
	scan   objectScanner
	asm    assembly
	maxBuf int
	hooks  *Hooks
}

// New returns a Parser ready for the first payload of a stream.
func New(opts ...Option) *Parser {
	p := &Parser{
		asm:    assembly{isFirst: true},
		maxBuf: DefaultMaxBuffer,
		hooks:  LogHooks(log.Logger),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse appends payload to the buffered text and returns the tokens produced
// by every object it completes, in order. Text that cannot be parsed is
// reported to the hooks and dropped; the error result is always nil.
func (p *Parser) Parse(payload string) (string, error) {
	p.buf = append(p.buf, payload...)

	var out strings.Builder
	for {
		kind, start, end := p.scan.next(p.buf)
		switch kind {
		case scanObject:
			out.WriteString(p.process(p.buf[start:end]))
			p.drop(end)
		case scanJunk:
			p.hooks.SafeMalformed(strings.TrimSpace(string(p.buf[:end])), ErrMalformedPayload)
			p.drop(end)
		default:
			if len(p.buf) > p.maxBuf {
				p.hooks.SafeMalformed(string(p.buf), ErrBufferOverflow)
				p.drop(len(p.buf))
			}
			return out.String(), nil
		}
	}
}

// Flush processes whatever is left in the buffer and resets it. Called once
// the stream has ended.
func (p *Parser) Flush() string {
	out, _ := p.Parse("")
	rest := strings.TrimSpace(string(p.buf))
	p.drop(len(p.buf))
	if rest == "" {
		return out
	}
	if !gjson.Valid(rest) {
		p.hooks.SafeMalformed(rest, ErrIncompletePayload)
		return out
	}
	return out + p.process([]byte(rest))
}

// Reset discards buffered text and function-call state.
func (p *Parser) Reset() {
	p.drop(len(p.buf))
	p.asm = assembly{isFirst: true}
}

func (p *Parser) drop(n int) {
	p.buf = append(p.buf[:0], p.buf[n:]...)
	p.scan.reset()
}

func (p *Parser) process(obj []byte) string {
	if !gjson.ValidBytes(obj) {
		p.hooks.SafeMalformed(string(obj), ErrMalformedPayload)
		return ""
	}
	return p.asm.emit(gjson.ParseBytes(obj))
}

// ParsePayload parses a single complete payload with fresh function-call
// state. It returns ErrMalformedPayload when data is not valid JSON and an
// empty token when the JSON lacks the expected choices shape.
func ParsePayload(data string) (string, error) {
	if !gjson.Valid(data) {
		return "", ErrMalformedPayload
	}
	asm := assembly{isFirst: true}
	return asm.emit(gjson.Parse(data)), nil
}

// assembly tracks whether the next argument fragment is the first one of the
// function call being streamed.
type assembly struct {
	isFirst bool
}

func (a *assembly) emit(doc gjson.Result) string {
	choice := doc.Get("choices.0")
	call := choice.Get("delta.function_call")

	if name := stringField(call, "name"); name != "" {
		a.isFirst = true
		return functionCallOpen + name + functionCallArgs
	}
	if args := stringField(call, "arguments"); args != "" {
		if a.isFirst {
			args = strings.TrimSpace(args)
		}
		a.isFirst = false
		return escapeJSONString(args)
	}
	if stringField(choice, "finish_reason") == finishFunctionCall {
		a.isFirst = true
		return functionCallClose
	}
	if content := stringField(choice, "delta.content"); content != "" {
		a.isFirst = true
		return content
	}
	return ""
}

func stringField(r gjson.Result, path string) string {
	v := r.Get(path)
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}

// escapeJSONString returns s escaped for use between the quotes of a JSON
// string literal.
func escapeJSONString(s string) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return ""
	}
	quoted := strings.TrimSuffix(b.String(), "\n")
	return quoted[1 : len(quoted)-1]
}
