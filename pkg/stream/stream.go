// Package stream assembles a chat-completion HTTP response into a token
// stream that can be consumed by callbacks, by Recv, or as an io.Reader.
package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/renatogalera/chatstream/pkg/delta"
	"github.com/renatogalera/chatstream/pkg/httpx"
)

const (
	defaultBufferSize = 64
	errorChunkSize    = 32 << 10
)

// State is the lifecycle position of a Stream.
type State int32

const (
	NotStarted State = iota
	Streaming
	Completed
	Errored
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Parser converts frame payloads into tokens. Flush is called once when the
// input ends and may return a final token.
type Parser interface {
	Parse(payload string) (string, error)
	Flush() string
}

// ParserFunc adapts a stateless function to Parser.
type ParserFunc func(payload string) (string, error)

func (f ParserFunc) Parse(payload string) (string, error) { return f(payload) }

func (f ParserFunc) Flush() string { return "" }

type options struct {
	logger     zerolog.Logger
	bufferSize int
	frameOpts  []httpx.FrameOption
	id         string
}

// Option configures a Stream.
type Option func(*options)

// WithLogger sets the logger; stream lines carry a "stream" id field.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBufferSize sets how many tokens may wait for a reader before the
// producer blocks.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.bufferSize = n
		}
	}
}

// WithFrameOptions passes options to the underlying frame decoder.
func WithFrameOptions(opts ...httpx.FrameOption) Option {
	return func(o *options) { o.frameOpts = append(o.frameOpts, opts...) }
}

// WithID overrides the generated stream id.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// Stream is one decoded response. Tokens are produced by a single goroutine
// and delivered first to the pull side, then to the callbacks. A Stream must
// be drained (Recv, Read, Text or Wait) or closed, otherwise the producer
// blocks once the buffer fills.
//
// Recv, Read, Text and Wait are meant for a single reader goroutine.
type Stream struct {
	id     string
	logger zerolog.Logger
	cancel context.CancelFunc

	tokens chan string
	done   chan struct{}
	state  atomic.Int32
	err    error

	pending []byte
}

// New starts decoding resp. p may be nil, in which case a fresh delta.Parser
// is used. Cancelling ctx stops the stream as a normal completion.
//
// A non-2xx response produces a stream that fails with *ResponseError without
// invoking any callbacks. Its text is the first chunk of the body. A 2xx
// response without a body produces an empty, completed stream.
func New(ctx context.Context, resp *http.Response, p Parser, cb *Callbacks, opts ...Option) *Stream {
	o := options{logger: log.Logger, bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		id:     o.id,
		logger: o.logger.With().Str("stream", o.id).Logger(),
		cancel: cancel,
		tokens: make(chan string, o.bufferSize),
		done:   make(chan struct{}),
	}

	switch {
	case resp == nil:
		s.finish(Errored, &ResponseError{})
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		go s.reject(ctx, resp)
	case resp.Body == nil || resp.Body == http.NoBody:
		s.finish(Completed, nil)
	default:
		if p == nil {
			p = delta.New(delta.WithLogger(s.logger))
		}
		go s.run(ctx, resp.Body, p, cb, o.frameOpts)
	}
	return s
}

// ID returns the stream id used in log lines.
func (s *Stream) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Stream) State() State { return State(s.state.Load()) }

// Done is closed once the stream has completed or failed.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns the terminal error of an errored stream, or nil.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Recv returns the next token. It returns io.EOF after a clean completion and
// the terminal error after a failure.
func (s *Stream) Recv() (string, error) {
	tok, ok := <-s.tokens
	if ok {
		return tok, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

// Read implements io.Reader over the UTF-8 bytes of the tokens.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(s.pending) == 0 {
		tok, err := s.Recv()
		if err != nil {
			return 0, err
		}
		s.pending = append(s.pending[:0], tok...)
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Text drains the stream and returns everything it produced. On failure the
// partial text is returned with the error.
func (s *Stream) Text() (string, error) {
	var b strings.Builder
	for {
		tok, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(tok)
	}
}

// Wait discards tokens until the stream ends and returns its terminal error.
// Use it when only the callbacks are of interest.
func (s *Stream) Wait() error {
	for range s.tokens {
	}
	return s.err
}

// Close aborts the stream and waits for the producer to stop.
func (s *Stream) Close() error {
	s.cancel()
	for range s.tokens {
	}
	return nil
}

func (s *Stream) reject(ctx context.Context, resp *http.Response) {
	e := &ResponseError{StatusCode: resp.StatusCode}
	if resp.Body != nil && resp.Body != http.NoBody {
		defer resp.Body.Close()
		stop := context.AfterFunc(ctx, func() { _ = resp.Body.Close() })
		defer stop()
		e.Body = firstChunk(resp.Body)
	}
	s.finish(Errored, e)
}

// firstChunk returns the text of the first read that yields data. An error
// body may never end, so nothing past that read is waited for.
func firstChunk(r io.Reader) string {
	buf := make([]byte, errorChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			return string(buf[:n])
		}
		if err != nil {
			return ""
		}
	}
}

func (s *Stream) run(ctx context.Context, body io.ReadCloser, p Parser, cb *Callbacks, frameOpts []httpx.FrameOption) {
	defer body.Close()
	// Closing the body unblocks a read that is waiting on the network.
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	callbacks := &callbackSink{cb: cb}
	sinks := fanout{channelSink{ch: s.tokens}, callbacks}

	if err := callbacks.start(ctx); err != nil {
		s.finish(Errored, err)
		return
	}

	state, err := s.pump(ctx, httpx.NewFrameDecoder(body, frameOpts...), p, sinks)
	if state == Completed {
		fctx := ctx
		if ctx.Err() != nil {
			fctx = context.WithoutCancel(ctx)
		}
		if ferr := sinks.finish(fctx); ferr != nil {
			state, err = Errored, ferr
		}
	}
	s.finish(state, err)
}

func (s *Stream) pump(ctx context.Context, dec *httpx.FrameDecoder, p Parser, sinks fanout) (State, error) {
	for {
		frame, err := dec.Next()
		if ctx.Err() != nil {
			s.logger.Debug().Msg("Stream cancelled by caller")
			return Completed, nil
		}
		if errors.Is(err, io.EOF) {
			frame, err = httpx.Frame{Done: true}, nil
		}
		if err != nil {
			return Errored, err
		}
		s.state.CompareAndSwap(int32(NotStarted), int32(Streaming))

		var token string
		if frame.Done {
			token = p.Flush()
		} else if token, err = p.Parse(frame.Data); err != nil {
			return Errored, err
		}

		if token != "" {
			if err := sinks.deliver(ctx, token); err != nil {
				if ctx.Err() != nil {
					return Completed, nil
				}
				return Errored, err
			}
		}
		if frame.Done {
			return Completed, nil
		}
	}
}

func (s *Stream) finish(state State, err error) {
	s.err = err
	s.state.Store(int32(state))
	close(s.tokens)
	close(s.done)
	s.cancel()

	if err != nil {
		s.logger.Debug().Err(err).Str("state", state.String()).Msg("Stream ended")
		return
	}
	s.logger.Debug().Str("state", state.String()).Msg("Stream ended")
}
