package stream

import (
	"context"
	"strings"
)

// Callbacks are optional lifecycle notifications for a stream. A callback
// that blocks holds up the stream until it returns; a callback that returns an
// error aborts the stream with a *CallbackError.
type Callbacks struct {
	OnStart      func(ctx context.Context) error
	OnToken      func(ctx context.Context, token string) error
	OnCompletion func(ctx context.Context, completion string) error
}

// sink is one consumer of the token sequence produced by a stream.
type sink interface {
	deliver(ctx context.Context, token string) error
	finish(ctx context.Context) error
}

// fanout hands every token to each sink in order.
type fanout []sink

func (f fanout) deliver(ctx context.Context, token string) error {
	for _, s := range f {
		if err := s.deliver(ctx, token); err != nil {
			return err
		}
	}
	return nil
}

func (f fanout) finish(ctx context.Context) error {
	for _, s := range f {
		if err := s.finish(ctx); err != nil {
			return err
		}
	}
	return nil
}

// channelSink feeds the pull side of a stream.
type channelSink struct {
	ch chan<- string
}

func (c channelSink) deliver(ctx context.Context, token string) error {
	select {
	case c.ch <- token:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (channelSink) finish(context.Context) error { return nil }

// callbackSink runs the caller's callbacks and keeps the running completion.
type callbackSink struct {
	cb         *Callbacks
	completion strings.Builder
}

func (c *callbackSink) start(ctx context.Context) error {
	if c.cb == nil || c.cb.OnStart == nil {
		return nil
	}
	if err := c.cb.OnStart(ctx); err != nil {
		return &CallbackError{Hook: "onStart", Err: err}
	}
	return nil
}

func (c *callbackSink) deliver(ctx context.Context, token string) error {
	c.completion.WriteString(token)
	if c.cb == nil || c.cb.OnToken == nil {
		return nil
	}
	if err := c.cb.OnToken(ctx, token); err != nil {
		return &CallbackError{Hook: "onToken", Err: err}
	}
	return nil
}

func (c *callbackSink) finish(ctx context.Context) error {
	if c.cb == nil || c.cb.OnCompletion == nil {
		return nil
	}
	if err := c.cb.OnCompletion(ctx, c.completion.String()); err != nil {
		return &CallbackError{Hook: "onCompletion", Err: err}
	}
	return nil
}
