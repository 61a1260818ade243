package httpx

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DoneSentinel is the data payload OpenAI-style endpoints send as the last event.
const DoneSentinel = "[DONE]"

// DefaultMaxLineSize is the longest line a FrameDecoder accepts by default.
const DefaultMaxLineSize = 1024 * 1024

const readBufferSize = 64 * 1024

// ErrLineTooLong is wrapped by a FrameError when a single line exceeds the
// decoder's maximum line size.
var ErrLineTooLong = errors.New("event stream line exceeds maximum size")

// FrameError reports malformed event-stream input. It is sticky: once a
// decoder returns one, every later call returns the same error.
type FrameError struct {
	Line int
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("malformed event stream at line %d: %v", e.Line, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Frame is one dispatched server-sent event.
//   - Data: the event's data lines joined with "\n"
//   - Done: the payload was the terminal sentinel; Data is empty
type Frame struct {
	Data string
	Done bool
}

// FrameOption configures a FrameDecoder.
type FrameOption func(*FrameDecoder)

// WithMaxLineSize caps the length of a single line. Longer lines fail the
// stream with ErrLineTooLong.
func WithMaxLineSize(n int) FrameOption {
	return func(d *FrameDecoder) {
		if n > 0 {
			d.maxLine = n
		}
	}
}

// FrameDecoder turns a text/event-stream body into frames. Input may arrive in
// chunks of any size; a frame is produced only once its terminating blank line
// has been read (or the input ends).
type FrameDecoder struct {
	r       *bufio.Reader
	maxLine int

	line    int
	lineBuf []byte
	skipLF  bool

	data    strings.Builder
	hasData bool

	done bool
	err  error
}

// NewFrameDecoder returns a decoder reading from r.
func NewFrameDecoder(r io.Reader, opts ...FrameOption) *FrameDecoder {
	d := &FrameDecoder{
		r:       bufio.NewReaderSize(r, readBufferSize),
		maxLine: DefaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next frame. It returns io.EOF once the input is exhausted
// or after the sentinel frame has been returned.
func (d *FrameDecoder) Next() (Frame, error) {
	if d.err != nil {
		return Frame{}, d.err
	}
	if d.done {
		return Frame{}, io.EOF
	}
	for {
		line, err := d.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// A final event without its blank line is still delivered.
				if d.hasData {
					return d.dispatch(), nil
				}
				d.err = io.EOF
				return Frame{}, io.EOF
			}
			d.err = &FrameError{Line: d.line + 1, Err: err}
			return Frame{}, d.err
		}
		d.line++

		if line == "" {
			if !d.hasData {
				continue
			}
			return d.dispatch(), nil
		}
		d.field(line)
	}
}

func (d *FrameDecoder) field(line string) {
	if strings.HasPrefix(line, ":") {
		return
	}
	name, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")
	// event, id and retry carry nothing this client needs.
	if name != "data" {
		return
	}
	if d.hasData {
		d.data.WriteByte('\n')
	}
	d.data.WriteString(value)
	d.hasData = true
}

func (d *FrameDecoder) dispatch() Frame {
	payload := d.data.String()
	d.data.Reset()
	d.hasData = false

	if payload == DoneSentinel {
		d.done = true
		return Frame{Done: true}
	}
	return Frame{Data: payload}
}

// readLine reads one line terminated by "\n", "\r\n" or a lone "\r".
func (d *FrameDecoder) readLine() (string, error) {
	d.lineBuf = d.lineBuf[:0]
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(d.lineBuf) > 0 {
				return string(d.lineBuf), nil
			}
			return "", err
		}
		if d.skipLF {
			d.skipLF = false
			if b == '\n' {
				continue
			}
		}
		switch b {
		case '\n':
			return string(d.lineBuf), nil
		case '\r':
			d.skipLF = true
			return string(d.lineBuf), nil
		}
		if len(d.lineBuf) >= d.maxLine {
			return "", ErrLineTooLong
		}
		d.lineBuf = append(d.lineBuf, b)
	}
}
