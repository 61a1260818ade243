package httpx

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectFrames(t *testing.T, r io.Reader, opts ...FrameOption) ([]Frame, error) {
	t.Helper()
	dec := NewFrameDecoder(r, opts...)
	var frames []Frame
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}

func TestFrameDecoder(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Frame
	}{
		{
			name:  "single event",
			input: "data: hello\n\n",
			want:  []Frame{{Data: "hello"}},
		},
		{
			name:  "no space after colon",
			input: "data:hello\n\n",
			want:  []Frame{{Data: "hello"}},
		},
		{
			name:  "multi-line data joined",
			input: "data: a\ndata: b\n\n",
			want:  []Frame{{Data: "a\nb"}},
		},
		{
			name:  "crlf and lone cr",
			input: "data: one\r\n\r\ndata: two\r\rdata: three\n\n",
			want:  []Frame{{Data: "one"}, {Data: "two"}, {Data: "three"}},
		},
		{
			name:  "comments and other fields ignored",
			input: ": keep-alive\nevent: message\nid: 7\nretry: 100\ndata: x\n\n",
			want:  []Frame{{Data: "x"}},
		},
		{
			name:  "event without data dispatches nothing",
			input: "event: ping\n\ndata: y\n\n",
			want:  []Frame{{Data: "y"}},
		},
		{
			name:  "trailing event without blank line",
			input: "data: last",
			want:  []Frame{{Data: "last"}},
		},
		{
			name:  "sentinel stops decoding",
			input: "data: a\n\ndata: [DONE]\n\ndata: after\n\n",
			want:  []Frame{{Data: "a"}, {Done: true}},
		},
		{
			name:  "padded sentinel is ordinary data",
			input: "data:  [DONE] \n\ndata: [DONE]\n\n",
			want:  []Frame{{Data: " [DONE] "}, {Done: true}},
		},
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := collectFrames(t, strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFrameDecoder_SplitAcrossChunks(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\r\n\r\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"!\"}}]}\n\n" +
		"data: [DONE]\n\n"

	got, err := collectFrames(t, iotest.OneByteReader(strings.NewReader(input)))
	require.NoError(t, err)
	assert.Equal(t, []Frame{
		{Data: `{"choices":[{"delta":{"content":"Hello"}}]}`},
		{Data: `{"choices":[{"delta":{"content":"!"}}]}`},
		{Done: true},
	}, got)
}

func TestFrameDecoder_SentinelIsTerminal(t *testing.T) {
	dec := NewFrameDecoder(strings.NewReader("data: [DONE]\n\n"))

	f, err := dec.Next()
	require.NoError(t, err)
	assert.True(t, f.Done)

	for i := 0; i < 3; i++ {
		_, err = dec.Next()
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestFrameDecoder_LineTooLong(t *testing.T) {
	input := "data: ok\n\ndata: " + strings.Repeat("x", 64) + "\n\n"

	got, err := collectFrames(t, strings.NewReader(input), WithMaxLineSize(32))
	require.Error(t, err)
	assert.Equal(t, []Frame{{Data: "ok"}}, got)

	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, ErrLineTooLong)
	assert.Equal(t, 3, fe.Line)
}

func TestFrameDecoder_ReadErrorIsSticky(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: a\n\n"), iotest.ErrReader(boom))
	dec := NewFrameDecoder(r)

	f, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", f.Data)

	_, err = dec.Next()
	require.ErrorIs(t, err, boom)
	_, again := dec.Next()
	assert.Equal(t, err, again)
}
