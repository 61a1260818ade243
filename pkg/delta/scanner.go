package delta

import "bytes"

type scanKind int

const (
	scanPartial scanKind = iota
	scanObject
	scanJunk
)

// objectScanner locates complete top-level JSON objects in a buffer that grows
// between calls. Braces inside string literals are not counted. Its position
// survives across calls so appended input is not rescanned; reset it whenever
// the buffer is trimmed from the front.
type objectScanner struct {
	pos      int
	start    int
	depth    int
	inString bool
	escaped  bool
}

func (s *objectScanner) reset() { *s = objectScanner{} }

// next reports one of:
//   - scanObject: buf[start:end] is a complete object
//   - scanJunk:   buf[:end] is text that cannot begin an object
//   - scanPartial: more input is needed
func (s *objectScanner) next(buf []byte) (kind scanKind, start, end int) {
	for ; s.pos < len(buf); s.pos++ {
		c := buf[s.pos]

		if s.depth == 0 {
			switch c {
			case ' ', '\t', '\r', '\n':
				continue
			case '{':
				s.start = s.pos
				s.depth = 1
				continue
			}
			end := bytes.IndexByte(buf[s.pos:], '{')
			if end < 0 {
				return scanJunk, 0, len(buf)
			}
			return scanJunk, 0, s.pos + end
		}

		if s.inString {
			switch {
			case s.escaped:
				s.escaped = false
			case c == '\\':
				s.escaped = true
			case c == '"':
				s.inString = false
			}
			continue
		}

		switch c {
		case '"':
			s.inString = true
		case '{':
			s.depth++
		case '}':
			s.depth--
			if s.depth == 0 {
				return scanObject, s.start, s.pos + 1
			}
		}
	}
	return scanPartial, 0, 0
}
