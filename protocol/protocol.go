// Package protocol rebuilds complete JSON-RPC messages from a text stream.
//
// A WebSocket peer is free to coalesce several replies into one frame or to
// split one reply across frames. Frames therefore carry zero, one or many
// logical messages, and possibly the head of a message whose tail arrives later:
//
//	frame 1: {"id":1,"result":"a"}{"id":2,
//	frame 2: "result":"b"}
//	         └────────────────────┘ └──────────────────┘
//	         complete, emitted      buffered, completed by frame 2
//
// Split finds value boundaries by tracking brace/bracket depth and string
// escape state, so payloads containing "}{" inside strings are never cut.
package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrReassemblyTimeout means a buffered fragment was not completed in time.
	ErrReassemblyTimeout = errors.New("protocol: fragment not completed before reassembly timeout")
	// ErrFrameTooLarge means a buffered fragment outgrew the configured limit.
	ErrFrameTooLarge = errors.New("protocol: fragment exceeds maximum frame size")
	// ErrMalformed means a complete value could not be decoded as a message.
	ErrMalformed = errors.New("protocol: malformed message")
)

// FrameError reports text that will never become a message.
type FrameError struct {
	Text string // The undecodable text, as received
	Err  error  // One of the sentinels above, possibly wrapping a decode error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, abbreviate(e.Text, 128))
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Split cuts text into complete top-level values and returns any trailing
// incomplete value as rest. Whitespace between values is dropped. Text at the
// top level that does not open an object or array is returned as its own
// frame (up to the next '{' or '['), so the caller can report it.
func Split(text string) (frames []string, rest string) {
	i, n := 0, len(text)
	for i < n {
		for i < n && isSpace(text[i]) {
			i++
		}
		if i == n {
			break
		}

		start := i
		if text[i] != '{' && text[i] != '[' {
			for i < n && text[i] != '{' && text[i] != '[' {
				i++
			}
			frames = append(frames, trimSpace(text[start:i]))
			continue
		}

		end, ok := scanValue(text, start)
		if !ok {
			return frames, text[start:]
		}
		frames = append(frames, text[start:end])
		i = end
	}
	return frames, ""
}

// scanValue returns the index just past the value opened at text[start], or
// false if the text ends first.
func scanValue(text string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func trimSpace(s string) string {
	for len(s) > 0 && isSpace(s[len(s)-1]) {
		s = s[:len(s)-1]
	}
	return s
}

func abbreviate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
