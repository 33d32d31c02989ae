// Package wire extracts the routing header of a gateway frame (op, sequence,
// event type) without parsing the event body. Dispatch bodies can be hundreds
// of kilobytes (GUILD_CREATE, voice state sync); the dispatcher and the
// per-client sequence rewrite only ever need the three top-level header keys.
package wire

import (
	"encoding/json"
	"errors"
)

var (
	// ErrMalformedFrame is returned when the frame is not a JSON object.
	ErrMalformedFrame = errors.New("wire: frame is not a JSON object")

	// ErrMissingOp is returned when the frame carries no op field.
	ErrMissingOp = errors.New("wire: frame has no op")
)

// SequenceInfo is the upstream sequence number together with the byte span
// of its value inside the frame, so a client can splice in its own sequence
// without re-serializing the payload.
type SequenceInfo struct {
	Sequence int64
	Start    int
	End      int
}

// EventTypeInfo is the dispatch event name of the frame.
type EventTypeInfo struct {
	EventType string
}

// Frame is the scanned header of a gateway frame. Sequence and EventType are
// nil when the corresponding key is absent or null.
type Frame struct {
	Op        int
	Sequence  *SequenceInfo
	EventType *EventTypeInfo
}

// Scan reads the top-level keys of a frame in whatever order they appear.
// The d value is skipped, not parsed.
func Scan(p []byte) (Frame, error) {
	i := skipSpace(p, 0)
	if i >= len(p) || p[i] != '{' {
		return Frame{}, ErrMalformedFrame
	}
	i++

	var f Frame
	var haveOp bool

	for {
		i = skipSpace(p, i)
		if i >= len(p) {
			return Frame{}, ErrMalformedFrame
		}
		if p[i] == '}' {
			break
		}
		if p[i] == ',' {
			i++
			continue
		}
		if p[i] != '"' {
			return Frame{}, ErrMalformedFrame
		}

		key, next, ok := scanString(p, i)
		if !ok {
			return Frame{}, ErrMalformedFrame
		}
		i = skipSpace(p, next)
		if i >= len(p) || p[i] != ':' {
			return Frame{}, ErrMalformedFrame
		}
		i = skipSpace(p, i+1)
		if i >= len(p) {
			return Frame{}, ErrMalformedFrame
		}

		switch key {
		case "op":
			if isNull(p, i) {
				i += 4
				continue
			}
			n, next, ok := scanInt(p, i)
			if !ok {
				return Frame{}, ErrMalformedFrame
			}
			f.Op = int(n)
			haveOp = true
			i = next
		case "s":
			if isNull(p, i) {
				i += 4
				continue
			}
			start := i
			n, next, ok := scanInt(p, i)
			if !ok {
				return Frame{}, ErrMalformedFrame
			}
			f.Sequence = &SequenceInfo{Sequence: n, Start: start, End: next}
			i = next
		case "t":
			if isNull(p, i) {
				i += 4
				continue
			}
			name, next, ok := scanString(p, i)
			if !ok {
				return Frame{}, ErrMalformedFrame
			}
			f.EventType = &EventTypeInfo{EventType: name}
			i = next
		default:
			next, ok := skipValue(p, i)
			if !ok {
				return Frame{}, ErrMalformedFrame
			}
			i = next
		}
	}

	if !haveOp {
		return Frame{}, ErrMissingOp
	}
	return f, nil
}

func skipSpace(p []byte, i int) int {
	for i < len(p) {
		switch p[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

func isNull(p []byte, i int) bool {
	return i+4 <= len(p) && p[i] == 'n' && p[i+1] == 'u' && p[i+2] == 'l' && p[i+3] == 'l'
}

// scanString scans a JSON string starting at p[i] == '"'. It returns the
// decoded value and the index one past the closing quote.
func scanString(p []byte, i int) (string, int, bool) {
	start := i
	i++ // opening quote
	escaped := false
	for i < len(p) {
		switch p[i] {
		case '\\':
			escaped = true
			i += 2
			continue
		case '"':
			if !escaped {
				return string(p[start+1 : i]), i + 1, true
			}
			// Rare path: fall back to the stdlib for unescaping.
			var s string
			if err := json.Unmarshal(p[start:i+1], &s); err != nil {
				return "", 0, false
			}
			return s, i + 1, true
		}
		i++
	}
	return "", 0, false
}

// scanInt scans a (possibly negative) integer literal.
func scanInt(p []byte, i int) (int64, int, bool) {
	neg := false
	if i < len(p) && p[i] == '-' {
		neg = true
		i++
	}
	var n int64
	digits := 0
	for i < len(p) && p[i] >= '0' && p[i] <= '9' {
		n = n*10 + int64(p[i]-'0')
		digits++
		i++
	}
	if digits == 0 {
		return 0, 0, false
	}
	if neg {
		n = -n
	}
	return n, i, true
}

// skipValue advances past a JSON value of any kind without interpreting it.
func skipValue(p []byte, i int) (int, bool) {
	switch p[i] {
	case '"':
		return skipString(p, i)
	case '{', '[':
		depth := 0
		for i < len(p) {
			switch p[i] {
			case '"':
				next, ok := skipString(p, i)
				if !ok {
					return 0, false
				}
				i = next
				continue
			case '{', '[':
				depth++
			case '}', ']':
				depth--
				if depth == 0 {
					return i + 1, true
				}
			}
			i++
		}
		return 0, false
	default:
		// Number, true, false or null: scan to the next delimiter.
		for i < len(p) {
			switch p[i] {
			case ',', '}', ']', ' ', '\t', '\n', '\r':
				return i, true
			}
			i++
		}
		return 0, false
	}
}

// skipString advances past a string literal without decoding it.
func skipString(p []byte, i int) (int, bool) {
	i++
	for i < len(p) {
		switch p[i] {
		case '\\':
			i += 2
			continue
		case '"':
			return i + 1, true
		}
		i++
	}
	return 0, false
}
