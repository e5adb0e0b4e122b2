// Package message defines the values exchanged over the wire.
//
// Message is what the frame reassembler produces: one decoded JSON object, or a
// batch (a JSON array, whose object members are kept). The router only needs
// the id and method of a message, so those are extracted once at parse time
// and the raw text is kept untouched for the caller.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mini-wsrpc/codec"
)

// ErrNotMessage is returned by Parse for input that holds no JSON value.
var ErrNotMessage = errors.New("message: no JSON value")

// Message carries a single JSON-RPC object or a batch of them. Other JSON
// values parse too, but carry neither id nor method, so nothing routes them.
type Message struct {
	raw     []byte
	id      string    // Canonical id text, "" when absent or null
	method  string    // Method field of a single object, "" unless a JSON string
	members []Message // Object members of a batch
	batch   bool
	object  bool
}

// Parse decodes data into a Message. data must hold exactly one JSON value;
// only text that is not valid JSON is an error. Keys are matched exactly, as
// JSON-RPC requires: "ID" is not an id.
func Parse(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Message{}, ErrNotMessage
	}
	cdc := codec.GetCodec(codec.CodecTypeJSON)

	switch trimmed[0] {
	case '{':
		var fields map[string]json.RawMessage
		if err := cdc.Decode(trimmed, &fields); err != nil {
			return Message{}, err
		}
		m := Message{raw: trimmed, object: true, id: IDKey(fields["id"])}
		if method := bytes.TrimSpace(fields["method"]); len(method) > 0 && method[0] == '"' {
			if err := cdc.Decode(method, &m.method); err != nil {
				return Message{}, err
			}
		}
		return m, nil
	case '[':
		var elems []json.RawMessage
		if err := cdc.Decode(trimmed, &elems); err != nil {
			return Message{}, err
		}
		m := Message{raw: trimmed, batch: true, members: make([]Message, 0, len(elems))}
		for i, elem := range elems {
			elem = bytes.TrimSpace(elem)
			if len(elem) == 0 || elem[0] != '{' {
				// not a response object; nothing in it can be correlated
				continue
			}
			member, err := Parse(elem)
			if err != nil {
				return Message{}, fmt.Errorf("batch member %d: %w", i, err)
			}
			m.members = append(m.members, member)
		}
		return m, nil
	default:
		if !cdc.Valid(trimmed) {
			return Message{}, fmt.Errorf("message: invalid JSON %q", abbreviate(trimmed))
		}
		return Message{raw: trimmed}, nil
	}
}

func abbreviate(b []byte) string {
	const max = 64
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

// MustParse is Parse for literals in tests and examples.
func MustParse(s string) Message {
	m, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return m
}

// IDKey turns a raw JSON id into the key used for correlation. The number 1
// and the string "1" are different keys; null means no id.
func IDKey(raw json.RawMessage) string {
	key := string(bytes.TrimSpace(raw))
	if key == "null" {
		return ""
	}
	return key
}

// IsZero reports whether m holds no value, which is what failed calls receive.
func (m Message) IsZero() bool { return len(m.raw) == 0 }

func (m Message) IsBatch() bool { return m.batch }

// IsObject reports whether m is a single JSON object.
func (m Message) IsObject() bool { return m.object }

// Members returns the elements of a batch, or nil for a single object.
func (m Message) Members() []Message { return m.members }

// ID returns the canonical id of a single object.
func (m Message) ID() (string, bool) { return m.id, m.id != "" }

func (m Message) Method() string { return m.method }

// IsNotification reports whether m is a push message, recognised by the
// "_subscription" marker in its method name.
func (m Message) IsNotification() bool {
	return !m.batch && strings.Contains(m.method, NotificationMarker)
}

// Raw returns the JSON text of the message.
func (m Message) Raw() []byte { return m.raw }

func (m Message) String() string { return string(m.raw) }

// Decode unmarshals the whole message into v.
func (m Message) Decode(v any) error {
	return codec.GetCodec(codec.CodecTypeJSON).Decode(m.raw, v)
}

// MarshalJSON lets a Message be embedded in other payloads unchanged.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.IsZero() {
		return []byte("null"), nil
	}
	return m.raw, nil
}
