package codec

import (
	gjson "github.com/goccy/go-json"
)

// JSONCodec uses goccy/go-json, a drop-in encoding/json replacement that is
// noticeably faster on the small envelopes RPC traffic consists of.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return gjson.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return gjson.Unmarshal(data, v)
}

// Valid reports whether data is one well-formed JSON value.
func (c *JSONCodec) Valid(data []byte) bool {
	return gjson.Valid(data)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
