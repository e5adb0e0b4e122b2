// Package codec holds the serialization used for every JSON-RPC payload that
// crosses the wire. Messages are text frames, so JSON is the only format.
package codec

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Valid(data []byte) bool
	Type() CodecType
}

// Default is the codec shared by the transport, client and server.
var Default Codec = &JSONCodec{}

func GetCodec(codecType CodecType) Codec {
	return Default
}
