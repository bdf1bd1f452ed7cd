package connpool

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MessagePackCodec implements the Codec interface using MessagePack serialization
type MessagePackCodec struct {
	// Use JSON tags for field names instead of msgpack tags
	useJSONTag bool
}

// NewMessagePackCodec creates a new MessagePack codec with default settings
func NewMessagePackCodec() *MessagePackCodec {
	return &MessagePackCodec{}
}

// NewMessagePackCodecWithOptions creates a new MessagePack codec with custom options
func NewMessagePackCodecWithOptions(useJSONTag bool) *MessagePackCodec {
	return &MessagePackCodec{
		useJSONTag: useJSONTag,
	}
}

// Encode serializes a value to MessagePack bytes
func (c *MessagePackCodec) Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("cannot encode nil value")
	}

	if c.useJSONTag {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("msgpack marshal error: %w", err)
		}
		return buf.Bytes(), nil
	}

	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}

	return data, nil
}

// Decode deserializes MessagePack bytes to a value
func (c *MessagePackCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("cannot decode empty data")
	}

	if v == nil {
		return fmt.Errorf("cannot decode into nil value")
	}

	if c.useJSONTag {
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.SetCustomStructTag("json")
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("msgpack unmarshal error: %w", err)
		}
		return nil
	}

	err := msgpack.Unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("msgpack unmarshal error: %w", err)
	}

	return nil
}

// Name returns the codec name
func (c *MessagePackCodec) Name() string {
	return "msgpack"
}

// UseJSONTag enables or disables JSON tag usage for field names
func (c *MessagePackCodec) UseJSONTag(use bool) {
	c.useJSONTag = use
}

// IsJSONTagEnabled returns whether JSON tags are being used
func (c *MessagePackCodec) IsJSONTagEnabled() bool {
	return c.useJSONTag
}
