package job

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes job payloads. JSON is the default; msgpack is available
// for payload-heavy job types where the smaller wire size matters.
type Codec interface {
	// Name identifies the codec in logs and errors.
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes payloads as JSON.
type JSONCodec struct{}

func (JSONCodec) Name() string                       { return "json" }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// MsgpackCodec encodes payloads as MessagePack.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string                       { return "msgpack" }
func (MsgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// DecodeError wraps a payload deserialization failure. The executor treats
// it as terminal: a payload that cannot be decoded will not decode any
// better on a retry.
type DecodeError struct {
	JobName string
	Codec   string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload for job %q: %v", e.Codec, e.JobName, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
