package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeError reports a malformed inbound payload. It is recovered locally by
// the receiver: the connection stays open and an error envelope is produced.
type DecodeError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode envelope: %s", e.Reason)
}

// Unwrap returns the underlying parse error, if any.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode serializes an envelope to its wire representation.
func Encode(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, fmt.Errorf("encode envelope: type is required")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses a wire message into an envelope. Unknown type values are not
// an error here; consumers decide how to react to types they do not handle.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &DecodeError{Reason: "invalid JSON format", Err: err}
	}
	if env.Type == "" {
		return Envelope{}, &DecodeError{Reason: "missing type field"}
	}
	return env, nil
}
