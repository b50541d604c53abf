package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope is a decoded message.
type Envelope struct {
	Type      string
	Data      map[string]any
	Timestamp time.Time
	RequestID string // Empty for fire-and-forget and unsolicited pushes
}

// DecodeError reports a malformed inbound payload.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return "decode envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// envelopeJSON is the on-the-wire shape. A nil RequestID encodes as null.
type envelopeJSON struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID *string         `json:"request_id"`
}

// now is swapped in tests.
var now = time.Now

// NewEnvelope builds an envelope stamped with the current time. data may be a map or
// any JSON-marshalable struct; it is normalised into a map.
func NewEnvelope(msgType string, data any, requestID string) (Envelope, error) {
	m, err := toMap(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:      msgType,
		Data:      m,
		Timestamp: now().UTC(),
		RequestID: requestID,
	}, nil
}

// Encode builds and serialises an envelope in one step.
func Encode(msgType string, data any, requestID string) ([]byte, error) {
	env, err := NewEnvelope(msgType, data, requestID)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(env)
}

// EncodeEnvelope serialises env.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, errors.New("encode envelope: empty type")
	}

	data := env.Data
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode envelope data: %w", err)
	}

	out := envelopeJSON{
		Type:      env.Type,
		Data:      raw,
		Timestamp: env.Timestamp,
	}
	if env.RequestID != "" {
		id := env.RequestID
		out.RequestID = &id
	}

	return json.Marshal(out)
}

// Decode parses an inbound frame. It returns a *DecodeError for anything that is not a
// JSON object with a non-empty type and an object (or null) data field.
func Decode(b []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return Envelope{}, &DecodeError{Reason: "empty payload"}
	}
	if trimmed[0] != '{' {
		return Envelope{}, &DecodeError{Reason: "payload is not an object"}
	}

	var in envelopeJSON
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return Envelope{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	if in.Type == "" {
		return Envelope{}, &DecodeError{Reason: "missing type"}
	}

	env := Envelope{
		Type:      in.Type,
		Timestamp: in.Timestamp,
	}
	if in.RequestID != nil {
		env.RequestID = *in.RequestID
	}

	raw := bytes.TrimSpace(in.Data)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if raw[0] != '{' {
			return Envelope{}, &DecodeError{Reason: "data is not an object"}
		}
		if err := json.Unmarshal(raw, &env.Data); err != nil {
			return Envelope{}, &DecodeError{Reason: "invalid data", Err: err}
		}
	}

	return env, nil
}

// DecodeData converts the envelope data into a typed payload.
func DecodeData[T any](env Envelope) (T, error) {
	var out T
	raw, err := json.Marshal(env.Data)
	if err != nil {
		return out, fmt.Errorf("marshal %s data: %w", env.Type, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("unmarshal %s data: %w", env.Type, err)
	}
	return out, nil
}

// toMap normalises a payload into the generic data map.
func toMap(data any) (map[string]any, error) {
	switch v := data.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
