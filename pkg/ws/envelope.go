package ws

import (
	"encoding/json"
	"fmt"
)

// Envelope - формат всех прикладных сообщений: {"event": "...", "data": "..."}
type Envelope struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

func EncodeEnvelope(event, data string) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: data})
}

// DecodeEnvelope принимает только объект ровно с двумя строковыми полями
// event и data. Любая другая форма - ErrMalformedEnvelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var fields map[string]json.RawMessage

	if err := json.Unmarshal(raw, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	if fields == nil {
		return Envelope{}, fmt.Errorf("%w: not an object", ErrMalformedEnvelope)
	}

	if len(fields) != 2 {
		return Envelope{}, fmt.Errorf("%w: expected 2 fields, got %d", ErrMalformedEnvelope, len(fields))
	}

	event, err := stringField(fields, "event")
	if err != nil {
		return Envelope{}, err
	}

	data, err := stringField(fields, "data")
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{Event: event, Data: data}, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrMalformedEnvelope, name)
	}

	if len(raw) == 0 || raw[0] != '"' {
		return "", fmt.Errorf("%w: field %q is not a string", ErrMalformedEnvelope, name)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: field %q: %w", ErrMalformedEnvelope, name, err)
	}

	return s, nil
}
