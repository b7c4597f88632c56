package ws_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLIEPJIOK/websocketssl/pkg/ws"
)

func TestEncodeEnvelope(t *testing.T) {
	data, err := ws.EncodeEnvelope("chat", "hi")
	require.NoError(t, err)
	assert.Equal(t, `{"event":"chat","data":"hi"}`, string(data))

	data, err = ws.EncodeEnvelope("", "")
	require.NoError(t, err)
	assert.Equal(t, `{"event":"","data":""}`, string(data))
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := ws.DecodeEnvelope([]byte(`{"data":"{\"nested\":true}","event":"chat"}`))
	require.NoError(t, err)
	assert.Equal(t, ws.Envelope{Event: "chat", Data: `{"nested":true}`}, env)
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ``},
		{"bare word", `hello`},
		{"bare string", `"hello"`},
		{"null", `null`},
		{"array", `["chat","hi"]`},
		{"missing data", `{"event":"chat"}`},
		{"missing event", `{"data":"hi"}`},
		{"number data", `{"event":"chat","data":1}`},
		{"object data", `{"event":"chat","data":{"a":"b"}}`},
		{"null event", `{"event":null,"data":"hi"}`},
		{"extra field", `{"event":"chat","data":"hi","id":"1"}`},
		{"wrong key", `{"event":"chat","payload":"hi"}`},
		{"trailing data", `{"event":"chat","data":"hi"} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ws.DecodeEnvelope([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ws.ErrMalformedEnvelope), "got %v", err)
		})
	}
}
