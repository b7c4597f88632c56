package ws

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.setState(StateOpen)
		m.connectAttempt(resultSuccess)
		m.reconnectPoll(true)
		m.pingSent()
		m.pongTimeout()
		m.messageReceived()
		m.messageSent()
		m.malformedMessage()
		m.handlerPanic()
	})
}

func TestMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.setState(StateReconnectWaiting)
	m.connectAttempt(resultTLS)
	m.connectAttempt(resultTLS)
	m.reconnectPoll(false)
	m.pingSent()

	assert.Equal(t, float64(StateReconnectWaiting), testutil.ToFloat64(m.State))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues(resultTLS)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconnectPolls.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PingsSent))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}

	assert.Contains(t, names, "websocketssl_connection_state")
	assert.Contains(t, names, "websocketssl_connect_attempts_total")
}
