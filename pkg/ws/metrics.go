package ws

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "websocketssl"

// Metrics - метрики клиента. Нулевой указатель допустим: все методы
// на nil ничего не делают.
type Metrics struct {
	State             prometheus.Gauge
	ConnectAttempts   *prometheus.CounterVec
	ReconnectPolls    *prometheus.CounterVec
	PingsSent         prometheus.Counter
	PongTimeouts      prometheus.Counter
	MessagesReceived  prometheus.Counter
	MessagesSent      prometheus.Counter
	MalformedMessages prometheus.Counter
	HandlerPanics     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 open, 3 closing, 4 reconnect waiting)",
		}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by result",
		}, []string{"result"}),
		ReconnectPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnect_polls_total",
			Help:      "Reachability polls made while waiting to reconnect",
		}, []string{"reachable"}),
		PingsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pings_sent_total",
			Help:      "Heartbeat ping frames sent",
		}),
		PongTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pong_timeouts_total",
			Help:      "Connections closed because pongs stopped arriving",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Data frames received",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Envelopes sent",
		}),
		MalformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "malformed_messages_total",
			Help:      "Inbound messages discarded as malformed",
		}),
		HandlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handler_panics_total",
			Help:      "Recovered panics in event handlers",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.State,
			m.ConnectAttempts,
			m.ReconnectPolls,
			m.PingsSent,
			m.PongTimeouts,
			m.MessagesReceived,
			m.MessagesSent,
			m.MalformedMessages,
			m.HandlerPanics,
		)
	}

	return m
}

const (
	resultSuccess     = "success"
	resultCertificate = "certificate_error"
	resultTLS         = "tls_error"
	resultDial        = "dial_error"
)

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.State.Set(float64(s))
}

func (m *Metrics) connectAttempt(result string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) reconnectPoll(reachable bool) {
	if m == nil {
		return
	}
	m.ReconnectPolls.WithLabelValues(strconv.FormatBool(reachable)).Inc()
}

func (m *Metrics) pingSent() {
	if m == nil {
		return
	}
	m.PingsSent.Inc()
}

func (m *Metrics) pongTimeout() {
	if m == nil {
		return
	}
	m.PongTimeouts.Inc()
}

func (m *Metrics) messageReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

func (m *Metrics) messageSent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

func (m *Metrics) malformedMessage() {
	if m == nil {
		return
	}
	m.MalformedMessages.Inc()
}

func (m *Metrics) handlerPanic() {
	if m == nil {
		return
	}
	m.HandlerPanics.Inc()
}
