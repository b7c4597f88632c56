package ws

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectInterval = 5 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultMaxMissedPongs    = 3
	DefaultCAExpiryWarning   = 30 * 24 * time.Hour
)

// Dialer - транспорт WebSocket. *websocket.Dialer ему удовлетворяет.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// DialerFactory создаёт новый транспорт на каждую попытку подключения.
type DialerFactory func(tlsConfig *tls.Config, handshakeTimeout time.Duration) Dialer

// NewDialer - WebSocket диалер с закреплённым TLS и без HTTP_PROXY
func NewDialer(tlsConfig *tls.Config, handshakeTimeout time.Duration) Dialer {
	return &websocket.Dialer{
		Proxy:            nil,
		TLSClientConfig:  tlsConfig,
		HandshakeTimeout: handshakeTimeout,
	}
}

type ClientConfig struct {
	URL        string
	CAResource string
	Resources  ResourceLoader

	Origin string      // по умолчанию http://<host>
	Header http.Header // дополнительные заголовки рукопожатия

	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	MaxMissedPongs    int // < 0 - не отслеживать pong

	ReconnectInterval    time.Duration
	ReconnectMaxInterval time.Duration
	ReconnectMultiplier  float64
	ReconnectJitter      float64

	CAExpiryWarning time.Duration

	Reachability Reachability
	NewDialer    DialerFactory

	Logger  *slog.Logger
	Debug   bool // логировать каждый входящий и исходящий кадр
	Metrics *Metrics

	// OnStateChange вызывается синхронно при каждой смене состояния.
	OnStateChange func(from, to State)
}

func DefaultClientConfig(wsURL, caResource string, resources ResourceLoader) ClientConfig {
	return ClientConfig{
		URL:                 wsURL,
		CAResource:          caResource,
		Resources:           resources,
		HandshakeTimeout:    DefaultHandshakeTimeout,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		WriteTimeout:        DefaultWriteTimeout,
		MaxMissedPongs:      DefaultMaxMissedPongs,
		ReconnectInterval:   DefaultReconnectInterval,
		ReconnectMultiplier: 1,
		CAExpiryWarning:     DefaultCAExpiryWarning,
		Reachability:        InterfaceReachability{},
		NewDialer:           NewDialer,
		Logger:              slog.Default(),
	}
}

func (cfg ClientConfig) withDefaults() ClientConfig {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MaxMissedPongs == 0 {
		cfg.MaxMissedPongs = DefaultMaxMissedPongs
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.Reachability == nil {
		cfg.Reachability = InterfaceReachability{}
	}
	if cfg.NewDialer == nil {
		cfg.NewDialer = NewDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return cfg
}

// Target - адрес сервера и имя закреплённого CA. Не меняется после создания.
type Target struct {
	endpoint   string
	host       string
	caResource string
}

func NewTarget(rawURL, caResource string) (Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, fmt.Errorf("%w: invalid url: %w", ErrInvalidConfig, err)
	}

	if u.Scheme != "wss" {
		return Target{}, fmt.Errorf("%w: unsupported scheme %q, want wss", ErrInvalidConfig, u.Scheme)
	}

	if u.Hostname() == "" {
		return Target{}, fmt.Errorf("%w: missing host in %q", ErrInvalidConfig, rawURL)
	}

	if caResource == "" {
		return Target{}, fmt.Errorf("%w: CA resource is required", ErrInvalidConfig)
	}

	return Target{
		endpoint:   u.String(),
		host:       u.Hostname(),
		caResource: caResource,
	}, nil
}

func (t Target) Endpoint() string   { return t.endpoint }
func (t Target) Host() string       { return t.host }
func (t Target) CAResource() string { return t.caResource }

// origin всегда http://, как ожидает существующий сервер.
func (t Target) origin() string {
	host := t.host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	return "http://" + host
}

type Client struct {
	cfg     ClientConfig
	target  Target
	router  *Router
	backoff *Backoff
	logger  *slog.Logger
	metrics *Metrics

	mu    sync.RWMutex
	state State
	conn  *websocket.Conn

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient проверяет конфигурацию и сразу начинает подключение в фоне.
// Ошибку возвращает только некорректная конфигурация: сбои сети и TLS
// обрабатываются переподключением.
func NewClient(cfg ClientConfig) (*Client, error) {
	cfg = cfg.withDefaults()

	target, err := NewTarget(cfg.URL, cfg.CAResource)
	if err != nil {
		return nil, err
	}

	if cfg.Resources == nil {
		return nil, fmt.Errorf("%w: resource loader is required", ErrInvalidConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		cfg:    cfg,
		target: target,
		router: NewRouter(),
		backoff: NewBackoff(BackoffConfig{
			Initial:    cfg.ReconnectInterval,
			Max:        cfg.ReconnectMaxInterval,
			Multiplier: cfg.ReconnectMultiplier,
			Jitter:     cfg.ReconnectJitter,
		}),
		logger:  cfg.Logger.With(slog.String("url", target.endpoint)),
		metrics: cfg.Metrics,
		state:   StateDisconnected,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	c.metrics.setState(StateDisconnected)

	go c.run()

	return c, nil
}

// Emit отправляет событие, если соединение открыто. Иначе ничего не делает.
func (c *Client) Emit(event, data string) {
	err := c.send(event, data)
	if err != nil && !errors.Is(err, ErrNotOpen) {
		c.logger.Warn("failed to emit", "event", event, "error", err)
	}
}

func (c *Client) On(event string, handler func(data string)) {
	if handler == nil {
		return
	}

	c.router.Register(event, HandlerFunc(handler))
}

func (c *Client) Handle(event string, handler Handler) {
	c.router.Register(event, handler)
}

func (c *Client) Events() []string {
	return c.router.Events()
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) Target() Target {
	return c.target
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close закрывает соединение, останавливает heartbeat и цикл переподключения
// и дожидается их завершения. Нельзя вызывать из обработчиков событий
// и из OnStateChange.
func (c *Client) Close() error {
	c.cancel()
	<-c.done

	return nil
}

func (c *Client) run() {
	defer close(c.done)

	for {
		opened := c.connect()

		if c.ctx.Err() != nil {
			c.transition(StateDisconnected)
			c.logger.Info("client stopped")
			return
		}

		if !opened {
			c.backoff.Advance()
		}

		if !c.waitReconnect() {
			c.transition(StateDisconnected)
			c.logger.Info("client stopped")
			return
		}
	}
}

// connect делает одну попытку подключения и обслуживает соединение,
// пока оно открыто. Возвращает true, если соединение было открыто.
func (c *Client) connect() bool {
	logger := c.logger.With(slog.String("session", uuid.NewString()))

	c.transition(StateConnecting)

	conn, err := c.dial(logger)
	if err != nil {
		if c.ctx.Err() == nil {
			logger.Error("connect failed", "error", err)
		}

		return false
	}

	if !c.open(conn) {
		_ = conn.Close()
		return false
	}

	c.backoff.Reset()
	logger.Info("connected to server")

	hb := newHeartbeat(
		heartbeatConfig{
			Interval:       c.cfg.HeartbeatInterval,
			WriteTimeout:   c.cfg.WriteTimeout,
			MaxMissedPongs: c.cfg.MaxMissedPongs,
		},
		func(deadline time.Time) error {
			return conn.WriteControl(websocket.PingMessage, nil, deadline)
		},
		func() bool { return c.isCurrent(conn) },
		func() { _ = conn.Close() },
		logger,
		c.metrics,
	)

	conn.SetPongHandler(func(string) error {
		hb.pong()
		return nil
	})

	hb.start()

	stopWatch := context.AfterFunc(c.ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})

	err = c.readLoop(conn, logger)

	stopWatch()

	// heartbeat останавливается до выхода из Open, иначе старый ping
	// может уйти в уже закрытый транспорт
	hb.stop()

	if c.ctx.Err() != nil {
		c.transition(StateClosing)

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(c.cfg.WriteTimeout))
		_ = conn.Close()

		logger.Info("connection closed by client")

		return true
	}

	c.transition(StateReconnectWaiting)
	_ = conn.Close()

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		logger.Info("connection closed",
			"code", closeErr.Code,
			"reason", closeErr.Text,
			"reconnect_in", c.backoff.Current(),
		)
	} else {
		logger.Warn("connection lost", "error", err, "reconnect_in", c.backoff.Current())
	}

	return true
}

func (c *Client) dial(logger *slog.Logger) (*websocket.Conn, error) {
	ca, err := LoadPinnedCA(c.cfg.Resources, c.target.caResource)
	if err != nil {
		c.metrics.connectAttempt(resultCertificate)
		return nil, err
	}

	switch checkExpiry(ca, time.Now(), c.cfg.CAExpiryWarning) {
	case expiryPassed:
		logger.Warn("pinned CA has expired", "subject", ca.Subject.String(), "not_after", ca.NotAfter)
	case expirySoon:
		logger.Warn("pinned CA expires soon", "subject", ca.Subject.String(), "not_after", ca.NotAfter)
	}

	dialer := c.cfg.NewDialer(NewPinnedTLSConfig(ca, c.target.host), c.cfg.HandshakeTimeout)

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	logger.Info("connecting to server")

	conn, resp, err := dialer.DialContext(ctx, c.target.endpoint, c.handshakeHeader())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		if isTLSError(err) {
			c.metrics.connectAttempt(resultTLS)
		} else {
			c.metrics.connectAttempt(resultDial)
		}

		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c.metrics.connectAttempt(resultSuccess)

	return conn, nil
}

// handshakeHeader создаёт новые заголовки на каждую попытку.
func (c *Client) handshakeHeader() http.Header {
	header := c.cfg.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}

	origin := c.cfg.Origin
	if origin == "" {
		origin = c.target.origin()
	}

	header.Set("Origin", origin)

	return header
}

func (c *Client) readLoop(conn *websocket.Conn, logger *slog.Logger) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		c.metrics.messageReceived()

		if c.cfg.Debug {
			logger.Debug("message received", "type", msgType, "data", string(data))
		}

		if msgType != websocket.TextMessage {
			logger.Warn("dropping non-text message", "type", msgType, "size", len(data))
			continue
		}

		env, err := DecodeEnvelope(data)
		if err != nil {
			c.metrics.malformedMessage()
			logger.Warn("failed to decode envelope", "error", err)
			continue
		}

		c.dispatch(env, logger)
	}
}

func (c *Client) dispatch(env Envelope, logger *slog.Logger) {
	c.safeCall(logger, "event handler", func() {
		if !c.router.Dispatch(env.Event, env.Data) && c.cfg.Debug {
			logger.Debug("no handler for event", "event", env.Event)
		}
	})
}

func (c *Client) send(event, data string) error {
	payload, err := EncodeEnvelope(event, data)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()

	if state != StateOpen || conn == nil {
		return ErrNotOpen
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	c.metrics.messageSent()

	if c.cfg.Debug {
		c.logger.Debug("message sent", "data", string(payload))
	}

	return nil
}

// waitReconnect ждёт ReconnectInterval и опрашивает доступность сети,
// пока она не появится. Возвращает false, если клиент закрыт.
func (c *Client) waitReconnect() bool {
	c.transition(StateReconnectWaiting)

	for {
		delay := c.backoff.Peek()
		timer := time.NewTimer(delay)

		select {
		case <-c.ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		reachable := c.reachable()
		c.metrics.reconnectPoll(reachable)

		if reachable {
			c.logger.Info("network is available, reconnecting", "attempt", c.backoff.Attempts()+1)
			return true
		}

		c.logger.Info("network is not available, retry later", "retry_in", delay)
	}
}

func (c *Client) reachable() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("reachability check panicked", "panic", r)
			ok = false
		}
	}()

	return c.cfg.Reachability.IsReachable()
}

func (c *Client) open(conn *websocket.Conn) bool {
	c.mu.Lock()

	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}

	from := c.state
	c.state = StateOpen
	c.conn = conn
	c.mu.Unlock()

	c.notify(from, StateOpen)

	return true
}

func (c *Client) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to

	if to != StateOpen {
		c.conn = nil
	}
	c.mu.Unlock()

	c.notify(from, to)
}

func (c *Client) notify(from, to State) {
	if from == to {
		return
	}

	c.metrics.setState(to)
	c.logger.Debug("state changed", "from", from.String(), "to", to.String())

	if c.cfg.OnStateChange != nil {
		c.safeCall(c.logger, "state change callback", func() {
			c.cfg.OnStateChange(from, to)
		})
	}
}

func (c *Client) isCurrent(conn *websocket.Conn) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateOpen && c.conn == conn
}

func (c *Client) safeCall(logger *slog.Logger, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.handlerPanic()
			logger.Error("recovered panic", "in", what, "panic", r)
		}
	}()

	fn()
}

func isTLSError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		alertErr     tls.AlertError
		recordErr    tls.RecordHeaderError
	)

	return errors.As(err, &verifyErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &recordErr)
}
