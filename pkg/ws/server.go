package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ServerHandler обрабатывает событие, пришедшее от клиента.
type ServerHandler func(ctx context.Context, conn *ServerConn, data string)

type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
	CheckOrigin     func(r *http.Request) bool
	IgnorePings     bool // не отвечать pong на ping клиента
	OnPing          func(conn *ServerConn)
	OnConnect       func(conn *ServerConn)
	OnDisconnect    func(conn *ServerConn)
	Logger          *slog.Logger
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		WriteTimeout:    DefaultWriteTimeout,
		CheckOrigin:     func(r *http.Request) bool { return true },
		Logger:          slog.Default(),
	}
}

// Server - сервер, говорящий тем же форматом конвертов, что и Client.
type Server struct {
	cfg      ServerConfig
	upgrader websocket.Upgrader
	handlers map[string]ServerHandler
	fallback ServerHandler
	mu       sync.RWMutex
	conns    map[*ServerConn]struct{}
	connsMu  sync.Mutex
	logger   *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		handlers: make(map[string]ServerHandler),
		conns:    make(map[*ServerConn]struct{}),
		logger:   cfg.Logger,
	}
}

func (s *Server) Handle(event string, handler ServerHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = handler
}

// HandleDefault задаёт обработчик для событий без своего обработчика.
func (s *Server) HandleDefault(handler ServerHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = handler
}

func (s *Server) getHandler(event string) (ServerHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if h, ok := s.handlers[event]; ok {
		return h, true
	}

	return s.fallback, s.fallback != nil
}

// Broadcast отправляет событие всем подключённым клиентам.
func (s *Server) Broadcast(event, data string) {
	for _, conn := range s.Conns() {
		if err := conn.Emit(event, data); err != nil {
			s.logger.Warn("failed to broadcast", "remote_addr", conn.RemoteAddr(), "error", err)
		}
	}
}

func (s *Server) Conns() []*ServerConn {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	conns := make([]*ServerConn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}

	return conns
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	conn := &ServerConn{
		conn:         wsConn,
		header:       r.Header.Clone(),
		writeTimeout: s.cfg.WriteTimeout,
	}
	defer conn.conn.Close()

	if s.cfg.IgnorePings || s.cfg.OnPing != nil {
		wsConn.SetPingHandler(s.pingHandler(conn))
	}

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	s.logger.Info("client connected", "remote_addr", wsConn.RemoteAddr(), "origin", r.Header.Get("Origin"))

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(conn)
	}

	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()

		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(conn)
		}

		s.logger.Info("client disconnected", "remote_addr", wsConn.RemoteAddr())
	}()

	s.handleConnection(r.Context(), conn)
}

func (s *Server) pingHandler(conn *ServerConn) func(string) error {
	return func(appData string) error {
		if s.cfg.OnPing != nil {
			s.cfg.OnPing(conn)
		}

		if s.cfg.IgnorePings {
			return nil
		}

		err := conn.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(s.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}

		return err
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *ServerConn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {
				s.logger.Error("read error", "error", err)
			}

			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		env, err := DecodeEnvelope(data)
		if err != nil {
			s.logger.Error("failed to decode envelope", "error", err)
			continue
		}

		handler, ok := s.getHandler(env.Event)
		if !ok {
			s.logger.Debug("no handler for event", "event", env.Event)
			continue
		}

		handler(ctx, conn, env.Data)
	}
}

// ServerConn - одно клиентское соединение на стороне сервера.
type ServerConn struct {
	conn         *websocket.Conn
	header       http.Header
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// Header возвращает заголовки запроса на рукопожатие.
func (c *ServerConn) Header() http.Header {
	return c.header
}

func (c *ServerConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *ServerConn) Emit(event, data string) error {
	payload, err := EncodeEnvelope(event, data)
	if err != nil {
		return err
	}

	return c.WriteRaw(websocket.TextMessage, payload)
}

// WriteRaw отправляет кадр как есть, без конверта.
func (c *ServerConn) WriteRaw(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))

	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}

	return nil
}

// Close отправляет close кадр с кодом code и закрывает соединение.
func (c *ServerConn) Close(code int, reason string) error {
	closeMsg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(c.writeTimeout))

	return c.conn.Close()
}

// Drop рвёт соединение без close кадра, клиент увидит код 1006.
func (c *ServerConn) Drop() error {
	return c.conn.Close()
}
