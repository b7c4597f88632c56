package ws

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type heartbeatConfig struct {
	Interval       time.Duration
	WriteTimeout   time.Duration
	MaxMissedPongs int // <= 0 - пропущенные pong не отслеживаются
}

// heartbeat периодически шлёт ping по одному конкретному соединению.
// После возврата из stop ни один ping больше не будет отправлен.
type heartbeat struct {
	cfg heartbeatConfig

	ping      func(deadline time.Time) error
	alive     func() bool
	onTimeout func()

	logger  *slog.Logger
	metrics *Metrics

	outstanding atomic.Int32

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newHeartbeat(
	cfg heartbeatConfig,
	ping func(deadline time.Time) error,
	alive func() bool,
	onTimeout func(),
	logger *slog.Logger,
	metrics *Metrics,
) *heartbeat {
	if logger == nil {
		logger = slog.Default()
	}

	return &heartbeat{
		cfg:       cfg,
		ping:      ping,
		alive:     alive,
		onTimeout: onTimeout,
		logger:    logger,
		metrics:   metrics,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (h *heartbeat) start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started || h.stopped {
		return
	}

	h.started = true

	go h.loop()
}

func (h *heartbeat) loop() {
	defer close(h.doneCh)
	defer h.logger.Debug("heartbeat stopped")

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			if !h.tick() {
				return
			}
		}
	}
}

func (h *heartbeat) tick() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return false
	}

	if !h.alive() {
		h.logger.Info("connection is not open, skip ping")
		return false
	}

	if limit := h.cfg.MaxMissedPongs; limit > 0 && int(h.outstanding.Load()) >= limit {
		h.logger.Warn("pong timeout, closing connection", "missed_pongs", h.outstanding.Load())
		h.metrics.pongTimeout()
		h.onTimeout()
		return false
	}

	h.logger.Debug("sending ping")

	if err := h.ping(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
		h.logger.Warn("failed to send ping", "error", err)
	} else {
		h.metrics.pingSent()
	}

	h.outstanding.Add(1)

	return true
}

func (h *heartbeat) pong() {
	h.outstanding.Store(0)
}

// stop запрашивает остановку и дожидается завершения горутины.
func (h *heartbeat) stop() {
	h.mu.Lock()
	if !h.stopped {
		h.stopped = true
		close(h.stopCh)
	}
	started := h.started
	h.mu.Unlock()

	if started {
		<-h.doneCh
	}
}
