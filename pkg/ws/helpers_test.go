package ws_test

import (
	"context"
	"crypto/tls"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/LLIEPJIOK/websocketssl/pkg/ws"
)

const testCAResource = "ca.crt"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServer - ws.Server за httptest TLS сервером. Сертификат httptest
// используется как закреплённый CA.
type testServer struct {
	*ws.Server

	ts        *httptest.Server
	url       string
	caPEM     []byte
	connected chan *ws.ServerConn
	pings     atomic.Int32
}

func newTestServer(t *testing.T, mutate func(cfg *ws.ServerConfig)) *testServer {
	t.Helper()

	srv := &testServer{
		connected: make(chan *ws.ServerConn, 64),
	}

	cfg := ws.DefaultServerConfig()
	cfg.Logger = discardLogger()
	cfg.OnConnect = func(conn *ws.ServerConn) { srv.connected <- conn }
	cfg.OnPing = func(*ws.ServerConn) { srv.pings.Add(1) }

	if mutate != nil {
		mutate(&cfg)
	}

	srv.Server = ws.NewServer(cfg)
	srv.ts = httptest.NewTLSServer(srv.Server)
	t.Cleanup(srv.ts.Close)

	srv.url = "wss" + strings.TrimPrefix(srv.ts.URL, "https") + "/chan"
	srv.caPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.ts.Certificate().Raw})

	return srv
}

func (s *testServer) waitConn(t *testing.T) *ws.ServerConn {
	t.Helper()

	select {
	case conn := <-s.connected:
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for client connection")
		return nil
	}
}

func (s *testServer) assertNoConn(t *testing.T, wait time.Duration) {
	t.Helper()

	select {
	case <-s.connected:
		t.Fatal("unexpected client connection")
	case <-time.After(wait):
	}
}

// newRawServer поднимает TLS сервер на голом gorilla соединении.
func newRawServer(t *testing.T, handle func(conn *websocket.Conn)) (string, []byte) {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		handle(conn)
	}))
	t.Cleanup(ts.Close)

	url := "wss" + strings.TrimPrefix(ts.URL, "https") + "/"
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ts.Certificate().Raw})

	return url, caPEM
}

func newTestClient(t *testing.T, url string, caPEM []byte, mutate func(cfg *ws.ClientConfig)) *ws.Client {
	t.Helper()

	cfg := ws.DefaultClientConfig(url, testCAResource, ws.BytesLoader{testCAResource: caPEM})
	cfg.Reachability = ws.AlwaysReachable
	cfg.ReconnectInterval = 50 * time.Millisecond
	cfg.Logger = discardLogger()

	if mutate != nil {
		mutate(&cfg)
	}

	client, err := ws.NewClient(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	return client
}

func waitState(t *testing.T, client *ws.Client, state ws.State) {
	t.Helper()

	require.Eventually(t, func() bool {
		return client.State() == state
	}, 3*time.Second, 5*time.Millisecond, "state %s not reached, current %s", state, client.State())
}

type transition struct {
	from, to ws.State
}

type stateRecorder struct {
	mu          sync.Mutex
	transitions []transition
}

func (r *stateRecorder) record(from, to ws.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, transition{from: from, to: to})
}

func (r *stateRecorder) states() []ws.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]ws.State, 0, len(r.transitions))
	for _, tr := range r.transitions {
		states = append(states, tr.to)
	}

	return states
}

func (r *stateRecorder) count(state ws.State) int {
	n := 0
	for _, s := range r.states() {
		if s == state {
			n++
		}
	}

	return n
}

type dialerFunc func(ctx context.Context, urlStr string, header http.Header) (*websocket.Conn, *http.Response, error)

func (f dialerFunc) DialContext(ctx context.Context, urlStr string, header http.Header) (*websocket.Conn, *http.Response, error) {
	return f(ctx, urlStr, header)
}

// recordingDialer запоминает заголовки каждой попытки подключения.
type recordingDialer struct {
	mu      sync.Mutex
	headers []http.Header
}

func (d *recordingDialer) factory(tlsConfig *tls.Config, timeout time.Duration) ws.Dialer {
	inner := ws.NewDialer(tlsConfig, timeout)

	return dialerFunc(func(ctx context.Context, urlStr string, header http.Header) (*websocket.Conn, *http.Response, error) {
		d.mu.Lock()
		d.headers = append(d.headers, header)
		d.mu.Unlock()

		return inner.DialContext(ctx, urlStr, header)
	})
}

func (d *recordingDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.headers)
}

func (d *recordingDialer) header(i int) http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.headers[i]
}
