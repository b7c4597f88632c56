package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/LLIEPJIOK/websocketssl/internal/config"
	"github.com/LLIEPJIOK/websocketssl/pkg/ws"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local echo server speaking the event envelope",
		RunE:  runServe,
	}

	cmd.Flags().String("addr", ":8443", "Listen address")
	cmd.Flags().String("cert", "", "Server certificate (PEM)")
	cmd.Flags().String("key", "", "Server private key (PEM)")
	cmd.Flags().String("path", "/", "WebSocket path")
	cmd.Flags().Bool("broadcast", false, "Send every event to all connected clients")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	addr, _ := flags.GetString("addr")
	certFile, _ := flags.GetString("cert")
	keyFile, _ := flags.GetString("key")
	path, _ := flags.GetString("path")
	broadcast, _ := flags.GetBool("broadcast")

	if certFile == "" || keyFile == "" {
		return errors.New("--cert and --key are required")
	}

	logCfg := config.Default()
	logCfg.Log.Level, _ = flags.GetString("log-level")
	logCfg.Log.Format, _ = flags.GetString("log-format")
	if logCfg.Log.Level == "" {
		logCfg.Log.Level = "info"
	}
	logger := logCfg.Logger(os.Stderr)

	serverCfg := ws.DefaultServerConfig()
	serverCfg.Logger = logger
	server := ws.NewServer(serverCfg)

	server.HandleDefault(func(_ context.Context, conn *ws.ServerConn, data string) {
		logger.Debug("event received", "remote_addr", conn.RemoteAddr(), "data", data)
	})

	server.Handle("echo", func(_ context.Context, conn *ws.ServerConn, data string) {
		if broadcast {
			server.Broadcast("echo", data)
			return
		}

		if err := conn.Emit("echo", data); err != nil {
			logger.Warn("failed to reply", "error", err)
		}
	})

	mux := http.NewServeMux()
	mux.Handle(path, server)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("serving", "addr", addr, "path", path)
		errCh <- srv.ListenAndServeTLS(certFile, keyFile)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	case <-cmd.Context().Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return srv.Shutdown(ctx)
}
