package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/LLIEPJIOK/websocketssl/internal/config"
	"github.com/LLIEPJIOK/websocketssl/pkg/ws"
)

func newConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to the server and relay stdin lines as events",
		Long: `Connect to the server and keep the connection alive.

Each stdin line "<event> <data>" is sent as an event. Events listed in
--subscribe are printed to stdout as "<event> <data>".`,
		RunE: runConnect,
	}

	cmd.Flags().String("url", "", "Server endpoint (wss://host:port/path)")
	cmd.Flags().String("ca", "", "CA resource name")
	cmd.Flags().String("ca-dir", "", "Directory with application resources")
	cmd.Flags().Bool("ca-env", false, "Read the CA as base64 from the environment variable named by --ca")
	cmd.Flags().String("origin", "", "Origin header override")
	cmd.Flags().Duration("heartbeat", 0, "Heartbeat interval")
	cmd.Flags().Duration("reconnect", 0, "Reconnect interval")
	cmd.Flags().String("reachability", "", "Reachability mode (interfaces|dial|always)")
	cmd.Flags().StringSlice("subscribe", nil, "Events to print")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().Bool("debug", false, "Log every frame")

	return cmd
}

func runConnect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := cfg.Logger(os.Stderr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := ws.NewMetrics(reg)

	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer stop()
	}

	clientCfg := cfg.ClientConfig(logger, metrics)
	clientCfg.OnStateChange = func(from, to ws.State) {
		logger.Info("connection state", "from", from.String(), "to", to.String())
	}

	client, err := ws.NewClient(clientCfg)
	if err != nil {
		return err
	}
	defer client.Close()

	out := bufio.NewWriter(cmd.OutOrStdout())
	printer := &eventPrinter{w: out}

	for _, event := range cfg.Subscribe {
		client.On(event, printer.handler(event))
	}

	go relay(cmd.InOrStdin(), client, logger)

	<-cmd.Context().Done()

	logger.Info("shutting down")

	return nil
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}

		cfg = loaded
	}

	flags := cmd.Flags()

	if flags.Changed("url") {
		cfg.URL, _ = flags.GetString("url")
	}
	if flags.Changed("ca") {
		cfg.CA.Resource, _ = flags.GetString("ca")
	}
	if flags.Changed("ca-dir") {
		cfg.CA.Dir, _ = flags.GetString("ca-dir")
	}
	if flags.Changed("ca-env") {
		cfg.CA.FromEnv, _ = flags.GetBool("ca-env")
	}
	if flags.Changed("origin") {
		cfg.Origin, _ = flags.GetString("origin")
	}
	if flags.Changed("heartbeat") {
		cfg.HeartbeatInterval, _ = flags.GetDuration("heartbeat")
	}
	if flags.Changed("reconnect") {
		cfg.Reconnect.Interval, _ = flags.GetDuration("reconnect")
	}
	if flags.Changed("reachability") {
		cfg.Reachability.Mode, _ = flags.GetString("reachability")
	}
	if flags.Changed("subscribe") {
		cfg.Subscribe, _ = flags.GetStringSlice("subscribe")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("debug") {
		cfg.Log.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

// relay отправляет строки "<event> <data>" из r как события.
func relay(r io.Reader, client *ws.Client, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		event, data, _ := strings.Cut(line, " ")

		if client.State() != ws.StateOpen {
			logger.Warn("not connected, event dropped", "event", event)
			continue
		}

		client.Emit(event, data)
	}

	if err := scanner.Err(); err != nil {
		logger.Error("failed to read stdin", "error", err)
	}
}

// eventPrinter печатает полученные события. Обработчики клиента
// вызываются последовательно из его горутины чтения.
type eventPrinter struct {
	w *bufio.Writer
}

func (p *eventPrinter) handler(event string) func(string) {
	return func(data string) {
		fmt.Fprintf(p.w, "%s %s\n", event, data)
		_ = p.w.Flush()
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}
}
