package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LLIEPJIOK/websocketssl/pkg/ws"
)

const (
	ReachabilityInterfaces = "interfaces"
	ReachabilityDial       = "dial"
	ReachabilityAlways     = "always"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

var ErrInvalid = errors.New("invalid config")

// Config - конфигурация wsclient, читается из YAML.
type Config struct {
	URL    string            `yaml:"url"`
	CA     CAConfig          `yaml:"ca"`
	Origin string            `yaml:"origin"` // пусто - http://<host>
	Header map[string]string `yaml:"header"`

	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	MaxMissedPongs    int           `yaml:"max_missed_pongs"` // < 0 - не отслеживать
	CAExpiryWarning   time.Duration `yaml:"ca_expiry_warning"`

	Reconnect    ReconnectConfig    `yaml:"reconnect"`
	Reachability ReachabilityConfig `yaml:"reachability"`
	Log          LogConfig          `yaml:"log"`

	MetricsAddr string   `yaml:"metrics_addr"` // пусто - метрики не публикуются
	Subscribe   []string `yaml:"subscribe"`
}

type CAConfig struct {
	Resource string `yaml:"resource"`
	Dir      string `yaml:"dir"`      // каталог с ресурсами приложения
	FromEnv  bool   `yaml:"from_env"` // resource - имя переменной с base64 сертификатом
}

type ReconnectConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      float64       `yaml:"jitter"`
}

type ReachabilityConfig struct {
	Mode    string        `yaml:"mode"`
	Address string        `yaml:"address"` // для mode: dial
	Timeout time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Debug  bool   `yaml:"debug"` // логировать каждый кадр
}

func Default() Config {
	return Config{
		CA: CAConfig{
			Resource: "ca.crt",
			Dir:      ".",
		},
		HandshakeTimeout:  ws.DefaultHandshakeTimeout,
		HeartbeatInterval: ws.DefaultHeartbeatInterval,
		WriteTimeout:      ws.DefaultWriteTimeout,
		MaxMissedPongs:    ws.DefaultMaxMissedPongs,
		CAExpiryWarning:   ws.DefaultCAExpiryWarning,
		Reconnect: ReconnectConfig{
			Interval:   ws.DefaultReconnectInterval,
			Multiplier: 1,
		},
		Reachability: ReachabilityConfig{
			Mode:    ReachabilityInterfaces,
			Timeout: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatText,
		},
	}
}

// Load читает YAML поверх значений по умолчанию и проверяет результат.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalid)
	}

	if !strings.HasPrefix(c.URL, "wss://") {
		return fmt.Errorf("%w: url must use wss scheme, got %q", ErrInvalid, c.URL)
	}

	if c.CA.Resource == "" {
		return fmt.Errorf("%w: ca.resource is required", ErrInvalid)
	}

	if c.Reconnect.Multiplier < 0 {
		return fmt.Errorf("%w: reconnect.multiplier must not be negative, got %v", ErrInvalid, c.Reconnect.Multiplier)
	}

	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		return fmt.Errorf("%w: reconnect.jitter must be between 0 and 1, got %v", ErrInvalid, c.Reconnect.Jitter)
	}

	switch c.Reachability.Mode {
	case ReachabilityInterfaces, ReachabilityAlways:
	case ReachabilityDial:
		if c.Reachability.Address == "" {
			return fmt.Errorf("%w: reachability.address is required for mode %q", ErrInvalid, ReachabilityDial)
		}
	default:
		return fmt.Errorf("%w: unknown reachability.mode %q", ErrInvalid, c.Reachability.Mode)
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}

	switch c.Log.Format {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("%w: unknown log.format %q", ErrInvalid, c.Log.Format)
	}

	return nil
}

// Logger создаёт slog логгер в формате из конфигурации.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}

	if c.Log.Debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	if c.Log.Format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func (c *Config) Resources() ws.ResourceLoader {
	if c.CA.FromEnv {
		return ws.EnvLoader{}
	}

	dir := c.CA.Dir
	if dir == "" {
		dir = "."
	}

	return ws.FSLoader{FS: os.DirFS(dir)}
}

func (c *Config) ReachabilityMonitor() ws.Reachability {
	switch c.Reachability.Mode {
	case ReachabilityAlways:
		return ws.AlwaysReachable
	case ReachabilityDial:
		return ws.DialReachability{Address: c.Reachability.Address, Timeout: c.Reachability.Timeout}
	default:
		return ws.InterfaceReachability{}
	}
}

// ClientConfig собирает конфигурацию клиента.
func (c *Config) ClientConfig(logger *slog.Logger, metrics *ws.Metrics) ws.ClientConfig {
	cfg := ws.DefaultClientConfig(c.URL, c.CA.Resource, c.Resources())

	cfg.Origin = c.Origin
	cfg.HandshakeTimeout = c.HandshakeTimeout
	cfg.HeartbeatInterval = c.HeartbeatInterval
	cfg.WriteTimeout = c.WriteTimeout
	cfg.MaxMissedPongs = c.MaxMissedPongs
	cfg.CAExpiryWarning = c.CAExpiryWarning
	cfg.ReconnectInterval = c.Reconnect.Interval
	cfg.ReconnectMaxInterval = c.Reconnect.MaxInterval
	cfg.ReconnectMultiplier = c.Reconnect.Multiplier
	cfg.ReconnectJitter = c.Reconnect.Jitter
	cfg.Reachability = c.ReachabilityMonitor()
	cfg.Debug = c.Log.Debug
	cfg.Metrics = metrics

	if logger != nil {
		cfg.Logger = logger
	}

	if len(c.Header) > 0 {
		cfg.Header = make(http.Header, len(c.Header))
		for k, v := range c.Header {
			cfg.Header.Set(k, v)
		}
	}

	return cfg
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level

	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: unknown log.level %q", ErrInvalid, s)
	}

	return level, nil
}
