// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/commons-dev-open/reactive/mirror"
	"github.com/commons-dev-open/reactive/pace"
)

// HubConfig sets in-process change hub sizing characteristics.
type HubConfig struct {
	BufferSize int `yaml:"bufferSize"`
}

func (c *HubConfig) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = mirror.DefaultBufferSize
	}
}

type fanoutWorkerKind int

const (
	fanoutWorkerUnset fanoutWorkerKind = iota
	fanoutWorkerExplicit
	fanoutWorkerAuto
	fanoutWorkerDefault
)

// FanoutWorkerSetting encapsulates the fanout worker configuration allowing both numeric and symbolic values.
type FanoutWorkerSetting struct {
	kind  fanoutWorkerKind
	value int
}

// UnmarshalYAML supports integer, "auto", and "default" values for fanout workers.
func (s *FanoutWorkerSetting) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = FanoutWorkerSetting{kind: fanoutWorkerUnset, value: 0}
		return nil
	}

	text := strings.TrimSpace(node.Value)
	if text == "" {
		s.kind = fanoutWorkerUnset
		s.value = 0
		return nil
	}

	lower := strings.ToLower(text)
	switch lower {
	case "auto":
		s.kind = fanoutWorkerAuto
		s.value = 0
		return nil
	case "default":
		s.kind = fanoutWorkerDefault
		s.value = 0
		return nil
	}

	// Attempt numeric parse for both explicit integers and scalar yaml ints.
	val, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("fanoutWorkers: invalid value %q", node.Value)
	}
	if val <= 0 {
		return fmt.Errorf("fanoutWorkers: numeric value must be > 0")
	}
	s.kind = fanoutWorkerExplicit
	s.value = val
	return nil
}

// resolve returns the effective worker count derived from the setting.
func (s FanoutWorkerSetting) resolve() int {
	switch s.kind {
	case fanoutWorkerExplicit:
		return s.value
	case fanoutWorkerAuto:
		if cores := runtime.NumCPU(); cores > 0 {
			return cores
		}
		return 4
	case fanoutWorkerDefault, fanoutWorkerUnset:
		return 4
	default:
		return 4
	}
}

// RelayConfig configures the WebSocket change relay.
type RelayConfig struct {
	Addr          string              `yaml:"addr"`
	WriteInterval time.Duration       `yaml:"writeInterval"`
	WriteBurst    int                 `yaml:"writeBurst"`
	SendBuffer    int                 `yaml:"sendBuffer"`
	MaxFrameBytes int64               `yaml:"maxFrameBytes"`
	PingInterval  time.Duration       `yaml:"pingInterval"`
	FanoutWorkers FanoutWorkerSetting `yaml:"fanoutWorkers"`
}

// FanoutWorkerCount returns the resolved worker count for use by the relay hub.
func (c RelayConfig) FanoutWorkerCount() int {
	return c.FanoutWorkers.resolve()
}

func (c *RelayConfig) applyDefaults() {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = ":7600"
	}
	// The rate-control default window doubles as the per-connection
	// coalescing interval.
	if c.WriteInterval <= 0 {
		c.WriteInterval = pace.DefaultWindow
	}
	if c.WriteBurst <= 0 {
		c.WriteBurst = 8
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 1 << 20
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
}

func (c RelayConfig) validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr required")
	}
	if c.WriteInterval <= 0 {
		return fmt.Errorf("writeInterval must be >0")
	}
	if c.WriteBurst <= 0 {
		return fmt.Errorf("writeBurst must be >0")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("sendBuffer must be >0")
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("maxFrameBytes must be >0")
	}
	if c.FanoutWorkerCount() <= 0 {
		return fmt.Errorf("fanoutWorkers must be >0")
	}
	return nil
}

// APIServerConfig configures the daemon's HTTP control surface.
type APIServerConfig struct {
	Addr         string `yaml:"addr"`
	MaxBodyBytes int64  `yaml:"maxBodyBytes"`
}

func (c *APIServerConfig) applyDefaults() {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	ConnectTimeout    time.Duration `yaml:"connectTimeout"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
	Enabled           bool          `yaml:"enabled"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/reactive"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 8
	}
	if c.MinConns < 0 {
		c.MinConns = 0
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connectTimeout must be >0")
	}
	if c.MaxConnLifetime <= 0 {
		return fmt.Errorf("maxConnLifetime must be >0")
	}
	if c.MaxConnIdleTime <= 0 {
		return fmt.Errorf("maxConnIdleTime must be >0")
	}
	if c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("healthCheckPeriod must be >0")
	}
	return nil
}

// AppConfig is the unified daemon configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Hub         HubConfig       `yaml:"hub"`
	Relay       RelayConfig     `yaml:"relay"`
	APIServer   APIServerConfig `yaml:"apiServer"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Database    DatabaseConfig  `yaml:"database"`
}

// Default returns a fully defaulted development configuration.
func Default() AppConfig {
	cfg := AppConfig{
		Environment: EnvDev,
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "localhost:4318",
			ServiceName:   "reactive",
			OTLPInsecure:  true,
			EnableMetrics: true,
		},
	}
	cfg.applyEnvOverrides()
	cfg.normalise()
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadOrDefault loads the file when present and falls back to Default when the
// path is empty or the file does not exist.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, error) {
	if strings.TrimSpace(configPath) == "" {
		return Default(), nil
	}
	if _, err := os.Stat(filepath.Clean(strings.TrimSpace(configPath))); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(ctx, configPath)
}

// applyEnvOverrides lets deployment environments override the file without
// editing it.
func (c *AppConfig) applyEnvOverrides() {
	if env := strings.TrimSpace(os.Getenv("REACTIVE_ENV")); env != "" {
		c.Environment = Environment(env)
	}
	if dsn := strings.TrimSpace(os.Getenv("REACTIVE_DB_DSN")); dsn != "" {
		c.Database.DSN = dsn
	}
	if addr := strings.TrimSpace(os.Getenv("REACTIVE_RELAY_ADDR")); addr != "" {
		c.Relay.Addr = addr
	}
	if addr := strings.TrimSpace(os.Getenv("REACTIVE_API_ADDR")); addr != "" {
		c.APIServer.Addr = addr
	}
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "reactive"
	}

	c.Hub.applyDefaults()
	c.Relay.applyDefaults()
	c.APIServer.applyDefaults()
	c.Database.applyDefaults()
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if c.Hub.BufferSize <= 0 {
		return fmt.Errorf("hub bufferSize must be >0")
	}

	if err := c.Relay.validate(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	if strings.TrimSpace(c.APIServer.Addr) == "" {
		return fmt.Errorf("apiServer addr required")
	}
	if c.APIServer.MaxBodyBytes <= 0 {
		return fmt.Errorf("apiServer maxBodyBytes must be >0")
	}

	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required")
	}

	if c.Database.Enabled {
		if err := c.Database.validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
