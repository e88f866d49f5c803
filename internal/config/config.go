package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engines   EnginesConfig   `yaml:"engines"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Static    StaticConfig    `yaml:"static"`
	Database  DatabaseConfig  `yaml:"database"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	TLS       TLSConfig       `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EnginesConfig locates the two numerical engines and bounds how they run.
type EnginesConfig struct {
	Dir              string        `yaml:"dir"`           // Directory holding the engine executables
	FactorBinary     string        `yaml:"factor_binary"` // Empty means the platform default name
	HestonBinary     string        `yaml:"heston_binary"`
	WorkDir          string        `yaml:"work_dir"` // Root for per-run working areas
	EngineTimeout    time.Duration `yaml:"engine_timeout"`
	PipelineTimeout  time.Duration `yaml:"pipeline_timeout"`
	Workers          int           `yaml:"workers"`
	OrphanMaxAge     time.Duration `yaml:"orphan_max_age"`
	MaxStderrBytes   int           `yaml:"max_stderr_bytes"`
	MaxArtifactBytes int64         `yaml:"max_artifact_bytes"`
}

// RateLimitConfig sets per-client request ceilings.
type RateLimitConfig struct {
	DefaultPerMinute  int `yaml:"default_per_minute"`
	SimulatePerMinute int `yaml:"simulate_per_minute"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

type StaticConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AuditBuffer     int           `yaml:"audit_buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig toggles OpenTelemetry spans. The exporter is whatever global
// TracerProvider the process installs; disabled means a no-op tracer.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from env or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    150 * time.Second, // > pipeline timeout + overhead
			ShutdownTimeout: 30 * time.Second,
		},
		Engines: EnginesConfig{
			Dir:              executableDir(),
			WorkDir:          filepath.Join(os.TempDir(), "factor-heston-sim"),
			EngineTimeout:    60 * time.Second,
			PipelineTimeout:  120 * time.Second,
			Workers:          4,
			OrphanMaxAge:     time.Hour,
			MaxStderrBytes:   64 * 1024,
			MaxArtifactBytes: 64 << 20,
		},
		RateLimit: RateLimitConfig{
			DefaultPerMinute:  20,
			SimulatePerMinute: 10,
		},
		CORS: CORSConfig{
			AllowedOrigins:   []string{"https://kennnguyendev.com", "https://www.kennnguyendev.com"},
			AllowedMethods:   []string{"GET"},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
		},
		Static: StaticConfig{
			Enabled: true,
			Dir:     "static",
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        1,
			ConnMaxLifetime: 5 * time.Minute,
			AuditBuffer:     10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
		},
	}
}

// ApplyEnv overrides selected fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		} else {
			log.Warn().Str("port", v).Msg("ignoring non-numeric PORT")
		}
	}
	if v := os.Getenv("ENGINE_DIR"); v != "" {
		c.Engines.Dir = v
	}
	if v := os.Getenv("WORK_DIR"); v != "" {
		c.Engines.WorkDir = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Engines.EngineTimeout <= 0 || c.Engines.PipelineTimeout <= 0 {
		return fmt.Errorf("engines.engine_timeout and engines.pipeline_timeout must be positive")
	}
	if c.Engines.EngineTimeout > c.Engines.PipelineTimeout {
		return fmt.Errorf("engines.engine_timeout (%s) must be <= pipeline_timeout (%s)",
			c.Engines.EngineTimeout, c.Engines.PipelineTimeout)
	}
	if c.Server.WriteTimeout <= c.Engines.PipelineTimeout {
		return fmt.Errorf("server.write_timeout (%s) must exceed engines.pipeline_timeout (%s)",
			c.Server.WriteTimeout, c.Engines.PipelineTimeout)
	}
	if c.Engines.Workers < 1 {
		return fmt.Errorf("engines.workers must be >= 1")
	}
	if c.Engines.OrphanMaxAge < 2*c.Engines.PipelineTimeout {
		return fmt.Errorf("engines.orphan_max_age (%s) must be at least twice engines.pipeline_timeout (%s)",
			c.Engines.OrphanMaxAge, c.Engines.PipelineTimeout)
	}
	if c.Engines.WorkDir == "" || !filepath.IsAbs(c.Engines.WorkDir) {
		return fmt.Errorf("engines.work_dir: %q must be an absolute path", c.Engines.WorkDir)
	}
	if c.Engines.MaxStderrBytes < 1 || c.Engines.MaxArtifactBytes < 1 {
		return fmt.Errorf("engines.max_stderr_bytes and engines.max_artifact_bytes must be positive")
	}
	if c.RateLimit.DefaultPerMinute < 1 || c.RateLimit.SimulatePerMinute < 1 {
		return fmt.Errorf("rate_limit ceilings must be >= 1 per minute")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// executableDir is where the engines are expected to live by default, next to the server binary.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
