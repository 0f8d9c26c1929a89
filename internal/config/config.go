// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix scopes the environment variables viper consults.
const EnvPrefix = "PAEX"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Engine() EngineConfig
	Taint() TaintConfig
	Server() ServerConfig
	Archive() ArchiveConfig

	// Engine Setters
	SetEngineMaxSteps(int)
	SetEngineWidenAfter(int)

	// Taint Setters
	SetTaintRulesFile(string)
	SetTaintReplaceDefaults(bool)

	// Server Setters
	SetServerAddr(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	EngineCfg  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	TaintCfg   TaintConfig   `mapstructure:"taint" yaml:"taint"`
	ServerCfg  ServerConfig  `mapstructure:"server" yaml:"server"`
	ArchiveCfg ArchiveConfig `mapstructure:"archive" yaml:"archive"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Engine() EngineConfig   { return c.EngineCfg }
func (c *Config) Taint() TaintConfig     { return c.TaintCfg }
func (c *Config) Server() ServerConfig   { return c.ServerCfg }
func (c *Config) Archive() ArchiveConfig { return c.ArchiveCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineMaxSteps(n int)   { c.EngineCfg.MaxSteps = n }
func (c *Config) SetEngineWidenAfter(n int) { c.EngineCfg.WidenAfter = n }

func (c *Config) SetTaintRulesFile(path string)  { c.TaintCfg.RulesFile = path }
func (c *Config) SetTaintReplaceDefaults(b bool) { c.TaintCfg.ReplaceDefaults = b }

func (c *Config) SetServerAddr(addr string) { c.ServerCfg.Addr = addr }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EngineConfig tunes the trace builder.
type EngineConfig struct {
	// MaxSteps is the step ceiling after which a build is declared non-terminating.
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`
	// WidenAfter is the number of plain joins at a loop header before widening kicks in.
	WidenAfter int `mapstructure:"widen_after" yaml:"widen_after"`
	// BuildTimeout bounds one build when the caller supplies no deadline.
	BuildTimeout time.Duration `mapstructure:"build_timeout" yaml:"build_timeout"`
}

// TaintConfig selects the source, sink and sanitizer rules.
type TaintConfig struct {
	RulesFile       string `mapstructure:"rules_file" yaml:"rules_file"`
	ReplaceDefaults bool   `mapstructure:"replace_defaults" yaml:"replace_defaults"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst           int           `mapstructure:"burst" yaml:"burst"`
	Compression     bool          `mapstructure:"compression" yaml:"compression"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ArchiveConfig holds the connection details of the optional PostgreSQL trace archive.
type ArchiveConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	MaxConns    int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pa-explorer")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Engine --
	v.SetDefault("engine.max_steps", 10000)
	v.SetDefault("engine.widen_after", 1)
	v.SetDefault("engine.build_timeout", "10s")

	// -- Taint --
	v.SetDefault("taint.rules_file", "")
	v.SetDefault("taint.replace_defaults", false)

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8088")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.burst", 40)
	v.SetDefault("server.compression", true)
	v.SetDefault("server.max_body_bytes", 64*1024)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.request_timeout", "20s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// -- Archive --
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.database_url", "")
	v.SetDefault("archive.max_conns", 4)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries a password, so it is read from the environment too.
	v.BindEnv("archive.database_url", EnvPrefix+"_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.ArchiveCfg.Enabled && cfg.ArchiveCfg.DatabaseURL == "" {
		cfg.ArchiveCfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.MaxSteps <= 0 {
		return fmt.Errorf("engine.max_steps must be a positive integer")
	}
	if c.EngineCfg.WidenAfter < 0 {
		return fmt.Errorf("engine.widen_after must not be negative")
	}
	if err := c.ServerCfg.Validate(); err != nil {
		return fmt.Errorf("server configuration invalid: %w", err)
	}
	if err := c.ArchiveCfg.Validate(); err != nil {
		return fmt.Errorf("archive configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the server settings.
func (s *ServerConfig) Validate() error {
	var errs []error
	if s.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if s.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	if s.RateLimit > 0 && s.Burst <= 0 {
		errs = append(errs, errors.New("burst must be positive when rate limiting is on"))
	}
	if s.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be a positive integer"))
	}
	return errors.Join(errs...)
}

// Validate checks the archive settings.
func (a *ArchiveConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.DatabaseURL == "" {
		return fmt.Errorf("database_url is required when the archive is enabled. Set it in the config or via %s_DATABASE_URL", EnvPrefix)
	}
	if a.MaxConns <= 0 {
		return fmt.Errorf("max_conns must be a positive integer")
	}
	return nil
}
