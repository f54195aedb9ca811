// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Analyzer() AnalyzerConfig
	Engine() EngineConfig
	Export() ExportConfig
	Database() DatabaseConfig

	// Engine setters, driven by CLI flags.
	SetEngineMaxConcurrentJobs(int)

	// Export setters.
	SetExportStrict(bool)
	SetExportIncludeHeader(bool)
}

// Config holds the entire application configuration. Access goes through the
// Interface getters so call sites can be handed a narrower mock in tests.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	AnalyzerCfg AnalyzerConfig `mapstructure:"analyzer" yaml:"analyzer"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	ExportCfg   ExportConfig   `mapstructure:"export" yaml:"export"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Analyzer() AnalyzerConfig { return c.AnalyzerCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Export() ExportConfig     { return c.ExportCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineMaxConcurrentJobs(n int) { c.EngineCfg.MaxConcurrentJobs = n }
func (c *Config) SetExportStrict(b bool)           { c.ExportCfg.Strict = b }
func (c *Config) SetExportIncludeHeader(b bool)    { c.ExportCfg.IncludeHeaderComment = b }

// LoggerConfig controls the zap logger and log rotation.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AnalyzerConfig carries the detection and rule thresholds.
type AnalyzerConfig struct {
	MacroLookahead      int     `mapstructure:"macro_lookahead" yaml:"macro_lookahead"`
	EndScanWindow       int     `mapstructure:"end_scan_window" yaml:"end_scan_window"`
	BodyTempChangeLimit int     `mapstructure:"body_temp_change_limit" yaml:"body_temp_change_limit"`
	MinBodyTemp         float64 `mapstructure:"min_body_temp" yaml:"min_body_temp"`
	RapidDropDelta      float64 `mapstructure:"rapid_drop_delta" yaml:"rapid_drop_delta"`
	BedOffRemainingMin  int     `mapstructure:"bed_off_remaining_min" yaml:"bed_off_remaining_min"`

	// Speed ceilings in mm/s per printer class.
	StandardPrintLimit   float64 `mapstructure:"standard_print_limit" yaml:"standard_print_limit"`
	StandardTravelLimit  float64 `mapstructure:"standard_travel_limit" yaml:"standard_travel_limit"`
	HighSpeedPrintLimit  float64 `mapstructure:"high_speed_print_limit" yaml:"high_speed_print_limit"`
	HighSpeedTravelLimit float64 `mapstructure:"high_speed_travel_limit" yaml:"high_speed_travel_limit"`
}

// EngineConfig configures the job manager.
type EngineConfig struct {
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	SubmitRate        float64       `mapstructure:"submit_rate" yaml:"submit_rate"` // submissions per second.
	SubmitBurst       int           `mapstructure:"submit_burst" yaml:"submit_burst"`
	JobRetention      time.Duration `mapstructure:"job_retention" yaml:"job_retention"`
}

// ExportConfig carries the delta export defaults.
type ExportConfig struct {
	IncludeHeaderComment bool `mapstructure:"include_header_comment" yaml:"include_header_comment"`
	Strict               bool `mapstructure:"strict" yaml:"strict"`
}

// DatabaseConfig holds the optional result-persistence connection details.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig builds a Config from the stock defaults.
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
	v.SetDefault("logger.service_name", "gtriage")
	v.SetDefault("logger.log_file", "gtriage.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Analyzer --
	v.SetDefault("analyzer.macro_lookahead", 5)
	v.SetDefault("analyzer.end_scan_window", 500)
	v.SetDefault("analyzer.body_temp_change_limit", 4)
	v.SetDefault("analyzer.min_body_temp", 180.0)
	v.SetDefault("analyzer.rapid_drop_delta", 50.0)
	v.SetDefault("analyzer.bed_off_remaining_min", 100)
	v.SetDefault("analyzer.standard_print_limit", 150.0)
	v.SetDefault("analyzer.standard_travel_limit", 200.0)
	v.SetDefault("analyzer.high_speed_print_limit", 500.0)
	v.SetDefault("analyzer.high_speed_travel_limit", 700.0)

	// -- Engine --
	v.SetDefault("engine.max_concurrent_jobs", 4)
	v.SetDefault("engine.submit_rate", 10.0)
	v.SetDefault("engine.submit_burst", 20)
	v.SetDefault("engine.job_retention", "1h")

	// -- Export --
	v.SetDefault("export.include_header_comment", true)
	v.SetDefault("export.strict", false)

	// -- Database --
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.url", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("database.url", "GTRIAGE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("engine.max_concurrent_jobs must be a positive integer")
	}
	if c.EngineCfg.SubmitRate <= 0 {
		return fmt.Errorf("engine.submit_rate must be positive")
	}
	if c.AnalyzerCfg.BodyTempChangeLimit <= 0 {
		return fmt.Errorf("analyzer.body_temp_change_limit must be a positive integer")
	}
	if c.AnalyzerCfg.EndScanWindow <= 0 {
		return fmt.Errorf("analyzer.end_scan_window must be a positive integer")
	}
	if c.AnalyzerCfg.StandardPrintLimit <= 0 || c.AnalyzerCfg.HighSpeedPrintLimit <= 0 {
		return fmt.Errorf("analyzer speed limits must be positive")
	}
	if c.DatabaseCfg.Enabled && c.DatabaseCfg.URL == "" {
		return fmt.Errorf("database.url is required when database.enabled is set")
	}
	return nil
}
