// Package config loads gitinspect settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/gitinspect/pkg/observability"
	"github.com/Sumatoshi-tech/gitinspect/pkg/report"
)

// Sentinel validation errors.
var (
	ErrInvalidWorkers  = errors.New("blame workers must not be negative")
	ErrInvalidFormat   = errors.New("invalid output format")
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrInvalidTopFiles = errors.New("top files must not be below -1")
)

// Default configuration values.
const (
	DefaultBranch    = "HEAD"
	DefaultFormat    = "text"
	DefaultLogLevel  = "info"
	DefaultFileTypes = "java,c,cc,cpp,h,hh,hpp,py,glsl,rb,js,sql"
	DefaultTopFiles  = 5

	configName = ".gitinspect"
	envPrefix  = "GITINSPECT"
)

// Config holds all gitinspect settings.
type Config struct {
	Blame     BlameConfig     `mapstructure:"blame"`
	Filters   FiltersConfig   `mapstructure:"filters"`
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// BlameConfig selects what is blamed and how.
type BlameConfig struct {
	Branch    string `mapstructure:"branch"`
	Since     string `mapstructure:"since"`
	FileTypes string `mapstructure:"file_types"`
	Workers   int    `mapstructure:"workers"`
	Weeks     bool   `mapstructure:"weeks"`
	// Hard enables copy and move detection.
	Hard bool `mapstructure:"hard"`
}

// FiltersConfig holds exclusion rules in "category:pattern" form.
type FiltersConfig struct {
	Exclude []string `mapstructure:"exclude"`
	// Glob treats file_in and file_out patterns as shell globs.
	Glob bool `mapstructure:"glob"`
}

// OutputConfig selects the report rendering.
type OutputConfig struct {
	Format   string `mapstructure:"format"`
	TopFiles int    `mapstructure:"top_files"`
	Progress bool   `mapstructure:"progress"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig holds OpenTelemetry and metrics export configuration.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	// SampleRatio is the fraction of blame runs traced. Zero traces all.
	SampleRatio float64 `mapstructure:"sample_ratio"`
	// MetricsOut is a file receiving a Prometheus text snapshot after the run.
	MetricsOut string `mapstructure:"metrics_out"`
}

// LoadConfig reads configPath, or .gitinspect.yaml from the working directory
// or the home directory when configPath is empty, then applies GITINSPECT_*
// environment overrides. A missing implicit file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	readErr := v.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := v.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("blame.branch", DefaultBranch)
	v.SetDefault("blame.since", "")
	v.SetDefault("blame.file_types", DefaultFileTypes)
	v.SetDefault("blame.workers", 0)
	v.SetDefault("blame.weeks", false)
	v.SetDefault("blame.hard", false)

	v.SetDefault("filters.exclude", []string{})
	v.SetDefault("filters.glob", false)

	v.SetDefault("output.format", DefaultFormat)
	v.SetDefault("output.top_files", DefaultTopFiles)
	v.SetDefault("output.progress", true)

	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.json", false)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", false)
	v.SetDefault("telemetry.sample_ratio", 0.0)
	v.SetDefault("telemetry.metrics_out", "")
}

// Validate checks the values that cannot be rejected by their type alone.
func (c *Config) Validate() error {
	if c.Blame.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Blame.Workers)
	}

	if c.Output.TopFiles < -1 {
		return fmt.Errorf("%w: %d", ErrInvalidTopFiles, c.Output.TopFiles)
	}

	_, err := report.ParseFormat(c.Output.Format)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	_, err = observability.ParseLevel(c.Logging.Level)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLogLevel, err)
	}

	return nil
}

// FileTypeList splits the comma-separated extension list.
func (b BlameConfig) FileTypeList() []string {
	var out []string

	for _, ext := range strings.Split(b.FileTypes, ",") {
		ext = strings.TrimSpace(ext)
		if ext != "" {
			out = append(out, ext)
		}
	}

	return out
}
