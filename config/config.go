// Package config loads tabdelta settings from YAML with viper.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the working directory.
const FileName = ".tabdelta.yaml"

// --- Configuration Structs ---

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type DiffConfig struct {
	FloatEpsilon  float64  `mapstructure:"float_epsilon"`
	BatchSize     int      `mapstructure:"batch_size"`
	Workers       int      `mapstructure:"workers"`
	IgnoreColumns []string `mapstructure:"ignore_columns"`
}

// DatasetConfig holds per-dataset settings keyed by dataset path.
type DatasetConfig struct {
	Path       string   `mapstructure:"path"`
	KeyColumns []string `mapstructure:"key_columns"`
	Format     string   `mapstructure:"format"`
	Delimiter  string   `mapstructure:"delimiter"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type Config struct {
	Repository string          `mapstructure:"repository"`
	Output     string          `mapstructure:"output"`
	Log        LogConfig       `mapstructure:"log"`
	Diff       DiffConfig      `mapstructure:"diff"`
	Datasets   []DatasetConfig `mapstructure:"datasets"`
	Server     ServerConfig    `mapstructure:"server"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Repository: ".",
		Output:     "text",
		Log:        LogConfig{Level: "info"},
		Diff:       DiffConfig{BatchSize: 4096, Workers: 4},
		Server:     ServerConfig{Port: 8080},
	}
}

// --- Load Configuration ---

// LoadConfig reads configPath over the defaults. An empty path reads
// FileName from the working directory when it exists.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath == "" {
		if _, err := os.Stat(FileName); err == nil {
			configPath = FileName
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("repository", d.Repository)
	v.SetDefault("output", d.Output)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("diff.batch_size", d.Diff.BatchSize)
	v.SetDefault("diff.workers", d.Diff.Workers)
	v.SetDefault("server.port", d.Server.Port)
}

// Dataset returns the settings for path, if any.
func (c *Config) Dataset(path string) (DatasetConfig, bool) {
	for _, d := range c.Datasets {
		if d.Path == path {
			return d, true
		}
	}
	return DatasetConfig{}, false
}

// --- Validation Functions ---

// validate is a helper function to reduce repetition.
func validate(condition bool, format string, a ...any) error {
	if !condition {
		return fmt.Errorf(format, a...)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validate(c.Output == "text" || c.Output == "json" || c.Output == "html", "unknown output format %q", c.Output); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log configuration error: %w", err)
	}
	if err := c.Diff.Validate(); err != nil {
		return fmt.Errorf("diff configuration error: %w", err)
	}
	seen := make(map[string]bool, len(c.Datasets))
	for i := range c.Datasets {
		d := &c.Datasets[i]
		if err := d.Validate(); err != nil {
			return fmt.Errorf("dataset '%s' validation failed: %w", d.Path, err)
		}
		if seen[d.Path] {
			return fmt.Errorf("dataset '%s' configured twice", d.Path)
		}
		seen[d.Path] = true
	}
	return c.Server.Validate()
}

func (lc *LogConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("unknown log level %q", lc.Level)
}

func (dc *DiffConfig) Validate() error {
	if err := validate(dc.FloatEpsilon >= 0, "float epsilon must not be negative"); err != nil {
		return err
	}
	if err := validate(dc.BatchSize > 0, "batch size must be positive"); err != nil {
		return err
	}
	return validate(dc.Workers > 0, "workers must be positive")
}

func (dc *DatasetConfig) Validate() error {
	if err := validate(dc.Path != "", "dataset path is required"); err != nil {
		return err
	}
	for _, k := range dc.KeyColumns {
		if k == "" {
			return errors.New("key columns must not be empty")
		}
	}
	if dc.Format != "" {
		if err := validate(dc.Format == "csv" || dc.Format == "parquet" || dc.Format == "arrow", "unknown dataset format %q", dc.Format); err != nil {
			return err
		}
	}
	return validate(len([]rune(dc.Delimiter)) <= 1, "delimiter must be a single character")
}

// DelimiterRune returns the CSV delimiter, or zero for the default.
func (dc DatasetConfig) DelimiterRune() rune {
	for _, r := range dc.Delimiter {
		return r
	}
	return 0
}

func (sc *ServerConfig) Validate() error {
	return validate(sc.Port > 0 && sc.Port < 65536, "server port %d out of range", sc.Port)
}
