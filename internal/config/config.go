// Package config loads and persists siteseeing settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultFile = "config.json"
	EnvPrefix   = "SITESEEING"

	ShotViewport = "viewport"
	ShotFullPage = "fullpage"
)

// Config holds every persisted setting.
type Config struct {
	OutputDirectory string  `mapstructure:"output_directory"`
	ShotType        string  `mapstructure:"shot_type"`
	ViewportWidth   int     `mapstructure:"viewport_width"`
	ViewportHeight  int     `mapstructure:"viewport_height"`
	ZoomLevel       float64 `mapstructure:"zoom_level"`
	OutputFormat    string  `mapstructure:"output_format"`
	JPEGQuality     int     `mapstructure:"jpeg_quality"`
	ParallelThreads int     `mapstructure:"parallel_threads"`

	Engine                   string `mapstructure:"engine"`
	Timeout                  int    `mapstructure:"timeout"`
	DelayBeforeCapture       int    `mapstructure:"delay_before_capture"`
	ScrollDelay              int    `mapstructure:"scroll_delay"`
	UserAgent                string `mapstructure:"user_agent"`
	IgnoreStatusCodes        []int  `mapstructure:"ignore_status_codes"`
	RespectCertificateErrors bool   `mapstructure:"respect_certificate_errors"`
	UseHTTP2                 bool   `mapstructure:"use_http2"`
	Imprint                  bool   `mapstructure:"imprint"`
	AvoidDuplicates          bool   `mapstructure:"avoid_duplicates"`

	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	File     bool           `mapstructure:"file"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// Load reads path (config.json when empty) on top of the defaults and
// SITESEEING_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := newViper()

	if path == "" {
		path = DefaultFile
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns the built-in settings.
func Default() *Config {
	var cfg Config
	v := viper.New()
	setDefaults(v)
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Save writes the settings to path as JSON, creating parent directories.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return err
		}
	}

	v := viper.New()
	for key, value := range c.settings() {
		v.Set(key, value)
	}
	v.SetConfigType("json")
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to save config %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the capture pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.ShotType {
	case ShotViewport, ShotFullPage:
	default:
		errs = append(errs, fmt.Errorf("shot_type must be %q or %q, got %q", ShotViewport, ShotFullPage, c.ShotType))
	}
	switch c.OutputFormat {
	case "png", "jpeg":
	default:
		errs = append(errs, fmt.Errorf("output_format must be png or jpeg, got %q", c.OutputFormat))
	}
	switch c.Engine {
	case "rod", "chromedp":
	default:
		errs = append(errs, fmt.Errorf("engine must be rod or chromedp, got %q", c.Engine))
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		errs = append(errs, fmt.Errorf("viewport must be positive, got %dx%d", c.ViewportWidth, c.ViewportHeight))
	}
	if c.ZoomLevel < 0.5 || c.ZoomLevel > 2.0 {
		errs = append(errs, fmt.Errorf("zoom_level must be between 0.5 and 2.0, got %v", c.ZoomLevel))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", c.JPEGQuality))
	}
	if c.ParallelThreads < 1 {
		errs = append(errs, fmt.Errorf("parallel_threads must be at least 1, got %d", c.ParallelThreads))
	}
	if c.Timeout < 1 {
		errs = append(errs, fmt.Errorf("timeout must be at least 1 second, got %d", c.Timeout))
	}

	return errors.Join(errs...)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output_directory", "./screenshots")
	v.SetDefault("shot_type", ShotViewport)
	v.SetDefault("viewport_width", 1920)
	v.SetDefault("viewport_height", 1080)
	v.SetDefault("zoom_level", 1.0)
	v.SetDefault("output_format", "png")
	v.SetDefault("jpeg_quality", 85)
	v.SetDefault("parallel_threads", 1)

	v.SetDefault("engine", "rod")
	v.SetDefault("timeout", 30)
	v.SetDefault("delay_before_capture", 2)
	v.SetDefault("scroll_delay", 500)
	v.SetDefault("user_agent", "")
	v.SetDefault("ignore_status_codes", []int{})
	v.SetDefault("respect_certificate_errors", false)
	v.SetDefault("use_http2", false)
	v.SetDefault("imprint", false)
	v.SetDefault("avoid_duplicates", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", false)
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)
}

func (c *Config) settings() map[string]any {
	return map[string]any{
		"output_directory":           c.OutputDirectory,
		"shot_type":                  c.ShotType,
		"viewport_width":             c.ViewportWidth,
		"viewport_height":            c.ViewportHeight,
		"zoom_level":                 c.ZoomLevel,
		"output_format":              c.OutputFormat,
		"jpeg_quality":               c.JPEGQuality,
		"parallel_threads":           c.ParallelThreads,
		"engine":                     c.Engine,
		"timeout":                    c.Timeout,
		"delay_before_capture":       c.DelayBeforeCapture,
		"scroll_delay":               c.ScrollDelay,
		"user_agent":                 c.UserAgent,
		"ignore_status_codes":        c.IgnoreStatusCodes,
		"respect_certificate_errors": c.RespectCertificateErrors,
		"use_http2":                  c.UseHTTP2,
		"imprint":                    c.Imprint,
		"avoid_duplicates":           c.AvoidDuplicates,

		"logging.level":   c.Logging.Level,
		"logging.file":    c.Logging.File,
		"logging.log_dir": c.Logging.LogDir,

		"logging.rotation.max_size":    c.Logging.Rotation.MaxSize,
		"logging.rotation.max_backups": c.Logging.Rotation.MaxBackups,
		"logging.rotation.max_age":     c.Logging.Rotation.MaxAge,
		"logging.rotation.compress":    c.Logging.Rotation.Compress,
	}
}
