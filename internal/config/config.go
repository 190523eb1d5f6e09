package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr  = ":8080"
	defaultDBPath      = "stepwise.db"
	defaultPlanDir     = "plans"
	defaultFileTimeout = 10 * time.Second

	envConfigFile  = "STEPWISE_CONFIG"
	envListenAddr  = "STEPWISE_LISTEN_ADDR"
	envDBPath      = "STEPWISE_DB_PATH"
	envLogLevel    = "STEPWISE_LOG_LEVEL"
	envPlanDir     = "STEPWISE_PLAN_DIR"
	envFileTimeout = "STEPWISE_FILE_TIMEOUT"
	envImportGlob  = "STEPWISE_IMPORT_GLOB"

	memoryDBPath = ":memory:"
)

// Config holds application configuration. Values come from defaults, then
// an optional YAML file named by STEPWISE_CONFIG, then environment variables.
type Config struct {
	ListenAddr  string
	DBPath      string
	LogLevel    slog.Level
	PlanDir     string
	FileTimeout time.Duration
	ImportGlob  string
}

// fileConfig mirrors the YAML file. Pointers distinguish absent keys from
// empty values.
type fileConfig struct {
	ListenAddr  *string `yaml:"listen_addr"`
	DBPath      *string `yaml:"db_path"`
	LogLevel    *string `yaml:"log_level"`
	PlanDir     *string `yaml:"plan_dir"`
	FileTimeout *string `yaml:"file_timeout"`
	ImportGlob  *string `yaml:"import_glob"`
}

// Load builds the configuration, reading the YAML file named by
// STEPWISE_CONFIG when it is set.
func Load() (Config, error) {
	return LoadFrom(os.Getenv(envConfigFile))
}

// LoadFrom is Load with an explicit config file path. An empty path skips
// the file.
func LoadFrom(path string) (Config, error) {
	cfg := Config{
		ListenAddr:  defaultListenAddr,
		DBPath:      defaultDBPath,
		LogLevel:    slog.LevelInfo,
		PlanDir:     defaultPlanDir,
		FileTimeout: defaultFileTimeout,
	}

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.ListenAddr != nil {
		c.ListenAddr = *fc.ListenAddr
	}
	if fc.DBPath != nil {
		c.DBPath = *fc.DBPath
	}
	if fc.LogLevel != nil {
		c.LogLevel = parseLogLevel(*fc.LogLevel)
	}
	if fc.PlanDir != nil {
		c.PlanDir = *fc.PlanDir
	}
	if fc.FileTimeout != nil {
		d, err := parseTimeout(*fc.FileTimeout)
		if err != nil {
			return fmt.Errorf("config file %s: file_timeout: %w", path, err)
		}
		c.FileTimeout = d
	}
	if fc.ImportGlob != nil {
		c.ImportGlob = *fc.ImportGlob
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envPlanDir); v != "" {
		c.PlanDir = v
	}
	if v := os.Getenv(envFileTimeout); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envFileTimeout, err)
		}
		c.FileTimeout = d
	}
	if v := os.Getenv(envImportGlob); v != "" {
		c.ImportGlob = v
	}
	return nil
}

// MemoryOnly reports whether plans should not be persisted at all.
func (c Config) MemoryOnly() bool {
	return c.DBPath == "" || c.DBPath == memoryDBPath
}

func parseTimeout(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
