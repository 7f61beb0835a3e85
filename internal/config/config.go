// Package config loads worker settings from an optional YAML file, a .env
// file and PROGRAMMODEL_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dshills/programmodel/internal/archive"
	"github.com/dshills/programmodel/internal/logging"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PROGRAMMODEL_"

// Defaults
const (
	DefaultDBPath       = "programmodel.db"
	DefaultPython       = "python3"
	DefaultGraphDBURL   = "ws://graphdb:8182/gremlin"
	DefaultBaseImageURL = "gcr.io/oss-fuzz"
	DefaultSleepTime    = time.Second
	DefaultClaimTimeout = 10 * time.Minute
	DefaultLogLevel     = "info"
)

var (
	ErrMissingDBPath  = errors.New("db_path is required")
	ErrMissingWorkDir = errors.New("work_dir is required")
)

// ArchiveConfig controls remote archival of CodeQuery indexes
type ArchiveConfig struct {
	Enabled        bool `yaml:"enabled"`
	archive.Config `yaml:",inline"`
}

// Config holds the worker settings
type Config struct {
	DBPath    string `yaml:"db_path"`
	WorkDir   string `yaml:"work_dir"`
	ScriptDir string `yaml:"script_dir"`
	KytheDir  string `yaml:"kythe_dir"`
	Python    string `yaml:"python"`

	GraphDBURL     string `yaml:"graphdb_url"`
	GraphDBEnabled bool   `yaml:"graphdb_enabled"`

	AllowPull          bool   `yaml:"allow_pull"`
	BaseImageURL       string `yaml:"base_image_url"`
	ReconcileOwnership bool   `yaml:"reconcile_ownership"`

	SleepTime    time.Duration `yaml:"sleep_time"`
	ClaimTimeout time.Duration `yaml:"claim_timeout"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Archive ArchiveConfig `yaml:"archive"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		DBPath:             DefaultDBPath,
		Python:             DefaultPython,
		GraphDBURL:         DefaultGraphDBURL,
		GraphDBEnabled:     true,
		AllowPull:          true,
		BaseImageURL:       DefaultBaseImageURL,
		ReconcileOwnership: true,
		SleepTime:          DefaultSleepTime,
		ClaimTimeout:       DefaultClaimTimeout,
		LogLevel:           DefaultLogLevel,
		LogFormat:          logging.FormatJSON,
	}
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error. A missing .env file is ignored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.GraphDBURL == "" {
		cfg.GraphDBURL = DefaultGraphDBURL
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the service cannot start without. Missing
// tool directories are not fatal: the strategy that needs them fails per task.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return ErrMissingDBPath
	}
	if c.WorkDir == "" {
		return ErrMissingWorkDir
	}
	if c.SleepTime <= 0 {
		return fmt.Errorf("sleep_time must be positive, got %s", c.SleepTime)
	}
	if c.ClaimTimeout <= 0 {
		return fmt.Errorf("claim_timeout must be positive, got %s", c.ClaimTimeout)
	}
	switch c.LogFormat {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		return fmt.Errorf("log_format must be %q or %q, got %q", logging.FormatJSON, logging.FormatConsole, c.LogFormat)
	}
	if c.Archive.Enabled {
		if err := c.Archive.Validate(); err != nil {
			return fmt.Errorf("invalid archive settings: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"DB_PATH":            &c.DBPath,
		"WORK_DIR":           &c.WorkDir,
		"SCRIPT_DIR":         &c.ScriptDir,
		"KYTHE_DIR":          &c.KytheDir,
		"PYTHON":             &c.Python,
		"GRAPHDB_URL":        &c.GraphDBURL,
		"LOG_LEVEL":          &c.LogLevel,
		"LOG_FORMAT":         &c.LogFormat,
		"ARCHIVE_ENDPOINT":   &c.Archive.Endpoint,
		"ARCHIVE_REGION":     &c.Archive.Region,
		"ARCHIVE_ACCESS_KEY": &c.Archive.AccessKey,
		"ARCHIVE_SECRET_KEY": &c.Archive.SecretKey,
		"ARCHIVE_BUCKET":     &c.Archive.Bucket,
		"ARCHIVE_PREFIX":     &c.Archive.Prefix,
	}

	// The OSS-Fuzz image org is shared with the rest of the pipeline
	if org := strings.TrimSpace(os.Getenv("OSS_FUZZ_CONTAINER_ORG")); org != "" {
		c.BaseImageURL = org
	}
	strs["BASE_IMAGE_URL"] = &c.BaseImageURL

	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	bools := map[string]*bool{
		"GRAPHDB_ENABLED":     &c.GraphDBEnabled,
		"ALLOW_PULL":          &c.AllowPull,
		"RECONCILE_OWNERSHIP": &c.ReconcileOwnership,
		"ARCHIVE_ENABLED":     &c.Archive.Enabled,
		"ARCHIVE_USE_SSL":     &c.Archive.UseSSL,
	}
	for key, dst := range bools {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}

	durations := map[string]*time.Duration{
		"SLEEP_TIME":    &c.SleepTime,
		"CLAIM_TIMEOUT": &c.ClaimTimeout,
	}
	for key, dst := range durations {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		d, err := parseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
	}
	return nil
}

// parseDuration accepts Go durations and bare numbers of seconds
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func (c *Config) resolvePaths() error {
	for _, p := range []*string{&c.DBPath, &c.WorkDir, &c.ScriptDir, &c.KytheDir} {
		if *p == "" || *p == ":memory:" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}
