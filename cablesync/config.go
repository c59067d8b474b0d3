package cablesync

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/cablesync/cablesync/internal/sheet"
	"github.com/hazyhaar/cablesync/cablesync/internal/store"
	"github.com/hazyhaar/cablesync/horosafe"
)

// Config holds the full cablesync configuration.
type Config struct {
	Listen              string   `yaml:"listen"`
	DBPath              string   `yaml:"db_path"`
	ObservabilityDBPath string   `yaml:"observability_db_path"`
	BlobDir             string   `yaml:"blob_dir"` // empty disables raw file retention
	MaxFileMB           int      `yaml:"max_file_mb"`
	ChunkSize           int      `yaml:"chunk_size"`
	BusyTimeoutMS       int      `yaml:"busy_timeout_ms"` // zero keeps the driver default
	HeaderScanRows      int      `yaml:"header_scan_rows"`
	JWTSecret           string   `yaml:"jwt_secret"` // empty disables authentication
	ImportRoles         []string `yaml:"import_roles"`
	LogLevel            string   `yaml:"log_level"`
	// TraceSQL opens the store through a SQL tracer. Traces are kept
	// in the observability database when one is configured.
	TraceSQL    bool `yaml:"trace_sql"`
	SlowQueryMS int  `yaml:"slow_query_ms"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:              ":8085",
		DBPath:              "cablesync.db",
		ObservabilityDBPath: "cablesync_obs.db",
		MaxFileMB:           50,
		ChunkSize:           store.DefaultChunkSize,
		HeaderScanRows:      sheet.DefaultHeaderScanRows,
		LogLevel:            "info",
	}
}

// LoadConfig reads and parses a YAML config file over DefaultConfig, then
// applies CABLESYNC_* environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	for name, dst := range map[string]*string{
		"CABLESYNC_LISTEN":     &c.Listen,
		"CABLESYNC_DB_PATH":    &c.DBPath,
		"CABLESYNC_JWT_SECRET": &c.JWTSecret,
		"CABLESYNC_LOG_LEVEL":  &c.LogLevel,
	} {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.MaxFileMB <= 0 {
		return fmt.Errorf("max_file_mb must be > 0")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be > 0")
	}
	if c.HeaderScanRows <= 0 {
		return fmt.Errorf("header_scan_rows must be > 0")
	}
	if c.JWTSecret != "" {
		if err := horosafe.ValidateSecret([]byte(c.JWTSecret)); err != nil {
			return fmt.Errorf("jwt_secret: %w", err)
		}
	}
	if len(c.ImportRoles) > 0 && c.JWTSecret == "" {
		return fmt.Errorf("import_roles requires jwt_secret")
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.BusyTimeoutMS < 0 {
		return fmt.Errorf("busy_timeout_ms must be >= 0")
	}
	if c.SlowQueryMS < 0 {
		return fmt.Errorf("slow_query_ms must be >= 0")
	}
	return nil
}

// MaxFileBytes returns max file size in bytes.
func (c *Config) MaxFileBytes() int64 { return int64(c.MaxFileMB) * 1024 * 1024 }

// SlowQuery returns the slow SQL threshold, zero meaning the tracer default.
func (c *Config) SlowQuery() time.Duration { return time.Duration(c.SlowQueryMS) * time.Millisecond }

// SlogLevel returns the configured log level, info when unparseable.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
