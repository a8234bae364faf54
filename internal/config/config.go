// Package config loads sheetsql settings from defaults, a YAML file,
// SHEETSQL_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment overrides, e.g. SHEETSQL_DISPLAY_LIMIT.
const EnvPrefix = "SHEETSQL_"

// FileName is the configuration file looked up in the working and home directories.
const FileName = "sheetsql.yaml"

// Defaults
const (
	DefaultEngine         = "sqlite"
	DefaultOutputFormat   = "table"
	DefaultDisplayLimit   = 50
	DefaultMaxColWidth    = 40
	DefaultHeaderScanRows = 10
	DefaultTypeSampleRows = 1000
	DefaultChunkSize      = 1000
	DefaultLogLevel       = "warn"
	DefaultLogFormat      = "text"
	DefaultWatchInterval  = 5 * time.Second
)

// OutputFormats are the names accepted by output_format.
var OutputFormats = []string{"table", "csv", "tsv", "json", "jsonl", "markdown", "vertical"}

// Config holds every setting.
type Config struct {
	Engine           string        `koanf:"engine" yaml:"engine"`
	OutputFormat     string        `koanf:"output_format" yaml:"output_format"`
	DisplayLimit     int           `koanf:"display_limit" yaml:"display_limit"`
	MaxColWidth      int           `koanf:"max_col_width" yaml:"max_col_width"`
	HeaderRow        int           `koanf:"header_row" yaml:"header_row"`
	HeaderScanRows   int           `koanf:"header_scan_rows" yaml:"header_scan_rows"`
	TypeSampleRows   int           `koanf:"type_sample_rows" yaml:"type_sample_rows"`
	ChunkSize        int           `koanf:"chunk_size" yaml:"chunk_size"`
	MemoryLimitMB    int64         `koanf:"memory_limit_mb" yaml:"memory_limit_mb"`
	Strict           bool          `koanf:"strict" yaml:"strict"`
	Timing           bool          `koanf:"timing" yaml:"timing"`
	Color            bool          `koanf:"color" yaml:"color"`
	ShowSQL          bool          `koanf:"show_sql" yaml:"show_sql"`
	AllowExpressions bool          `koanf:"allow_expressions" yaml:"allow_expressions"`
	FailOnError      bool          `koanf:"fail_on_error" yaml:"fail_on_error"`
	HistoryFile      string        `koanf:"history_file" yaml:"history_file"`
	LogLevel         string        `koanf:"log_level" yaml:"log_level"`
	LogFormat        string        `koanf:"log_format" yaml:"log_format"`
	WatchInterval    time.Duration `koanf:"watch_interval" yaml:"watch_interval"`

	// FileUsed is the configuration file that was read, if any.
	FileUsed string `koanf:"-" yaml:"-"`
}

func defaults() map[string]any {
	return map[string]any{
		"engine":            DefaultEngine,
		"output_format":     DefaultOutputFormat,
		"display_limit":     DefaultDisplayLimit,
		"max_col_width":     DefaultMaxColWidth,
		"header_row":        0,
		"header_scan_rows":  DefaultHeaderScanRows,
		"type_sample_rows":  DefaultTypeSampleRows,
		"chunk_size":        DefaultChunkSize,
		"memory_limit_mb":   0,
		"strict":            false,
		"timing":            false,
		"color":             true,
		"show_sql":          false,
		"allow_expressions": false,
		"fail_on_error":     true,
		"history_file":      "",
		"log_level":         DefaultLogLevel,
		"log_format":        DefaultLogFormat,
		"watch_interval":    DefaultWatchInterval.String(),
	}
}

// Default returns the configuration with no file, environment or flags applied.
func Default() *Config {
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(defaults(), "."), nil)
	var cfg Config
	_ = k.Unmarshal("", &cfg)
	return &cfg
}

// flagKeys maps flag names that differ from their configuration key.
var flagKeys = map[string]string{
	"format":   "output_format",
	"limit":    "display_limit",
	"interval": "watch_interval",
}

// FlagKey returns the configuration key a flag sets.
func FlagKey(name string) string {
	if key, ok := flagKeys[name]; ok {
		return key
	}
	return strings.ReplaceAll(name, "-", "_")
}

// findFile picks the configuration file: explicit, then ./sheetsql.yaml,
// then $HOME/.sheetsql.yaml.
func findFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(FileName); err == nil {
		return FileName
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, "."+FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Load reads configuration. Precedence, highest first: flags that were
// set, SHEETSQL_* environment variables, the configuration file, defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// SHEETSQL_DISPLAY_LIMIT -> display_limit
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return FlagKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.FileUsed = used
	return &cfg, nil
}

// Validate checks enumerations and ranges, reporting every problem.
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(key, value string, allowed ...string) {
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value))
	}
	atLeast := func(key string, value, low int) {
		if value < low {
			errs = append(errs, fmt.Errorf("%s must be at least %d, got %d", key, low, value))
		}
	}

	oneOf("engine", c.Engine, "sqlite", "duckdb")
	oneOf("output_format", c.OutputFormat, OutputFormats...)
	oneOf("log_level", c.LogLevel, "debug", "info", "warn", "error")
	oneOf("log_format", c.LogFormat, "text", "json")
	atLeast("display_limit", c.DisplayLimit, 0)
	atLeast("max_col_width", c.MaxColWidth, 0)
	atLeast("header_row", c.HeaderRow, 0)
	atLeast("header_scan_rows", c.HeaderScanRows, 1)
	atLeast("type_sample_rows", c.TypeSampleRows, 1)
	atLeast("chunk_size", c.ChunkSize, 1)
	if c.MemoryLimitMB < 0 {
		errs = append(errs, fmt.Errorf("memory_limit_mb must not be negative, got %d", c.MemoryLimitMB))
	}
	if c.WatchInterval <= 0 {
		errs = append(errs, fmt.Errorf("watch_interval must be positive, got %s", c.WatchInterval))
	}
	return errors.Join(errs...)
}

// RegisterFlags adds the flags that override configuration keys.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("engine", DefaultEngine, "SQL engine: sqlite or duckdb")
	fs.StringP("format", "f", DefaultOutputFormat, "output format: "+strings.Join(OutputFormats, ", "))
	fs.Int("limit", DefaultDisplayLimit, "maximum rows to display (0 for no limit)")
	fs.Int("max-col-width", DefaultMaxColWidth, "maximum cell width in table output (0 for no limit)")
	fs.Int("header-row", 0, "default 1-based header row (0 infers it)")
	fs.Int("header-scan-rows", DefaultHeaderScanRows, "rows sampled when inferring the header row")
	fs.Int("type-sample-rows", DefaultTypeSampleRows, "rows sampled when inferring column types")
	fs.Int("chunk-size", DefaultChunkSize, "rows read per batch")
	fs.Int64("memory-limit-mb", 0, "abort loads above this heap size in MB (0 disables)")
	fs.Bool("strict", false, "require a {Sheet} placeholder in every query")
	fs.Bool("timing", false, "print query timing")
	fs.Bool("color", true, "colorize output")
	fs.Bool("show-sql", false, "print the rewritten SQL before running it")
	fs.Bool("allow-expressions", false, "evaluate full mapping expressions")
	fs.Bool("fail-on-error", true, "stop a mapping on the first error")
	fs.String("history-file", "", "REPL history file")
	fs.String("log-level", DefaultLogLevel, "log level: debug, info, warn, error")
	fs.String("log-format", DefaultLogFormat, "log format: text or json")
	fs.Duration("interval", DefaultWatchInterval, "watch interval")
}
