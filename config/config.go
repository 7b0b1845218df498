// Package config loads go-imageio settings from a YAML or JSONC file and
// turns them into registry options and a logger.
//
// The file is named by the IMAGEIO_CONFIG environment variable or passed
// to LoadFile. ${VAR} and ${VAR:-default} patterns are expanded in paths.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	imageio "github.com/logicossoftware/go-imageio"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "IMAGEIO_CONFIG"

// Config is the file form of the library settings.
type Config struct {
	// PluginSearchPath lists directories searched for format plugins,
	// ahead of IMAGEIO_LIBRARY_PATH.
	PluginSearchPath []string `yaml:"plugin_searchpath" json:"plugin_searchpath"`

	// LogLevel is debug, info, warn or error. Default: warn.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// LogFormat is text or json. Default: text.
	LogFormat string `yaml:"log_format" json:"log_format"`

	Limits LimitsConfig `yaml:"limits" json:"limits"`

	// DisabledFormats are never resolved, built in or not.
	DisabledFormats []string `yaml:"disabled_formats" json:"disabled_formats"`
}

// LimitsConfig mirrors imageio.Limits. Zero keeps the library default.
type LimitsConfig struct {
	MaxImageBytes    uint64 `yaml:"max_image_bytes" json:"max_image_bytes"`
	MaxDimension     int    `yaml:"max_dimension" json:"max_dimension"`
	MaxChannels      int    `yaml:"max_channels" json:"max_channels"`
	MaxMetadataBytes uint32 `yaml:"max_metadata_bytes" json:"max_metadata_bytes"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:  "warn",
		LogFormat: "text",
	}
}

// Load reads the file named by IMAGEIO_CONFIG, or returns Default when
// the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults. Files ending in .json or .jsonc
// are JSON with comments and trailing commas; anything else is YAML.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) expandVariables() {
	for i, d := range c.PluginSearchPath {
		c.PluginSearchPath[i] = expandVars(d)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// Validate checks the enumerated fields.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, not %q", c.LogFormat))
	}
	if c.Limits.MaxDimension < 0 || c.Limits.MaxChannels < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelWarn, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// ImageLimits returns the configured limits.
func (c *Config) ImageLimits() imageio.Limits {
	return imageio.Limits{
		MaxImageBytes:    c.Limits.MaxImageBytes,
		MaxDimension:     c.Limits.MaxDimension,
		MaxChannels:      c.Limits.MaxChannels,
		MaxMetadataBytes: c.Limits.MaxMetadataBytes,
	}
}
