// Package config reads the optional mkoc settings file.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Backends and UIs accepted in the settings file.
const (
	BackendNative = "native"
	BackendDirect = "direct"

	UIPlain = "plain"
	UITUI   = "tui"
)

const (
	defaultSettleTimeout  = 30 * time.Second
	defaultSettleInterval = 500 * time.Millisecond
	defaultImageSize      = "1g"
	defaultLogLevel       = "warn"
)

// Config holds the settings. Confirmation tokens and the volume label are
// fixed and cannot be set here.
type Config struct {
	PayloadDir     string        `yaml:"payload_dir"`
	Backend        string        `yaml:"backend"`
	ImagePath      string        `yaml:"image_path"`
	ImageSize      string        `yaml:"image_size"`
	SettleTimeout  time.Duration `yaml:"settle_timeout"`
	SettleInterval time.Duration `yaml:"settle_interval"`
	UI             string        `yaml:"ui"`
	LogLevel       string        `yaml:"log_level"`
}

// Read parses the yaml file at path and fills in defaults. An empty path
// yields the defaults.
func Read(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		dat, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config")
		}
		if err := yaml.Unmarshal(dat, c); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}
	if err := c.setDefaults(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return c, nil
}

func (c *Config) setDefaults() error {
	if c.PayloadDir == "" {
		exe, err := os.Executable()
		if err != nil {
			return errors.Wrap(err, "locating executable for payload_dir")
		}
		c.PayloadDir = filepath.Dir(exe)
	}
	if c.Backend == "" {
		c.Backend = BackendNative
	}
	if c.ImageSize == "" {
		c.ImageSize = defaultImageSize
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = defaultSettleTimeout
	}
	if c.SettleInterval <= 0 {
		c.SettleInterval = defaultSettleInterval
	}
	if c.UI == "" {
		c.UI = UIPlain
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendNative:
	case BackendDirect:
		if c.ImagePath == "" {
			return errors.New("backend direct needs image_path")
		}
	default:
		return errors.Errorf("unknown backend %q", c.Backend)
	}
	if c.UI != UIPlain && c.UI != UITUI {
		return errors.Errorf("unknown ui %q", c.UI)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := ParseSize(c.ImageSize); err != nil {
		return errors.Wrap(err, "image_size")
	}
	return nil
}

// Level is the parsed log_level.
func (c *Config) Level() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.LogLevel)
}

// ImageBytes is the parsed image_size.
func (c *Config) ImageBytes() int64 {
	n, _ := ParseSize(c.ImageSize)
	return n
}

// ParseSize reads sizes like "512m", "1.5g" or "4096".
func ParseSize(s string) (int64, error) {
	ss := strings.TrimSpace(strings.ToLower(s))
	if ss == "" {
		return 0, errors.New("empty size")
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(ss, "k"):
		mult = 1 << 10
		ss = strings.TrimSuffix(ss, "k")
	case strings.HasSuffix(ss, "m"):
		mult = 1 << 20
		ss = strings.TrimSuffix(ss, "m")
	case strings.HasSuffix(ss, "g"):
		mult = 1 << 30
		ss = strings.TrimSuffix(ss, "g")
	case strings.HasSuffix(ss, "b"):
		ss = strings.TrimSuffix(ss, "b")
	}
	v, err := strconv.ParseFloat(ss, 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, errors.Errorf("size must be positive, got %q", s)
	}
	return int64(v * float64(mult)), nil
}
