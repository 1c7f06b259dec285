// Package config carries the CLI/session configuration with layered
// sources: defaults, optional YAML file, environment, flags.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

type Config struct {
	TargetURL string `yaml:"url" envconfig:"HARCAP_URL"`
	Header    string `yaml:"header" envconfig:"HARCAP_HEADER"`
	Proxy     string `yaml:"proxy" envconfig:"HARCAP_PROXY"`
	Headless  bool   `yaml:"headless" envconfig:"HARCAP_HEADLESS"`

	// ForceNative skips the debugging-protocol strategy entirely.
	ForceNative bool  `yaml:"forceNative" envconfig:"HARCAP_FORCE_NATIVE"`
	MaxBodySize int64 `yaml:"maxBodySize" envconfig:"HARCAP_MAX_BODY_SIZE"`

	// OutputPath is written in one pass at stop; StreamPath is written
	// incrementally while capturing. The two are mutually exclusive.
	OutputPath string `yaml:"output" envconfig:"HARCAP_OUTPUT"`
	StreamPath string `yaml:"streamPath" envconfig:"HARCAP_STREAM_PATH"`

	CreatorName    string `yaml:"creatorName" envconfig:"HARCAP_CREATOR_NAME"`
	CreatorVersion string `yaml:"creatorVersion" envconfig:"HARCAP_CREATOR_VERSION"`

	TotalTimeout time.Duration `yaml:"totalTimeout" envconfig:"HARCAP_TOTAL_TIMEOUT"`
	NavTimeout   time.Duration `yaml:"navTimeout" envconfig:"HARCAP_NAV_TIMEOUT"`
}

func Default() Config {
	return Config{
		Header:         "User-Agent: Mozilla/5.0 (X11; Linux x86_64; rv:144.0) Gecko/20100101 Firefox/144.0",
		Headless:       true,
		MaxBodySize:    64 << 10,
		OutputPath:     "traffic.har",
		CreatorName:    "harcap",
		CreatorVersion: "1.0",
		TotalTimeout:   60 * time.Second,
		NavTimeout:     7 * time.Second,
	}
}

// LoadFile overlays values from a YAML file.
func (c *Config) LoadFile(fs afero.Fs, path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadEnv overlays values from HARCAP_* environment variables.
func (c *Config) LoadEnv() error {
	return envconfig.Process("", c)
}

func (c Config) Validate() error {
	if c.StreamPath != "" && c.StreamPath == c.OutputPath {
		return fmt.Errorf("streaming and one-pass output both set to %q", c.StreamPath)
	}
	if c.MaxBodySize <= 0 {
		return errors.New("maxBodySize must be positive")
	}
	if c.TotalTimeout <= 0 || c.NavTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}
