// Package config loads fhirsync settings from a TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/micahrl/fhirsync/internal/syncer"
)

// EnvEndpoint names the environment variable holding the endpoint URL.
const EnvEndpoint = "SERVER_ENDPOINT"

// EnvPolicy names the environment variable holding the policy.
const EnvPolicy = "FHIRSYNC_POLICY"

// ErrMissingEndpoint is returned by Validate when no endpoint is configured.
var ErrMissingEndpoint = errors.New("SERVER_ENDPOINT is not configured")

// Config holds run settings layered from the config file, the environment
// and command-line flags.
type Config struct {
	Endpoint string        `toml:"endpoint"`
	Policy   syncer.Policy `toml:"policy"`

	URLs     []string `toml:"urls"`
	URLsFile string   `toml:"urls-file"`
	Dir      string   `toml:"dir"`

	// Region applies to s3:// sources.
	Region string `toml:"region"`

	// Timeout bounds each HTTP request. Zero means no timeout.
	Timeout           time.Duration `toml:"timeout"`
	RequestsPerSecond float64       `toml:"requests-per-second"`
	ContentType       string        `toml:"content-type"`
}

// Load reads path. A missing file is not an error and yields the zero Config.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("reading config file %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvEndpoint)); v != "" {
		c.Endpoint = v
	}
	if v := strings.TrimSpace(getenv(EnvPolicy)); v != "" {
		p, err := syncer.ParsePolicy(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPolicy, err)
		}
		c.Policy = p
	}
	return nil
}

// Validate checks the settings a run cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return ErrMissingEndpoint
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests-per-second must not be negative")
	}
	return nil
}
