// Package config loads and validates the status line configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/qdbp/empty-status/service/unit"
)

// Defaults for everything the file may omit.
const (
	DefaultMinPollingInterval = 0.25
	DefaultPollInterval       = 0.333
	DefaultPollTimeout        = 10.0
	DefaultPadding            = 1
)

const sampleConfig = `# each unit defines its own polling interval. to save resources you
# can define a global floor here
min_polling_interval: 0.25
padding: 1

# units will appear on the bar in the same order as they are defined
# here, topmost is rightmost
units:
  - kind: clock
    poll_interval: 1.0
`

// BackoffConfig is the global poll failure backoff policy, seconds.
type BackoffConfig struct {
	Base   float64 `yaml:"base"`
	Growth float64 `yaml:"growth"`
	Max    float64 `yaml:"max"`
	Jitter float64 `yaml:"jitter"`
}

// UnitEntry is one configured unit instance. Scheduling keys are
// decoded here; everything else in the mapping stays available to the
// unit kind through Node.
type UnitEntry struct {
	Kind         string
	PollInterval float64
	PollTimeout  float64

	node *yaml.Node
}

// UnmarshalYAML implements yaml.Unmarshaler, keeping the raw node for
// kind-specific decoding.
func (u *UnitEntry) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Kind         string  `yaml:"kind"`
		PollInterval float64 `yaml:"poll_interval"`
		PollTimeout  float64 `yaml:"poll_timeout"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	u.Kind = raw.Kind
	u.PollInterval = raw.PollInterval
	u.PollTimeout = raw.PollTimeout
	u.node = node
	return nil
}

// Node returns the raw yaml mapping of this entry.
func (u *UnitEntry) Node() *yaml.Node {
	return u.node
}

// Config is the root configuration.
type Config struct {
	MinPollingInterval float64       `yaml:"min_polling_interval"`
	Padding            int           `yaml:"padding"`
	PollTimeout        float64       `yaml:"poll_timeout"`
	Backoff            BackoffConfig `yaml:"backoff"`
	Units              []UnitEntry   `yaml:"units"`
}

// Default returns the config used when the file omits everything.
func Default() Config {
	return Config{
		MinPollingInterval: DefaultMinPollingInterval,
		Padding:            DefaultPadding,
		PollTimeout:        DefaultPollTimeout,
		Backoff: BackoffConfig{
			Base:   unit.DefaultBackoff.Base.Seconds(),
			Growth: unit.DefaultBackoff.Growth,
			Max:    unit.DefaultBackoff.Max.Seconds(),
			Jitter: unit.DefaultBackoff.Jitter,
		},
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config dir: %w", err)
	}
	return filepath.Join(dir, "empty-status", "config.yaml"), nil
}

// Load reads and validates the config at path. An empty path means
// the default location; a missing file there is seeded with the
// sample config first, so a fresh install shows something.
func Load(path string) (Config, error) {
	cfg := Default()

	usingDefault := path == ""
	if usingDefault {
		var err error
		if path, err = DefaultPath(); err != nil {
			return cfg, err
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && usingDefault:
		if err := writeSample(path); err != nil {
			return cfg, err
		}
		data = []byte(sampleConfig)
	default:
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}
	return nil
}

// Validate checks the whole config and reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.MinPollingInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("min_polling_interval must be positive, got %v", c.MinPollingInterval))
	}
	if c.Padding < 0 {
		result = multierror.Append(result, fmt.Errorf("padding must not be negative, got %d", c.Padding))
	}
	if c.PollTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("poll_timeout must be positive, got %v", c.PollTimeout))
	}

	if c.Backoff.Base <= 0 {
		result = multierror.Append(result, fmt.Errorf("backoff.base must be positive, got %v", c.Backoff.Base))
	}
	if c.Backoff.Growth < 1 {
		result = multierror.Append(result, fmt.Errorf("backoff.growth must be at least 1, got %v", c.Backoff.Growth))
	}
	if c.Backoff.Max < c.Backoff.Base {
		result = multierror.Append(result, fmt.Errorf("backoff.max must not undercut backoff.base"))
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter > 1 {
		result = multierror.Append(result, fmt.Errorf("backoff.jitter must be within [0, 1], got %v", c.Backoff.Jitter))
	}

	if len(c.Units) == 0 {
		result = multierror.Append(result, errors.New("at least one unit must be configured"))
	}
	for i := range c.Units {
		u := &c.Units[i]
		if u.Kind == "" {
			result = multierror.Append(result, fmt.Errorf("units[%d]: kind is required", i))
		}
		if u.PollInterval < 0 {
			result = multierror.Append(result, fmt.Errorf("units[%d]: poll_interval must not be negative", i))
		}
		if u.PollTimeout < 0 {
			result = multierror.Append(result, fmt.Errorf("units[%d]: poll_timeout must not be negative", i))
		}
	}

	return result.ErrorOrNil()
}

// Scheduling resolves the effective scheduling policy for one unit
// entry: per-unit values, global defaults, and the global floor.
func (c *Config) Scheduling(u *UnitEntry) unit.Scheduling {
	pollInterval := u.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if pollInterval < c.MinPollingInterval {
		pollInterval = c.MinPollingInterval
	}

	timeout := u.PollTimeout
	if timeout <= 0 {
		timeout = c.PollTimeout
	}

	return unit.Scheduling{
		PollInterval: secsToDuration(pollInterval),
		MinInterval:  secsToDuration(c.MinPollingInterval),
		Timeout:      secsToDuration(timeout),
		Backoff: unit.BackoffPolicy{
			Base:   secsToDuration(c.Backoff.Base),
			Growth: c.Backoff.Growth,
			Max:    secsToDuration(c.Backoff.Max),
			Jitter: c.Backoff.Jitter,
		},
	}
}

// MinInterval returns the global floor as a duration.
func (c *Config) MinInterval() time.Duration {
	return secsToDuration(c.MinPollingInterval)
}

func secsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
