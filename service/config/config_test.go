package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testConfig = `min_polling_interval: 0.5
padding: 2
poll_timeout: 5.0
backoff:
  base: 2.0
  growth: 3.0
  max: 30.0
  jitter: 0.2
units:
  - kind: clock
    poll_interval: 1.0
    format: "15:04"
  - kind: net
    interface: eth0
`

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.MinPollingInterval)
	assert.Equal(t, 2, cfg.Padding)
	require.Len(t, cfg.Units, 2)
	assert.Equal(t, "clock", cfg.Units[0].Kind)
	assert.Equal(t, 1.0, cfg.Units[0].PollInterval)
	assert.Equal(t, "net", cfg.Units[1].Kind)

	// Kind-specific keys survive on the raw node.
	var extra struct {
		Format string `yaml:"format"`
	}
	require.NoError(t, cfg.Units[0].Node().Decode(&extra))
	assert.Equal(t, "15:04", extra.Format)
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err, "an explicitly given path is never seeded")
}

func TestValidateAggregatesErrors(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.MinPollingInterval = -1
	cfg.Backoff.Growth = 0.5
	cfg.Units = nil

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "min_polling_interval")
	assert.ErrorContains(t, err, "backoff.growth")
	assert.ErrorContains(t, err, "at least one unit")
}

func TestSchedulingResolution(t *testing.T) {
	t.Parallel()

	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(testConfig), &cfg))
	require.NoError(t, cfg.Validate())

	// Per-unit interval is kept when above the floor.
	sched := cfg.Scheduling(&cfg.Units[0])
	assert.Equal(t, time.Second, sched.PollInterval)
	assert.Equal(t, 500*time.Millisecond, sched.MinInterval)
	assert.Equal(t, 5*time.Second, sched.Timeout)
	assert.Equal(t, 2*time.Second, sched.Backoff.Base)

	// Default interval below the floor gets floored.
	sched = cfg.Scheduling(&cfg.Units[1])
	assert.Equal(t, 500*time.Millisecond, sched.PollInterval)
}

func TestSampleConfigIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, yaml.Unmarshal([]byte(sampleConfig), &cfg))
	assert.NoError(t, cfg.Validate())
	require.Len(t, cfg.Units, 1)
	assert.Equal(t, "clock", cfg.Units[0].Kind)
}
