package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Supervisor.MaxConcurrent)
	assert.Equal(t, 100, cfg.Supervisor.CheckpointInterval)
	assert.True(t, cfg.Supervisor.ResetIntervalOnDemand)
	assert.Equal(t, 10*time.Second, cfg.Supervisor.StopGracePeriod)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
supervisor:
  max_concurrent: 7
  checkpoint_interval: 50
simulator:
  executable: /opt/sim/run
`), 0o644))

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Supervisor.MaxConcurrent)
	assert.Equal(t, 50, cfg.Supervisor.CheckpointInterval)
	assert.Equal(t, "/opt/sim/run", cfg.Simulator.Executable)
	// Untouched keys keep their defaults.
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SIMRUNNER_SERVER_PORT", "7070")
	t.Setenv("SIMRUNNER_SUPERVISOR_MAX_CONCURRENT", "5")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Supervisor.MaxConcurrent)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("SIMRUNNER_SUPERVISOR_MAX_CONCURRENT", "0")

	_, err := NewLoader().Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := Default()
	bad.Server.Port = 0
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Supervisor.CheckpointInterval = -1
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Simulator.OutputBaseDir = ""
	assert.Error(t, bad.Validate())
}
