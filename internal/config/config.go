// Package config loads and validates simrunner configuration.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level simrunner configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	State      StateConfig      `mapstructure:"state"`
	Simulator  SimulatorConfig  `mapstructure:"simulator"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	NoCORS bool   `mapstructure:"no_cors"`
}

// StateConfig configures persistence.
type StateConfig struct {
	// Path is the sqlite database file.
	Path string `mapstructure:"path"`
}

// SimulatorConfig describes the external simulation executable.
type SimulatorConfig struct {
	Executable string   `mapstructure:"executable"`
	Args       []string `mapstructure:"args"`
	WorkDir    string   `mapstructure:"work_dir"`
	// OutputBaseDir is where per-simulation output directories are created.
	OutputBaseDir string `mapstructure:"output_base_dir"`
	// ProgressPattern is the regexp used to read iteration counts out of the
	// simulator's log lines. The line format belongs to the simulator.
	ProgressPattern string `mapstructure:"progress_pattern"`
}

// SupervisorConfig tunes the execution supervisor.
type SupervisorConfig struct {
	// MaxConcurrent bounds how many simulations may be running at once.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// CheckpointInterval is the iteration distance between automatic
	// checkpoints. Zero disables interval checkpointing.
	CheckpointInterval int `mapstructure:"checkpoint_interval"`
	// ResetIntervalOnDemand controls whether an on-demand checkpoint (taken
	// before a pause) restarts the interval window.
	ResetIntervalOnDemand bool `mapstructure:"reset_interval_on_demand"`
	// StopGracePeriod is how long stop waits after TERMINATE before
	// escalating to a forced kill.
	StopGracePeriod time.Duration `mapstructure:"stop_grace_period"`
	// PauseConfirmTimeout bounds how long pause waits for the STOP signal
	// to take effect.
	PauseConfirmTimeout time.Duration `mapstructure:"pause_confirm_timeout"`
	// ProgressFlushInterval is how often the monitoring loop persists
	// progress fields.
	ProgressFlushInterval time.Duration `mapstructure:"progress_flush_interval"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		State: StateConfig{
			Path: ".simrunner/state.db",
		},
		Simulator: SimulatorConfig{
			OutputBaseDir: "outputs",
		},
		Supervisor: SupervisorConfig{
			MaxConcurrent:         3,
			CheckpointInterval:    100,
			ResetIntervalOnDemand: true,
			StopGracePeriod:       10 * time.Second,
			PauseConfirmTimeout:   5 * time.Second,
			ProgressFlushInterval: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Supervisor.MaxConcurrent < 1 {
		return fmt.Errorf("supervisor.max_concurrent must be at least 1, got %d", c.Supervisor.MaxConcurrent)
	}
	if c.Supervisor.CheckpointInterval < 0 {
		return fmt.Errorf("supervisor.checkpoint_interval cannot be negative, got %d", c.Supervisor.CheckpointInterval)
	}
	if c.Supervisor.StopGracePeriod <= 0 {
		return fmt.Errorf("supervisor.stop_grace_period must be positive, got %v", c.Supervisor.StopGracePeriod)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Simulator.OutputBaseDir == "" {
		return fmt.Errorf("simulator.output_base_dir cannot be empty")
	}
	return nil
}
