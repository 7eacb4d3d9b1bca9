package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads configuration from file, environment and bound flags.
type Loader struct {
	v       *viper.Viper
	cfgFile string
}

// NewLoader creates a loader with its own viper instance.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader around an existing viper instance,
// typically the one the CLI already bound its flags to.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// WithConfigFile pins the loader to an explicit config file.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.cfgFile = path
	return l
}

// Load resolves the final configuration: defaults, then config file, then
// SIMRUNNER_* environment variables, then bound flags.
func (l *Loader) Load() (*Config, error) {
	setDefaults(l.v)

	if l.cfgFile != "" {
		l.v.SetConfigFile(l.cfgFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".simrunner")
		l.v.AddConfigPath("$HOME/.config/simrunner")
	}

	l.v.SetEnvPrefix("SIMRUNNER")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := Default()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.no_cors", def.Server.NoCORS)
	v.SetDefault("state.path", def.State.Path)
	v.SetDefault("simulator.output_base_dir", def.Simulator.OutputBaseDir)
	v.SetDefault("simulator.progress_pattern", def.Simulator.ProgressPattern)
	v.SetDefault("supervisor.max_concurrent", def.Supervisor.MaxConcurrent)
	v.SetDefault("supervisor.checkpoint_interval", def.Supervisor.CheckpointInterval)
	v.SetDefault("supervisor.reset_interval_on_demand", def.Supervisor.ResetIntervalOnDemand)
	v.SetDefault("supervisor.stop_grace_period", def.Supervisor.StopGracePeriod)
	v.SetDefault("supervisor.pause_confirm_timeout", def.Supervisor.PauseConfirmTimeout)
	v.SetDefault("supervisor.progress_flush_interval", def.Supervisor.ProgressFlushInterval)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
}
