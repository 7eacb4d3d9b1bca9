// Package simconfig turns simulation request payloads into materialized
// config files and the executable invocation the supervisor launches. The
// supervisor treats the result as an opaque (path, args, workdir) triple.
package simconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
)

// Payload is the YAML document accepted on simulation creation. Everything
// beyond the invocation fields passes through to the simulator untouched.
type Payload struct {
	Executable string   `yaml:"executable,omitempty"`
	Args       []string `yaml:"args,omitempty"`
	WorkDir    string   `yaml:"work_dir,omitempty"`

	Users           []string               `yaml:"users,omitempty"`
	Topics          []string               `yaml:"topics,omitempty"`
	TotalIterations *int                   `yaml:"total_iterations,omitempty"`
	Parameters      map[string]interface{} `yaml:"parameters,omitempty"`

	// OutputDir is stamped in by the materializer so the simulator writes
	// into the per-simulation directory.
	OutputDir string `yaml:"output_dir,omitempty"`
}

// Defaults supplies the configured simulator invocation used when the
// payload does not override it.
type Defaults struct {
	Executable string
	Args       []string
	WorkDir    string
}

// Materializer implements core.ConfigMaterializer for YAML payloads.
type Materializer struct {
	defaults Defaults
}

// New creates a materializer with the given invocation defaults.
func New(defaults Defaults) *Materializer {
	return &Materializer{defaults: defaults}
}

// ConfigFileName is the materialized config file inside the output dir.
const ConfigFileName = "config.yaml"

// Materialize parses the payload, applies overrides, writes the config file
// atomically into the output directory, and resolves the invocation.
func (m *Materializer) Materialize(_ context.Context, req core.MaterializeRequest) (*core.Materialized, error) {
	var payload Payload
	if len(req.Payload) > 0 {
		if err := yaml.Unmarshal(req.Payload, &payload); err != nil {
			return nil, core.ErrConfig("config payload is not valid YAML").WithCause(err)
		}
	}

	if err := applyOverrides(&payload, req.Overrides); err != nil {
		return nil, err
	}
	payload.OutputDir = req.OutputDir

	executable := payload.Executable
	if executable == "" {
		executable = m.defaults.Executable
	}
	if executable == "" {
		return nil, core.ErrConfig("no simulator executable configured and payload does not name one")
	}

	workDir := payload.WorkDir
	if workDir == "" {
		workDir = m.defaults.WorkDir
	}
	if workDir == "" {
		workDir = req.OutputDir
	}

	content, err := yaml.Marshal(&payload)
	if err != nil {
		return nil, core.ErrConfig("serializing materialized config").WithCause(err)
	}

	configPath := filepath.Join(req.OutputDir, ConfigFileName)
	if err := renameio.WriteFile(configPath, content, 0o640); err != nil {
		return nil, core.ErrConfig(fmt.Sprintf("writing config file %s", configPath)).WithCause(err)
	}

	args := make([]string, 0, len(m.defaults.Args)+len(payload.Args)+1)
	args = append(args, m.defaults.Args...)
	args = append(args, payload.Args...)
	args = append(args, configPath)

	return &core.Materialized{
		ConfigPath:    configPath,
		ConfigContent: string(content),
		Invocation: core.Invocation{
			Path:    executable,
			Args:    args,
			WorkDir: workDir,
		},
		TotalIterations: payload.TotalIterations,
	}, nil
}

func applyOverrides(p *Payload, overrides map[string]string) error {
	for key, value := range overrides {
		switch key {
		case "users":
			p.Users = splitList(value)
		case "topics":
			p.Topics = splitList(value)
		case "total_iterations":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return core.ErrConfig(fmt.Sprintf("override total_iterations must be a positive integer, got %q", value))
			}
			p.TotalIterations = &n
		case "executable":
			p.Executable = value
		case "work_dir":
			p.WorkDir = value
		default:
			if p.Parameters == nil {
				p.Parameters = make(map[string]interface{})
			}
			p.Parameters[key] = value
		}
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
