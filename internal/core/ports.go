package core

import "context"

// ListFilter narrows and pages List results. A zero Limit selects the
// store's default page size; a negative Limit returns everything.
type ListFilter struct {
	Status *Status
	Limit  int
	Offset int
}

// SimulationStore persists simulation records. Implementations must make
// updates durable before returning so a control operation never reports
// success ahead of its state change.
type SimulationStore interface {
	Create(ctx context.Context, sim *Simulation) error
	Get(ctx context.Context, id SimulationID) (*Simulation, error)
	List(ctx context.Context, filter ListFilter) ([]*Simulation, error)
	Update(ctx context.Context, sim *Simulation) error
	// Delete removes the simulation and all of its checkpoints.
	Delete(ctx context.Context, id SimulationID) error
}

// CheckpointStore is the append-only log of checkpoint records.
type CheckpointStore interface {
	Append(ctx context.Context, cp *Checkpoint) error
	// List returns checkpoints in ascending iteration order.
	List(ctx context.Context, id SimulationID) ([]*Checkpoint, error)
	// Latest returns the most recent checkpoint, or nil when none exist.
	Latest(ctx context.Context, id SimulationID) (*Checkpoint, error)
}

// Invocation is the opaque triple the supervisor launches: the config
// materializer decides what to run, the core only runs it.
type Invocation struct {
	Path    string
	Args    []string
	WorkDir string
	Env     map[string]string
}

// MaterializeRequest carries the raw payload and per-run overrides.
type MaterializeRequest struct {
	SimulationID SimulationID
	OutputDir    string
	Payload      []byte
	Overrides    map[string]string
}

// Materialized is the result of config materialization.
type Materialized struct {
	ConfigPath      string
	ConfigContent   string
	Invocation      Invocation
	TotalIterations *int
}

// ConfigMaterializer turns a request payload into a config file on disk and
// the executable invocation the supervisor will launch.
type ConfigMaterializer interface {
	Materialize(ctx context.Context, req MaterializeRequest) (*Materialized, error)
}
