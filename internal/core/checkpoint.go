package core

import "time"

// Checkpoint is a durable, point-in-time record of a simulation's progress
// sufficient to resume without restarting from iteration zero. Checkpoints
// are append-only and ordered by iteration; they are removed only en masse
// with their simulation.
type Checkpoint struct {
	SimulationID SimulationID `json:"simulation_id"`
	Iteration    int          `json:"iteration"`
	ArtifactPath string       `json:"artifact_path"`
	CreatedAt    time.Time    `json:"created_at"`
}
