package events

// Event type names published by the supervisor.
const (
	TypeStateChanged = "simulation.state_changed"
	TypeProgress     = "simulation.progress"
	TypeCheckpoint   = "simulation.checkpoint"
)

// StateChangedEvent announces a state machine transition.
type StateChangedEvent struct {
	BaseEvent
	From  string `json:"from"`
	To    string `json:"to"`
	Error string `json:"error,omitempty"`
}

// NewStateChangedEvent creates a state transition event.
func NewStateChangedEvent(simulationID, from, to, errMsg string) StateChangedEvent {
	return StateChangedEvent{
		BaseEvent: NewBaseEvent(TypeStateChanged, simulationID),
		From:      from,
		To:        to,
		Error:     errMsg,
	}
}

// ProgressEvent carries a new iteration observation.
type ProgressEvent struct {
	BaseEvent
	Iteration       int  `json:"iteration"`
	TotalIterations *int `json:"total_iterations,omitempty"`
	Percentage      int  `json:"percentage"`
}

// NewProgressEvent creates a progress event.
func NewProgressEvent(simulationID string, iteration int, total *int, pct int) ProgressEvent {
	return ProgressEvent{
		BaseEvent:       NewBaseEvent(TypeProgress, simulationID),
		Iteration:       iteration,
		TotalIterations: total,
		Percentage:      pct,
	}
}

// CheckpointEvent announces a recorded checkpoint.
type CheckpointEvent struct {
	BaseEvent
	Iteration    int    `json:"iteration"`
	ArtifactPath string `json:"artifact_path"`
}

// NewCheckpointEvent creates a checkpoint event.
func NewCheckpointEvent(simulationID string, iteration int, artifactPath string) CheckpointEvent {
	return CheckpointEvent{
		BaseEvent:    NewBaseEvent(TypeCheckpoint, simulationID),
		Iteration:    iteration,
		ArtifactPath: artifactPath,
	}
}
