package core

import (
	"time"
)

// SimulationID uniquely identifies a simulation run.
type SimulationID string

// Status represents the current execution state of a simulation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Simulation represents one supervised run of the external simulator.
//
// Invariants maintained by the supervisor:
//   - ProcessID is non-nil iff Status is running or paused.
//   - CompletedAt is set iff Status is terminal, and is never overwritten.
type Simulation struct {
	ID          SimulationID           `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Status      Status                 `json:"status"`

	ConfigPath    string `json:"config_path"`
	ConfigContent string `json:"-"`

	OutputDir   string `json:"output_directory"`
	LogPath     string `json:"log_file_path"`
	ResultsPath string `json:"results_file_path"`

	ProcessID        *int `json:"process_id,omitempty"`
	CurrentIteration int  `json:"current_iteration"`
	TotalIterations  *int `json:"total_iterations,omitempty"`
	ProgressPercent  int  `json:"progress_percentage"`

	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewSimulation creates a simulation in the pending state.
func NewSimulation(id SimulationID, name string) *Simulation {
	now := time.Now().UTC()
	return &Simulation{
		ID:        id,
		Name:      name,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Active reports whether the simulation holds an OS process.
func (s *Simulation) Active() bool {
	return s.Status == StatusRunning || s.Status == StatusPaused
}

// Deletable reports whether the simulation may be removed.
// Running or paused simulations must be stopped first.
func (s *Simulation) Deletable() bool {
	return !s.Active()
}

// UpdateProgress records a new iteration count and recomputes the percentage.
func (s *Simulation) UpdateProgress(iteration int, total *int) {
	if iteration > s.CurrentIteration {
		s.CurrentIteration = iteration
	}
	if total != nil && *total > 0 {
		s.TotalIterations = total
	}
	if s.TotalIterations != nil && *s.TotalIterations > 0 {
		pct := s.CurrentIteration * 100 / *s.TotalIterations
		if pct > 100 {
			pct = 100
		}
		s.ProgressPercent = pct
	}
	s.UpdatedAt = time.Now().UTC()
}

// Duration returns the wall-clock execution time so far.
func (s *Simulation) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	return end.Sub(*s.StartedAt)
}

// Validate checks simulation invariants.
func (s *Simulation) Validate() error {
	if s.ID == "" {
		return &DomainError{
			Category: ErrCatValidation,
			Code:     "SIMULATION_ID_REQUIRED",
			Message:  "simulation ID cannot be empty",
		}
	}
	if s.Name == "" {
		return &DomainError{
			Category: ErrCatValidation,
			Code:     "SIMULATION_NAME_REQUIRED",
			Message:  "simulation name cannot be empty",
		}
	}
	if !s.Status.Valid() {
		return ErrInvalidState("validate", s.Status)
	}
	if s.Active() && s.ProcessID == nil {
		return &DomainError{
			Category: ErrCatState,
			Code:     "PROCESS_ID_MISSING",
			Message:  "active simulation has no process id",
		}
	}
	if !s.Active() && s.ProcessID != nil {
		return &DomainError{
			Category: ErrCatState,
			Code:     "PROCESS_ID_STALE",
			Message:  "inactive simulation still references a process id",
		}
	}
	return nil
}
