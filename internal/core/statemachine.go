package core

import "time"

// Event names a control or monitoring observation that drives a transition.
type Event string

const (
	EventStart    Event = "start"    // pending -> running
	EventPause    Event = "pause"    // running -> paused
	EventResume   Event = "resume"   // paused -> running
	EventStop     Event = "stop"     // running/paused -> cancelled
	EventComplete Event = "complete" // running -> completed (exit code 0)
	EventFail     Event = "fail"     // running/paused -> failed
)

// transitions is the authoritative table of legal state changes.
// Guards (concurrency slot, signal confirmation) are enforced by the
// supervisor before applying the transition.
var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventStart: StatusRunning,
	},
	StatusRunning: {
		EventPause:    StatusPaused,
		EventStop:     StatusCancelled,
		EventComplete: StatusCompleted,
		EventFail:     StatusFailed,
	},
	StatusPaused: {
		EventResume: StatusRunning,
		EventStop:   StatusCancelled,
		EventFail:   StatusFailed,
	},
}

// Next returns the status reached from current on event.
// It fails with an invalid-transition error naming the rejected pair.
func Next(current Status, event Event) (Status, error) {
	if row, ok := transitions[current]; ok {
		if next, ok := row[event]; ok {
			return next, nil
		}
	}
	return current, ErrInvalidTransition(current, event)
}

// CanTransition reports whether event is legal in the current status.
func CanTransition(current Status, event Event) bool {
	_, err := Next(current, event)
	return err == nil
}

// Apply advances the simulation through the state machine and keeps the
// process-id and timestamp invariants in step with the new status. The
// simulation is unchanged when the transition is rejected.
func (s *Simulation) Apply(event Event, pid *int) error {
	next, err := Next(s.Status, event)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	s.Status = next
	s.UpdatedAt = now

	switch next {
	case StatusRunning:
		s.ProcessID = pid
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
	case StatusPaused:
		// Paused keeps its process; the OS task is merely stopped.
	case StatusCompleted, StatusFailed, StatusCancelled:
		s.ProcessID = nil
		if s.CompletedAt == nil {
			s.CompletedAt = &now
		}
	}
	return nil
}
