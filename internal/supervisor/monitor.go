package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
	"github.com/hugo-lorenzo-mato/simrunner/internal/events"
	"github.com/hugo-lorenzo-mato/simrunner/internal/logging"
	"github.com/hugo-lorenzo-mato/simrunner/internal/proc"
)

// monitor is the single writer of a simulation's progress fields. It drains
// the line channel, persists progress on a flush interval, takes automatic
// checkpoints, and applies the terminal transition when the process exits.
func (s *Supervisor) monitor(j *job) {
	defer s.wg.Done()
	defer close(j.monitorDone)

	ctx := context.Background()
	log := s.log.WithSimulation(string(j.id))

	flush := time.NewTicker(s.cfg.ProgressFlushInterval)
	defer flush.Stop()

	var (
		iteration int
		total     *int
		dirty     bool
	)

	for {
		select {
		case line := <-j.lines:
			upd, ok := j.tracker.Observe(line)
			if !ok {
				continue
			}
			if upd.Iteration > iteration {
				iteration = upd.Iteration
				dirty = true
			}
			if upd.TotalIterations != nil {
				total = upd.TotalIterations
			}
			s.maybeCheckpoint(ctx, j, iteration)

		case <-flush.C:
			if !dirty {
				continue
			}
			dirty = false
			s.persistProgress(ctx, j, iteration, total)

		case <-j.handle.Done():
			// Drain whatever arrived before exit so the final record
			// carries the last reported iteration.
			for {
				select {
				case line := <-j.lines:
					if upd, ok := j.tracker.Observe(line); ok {
						if upd.Iteration > iteration {
							iteration = upd.Iteration
						}
						if upd.TotalIterations != nil {
							total = upd.TotalIterations
						}
					}
					continue
				default:
				}
				break
			}
			s.finish(ctx, j, iteration, total, log)
			return
		}
	}
}

// maybeCheckpoint records an automatic checkpoint when the iteration has
// advanced a full interval past the last one.
func (s *Supervisor) maybeCheckpoint(ctx context.Context, j *job, iteration int) {
	if s.cfg.CheckpointInterval <= 0 {
		return
	}
	if int64(iteration)-j.lastCheckpoint.Load() < int64(s.cfg.CheckpointInterval) {
		return
	}

	j.ctl.Lock()
	defer j.ctl.Unlock()
	// Re-check under the lock: an on-demand checkpoint may have just
	// moved the window.
	if int64(iteration)-j.lastCheckpoint.Load() < int64(s.cfg.CheckpointInterval) {
		return
	}

	sim, err := s.store.Get(ctx, j.id)
	if err != nil {
		s.log.Warn("checkpoint skipped, load failed", "simulation_id", j.id, "error", err)
		return
	}
	if iteration > sim.CurrentIteration {
		sim.UpdateProgress(iteration, j.tracker.Total())
		if err := s.store.Update(ctx, sim); err != nil {
			s.log.Warn("progress persist before checkpoint failed", "simulation_id", j.id, "error", err)
			return
		}
	}
	if _, err := s.recordCheckpoint(ctx, sim, j, true); err != nil {
		s.log.Warn("automatic checkpoint failed", "simulation_id", j.id, "error", err)
	}
}

// persistProgress writes the latest iteration to the store and publishes a
// progress event. It takes the control lock: the write covers the whole row,
// so an unserialized flush could resurrect a state a control operation just
// replaced (load running, pause commits paused, write running back).
func (s *Supervisor) persistProgress(ctx context.Context, j *job, iteration int, total *int) {
	j.ctl.Lock()
	defer j.ctl.Unlock()

	sim, err := s.store.Get(ctx, j.id)
	if err != nil {
		s.log.Warn("progress load failed", "simulation_id", j.id, "error", err)
		return
	}
	if iteration <= sim.CurrentIteration && total == nil {
		return
	}
	sim.UpdateProgress(iteration, total)
	if err := s.store.Update(ctx, sim); err != nil {
		s.log.Warn("progress persist failed", "simulation_id", j.id, "error", err)
		return
	}
	if s.bus != nil {
		s.bus.Publish(events.NewProgressEvent(string(j.id), sim.CurrentIteration, sim.TotalIterations, sim.ProgressPercent))
	}
}

// finish applies the terminal transition for an exited process, releases the
// concurrency slot, and removes the job from the active set.
func (s *Supervisor) finish(ctx context.Context, j *job, iteration int, total *int, log *logging.Logger) {
	exitCode := j.handle.Wait()

	j.ctl.Lock()
	defer j.ctl.Unlock()

	sim, err := s.store.Get(ctx, j.id)
	if err != nil {
		s.log.Error("terminal transition lost, load failed", "simulation_id", j.id, "error", err)
		s.remove(j)
		return
	}
	from := sim.Status
	if iteration > sim.CurrentIteration || total != nil {
		sim.UpdateProgress(iteration, total)
	}

	var event core.Event
	switch {
	case j.stopping.Load():
		event = core.EventStop
	case exitCode == 0 && core.CanTransition(sim.Status, core.EventComplete):
		event = core.EventComplete
		// A clean exit means the run went the distance even when the
		// simulator never reported a total.
		if sim.TotalIterations != nil {
			sim.CurrentIteration = *sim.TotalIterations
			sim.ProgressPercent = 100
		}
	default:
		event = core.EventFail
		sim.ErrorMessage = exitMessage(exitCode)
	}

	if err := sim.Apply(event, nil); err != nil {
		// The record moved under us (reconciliation or a racing stop);
		// keep whatever state is persisted.
		s.log.Error("terminal transition rejected", "simulation_id", j.id, "error", err)
		s.remove(j)
		return
	}
	if err := s.store.Update(ctx, sim); err != nil {
		s.log.Error("terminal state persist failed", "simulation_id", j.id, "error", err)
		s.remove(j)
		return
	}

	s.remove(j)
	s.publishState(j.id, from, sim.Status, sim.ErrorMessage)
	log.Info("simulation finished",
		"status", sim.Status, "exit_code", exitCode, "iteration", sim.CurrentIteration)
}

// remove releases the gate slot and drops the job from the active set.
func (s *Supervisor) remove(j *job) {
	s.gate.Release(j.id)
	s.mu.Lock()
	delete(s.active, j.id)
	s.mu.Unlock()
}

func exitMessage(code int) string {
	if code == proc.ExitCodeUnknown {
		return "process terminated by signal"
	}
	return fmt.Sprintf("process exited with code %d", code)
}
