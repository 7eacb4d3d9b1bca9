package supervisor

import (
	"context"

	gopsutil "github.com/shirou/gopsutil/v3/process"

	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
)

// Reconcile repairs state left behind by a previous supervisor instance.
// Simulations persisted as running or paused have no monitor after a
// restart: their processes, when still alive, are killed, and the records
// are marked failed so no simulation ever claims a process nobody watches.
// Returns the number of reconciled records.
func (s *Supervisor) Reconcile(ctx context.Context) (int, error) {
	reconciled := 0
	for _, status := range []core.Status{core.StatusRunning, core.StatusPaused} {
		st := status
		sims, err := s.store.List(ctx, core.ListFilter{Status: &st, Limit: -1})
		if err != nil {
			return reconciled, err
		}
		for _, sim := range sims {
			if err := s.reconcileOne(ctx, sim); err != nil {
				s.log.Error("reconciliation failed",
					"simulation_id", sim.ID, "error", err)
				continue
			}
			reconciled++
		}
	}
	if reconciled > 0 {
		s.log.Info("orphan reconciliation complete", "reconciled", reconciled)
	}
	return reconciled, nil
}

func (s *Supervisor) reconcileOne(ctx context.Context, sim *core.Simulation) error {
	from := sim.Status
	msg := "orphaned: supervisor restarted while simulation was active"

	if sim.ProcessID != nil {
		pid := int32(*sim.ProcessID)
		alive, err := gopsutil.PidExists(pid)
		if err == nil && alive {
			// The process outlived its supervisor. Nothing can monitor
			// or checkpoint it anymore, so take it down.
			if p, perr := gopsutil.NewProcess(pid); perr == nil {
				if kerr := p.Kill(); kerr != nil {
					s.log.Warn("failed to kill orphaned process",
						"simulation_id", sim.ID, "pid", pid, "error", kerr)
				}
			}
			msg = "orphaned: unsupervised process terminated after restart"
		}
	}

	sim.ErrorMessage = msg
	if err := sim.Apply(core.EventFail, nil); err != nil {
		return err
	}
	if err := s.store.Update(ctx, sim); err != nil {
		return err
	}

	s.publishState(sim.ID, from, core.StatusFailed, msg)
	s.log.Warn("orphaned simulation marked failed",
		"simulation_id", sim.ID, "previous_status", from)
	return nil
}
