// Package supervisor owns the lifecycle of simulation runs: it launches the
// external simulator, drives the state machine, takes checkpoints, and keeps
// the persisted record in step with the OS process.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	gopsutil "github.com/shirou/gopsutil/v3/process"

	"github.com/hugo-lorenzo-mato/simrunner/internal/config"
	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
	"github.com/hugo-lorenzo-mato/simrunner/internal/events"
	"github.com/hugo-lorenzo-mato/simrunner/internal/gate"
	"github.com/hugo-lorenzo-mato/simrunner/internal/logging"
	"github.com/hugo-lorenzo-mato/simrunner/internal/proc"
	"github.com/hugo-lorenzo-mato/simrunner/internal/progress"
)

// LogFileName is the per-simulation log file inside the output directory.
const LogFileName = "simulation.log"

// ResultsFileName is the simulator's aggregate results file.
const ResultsFileName = "results.json"

// job tracks one launched simulation while its process is alive.
type job struct {
	id      core.SimulationID
	handle  *proc.Handle
	tracker *progress.Tracker

	// lines feeds drained output into the monitor loop. Sends never block
	// the drain goroutine; a full channel drops the line.
	lines chan string

	// lastCheckpoint is the iteration of the most recent checkpoint,
	// shared between the monitor loop and on-demand checkpoints.
	lastCheckpoint atomic.Int64

	// stopping marks that a stop was requested, so the exit transition
	// lands on cancelled rather than completed or failed.
	stopping atomic.Bool

	// monitorDone closes after the monitor persists the terminal state.
	monitorDone chan struct{}

	// ctl serializes control operations (pause, resume, stop, checkpoint)
	// against each other for this simulation.
	ctl sync.Mutex
}

// Supervisor coordinates simulation execution.
type Supervisor struct {
	cfg    config.SupervisorConfig
	simCfg config.SimulatorConfig

	store        core.SimulationStore
	checkpoints  core.CheckpointStore
	materializer core.ConfigMaterializer
	gate         *gate.Gate
	bus          *events.Bus
	log          *logging.Logger

	mu       sync.Mutex
	active   map[core.SimulationID]*job
	starting map[core.SimulationID]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// New creates a supervisor. The gate is sized from cfg.Supervisor.
func New(
	cfg *config.Config,
	store core.SimulationStore,
	checkpoints core.CheckpointStore,
	materializer core.ConfigMaterializer,
	bus *events.Bus,
	log *logging.Logger,
) *Supervisor {
	return &Supervisor{
		cfg:          cfg.Supervisor,
		simCfg:       cfg.Simulator,
		store:        store,
		checkpoints:  checkpoints,
		materializer: materializer,
		gate:         gate.New(cfg.Supervisor.MaxConcurrent),
		bus:          bus,
		log:          log,
		active:       make(map[core.SimulationID]*job),
		starting:     make(map[core.SimulationID]struct{}),
	}
}

// CreateRequest describes a new simulation.
type CreateRequest struct {
	Name        string
	Description string
	// Payload is the raw simulator configuration document.
	Payload []byte
	// Overrides are applied on top of the payload before it is written.
	Overrides map[string]string
	Metadata  map[string]interface{}
}

// Create registers a simulation in the pending state. The configuration is
// materialized to disk immediately so that launch failures surface early.
func (s *Supervisor) Create(ctx context.Context, req CreateRequest) (*core.Simulation, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, &core.DomainError{
			Category: core.ErrCatValidation,
			Code:     "NAME_REQUIRED",
			Message:  "simulation name cannot be empty",
		}
	}
	if len(req.Payload) == 0 {
		return nil, core.ErrConfig("configuration payload cannot be empty")
	}

	id := newSimulationID()
	sim := core.NewSimulation(id, strings.TrimSpace(req.Name))
	sim.Description = req.Description
	sim.Metadata = req.Metadata

	outputDir := filepath.Join(s.simCfg.OutputBaseDir, string(id))
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, core.ErrStorage("create output directory").WithCause(err)
	}
	sim.OutputDir = outputDir
	sim.LogPath = filepath.Join(outputDir, LogFileName)
	sim.ResultsPath = filepath.Join(outputDir, ResultsFileName)

	mat, err := s.materializer.Materialize(ctx, core.MaterializeRequest{
		SimulationID: id,
		OutputDir:    outputDir,
		Payload:      req.Payload,
		Overrides:    req.Overrides,
	})
	if err != nil {
		return nil, err
	}
	sim.ConfigPath = mat.ConfigPath
	sim.ConfigContent = mat.ConfigContent
	sim.TotalIterations = mat.TotalIterations

	if err := sim.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, sim); err != nil {
		return nil, err
	}

	s.log.Info("simulation created", "simulation_id", id, "name", sim.Name)
	return sim, nil
}

// Get returns one simulation.
func (s *Supervisor) Get(ctx context.Context, id core.SimulationID) (*core.Simulation, error) {
	return s.store.Get(ctx, id)
}

// List returns simulations matching the filter, newest first.
func (s *Supervisor) List(ctx context.Context, filter core.ListFilter) ([]*core.Simulation, error) {
	return s.store.List(ctx, filter)
}

// UpdateRequest carries the mutable fields of a pending simulation.
type UpdateRequest struct {
	Name        *string
	Description *string
	Metadata    map[string]interface{}
	// Payload, when set, replaces the simulator configuration.
	Payload   []byte
	Overrides map[string]string
}

// Update modifies a simulation. Only pending simulations may change: once a
// process has been launched the record reflects what actually ran.
func (s *Supervisor) Update(ctx context.Context, id core.SimulationID, req UpdateRequest) (*core.Simulation, error) {
	sim, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sim.Status != core.StatusPending {
		return nil, core.ErrInvalidState("update", sim.Status)
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, &core.DomainError{
				Category: core.ErrCatValidation,
				Code:     "NAME_REQUIRED",
				Message:  "simulation name cannot be empty",
			}
		}
		sim.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		sim.Description = *req.Description
	}
	if req.Metadata != nil {
		sim.Metadata = req.Metadata
	}
	if len(req.Payload) > 0 {
		mat, err := s.materializer.Materialize(ctx, core.MaterializeRequest{
			SimulationID: id,
			OutputDir:    sim.OutputDir,
			Payload:      req.Payload,
			Overrides:    req.Overrides,
		})
		if err != nil {
			return nil, err
		}
		sim.ConfigPath = mat.ConfigPath
		sim.ConfigContent = mat.ConfigContent
		sim.TotalIterations = mat.TotalIterations
	}

	sim.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, sim); err != nil {
		return nil, err
	}
	return sim, nil
}

// Delete removes a simulation record, its checkpoints, and its output
// directory. Running or paused simulations must be stopped first.
func (s *Supervisor) Delete(ctx context.Context, id core.SimulationID) error {
	sim, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !sim.Deletable() {
		return core.ErrInvalidState("delete", sim.Status)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if sim.OutputDir != "" {
		if err := os.RemoveAll(sim.OutputDir); err != nil {
			s.log.Warn("failed to remove output directory", "simulation_id", id, "error", err)
		}
	}
	s.log.Info("simulation deleted", "simulation_id", id)
	return nil
}

// Start launches the simulator process for a pending simulation. The state
// change to running is durable before Start returns.
func (s *Supervisor) Start(ctx context.Context, id core.SimulationID) (*core.Simulation, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, core.ErrInvalidState("start", core.StatusCancelled)
	}
	_, isActive := s.active[id]
	_, isStarting := s.starting[id]
	if isActive || isStarting {
		s.mu.Unlock()
		return nil, core.ErrInvalidState("start", core.StatusRunning)
	}
	s.starting[id] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.starting, id)
		s.mu.Unlock()
	}()

	sim, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !core.CanTransition(sim.Status, core.EventStart) {
		return nil, core.ErrInvalidTransition(sim.Status, core.EventStart)
	}

	if err := s.gate.Acquire(id); err != nil {
		return nil, err
	}

	sim, err = s.launch(ctx, sim)
	if err != nil {
		s.gate.Release(id)
		return nil, err
	}
	return sim, nil
}

// launch materializes the invocation, spawns the process, persists the
// running state, and starts the monitor. The caller holds the gate slot.
func (s *Supervisor) launch(ctx context.Context, sim *core.Simulation) (*core.Simulation, error) {
	// The stored config content already has all overrides applied, so
	// re-materializing it is idempotent and recovers the invocation even
	// after a supervisor restart.
	mat, err := s.materializer.Materialize(ctx, core.MaterializeRequest{
		SimulationID: sim.ID,
		OutputDir:    sim.OutputDir,
		Payload:      []byte(sim.ConfigContent),
	})
	if err != nil {
		return nil, err
	}

	tracker, err := progress.New(s.simCfg.ProgressPattern)
	if err != nil {
		return nil, core.ErrConfig("invalid progress pattern").WithCause(err)
	}

	j := &job{
		id:          sim.ID,
		tracker:     tracker,
		lines:       make(chan string, 1024),
		monitorDone: make(chan struct{}),
	}

	handle, err := proc.Launch(proc.LaunchSpec{
		Path:    mat.Invocation.Path,
		Args:    mat.Invocation.Args,
		WorkDir: mat.Invocation.WorkDir,
		Env:     mat.Invocation.Env,
		LogPath: sim.LogPath,
		OnLine: func(line string) {
			select {
			case j.lines <- line:
			default:
				// Monitor is behind; progress is monotonic so a
				// dropped line costs nothing.
			}
		},
	})
	if err != nil {
		return nil, err
	}
	j.handle = handle

	pid := handle.Pid()
	if err := sim.Apply(core.EventStart, &pid); err != nil {
		_ = handle.Signal(proc.SignalKill)
		return nil, err
	}
	if err := s.store.Update(ctx, sim); err != nil {
		_ = handle.Signal(proc.SignalKill)
		return nil, err
	}

	s.mu.Lock()
	s.active[sim.ID] = j
	s.wg.Add(1)
	s.mu.Unlock()
	go s.monitor(j)

	s.publishState(sim.ID, core.StatusPending, core.StatusRunning, "")
	s.log.Info("simulation started",
		"simulation_id", sim.ID, "pid", pid, "executable", mat.Invocation.Path)
	return sim, nil
}

// Pause suspends a running simulation with a STOP signal to its process
// group and releases its concurrency slot: a suspended job does not count
// against the running limit. When takeCheckpoint is set, a checkpoint is
// recorded first so the pause point is durable.
func (s *Supervisor) Pause(ctx context.Context, id core.SimulationID, takeCheckpoint bool) (*core.Simulation, error) {
	j, err := s.job(id)
	if err != nil {
		return nil, err
	}
	j.ctl.Lock()
	defer j.ctl.Unlock()

	sim, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !core.CanTransition(sim.Status, core.EventPause) {
		return nil, core.ErrInvalidTransition(sim.Status, core.EventPause)
	}

	if takeCheckpoint {
		if _, err := s.recordCheckpoint(ctx, sim, j, s.cfg.ResetIntervalOnDemand); err != nil {
			return nil, err
		}
	}

	if err := j.handle.Signal(proc.SignalStop); err != nil {
		return nil, err
	}
	if err := s.confirmSuspended(ctx, j.handle.Pid()); err != nil {
		// Roll back so the process is not left half-suspended while the
		// record still says running.
		_ = j.handle.Signal(proc.SignalContinue)
		return nil, err
	}

	if err := sim.Apply(core.EventPause, sim.ProcessID); err != nil {
		_ = j.handle.Signal(proc.SignalContinue)
		return nil, err
	}
	if err := s.store.Update(ctx, sim); err != nil {
		_ = j.handle.Signal(proc.SignalContinue)
		return nil, err
	}

	s.gate.Release(id)

	s.publishState(id, core.StatusRunning, core.StatusPaused, "")
	s.log.Info("simulation paused", "simulation_id", id, "iteration", sim.CurrentIteration)
	return sim, nil
}

// Resume continues a paused simulation with a CONT signal. The slot given
// up at pause must be re-acquired first, so resume fails with the same
// capacity error as start when the gate is full, leaving the job paused.
func (s *Supervisor) Resume(ctx context.Context, id core.SimulationID) (*core.Simulation, error) {
	j, err := s.job(id)
	if err != nil {
		return nil, err
	}
	j.ctl.Lock()
	defer j.ctl.Unlock()

	sim, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !core.CanTransition(sim.Status, core.EventResume) {
		return nil, core.ErrInvalidTransition(sim.Status, core.EventResume)
	}

	if err := s.gate.Acquire(id); err != nil {
		return nil, err
	}

	if err := j.handle.Signal(proc.SignalContinue); err != nil {
		s.gate.Release(id)
		return nil, err
	}

	if err := sim.Apply(core.EventResume, sim.ProcessID); err != nil {
		_ = j.handle.Signal(proc.SignalStop)
		s.gate.Release(id)
		return nil, err
	}
	if err := s.store.Update(ctx, sim); err != nil {
		_ = j.handle.Signal(proc.SignalStop)
		s.gate.Release(id)
		return nil, err
	}

	s.publishState(id, core.StatusPaused, core.StatusRunning, "")
	s.log.Info("simulation resumed", "simulation_id", id, "iteration", sim.CurrentIteration)
	return sim, nil
}

// Stop terminates a simulation. The process group receives TERM and, after
// the grace period, KILL. Stop returns once the cancelled state is durable.
// Stopping an already-terminal simulation fails with an invalid-transition
// error and sends no further signal.
func (s *Supervisor) Stop(ctx context.Context, id core.SimulationID, takeCheckpoint bool) (*core.Simulation, error) {
	s.mu.Lock()
	j, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		sim, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if core.CanTransition(sim.Status, core.EventStop) {
			// Active record without a live job: an orphan awaiting the
			// reconciliation pass.
			return nil, core.ErrInvalidState("stop", sim.Status)
		}
		return nil, core.ErrInvalidTransition(sim.Status, core.EventStop)
	}

	j.ctl.Lock()
	sim, err := s.store.Get(ctx, id)
	if err != nil {
		j.ctl.Unlock()
		return nil, err
	}
	if !core.CanTransition(sim.Status, core.EventStop) {
		j.ctl.Unlock()
		return nil, core.ErrInvalidTransition(sim.Status, core.EventStop)
	}

	if takeCheckpoint {
		if _, err := s.recordCheckpoint(ctx, sim, j, false); err != nil {
			s.log.Warn("checkpoint before stop failed", "simulation_id", id, "error", err)
		}
	}

	j.stopping.Store(true)

	// A stopped group never delivers TERM, so wake it first.
	if sim.Status == core.StatusPaused {
		_ = j.handle.Signal(proc.SignalContinue)
	}
	if err := j.handle.Signal(proc.SignalTerminate); err != nil && !core.IsCode(err, core.CodeProcessNotFound) {
		j.stopping.Store(false)
		j.ctl.Unlock()
		return nil, err
	}
	j.ctl.Unlock()

	select {
	case <-j.handle.Done():
	case <-time.After(s.cfg.StopGracePeriod):
		s.log.Warn("grace period expired, killing process group",
			"simulation_id", id, "pid", j.handle.Pid())
		_ = j.handle.Signal(proc.SignalKill)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case <-j.monitorDone:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return s.store.Get(ctx, id)
}

// Checkpoint records an on-demand checkpoint for a running or paused
// simulation.
func (s *Supervisor) Checkpoint(ctx context.Context, id core.SimulationID) (*core.Checkpoint, error) {
	j, err := s.job(id)
	if err != nil {
		return nil, err
	}
	j.ctl.Lock()
	defer j.ctl.Unlock()

	sim, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sim.Active() {
		return nil, core.ErrInvalidState("checkpoint", sim.Status)
	}
	return s.recordCheckpoint(ctx, sim, j, s.cfg.ResetIntervalOnDemand)
}

// Checkpoints lists a simulation's checkpoints in iteration order.
func (s *Supervisor) Checkpoints(ctx context.Context, id core.SimulationID) ([]*core.Checkpoint, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.checkpoints.List(ctx, id)
}

// ActiveCount reports how many simulations hold a concurrency slot.
func (s *Supervisor) ActiveCount() int {
	return s.gate.InUse()
}

// MaxConcurrent reports the concurrency limit.
func (s *Supervisor) MaxConcurrent() int {
	return s.gate.Limit()
}

// Shutdown stops every active simulation and waits for the monitors to
// finish. Simulations are marked cancelled; a crash-stopped supervisor
// instead relies on the startup reconciliation pass.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ids := make([]core.SimulationID, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		// A monitor may beat us to the terminal state; that is not a
		// shutdown failure.
		if _, err := s.Stop(ctx, id, true); err != nil && !core.IsCategory(err, core.ErrCatState) {
			s.log.Warn("shutdown stop failed", "simulation_id", id, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// job returns the active job for id, or an error describing why the
// simulation cannot be controlled.
func (s *Supervisor) job(id core.SimulationID) (*job, error) {
	s.mu.Lock()
	j, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		return j, nil
	}
	sim, err := s.store.Get(context.Background(), id)
	if err != nil {
		return nil, err
	}
	return nil, core.ErrInvalidState("control", sim.Status)
}

// confirmSuspended polls the process state until the STOP signal has taken
// effect or the confirmation window closes.
func (s *Supervisor) confirmSuspended(ctx context.Context, pid int) error {
	deadline := time.Now().Add(s.cfg.PauseConfirmTimeout)
	for {
		p, err := gopsutil.NewProcess(int32(pid))
		if err != nil {
			return core.ErrProcessNotFound(pid).WithCause(err)
		}
		statuses, err := p.Status()
		if err == nil {
			for _, st := range statuses {
				if st == gopsutil.Stop {
					return nil
				}
			}
		}
		if time.Now().After(deadline) {
			return core.ErrSignal(fmt.Sprintf("pause of pid %d not confirmed within %s", pid, s.cfg.PauseConfirmTimeout))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// recordCheckpoint writes the checkpoint artifact atomically and appends the
// record to the checkpoint log. resetWindow restarts the automatic interval
// from this iteration. Caller holds j.ctl.
func (s *Supervisor) recordCheckpoint(ctx context.Context, sim *core.Simulation, j *job, resetWindow bool) (*core.Checkpoint, error) {
	cp := &core.Checkpoint{
		SimulationID: sim.ID,
		Iteration:    sim.CurrentIteration,
		CreatedAt:    time.Now().UTC(),
	}

	dir := filepath.Join(sim.OutputDir, "checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.ErrStorage("create checkpoint directory").WithCause(err)
	}
	cp.ArtifactPath = filepath.Join(dir, fmt.Sprintf("checkpoint_%06d.json", cp.Iteration))

	artifact := checkpointArtifact{
		SimulationID:    string(sim.ID),
		Iteration:       sim.CurrentIteration,
		TotalIterations: sim.TotalIterations,
		ProgressPercent: sim.ProgressPercent,
		Status:          string(sim.Status),
		ConfigPath:      sim.ConfigPath,
		LogPath:         sim.LogPath,
		CreatedAt:       cp.CreatedAt,
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return nil, core.ErrStorage("encode checkpoint").WithCause(err)
	}
	// Temp-file-then-rename keeps a crash from ever leaving a truncated
	// artifact behind.
	if err := renameio.WriteFile(cp.ArtifactPath, data, 0o644); err != nil {
		return nil, core.ErrStorage("write checkpoint artifact").WithCause(err)
	}

	if err := s.checkpoints.Append(ctx, cp); err != nil {
		return nil, err
	}

	if j != nil && resetWindow {
		j.lastCheckpoint.Store(int64(cp.Iteration))
	}

	s.bus.Publish(events.NewCheckpointEvent(string(sim.ID), cp.Iteration, cp.ArtifactPath))
	s.log.Info("checkpoint recorded",
		"simulation_id", sim.ID, "iteration", cp.Iteration, "artifact", cp.ArtifactPath)
	return cp, nil
}

// checkpointArtifact is the on-disk checkpoint document.
type checkpointArtifact struct {
	SimulationID    string    `json:"simulation_id"`
	Iteration       int       `json:"iteration"`
	TotalIterations *int      `json:"total_iterations,omitempty"`
	ProgressPercent int       `json:"progress_percentage"`
	Status          string    `json:"status"`
	ConfigPath      string    `json:"config_path"`
	LogPath         string    `json:"log_path"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *Supervisor) publishState(id core.SimulationID, from, to core.Status, errMsg string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.NewStateChangedEvent(string(id), string(from), string(to), errMsg))
}

// newSimulationID mints an identifier in the sim_<hex> form.
func newSimulationID() core.SimulationID {
	return core.SimulationID("sim_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
}
