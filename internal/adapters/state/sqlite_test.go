package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newStoredSimulation(t *testing.T, s *SQLiteStore, id core.SimulationID) *core.Simulation {
	t.Helper()
	sim := core.NewSimulation(id, "test run")
	sim.ConfigPath = "/tmp/" + string(id) + "/config.yaml"
	sim.OutputDir = "/tmp/" + string(id)
	require.NoError(t, s.Create(context.Background(), sim))
	return sim
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	total := 500
	sim := core.NewSimulation("sim_abc", "query fatigue study")
	sim.Description = "baseline"
	sim.ConfigPath = "/data/sim_abc/config.yaml"
	sim.ConfigContent = "users: [alice]\n"
	sim.OutputDir = "/data/sim_abc"
	sim.LogPath = "/data/sim_abc/simulation.log"
	sim.TotalIterations = &total
	sim.Metadata = map[string]interface{}{"team": "ir"}

	require.NoError(t, s.Create(ctx, sim))

	got, err := s.Get(ctx, "sim_abc")
	require.NoError(t, err)
	assert.Equal(t, sim.Name, got.Name)
	assert.Equal(t, sim.Description, got.Description)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Equal(t, sim.ConfigContent, got.ConfigContent)
	require.NotNil(t, got.TotalIterations)
	assert.Equal(t, 500, *got.TotalIterations)
	assert.Equal(t, "ir", got.Metadata["team"])
	assert.Nil(t, got.ProcessID)
	assert.Nil(t, got.StartedAt)
}

func TestSQLiteStore_GetUnknown(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "sim_missing")
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.CodeNotFound))
}

func TestSQLiteStore_UpdateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sim := newStoredSimulation(t, s, "sim_upd")

	pid := 1234
	require.NoError(t, sim.Apply(core.EventStart, &pid))
	sim.UpdateProgress(42, nil)
	require.NoError(t, s.Update(ctx, sim))

	got, err := s.Get(ctx, "sim_upd")
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, got.Status)
	require.NotNil(t, got.ProcessID)
	assert.Equal(t, 1234, *got.ProcessID)
	assert.Equal(t, 42, got.CurrentIteration)
	require.NotNil(t, got.StartedAt)
}

func TestSQLiteStore_UpdateUnknown(t *testing.T) {
	s := newTestStore(t)

	sim := core.NewSimulation("sim_ghost", "ghost")
	err := s.Update(context.Background(), sim)
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.CodeNotFound))
}

func TestSQLiteStore_ListFilterAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []core.SimulationID{"sim_1", "sim_2", "sim_3"} {
		sim := newStoredSimulation(t, s, id)
		if i < 2 {
			pid := 100 + i
			require.NoError(t, sim.Apply(core.EventStart, &pid))
			require.NoError(t, s.Update(ctx, sim))
		}
		// Distinct created_at ordering.
		time.Sleep(5 * time.Millisecond)
	}

	all, err := s.List(ctx, core.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	running := core.StatusRunning
	got, err := s.List(ctx, core.ListFilter{Status: &running})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	paged, err := s.List(ctx, core.ListFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, paged, 1)
}

func TestSQLiteStore_ListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newStoredSimulation(t, s, "sim_old")
	time.Sleep(5 * time.Millisecond)
	newStoredSimulation(t, s, "sim_new")

	got, err := s.List(ctx, core.ListFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.SimulationID("sim_new"), got[0].ID)
	assert.Equal(t, core.SimulationID("sim_old"), got[1].ID)
}

func TestSQLiteStore_DeleteCascadesCheckpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cps := s.Checkpoints()

	newStoredSimulation(t, s, "sim_del")
	require.NoError(t, cps.Append(ctx, &core.Checkpoint{
		SimulationID: "sim_del",
		Iteration:    100,
		ArtifactPath: "/tmp/cp.json",
		CreatedAt:    time.Now().UTC(),
	}))

	require.NoError(t, s.Delete(ctx, "sim_del"))

	_, err := s.Get(ctx, "sim_del")
	assert.True(t, core.IsCode(err, core.CodeNotFound))

	left, err := cps.List(ctx, "sim_del")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSQLiteStore_DeleteUnknown(t *testing.T) {
	s := newTestStore(t)

	err := s.Delete(context.Background(), "sim_missing")
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.CodeNotFound))
}

func TestCheckpoints_OrderedAscendingAndLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cps := s.Checkpoints()

	newStoredSimulation(t, s, "sim_cp")
	for _, iter := range []int{300, 100, 200} {
		require.NoError(t, cps.Append(ctx, &core.Checkpoint{
			SimulationID: "sim_cp",
			Iteration:    iter,
			ArtifactPath: "/tmp/cp.json",
			CreatedAt:    time.Now().UTC(),
		}))
	}

	got, err := cps.List(ctx, "sim_cp")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 100, got[0].Iteration)
	assert.Equal(t, 200, got[1].Iteration)
	assert.Equal(t, 300, got[2].Iteration)

	latest, err := cps.Latest(ctx, "sim_cp")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 300, latest.Iteration)
}

func TestCheckpoints_DuplicateIterationIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cps := s.Checkpoints()

	newStoredSimulation(t, s, "sim_dup")
	cp := &core.Checkpoint{SimulationID: "sim_dup", Iteration: 100, CreatedAt: time.Now().UTC()}
	require.NoError(t, cps.Append(ctx, cp))
	require.NoError(t, cps.Append(ctx, cp), "re-appending the same iteration is a no-op")

	got, err := cps.List(ctx, "sim_dup")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCheckpoints_LatestEmptyIsNil(t *testing.T) {
	s := newTestStore(t)

	newStoredSimulation(t, s, "sim_none")
	latest, err := s.Checkpoints().Latest(context.Background(), "sim_none")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	sim := core.NewSimulation("sim_persist", "persists")
	require.NoError(t, s.Create(ctx, sim))
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, "sim_persist")
	require.NoError(t, err)
	assert.Equal(t, "persists", got.Name)
}
