// Package state persists simulations and their checkpoint log in sqlite.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore implements core.SimulationStore and core.CheckpointStore with
// SQLite storage. All writes commit before the call returns, so a control
// operation never reports success ahead of its durable state change.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	// WAL mode for better concurrency between the monitor loops and the
	// request path.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet, run initial migration.
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

const simulationColumns = `id, name, description, status, config_path, config_content,
	output_directory, log_file_path, results_file_path, process_id,
	current_iteration, total_iterations, progress_percentage, metadata,
	error_message, created_at, started_at, completed_at, updated_at`

// Create inserts a new simulation record.
func (s *SQLiteStore) Create(ctx context.Context, sim *core.Simulation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadataJSON, err := marshalMetadata(sim.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO simulations (`+simulationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sim.ID, sim.Name, nullStr(sim.Description), sim.Status,
		nullStr(sim.ConfigPath), nullStr(sim.ConfigContent),
		nullStr(sim.OutputDir), nullStr(sim.LogPath), nullStr(sim.ResultsPath),
		nullIntPtr(sim.ProcessID),
		sim.CurrentIteration, nullIntPtr(sim.TotalIterations), sim.ProgressPercent,
		nullStr(metadataJSON), nullStr(sim.ErrorMessage),
		sim.CreatedAt, nullTimePtr(sim.StartedAt), nullTimePtr(sim.CompletedAt), sim.UpdatedAt,
	)
	if err != nil {
		return core.ErrStorage("inserting simulation").WithCause(err)
	}
	return nil
}

// Get returns a simulation by id.
func (s *SQLiteStore) Get(ctx context.Context, id core.SimulationID) (*core.Simulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+simulationColumns+" FROM simulations WHERE id = ?", id)
	sim, err := scanSimulation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("simulation", string(id))
	}
	if err != nil {
		return nil, core.ErrStorage("reading simulation").WithCause(err)
	}
	return sim, nil
}

// List returns simulations newest-first with optional status filtering.
func (s *SQLiteStore) List(ctx context.Context, filter core.ListFilter) ([]*core.Simulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + simulationColumns + " FROM simulations"
	args := []interface{}{}
	if filter.Status != nil {
		query += " WHERE status = ?"
		args = append(args, *filter.Status)
	}
	query += " ORDER BY created_at DESC, id DESC"

	limit := filter.Limit
	if limit == 0 {
		limit = 100
	}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.ErrStorage("listing simulations").WithCause(err)
	}
	defer rows.Close()

	var sims []*core.Simulation
	for rows.Next() {
		sim, err := scanSimulation(rows)
		if err != nil {
			return nil, core.ErrStorage("scanning simulation row").WithCause(err)
		}
		sims = append(sims, sim)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrStorage("iterating simulation rows").WithCause(err)
	}
	return sims, nil
}

// Update persists the full simulation record.
func (s *SQLiteStore) Update(ctx context.Context, sim *core.Simulation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadataJSON, err := marshalMetadata(sim.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE simulations SET
			name = ?, description = ?, status = ?,
			config_path = ?, config_content = ?,
			output_directory = ?, log_file_path = ?, results_file_path = ?,
			process_id = ?, current_iteration = ?, total_iterations = ?,
			progress_percentage = ?, metadata = ?, error_message = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`,
		sim.Name, nullStr(sim.Description), sim.Status,
		nullStr(sim.ConfigPath), nullStr(sim.ConfigContent),
		nullStr(sim.OutputDir), nullStr(sim.LogPath), nullStr(sim.ResultsPath),
		nullIntPtr(sim.ProcessID), sim.CurrentIteration, nullIntPtr(sim.TotalIterations),
		sim.ProgressPercent, nullStr(metadataJSON), nullStr(sim.ErrorMessage),
		nullTimePtr(sim.StartedAt), nullTimePtr(sim.CompletedAt), sim.UpdatedAt,
		sim.ID,
	)
	if err != nil {
		return core.ErrStorage("updating simulation").WithCause(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.ErrStorage("checking update result").WithCause(err)
	}
	if affected == 0 {
		return core.ErrNotFound("simulation", string(sim.ID))
	}
	return nil
}

// Delete removes the simulation and, via cascade, its checkpoints.
func (s *SQLiteStore) Delete(ctx context.Context, id core.SimulationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM simulations WHERE id = ?", id)
	if err != nil {
		return core.ErrStorage("deleting simulation").WithCause(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.ErrStorage("checking delete result").WithCause(err)
	}
	if affected == 0 {
		return core.ErrNotFound("simulation", string(id))
	}
	return nil
}

// Append adds one checkpoint record. The (simulation, iteration) key makes
// the log naturally append-only: re-recording an iteration is a conflict.
func (s *SQLiteStore) Append(ctx context.Context, cp *core.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (simulation_id, iteration, artifact_path, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(simulation_id, iteration) DO NOTHING
	`, cp.SimulationID, cp.Iteration, cp.ArtifactPath, cp.CreatedAt)
	if err != nil {
		return core.ErrStorage("appending checkpoint").WithCause(err)
	}
	return nil
}

// listCheckpoints returns the checkpoint log in ascending iteration order.
// It is reached through the core.CheckpointStore view from Checkpoints().
func (s *SQLiteStore) listCheckpoints(ctx context.Context, id core.SimulationID) ([]*core.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT simulation_id, iteration, artifact_path, created_at
		FROM checkpoints WHERE simulation_id = ?
		ORDER BY iteration ASC
	`, id)
	if err != nil {
		return nil, core.ErrStorage("listing checkpoints").WithCause(err)
	}
	defer rows.Close()

	var cps []*core.Checkpoint
	for rows.Next() {
		cp := &core.Checkpoint{}
		if err := rows.Scan(&cp.SimulationID, &cp.Iteration, &cp.ArtifactPath, &cp.CreatedAt); err != nil {
			return nil, core.ErrStorage("scanning checkpoint row").WithCause(err)
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrStorage("iterating checkpoint rows").WithCause(err)
	}
	return cps, nil
}

// Latest returns the most recent checkpoint, or nil when none exist.
func (s *SQLiteStore) Latest(ctx context.Context, id core.SimulationID) (*core.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT simulation_id, iteration, artifact_path, created_at
		FROM checkpoints WHERE simulation_id = ?
		ORDER BY iteration DESC LIMIT 1
	`, id)

	cp := &core.Checkpoint{}
	err := row.Scan(&cp.SimulationID, &cp.Iteration, &cp.ArtifactPath, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.ErrStorage("reading latest checkpoint").WithCause(err)
	}
	return cp, nil
}

// Checkpoints returns the store's checkpoint log view.
func (s *SQLiteStore) Checkpoints() core.CheckpointStore {
	return checkpointView{s}
}

type checkpointView struct {
	s *SQLiteStore
}

func (v checkpointView) Append(ctx context.Context, cp *core.Checkpoint) error {
	return v.s.Append(ctx, cp)
}

func (v checkpointView) List(ctx context.Context, id core.SimulationID) ([]*core.Checkpoint, error) {
	return v.s.listCheckpoints(ctx, id)
}

func (v checkpointView) Latest(ctx context.Context, id core.SimulationID) (*core.Checkpoint, error) {
	return v.s.Latest(ctx, id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSimulation(row rowScanner) (*core.Simulation, error) {
	sim := &core.Simulation{}
	var (
		description, configPath, configContent   sql.NullString
		outputDir, logPath, resultsPath          sql.NullString
		metadataJSON, errorMessage               sql.NullString
		processID, totalIterations               sql.NullInt64
		startedAt, completedAt                   sql.NullTime
	)

	err := row.Scan(
		&sim.ID, &sim.Name, &description, &sim.Status,
		&configPath, &configContent,
		&outputDir, &logPath, &resultsPath,
		&processID, &sim.CurrentIteration, &totalIterations, &sim.ProgressPercent,
		&metadataJSON, &errorMessage,
		&sim.CreatedAt, &startedAt, &completedAt, &sim.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sim.Description = description.String
	sim.ConfigPath = configPath.String
	sim.ConfigContent = configContent.String
	sim.OutputDir = outputDir.String
	sim.LogPath = logPath.String
	sim.ResultsPath = resultsPath.String
	sim.ErrorMessage = errorMessage.String

	if processID.Valid {
		pid := int(processID.Int64)
		sim.ProcessID = &pid
	}
	if totalIterations.Valid {
		total := int(totalIterations.Int64)
		sim.TotalIterations = &total
	}
	if startedAt.Valid {
		t := startedAt.Time
		sim.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		sim.CompletedAt = &t
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &sim.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return sim, nil
}

func marshalMetadata(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", core.ErrStorage("marshaling metadata").WithCause(err)
	}
	return string(data), nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullIntPtr(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullTimePtr(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}
