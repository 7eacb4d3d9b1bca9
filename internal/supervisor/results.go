package supervisor

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
	"github.com/hugo-lorenzo-mato/simrunner/internal/fsutil"
)

// QueriesFileName is the simulator's generated query log, one query per line.
const QueriesFileName = "queries.txt"

// Results aggregates everything a completed run produced.
type Results struct {
	SimulationID    core.SimulationID      `json:"simulation_id"`
	Status          core.Status            `json:"status"`
	DurationSeconds float64                `json:"duration_seconds"`
	Iterations      int                    `json:"iterations"`
	OutputFiles     []string               `json:"output_files"`
	Queries         []string               `json:"queries,omitempty"`
	Summary         map[string]interface{} `json:"summary,omitempty"`
}

// Logs is a window over the simulation's output log.
type Logs struct {
	SimulationID core.SimulationID `json:"simulation_id"`
	LogPath      string            `json:"log_path"`
	Content      string            `json:"content"`
}

// Results collects the output artifacts of a simulation: the file inventory
// of the output directory, the query log, and the simulator's own results
// document when it wrote one. Results is available in every state; a run
// that has produced nothing yet yields an empty inventory, not an error.
func (s *Supervisor) Results(ctx context.Context, id core.SimulationID) (*Results, error) {
	sim, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &Results{
		SimulationID:    sim.ID,
		Status:          sim.Status,
		DurationSeconds: sim.Duration().Seconds(),
		Iterations:      sim.CurrentIteration,
	}

	res.OutputFiles, err = listOutputFiles(sim.OutputDir)
	if err != nil {
		return nil, core.ErrStorage("listing output files").WithCause(err)
	}

	if queries, err := readLines(filepath.Join(sim.OutputDir, QueriesFileName)); err == nil {
		res.Queries = queries
	}

	if data, err := fsutil.ReadFileScoped(sim.ResultsPath); err == nil {
		var summary map[string]interface{}
		if jerr := json.Unmarshal(data, &summary); jerr == nil {
			res.Summary = summary
		}
	}

	return res, nil
}

// Logs returns the last tail lines of the simulation log, or the whole log
// when tail is zero or negative.
func (s *Supervisor) Logs(ctx context.Context, id core.SimulationID, tail int) (*Logs, error) {
	sim, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sim.LogPath == "" {
		return nil, core.ErrNotFound("log file", string(id))
	}

	data, err := fsutil.ReadFileScoped(sim.LogPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Nothing written yet; an empty window is not an error.
			return &Logs{SimulationID: id, LogPath: sim.LogPath}, nil
		}
		return nil, core.ErrStorage("reading log file").WithCause(err)
	}

	content := string(data)
	if tail > 0 {
		content = fsutil.TailLines(content, tail)
	}
	return &Logs{SimulationID: id, LogPath: sim.LogPath, Content: content}, nil
}

// listOutputFiles walks the output directory and returns relative file
// paths in walk order.
func listOutputFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(dir, path)
		if rerr != nil {
			return rerr
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return files, nil
}

func readLines(path string) ([]string, error) {
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
