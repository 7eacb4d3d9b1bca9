package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
	"github.com/hugo-lorenzo-mato/simrunner/internal/supervisor"
)

// createSimulationRequest is the POST /simulations body. Config carries the
// simulator configuration document, either as a JSON object or as a raw
// string holding the document text.
type createSimulationRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Config      json.RawMessage        `json:"config"`
	Overrides   map[string]string      `json:"overrides,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// updateSimulationRequest is the PUT /simulations/{id} body.
type updateSimulationRequest struct {
	Name        *string                `json:"name,omitempty"`
	Description *string                `json:"description,omitempty"`
	Config      json.RawMessage        `json:"config,omitempty"`
	Overrides   map[string]string      `json:"overrides,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// controlRequest is the POST /simulations/{id}/control body.
type controlRequest struct {
	Action string `json:"action"`
	// CheckpointBeforeAction records a checkpoint before pause or stop.
	CheckpointBeforeAction bool `json:"checkpoint_before_action,omitempty"`
}

// listSimulationsResponse wraps the list payload.
type listSimulationsResponse struct {
	Simulations []*core.Simulation `json:"simulations"`
	Count       int                `json:"count"`
}

func (s *Server) handleCreateSimulation(w http.ResponseWriter, r *http.Request) {
	var req createSimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorStatus(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	payload, err := configPayload(req.Config)
	if err != nil {
		respondErrorStatus(w, http.StatusBadRequest, err.Error())
		return
	}

	sim, err := s.supervisor.Create(r.Context(), supervisor.CreateRequest{
		Name:        req.Name,
		Description: req.Description,
		Payload:     payload,
		Overrides:   req.Overrides,
		Metadata:    req.Metadata,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sim)
}

func (s *Server) handleListSimulations(w http.ResponseWriter, r *http.Request) {
	filter := core.ListFilter{}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := core.Status(strings.ToLower(raw))
		if !status.Valid() {
			respondErrorStatus(w, http.StatusBadRequest, "unknown status: "+raw)
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondErrorStatus(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondErrorStatus(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	sims, err := s.supervisor.List(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}
	if sims == nil {
		sims = []*core.Simulation{}
	}
	respondJSON(w, http.StatusOK, listSimulationsResponse{Simulations: sims, Count: len(sims)})
}

func (s *Server) handleGetSimulation(w http.ResponseWriter, r *http.Request) {
	sim, err := s.supervisor.Get(r.Context(), simulationID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sim)
}

func (s *Server) handleUpdateSimulation(w http.ResponseWriter, r *http.Request) {
	var req updateSimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorStatus(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	upd := supervisor.UpdateRequest{
		Name:        req.Name,
		Description: req.Description,
		Metadata:    req.Metadata,
		Overrides:   req.Overrides,
	}
	if len(req.Config) > 0 {
		payload, err := configPayload(req.Config)
		if err != nil {
			respondErrorStatus(w, http.StatusBadRequest, err.Error())
			return
		}
		upd.Payload = payload
	}

	sim, err := s.supervisor.Update(r.Context(), simulationID(r), upd)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sim)
}

func (s *Server) handleDeleteSimulation(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.Delete(r.Context(), simulationID(r)); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorStatus(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id := simulationID(r)
	ctx := r.Context()

	switch strings.ToLower(req.Action) {
	case "start":
		sim, err := s.supervisor.Start(ctx, id)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, sim)
	case "pause":
		sim, err := s.supervisor.Pause(ctx, id, req.CheckpointBeforeAction)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, sim)
	case "resume":
		sim, err := s.supervisor.Resume(ctx, id)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, sim)
	case "stop":
		sim, err := s.supervisor.Stop(ctx, id, req.CheckpointBeforeAction)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, sim)
	case "checkpoint":
		cp, err := s.supervisor.Checkpoint(ctx, id)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, cp)
	default:
		respondErrorStatus(w, http.StatusBadRequest,
			"unknown action: "+req.Action+" (expected start, pause, resume, stop, or checkpoint)")
	}
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.supervisor.Results(r.Context(), simulationID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	tail := 0
	if raw := r.URL.Query().Get("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondErrorStatus(w, http.StatusBadRequest, "tail must be a positive integer")
			return
		}
		tail = n
	}

	logs, err := s.supervisor.Logs(r.Context(), simulationID(r), tail)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	id := simulationID(r)
	cps, err := s.supervisor.Checkpoints(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if cps == nil {
		cps = []*core.Checkpoint{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"simulation_id": id,
		"checkpoints":   cps,
		"count":         len(cps),
	})
}

func simulationID(r *http.Request) core.SimulationID {
	return core.SimulationID(chi.URLParam(r, "simulationID"))
}

// configPayload normalizes the config field: a JSON string is unquoted and
// used verbatim as the document text, anything else is passed through as a
// JSON document (which the materializer parses as YAML).
func configPayload(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		return []byte(text), nil
	}
	return raw, nil
}
