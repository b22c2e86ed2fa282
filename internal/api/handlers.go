package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/rucat-project/rucat/internal/apierr"
	"github.com/rucat-project/rucat/internal/engine"
	"github.com/rucat-project/rucat/internal/id"
)

var bodyValidator = validator.New()

// handler bundles the API server's one dependency: the engine store. The
// API server never touches the orchestrator directly.
type handler struct {
	store engine.Store
}

// engineResponse is the record shape returned by GET.
type engineResponse struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	EngineType string            `json:"engine_type"`
	Version    string            `json:"version"`
	State      string            `json:"state"`
	Configs    map[string]string `json:"configs"`
	CreateTime string            `json:"create_time"`
}

func toResponse(rec engine.Record) engineResponse {
	return engineResponse{
		ID:         rec.ID,
		Name:       rec.Name,
		EngineType: string(rec.EngineType),
		Version:    rec.Version,
		State:      string(rec.State),
		Configs:    rec.Configs,
		CreateTime: rec.CreateTime.UTC().Format(time.RFC3339),
	}
}

// createEngine handles POST /engine.
func (h *handler) createEngine(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierr.ValidationError("body", "malformed JSON"))
		return
	}
	if err := bodyValidator.Struct(req); err != nil {
		writeError(w, r, apierr.ValidationError("body", err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	newID, err := id.New()
	if err != nil {
		writeError(w, r, apierr.StoreUnavailable(err))
		return
	}

	rec := engine.Record{
		ID:         newID,
		Name:       req.Name,
		EngineType: req.EngineType,
		Version:    req.Version,
		Configs:    req.Configs,
		State:      engine.WaitToStart,
		CreateTime: time.Now().UTC(),
	}
	if err := h.store.Insert(r.Context(), rec); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": newID})
}

// getEngine handles GET /engine/{id}.
func (h *handler) getEngine(w http.ResponseWriter, r *http.Request) {
	engineID := chi.URLParam(r, "id")
	rec, err := h.store.Get(r.Context(), engineID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

// listEngines handles GET /engines.
func (h *handler) listEngines(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]map[string]string, 0, len(ids))
	for _, engineID := range ids {
		out = append(out, map[string]string{"id": engineID})
	}
	writeJSON(w, http.StatusOK, out)
}

// stopEngine handles POST /engine/{id}/stop, implemented as ordered CAS
// attempts over engine.StopTargets.
func (h *handler) stopEngine(w http.ResponseWriter, r *http.Request) {
	engineID := chi.URLParam(r, "id")
	rec, err := h.store.Get(r.Context(), engineID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for _, target := range engine.StopTargets() {
		if rec.State != target.From {
			continue
		}
		if err := h.store.CASState(r.Context(), engineID, target.From, target.To); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeError(w, r, apierr.ConflictState(string(rec.State)))
}

// restartEngine handles POST /engine/{id}/restart.
func (h *handler) restartEngine(w http.ResponseWriter, r *http.Request) {
	engineID := chi.URLParam(r, "id")
	rec, err := h.store.Get(r.Context(), engineID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, ok := engine.RestartTarget(rec.State)
	if !ok {
		writeError(w, r, apierr.ConflictState(string(rec.State)))
		return
	}
	if err := h.store.CASState(r.Context(), engineID, rec.State, to); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteEngine handles DELETE /engine/{id}.
func (h *handler) deleteEngine(w http.ResponseWriter, r *http.Request) {
	engineID := chi.URLParam(r, "id")
	deletableStates := []engine.State{engine.WaitToStart, engine.Terminated, engine.ErrorClean}
	if err := h.store.DeleteIfState(r.Context(), engineID, deletableStates); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
