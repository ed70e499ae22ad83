package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"argus/core"
	"argus/storage"
)

// playbookCreateRequest is the client payload for creating a playbook.
// Status and execution stats are server-owned and not accepted here.
type playbookCreateRequest struct {
	Name          string                `json:"name"`
	Description   string                `json:"description"`
	Category      core.PlaybookCategory `json:"category"`
	Trigger       core.TriggerType      `json:"trigger"`
	TriggerConfig core.TriggerConfig    `json:"trigger_config"`
	Steps         []core.PlaybookStep   `json:"steps"`
}

// playbookPatchRequest carries partial updates; nil fields are left alone.
type playbookPatchRequest struct {
	Name          *string                `json:"name"`
	Description   *string                `json:"description"`
	Category      *core.PlaybookCategory `json:"category"`
	Trigger       *core.TriggerType      `json:"trigger"`
	TriggerConfig *core.TriggerConfig    `json:"trigger_config"`
	Steps         *[]core.PlaybookStep   `json:"steps"`
}

func (a *API) listPlaybooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := storage.PlaybookFilters{
		Status:   q.Get("status"),
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}
	limit, offset := parsePagination(r)

	playbooks, total, err := a.registry.List(r.Context(), filters, limit, offset)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondList(w, playbooks, total, limit, offset)
}

func (a *API) createPlaybook(w http.ResponseWriter, r *http.Request) {
	var req playbookCreateRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}

	p := core.NewPlaybook(req.Name, req.Description, req.Category, analystFrom(r))
	if req.Trigger != "" {
		p.Trigger = req.Trigger
	}
	p.TriggerConfig = req.TriggerConfig
	if req.Steps != nil {
		p.Steps = req.Steps
	}

	if err := a.registry.Create(r.Context(), p); err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (a *API) getPlaybook(w http.ResponseWriter, r *http.Request) {
	p, err := a.registry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (a *API) updatePlaybook(w http.ResponseWriter, r *http.Request) {
	var req playbookPatchRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}

	p, err := a.registry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Category != nil {
		p.Category = *req.Category
	}
	if req.Trigger != nil {
		p.Trigger = *req.Trigger
	}
	if req.TriggerConfig != nil {
		p.TriggerConfig = *req.TriggerConfig
	}
	if req.Steps != nil {
		p.Steps = *req.Steps
	}

	if err := a.registry.Update(r.Context(), p); err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (a *API) deletePlaybook(w http.ResponseWriter, r *http.Request) {
	if err := a.registry.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) duplicatePlaybook(w http.ResponseWriter, r *http.Request) {
	dup, err := a.registry.Duplicate(r.Context(), mux.Vars(r)["id"], analystFrom(r))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, dup)
}

func (a *API) togglePlaybook(w http.ResponseWriter, r *http.Request) {
	p, err := a.registry.Toggle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (a *API) archivePlaybook(w http.ResponseWriter, r *http.Request) {
	p, err := a.registry.Archive(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// executeRequest optionally links the new run to the alert and event that
// prompted it. StartedBy overrides the header-derived analyst.
type executeRequest struct {
	AlertID   string `json:"alert_id"`
	EventID   string `json:"event_id"`
	StartedBy string `json:"started_by"`
}

func (a *API) executePlaybook(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if r.ContentLength != 0 {
		if err := a.decodeJSONBody(w, r, &req); err != nil {
			return
		}
	}

	startedBy := req.StartedBy
	if startedBy == "" {
		startedBy = analystFrom(r)
	}

	exec, err := a.engine.Execute(r.Context(), mux.Vars(r)["id"], req.AlertID, req.EventID, startedBy)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, exec)
}
