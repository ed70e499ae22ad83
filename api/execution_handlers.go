package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"argus/core"
	"argus/storage"
)

func (a *API) listExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := storage.ExecutionFilters{
		Status:     q.Get("status"),
		PlaybookID: q.Get("playbook_id"),
		ActiveOnly: q.Get("active") == "true",
	}
	limit, offset := parsePagination(r)

	executions, total, err := a.engine.List(r.Context(), filters, limit, offset)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondList(w, executions, total, limit, offset)
}

func (a *API) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := a.engine.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

// stepUpdateRequest resolves the current step of a run. The path index is
// zero-based and must equal the execution's current step.
type stepUpdateRequest struct {
	Status core.StepRunStatus `json:"status"`
	Result string             `json:"result"`
}

func (a *API) updateExecutionStep(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil || index < 0 {
		a.writeError(w, http.StatusBadRequest, "step index must be a non-negative integer", err)
		return
	}

	var req stepUpdateRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}

	exec, err := a.engine.UpdateStep(r.Context(), vars["id"], index, req.Status, req.Result, analystFrom(r))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

type abortRequest struct {
	Reason string `json:"reason"`
}

func (a *API) abortExecution(w http.ResponseWriter, r *http.Request) {
	var req abortRequest
	if r.ContentLength != 0 {
		if err := a.decodeJSONBody(w, r, &req); err != nil {
			return
		}
	}

	exec, err := a.engine.Abort(r.Context(), mux.Vars(r)["id"], analystFrom(r), req.Reason)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

type completeRequest struct {
	Result string `json:"result"`
}

func (a *API) completeExecution(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if r.ContentLength != 0 {
		if err := a.decodeJSONBody(w, r, &req); err != nil {
			return
		}
	}

	exec, err := a.engine.Complete(r.Context(), mux.Vars(r)["id"], req.Result)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}
