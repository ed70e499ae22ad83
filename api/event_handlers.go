package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"argus/core"
	"argus/metrics"
	"argus/storage"
)

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := storage.EventFilters{
		Severity: q.Get("severity"),
		Status:   q.Get("status"),
		Source:   q.Get("source"),
		SiteID:   q.Get("site_id"),
		Search:   q.Get("search"),
	}
	limit, offset := parsePagination(r)

	events, total, err := a.events.ListEvents(r.Context(), filters, limit, offset)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondList(w, events, total, limit, offset)
}

func (a *API) getEvent(w http.ResponseWriter, r *http.Request) {
	evt, err := a.events.GetEvent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, evt)
}

// eventPatchRequest covers triage updates: status and assignment only.
type eventPatchRequest struct {
	Status     *core.EventStatus `json:"status"`
	AssignedTo *string           `json:"assigned_to"`
}

func (a *API) updateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventPatchRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}

	evt, err := a.events.GetEvent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	if req.Status != nil {
		if !req.Status.IsValid() {
			a.writeDomainError(w, core.NewValidationError("status", "invalid status %q", *req.Status))
			return
		}
		evt.Status = *req.Status
	}
	if req.AssignedTo != nil {
		evt.AssignedTo = *req.AssignedTo
	}
	evt.UpdatedAt = time.Now().UTC()

	if err := a.events.UpdateEvent(r.Context(), evt); err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, evt)
}

// ingestEventRequest is one inbound event. ID, status, and timestamps are
// assigned server-side; a zero timestamp defaults to receipt time.
type ingestEventRequest struct {
	Timestamp   time.Time              `json:"timestamp"`
	Source      core.EventSource       `json:"source"`
	EventType   string                 `json:"event_type"`
	Severity    core.Severity          `json:"severity"`
	Description string                 `json:"description"`
	RawLog      string                 `json:"raw_log"`
	Metadata    map[string]interface{} `json:"metadata"`
	SiteID      string                 `json:"site_id"`
}

func (req ingestEventRequest) toEvent() *core.Event {
	evt := core.NewEvent(req.Source, req.EventType, req.Severity, req.Timestamp)
	evt.Description = req.Description
	evt.RawLog = req.RawLog
	if req.Metadata != nil {
		evt.Metadata = req.Metadata
	}
	evt.SiteID = req.SiteID
	return evt
}

// ingestEvents accepts a single event object or a JSON array of them. Each
// persisted event is broadcast and run through the alert engine.
func (a *API) ingestEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.config.API.JSONBodyLimit))
	if err != nil {
		a.writeError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
		return
	}

	var requests []ingestEventRequest
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(body, &requests); err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid JSON body", err)
			return
		}
	} else {
		var single ingestEventRequest
		if err := json.Unmarshal(body, &single); err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid JSON body", err)
			return
		}
		requests = []ingestEventRequest{single}
	}
	if len(requests) == 0 {
		a.writeError(w, http.StatusBadRequest, "no events in request", nil)
		return
	}

	events := make([]*core.Event, 0, len(requests))
	for _, req := range requests {
		evt := req.toEvent()
		if err := evt.Validate(); err != nil {
			a.writeDomainError(w, err)
			return
		}
		events = append(events, evt)
	}

	if err := a.events.CreateEvents(r.Context(), events); err != nil {
		a.writeDomainError(w, err)
		return
	}

	for _, evt := range events {
		metrics.EventsIngested.WithLabelValues(string(evt.Source)).Inc()
		if a.hub != nil {
			if err := a.hub.BroadcastMessage("event:created", evt); err != nil {
				a.logger.Debugw("Event broadcast failed", "event_id", evt.ID, "error", err)
			}
		}
		if a.alertEngine != nil {
			a.alertEngine.HandleEvent(r.Context(), evt)
		}
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"ingested": len(events),
		"events":   events,
	})
}
