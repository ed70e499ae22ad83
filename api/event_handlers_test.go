package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/core"
)

func eventPayload(eventType string) map[string]interface{} {
	return map[string]interface{}{
		"source":      "firewall",
		"event_type":  eventType,
		"severity":    "high",
		"description": "blocked outbound connection",
		"site_id":     "hq",
	}
}

func TestIngestSingleEvent(t *testing.T) {
	ta := newTestAPI(t)

	var resp struct {
		Ingested int          `json:"ingested"`
		Events   []core.Event `json:"events"`
	}
	rec := ta.do(t, http.MethodPost, "/api/ingest", eventPayload("port_scan"), &resp)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, 1, resp.Ingested)

	evt := resp.Events[0]
	assert.Equal(t, core.EventStatusNew, evt.Status)
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestIngestBatch(t *testing.T) {
	ta := newTestAPI(t)

	batch := []map[string]interface{}{
		eventPayload("port_scan"),
		eventPayload("dos_attempt"),
		eventPayload("port_scan"),
	}
	var resp struct {
		Ingested int `json:"ingested"`
	}
	rec := ta.do(t, http.MethodPost, "/api/ingest", batch, &resp)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 3, resp.Ingested)

	var list struct {
		Total int64 `json:"total"`
	}
	rec = ta.do(t, http.MethodGet, "/api/events?search=port_scan", nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), list.Total)
}

func TestIngest_ForcesStatusNew(t *testing.T) {
	ta := newTestAPI(t)

	// ingest never reads a status field from the payload
	payload := eventPayload("port_scan")
	payload["status"] = "resolved"

	var resp struct {
		Events []core.Event `json:"events"`
	}
	rec := ta.do(t, http.MethodPost, "/api/ingest", payload, &resp)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, core.EventStatusNew, resp.Events[0].Status)
}

func TestIngest_ValidationError(t *testing.T) {
	ta := newTestAPI(t)

	payload := eventPayload("")
	rec := ta.do(t, http.MethodPost, "/api/ingest", payload, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload = eventPayload("port_scan")
	payload["source"] = "carrier_pigeon"
	rec = ta.do(t, http.MethodPost, "/api/ingest", payload, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchEvent_Triage(t *testing.T) {
	ta := newTestAPI(t)

	var resp struct {
		Events []core.Event `json:"events"`
	}
	rec := ta.do(t, http.MethodPost, "/api/ingest", eventPayload("port_scan"), &resp)
	require.Equal(t, http.StatusCreated, rec.Code)
	evt := resp.Events[0]

	var updated core.Event
	rec = ta.do(t, http.MethodPatch, "/api/events/"+evt.ID,
		map[string]string{"status": "investigating", "assigned_to": "bob"}, &updated)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.EventStatusInvestigating, updated.Status)
	assert.Equal(t, "bob", updated.AssignedTo)
}

func TestPatchEvent_InvalidStatus(t *testing.T) {
	ta := newTestAPI(t)

	var resp struct {
		Events []core.Event `json:"events"`
	}
	rec := ta.do(t, http.MethodPost, "/api/ingest", eventPayload("port_scan"), &resp)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ta.do(t, http.MethodPatch, "/api/events/"+resp.Events[0].ID,
		map[string]string{"status": "closed"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEvents_Filters(t *testing.T) {
	ta := newTestAPI(t)

	critical := eventPayload("malware_detected")
	critical["severity"] = "critical"
	critical["source"] = "endpoint"
	rec := ta.do(t, http.MethodPost, "/api/ingest", []map[string]interface{}{
		eventPayload("port_scan"),
		critical,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var list struct {
		Items []core.Event `json:"items"`
		Total int64        `json:"total"`
	}
	rec = ta.do(t, http.MethodGet, "/api/events?severity=critical", nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), list.Total)
	assert.Equal(t, "malware_detected", list.Items[0].EventType)

	rec = ta.do(t, http.MethodGet, "/api/events?source=firewall", nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), list.Total)
}

func TestGetEvent_NotFound(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/events/evt-missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngest_EventTimestampPreserved(t *testing.T) {
	ta := newTestAPI(t)

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	payload := eventPayload("port_scan")
	payload["timestamp"] = at.Format(time.RFC3339)

	var resp struct {
		Events []core.Event `json:"events"`
	}
	rec := ta.do(t, http.MethodPost, "/api/ingest", payload, &resp)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Events[0].Timestamp.Equal(at))
}
