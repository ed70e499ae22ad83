package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardSummary(t *testing.T) {
	ta := newTestAPI(t)

	critical := eventPayload("malware_detected")
	critical["severity"] = "critical"
	rec := ta.do(t, http.MethodPost, "/api/ingest", []map[string]interface{}{
		eventPayload("port_scan"),
		eventPayload("port_scan"),
		critical,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	ta.startExecution(t, "Phishing Response")
	done := ta.startExecution(t, "Ransomware Response")
	rec = ta.do(t, http.MethodPost, "/api/playbook-executions/"+done.ID+"/complete", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary dashboardSummary
	rec = ta.do(t, http.MethodGet, "/api/dashboard", nil, &summary)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))

	assert.Equal(t, int64(2), summary.EventsBySeverity["high"])
	assert.Equal(t, int64(1), summary.EventsBySeverity["critical"])
	assert.Equal(t, int64(3), summary.EventsByStatus["new"])
	assert.Equal(t, int64(1), summary.ExecutionsByStatus["in_progress"])
	assert.Equal(t, int64(1), summary.ExecutionsByStatus["completed"])
	assert.Equal(t, int64(1), summary.ActiveExecutions)
	assert.Equal(t, int64(2), summary.TotalPlaybooks)
	assert.Equal(t, int64(2), summary.ActivePlaybooks)
	assert.False(t, summary.GeneratedAt.IsZero())
}
