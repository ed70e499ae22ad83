package api

import (
	"context"
	"net/http"
	"time"

	"argus/core"
	"argus/storage"
)

// dashboardSummary is the aggregate payload for the UI landing page.
type dashboardSummary struct {
	EventsBySeverity   map[string]int64 `json:"events_by_severity"`
	EventsByStatus     map[string]int64 `json:"events_by_status"`
	ExecutionsByStatus map[string]int64 `json:"executions_by_status"`
	ActiveExecutions   int64            `json:"active_executions"`
	TotalPlaybooks     int64            `json:"total_playbooks"`
	ActivePlaybooks    int64            `json:"active_playbooks"`
	GeneratedAt        time.Time        `json:"generated_at"`
}

// getDashboardSummary aggregates counts for the dashboard, served from the
// Redis cache when one is configured.
func (a *API) getDashboardSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if a.cache != nil {
		var cached dashboardSummary
		if hit, err := a.cache.Get(ctx, core.CacheKeyDashboardSummary, &cached); err == nil && hit {
			w.Header().Set("X-Cache", "hit")
			respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	summary, err := a.buildDashboardSummary(ctx)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, core.CacheKeyDashboardSummary, summary, a.config.Dashboard.CacheTTL); err != nil {
			a.logger.Warnw("Failed to cache dashboard summary", "error", err)
		}
	}

	w.Header().Set("X-Cache", "miss")
	respondJSON(w, http.StatusOK, summary)
}

func (a *API) buildDashboardSummary(ctx context.Context) (*dashboardSummary, error) {
	eventsBySeverity, err := a.events.CountEventsBySeverity(ctx)
	if err != nil {
		return nil, err
	}
	eventsByStatus, err := a.events.CountEventsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	executionsByStatus, err := a.engine.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	_, totalPlaybooks, err := a.registry.List(ctx, storage.PlaybookFilters{}, 1, 0)
	if err != nil {
		return nil, err
	}
	_, activePlaybooks, err := a.registry.List(ctx, storage.PlaybookFilters{Status: string(core.PlaybookStatusActive)}, 1, 0)
	if err != nil {
		return nil, err
	}

	return &dashboardSummary{
		EventsBySeverity:   eventsBySeverity,
		EventsByStatus:     eventsByStatus,
		ExecutionsByStatus: executionsByStatus,
		ActiveExecutions:   executionsByStatus[string(core.ExecutionStatusInProgress)],
		TotalPlaybooks:     totalPlaybooks,
		ActivePlaybooks:    activePlaybooks,
		GeneratedAt:        time.Now().UTC(),
	}, nil
}
