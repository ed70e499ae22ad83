package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"argus/core"
)

// alertRuleRequest is the client payload for creating or replacing a rule.
// Trigger bookkeeping is server-owned and not accepted here.
type alertRuleRequest struct {
	Name         string                `json:"name"`
	Description  string                `json:"description"`
	Enabled      *bool                 `json:"enabled"`
	Condition    core.RuleCondition    `json:"condition"`
	Action       core.RuleAction       `json:"action"`
	ActionConfig core.RuleActionConfig `json:"action_config"`
	Severity     core.Severity         `json:"severity"`
}

func (a *API) listAlertRules(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	rules, err := a.rules.ListRules(r.Context(), enabledOnly)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": rules,
		"total": len(rules),
	})
}

func (a *API) createAlertRule(w http.ResponseWriter, r *http.Request) {
	var req alertRuleRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}

	rule := core.NewAlertRule(req.Name, req.Condition, req.Action, req.Severity)
	rule.Description = req.Description
	rule.ActionConfig = req.ActionConfig
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := rule.Validate(); err != nil {
		a.writeDomainError(w, err)
		return
	}
	if err := a.rules.CreateRule(r.Context(), rule); err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.logger.Infow("Alert rule created", "rule_id", rule.ID, "name", rule.Name)
	respondJSON(w, http.StatusCreated, rule)
}

func (a *API) getAlertRule(w http.ResponseWriter, r *http.Request) {
	rule, err := a.rules.GetRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (a *API) updateAlertRule(w http.ResponseWriter, r *http.Request) {
	var req alertRuleRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}

	rule, err := a.rules.GetRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	rule.Name = req.Name
	rule.Description = req.Description
	rule.Condition = req.Condition
	rule.Action = req.Action
	rule.ActionConfig = req.ActionConfig
	rule.Severity = req.Severity
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := rule.Validate(); err != nil {
		a.writeDomainError(w, err)
		return
	}
	if err := a.rules.UpdateRule(r.Context(), rule); err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (a *API) deleteAlertRule(w http.ResponseWriter, r *http.Request) {
	if err := a.rules.DeleteRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		a.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) toggleAlertRule(w http.ResponseWriter, r *http.Request) {
	rule, err := a.rules.GetRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	rule.Enabled = !rule.Enabled
	rule.UpdatedAt = time.Now().UTC()
	if err := a.rules.UpdateRule(r.Context(), rule); err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.logger.Infow("Alert rule toggled", "rule_id", rule.ID, "enabled", rule.Enabled)
	respondJSON(w, http.StatusOK, rule)
}
