package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"argus/core"
	"argus/storage"
)

// Registry owns playbook definition lifecycle: create, update, duplicate,
// toggle, archive, delete. Execution statistics never move through here.
type Registry struct {
	playbooks storage.PlaybookStorageInterface
	logger    *zap.SugaredLogger
}

// NewRegistry creates a playbook registry.
func NewRegistry(playbooks storage.PlaybookStorageInterface, logger *zap.SugaredLogger) *Registry {
	return &Registry{playbooks: playbooks, logger: logger}
}

// Create normalizes, validates and stores a new playbook. Status is forced
// to draft and engine-owned stats are zeroed regardless of input.
func (r *Registry) Create(ctx context.Context, p *core.Playbook) error {
	p.Status = core.PlaybookStatusDraft
	p.TriggeredCount = 0
	p.LastRun = nil
	p.AvgDurationMs = 0
	p.NormalizeSteps()
	if err := p.Validate(); err != nil {
		return err
	}
	if err := r.playbooks.CreatePlaybook(ctx, p); err != nil {
		return err
	}
	r.logger.Infow("Playbook created", "playbook_id", p.ID, "name", p.Name, "created_by", p.CreatedBy)
	return nil
}

// Get retrieves a playbook by ID.
func (r *Registry) Get(ctx context.Context, id string) (*core.Playbook, error) {
	return r.playbooks.GetPlaybook(ctx, id)
}

// List returns playbooks matching the filters plus the total match count.
func (r *Registry) List(ctx context.Context, filters storage.PlaybookFilters, limit, offset int) ([]core.Playbook, int64, error) {
	return r.playbooks.ListPlaybooks(ctx, filters, limit, offset)
}

// Update validates and stores a merged playbook. The caller merges patch
// fields onto the stored record first; server-owned stats columns are not
// written by the storage update.
func (r *Registry) Update(ctx context.Context, p *core.Playbook) error {
	p.NormalizeSteps()
	if err := p.Validate(); err != nil {
		return err
	}
	if err := r.playbooks.UpdatePlaybook(ctx, p); err != nil {
		return err
	}
	r.logger.Infow("Playbook updated", "playbook_id", p.ID, "name", p.Name)
	return nil
}

// Delete hard-deletes a playbook. Past executions keep their denormalized
// name snapshot and remain readable.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.playbooks.DeletePlaybook(ctx, id); err != nil {
		return err
	}
	r.logger.Infow("Playbook deleted", "playbook_id", id)
	return nil
}

// Duplicate clones a playbook into a fresh draft named "<name> (Copy)".
func (r *Registry) Duplicate(ctx context.Context, id, actor string) (*core.Playbook, error) {
	p, err := r.playbooks.GetPlaybook(ctx, id)
	if err != nil {
		return nil, err
	}
	dup := p.Duplicate(actor)
	if err := r.playbooks.CreatePlaybook(ctx, dup); err != nil {
		return nil, fmt.Errorf("failed to store duplicate of %s: %w", id, err)
	}
	r.logger.Infow("Playbook duplicated", "source_id", id, "playbook_id", dup.ID, "created_by", actor)
	return dup, nil
}

// Toggle flips a playbook between draft and active. Archived playbooks are
// rejected with an invalid-state error rather than silently ignored.
func (r *Registry) Toggle(ctx context.Context, id string) (*core.Playbook, error) {
	p, err := r.playbooks.GetPlaybook(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.Toggle(); err != nil {
		return nil, err
	}
	if err := r.playbooks.UpdatePlaybook(ctx, p); err != nil {
		return nil, err
	}
	r.logger.Infow("Playbook toggled", "playbook_id", id, "status", p.Status)
	return p, nil
}

// Archive moves a playbook to archived status from any prior status.
func (r *Registry) Archive(ctx context.Context, id string) (*core.Playbook, error) {
	p, err := r.playbooks.GetPlaybook(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Archive()
	if err := r.playbooks.UpdatePlaybook(ctx, p); err != nil {
		return nil, err
	}
	r.logger.Infow("Playbook archived", "playbook_id", id)
	return p, nil
}
