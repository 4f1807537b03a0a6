// Package repository provides agent persistence over the generic
// repository port.
package repository

import (
	"context"
	"time"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/agent/models"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

// Repository provides agent storage operations.
type Repository struct {
	base repository.Repository[*models.Agent]
}

// New creates an agent repository over a generic backend.
func New(base repository.Repository[*models.Agent]) *Repository {
	return &Repository{base: base}
}

// FindByID returns the agent with the given id.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.Agent, error) {
	return r.base.FindByID(ctx, id)
}

// Create persists a new agent.
func (r *Repository) Create(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	return r.base.Create(ctx, agent)
}

// Save replaces an existing agent.
func (r *Repository) Save(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	return r.base.Save(ctx, agent)
}

// Delete removes an agent.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.base.Delete(ctx, id)
}

// FindByKeyID returns the agent registered under the given key id.
func (r *Repository) FindByKeyID(ctx context.Context, keyID string) (*models.Agent, error) {
	return r.base.FindOne(ctx, repository.NewFilter(map[string]interface{}{"keyId": keyID}))
}

// FindByServiceTypes returns agents offering the given service types.
// With matchAll every type must be present; otherwise any one suffices.
func (r *Repository) FindByServiceTypes(ctx context.Context, types []string, matchAll bool) ([]*models.Agent, error) {
	values := make([]interface{}, len(types))
	for i, t := range types {
		values[i] = t
	}
	mode := repository.ArrayMatchAny
	if matchAll {
		mode = repository.ArrayMatchAll
	}
	filter := &repository.Filter{
		ArrayContains: []repository.ArrayContains{{Field: "serviceTypes", Values: values, Mode: mode}},
	}
	page, err := r.base.FindMany(ctx, filter, &repository.Pagination{Limit: 500})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// FindStaleAgents returns active agents whose last activity is older than
// the threshold.
func (r *Repository) FindStaleAgents(ctx context.Context, threshold time.Duration) ([]*models.Agent, error) {
	cutoff := time.Now().UTC().Add(-threshold).Format(time.RFC3339Nano)
	filter := repository.NewFilter(map[string]interface{}{"status": string(models.StatusActive)}).
		WithComparison("lastActiveAt", repository.OpLt, cutoff)
	page, err := r.base.FindMany(ctx, filter, &repository.Pagination{Limit: 500})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// BulkUpdateStatus sets the status for a batch of agents.
func (r *Repository) BulkUpdateStatus(ctx context.Context, ids []string, status models.AgentStatus) error {
	for _, id := range ids {
		if _, err := r.base.Update(ctx, id, map[string]interface{}{"status": string(status)}); err != nil {
			return err
		}
	}
	return nil
}

// TouchLastActive stamps the agent's last activity time.
func (r *Repository) TouchLastActive(ctx context.Context, id string) error {
	_, err := r.base.Update(ctx, id, map[string]interface{}{
		"lastActiveAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
	return err
}

// FindAll returns every registered agent.
func (r *Repository) FindAll(ctx context.Context) ([]*models.Agent, error) {
	page, err := r.base.FindMany(ctx, nil, &repository.Pagination{Limit: 500, SortBy: "createdAt", SortOrder: repository.SortAsc})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}
