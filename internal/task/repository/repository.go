// Package repository provides task persistence over the generic
// repository port. The specialized queries are pure refinements: every
// method is expressed through the filter tree, so both the memory and
// sqlite adapters serve them unchanged.
package repository

import (
	"context"
	"time"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/task/models"
)

// Repository provides task storage operations.
type Repository struct {
	base repository.Repository[*models.Task]
}

// New creates a task repository over a generic backend.
func New(base repository.Repository[*models.Task]) *Repository {
	return &Repository{base: base}
}

// Base exposes the generic port for callers that need raw filter queries.
func (r *Repository) Base() repository.Repository[*models.Task] {
	return r.base
}

// FindByID returns the task with the given id.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.Task, error) {
	return r.base.FindByID(ctx, id)
}

// Create persists a new task.
func (r *Repository) Create(ctx context.Context, task *models.Task) (*models.Task, error) {
	return r.base.Create(ctx, task)
}

// Save replaces an existing task.
func (r *Repository) Save(ctx context.Context, task *models.Task) (*models.Task, error) {
	return r.base.Save(ctx, task)
}

// Delete removes a task.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.base.Delete(ctx, id)
}

// FindByChannel returns all tasks in a channel ordered by priority then age.
func (r *Repository) FindByChannel(ctx context.Context, channelID string) ([]*models.Task, error) {
	return r.collect(ctx, repository.NewFilter(map[string]interface{}{"channelId": channelID}))
}

// FindByAssignee returns tasks assigned to the given agent.
func (r *Repository) FindByAssignee(ctx context.Context, agentID string) ([]*models.Task, error) {
	filter := &repository.Filter{
		Or: []*repository.Filter{
			repository.NewFilter(map[string]interface{}{"assignedAgentId": agentID}),
			(&repository.Filter{}).WithArrayContains("assignedAgentIds", agentID),
		},
	}
	return r.collect(ctx, filter)
}

// FindByStatus returns tasks in a channel with one of the given statuses.
func (r *Repository) FindByStatus(ctx context.Context, channelID string, statuses ...models.TaskStatus) ([]*models.Task, error) {
	values := make([]interface{}, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	filter := repository.NewFilter(map[string]interface{}{"channelId": channelID}).
		WithComparison("status", repository.OpIn, values)
	return r.collect(ctx, filter)
}

// FindOverdue returns non-terminal tasks whose due date has passed.
func (r *Repository) FindOverdue(ctx context.Context, channelID string) ([]*models.Task, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	filter := repository.NewFilter(map[string]interface{}{"channelId": channelID}).
		WithComparison("dueAt", repository.OpLt, now).
		WithComparison("status", repository.OpNin, []interface{}{
			string(models.StatusCompleted), string(models.StatusFailed), string(models.StatusCancelled),
		})
	return r.collect(ctx, filter)
}

// UpdateStatus patches the status field without touching the rest.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status models.TaskStatus) (*models.Task, error) {
	return r.base.Update(ctx, id, map[string]interface{}{"status": string(status)})
}

// UpdateProgress patches the progress field.
func (r *Repository) UpdateProgress(ctx context.Context, id string, progress int) (*models.Task, error) {
	return r.base.Update(ctx, id, map[string]interface{}{"progress": progress})
}

// AssignTo records an agent assignment.
func (r *Repository) AssignTo(ctx context.Context, id, agentID string) (*models.Task, error) {
	task, err := r.base.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	task.AssignedAgentID = agentID
	if !task.IsAssignedTo(agentID) || len(task.AssignedAgentIDs) == 0 {
		found := false
		for _, existing := range task.AssignedAgentIDs {
			if existing == agentID {
				found = true
				break
			}
		}
		if !found {
			task.AssignedAgentIDs = append(task.AssignedAgentIDs, agentID)
		}
	}
	return r.base.Save(ctx, task)
}

// Unassign clears the assignment entirely.
func (r *Repository) Unassign(ctx context.Context, id string) (*models.Task, error) {
	task, err := r.base.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	task.AssignedAgentID = ""
	task.AssignedAgentIDs = nil
	return r.base.Save(ctx, task)
}

// Search does a case-insensitive text search over a channel's tasks.
func (r *Repository) Search(ctx context.Context, channelID, query string) ([]*models.Task, error) {
	filter := repository.NewFilter(map[string]interface{}{"channelId": channelID})
	filter.TextSearch = query
	return r.collect(ctx, filter)
}

// GetChannelStatistics aggregates task counts for one channel.
func (r *Repository) GetChannelStatistics(ctx context.Context, channelID string) (*models.ChannelStatistics, error) {
	tasks, err := r.FindByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	stats := &models.ChannelStatistics{
		ChannelID:  channelID,
		Total:      len(tasks),
		ByStatus:   make(map[models.TaskStatus]int),
		ByPriority: make(map[models.TaskPriority]int),
	}
	now := time.Now().UTC()
	progressSum := 0
	for _, t := range tasks {
		stats.ByStatus[t.Status]++
		stats.ByPriority[t.Priority]++
		progressSum += t.Progress
		if t.DueAt != nil && t.DueAt.Before(now) && !t.Status.IsTerminal() {
			stats.Overdue++
		}
	}
	if len(tasks) > 0 {
		stats.AvgProgress = float64(progressSum) / float64(len(tasks))
	}
	return stats, nil
}

// GetAgentStatistics aggregates task counts for one agent across channels.
func (r *Repository) GetAgentStatistics(ctx context.Context, agentID string) (*models.AgentStatistics, error) {
	tasks, err := r.FindByAssignee(ctx, agentID)
	if err != nil {
		return nil, err
	}

	stats := &models.AgentStatistics{
		AgentID:  agentID,
		Total:    len(tasks),
		ByStatus: make(map[models.TaskStatus]int),
	}
	for _, t := range tasks {
		stats.ByStatus[t.Status]++
		switch t.Status {
		case models.StatusCompleted:
			stats.Completed++
		case models.StatusFailed:
			stats.Failed++
		}
	}
	if finished := stats.Completed + stats.Failed; finished > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(finished)
	}
	return stats, nil
}

// FindDependents returns tasks in the channel that depend on the given task.
func (r *Repository) FindDependents(ctx context.Context, channelID, taskID string) ([]*models.Task, error) {
	filter := repository.NewFilter(map[string]interface{}{"channelId": channelID}).
		WithArrayContains("dependsOn", taskID)
	return r.collect(ctx, filter)
}

// collect pages through every match. Channel task sets are small enough
// that a single large page suffices.
func (r *Repository) collect(ctx context.Context, filter *repository.Filter) ([]*models.Task, error) {
	out := make([]*models.Task, 0)
	offset := 0
	for {
		page, err := r.base.FindMany(ctx, filter, &repository.Pagination{
			Limit:     500,
			Offset:    offset,
			SortBy:    "createdAt",
			SortOrder: repository.SortAsc,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if !page.HasMore {
			return out, nil
		}
		offset += len(page.Items)
	}
}
