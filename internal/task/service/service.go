// Package service implements the task lifecycle: creation with dependency
// validation, the status transition table, assignment, and deletion with
// edge cleanup. The DAG engine is notified synchronously after every write
// so readiness queries immediately reflect persisted state; bus events go
// out asynchronously for observers.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/dag"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events/bus"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/task/models"
	taskrepo "github.com/BradA1878/model-exchange-framework-sub007/internal/task/repository"
)

// validTransitions is the status transition table. Terminal statuses have
// no outgoing transitions.
var validTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.StatusPending:    {models.StatusAssigned, models.StatusCancelled},
	models.StatusAssigned:   {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted, models.StatusFailed, models.StatusCancelled},
	models.StatusCompleted:  {},
	models.StatusFailed:     {},
	models.StatusCancelled:  {},
}

// CanTransition reports whether a status change is allowed by the table.
func CanTransition(from, to models.TaskStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Service coordinates task lifecycle operations.
type Service struct {
	repo     *taskrepo.Repository
	engine   *dag.Engine
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewService creates a task service.
func NewService(repo *taskrepo.Repository, engine *dag.Engine, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{repo: repo, engine: engine, eventBus: eventBus, logger: log}
}

// CreateRequest carries the fields accepted when creating a task.
type CreateRequest struct {
	ChannelID        string                  `json:"channelId"`
	Title            string                  `json:"title"`
	Description      string                  `json:"description,omitempty"`
	Priority         models.TaskPriority     `json:"priority,omitempty"`
	AssignTo         string                  `json:"assignTo,omitempty"`
	CoordinationMode models.CoordinationMode `json:"coordinationMode,omitempty"`
	DependsOn        []string                `json:"dependsOn,omitempty"`
	DueAt            *time.Time              `json:"dueAt,omitempty"`
	EstimatedMs      int64                   `json:"estimatedMs,omitempty"`
	Metadata         map[string]interface{}  `json:"metadata,omitempty"`
	CreatedBy        string                  `json:"createdBy,omitempty"`
}

// Create validates dependency edges and persists a new task.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Task, error) {
	if req.ChannelID == "" {
		return nil, apperrors.InvalidRequest("channelId is required")
	}
	if req.Title == "" {
		return nil, apperrors.InvalidRequest("title is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.IsValid() {
		return nil, apperrors.InvalidRequest(fmt.Sprintf("unknown priority %q", req.Priority))
	}

	blockedBy := make([]string, 0, len(req.DependsOn))
	for _, depID := range req.DependsOn {
		dep, err := s.repo.FindByID(ctx, depID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return nil, apperrors.InvalidDependency("dependency task " + depID + " does not exist")
			}
			return nil, err
		}
		if dep.ChannelID != req.ChannelID {
			return nil, apperrors.InvalidDependency("dependency " + depID + " belongs to a different channel")
		}
		if dep.Status != models.StatusCompleted {
			blockedBy = append(blockedBy, depID)
		}
	}

	task := &models.Task{
		ChannelID:        req.ChannelID,
		Title:            req.Title,
		Description:      req.Description,
		Priority:         priority,
		Status:           models.StatusPending,
		CoordinationMode: req.CoordinationMode,
		DependsOn:        req.DependsOn,
		BlockedBy:        blockedBy,
		DueAt:            req.DueAt,
		EstimatedMs:      req.EstimatedMs,
		Metadata:         req.Metadata,
		CreatedBy:        req.CreatedBy,
	}

	task.SetID(uuid.New().String())
	for _, depID := range req.DependsOn {
		if err := s.engine.ValidateDependency(ctx, req.ChannelID, task.ID, depID); err != nil {
			return nil, err
		}
	}

	created, err := s.repo.Create(ctx, task)
	if err != nil {
		return nil, err
	}
	s.engine.OnTaskCreated(ctx, created)

	if req.AssignTo != "" {
		assigned, err := s.Assign(ctx, created.ID, req.AssignTo)
		if err != nil {
			return nil, err
		}
		created = assigned
	}

	s.publish(events.TaskCreated, created, nil)
	s.logger.WithTaskID(created.ID).Info("Task created",
		zap.String("channel_id", created.ChannelID),
		zap.String("title", created.Title))
	return created, nil
}

// Get returns a task by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.repo.FindByID(ctx, id)
}

// ListByChannel returns all tasks in a channel.
func (s *Service) ListByChannel(ctx context.Context, channelID string) ([]*models.Task, error) {
	return s.repo.FindByChannel(ctx, channelID)
}

// UpdateStatus enforces the transition table and notifies the DAG engine.
func (s *Service) UpdateStatus(ctx context.Context, id string, newStatus models.TaskStatus, metadata map[string]interface{}) (*models.Task, error) {
	if !newStatus.IsValid() {
		return nil, apperrors.InvalidRequest(fmt.Sprintf("unknown status %q", newStatus))
	}

	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status == newStatus {
		return task, nil
	}
	if !CanTransition(task.Status, newStatus) {
		return nil, apperrors.InvalidTransition(string(task.Status), string(newStatus))
	}

	oldStatus := task.Status
	task.Status = newStatus
	if newStatus == models.StatusCompleted {
		task.Progress = 100
		now := time.Now().UTC()
		task.CompletedAt = &now
		task.ActualMs = now.Sub(task.CreatedAt).Milliseconds()
	}
	if metadata != nil {
		if task.Metadata == nil {
			task.Metadata = make(map[string]interface{})
		}
		for k, v := range metadata {
			task.Metadata[k] = v
		}
	}

	updated, err := s.repo.Save(ctx, task)
	if err != nil {
		return nil, err
	}

	s.engine.OnTaskStatusChanged(ctx, updated)
	if newStatus == models.StatusCompleted {
		s.unblockDependents(ctx, updated)
	}

	s.publish(events.TaskStatusChanged, updated, map[string]interface{}{
		"oldStatus": string(oldStatus),
		"newStatus": string(newStatus),
	})
	s.logger.WithTaskID(id).Info("Task status changed",
		zap.String("from", string(oldStatus)),
		zap.String("to", string(newStatus)))
	return updated, nil
}

// Assign sets the assigned agent and transitions pending tasks to
// assigned. Idempotent for the same agent.
func (s *Service) Assign(ctx context.Context, id, agentID string) (*models.Task, error) {
	if agentID == "" {
		return nil, apperrors.InvalidRequest("agentId is required")
	}
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.AssignedAgentID == agentID && task.Status != models.StatusPending {
		return task, nil
	}

	updated, err := s.repo.AssignTo(ctx, id, agentID)
	if err != nil {
		return nil, err
	}
	if updated.Status == models.StatusPending {
		updated, err = s.UpdateStatus(ctx, id, models.StatusAssigned, nil)
		if err != nil {
			return nil, err
		}
	}

	s.publish(events.TaskAssigned, updated, map[string]interface{}{"agentId": agentID})
	return updated, nil
}

// AddDependency adds a dependsOn edge after validating it keeps the
// channel graph acyclic.
func (s *Service) AddDependency(ctx context.Context, id, dependencyID string) (*models.Task, error) {
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.DependsOnTask(dependencyID) {
		return task, nil
	}

	dep, err := s.repo.FindByID(ctx, dependencyID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.InvalidDependency("dependency task " + dependencyID + " does not exist")
		}
		return nil, err
	}
	if dep.ChannelID != task.ChannelID {
		return nil, apperrors.InvalidDependency("dependency " + dependencyID + " belongs to a different channel")
	}
	if err := s.engine.ValidateDependency(ctx, task.ChannelID, id, dependencyID); err != nil {
		return nil, err
	}

	task.DependsOn = append(task.DependsOn, dependencyID)
	if dep.Status != models.StatusCompleted {
		task.BlockedBy = append(task.BlockedBy, dependencyID)
	}
	updated, err := s.repo.Save(ctx, task)
	if err != nil {
		return nil, err
	}
	s.engine.OnTaskCreated(ctx, updated)

	s.publish(events.TaskUpdated, updated, map[string]interface{}{"dependencyAdded": dependencyID})
	return updated, nil
}

// UpdateProgress clamps progress to [0,100] without a status transition.
func (s *Service) UpdateProgress(ctx context.Context, id string, progress int) (*models.Task, error) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	updated, err := s.repo.UpdateProgress(ctx, id, progress)
	if err != nil {
		return nil, err
	}
	s.publish(events.TaskUpdated, updated, map[string]interface{}{"progress": progress})
	return updated, nil
}

// Delete removes a task and strips every dependsOn edge referencing it.
func (s *Service) Delete(ctx context.Context, id string) error {
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	dependents, err := s.repo.FindDependents(ctx, task.ChannelID, id)
	if err != nil {
		return err
	}
	for _, dep := range dependents {
		dep.DependsOn = removeID(dep.DependsOn, id)
		dep.BlockedBy = removeID(dep.BlockedBy, id)
		if _, err := s.repo.Save(ctx, dep); err != nil {
			return err
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.engine.OnTaskDeleted(ctx, task)

	s.publish(events.TaskDeleted, task, nil)
	s.logger.WithTaskID(id).Info("Task deleted", zap.String("channel_id", task.ChannelID))
	return nil
}

// unblockDependents removes the completed task from its dependents'
// blockedBy mirrors.
func (s *Service) unblockDependents(ctx context.Context, task *models.Task) {
	dependents, err := s.repo.FindDependents(ctx, task.ChannelID, task.ID)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to load dependents for unblocking",
			zap.String("task_id", task.ID))
		return
	}
	for _, dep := range dependents {
		next := removeID(dep.BlockedBy, task.ID)
		if len(next) == len(dep.BlockedBy) {
			continue
		}
		dep.BlockedBy = next
		if _, err := s.repo.Save(ctx, dep); err != nil {
			s.logger.WithError(err).Warn("Failed to update dependent blockedBy",
				zap.String("task_id", dep.ID))
		}
	}
}

func (s *Service) publish(eventType string, task *models.Task, extra map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"taskId":    task.ID,
		"channelId": task.ChannelID,
		"status":    string(task.Status),
	}
	for k, v := range extra {
		data[k] = v
	}
	event := bus.NewEvent(eventType, "task-service", data)
	subject := events.BuildChannelSubject(eventType, task.ChannelID)
	if err := s.eventBus.Publish(context.Background(), subject, event); err != nil {
		s.logger.WithError(err).Warn("Failed to publish task event",
			zap.String("subject", subject))
	}
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
