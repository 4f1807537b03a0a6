// Package models defines task domain models.
package models

import (
	"time"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusAssigned   TaskStatus = "assigned"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsValid reports whether the status is a known value.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TaskPriority orders tasks for scheduling.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Weight returns the numeric rank of a priority, higher first.
func (p TaskPriority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// IsValid reports whether the priority is a known value.
func (p TaskPriority) IsValid() bool {
	return p.Weight() > 0
}

// CoordinationMode describes how a multi-agent assignment is executed.
type CoordinationMode string

const (
	CoordinationCollaborative CoordinationMode = "collaborative"
	CoordinationSequential    CoordinationMode = "sequential"
	CoordinationHierarchical  CoordinationMode = "hierarchical"
)

// Task is a unit of work scoped to a channel. DependsOn edges stay within
// the same channel and must never form a cycle; BlockedBy is the derived
// mirror maintained by the task service.
type Task struct {
	repository.Meta
	ChannelID        string                 `json:"channelId"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description,omitempty"`
	Priority         TaskPriority           `json:"priority"`
	Status           TaskStatus             `json:"status"`
	Progress         int                    `json:"progress"`
	AssignedAgentID  string                 `json:"assignedAgentId,omitempty"`
	AssignedAgentIDs []string               `json:"assignedAgentIds,omitempty"`
	CoordinationMode CoordinationMode       `json:"coordinationMode,omitempty"`
	DependsOn        []string               `json:"dependsOn,omitempty"`
	BlockedBy        []string               `json:"blockedBy,omitempty"`
	DueAt            *time.Time             `json:"dueAt,omitempty"`
	EstimatedMs      int64                  `json:"estimatedMs,omitempty"`
	ActualMs         int64                  `json:"actualMs,omitempty"`
	Result           map[string]interface{} `json:"result,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedBy        string                 `json:"createdBy,omitempty"`
	CompletedAt      *time.Time             `json:"completedAt,omitempty"`
}

// DependsOnTask reports whether the task has a direct dependency on id.
func (t *Task) DependsOnTask(id string) bool {
	for _, dep := range t.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}

// IsAssignedTo reports whether the agent is part of the assignment.
func (t *Task) IsAssignedTo(agentID string) bool {
	if t.AssignedAgentID == agentID {
		return true
	}
	for _, id := range t.AssignedAgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// ChannelStatistics summarizes tasks within one channel.
type ChannelStatistics struct {
	ChannelID   string               `json:"channelId"`
	Total       int                  `json:"total"`
	ByStatus    map[TaskStatus]int   `json:"byStatus"`
	ByPriority  map[TaskPriority]int `json:"byPriority"`
	Overdue     int                  `json:"overdue"`
	AvgProgress float64              `json:"avgProgress"`
}

// AgentStatistics summarizes tasks assigned to one agent.
type AgentStatistics struct {
	AgentID     string             `json:"agentId"`
	Total       int                `json:"total"`
	ByStatus    map[TaskStatus]int `json:"byStatus"`
	Completed   int                `json:"completed"`
	Failed      int                `json:"failed"`
	SuccessRate float64            `json:"successRate"`
}
