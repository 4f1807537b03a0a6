// Package models defines channel domain models.
package models

import (
	"time"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

// Channel is the scoping unit for tasks, memory, and the knowledge graph.
// It also holds the membership set of participating agents.
type Channel struct {
	repository.Meta
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Participants []string   `json:"participants"`
	Private      bool       `json:"private"`
	AllowedTools []string   `json:"allowedTools,omitempty"`
	Active       bool       `json:"active"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
	CreatedBy    string     `json:"createdBy,omitempty"`
}

// HasParticipant reports whether the agent is a member of the channel.
func (c *Channel) HasParticipant(agentID string) bool {
	for _, id := range c.Participants {
		if id == agentID {
			return true
		}
	}
	return false
}
