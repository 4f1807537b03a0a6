// Package models defines agent domain models.
package models

import (
	"time"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

// AgentRole is the coarse access tag carried by every agent.
type AgentRole string

const (
	RoleAdmin    AgentRole = "admin"
	RoleProvider AgentRole = "provider"
	RoleConsumer AgentRole = "consumer"
)

// IsValid reports whether the role is a known value.
func (r AgentRole) IsValid() bool {
	return r == RoleAdmin || r == RoleProvider || r == RoleConsumer
}

// AgentStatus reflects agent liveness.
type AgentStatus string

const (
	StatusActive   AgentStatus = "ACTIVE"
	StatusInactive AgentStatus = "INACTIVE"
	StatusError    AgentStatus = "ERROR"
)

// Agent is a principal that authors and executes work. Agents have a
// lifecycle independent of any channel and are shared by the channels
// they participate in.
type Agent struct {
	repository.Meta
	Name         string      `json:"name"`
	Role         AgentRole   `json:"role"`
	ServiceTypes []string    `json:"serviceTypes,omitempty"`
	Capabilities []string    `json:"capabilities,omitempty"`
	Status       AgentStatus `json:"status"`
	KeyID        string      `json:"keyId,omitempty"`
	CreatedBy    string      `json:"createdBy,omitempty"`
	LastActiveAt *time.Time  `json:"lastActiveAt,omitempty"`
}

// HasServiceType reports whether the agent offers the given service type.
func (a *Agent) HasServiceType(serviceType string) bool {
	for _, t := range a.ServiceTypes {
		if t == serviceType {
			return true
		}
	}
	return false
}
