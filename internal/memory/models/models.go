// Package models defines the three memory scopes: agent, channel, and
// relationship memory, each carrying a utility record.
package models

import (
	"time"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/muls"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

// Context layer tags carried in message metadata. The context assembler
// filters on these.
const (
	LayerConversation = "conversation"
	LayerToolResult   = "tool-result"
	LayerTask         = "task"
	LayerSystem       = "system"
	LayerIdentity     = "identity"
	LayerAction       = "action"
)

// Message is one entry of a conversation history.
type Message struct {
	ID        string                 `json:"id,omitempty"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ContextLayer returns the layer tag, empty for legacy untagged messages.
func (m *Message) ContextLayer() string {
	if m.Metadata == nil {
		return ""
	}
	if layer, ok := m.Metadata["contextLayer"].(string); ok {
		return layer
	}
	return ""
}

// AgentMemory is one agent's private memory.
type AgentMemory struct {
	repository.Meta
	AgentID             string                 `json:"agentId"`
	PersistenceLevel    string                 `json:"persistenceLevel,omitempty"`
	Notes               []string               `json:"notes,omitempty"`
	ConversationHistory []Message              `json:"conversationHistory"`
	CustomData          map[string]interface{} `json:"customData,omitempty"`
	Utility             muls.Utility           `json:"utility"`
}

// UtilityRef exposes the utility block for the MULS tracker.
func (m *AgentMemory) UtilityRef() *muls.Utility { return &m.Utility }

// ChannelMemory is the shared memory of one channel.
type ChannelMemory struct {
	repository.Meta
	ChannelID           string                 `json:"channelId"`
	SharedState         map[string]interface{} `json:"sharedState,omitempty"`
	ConversationHistory []Message              `json:"conversationHistory"`
	Utility             muls.Utility           `json:"utility"`
}

// UtilityRef exposes the utility block for the MULS tracker.
func (m *ChannelMemory) UtilityRef() *muls.Utility { return &m.Utility }

// RelationshipMemory records the interaction history between two agents.
// The agent pair is normalized to sorted order so (a,b) and (b,a) collapse
// onto the same record.
type RelationshipMemory struct {
	repository.Meta
	AgentID1           string       `json:"agentId1"`
	AgentID2           string       `json:"agentId2"`
	InteractionHistory []Message    `json:"interactionHistory"`
	Utility            muls.Utility `json:"utility"`
}

// UtilityRef exposes the utility block for the MULS tracker.
func (m *RelationshipMemory) UtilityRef() *muls.Utility { return &m.Utility }

// NormalizePair orders an agent pair so storage is symmetric.
func NormalizePair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// ScopeStats is one scope's rollup inside the memory statistics.
type ScopeStats struct {
	Count     int     `json:"count"`
	AvgQValue float64 `json:"avgQValue"`
	MaxQValue float64 `json:"maxQValue"`
	MinQValue float64 `json:"minQValue"`
}

// Stats summarizes all three memory scopes.
type Stats struct {
	Agent        ScopeStats `json:"agent"`
	Channel      ScopeStats `json:"channel"`
	Relationship ScopeStats `json:"relationship"`
}
