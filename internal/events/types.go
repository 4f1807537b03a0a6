// Package events provides event types and utilities for the MXF event system.
package events

// Event types for tasks
const (
	TaskCreated       = "task.created"
	TaskUpdated       = "task.updated"
	TaskStatusChanged = "task.status_changed"
	TaskAssigned      = "task.assigned"
	TaskDeleted       = "task.deleted"
)

// Event types for channels
const (
	ChannelEvent   = "channel.event"
	ChannelMessage = "channel.message"
)

// Event types for agents
const (
	AgentStatusChanged = "agent.status_changed"
)

// Event types for ORPAR loops
const (
	LoopStarted   = "orpar.loop_started"
	LoopStopped   = "orpar.loop_stopped"
	PhaseEntered  = "orpar.phase_entered"
	CycleComplete = "orpar.cycle_complete"
)

// Event types for the knowledge graph
const (
	EntityCreated  = "graph.entity_created"
	EntitiesMerged = "graph.entities_merged"
)

// BuildChannelSubject scopes a task or channel event subject to one channel.
func BuildChannelSubject(eventType, channelID string) string {
	return eventType + "." + channelID
}

// BuildChannelWildcardSubject subscribes to an event type across all channels.
func BuildChannelWildcardSubject(eventType string) string {
	return eventType + ".*"
}

// BuildPhaseSubject scopes phase events to one (agent, channel) loop.
func BuildPhaseSubject(agentID, channelID string) string {
	return PhaseEntered + "." + agentID + "." + channelID
}

// BuildPhaseWildcardSubject subscribes to phase events for all loops.
func BuildPhaseWildcardSubject() string {
	return PhaseEntered + ".>"
}
