// Package models defines the ORPAR phase vocabulary and the persisted
// phase entry record.
package models

import (
	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

// Phase is one state of the cognitive loop.
type Phase string

// Loop phases in transition order. Act drives tool calls and task
// updates but produces no persisted entry.
const (
	PhaseObservation Phase = "observation"
	PhaseReasoning   Phase = "reasoning"
	PhasePlan        Phase = "plan"
	PhaseAct         Phase = "act"
	PhaseReflection  Phase = "reflection"
)

// Next returns the phase that follows p. Transitions are linear;
// reflection wraps back to observation.
func (p Phase) Next() Phase {
	switch p {
	case PhaseObservation:
		return PhaseReasoning
	case PhaseReasoning:
		return PhasePlan
	case PhasePlan:
		return PhaseAct
	case PhaseAct:
		return PhaseReflection
	default:
		return PhaseObservation
	}
}

// Recorded reports whether the phase appends a cognitive memory entry.
func (p Phase) Recorded() bool {
	return p != PhaseAct
}

// IsValid reports whether p is a known phase.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseObservation, PhaseReasoning, PhasePlan, PhaseAct, PhaseReflection:
		return true
	}
	return false
}

// PhaseEntry is one appended cognitive memory record, ordered by
// createdAt per (agent, channel).
type PhaseEntry struct {
	repository.Meta
	AgentID   string `json:"agentId"`
	ChannelID string `json:"channelId"`
	Phase     Phase  `json:"phase"`
	Content   string `json:"content"`
}

// LoopState is the lifecycle of one in-memory loop.
type LoopState string

const (
	LoopActive    LoopState = "active"
	LoopCancelled LoopState = "cancelled"
	LoopStopped   LoopState = "stopped"
)

// Status is the controller-level snapshot.
type Status struct {
	Enabled              bool        `json:"enabled"`
	ActiveLoops          int         `json:"activeLoops"`
	ActiveAgents         int         `json:"activeAgents"`
	CognitiveMemoryCount int         `json:"cognitiveMemoryCount"`
	PhaseCounts          PhaseCounts `json:"phaseCounts"`
}

// PhaseCounts tallies persisted entries per recorded phase.
type PhaseCounts struct {
	Observations int `json:"observations"`
	Reasonings   int `json:"reasonings"`
	Plans        int `json:"plans"`
	Reflections  int `json:"reflections"`
}
