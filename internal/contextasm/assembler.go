// Package contextasm assembles the ordered prompt message sequence an
// agent sends to its model: one system message carrying the framework
// prompt and agent identity, the layer-filtered conversation history,
// and trailing task and action context.
package contextasm

import (
	"fmt"
	"strings"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/llm"
	memmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/memory/models"
	taskmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/task/models"
)

// AgentConfig describes the agent for the identity block.
type AgentConfig struct {
	Purpose      string   `json:"purpose"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// AgentContext is everything the assembler needs for one prompt.
type AgentContext struct {
	AgentID             string
	AgentConfig         AgentConfig
	SystemPrompt        string
	ConversationHistory []memmodels.Message
	CurrentTask         *taskmodels.Task
	RecentActions       []string
}

// Assembler builds prompt sequences. Stateless; safe for concurrent use.
type Assembler struct{}

// New creates an assembler.
func New() *Assembler {
	return &Assembler{}
}

// Assemble produces the linear message sequence:
//
//  1. one system message (framework prompt + agent identity, plus the
//     graph bundle when provided),
//  2. history filtered by context layer,
//  3. the current task description unless history already carries one,
//  4. a summary of recent actions.
//
// The task dedup in step 3 keeps the task description from landing after
// a tool result that history has already materialized.
func (a *Assembler) Assemble(agentCtx AgentContext, graph *GraphContext) []llm.Message {
	out := make([]llm.Message, 0, len(agentCtx.ConversationHistory)+3)
	out = append(out, llm.TextMessage(llm.RoleSystem, a.systemContent(agentCtx, graph)))

	taskSeen := false
	for i := range agentCtx.ConversationHistory {
		msg := &agentCtx.ConversationHistory[i]
		layer := msg.ContextLayer()
		if !includeLayer(layer, msg.Role) {
			continue
		}
		if layer == memmodels.LayerTask {
			taskSeen = true
		}
		out = append(out, llm.TextMessage(promptRole(msg.Role), msg.Content))
	}

	if agentCtx.CurrentTask != nil && !taskSeen {
		out = append(out, llm.TextMessage(llm.RoleUser, taskContent(agentCtx.CurrentTask)))
	}

	if len(agentCtx.RecentActions) > 0 {
		out = append(out, llm.TextMessage(llm.RoleUser, actionsContent(agentCtx.RecentActions)))
	}

	return out
}

// includeLayer applies the layer filter: conversation, tool-result, and
// task layers pass; system, identity, and action layers are dropped.
// Legacy untagged messages pass unless their role is system.
func includeLayer(layer, role string) bool {
	switch layer {
	case memmodels.LayerConversation, memmodels.LayerToolResult, memmodels.LayerTask:
		return true
	case memmodels.LayerSystem, memmodels.LayerIdentity, memmodels.LayerAction:
		return false
	case "":
		return role != llm.RoleSystem
	default:
		return false
	}
}

// promptRole maps stored roles onto the prompt role set. Tool results are
// replayed as user turns.
func promptRole(role string) string {
	switch role {
	case llm.RoleAssistant:
		return llm.RoleAssistant
	default:
		return llm.RoleUser
	}
}

func (a *Assembler) systemContent(agentCtx AgentContext, graph *GraphContext) string {
	var b strings.Builder
	b.WriteString(agentCtx.SystemPrompt)

	b.WriteString("\n\n## Agent Identity\n")
	fmt.Fprintf(&b, "Purpose: %s\n", agentCtx.AgentConfig.Purpose)
	fmt.Fprintf(&b, "Agent ID: %s\n", agentCtx.AgentID)
	if len(agentCtx.AgentConfig.Capabilities) > 0 {
		fmt.Fprintf(&b, "Capabilities: %s\n", strings.Join(agentCtx.AgentConfig.Capabilities, ", "))
	}

	if graph != nil && !graph.Empty() {
		b.WriteString("\n")
		b.WriteString(graph.Render())
	}

	return b.String()
}

func taskContent(task *taskmodels.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current task: %s", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "\n%s", task.Description)
	}
	if task.Priority != "" {
		fmt.Fprintf(&b, "\nPriority: %s", task.Priority)
	}
	return b.String()
}

func actionsContent(actions []string) string {
	var b strings.Builder
	b.WriteString("Recent actions:\n")
	for _, action := range actions {
		fmt.Fprintf(&b, "- %s\n", action)
	}
	return strings.TrimRight(b.String(), "\n")
}
