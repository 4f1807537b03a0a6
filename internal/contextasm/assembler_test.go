package contextasm

import (
	"strings"
	"testing"

	kmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/knowledge/models"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/llm"
	memmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/memory/models"
	taskmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/task/models"
)

func tagged(role, content, layer string) memmodels.Message {
	return memmodels.Message{
		Role:     role,
		Content:  content,
		Metadata: map[string]interface{}{"contextLayer": layer},
	}
}

func baseContext() AgentContext {
	return AgentContext{
		AgentID: "agent-1",
		AgentConfig: AgentConfig{
			Purpose:      "Research assistant",
			Capabilities: []string{"search", "summarize"},
		},
		SystemPrompt: "You are an autonomous agent.",
	}
}

func countSystem(messages []llm.Message) int {
	count := 0
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			count++
		}
	}
	return count
}

func TestAssembleSingleSystemMessage(t *testing.T) {
	asm := New()
	agentCtx := baseContext()
	agentCtx.ConversationHistory = []memmodels.Message{
		tagged(llm.RoleUser, "hi", memmodels.LayerConversation),
		{Role: llm.RoleSystem, Content: "legacy system text"},
	}

	out := asm.Assemble(agentCtx, nil)
	if countSystem(out) != 1 {
		t.Fatalf("got %d system messages, want exactly 1", countSystem(out))
	}
	if out[0].Role != llm.RoleSystem {
		t.Error("the system message must come first")
	}

	system := out[0].Text()
	for _, want := range []string{
		"You are an autonomous agent.",
		"## Agent Identity",
		"Purpose: Research assistant",
		"Agent ID: agent-1",
		"Capabilities: search, summarize",
	} {
		if !strings.Contains(system, want) {
			t.Errorf("system message missing %q:\n%s", want, system)
		}
	}
}

func TestAssembleLayerFilter(t *testing.T) {
	asm := New()
	agentCtx := baseContext()
	agentCtx.ConversationHistory = []memmodels.Message{
		tagged(llm.RoleUser, "keep conversation", memmodels.LayerConversation),
		tagged(llm.RoleUser, "keep tool result", memmodels.LayerToolResult),
		tagged(llm.RoleUser, "keep task", memmodels.LayerTask),
		tagged(llm.RoleUser, "drop system", memmodels.LayerSystem),
		tagged(llm.RoleUser, "drop identity", memmodels.LayerIdentity),
		tagged(llm.RoleAssistant, "drop action", memmodels.LayerAction),
		tagged(llm.RoleUser, "drop unknown", "scratch"),
		{Role: llm.RoleUser, Content: "keep legacy untagged"},
		{Role: llm.RoleSystem, Content: "drop legacy system"},
	}

	out := asm.Assemble(agentCtx, nil)

	var contents []string
	for _, msg := range out[1:] {
		contents = append(contents, msg.Text())
	}
	want := []string{"keep conversation", "keep tool result", "keep task", "keep legacy untagged"}
	if len(contents) != len(want) {
		t.Fatalf("got %v, want %v", contents, want)
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, contents[i], want[i])
		}
	}
}

func TestAssembleRoles(t *testing.T) {
	asm := New()
	agentCtx := baseContext()
	agentCtx.ConversationHistory = []memmodels.Message{
		tagged(llm.RoleAssistant, "assistant turn", memmodels.LayerConversation),
		tagged(llm.RoleTool, "tool output", memmodels.LayerToolResult),
	}

	out := asm.Assemble(agentCtx, nil)
	if out[1].Role != llm.RoleAssistant {
		t.Errorf("assistant turns keep their role, got %q", out[1].Role)
	}
	if out[2].Role != llm.RoleUser {
		t.Errorf("tool results replay as user turns, got %q", out[2].Role)
	}
}

func TestAssembleAppendsCurrentTask(t *testing.T) {
	asm := New()
	agentCtx := baseContext()
	agentCtx.ConversationHistory = []memmodels.Message{
		tagged(llm.RoleUser, "earlier turn", memmodels.LayerConversation),
		tagged(llm.RoleUser, "tool output", memmodels.LayerToolResult),
	}
	agentCtx.CurrentTask = &taskmodels.Task{
		Title:       "Summarize findings",
		Description: "Write a short summary.",
		Priority:    taskmodels.PriorityHigh,
	}

	out := asm.Assemble(agentCtx, nil)
	last := out[len(out)-1]
	if last.Role != llm.RoleUser {
		t.Errorf("task context is a user turn, got %q", last.Role)
	}
	text := last.Text()
	if !strings.Contains(text, "Current task: Summarize findings") ||
		!strings.Contains(text, "Write a short summary.") ||
		!strings.Contains(text, "Priority: high") {
		t.Errorf("unexpected task content: %q", text)
	}
}

func TestAssembleSkipsTaskWhenHistoryCarriesOne(t *testing.T) {
	asm := New()
	agentCtx := baseContext()
	agentCtx.ConversationHistory = []memmodels.Message{
		tagged(llm.RoleUser, "Current task: already delivered", memmodels.LayerTask),
		tagged(llm.RoleUser, "tool output after it", memmodels.LayerToolResult),
	}
	agentCtx.CurrentTask = &taskmodels.Task{Title: "Summarize findings"}

	out := asm.Assemble(agentCtx, nil)
	for _, msg := range out {
		if strings.Contains(msg.Text(), "Summarize findings") {
			t.Error("task should not be re-appended when history already carries a task turn")
		}
	}
	// The task turn never lands after the tool result.
	last := out[len(out)-1]
	if !strings.Contains(last.Text(), "tool output after it") {
		t.Errorf("history order should be preserved, last was %q", last.Text())
	}
}

func TestAssembleRecentActionsLast(t *testing.T) {
	asm := New()
	agentCtx := baseContext()
	agentCtx.CurrentTask = &taskmodels.Task{Title: "Do the thing"}
	agentCtx.RecentActions = []string{"ran query", "wrote file"}

	out := asm.Assemble(agentCtx, nil)
	last := out[len(out)-1]
	text := last.Text()
	if !strings.HasPrefix(text, "Recent actions:") ||
		!strings.Contains(text, "- ran query") ||
		!strings.Contains(text, "- wrote file") {
		t.Errorf("unexpected actions summary: %q", text)
	}
	if last.Role != llm.RoleUser {
		t.Errorf("actions summary is a user turn, got %q", last.Role)
	}
}

func TestAssembleEmptyContext(t *testing.T) {
	asm := New()
	out := asm.Assemble(baseContext(), nil)
	if len(out) != 1 {
		t.Fatalf("empty context should yield just the system message, got %d", len(out))
	}
}

func TestGraphContextRender(t *testing.T) {
	central := &kmodels.Entity{Type: kmodels.EntitySystem, Name: "payments", Aliases: []string{"billing"}}
	central.ID = "e1"
	related := &kmodels.Entity{Type: kmodels.EntityTechnology, Name: "stripe"}
	related.ID = "e2"

	graph := &GraphContext{Bundle: &kmodels.ContextBundle{
		CentralEntities: []*kmodels.Entity{central},
		RelatedEntities: []*kmodels.Entity{related},
		Relationships: []*kmodels.Relationship{
			{FromEntityID: "e1", ToEntityID: "e2", Type: "uses"},
		},
	}}

	if graph.Empty() {
		t.Fatal("populated bundle should not be empty")
	}
	rendered := graph.Render()
	for _, want := range []string{
		"## Knowledge Context",
		"- payments (system, aka billing)",
		"- stripe (technology)",
		"- payments -[uses]-> stripe",
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("render missing %q:\n%s", want, rendered)
		}
	}

	out := New().Assemble(baseContext(), graph)
	if countSystem(out) != 1 {
		t.Errorf("graph context must fold into the single system message, got %d", countSystem(out))
	}
	if !strings.Contains(out[0].Text(), "## Knowledge Context") {
		t.Error("system message should carry the knowledge block")
	}
}

func TestGraphContextEmpty(t *testing.T) {
	var nilGraph *GraphContext
	if !nilGraph.Empty() {
		t.Error("nil graph context is empty")
	}
	if !(&GraphContext{}).Empty() {
		t.Error("missing bundle is empty")
	}
	if !(&GraphContext{Bundle: &kmodels.ContextBundle{}}).Empty() {
		t.Error("bundle without entities is empty")
	}
}
