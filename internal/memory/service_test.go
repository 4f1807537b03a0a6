package memory

import (
	"context"
	"fmt"
	"testing"

	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/memory/models"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/muls"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return NewService(
		repository.NewMemoryRepository("agent_memory", func() *models.AgentMemory { return &models.AgentMemory{} }),
		repository.NewMemoryRepository("channel_memory", func() *models.ChannelMemory { return &models.ChannelMemory{} }),
		repository.NewMemoryRepository("relationship_memory", func() *models.RelationshipMemory { return &models.RelationshipMemory{} }),
		log,
	)
}

func TestGetAgentMemoryLazyCreate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	mem, err := svc.GetAgentMemory(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetAgentMemory failed: %v", err)
	}
	if mem.AgentID != "agent-1" {
		t.Errorf("got agentId %q, want agent-1", mem.AgentID)
	}
	if mem.Utility.QValue != muls.InitialQValue {
		t.Errorf("new memory should start at the neutral Q, got %v", mem.Utility.QValue)
	}

	again, err := svc.GetAgentMemory(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetAgentMemory failed: %v", err)
	}
	if again.ID != mem.ID {
		t.Error("second lookup should return the same record")
	}

	if _, err := svc.GetAgentMemory(ctx, ""); !apperrors.IsKind(err, apperrors.KindInvalidRequest) {
		t.Errorf("empty agentId should be InvalidRequest, got %v", err)
	}
}

func TestAppendAgentMessage(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	mem, err := svc.AppendAgentMessage(ctx, "agent-1", models.Message{Role: "user", Content: "hello"})
	if err != nil {
		t.Fatalf("AppendAgentMessage failed: %v", err)
	}
	if len(mem.ConversationHistory) != 1 {
		t.Fatalf("got %d messages, want 1", len(mem.ConversationHistory))
	}
	msg := mem.ConversationHistory[0]
	if msg.ID == "" || msg.Timestamp.IsZero() {
		t.Error("append should stamp id and timestamp")
	}
}

func TestAgentHistoryWindow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.AppendAgentMessage(ctx, "agent-1", models.Message{
			Role:    "user",
			Content: fmt.Sprintf("m%d", i),
		}); err != nil {
			t.Fatalf("AppendAgentMessage failed: %v", err)
		}
	}

	history, err := svc.AgentHistory(ctx, "agent-1", 2)
	if err != nil {
		t.Fatalf("AgentHistory failed: %v", err)
	}
	if len(history) != 2 || history[0].Content != "m3" || history[1].Content != "m4" {
		t.Errorf("window should keep the most recent messages in order, got %v", history)
	}

	all, err := svc.AgentHistory(ctx, "agent-1", 0)
	if err != nil {
		t.Fatalf("AgentHistory failed: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("zero limit should return everything, got %d", len(all))
	}
}

func TestAgentDataAndNotes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.SetAgentData(ctx, "agent-1", "mode", "careful"); err != nil {
		t.Fatalf("SetAgentData failed: %v", err)
	}
	if err := svc.AddAgentNote(ctx, "agent-1", "prefers short plans"); err != nil {
		t.Fatalf("AddAgentNote failed: %v", err)
	}

	mem, err := svc.GetAgentMemory(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetAgentMemory failed: %v", err)
	}
	if mem.CustomData["mode"] != "careful" {
		t.Errorf("got customData %v", mem.CustomData)
	}
	if len(mem.Notes) != 1 {
		t.Errorf("got notes %v", mem.Notes)
	}
}

func TestChannelSharedState(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.SetSharedState(ctx, "ch-1", "phase", "review"); err != nil {
		t.Fatalf("SetSharedState failed: %v", err)
	}

	value, err := svc.GetSharedState(ctx, "ch-1", "phase")
	if err != nil {
		t.Fatalf("GetSharedState failed: %v", err)
	}
	if value != "review" {
		t.Errorf("got %v, want review", value)
	}

	if _, err := svc.GetSharedState(ctx, "ch-1", "missing"); !apperrors.IsNotFound(err) {
		t.Errorf("unknown key should be NotFound, got %v", err)
	}
}

func TestChannelHistory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.AppendChannelMessage(ctx, "ch-1", models.Message{
			Role:     "assistant",
			Content:  fmt.Sprintf("m%d", i),
			Metadata: map[string]interface{}{"contextLayer": models.LayerConversation},
		}); err != nil {
			t.Fatalf("AppendChannelMessage failed: %v", err)
		}
	}

	history, err := svc.ChannelHistory(ctx, "ch-1", 10)
	if err != nil {
		t.Fatalf("ChannelHistory failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d messages, want 3", len(history))
	}
	if history[0].ContextLayer() != models.LayerConversation {
		t.Errorf("layer tag should survive the round trip, got %q", history[0].ContextLayer())
	}
}

func TestRelationshipMemoryNormalizesPair(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	mem, err := svc.GetRelationshipMemory(ctx, "zeta", "alpha")
	if err != nil {
		t.Fatalf("GetRelationshipMemory failed: %v", err)
	}
	if mem.AgentID1 != "alpha" || mem.AgentID2 != "zeta" {
		t.Errorf("pair should be stored sorted, got (%s, %s)", mem.AgentID1, mem.AgentID2)
	}

	// Reversed argument order lands on the same record.
	same, err := svc.GetRelationshipMemory(ctx, "alpha", "zeta")
	if err != nil {
		t.Fatalf("GetRelationshipMemory failed: %v", err)
	}
	if same.ID != mem.ID {
		t.Error("pair order must not create a second record")
	}

	if _, err := svc.AppendInteraction(ctx, "zeta", "alpha", models.Message{Role: "assistant", Content: "hi"}); err != nil {
		t.Fatalf("AppendInteraction failed: %v", err)
	}
	reloaded, err := svc.GetRelationshipMemory(ctx, "alpha", "zeta")
	if err != nil {
		t.Fatalf("GetRelationshipMemory failed: %v", err)
	}
	if len(reloaded.InteractionHistory) != 1 {
		t.Errorf("got %d interactions, want 1", len(reloaded.InteractionHistory))
	}

	if _, err := svc.GetRelationshipMemory(ctx, "alpha", ""); !apperrors.IsKind(err, apperrors.KindInvalidRequest) {
		t.Errorf("empty agent id should be InvalidRequest, got %v", err)
	}
}

func TestGetStats(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.GetAgentMemory(ctx, "agent-1"); err != nil {
		t.Fatalf("GetAgentMemory failed: %v", err)
	}
	if _, err := svc.GetAgentMemory(ctx, "agent-2"); err != nil {
		t.Fatalf("GetAgentMemory failed: %v", err)
	}
	if _, err := svc.GetChannelMemory(ctx, "ch-1"); err != nil {
		t.Fatalf("GetChannelMemory failed: %v", err)
	}

	stats, err := svc.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Agent.Count != 2 || stats.Channel.Count != 1 || stats.Relationship.Count != 0 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if stats.Agent.AvgQValue != muls.InitialQValue {
		t.Errorf("fresh memories should average the neutral Q, got %v", stats.Agent.AvgQValue)
	}
}
