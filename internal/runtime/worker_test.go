package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	agentmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/agent/models"
	agentrepo "github.com/BradA1878/model-exchange-framework-sub007/internal/agent/repository"
	agentservice "github.com/BradA1878/model-exchange-framework-sub007/internal/agent/service"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/config"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events/bus"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/llm"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/memory"
	memmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/memory/models"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/orpar"
	orparmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/orpar/models"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

// scriptedProvider answers every send with a numbered text response, or
// the configured error.
type scriptedProvider struct {
	calls int
	err   error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) SendMessage(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.Response, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{
		ID:      fmt.Sprintf("resp-%d", p.calls),
		Role:    llm.RoleAssistant,
		Content: []llm.ContentItem{{Type: llm.ContentText, Text: fmt.Sprintf("output %d", p.calls)}},
		Model:   "scripted-model",
	}, nil
}

type workerFixture struct {
	worker     *Worker
	controller *orpar.Controller
	provider   *scriptedProvider
	memory     *memory.Service
	agentID    string
}

func newWorkerFixture(t *testing.T, maxCycles int) *workerFixture {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	cfg := config.ORPARConfig{Enabled: true, MaxActiveLoops: 10, DefaultMaxCycles: maxCycles}
	entries := repository.NewMemoryRepository("cognitive_memory", func() *orparmodels.PhaseEntry { return &orparmodels.PhaseEntry{} })
	controller := orpar.NewController(cfg, entries, nil, eventBus, log)

	provider := &scriptedProvider{}
	dispatcher := llm.NewDispatcher(provider.Name(), log)
	dispatcher.Register(provider)

	memorySvc := memory.NewService(
		repository.NewMemoryRepository("agent_memory", func() *memmodels.AgentMemory { return &memmodels.AgentMemory{} }),
		repository.NewMemoryRepository("channel_memory", func() *memmodels.ChannelMemory { return &memmodels.ChannelMemory{} }),
		repository.NewMemoryRepository("relationship_memory", func() *memmodels.RelationshipMemory { return &memmodels.RelationshipMemory{} }),
		log,
	)

	agents := agentservice.NewService(
		agentrepo.New(repository.NewMemoryRepository("agents", func() *agentmodels.Agent { return &agentmodels.Agent{} })),
		nil, log,
	)
	agent, err := agents.Register(context.Background(), agentservice.RegisterRequest{
		Name: "worker-agent",
		Role: agentmodels.RoleConsumer,
	})
	if err != nil {
		t.Fatalf("failed to register agent: %v", err)
	}

	worker := NewWorker(controller, dispatcher, nil, memorySvc, nil, agents, eventBus, llm.Options{}, log)
	return &workerFixture{
		worker:     worker,
		controller: controller,
		provider:   provider,
		memory:     memorySvc,
		agentID:    agent.ID,
	}
}

func phasesOf(entries []*orparmodels.PhaseEntry) []orparmodels.Phase {
	out := make([]orparmodels.Phase, len(entries))
	for i, entry := range entries {
		out[i] = entry.Phase
	}
	return out
}

func TestRunCycleCompletesWithinBudget(t *testing.T) {
	f := newWorkerFixture(t, 1)
	ctx := context.Background()

	if _, err := f.controller.StartLoop(ctx, f.agentID, "ch-1", "kickoff"); err != nil {
		t.Fatalf("StartLoop failed: %v", err)
	}
	f.worker.runCycle(ctx, f.agentID, "ch-1")

	if f.controller.IsActive(f.agentID, "ch-1") {
		t.Error("exhausting the cycle budget should stop the loop")
	}
	if f.provider.calls != 4 {
		t.Errorf("got %d dispatches, want 4", f.provider.calls)
	}

	entries, err := f.controller.History(ctx, f.agentID, "ch-1", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	// Act output flows to memory and the reflection; it is not persisted
	// as a phase entry.
	want := []orparmodels.Phase{
		orparmodels.PhaseObservation,
		orparmodels.PhaseReasoning,
		orparmodels.PhasePlan,
		orparmodels.PhaseReflection,
	}
	got := phasesOf(entries)
	if len(got) != len(want) {
		t.Fatalf("got phases %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got phases %v, want %v", got, want)
		}
	}

	history, err := f.memory.ChannelHistory(ctx, "ch-1", 0)
	if err != nil {
		t.Fatalf("ChannelHistory failed: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("each recorded phase output lands in channel memory, got %d messages", len(history))
	}
	for _, msg := range history {
		if msg.Role != llm.RoleAssistant {
			t.Errorf("got role %q", msg.Role)
		}
	}
	// The act phase is tagged with the action layer for later assembly.
	if layer := history[2].Metadata["contextLayer"]; layer != memmodels.LayerAction {
		t.Errorf("got layer %v, want %q", layer, memmodels.LayerAction)
	}
}

func TestRunCycleSeedsSecondObservation(t *testing.T) {
	f := newWorkerFixture(t, 2)
	ctx := context.Background()

	if _, err := f.controller.StartLoop(ctx, f.agentID, "ch-1", "kickoff"); err != nil {
		t.Fatalf("StartLoop failed: %v", err)
	}
	f.worker.runCycle(ctx, f.agentID, "ch-1")

	if f.controller.IsActive(f.agentID, "ch-1") {
		t.Error("loop should stop after the second reflection")
	}
	if f.provider.calls != 8 {
		t.Errorf("got %d dispatches, want 8", f.provider.calls)
	}

	entries, err := f.controller.History(ctx, f.agentID, "ch-1", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 8 {
		t.Fatalf("two full cycles record 8 entries, got %d: %v", len(entries), phasesOf(entries))
	}
	second := entries[4]
	if second.Phase != orparmodels.PhaseObservation {
		t.Fatalf("entry 4 should open the second cycle, got %v", second.Phase)
	}
	// The first reflection (dispatch 4) seeds the next observation.
	if second.Content != "output 4" {
		t.Errorf("got seed %q, want %q", second.Content, "output 4")
	}
}

func TestRunCycleStopsOnDispatchFailure(t *testing.T) {
	f := newWorkerFixture(t, 3)
	f.provider.err = errors.New("model backend down")
	ctx := context.Background()

	if _, err := f.controller.StartLoop(ctx, f.agentID, "ch-1", "kickoff"); err != nil {
		t.Fatalf("StartLoop failed: %v", err)
	}
	f.worker.runCycle(ctx, f.agentID, "ch-1")

	if f.controller.IsActive(f.agentID, "ch-1") {
		t.Error("a dispatch failure should stop the loop")
	}

	entries, err := f.controller.History(ctx, f.agentID, "ch-1", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want observation plus failure reasoning", len(entries))
	}
	if entries[1].Phase != orparmodels.PhaseReasoning {
		t.Errorf("got phase %v", entries[1].Phase)
	}
	if !strings.Contains(entries[1].Content, "cycle failed during reasoning") {
		t.Errorf("got %q", entries[1].Content)
	}
}

func TestWorkerConsumesLoopAdmissions(t *testing.T) {
	f := newWorkerFixture(t, 1)
	ctx := context.Background()

	if err := f.worker.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.worker.Stop()

	// The controller announces the admission on the bus; the worker picks
	// it up and drives the loop to completion.
	if _, err := f.controller.StartLoop(ctx, f.agentID, "ch-1", "kickoff"); err != nil {
		t.Fatalf("StartLoop failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.controller.IsActive(f.agentID, "ch-1") {
		if time.Now().After(deadline) {
			t.Fatal("worker never drained the admitted loop")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if f.provider.calls != 4 {
		t.Errorf("got %d dispatches, want 4", f.provider.calls)
	}
}
