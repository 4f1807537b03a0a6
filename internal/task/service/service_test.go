package service

import (
	"context"
	"testing"

	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/dag"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/task/models"
	taskrepo "github.com/BradA1878/model-exchange-framework-sub007/internal/task/repository"
)

func newTestService(t *testing.T) (*Service, *dag.Engine) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	repo := taskrepo.New(repository.NewMemoryRepository("tasks", func() *models.Task { return &models.Task{} }))
	engine := dag.NewEngine(repo, log)
	return NewService(repo, engine, nil, log), engine
}

func mustCreate(t *testing.T, svc *Service, req CreateRequest) *models.Task {
	t.Helper()
	task, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return task
}

func complete(t *testing.T, svc *Service, id string) *models.Task {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.UpdateStatus(ctx, id, models.StatusAssigned, nil); err != nil {
		t.Fatalf("transition to assigned failed: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, id, models.StatusInProgress, nil); err != nil {
		t.Fatalf("transition to in_progress failed: %v", err)
	}
	task, err := svc.UpdateStatus(ctx, id, models.StatusCompleted, nil)
	if err != nil {
		t.Fatalf("transition to completed failed: %v", err)
	}
	return task
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateRequest{Title: "x"}); !apperrors.IsKind(err, apperrors.KindInvalidRequest) {
		t.Errorf("missing channelId should be InvalidRequest, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateRequest{ChannelID: "ch-1"}); !apperrors.IsKind(err, apperrors.KindInvalidRequest) {
		t.Errorf("missing title should be InvalidRequest, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateRequest{ChannelID: "ch-1", Title: "x", Priority: "extreme"}); !apperrors.IsKind(err, apperrors.KindInvalidRequest) {
		t.Errorf("unknown priority should be InvalidRequest, got %v", err)
	}
}

func TestCreateDefaults(t *testing.T) {
	svc, _ := newTestService(t)

	task := mustCreate(t, svc, CreateRequest{ChannelID: "ch-1", Title: "defaults"})
	if task.Priority != models.PriorityMedium {
		t.Errorf("got priority %q, want medium", task.Priority)
	}
	if task.Status != models.StatusPending {
		t.Errorf("got status %q, want pending", task.Status)
	}
	if task.Progress != 0 {
		t.Errorf("got progress %d, want 0", task.Progress)
	}
}

func TestCreateDependencyChecks(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateRequest{
		ChannelID: "ch-1", Title: "x", DependsOn: []string{"ghost"},
	}); !apperrors.IsKind(err, apperrors.KindInvalidDependency) {
		t.Errorf("unknown dependency should be InvalidDependency, got %v", err)
	}

	other := mustCreate(t, svc, CreateRequest{ChannelID: "ch-2", Title: "elsewhere"})
	if _, err := svc.Create(ctx, CreateRequest{
		ChannelID: "ch-1", Title: "x", DependsOn: []string{other.ID},
	}); !apperrors.IsKind(err, apperrors.KindInvalidDependency) {
		t.Errorf("cross-channel dependency should be InvalidDependency, got %v", err)
	}
}

func TestCreateComputesBlockedBy(t *testing.T) {
	svc, _ := newTestService(t)

	open := mustCreate(t, svc, CreateRequest{ChannelID: "ch-1", Title: "open"})
	done := mustCreate(t, svc, CreateRequest{ChannelID: "ch-1", Title: "done"})
	complete(t, svc, done.ID)

	task := mustCreate(t, svc, CreateRequest{
		ChannelID: "ch-1",
		Title:     "dependent",
		DependsOn: []string{open.ID, done.ID},
	})
	if len(task.DependsOn) != 2 {
		t.Errorf("got dependsOn %v, want both edges", task.DependsOn)
	}
	if len(task.BlockedBy) != 1 || task.BlockedBy[0] != open.ID {
		t.Errorf("only the incomplete dependency should block, got %v", task.BlockedBy)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to models.TaskStatus }{
		{models.StatusPending, models.StatusAssigned},
		{models.StatusPending, models.StatusCancelled},
		{models.StatusAssigned, models.StatusInProgress},
		{models.StatusAssigned, models.StatusCancelled},
		{models.StatusInProgress, models.StatusCompleted},
		{models.StatusInProgress, models.StatusFailed},
		{models.StatusInProgress, models.StatusCancelled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to models.TaskStatus }{
		{models.StatusPending, models.StatusInProgress},
		{models.StatusPending, models.StatusCompleted},
		{models.StatusPending, models.StatusFailed},
		{models.StatusAssigned, models.StatusCompleted},
		{models.StatusCompleted, models.StatusInProgress},
		{models.StatusFailed, models.StatusPending},
		{models.StatusCancelled, models.StatusInProgress},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be rejected", tc.from, tc.to)
		}
	}
}

func TestUpdateStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, svc, CreateRequest{ChannelID: "ch-1", Title: "lifecycle"})

	if _, err := svc.UpdateStatus(ctx, task.ID, models.StatusCompleted, nil); !apperrors.IsKind(err, apperrors.KindInvalidTransition) {
		t.Errorf("pending -> completed should be InvalidTransition, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, task.ID, models.StatusInProgress, nil); !apperrors.IsKind(err, apperrors.KindInvalidTransition) {
		t.Errorf("work starts only after assignment, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, task.ID, "half-done", nil); !apperrors.IsKind(err, apperrors.KindInvalidRequest) {
		t.Errorf("unknown status should be InvalidRequest, got %v", err)
	}

	same, err := svc.UpdateStatus(ctx, task.ID, models.StatusPending, nil)
	if err != nil {
		t.Fatalf("no-op transition failed: %v", err)
	}
	if same.Status != models.StatusPending {
		t.Errorf("no-op transition changed status to %q", same.Status)
	}

	done := complete(t, svc, task.ID)
	if done.Progress != 100 {
		t.Errorf("completion should set progress 100, got %d", done.Progress)
	}
	if done.CompletedAt == nil {
		t.Error("completion should set completedAt")
	}

	if _, err := svc.UpdateStatus(ctx, task.ID, models.StatusInProgress, nil); !apperrors.IsKind(err, apperrors.KindInvalidTransition) {
		t.Errorf("terminal status should have no outgoing transitions, got %v", err)
	}
}

func TestCompletionUnblocksDependents(t *testing.T) {
	svc, engine := newTestService(t)
	ctx := context.Background()

	dep := mustCreate(t, svc, CreateRequest{ChannelID: "ch-1", Title: "first"})
	dependent := mustCreate(t, svc, CreateRequest{
		ChannelID: "ch-1", Title: "second", DependsOn: []string{dep.ID},
	})

	ready, err := engine.GetReadyTasks(ctx, "ch-1", dag.ReadyOptions{})
	if err != nil {
		t.Fatalf("GetReadyTasks failed: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != dep.ID {
		t.Fatalf("only the dependency should start ready, got %d tasks", len(ready))
	}

	complete(t, svc, dep.ID)

	reloaded, err := svc.Get(ctx, dependent.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(reloaded.BlockedBy) != 0 {
		t.Errorf("blockedBy should clear on completion, got %v", reloaded.BlockedBy)
	}

	ready, err = engine.GetReadyTasks(ctx, "ch-1", dag.ReadyOptions{})
	if err != nil {
		t.Fatalf("GetReadyTasks failed: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != dependent.ID {
		t.Errorf("dependent should become ready, got %d tasks", len(ready))
	}
}

func TestAssign(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, svc, CreateRequest{ChannelID: "ch-1", Title: "work"})

	if _, err := svc.Assign(ctx, task.ID, ""); !apperrors.IsKind(err, apperrors.KindInvalidRequest) {
		t.Errorf("empty agent should be InvalidRequest, got %v", err)
	}

	assigned, err := svc.Assign(ctx, task.ID, "agent-1")
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if assigned.AssignedAgentID != "agent-1" {
		t.Errorf("got assignee %q, want agent-1", assigned.AssignedAgentID)
	}
	if assigned.Status != models.StatusAssigned {
		t.Errorf("assignment should move pending to assigned, got %q", assigned.Status)
	}

	again, err := svc.Assign(ctx, task.ID, "agent-1")
	if err != nil {
		t.Fatalf("repeated Assign failed: %v", err)
	}
	if again.Status != models.StatusAssigned || len(again.AssignedAgentIDs) != 1 {
		t.Errorf("repeated assignment should be idempotent: %+v", again)
	}
}

func TestCreateWithAssignTo(t *testing.T) {
	svc, _ := newTestService(t)

	task := mustCreate(t, svc, CreateRequest{ChannelID: "ch-1", Title: "direct", AssignTo: "agent-1"})
	if task.AssignedAgentID != "agent-1" || task.Status != models.StatusAssigned {
		t.Errorf("assignTo should assign on create: %+v", task)
	}
}

func TestAddDependency(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := mustCreate(t, svc, CreateRequest{ChannelID: "ch-1", Title: "first"})
	second := mustCreate(t, svc, CreateRequest{ChannelID: "ch-1", Title: "second", DependsOn: []string{first.ID}})

	if _, err := svc.AddDependency(ctx, first.ID, second.ID); !apperrors.IsKind(err, apperrors.KindCyclicDependency) {
		t.Errorf("closing a cycle should be CyclicDependency, got %v", err)
	}
	if _, err := svc.AddDependency(ctx, first.ID, "ghost"); !apperrors.IsKind(err, apperrors.KindInvalidDependency) {
		t.Errorf("unknown dependency should be InvalidDependency, got %v", err)
	}

	same, err := svc.AddDependency(ctx, second.ID, first.ID)
	if err != nil {
		t.Fatalf("duplicate AddDependency failed: %v", err)
	}
	if len(same.DependsOn) != 1 {
		t.Errorf("duplicate edge should be idempotent, got %v", same.DependsOn)
	}

	third := mustCreate(t, svc, CreateRequest{ChannelID: "ch-1", Title: "third"})
	updated, err := svc.AddDependency(ctx, third.ID, first.ID)
	if err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}
	if len(updated.DependsOn) != 1 || len(updated.BlockedBy) != 1 {
		t.Errorf("new edge should block on the incomplete dependency: %+v", updated)
	}
}

func TestUpdateProgressClamps(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, svc, CreateRequest{ChannelID: "ch-1", Title: "progress"})

	updated, err := svc.UpdateProgress(ctx, task.ID, 150)
	if err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if updated.Progress != 100 {
		t.Errorf("got progress %d, want clamped 100", updated.Progress)
	}

	updated, err = svc.UpdateProgress(ctx, task.ID, -5)
	if err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if updated.Progress != 0 {
		t.Errorf("got progress %d, want clamped 0", updated.Progress)
	}
}

func TestDeleteStripsEdges(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	dep := mustCreate(t, svc, CreateRequest{ChannelID: "ch-1", Title: "dep"})
	dependent := mustCreate(t, svc, CreateRequest{
		ChannelID: "ch-1", Title: "dependent", DependsOn: []string{dep.ID},
	})

	if err := svc.Delete(ctx, dep.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := svc.Get(ctx, dep.ID); !apperrors.IsNotFound(err) {
		t.Errorf("deleted task should be NotFound, got %v", err)
	}

	reloaded, err := svc.Get(ctx, dependent.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(reloaded.DependsOn) != 0 || len(reloaded.BlockedBy) != 0 {
		t.Errorf("edges referencing the deleted task should be stripped: %+v", reloaded)
	}

	if err := svc.Delete(ctx, "ghost"); !apperrors.IsNotFound(err) {
		t.Errorf("deleting a missing task should be NotFound, got %v", err)
	}
}
