package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events"
)

func newTestBus(t *testing.T) *MemoryEventBus {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return NewMemoryEventBus(log)
}

// collector gathers async deliveries behind a channel.
func collector() (EventHandler, <-chan *Event) {
	received := make(chan *Event, 16)
	return func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	}, received
}

func waitFor(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func expectSilence(t *testing.T, ch <-chan *Event) {
	t.Helper()
	select {
	case event := <-ch:
		t.Fatalf("unexpected delivery: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	handler, received := collector()
	if _, err := b.Subscribe("task.created.ch-1", handler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := b.Publish(context.Background(), "task.created.ch-1", NewEvent(events.TaskCreated, "test", map[string]interface{}{"taskId": "t1"})); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	event := waitFor(t, received)
	if event.Type != events.TaskCreated || event.Data["taskId"] != "t1" {
		t.Errorf("got %+v", event)
	}
	if event.ID == "" || event.Timestamp.IsZero() {
		t.Error("events should carry an id and timestamp")
	}
}

func TestExactSubjectDoesNotCrossMatch(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	handler, received := collector()
	if _, err := b.Subscribe("task.created.ch-1", handler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := b.Publish(context.Background(), "task.created.ch-2", NewEvent(events.TaskCreated, "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	expectSilence(t, received)
}

func TestSingleTokenWildcard(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	handler, received := collector()
	if _, err := b.Subscribe(events.BuildChannelWildcardSubject(events.TaskCreated), handler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx := context.Background()
	if err := b.Publish(ctx, events.BuildChannelSubject(events.TaskCreated, "ch-1"), NewEvent(events.TaskCreated, "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	waitFor(t, received)

	// * spans exactly one token.
	if err := b.Publish(ctx, "task.created.ch-1.extra", NewEvent(events.TaskCreated, "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	expectSilence(t, received)
}

func TestMultiTokenWildcard(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	handler, received := collector()
	if _, err := b.Subscribe(events.BuildPhaseWildcardSubject(), handler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := b.Publish(context.Background(), events.BuildPhaseSubject("agent-1", "ch-1"), NewEvent(events.PhaseEntered, "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	event := waitFor(t, received)
	if event.Type != events.PhaseEntered {
		t.Errorf("got %+v", event)
	}
}

func TestQueueSubscribeSingleDelivery(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	var mu sync.Mutex
	counts := make(map[string]int)
	delivered := make(chan struct{}, 16)
	worker := func(name string) EventHandler {
		return func(ctx context.Context, event *Event) error {
			mu.Lock()
			counts[name]++
			mu.Unlock()
			delivered <- struct{}{}
			return nil
		}
	}

	if _, err := b.QueueSubscribe("task.created.*", "workers", worker("a")); err != nil {
		t.Fatalf("QueueSubscribe failed: %v", err)
	}
	if _, err := b.QueueSubscribe("task.created.*", "workers", worker("b")); err != nil {
		t.Fatalf("QueueSubscribe failed: %v", err)
	}

	ctx := context.Background()
	const published = 4
	for i := 0; i < published; i++ {
		if err := b.Publish(ctx, "task.created.ch-1", NewEvent(events.TaskCreated, "test", nil)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	for i := 0; i < published; i++ {
		select {
		case <-delivered:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for queue delivery")
		}
	}
	select {
	case <-delivered:
		t.Fatal("each event should be delivered to exactly one group member")
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	if counts["a"]+counts["b"] != published {
		t.Errorf("got counts %v", counts)
	}
	if counts["a"] != 2 || counts["b"] != 2 {
		t.Errorf("round-robin should balance the group, got %v", counts)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	handler, received := collector()
	sub, err := b.Subscribe("task.created.ch-1", handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if !sub.IsValid() {
		t.Error("fresh subscription should be valid")
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("unsubscribed subscription should be invalid")
	}

	if err := b.Publish(context.Background(), "task.created.ch-1", NewEvent(events.TaskCreated, "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	expectSilence(t, received)
}

func TestClose(t *testing.T) {
	b := newTestBus(t)
	if !b.IsConnected() {
		t.Error("fresh bus should report connected")
	}

	handler, _ := collector()
	sub, err := b.Subscribe("task.created.ch-1", handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.Close()
	if b.IsConnected() {
		t.Error("closed bus should report disconnected")
	}
	if sub.IsValid() {
		t.Error("close should invalidate subscriptions")
	}
	if err := b.Publish(context.Background(), "task.created.ch-1", NewEvent(events.TaskCreated, "test", nil)); err == nil {
		t.Error("publish on a closed bus should fail")
	}
	if _, err := b.Subscribe("task.created.ch-1", handler); err == nil {
		t.Error("subscribe on a closed bus should fail")
	}
}

func TestSubjectBuilders(t *testing.T) {
	if got := events.BuildChannelSubject(events.TaskCreated, "ch-1"); got != "task.created.ch-1" {
		t.Errorf("got %q", got)
	}
	if got := events.BuildChannelWildcardSubject(events.TaskUpdated); got != "task.updated.*" {
		t.Errorf("got %q", got)
	}
	if got := events.BuildPhaseSubject("agent-1", "ch-1"); got != "orpar.phase_entered.agent-1.ch-1" {
		t.Errorf("got %q", got)
	}
}
