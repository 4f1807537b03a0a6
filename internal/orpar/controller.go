// Package orpar runs the per-agent cognitive loop: observation,
// reasoning, plan, act, reflection. The controller admits loops under a
// configured ceiling, appends phase entries to cognitive memory, and
// feeds reflection outcomes into entity utilities.
package orpar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/config"
	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events/bus"
	kmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/knowledge/models"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/muls"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/orpar/models"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

// PhaseResult carries one phase's output into the next transition. On a
// transition into reflection, EntityIDs and Success attribute the cycle
// outcome to graph entities for utility updates.
type PhaseResult struct {
	Content   string
	EntityIDs []string
	Success   *bool
}

type loop struct {
	agentID     string
	channelID   string
	phase       models.Phase
	state       models.LoopState
	trigger     string
	cycles      int
	reflections int
	nextSeed    string
	startedAt   time.Time
}

// Controller owns the active loop table and the cognitive memory store.
type Controller struct {
	cfg     config.ORPARConfig
	entries repository.Repository[*models.PhaseEntry]
	tracker *muls.Tracker[*kmodels.Entity]
	bus     bus.EventBus
	logger  *logger.Logger

	mu    sync.Mutex
	loops map[string]*loop
}

// NewController creates a controller. The entity tracker may be nil when
// the knowledge graph is disabled.
func NewController(
	cfg config.ORPARConfig,
	entries repository.Repository[*models.PhaseEntry],
	tracker *muls.Tracker[*kmodels.Entity],
	eventBus bus.EventBus,
	log *logger.Logger,
) *Controller {
	return &Controller{
		cfg:     cfg,
		entries: entries,
		tracker: tracker,
		bus:     eventBus,
		logger:  log,
		loops:   make(map[string]*loop),
	}
}

func loopKey(agentID, channelID string) string {
	return agentID + "|" + channelID
}

// StartLoop admits a new loop for (agent, channel) and emits its first
// observation from the trigger context.
func (c *Controller) StartLoop(ctx context.Context, agentID, channelID, trigger string) (*models.PhaseEntry, error) {
	if !c.cfg.Enabled {
		return nil, apperrors.InvalidRequest("orpar loops are disabled")
	}
	if agentID == "" || channelID == "" {
		return nil, apperrors.InvalidRequest("agentId and channelId are required")
	}

	key := loopKey(agentID, channelID)

	c.mu.Lock()
	if _, running := c.loops[key]; running {
		c.mu.Unlock()
		return nil, apperrors.Conflict(fmt.Sprintf("loop already active for agent %s in channel %s", agentID, channelID))
	}
	if len(c.loops) >= c.cfg.MaxActiveLoops {
		c.mu.Unlock()
		return nil, apperrors.InvalidRequest(fmt.Sprintf("active loop ceiling of %d reached", c.cfg.MaxActiveLoops))
	}
	l := &loop{
		agentID:   agentID,
		channelID: channelID,
		phase:     models.PhaseObservation,
		state:     models.LoopActive,
		trigger:   trigger,
		cycles:    c.cfg.DefaultMaxCycles,
		startedAt: time.Now().UTC(),
	}
	c.loops[key] = l
	c.mu.Unlock()

	entry, err := c.record(ctx, agentID, channelID, models.PhaseObservation, trigger)
	if err != nil {
		c.mu.Lock()
		delete(c.loops, key)
		c.mu.Unlock()
		return nil, err
	}

	c.logger.WithAgentID(agentID).WithChannelID(channelID).Info("Loop started",
		zap.String("trigger", trigger),
		zap.Int("cycles", l.cycles))
	c.publish(ctx, events.LoopStarted, events.BuildChannelSubject(events.LoopStarted, channelID), map[string]interface{}{
		"agentId":   agentID,
		"channelId": channelID,
		"trigger":   trigger,
	})
	return entry, nil
}

// Advance moves the loop one phase forward. Skipping is not permitted;
// the next phase is always derived from the current one. Advancing into
// reflection closes a cycle: the cycle estimate decrements, attributed
// entity utilities update, and the result content seeds the next
// observation. When the cycle estimate hits zero the loop stops.
func (c *Controller) Advance(ctx context.Context, agentID, channelID string, result PhaseResult) (models.Phase, error) {
	key := loopKey(agentID, channelID)

	c.mu.Lock()
	l, ok := c.loops[key]
	if !ok {
		c.mu.Unlock()
		return "", apperrors.NotFound("loop", key)
	}
	if l.state == models.LoopCancelled {
		delete(c.loops, key)
		c.mu.Unlock()
		c.logger.WithAgentID(agentID).WithChannelID(channelID).Info("Cancelled loop drained; phase output discarded")
		return "", apperrors.InvalidRequest("loop is cancelled")
	}

	next := l.phase.Next()
	l.phase = next

	content := result.Content
	closesCycle := next == models.PhaseReflection
	if closesCycle {
		l.reflections++
		l.cycles--
		l.nextSeed = result.Content
	}
	if next == models.PhaseObservation && content == "" {
		content = l.nextSeed
	}
	exhausted := closesCycle && l.cycles <= 0
	c.mu.Unlock()

	if next.Recorded() {
		if _, err := c.record(ctx, agentID, channelID, next, content); err != nil {
			return "", err
		}
	}

	if closesCycle {
		c.applyOutcome(ctx, result)
		c.publish(ctx, events.CycleComplete, events.BuildChannelSubject(events.CycleComplete, channelID), map[string]interface{}{
			"agentId":   agentID,
			"channelId": channelID,
		})
		if exhausted {
			if err := c.StopLoop(ctx, agentID, channelID, "cycle budget exhausted"); err != nil && !apperrors.IsNotFound(err) {
				return next, err
			}
		}
	}
	return next, nil
}

// StopLoop terminates the loop and records its final state.
func (c *Controller) StopLoop(ctx context.Context, agentID, channelID, reason string) error {
	key := loopKey(agentID, channelID)

	c.mu.Lock()
	l, ok := c.loops[key]
	if !ok {
		c.mu.Unlock()
		return apperrors.NotFound("loop", key)
	}
	l.state = models.LoopStopped
	delete(c.loops, key)
	phase := l.phase
	reflections := l.reflections
	c.mu.Unlock()

	c.logger.WithAgentID(agentID).WithChannelID(channelID).Info("Loop stopped",
		zap.String("reason", reason),
		zap.String("phase", string(phase)),
		zap.Int("reflections", reflections))
	c.publish(ctx, events.LoopStopped, events.BuildChannelSubject(events.LoopStopped, channelID), map[string]interface{}{
		"agentId":     agentID,
		"channelId":   channelID,
		"reason":      reason,
		"finalPhase":  string(phase),
		"reflections": reflections,
	})
	return nil
}

// Cancel flags the loop; the flag is observed at the next phase boundary
// and the in-flight phase's output is discarded there.
func (c *Controller) Cancel(agentID, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.loops[loopKey(agentID, channelID)]
	if !ok {
		return apperrors.NotFound("loop", loopKey(agentID, channelID))
	}
	l.state = models.LoopCancelled
	return nil
}

// IsActive reports whether a non-cancelled loop exists for the pair.
func (c *Controller) IsActive(agentID, channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.loops[loopKey(agentID, channelID)]
	return ok && l.state == models.LoopActive
}

// CycleCount returns completed reflections + 1 when the loop is mid-cycle.
func (c *Controller) CycleCount(agentID, channelID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.loops[loopKey(agentID, channelID)]
	if !ok {
		return 0, apperrors.NotFound("loop", loopKey(agentID, channelID))
	}
	count := l.reflections
	if l.phase != models.PhaseReflection {
		count++
	}
	return count, nil
}

// Status snapshots the controller and the cognitive memory store.
func (c *Controller) Status(ctx context.Context) (*models.Status, error) {
	c.mu.Lock()
	status := &models.Status{Enabled: c.cfg.Enabled, ActiveLoops: len(c.loops)}
	agents := make(map[string]struct{})
	for _, l := range c.loops {
		agents[l.agentID] = struct{}{}
	}
	status.ActiveAgents = len(agents)
	c.mu.Unlock()

	total, err := c.entries.Count(ctx, nil)
	if err != nil {
		return nil, err
	}
	status.CognitiveMemoryCount = total

	counts := map[models.Phase]*int{
		models.PhaseObservation: &status.PhaseCounts.Observations,
		models.PhaseReasoning:   &status.PhaseCounts.Reasonings,
		models.PhasePlan:        &status.PhaseCounts.Plans,
		models.PhaseReflection:  &status.PhaseCounts.Reflections,
	}
	for phase, target := range counts {
		n, err := c.entries.Count(ctx, repository.NewFilter(map[string]interface{}{"phase": string(phase)}))
		if err != nil {
			return nil, err
		}
		*target = n
	}
	return status, nil
}

// History returns the (agent, channel) phase entries in createdAt order.
func (c *Controller) History(ctx context.Context, agentID, channelID string, limit int) ([]*models.PhaseEntry, error) {
	page, err := c.entries.FindMany(ctx,
		repository.NewFilter(map[string]interface{}{"agentId": agentID, "channelId": channelID}),
		&repository.Pagination{Limit: limit, SortBy: "createdAt", SortOrder: repository.SortAsc})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *Controller) record(ctx context.Context, agentID, channelID string, phase models.Phase, content string) (*models.PhaseEntry, error) {
	entry, err := c.entries.Create(ctx, &models.PhaseEntry{
		AgentID:   agentID,
		ChannelID: channelID,
		Phase:     phase,
		Content:   content,
	})
	if err != nil {
		return nil, err
	}
	c.publish(ctx, events.PhaseEntered, events.BuildPhaseSubject(agentID, channelID), map[string]interface{}{
		"agentId":   agentID,
		"channelId": channelID,
		"phase":     string(phase),
		"entryId":   entry.GetID(),
	})
	return entry, nil
}

// applyOutcome routes the reflection's entity attributions into utility
// updates. Infrastructure failures here are logged, not surfaced; the
// loop keeps its own state regardless.
func (c *Controller) applyOutcome(ctx context.Context, result PhaseResult) {
	if c.tracker == nil || len(result.EntityIDs) == 0 || result.Success == nil {
		return
	}
	if err := c.tracker.ApplyOutcome(ctx, result.EntityIDs, *result.Success, muls.DefaultAlpha); err != nil {
		c.logger.WithError(err).Warn("Failed to apply reflection outcome to entities")
	}
}

func (c *Controller) publish(ctx context.Context, eventType, subject string, data map[string]interface{}) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(ctx, subject, bus.NewEvent(eventType, "orpar-controller", data)); err != nil {
		c.logger.WithError(err).Warn("Failed to publish loop event", zap.String("subject", subject))
	}
}
