// Package scheduler drives the periodic coordination tick: for every
// active channel it surfaces unblocked assigned tasks and admits
// cognitive loops for their agents, up to the controller's ceiling.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	channelservice "github.com/BradA1878/model-exchange-framework-sub007/internal/channel/service"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/config"
	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/dag"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/orpar"
)

// Scheduler ticks on a cron schedule and feeds ready work to the loop
// controller.
type Scheduler struct {
	cron       *cron.Cron
	cfg        config.ORPARConfig
	channels   *channelservice.Service
	engine     *dag.Engine
	controller *orpar.Controller
	logger     *logger.Logger
}

// New creates a scheduler. Call Start to begin ticking.
func New(
	cfg config.ORPARConfig,
	channels *channelservice.Service,
	engine *dag.Engine,
	controller *orpar.Controller,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		cfg:        cfg,
		channels:   channels,
		engine:     engine,
		controller: controller,
		logger:     log,
	}
}

// Start registers the tick job and starts the cron runner.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("Scheduler disabled; not starting")
		return nil
	}
	spec := fmt.Sprintf("@every %ds", s.cfg.TickSeconds)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.String("schedule", spec))
	return nil
}

// Stop halts the cron runner and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	channels, err := s.channels.ListActive(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Tick failed to list channels")
		return
	}

	for _, channel := range channels {
		s.tickChannel(ctx, channel.GetID())
	}
}

// tickChannel admits one loop per (assigned agent, channel) with
// unblocked work. A full controller or an already-running pair is
// routine; both are skipped quietly.
func (s *Scheduler) tickChannel(ctx context.Context, channelID string) {
	actionable, err := s.engine.GetActionableTasks(ctx, channelID)
	if err != nil {
		s.logger.WithChannelID(channelID).WithError(err).Warn("Tick failed to compute actionable tasks")
		return
	}

	for _, task := range actionable {
		agentID := task.AssignedAgentID
		if agentID == "" {
			continue
		}
		if s.controller.IsActive(agentID, channelID) {
			continue
		}
		trigger := fmt.Sprintf("assigned task %q (%s)", task.Title, task.GetID())
		if _, err := s.controller.StartLoop(ctx, agentID, channelID, trigger); err != nil {
			if apperrors.IsConflict(err) {
				continue
			}
			s.logger.WithAgentID(agentID).WithChannelID(channelID).WithError(err).
				Debug("Loop admission declined", zap.String("task_id", task.GetID()))
			return
		}
		s.logger.WithAgentID(agentID).WithChannelID(channelID).Info("Loop admitted for assigned task",
			zap.String("task_id", task.GetID()))
	}
}
