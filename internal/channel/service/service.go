// Package service implements channel lifecycle and membership operations.
package service

import (
	"context"

	"go.uber.org/zap"

	agentrepo "github.com/BradA1878/model-exchange-framework-sub007/internal/agent/repository"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/channel/models"
	channelrepo "github.com/BradA1878/model-exchange-framework-sub007/internal/channel/repository"
	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events/bus"
)

// Service coordinates channel operations.
type Service struct {
	repo     *channelrepo.Repository
	agents   *agentrepo.Repository
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewService creates a channel service.
func NewService(repo *channelrepo.Repository, agents *agentrepo.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{repo: repo, agents: agents, eventBus: eventBus, logger: log}
}

// CreateRequest carries the fields accepted when creating a channel.
type CreateRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Private      bool     `json:"private,omitempty"`
	AllowedTools []string `json:"allowedTools,omitempty"`
	CreatedBy    string   `json:"createdBy,omitempty"`
}

// Create persists a new channel after verifying every participant exists.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Channel, error) {
	if req.Name == "" {
		return nil, apperrors.InvalidRequest("name is required")
	}
	for _, agentID := range req.Participants {
		if _, err := s.agents.FindByID(ctx, agentID); err != nil {
			return nil, err
		}
	}

	channel := &models.Channel{
		Name:         req.Name,
		Description:  req.Description,
		Participants: req.Participants,
		Private:      req.Private,
		AllowedTools: req.AllowedTools,
		Active:       true,
		CreatedBy:    req.CreatedBy,
	}
	if channel.Participants == nil {
		channel.Participants = []string{}
	}

	created, err := s.repo.Create(ctx, channel)
	if err != nil {
		return nil, err
	}
	s.logger.WithChannelID(created.ID).Info("Channel created", zap.String("name", created.Name))
	return created, nil
}

// Get returns a channel by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Channel, error) {
	return s.repo.FindByID(ctx, id)
}

// ListActive returns all active channels.
func (s *Service) ListActive(ctx context.Context) ([]*models.Channel, error) {
	return s.repo.FindActive(ctx)
}

// Search does a case-insensitive name search.
func (s *Service) Search(ctx context.Context, query string) ([]*models.Channel, error) {
	return s.repo.SearchByName(ctx, query)
}

// Join adds an agent to a channel.
func (s *Service) Join(ctx context.Context, channelID, agentID string) (*models.Channel, error) {
	if _, err := s.agents.FindByID(ctx, agentID); err != nil {
		return nil, err
	}
	channel, err := s.repo.AddParticipant(ctx, channelID, agentID)
	if err != nil {
		return nil, err
	}
	s.publishEvent(channelID, "participant_joined", map[string]interface{}{"agentId": agentID})
	return channel, nil
}

// Leave removes an agent from a channel.
func (s *Service) Leave(ctx context.Context, channelID, agentID string) (*models.Channel, error) {
	channel, err := s.repo.RemoveParticipant(ctx, channelID, agentID)
	if err != nil {
		return nil, err
	}
	s.publishEvent(channelID, "participant_left", map[string]interface{}{"agentId": agentID})
	return channel, nil
}

// IsParticipant reports whether the agent belongs to the channel.
func (s *Service) IsParticipant(ctx context.Context, channelID, agentID string) (bool, error) {
	return s.repo.IsParticipant(ctx, channelID, agentID)
}

// TouchActivity stamps the channel's last activity time.
func (s *Service) TouchActivity(ctx context.Context, channelID string) error {
	return s.repo.UpdateLastActive(ctx, channelID)
}

// PostEvent records an externally sourced channel event on the bus.
func (s *Service) PostEvent(ctx context.Context, channelID, eventType string, data map[string]interface{}) error {
	if _, err := s.repo.FindByID(ctx, channelID); err != nil {
		return err
	}
	if err := s.repo.UpdateLastActive(ctx, channelID); err != nil {
		s.logger.WithError(err).Warn("Failed to stamp channel activity",
			zap.String("channel_id", channelID))
	}
	payload := map[string]interface{}{"channelId": channelID, "eventType": eventType}
	for k, v := range data {
		payload[k] = v
	}
	s.publishEvent(channelID, eventType, payload)
	return nil
}

// PostMessage records an inbound channel message on the bus.
func (s *Service) PostMessage(ctx context.Context, channelID, agentID, message string, metadata map[string]interface{}) error {
	channel, err := s.repo.FindByID(ctx, channelID)
	if err != nil {
		return err
	}
	if agentID != "" && !channel.HasParticipant(agentID) {
		return apperrors.NotFound("participant", agentID)
	}
	if err := s.repo.UpdateLastActive(ctx, channelID); err != nil {
		s.logger.WithError(err).Warn("Failed to stamp channel activity",
			zap.String("channel_id", channelID))
	}

	data := map[string]interface{}{
		"channelId": channelID,
		"agentId":   agentID,
		"message":   message,
	}
	if metadata != nil {
		data["metadata"] = metadata
	}
	event := bus.NewEvent(events.ChannelMessage, "channel-service", data)
	subject := events.BuildChannelSubject(events.ChannelMessage, channelID)
	return s.eventBus.Publish(ctx, subject, event)
}

func (s *Service) publishEvent(channelID, eventType string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(events.ChannelEvent, "channel-service", map[string]interface{}{
		"channelId": channelID,
		"eventType": eventType,
		"data":      data,
	})
	subject := events.BuildChannelSubject(events.ChannelEvent, channelID)
	if err := s.eventBus.Publish(context.Background(), subject, event); err != nil {
		s.logger.WithError(err).Warn("Failed to publish channel event",
			zap.String("subject", subject))
	}
}
