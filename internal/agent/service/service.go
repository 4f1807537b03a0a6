// Package service implements agent registration, discovery, and liveness.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/agent/models"
	agentrepo "github.com/BradA1878/model-exchange-framework-sub007/internal/agent/repository"
	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events/bus"
)

// staleThreshold is how long an agent may stay silent before the sweep
// marks it inactive.
const staleThreshold = 10 * time.Minute

// Service coordinates agent operations.
type Service struct {
	repo     *agentrepo.Repository
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewService creates an agent service.
func NewService(repo *agentrepo.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{repo: repo, eventBus: eventBus, logger: log}
}

// RegisterRequest carries the fields accepted when registering an agent.
type RegisterRequest struct {
	Name         string           `json:"name"`
	Role         models.AgentRole `json:"role"`
	ServiceTypes []string         `json:"serviceTypes,omitempty"`
	Capabilities []string         `json:"capabilities,omitempty"`
	KeyID        string           `json:"keyId,omitempty"`
	CreatedBy    string           `json:"createdBy,omitempty"`
}

// Register persists a new agent in ACTIVE status.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.Agent, error) {
	if req.Name == "" {
		return nil, apperrors.InvalidRequest("name is required")
	}
	role := req.Role
	if role == "" {
		role = models.RoleConsumer
	}
	if !role.IsValid() {
		return nil, apperrors.InvalidRequest("unknown role " + string(req.Role))
	}

	now := time.Now().UTC()
	agent := &models.Agent{
		Name:         req.Name,
		Role:         role,
		ServiceTypes: req.ServiceTypes,
		Capabilities: req.Capabilities,
		Status:       models.StatusActive,
		KeyID:        req.KeyID,
		CreatedBy:    req.CreatedBy,
		LastActiveAt: &now,
	}
	created, err := s.repo.Create(ctx, agent)
	if err != nil {
		return nil, err
	}
	s.logger.WithAgentID(created.ID).Info("Agent registered",
		zap.String("name", created.Name),
		zap.String("role", string(created.Role)))
	return created, nil
}

// Get returns an agent by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Agent, error) {
	return s.repo.FindByID(ctx, id)
}

// GetByKeyID returns the agent registered under the given key id.
func (s *Service) GetByKeyID(ctx context.Context, keyID string) (*models.Agent, error) {
	return s.repo.FindByKeyID(ctx, keyID)
}

// Discover returns agents offering the given service types.
func (s *Service) Discover(ctx context.Context, serviceTypes []string, matchAll bool) ([]*models.Agent, error) {
	return s.repo.FindByServiceTypes(ctx, serviceTypes, matchAll)
}

// SetStatus updates an agent's status and announces the change.
func (s *Service) SetStatus(ctx context.Context, id string, status models.AgentStatus) (*models.Agent, error) {
	agent, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.Status == status {
		return agent, nil
	}
	agent.Status = status
	updated, err := s.repo.Save(ctx, agent)
	if err != nil {
		return nil, err
	}

	if s.eventBus != nil {
		event := bus.NewEvent(events.AgentStatusChanged, "agent-service", map[string]interface{}{
			"agentId": id,
			"status":  string(status),
		})
		if err := s.eventBus.Publish(ctx, events.AgentStatusChanged, event); err != nil {
			s.logger.WithError(err).Warn("Failed to publish agent status event")
		}
	}
	return updated, nil
}

// Heartbeat stamps the agent's last activity time.
func (s *Service) Heartbeat(ctx context.Context, id string) error {
	return s.repo.TouchLastActive(ctx, id)
}

// SweepStale marks agents silent past the threshold as INACTIVE and
// returns how many were flipped.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	stale, err := s.repo.FindStaleAgents(ctx, staleThreshold)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, len(stale))
	for i, agent := range stale {
		ids[i] = agent.ID
	}
	if err := s.repo.BulkUpdateStatus(ctx, ids, models.StatusInactive); err != nil {
		return 0, err
	}
	s.logger.Info("Marked stale agents inactive", zap.Int("count", len(ids)))
	return len(ids), nil
}
