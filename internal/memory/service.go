// Package memory implements the three-scope memory store. Conversation
// histories are append-only; readers slice a recent window by index.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/memory/models"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/muls"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

// Service coordinates the three memory scopes. The scoping key (agentId,
// channelId, agent pair) is a natural key: Get* operations create the
// record lazily on first use.
type Service struct {
	agents        repository.Repository[*models.AgentMemory]
	channels      repository.Repository[*models.ChannelMemory]
	relationships repository.Repository[*models.RelationshipMemory]

	agentTracker   *muls.Tracker[*models.AgentMemory]
	channelTracker *muls.Tracker[*models.ChannelMemory]
	pairTracker    *muls.Tracker[*models.RelationshipMemory]

	logger *logger.Logger
}

// NewService creates a memory service over the three scope stores.
func NewService(
	agents repository.Repository[*models.AgentMemory],
	channels repository.Repository[*models.ChannelMemory],
	relationships repository.Repository[*models.RelationshipMemory],
	log *logger.Logger,
) *Service {
	return &Service{
		agents:         agents,
		channels:       channels,
		relationships:  relationships,
		agentTracker:   muls.NewTracker(agents, log),
		channelTracker: muls.NewTracker(channels, log),
		pairTracker:    muls.NewTracker(relationships, log),
		logger:         log,
	}
}

// AgentTracker exposes the agent memory utility tracker.
func (s *Service) AgentTracker() *muls.Tracker[*models.AgentMemory] { return s.agentTracker }

// ChannelTracker exposes the channel memory utility tracker.
func (s *Service) ChannelTracker() *muls.Tracker[*models.ChannelMemory] { return s.channelTracker }

// PairTracker exposes the relationship memory utility tracker.
func (s *Service) PairTracker() *muls.Tracker[*models.RelationshipMemory] { return s.pairTracker }

// GetAgentMemory returns (creating on first use) an agent's memory.
func (s *Service) GetAgentMemory(ctx context.Context, agentID string) (*models.AgentMemory, error) {
	if agentID == "" {
		return nil, apperrors.InvalidRequest("agentId is required")
	}
	existing, err := s.agents.FindOne(ctx, repository.NewFilter(map[string]interface{}{"agentId": agentID}))
	if err == nil {
		return existing, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}
	return s.agents.Create(ctx, &models.AgentMemory{
		AgentID:             agentID,
		ConversationHistory: []models.Message{},
		Utility:             muls.NewUtility(),
	})
}

// AppendAgentMessage appends one message to an agent's history.
func (s *Service) AppendAgentMessage(ctx context.Context, agentID string, msg models.Message) (*models.AgentMemory, error) {
	mem, err := s.GetAgentMemory(ctx, agentID)
	if err != nil {
		return nil, err
	}
	mem.ConversationHistory = append(mem.ConversationHistory, stamped(msg))
	return s.agents.Save(ctx, mem)
}

// AgentHistory returns the most recent window of an agent's history.
func (s *Service) AgentHistory(ctx context.Context, agentID string, limit int) ([]models.Message, error) {
	mem, err := s.GetAgentMemory(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return window(mem.ConversationHistory, limit), nil
}

// SetAgentData writes one key of an agent's custom data blob.
func (s *Service) SetAgentData(ctx context.Context, agentID, key string, value interface{}) error {
	mem, err := s.GetAgentMemory(ctx, agentID)
	if err != nil {
		return err
	}
	if mem.CustomData == nil {
		mem.CustomData = make(map[string]interface{})
	}
	mem.CustomData[key] = value
	_, err = s.agents.Save(ctx, mem)
	return err
}

// AddAgentNote appends a note to an agent's memory.
func (s *Service) AddAgentNote(ctx context.Context, agentID, note string) error {
	mem, err := s.GetAgentMemory(ctx, agentID)
	if err != nil {
		return err
	}
	mem.Notes = append(mem.Notes, note)
	_, err = s.agents.Save(ctx, mem)
	return err
}

// GetChannelMemory returns (creating on first use) a channel's memory.
func (s *Service) GetChannelMemory(ctx context.Context, channelID string) (*models.ChannelMemory, error) {
	if channelID == "" {
		return nil, apperrors.InvalidRequest("channelId is required")
	}
	existing, err := s.channels.FindOne(ctx, repository.NewFilter(map[string]interface{}{"channelId": channelID}))
	if err == nil {
		return existing, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}
	return s.channels.Create(ctx, &models.ChannelMemory{
		ChannelID:           channelID,
		ConversationHistory: []models.Message{},
		Utility:             muls.NewUtility(),
	})
}

// AppendChannelMessage appends one message to a channel's history.
func (s *Service) AppendChannelMessage(ctx context.Context, channelID string, msg models.Message) (*models.ChannelMemory, error) {
	mem, err := s.GetChannelMemory(ctx, channelID)
	if err != nil {
		return nil, err
	}
	mem.ConversationHistory = append(mem.ConversationHistory, stamped(msg))
	return s.channels.Save(ctx, mem)
}

// ChannelHistory returns the most recent window of a channel's history.
func (s *Service) ChannelHistory(ctx context.Context, channelID string, limit int) ([]models.Message, error) {
	mem, err := s.GetChannelMemory(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return window(mem.ConversationHistory, limit), nil
}

// SetSharedState writes one key of a channel's shared state blob.
func (s *Service) SetSharedState(ctx context.Context, channelID, key string, value interface{}) error {
	mem, err := s.GetChannelMemory(ctx, channelID)
	if err != nil {
		return err
	}
	if mem.SharedState == nil {
		mem.SharedState = make(map[string]interface{})
	}
	mem.SharedState[key] = value
	_, err = s.channels.Save(ctx, mem)
	return err
}

// GetSharedState reads one key of a channel's shared state blob.
func (s *Service) GetSharedState(ctx context.Context, channelID, key string) (interface{}, error) {
	mem, err := s.GetChannelMemory(ctx, channelID)
	if err != nil {
		return nil, err
	}
	value, ok := mem.SharedState[key]
	if !ok {
		return nil, apperrors.NotFound("sharedState key", key)
	}
	return value, nil
}

// GetRelationshipMemory returns (creating on first use) the memory for an
// agent pair. The pair is normalized so argument order is irrelevant.
func (s *Service) GetRelationshipMemory(ctx context.Context, agentA, agentB string) (*models.RelationshipMemory, error) {
	if agentA == "" || agentB == "" {
		return nil, apperrors.InvalidRequest("both agent ids are required")
	}
	first, second := models.NormalizePair(agentA, agentB)
	existing, err := s.relationships.FindOne(ctx, repository.NewFilter(map[string]interface{}{
		"agentId1": first,
		"agentId2": second,
	}))
	if err == nil {
		return existing, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}
	return s.relationships.Create(ctx, &models.RelationshipMemory{
		AgentID1:           first,
		AgentID2:           second,
		InteractionHistory: []models.Message{},
		Utility:            muls.NewUtility(),
	})
}

// AppendInteraction appends one message to an agent pair's history.
func (s *Service) AppendInteraction(ctx context.Context, agentA, agentB string, msg models.Message) (*models.RelationshipMemory, error) {
	mem, err := s.GetRelationshipMemory(ctx, agentA, agentB)
	if err != nil {
		return nil, err
	}
	mem.InteractionHistory = append(mem.InteractionHistory, stamped(msg))
	return s.relationships.Save(ctx, mem)
}

// GetStats computes counts and Q-value rollups per scope from the current
// page of each store.
func (s *Service) GetStats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}

	agentPage, err := s.agents.FindMany(ctx, nil, &repository.Pagination{Limit: 500})
	if err != nil {
		return nil, err
	}
	stats.Agent = rollup(utilitiesOf(agentPage.Items))

	channelPage, err := s.channels.FindMany(ctx, nil, &repository.Pagination{Limit: 500})
	if err != nil {
		return nil, err
	}
	stats.Channel = rollup(utilitiesOf(channelPage.Items))

	pairPage, err := s.relationships.FindMany(ctx, nil, &repository.Pagination{Limit: 500})
	if err != nil {
		return nil, err
	}
	stats.Relationship = rollup(utilitiesOf(pairPage.Items))

	return stats, nil
}

func utilitiesOf[T muls.Bearer](items []T) []float64 {
	out := make([]float64, len(items))
	for i, item := range items {
		out[i] = item.UtilityRef().QValue
	}
	return out
}

func rollup(qValues []float64) models.ScopeStats {
	stats := models.ScopeStats{Count: len(qValues)}
	if len(qValues) == 0 {
		return stats
	}
	stats.MinQValue = qValues[0]
	sum := 0.0
	for _, q := range qValues {
		sum += q
		if q > stats.MaxQValue {
			stats.MaxQValue = q
		}
		if q < stats.MinQValue {
			stats.MinQValue = q
		}
	}
	stats.AvgQValue = sum / float64(len(qValues))
	return stats
}

func window(history []models.Message, limit int) []models.Message {
	if limit <= 0 || limit >= len(history) {
		return history
	}
	return history[len(history)-limit:]
}

func stamped(msg models.Message) models.Message {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg
}
