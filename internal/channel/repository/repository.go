// Package repository provides channel persistence over the generic
// repository port.
package repository

import (
	"context"
	"time"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/channel/models"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

// Repository provides channel storage operations.
type Repository struct {
	base repository.Repository[*models.Channel]
}

// New creates a channel repository over a generic backend.
func New(base repository.Repository[*models.Channel]) *Repository {
	return &Repository{base: base}
}

// FindByID returns the channel with the given id.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.Channel, error) {
	return r.base.FindByID(ctx, id)
}

// Create persists a new channel.
func (r *Repository) Create(ctx context.Context, channel *models.Channel) (*models.Channel, error) {
	return r.base.Create(ctx, channel)
}

// Save replaces an existing channel.
func (r *Repository) Save(ctx context.Context, channel *models.Channel) (*models.Channel, error) {
	return r.base.Save(ctx, channel)
}

// Delete removes a channel.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.base.Delete(ctx, id)
}

// FindActive returns all active channels.
func (r *Repository) FindActive(ctx context.Context) ([]*models.Channel, error) {
	page, err := r.base.FindMany(ctx,
		repository.NewFilter(map[string]interface{}{"active": true}),
		&repository.Pagination{Limit: 500, SortBy: "createdAt", SortOrder: repository.SortAsc})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// SearchByName does a case-insensitive name search.
func (r *Repository) SearchByName(ctx context.Context, query string) ([]*models.Channel, error) {
	filter := &repository.Filter{TextSearch: query}
	page, err := r.base.FindMany(ctx, filter, &repository.Pagination{Limit: 100})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// AddParticipant adds an agent to a channel's membership set. Idempotent.
func (r *Repository) AddParticipant(ctx context.Context, channelID, agentID string) (*models.Channel, error) {
	channel, err := r.base.FindByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel.HasParticipant(agentID) {
		return channel, nil
	}
	channel.Participants = append(channel.Participants, agentID)
	return r.base.Save(ctx, channel)
}

// RemoveParticipant removes an agent from a channel's membership set.
func (r *Repository) RemoveParticipant(ctx context.Context, channelID, agentID string) (*models.Channel, error) {
	channel, err := r.base.FindByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	filtered := channel.Participants[:0]
	for _, id := range channel.Participants {
		if id != agentID {
			filtered = append(filtered, id)
		}
	}
	channel.Participants = filtered
	return r.base.Save(ctx, channel)
}

// IsParticipant reports whether the agent belongs to the channel.
func (r *Repository) IsParticipant(ctx context.Context, channelID, agentID string) (bool, error) {
	channel, err := r.base.FindByID(ctx, channelID)
	if err != nil {
		return false, err
	}
	return channel.HasParticipant(agentID), nil
}

// UpdateLastActive stamps the channel's last activity time.
func (r *Repository) UpdateLastActive(ctx context.Context, channelID string) error {
	_, err := r.base.Update(ctx, channelID, map[string]interface{}{
		"lastActiveAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
	return err
}
