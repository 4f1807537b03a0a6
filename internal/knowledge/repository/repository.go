// Package repository provides knowledge graph persistence: entity and
// relationship stores over the generic repository port.
package repository

import (
	"context"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/knowledge/models"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

// Repository bundles the entity and relationship stores.
type Repository struct {
	entities      repository.Repository[*models.Entity]
	relationships repository.Repository[*models.Relationship]
}

// New creates a knowledge graph repository over generic backends.
func New(entities repository.Repository[*models.Entity], relationships repository.Repository[*models.Relationship]) *Repository {
	return &Repository{entities: entities, relationships: relationships}
}

// Entities exposes the generic entity port (used by the MULS tracker).
func (r *Repository) Entities() repository.Repository[*models.Entity] {
	return r.entities
}

// FindEntity returns the entity with the given id.
func (r *Repository) FindEntity(ctx context.Context, id string) (*models.Entity, error) {
	return r.entities.FindByID(ctx, id)
}

// CreateEntity persists a new entity.
func (r *Repository) CreateEntity(ctx context.Context, entity *models.Entity) (*models.Entity, error) {
	return r.entities.Create(ctx, entity)
}

// SaveEntity replaces an existing entity.
func (r *Repository) SaveEntity(ctx context.Context, entity *models.Entity) (*models.Entity, error) {
	return r.entities.Save(ctx, entity)
}

// EntitiesByChannel returns a channel's entities, excluding merged ones
// unless asked otherwise.
func (r *Repository) EntitiesByChannel(ctx context.Context, channelID string, includeMerged bool) ([]*models.Entity, error) {
	where := map[string]interface{}{"channelId": channelID}
	if !includeMerged {
		where["merged"] = false
	}
	return r.collectEntities(ctx, repository.NewFilter(where))
}

// EntitiesByType returns a channel's non-merged entities of one type.
func (r *Repository) EntitiesByType(ctx context.Context, channelID string, entityType models.EntityType) ([]*models.Entity, error) {
	return r.collectEntities(ctx, repository.NewFilter(map[string]interface{}{
		"channelId": channelID,
		"merged":    false,
		"type":      string(entityType),
	}))
}

// EntitiesByQValue returns non-merged entities ordered by Q-value
// descending, optionally bounded to [min, max].
func (r *Repository) EntitiesByQValue(ctx context.Context, channelID string, min, max float64, limit int) ([]*models.Entity, error) {
	filter := repository.NewFilter(map[string]interface{}{
		"channelId": channelID,
		"merged":    false,
	})
	if min > 0 {
		filter.WithComparison("utility.qValue", repository.OpGte, min)
	}
	if max > 0 {
		filter.WithComparison("utility.qValue", repository.OpLte, max)
	}
	if limit <= 0 {
		limit = repository.DefaultLimit
	}
	page, err := r.entities.FindMany(ctx, filter, &repository.Pagination{
		Limit:     limit,
		SortBy:    "utility.qValue",
		SortOrder: repository.SortDesc,
	})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// FindRelationship returns the relationship with the given id.
func (r *Repository) FindRelationship(ctx context.Context, id string) (*models.Relationship, error) {
	return r.relationships.FindByID(ctx, id)
}

// CreateRelationship persists a new relationship.
func (r *Repository) CreateRelationship(ctx context.Context, rel *models.Relationship) (*models.Relationship, error) {
	return r.relationships.Create(ctx, rel)
}

// SaveRelationship replaces an existing relationship.
func (r *Repository) SaveRelationship(ctx context.Context, rel *models.Relationship) (*models.Relationship, error) {
	return r.relationships.Save(ctx, rel)
}

// RelationshipsByChannel returns all edges in a channel.
func (r *Repository) RelationshipsByChannel(ctx context.Context, channelID string) ([]*models.Relationship, error) {
	return r.collectRelationships(ctx, repository.NewFilter(map[string]interface{}{"channelId": channelID}))
}

// RelationshipsTouching returns edges with the entity on either end.
func (r *Repository) RelationshipsTouching(ctx context.Context, channelID, entityID string) ([]*models.Relationship, error) {
	filter := &repository.Filter{
		Where: map[string]interface{}{"channelId": channelID},
		Or: []*repository.Filter{
			repository.NewFilter(map[string]interface{}{"fromEntityId": entityID}),
			repository.NewFilter(map[string]interface{}{"toEntityId": entityID}),
		},
	}
	return r.collectRelationships(ctx, filter)
}

// RelationshipsFrom returns outgoing edges of an entity.
func (r *Repository) RelationshipsFrom(ctx context.Context, channelID, entityID string) ([]*models.Relationship, error) {
	return r.collectRelationships(ctx, repository.NewFilter(map[string]interface{}{
		"channelId":    channelID,
		"fromEntityId": entityID,
	}))
}

// RelationshipsTo returns incoming edges of an entity.
func (r *Repository) RelationshipsTo(ctx context.Context, channelID, entityID string) ([]*models.Relationship, error) {
	return r.collectRelationships(ctx, repository.NewFilter(map[string]interface{}{
		"channelId":  channelID,
		"toEntityId": entityID,
	}))
}

// QueryEntities runs a raw filter against a channel's entities.
func (r *Repository) QueryEntities(ctx context.Context, channelID string, filter *repository.Filter, limit int) ([]*models.Entity, error) {
	scoped := &repository.Filter{
		Where: map[string]interface{}{"channelId": channelID},
	}
	if filter != nil && !filter.IsEmpty() {
		scoped.And = []*repository.Filter{filter}
	}
	if limit <= 0 {
		limit = repository.DefaultLimit
	}
	page, err := r.entities.FindMany(ctx, scoped, &repository.Pagination{
		Limit:     limit,
		SortBy:    "createdAt",
		SortOrder: repository.SortAsc,
	})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (r *Repository) collectEntities(ctx context.Context, filter *repository.Filter) ([]*models.Entity, error) {
	out := make([]*models.Entity, 0)
	offset := 0
	for {
		page, err := r.entities.FindMany(ctx, filter, &repository.Pagination{
			Limit:     500,
			Offset:    offset,
			SortBy:    "createdAt",
			SortOrder: repository.SortAsc,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if !page.HasMore {
			return out, nil
		}
		offset += len(page.Items)
	}
}

func (r *Repository) collectRelationships(ctx context.Context, filter *repository.Filter) ([]*models.Relationship, error) {
	out := make([]*models.Relationship, 0)
	offset := 0
	for {
		page, err := r.relationships.FindMany(ctx, filter, &repository.Pagination{
			Limit:     500,
			Offset:    offset,
			SortBy:    "createdAt",
			SortOrder: repository.SortAsc,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if !page.HasMore {
			return out, nil
		}
		offset += len(page.Items)
	}
}
