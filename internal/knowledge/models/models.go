// Package models defines knowledge graph domain models: entities and the
// directed relationships between them, both channel-scoped and carrying a
// utility record.
package models

import (
	"strings"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/muls"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

// EntityType classifies graph nodes.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityProject      EntityType = "project"
	EntitySystem       EntityType = "system"
	EntityTechnology   EntityType = "technology"
	EntityConcept      EntityType = "concept"
	EntityLocation     EntityType = "location"
	EntityDocument     EntityType = "document"
	EntityTask         EntityType = "task"
	EntityGoal         EntityType = "goal"
	EntityResource     EntityType = "resource"
	EntityCustom       EntityType = "custom"
)

// IsValid reports whether the type is a known value.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityPerson, EntityOrganization, EntityProject, EntitySystem,
		EntityTechnology, EntityConcept, EntityLocation, EntityDocument,
		EntityTask, EntityGoal, EntityResource, EntityCustom:
		return true
	}
	return false
}

// Entity is a knowledge graph node. Merge is a soft delete: sources flip
// merged=true with mergedInto pointing at the surviving entity.
type Entity struct {
	repository.Meta
	ChannelID       string                 `json:"channelId"`
	Type            EntityType             `json:"type"`
	Name            string                 `json:"name"`
	Aliases         []string               `json:"aliases,omitempty"`
	Description     string                 `json:"description,omitempty"`
	Properties      map[string]interface{} `json:"properties,omitempty"`
	Utility         muls.Utility           `json:"utility"`
	Confidence      float64                `json:"confidence"`
	Source          string                 `json:"source,omitempty"`
	SourceMemoryIDs []string               `json:"sourceMemoryIds,omitempty"`
	Merged          bool                   `json:"merged"`
	MergedInto      string                 `json:"mergedInto,omitempty"`
}

// UtilityRef exposes the utility block for the MULS tracker.
func (e *Entity) UtilityRef() *muls.Utility { return &e.Utility }

// HasAlias reports a case-insensitive alias match.
func (e *Entity) HasAlias(alias string) bool {
	needle := strings.ToLower(alias)
	for _, a := range e.Aliases {
		if strings.ToLower(a) == needle {
			return true
		}
	}
	return false
}

// Relationship is a directed, channel-scoped edge. SurpriseScore and
// Weight are caller-supplied; the engine stores them without an update
// policy of its own.
type Relationship struct {
	repository.Meta
	ChannelID       string                 `json:"channelId"`
	FromEntityID    string                 `json:"fromEntityId"`
	ToEntityID      string                 `json:"toEntityId"`
	Type            string                 `json:"type"`
	Label           string                 `json:"label,omitempty"`
	Properties      map[string]interface{} `json:"properties,omitempty"`
	Confidence      float64                `json:"confidence"`
	SurpriseScore   float64                `json:"surpriseScore,omitempty"`
	Weight          float64                `json:"weight"`
	SourceMemoryIDs []string               `json:"sourceMemoryIds,omitempty"`
}

// Touches reports whether the edge references the entity on either end.
func (r *Relationship) Touches(entityID string) bool {
	return r.FromEntityID == entityID || r.ToEntityID == entityID
}

// Direction selects edge orientation for neighbor queries.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// EntityRequest carries the fields for findOrCreateEntity.
type EntityRequest struct {
	ChannelID       string                 `json:"channelId"`
	Type            EntityType             `json:"type"`
	Name            string                 `json:"name"`
	Aliases         []string               `json:"aliases,omitempty"`
	Description     string                 `json:"description,omitempty"`
	Properties      map[string]interface{} `json:"properties,omitempty"`
	Confidence      float64                `json:"confidence,omitempty"`
	Source          string                 `json:"source,omitempty"`
	SourceMemoryIDs []string               `json:"sourceMemoryIds,omitempty"`
}

// RelationshipRequest carries the fields for edge creation.
type RelationshipRequest struct {
	ChannelID       string                 `json:"channelId"`
	FromEntityID    string                 `json:"fromEntityId"`
	ToEntityID      string                 `json:"toEntityId"`
	Type            string                 `json:"type"`
	Label           string                 `json:"label,omitempty"`
	Properties      map[string]interface{} `json:"properties,omitempty"`
	Confidence      float64                `json:"confidence,omitempty"`
	SurpriseScore   float64                `json:"surpriseScore,omitempty"`
	Weight          float64                `json:"weight,omitempty"`
	SourceMemoryIDs []string               `json:"sourceMemoryIds,omitempty"`
}

// SimilarPair is one candidate merge with its score and reasons.
type SimilarPair struct {
	EntityA    *Entity  `json:"entityA"`
	EntityB    *Entity  `json:"entityB"`
	Similarity float64  `json:"similarity"`
	Reasons    []string `json:"reasons"`
}

// GraphQuery selects seed entities and the relationships touching them.
type GraphQuery struct {
	StartFilters        *repository.Filter `json:"startFilters,omitempty"`
	RelationshipFilters *repository.Filter `json:"relationshipFilters,omitempty"`
	Limit               int                `json:"limit,omitempty"`
}

// QueryResult is the outcome of a graph query.
type QueryResult struct {
	Entities        []*Entity       `json:"entities"`
	Relationships   []*Relationship `json:"relationships"`
	ExecutionTimeMs int64           `json:"executionTimeMs"`
}

// NeighborOptions narrows one-hop neighbor queries.
type NeighborOptions struct {
	Direction        Direction  `json:"direction,omitempty"`
	RelationshipType string     `json:"relationshipType,omitempty"`
	EntityType       EntityType `json:"entityType,omitempty"`
	Limit            int        `json:"limit,omitempty"`
}

// Path is one directed walk through the graph. Confidence is the product
// of edge confidences; Weight is the sum of edge weights.
type Path struct {
	EntityIDs     []string        `json:"entityIds"`
	Relationships []*Relationship `json:"relationships"`
	Length        int             `json:"length"`
	Confidence    float64         `json:"confidence"`
	Weight        float64         `json:"weight"`
}

// Subgraph is a bounded expansion around one entity.
type Subgraph struct {
	Center        *Entity         `json:"center"`
	Entities      []*Entity       `json:"entities"`
	Relationships []*Relationship `json:"relationships"`
	Depth         int             `json:"depth"`
}

// ContextStats summarizes a context bundle.
type ContextStats struct {
	EntityCount       int     `json:"entityCount"`
	RelationshipCount int     `json:"relationshipCount"`
	AvgQValue         float64 `json:"avgQValue"`
	MaxQValue         float64 `json:"maxQValue"`
	AvgConfidence     float64 `json:"avgConfidence"`
}

// ContextBundle is a bounded selection of graph context for prompting.
type ContextBundle struct {
	ChannelID       string          `json:"channelId"`
	CentralEntities []*Entity       `json:"centralEntities"`
	RelatedEntities []*Entity       `json:"relatedEntities"`
	Relationships   []*Relationship `json:"relationships"`
	Stats           ContextStats    `json:"stats"`
}
