// Package knowledge implements the channel-scoped knowledge graph:
// entity deduplication and merge, similarity detection, path search, and
// bounded context extraction for prompting.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/config"
	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events/bus"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/knowledge/models"
	kgrepo "github.com/BradA1878/model-exchange-framework-sub007/internal/knowledge/repository"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/muls"
)

const (
	defaultMaxHops   = 5
	defaultPathLimit = 10
	relatedQFloor    = 0.6
)

// Engine is the knowledge graph service.
type Engine struct {
	repo     *kgrepo.Repository
	tracker  *muls.Tracker[*models.Entity]
	cfg      config.GraphConfig
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewEngine creates a knowledge graph engine.
func NewEngine(repo *kgrepo.Repository, tracker *muls.Tracker[*models.Entity], cfg config.GraphConfig, eventBus bus.EventBus, log *logger.Logger) *Engine {
	return &Engine{repo: repo, tracker: tracker, cfg: cfg, eventBus: eventBus, logger: log}
}

// Tracker exposes the entity utility tracker.
func (e *Engine) Tracker() *muls.Tracker[*models.Entity] { return e.tracker }

// GetEntity returns an entity by id.
func (e *Engine) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	return e.repo.FindEntity(ctx, id)
}

// GetRelationship returns a relationship by id.
func (e *Engine) GetRelationship(ctx context.Context, id string) (*models.Relationship, error) {
	return e.repo.FindRelationship(ctx, id)
}

// FindEntities returns a channel's non-merged entities.
func (e *Engine) FindEntities(ctx context.Context, channelID string) ([]*models.Entity, error) {
	return e.repo.EntitiesByChannel(ctx, channelID, false)
}

// GetEntitiesByQValue returns non-merged entities ordered by Q descending.
func (e *Engine) GetEntitiesByQValue(ctx context.Context, channelID string, min, max float64, limit int) ([]*models.Entity, error) {
	return e.repo.EntitiesByQValue(ctx, channelID, min, max, limit)
}

// FindOrCreateEntity matches case-insensitively on (channel, type, name)
// among non-merged entities. A match unions the new aliases in; otherwise
// a fresh entity is created.
func (e *Engine) FindOrCreateEntity(ctx context.Context, req models.EntityRequest) (*models.Entity, error) {
	if req.ChannelID == "" || req.Name == "" {
		return nil, apperrors.InvalidRequest("channelId and name are required")
	}
	if !req.Type.IsValid() {
		return nil, apperrors.InvalidRequest(fmt.Sprintf("unknown entity type %q", req.Type))
	}

	existing, err := e.repo.EntitiesByType(ctx, req.ChannelID, req.Type)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(req.Name))
	for _, candidate := range existing {
		if strings.ToLower(strings.TrimSpace(candidate.Name)) != needle {
			continue
		}
		changed := false
		for _, alias := range req.Aliases {
			if !candidate.HasAlias(alias) {
				candidate.Aliases = append(candidate.Aliases, alias)
				changed = true
			}
		}
		for _, memID := range req.SourceMemoryIDs {
			if !containsString(candidate.SourceMemoryIDs, memID) {
				candidate.SourceMemoryIDs = append(candidate.SourceMemoryIDs, memID)
				changed = true
			}
		}
		if !changed {
			return candidate, nil
		}
		return e.repo.SaveEntity(ctx, candidate)
	}

	confidence := req.Confidence
	if confidence <= 0 {
		confidence = 1
	}
	entity := &models.Entity{
		ChannelID:       req.ChannelID,
		Type:            req.Type,
		Name:            req.Name,
		Aliases:         req.Aliases,
		Description:     req.Description,
		Properties:      req.Properties,
		Utility:         muls.NewUtility(),
		Confidence:      confidence,
		Source:          req.Source,
		SourceMemoryIDs: req.SourceMemoryIDs,
	}
	created, err := e.repo.CreateEntity(ctx, entity)
	if err != nil {
		return nil, err
	}
	e.publish(events.EntityCreated, created.ChannelID, map[string]interface{}{
		"entityId": created.ID,
		"type":     string(created.Type),
		"name":     created.Name,
	})
	return created, nil
}

// CreateRelationship adds a directed edge after validating that both
// endpoints exist in the same channel and are not merged away.
func (e *Engine) CreateRelationship(ctx context.Context, req models.RelationshipRequest) (*models.Relationship, error) {
	if req.FromEntityID == "" || req.ToEntityID == "" || req.Type == "" {
		return nil, apperrors.InvalidRequest("fromEntityId, toEntityId, and type are required")
	}

	from, err := e.repo.FindEntity(ctx, req.FromEntityID)
	if err != nil {
		return nil, apperrors.InvalidRelationship("from entity " + req.FromEntityID + " does not exist")
	}
	to, err := e.repo.FindEntity(ctx, req.ToEntityID)
	if err != nil {
		return nil, apperrors.InvalidRelationship("to entity " + req.ToEntityID + " does not exist")
	}
	if from.ChannelID != to.ChannelID || (req.ChannelID != "" && from.ChannelID != req.ChannelID) {
		return nil, apperrors.InvalidRelationship("relationship endpoints must be in the same channel")
	}
	if from.Merged || to.Merged {
		return nil, apperrors.InvalidRelationship("relationship endpoints must not reference merged entities")
	}

	confidence := req.Confidence
	if confidence <= 0 {
		confidence = 1
	}
	rel := &models.Relationship{
		ChannelID:       from.ChannelID,
		FromEntityID:    req.FromEntityID,
		ToEntityID:      req.ToEntityID,
		Type:            req.Type,
		Label:           req.Label,
		Properties:      req.Properties,
		Confidence:      confidence,
		SurpriseScore:   req.SurpriseScore,
		Weight:          req.Weight,
		SourceMemoryIDs: req.SourceMemoryIDs,
	}
	return e.repo.CreateRelationship(ctx, rel)
}

// MergeEntities folds sources into the target: aliases and source memory
// ids are unioned, sources flip to merged, and every edge touching a
// source is rewritten to the target. The backing stores are per-record, so
// a mid-merge failure leaves a partial result the caller reconciles via a
// retry; each individual rewrite is atomic.
func (e *Engine) MergeEntities(ctx context.Context, targetID string, sourceIDs []string) (*models.Entity, error) {
	target, err := e.repo.FindEntity(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.Merged {
		return nil, apperrors.InvalidRequest("merge target " + targetID + " is itself merged")
	}

	for _, sourceID := range sourceIDs {
		if sourceID == targetID {
			return nil, apperrors.InvalidRequest("cannot merge an entity into itself")
		}
		source, err := e.repo.FindEntity(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		if source.ChannelID != target.ChannelID {
			return nil, apperrors.InvalidRequest("merge source " + sourceID + " is in a different channel")
		}

		if !target.HasAlias(source.Name) && !strings.EqualFold(target.Name, source.Name) {
			target.Aliases = append(target.Aliases, source.Name)
		}
		for _, alias := range source.Aliases {
			if !target.HasAlias(alias) && !strings.EqualFold(target.Name, alias) {
				target.Aliases = append(target.Aliases, alias)
			}
		}
		for _, memID := range source.SourceMemoryIDs {
			if !containsString(target.SourceMemoryIDs, memID) {
				target.SourceMemoryIDs = append(target.SourceMemoryIDs, memID)
			}
		}

		touching, err := e.repo.RelationshipsTouching(ctx, source.ChannelID, sourceID)
		if err != nil {
			return nil, err
		}
		for _, rel := range touching {
			if rel.FromEntityID == sourceID {
				rel.FromEntityID = targetID
			}
			if rel.ToEntityID == sourceID {
				rel.ToEntityID = targetID
			}
			if _, err := e.repo.SaveRelationship(ctx, rel); err != nil {
				return nil, err
			}
		}

		source.Merged = true
		source.MergedInto = targetID
		if _, err := e.repo.SaveEntity(ctx, source); err != nil {
			return nil, err
		}
	}

	merged, err := e.repo.SaveEntity(ctx, target)
	if err != nil {
		return nil, err
	}
	e.publish(events.EntitiesMerged, merged.ChannelID, map[string]interface{}{
		"targetId":  targetID,
		"sourceIds": sourceIDs,
	})
	e.logger.WithChannelID(merged.ChannelID).Info("Entities merged",
		zap.String("target_id", targetID),
		zap.Int("sources", len(sourceIDs)))
	return merged, nil
}

// FindSimilarEntities scores all same-type pairs of non-merged entities.
// Similarity is the max of name similarity (Levenshtein-based) and alias
// overlap (Jaccard); pairs at or above the threshold are returned.
func (e *Engine) FindSimilarEntities(ctx context.Context, channelID string, threshold float64) ([]models.SimilarPair, error) {
	if threshold <= 0 {
		threshold = e.cfg.SimilarityThreshold
	}
	entities, err := e.repo.EntitiesByChannel(ctx, channelID, false)
	if err != nil {
		return nil, err
	}

	byType := make(map[models.EntityType][]*models.Entity)
	for _, entity := range entities {
		byType[entity.Type] = append(byType[entity.Type], entity)
	}

	pairs := make([]models.SimilarPair, 0)
	for _, group := range byType {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				nameScore := nameSimilarity(a.Name, b.Name)
				aliasScore := aliasOverlap(a.Name, a.Aliases, b.Name, b.Aliases)

				score := nameScore
				reasons := []string{}
				if nameScore >= threshold {
					reasons = append(reasons, fmt.Sprintf("name similarity %.2f", nameScore))
				}
				if aliasScore > score {
					score = aliasScore
				}
				if aliasScore >= threshold {
					reasons = append(reasons, fmt.Sprintf("alias overlap %.2f", aliasScore))
				}
				if score >= threshold {
					pairs = append(pairs, models.SimilarPair{
						EntityA:    a,
						EntityB:    b,
						Similarity: score,
						Reasons:    reasons,
					})
				}
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Similarity > pairs[j].Similarity })
	return pairs, nil
}

// Query applies start filters to pick seed entities, then fetches
// relationships touching those seeds filtered by the relationship filters.
func (e *Engine) Query(ctx context.Context, channelID string, query models.GraphQuery) (*models.QueryResult, error) {
	started := time.Now()

	seeds, err := e.repo.QueryEntities(ctx, channelID, query.StartFilters, query.Limit)
	if err != nil {
		return nil, err
	}

	seedSet := make(map[string]bool, len(seeds))
	for _, entity := range seeds {
		seedSet[entity.ID] = true
	}

	all, err := e.repo.RelationshipsByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	rels := make([]*models.Relationship, 0)
	for _, rel := range all {
		if !seedSet[rel.FromEntityID] && !seedSet[rel.ToEntityID] {
			continue
		}
		if query.RelationshipFilters != nil && !query.RelationshipFilters.IsEmpty() {
			doc, err := relDocument(rel)
			if err != nil {
				return nil, err
			}
			if !query.RelationshipFilters.Matches(doc) {
				continue
			}
		}
		rels = append(rels, rel)
		if query.Limit > 0 && len(rels) >= query.Limit {
			break
		}
	}

	return &models.QueryResult{
		Entities:        seeds,
		Relationships:   rels,
		ExecutionTimeMs: time.Since(started).Milliseconds(),
	}, nil
}

// GetNeighbors returns one-hop neighbors of an entity by edge direction.
func (e *Engine) GetNeighbors(ctx context.Context, entityID string, opts models.NeighborOptions) ([]*models.Entity, error) {
	entity, err := e.repo.FindEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	direction := opts.Direction
	if direction == "" {
		direction = models.DirectionBoth
	}

	var edges []*models.Relationship
	switch direction {
	case models.DirectionOutgoing:
		edges, err = e.repo.RelationshipsFrom(ctx, entity.ChannelID, entityID)
	case models.DirectionIncoming:
		edges, err = e.repo.RelationshipsTo(ctx, entity.ChannelID, entityID)
	default:
		edges, err = e.repo.RelationshipsTouching(ctx, entity.ChannelID, entityID)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	neighbors := make([]*models.Entity, 0)
	for _, rel := range edges {
		if opts.RelationshipType != "" && rel.Type != opts.RelationshipType {
			continue
		}
		otherID := rel.ToEntityID
		if otherID == entityID {
			otherID = rel.FromEntityID
		}
		if otherID == entityID || seen[otherID] {
			continue
		}
		seen[otherID] = true

		neighbor, err := e.repo.FindEntity(ctx, otherID)
		if err != nil {
			continue
		}
		if neighbor.Merged {
			continue
		}
		if opts.EntityType != "" && neighbor.Type != opts.EntityType {
			continue
		}
		neighbors = append(neighbors, neighbor)
		if opts.Limit > 0 && len(neighbors) >= opts.Limit {
			break
		}
	}
	return neighbors, nil
}

// FindPath returns the shortest directed path between two entities, or
// NotFound when no walk exists within maxHops.
func (e *Engine) FindPath(ctx context.Context, fromID, toID string, maxHops int) (*models.Path, error) {
	paths, err := e.FindAllPaths(ctx, fromID, toID, maxHops, 1)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, apperrors.NotFound("path", fromID+"->"+toID)
	}
	return paths[0], nil
}

// FindAllPaths runs a breadth-first search over outgoing edges. Frontier
// entries accumulate confidence (product) and weight (sum); a visited map
// records the minimum path length per node and prunes longer candidates.
// Paths come back in ascending length order.
func (e *Engine) FindAllPaths(ctx context.Context, fromID, toID string, maxHops, limit int) ([]*models.Path, error) {
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}
	if limit <= 0 {
		limit = defaultPathLimit
	}

	from, err := e.repo.FindEntity(ctx, fromID)
	if err != nil {
		return nil, err
	}
	if _, err := e.repo.FindEntity(ctx, toID); err != nil {
		return nil, err
	}

	edges, err := e.repo.RelationshipsByChannel(ctx, from.ChannelID)
	if err != nil {
		return nil, err
	}
	outgoing := make(map[string][]*models.Relationship)
	for _, rel := range edges {
		outgoing[rel.FromEntityID] = append(outgoing[rel.FromEntityID], rel)
	}

	type frontierEntry struct {
		nodeID     string
		entityIDs  []string
		edges      []*models.Relationship
		confidence float64
		weight     float64
	}

	visited := map[string]int{fromID: 0}
	queue := []frontierEntry{{nodeID: fromID, entityIDs: []string{fromID}, confidence: 1}}
	found := make([]*models.Path, 0, limit)

	for len(queue) > 0 && len(found) < limit {
		entry := queue[0]
		queue = queue[1:]

		if len(entry.edges) >= maxHops {
			continue
		}
		for _, rel := range outgoing[entry.nodeID] {
			next := rel.ToEntityID
			nextLen := len(entry.edges) + 1
			if prev, seen := visited[next]; seen && nextLen > prev {
				continue
			}
			visited[next] = nextLen

			nextEntry := frontierEntry{
				nodeID:     next,
				entityIDs:  append(append([]string{}, entry.entityIDs...), next),
				edges:      append(append([]*models.Relationship{}, entry.edges...), rel),
				confidence: entry.confidence * rel.Confidence,
				weight:     entry.weight + rel.Weight,
			}
			if next == toID {
				found = append(found, &models.Path{
					EntityIDs:     nextEntry.entityIDs,
					Relationships: nextEntry.edges,
					Length:        len(nextEntry.edges),
					Confidence:    nextEntry.confidence,
					Weight:        nextEntry.weight,
				})
				if len(found) >= limit {
					break
				}
				continue
			}
			queue = append(queue, nextEntry)
		}
	}
	return found, nil
}

// GetSubgraph expands breadth-first around an entity up to the depth and
// entity cap, collecting the edges among the collected entities.
func (e *Engine) GetSubgraph(ctx context.Context, entityID string, depth, limit int) (*models.Subgraph, error) {
	if depth <= 0 {
		depth = 2
	}
	if limit <= 0 {
		limit = 50
	}

	center, err := e.repo.FindEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	edges, err := e.repo.RelationshipsByChannel(ctx, center.ChannelID)
	if err != nil {
		return nil, err
	}
	adjacency := make(map[string][]*models.Relationship)
	for _, rel := range edges {
		adjacency[rel.FromEntityID] = append(adjacency[rel.FromEntityID], rel)
		adjacency[rel.ToEntityID] = append(adjacency[rel.ToEntityID], rel)
	}

	collected := map[string]bool{entityID: true}
	order := []string{entityID}
	frontier := []string{entityID}
	for d := 0; d < depth && len(collected) < limit; d++ {
		next := make([]string, 0)
		for _, nodeID := range frontier {
			for _, rel := range adjacency[nodeID] {
				otherID := rel.ToEntityID
				if otherID == nodeID {
					otherID = rel.FromEntityID
				}
				if collected[otherID] {
					continue
				}
				collected[otherID] = true
				order = append(order, otherID)
				next = append(next, otherID)
				if len(collected) >= limit {
					break
				}
			}
			if len(collected) >= limit {
				break
			}
		}
		frontier = next
	}

	entities := make([]*models.Entity, 0, len(order))
	for _, id := range order {
		entity, err := e.repo.FindEntity(ctx, id)
		if err != nil {
			continue
		}
		entities = append(entities, entity)
	}

	inside := make([]*models.Relationship, 0)
	for _, rel := range edges {
		if collected[rel.FromEntityID] && collected[rel.ToEntityID] {
			inside = append(inside, rel)
		}
	}

	return &models.Subgraph{
		Center:        center,
		Entities:      entities,
		Relationships: inside,
		Depth:         depth,
	}, nil
}

// GetGraphContext assembles a bounded context bundle: keyword-matched
// central entities, high-utility related entities, and the relationships
// connecting the selected set.
func (e *Engine) GetGraphContext(ctx context.Context, channelID, taskID string, keywords []string) (*models.ContextBundle, error) {
	entities, err := e.repo.EntitiesByChannel(ctx, channelID, false)
	if err != nil {
		return nil, err
	}

	maxEntities := e.cfg.MaxContextEntities
	if maxEntities <= 0 {
		maxEntities = 20
	}
	maxRels := e.cfg.MaxContextRelationships
	if maxRels <= 0 {
		maxRels = 30
	}

	central := make([]*models.Entity, 0)
	if len(keywords) > 0 {
		for _, entity := range entities {
			if matchesKeywords(entity, keywords) {
				central = append(central, entity)
				if len(central) >= maxEntities {
					break
				}
			}
		}
	}

	related := make([]*models.Entity, 0)
	sorted := append([]*models.Entity{}, entities...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Utility.QValue > sorted[j].Utility.QValue })
	selected := make(map[string]bool, len(central))
	for _, entity := range central {
		selected[entity.ID] = true
	}
	for _, entity := range sorted {
		if entity.Utility.QValue < relatedQFloor {
			break
		}
		if selected[entity.ID] {
			continue
		}
		selected[entity.ID] = true
		related = append(related, entity)
		if len(related) >= maxEntities {
			break
		}
	}

	edges, err := e.repo.RelationshipsByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	inside := make([]*models.Relationship, 0)
	for _, rel := range edges {
		if selected[rel.FromEntityID] && selected[rel.ToEntityID] {
			inside = append(inside, rel)
			if len(inside) >= maxRels {
				break
			}
		}
	}

	bundle := &models.ContextBundle{
		ChannelID:       channelID,
		CentralEntities: central,
		RelatedEntities: related,
		Relationships:   inside,
	}
	bundle.Stats = contextStats(central, related, inside)

	// Touch retrieval bookkeeping for everything handed to the prompt.
	ids := make([]string, 0, len(selected))
	for id := range selected {
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		if err := e.tracker.IncrementRetrievalCount(ctx, ids); err != nil {
			e.logger.WithError(err).Warn("Failed to record context retrieval",
				zap.String("channel_id", channelID))
		}
	}
	return bundle, nil
}

func contextStats(central, related []*models.Entity, rels []*models.Relationship) models.ContextStats {
	stats := models.ContextStats{
		EntityCount:       len(central) + len(related),
		RelationshipCount: len(rels),
	}
	all := append(append([]*models.Entity{}, central...), related...)
	if len(all) > 0 {
		sum := 0.0
		for _, entity := range all {
			sum += entity.Utility.QValue
			if entity.Utility.QValue > stats.MaxQValue {
				stats.MaxQValue = entity.Utility.QValue
			}
		}
		stats.AvgQValue = sum / float64(len(all))
	}
	if len(rels) > 0 {
		sum := 0.0
		for _, rel := range rels {
			sum += rel.Confidence
		}
		stats.AvgConfidence = sum / float64(len(rels))
	}
	return stats
}

func matchesKeywords(entity *models.Entity, keywords []string) bool {
	name := strings.ToLower(entity.Name)
	for _, keyword := range keywords {
		needle := strings.ToLower(keyword)
		if needle == "" {
			continue
		}
		if strings.Contains(name, needle) {
			return true
		}
		for _, alias := range entity.Aliases {
			if strings.Contains(strings.ToLower(alias), needle) {
				return true
			}
		}
	}
	return false
}

func relDocument(rel *models.Relationship) (map[string]interface{}, error) {
	raw := map[string]interface{}{
		"id":            rel.ID,
		"channelId":     rel.ChannelID,
		"fromEntityId":  rel.FromEntityID,
		"toEntityId":    rel.ToEntityID,
		"type":          rel.Type,
		"label":         rel.Label,
		"confidence":    rel.Confidence,
		"surpriseScore": rel.SurpriseScore,
		"weight":        rel.Weight,
	}
	return raw, nil
}

func (e *Engine) publish(eventType, channelID string, data map[string]interface{}) {
	if e.eventBus == nil {
		return
	}
	event := bus.NewEvent(eventType, "knowledge-graph", data)
	subject := events.BuildChannelSubject(eventType, channelID)
	if err := e.eventBus.Publish(context.Background(), subject, event); err != nil {
		e.logger.WithError(err).Warn("Failed to publish graph event",
			zap.String("subject", subject))
	}
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
