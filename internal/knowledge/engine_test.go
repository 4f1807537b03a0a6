package knowledge

import (
	"context"
	"testing"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/config"
	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/knowledge/models"
	kgrepo "github.com/BradA1878/model-exchange-framework-sub007/internal/knowledge/repository"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/muls"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

func newTestEngine(t *testing.T) (*Engine, *kgrepo.Repository) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	entities := repository.NewMemoryRepository("entities", func() *models.Entity { return &models.Entity{} })
	relationships := repository.NewMemoryRepository("relationships", func() *models.Relationship { return &models.Relationship{} })
	repo := kgrepo.New(entities, relationships)
	tracker := muls.NewTracker(repo.Entities(), log)
	cfg := config.GraphConfig{
		Enabled:                 true,
		MaxContextEntities:      20,
		MaxContextRelationships: 30,
		SimilarityThreshold:     0.8,
	}
	return NewEngine(repo, tracker, cfg, nil, log), repo
}

func createEntity(t *testing.T, engine *Engine, channelID, name string, entityType models.EntityType) *models.Entity {
	t.Helper()
	entity, err := engine.FindOrCreateEntity(context.Background(), models.EntityRequest{
		ChannelID: channelID,
		Type:      entityType,
		Name:      name,
	})
	if err != nil {
		t.Fatalf("failed to create entity %q: %v", name, err)
	}
	return entity
}

func link(t *testing.T, engine *Engine, from, to *models.Entity, relType string) *models.Relationship {
	t.Helper()
	rel, err := engine.CreateRelationship(context.Background(), models.RelationshipRequest{
		FromEntityID: from.ID,
		ToEntityID:   to.ID,
		Type:         relType,
	})
	if err != nil {
		t.Fatalf("failed to link %s -> %s: %v", from.Name, to.Name, err)
	}
	return rel
}

func TestFindOrCreateEntityValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.FindOrCreateEntity(ctx, models.EntityRequest{Type: models.EntitySystem, Name: "x"}); !apperrors.IsKind(err, apperrors.KindInvalidRequest) {
		t.Errorf("missing channelId should be InvalidRequest, got %v", err)
	}
	if _, err := engine.FindOrCreateEntity(ctx, models.EntityRequest{ChannelID: "ch-1", Type: "widget", Name: "x"}); !apperrors.IsKind(err, apperrors.KindInvalidRequest) {
		t.Errorf("unknown type should be InvalidRequest, got %v", err)
	}
}

func TestFindOrCreateEntityDeduplicates(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.FindOrCreateEntity(ctx, models.EntityRequest{
		ChannelID: "ch-1",
		Type:      models.EntitySystem,
		Name:      "Postgres",
		Aliases:   []string{"pg"},
	})
	if err != nil {
		t.Fatalf("FindOrCreateEntity failed: %v", err)
	}
	if first.Utility.QValue != muls.InitialQValue {
		t.Errorf("new entity should start at the neutral Q, got %v", first.Utility.QValue)
	}

	// Same name up to case and whitespace resolves to the same entity and
	// unions the aliases in.
	second, err := engine.FindOrCreateEntity(ctx, models.EntityRequest{
		ChannelID: "ch-1",
		Type:      models.EntitySystem,
		Name:      "  postgres ",
		Aliases:   []string{"pg", "postgresql"},
	})
	if err != nil {
		t.Fatalf("FindOrCreateEntity failed: %v", err)
	}
	if second.ID != first.ID {
		t.Error("case-insensitive name match should return the existing entity")
	}
	if len(second.Aliases) != 2 || !second.HasAlias("postgresql") {
		t.Errorf("aliases should union, got %v", second.Aliases)
	}

	// A different type is a different entity.
	other, err := engine.FindOrCreateEntity(ctx, models.EntityRequest{
		ChannelID: "ch-1",
		Type:      models.EntityConcept,
		Name:      "Postgres",
	})
	if err != nil {
		t.Fatalf("FindOrCreateEntity failed: %v", err)
	}
	if other.ID == first.ID {
		t.Error("type is part of the identity key")
	}
}

func TestCreateRelationshipValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	a := createEntity(t, engine, "ch-1", "a", models.EntitySystem)
	b := createEntity(t, engine, "ch-2", "b", models.EntitySystem)

	if _, err := engine.CreateRelationship(ctx, models.RelationshipRequest{FromEntityID: a.ID, ToEntityID: "ghost", Type: "uses"}); !apperrors.IsKind(err, apperrors.KindInvalidRelationship) {
		t.Errorf("missing endpoint should be InvalidRelationship, got %v", err)
	}
	if _, err := engine.CreateRelationship(ctx, models.RelationshipRequest{FromEntityID: a.ID, ToEntityID: b.ID, Type: "uses"}); !apperrors.IsKind(err, apperrors.KindInvalidRelationship) {
		t.Errorf("cross-channel edge should be InvalidRelationship, got %v", err)
	}
	if _, err := engine.CreateRelationship(ctx, models.RelationshipRequest{FromEntityID: a.ID, ToEntityID: b.ID}); !apperrors.IsKind(err, apperrors.KindInvalidRequest) {
		t.Errorf("missing type should be InvalidRequest, got %v", err)
	}

	c := createEntity(t, engine, "ch-1", "c", models.EntitySystem)
	rel, err := engine.CreateRelationship(ctx, models.RelationshipRequest{FromEntityID: a.ID, ToEntityID: c.ID, Type: "uses"})
	if err != nil {
		t.Fatalf("CreateRelationship failed: %v", err)
	}
	if rel.ChannelID != "ch-1" || rel.Confidence != 1 {
		t.Errorf("edge should inherit the channel and default confidence: %+v", rel)
	}
}

func TestMergeEntities(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()

	target := createEntity(t, engine, "ch-1", "PostgreSQL", models.EntitySystem)
	source := createEntity(t, engine, "ch-1", "Postgres", models.EntitySystem)
	other := createEntity(t, engine, "ch-1", "api-server", models.EntitySystem)

	in := link(t, engine, other, source, "uses")
	out := link(t, engine, source, other, "feeds")

	merged, err := engine.MergeEntities(ctx, target.ID, []string{source.ID})
	if err != nil {
		t.Fatalf("MergeEntities failed: %v", err)
	}
	if !merged.HasAlias("Postgres") {
		t.Errorf("source name should become an alias, got %v", merged.Aliases)
	}

	gone, err := repo.FindEntity(ctx, source.ID)
	if err != nil {
		t.Fatalf("FindEntity failed: %v", err)
	}
	if !gone.Merged || gone.MergedInto != target.ID {
		t.Errorf("source should be soft-deleted into the target: %+v", gone)
	}

	rewrittenIn, err := repo.FindRelationship(ctx, in.ID)
	if err != nil {
		t.Fatalf("FindRelationship failed: %v", err)
	}
	if rewrittenIn.ToEntityID != target.ID {
		t.Errorf("incoming edge should point at the target, got %s", rewrittenIn.ToEntityID)
	}
	rewrittenOut, err := repo.FindRelationship(ctx, out.ID)
	if err != nil {
		t.Fatalf("FindRelationship failed: %v", err)
	}
	if rewrittenOut.FromEntityID != target.ID {
		t.Errorf("outgoing edge should start at the target, got %s", rewrittenOut.FromEntityID)
	}

	// Merged sources no longer appear in channel listings.
	remaining, err := engine.FindEntities(ctx, "ch-1")
	if err != nil {
		t.Fatalf("FindEntities failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("got %d live entities, want 2", len(remaining))
	}

	if _, err := engine.MergeEntities(ctx, target.ID, []string{target.ID}); !apperrors.IsKind(err, apperrors.KindInvalidRequest) {
		t.Errorf("self merge should be InvalidRequest, got %v", err)
	}
	if _, err := engine.MergeEntities(ctx, source.ID, []string{other.ID}); !apperrors.IsKind(err, apperrors.KindInvalidRequest) {
		t.Errorf("merged target should be InvalidRequest, got %v", err)
	}
}

func TestFindSimilarEntities(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	createEntity(t, engine, "ch-1", "database", models.EntitySystem)
	createEntity(t, engine, "ch-1", "databases", models.EntitySystem)
	createEntity(t, engine, "ch-1", "kafka", models.EntitySystem)
	// Same name, different type: never compared.
	createEntity(t, engine, "ch-1", "database", models.EntityConcept)

	pairs, err := engine.FindSimilarEntities(ctx, "ch-1", 0)
	if err != nil {
		t.Fatalf("FindSimilarEntities failed: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1: %+v", len(pairs), pairs)
	}
	if pairs[0].Similarity < 0.8 {
		t.Errorf("pair should score at or above the threshold, got %v", pairs[0].Similarity)
	}
	if len(pairs[0].Reasons) == 0 {
		t.Error("a reported pair should carry reasons")
	}
}

func TestFindPath(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	a := createEntity(t, engine, "ch-1", "a", models.EntitySystem)
	b := createEntity(t, engine, "ch-1", "b", models.EntitySystem)
	c := createEntity(t, engine, "ch-1", "c", models.EntitySystem)
	d := createEntity(t, engine, "ch-1", "d", models.EntitySystem)
	link(t, engine, a, b, "uses")
	link(t, engine, a, c, "uses")
	link(t, engine, b, d, "uses")
	link(t, engine, c, d, "uses")

	path, err := engine.FindPath(ctx, a.ID, d.ID, 0)
	if err != nil {
		t.Fatalf("FindPath failed: %v", err)
	}
	if path.Length != 2 || len(path.EntityIDs) != 3 {
		t.Errorf("got path length %d over %d nodes, want 2 over 3", path.Length, len(path.EntityIDs))
	}
	if path.EntityIDs[0] != a.ID || path.EntityIDs[2] != d.ID {
		t.Errorf("path endpoints wrong: %v", path.EntityIDs)
	}
	if path.Confidence != 1 {
		t.Errorf("confidence should be the product of edge confidences, got %v", path.Confidence)
	}

	paths, err := engine.FindAllPaths(ctx, a.ID, d.ID, 0, 0)
	if err != nil {
		t.Fatalf("FindAllPaths failed: %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("got %d paths, want both two-hop walks", len(paths))
	}

	// Edges are directed: no walk from d back to a.
	if _, err := engine.FindPath(ctx, d.ID, a.ID, 0); !apperrors.IsNotFound(err) {
		t.Errorf("missing walk should be NotFound, got %v", err)
	}
}

func TestGetNeighbors(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	hub := createEntity(t, engine, "ch-1", "hub", models.EntitySystem)
	up := createEntity(t, engine, "ch-1", "up", models.EntitySystem)
	down := createEntity(t, engine, "ch-1", "down", models.EntityConcept)
	link(t, engine, up, hub, "feeds")
	link(t, engine, hub, down, "feeds")

	both, err := engine.GetNeighbors(ctx, hub.ID, models.NeighborOptions{})
	if err != nil {
		t.Fatalf("GetNeighbors failed: %v", err)
	}
	if len(both) != 2 {
		t.Errorf("got %d neighbors, want 2", len(both))
	}

	outgoing, err := engine.GetNeighbors(ctx, hub.ID, models.NeighborOptions{Direction: models.DirectionOutgoing})
	if err != nil {
		t.Fatalf("GetNeighbors failed: %v", err)
	}
	if len(outgoing) != 1 || outgoing[0].ID != down.ID {
		t.Errorf("outgoing should only reach down, got %d", len(outgoing))
	}

	incoming, err := engine.GetNeighbors(ctx, hub.ID, models.NeighborOptions{Direction: models.DirectionIncoming})
	if err != nil {
		t.Fatalf("GetNeighbors failed: %v", err)
	}
	if len(incoming) != 1 || incoming[0].ID != up.ID {
		t.Errorf("incoming should only reach up, got %d", len(incoming))
	}

	typed, err := engine.GetNeighbors(ctx, hub.ID, models.NeighborOptions{EntityType: models.EntityConcept})
	if err != nil {
		t.Fatalf("GetNeighbors failed: %v", err)
	}
	if len(typed) != 1 || typed[0].ID != down.ID {
		t.Errorf("entity type filter should only keep down, got %d", len(typed))
	}
}

func TestGetGraphContext(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()

	central := createEntity(t, engine, "ch-1", "payment-service", models.EntitySystem)
	strong := createEntity(t, engine, "ch-1", "stripe", models.EntityTechnology)
	weak := createEntity(t, engine, "ch-1", "legacy-notes", models.EntityDocument)
	link(t, engine, central, strong, "uses")
	link(t, engine, central, weak, "mentions")

	// Push one entity above the related floor and one below it.
	if err := engine.Tracker().UpdateQValue(ctx, strong.ID, 0.9, "test"); err != nil {
		t.Fatalf("UpdateQValue failed: %v", err)
	}
	if err := engine.Tracker().UpdateQValue(ctx, weak.ID, 0.2, "test"); err != nil {
		t.Fatalf("UpdateQValue failed: %v", err)
	}

	bundle, err := engine.GetGraphContext(ctx, "ch-1", "", []string{"payment"})
	if err != nil {
		t.Fatalf("GetGraphContext failed: %v", err)
	}
	if len(bundle.CentralEntities) != 1 || bundle.CentralEntities[0].ID != central.ID {
		t.Fatalf("keyword should select the payment service, got %d central", len(bundle.CentralEntities))
	}
	for _, entity := range bundle.RelatedEntities {
		if entity.Utility.QValue < 0.6 {
			t.Errorf("related entities must sit at or above the Q floor, got %v for %s",
				entity.Utility.QValue, entity.Name)
		}
		if entity.ID == weak.ID {
			t.Error("low-utility entity should be excluded")
		}
	}
	if len(bundle.Relationships) != 1 {
		t.Errorf("only edges between selected entities belong in the bundle, got %d", len(bundle.Relationships))
	}
	if bundle.Stats.EntityCount != len(bundle.CentralEntities)+len(bundle.RelatedEntities) {
		t.Errorf("stats entity count mismatch: %+v", bundle.Stats)
	}

	// Selection counts as a retrieval.
	reloaded, err := repo.FindEntity(ctx, central.ID)
	if err != nil {
		t.Fatalf("FindEntity failed: %v", err)
	}
	if reloaded.Utility.RetrievalCount != 1 {
		t.Errorf("context selection should bump retrievalCount, got %d", reloaded.Utility.RetrievalCount)
	}

	// A second assembly strictly increases the counter.
	if _, err := engine.GetGraphContext(ctx, "ch-1", "", []string{"payment"}); err != nil {
		t.Fatalf("GetGraphContext failed: %v", err)
	}
	again, err := repo.FindEntity(ctx, central.ID)
	if err != nil {
		t.Fatalf("FindEntity failed: %v", err)
	}
	if again.Utility.RetrievalCount != 2 {
		t.Errorf("retrievalCount should strictly increase, got %d", again.Utility.RetrievalCount)
	}
}

func TestGetEntitiesByQValue(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	low := createEntity(t, engine, "ch-1", "low", models.EntitySystem)
	high := createEntity(t, engine, "ch-1", "high", models.EntitySystem)
	if err := engine.Tracker().UpdateQValue(ctx, low.ID, 0.3, "test"); err != nil {
		t.Fatalf("UpdateQValue failed: %v", err)
	}
	if err := engine.Tracker().UpdateQValue(ctx, high.ID, 0.9, "test"); err != nil {
		t.Fatalf("UpdateQValue failed: %v", err)
	}

	out, err := engine.GetEntitiesByQValue(ctx, "ch-1", 0.5, 0, 10)
	if err != nil {
		t.Fatalf("GetEntitiesByQValue failed: %v", err)
	}
	if len(out) != 1 || out[0].ID != high.ID {
		t.Errorf("only the high-Q entity should pass the floor, got %d", len(out))
	}
}

func TestGetSubgraph(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	a := createEntity(t, engine, "ch-1", "a", models.EntitySystem)
	b := createEntity(t, engine, "ch-1", "b", models.EntitySystem)
	c := createEntity(t, engine, "ch-1", "c", models.EntitySystem)
	link(t, engine, a, b, "uses")
	link(t, engine, b, c, "uses")

	sub, err := engine.GetSubgraph(ctx, a.ID, 1, 0)
	if err != nil {
		t.Fatalf("GetSubgraph failed: %v", err)
	}
	if sub.Center.ID != a.ID {
		t.Errorf("center should be the requested entity")
	}
	if len(sub.Entities) != 2 {
		t.Errorf("depth 1 should collect a and b, got %d", len(sub.Entities))
	}
	if len(sub.Relationships) != 1 {
		t.Errorf("only the a-b edge is inside the subgraph, got %d", len(sub.Relationships))
	}

	deep, err := engine.GetSubgraph(ctx, a.ID, 2, 0)
	if err != nil {
		t.Fatalf("GetSubgraph failed: %v", err)
	}
	if len(deep.Entities) != 3 || len(deep.Relationships) != 2 {
		t.Errorf("depth 2 should cover the chain, got %d entities / %d edges",
			len(deep.Entities), len(deep.Relationships))
	}
}
