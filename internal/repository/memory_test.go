package repository

import (
	"context"
	"fmt"
	"testing"

	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
)

type note struct {
	Meta
	Title string                 `json:"title"`
	Rank  int                    `json:"rank"`
	Tags  []string               `json:"tags,omitempty"`
	Extra map[string]interface{} `json:"extra,omitempty"`
}

func newNoteRepo() *MemoryRepository[*note] {
	return NewMemoryRepository("notes", func() *note { return &note{} })
}

func TestCreateAssignsIdentity(t *testing.T) {
	repo := newNoteRepo()
	ctx := context.Background()

	created, err := repo.Create(ctx, &note{Title: "first"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" {
		t.Error("expected a generated id")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be stamped")
	}

	if _, err := repo.Create(ctx, &note{Meta: Meta{ID: created.ID}}); !apperrors.IsConflict(err) {
		t.Errorf("duplicate id should be Conflict, got %v", err)
	}
}

func TestFindByID(t *testing.T) {
	repo := newNoteRepo()
	ctx := context.Background()

	created, err := repo.Create(ctx, &note{Title: "lookup"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	found, err := repo.FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found.Title != "lookup" {
		t.Errorf("got title %q, want %q", found.Title, "lookup")
	}

	if _, err := repo.FindByID(ctx, "nope"); !apperrors.IsNotFound(err) {
		t.Errorf("missing id should be NotFound, got %v", err)
	}
}

func TestStoredRecordsAreIsolated(t *testing.T) {
	repo := newNoteRepo()
	ctx := context.Background()

	created, err := repo.Create(ctx, &note{Title: "original", Tags: []string{"a"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Mutating the returned record must not touch the stored copy.
	created.Title = "mutated"
	created.Tags[0] = "z"

	found, err := repo.FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found.Title != "original" || found.Tags[0] != "a" {
		t.Errorf("stored record was mutated through a returned reference: %+v", found)
	}
}

func TestFindManyPagination(t *testing.T) {
	repo := newNoteRepo()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := repo.Create(ctx, &note{Title: fmt.Sprintf("n%d", i), Rank: i}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	page, err := repo.FindMany(ctx, nil, &Pagination{Limit: 2, SortBy: "rank", SortOrder: SortAsc})
	if err != nil {
		t.Fatalf("FindMany failed: %v", err)
	}
	if page.Total != 5 {
		t.Errorf("got total %d, want 5", page.Total)
	}
	if len(page.Items) != 2 || page.Items[0].Rank != 0 || page.Items[1].Rank != 1 {
		t.Errorf("unexpected first page: %+v", page.Items)
	}
	if !page.HasMore {
		t.Error("expected HasMore on first page")
	}
	if page.TotalPages != 3 {
		t.Errorf("got totalPages %d, want 3", page.TotalPages)
	}

	last, err := repo.FindMany(ctx, nil, &Pagination{Limit: 2, Offset: 4, SortBy: "rank", SortOrder: SortAsc})
	if err != nil {
		t.Fatalf("FindMany failed: %v", err)
	}
	if len(last.Items) != 1 || last.Items[0].Rank != 4 {
		t.Errorf("unexpected last page: %+v", last.Items)
	}
	if last.HasMore {
		t.Error("last page should not report HasMore")
	}
}

func TestFindManyDescendingSort(t *testing.T) {
	repo := newNoteRepo()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := repo.Create(ctx, &note{Title: fmt.Sprintf("n%d", i), Rank: i}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	page, err := repo.FindMany(ctx, nil, &Pagination{SortBy: "rank", SortOrder: SortDesc})
	if err != nil {
		t.Fatalf("FindMany failed: %v", err)
	}
	if page.Items[0].Rank != 2 || page.Items[2].Rank != 0 {
		t.Errorf("unexpected descending order: %+v", page.Items)
	}
}

func TestFindManyWithFilter(t *testing.T) {
	repo := newNoteRepo()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		n := &note{Title: fmt.Sprintf("n%d", i), Rank: i}
		if i%2 == 0 {
			n.Tags = []string{"even"}
		}
		if _, err := repo.Create(ctx, n); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	page, err := repo.FindMany(ctx, NewFilter(nil).WithArrayContains("tags", "even"), nil)
	if err != nil {
		t.Fatalf("FindMany failed: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("got total %d, want 2", page.Total)
	}

	if _, err := repo.FindMany(ctx, NewFilter(nil).WithComparison("rank", "bogus", 1), nil); !apperrors.IsKind(err, apperrors.KindInvalidRequest) {
		t.Errorf("invalid operator should be InvalidRequest, got %v", err)
	}
}

func TestFindOne(t *testing.T) {
	repo := newNoteRepo()
	ctx := context.Background()

	if _, err := repo.Create(ctx, &note{Title: "target", Rank: 9}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	found, err := repo.FindOne(ctx, NewFilter(map[string]interface{}{"rank": 9}))
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if found.Title != "target" {
		t.Errorf("got %q, want %q", found.Title, "target")
	}

	if _, err := repo.FindOne(ctx, NewFilter(map[string]interface{}{"rank": 99})); !apperrors.IsNotFound(err) {
		t.Errorf("no match should be NotFound, got %v", err)
	}
}

func TestUpdateMergesPatch(t *testing.T) {
	repo := newNoteRepo()
	ctx := context.Background()

	created, err := repo.Create(ctx, &note{
		Title: "before",
		Rank:  1,
		Extra: map[string]interface{}{"keep": "yes", "swap": "old"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := repo.Update(ctx, created.ID, map[string]interface{}{
		"title": "after",
		"extra": map[string]interface{}{"swap": "new"},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Title != "after" || updated.Rank != 1 {
		t.Errorf("patch should change title and keep rank: %+v", updated)
	}
	if updated.Extra["keep"] != "yes" || updated.Extra["swap"] != "new" {
		t.Errorf("nested maps should merge, got %v", updated.Extra)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Error("expected updatedAt to advance")
	}

	if _, err := repo.Update(ctx, "nope", map[string]interface{}{"title": "x"}); !apperrors.IsNotFound(err) {
		t.Errorf("update of missing record should be NotFound, got %v", err)
	}
}

func TestSavePreservesCreatedAt(t *testing.T) {
	repo := newNoteRepo()
	ctx := context.Background()

	created, err := repo.Create(ctx, &note{Title: "v1"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	created.Title = "v2"
	saved, err := repo.Save(ctx, created)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.Title != "v2" {
		t.Errorf("got %q, want %q", saved.Title, "v2")
	}
	if !saved.CreatedAt.Equal(created.CreatedAt) {
		t.Error("Save must not change createdAt")
	}

	if _, err := repo.Save(ctx, &note{Meta: Meta{ID: "nope"}}); !apperrors.IsNotFound(err) {
		t.Errorf("save of missing record should be NotFound, got %v", err)
	}
}

func TestDeleteCountExists(t *testing.T) {
	repo := newNoteRepo()
	ctx := context.Background()

	created, err := repo.Create(ctx, &note{Title: "gone"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	count, err := repo.Count(ctx, nil)
	if err != nil || count != 1 {
		t.Fatalf("Count = %d, %v; want 1, nil", count, err)
	}
	exists, err := repo.Exists(ctx, NewFilter(map[string]interface{}{"title": "gone"}))
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v; want true, nil", exists, err)
	}

	if err := repo.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := repo.Delete(ctx, created.ID); !apperrors.IsNotFound(err) {
		t.Errorf("second delete should be NotFound, got %v", err)
	}

	count, err = repo.Count(ctx, nil)
	if err != nil || count != 0 {
		t.Errorf("Count after delete = %d, %v; want 0, nil", count, err)
	}
}
