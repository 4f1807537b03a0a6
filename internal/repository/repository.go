package repository

import (
	"context"
	"time"
)

// Record is implemented by every persisted model, usually by embedding Meta.
type Record interface {
	GetID() string
	SetID(id string)
	GetCreatedAt() time.Time
	StampCreated(t time.Time)
	StampUpdated(t time.Time)
}

// Meta carries the identity and timestamps shared by all persisted models.
// Embed it as the first field so adapters can manage ids uniformly.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m *Meta) GetID() string            { return m.ID }
func (m *Meta) SetID(id string)          { m.ID = id }
func (m *Meta) GetCreatedAt() time.Time  { return m.CreatedAt }
func (m *Meta) StampCreated(t time.Time) { m.CreatedAt = t; m.UpdatedAt = t }
func (m *Meta) StampUpdated(t time.Time) { m.UpdatedAt = t }

// Repository is the generic persistence port the core consumes. Adapters
// return typed errors (NotFound, StorageFailure, Conflict) and never leak
// backend-specific failures. Results are deterministically ordered by the
// requested sort field, falling back to createdAt descending.
type Repository[T Record] interface {
	// FindByID returns the record with the given id or NotFound.
	FindByID(ctx context.Context, id string) (T, error)

	// FindOne returns the first record matching the filter or NotFound.
	FindOne(ctx context.Context, filter *Filter) (T, error)

	// FindMany returns one page of records matching the filter.
	FindMany(ctx context.Context, filter *Filter, page *Pagination) (*Page[T], error)

	// Create persists a new record, assigning an id if unset.
	Create(ctx context.Context, item T) (T, error)

	// Save replaces an existing record wholesale.
	Save(ctx context.Context, item T) (T, error)

	// Update applies a partial JSON patch to the record with the given id.
	// Patch fields use the same dot-free top-level keys as the stored document.
	Update(ctx context.Context, id string, patch map[string]interface{}) (T, error)

	// Delete removes the record with the given id.
	Delete(ctx context.Context, id string) error

	// Count returns the number of records matching the filter.
	Count(ctx context.Context, filter *Filter) (int, error)

	// Exists reports whether any record matches the filter.
	Exists(ctx context.Context, filter *Filter) (bool, error)
}
