package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
)

// MemoryRepository is the in-memory adapter. Records are stored as deep
// copies alongside their JSON document form, which is what the filter
// predicate evaluates against. Safe for concurrent use.
type MemoryRepository[T Record] struct {
	name    string
	factory func() T
	mu      sync.RWMutex
	items   map[string]T
	docs    map[string]map[string]interface{}
}

// NewMemoryRepository creates an in-memory repository. The factory
// allocates a zero record for decoding (e.g. func() *Task { return &Task{} }).
func NewMemoryRepository[T Record](name string, factory func() T) *MemoryRepository[T] {
	return &MemoryRepository[T]{
		name:    name,
		factory: factory,
		items:   make(map[string]T),
		docs:    make(map[string]map[string]interface{}),
	}
}

// FindByID returns the record with the given id or NotFound.
func (r *MemoryRepository[T]) FindByID(ctx context.Context, id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	item, ok := r.items[id]
	if !ok {
		return zero, apperrors.NotFound(r.name, id)
	}
	return r.clone(item)
}

// FindOne returns the first matching record in the default order or NotFound.
func (r *MemoryRepository[T]) FindOne(ctx context.Context, filter *Filter) (T, error) {
	var zero T
	page, err := r.FindMany(ctx, filter, &Pagination{Limit: 1})
	if err != nil {
		return zero, err
	}
	if len(page.Items) == 0 {
		return zero, apperrors.NotFound(r.name, "")
	}
	return page.Items[0], nil
}

// FindMany returns one page of matching records.
func (r *MemoryRepository[T]) FindMany(ctx context.Context, filter *Filter, page *Pagination) (*Page[T], error) {
	if err := filter.Validate(); err != nil {
		return nil, apperrors.InvalidRequest(err.Error())
	}

	r.mu.RLock()
	matched := r.matchLocked(filter)
	p := page.normalized()
	r.sortLocked(matched, p)

	total := len(matched)
	start := p.Offset
	if start > total {
		start = total
	}
	end := start + p.Limit
	if end > total {
		end = total
	}
	window := matched[start:end]

	items := make([]T, 0, len(window))
	for _, id := range window {
		item, err := r.clone(r.items[id])
		if err != nil {
			r.mu.RUnlock()
			return nil, err
		}
		items = append(items, item)
	}
	r.mu.RUnlock()

	return newPage(items, total, p), nil
}

// Create persists a new record, assigning a uuid if the id is unset.
func (r *MemoryRepository[T]) Create(ctx context.Context, item T) (T, error) {
	var zero T
	if item.GetID() == "" {
		item.SetID(uuid.New().String())
	}
	item.StampCreated(time.Now().UTC())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[item.GetID()]; exists {
		return zero, apperrors.Conflict("record " + item.GetID() + " already exists in " + r.name)
	}
	return r.storeLocked(item)
}

// Save replaces an existing record wholesale.
func (r *MemoryRepository[T]) Save(ctx context.Context, item T) (T, error) {
	var zero T

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.items[item.GetID()]
	if !ok {
		return zero, apperrors.NotFound(r.name, item.GetID())
	}
	item.StampCreated(existing.GetCreatedAt())
	item.StampUpdated(time.Now().UTC())
	return r.storeLocked(item)
}

// Update applies a partial patch to the stored document and decodes the
// result back into the record type. Nested maps are merged one level deep.
func (r *MemoryRepository[T]) Update(ctx context.Context, id string, patch map[string]interface{}) (T, error) {
	var zero T

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok {
		return zero, apperrors.NotFound(r.name, id)
	}

	merged := mergePatch(doc, patch)
	merged["id"] = id
	merged["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)

	raw, err := json.Marshal(merged)
	if err != nil {
		return zero, apperrors.StorageFailure("encode patched record", err)
	}
	item := r.factory()
	if err := json.Unmarshal(raw, item); err != nil {
		return zero, apperrors.InvalidRequest("patch does not fit record shape: " + err.Error())
	}
	return r.storeLocked(item)
}

// Delete removes the record with the given id.
func (r *MemoryRepository[T]) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return apperrors.NotFound(r.name, id)
	}
	delete(r.items, id)
	delete(r.docs, id)
	return nil
}

// Count returns the number of matching records.
func (r *MemoryRepository[T]) Count(ctx context.Context, filter *Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, apperrors.InvalidRequest(err.Error())
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matchLocked(filter)), nil
}

// Exists reports whether any record matches the filter.
func (r *MemoryRepository[T]) Exists(ctx context.Context, filter *Filter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// storeLocked encodes and stores a record. Caller holds the write lock.
func (r *MemoryRepository[T]) storeLocked(item T) (T, error) {
	var zero T
	doc, err := toDocument(item)
	if err != nil {
		return zero, err
	}
	stored, err := r.clone(item)
	if err != nil {
		return zero, err
	}
	r.items[item.GetID()] = stored
	r.docs[item.GetID()] = doc
	return item, nil
}

// matchLocked returns the ids of records matching the filter.
func (r *MemoryRepository[T]) matchLocked(filter *Filter) []string {
	matched := make([]string, 0, len(r.docs))
	for id, doc := range r.docs {
		if filter.IsEmpty() || filter.Matches(doc) {
			matched = append(matched, id)
		}
	}
	return matched
}

// sortLocked orders ids by the pagination sort field, id as tie-break.
func (r *MemoryRepository[T]) sortLocked(ids []string, p Pagination) {
	sort.Slice(ids, func(i, j int) bool {
		a, aok := lookupField(r.docs[ids[i]], p.SortBy)
		b, bok := lookupField(r.docs[ids[j]], p.SortBy)

		var cmp int
		switch {
		case !aok && !bok:
			cmp = 0
		case !aok:
			cmp = -1
		case !bok:
			cmp = 1
		default:
			var comparable bool
			cmp, comparable = compareValues(a, b)
			if !comparable {
				cmp = strings.Compare(toSortKey(a), toSortKey(b))
			}
		}
		if cmp == 0 {
			return ids[i] < ids[j]
		}
		if p.SortOrder == SortDesc {
			return cmp > 0
		}
		return cmp < 0
	})
}

func (r *MemoryRepository[T]) clone(item T) (T, error) {
	var zero T
	raw, err := json.Marshal(item)
	if err != nil {
		return zero, apperrors.StorageFailure("encode record", err)
	}
	out := r.factory()
	if err := json.Unmarshal(raw, out); err != nil {
		return zero, apperrors.StorageFailure("decode record", err)
	}
	return out, nil
}

// toDocument converts a record to its JSON document form.
func toDocument(item interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, apperrors.StorageFailure("encode record", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.StorageFailure("decode record document", err)
	}
	return doc, nil
}

// mergePatch overlays patch onto doc without mutating either. Map values
// merge recursively; everything else replaces.
func mergePatch(doc, patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc)+len(patch))
	for k, v := range doc {
		out[k] = v
	}
	for k, v := range patch {
		if sub, ok := v.(map[string]interface{}); ok {
			if existing, ok := out[k].(map[string]interface{}); ok {
				out[k] = mergePatch(existing, sub)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// toSortKey renders an incomparable value deterministically.
func toSortKey(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
