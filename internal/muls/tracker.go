package muls

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/repository"
)

// QUpdate is one entry of a batch Q-value write.
type QUpdate struct {
	ID     string  `json:"id"`
	QValue float64 `json:"qValue"`
	Reason string  `json:"reason,omitempty"`
}

// Tracked combines the persistence contract with utility access.
type Tracked interface {
	repository.Record
	Bearer
}

// Tracker maintains utility bookkeeping for one bucket of records
// (entities, agent memory, channel memory, ...). Writes are serialized
// through a single mutex so two concurrent counter increments are both
// observed.
type Tracker[T Tracked] struct {
	repo   repository.Repository[T]
	logger *logger.Logger
	mu     sync.Mutex
}

// NewTracker creates a utility tracker over a record bucket.
func NewTracker[T Tracked](repo repository.Repository[T], log *logger.Logger) *Tracker[T] {
	return &Tracker[T]{repo: repo, logger: log}
}

// IncrementRetrievalCount bumps the retrieval counter and stamps access
// time for a batch of records. Missing ids are skipped, not failed: a
// retrieval batch routinely mixes live and merged-away records.
func (t *Tracker[T]) IncrementRetrievalCount(ctx context.Context, ids []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range ids {
		item, err := t.repo.FindByID(ctx, id)
		if err != nil {
			continue
		}
		u := item.UtilityRef()
		u.RetrievalCount++
		u.LastAccessedAt = &now
		if _, err := t.repo.Save(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// RecordOutcome bumps the success or failure counter for a batch.
func (t *Tracker[T]) RecordOutcome(ctx context.Context, ids []string, success bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		item, err := t.repo.FindByID(ctx, id)
		if err != nil {
			continue
		}
		u := item.UtilityRef()
		if success {
			u.SuccessCount++
		} else {
			u.FailureCount++
		}
		if _, err := t.repo.Save(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// UpdateQValue writes a new Q-value, clamped to [0,1]. The reason is
// free-form and only logged.
func (t *Tracker[T]) UpdateQValue(ctx context.Context, id string, newQ float64, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updateQLocked(ctx, QUpdate{ID: id, QValue: newQ, Reason: reason})
}

// BatchUpdateQValues applies a batch of Q-value writes in one pass.
func (t *Tracker[T]) BatchUpdateQValues(ctx context.Context, updates []QUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, update := range updates {
		if err := t.updateQLocked(ctx, update); err != nil {
			return err
		}
	}
	return nil
}

// ApplyOutcome runs the learning rule against the stored Q-value and
// records the outcome counters in the same write.
func (t *Tracker[T]) ApplyOutcome(ctx context.Context, ids []string, success bool, alpha float64) error {
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range ids {
		item, err := t.repo.FindByID(ctx, id)
		if err != nil {
			continue
		}
		u := item.UtilityRef()
		if success {
			u.SuccessCount++
		} else {
			u.FailureCount++
		}
		u.QValue = UpdateQ(u.QValue, success, alpha)
		u.LastQValueUpdateAt = &now
		if _, err := t.repo.Save(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker[T]) updateQLocked(ctx context.Context, update QUpdate) error {
	item, err := t.repo.FindByID(ctx, update.ID)
	if err != nil {
		return err
	}
	u := item.UtilityRef()
	old := u.QValue
	u.QValue = Clamp(update.QValue)
	now := time.Now().UTC()
	u.LastQValueUpdateAt = &now
	if _, err := t.repo.Save(ctx, item); err != nil {
		return err
	}

	t.logger.Debug("Q-value updated",
		zap.String("id", update.ID),
		zap.Float64("old", old),
		zap.Float64("new", u.QValue),
		zap.String("reason", update.Reason))
	return nil
}
