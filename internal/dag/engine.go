package dag

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/task/models"
	taskrepo "github.com/BradA1878/model-exchange-framework-sub007/internal/task/repository"
)

const (
	cacheTTL   = 5 * time.Minute
	cacheSweep = 10 * time.Minute
)

// ReadyOptions narrows getReadyTasks results.
type ReadyOptions struct {
	Limit           int
	ExcludeStatuses []models.TaskStatus
}

// OrderOptions narrows getExecutionOrder results. The zero value orders
// every task in the channel.
type OrderOptions struct {
	ExcludeCompleted bool
	ExcludeBlocked   bool
	Statuses         []models.TaskStatus
}

// Engine keeps a per-channel dependency graph in sync with the persisted
// task set. The cache is single-writer per channel: structural mutations
// and rebuilds are serialized through a per-channel mutex, while queries
// read the cached snapshot.
type Engine struct {
	tasks  *taskrepo.Repository
	cache  *gocache.Cache
	group  singleflight.Group
	logger *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a DAG engine over the task repository.
func NewEngine(tasks *taskrepo.Repository, log *logger.Logger) *Engine {
	return &Engine{
		tasks:  tasks,
		cache:  gocache.New(cacheTTL, cacheSweep),
		logger: log,
		locks:  make(map[string]*sync.Mutex),
	}
}

// channelLock returns the mutex serializing writers for one channel.
func (e *Engine) channelLock(channelID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[channelID] = lock
	}
	return lock
}

// BuildDagFromTasks loads all tasks for a channel and constructs the
// graph, rejecting it if a cycle is detected.
func (e *Engine) BuildDagFromTasks(ctx context.Context, channelID string) (*Graph, error) {
	lock := e.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()
	return e.rebuildLocked(ctx, channelID)
}

// rebuildLocked loads and caches a channel graph. Caller holds the
// channel lock.
func (e *Engine) rebuildLocked(ctx context.Context, channelID string) (*Graph, error) {
	tasks, err := e.tasks.FindByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	g := newGraph(channelID, tasks)
	if cyclic, path := g.hasCycle(); cyclic {
		e.logger.Warn("Channel task graph contains a cycle",
			zap.String("channel_id", channelID),
			zap.Strings("cycle", path))
		return nil, apperrors.CyclicDependency(path[0], path[len(path)-1])
	}

	e.cache.Set(channelID, g, gocache.DefaultExpiration)
	e.logger.Debug("Rebuilt channel DAG",
		zap.String("channel_id", channelID),
		zap.Int("nodes", len(g.Nodes)))
	return g, nil
}

// graph returns the cached graph for a channel, building it lazily.
// Concurrent cold reads for the same channel collapse into one rebuild.
func (e *Engine) graph(ctx context.Context, channelID string) (*Graph, error) {
	if cached, ok := e.cache.Get(channelID); ok {
		return cached.(*Graph), nil
	}
	result, err, _ := e.group.Do(channelID, func() (interface{}, error) {
		if cached, ok := e.cache.Get(channelID); ok {
			return cached.(*Graph), nil
		}
		return e.BuildDagFromTasks(ctx, channelID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Graph), nil
}

// ValidateDependency checks whether adding "dependent depends on
// dependency" keeps the channel graph acyclic.
func (e *Engine) ValidateDependency(ctx context.Context, channelID, dependent, dependency string) error {
	if dependent == dependency {
		return apperrors.CyclicDependency(dependent, dependency)
	}
	g, err := e.graph(ctx, channelID)
	if err != nil {
		return err
	}
	if _, ok := g.Nodes[dependency]; !ok {
		return apperrors.InvalidDependency("dependency task " + dependency + " does not exist in channel " + channelID)
	}
	// A path from the dependency back to the dependent through existing
	// dependsOn edges would close a loop with the proposed edge.
	if g.reachable(dependency, dependent) {
		return apperrors.CyclicDependency(dependent, dependency)
	}
	return nil
}

// ValidateDag runs a full validation pass over one channel.
func (e *Engine) ValidateDag(ctx context.Context, channelID string) (*ValidationResult, error) {
	tasks, err := e.tasks.FindByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	g := newGraph(channelID, tasks)

	result := &ValidationResult{IsValid: true, Errors: []string{}, Warnings: []string{}}
	if cyclic, path := g.hasCycle(); cyclic {
		result.IsValid = false
		result.Errors = append(result.Errors, "cycle detected: "+joinPath(path))
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := g.Nodes[dep]; !ok {
				result.Warnings = append(result.Warnings,
					"task "+t.ID+" depends on "+dep+" which is not in channel "+channelID)
			}
		}
	}
	if result.IsValid {
		result.Stats = g.stats()
	}
	return result, nil
}

// GetReadyTasks returns pending tasks whose dependencies are all completed.
func (e *Engine) GetReadyTasks(ctx context.Context, channelID string, opts ReadyOptions) ([]*models.Task, error) {
	g, err := e.graph(ctx, channelID)
	if err != nil {
		return nil, err
	}
	exclude := make(map[models.TaskStatus]bool, len(opts.ExcludeStatuses))
	for _, s := range opts.ExcludeStatuses {
		exclude[s] = true
	}
	ready := g.readyTasks(exclude)
	if opts.Limit > 0 && len(ready) > opts.Limit {
		ready = ready[:opts.Limit]
	}
	return ready, nil
}

// GetActionableTasks returns assigned tasks whose dependencies are all
// completed. This is the scheduler's view of the graph: assignment moves
// a task out of pending, so ready semantics alone would never surface it.
func (e *Engine) GetActionableTasks(ctx context.Context, channelID string) ([]*models.Task, error) {
	g, err := e.graph(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return g.actionableTasks(), nil
}

// GetBlockingTasks returns ids of incomplete dependencies of a task.
func (e *Engine) GetBlockingTasks(ctx context.Context, channelID, taskID string) ([]string, error) {
	g, err := e.graph(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if _, ok := g.Nodes[taskID]; !ok {
		return nil, apperrors.NotFound("task", taskID)
	}
	return g.blockingTasks(taskID), nil
}

// GetExecutionOrder returns a topological ordering of the channel's tasks.
// If a cycle prevents a complete ordering, the orderable prefix is returned
// and the anomaly is logged; ValidateDag reports the detail.
func (e *Engine) GetExecutionOrder(ctx context.Context, channelID string, opts OrderOptions) ([]*models.Task, error) {
	g, err := e.graph(ctx, channelID)
	if err != nil {
		return nil, err
	}

	statuses := make(map[models.TaskStatus]bool, len(opts.Statuses))
	for _, s := range opts.Statuses {
		statuses[s] = true
	}
	include := func(t *models.Task) bool {
		if len(statuses) > 0 {
			return statuses[t.Status]
		}
		if opts.ExcludeCompleted && t.Status == models.StatusCompleted {
			return false
		}
		if opts.ExcludeBlocked && t.Status == models.StatusPending && !g.isReady(t) {
			return false
		}
		return true
	}

	order, complete := g.executionOrder(include)
	if !complete {
		e.logger.Warn("Execution order incomplete due to cycle",
			zap.String("channel_id", channelID))
	}
	return order, nil
}

// GetParallelGroups returns the minimum topological levels of the graph.
func (e *Engine) GetParallelGroups(ctx context.Context, channelID string) ([][]*models.Task, error) {
	g, err := e.graph(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return g.parallelGroups(), nil
}

// GetCriticalPath returns the longest dependency chain in the channel.
func (e *Engine) GetCriticalPath(ctx context.Context, channelID string) ([]*models.Task, error) {
	g, err := e.graph(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return g.criticalPath(), nil
}

// GetStats returns the channel's graph summary.
func (e *Engine) GetStats(ctx context.Context, channelID string) (*Stats, error) {
	g, err := e.graph(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return g.stats(), nil
}

// OnTaskCreated invalidates the channel's cached graph.
func (e *Engine) OnTaskCreated(ctx context.Context, task *models.Task) {
	lock := e.channelLock(task.ChannelID)
	lock.Lock()
	defer lock.Unlock()
	e.cache.Delete(task.ChannelID)
}

// OnTaskDeleted invalidates the channel's cached graph.
func (e *Engine) OnTaskDeleted(ctx context.Context, task *models.Task) {
	lock := e.channelLock(task.ChannelID)
	lock.Lock()
	defer lock.Unlock()
	e.cache.Delete(task.ChannelID)
}

// OnTaskStatusChanged swaps the cached graph for a copy carrying the
// updated node. Snapshots already handed to readers stay untouched;
// readiness of out-neighbors is derived on query, so no recomputation
// is needed here.
func (e *Engine) OnTaskStatusChanged(ctx context.Context, task *models.Task) {
	lock := e.channelLock(task.ChannelID)
	lock.Lock()
	defer lock.Unlock()

	cached, ok := e.cache.Get(task.ChannelID)
	if !ok {
		return
	}
	g := cached.(*Graph)
	if _, ok := g.Nodes[task.ID]; !ok {
		// Unknown node means the cache is stale; rebuild on next query.
		e.cache.Delete(task.ChannelID)
		return
	}
	e.cache.Set(task.ChannelID, g.withUpdatedNode(task), gocache.DefaultExpiration)
}

func joinPath(path []string) string {
	out := ""
	for i, id := range path {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	return out
}
