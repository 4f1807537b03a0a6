// Package dag maintains the per-channel task dependency graph and answers
// readiness, ordering, and criticality queries. Edges follow the "v depends
// on u" convention: the topological edge runs u -> v, so dependencies sort
// before their dependents.
package dag

import (
	"sort"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/task/models"
)

// Graph is one channel's dependency DAG. It is a snapshot structure: the
// engine owns mutation and hands out consistent copies under its lock.
type Graph struct {
	ChannelID string
	// Nodes indexes tasks by id.
	Nodes map[string]*models.Task
	// Dependents maps u -> tasks that depend on u (topological out-edges).
	Dependents map[string][]string
	// Dependencies maps v -> tasks v depends on, restricted to known nodes.
	Dependencies map[string][]string
}

// Stats summarizes one channel's graph.
type Stats struct {
	NodeCount          int     `json:"nodeCount"`
	EdgeCount          int     `json:"edgeCount"`
	RootCount          int     `json:"rootCount"`
	LeafCount          int     `json:"leafCount"`
	MaxDepth           int     `json:"maxDepth"`
	AverageInDegree    float64 `json:"averageInDegree"`
	AverageOutDegree   float64 `json:"averageOutDegree"`
	ReadyTaskCount     int     `json:"readyTaskCount"`
	BlockedTaskCount   int     `json:"blockedTaskCount"`
	CompletedTaskCount int     `json:"completedTaskCount"`
}

// ValidationResult is the outcome of a full graph validation pass.
type ValidationResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Stats    *Stats   `json:"stats"`
}

// newGraph constructs a graph from a task set, dropping edges that point
// outside the channel's task set.
func newGraph(channelID string, tasks []*models.Task) *Graph {
	g := &Graph{
		ChannelID:    channelID,
		Nodes:        make(map[string]*models.Task, len(tasks)),
		Dependents:   make(map[string][]string),
		Dependencies: make(map[string][]string),
	}
	for _, t := range tasks {
		g.Nodes[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := g.Nodes[dep]; !ok {
				continue
			}
			g.Dependencies[t.ID] = append(g.Dependencies[t.ID], dep)
			g.Dependents[dep] = append(g.Dependents[dep], t.ID)
		}
	}
	return g
}

// withUpdatedNode returns a graph sharing this graph's edge maps but
// with a fresh node map holding a copy of the replacement task. The
// receiver is never mutated, so snapshots handed to readers stay
// consistent.
func (g *Graph) withUpdatedNode(task *models.Task) *Graph {
	nodes := make(map[string]*models.Task, len(g.Nodes))
	for id, t := range g.Nodes {
		nodes[id] = t
	}
	node := *task
	nodes[task.ID] = &node
	return &Graph{
		ChannelID:    g.ChannelID,
		Nodes:        nodes,
		Dependents:   g.Dependents,
		Dependencies: g.Dependencies,
	}
}

// hasCycle runs a depth-first search over dependency edges.
func (g *Graph) hasCycle() (bool, []string) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.Nodes))
	var cyclePath []string

	var visit func(id string, path []string) bool
	visit = func(id string, path []string) bool {
		state[id] = visiting
		path = append(path, id)
		for _, dep := range g.Dependencies[id] {
			switch state[dep] {
			case visiting:
				cyclePath = append(append([]string{}, path...), dep)
				return true
			case unvisited:
				if visit(dep, path) {
					return true
				}
			}
		}
		state[id] = done
		return false
	}

	for _, id := range g.sortedIDs() {
		if state[id] == unvisited {
			if visit(id, nil) {
				return true, cyclePath
			}
		}
	}
	return false, nil
}

// reachable reports whether `to` can be reached from `from` following
// dependency edges (from's transitive dependencies).
func (g *Graph) reachable(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range g.Dependencies[id] {
			if dep == to {
				return true
			}
			if !seen[dep] {
				seen[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return false
}

// depsCompleted reports whether every dependency of the task is completed.
func (g *Graph) depsCompleted(id string) bool {
	for _, dep := range g.Dependencies[id] {
		if node, ok := g.Nodes[dep]; !ok || node.Status != models.StatusCompleted {
			return false
		}
	}
	return true
}

// isReady reports whether a task is pending with all dependencies completed.
func (g *Graph) isReady(t *models.Task) bool {
	return t.Status == models.StatusPending && g.depsCompleted(t.ID)
}

// readyTasks returns ready tasks ordered by priority desc, createdAt asc,
// id as the final tie-break.
func (g *Graph) readyTasks(excludeStatuses map[models.TaskStatus]bool) []*models.Task {
	out := make([]*models.Task, 0)
	for _, t := range g.Nodes {
		if excludeStatuses[t.Status] {
			continue
		}
		if g.isReady(t) {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out
}

// actionableTasks returns assigned tasks whose dependencies are all
// completed, in the same order as readyTasks.
func (g *Graph) actionableTasks() []*models.Task {
	out := make([]*models.Task, 0)
	for _, t := range g.Nodes {
		if t.Status == models.StatusAssigned && g.depsCompleted(t.ID) {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out
}

// blockingTasks returns ids of incomplete dependencies of the given task.
func (g *Graph) blockingTasks(taskID string) []string {
	blocked := make([]string, 0)
	for _, dep := range g.Dependencies[taskID] {
		if node, ok := g.Nodes[dep]; ok && node.Status != models.StatusCompleted {
			blocked = append(blocked, dep)
		}
	}
	sort.Strings(blocked)
	return blocked
}

// executionOrder runs Kahn's algorithm over topological edges. Ties are
// broken by priority desc then createdAt asc. When a cycle prevents a full
// ordering the returned list holds only the orderable prefix.
func (g *Graph) executionOrder(include func(*models.Task) bool) ([]*models.Task, bool) {
	indegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		indegree[id] = len(g.Dependencies[id])
	}

	frontier := make([]*models.Task, 0)
	for id, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, g.Nodes[id])
		}
	}

	order := make([]*models.Task, 0, len(g.Nodes))
	processed := 0
	for len(frontier) > 0 {
		sortTasks(frontier)
		next := frontier[0]
		frontier = frontier[1:]
		processed++

		if include == nil || include(next) {
			order = append(order, next)
		}
		for _, dependent := range g.Dependents[next.ID] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				frontier = append(frontier, g.Nodes[dependent])
			}
		}
	}

	return order, processed == len(g.Nodes)
}

// parallelGroups partitions nodes into minimum topological levels:
// level(v) = 1 + max(level(u)) over dependencies u. All tasks within a
// level may run in parallel.
func (g *Graph) parallelGroups() [][]*models.Task {
	order, complete := g.executionOrder(nil)
	if !complete {
		return nil
	}

	level := make(map[string]int, len(g.Nodes))
	maxLevel := 0
	for _, t := range order {
		l := 0
		for _, dep := range g.Dependencies[t.ID] {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[t.ID] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	groups := make([][]*models.Task, maxLevel+1)
	for _, t := range order {
		l := level[t.ID]
		groups[l] = append(groups[l], t)
	}
	for _, group := range groups {
		sortTasks(group)
	}
	return groups
}

// criticalPath returns the longest dependency chain. Length is measured by
// node count, weighted by estimated duration when every node carries one.
// Deterministic tie-break by priority desc then createdAt asc.
func (g *Graph) criticalPath() []*models.Task {
	order, complete := g.executionOrder(nil)
	if !complete {
		return nil
	}

	weighted := len(order) > 0
	for _, t := range order {
		if t.EstimatedMs <= 0 {
			weighted = false
			break
		}
	}

	weightOf := func(t *models.Task) int64 {
		if weighted {
			return t.EstimatedMs
		}
		return 1
	}

	best := make(map[string]int64, len(order))
	prev := make(map[string]string, len(order))
	var endID string
	var endScore int64 = -1

	for _, t := range order {
		score := weightOf(t)
		var from string
		for _, dep := range g.Dependencies[t.ID] {
			candidate := best[dep] + weightOf(t)
			if candidate > score || (candidate == score && from != "" && taskLess(g.Nodes[dep], g.Nodes[from])) {
				score = candidate
				from = dep
			}
		}
		best[t.ID] = score
		if from != "" {
			prev[t.ID] = from
		}
		if score > endScore || (score == endScore && endID != "" && taskLess(t, g.Nodes[endID])) {
			endScore = score
			endID = t.ID
		}
	}

	if endID == "" {
		return []*models.Task{}
	}
	path := make([]*models.Task, 0)
	for id := endID; id != ""; id = prev[id] {
		path = append(path, g.Nodes[id])
		if _, ok := prev[id]; !ok {
			break
		}
	}
	// Reverse so the path runs root to leaf.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// stats computes the graph summary.
func (g *Graph) stats() *Stats {
	s := &Stats{NodeCount: len(g.Nodes)}
	for _, deps := range g.Dependencies {
		s.EdgeCount += len(deps)
	}
	depth := g.maxDepth()
	s.MaxDepth = depth

	for id, t := range g.Nodes {
		if len(g.Dependencies[id]) == 0 {
			s.RootCount++
		}
		if len(g.Dependents[id]) == 0 {
			s.LeafCount++
		}
		switch {
		case t.Status == models.StatusCompleted:
			s.CompletedTaskCount++
		case g.isReady(t):
			s.ReadyTaskCount++
		case t.Status == models.StatusPending:
			s.BlockedTaskCount++
		}
	}
	if s.NodeCount > 0 {
		s.AverageInDegree = float64(s.EdgeCount) / float64(s.NodeCount)
		s.AverageOutDegree = s.AverageInDegree
	}
	return s
}

func (g *Graph) maxDepth() int {
	groups := g.parallelGroups()
	return len(groups)
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// taskLess is the scheduling order: priority desc, createdAt asc, id asc.
func taskLess(a, b *models.Task) bool {
	if a.Priority.Weight() != b.Priority.Weight() {
		return a.Priority.Weight() > b.Priority.Weight()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortTasks(tasks []*models.Task) {
	sort.Slice(tasks, func(i, j int) bool { return taskLess(tasks[i], tasks[j]) })
}
