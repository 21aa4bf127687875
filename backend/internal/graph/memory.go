package graph

import (
	"context"
	"sync"
	"time"

	"contactgraph/backend/internal/domain"
)

type partition struct {
	nodes map[string]domain.Node
	edges map[domain.EdgeKey]domain.Edge
}

// MemoryStore is an in-process Store with the same merge semantics as the
// Neo4j repository. It backs STORE_BACKEND=memory and unit tests.
type MemoryStore struct {
	mu          sync.RWMutex
	partitions  map[string]*partition
	unavailable string
	now         func() time.Time
}

// NewMemoryStore creates an empty in-memory graph
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		partitions: make(map[string]*partition),
		now:        time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

// SetUnavailable makes HealthCheck fail with detail. Empty restores health.
func (m *MemoryStore) SetUnavailable(detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = detail
}

func (m *MemoryStore) part(userID string) *partition {
	p, ok := m.partitions[userID]
	if !ok {
		p = &partition{
			nodes: make(map[string]domain.Node),
			edges: make(map[domain.EdgeKey]domain.Edge),
		}
		m.partitions[userID] = p
	}
	return p
}

func (m *MemoryStore) UpsertNode(ctx context.Context, userID string, nodeType domain.NodeType, naturalKey string, props map[string]interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateNode(userID, nodeType, naturalKey); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := domain.NodeID(nodeType, naturalKey)
	p := m.part(userID)
	n, ok := p.nodes[id]
	if !ok {
		n = domain.Node{ID: id, UserID: userID, Type: nodeType, Key: naturalKey, Properties: map[string]interface{}{}}
	}
	for k, v := range cleanProps(props) {
		n.Properties[k] = v
	}
	p.nodes[id] = n
	return id, nil
}

func (m *MemoryStore) UpsertEdge(ctx context.Context, userID, sourceID, targetID string, edgeType domain.EdgeType, confidence float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEdge(userID, sourceID, targetID, edgeType, confidence); err != nil {
		return err
	}
	src, dst := orient(sourceID, targetID, edgeType)

	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.part(userID)
	a, okA := p.nodes[src]
	b, okB := p.nodes[dst]
	if !okA || !okB || a.Type != domain.NodeContact || b.Type != targetLabel(edgeType) {
		return ErrMissingEndpoint{SourceID: src, TargetID: dst, Type: edgeType}
	}

	key := domain.EdgeKey{SourceID: src, TargetID: dst, Type: edgeType}
	e, ok := p.edges[key]
	if !ok {
		e = domain.Edge{UserID: userID, SourceID: src, TargetID: dst, Type: edgeType, CreatedAt: m.now().UTC()}
	}
	e.Confidence = confidence
	p.edges[key] = e
	return nil
}

func (m *MemoryStore) QueryNeighborhood(ctx context.Context, userID, nodeID string, edgeTypes []domain.EdgeType, depth int) (domain.Subgraph, error) {
	if err := ctx.Err(); err != nil {
		return domain.Subgraph{}, err
	}
	depth = clampDepth(depth)
	allowed := typeFilter(edgeTypes)

	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.partitions[userID]
	if !ok {
		return domain.Subgraph{}, ErrNodeNotFound{NodeID: nodeID}
	}
	if _, ok := p.nodes[nodeID]; !ok {
		return domain.Subgraph{}, ErrNodeNotFound{NodeID: nodeID}
	}

	adj := make(map[string][]string)
	for k := range p.edges {
		if allowed != nil && !allowed[k.Type] {
			continue
		}
		adj[k.SourceID] = append(adj[k.SourceID], k.TargetID)
		adj[k.TargetID] = append(adj[k.TargetID], k.SourceID)
	}

	visited := map[string]bool{nodeID: true}
	frontier := []string{nodeID}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, nb := range adj[id] {
				if !visited[nb] {
					visited[nb] = true
					next = append(next, nb)
				}
			}
		}
		frontier = next
	}

	var sub domain.Subgraph
	for id := range visited {
		sub.Nodes = append(sub.Nodes, copyNode(p.nodes[id]))
	}
	for k, e := range p.edges {
		if allowed != nil && !allowed[k.Type] {
			continue
		}
		if visited[k.SourceID] && visited[k.TargetID] {
			sub.Edges = append(sub.Edges, e)
		}
	}
	sub.Nodes = dedupeNodes(sub.Nodes)
	sortEdges(sub.Edges)
	return sub, nil
}

func (m *MemoryStore) GraphData(ctx context.Context, userID string) (domain.Subgraph, error) {
	if err := ctx.Err(); err != nil {
		return domain.Subgraph{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub := domain.Subgraph{Nodes: []domain.Node{}, Edges: []domain.Edge{}}
	p, ok := m.partitions[userID]
	if !ok {
		return sub, nil
	}
	for _, n := range p.nodes {
		sub.Nodes = append(sub.Nodes, copyNode(n))
	}
	for _, e := range p.edges {
		sub.Edges = append(sub.Edges, e)
	}
	sub.Nodes = dedupeNodes(sub.Nodes)
	sortEdges(sub.Edges)
	return sub, nil
}

func (m *MemoryStore) Edges(ctx context.Context, userID string, edgeTypes ...domain.EdgeType) ([]domain.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	allowed := typeFilter(edgeTypes)
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.partitions[userID]
	if !ok {
		return nil, nil
	}
	var edges []domain.Edge
	for k, e := range p.edges {
		if allowed == nil || allowed[k.Type] {
			edges = append(edges, e)
		}
	}
	sortEdges(edges)
	return edges, nil
}

func (m *MemoryStore) NodeCounts(ctx context.Context, userID string) (map[domain.NodeType]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[domain.NodeType]int64)
	if p, ok := m.partitions[userID]; ok {
		for _, n := range p.nodes {
			counts[n.Type]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partitions[userID]
	if !ok {
		return 0, nil
	}
	n := int64(len(p.nodes))
	delete(m.partitions, userID)
	return n, nil
}

func (m *MemoryStore) HealthCheck(ctx context.Context) Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable != "" {
		return Health{Healthy: false, Detail: m.unavailable}
	}
	if err := ctx.Err(); err != nil {
		return Health{Healthy: false, Detail: err.Error()}
	}
	return Health{Healthy: true, Detail: "memory store"}
}

func copyNode(n domain.Node) domain.Node {
	props := make(map[string]interface{}, len(n.Properties))
	for k, v := range n.Properties {
		props[k] = v
	}
	n.Properties = props
	return n
}
