// Package graph is the property-graph store for discovered contact
// relationships. Every node and edge is partitioned by user id; no read or
// write crosses partitions.
package graph

import (
	"context"
	"fmt"

	"contactgraph/backend/internal/domain"
)

// MaxDepth bounds neighborhood traversals.
const MaxDepth = 5

// Store is the idempotent-write abstraction over the graph backend.
type Store interface {
	// UpsertNode merges a node by (userID, type, naturalKey) and returns its id.
	// Properties are updated on conflict.
	UpsertNode(ctx context.Context, userID string, nodeType domain.NodeType, naturalKey string, props map[string]interface{}) (string, error)
	// UpsertEdge merges an edge by (userID, sourceID, targetID, type).
	// Confidence is overwritten with the latest value.
	UpsertEdge(ctx context.Context, userID, sourceID, targetID string, edgeType domain.EdgeType, confidence float64) error
	// QueryNeighborhood returns the nodes reachable from nodeID within depth
	// hops over the given edge types (all types when empty), and the edges between them.
	QueryNeighborhood(ctx context.Context, userID, nodeID string, edgeTypes []domain.EdgeType, depth int) (domain.Subgraph, error)
	// GraphData returns every node and edge of the user's partition.
	GraphData(ctx context.Context, userID string) (domain.Subgraph, error)
	// Edges returns the committed edges of the given types (all when empty).
	Edges(ctx context.Context, userID string, edgeTypes ...domain.EdgeType) ([]domain.Edge, error)
	// NodeCounts returns node counts grouped by type.
	NodeCounts(ctx context.Context, userID string) (map[domain.NodeType]int64, error)
	// DeleteAllForUser detach-deletes the user's partition and returns the node count removed.
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	// HealthCheck reports whether the backend accepts requests.
	HealthCheck(ctx context.Context) Health
}

// Health is the result of a store health check
type Health struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail"`
}

// Errors

// ErrNodeNotFound is returned when a traversal starts at a node that does
// not exist in the caller's partition
type ErrNodeNotFound struct {
	NodeID string
}

func (e ErrNodeNotFound) Error() string {
	return fmt.Sprintf("node not found: %s", e.NodeID)
}

// ErrMissingEndpoint is returned when an edge references a node that has
// not been upserted
type ErrMissingEndpoint struct {
	SourceID string
	TargetID string
	Type     domain.EdgeType
}

func (e ErrMissingEndpoint) Error() string {
	return fmt.Sprintf("edge %s %s->%s: endpoint not found", e.Type, e.SourceID, e.TargetID)
}

// targetLabel is the label of the node an edge type points to
func targetLabel(t domain.EdgeType) domain.NodeType {
	switch t {
	case domain.EdgeWorksAt:
		return domain.NodeCompany
	case domain.EdgeHasTag:
		return domain.NodeTag
	default:
		return domain.NodeContact
	}
}

// orient returns the stored endpoints of an edge.
func orient(sourceID, targetID string, t domain.EdgeType) (string, string) {
	if t.Symmetric() {
		return domain.OrderPair(sourceID, targetID)
	}
	return sourceID, targetID
}

func validateEdge(userID, sourceID, targetID string, t domain.EdgeType, confidence float64) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if !t.Valid() {
		return fmt.Errorf("unknown edge type %q", t)
	}
	if sourceID == "" || targetID == "" {
		return fmt.Errorf("edge %s: source and target are required", t)
	}
	if sourceID == targetID {
		return fmt.Errorf("edge %s: self loop on %s", t, sourceID)
	}
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("edge %s: confidence %v outside [0,1]", t, confidence)
	}
	return nil
}

func validateNode(userID string, t domain.NodeType, key string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if !t.Valid() {
		return fmt.Errorf("unknown node type %q", t)
	}
	if key == "" {
		return fmt.Errorf("%s: natural key is required", t)
	}
	return nil
}

// reservedProps are maintained by the store and never taken from callers.
var reservedProps = map[string]bool{"id": true, "userId": true, "key": true, "createdAt": true, "updatedAt": true}

func cleanProps(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		if reservedProps[k] || v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

func typeFilter(types []domain.EdgeType) map[domain.EdgeType]bool {
	if len(types) == 0 {
		return nil
	}
	m := make(map[domain.EdgeType]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

func clampDepth(depth int) int {
	if depth <= 0 {
		return 1
	}
	if depth > MaxDepth {
		return MaxDepth
	}
	return depth
}
