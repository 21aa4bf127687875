package domain

import (
	"time"
)

// Contact is a single address-book entry supplied by the contact data source.
// The engine never persists contacts; it only derives graph state from them.
type Contact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Company   string    `json:"company,omitempty"`
	JobTitle  string    `json:"job_title,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// NodeType is the label of a graph-resident node
type NodeType string

const (
	NodeContact NodeType = "Contact"
	NodeCompany NodeType = "Company"
	NodeTag     NodeType = "Tag"
)

// NodeTypes lists every node label known to the graph.
var NodeTypes = []NodeType{NodeContact, NodeCompany, NodeTag}

// Valid reports whether t is one of the known node labels
func (t NodeType) Valid() bool {
	switch t {
	case NodeContact, NodeCompany, NodeTag:
		return true
	}
	return false
}

// EdgeType is the relationship type of a graph edge
type EdgeType string

const (
	// EdgeWorksAt links a Contact to a Company.
	EdgeWorksAt EdgeType = "WORKS_AT"
	// EdgeHasTag links a Contact to a Tag.
	EdgeHasTag EdgeType = "HAS_TAG"
	// EdgeKnows links two contacts through colleague or clustering signals.
	EdgeKnows EdgeType = "KNOWS"
	// EdgeSimilarTo links two contacts with similar embeddings.
	EdgeSimilarTo EdgeType = "SIMILAR_TO"
	// EdgeSharesTags links two contacts whose tag sets overlap.
	EdgeSharesTags EdgeType = "SHARES_TAGS"
)

// EdgeTypes lists every relationship type known to the graph.
var EdgeTypes = []EdgeType{EdgeWorksAt, EdgeHasTag, EdgeKnows, EdgeSimilarTo, EdgeSharesTags}

// Valid reports whether t is one of the known relationship types
func (t EdgeType) Valid() bool {
	switch t {
	case EdgeWorksAt, EdgeHasTag, EdgeKnows, EdgeSimilarTo, EdgeSharesTags:
		return true
	}
	return false
}

// Symmetric reports whether the edge connects two contacts with no direction.
// Symmetric edges are always stored with the lexically smaller id as source.
func (t EdgeType) Symmetric() bool {
	switch t {
	case EdgeKnows, EdgeSimilarTo, EdgeSharesTags:
		return true
	}
	return false
}

// Node is a graph-resident node, identified by (UserID, Type, Key)
type Node struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	Type       NodeType               `json:"type"`
	Key        string                 `json:"key"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Name returns the display name of the node, falling back to its key.
func (n Node) Name() string {
	if v, ok := n.Properties["name"].(string); ok && v != "" {
		return v
	}
	return n.Key
}

// Edge is a committed relationship, identified by (UserID, SourceID, TargetID, Type)
type Edge struct {
	UserID     string    `json:"user_id"`
	SourceID   string    `json:"source_id"`
	TargetID   string    `json:"target_id"`
	Type       EdgeType  `json:"type"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// EdgeKey is the identity of an edge inside one user partition.
type EdgeKey struct {
	SourceID string
	TargetID string
	Type     EdgeType
}

// Key returns the identity of e.
func (e Edge) Key() EdgeKey {
	return EdgeKey{SourceID: e.SourceID, TargetID: e.TargetID, Type: e.Type}
}

// Subgraph is a set of nodes and edges returned by graph reads
type Subgraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}
