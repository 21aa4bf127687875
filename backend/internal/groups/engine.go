// Package groups suggests contact groups from committed graph edges.
package groups

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"contactgraph/backend/internal/domain"
	"contactgraph/backend/internal/graph"
	"contactgraph/backend/pkg/logger"
)

// Kind is the signal a suggestion was built from
type Kind string

const (
	KindCompany  Kind = "company"
	KindTag      Kind = "tag"
	KindKnows    Kind = "knows"
	KindSemantic Kind = "semantic"
)

const (
	// MaxMembers caps the member list of a suggestion.
	MaxMembers = 10
	// MinClusterSize is the smallest knows or semantic cluster suggested.
	MinClusterSize = 3
	// minSharedNode is the smallest company or tag group suggested.
	minSharedNode = 2
)

// Member is one contact of a suggested group.
type Member struct {
	ContactID string  `json:"contact_id"`
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
}

// Suggestion is a proposed contact group.
type Suggestion struct {
	Type    Kind     `json:"type"`
	Name    string   `json:"name"`
	Reason  string   `json:"reason"`
	Size    int      `json:"size"`
	Members []Member `json:"members"`
}

// Engine builds suggestions. It only reads the graph store, so pending
// relationships never influence a suggestion.
type Engine struct {
	graph  graph.Store
	logger *zap.Logger
}

// NewEngine creates a suggestion engine over g.
func NewEngine(g graph.Store, log *zap.Logger) *Engine {
	return &Engine{graph: g, logger: logger.OrNop(log)}
}

// SuggestedGroups returns company and tag groups, then knows and semantic
// clusters. Within a kind, larger groups come first.
func (e *Engine) SuggestedGroups(ctx context.Context, userID string) ([]Suggestion, error) {
	sub, err := e.graph.GraphData(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("suggested groups: %w", err)
	}
	g := index(sub)

	out := []Suggestion{}
	out = append(out, g.sharedNode(domain.EdgeWorksAt, KindCompany)...)
	out = append(out, g.sharedNode(domain.EdgeHasTag, KindTag)...)
	out = append(out, g.clusters(domain.EdgeKnows, KindKnows)...)
	out = append(out, g.clusters(domain.EdgeSimilarTo, KindSemantic)...)

	e.logger.Debug("Suggested groups",
		zap.String("user_id", userID),
		zap.Int("count", len(out)))
	return out, nil
}

type weighted struct {
	id     string
	weight float64
}

type graphIndex struct {
	nodes map[string]domain.Node
	edges map[domain.EdgeType][]domain.Edge
	// degree is the summed weight of each contact's contact-to-contact edges
	degree map[string]float64
	// employer maps a contact to the companies it works at
	employer map[string]map[string]bool
}

func index(sub domain.Subgraph) *graphIndex {
	g := &graphIndex{
		nodes:    make(map[string]domain.Node, len(sub.Nodes)),
		edges:    make(map[domain.EdgeType][]domain.Edge),
		degree:   make(map[string]float64),
		employer: make(map[string]map[string]bool),
	}
	for _, n := range sub.Nodes {
		g.nodes[n.ID] = n
	}
	for _, e := range sub.Edges {
		g.edges[e.Type] = append(g.edges[e.Type], e)
		if e.Type.Symmetric() {
			g.degree[e.SourceID] += e.Confidence
			g.degree[e.TargetID] += e.Confidence
		}
		if e.Type == domain.EdgeWorksAt {
			if g.employer[e.SourceID] == nil {
				g.employer[e.SourceID] = map[string]bool{}
			}
			g.employer[e.SourceID][e.TargetID] = true
		}
	}
	return g
}

func (g *graphIndex) name(id string) string {
	if n, ok := g.nodes[id]; ok {
		return n.Name()
	}
	return id
}

// sharedNode groups contacts by the Company or Tag node they point at.
func (g *graphIndex) sharedNode(t domain.EdgeType, kind Kind) []Suggestion {
	byTarget := map[string][]weighted{}
	for _, e := range g.edges[t] {
		byTarget[e.TargetID] = append(byTarget[e.TargetID], weighted{id: e.SourceID, weight: e.Confidence})
	}

	var out []Suggestion
	for target, members := range byTarget {
		if len(members) < minSharedNode {
			continue
		}
		name := g.name(target)
		reason := fmt.Sprintf("%d contacts work at %s", len(members), name)
		if kind == KindTag {
			reason = fmt.Sprintf("%d contacts tagged %q", len(members), name)
		}
		out = append(out, Suggestion{
			Type:    kind,
			Name:    name,
			Reason:  reason,
			Size:    len(members),
			Members: g.rank(members),
		})
	}
	sortSuggestions(out)
	return out
}

// clusters peels ego networks off one contact-to-contact edge type. The
// unclaimed contact of highest weighted degree becomes a centroid and claims
// its unclaimed neighbours; this repeats until every contact is claimed.
// Every member of a cluster is adjacent to its centroid, so a long chain
// yields several small clusters instead of one. Clusters below
// MinClusterSize, and knows clusters whose members all work at one company
// (already suggested as a company group), are dropped.
func (g *graphIndex) clusters(t domain.EdgeType, kind Kind) []Suggestion {
	adj := map[string]map[string]float64{}
	link := func(a, b string, w float64) {
		if adj[a] == nil {
			adj[a] = map[string]float64{}
		}
		adj[a][b] = w
	}
	for _, e := range g.edges[t] {
		link(e.SourceID, e.TargetID, e.Confidence)
		link(e.TargetID, e.SourceID, e.Confidence)
	}

	claimed := map[string]bool{}
	var out []Suggestion
	for len(claimed) < len(adj) {
		centroid, best := "", -1.0
		for _, id := range sortedIDs(adj) {
			if claimed[id] {
				continue
			}
			var d float64
			for n, w := range adj[id] {
				if !claimed[n] {
					d += w
				}
			}
			if d > best {
				centroid, best = id, d
			}
		}

		claimed[centroid] = true
		members := []weighted{{id: centroid, weight: 1}}
		for _, n := range sortedIDs(adj[centroid]) {
			if !claimed[n] {
				claimed[n] = true
				members = append(members, weighted{id: n, weight: adj[centroid][n]})
			}
		}
		if len(members) < MinClusterSize {
			continue
		}
		if kind == KindKnows && g.oneCompany(members) {
			continue
		}

		s := Suggestion{
			Type:    kind,
			Size:    len(members),
			Members: g.rank(members),
		}
		if kind == KindKnows {
			s.Name = "Mutual connections"
			s.Reason = fmt.Sprintf("%d contacts linked by known relationships around %s", s.Size, g.name(centroid))
		} else {
			s.Name = "Similar contacts"
			s.Reason = fmt.Sprintf("%d contacts with similar profiles to %s", s.Size, g.name(centroid))
		}
		out = append(out, s)
	}
	sortSuggestions(out)
	return out
}

// oneCompany reports whether a single company employs every member.
func (g *graphIndex) oneCompany(members []weighted) bool {
	for company := range g.employer[members[0].id] {
		all := true
		for _, m := range members[1:] {
			if !g.employer[m.id][company] {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// rank orders members by weight, then weighted degree, then id, and caps the list.
func (g *graphIndex) rank(members []weighted) []Member {
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.weight != b.weight {
			return a.weight > b.weight
		}
		if da, db := g.degree[a.id], g.degree[b.id]; da != db {
			return da > db
		}
		return a.id < b.id
	})
	if len(members) > MaxMembers {
		members = members[:MaxMembers]
	}
	out := make([]Member, len(members))
	for i, m := range members {
		out[i] = Member{ContactID: m.id, Name: g.name(m.id), Score: m.weight}
	}
	return out
}

func sortSuggestions(s []Suggestion) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Size != s[j].Size {
			return s[i].Size > s[j].Size
		}
		if s[i].Name != s[j].Name {
			return s[i].Name < s[j].Name
		}
		return s[i].Members[0].ContactID < s[j].Members[0].ContactID
	})
}

func sortedIDs[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
