package groups

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"contactgraph/backend/internal/domain"
	"contactgraph/backend/internal/graph"
)

type seeder struct {
	t *testing.T
	g *graph.MemoryStore
}

func (s seeder) node(typ domain.NodeType, key, name string) string {
	s.t.Helper()
	id, err := s.g.UpsertNode(context.Background(), "u1", typ, key, map[string]interface{}{"name": name})
	require.NoError(s.t, err)
	return id
}

func (s seeder) edge(src, dst string, typ domain.EdgeType, conf float64) {
	s.t.Helper()
	require.NoError(s.t, s.g.UpsertEdge(context.Background(), "u1", src, dst, typ, conf))
}

func find(out []Suggestion, kind Kind) []Suggestion {
	var res []Suggestion
	for _, s := range out {
		if s.Type == kind {
			res = append(res, s)
		}
	}
	return res
}

func memberIDs(s Suggestion) []string {
	ids := make([]string, len(s.Members))
	for i, m := range s.Members {
		ids[i] = m.ContactID
	}
	return ids
}

func TestSuggestedGroups_CompanyAndTag(t *testing.T) {
	g := graph.NewMemoryStore()
	s := seeder{t, g}
	a := s.node(domain.NodeContact, "a", "Ann")
	b := s.node(domain.NodeContact, "b", "Bob")
	c := s.node(domain.NodeContact, "c", "Cy")
	tesla := s.node(domain.NodeCompany, "tesla", "Tesla")
	solo := s.node(domain.NodeCompany, "acme", "Acme")
	ai := s.node(domain.NodeTag, "ai", "AI")

	s.edge(a, tesla, domain.EdgeWorksAt, 1)
	s.edge(b, tesla, domain.EdgeWorksAt, 1)
	s.edge(c, solo, domain.EdgeWorksAt, 1)
	s.edge(a, ai, domain.EdgeHasTag, 1)
	s.edge(c, ai, domain.EdgeHasTag, 1)
	s.edge(b, c, domain.EdgeKnows, 0.9)

	out, err := NewEngine(g, zap.NewNop()).SuggestedGroups(context.Background(), "u1")
	require.NoError(t, err)

	companies := find(out, KindCompany)
	require.Len(t, companies, 1)
	assert.Equal(t, "Tesla", companies[0].Name)
	assert.Equal(t, 2, companies[0].Size)
	// b has the higher weighted degree
	assert.Equal(t, []string{"contact:b", "contact:a"}, memberIDs(companies[0]))

	tags := find(out, KindTag)
	require.Len(t, tags, 1)
	assert.Equal(t, "AI", tags[0].Name)
	assert.Contains(t, tags[0].Reason, "AI")

	assert.Empty(t, find(out, KindKnows))
}

func TestSuggestedGroups_KnowsCluster(t *testing.T) {
	g := graph.NewMemoryStore()
	s := seeder{t, g}
	ids := make([]string, 13)
	for i := range ids {
		ids[i] = s.node(domain.NodeContact, fmt.Sprintf("c%02d", i), fmt.Sprintf("Contact %d", i))
	}
	// star around c00 with decreasing weights, plus a separate pair
	for i := 1; i <= 11; i++ {
		s.edge(ids[0], ids[i], domain.EdgeKnows, 1-float64(i)*0.02)
	}
	x := s.node(domain.NodeContact, "x", "X")
	y := s.node(domain.NodeContact, "y", "Y")
	s.edge(x, y, domain.EdgeKnows, 0.9)

	out, err := NewEngine(g, nil).SuggestedGroups(context.Background(), "u1")
	require.NoError(t, err)

	knows := find(out, KindKnows)
	require.Len(t, knows, 1, "pairs are below the cluster minimum")
	k := knows[0]
	assert.Equal(t, 12, k.Size)
	require.Len(t, k.Members, MaxMembers)
	assert.Equal(t, "contact:c00", k.Members[0].ContactID)
	assert.Equal(t, "contact:c01", k.Members[1].ContactID)
	assert.NotContains(t, memberIDs(k), "contact:c11")
	assert.Contains(t, k.Reason, "Contact 0")
}

func TestSuggestedGroups_SemanticAndIsolation(t *testing.T) {
	g := graph.NewMemoryStore()
	s := seeder{t, g}
	a := s.node(domain.NodeContact, "a", "A")
	b := s.node(domain.NodeContact, "b", "B")
	c := s.node(domain.NodeContact, "c", "C")
	s.edge(a, b, domain.EdgeSimilarTo, 0.95)
	s.edge(b, c, domain.EdgeSimilarTo, 0.9)

	e := NewEngine(g, nil)
	out, err := e.SuggestedGroups(context.Background(), "u1")
	require.NoError(t, err)
	sem := find(out, KindSemantic)
	require.Len(t, sem, 1)
	assert.Equal(t, "contact:b", sem[0].Members[0].ContactID)

	other, err := e.SuggestedGroups(context.Background(), "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSuggestedGroups_StoreFailure(t *testing.T) {
	g := graph.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine(g, nil).SuggestedGroups(ctx, "u1")
	assert.Error(t, err)
}

func TestSuggestedGroups_ChainSplitsIntoLocalClusters(t *testing.T) {
	g := graph.NewMemoryStore()
	s := seeder{t, g}
	ids := make([]string, 7)
	for i := range ids {
		ids[i] = s.node(domain.NodeContact, fmt.Sprintf("c%d", i), fmt.Sprintf("Contact %d", i))
	}
	for i := 1; i < len(ids); i++ {
		s.edge(ids[i-1], ids[i], domain.EdgeKnows, 0.9)
	}

	out, err := NewEngine(g, nil).SuggestedGroups(context.Background(), "u1")
	require.NoError(t, err)

	knows := find(out, KindKnows)
	require.Len(t, knows, 2)
	assert.Equal(t, []string{"contact:c1", "contact:c2", "contact:c0"}, memberIDs(knows[0]))
	assert.Equal(t, []string{"contact:c4", "contact:c3", "contact:c5"}, memberIDs(knows[1]))
}

func TestSuggestedGroups_ColleagueCliqueNotRepeated(t *testing.T) {
	g := graph.NewMemoryStore()
	s := seeder{t, g}
	tesla := s.node(domain.NodeCompany, "tesla", "Tesla")
	var staff []string
	for _, key := range []string{"a", "b", "c"} {
		id := s.node(domain.NodeContact, key, key)
		s.edge(id, tesla, domain.EdgeWorksAt, 1)
		staff = append(staff, id)
	}
	s.edge(staff[0], staff[1], domain.EdgeKnows, 0.9)
	s.edge(staff[0], staff[2], domain.EdgeKnows, 0.9)
	s.edge(staff[1], staff[2], domain.EdgeKnows, 0.9)

	e := NewEngine(g, nil)
	out, err := e.SuggestedGroups(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, find(out, KindCompany), 1)
	assert.Empty(t, find(out, KindKnows))

	// an outside acquaintance makes the cluster more than the company
	d := s.node(domain.NodeContact, "d", "d")
	s.edge(staff[0], d, domain.EdgeKnows, 0.6)
	out, err = e.SuggestedGroups(context.Background(), "u1")
	require.NoError(t, err)
	knows := find(out, KindKnows)
	require.Len(t, knows, 1)
	assert.Equal(t, 4, knows[0].Size)
	assert.Equal(t, "contact:a", knows[0].Members[0].ContactID)
}
