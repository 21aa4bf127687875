package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactgraph/backend/internal/domain"
)

func seedContacts(t *testing.T, s Store, userID string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := s.UpsertNode(context.Background(), userID, domain.NodeContact, id, map[string]interface{}{"name": id})
		require.NoError(t, err)
	}
}

func TestMemoryStore_UpsertNodeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id1, err := s.UpsertNode(ctx, "u1", domain.NodeCompany, "acme", map[string]interface{}{"name": "Acme"})
	require.NoError(t, err)
	id2, err := s.UpsertNode(ctx, "u1", domain.NodeCompany, "acme", map[string]interface{}{"name": "ACME Corp", "userId": "u2"})
	require.NoError(t, err)

	assert.Equal(t, "company:acme", id1)
	assert.Equal(t, id1, id2)

	counts, err := s.NodeCounts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.NodeCompany])

	g, err := s.GraphData(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "ACME Corp", g.Nodes[0].Name())
	assert.Equal(t, "u1", g.Nodes[0].UserID)
}

func TestMemoryStore_UpsertEdgeOverwritesConfidence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedContacts(t, s, "u1", "a", "b")

	require.NoError(t, s.UpsertEdge(ctx, "u1", "contact:b", "contact:a", domain.EdgeKnows, 0.6))
	require.NoError(t, s.UpsertEdge(ctx, "u1", "contact:a", "contact:b", domain.EdgeKnows, 0.9))

	edges, err := s.Edges(ctx, "u1", domain.EdgeKnows)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "contact:a", edges[0].SourceID)
	assert.Equal(t, "contact:b", edges[0].TargetID)
	assert.Equal(t, 0.9, edges[0].Confidence)
}

func TestMemoryStore_UpsertEdgeRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedContacts(t, s, "u1", "a")

	err := s.UpsertEdge(ctx, "u1", "contact:a", "company:missing", domain.EdgeWorksAt, 1.0)
	var missing ErrMissingEndpoint
	assert.ErrorAs(t, err, &missing)

	assert.Error(t, s.UpsertEdge(ctx, "u1", "contact:a", "contact:a", domain.EdgeKnows, 0.5))
	assert.Error(t, s.UpsertEdge(ctx, "u1", "contact:a", "contact:b", domain.EdgeType("LIKES"), 0.5))
	assert.Error(t, s.UpsertEdge(ctx, "u1", "contact:a", "contact:b", domain.EdgeKnows, 1.5))
}

func TestMemoryStore_PartitionIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedContacts(t, s, "u1", "a", "b")
	seedContacts(t, s, "u2", "a")

	// u2 has no contact:b, so the edge cannot borrow u1's node
	err := s.UpsertEdge(ctx, "u2", "contact:a", "contact:b", domain.EdgeKnows, 0.9)
	assert.Error(t, err)

	_, err = s.QueryNeighborhood(ctx, "u2", "contact:b", nil, 1)
	var nf ErrNodeNotFound
	assert.ErrorAs(t, err, &nf)

	deleted, err := s.DeleteAllForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	counts, err := s.NodeCounts(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.NodeContact])
}

func TestMemoryStore_QueryNeighborhood(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedContacts(t, s, "u1", "a", "b", "c", "d")
	_, err := s.UpsertNode(ctx, "u1", domain.NodeCompany, "acme", nil)
	require.NoError(t, err)

	require.NoError(t, s.UpsertEdge(ctx, "u1", "contact:a", "contact:b", domain.EdgeKnows, 0.9))
	require.NoError(t, s.UpsertEdge(ctx, "u1", "contact:b", "contact:c", domain.EdgeKnows, 0.9))
	require.NoError(t, s.UpsertEdge(ctx, "u1", "contact:c", "contact:d", domain.EdgeSimilarTo, 0.9))
	require.NoError(t, s.UpsertEdge(ctx, "u1", "contact:a", "company:acme", domain.EdgeWorksAt, 1.0))

	sub, err := s.QueryNeighborhood(ctx, "u1", "contact:a", nil, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"contact:a", "contact:b", "company:acme"}, nodeIDs(sub))
	assert.Len(t, sub.Edges, 2)

	sub, err = s.QueryNeighborhood(ctx, "u1", "contact:a", []domain.EdgeType{domain.EdgeKnows}, 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"contact:a", "contact:b", "contact:c"}, nodeIDs(sub))
	for _, e := range sub.Edges {
		assert.Equal(t, domain.EdgeKnows, e.Type)
	}

	sub, err = s.QueryNeighborhood(ctx, "u1", "contact:a", nil, 99)
	require.NoError(t, err)
	assert.Len(t, sub.Nodes, 5)
}

func TestMemoryStore_HealthCheck(t *testing.T) {
	s := NewMemoryStore()
	assert.True(t, s.HealthCheck(context.Background()).Healthy)

	s.SetUnavailable("maintenance")
	h := s.HealthCheck(context.Background())
	assert.False(t, h.Healthy)
	assert.Equal(t, "maintenance", h.Detail)
}

func nodeIDs(sub domain.Subgraph) []string {
	ids := make([]string, 0, len(sub.Nodes))
	for _, n := range sub.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}
