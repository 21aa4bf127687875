package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"contactgraph/backend/internal/domain"
	"contactgraph/backend/internal/embedding"
	apperrors "contactgraph/backend/pkg/errors"
)

// fiveContacts is the reference scenario: two Tesla engineers, two Google
// engineers working on AI and an independent founder.
func fiveContacts() []domain.Contact {
	return []domain.Contact{
		{ID: "t1", UserID: "u1", Name: "Tara", Company: "Tesla", Tags: []string{"engineering"}},
		{ID: "t2", UserID: "u1", Name: "Tom", Company: "tesla ", Tags: []string{"Engineering", "manufacturing"}},
		{ID: "g1", UserID: "u1", Name: "Gia", Company: "Google", Tags: []string{"engineering", "ai"}},
		{ID: "g2", UserID: "u1", Name: "Gus", Company: "GOOGLE", Tags: []string{"engineering", "AI"}},
		{ID: "f1", UserID: "u1", Name: "Fay", Tags: []string{"startups"}},
	}
}

func newTestEngine(opts ...EngineOption) *Engine {
	return NewEngine(append([]EngineOption{WithLogger(zap.NewNop())}, opts...)...)
}

func find(cands []Candidate, t domain.EdgeType, a, b string) (Candidate, bool) {
	if t.Symmetric() {
		a, b = domain.OrderPair(a, b)
	}
	for _, c := range cands {
		if c.EdgeType == t && c.SourceID == a && c.TargetID == b {
			return c, true
		}
	}
	return Candidate{}, false
}

func TestDiscover_FiveContactScenario(t *testing.T) {
	out, err := newTestEngine().Discover(context.Background(), "u1", fiveContacts(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 5, out.TotalContacts)
	assert.Equal(t, 2, out.CompaniesFound)
	assert.Equal(t, 8, out.TagRelationships)

	_, ok := find(out.High, domain.EdgeWorksAt, "contact:t1", "company:tesla")
	assert.True(t, ok)
	_, ok = find(out.High, domain.EdgeWorksAt, "contact:g2", "company:google")
	assert.True(t, ok)

	// colleague signal wins over the clustered one
	k, ok := find(out.High, domain.EdgeKnows, "contact:t1", "contact:t2")
	require.True(t, ok)
	assert.Equal(t, ColleagueConfidence, k.Confidence)
	assert.Equal(t, StrategyCompany, k.Strategy)

	// identical tag sets auto-commit
	s, ok := find(out.High, domain.EdgeSharesTags, "contact:g1", "contact:g2")
	require.True(t, ok)
	assert.Equal(t, 1.0, s.Confidence)

	// cross-company engineers are queued, never committed
	m, ok := find(out.Medium, domain.EdgeSharesTags, "contact:t1", "contact:g1")
	require.True(t, ok)
	assert.Equal(t, 0.5, m.Confidence)
	_, ok = find(out.High, domain.EdgeSharesTags, "contact:t1", "contact:g1")
	assert.False(t, ok)

	l, ok := find(out.Low, domain.EdgeSharesTags, "contact:t2", "contact:g1")
	require.True(t, ok)
	assert.Equal(t, domain.TierLow, l.Tier)

	assert.Len(t, out.High, 15)
	assert.Len(t, out.Medium, 3)
	assert.Len(t, out.Low, 2)
	assert.Len(t, out.Reviewable(), 5)

	// founder has no company, one tag and no peers
	for _, c := range append(out.Medium, out.Low...) {
		assert.NotEqual(t, "contact:f1", c.SourceID)
		assert.NotEqual(t, "contact:f1", c.TargetID)
	}

	var companies, tags int
	for _, n := range out.Nodes {
		switch n.Type {
		case domain.NodeCompany:
			companies++
		case domain.NodeTag:
			tags++
		}
	}
	assert.Equal(t, 2, companies)
	assert.Equal(t, 4, tags)
}

func TestDiscover_IsDeterministic(t *testing.T) {
	e := newTestEngine()
	contacts := fiveContacts()
	first, err := e.Discover(context.Background(), "u1", contacts, Options{})
	require.NoError(t, err)

	reversed := make([]domain.Contact, len(contacts))
	for i, c := range contacts {
		reversed[len(contacts)-1-i] = c
	}
	second, err := e.Discover(context.Background(), "u1", reversed, Options{})
	require.NoError(t, err)

	assert.Equal(t, first.High, second.High)
	assert.Equal(t, first.Medium, second.Medium)
	assert.Equal(t, first.Low, second.Low)
	assert.Equal(t, first.Nodes, second.Nodes)
}

func TestDiscover_TagTieringBoundary(t *testing.T) {
	tags := func(n int, prefix string) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = prefix + string(rune('a'+i))
		}
		return out
	}
	// 3 shared out of 10 distinct tags: Jaccard exactly 0.3
	a := append(tags(3, "s"), tags(4, "x")...)
	b := append(tags(3, "s"), tags(3, "y")...)
	// c shares two tags with each of them over a larger union
	c := append(tags(2, "s"), tags(8, "z")...)

	contacts := []domain.Contact{
		{ID: "a", Tags: a},
		{ID: "b", Tags: b},
		{ID: "c", Tags: c},
	}
	out, err := newTestEngine().Discover(context.Background(), "u1", contacts, Options{})
	require.NoError(t, err)

	low, ok := find(out.Low, domain.EdgeSharesTags, "contact:a", "contact:b")
	require.True(t, ok)
	assert.Equal(t, 0.3, low.Confidence)

	for _, group := range [][]Candidate{out.High, out.Medium, out.Low} {
		_, ok := find(group, domain.EdgeSharesTags, "contact:b", "contact:c")
		assert.False(t, ok, "Jaccard below 0.3 must not yield a tag candidate")
	}
}

func TestDiscover_FullTagScanMatchesPrefilter(t *testing.T) {
	e := newTestEngine()
	filtered, err := e.Discover(context.Background(), "u1", fiveContacts(), Options{})
	require.NoError(t, err)
	full, err := e.Discover(context.Background(), "u1", fiveContacts(), Options{FullTagScan: true})
	require.NoError(t, err)
	assert.Equal(t, filtered.Medium, full.Medium)
	assert.Equal(t, filtered.Low, full.Low)
	assert.Equal(t, filtered.High, full.High)
}

func TestDiscover_Semantic(t *testing.T) {
	contacts := []domain.Contact{
		{ID: "a", Embedding: []float32{1, 0, 0}},
		{ID: "b", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "c"},
		{ID: "d", Embedding: []float32{1, 0}},
	}
	provider := embedding.Static{"u1": {"c": {0, 1, 0}}}

	off, err := newTestEngine(WithEmbeddings(provider)).Discover(context.Background(), "u1", contacts, Options{})
	require.NoError(t, err)
	for _, c := range off.High {
		assert.NotEqual(t, domain.EdgeSimilarTo, c.EdgeType)
	}

	out, err := newTestEngine(WithEmbeddings(provider)).Discover(context.Background(), "u1", contacts, Options{IncludeSemantic: true})
	require.NoError(t, err)

	ab, ok := find(out.High, domain.EdgeSimilarTo, "contact:a", "contact:b")
	require.True(t, ok)
	assert.InDelta(t, 0.9939, ab.Confidence, 0.001)

	// orthogonal vectors and mismatched dimensions yield nothing
	all := append(append(out.High, out.Medium...), out.Low...)
	_, ok = find(all, domain.EdgeSimilarTo, "contact:a", "contact:c")
	assert.False(t, ok)
	_, ok = find(all, domain.EdgeSimilarTo, "contact:a", "contact:d")
	assert.False(t, ok)
}

type failingProvider struct{}

func (failingProvider) Embeddings(context.Context, string, []string) (map[string][]float32, error) {
	return nil, errors.New("qdrant down")
}

func TestDiscover_ProviderFailureIsAbsorbed(t *testing.T) {
	contacts := []domain.Contact{
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b", Embedding: []float32{1, 0}},
		{ID: "c"},
	}
	out, err := newTestEngine(WithEmbeddings(failingProvider{})).Discover(context.Background(), "u1", contacts, Options{IncludeSemantic: true})
	require.NoError(t, err)
	require.Len(t, out.StrategyErrors, 1)
	assert.Contains(t, out.StrategyErrors[0], "qdrant down")

	_, ok := find(out.High, domain.EdgeSimilarTo, "contact:a", "contact:b")
	assert.True(t, ok)
}

func TestDiscover_SocialClustering(t *testing.T) {
	// a and b share two tags but no company: two signals, clustered KNOWS
	contacts := []domain.Contact{
		{ID: "a", Tags: []string{"go", "rust", "ml", "ops"}},
		{ID: "b", Tags: []string{"go", "rust", "web", "ui", "qa", "db", "js"}},
	}
	out, err := newTestEngine().Discover(context.Background(), "u1", contacts, Options{})
	require.NoError(t, err)

	k, ok := find(out.Medium, domain.EdgeKnows, "contact:a", "contact:b")
	require.True(t, ok)
	assert.Equal(t, ClusterConfidence, k.Confidence)
	assert.Equal(t, StrategySocial, k.Strategy)
}

func TestDiscover_InputValidation(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.Discover(ctx, "u1", []domain.Contact{{ID: "a"}, {ID: "a"}}, Options{})
	var invalid *apperrors.ErrInputValidation
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "duplicate")

	_, err = e.Discover(ctx, "u1", []domain.Contact{{ID: " "}}, Options{})
	assert.ErrorAs(t, err, &invalid)

	_, err = e.Discover(ctx, "u1", []domain.Contact{{ID: "a", UserID: "u2"}}, Options{})
	assert.ErrorAs(t, err, &invalid)

	_, err = e.Discover(ctx, "u1", nil, Options{MinTagSimilarity: 2})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "options.min_tag_similarity", invalid.Field)

	_, err = e.Discover(ctx, "u1", []domain.Contact{{ID: "a"}, {ID: "b"}}, Options{MaxContacts: 1})
	assert.ErrorAs(t, err, &invalid)

	_, err = e.Discover(ctx, "", nil, Options{})
	assert.ErrorAs(t, err, &invalid)
}

func TestDiscover_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestEngine().Discover(ctx, "u1", fiveContacts(), Options{})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeContext))
}

func TestDiscover_EmptyInput(t *testing.T) {
	out, err := newTestEngine().Discover(context.Background(), "u1", nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, out.TotalContacts)
	assert.Empty(t, out.High)
	assert.Empty(t, out.Nodes)
}

type recordingGenerator struct {
	texts []string
	err   error
}

func (g *recordingGenerator) Generate(_ context.Context, texts []string) ([][]float32, error) {
	g.texts = append(g.texts, texts...)
	if g.err != nil {
		return nil, g.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0.05, 0}
	}
	return out, nil
}

func TestDiscover_GeneratorFillsWhatProviderLacks(t *testing.T) {
	contacts := []domain.Contact{
		{ID: "a", Embedding: []float32{1, 0, 0}},
		{ID: "b", Name: "Bea", JobTitle: "Engineer", Company: "Acme"},
		{ID: "c", Name: "Cal"},
		{ID: "d"},
	}
	provider := embedding.Static{"u1": {"c": {1, 0, 0}}}
	gen := &recordingGenerator{}

	out, err := newTestEngine(WithEmbeddings(provider), WithGenerator(gen)).Discover(context.Background(), "u1", contacts, Options{IncludeSemantic: true})
	require.NoError(t, err)
	assert.Empty(t, out.StrategyErrors)

	// c came from the provider and d has nothing to embed
	assert.Equal(t, []string{"Bea. Engineer at Acme"}, gen.texts)
	_, ok := find(out.High, domain.EdgeSimilarTo, "contact:a", "contact:b")
	assert.True(t, ok)
}

func TestDiscover_GeneratorCoversProviderOutage(t *testing.T) {
	contacts := []domain.Contact{
		{ID: "a", Embedding: []float32{1, 0, 0}},
		{ID: "b", Name: "Bea"},
	}
	gen := &recordingGenerator{}

	out, err := newTestEngine(WithEmbeddings(failingProvider{}), WithGenerator(gen)).Discover(context.Background(), "u1", contacts, Options{IncludeSemantic: true})
	require.NoError(t, err)
	require.Len(t, out.StrategyErrors, 1)
	assert.Contains(t, out.StrategyErrors[0], "qdrant down")
	assert.Equal(t, []string{"Bea"}, gen.texts)

	_, ok := find(out.High, domain.EdgeSimilarTo, "contact:a", "contact:b")
	assert.True(t, ok)
}

func TestDiscover_GeneratorFailureIsAbsorbed(t *testing.T) {
	contacts := []domain.Contact{
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b", Embedding: []float32{1, 0}},
		{ID: "c", Name: "Cal"},
	}
	gen := &recordingGenerator{err: errors.New("proxy down")}

	out, err := newTestEngine(WithGenerator(gen)).Discover(context.Background(), "u1", contacts, Options{IncludeSemantic: true})
	require.NoError(t, err)
	require.Len(t, out.StrategyErrors, 1)
	assert.Contains(t, out.StrategyErrors[0], "proxy down")

	_, ok := find(out.High, domain.EdgeSimilarTo, "contact:a", "contact:b")
	assert.True(t, ok)
}
