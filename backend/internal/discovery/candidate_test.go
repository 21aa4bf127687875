package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"contactgraph/backend/internal/domain"
)

func TestMerge_MaxConfidenceWins(t *testing.T) {
	company := []Candidate{colleagues("contact:b", "contact:a")}
	social := []Candidate{clustered("contact:a", "contact:b")}

	merged := merge(social, company)
	assert.Len(t, merged, 1)
	assert.Equal(t, ColleagueConfidence, merged[0].Confidence)
	assert.Equal(t, StrategyCompany, merged[0].Strategy)
	assert.Equal(t, domain.TierHigh, merged[0].Tier)

	merged = merge(company, social)
	assert.Equal(t, StrategyCompany, merged[0].Strategy)
}

func TestMerge_TiesKeepEarlier(t *testing.T) {
	a := newCandidate(StrategyTag, domain.EdgeKnows, "contact:a", "contact:b", 0.6)
	b := clustered("contact:a", "contact:b")
	merged := merge([]Candidate{a}, []Candidate{b})
	assert.Equal(t, StrategyTag, merged[0].Strategy)
}

func TestCandidate_SymmetricOrdering(t *testing.T) {
	c := sharesTags("contact:z", "contact:a", 0.4)
	assert.Equal(t, "contact:a", c.SourceID)
	assert.Equal(t, "contact:z", c.TargetID)
	assert.Equal(t, domain.TierLow, c.Tier)

	w := worksAt("contact:z", "company:acme")
	assert.Equal(t, "contact:z", w.SourceID)
	assert.Equal(t, domain.TierHigh, w.Tier)
}

func TestJaccard(t *testing.T) {
	set := func(tags ...string) map[string]struct{} { return domain.NormalizeTags(tags) }
	assert.Equal(t, 1.0, jaccard(set("a", "b"), set("B", "a")))
	assert.Equal(t, 0.5, jaccard(set("a"), set("a", "b")))
	assert.Equal(t, 0.0, jaccard(set(), set("a")))
	assert.Equal(t, 0.0, jaccard(set("a"), set("b")))
}

func TestSharedPairs(t *testing.T) {
	pairs := sharedPairs(map[string][]int{
		"x": {0, 1, 2},
		"y": {1, 2},
		"z": {3},
	})
	assert.Equal(t, [][2]int{{0, 1}, {0, 2}, {1, 2}}, pairs)
}
