package discovery

import (
	"contactgraph/backend/internal/domain"
)

// Strategy names the inference pass that proposed a candidate.
type Strategy string

const (
	StrategyCompany  Strategy = "company"
	StrategyTag      Strategy = "tag"
	StrategySemantic Strategy = "semantic"
	StrategySocial   Strategy = "social"
)

// Fixed confidences of the rule-based strategies.
const (
	MembershipConfidence = 1.0
	ColleagueConfidence  = 0.9
	ClusterConfidence    = 0.6
)

// Candidate is one proposed edge. Candidates are only built through the
// constructors below, so every strategy emits a fixed edge type and the tier
// always matches the confidence.
type Candidate struct {
	SourceID   string          `json:"source_id"`
	TargetID   string          `json:"target_id"`
	EdgeType   domain.EdgeType `json:"edge_type"`
	Confidence float64         `json:"confidence"`
	Tier       domain.Tier     `json:"tier"`
	Strategy   Strategy        `json:"strategy"`
}

// Key is the merge identity of the candidate.
func (c Candidate) Key() domain.EdgeKey {
	return domain.EdgeKey{SourceID: c.SourceID, TargetID: c.TargetID, Type: c.EdgeType}
}

func newCandidate(s Strategy, t domain.EdgeType, src, dst string, confidence float64) Candidate {
	if t.Symmetric() {
		src, dst = domain.OrderPair(src, dst)
	}
	return Candidate{
		SourceID:   src,
		TargetID:   dst,
		EdgeType:   t,
		Confidence: confidence,
		Tier:       domain.TierFor(confidence),
		Strategy:   s,
	}
}

func worksAt(contactID, companyID string) Candidate {
	return newCandidate(StrategyCompany, domain.EdgeWorksAt, contactID, companyID, MembershipConfidence)
}

func colleagues(a, b string) Candidate {
	return newCandidate(StrategyCompany, domain.EdgeKnows, a, b, ColleagueConfidence)
}

func hasTag(contactID, tagID string) Candidate {
	return newCandidate(StrategyTag, domain.EdgeHasTag, contactID, tagID, MembershipConfidence)
}

func sharesTags(a, b string, jaccard float64) Candidate {
	return newCandidate(StrategyTag, domain.EdgeSharesTags, a, b, jaccard)
}

func similarTo(a, b string, cosine float64) Candidate {
	return newCandidate(StrategySemantic, domain.EdgeSimilarTo, a, b, cosine)
}

func clustered(a, b string) Candidate {
	return newCandidate(StrategySocial, domain.EdgeKnows, a, b, ClusterConfidence)
}

// merge collapses candidates with the same key to the highest confidence.
// On equal confidence the earlier candidate wins, so the result depends only
// on input order.
func merge(groups ...[]Candidate) []Candidate {
	index := make(map[domain.EdgeKey]int)
	var out []Candidate
	for _, group := range groups {
		for _, c := range group {
			i, ok := index[c.Key()]
			if !ok {
				index[c.Key()] = len(out)
				out = append(out, c)
				continue
			}
			if c.Confidence > out[i].Confidence {
				out[i] = c
			}
		}
	}
	return out
}
