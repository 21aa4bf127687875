package discovery

import (
	"math"
	"sort"
	"strings"

	"contactgraph/backend/internal/domain"
)

// NodeSpec is a node the job upserts before committing edges.
type NodeSpec struct {
	Type  domain.NodeType        `json:"type"`
	Key   string                 `json:"key"`
	Props map[string]interface{} `json:"props,omitempty"`
}

// ID is the graph id the node will be stored under.
func (n NodeSpec) ID() string { return domain.NodeID(n.Type, n.Key) }

// prepared is the normalized view of a contact set shared by all strategies.
// Slices are indexed by contact position after sorting by id.
type prepared struct {
	contacts  []domain.Contact
	nodeIDs   []string
	companies []string
	tags      []map[string]struct{}

	companyNames map[string]string
	tagNames     map[string]string
}

func prepare(contacts []domain.Contact) *prepared {
	sorted := make([]domain.Contact, len(contacts))
	copy(sorted, contacts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	p := &prepared{
		contacts:     sorted,
		nodeIDs:      make([]string, len(sorted)),
		companies:    make([]string, len(sorted)),
		tags:         make([]map[string]struct{}, len(sorted)),
		companyNames: make(map[string]string),
		tagNames:     make(map[string]string),
	}
	for i, c := range sorted {
		p.nodeIDs[i] = domain.ContactNodeID(c.ID)
		if key := domain.NormalizeCompany(c.Company); key != "" {
			p.companies[i] = key
			if _, ok := p.companyNames[key]; !ok {
				p.companyNames[key] = strings.TrimSpace(c.Company)
			}
		}
		p.tags[i] = domain.NormalizeTags(c.Tags)
		for _, raw := range c.Tags {
			key := domain.NormalizeTag(raw)
			if _, ok := p.tagNames[key]; key != "" && !ok {
				p.tagNames[key] = strings.TrimSpace(raw)
			}
		}
	}
	return p
}

// nodes lists every node the contact set implies, contacts first.
func (p *prepared) nodes() []NodeSpec {
	out := make([]NodeSpec, 0, len(p.contacts)+len(p.companyNames)+len(p.tagNames))
	for _, c := range p.contacts {
		props := map[string]interface{}{"name": c.Name}
		if c.Email != "" {
			props["email"] = c.Email
		}
		if c.JobTitle != "" {
			props["jobTitle"] = c.JobTitle
		}
		if c.Company != "" {
			props["company"] = strings.TrimSpace(c.Company)
		}
		out = append(out, NodeSpec{Type: domain.NodeContact, Key: c.ID, Props: props})
	}
	for _, key := range sortedKeys(p.companyNames) {
		out = append(out, NodeSpec{Type: domain.NodeCompany, Key: key, Props: map[string]interface{}{"name": p.companyNames[key]}})
	}
	for _, key := range sortedKeys(p.tagNames) {
		out = append(out, NodeSpec{Type: domain.NodeTag, Key: key, Props: map[string]interface{}{"name": p.tagNames[key]}})
	}
	return out
}

// companyGroups maps each normalized company to its member positions.
func (p *prepared) companyGroups() map[string][]int {
	groups := make(map[string][]int)
	for i, key := range p.companies {
		if key != "" {
			groups[key] = append(groups[key], i)
		}
	}
	return groups
}

// tagIndex maps each normalized tag to its member positions.
func (p *prepared) tagIndex() map[string][]int {
	index := make(map[string][]int)
	for i, set := range p.tags {
		for tag := range set {
			index[tag] = append(index[tag], i)
		}
	}
	return index
}

// companyPass emits WORKS_AT for every employed contact and a colleague
// KNOWS for every pair sharing a company. It returns the number of companies
// with at least two contacts.
func companyPass(p *prepared) ([]Candidate, int) {
	groups := p.companyGroups()
	var out []Candidate
	for i, key := range p.companies {
		if key != "" {
			out = append(out, worksAt(p.nodeIDs[i], domain.NodeID(domain.NodeCompany, key)))
		}
	}
	shared := 0
	for _, key := range sortedKeys(groups) {
		members := groups[key]
		if len(members) < 2 {
			continue
		}
		shared++
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				out = append(out, colleagues(p.nodeIDs[members[a]], p.nodeIDs[members[b]]))
			}
		}
	}
	return out, shared
}

// tagPass emits HAS_TAG memberships and SHARES_TAGS for pairs whose Jaccard
// similarity reaches min. It returns the membership count.
func tagPass(p *prepared, min float64, fullScan bool) ([]Candidate, int) {
	var out []Candidate
	memberships := 0
	for i, set := range p.tags {
		for _, tag := range sortedKeys(set) {
			out = append(out, hasTag(p.nodeIDs[i], domain.NodeID(domain.NodeTag, tag)))
			memberships++
		}
	}

	var pairs [][2]int
	if fullScan {
		for a := range p.tags {
			for b := a + 1; b < len(p.tags); b++ {
				pairs = append(pairs, [2]int{a, b})
			}
		}
	} else {
		pairs = sharedPairs(p.tagIndex())
	}

	for _, pr := range pairs {
		sim := jaccard(p.tags[pr[0]], p.tags[pr[1]])
		if sim > 0 && sim >= min {
			out = append(out, sharesTags(p.nodeIDs[pr[0]], p.nodeIDs[pr[1]], sim))
		}
	}
	return out, memberships
}

// semanticPass emits SIMILAR_TO for pairs whose embeddings have cosine
// similarity of at least min. Contacts without an embedding, or with an
// embedding of a different dimension, are skipped.
func semanticPass(p *prepared, vectors map[string][]float32, min float64) []Candidate {
	type entry struct {
		pos  int
		vec  []float32
		norm float64
	}
	var entries []entry
	for i, c := range p.contacts {
		v := vectors[c.ID]
		if len(v) == 0 {
			continue
		}
		n := norm(v)
		if n == 0 {
			continue
		}
		entries = append(entries, entry{pos: i, vec: v, norm: n})
	}

	var out []Candidate
	for a := 0; a < len(entries); a++ {
		for b := a + 1; b < len(entries); b++ {
			ea, eb := entries[a], entries[b]
			if len(ea.vec) != len(eb.vec) {
				continue
			}
			sim := dot(ea.vec, eb.vec) / (ea.norm * eb.norm)
			if sim > 1 {
				sim = 1
			}
			if sim >= min {
				out = append(out, similarTo(p.nodeIDs[ea.pos], p.nodeIDs[eb.pos], sim))
			}
		}
	}
	return out
}

// socialPass counts independent signals per pair: a shared company, each
// shared tag, and a semantic candidate. Pairs with at least two signals get a
// clustered KNOWS.
func socialPass(p *prepared, semantic []Candidate) []Candidate {
	pos := make(map[string]int, len(p.nodeIDs))
	for i, id := range p.nodeIDs {
		pos[id] = i
	}

	signals := make(map[[2]int]int)
	for _, members := range p.companyGroups() {
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				signals[[2]int{members[a], members[b]}]++
			}
		}
	}
	for _, members := range p.tagIndex() {
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				signals[orderedPair(members[a], members[b])]++
			}
		}
	}
	for _, c := range semantic {
		signals[orderedPair(pos[c.SourceID], pos[c.TargetID])]++
	}

	keys := make([][2]int, 0, len(signals))
	for k, n := range signals {
		if n >= 2 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	out := make([]Candidate, 0, len(keys))
	for _, k := range keys {
		out = append(out, clustered(p.nodeIDs[k[0]], p.nodeIDs[k[1]]))
	}
	return out
}

// sharedPairs returns, in order, every pair of positions that share at
// least one index entry.
func sharedPairs(index map[string][]int) [][2]int {
	seen := make(map[[2]int]bool)
	var pairs [][2]int
	for _, key := range sortedKeys(index) {
		members := index[key]
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				pr := orderedPair(members[a], members[b])
				if !seen[pr] {
					seen[pr] = true
					pairs = append(pairs, pr)
				}
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	return pairs
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

func orderedPair(a, b int) [2]int {
	if b < a {
		return [2]int{b, a}
	}
	return [2]int{a, b}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
