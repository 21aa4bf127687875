package domain

import (
	"regexp"
	"strings"
	"unicode"
)

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeCompany folds a company name into its natural key: lowercase,
// trimmed, punctuation stripped, inner whitespace collapsed.
// "  Tesla, Inc. " and "tesla inc" normalize to the same key.
func NormalizeCompany(name string) string {
	return normalizeKey(name)
}

// NormalizeTag folds a tag into its natural key using the company rules.
func NormalizeTag(tag string) string {
	return normalizeKey(tag)
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, s)
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeTags returns the set of non-empty normalized tags.
func NormalizeTags(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if k := NormalizeTag(t); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// NodeID is the id of the node with the given natural key. It is unique
// within a user partition.
func NodeID(t NodeType, key string) string {
	return strings.ToLower(string(t)) + ":" + key
}

// ContactNodeID is shorthand for NodeID(NodeContact, contactID)
func ContactNodeID(contactID string) string {
	return NodeID(NodeContact, contactID)
}

// OrderPair orders the endpoints of a symmetric edge.
func OrderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
