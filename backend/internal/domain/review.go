package domain

import "time"

// Tier is the confidence bucket of a discovered relationship
type Tier string

const (
	TierHigh    Tier = "high"
	TierMedium  Tier = "medium"
	TierLow     Tier = "low"
	TierDiscard Tier = "discard"
)

// Confidence thresholds for tiering.
const (
	HighConfidence   = 0.85
	MediumConfidence = 0.5
	LowConfidence    = 0.3
)

// TierFor buckets a confidence score.
func TierFor(confidence float64) Tier {
	switch {
	case confidence >= HighConfidence:
		return TierHigh
	case confidence >= MediumConfidence:
		return TierMedium
	case confidence >= LowConfidence:
		return TierLow
	default:
		return TierDiscard
	}
}

// Reviewable reports whether relationships of this tier go to the review queue
func (t Tier) Reviewable() bool {
	return t == TierMedium || t == TierLow
}

// ReviewStatus is the state of a pending relationship
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Terminal reports whether no further transition may leave s.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewApproved || s == ReviewRejected
}

// PendingRelationship is a discovered edge awaiting human review.
type PendingRelationship struct {
	ID              string       `json:"id"`
	JobID           string       `json:"job_id"`
	UserID          string       `json:"user_id"`
	SourceID        string       `json:"source_id"`
	TargetID        string       `json:"target_id"`
	EdgeType        EdgeType     `json:"edge_type"`
	ConfidenceScore float64      `json:"confidence_score"`
	Tier            Tier         `json:"tier"`
	ReviewStatus    ReviewStatus `json:"review_status"`
	Committed       bool         `json:"committed"`
	CreatedAt       time.Time    `json:"created_at"`
	ReviewedAt      *time.Time   `json:"reviewed_at,omitempty"`
}

// Key returns the identity of the edge this relationship would commit.
func (p PendingRelationship) Key() EdgeKey {
	return EdgeKey{SourceID: p.SourceID, TargetID: p.TargetID, Type: p.EdgeType}
}
