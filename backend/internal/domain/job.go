package domain

import "time"

// JobStatus is the lifecycle state of a discovery job
type JobStatus string

const (
	JobRunning             JobStatus = "running"
	JobCompleted           JobStatus = "completed"
	JobCompletedWithErrors JobStatus = "completed_with_errors"
	JobFailed              JobStatus = "failed"
)

// Done reports whether the job has reached a terminal status
func (s JobStatus) Done() bool {
	return s != JobRunning
}

// JobStats are the aggregate counters recorded for a discovery job
type JobStats struct {
	TotalContacts        int `json:"total_contacts"`
	CompaniesFound       int `json:"companies_found"`
	TagRelationships     int `json:"tag_relationships"`
	AutoCommitted        int `json:"auto_committed"`
	QueuedForReview      int `json:"queued_for_review"`
	DuplicatesSuppressed int `json:"duplicates_suppressed"`
	Failed               int `json:"failed"`
}

// DiscoveryJob is one run of the inference pass over a user's contacts
type DiscoveryJob struct {
	ID          string     `json:"job_id"`
	UserID      string     `json:"user_id"`
	Status      JobStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Stats       JobStats   `json:"stats"`
	// Owner identifies the process holding the job's lease.
	Owner string `json:"-"`
}

// Duration returns how long the job ran, or has been running so far.
func (j DiscoveryJob) Duration() time.Duration {
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(j.StartedAt)
	}
	return time.Since(j.StartedAt)
}

// DiscoveryResult is the caller-facing summary of a discovery job
type DiscoveryResult struct {
	JobID            string        `json:"job_id"`
	Status           JobStatus     `json:"status"`
	TotalContacts    int           `json:"total_contacts"`
	CompaniesFound   int           `json:"companies_found"`
	TagRelationships int           `json:"tag_relationships"`
	AutoCommitted    int           `json:"auto_committed"`
	QueuedForReview  int           `json:"queued_for_review"`
	Failed           int           `json:"failed"`
	Duration         time.Duration `json:"duration_ns"`
}

// ResultOf summarizes a job for callers.
func ResultOf(j DiscoveryJob) DiscoveryResult {
	return DiscoveryResult{
		JobID:            j.ID,
		Status:           j.Status,
		TotalContacts:    j.Stats.TotalContacts,
		CompaniesFound:   j.Stats.CompaniesFound,
		TagRelationships: j.Stats.TagRelationships,
		AutoCommitted:    j.Stats.AutoCommitted,
		QueuedForReview:  j.Stats.QueuedForReview,
		Failed:           j.Stats.Failed,
		Duration:         j.Duration(),
	}
}

// DiscoveryStats is the per-user aggregate view exposed by the job tracker
type DiscoveryStats struct {
	ContactCount    int64          `json:"contact_count"`
	CompanyCount    int64          `json:"company_count"`
	TagCount        int64          `json:"tag_count"`
	PendingByTier   map[Tier]int64 `json:"pending_by_tier"`
	LastDiscoveryAt *time.Time     `json:"last_discovery_at,omitempty"`
}
