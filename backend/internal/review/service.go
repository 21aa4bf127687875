// Package review is the human-review queue for medium and low confidence
// relationships. Approval commits the edge to the graph store; rejection
// never touches the graph.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"contactgraph/backend/internal/cache"
	"contactgraph/backend/internal/discovery"
	"contactgraph/backend/internal/domain"
	"contactgraph/backend/internal/graph"
	"contactgraph/backend/internal/metrics"
	"contactgraph/backend/internal/store"
	apperrors "contactgraph/backend/pkg/errors"
	"contactgraph/backend/pkg/logger"
)

// Queue is the persistence the service needs. *store.DB implements it.
type Queue interface {
	GetJob(ctx context.Context, userID, jobID string) (*domain.DiscoveryJob, error)
	InsertPending(ctx context.Context, p *domain.PendingRelationship) (bool, error)
	GetPending(ctx context.Context, userID, id string) (*domain.PendingRelationship, error)
	ListPending(ctx context.Context, userID, jobID string, tier domain.Tier) ([]domain.PendingRelationship, error)
	CountReviewed(ctx context.Context, userID, jobID string, tier domain.Tier) (int, error)
	Transition(ctx context.Context, userID, id string, to domain.ReviewStatus) (bool, error)
	MarkCommitted(ctx context.Context, userID, id string) error
}

var _ Queue = (*store.DB)(nil)

// Page is one tier of one job's review queue.
type Page struct {
	Relationships []domain.PendingRelationship `json:"relationships"`
	Total         int                          `json:"total"`
	Reviewed      int                          `json:"reviewed"`
}

// ApproveResult reports whether the approved edge is in the graph.
type ApproveResult struct {
	Committed bool `json:"committed"`
}

// RejectResult is returned by Reject.
type RejectResult struct {
	OK bool `json:"ok"`
}

// EnqueueResult counts what happened to each queued candidate.
type EnqueueResult struct {
	Inserted   int
	Suppressed int
	Failed     int
}

// Service implements the review queue.
type Service struct {
	queue   Queue
	graph   graph.Store
	cache   cache.Invalidator
	metrics *metrics.Collector
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCache sets the search-cache hook called after an approval commits.
func WithCache(inv cache.Invalidator) Option {
	return func(s *Service) { s.cache = inv }
}

// WithMetrics records review actions on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a review service over queue and g.
func NewService(queue Queue, g graph.Store, opts ...Option) *Service {
	s := &Service{
		queue:  queue,
		graph:  g,
		cache:  cache.Nop{},
		tracer: otel.Tracer("contactgraph/review"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrNop(s.logger)
	return s
}

// ParseTier accepts the reviewable tiers, case-insensitively.
func ParseTier(s string) (domain.Tier, error) {
	t := domain.Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Reviewable() {
		return "", apperrors.NewInvalidTier(s)
	}
	return t, nil
}

// GetPendingRelationships lists the still-pending relationships of a job's
// tier. Total counts pending and already reviewed rows of that tier.
func (s *Service) GetPendingRelationships(ctx context.Context, userID, jobID, tier string) (*Page, error) {
	t, err := ParseTier(tier)
	if err != nil {
		return nil, err
	}
	if _, err := s.queue.GetJob(ctx, userID, jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NewJobNotFound(jobID)
		}
		return nil, err
	}

	rels, err := s.queue.ListPending(ctx, userID, jobID, t)
	if err != nil {
		return nil, err
	}
	reviewed, err := s.queue.CountReviewed(ctx, userID, jobID, t)
	if err != nil {
		return nil, err
	}
	return &Page{Relationships: rels, Total: len(rels) + reviewed, Reviewed: reviewed}, nil
}

// Approve moves a pending relationship to approved and commits its edge.
// Approving a rejected row is a no-op reporting committed=false. Approving
// an approved row re-attempts the commit if it never reached the graph.
func (s *Service) Approve(ctx context.Context, userID, id string) (*ApproveResult, error) {
	ctx, span := s.tracer.Start(ctx, "review.Approve", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("relationship_id", id),
	))
	defer span.End()

	p, err := s.get(ctx, userID, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	applied := false
	if p.ReviewStatus == domain.ReviewPending {
		applied, err = s.queue.Transition(ctx, userID, id, domain.ReviewApproved)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if !applied {
			// lost the race, act on whatever the winner recorded
			if p, err = s.get(ctx, userID, id); err != nil {
				return nil, err
			}
		} else {
			p.ReviewStatus = domain.ReviewApproved
		}
	}
	s.metrics.Review("approve", applied)

	switch p.ReviewStatus {
	case domain.ReviewRejected:
		return &ApproveResult{Committed: false}, nil
	case domain.ReviewApproved:
		if p.Committed {
			return &ApproveResult{Committed: true}, nil
		}
	default:
		return nil, fmt.Errorf("approve %s: unexpected status %q", id, p.ReviewStatus)
	}

	if err := s.graph.UpsertEdge(ctx, userID, p.SourceID, p.TargetID, p.EdgeType, p.ConfidenceScore); err != nil {
		s.metrics.Commit("edge", false)
		s.logger.Warn("Approved relationship not committed",
			zap.String("user_id", userID),
			zap.String("relationship_id", id),
			zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return nil, err
	}
	s.metrics.Commit("edge", true)
	if err := s.queue.MarkCommitted(ctx, userID, id); err != nil {
		return nil, err
	}
	cache.BestEffort(ctx, s.cache, s.logger, userID, cache.ReasonApproval)

	s.logger.Info("Relationship approved",
		zap.String("user_id", userID),
		zap.String("relationship_id", id),
		zap.String("edge_type", string(p.EdgeType)))
	return &ApproveResult{Committed: true}, nil
}

// Reject moves a pending relationship to rejected. Rejecting a terminal row
// is a no-op.
func (s *Service) Reject(ctx context.Context, userID, id string) (*RejectResult, error) {
	p, err := s.get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	applied := false
	if p.ReviewStatus == domain.ReviewPending {
		if applied, err = s.queue.Transition(ctx, userID, id, domain.ReviewRejected); err != nil {
			return nil, err
		}
	}
	s.metrics.Review("reject", applied)
	return &RejectResult{OK: true}, nil
}

// Enqueue queues reviewable candidates of a job. Candidates whose edge is
// already pending or approved are suppressed. Per-candidate store failures
// are logged and counted, never returned.
func (s *Service) Enqueue(ctx context.Context, jobID, userID string, candidates []discovery.Candidate) (EnqueueResult, error) {
	var res EnqueueResult
	log := logger.ForJob(s.logger, userID, jobID)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, apperrors.NewContextCancelled("enqueue review candidates", err)
		}
		p := &domain.PendingRelationship{
			ID:              uuid.NewString(),
			JobID:           jobID,
			UserID:          userID,
			SourceID:        c.SourceID,
			TargetID:        c.TargetID,
			EdgeType:        c.EdgeType,
			ConfidenceScore: c.Confidence,
			Tier:            c.Tier,
			CreatedAt:       s.now().UTC(),
		}
		inserted, err := s.queue.InsertPending(ctx, p)
		switch {
		case err != nil:
			res.Failed++
			log.Warn("Failed to queue relationship",
				zap.String("source_id", c.SourceID),
				zap.String("target_id", c.TargetID),
				zap.String("edge_type", string(c.EdgeType)),
				zap.Error(err))
		case inserted:
			res.Inserted++
		default:
			res.Suppressed++
		}
	}
	s.metrics.Suppressed(res.Suppressed)
	return res, nil
}

func (s *Service) get(ctx context.Context, userID, id string) (*domain.PendingRelationship, error) {
	p, err := s.queue.GetPending(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NewRelationshipNotFound(id)
	}
	return p, err
}
