// Package jobs runs discovery jobs in the background and records their
// outcome.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
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
	"contactgraph/backend/internal/review"
	"contactgraph/backend/internal/store"
	apperrors "contactgraph/backend/pkg/errors"
	"contactgraph/backend/pkg/logger"
)

const (
	// DefaultBudget is the wall-clock limit of a job when none is configured.
	DefaultBudget = 10 * time.Minute
	// DefaultLease is how long a running job stays claimed without a heartbeat.
	// Its owner renews it every third of the lease.
	DefaultLease = 30 * time.Second
)

// StaleReason is recorded on jobs failed because their lease expired.
const StaleReason = "interrupted: owning process stopped renewing its lease"

// ErrShuttingDown is returned by Submit after Shutdown was called.
var ErrShuttingDown = errors.New("job tracker is shutting down")

// Store persists job records. *store.DB implements it.
type Store interface {
	CreateJob(ctx context.Context, job *domain.DiscoveryJob) error
	Heartbeat(ctx context.Context, jobID, owner string) error
	FinishJob(ctx context.Context, job *domain.DiscoveryJob) error
	GetJob(ctx context.Context, userID, jobID string) (*domain.DiscoveryJob, error)
	LastDiscoveryAt(ctx context.Context, userID string) (*time.Time, error)
	FailStaleJobs(ctx context.Context, staleBefore time.Time, reason string) (int64, error)
	DeleteUser(ctx context.Context, userID, claimID string) error
	DeleteJob(ctx context.Context, userID, jobID string) error
	PendingCountsByTier(ctx context.Context, userID string) (map[domain.Tier]int64, error)
}

var _ Store = (*store.DB)(nil)

// Tracker starts discovery jobs and tracks the ones in flight. The running
// slot of a user is a job row leased to the tracker's owner id, so trackers
// of different processes sharing one store exclude each other.
type Tracker struct {
	engine  *discovery.Engine
	graph   graph.Store
	store   Store
	reviews *review.Service
	cache   cache.Invalidator
	metrics *metrics.Collector
	logger  *zap.Logger
	tracer  trace.Tracer
	budget  time.Duration
	lease   time.Duration
	owner   string
	now     func() time.Time

	mu       sync.Mutex
	wg       sync.WaitGroup
	closing  bool
	inflight map[string]*inflight // by job id
}

type inflight struct {
	userID string
	done   chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBudget bounds the wall-clock duration of each job.
func WithBudget(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.budget = d
		}
	}
}

// WithLease sets how long a job stays claimed without a heartbeat.
func WithLease(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.lease = d
		}
	}
}

// WithCache sets the search-cache hook called after a job commits.
func WithCache(inv cache.Invalidator) Option {
	return func(t *Tracker) { t.cache = inv }
}

// WithMetrics records job metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(t *Tracker) { t.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a job tracker.
func NewTracker(engine *discovery.Engine, g graph.Store, s Store, reviews *review.Service, opts ...Option) *Tracker {
	t := &Tracker{
		engine:   engine,
		graph:    g,
		store:    s,
		reviews:  reviews,
		cache:    cache.Nop{},
		tracer:   otel.Tracer("contactgraph/jobs"),
		budget:   DefaultBudget,
		lease:    DefaultLease,
		owner:    uuid.NewString(),
		now:      time.Now,
		inflight: make(map[string]*inflight),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logger.OrNop(t.logger)
	return t
}

// Submit records a running job and starts it in the background. The job is
// detached from ctx and bounded by the tracker budget. Invalid input or an
// unhealthy graph store records the job as failed and returns the cause.
func (t *Tracker) Submit(ctx context.Context, userID string, contacts []domain.Contact, opts discovery.Options) (*domain.DiscoveryJob, error) {
	if userID == "" {
		return nil, apperrors.NewInputValidation("user_id", "must not be empty")
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil, ErrShuttingDown
	}
	t.mu.Unlock()

	job := &domain.DiscoveryJob{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartedAt: t.now().UTC(),
		Stats:     domain.JobStats{TotalContacts: len(contacts)},
		Owner:     t.owner,
	}
	if err := t.claim(ctx, job); err != nil {
		var running *apperrors.ErrJobAlreadyRunning
		if apperrors.As(err, &running) {
			t.metrics.JobRejected("already_running")
		} else {
			t.metrics.JobRejected("store_error")
		}
		return nil, err
	}
	log := logger.ForJob(t.logger, userID, job.ID)

	if err := discovery.ValidateInput(userID, contacts, opts); err != nil {
		return nil, t.failEarly(ctx, job, log, err)
	}
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	health := t.graph.HealthCheck(hctx)
	cancel()
	if !health.Healthy {
		return nil, t.failEarly(ctx, job, log, apperrors.NewGraphStoreUnavailable(health.Detail, nil))
	}

	fl := &inflight{userID: userID, done: make(chan struct{})}
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil, t.failEarly(ctx, job, log, ErrShuttingDown)
	}
	t.inflight[job.ID] = fl
	t.wg.Add(1)
	t.mu.Unlock()

	link := trace.LinkFromContext(ctx)
	runCtx, cancelRun := context.WithTimeout(context.WithoutCancel(ctx), t.budget)
	started := *job
	go func() {
		defer t.wg.Done()
		defer cancelRun()
		defer t.release(job.ID, fl)
		t.run(runCtx, job, contacts, opts, link, log)
	}()

	log.Info("Discovery job started", zap.Int("contacts", len(contacts)), zap.Duration("budget", t.budget))
	return &started, nil
}

// claim records job as the user's running job. A running row whose lease
// expired is failed first, so a crashed process never blocks the user.
func (t *Tracker) claim(ctx context.Context, job *domain.DiscoveryJob) error {
	err := t.store.CreateJob(ctx, job)
	var running *apperrors.ErrJobAlreadyRunning
	if !apperrors.As(err, &running) {
		return err
	}
	n, ferr := t.store.FailStaleJobs(ctx, t.now().Add(-t.lease), StaleReason)
	if ferr != nil || n == 0 {
		return err
	}
	t.logger.Warn("Took over running slot from an expired job",
		zap.String("user_id", job.UserID),
		zap.String("stale_job_id", running.JobID))
	return t.store.CreateJob(ctx, job)
}

// heartbeat renews the lease of job until the returned stop is called or
// ctx ends. Losing the lease cancels ctx through lose.
func (t *Tracker) heartbeat(ctx context.Context, job *domain.DiscoveryJob, lose context.CancelCauseFunc, log *zap.Logger) (stop func()) {
	quit := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		tick := time.NewTicker(t.lease / 3)
		defer tick.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-tick.C:
			}
			hctx, cancel := context.WithTimeout(ctx, t.lease/3)
			err := t.store.Heartbeat(hctx, job.ID, job.Owner)
			cancel()
			switch {
			case errors.Is(err, store.ErrLeaseLost):
				log.Error("Job lease lost, stopping", zap.Error(err))
				lose(err)
				return
			case err != nil:
				log.Warn("Job heartbeat failed", zap.Error(err))
			}
		}
	}()
	return func() {
		close(quit)
		<-stopped
	}
}

func (t *Tracker) failEarly(ctx context.Context, job *domain.DiscoveryJob, log *zap.Logger, cause error) error {
	job.Status = domain.JobFailed
	job.Error = cause.Error()
	if err := t.store.FinishJob(context.WithoutCancel(ctx), job); err != nil {
		log.Error("Failed to record failed job", zap.Error(err))
	}
	t.metrics.JobRejected(string(domain.JobFailed))
	log.Warn("Discovery job rejected", zap.Error(cause))
	return cause
}

func (t *Tracker) release(jobID string, fl *inflight) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, jobID)
	close(fl.done)
}

// run executes one job. ctx carries the job budget.
func (t *Tracker) run(ctx context.Context, job *domain.DiscoveryJob, contacts []domain.Contact, opts discovery.Options, link trace.Link, log *zap.Logger) {
	ctx, span := t.tracer.Start(ctx, "jobs.run",
		trace.WithNewRoot(),
		trace.WithLinks(link),
		trace.WithAttributes(
			attribute.String("user_id", job.UserID),
			attribute.String("job_id", job.ID),
			attribute.Int("contacts", len(contacts)),
		))
	defer span.End()

	t.metrics.JobStarted()
	defer func() {
		t.metrics.JobFinished(string(job.Status), t.now().Sub(job.StartedAt))
	}()

	ctx, lose := context.WithCancelCause(ctx)
	defer lose(nil)
	stopBeat := t.heartbeat(ctx, job, lose, log)
	err := t.execute(ctx, job, contacts, opts, log)
	stopBeat()
	if err != nil {
		switch cause := context.Cause(ctx); {
		case errors.Is(cause, store.ErrLeaseLost):
			err = fmt.Errorf("job %s: %w", job.ID, cause)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			err = apperrors.NewJobBudgetExceeded(job.ID, t.budget)
		}
	}
	switch {
	case err != nil:
		job.Status = domain.JobFailed
		job.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "job failed")
	case job.Stats.Failed > 0:
		job.Status = domain.JobCompletedWithErrors
	default:
		job.Status = domain.JobCompleted
	}

	if job.Stats.AutoCommitted > 0 {
		cache.BestEffort(ctx, t.cache, log, job.UserID, cache.ReasonDiscovery)
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if ferr := t.store.FinishJob(fctx, job); ferr != nil {
		log.Error("Failed to record job outcome", zap.Error(ferr))
	}

	fields := []zap.Field{
		zap.String("status", string(job.Status)),
		zap.Int("auto_committed", job.Stats.AutoCommitted),
		zap.Int("queued_for_review", job.Stats.QueuedForReview),
		zap.Int("duplicates_suppressed", job.Stats.DuplicatesSuppressed),
		zap.Int("failed", job.Stats.Failed),
	}
	if err != nil {
		log.Error("Discovery job failed", append(fields, zap.Error(err))...)
		return
	}
	log.Info("Discovery job finished", fields...)
}

// execute runs the engine and commits its outcome. Graph writes are
// individually idempotent, so a failed item is counted and skipped.
func (t *Tracker) execute(ctx context.Context, job *domain.DiscoveryJob, contacts []domain.Contact, opts discovery.Options, log *zap.Logger) error {
	out, err := t.engine.Discover(ctx, job.UserID, contacts, opts)
	if err != nil {
		return err
	}
	job.Stats.TotalContacts = out.TotalContacts
	job.Stats.CompaniesFound = out.CompaniesFound
	job.Stats.TagRelationships = out.TagRelationships
	t.metrics.Candidates(string(domain.TierHigh), len(out.High))
	t.metrics.Candidates(string(domain.TierMedium), len(out.Medium))
	t.metrics.Candidates(string(domain.TierLow), len(out.Low))
	for _, msg := range out.StrategyErrors {
		log.Warn("Discovery strategy degraded", zap.String("detail", msg))
	}

	for _, n := range out.Nodes {
		if err := ctx.Err(); err != nil {
			return apperrors.NewContextCancelled("commit nodes", err)
		}
		if _, err := t.graph.UpsertNode(ctx, job.UserID, n.Type, n.Key, n.Props); err != nil {
			job.Stats.Failed++
			t.metrics.Commit("node", false)
			log.Warn("Node commit failed",
				zap.Error(apperrors.NewPartialCommitFailure(n.ID(), err)))
			continue
		}
		t.metrics.Commit("node", true)
	}

	for _, c := range out.High {
		if err := ctx.Err(); err != nil {
			return apperrors.NewContextCancelled("commit edges", err)
		}
		if err := t.graph.UpsertEdge(ctx, job.UserID, c.SourceID, c.TargetID, c.EdgeType, c.Confidence); err != nil {
			job.Stats.Failed++
			t.metrics.Commit("edge", false)
			item := fmt.Sprintf("%s %s->%s", c.EdgeType, c.SourceID, c.TargetID)
			log.Warn("Edge commit failed",
				zap.Error(apperrors.NewPartialCommitFailure(item, err)))
			continue
		}
		job.Stats.AutoCommitted++
		t.metrics.Commit("edge", true)
	}

	res, err := t.reviews.Enqueue(ctx, job.ID, job.UserID, out.Reviewable())
	job.Stats.QueuedForReview = res.Inserted
	job.Stats.DuplicatesSuppressed = res.Suppressed
	job.Stats.Failed += res.Failed
	return err
}

// Wait blocks until the job finishes or ctx is done, then returns the job
// as currently recorded. A job still running when ctx expires is returned
// with status running and no error.
func (t *Tracker) Wait(ctx context.Context, userID, jobID string) (*domain.DiscoveryJob, error) {
	t.mu.Lock()
	fl, ok := t.inflight[jobID]
	t.mu.Unlock()
	if ok && fl.userID == userID {
		select {
		case <-fl.done:
		case <-ctx.Done():
		}
	}
	return t.Job(context.WithoutCancel(ctx), userID, jobID)
}

// Job returns the recorded state of a job of userID.
func (t *Tracker) Job(ctx context.Context, userID, jobID string) (*domain.DiscoveryJob, error) {
	job, err := t.store.GetJob(ctx, userID, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NewJobNotFound(jobID)
	}
	return job, err
}

// Stats aggregates graph and review queue counters of userID.
func (t *Tracker) Stats(ctx context.Context, userID string) (*domain.DiscoveryStats, error) {
	counts, err := t.graph.NodeCounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	pending, err := t.store.PendingCountsByTier(ctx, userID)
	if err != nil {
		return nil, err
	}
	last, err := t.store.LastDiscoveryAt(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.DiscoveryStats{
		ContactCount:    counts[domain.NodeContact],
		CompanyCount:    counts[domain.NodeCompany],
		TagCount:        counts[domain.NodeTag],
		PendingByTier:   pending,
		LastDiscoveryAt: last,
	}, nil
}

// Purge deletes the user's graph partition, review rows and finished jobs.
// It holds the user's running slot while deleting, so it refuses while a job
// of the user runs in any process, and no job starts until it is done.
func (t *Tracker) Purge(ctx context.Context, userID string) (int64, error) {
	claim := &domain.DiscoveryJob{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartedAt: t.now().UTC(),
		Owner:     t.owner,
	}
	if err := t.claim(ctx, claim); err != nil {
		return 0, err
	}
	ctx, lose := context.WithCancelCause(ctx)
	defer lose(nil)
	stopBeat := t.heartbeat(ctx, claim, lose, t.logger)
	deleted, err := t.graph.DeleteAllForUser(ctx, userID)
	stopBeat()
	if err != nil {
		if rerr := t.store.DeleteJob(context.WithoutCancel(ctx), userID, claim.ID); rerr != nil {
			t.logger.Error("Failed to release purge claim", zap.String("user_id", userID), zap.Error(rerr))
		}
		return 0, err
	}
	if err := t.store.DeleteUser(ctx, userID, claim.ID); err != nil {
		return deleted, err
	}
	cache.BestEffort(ctx, t.cache, t.logger, userID, cache.ReasonPurge)
	t.logger.Info("User graph purged", zap.String("user_id", userID), zap.Int64("nodes", deleted))
	return deleted, nil
}

// RecoverStale fails running jobs whose lease expired, left behind by a
// process that crashed. Jobs of live processes keep renewing their lease and
// are not touched, so any process sharing the store may call it.
func (t *Tracker) RecoverStale(ctx context.Context) (int64, error) {
	n, err := t.store.FailStaleJobs(ctx, t.now().Add(-t.lease), StaleReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.logger.Warn("Marked stale discovery jobs as failed", zap.Int64("count", n))
	}
	return n, nil
}

// Shutdown stops accepting jobs and waits for in-flight ones, or for ctx.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.logger.Info("All discovery jobs finished")
		return nil
	case <-ctx.Done():
		return apperrors.NewContextCancelled("wait for discovery jobs", ctx.Err())
	}
}
