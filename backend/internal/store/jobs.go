package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"contactgraph/backend/internal/domain"
	apperrors "contactgraph/backend/pkg/errors"
)

const jobColumns = `id, user_id, status, started_at, completed_at, error,
	total_contacts, companies_found, tag_relationships, auto_committed,
	queued_for_review, duplicates_suppressed, failed, owner`

// ErrLeaseLost is returned by Heartbeat when the job is no longer running
// under the caller's lease.
var ErrLeaseLost = errors.New("job lease lost")

// CreateJob inserts a running job owned by job.Owner, with its lease renewed
// as of job.StartedAt. It fails with ErrJobAlreadyRunning when the user
// already has one.
func (db *DB) CreateJob(ctx context.Context, job *domain.DiscoveryJob) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create job: %w", err)
	}
	defer tx.Rollback()

	var running string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM discovery_jobs WHERE user_id = ? AND status = 'running'", job.UserID,
	).Scan(&running)
	switch {
	case err == nil:
		return apperrors.NewJobAlreadyRunning(job.UserID, running)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check running job: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO discovery_jobs (id, user_id, status, started_at, heartbeat_at, owner, total_contacts)
		VALUES (?, ?, 'running', ?, ?, ?, ?)
	`, job.ID, job.UserID, toMillis(job.StartedAt), toMillis(job.StartedAt), job.Owner, job.Stats.TotalContacts)
	if isUniqueViolation(err) {
		return apperrors.NewJobAlreadyRunning(job.UserID, "")
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewJobAlreadyRunning(job.UserID, "")
		}
		return fmt.Errorf("commit create job: %w", err)
	}
	job.Status = domain.JobRunning
	return nil
}

// FinishJob records the terminal status and final stats of a running job.
func (db *DB) FinishJob(ctx context.Context, job *domain.DiscoveryJob) error {
	if !job.Status.Done() {
		return fmt.Errorf("finish job %s: status %q is not terminal", job.ID, job.Status)
	}
	completed := db.now().UTC()
	if job.CompletedAt != nil {
		completed = *job.CompletedAt
	}
	s := job.Stats
	res, err := db.ExecContext(ctx, `
		UPDATE discovery_jobs SET
			status = ?, completed_at = ?, error = ?,
			total_contacts = ?, companies_found = ?, tag_relationships = ?,
			auto_committed = ?, queued_for_review = ?, duplicates_suppressed = ?, failed = ?
		WHERE id = ? AND status = 'running'
	`, string(job.Status), toMillis(completed), job.Error,
		s.TotalContacts, s.CompaniesFound, s.TagRelationships,
		s.AutoCommitted, s.QueuedForReview, s.DuplicatesSuppressed, s.Failed,
		job.ID)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish job %s: not running", job.ID)
	}
	job.CompletedAt = &completed
	return nil
}

// GetJob returns a job owned by userID.
func (db *DB) GetJob(ctx context.Context, userID, jobID string) (*domain.DiscoveryJob, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM discovery_jobs WHERE id = ? AND user_id = ?", jobID, userID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// LastDiscoveryAt returns the completion time of the newest finished job.
func (db *DB) LastDiscoveryAt(ctx context.Context, userID string) (*time.Time, error) {
	var ms sql.NullInt64
	err := db.QueryRowContext(ctx,
		"SELECT MAX(completed_at) FROM discovery_jobs WHERE user_id = ? AND status != 'running'", userID,
	).Scan(&ms)
	if err != nil {
		return nil, fmt.Errorf("last discovery: %w", err)
	}
	return fromNullMillis(ms), nil
}

// Heartbeat renews the lease of a running job held by owner.
func (db *DB) Heartbeat(ctx context.Context, jobID, owner string) error {
	res, err := db.ExecContext(ctx,
		"UPDATE discovery_jobs SET heartbeat_at = ? WHERE id = ? AND owner = ? AND status = 'running'",
		toMillis(db.now()), jobID, owner)
	if err != nil {
		return fmt.Errorf("heartbeat job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// FailStaleJobs marks running jobs whose lease was last renewed before
// staleBefore as failed. Jobs of live processes keep renewing and are left alone.
func (db *DB) FailStaleJobs(ctx context.Context, staleBefore time.Time, reason string) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE discovery_jobs SET status = 'failed', error = ?, completed_at = ?
		WHERE status = 'running' AND heartbeat_at < ?
	`, reason, toMillis(db.now()), toMillis(staleBefore))
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteUser removes every review row and job of userID. The caller holds
// the user's running slot through claimID, which is deleted with the rest;
// any other running job makes it fail with ErrJobAlreadyRunning.
func (db *DB) DeleteUser(ctx context.Context, userID, claimID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete user: %w", err)
	}
	defer tx.Rollback()

	var running string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM discovery_jobs WHERE user_id = ? AND status = 'running' AND id != ?", userID, claimID,
	).Scan(&running)
	switch {
	case err == nil:
		return apperrors.NewJobAlreadyRunning(userID, running)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check running job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_relationships WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM discovery_jobs WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}
	return tx.Commit()
}

// DeleteJob removes one job row of userID together with its review rows.
func (db *DB) DeleteJob(ctx context.Context, userID, jobID string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM discovery_jobs WHERE id = ? AND user_id = ?", jobID, userID)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.DiscoveryJob, error) {
	var (
		j         domain.DiscoveryJob
		status    string
		started   int64
		completed sql.NullInt64
	)
	err := row.Scan(&j.ID, &j.UserID, &status, &started, &completed, &j.Error,
		&j.Stats.TotalContacts, &j.Stats.CompaniesFound, &j.Stats.TagRelationships,
		&j.Stats.AutoCommitted, &j.Stats.QueuedForReview, &j.Stats.DuplicatesSuppressed, &j.Stats.Failed,
		&j.Owner)
	if err != nil {
		return nil, err
	}
	j.Status = domain.JobStatus(status)
	j.StartedAt = fromMillis(started)
	j.CompletedAt = fromNullMillis(completed)
	return &j, nil
}
