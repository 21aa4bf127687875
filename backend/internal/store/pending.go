package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"contactgraph/backend/internal/domain"
)

const pendingColumns = `id, job_id, user_id, source_id, target_id, edge_type, confidence,
	tier, review_status, committed, created_at, reviewed_at`

// InsertPending queues a relationship for review. It reports false, with no
// error, when a pending or approved row already exists for the same edge.
func (db *DB) InsertPending(ctx context.Context, p *domain.PendingRelationship) (bool, error) {
	if !p.Tier.Reviewable() {
		return false, fmt.Errorf("insert pending %s: tier %q is not reviewable", p.ID, p.Tier)
	}
	res, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO pending_relationships
			(id, job_id, user_id, source_id, target_id, edge_type, confidence, tier, review_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)
	`, p.ID, p.JobID, p.UserID, p.SourceID, p.TargetID, string(p.EdgeType),
		p.ConfidenceScore, string(p.Tier), toMillis(p.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert pending: %w", err)
	}
	if n == 1 {
		p.ReviewStatus = domain.ReviewPending
	}
	return n == 1, nil
}

// GetPending returns a relationship owned by userID.
func (db *DB) GetPending(ctx context.Context, userID, id string) (*domain.PendingRelationship, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+pendingColumns+" FROM pending_relationships WHERE id = ? AND user_id = ?", id, userID)
	p, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending %s: %w", id, err)
	}
	return p, nil
}

// ListPending returns the still-pending relationships of one job and tier,
// highest confidence first.
func (db *DB) ListPending(ctx context.Context, userID, jobID string, tier domain.Tier) ([]domain.PendingRelationship, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+pendingColumns+` FROM pending_relationships
		WHERE user_id = ? AND job_id = ? AND tier = ? AND review_status = 'pending'
		ORDER BY confidence DESC, id ASC`, userID, jobID, string(tier))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	out := []domain.PendingRelationship{}
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// CountReviewed counts approved and rejected relationships of one job and tier.
func (db *DB) CountReviewed(ctx context.Context, userID, jobID string, tier domain.Tier) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_relationships
		WHERE user_id = ? AND job_id = ? AND tier = ? AND review_status != 'pending'
	`, userID, jobID, string(tier)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reviewed: %w", err)
	}
	return n, nil
}

// Transition moves a pending relationship to a terminal status. It reports
// false when the row was no longer pending.
func (db *DB) Transition(ctx context.Context, userID, id string, to domain.ReviewStatus) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("transition %s: %q is not terminal", id, to)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE pending_relationships SET review_status = ?, reviewed_at = ?
		WHERE id = ? AND user_id = ? AND review_status = 'pending'
	`, string(to), toMillis(db.now()), id, userID)
	if err != nil {
		return false, fmt.Errorf("transition %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition %s: %w", id, err)
	}
	return n == 1, nil
}

// MarkCommitted records that an approved relationship reached the graph.
func (db *DB) MarkCommitted(ctx context.Context, userID, id string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE pending_relationships SET committed = 1
		WHERE id = ? AND user_id = ? AND review_status = 'approved'
	`, id, userID)
	if err != nil {
		return fmt.Errorf("mark committed %s: %w", id, err)
	}
	return nil
}

// PendingCountsByTier counts still-pending relationships across all jobs.
func (db *DB) PendingCountsByTier(ctx context.Context, userID string) (map[domain.Tier]int64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT tier, COUNT(*) FROM pending_relationships
		WHERE user_id = ? AND review_status = 'pending'
		GROUP BY tier
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("pending counts: %w", err)
	}
	defer rows.Close()

	counts := map[domain.Tier]int64{domain.TierMedium: 0, domain.TierLow: 0}
	for rows.Next() {
		var tier string
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("scan pending counts: %w", err)
		}
		counts[domain.Tier(tier)] = n
	}
	return counts, rows.Err()
}

func scanPending(row scanner) (*domain.PendingRelationship, error) {
	var (
		p         domain.PendingRelationship
		edgeType  string
		tier      string
		status    string
		committed int
		created   int64
		reviewed  sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.JobID, &p.UserID, &p.SourceID, &p.TargetID, &edgeType,
		&p.ConfidenceScore, &tier, &status, &committed, &created, &reviewed)
	if err != nil {
		return nil, err
	}
	p.EdgeType = domain.EdgeType(edgeType)
	p.Tier = domain.Tier(tier)
	p.ReviewStatus = domain.ReviewStatus(status)
	p.Committed = committed == 1
	p.CreatedAt = fromMillis(created)
	p.ReviewedAt = fromNullMillis(reviewed)
	return &p, nil
}
