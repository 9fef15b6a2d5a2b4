package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"broadcaster/internal/models"
)

// statusTable implements StatusStore for any campaign table with the common
// status, error, schedule_at, started_at and completed_at columns.
type statusTable struct {
	db       DB
	table    string
	resource string
}

// GetStatus returns the current campaign status
func (t statusTable) GetStatus(ctx context.Context, id int64) (models.CampaignStatus, error) {
	query := fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, t.table)

	var status models.CampaignStatus
	err := t.db.QueryRowContext(ctx, query, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s %d: %w", t.resource, id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s status: %w", t.resource, err)
	}

	return status, nil
}

// Transition performs a compare-and-set on the status column
func (t statusTable) Transition(ctx context.Context, id int64, from []models.CampaignStatus, to models.CampaignStatus, errText *string) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1,
			error = COALESCE($2, error),
			started_at = CASE WHEN $1 = 'running' THEN COALESCE(started_at, CURRENT_TIMESTAMP) ELSE started_at END,
			completed_at = CASE WHEN $1 IN ('completed', 'canceled', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $3 AND status = ANY($4)
	`, t.table)

	result, err := t.db.ExecContext(ctx, query, to, errText, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("failed to update %s status: %w", t.resource, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// PromoteDue flips due scheduled campaigns to running in a single statement
// so each campaign is promoted at most once.
func (t statusTable) PromoteDue(ctx context.Context, now time.Time) ([]int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'running',
			started_at = COALESCE(started_at, $1),
			updated_at = CURRENT_TIMESTAMP
		WHERE status = 'scheduled' AND schedule_at IS NOT NULL AND schedule_at <= $1
		RETURNING id
	`, t.table)

	rows, err := t.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to promote scheduled %s: %w", t.resource, err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// ListIDsByStatus returns campaign ids in the given status, oldest first
func (t statusTable) ListIDsByStatus(ctx context.Context, status models.CampaignStatus) ([]int64, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE status = $1 ORDER BY id ASC`, t.table)

	rows, err := t.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s by status: %w", t.resource, err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ids: %w", err)
	}
	return ids, nil
}

func statusStrings(statuses []models.CampaignStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
