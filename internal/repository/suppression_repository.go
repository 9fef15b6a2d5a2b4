package repository

import (
	"context"
	"database/sql"
	"fmt"

	"broadcaster/internal/models"
)

type suppressionRepository struct {
	db *sql.DB
}

// NewSuppressionRepository creates a new opt-out and blacklist repository
func NewSuppressionRepository(db *sql.DB) SuppressionRepository {
	return &suppressionRepository{db: db}
}

// Lookup checks both suppression sets for a normalized address
func (r *suppressionRepository) Lookup(ctx context.Context, address string) (models.SuppressionReason, error) {
	query := `
		SELECT CASE
			WHEN EXISTS (SELECT 1 FROM blacklist WHERE address = $1) THEN 'blacklist'
			WHEN EXISTS (SELECT 1 FROM opt_outs WHERE address = $1) THEN 'opt_out'
			ELSE ''
		END
	`

	var reason string
	if err := r.db.QueryRowContext(ctx, query, address).Scan(&reason); err != nil {
		return models.SuppressionNone, fmt.Errorf("failed to look up suppression: %w", err)
	}

	return models.SuppressionReason(reason), nil
}

// AddOptOut records an opt-out; repeating it is a no-op
func (r *suppressionRepository) AddOptOut(ctx context.Context, address, reason, source string) error {
	query := `
		INSERT INTO opt_outs (address, reason, source)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, address, nullString(reason), nullString(source)); err != nil {
		return fmt.Errorf("failed to add opt-out: %w", err)
	}

	return nil
}

// RemoveOptOut deletes an opt-out if present
func (r *suppressionRepository) RemoveOptOut(ctx context.Context, address string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM opt_outs WHERE address = $1`, address); err != nil {
		return fmt.Errorf("failed to remove opt-out: %w", err)
	}

	return nil
}

// AddBlacklist blocks an address; repeating it is a no-op
func (r *suppressionRepository) AddBlacklist(ctx context.Context, address, reason string) error {
	query := `
		INSERT INTO blacklist (address, reason)
		VALUES ($1, $2)
		ON CONFLICT (address) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, address, nullString(reason)); err != nil {
		return fmt.Errorf("failed to add blacklist entry: %w", err)
	}

	return nil
}
