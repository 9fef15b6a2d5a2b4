package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"broadcaster/internal/models"
)

const messageColumns = `
	id, COALESCE(batch_id, ''), channel, direction, to_address, COALESCE(from_address, ''),
	subject, body, status, provider_message_id, error, price, price_unit, num_segments,
	read_at, variant, followup_step, parent_message_id, campaign_id, marketing_campaign_id,
	campaign_step_id, template_id, customer_id, created_at, updated_at
`

type messageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new message ledger repository
func NewMessageRepository(db *sql.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create inserts a ledger row
func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	query := `
		INSERT INTO messages (
			batch_id, channel, direction, to_address, from_address, subject, body, status,
			provider_message_id, error, variant, followup_step, parent_message_id, campaign_id,
			marketing_campaign_id, campaign_step_id, template_id, customer_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		nullString(message.BatchID),
		message.Channel,
		message.Direction,
		message.ToAddress,
		nullString(message.FromAddress),
		message.Subject,
		message.Body,
		message.Status,
		message.ProviderMessageID,
		message.Error,
		message.Variant,
		message.FollowupStep,
		message.ParentMessageID,
		message.CampaignID,
		message.MarketingCampaignID,
		message.CampaignStepID,
		message.TemplateID,
		message.CustomerID,
	).Scan(&message.ID, &message.CreatedAt, &message.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("message with provider id: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

// GetByID retrieves a message by ID
func (r *messageRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return message, nil
}

// GetByProviderMessageID retrieves the most recent message carrying a provider id
func (r *messageRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id = $1 ORDER BY id DESC LIMIT 1`

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, providerMessageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message with provider id %q: %w", providerMessageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message by provider id: %w", err)
	}

	return message, nil
}

// GetStepMessage returns the latest outbound row a drip step left for a customer
func (r *messageRepository) GetStepMessage(ctx context.Context, stepID, customerID int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE campaign_step_id = $1 AND customer_id = $2 AND direction = 'outbound'
		ORDER BY id DESC LIMIT 1`

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, stepID, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message for step %d customer %d: %w", stepID, customerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step message: %w", err)
	}

	return message, nil
}

// RecordSendResult stores the transport outcome of a queued row
func (r *messageRepository) RecordSendResult(ctx context.Context, id int64, status models.MessageStatus, providerMessageID, errText *string) error {
	query := `
		UPDATE messages
		SET status = CASE WHEN status = 'queued' THEN $1 ELSE status END,
			provider_message_id = COALESCE(provider_message_id, $2),
			error = COALESCE($3, error),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $4
	`

	result, err := r.db.ExecContext(ctx, query, status, providerMessageID, errText, id)
	if err != nil {
		return fmt.Errorf("failed to record send result: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}

	return nil
}

// UpdateReconciled writes the callback-driven fields when the stored status
// still equals expected. It returns false when another writer moved the status
// first. read_at is only ever set once and unset fields never clear a column.
func (r *messageRepository) UpdateReconciled(ctx context.Context, message *models.Message, expected models.MessageStatus) (bool, error) {
	query := `
		UPDATE messages
		SET status = $1,
			error = COALESCE($2, error),
			price = COALESCE($3, price),
			price_unit = COALESCE($4, price_unit),
			num_segments = COALESCE($5, num_segments),
			read_at = COALESCE(read_at, $6),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $7 AND status = $8
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		message.Status,
		message.Error,
		message.Price,
		message.PriceUnit,
		message.NumSegments,
		message.ReadAt,
		message.ID,
		expected,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update message status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// AppendEvent adds one status history entry per (message, status)
func (r *messageRepository) AppendEvent(ctx context.Context, messageID int64, status models.MessageStatus, occurredAt time.Time) (bool, error) {
	query := `
		INSERT INTO message_events (message_id, status, occurred_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, status) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, messageID, status, occurredAt)
	if err != nil {
		return false, fmt.Errorf("failed to append message event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// AttemptedAddresses returns the recipient addresses that already have an outbound row in scope
func (r *messageRepository) AttemptedAddresses(ctx context.Context, scope MessageScope) (map[string]bool, error) {
	where, args := scopeFilter(scope)
	query := `SELECT DISTINCT to_address FROM messages WHERE ` + where

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempted addresses: %w", err)
	}
	defer rows.Close()

	attempted := make(map[string]bool)
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		attempted[address] = true
	}

	return attempted, rows.Err()
}

// ListFollowupCandidates returns initial email sends created before the cutoff that
// were handed to the provider and have no follow-up yet.
func (r *messageRepository) ListFollowupCandidates(ctx context.Context, campaignID int64, createdBefore time.Time) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages m
		WHERE m.campaign_id = $1
			AND m.channel = 'email'
			AND m.direction = 'outbound'
			AND m.followup_step = 0
			AND m.status NOT IN ('queued', 'failed', 'blocked', 'bounced')
			AND m.created_at <= $2
			AND NOT EXISTS (SELECT 1 FROM messages f WHERE f.parent_message_id = m.id)
		ORDER BY m.id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, campaignID, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list follow-up candidates: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

// CountPendingFollowups counts initial sends whose follow-up is not yet due
func (r *messageRepository) CountPendingFollowups(ctx context.Context, campaignID int64, createdAfter time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		WHERE m.campaign_id = $1
			AND m.channel = 'email'
			AND m.direction = 'outbound'
			AND m.followup_step = 0
			AND m.status NOT IN ('failed', 'blocked', 'bounced')
			AND m.created_at > $2
			AND NOT EXISTS (SELECT 1 FROM messages f WHERE f.parent_message_id = m.id)
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, campaignID, createdAfter).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending follow-ups: %w", err)
	}

	return count, nil
}

// GetStats aggregates ledger statuses for a campaign scope
func (r *messageRepository) GetStats(ctx context.Context, scope MessageScope) (*models.CampaignStats, error) {
	where, args := scopeFilter(scope)
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'queued') AS queued,
			COUNT(*) FILTER (WHERE status IN ('sent', 'accepted', 'sending', 'processed', 'deferred')) AS sent,
			COUNT(*) FILTER (WHERE status IN ('delivered', 'read', 'opened', 'clicked')) AS delivered,
			COUNT(*) FILTER (WHERE status IN ('failed', 'undelivered', 'bounced')) AS failed,
			COUNT(*) FILTER (WHERE status = 'blocked') AS blocked,
			COUNT(*) FILTER (WHERE read_at IS NOT NULL) AS read
		FROM messages
		WHERE ` + where

	stats := &models.CampaignStats{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Queued,
		&stats.Sent,
		&stats.Delivered,
		&stats.Failed,
		&stats.Blocked,
		&stats.Read,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	return stats, nil
}

// scopeFilter builds the WHERE clause for a campaign pass
func scopeFilter(scope MessageScope) (string, []interface{}) {
	conditions := []string{"direction = 'outbound'"}
	args := []interface{}{}
	argPos := 1

	if scope.Channel != "" {
		conditions = append(conditions, fmt.Sprintf("channel = $%d", argPos))
		args = append(args, scope.Channel)
		argPos++
	}
	if scope.CampaignID != nil {
		conditions = append(conditions, fmt.Sprintf("campaign_id = $%d", argPos))
		args = append(args, *scope.CampaignID)
		argPos++
	}
	if scope.MarketingCampaignID != nil {
		conditions = append(conditions, fmt.Sprintf("marketing_campaign_id = $%d", argPos))
		args = append(args, *scope.MarketingCampaignID)
		argPos++
	}
	if scope.FollowupStep >= 0 {
		conditions = append(conditions, fmt.Sprintf("followup_step = $%d", argPos))
		args = append(args, scope.FollowupStep)
	}

	return strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	message := &models.Message{}
	err := row.Scan(
		&message.ID,
		&message.BatchID,
		&message.Channel,
		&message.Direction,
		&message.ToAddress,
		&message.FromAddress,
		&message.Subject,
		&message.Body,
		&message.Status,
		&message.ProviderMessageID,
		&message.Error,
		&message.Price,
		&message.PriceUnit,
		&message.NumSegments,
		&message.ReadAt,
		&message.Variant,
		&message.FollowupStep,
		&message.ParentMessageID,
		&message.CampaignID,
		&message.MarketingCampaignID,
		&message.CampaignStepID,
		&message.TemplateID,
		&message.CustomerID,
		&message.CreatedAt,
		&message.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return message, nil
}
