package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"broadcaster/internal/models"
)

type emailCampaignRepository struct {
	statusTable
	db *sql.DB
}

// NewEmailCampaignRepository creates a new email campaign repository
func NewEmailCampaignRepository(db *sql.DB) EmailCampaignRepository {
	return &emailCampaignRepository{
		statusTable: statusTable{db: db, table: "email_campaigns", resource: "email campaign"},
		db:          db,
	}
}

// Create creates a new email campaign
func (r *emailCampaignRepository) Create(ctx context.Context, campaign *models.EmailCampaign) error {
	if campaign.Status == "" {
		campaign.Status = models.CampaignStatusDraft
	}
	if campaign.FollowupCondition == "" {
		campaign.FollowupCondition = models.FollowupUnread
	}
	if campaign.FollowupDelayMinutes <= 0 {
		campaign.FollowupDelayMinutes = 60
	}

	rules, err := toJSON(campaign.Targeting.Rules)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO email_campaigns (
			name, from_email, from_name, subject, text_body, html_body, status, schedule_at,
			rate_per_minute, batch_size, target_recipients, target_group_ids, target_tags, target_rules,
			followup_enabled, followup_delay_minutes, followup_condition, followup_subject,
			followup_text, followup_html
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRowContext(
		ctx,
		query,
		campaign.Name,
		nullString(campaign.FromEmail),
		nullString(campaign.FromName),
		campaign.Subject,
		nullString(campaign.Text),
		nullString(campaign.HTML),
		campaign.Status,
		campaign.ScheduleAt,
		campaign.RatePerMinute,
		campaign.BatchSize,
		stringArray(campaign.Targeting.Recipients),
		int64Array(campaign.Targeting.GroupIDs),
		stringArray(campaign.Targeting.Tags),
		rules,
		campaign.FollowupEnabled,
		campaign.FollowupDelayMinutes,
		campaign.FollowupCondition,
		nullString(campaign.FollowupSubject),
		nullString(campaign.FollowupText),
		nullString(campaign.FollowupHTML),
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create email campaign: %w", err)
	}

	return nil
}

// GetByID retrieves an email campaign by ID
func (r *emailCampaignRepository) GetByID(ctx context.Context, id int64) (*models.EmailCampaign, error) {
	query := `
		SELECT id, name, COALESCE(from_email, ''), COALESCE(from_name, ''), subject,
			COALESCE(text_body, ''), COALESCE(html_body, ''), status, error, schedule_at,
			started_at, completed_at, rate_per_minute, batch_size, target_recipients,
			target_group_ids, target_tags, target_rules, followup_enabled, followup_delay_minutes,
			followup_condition, COALESCE(followup_subject, ''), COALESCE(followup_text, ''),
			COALESCE(followup_html, ''), created_at, updated_at
		FROM email_campaigns
		WHERE id = $1
	`

	campaign := &models.EmailCampaign{}
	var rules []byte
	var groupIDs pq.Int64Array
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&campaign.ID,
		&campaign.Name,
		&campaign.FromEmail,
		&campaign.FromName,
		&campaign.Subject,
		&campaign.Text,
		&campaign.HTML,
		&campaign.Status,
		&campaign.Error,
		&campaign.ScheduleAt,
		&campaign.StartedAt,
		&campaign.CompletedAt,
		&campaign.RatePerMinute,
		&campaign.BatchSize,
		pq.Array(&campaign.Targeting.Recipients),
		&groupIDs,
		pq.Array(&campaign.Targeting.Tags),
		&rules,
		&campaign.FollowupEnabled,
		&campaign.FollowupDelayMinutes,
		&campaign.FollowupCondition,
		&campaign.FollowupSubject,
		&campaign.FollowupText,
		&campaign.FollowupHTML,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email campaign %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email campaign: %w", err)
	}

	campaign.Targeting.GroupIDs = []int64(groupIDs)
	if len(rules) > 0 {
		campaign.Targeting.Rules = &models.FilterRules{}
		if err := fromJSON(rules, campaign.Targeting.Rules); err != nil {
			return nil, err
		}
	}

	return campaign, nil
}
