package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"broadcaster/internal/models"
)

type smsCampaignRepository struct {
	statusTable
	db *sql.DB
}

// NewSMSCampaignRepository creates a new SMS campaign repository
func NewSMSCampaignRepository(db *sql.DB) SMSCampaignRepository {
	return &smsCampaignRepository{
		statusTable: statusTable{db: db, table: "sms_campaigns", resource: "sms campaign"},
		db:          db,
	}
}

// Create creates a new SMS campaign
func (r *smsCampaignRepository) Create(ctx context.Context, campaign *models.SMSCampaign) error {
	if campaign.Channel == "" {
		campaign.Channel = models.ChannelSMS
	}
	if campaign.Status == "" {
		campaign.Status = models.CampaignStatusDraft
	}

	vars, err := toJSON(campaign.TemplateVariables)
	if err != nil {
		return err
	}
	rules, err := toJSON(campaign.Targeting.Rules)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sms_campaigns (
			name, channel, template_id, template_variables, message, variant_a, variant_b, ab_split,
			status, schedule_at, from_address, messaging_service_sid, rate_per_minute, batch_size,
			append_opt_out, target_recipients, target_group_ids, target_tags, target_rules
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRowContext(
		ctx,
		query,
		campaign.Name,
		campaign.Channel,
		campaign.TemplateID,
		vars,
		nullString(campaign.Message),
		nullString(campaign.VariantA),
		nullString(campaign.VariantB),
		campaign.ABSplit,
		campaign.Status,
		campaign.ScheduleAt,
		nullString(campaign.FromAddress),
		nullString(campaign.MessagingServiceSID),
		campaign.RatePerMinute,
		campaign.BatchSize,
		campaign.AppendOptOut,
		stringArray(campaign.Targeting.Recipients),
		int64Array(campaign.Targeting.GroupIDs),
		stringArray(campaign.Targeting.Tags),
		rules,
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create sms campaign: %w", err)
	}

	return nil
}

// GetByID retrieves an SMS campaign by ID
func (r *smsCampaignRepository) GetByID(ctx context.Context, id int64) (*models.SMSCampaign, error) {
	query := `
		SELECT id, name, channel, template_id, template_variables, COALESCE(message, ''),
			COALESCE(variant_a, ''), COALESCE(variant_b, ''), ab_split, status, error,
			schedule_at, started_at, completed_at, COALESCE(from_address, ''),
			COALESCE(messaging_service_sid, ''), rate_per_minute, batch_size, append_opt_out,
			target_recipients, target_group_ids, target_tags, target_rules, created_at, updated_at
		FROM sms_campaigns
		WHERE id = $1
	`

	campaign := &models.SMSCampaign{}
	var vars, rules []byte
	var groupIDs pq.Int64Array
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&campaign.ID,
		&campaign.Name,
		&campaign.Channel,
		&campaign.TemplateID,
		&vars,
		&campaign.Message,
		&campaign.VariantA,
		&campaign.VariantB,
		&campaign.ABSplit,
		&campaign.Status,
		&campaign.Error,
		&campaign.ScheduleAt,
		&campaign.StartedAt,
		&campaign.CompletedAt,
		&campaign.FromAddress,
		&campaign.MessagingServiceSID,
		&campaign.RatePerMinute,
		&campaign.BatchSize,
		&campaign.AppendOptOut,
		pq.Array(&campaign.Targeting.Recipients),
		&groupIDs,
		pq.Array(&campaign.Targeting.Tags),
		&rules,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sms campaign %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sms campaign: %w", err)
	}

	campaign.Targeting.GroupIDs = []int64(groupIDs)
	if err := fromJSON(vars, &campaign.TemplateVariables); err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		campaign.Targeting.Rules = &models.FilterRules{}
		if err := fromJSON(rules, campaign.Targeting.Rules); err != nil {
			return nil, err
		}
	}

	return campaign, nil
}
