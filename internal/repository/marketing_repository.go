package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"broadcaster/internal/models"
)

type marketingRepository struct {
	statusTable
	db *sql.DB
}

// NewMarketingRepository creates a new marketing campaign repository
func NewMarketingRepository(db *sql.DB) MarketingRepository {
	return &marketingRepository{
		statusTable: statusTable{db: db, table: "marketing_campaigns", resource: "marketing campaign"},
		db:          db,
	}
}

// Create creates a new marketing campaign
func (r *marketingRepository) Create(ctx context.Context, campaign *models.MarketingCampaign) error {
	if campaign.Status == "" {
		campaign.Status = models.CampaignStatusDraft
	}

	rules, err := toJSON(campaign.FilterRules)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO marketing_campaigns (name, status, schedule_at, target_customer_ids, filter_rules, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRowContext(
		ctx,
		query,
		campaign.Name,
		campaign.Status,
		campaign.ScheduleAt,
		int64Array(campaign.TargetCustomerIDs),
		rules,
		campaign.CreatedBy,
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create marketing campaign: %w", err)
	}

	return nil
}

// GetByID retrieves a marketing campaign by ID
func (r *marketingRepository) GetByID(ctx context.Context, id int64) (*models.MarketingCampaign, error) {
	query := `
		SELECT id, name, status, error, schedule_at, started_at, completed_at,
			target_customer_ids, filter_rules, created_by, created_at, updated_at
		FROM marketing_campaigns
		WHERE id = $1
	`

	campaign := &models.MarketingCampaign{}
	var targets pq.Int64Array
	var rules []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&campaign.ID,
		&campaign.Name,
		&campaign.Status,
		&campaign.Error,
		&campaign.ScheduleAt,
		&campaign.StartedAt,
		&campaign.CompletedAt,
		&targets,
		&rules,
		&campaign.CreatedBy,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("marketing campaign %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get marketing campaign: %w", err)
	}

	campaign.TargetCustomerIDs = []int64(targets)
	if len(rules) > 0 {
		campaign.FilterRules = &models.FilterRules{}
		if err := fromJSON(rules, campaign.FilterRules); err != nil {
			return nil, err
		}
	}

	return campaign, nil
}

// CreateStep adds a step to a marketing campaign
func (r *marketingRepository) CreateStep(ctx context.Context, step *models.CampaignStep) error {
	rules, err := toJSON(step.FilterRules)
	if err != nil {
		return err
	}
	vars, err := toJSON(step.ContentVariables)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO campaign_steps (
			campaign_id, order_no, channel, delay_days, filter_rules, template_id,
			subject, content, content_sid, content_variables
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`

	err = r.db.QueryRowContext(
		ctx,
		query,
		step.CampaignID,
		step.OrderNo,
		step.Channel,
		step.DelayDays,
		rules,
		step.TemplateID,
		nullString(step.Subject),
		nullString(step.Content),
		nullString(step.ContentSID),
		vars,
	).Scan(&step.ID, &step.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create campaign step: %w", err)
	}

	return nil
}

// ListSteps returns the campaign's steps ordered by order number
func (r *marketingRepository) ListSteps(ctx context.Context, campaignID int64) ([]*models.CampaignStep, error) {
	query := `
		SELECT id, campaign_id, order_no, channel, delay_days, filter_rules, template_id,
			COALESCE(subject, ''), COALESCE(content, ''), COALESCE(content_sid, ''),
			content_variables, created_at
		FROM campaign_steps
		WHERE campaign_id = $1
		ORDER BY order_no ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign steps: %w", err)
	}
	defer rows.Close()

	steps := []*models.CampaignStep{}
	for rows.Next() {
		step := &models.CampaignStep{}
		var rules, vars []byte
		err := rows.Scan(
			&step.ID,
			&step.CampaignID,
			&step.OrderNo,
			&step.Channel,
			&step.DelayDays,
			&rules,
			&step.TemplateID,
			&step.Subject,
			&step.Content,
			&step.ContentSID,
			&vars,
			&step.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign step: %w", err)
		}
		if len(rules) > 0 {
			step.FilterRules = &models.FilterRules{}
			if err := fromJSON(rules, step.FilterRules); err != nil {
				return nil, err
			}
		}
		if err := fromJSON(vars, &step.ContentVariables); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// CreateExecution records a step outcome for a customer
func (r *marketingRepository) CreateExecution(ctx context.Context, execution *models.StepExecution) error {
	query := `
		INSERT INTO campaign_step_executions (campaign_id, step_id, customer_id, channel, status, message_id, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		execution.CampaignID,
		execution.StepID,
		execution.CustomerID,
		execution.Channel,
		execution.Status,
		execution.MessageID,
		execution.Note,
	).Scan(&execution.ID, &execution.CreatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("step %d for customer %d: %w", execution.StepID, execution.CustomerID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create step execution: %w", err)
	}

	return nil
}

// ListExecutions returns every execution recorded for a campaign
func (r *marketingRepository) ListExecutions(ctx context.Context, campaignID int64) ([]*models.StepExecution, error) {
	query := `
		SELECT id, campaign_id, step_id, customer_id, channel, status, message_id, note, created_at
		FROM campaign_step_executions
		WHERE campaign_id = $1
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step executions: %w", err)
	}
	defer rows.Close()

	executions := []*models.StepExecution{}
	for rows.Next() {
		e := &models.StepExecution{}
		err := rows.Scan(
			&e.ID,
			&e.CampaignID,
			&e.StepID,
			&e.CustomerID,
			&e.Channel,
			&e.Status,
			&e.MessageID,
			&e.Note,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}
		executions = append(executions, e)
	}

	return executions, rows.Err()
}

// ListCustomerStates maps customer id to state for customers with an explicit state row
func (r *marketingRepository) ListCustomerStates(ctx context.Context, campaignID int64) (map[int64]string, error) {
	query := `SELECT customer_id, status FROM customer_campaign_states WHERE campaign_id = $1`

	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list customer states: %w", err)
	}
	defer rows.Close()

	states := make(map[int64]string)
	for rows.Next() {
		var customerID int64
		var status string
		if err := rows.Scan(&customerID, &status); err != nil {
			return nil, fmt.Errorf("failed to scan customer state: %w", err)
		}
		states[customerID] = status
	}

	return states, rows.Err()
}

// SetCustomerState upserts a customer's state within a campaign
func (r *marketingRepository) SetCustomerState(ctx context.Context, campaignID, customerID int64, status string) error {
	query := `
		INSERT INTO customer_campaign_states (campaign_id, customer_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (campaign_id, customer_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = CURRENT_TIMESTAMP
	`

	if _, err := r.db.ExecContext(ctx, query, campaignID, customerID, status); err != nil {
		return fmt.Errorf("failed to set customer state: %w", err)
	}

	return nil
}
