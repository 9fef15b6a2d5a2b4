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

const customerColumns = `
	c.id, c.name, c.email, c.whatsapp, c.mobile, c.country, c.country_code, c.tags,
	c.has_marketed, c.last_campaign_id, c.last_marketed_at, c.sms_sent_count,
	c.whatsapp_sent_count, c.email_sent_count, c.last_sms_status, c.last_whatsapp_status,
	c.last_email_status, c.created_at
`

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db *sql.DB) CustomerRepository {
	return &customerRepository{db: db}
}

// Create creates a new customer
func (r *customerRepository) Create(ctx context.Context, customer *models.Customer) error {
	query := `
		INSERT INTO customers (name, email, whatsapp, mobile, country, country_code, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		customer.Name,
		customer.Email,
		customer.WhatsApp,
		customer.Mobile,
		customer.Country,
		customer.CountryCode,
		stringArray(customer.Tags),
	).Scan(&customer.ID, &customer.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}

	return nil
}

// GetByID retrieves a customer by ID
func (r *customerRepository) GetByID(ctx context.Context, id int64) (*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers c WHERE c.id = $1`

	customer, err := scanCustomer(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return customer, nil
}

// ListByIDs retrieves multiple customers by IDs
func (r *customerRepository) ListByIDs(ctx context.Context, ids []int64) ([]*models.Customer, error) {
	if len(ids) == 0 {
		return []*models.Customer{}, nil
	}

	query := `SELECT ` + customerColumns + ` FROM customers c WHERE c.id = ANY($1) ORDER BY c.id ASC`
	return r.list(ctx, query, pq.Array(ids))
}

// ListAll retrieves every customer
func (r *customerRepository) ListAll(ctx context.Context) ([]*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers c ORDER BY c.id ASC`
	return r.list(ctx, query)
}

// ListByGroupIDs retrieves customers that belong to any of the groups
func (r *customerRepository) ListByGroupIDs(ctx context.Context, groupIDs []int64) ([]*models.Customer, error) {
	if len(groupIDs) == 0 {
		return []*models.Customer{}, nil
	}

	query := `SELECT ` + customerColumns + `
		FROM customers c
		WHERE EXISTS (
			SELECT 1 FROM customer_group_members m
			WHERE m.customer_id = c.id AND m.group_id = ANY($1)
		)
		ORDER BY c.id ASC
	`
	return r.list(ctx, query, pq.Array(groupIDs))
}

// ListByTags retrieves customers carrying any of the tags, ignoring case
func (r *customerRepository) ListByTags(ctx context.Context, tags []string) ([]*models.Customer, error) {
	if len(tags) == 0 {
		return []*models.Customer{}, nil
	}

	query := `SELECT ` + customerColumns + `
		FROM customers c
		WHERE EXISTS (
			SELECT 1 FROM unnest(c.tags) t WHERE lower(t) = ANY($1)
		)
		ORDER BY c.id ASC
	`
	return r.list(ctx, query, pq.Array(lowerAll(tags)))
}

// AddToGroup adds a customer to a named group, creating the group if needed
func (r *customerRepository) AddToGroup(ctx context.Context, groupName string, customerID int64) (int64, error) {
	return addToGroup(ctx, r.db, "customer_groups", "customer_group_members", "customer_id", groupName, customerID)
}

// RecordSend updates the per-channel aggregates after a send
func (r *customerRepository) RecordSend(ctx context.Context, id int64, channel models.Channel, status models.MessageStatus, counted bool, marketingCampaignID *int64, at time.Time) error {
	countColumn, statusColumn, err := channelColumns(channel)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE customers
		SET %[1]s = %[1]s + CASE WHEN $1 THEN 1 ELSE 0 END,
			%[2]s = $2,
			has_marketed = has_marketed OR $3::BIGINT IS NOT NULL,
			last_campaign_id = COALESCE($3, last_campaign_id),
			last_marketed_at = CASE WHEN $3::BIGINT IS NOT NULL THEN $4 ELSE last_marketed_at END
		WHERE id = $5
	`, countColumn, statusColumn)

	if _, err := r.db.ExecContext(ctx, query, counted, status, marketingCampaignID, at, id); err != nil {
		return fmt.Errorf("failed to record customer send: %w", err)
	}

	return nil
}

// UpdateLastStatus stores the latest delivery status for the channel
func (r *customerRepository) UpdateLastStatus(ctx context.Context, id int64, channel models.Channel, status models.MessageStatus) error {
	_, statusColumn, err := channelColumns(channel)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE customers SET %s = $1 WHERE id = $2`, statusColumn)
	if _, err := r.db.ExecContext(ctx, query, status, id); err != nil {
		return fmt.Errorf("failed to update customer status: %w", err)
	}

	return nil
}

func (r *customerRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Customer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	customers := []*models.Customer{}
	for rows.Next() {
		customer, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, customer)
	}

	return customers, rows.Err()
}

func scanCustomer(row rowScanner) (*models.Customer, error) {
	customer := &models.Customer{}
	err := row.Scan(
		&customer.ID,
		&customer.Name,
		&customer.Email,
		&customer.WhatsApp,
		&customer.Mobile,
		&customer.Country,
		&customer.CountryCode,
		pq.Array(&customer.Tags),
		&customer.HasMarketed,
		&customer.LastCampaignID,
		&customer.LastMarketedAt,
		&customer.SMSSentCount,
		&customer.WhatsAppSentCount,
		&customer.EmailSentCount,
		&customer.LastSMSStatus,
		&customer.LastWhatsAppStatus,
		&customer.LastEmailStatus,
		&customer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return customer, nil
}

func channelColumns(channel models.Channel) (string, string, error) {
	switch channel {
	case models.ChannelSMS:
		return "sms_sent_count", "last_sms_status", nil
	case models.ChannelWhatsApp:
		return "whatsapp_sent_count", "last_whatsapp_status", nil
	case models.ChannelEmail:
		return "email_sent_count", "last_email_status", nil
	}
	return "", "", fmt.Errorf("unsupported channel: %q", channel)
}

// addToGroup upserts the group by name and links the member
func addToGroup(ctx context.Context, db *sql.DB, groupTable, memberTable, memberColumn, groupName string, memberID int64) (int64, error) {
	var groupID int64
	upsert := fmt.Sprintf(`
		INSERT INTO %s (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, groupTable)
	if err := db.QueryRowContext(ctx, upsert, groupName).Scan(&groupID); err != nil {
		return 0, fmt.Errorf("failed to upsert group: %w", err)
	}

	link := fmt.Sprintf(`
		INSERT INTO %s (group_id, %s) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, memberTable, memberColumn)
	if _, err := db.ExecContext(ctx, link, groupID, memberID); err != nil {
		return 0, fmt.Errorf("failed to add group member: %w", err)
	}

	return groupID, nil
}
