package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"broadcaster/internal/models"
)

type contactRepository struct {
	db *sql.DB
}

// NewContactRepository creates a new SMS contact repository
func NewContactRepository(db *sql.DB) ContactRepository {
	return &contactRepository{db: db}
}

// Create creates a new contact
func (r *contactRepository) Create(ctx context.Context, contact *models.Contact) error {
	query := `
		INSERT INTO sms_contacts (phone, name, tags)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query, contact.Phone, contact.Name, stringArray(contact.Tags)).
		Scan(&contact.ID, &contact.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("contact %s: %w", contact.Phone, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}

	return nil
}

// AddToGroup adds a contact to a named group, creating the group if needed
func (r *contactRepository) AddToGroup(ctx context.Context, groupName string, contactID int64) (int64, error) {
	return addToGroup(ctx, r.db, "sms_groups", "sms_group_members", "contact_id", groupName, contactID)
}

// ListByGroupIDs returns enabled contacts in any of the groups, in membership order
func (r *contactRepository) ListByGroupIDs(ctx context.Context, groupIDs []int64) ([]*models.Contact, error) {
	if len(groupIDs) == 0 {
		return []*models.Contact{}, nil
	}

	query := `
		SELECT c.id, c.phone, c.name, c.tags, c.disabled_at, c.created_at
		FROM sms_group_members m
		JOIN sms_contacts c ON c.id = m.contact_id
		WHERE m.group_id = ANY($1) AND c.disabled_at IS NULL
		ORDER BY m.created_at ASC, c.id ASC
	`
	return r.list(ctx, query, pq.Array(groupIDs))
}

// ListByTags returns enabled contacts carrying any of the tags, ignoring case
func (r *contactRepository) ListByTags(ctx context.Context, tags []string) ([]*models.Contact, error) {
	if len(tags) == 0 {
		return []*models.Contact{}, nil
	}

	query := `
		SELECT c.id, c.phone, c.name, c.tags, c.disabled_at, c.created_at
		FROM sms_contacts c
		WHERE c.disabled_at IS NULL
			AND EXISTS (SELECT 1 FROM unnest(c.tags) t WHERE lower(t) = ANY($1))
		ORDER BY c.id ASC
	`
	return r.list(ctx, query, pq.Array(lowerAll(tags)))
}

func (r *contactRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Contact, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	contacts := []*models.Contact{}
	for rows.Next() {
		contact := &models.Contact{}
		err := rows.Scan(
			&contact.ID,
			&contact.Phone,
			&contact.Name,
			pq.Array(&contact.Tags),
			&contact.DisabledAt,
			&contact.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, contact)
	}

	return contacts, rows.Err()
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
