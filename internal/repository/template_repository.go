package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"broadcaster/internal/models"
)

type templateRepository struct {
	db *sql.DB
}

// NewTemplateRepository creates a new message template repository
func NewTemplateRepository(db *sql.DB) TemplateRepository {
	return &templateRepository{db: db}
}

// Create creates a new template
func (r *templateRepository) Create(ctx context.Context, template *models.Template) error {
	query := `
		INSERT INTO message_templates (name, channel, subject, content, html)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query, template.Name, template.Channel, template.Subject, template.Content, template.HTML).
		Scan(&template.ID, &template.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}

	return nil
}

// GetByID retrieves a template by ID
func (r *templateRepository) GetByID(ctx context.Context, id int64) (*models.Template, error) {
	query := `
		SELECT id, name, channel, subject, content, html, created_at
		FROM message_templates
		WHERE id = $1
	`

	template := &models.Template{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&template.ID,
		&template.Name,
		&template.Channel,
		&template.Subject,
		&template.Content,
		&template.HTML,
		&template.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return template, nil
}
