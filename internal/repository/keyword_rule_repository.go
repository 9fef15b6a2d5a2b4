package repository

import (
	"context"
	"database/sql"
	"fmt"

	"broadcaster/internal/models"
)

type keywordRuleRepository struct {
	db *sql.DB
}

// NewKeywordRuleRepository creates a new keyword rule repository
func NewKeywordRuleRepository(db *sql.DB) KeywordRuleRepository {
	return &keywordRuleRepository{db: db}
}

// Create creates a new keyword rule
func (r *keywordRuleRepository) Create(ctx context.Context, rule *models.KeywordRule) error {
	if rule.MatchType == "" {
		rule.MatchType = models.MatchContains
	}

	query := `
		INSERT INTO keyword_rules (keyword, match_type, response_text, enabled)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query, rule.Keyword, rule.MatchType, rule.ResponseText, rule.Enabled).
		Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create keyword rule: %w", err)
	}

	return nil
}

// ListEnabled returns enabled rules, newest first
func (r *keywordRuleRepository) ListEnabled(ctx context.Context) ([]*models.KeywordRule, error) {
	query := `
		SELECT id, keyword, match_type, response_text, enabled, created_at
		FROM keyword_rules
		WHERE enabled = TRUE
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list keyword rules: %w", err)
	}
	defer rows.Close()

	rules := []*models.KeywordRule{}
	for rows.Next() {
		rule := &models.KeywordRule{}
		err := rows.Scan(&rule.ID, &rule.Keyword, &rule.MatchType, &rule.ResponseText, &rule.Enabled, &rule.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan keyword rule: %w", err)
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}
