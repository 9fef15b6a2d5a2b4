package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"broadcaster/internal/models"
)

var (
	// ErrNotFound is wrapped by every lookup that matches no row
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert
	ErrDuplicate = errors.New("duplicate")
)

// StatusStore is the status surface shared by every campaign family
type StatusStore interface {
	GetStatus(ctx context.Context, id int64) (models.CampaignStatus, error)
	// Transition moves the campaign to "to" only if its current status is one of "from".
	// It reports false when the row was not in an allowed status.
	Transition(ctx context.Context, id int64, from []models.CampaignStatus, to models.CampaignStatus, errText *string) (bool, error)
	// PromoteDue moves scheduled campaigns whose schedule time has passed to running
	// and returns their ids.
	PromoteDue(ctx context.Context, now time.Time) ([]int64, error)
	ListIDsByStatus(ctx context.Context, status models.CampaignStatus) ([]int64, error)
}

// SMSCampaignRepository defines SMS/WhatsApp campaign data access operations
type SMSCampaignRepository interface {
	StatusStore
	Create(ctx context.Context, campaign *models.SMSCampaign) error
	GetByID(ctx context.Context, id int64) (*models.SMSCampaign, error)
}

// EmailCampaignRepository defines email campaign data access operations
type EmailCampaignRepository interface {
	StatusStore
	Create(ctx context.Context, campaign *models.EmailCampaign) error
	GetByID(ctx context.Context, id int64) (*models.EmailCampaign, error)
}

// MarketingRepository defines marketing campaign, step and cursor data access operations
type MarketingRepository interface {
	StatusStore
	Create(ctx context.Context, campaign *models.MarketingCampaign) error
	GetByID(ctx context.Context, id int64) (*models.MarketingCampaign, error)
	CreateStep(ctx context.Context, step *models.CampaignStep) error
	ListSteps(ctx context.Context, campaignID int64) ([]*models.CampaignStep, error)
	CreateExecution(ctx context.Context, execution *models.StepExecution) error
	ListExecutions(ctx context.Context, campaignID int64) ([]*models.StepExecution, error)
	ListCustomerStates(ctx context.Context, campaignID int64) (map[int64]string, error)
	SetCustomerState(ctx context.Context, campaignID, customerID int64, status string) error
}

// MessageScope selects the outbound ledger rows that belong to one campaign pass
type MessageScope struct {
	Channel             models.Channel
	CampaignID          *int64
	MarketingCampaignID *int64
	// FollowupStep selects one follow-up level; negative matches every level
	FollowupStep        int
}

// MessageRepository defines message ledger data access operations
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id int64) (*models.Message, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*models.Message, error)
	GetStepMessage(ctx context.Context, stepID, customerID int64) (*models.Message, error)
	// RecordSendResult stores the transport outcome. The status is only written
	// while the row is still queued so an early callback is never overwritten.
	RecordSendResult(ctx context.Context, id int64, status models.MessageStatus, providerMessageID, errText *string) error
	// UpdateReconciled is a compare-and-set on the stored status
	UpdateReconciled(ctx context.Context, message *models.Message, expected models.MessageStatus) (bool, error)
	// AppendEvent adds a status history entry and reports false if it already existed
	AppendEvent(ctx context.Context, messageID int64, status models.MessageStatus, occurredAt time.Time) (bool, error)
	AttemptedAddresses(ctx context.Context, scope MessageScope) (map[string]bool, error)
	ListFollowupCandidates(ctx context.Context, campaignID int64, createdBefore time.Time) ([]*models.Message, error)
	CountPendingFollowups(ctx context.Context, campaignID int64, createdAfter time.Time) (int, error)
	GetStats(ctx context.Context, scope MessageScope) (*models.CampaignStats, error)
}

// CustomerRepository defines customer data access operations
type CustomerRepository interface {
	Create(ctx context.Context, customer *models.Customer) error
	GetByID(ctx context.Context, id int64) (*models.Customer, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*models.Customer, error)
	ListAll(ctx context.Context) ([]*models.Customer, error)
	ListByGroupIDs(ctx context.Context, groupIDs []int64) ([]*models.Customer, error)
	ListByTags(ctx context.Context, tags []string) ([]*models.Customer, error)
	AddToGroup(ctx context.Context, groupName string, customerID int64) (int64, error)
	// RecordSend updates per-channel aggregates after a send. counted is false for failed sends.
	RecordSend(ctx context.Context, id int64, channel models.Channel, status models.MessageStatus, counted bool, marketingCampaignID *int64, at time.Time) error
	UpdateLastStatus(ctx context.Context, id int64, channel models.Channel, status models.MessageStatus) error
}

// ContactRepository defines SMS contact and group data access operations
type ContactRepository interface {
	Create(ctx context.Context, contact *models.Contact) error
	AddToGroup(ctx context.Context, groupName string, contactID int64) (int64, error)
	ListByGroupIDs(ctx context.Context, groupIDs []int64) ([]*models.Contact, error)
	ListByTags(ctx context.Context, tags []string) ([]*models.Contact, error)
}

// SuppressionRepository defines opt-out and blacklist data access operations
type SuppressionRepository interface {
	// Lookup returns the blacklist reason before the opt-out reason, or none
	Lookup(ctx context.Context, address string) (models.SuppressionReason, error)
	AddOptOut(ctx context.Context, address, reason, source string) error
	RemoveOptOut(ctx context.Context, address string) error
	AddBlacklist(ctx context.Context, address, reason string) error
}

// KeywordRuleRepository defines inbound keyword rule data access operations
type KeywordRuleRepository interface {
	Create(ctx context.Context, rule *models.KeywordRule) error
	// ListEnabled returns enabled rules, newest first
	ListEnabled(ctx context.Context) ([]*models.KeywordRule, error)
}

// TemplateRepository defines template data access operations
type TemplateRepository interface {
	Create(ctx context.Context, template *models.Template) error
	GetByID(ctx context.Context, id int64) (*models.Template, error)
}

// DB is a wrapper around *sql.DB to allow passing in transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
