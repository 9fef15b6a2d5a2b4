// Package app wires repositories, transports and services from configuration.
// The api and worker binaries share it so both send through the same path.
package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"broadcaster/internal/config"
	"broadcaster/internal/lock"
	"broadcaster/internal/models"
	"broadcaster/internal/repository"
	"broadcaster/internal/service"
	"broadcaster/internal/transport"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Repositories groups every PostgreSQL repository
type Repositories struct {
	Customers   repository.CustomerRepository
	Contacts    repository.ContactRepository
	Suppression repository.SuppressionRepository
	Rules       repository.KeywordRuleRepository
	Templates   repository.TemplateRepository
	Messages    repository.MessageRepository
	SMS         repository.SMSCampaignRepository
	Email       repository.EmailCampaignRepository
	Marketing   repository.MarketingRepository
}

// NewRepositories creates every repository over one connection pool
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Customers:   repository.NewCustomerRepository(db),
		Contacts:    repository.NewContactRepository(db),
		Suppression: repository.NewSuppressionRepository(db),
		Rules:       repository.NewKeywordRuleRepository(db),
		Templates:   repository.NewTemplateRepository(db),
		Messages:    repository.NewMessageRepository(db),
		SMS:         repository.NewSMSCampaignRepository(db),
		Email:       repository.NewEmailCampaignRepository(db),
		Marketing:   repository.NewMarketingRepository(db),
	}
}

// StatusStores maps each campaign family onto its status store
func (r *Repositories) StatusStores() map[models.Family]repository.StatusStore {
	return map[models.Family]repository.StatusStore{
		models.FamilySMS:       r.SMS,
		models.FamilyEmail:     r.Email,
		models.FamilyMarketing: r.Marketing,
	}
}

// Transports holds the configured providers. A nil field means the channel
// cannot send.
type Transports struct {
	Messaging transport.MessagingTransport
	Email     transport.EmailTransport
	// Twilio and SendGrid are set only for real providers; webhooks use them for signatures
	Twilio   *transport.TwilioTransport
	SendGrid *transport.SendGridTransport
}

// NewTransports picks real providers when credentials exist and falls back to
// the simulator when SIMULATE_TRANSPORTS is set.
func NewTransports(cfg *config.Config, logger *slog.Logger) (*Transports, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	t := &Transports{}

	switch {
	case cfg.TwilioConfigured():
		t.Twilio = transport.NewTwilioTransport(logger, cfg.Twilio.APIBaseURL, cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, client)
		t.Messaging = t.Twilio
	case cfg.SimulateTransports:
		t.Messaging = transport.NewSimulatedTransport(0.95)
		logger.Warn("twilio not configured, using simulated messaging transport")
	default:
		logger.Warn("twilio not configured, sms and whatsapp sends will fail")
	}

	switch {
	case cfg.SendGridConfigured():
		sg, err := transport.NewSendGridTransport(logger, cfg.SendGrid.APIBaseURL, cfg.SendGrid.APIKey, cfg.SendGrid.EventPublicKey, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create sendgrid transport: %w", err)
		}
		t.SendGrid = sg
		t.Email = sg
	case cfg.SimulateTransports:
		t.Email = transport.NewSimulatedTransport(0.95)
		logger.Warn("sendgrid not configured, using simulated email transport")
	default:
		logger.Warn("sendgrid not configured, email sends will fail")
	}

	return t, nil
}

// Services is the service graph shared by the api and the worker
type Services struct {
	Repos          *Repositories
	Transports     *Transports
	Normalizer     *service.AddressNormalizer
	Resolver       *service.RecipientResolver
	Templates      *service.TemplateService
	Outbound       *service.Outbound
	Marketing      *service.MarketingService
	Reconciliation *service.ReconciliationService
}

// NewServices builds the service graph
func NewServices(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*Services, error) {
	repos := NewRepositories(db)
	transports, err := NewTransports(cfg, logger)
	if err != nil {
		return nil, err
	}

	normalizer := service.NewAddressNormalizer(cfg.SMS.DefaultCountryCode)
	resolver := service.NewRecipientResolver(normalizer, repos.Contacts, repos.Customers, repos.Suppression, logger)
	templates := service.NewTemplateService(cfg.SMS.AppendOptOut, cfg.SMS.OptOutText)

	identity := service.SenderIdentity{
		SMSFrom:             cfg.Twilio.SMSFrom,
		WhatsAppFrom:        cfg.Twilio.WhatsAppFrom,
		MessagingServiceSID: cfg.Twilio.MessagingServiceSID,
		EmailFrom:           cfg.SendGrid.FromEmail,
		EmailFromName:       cfg.SendGrid.FromName,
	}
	outbound := service.NewOutbound(resolver, templates, repos.Messages, repos.Customers,
		transports.Messaging, transports.Email, identity, cfg.PublicBaseURL, logger)

	marketing := service.NewMarketingService(repos.Marketing, repos.Customers, repos.Templates,
		repos.Messages, outbound.Senders(), normalizer, logger)
	reconciliation := service.NewReconciliationService(repos.Messages, repos.Customers, repos.Suppression,
		repos.Rules, normalizer, outbound, cfg.SMS.AutoReplyEnabled, logger)

	return &Services{
		Repos:          repos,
		Transports:     transports,
		Normalizer:     normalizer,
		Resolver:       resolver,
		Templates:      templates,
		Outbound:       outbound,
		Marketing:      marketing,
		Reconciliation: reconciliation,
	}, nil
}

// NewDispatcher builds the campaign dispatcher on top of the service graph
func (s *Services) NewDispatcher(cfg *config.Config, locker lock.Locker, logger *slog.Logger) *service.Dispatcher {
	return service.NewDispatcher(s.Repos.SMS, s.Repos.Email, s.Repos.Templates, s.Repos.Messages,
		s.Repos.Customers, s.Resolver, s.Outbound, s.Marketing, locker,
		service.DispatchDefaults{BatchSize: cfg.SMS.DefaultBatchSize}, logger)
}

// FamilySchedules turns scheduler configuration into per-family loop settings
func FamilySchedules(cfg *config.Config) []service.FamilySchedule {
	return []service.FamilySchedule{
		{Family: models.FamilySMS, Enabled: cfg.Scheduler.SMSEnabled, Interval: cfg.Scheduler.SMSInterval},
		{Family: models.FamilyEmail, Enabled: cfg.Scheduler.EmailEnabled, Interval: cfg.Scheduler.EmailInterval},
		{Family: models.FamilyMarketing, Enabled: cfg.Scheduler.MarketingEnabled, Interval: cfg.Scheduler.MarketingInterval},
	}
}
