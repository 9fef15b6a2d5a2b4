package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	RabbitMQ  RabbitMQConfig
	Redis     RedisConfig
	Twilio    TwilioConfig
	SendGrid  SendGridConfig
	SMS       SMSConfig
	Scheduler SchedulerConfig
	Env       string
	LogLevel  string
	// PublicBaseURL is the externally reachable origin used in provider callback URLs
	PublicBaseURL string
	// SimulateTransports swaps real providers for the in-process simulator
	SimulateTransports bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host          string
	Port          string
	User          string
	Password      string
	DispatchQueue string
}

// RedisConfig holds the optional Redis used for dispatch leases
type RedisConfig struct {
	URL      string
	LeaseTTL time.Duration
}

// TwilioConfig holds SMS and WhatsApp provider credentials
type TwilioConfig struct {
	AccountSID               string
	AuthToken                string
	SMSFrom                  string
	WhatsAppFrom             string
	MessagingServiceSID      string
	APIBaseURL               string
	ValidateWebhookSignature bool
}

// SendGridConfig holds email provider credentials
type SendGridConfig struct {
	APIKey             string
	FromEmail          string
	FromName           string
	APIBaseURL         string
	EventWebhookVerify bool
	EventPublicKey     string
}

// SMSConfig holds messaging defaults shared by every SMS send
type SMSConfig struct {
	DefaultCountryCode string
	AppendOptOut       bool
	OptOutText         string
	AutoReplyEnabled   bool
	DefaultRatePerMin  int
	DefaultBatchSize   int
}

// SchedulerConfig holds one loop setting per campaign family
type SchedulerConfig struct {
	SMSEnabled        bool
	SMSInterval       time.Duration
	EmailEnabled      bool
	EmailInterval     time.Duration
	MarketingEnabled  bool
	MarketingInterval time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     getEnv("POSTGRES_USER", "broadcaster"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DBName:   getEnv("POSTGRES_DB", "broadcaster_db"),
		},
		RabbitMQ: RabbitMQConfig{
			Host:          getEnv("RABBITMQ_HOST", "localhost"),
			Port:          getEnv("RABBITMQ_PORT", "5672"),
			User:          getEnv("RABBITMQ_DEFAULT_USER", "guest"),
			Password:      getEnv("RABBITMQ_DEFAULT_PASS", "guest"),
			DispatchQueue: getEnv("DISPATCH_QUEUE", "campaign_dispatch"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			LeaseTTL: time.Duration(getEnvAsInt("DISPATCH_LEASE_SECONDS", 900)) * time.Second,
		},
		Twilio: TwilioConfig{
			AccountSID:               getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:                getEnv("TWILIO_AUTH_TOKEN", ""),
			SMSFrom:                  getEnv("TWILIO_SMS_FROM", ""),
			WhatsAppFrom:             getEnv("TWILIO_WHATSAPP_FROM", ""),
			MessagingServiceSID:      getEnv("TWILIO_MESSAGING_SERVICE_SID", ""),
			APIBaseURL:               getEnv("TWILIO_API_BASE_URL", "https://api.twilio.com"),
			ValidateWebhookSignature: getEnvAsBool("TWILIO_VALIDATE_WEBHOOK_SIGNATURE", false),
		},
		SendGrid: SendGridConfig{
			APIKey:             getEnv("SENDGRID_API_KEY", ""),
			FromEmail:          getEnv("SENDGRID_FROM_EMAIL", ""),
			FromName:           getEnv("SENDGRID_FROM_NAME", ""),
			APIBaseURL:         getEnv("SENDGRID_API_BASE_URL", "https://api.sendgrid.com"),
			EventWebhookVerify: getEnvAsBool("SENDGRID_EVENT_WEBHOOK_VERIFY", false),
			EventPublicKey:     getEnv("SENDGRID_EVENT_PUBLIC_KEY", ""),
		},
		SMS: SMSConfig{
			DefaultCountryCode: strings.TrimPrefix(getEnv("SMS_DEFAULT_COUNTRY_CODE", "86"), "+"),
			AppendOptOut:       getEnvAsBool("SMS_APPEND_OPT_OUT", false),
			OptOutText:         getEnv("SMS_OPT_OUT_TEXT", "Reply STOP to unsubscribe."),
			AutoReplyEnabled:   getEnvAsBool("SMS_AUTO_REPLY_ENABLED", true),
			DefaultRatePerMin:  getEnvAsInt("SMS_DEFAULT_RATE_PER_MINUTE", 30),
			DefaultBatchSize:   getEnvAsInt("SMS_DEFAULT_BATCH_SIZE", 100),
		},
		Scheduler: SchedulerConfig{
			SMSEnabled:        getEnvAsBool("SMS_SCHEDULER_ENABLED", true),
			SMSInterval:       time.Duration(getEnvAsInt("SMS_SCHEDULER_INTERVAL_SECONDS", 15)) * time.Second,
			EmailEnabled:      getEnvAsBool("EMAIL_SCHEDULER_ENABLED", true),
			EmailInterval:     time.Duration(getEnvAsInt("EMAIL_SCHEDULER_INTERVAL_SECONDS", 30)) * time.Second,
			MarketingEnabled:  getEnvAsBool("MARKETING_SCHEDULER_ENABLED", true),
			MarketingInterval: time.Duration(getEnvAsInt("MARKETING_SCHEDULER_INTERVAL_SECONDS", 60)) * time.Second,
		},
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		SimulateTransports: getEnvAsBool("SIMULATE_TRANSPORTS", false),
	}

	// Validate required fields
	if config.Database.Password == "" {
		return nil, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if config.SendGrid.EventWebhookVerify && config.SendGrid.EventPublicKey == "" {
		return nil, fmt.Errorf("SENDGRID_EVENT_PUBLIC_KEY is required when SENDGRID_EVENT_WEBHOOK_VERIFY is set")
	}
	if config.Twilio.ValidateWebhookSignature && config.Twilio.AuthToken == "" {
		return nil, fmt.Errorf("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_WEBHOOK_SIGNATURE is set")
	}

	return config, nil
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// TwilioConfigured reports whether Twilio credentials are present
func (c *Config) TwilioConfigured() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != ""
}

// SendGridConfigured reports whether SendGrid credentials are present
func (c *Config) SendGridConfigured() bool {
	return c.SendGrid.APIKey != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// getEnv gets environment variable or returns default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer or returns default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool accepts 1/0, true/false, yes/no, on/off
func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}
