package service

import (
	"context"
	"database/sql"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Health status constants
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusUnhealthy    = "unhealthy"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusDisabled     = "disabled"
)

// HealthStatus represents the overall health status of the application
type HealthStatus struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
}

// Pinger is any dependency that can report reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker handles health check operations
type HealthChecker struct {
	db       *sql.DB
	queueURL string
	lease    Pinger
	version  string
}

// NewHealthService creates a new HealthChecker instance. lease is the Redis
// lease store and may be nil when leases are held in process.
func NewHealthService(db *sql.DB, queueURL string, lease Pinger, version string) *HealthChecker {
	return &HealthChecker{
		db:       db,
		queueURL: queueURL,
		lease:    lease,
		version:  version,
	}
}

func (h *HealthChecker) checkDatabase(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

func (h *HealthChecker) checkQueue() string {
	conn, err := amqp.Dial(h.queueURL)
	if err != nil {
		return StatusDisconnected
	}
	defer conn.Close()

	return StatusConnected
}

func (h *HealthChecker) checkLease(ctx context.Context) string {
	if h.lease == nil {
		return StatusDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.lease.Ping(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// determineOverallStatus: no database means unhealthy; a missing queue or
// lease store only degrades the service since the scheduler still dispatches.
func determineOverallStatus(services map[string]string) string {
	if services["database"] == StatusDisconnected {
		return StatusUnhealthy
	}
	if services["queue"] == StatusDisconnected || services["redis"] == StatusDisconnected {
		return StatusDegraded
	}
	return StatusHealthy
}

// CheckHealth performs health checks on all dependencies and returns the overall status
func (h *HealthChecker) CheckHealth(ctx context.Context) (*HealthStatus, error) {
	services := map[string]string{
		"database": h.checkDatabase(ctx),
		"queue":    h.checkQueue(),
		"redis":    h.checkLease(ctx),
	}

	return &HealthStatus{
		Status:    determineOverallStatus(services),
		Services:  services,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}, nil
}
