package transport

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SimulatedTransport stands in for real providers in development. It sleeps
// for a provider-like latency and fails a configurable share of sends.
type SimulatedTransport struct {
	mu          sync.Mutex
	successRate float64 // 0.0 to 1.0 (e.g., 0.95 = 95% success)
	rand        *rand.Rand
	minLatency  time.Duration
	maxLatency  time.Duration
}

// NewSimulatedTransport creates a simulator.
// successRate: probability of successful send (0.0 to 1.0)
func NewSimulatedTransport(successRate float64) *SimulatedTransport {
	return &SimulatedTransport{
		successRate: clampRate(successRate),
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		minLatency:  50 * time.Millisecond,
		maxLatency:  200 * time.Millisecond,
	}
}

// WithLatency overrides the simulated latency range
func (s *SimulatedTransport) WithLatency(min, max time.Duration) *SimulatedTransport {
	s.minLatency, s.maxLatency = min, max
	return s
}

// SendMessage simulates an SMS or WhatsApp send
func (s *SimulatedTransport) SendMessage(ctx context.Context, req MessageRequest) (*SendResult, error) {
	if err := s.simulate(ctx, "message", req.To); err != nil {
		return nil, err
	}
	return &SendResult{ProviderMessageID: "SM" + compactUUID(), Status: "queued"}, nil
}

// SendEmail simulates an email send
func (s *SimulatedTransport) SendEmail(ctx context.Context, req EmailRequest) (*SendResult, error) {
	if err := s.simulate(ctx, "email", req.To); err != nil {
		return nil, err
	}
	return &SendResult{ProviderMessageID: compactUUID(), Status: "accepted"}, nil
}

// FetchStatus reports every simulated message as delivered
func (s *SimulatedTransport) FetchStatus(_ context.Context, providerMessageID string) (*StatusResult, error) {
	return &StatusResult{ProviderMessageID: providerMessageID, Status: "delivered"}, nil
}

// ValidateSignature accepts every request
func (s *SimulatedTransport) ValidateSignature(string, url.Values, string) bool {
	return true
}

// VerifyEventSignature accepts every request
func (s *SimulatedTransport) VerifyEventSignature([]byte, string, string) bool {
	return true
}

// SetSuccessRate updates the success rate (for testing)
func (s *SimulatedTransport) SetSuccessRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successRate = clampRate(rate)
}

func (s *SimulatedTransport) simulate(ctx context.Context, kind, to string) error {
	s.mu.Lock()
	latency := s.minLatency
	if spread := s.maxLatency - s.minLatency; spread > 0 {
		latency += time.Duration(s.rand.Int63n(int64(spread)))
	}
	success := s.rand.Float64() < s.successRate
	failures := []string{
		"network timeout",
		"invalid phone number",
		"rate limit exceeded",
		"service temporarily unavailable",
		"insufficient balance",
	}
	reason := failures[s.rand.Intn(len(failures))]
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(latency):
	}

	if !success {
		return fmt.Errorf("failed to send %s to %s: %s", kind, to, reason)
	}
	return nil
}

func clampRate(rate float64) float64 {
	if rate < 0.0 {
		return 0.0
	}
	if rate > 1.0 {
		return 1.0
	}
	return rate
}

func compactUUID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}
