package notification

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Provider delivers notifications over one channel
type Provider interface {
	Send(ctx context.Context, n *Notification) error
}

// LogProvider writes notifications to the structured log. It stands in for
// real pager and messaging integrations in development and demos.
type LogProvider struct {
	channel Channel
	logger  *zap.Logger
}

// NewLogProvider creates a logging provider for a channel
func NewLogProvider(channel Channel, logger *zap.Logger) *LogProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogProvider{channel: channel, logger: logger}
}

// Send logs the notification
func (p *LogProvider) Send(ctx context.Context, n *Notification) error {
	p.logger.Info("notification",
		zap.String("channel", string(p.channel)),
		zap.String("priority", string(n.Priority)),
		zap.String("role", n.Role),
		zap.String("patient_id", n.PatientID),
		zap.String("decision_id", n.DecisionID),
		zap.String("subject", n.Subject))
	return nil
}

// CaptureProvider records sent notifications in memory. Used in tests and
// as a backing store for the in-app channel.
type CaptureProvider struct {
	mu         sync.RWMutex
	sent       []*Notification
	failOnSend bool
}

// NewCaptureProvider creates an in-memory capture provider
func NewCaptureProvider() *CaptureProvider {
	return &CaptureProvider{}
}

// Send records the notification
func (p *CaptureProvider) Send(ctx context.Context, n *Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOnSend {
		return fmt.Errorf("send failed for %s", n.ID)
	}
	p.sent = append(p.sent, n)
	return nil
}

// SetFailOnSend makes subsequent sends fail
func (p *CaptureProvider) SetFailOnSend(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOnSend = fail
}

// Sent returns a copy of the recorded notifications
func (p *CaptureProvider) Sent() []*Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Notification, len(p.sent))
	copy(out, p.sent)
	return out
}
