package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// AlertConfig tunes security event emission
type AlertConfig struct {
	// Cooldown suppresses repeated alerts for the same (principal, severity)
	Cooldown time.Duration

	// MaxDeliveryAttempts bounds the at-least-once notifier delivery loop
	MaxDeliveryAttempts int
	DeliveryBackoff     time.Duration
}

// DefaultAlertConfig returns the alerting defaults
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		Cooldown:            time.Minute,
		MaxDeliveryAttempts: 3,
		DeliveryBackoff:     100 * time.Millisecond,
	}
}

// AlertSink creates SecurityEvents for suspicious records and delivers them
// to the external notification collaborator. Delivery is at-least-once; the
// collaborator must be idempotent on event ID. The sink is the only component
// that creates SecurityEvents.
type AlertSink struct {
	events   SecurityEventRepository
	notifier Notifier
	config   AlertConfig
	logger   *zap.Logger

	mu        sync.Mutex
	cooldowns map[string]time.Time
}

// NewAlertSink creates an alert sink
func NewAlertSink(events SecurityEventRepository, notifier Notifier, config AlertConfig, logger *zap.Logger) (*AlertSink, error) {
	if events == nil {
		return nil, errors.NewValidationError("MISSING_EVENT_REPOSITORY",
			"security event repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxDeliveryAttempts < 1 {
		config.MaxDeliveryAttempts = 1
	}
	return &AlertSink{
		events:    events,
		notifier:  notifier,
		config:    config,
		logger:    logger,
		cooldowns: make(map[string]time.Time),
	}, nil
}

// RaiseForRecord emits a security event for a suspicious audit record.
// Returns nil when the alert was suppressed by the cooldown window.
func (s *AlertSink) RaiseForRecord(ctx context.Context, record *audit.Record) (*audit.SecurityEvent, error) {
	severity := audit.SeverityForTier(record.RiskScore.Tier().String())
	description := fmt.Sprintf("suspicious %s action %q in module %s (risk %s)",
		record.PrincipalTier, record.Action.Type, record.Action.Module, record.RiskScore)

	return s.raise(ctx, record.ID, record.TenantID, record.PrincipalID, severity, description)
}

// RaiseIntegrityViolation emits a critical event for a record whose stored
// hashes failed verification on read.
func (s *AlertSink) RaiseIntegrityViolation(ctx context.Context, record *audit.Record, cause error) (*audit.SecurityEvent, error) {
	description := fmt.Sprintf("integrity violation on audit record %s: %v", record.ID, cause)
	return s.raise(ctx, record.ID, record.TenantID, record.PrincipalID, audit.SeverityCritical, description)
}

func (s *AlertSink) raise(ctx context.Context, recordID uuid.UUID, tenantID, principalID string,
	severity audit.SecurityEventSeverity, description string) (*audit.SecurityEvent, error) {

	if s.suppressed(principalID, severity) {
		s.logger.Debug("alert suppressed by cooldown",
			zap.String("principal_id", principalID),
			zap.String("severity", string(severity)))
		return nil, nil
	}

	event, err := audit.NewSecurityEvent(recordID, tenantID, principalID, severity, description)
	if err != nil {
		return nil, err
	}

	if err := s.events.Create(ctx, event); err != nil {
		return nil, errors.NewInternalError("failed to persist security event").WithCause(err)
	}

	securityEventsEmitted.WithLabelValues(string(severity)).Inc()

	s.logger.Warn("security event raised",
		zap.String("event_id", event.ID.String()),
		zap.String("record_id", recordID.String()),
		zap.String("principal_id", principalID),
		zap.String("severity", string(severity)))

	s.deliver(ctx, event)
	return event, nil
}

// deliver pushes the event to the notifier with bounded retries. A failed
// delivery is not fatal: the event is already persisted and open events can
// be re-driven from ListOpen.
func (s *AlertSink) deliver(ctx context.Context, event *audit.SecurityEvent) {
	if s.notifier == nil {
		return
	}

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxDeliveryAttempts; attempt++ {
		if lastErr = s.notifier.Notify(ctx, event); lastErr == nil {
			return
		}
		if attempt < s.config.MaxDeliveryAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.config.DeliveryBackoff):
			}
		}
	}

	s.logger.Error("security event delivery exhausted retries",
		zap.String("event_id", event.ID.String()),
		zap.Int("attempts", s.config.MaxDeliveryAttempts),
		zap.Error(lastErr))
}

func (s *AlertSink) suppressed(principalID string, severity audit.SecurityEventSeverity) bool {
	if s.config.Cooldown <= 0 {
		return false
	}

	key := principalID + "|" + string(severity)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.cooldowns[key]; ok && now.Sub(last) < s.config.Cooldown {
		return true
	}
	s.cooldowns[key] = now
	return false
}

// Acknowledge transitions an event open -> acknowledged on operator action
func (s *AlertSink) Acknowledge(ctx context.Context, eventID uuid.UUID, operatorID string) error {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return err
	}
	if err := event.Acknowledge(operatorID); err != nil {
		return err
	}
	return s.events.Update(ctx, event)
}

// Resolve transitions an event acknowledged -> resolved on operator action
func (s *AlertSink) Resolve(ctx context.Context, eventID uuid.UUID, operatorID, resolution string) error {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return err
	}
	if err := event.Resolve(operatorID, resolution); err != nil {
		return err
	}
	return s.events.Update(ctx, event)
}
