package telemetry

import (
	"context"

	"go.uber.org/zap"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
)

// LogNotifier delivers security events to the structured log stream, where
// the on-call pipeline picks them up. Dedicated delivery channels live in the
// platform's notification service.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed alert notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("alerts")}
}

// Notify emits one security event
func (n *LogNotifier) Notify(_ context.Context, event *audit.SecurityEvent) error {
	n.logger.Warn("security event raised",
		zap.String("event_id", event.ID.String()),
		zap.String("audit_record_id", event.AuditRecordID.String()),
		zap.String("principal_id", event.PrincipalID),
		zap.String("severity", string(event.Severity)),
		zap.String("description", event.Description),
	)
	return nil
}
