package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// SecurityEventStatus is the resolution workflow of a derived alert.
// Transitions are operator-driven: open -> acknowledged -> resolved.
type SecurityEventStatus string

const (
	SecurityEventOpen         SecurityEventStatus = "open"
	SecurityEventAcknowledged SecurityEventStatus = "acknowledged"
	SecurityEventResolved     SecurityEventStatus = "resolved"
)

// SecurityEventSeverity mirrors the risk tier of the triggering record
type SecurityEventSeverity string

const (
	SeverityWarning  SecurityEventSeverity = "warning"
	SeverityHigh     SecurityEventSeverity = "high"
	SeverityCritical SecurityEventSeverity = "critical"
)

// SecurityEvent is a derived alert referencing the audit record that
// triggered it. Created exclusively by the alerting sink.
type SecurityEvent struct {
	ID            uuid.UUID             `json:"id"`
	AuditRecordID uuid.UUID             `json:"audit_record_id"`
	TenantID      string                `json:"tenant_id,omitempty"`
	PrincipalID   string                `json:"principal_id"`
	Severity      SecurityEventSeverity `json:"severity"`
	Description   string                `json:"description"`

	Status         SecurityEventStatus `json:"status"`
	AcknowledgedBy string              `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time          `json:"acknowledged_at,omitempty"`
	ResolvedBy     string              `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time          `json:"resolved_at,omitempty"`
	Resolution     string              `json:"resolution,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewSecurityEvent creates an open security event for an audit record
func NewSecurityEvent(recordID uuid.UUID, tenantID, principalID string, severity SecurityEventSeverity, description string) (*SecurityEvent, error) {
	if recordID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_RECORD_ID",
			"triggering audit record ID is required")
	}
	if principalID == "" {
		return nil, errors.NewValidationError("MISSING_PRINCIPAL_ID",
			"principal ID is required")
	}
	if description == "" {
		return nil, errors.NewValidationError("MISSING_DESCRIPTION",
			"description is required")
	}

	return &SecurityEvent{
		ID:            uuid.New(),
		AuditRecordID: recordID,
		TenantID:      tenantID,
		PrincipalID:   principalID,
		Severity:      severity,
		Description:   description,
		Status:        SecurityEventOpen,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Acknowledge transitions open -> acknowledged
func (e *SecurityEvent) Acknowledge(operatorID string) error {
	if operatorID == "" {
		return errors.NewValidationError("MISSING_OPERATOR",
			"operator ID is required")
	}
	if e.Status != SecurityEventOpen {
		return errors.NewBusinessError("INVALID_TRANSITION",
			"only open events can be acknowledged")
	}
	now := time.Now().UTC()
	e.Status = SecurityEventAcknowledged
	e.AcknowledgedBy = operatorID
	e.AcknowledgedAt = &now
	return nil
}

// Resolve transitions acknowledged -> resolved
func (e *SecurityEvent) Resolve(operatorID, resolution string) error {
	if operatorID == "" {
		return errors.NewValidationError("MISSING_OPERATOR",
			"operator ID is required")
	}
	if e.Status != SecurityEventAcknowledged {
		return errors.NewBusinessError("INVALID_TRANSITION",
			"only acknowledged events can be resolved")
	}
	now := time.Now().UTC()
	e.Status = SecurityEventResolved
	e.ResolvedBy = operatorID
	e.ResolvedAt = &now
	e.Resolution = resolution
	return nil
}

// SeverityForTier maps a risk tier onto an alert severity
func SeverityForTier(tier string) SecurityEventSeverity {
	switch tier {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	default:
		return SeverityWarning
	}
}
