package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
	"github.com/davidleathers/audit-vault-backend/internal/domain/values"
)

// ActionCategory groups action types for querying and risk assessment
type ActionCategory string

const (
	CategoryAuth      ActionCategory = "auth"
	CategoryData      ActionCategory = "data"
	CategoryFinancial ActionCategory = "financial"
	CategorySecurity  ActionCategory = "security"
	CategoryConfig    ActionCategory = "config"
	CategoryExport    ActionCategory = "export"
	CategoryOther     ActionCategory = "other"
)

// Action describes what a principal did to which resource
type Action struct {
	Category     ActionCategory `json:"category"`
	Type         string         `json:"type"` // e.g. "delete_transaction", "view", "login"
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Module       string         `json:"module"` // producing module, e.g. "billing"
}

// Context captures where an audited action came from
type Context struct {
	IP                string          `json:"ip"`
	ISP               string          `json:"isp,omitempty"`
	UserAgent         string          `json:"user_agent,omitempty"`
	Location          values.GeoPoint `json:"location"`
	DeviceFingerprint string          `json:"device_fingerprint,omitempty"`
}

// Record is one immutable fact about one principal action. Once persisted it
// is never mutated or deleted before ExpiresAt, except through the retention
// purge path (which refuses legal holds).
type Record struct {
	// Identity
	ID          uuid.UUID `json:"id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	PrincipalID string    `json:"principal_id"`
	SessionID   string    `json:"session_id,omitempty"`

	// Classification
	PrincipalTier PrincipalTier `json:"principal_tier"`
	Action        Action        `json:"action"`

	// Content: redacted display copies only. The pre-redaction payload lives
	// in EncryptedPayload when the record is sensitive.
	Description string                 `json:"description"`
	OldValue    map[string]interface{} `json:"old_value,omitempty"`
	NewValue    map[string]interface{} `json:"new_value,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Context
	Context Context `json:"context"`

	// Risk
	RiskScore      values.RiskScore `json:"risk_score"`
	RiskFactors    []string         `json:"risk_factors,omitempty"`
	IsSuspicious   bool             `json:"is_suspicious"`
	RequiresReview bool             `json:"requires_review"`

	// Sensitivity
	IsSensitive      bool   `json:"is_sensitive"`
	EncryptedPayload []byte `json:"encrypted_payload,omitempty"`

	// Integrity
	ContentHash      values.HashValue `json:"content_hash"`
	VerificationHash values.HashValue `json:"verification_hash"`

	// Quarantined records failed an integrity check on read. They are excluded
	// from normal query results and only visible through the admin view.
	Quarantined bool `json:"quarantined"`

	// LegalHold blocks the retention purge past ExpiresAt.
	LegalHold bool `json:"legal_hold"`

	// Lifecycle
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Immutability marker, set once both hashes are sealed
	sealed bool
}

// NewRecord creates an audit record with constructor validation. Hashes, risk
// and expiry are assigned by the ingestion pipeline before the record is sealed.
func NewRecord(principalID string, tier PrincipalTier, action Action, context Context, description string) (*Record, error) {
	if principalID == "" {
		return nil, errors.NewValidationError("MISSING_PRINCIPAL_ID",
			"principal ID is required")
	}
	if action.Type == "" {
		return nil, errors.NewValidationError("MISSING_ACTION_TYPE",
			"action type is required")
	}
	if action.Module == "" {
		return nil, errors.NewValidationError("MISSING_MODULE",
			"producing module is required")
	}
	if description == "" {
		return nil, errors.NewValidationError("MISSING_DESCRIPTION",
			"description is required")
	}
	if !tier.IsValid() {
		return nil, errors.NewValidationError("INVALID_PRINCIPAL_TIER",
			"principal tier must be admin, trader or influencer")
	}
	if action.Category == "" {
		action.Category = CategoryOther
	}

	return &Record{
		ID:            uuid.New(),
		PrincipalID:   principalID,
		PrincipalTier: tier,
		Action:        action,
		Context:       context,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Seal marks the record immutable. Both hashes must be present: a record is
// never persisted without its integrity hashes computed over the exact data
// being stored.
func (r *Record) Seal() error {
	if r.sealed {
		return errors.NewBusinessError("RECORD_SEALED",
			"record is already sealed")
	}
	if r.ContentHash.IsZero() || r.VerificationHash.IsZero() {
		return errors.NewBusinessError("MISSING_HASHES",
			"record cannot be sealed without content and verification hashes")
	}
	if r.ExpiresAt.IsZero() {
		return errors.NewBusinessError("MISSING_EXPIRY",
			"record cannot be sealed without a retention expiry")
	}
	if r.IsSensitive && len(r.EncryptedPayload) == 0 {
		return errors.NewEncryptionError("MISSING_CIPHERTEXT",
			"sensitive record cannot be sealed without an encrypted payload")
	}
	r.sealed = true
	return nil
}

// IsSealed reports whether the record has been made immutable
func (r *Record) IsSealed() bool {
	return r.sealed
}

// MarkStored restores the sealed marker on records loaded from storage
func (r *Record) MarkStored() {
	r.sealed = true
}

// Validate performs comprehensive validation of the record
func (r *Record) Validate() error {
	if r.ID == uuid.Nil {
		return errors.NewValidationError("MISSING_ID", "record ID is required")
	}
	if r.PrincipalID == "" {
		return errors.NewValidationError("MISSING_PRINCIPAL_ID", "principal ID is required")
	}
	if r.Action.Type == "" {
		return errors.NewValidationError("MISSING_ACTION_TYPE", "action type is required")
	}
	if r.Action.Module == "" {
		return errors.NewValidationError("MISSING_MODULE", "producing module is required")
	}
	if r.Description == "" {
		return errors.NewValidationError("MISSING_DESCRIPTION", "description is required")
	}
	if !r.PrincipalTier.IsValid() {
		return errors.NewValidationError("INVALID_PRINCIPAL_TIER",
			"principal tier must be admin, trader or influencer")
	}
	if r.sealed && (r.ContentHash.IsZero() || r.VerificationHash.IsZero()) {
		return errors.NewValidationError("MISSING_HASHES",
			"sealed record must carry both integrity hashes")
	}
	return nil
}

// IsExpired reports whether the record is past its retention expiry
func (r *Record) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// PurgeEligible reports whether the record may be deleted by the retention
// sweep: expired and not under legal hold.
func (r *Record) PurgeEligible(now time.Time) bool {
	return r.IsExpired(now) && !r.LegalHold
}
