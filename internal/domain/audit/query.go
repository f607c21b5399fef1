package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/davidleathers/audit-vault-backend/internal/domain/values"
)

// QueryFilters narrows a read over the immutable store
type QueryFilters struct {
	PrincipalID string           `json:"principal_id,omitempty"`
	TenantID    string           `json:"tenant_id,omitempty"`
	Module      string           `json:"module,omitempty"`
	ActionType  string           `json:"action_type,omitempty"`
	RiskTier    values.RiskTier  `json:"risk_tier,omitempty"`
	DateFrom    *time.Time       `json:"date_from,omitempty"`
	DateTo      *time.Time       `json:"date_to,omitempty"`

	// IncludeQuarantined is only honored for the admin view; normal queries
	// never surface quarantined records.
	IncludeQuarantined bool `json:"include_quarantined,omitempty"`

	// OnlyQuarantined restricts the result to quarantined records. Admin
	// quarantine view only; takes precedence over IncludeQuarantined.
	OnlyQuarantined bool `json:"only_quarantined,omitempty"`
}

// Hash returns a stable digest of the filter set, used to collapse duplicate
// export requests onto one in-flight job.
func (f QueryFilters) Hash() string {
	// json.Marshal emits struct fields in declaration order, so equal filter
	// sets always produce equal digests.
	jsonBytes, err := json.Marshal(f)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:16])
}

// Page is 1-based pagination
type Page struct {
	Number int `json:"page"`
	Size   int `json:"page_size"`
}

// Normalize clamps the page into sane bounds
func (p Page) Normalize(maxSize int) Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 50
	}
	if maxSize > 0 && p.Size > maxSize {
		p.Size = maxSize
	}
	return p
}

// Offset returns the row offset for the page
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}
