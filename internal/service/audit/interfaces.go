package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
)

// RecordRepository is the append-only immutable store. No update or delete is
// exposed before a record's retention expiry; PurgeExpired is the single
// sanctioned deletion path and MarkQuarantined the single internal flag write
// (integrity violations only).
type RecordRepository interface {
	Append(ctx context.Context, record *audit.Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*audit.Record, error)
	Query(ctx context.Context, filters audit.QueryFilters, page audit.Page) ([]*audit.Record, int, error)
	MarkQuarantined(ctx context.Context, id uuid.UUID) error

	// PurgeExpired deletes records past expiry without a legal hold and
	// returns (purged, heldBack). heldBack counts records that were expired
	// but refused because of a legal hold.
	PurgeExpired(ctx context.Context, now time.Time) (purged int, heldBack int, err error)
}

// PatternRepository stores per-principal behavioral patterns. Update must
// fail with a conflict error when the stored version differs from the
// pattern's version, enabling optimistic read-modify-write retries.
type PatternRepository interface {
	Get(ctx context.Context, principalID string) (*audit.Pattern, error)
	Create(ctx context.Context, pattern *audit.Pattern) error
	Update(ctx context.Context, pattern *audit.Pattern) error
}

// SecurityEventRepository persists derived alerts
type SecurityEventRepository interface {
	Create(ctx context.Context, event *audit.SecurityEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*audit.SecurityEvent, error)
	Update(ctx context.Context, event *audit.SecurityEvent) error
	ListOpen(ctx context.Context, limit int) ([]*audit.SecurityEvent, error)
}

// ExportRepository persists export job state
type ExportRepository interface {
	Create(ctx context.Context, job *audit.ExportJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*audit.ExportJob, error)
	Update(ctx context.Context, job *audit.ExportJob) error
	FindInFlight(ctx context.Context, requesterID, filtersHash string) (*audit.ExportJob, error)
}

// Notifier is the external notification collaborator. Delivery is
// at-least-once; the collaborator must be idempotent on event ID.
type Notifier interface {
	Notify(ctx context.Context, event *audit.SecurityEvent) error
}

// ArtifactStore holds export artifacts and issues expiring download links
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// RateLimiter guards the CPU-bound decrypt-on-read path per requester
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// JobLocker provides single-flight locking for export jobs: at most one
// in-flight export per (requester, filter set).
type JobLocker interface {
	// Acquire returns (existingID, false) when another job holds the lock,
	// or ("", true) when the lock was acquired for jobID.
	Acquire(ctx context.Context, key, jobID string, ttl time.Duration) (existingID string, acquired bool, err error)
	Release(ctx context.Context, key string) error
}
