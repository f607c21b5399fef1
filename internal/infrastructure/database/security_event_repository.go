package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// SecurityEventRepository persists derived alerts
type SecurityEventRepository struct {
	db *pgxpool.Pool
}

// NewSecurityEventRepository creates a PostgreSQL security event repository
func NewSecurityEventRepository(db *pgxpool.Pool) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

const eventColumns = `
	id, audit_record_id, tenant_id, principal_id, severity, description,
	status, acknowledged_by, acknowledged_at, resolved_by, resolved_at,
	resolution, created_at`

// Create inserts a new open event
func (r *SecurityEventRepository) Create(ctx context.Context, event *audit.SecurityEvent) error {
	query := `
		INSERT INTO security_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		event.ID,
		event.AuditRecordID,
		event.TenantID,
		event.PrincipalID,
		string(event.Severity),
		event.Description,
		string(event.Status),
		event.AcknowledgedBy,
		event.AcknowledgedAt,
		event.ResolvedBy,
		event.ResolvedAt,
		event.Resolution,
		event.CreatedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to create security event").WithCause(err)
	}
	return nil
}

// GetByID loads one event
func (r *SecurityEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*audit.SecurityEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM security_events WHERE id = $1`
	event, err := scanEvent(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("security event")
		}
		return nil, errors.NewInternalError("failed to load security event").WithCause(err)
	}
	return event, nil
}

// Update writes the resolution workflow state back
func (r *SecurityEventRepository) Update(ctx context.Context, event *audit.SecurityEvent) error {
	query := `
		UPDATE security_events SET
			status = $2,
			acknowledged_by = $3,
			acknowledged_at = $4,
			resolved_by = $5,
			resolved_at = $6,
			resolution = $7
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		event.ID,
		string(event.Status),
		event.AcknowledgedBy,
		event.AcknowledgedAt,
		event.ResolvedBy,
		event.ResolvedAt,
		event.Resolution,
	)
	if err != nil {
		return errors.NewInternalError("failed to update security event").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("security event")
	}
	return nil
}

// ListOpen returns the oldest open events, for re-driving undelivered alerts
func (r *SecurityEventRepository) ListOpen(ctx context.Context, limit int) ([]*audit.SecurityEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM security_events
		WHERE status = 'open'
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list open security events").WithCause(err)
	}
	defer rows.Close()

	var events []*audit.SecurityEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan security event").WithCause(err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(row rowScanner) (*audit.SecurityEvent, error) {
	var (
		event    audit.SecurityEvent
		severity string
		status   string
	)
	err := row.Scan(
		&event.ID,
		&event.AuditRecordID,
		&event.TenantID,
		&event.PrincipalID,
		&severity,
		&event.Description,
		&status,
		&event.AcknowledgedBy,
		&event.AcknowledgedAt,
		&event.ResolvedBy,
		&event.ResolvedAt,
		&event.Resolution,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	event.Severity = audit.SecurityEventSeverity(severity)
	event.Status = audit.SecurityEventStatus(status)
	return &event, nil
}
