package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
	"github.com/davidleathers/audit-vault-backend/internal/domain/values"
)

// RecordRepository is the PostgreSQL append-only record store. The table
// carries a trigger that rejects any UPDATE except the quarantine flag and
// any DELETE of unexpired or held rows, so immutability is enforced in the
// database as well as here.
type RecordRepository struct {
	db *pgxpool.Pool
}

// NewRecordRepository creates a PostgreSQL record repository
func NewRecordRepository(db *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{db: db}
}

const recordColumns = `
	id, tenant_id, principal_id, session_id, principal_tier,
	action_category, action_type, resource_type, resource_id, module,
	description, old_value, new_value, metadata,
	ip, isp, user_agent, lat, lon, location_label, device_fingerprint,
	risk_score, risk_factors, is_suspicious, requires_review,
	is_sensitive, encrypted_payload,
	content_hash, verification_hash,
	quarantined, legal_hold, created_at, expires_at`

// Append inserts one sealed record. Records are never updated afterwards.
func (r *RecordRepository) Append(ctx context.Context, record *audit.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if !record.IsSealed() {
		return errors.NewBusinessError("RECORD_NOT_SEALED",
			"only sealed records may be appended")
	}

	oldValue, err := json.Marshal(record.OldValue)
	if err != nil {
		return errors.NewInternalError("failed to marshal old value").WithCause(err)
	}
	newValue, err := json.Marshal(record.NewValue)
	if err != nil {
		return errors.NewInternalError("failed to marshal new value").WithCause(err)
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return errors.NewInternalError("failed to marshal metadata").WithCause(err)
	}

	query := `
		INSERT INTO audit_records (` + recordColumns + `)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33
		)`

	_, err = r.db.Exec(ctx, query,
		record.ID,
		record.TenantID,
		record.PrincipalID,
		record.SessionID,
		string(record.PrincipalTier),
		string(record.Action.Category),
		record.Action.Type,
		record.Action.ResourceType,
		record.Action.ResourceID,
		record.Action.Module,
		record.Description,
		oldValue,
		newValue,
		metadata,
		record.Context.IP,
		record.Context.ISP,
		record.Context.UserAgent,
		record.Context.Location.Lat,
		record.Context.Location.Lon,
		record.Context.Location.Label,
		record.Context.DeviceFingerprint,
		record.RiskScore.Int(),
		pq.Array(record.RiskFactors),
		record.IsSuspicious,
		record.RequiresReview,
		record.IsSensitive,
		record.EncryptedPayload,
		record.ContentHash.String(),
		record.VerificationHash.String(),
		record.Quarantined,
		record.LegalHold,
		record.CreatedAt,
		record.ExpiresAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to append audit record").WithCause(err)
	}
	return nil
}

// GetByID loads one record
func (r *RecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*audit.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM audit_records WHERE id = $1`
	record, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("audit record")
		}
		return nil, errors.NewInternalError("failed to load audit record").WithCause(err)
	}
	return record, nil
}

// Query returns a filtered page plus the total match count
func (r *RecordRepository) Query(ctx context.Context, filters audit.QueryFilters, page audit.Page) ([]*audit.Record, int, error) {
	where, args := buildWhere(filters)

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_records` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternalError("failed to count audit records").WithCause(err)
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_records%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		recordColumns, where, len(args)+1, len(args)+2)
	args = append(args, page.Size, page.Offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.NewInternalError("failed to query audit records").WithCause(err)
	}
	defer rows.Close()

	var records []*audit.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, errors.NewInternalError("failed to scan audit record").WithCause(err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternalError("audit record iteration failed").WithCause(err)
	}
	return records, total, nil
}

// MarkQuarantined flips the single mutable flag on a stored record
func (r *RecordRepository) MarkQuarantined(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE audit_records SET quarantined = TRUE WHERE id = $1`, id)
	if err != nil {
		return errors.NewInternalError("failed to quarantine record").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("audit record")
	}
	return nil
}

// PurgeExpired deletes expired records without a legal hold and counts the
// expired ones a hold kept alive.
func (r *RecordRepository) PurgeExpired(ctx context.Context, now time.Time) (int, int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, 0, errors.NewInternalError("failed to begin purge transaction").WithCause(err)
	}
	defer tx.Rollback(ctx)

	var heldBack int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_records WHERE expires_at < $1 AND legal_hold`, now,
	).Scan(&heldBack)
	if err != nil {
		return 0, 0, errors.NewInternalError("failed to count held records").WithCause(err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM audit_records WHERE expires_at < $1 AND NOT legal_hold`, now)
	if err != nil {
		return 0, 0, errors.NewInternalError("failed to purge expired records").WithCause(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, errors.NewInternalError("failed to commit purge").WithCause(err)
	}
	return int(tag.RowsAffected()), heldBack, nil
}

func buildWhere(filters audit.QueryFilters) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filters.OnlyQuarantined {
		clauses = append(clauses, "quarantined")
	} else if !filters.IncludeQuarantined {
		clauses = append(clauses, "NOT quarantined")
	}
	if filters.PrincipalID != "" {
		add("principal_id = $%d", filters.PrincipalID)
	}
	if filters.TenantID != "" {
		add("tenant_id = $%d", filters.TenantID)
	}
	if filters.Module != "" {
		add("module = $%d", filters.Module)
	}
	if filters.ActionType != "" {
		add("action_type = $%d", filters.ActionType)
	}
	if filters.RiskTier != "" {
		min, max := riskTierRange(filters.RiskTier)
		add("risk_score >= $%d", min)
		add("risk_score <= $%d", max)
	}
	if filters.DateFrom != nil {
		add("created_at >= $%d", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		add("created_at <= $%d", *filters.DateTo)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// riskTierRange maps a tier onto its score interval
func riskTierRange(tier values.RiskTier) (int, int) {
	switch tier {
	case values.RiskTierCritical:
		return 80, 100
	case values.RiskTierHigh:
		return 60, 79
	case values.RiskTierMedium:
		return 30, 59
	default:
		return 0, 29
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*audit.Record, error) {
	var (
		record       audit.Record
		tier         string
		category     string
		oldValue     []byte
		newValue     []byte
		metadata     []byte
		riskScore    int
		riskFactors  []string
		contentHash  string
		verification string
	)

	err := row.Scan(
		&record.ID,
		&record.TenantID,
		&record.PrincipalID,
		&record.SessionID,
		&tier,
		&category,
		&record.Action.Type,
		&record.Action.ResourceType,
		&record.Action.ResourceID,
		&record.Action.Module,
		&record.Description,
		&oldValue,
		&newValue,
		&metadata,
		&record.Context.IP,
		&record.Context.ISP,
		&record.Context.UserAgent,
		&record.Context.Location.Lat,
		&record.Context.Location.Lon,
		&record.Context.Location.Label,
		&record.Context.DeviceFingerprint,
		&riskScore,
		pq.Array(&riskFactors),
		&record.IsSuspicious,
		&record.RequiresReview,
		&record.IsSensitive,
		&record.EncryptedPayload,
		&contentHash,
		&verification,
		&record.Quarantined,
		&record.LegalHold,
		&record.CreatedAt,
		&record.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	record.PrincipalTier = audit.PrincipalTier(tier)
	record.Action.Category = audit.ActionCategory(category)
	record.RiskScore = values.NewRiskScoreCapped(riskScore)
	record.RiskFactors = riskFactors

	if len(oldValue) > 0 {
		if err := json.Unmarshal(oldValue, &record.OldValue); err != nil {
			return nil, err
		}
	}
	if len(newValue) > 0 {
		if err := json.Unmarshal(newValue, &record.NewValue); err != nil {
			return nil, err
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return nil, err
		}
	}

	if record.ContentHash, err = values.NewHashValue(contentHash); err != nil {
		return nil, err
	}
	if record.VerificationHash, err = values.NewHashValue(verification); err != nil {
		return nil, err
	}

	record.MarkStored()
	return &record, nil
}
