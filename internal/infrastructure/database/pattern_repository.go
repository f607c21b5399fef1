package database

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// PatternRepository stores behavioral patterns with optimistic concurrency:
// updates carry the version they read and fail on a mismatch so the analyzer
// can retry without a lock.
type PatternRepository struct {
	db *pgxpool.Pool
}

// NewPatternRepository creates a PostgreSQL pattern repository
func NewPatternRepository(db *pgxpool.Pool) *PatternRepository {
	return &PatternRepository{db: db}
}

// Get loads one principal's pattern
func (r *PatternRepository) Get(ctx context.Context, principalID string) (*audit.Pattern, error) {
	query := `
		SELECT principal_id, hour_histogram, known_geos, known_devices,
		       action_counts, sample_count, last_anomaly_score, last_seen_at,
		       last_geo, version
		FROM behavioral_patterns
		WHERE principal_id = $1`

	var (
		pattern      audit.Pattern
		histogram    []int64
		knownGeos    []byte
		actionCounts []byte
		lastGeo      []byte
	)
	err := r.db.QueryRow(ctx, query, principalID).Scan(
		&pattern.PrincipalID,
		pq.Array(&histogram),
		&knownGeos,
		pq.Array(&pattern.KnownDevices),
		&actionCounts,
		&pattern.SampleCount,
		&pattern.LastAnomalyScore,
		&pattern.LastSeenAt,
		&lastGeo,
		&pattern.Version,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("behavioral pattern")
		}
		return nil, errors.NewInternalError("failed to load behavioral pattern").WithCause(err)
	}

	copy(pattern.HourHistogram[:], histogram)
	if len(knownGeos) > 0 {
		if err := json.Unmarshal(knownGeos, &pattern.KnownGeos); err != nil {
			return nil, errors.NewInternalError("failed to decode known geos").WithCause(err)
		}
	}
	if len(actionCounts) > 0 {
		if err := json.Unmarshal(actionCounts, &pattern.ActionCounts); err != nil {
			return nil, errors.NewInternalError("failed to decode action counts").WithCause(err)
		}
	}
	if pattern.ActionCounts == nil {
		pattern.ActionCounts = make(map[string]int64)
	}
	if len(lastGeo) > 0 {
		if err := json.Unmarshal(lastGeo, &pattern.LastGeo); err != nil {
			return nil, errors.NewInternalError("failed to decode last geo").WithCause(err)
		}
	}
	return &pattern, nil
}

// Create inserts a fresh pattern at version zero. A duplicate insert is a
// conflict, which signals a lost create race to the analyzer.
func (r *PatternRepository) Create(ctx context.Context, pattern *audit.Pattern) error {
	histogram, knownGeos, actionCounts, lastGeo, err := encodePattern(pattern)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO behavioral_patterns (
			principal_id, hour_histogram, known_geos, known_devices,
			action_counts, sample_count, last_anomaly_score, last_seen_at,
			last_geo, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0)`

	_, err = r.db.Exec(ctx, query,
		pattern.PrincipalID,
		pq.Array(histogram),
		knownGeos,
		pq.Array(pattern.KnownDevices),
		actionCounts,
		pattern.SampleCount,
		pattern.LastAnomalyScore,
		pattern.LastSeenAt,
		lastGeo,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errors.NewConflictError("PATTERN_EXISTS",
				"pattern already exists for principal")
		}
		return errors.NewInternalError("failed to create behavioral pattern").WithCause(err)
	}
	return nil
}

// Update writes the pattern back, guarded by the version it was read at
func (r *PatternRepository) Update(ctx context.Context, pattern *audit.Pattern) error {
	histogram, knownGeos, actionCounts, lastGeo, err := encodePattern(pattern)
	if err != nil {
		return err
	}

	query := `
		UPDATE behavioral_patterns SET
			hour_histogram = $2,
			known_geos = $3,
			known_devices = $4,
			action_counts = $5,
			sample_count = $6,
			last_anomaly_score = $7,
			last_seen_at = $8,
			last_geo = $9,
			version = version + 1
		WHERE principal_id = $1 AND version = $10`

	tag, err := r.db.Exec(ctx, query,
		pattern.PrincipalID,
		pq.Array(histogram),
		knownGeos,
		pq.Array(pattern.KnownDevices),
		actionCounts,
		pattern.SampleCount,
		pattern.LastAnomalyScore,
		pattern.LastSeenAt,
		lastGeo,
		pattern.Version,
	)
	if err != nil {
		return errors.NewInternalError("failed to update behavioral pattern").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewConflictError("PATTERN_VERSION_CONFLICT",
			"pattern was updated concurrently")
	}
	return nil
}

func encodePattern(pattern *audit.Pattern) ([]int64, []byte, []byte, []byte, error) {
	histogram := make([]int64, len(pattern.HourHistogram))
	copy(histogram, pattern.HourHistogram[:])

	knownGeos, err := json.Marshal(pattern.KnownGeos)
	if err != nil {
		return nil, nil, nil, nil, errors.NewInternalError("failed to encode known geos").WithCause(err)
	}
	actionCounts, err := json.Marshal(pattern.ActionCounts)
	if err != nil {
		return nil, nil, nil, nil, errors.NewInternalError("failed to encode action counts").WithCause(err)
	}

	var lastGeo []byte
	if !pattern.LastGeo.IsZero() {
		if lastGeo, err = json.Marshal(pattern.LastGeo); err != nil {
			return nil, nil, nil, nil, errors.NewInternalError("failed to encode last geo").WithCause(err)
		}
	}
	return histogram, knownGeos, actionCounts, lastGeo, nil
}
