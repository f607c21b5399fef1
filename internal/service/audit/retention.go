package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// PurgeReport summarizes one retention sweep
type PurgeReport struct {
	Purged int `json:"purged"`

	// HeldBack counts expired records refused deletion because of a legal
	// hold; each refusal is a retention conflict surfaced to operators.
	HeldBack int `json:"held_back"`

	RanAt time.Time `json:"ran_at"`
}

// RetentionEnforcer runs the scheduled purge of expired records. Deletion
// happens exclusively here; expiry alone never deletes anything, and legal
// holds always win over expiry.
type RetentionEnforcer struct {
	records RecordRepository
	logger  *zap.Logger
}

// NewRetentionEnforcer creates the purge runner
func NewRetentionEnforcer(records RecordRepository, logger *zap.Logger) (*RetentionEnforcer, error) {
	if records == nil {
		return nil, errors.NewValidationError("MISSING_RECORD_REPOSITORY",
			"record repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionEnforcer{records: records, logger: logger}, nil
}

// PurgeExpired deletes all records past their expiry that carry no legal
// hold. Records held back are reported, logged and counted, never deleted.
func (e *RetentionEnforcer) PurgeExpired(ctx context.Context) (*PurgeReport, error) {
	now := time.Now().UTC()

	purged, heldBack, err := e.records.PurgeExpired(ctx, now)
	if err != nil {
		return nil, errors.NewInternalError("retention purge failed").WithCause(err)
	}

	recordsPurged.Add(float64(purged))
	if heldBack > 0 {
		retentionConflicts.Add(float64(heldBack))
		e.logger.Warn("expired records held back by legal hold",
			zap.Int("held_back", heldBack))
	}

	e.logger.Info("retention purge completed",
		zap.Int("purged", purged),
		zap.Int("held_back", heldBack))

	return &PurgeReport{Purged: purged, HeldBack: heldBack, RanAt: now}, nil
}
