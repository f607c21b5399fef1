package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// ExportStatus is the lifecycle of an asynchronous export job
type ExportStatus string

const (
	ExportPending    ExportStatus = "pending"
	ExportProcessing ExportStatus = "processing"
	ExportCompleted  ExportStatus = "completed"
	ExportFailed     ExportStatus = "failed"
)

// ExportCancelledReason is the failure reason recorded for user cancellation
const ExportCancelledReason = "cancelled"

// ExportJob is one asynchronous bulk export request. Duplicate requests for
// the same (requester, filter set) attach to the existing in-flight job.
type ExportJob struct {
	ID          uuid.UUID    `json:"id"`
	RequesterID string       `json:"requester_id"`
	PrincipalID string       `json:"principal_id"`
	Filters     QueryFilters `json:"filters"`
	FiltersHash string       `json:"filters_hash"`

	Status   ExportStatus `json:"status"`
	Attempts int          `json:"attempts"`
	Reason   string       `json:"reason,omitempty"`

	// Completed jobs carry a time-limited download reference
	ArtifactKey string     `json:"artifact_key,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	LinkExpires *time.Time `json:"link_expires,omitempty"`

	RecordCount int        `json:"record_count"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewExportJob creates a pending export job
func NewExportJob(requesterID, principalID string, filters QueryFilters) (*ExportJob, error) {
	if requesterID == "" {
		return nil, errors.NewValidationError("MISSING_REQUESTER",
			"requester ID is required")
	}

	filters.PrincipalID = principalID
	return &ExportJob{
		ID:          uuid.New(),
		RequesterID: requesterID,
		PrincipalID: principalID,
		Filters:     filters,
		FiltersHash: filters.Hash(),
		Status:      ExportPending,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Start transitions pending -> processing and counts the attempt
func (j *ExportJob) Start() error {
	if j.Status != ExportPending && j.Status != ExportProcessing {
		return errors.NewBusinessError("INVALID_EXPORT_TRANSITION",
			"only pending jobs can start processing")
	}
	j.Status = ExportProcessing
	j.Attempts++
	return nil
}

// Complete transitions processing -> completed with the download reference
func (j *ExportJob) Complete(artifactKey, downloadURL string, linkExpires time.Time, recordCount int) error {
	if j.Status != ExportProcessing {
		return errors.NewBusinessError("INVALID_EXPORT_TRANSITION",
			"only processing jobs can complete")
	}
	now := time.Now().UTC()
	j.Status = ExportCompleted
	j.ArtifactKey = artifactKey
	j.DownloadURL = downloadURL
	j.LinkExpires = &linkExpires
	j.RecordCount = recordCount
	j.CompletedAt = &now
	return nil
}

// Fail marks the job failed with a reason. Cancellation uses the same
// transition with ExportCancelledReason.
func (j *ExportJob) Fail(reason string) error {
	if j.Status == ExportCompleted {
		return errors.NewBusinessError("INVALID_EXPORT_TRANSITION",
			"completed jobs cannot fail")
	}
	now := time.Now().UTC()
	j.Status = ExportFailed
	j.Reason = reason
	j.CompletedAt = &now
	return nil
}

// InFlight reports whether the job is still pending or processing
func (j *ExportJob) InFlight() bool {
	return j.Status == ExportPending || j.Status == ExportProcessing
}
