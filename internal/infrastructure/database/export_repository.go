package database

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// ExportRepository persists export job state
type ExportRepository struct {
	db *pgxpool.Pool
}

// NewExportRepository creates a PostgreSQL export job repository
func NewExportRepository(db *pgxpool.Pool) *ExportRepository {
	return &ExportRepository{db: db}
}

const jobColumns = `
	id, requester_id, principal_id, filters, filters_hash, status, attempts,
	reason, artifact_key, download_url, link_expires, record_count,
	created_at, completed_at`

// Create inserts a pending job
func (r *ExportRepository) Create(ctx context.Context, job *audit.ExportJob) error {
	filters, err := json.Marshal(job.Filters)
	if err != nil {
		return errors.NewInternalError("failed to encode export filters").WithCause(err)
	}

	query := `
		INSERT INTO export_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.db.Exec(ctx, query,
		job.ID,
		job.RequesterID,
		job.PrincipalID,
		filters,
		job.FiltersHash,
		string(job.Status),
		job.Attempts,
		job.Reason,
		job.ArtifactKey,
		job.DownloadURL,
		job.LinkExpires,
		job.RecordCount,
		job.CreatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to create export job").WithCause(err)
	}
	return nil
}

// GetByID loads one job
func (r *ExportRepository) GetByID(ctx context.Context, id uuid.UUID) (*audit.ExportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM export_jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("export job")
		}
		return nil, errors.NewInternalError("failed to load export job").WithCause(err)
	}
	return job, nil
}

// Update writes the job lifecycle state back
func (r *ExportRepository) Update(ctx context.Context, job *audit.ExportJob) error {
	query := `
		UPDATE export_jobs SET
			status = $2,
			attempts = $3,
			reason = $4,
			artifact_key = $5,
			download_url = $6,
			link_expires = $7,
			record_count = $8,
			completed_at = $9
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.Attempts,
		job.Reason,
		job.ArtifactKey,
		job.DownloadURL,
		job.LinkExpires,
		job.RecordCount,
		job.CompletedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to update export job").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("export job")
	}
	return nil
}

// FindInFlight returns the pending or processing job for a requester and
// filter set, if one exists.
func (r *ExportRepository) FindInFlight(ctx context.Context, requesterID, filtersHash string) (*audit.ExportJob, error) {
	query := `SELECT ` + jobColumns + `
		FROM export_jobs
		WHERE requester_id = $1 AND filters_hash = $2
		  AND status IN ('pending', 'processing')
		ORDER BY created_at ASC
		LIMIT 1`

	job, err := scanJob(r.db.QueryRow(ctx, query, requesterID, filtersHash))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("export job")
		}
		return nil, errors.NewInternalError("failed to find in-flight export").WithCause(err)
	}
	return job, nil
}

func scanJob(row rowScanner) (*audit.ExportJob, error) {
	var (
		job     audit.ExportJob
		filters []byte
		status  string
	)
	err := row.Scan(
		&job.ID,
		&job.RequesterID,
		&job.PrincipalID,
		&filters,
		&job.FiltersHash,
		&status,
		&job.Attempts,
		&job.Reason,
		&job.ArtifactKey,
		&job.DownloadURL,
		&job.LinkExpires,
		&job.RecordCount,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = audit.ExportStatus(status)
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &job.Filters); err != nil {
			return nil, err
		}
	}
	return &job, nil
}
