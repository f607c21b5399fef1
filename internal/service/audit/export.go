package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// ExportConfig tunes the asynchronous export worker pool
type ExportConfig struct {
	Workers   int
	QueueSize int

	// MaxAttempts bounds retries of transient artifact failures
	MaxAttempts  int
	RetryBackoff time.Duration

	// PageSize is the record batch size when building an artifact
	PageSize int

	// LinkTTL is how long a completed download link stays valid
	LinkTTL time.Duration

	// LockTTL caps how long a crashed worker can hold the single-flight lock
	LockTTL time.Duration

	// PagesPerSecond throttles record reads so bulk exports don't starve the
	// ingestion path
	PagesPerSecond float64
}

// DefaultExportConfig returns the export defaults
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		Workers:        2,
		QueueSize:      64,
		MaxAttempts:    3,
		RetryBackoff:   time.Second,
		PageSize:       500,
		LinkTTL:        7 * 24 * time.Hour,
		LockTTL:        time.Hour,
		PagesPerSecond: 20,
	}
}

// ExportService runs asynchronous bulk exports. Duplicate requests for the
// same (requester, filter set) attach to the in-flight job instead of
// spawning a second one; completed artifacts are JSON arrays in the artifact
// store behind a time-limited download link. A zero-match export completes
// successfully with an empty array.
type ExportService struct {
	jobs      ExportRepository
	records   RecordRepository
	encryptor *EnvelopeEncryptor
	artifacts ArtifactStore
	locker    JobLocker
	config    ExportConfig
	logger    *zap.Logger

	throttle *rate.Limiter
	queue    chan uuid.UUID
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	mu       sync.Mutex
}

// NewExportService wires the export worker pool. Call Start before Request.
func NewExportService(
	jobs ExportRepository,
	records RecordRepository,
	encryptor *EnvelopeEncryptor,
	artifacts ArtifactStore,
	locker JobLocker,
	config ExportConfig,
	logger *zap.Logger,
) (*ExportService, error) {
	if jobs == nil || records == nil || artifacts == nil || locker == nil {
		return nil, errors.NewValidationError("MISSING_EXPORT_DEPENDENCY",
			"job repository, record repository, artifact store and locker are all required")
	}
	if encryptor == nil {
		return nil, errors.NewValidationError("MISSING_ENCRYPTOR",
			"encryptor is required")
	}
	if config.Workers <= 0 {
		config = DefaultExportConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ExportService{
		jobs:      jobs,
		records:   records,
		encryptor: encryptor,
		artifacts: artifacts,
		locker:    locker,
		config:    config,
		logger:    logger,
		throttle:  rate.NewLimiter(rate.Limit(config.PagesPerSecond), 1),
		queue:     make(chan uuid.UUID, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start launches the worker pool
func (s *ExportService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Close stops the workers and waits for in-flight jobs to finish
func (s *ExportService) Close() {
	s.cancel()
	s.wg.Wait()
}

// Request creates an export job, or returns the existing in-flight job for
// the same requester and filter set.
func (s *ExportService) Request(ctx context.Context, requester Requester, filters audit.QueryFilters) (*audit.ExportJob, error) {
	job, err := audit.NewExportJob(requester.PrincipalID, filters.PrincipalID, filters)
	if err != nil {
		return nil, err
	}

	lockKey := exportLockKey(job.RequesterID, job.FiltersHash)
	existingID, acquired, err := s.locker.Acquire(ctx, lockKey, job.ID.String(), s.config.LockTTL)
	if err != nil {
		return nil, errors.NewExportError("EXPORT_LOCK_FAILED",
			"failed to acquire export lock").WithCause(err)
	}

	if !acquired {
		// Attach to the in-flight job instead of duplicating the work
		exportJobs.WithLabelValues("deduplicated").Inc()
		if existing := s.findExisting(ctx, existingID, job); existing != nil {
			return existing, nil
		}
		// Stale lock with no live job behind it: release and run fresh
		if err := s.locker.Release(ctx, lockKey); err != nil {
			return nil, errors.NewExportError("EXPORT_LOCK_STALE",
				"stale export lock could not be released").WithCause(err)
		}
		if _, acquired, err = s.locker.Acquire(ctx, lockKey, job.ID.String(), s.config.LockTTL); err != nil || !acquired {
			return nil, errors.NewExportError("EXPORT_LOCK_FAILED",
				"failed to reacquire export lock").WithCause(err)
		}
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		_ = s.locker.Release(ctx, lockKey)
		return nil, errors.NewExportError("EXPORT_CREATE_FAILED",
			"failed to persist export job").WithCause(err)
	}

	select {
	case s.queue <- job.ID:
	default:
		// Queue saturated; run this one outside the pool
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.process(job.ID)
		}()
	}

	return job, nil
}

// Status returns the current state of an export job
func (s *ExportService) Status(ctx context.Context, id uuid.UUID) (*audit.ExportJob, error) {
	return s.jobs.GetByID(ctx, id)
}

// Cancel marks an in-flight job cancelled. Completed jobs cannot be
// cancelled; a worker that already started the artifact build finishes it and
// loses the status race on purpose, which is harmless because the artifact is
// simply never linked.
func (s *ExportService) Cancel(ctx context.Context, requester Requester, id uuid.UUID) error {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.RequesterID != requester.PrincipalID && !requester.Admin {
		return errors.NewForbiddenError("only the requester may cancel an export")
	}
	if err := job.Fail(audit.ExportCancelledReason); err != nil {
		return err
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		return err
	}
	_ = s.locker.Release(ctx, exportLockKey(job.RequesterID, job.FiltersHash))
	exportJobs.WithLabelValues("cancelled").Inc()
	return nil
}

func (s *ExportService) findExisting(ctx context.Context, existingID string, fallback *audit.ExportJob) *audit.ExportJob {
	if existingID != "" {
		if id, err := uuid.Parse(existingID); err == nil {
			if job, err := s.jobs.GetByID(ctx, id); err == nil && job.InFlight() {
				return job
			}
		}
	}
	if job, err := s.jobs.FindInFlight(ctx, fallback.RequesterID, fallback.FiltersHash); err == nil {
		return job
	}
	return nil
}

func (s *ExportService) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case id := <-s.queue:
			s.process(id)
		}
	}
}

// process drives one job through bounded attempts to completion or failure
func (s *ExportService) process(id uuid.UUID) {
	ctx := s.ctx
	logger := s.logger.With(zap.String("job_id", id.String()))

	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		logger.Error("export job vanished before processing", zap.Error(err))
		return
	}
	lockKey := exportLockKey(job.RequesterID, job.FiltersHash)
	defer func() {
		if err := s.locker.Release(ctx, lockKey); err != nil {
			logger.Warn("failed to release export lock", zap.Error(err))
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		// Re-read so a cancellation between attempts is honored
		job, err = s.jobs.GetByID(ctx, id)
		if err != nil {
			logger.Error("failed to reload export job", zap.Error(err))
			return
		}
		if !job.InFlight() {
			logger.Info("export job no longer in flight, skipping",
				zap.String("status", string(job.Status)))
			return
		}

		if err := job.Start(); err != nil {
			logger.Error("export job cannot start", zap.Error(err))
			return
		}
		if err := s.jobs.Update(ctx, job); err != nil {
			logger.Error("failed to persist export start", zap.Error(err))
			return
		}

		if lastErr = s.buildArtifact(ctx, job); lastErr == nil {
			if err := s.jobs.Update(ctx, job); err != nil {
				logger.Error("failed to persist export completion", zap.Error(err))
				return
			}
			exportJobs.WithLabelValues("completed").Inc()
			logger.Info("export completed",
				zap.Int("records", job.RecordCount),
				zap.Int("attempts", job.Attempts))
			return
		}

		logger.Warn("export attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt < s.config.MaxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.config.RetryBackoff):
			}
		}
	}

	if err := job.Fail(lastErr.Error()); err == nil {
		if err := s.jobs.Update(ctx, job); err != nil {
			logger.Error("failed to persist export failure", zap.Error(err))
		}
	}
	exportJobs.WithLabelValues("failed").Inc()
	logger.Error("export failed after exhausting retries", zap.Error(lastErr))
}

// buildArtifact pages through matching records, serializes them as one JSON
// array and completes the job with a presigned download link. The requester's
// own sensitive payloads are decrypted into the artifact; anyone else gets
// redacted display copies only.
func (s *ExportService) buildArtifact(ctx context.Context, job *audit.ExportJob) error {
	ownRecords := job.RequesterID == job.Filters.PrincipalID && job.Filters.PrincipalID != ""

	entries := make([]*RecordView, 0)
	for pageNum := 1; ; pageNum++ {
		if err := s.throttle.Wait(ctx); err != nil {
			return err
		}

		records, _, err := s.records.Query(ctx, job.Filters, audit.Page{Number: pageNum, Size: s.config.PageSize})
		if err != nil {
			return errors.NewExportError("EXPORT_QUERY_FAILED",
				"failed to read records for export").WithCause(err)
		}

		for _, record := range records {
			if err := audit.VerifyIntegrity(record); err != nil {
				// Tampered records never leave through an export
				s.logger.Warn("skipping record failing verification during export",
					zap.String("record_id", record.ID.String()))
				continue
			}
			view := &RecordView{Record: record}
			if ownRecords && record.IsSensitive && len(record.EncryptedPayload) > 0 {
				plaintext, err := s.encryptor.Decrypt(record.EncryptedPayload)
				if err != nil {
					return err
				}
				payload := &SensitivePayload{}
				if err := json.Unmarshal(plaintext, payload); err != nil {
					return errors.NewExportError("EXPORT_DECODE_FAILED",
						"failed to decode sensitive payload").WithCause(err)
				}
				view.DecryptedPayload = payload
			}
			entries = append(entries, view)
		}

		if len(records) < s.config.PageSize {
			break
		}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return errors.NewExportError("EXPORT_MARSHAL_FAILED",
			"failed to serialize export artifact").WithCause(err)
	}

	key := fmt.Sprintf("exports/%s/%s.json", job.RequesterID, job.ID)
	if err := s.artifacts.Put(ctx, key, data, "application/json"); err != nil {
		return errors.NewExportError("ARTIFACT_UPLOAD_FAILED",
			"failed to store export artifact").WithCause(err)
	}

	url, err := s.artifacts.PresignedURL(ctx, key, s.config.LinkTTL)
	if err != nil {
		return errors.NewExportError("ARTIFACT_LINK_FAILED",
			"failed to issue download link").WithCause(err)
	}

	return job.Complete(key, url, time.Now().UTC().Add(s.config.LinkTTL), len(entries))
}

func exportLockKey(requesterID, filtersHash string) string {
	return fmt.Sprintf("audit:export:%s:%s", requesterID, filtersHash)
}
