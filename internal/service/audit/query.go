package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// QueryConfig tunes the read path
type QueryConfig struct {
	MaxPageSize int

	// Decrypt-on-read is CPU bound; each requester gets a sliding window
	DecryptLimit  int
	DecryptWindow time.Duration
}

// DefaultQueryConfig returns the read path defaults
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		MaxPageSize:   200,
		DecryptLimit:  30,
		DecryptWindow: time.Minute,
	}
}

// Requester identifies who is reading and with which privileges
type Requester struct {
	PrincipalID string

	// ElevatedReviewer may decrypt sensitive payloads of other principals
	ElevatedReviewer bool

	// Admin may see quarantined records through the dedicated view
	Admin bool
}

// RecordView is one record as served to a reader. DecryptedPayload is only
// populated for the owning principal or an elevated reviewer.
type RecordView struct {
	*audit.Record
	DecryptedPayload *SensitivePayload `json:"decrypted_payload,omitempty"`
}

// RecordPage is one page of query results
type RecordPage struct {
	Records []*RecordView `json:"records"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	Size    int           `json:"page_size"`
}

// QueryService serves reads over the immutable store. Every record is
// integrity-verified before it is returned; a mismatch quarantines the record,
// raises a critical security event and excludes it from the result.
type QueryService struct {
	records   RecordRepository
	encryptor *EnvelopeEncryptor
	alerts    *AlertSink
	limiter   RateLimiter
	config    QueryConfig
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewQueryService creates the read service
func NewQueryService(
	records RecordRepository,
	encryptor *EnvelopeEncryptor,
	alerts *AlertSink,
	limiter RateLimiter,
	config QueryConfig,
	logger *zap.Logger,
) (*QueryService, error) {
	if records == nil {
		return nil, errors.NewValidationError("MISSING_RECORD_REPOSITORY",
			"record repository is required")
	}
	if encryptor == nil {
		return nil, errors.NewValidationError("MISSING_ENCRYPTOR",
			"encryptor is required")
	}
	if config.MaxPageSize <= 0 {
		config = DefaultQueryConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{
		records:   records,
		encryptor: encryptor,
		alerts:    alerts,
		limiter:   limiter,
		config:    config,
		logger:    logger,
		tracer:    otel.Tracer("audit.query"),
	}, nil
}

// List returns a filtered page of records. Quarantined records never appear
// here; sensitive payloads are decrypted only for the owning principal or an
// elevated reviewer, within the per-requester decrypt budget.
func (s *QueryService) List(ctx context.Context, requester Requester, filters audit.QueryFilters, page audit.Page) (*RecordPage, error) {
	ctx, span := s.tracer.Start(ctx, "audit.List",
		trace.WithAttributes(attribute.String("audit.requester", requester.PrincipalID)))
	defer span.End()

	filters.IncludeQuarantined = false
	page = page.Normalize(s.config.MaxPageSize)

	records, total, err := s.records.Query(ctx, filters, page)
	if err != nil {
		return nil, errors.NewInternalError("audit query failed").WithCause(err)
	}

	result := &RecordPage{
		Records: make([]*RecordView, 0, len(records)),
		Total:   total,
		Page:    page.Number,
		Size:    page.Size,
	}

	for _, record := range records {
		view, ok, err := s.serve(ctx, requester, record)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Quarantined just now; keep the total honest
			result.Total--
			continue
		}
		result.Records = append(result.Records, view)
	}

	return result, nil
}

// Get returns a single record by ID under the same verification and
// decryption rules as List.
func (s *QueryService) Get(ctx context.Context, requester Requester, id uuid.UUID) (*RecordView, error) {
	record, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Quarantined && !requester.Admin {
		return nil, errors.NewNotFoundError("audit record")
	}

	view, ok, err := s.serve(ctx, requester, record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewNotFoundError("audit record")
	}
	return view, nil
}

// ListQuarantined is the admin-only view over records that failed an
// integrity check. No verification or decryption happens here: quarantined
// content is untrusted evidence, served as stored.
func (s *QueryService) ListQuarantined(ctx context.Context, requester Requester, page audit.Page) (*RecordPage, error) {
	if !requester.Admin {
		return nil, errors.NewForbiddenError("quarantine view requires admin privileges")
	}

	page = page.Normalize(s.config.MaxPageSize)
	records, total, err := s.records.Query(ctx, audit.QueryFilters{OnlyQuarantined: true}, page)
	if err != nil {
		return nil, errors.NewInternalError("quarantine query failed").WithCause(err)
	}

	result := &RecordPage{
		Records: make([]*RecordView, 0, len(records)),
		Total:   total,
		Page:    page.Number,
		Size:    page.Size,
	}
	for _, record := range records {
		result.Records = append(result.Records, &RecordView{Record: record})
	}
	return result, nil
}

// serve verifies the record and decrypts it when the requester is entitled.
// Returns ok=false when the record was quarantined during this read.
func (s *QueryService) serve(ctx context.Context, requester Requester, record *audit.Record) (*RecordView, bool, error) {
	if err := audit.VerifyIntegrity(record); err != nil {
		s.quarantine(ctx, record, err)
		return nil, false, nil
	}

	view := &RecordView{Record: record}
	if !record.IsSensitive || len(record.EncryptedPayload) == 0 {
		return view, true, nil
	}
	if requester.PrincipalID != record.PrincipalID && !requester.ElevatedReviewer {
		// Not entitled: redacted display copies only
		return view, true, nil
	}

	if err := s.allowDecrypt(ctx, requester); err != nil {
		return nil, false, err
	}

	plaintext, err := s.encryptor.Decrypt(record.EncryptedPayload)
	if err != nil {
		// Decryption failure on a hash-valid record still means the stored
		// ciphertext cannot be trusted
		s.quarantine(ctx, record, err)
		return nil, false, nil
	}

	payload := &SensitivePayload{}
	if err := json.Unmarshal(plaintext, payload); err != nil {
		return nil, false, errors.NewInternalError("failed to decode decrypted payload").WithCause(err)
	}
	view.DecryptedPayload = payload
	return view, true, nil
}

func (s *QueryService) allowDecrypt(ctx context.Context, requester Requester) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, "audit:decrypt:"+requester.PrincipalID,
		s.config.DecryptLimit, s.config.DecryptWindow)
	if err != nil {
		// Limiter outage: fail open for reads, the payload is still access
		// controlled above
		s.logger.Warn("decrypt rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !allowed {
		decryptThrottled.Inc()
		return errors.NewRateLimitError("decrypt budget exhausted, retry later")
	}
	return nil
}

// quarantine flags the record and raises a critical security event. Called on
// any read-side integrity failure.
func (s *QueryService) quarantine(ctx context.Context, record *audit.Record, cause error) {
	quarantineRecord(ctx, s.records, s.alerts, record, cause, s.logger)
}
