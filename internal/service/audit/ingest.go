package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
	"github.com/davidleathers/audit-vault-backend/internal/domain/values"
)

// Pipeline stage names used in failure results, logs and metrics
const (
	StageValidation = "validation"
	StageEncryption = "encryption"
	StageSealing    = "sealing"
	StageStorage    = "storage"
)

// ActionInput describes the audited action as submitted by a producing module
type ActionInput struct {
	Category     string `json:"category"`
	Type         string `json:"type" validate:"required,max=128"`
	ResourceType string `json:"resource_type" validate:"max=128"`
	ResourceID   string `json:"resource_id" validate:"max=256"`
	Module       string `json:"module" validate:"required,max=64"`

	Description string `json:"description" validate:"required,max=1024"`

	OldValue map[string]interface{} `json:"old_value,omitempty"`
	NewValue map[string]interface{} `json:"new_value,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// SensitiveFields are field names the producer tags sensitive at the call
	// site, on top of the classifier vocabulary.
	SensitiveFields []string `json:"sensitive_fields,omitempty"`
}

// ContextInput carries the request context of the audited action
type ContextInput struct {
	IP                string  `json:"ip" validate:"omitempty,ip"`
	ISP               string  `json:"isp,omitempty"`
	UserAgent         string  `json:"user_agent,omitempty"`
	Lat               float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon               float64 `json:"lon" validate:"gte=-180,lte=180"`
	LocationLabel     string  `json:"location_label,omitempty"`
	DeviceFingerprint string  `json:"device_fingerprint,omitempty"`
}

// SubmitRequest is one audit event from a producing module
type SubmitRequest struct {
	PrincipalID   string              `json:"principal_id" validate:"required,max=256"`
	PrincipalTier audit.PrincipalTier `json:"principal_tier" validate:"required"`
	TenantID      string              `json:"tenant_id" validate:"max=256"`
	SessionID     string              `json:"session_id" validate:"max=256"`

	Action  ActionInput  `json:"action"`
	Context ContextInput `json:"context"`
}

// SubmitResult reports the pipeline outcome without ever becoming an error in
// the caller's business transaction.
type SubmitResult struct {
	RecordID uuid.UUID `json:"record_id"`

	// Failed marks a swallowed pipeline failure: the event was NOT persisted
	// and the gap has been written to the reconciliation log.
	Failed      bool   `json:"failed,omitempty"`
	FailedStage string `json:"failed_stage,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// SensitivePayload is the pre-redaction content stored inside the encrypted
// envelope of a sensitive record.
type SensitivePayload struct {
	OldValue map[string]interface{} `json:"old_value,omitempty"`
	NewValue map[string]interface{} `json:"new_value,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Gateway is the single write entry point of the audit trail. It runs the
// ingestion pipeline (validate, classify, encrypt, score, seal, persist,
// alert) and swallows every downstream failure: an audit outage must never
// abort the caller's business operation. Swallowed failures are counted and
// logged for reconciliation.
type Gateway struct {
	classifier *Classifier
	encryptor  *EnvelopeEncryptor
	analyzer   *Analyzer
	calculator *Calculator
	records    RecordRepository
	retention  *audit.RetentionPolicy
	alerts     *AlertSink

	validate *validator.Validate
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewGateway wires the ingestion pipeline
func NewGateway(
	classifier *Classifier,
	encryptor *EnvelopeEncryptor,
	analyzer *Analyzer,
	calculator *Calculator,
	records RecordRepository,
	retention *audit.RetentionPolicy,
	alerts *AlertSink,
	logger *zap.Logger,
) (*Gateway, error) {
	if classifier == nil || encryptor == nil || analyzer == nil || calculator == nil {
		return nil, errors.NewValidationError("MISSING_PIPELINE_STAGE",
			"classifier, encryptor, analyzer and calculator are all required")
	}
	if records == nil {
		return nil, errors.NewValidationError("MISSING_RECORD_REPOSITORY",
			"record repository is required")
	}
	if retention == nil {
		return nil, errors.NewValidationError("MISSING_RETENTION_POLICY",
			"retention policy is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		classifier: classifier,
		encryptor:  encryptor,
		analyzer:   analyzer,
		calculator: calculator,
		records:    records,
		retention:  retention,
		alerts:     alerts,
		validate:   validator.New(),
		logger:     logger,
		tracer:     otel.Tracer("audit.ingest"),
	}, nil
}

// Submit runs the full ingestion pipeline for one event. It never returns an
// error: validation failures and downstream outages come back as a failed
// result while the caller's own operation proceeds untouched.
func (g *Gateway) Submit(ctx context.Context, req SubmitRequest) SubmitResult {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "audit.Submit",
		trace.WithAttributes(
			attribute.String("audit.module", req.Action.Module),
			attribute.String("audit.action_type", req.Action.Type),
		))
	defer span.End()
	defer func() {
		ingestLatency.Observe(time.Since(start).Seconds())
	}()

	if err := g.validateRequest(req); err != nil {
		return g.failed(req, StageValidation, err)
	}

	record, err := g.buildRecord(req)
	if err != nil {
		return g.failed(req, StageValidation, err)
	}

	// Classify and redact each payload section. The display copies are
	// persisted in the clear; originals only ever leave this function inside
	// the encrypted envelope.
	oldC := g.classifier.Classify(req.Action.OldValue, req.Action.SensitiveFields)
	newC := g.classifier.Classify(req.Action.NewValue, req.Action.SensitiveFields)
	metaC := g.classifier.Classify(req.Action.Metadata, req.Action.SensitiveFields)

	record.OldValue = oldC.Display
	record.NewValue = newC.Display
	record.Metadata = metaC.Display
	record.IsSensitive = oldC.IsSensitive || newC.IsSensitive || metaC.IsSensitive

	// Encryption fails closed: when a sensitive payload cannot be encrypted
	// the event is dropped entirely, never persisted in plaintext.
	if record.IsSensitive {
		if err := g.encryptPayload(record, req); err != nil {
			return g.failed(req, StageEncryption, err)
		}
	}

	// Behavioral scoring is advisory: an analyzer outage downgrades to an
	// unscored record instead of dropping the event. The observation is
	// folded into the pattern here, before storage: the pattern models
	// actions attempted, not records stored, so a sample from a failed
	// append stays in the principal's history.
	behavior := g.observe(ctx, req)

	risk := g.calculator.Score(RiskInput{
		Action:       record.Action,
		Tier:         record.PrincipalTier,
		IsSensitive:  record.IsSensitive,
		AnomalyScore: behavior.AnomalyScore,
		GeoKnown:     behavior.GeoKnown,
		Amount:       AmountFromMetadata(req.Action.Metadata),
	})
	record.RiskScore = risk.Score
	record.RiskFactors = append(behavior.Factors, risk.Factors...)
	record.IsSuspicious = risk.IsSuspicious
	record.RequiresReview = risk.RequiresReview

	record.ExpiresAt = g.retention.ExpiryFor(record.Action.Module, record.PrincipalTier, record.CreatedAt)

	if err := audit.SealHashes(record); err != nil {
		return g.failed(req, StageSealing, err)
	}

	if err := g.records.Append(ctx, record); err != nil {
		return g.failed(req, StageStorage, err)
	}

	recordsIngested.WithLabelValues(
		string(record.PrincipalTier), record.RiskScore.Tier().String()).Inc()
	span.SetAttributes(
		attribute.String("audit.record_id", record.ID.String()),
		attribute.Int("audit.risk_score", record.RiskScore.Int()),
	)

	if record.IsSuspicious && g.alerts != nil {
		// Alert failures are logged inside the sink; they never undo the
		// already-persisted record.
		if _, err := g.alerts.RaiseForRecord(ctx, record); err != nil {
			g.logger.Error("failed to raise security event for suspicious record",
				zap.String("record_id", record.ID.String()),
				zap.Error(err))
		}
	}

	return SubmitResult{RecordID: record.ID}
}

func (g *Gateway) validateRequest(req SubmitRequest) error {
	if err := g.validate.Struct(req); err != nil {
		return errors.NewValidationError("INVALID_SUBMIT_REQUEST", err.Error())
	}
	if _, err := audit.ParsePrincipalTier(string(req.PrincipalTier)); err != nil {
		return err
	}
	return nil
}

func (g *Gateway) buildRecord(req SubmitRequest) (*audit.Record, error) {
	location, err := values.NewGeoPoint(req.Context.Lat, req.Context.Lon, req.Context.LocationLabel)
	if err != nil {
		return nil, err
	}

	action := audit.Action{
		Category:     audit.ActionCategory(req.Action.Category),
		Type:         req.Action.Type,
		ResourceType: req.Action.ResourceType,
		ResourceID:   req.Action.ResourceID,
		Module:       req.Action.Module,
	}
	auditCtx := audit.Context{
		IP:                req.Context.IP,
		ISP:               req.Context.ISP,
		UserAgent:         req.Context.UserAgent,
		Location:          location,
		DeviceFingerprint: req.Context.DeviceFingerprint,
	}

	record, err := audit.NewRecord(req.PrincipalID, req.PrincipalTier, action, auditCtx, req.Action.Description)
	if err != nil {
		return nil, err
	}
	record.TenantID = req.TenantID
	record.SessionID = req.SessionID
	return record, nil
}

func (g *Gateway) encryptPayload(record *audit.Record, req SubmitRequest) error {
	plaintext, err := json.Marshal(SensitivePayload{
		OldValue: req.Action.OldValue,
		NewValue: req.Action.NewValue,
		Metadata: req.Action.Metadata,
	})
	if err != nil {
		return errors.NewEncryptionError("PAYLOAD_MARSHAL_FAILED",
			"failed to serialize sensitive payload").WithCause(err)
	}

	blob, err := g.encryptor.Encrypt(plaintext)
	if err != nil {
		return err
	}
	record.EncryptedPayload = blob
	return nil
}

func (g *Gateway) observe(ctx context.Context, req SubmitRequest) BehaviorAssessment {
	location := values.GeoPoint{
		Lat: req.Context.Lat, Lon: req.Context.Lon, Label: req.Context.LocationLabel,
	}
	assessment, err := g.analyzer.Observe(ctx, req.PrincipalID, audit.Observation{
		At:         time.Now().UTC(),
		Location:   location,
		Device:     req.Context.DeviceFingerprint,
		ActionType: req.Action.Type,
	})
	if err != nil {
		g.logger.Warn("behavioral analysis unavailable, recording unscored",
			zap.String("principal_id", req.PrincipalID),
			zap.Error(err))
		return BehaviorAssessment{GeoKnown: true}
	}
	return assessment
}

// failed writes the swallowed failure to the reconciliation log and returns a
// non-error result. No plaintext payload values are ever logged.
func (g *Gateway) failed(req SubmitRequest, stage string, err error) SubmitResult {
	pipelineFailures.WithLabelValues(stage).Inc()

	g.logger.Error("audit ingestion failed, event dropped",
		zap.String("stage", stage),
		zap.String("principal_id", req.PrincipalID),
		zap.String("module", req.Action.Module),
		zap.String("action_type", req.Action.Type),
		zap.Error(err))

	reason := err.Error()
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		reason = appErr.Code
	}

	return SubmitResult{Failed: true, FailedStage: stage, Reason: reason}
}
