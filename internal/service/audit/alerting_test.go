package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
	"github.com/davidleathers/audit-vault-backend/internal/domain/values"
)

func suspiciousRecord(t *testing.T, principalID string) *audit.Record {
	t.Helper()
	record, err := audit.NewRecord(principalID, audit.TierTrader,
		audit.Action{Category: audit.CategoryFinancial, Type: "delete_transaction", Module: "billing"},
		audit.Context{IP: "203.0.113.10"},
		"deleted transaction")
	require.NoError(t, err)
	record.RiskScore = values.NewRiskScoreCapped(85)
	record.IsSuspicious = true
	return record
}

func newSink(t *testing.T, events SecurityEventRepository, notifier Notifier, config AlertConfig) *AlertSink {
	t.Helper()
	sink, err := NewAlertSink(events, notifier, config, zap.NewNop())
	require.NoError(t, err)
	return sink
}

func TestRaiseForRecord(t *testing.T) {
	events := newMemSecurityEventRepo()
	notifier := &memNotifier{}
	config := DefaultAlertConfig()
	config.Cooldown = 0
	sink := newSink(t, events, notifier, config)

	record := suspiciousRecord(t, "trader-1")
	event, err := sink.RaiseForRecord(context.Background(), record)
	require.NoError(t, err)
	require.NotNil(t, event)

	// Critical risk tier maps to a critical severity
	assert.Equal(t, audit.SeverityCritical, event.Severity)
	assert.Equal(t, record.ID, event.AuditRecordID)
	assert.Equal(t, audit.SecurityEventOpen, event.Status)
	assert.Equal(t, 1, notifier.count())
}

func TestRaiseCooldownSuppression(t *testing.T) {
	events := newMemSecurityEventRepo()
	notifier := &memNotifier{}
	config := DefaultAlertConfig()
	config.Cooldown = time.Hour
	sink := newSink(t, events, notifier, config)
	ctx := context.Background()

	first, err := sink.RaiseForRecord(ctx, suspiciousRecord(t, "trader-1"))
	require.NoError(t, err)
	require.NotNil(t, first)

	// Same principal and severity inside the window: suppressed
	second, err := sink.RaiseForRecord(ctx, suspiciousRecord(t, "trader-1"))
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Len(t, events.all(), 1)

	// Another principal is its own cooldown bucket
	third, err := sink.RaiseForRecord(ctx, suspiciousRecord(t, "trader-2"))
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestDeliveryRetries(t *testing.T) {
	events := newMemSecurityEventRepo()
	config := DefaultAlertConfig()
	config.Cooldown = 0
	config.DeliveryBackoff = 0

	t.Run("transient failure is retried", func(t *testing.T) {
		notifier := &memNotifier{failNext: 2}
		sink := newSink(t, events, notifier, config)

		_, err := sink.RaiseForRecord(context.Background(), suspiciousRecord(t, "trader-1"))
		require.NoError(t, err)
		assert.Equal(t, 1, notifier.count())
	})

	t.Run("exhausted retries still keep the persisted event", func(t *testing.T) {
		notifier := &memNotifier{failNext: 100}
		sink := newSink(t, events, notifier, config)

		event, err := sink.RaiseForRecord(context.Background(), suspiciousRecord(t, "trader-9"))
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, 0, notifier.count())

		// Undelivered events remain open for re-driving
		open, err := events.ListOpen(context.Background(), 10)
		require.NoError(t, err)
		assert.NotEmpty(t, open)
	})
}

func TestEventPersistFailureIsAnError(t *testing.T) {
	events := newMemSecurityEventRepo()
	events.createErr = assert.AnError
	sink := newSink(t, events, &memNotifier{}, AlertConfig{MaxDeliveryAttempts: 1})

	_, err := sink.RaiseForRecord(context.Background(), suspiciousRecord(t, "trader-1"))
	require.Error(t, err)
}

func TestAcknowledgeAndResolve(t *testing.T) {
	events := newMemSecurityEventRepo()
	config := DefaultAlertConfig()
	config.Cooldown = 0
	sink := newSink(t, events, &memNotifier{}, config)
	ctx := context.Background()

	event, err := sink.RaiseForRecord(ctx, suspiciousRecord(t, "trader-1"))
	require.NoError(t, err)

	t.Run("resolve before acknowledge is refused", func(t *testing.T) {
		err := sink.Resolve(ctx, event.ID, "operator-1", "false positive")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeBusiness))
	})

	t.Run("acknowledge then resolve", func(t *testing.T) {
		require.NoError(t, sink.Acknowledge(ctx, event.ID, "operator-1"))

		stored, err := events.GetByID(ctx, event.ID)
		require.NoError(t, err)
		assert.Equal(t, audit.SecurityEventAcknowledged, stored.Status)
		assert.Equal(t, "operator-1", stored.AcknowledgedBy)

		require.NoError(t, sink.Resolve(ctx, event.ID, "operator-1", "confirmed and rotated keys"))

		stored, err = events.GetByID(ctx, event.ID)
		require.NoError(t, err)
		assert.Equal(t, audit.SecurityEventResolved, stored.Status)
		assert.Equal(t, "confirmed and rotated keys", stored.Resolution)
	})

	t.Run("double acknowledge is refused", func(t *testing.T) {
		err := sink.Acknowledge(ctx, event.ID, "operator-2")
		require.Error(t, err)
	})
}
