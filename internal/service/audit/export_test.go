package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

type exportFixture struct {
	queryFixture
	export    *ExportService
	jobs      *memExportRepo
	artifacts *memArtifactStore
	locker    *memJobLocker
}

func newExportFixture(t *testing.T) *exportFixture {
	t.Helper()

	qf := newQueryFixture(t)
	jobs := newMemExportRepo()
	artifacts := newMemArtifactStore()
	locker := newMemJobLocker()

	config := DefaultExportConfig()
	config.RetryBackoff = time.Millisecond
	config.PagesPerSecond = 10000

	export, err := NewExportService(jobs, qf.records, testEncryptor(t), artifacts,
		locker, config, zap.NewNop())
	require.NoError(t, err)
	export.Start()
	t.Cleanup(export.Close)

	return &exportFixture{
		queryFixture: *qf,
		export:       export,
		jobs:         jobs,
		artifacts:    artifacts,
		locker:       locker,
	}
}

// awaitDone polls until the job leaves the in-flight states
func (f *exportFixture) awaitDone(t *testing.T, id uuid.UUID) *audit.ExportJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := f.export.Status(context.Background(), id)
		require.NoError(t, err)
		if !job.InFlight() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("export job never finished")
	return nil
}

func TestExportCompletes(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	f.ingest(t, submitRequest("admin-1", audit.TierAdmin))
	f.ingest(t, submitRequest("admin-1", audit.TierAdmin))
	f.ingest(t, submitRequest("admin-2", audit.TierAdmin))

	job, err := f.export.Request(ctx, Requester{PrincipalID: "admin-1"},
		audit.QueryFilters{PrincipalID: "admin-1"})
	require.NoError(t, err)

	done := f.awaitDone(t, job.ID)
	assert.Equal(t, audit.ExportCompleted, done.Status)
	assert.Equal(t, 2, done.RecordCount)
	assert.NotEmpty(t, done.DownloadURL)
	require.NotNil(t, done.LinkExpires)
	assert.True(t, done.LinkExpires.After(time.Now()))

	entries, err := f.artifacts.decodeArray(done.ArtifactKey)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// The lock is released once the job settles
	assert.False(t, f.locker.held(exportLockKey(done.RequesterID, done.FiltersHash)))
}

// A filter set matching nothing completes successfully with an empty JSON
// array, not a failure.
func TestExportZeroMatches(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	job, err := f.export.Request(ctx, Requester{PrincipalID: "admin-1"},
		audit.QueryFilters{PrincipalID: "nobody"})
	require.NoError(t, err)

	done := f.awaitDone(t, job.ID)
	assert.Equal(t, audit.ExportCompleted, done.Status)
	assert.Zero(t, done.RecordCount)

	data, ok := f.artifacts.object(done.ArtifactKey)
	require.True(t, ok)
	assert.JSONEq(t, "[]", string(data))
}

func TestExportDecryptsOwnSensitiveRecords(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()
	f.ingest(t, sensitiveRequest("admin-1"))

	t.Run("owner gets plaintext in the artifact", func(t *testing.T) {
		job, err := f.export.Request(ctx, Requester{PrincipalID: "admin-1"},
			audit.QueryFilters{PrincipalID: "admin-1"})
		require.NoError(t, err)

		done := f.awaitDone(t, job.ID)
		require.Equal(t, audit.ExportCompleted, done.Status)

		data, ok := f.artifacts.object(done.ArtifactKey)
		require.True(t, ok)
		assert.Contains(t, string(data), "4111111111111111")
	})

	t.Run("another requester gets redacted copies only", func(t *testing.T) {
		job, err := f.export.Request(ctx, Requester{PrincipalID: "analyst-2"},
			audit.QueryFilters{PrincipalID: "admin-1"})
		require.NoError(t, err)

		done := f.awaitDone(t, job.ID)
		require.Equal(t, audit.ExportCompleted, done.Status)

		data, ok := f.artifacts.object(done.ArtifactKey)
		require.True(t, ok)
		assert.NotContains(t, string(data), "4111111111111111")
		assert.Contains(t, string(data), RedactionMarker)
	})
}

// Duplicate requests for the same requester and filter set attach to the
// in-flight job instead of spawning a second one.
func TestExportDeduplicatesInFlight(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()
	f.ingest(t, submitRequest("admin-1", audit.TierAdmin))

	filters := audit.QueryFilters{PrincipalID: "admin-1"}
	job, err := audit.NewExportJob("admin-1", "admin-1", filters)
	require.NoError(t, err)
	job.Status = audit.ExportProcessing
	require.NoError(t, f.jobs.Create(ctx, job))

	// Simulate the in-flight worker holding the single-flight lock
	_, acquired, err := f.locker.Acquire(ctx,
		exportLockKey("admin-1", job.FiltersHash), job.ID.String(), time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	attached, err := f.export.Request(ctx, Requester{PrincipalID: "admin-1"}, filters)
	require.NoError(t, err)
	assert.Equal(t, job.ID, attached.ID, "second request attaches to the first job")

	// A different filter set is its own job
	other, err := f.export.Request(ctx, Requester{PrincipalID: "admin-1"},
		audit.QueryFilters{PrincipalID: "admin-1", Module: "billing"})
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, other.ID)
}

func TestExportRetriesThenFails(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()
	f.ingest(t, submitRequest("admin-1", audit.TierAdmin))
	f.artifacts.putErr = assert.AnError

	job, err := f.export.Request(ctx, Requester{PrincipalID: "admin-1"},
		audit.QueryFilters{PrincipalID: "admin-1"})
	require.NoError(t, err)

	done := f.awaitDone(t, job.ID)
	assert.Equal(t, audit.ExportFailed, done.Status)
	assert.Equal(t, DefaultExportConfig().MaxAttempts, done.Attempts)
	assert.NotEmpty(t, done.Reason)
	assert.False(t, f.locker.held(exportLockKey(done.RequesterID, done.FiltersHash)))
}

func TestExportCancel(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	filters := audit.QueryFilters{PrincipalID: "admin-1"}
	job, err := audit.NewExportJob("admin-1", "admin-1", filters)
	require.NoError(t, err)
	require.NoError(t, f.jobs.Create(ctx, job))

	t.Run("requester cancels a pending job", func(t *testing.T) {
		require.NoError(t, f.export.Cancel(ctx, Requester{PrincipalID: "admin-1"}, job.ID))

		stored, err := f.export.Status(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, audit.ExportFailed, stored.Status)
		assert.Equal(t, audit.ExportCancelledReason, stored.Reason)
	})

	t.Run("cancelling a completed job is refused", func(t *testing.T) {
		completed, err := audit.NewExportJob("admin-1", "admin-1",
			audit.QueryFilters{PrincipalID: "admin-1", Module: "billing"})
		require.NoError(t, err)
		require.NoError(t, completed.Start())
		require.NoError(t, completed.Complete("key", "url", time.Now().Add(time.Hour), 0))
		require.NoError(t, f.jobs.Create(ctx, completed))

		err = f.export.Cancel(ctx, Requester{PrincipalID: "admin-1"}, completed.ID)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeBusiness))
	})

	t.Run("strangers cannot cancel", func(t *testing.T) {
		pending, err := audit.NewExportJob("admin-1", "admin-1",
			audit.QueryFilters{PrincipalID: "admin-1", ActionType: "view"})
		require.NoError(t, err)
		require.NoError(t, f.jobs.Create(ctx, pending))

		err = f.export.Cancel(ctx, Requester{PrincipalID: "intruder"}, pending.ID)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeForbidden))
	})
}

func TestExportSkipsTamperedRecords(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	f.ingest(t, submitRequest("admin-1", audit.TierAdmin))
	bad := f.ingest(t, submitRequest("admin-1", audit.TierAdmin))
	f.records.tamper(bad, func(r *audit.Record) { r.Description = "rewritten" })

	job, err := f.export.Request(ctx, Requester{PrincipalID: "admin-1"},
		audit.QueryFilters{PrincipalID: "admin-1"})
	require.NoError(t, err)

	done := f.awaitDone(t, job.ID)
	require.Equal(t, audit.ExportCompleted, done.Status)
	assert.Equal(t, 1, done.RecordCount, "the tampered record never leaves through an export")
}
