package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

// In-memory collaborator fakes shared by the service tests. They mimic the
// repository contracts closely enough to exercise retry and conflict paths:
// reads hand out deep copies the way a database row scan would.

type memRecordRepo struct {
	mu      sync.Mutex
	records []*audit.Record

	appendErr error
	queryErr  error
}

func newMemRecordRepo() *memRecordRepo {
	return &memRecordRepo{}
}

func cloneRecord(r *audit.Record) *audit.Record {
	clone := *r
	clone.RiskFactors = append([]string(nil), r.RiskFactors...)
	clone.EncryptedPayload = append([]byte(nil), r.EncryptedPayload...)
	clone.MarkStored()
	return &clone
}

func (m *memRecordRepo) Append(ctx context.Context, record *audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, cloneRecord(record))
	return nil
}

func (m *memRecordRepo) GetByID(ctx context.Context, id uuid.UUID) (*audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			return cloneRecord(r), nil
		}
	}
	return nil, errors.NewNotFoundError("audit record")
}

func (m *memRecordRepo) Query(ctx context.Context, filters audit.QueryFilters, page audit.Page) ([]*audit.Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, 0, m.queryErr
	}

	var matched []*audit.Record
	for _, r := range m.records {
		if filters.OnlyQuarantined {
			if !r.Quarantined {
				continue
			}
		} else if r.Quarantined && !filters.IncludeQuarantined {
			continue
		}
		if filters.PrincipalID != "" && r.PrincipalID != filters.PrincipalID {
			continue
		}
		if filters.TenantID != "" && r.TenantID != filters.TenantID {
			continue
		}
		if filters.Module != "" && r.Action.Module != filters.Module {
			continue
		}
		if filters.ActionType != "" && r.Action.Type != filters.ActionType {
			continue
		}
		if filters.RiskTier != "" && r.RiskScore.Tier() != filters.RiskTier {
			continue
		}
		if filters.DateFrom != nil && r.CreatedAt.Before(*filters.DateFrom) {
			continue
		}
		if filters.DateTo != nil && r.CreatedAt.After(*filters.DateTo) {
			continue
		}
		matched = append(matched, cloneRecord(r))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	offset := page.Offset()
	if offset >= total {
		return nil, total, nil
	}
	end := offset + page.Size
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *memRecordRepo) MarkQuarantined(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			r.Quarantined = true
			return nil
		}
	}
	return errors.NewNotFoundError("audit record")
}

func (m *memRecordRepo) PurgeExpired(ctx context.Context, now time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []*audit.Record
	purged, heldBack := 0, 0
	for _, r := range m.records {
		switch {
		case r.PurgeEligible(now):
			purged++
		case r.IsExpired(now) && r.LegalHold:
			heldBack++
			kept = append(kept, r)
		default:
			kept = append(kept, r)
		}
	}
	m.records = kept
	return purged, heldBack, nil
}

// tamper rewrites a stored field directly, bypassing the domain API, the way
// out-of-band storage manipulation would.
func (m *memRecordRepo) tamper(id uuid.UUID, mutate func(*audit.Record)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			mutate(r)
			return
		}
	}
}

func (m *memRecordRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memPatternRepo struct {
	mu       sync.Mutex
	patterns map[string]*audit.Pattern

	// conflictNext forces that many version conflicts before updates succeed
	conflictNext int

	// missNext makes that many Gets report not-found even when the row
	// exists, simulating a create race.
	missNext int
	getErr   error
}

func newMemPatternRepo() *memPatternRepo {
	return &memPatternRepo{patterns: make(map[string]*audit.Pattern)}
}

func clonePattern(p *audit.Pattern) *audit.Pattern {
	clone := *p
	clone.KnownGeos = append(clone.KnownGeos[:0:0], p.KnownGeos...)
	clone.KnownDevices = append(clone.KnownDevices[:0:0], p.KnownDevices...)
	clone.ActionCounts = make(map[string]int64, len(p.ActionCounts))
	for k, v := range p.ActionCounts {
		clone.ActionCounts[k] = v
	}
	return &clone
}

func (m *memPatternRepo) Get(ctx context.Context, principalID string) (*audit.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.missNext > 0 {
		m.missNext--
		return nil, errors.NewNotFoundError("behavioral pattern")
	}
	p, ok := m.patterns[principalID]
	if !ok {
		return nil, errors.NewNotFoundError("behavioral pattern")
	}
	return clonePattern(p), nil
}

func (m *memPatternRepo) Create(ctx context.Context, pattern *audit.Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.patterns[pattern.PrincipalID]; exists {
		return errors.NewConflictError("PATTERN_EXISTS", "pattern already exists")
	}
	m.patterns[pattern.PrincipalID] = clonePattern(pattern)
	return nil
}

func (m *memPatternRepo) Update(ctx context.Context, pattern *audit.Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.patterns[pattern.PrincipalID]
	if !ok {
		return errors.NewNotFoundError("behavioral pattern")
	}
	if m.conflictNext > 0 {
		m.conflictNext--
		// Simulate a concurrent writer bumping the version underneath us
		stored.Version++
		return errors.NewConflictError("PATTERN_VERSION_CONFLICT",
			"pattern was updated concurrently")
	}
	if stored.Version != pattern.Version {
		return errors.NewConflictError("PATTERN_VERSION_CONFLICT",
			"pattern was updated concurrently")
	}

	next := clonePattern(pattern)
	next.Version++
	m.patterns[pattern.PrincipalID] = next
	return nil
}

// seed installs a confident pattern directly
func (m *memPatternRepo) seed(p *audit.Pattern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns[p.PrincipalID] = clonePattern(p)
}

type memSecurityEventRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]*audit.SecurityEvent
	order  []uuid.UUID

	createErr error
}

func newMemSecurityEventRepo() *memSecurityEventRepo {
	return &memSecurityEventRepo{events: make(map[uuid.UUID]*audit.SecurityEvent)}
}

func (m *memSecurityEventRepo) Create(ctx context.Context, event *audit.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	clone := *event
	m.events[event.ID] = &clone
	m.order = append(m.order, event.ID)
	return nil
}

func (m *memSecurityEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*audit.SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, errors.NewNotFoundError("security event")
	}
	clone := *e
	return &clone, nil
}

func (m *memSecurityEventRepo) Update(ctx context.Context, event *audit.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[event.ID]; !ok {
		return errors.NewNotFoundError("security event")
	}
	clone := *event
	m.events[event.ID] = &clone
	return nil
}

func (m *memSecurityEventRepo) ListOpen(ctx context.Context, limit int) ([]*audit.SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []*audit.SecurityEvent
	for _, id := range m.order {
		if e := m.events[id]; e.Status == audit.SecurityEventOpen {
			clone := *e
			open = append(open, &clone)
			if limit > 0 && len(open) >= limit {
				break
			}
		}
	}
	return open, nil
}

func (m *memSecurityEventRepo) all() []*audit.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*audit.SecurityEvent, 0, len(m.order))
	for _, id := range m.order {
		clone := *m.events[id]
		out = append(out, &clone)
	}
	return out
}

type memExportRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*audit.ExportJob
}

func newMemExportRepo() *memExportRepo {
	return &memExportRepo{jobs: make(map[uuid.UUID]*audit.ExportJob)}
}

func cloneJob(j *audit.ExportJob) *audit.ExportJob {
	clone := *j
	return &clone
}

func (m *memExportRepo) Create(ctx context.Context, job *audit.ExportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *memExportRepo) GetByID(ctx context.Context, id uuid.UUID) (*audit.ExportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, errors.NewNotFoundError("export job")
	}
	return cloneJob(j), nil
}

func (m *memExportRepo) Update(ctx context.Context, job *audit.ExportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return errors.NewNotFoundError("export job")
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *memExportRepo) FindInFlight(ctx context.Context, requesterID, filtersHash string) (*audit.ExportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.RequesterID == requesterID && j.FiltersHash == filtersHash && j.InFlight() {
			return cloneJob(j), nil
		}
	}
	return nil, errors.NewNotFoundError("export job")
}

type memNotifier struct {
	mu        sync.Mutex
	delivered []*audit.SecurityEvent

	// failNext makes the next N deliveries fail
	failNext int
}

func (m *memNotifier) Notify(ctx context.Context, event *audit.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return fmt.Errorf("notification channel unavailable")
	}
	m.delivered = append(m.delivered, event)
	return nil
}

func (m *memNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delivered)
}

type memArtifactStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	putErr error
}

func newMemArtifactStore() *memArtifactStore {
	return &memArtifactStore{objects: make(map[string][]byte)}
}

func (m *memArtifactStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memArtifactStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return "", errors.NewNotFoundError("artifact")
	}
	return fmt.Sprintf("https://artifacts.test/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

func (m *memArtifactStore) object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

func (m *memArtifactStore) decodeArray(key string) ([]map[string]interface{}, error) {
	data, ok := m.object(key)
	if !ok {
		return nil, fmt.Errorf("artifact %s not found", key)
	}
	var entries []map[string]interface{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

type memRateLimiter struct {
	mu     sync.Mutex
	allow  bool
	calls  int
	lastKey string
}

func (m *memRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastKey = key
	return m.allow, nil
}

type memJobLocker struct {
	mu    sync.Mutex
	locks map[string]string
}

func newMemJobLocker() *memJobLocker {
	return &memJobLocker{locks: make(map[string]string)}
}

func (m *memJobLocker) Acquire(ctx context.Context, key, jobID string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.locks[key]; ok {
		return existing, false, nil
	}
	m.locks[key] = jobID
	return "", true, nil
}

func (m *memJobLocker) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

func (m *memJobLocker) held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[key]
	return ok
}
