package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"propsync/internal/domain"
	"propsync/internal/models"
)

type memoryEntry struct {
	job       *models.SyncJob
	expiresAt time.Time
}

// MemoryProgressStore is the in-process progress store used when redis is
// not configured or down. Expiry is emulated on read.
type MemoryProgressStore struct {
	mu     sync.Mutex
	jobs   map[string]*memoryEntry
	active map[string]string
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryProgressStore(ttl time.Duration) *MemoryProgressStore {
	if ttl <= 0 {
		ttl = models.DefaultProgressTTL
	}
	return &MemoryProgressStore{
		jobs:   make(map[string]*memoryEntry),
		active: make(map[string]string),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// lookup must be called with mu held.
func (m *MemoryProgressStore) lookup(syncID string) *models.SyncJob {
	entry, ok := m.jobs[syncID]
	if !ok {
		return nil
	}
	if m.now().After(entry.expiresAt) {
		delete(m.jobs, syncID)
		return nil
	}
	return entry.job
}

func (m *MemoryProgressStore) put(job *models.SyncJob) {
	m.jobs[job.SyncID] = &memoryEntry{job: job, expiresAt: m.now().Add(m.ttl)}
}

func (m *MemoryProgressStore) Create(_ context.Context, syncType string, total int, opts models.Options) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[syncType]; ok {
		if job := m.lookup(existing); job != nil && job.IsActive() {
			return existing, false, nil
		}
	}

	id := NewSyncID(syncType)
	m.put(models.NewSyncJob(id, syncType, total, opts, m.now()))
	m.active[syncType] = id
	return id, true, nil
}

func (m *MemoryProgressStore) update(syncID string, fn mutation) (*models.SyncJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := m.lookup(syncID)
	if job == nil {
		return nil, false
	}
	if !fn(job, m.now()) {
		return cloneJob(job), false
	}
	m.put(job)
	if job.IsTerminal() && m.active[job.Type] == syncID {
		delete(m.active, job.Type)
	}
	return cloneJob(job), true
}

func (m *MemoryProgressStore) Start(_ context.Context, syncID string) error {
	if job, _ := m.update(syncID, startJob); job == nil {
		return fmt.Errorf("start %s: %w", syncID, domain.ErrNotFound)
	}
	return nil
}

func (m *MemoryProgressStore) Increment(_ context.Context, syncID string, position int, success bool, item, errMsg string) (*models.SyncJob, error) {
	job, changed := m.update(syncID, incrementJob(position, success, item, errMsg))
	return incrementResult(syncID, position, job, changed)
}

func (m *MemoryProgressStore) Complete(_ context.Context, syncID string) (bool, error) {
	_, changed := m.update(syncID, finishJob(models.JobCompleted, ""))
	return changed, nil
}

func (m *MemoryProgressStore) Fail(_ context.Context, syncID, msg string) (bool, error) {
	_, changed := m.update(syncID, finishJob(models.JobFailed, msg))
	return changed, nil
}

func (m *MemoryProgressStore) Cancel(_ context.Context, syncID string) (bool, error) {
	_, changed := m.update(syncID, finishJob(models.JobCancelled, ""))
	return changed, nil
}

func (m *MemoryProgressStore) IsCancelled(ctx context.Context, syncID string) (bool, error) {
	job, _ := m.Get(ctx, syncID)
	return job != nil && job.Status == models.JobCancelled, nil
}

func (m *MemoryProgressStore) Get(_ context.Context, syncID string) (*models.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneJob(m.lookup(syncID)), nil
}

func (m *MemoryProgressStore) GetActiveSyncID(_ context.Context, syncType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.active[syncType]
	if !ok {
		return "", nil
	}
	if job := m.lookup(id); job == nil || job.IsTerminal() {
		delete(m.active, syncType)
		return "", nil
	}
	return id, nil
}

func (m *MemoryProgressStore) ListActive(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.active))
	for k, v := range m.active {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryProgressStore) RemoveActive(_ context.Context, syncType, syncID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[syncType]; ok && (syncID == "" || current == syncID) {
		delete(m.active, syncType)
	}
	return nil
}

func (m *MemoryProgressStore) ClearActive(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cleared := m.active
	m.active = make(map[string]string)
	return cleared, nil
}

func (m *MemoryProgressStore) Purge(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	purged := 0
	for id, entry := range m.jobs {
		if entry.job.UpdatedAt.Before(cutoff) || m.now().After(entry.expiresAt) {
			delete(m.jobs, id)
			purged++
		}
	}
	return purged, nil
}
