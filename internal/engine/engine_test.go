package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"propsync/internal/config"
	"propsync/internal/domain"
	"propsync/internal/models"
	"propsync/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCRM bool

func (f fakeCRM) IsConfigured() bool { return bool(f) }

type fakeStrategy struct {
	items   []models.ListItem
	fail    map[int64]string
	panicOn int64
	listErr error
	onSync  func(id int64)
	synced  []int64
}

func newFakeStrategy(n int) *fakeStrategy {
	s := &fakeStrategy{fail: map[int64]string{}}
	for i := 1; i <= n; i++ {
		s.items = append(s.items, models.ListItem{ID: int64(i), Label: fmt.Sprintf("Item %d", i)})
	}
	return s
}

func (s *fakeStrategy) Type() string       { return models.SyncProperties }
func (s *fakeStrategy) EntityType() string { return models.EntityProperty }

func (s *fakeStrategy) Count(context.Context, models.Options) (int, error) {
	return len(s.items), nil
}

func (s *fakeStrategy) List(_ context.Context, offset, limit int, _ models.Options) ([]models.ListItem, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	if offset >= len(s.items) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.items) {
		end = len(s.items)
	}
	return s.items[offset:end], nil
}

func (s *fakeStrategy) SyncOne(_ context.Context, id int64, _ models.Options) models.SyncResult {
	if id == s.panicOn {
		panic("nil map write")
	}
	s.synced = append(s.synced, id)
	if s.onSync != nil {
		s.onSync(id)
	}
	if msg, ok := s.fail[id]; ok {
		return models.Failure(msg)
	}
	return models.SyncResult{Success: true, RemoteUUID: fmt.Sprintf("uuid-%d", id)}
}

type registry map[string]domain.Strategy

func (r registry) Get(syncType string) (domain.Strategy, bool) {
	s, ok := r[syncType]
	return s, ok
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []models.BatchTask
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, task models.BatchTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *fakeQueue) Remove(_ context.Context, syncID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.tasks[:0]
	removed := 0
	for _, t := range q.tasks {
		if t.SyncID == syncID {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	q.tasks = kept
	return removed, nil
}

func (q *fakeQueue) pop() (models.BatchTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return models.BatchTask{}, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

type fakeNotifier struct {
	jobs []models.SyncJob
}

func (n *fakeNotifier) JobFinished(_ context.Context, job *models.SyncJob) error {
	n.jobs = append(n.jobs, *job)
	return nil
}

type harness struct {
	engine   *Engine
	strategy *fakeStrategy
	queue    *fakeQueue
	progress *repository.MemoryProgressStore
	notifier *fakeNotifier
}

func newHarness(t *testing.T, items int) *harness {
	t.Helper()
	logger := zerolog.Nop()
	h := &harness{
		strategy: newFakeStrategy(items),
		queue:    &fakeQueue{},
		progress: repository.NewMemoryProgressStore(time.Hour),
		notifier: &fakeNotifier{},
	}
	h.engine = New(Deps{
		CRM:        fakeCRM(true),
		Strategies: registry{models.SyncProperties: h.strategy},
		Progress:   h.progress,
		Queue:      h.queue,
		Notifier:   h.notifier,
		Logger:     &logger,
	}, config.SyncConfig{BatchSize: 25})
	h.engine.retry.InitialDelay = time.Millisecond
	return h
}

// drain runs queued batches in order until the queue is empty.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 100; i++ {
		task, ok := h.queue.pop()
		if !ok {
			return
		}
		_ = h.engine.ProcessBatch(context.Background(), task)
	}
	t.Fatal("queue never drained")
}

func TestStart_Validation(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, 3)
	h.engine.crm = fakeCRM(false)
	_, err := h.engine.Start(ctx, models.SyncProperties, nil)
	assert.ErrorIs(t, err, ErrCRMNotConfigured)
	active, _ := h.progress.ListActive(ctx)
	assert.Empty(t, active, "no progress record before configuration check")

	h = newHarness(t, 3)
	_, err = h.engine.Start(ctx, "media", nil)
	assert.ErrorIs(t, err, ErrUnknownSyncType)

	h = newHarness(t, 0)
	_, err = h.engine.Start(ctx, models.SyncProperties, nil)
	assert.ErrorIs(t, err, ErrNothingToSync)
	assert.Empty(t, h.queue.tasks)
}

func TestStart_SingleActiveJobPerType(t *testing.T) {
	h := newHarness(t, 30)
	ctx := context.Background()

	first, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)
	assert.False(t, first.AlreadyRunning)
	assert.Equal(t, 30, first.Total)

	second, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)
	assert.True(t, second.AlreadyRunning)
	assert.Equal(t, first.SyncID, second.SyncID)
	assert.Equal(t, 30, second.Total)

	assert.Len(t, h.queue.tasks, 1)
	active, err := h.progress.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{models.SyncProperties: first.SyncID}, active)
}

func TestScenarioA_AllSucceed(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)
	h.drain(t)

	snap, err := h.engine.Get(ctx, res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, snap.Status)
	assert.Equal(t, 3, snap.Processed)
	assert.Equal(t, 3, snap.SuccessCount)
	assert.Equal(t, 0, snap.FailedCount)
	assert.Equal(t, 100, snap.Percentage)
	assert.Nil(t, snap.EstimatedSeconds)

	require.Len(t, h.notifier.jobs, 1)
	assert.Equal(t, models.JobCompleted, h.notifier.jobs[0].Status)

	active, _ := h.progress.ListActive(ctx)
	assert.Empty(t, active)
}

func TestScenarioB_OneItemFails(t *testing.T) {
	h := newHarness(t, 5)
	h.strategy.fail[3] = "validation failed: email required"
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)
	h.drain(t)

	snap, err := h.engine.Get(ctx, res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, snap.Status)
	assert.Equal(t, 5, snap.Processed)
	assert.Equal(t, 4, snap.SuccessCount)
	assert.Equal(t, 1, snap.FailedCount)
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, "Item 3", snap.Errors[0].Item)
	assert.Equal(t, "validation failed: email required", snap.Errors[0].Message)
}

func TestProcessBatch_PaginatesInOrder(t *testing.T) {
	h := newHarness(t, 60)
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)

	var offsets []int
	for {
		task, ok := h.queue.pop()
		if !ok {
			break
		}
		offsets = append(offsets, task.Offset)
		require.NoError(t, h.engine.ProcessBatch(ctx, task))
	}

	assert.Equal(t, []int{0, 25, 50}, offsets)
	assert.Len(t, h.strategy.synced, 60)
	for i, id := range h.strategy.synced {
		assert.Equal(t, int64(i+1), id)
	}

	snap, err := h.engine.Get(ctx, res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, snap.Status)
}

func TestProcessBatch_ItemsDeletedMidSync(t *testing.T) {
	h := newHarness(t, 30)
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)
	h.strategy.items = h.strategy.items[:27]
	h.drain(t)

	snap, err := h.engine.Get(ctx, res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, snap.Status)
	assert.Equal(t, 27, snap.Processed)
}

func TestCancel_HaltsForwardProgress(t *testing.T) {
	h := newHarness(t, 60)
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)

	task, _ := h.queue.pop()
	require.NoError(t, h.engine.ProcessBatch(ctx, task))
	require.Len(t, h.queue.tasks, 1)
	next := h.queue.tasks[0]

	require.NoError(t, h.engine.Cancel(ctx, res.SyncID))
	assert.Empty(t, h.queue.tasks, "queued batch removed")

	before, err := h.engine.Get(ctx, res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, before.Status)

	// A batch already taken by a worker observes the cancellation itself.
	require.NoError(t, h.engine.ProcessBatch(ctx, next))
	after, err := h.engine.Get(ctx, res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, before.Processed, after.Processed)
	assert.Len(t, h.strategy.synced, 25)

	assert.ErrorIs(t, h.engine.Cancel(ctx, res.SyncID), ErrNotCancellable)
	assert.ErrorIs(t, h.engine.Cancel(ctx, "sync_properties_missing"), domain.ErrNotFound)
}

func TestCancel_MidBatch(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)
	h.strategy.onSync = func(id int64) {
		if id == 4 {
			_, _ = h.progress.Cancel(ctx, res.SyncID)
		}
	}
	h.drain(t)

	snap, err := h.engine.Get(ctx, res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, snap.Status)
	assert.Equal(t, []int64{1, 2, 3, 4}, h.strategy.synced)
}

func TestProcessBatch_PanicFailsJob(t *testing.T) {
	h := newHarness(t, 5)
	h.strategy.panicOn = 2
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)

	task, _ := h.queue.pop()
	err = h.engine.ProcessBatch(ctx, task)
	require.Error(t, err)

	snap, err := h.engine.Get(ctx, res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, snap.Status)
	require.NotEmpty(t, snap.Errors)
	assert.Contains(t, snap.Errors[len(snap.Errors)-1].Message, "nil map write")

	active, _ := h.progress.ListActive(ctx)
	assert.Empty(t, active)
	require.Len(t, h.notifier.jobs, 1)
	assert.Equal(t, models.JobFailed, h.notifier.jobs[0].Status)
}

func TestProcessBatch_ListErrorFailsJob(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)
	h.strategy.listErr = errors.New("database is locked")

	task, _ := h.queue.pop()
	require.Error(t, h.engine.ProcessBatch(ctx, task))

	snap, err := h.engine.Get(ctx, res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, snap.Status)
	assert.Contains(t, snap.Errors[0].Message, "database is locked")
}

func TestProcessBatch_DuplicateDeliveryIsNoop(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)
	task, _ := h.queue.pop()
	require.NoError(t, h.engine.ProcessBatch(ctx, task))
	require.NoError(t, h.engine.ProcessBatch(ctx, task))

	snap, err := h.engine.Get(ctx, res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Processed)
	assert.Len(t, h.strategy.synced, 3)
}

func TestProcessBatch_InterruptedBatchRequeuesRemainder(t *testing.T) {
	h := newHarness(t, 10)
	res, err := h.engine.Start(context.Background(), models.SyncProperties, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h.strategy.onSync = func(id int64) {
		if id == 3 {
			cancel()
		}
	}
	task, _ := h.queue.pop()
	require.NoError(t, h.engine.ProcessBatch(ctx, task))
	require.Len(t, h.queue.tasks, 1)
	// item 3 was cut short, so it is not recorded and runs again
	assert.Equal(t, 2, h.queue.tasks[0].Offset)

	mid, err := h.engine.Get(context.Background(), res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, mid.Status)
	assert.Equal(t, 2, mid.Processed)
	assert.Zero(t, mid.FailedCount)

	h.strategy.onSync = nil
	h.drain(t)
	snap, err := h.engine.Get(context.Background(), res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, snap.Status)
	assert.Equal(t, 10, snap.Processed)
}

func TestProcessBatch_MidJobRedelivery(t *testing.T) {
	h := newHarness(t, 60)
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)
	first, _ := h.queue.pop()
	require.NoError(t, h.engine.ProcessBatch(ctx, first))
	require.NoError(t, h.engine.ProcessBatch(ctx, first))

	require.Len(t, h.queue.tasks, 1, "redelivered page must not schedule a second chain")
	assert.Equal(t, 25, h.queue.tasks[0].Offset)
	h.drain(t)

	snap, err := h.engine.Get(ctx, res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, snap.Status)
	assert.Equal(t, 60, snap.Processed)

	distinct := map[int64]bool{}
	for _, id := range h.strategy.synced {
		distinct[id] = true
	}
	assert.Len(t, distinct, 60)
	assert.Len(t, h.strategy.synced, 60)
}

func TestProcessBatch_ConcurrentRecorderStopsBatch(t *testing.T) {
	h := newHarness(t, 60)
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)
	// another worker holding the same page records item 3 first
	h.strategy.onSync = func(id int64) {
		if id == 3 {
			_, err := h.progress.Increment(ctx, res.SyncID, 2, true, "Item 3", "")
			require.NoError(t, err)
		}
	}
	task, _ := h.queue.pop()
	require.NoError(t, h.engine.ProcessBatch(ctx, task))
	assert.Empty(t, h.queue.tasks)

	snap, err := h.engine.Get(ctx, res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, snap.Status)
	assert.Equal(t, 3, snap.Processed)
}

func TestProcessBatch_CancelledContextRequeues(t *testing.T) {
	h := newHarness(t, 30)
	res, err := h.engine.Start(context.Background(), models.SyncProperties, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	task, _ := h.queue.pop()
	require.NoError(t, h.engine.ProcessBatch(ctx, task))

	assert.Empty(t, h.strategy.synced)
	require.Len(t, h.queue.tasks, 1)
	assert.Equal(t, 0, h.queue.tasks[0].Offset)

	snap, err := h.engine.Get(context.Background(), res.SyncID)
	require.NoError(t, err)
	assert.True(t, snap.Status == models.JobPending || snap.Status == models.JobRunning)
	assert.Zero(t, snap.Processed)
	assert.Empty(t, snap.Errors)
}

func TestStart_EnqueueFailureFailsJob(t *testing.T) {
	h := newHarness(t, 3)
	h.queue.err = errors.New("queue down")
	ctx := context.Background()

	_, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.Error(t, err)

	id, err := h.progress.GetActiveSyncID(ctx, models.SyncProperties)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestListActive(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)

	active, err := h.engine.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, res.SyncID, active[0].SyncID)

	_, err = h.engine.Get(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReconcileActive(t *testing.T) {
	h := newHarness(t, 30)
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)

	report, err := h.engine.ReconcileActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.Dropped)

	h.engine.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	report, err = h.engine.ReconcileActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{res.SyncID}, report.Failed)
	assert.Empty(t, h.queue.tasks)

	snap, err := h.engine.Get(ctx, res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, snap.Status)
	assert.Contains(t, snap.Errors[0].Message, "stale")
}

func TestReconcileActive_DropsExpiredEntries(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)
	_, err = h.progress.Purge(ctx, -time.Hour)
	require.NoError(t, err)

	report, err := h.engine.ReconcileActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{res.SyncID}, report.Dropped)

	active, _ := h.progress.ListActive(ctx)
	assert.Empty(t, active)
}

func TestForceClear(t *testing.T) {
	h := newHarness(t, 30)
	ctx := context.Background()

	res, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)

	cleared, err := h.engine.ForceClear(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{models.SyncProperties: res.SyncID}, cleared)
	assert.Empty(t, h.queue.tasks)

	snap, err := h.engine.Get(ctx, res.SyncID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, snap.Status)

	again, err := h.engine.Start(ctx, models.SyncProperties, nil)
	require.NoError(t, err)
	assert.False(t, again.AlreadyRunning)
	assert.NotEqual(t, res.SyncID, again.SyncID)
}
