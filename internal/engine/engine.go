package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"propsync/internal/config"
	"propsync/internal/domain"
	"propsync/internal/metrics"
	"propsync/internal/models"
	"propsync/internal/worker"

	"github.com/rs/zerolog"
)

var (
	ErrCRMNotConfigured = errors.New("crm client is not configured")
	ErrUnknownSyncType  = errors.New("unknown sync type")
	ErrNothingToSync    = errors.New("nothing to sync")
	ErrNotCancellable   = errors.New("sync is not running")
)

// Configured reports whether the CRM connection settings are present.
type Configured interface {
	IsConfigured() bool
}

// Strategies resolves the strategy of a sync type.
type Strategies interface {
	Get(syncType string) (domain.Strategy, bool)
}

// Deps are the collaborators of the engine. Notifier is optional.
type Deps struct {
	CRM        Configured
	Strategies Strategies
	Progress   domain.ProgressStore
	Queue      domain.BatchQueue
	Notifier   domain.Notifier
	Logger     *zerolog.Logger
}

// StartResult is returned by Start. AlreadyRunning means SyncID belongs to
// a job that was active before the call.
type StartResult struct {
	SyncID         string `json:"sync_id"`
	Total          int    `json:"total"`
	AlreadyRunning bool   `json:"already_running,omitempty"`
}

// Engine schedules and executes paginated sync jobs.
type Engine struct {
	crm        Configured
	strategies Strategies
	progress   domain.ProgressStore
	queue      domain.BatchQueue
	notifier   domain.Notifier

	batchSize  int
	itemDelay  time.Duration
	staleAfter time.Duration
	retry      worker.RetryPolicy

	logger *zerolog.Logger
	now    func() time.Time
}

func New(deps Deps, cfg config.SyncConfig) *Engine {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = models.DefaultBatchSize
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = models.DefaultStaleAfter
	}
	logger := deps.Logger.With().Str("component", "sync_engine").Logger()

	return &Engine{
		crm:        deps.CRM,
		strategies: deps.Strategies,
		progress:   deps.Progress,
		queue:      deps.Queue,
		notifier:   deps.Notifier,
		batchSize:  batchSize,
		itemDelay:  cfg.ItemDelay,
		staleAfter: staleAfter,
		retry: worker.RetryPolicy{
			MaxRetries:    3,
			InitialDelay:  200 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2,
		},
		logger: &logger,
		now:    time.Now,
	}
}

// Start creates a job for syncType and schedules its first batch. When a job
// of the type is already active its id is returned with AlreadyRunning set.
func (e *Engine) Start(ctx context.Context, syncType string, opts models.Options) (*StartResult, error) {
	if e.crm == nil || !e.crm.IsConfigured() {
		return nil, ErrCRMNotConfigured
	}
	strategy, ok := e.strategies.Get(syncType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSyncType, syncType)
	}

	if existing, err := e.progress.GetActiveSyncID(ctx, syncType); err != nil {
		return nil, fmt.Errorf("check active sync: %w", err)
	} else if existing != "" {
		return e.alreadyRunning(ctx, existing), nil
	}

	total, err := strategy.Count(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", syncType, err)
	}
	if total == 0 {
		return nil, ErrNothingToSync
	}

	syncID, created, err := e.progress.Create(ctx, syncType, total, opts)
	if err != nil {
		return nil, fmt.Errorf("create sync job: %w", err)
	}
	if !created {
		return e.alreadyRunning(ctx, syncID), nil
	}

	task := models.BatchTask{SyncID: syncID, Type: syncType, Offset: 0, Options: opts}
	if err := e.enqueue(ctx, task); err != nil {
		e.fail(ctx, syncID, fmt.Sprintf("schedule first batch: %v", err))
		return nil, err
	}

	metrics.IncSyncJob(syncType, "started")
	e.logger.Info().Str("sync_id", syncID).Str("type", syncType).Int("total", total).Msg("Sync started")
	return &StartResult{SyncID: syncID, Total: total}, nil
}

func (e *Engine) alreadyRunning(ctx context.Context, syncID string) *StartResult {
	res := &StartResult{SyncID: syncID, AlreadyRunning: true}
	if job, err := e.progress.Get(ctx, syncID); err == nil && job != nil {
		res.Total = job.Total
	}
	return res
}

// ProcessBatch executes one queued page of a job. A task whose offset is not
// the job's cursor is dropped. Item failures are recorded on the job; any
// other error fails the whole job and is returned, unless ctx ended first,
// in which case the remainder is requeued.
func (e *Engine) ProcessBatch(ctx context.Context, task models.BatchTask) (err error) {
	logger := e.logger.With().Str("sync_id", task.SyncID).Str("type", task.Type).Int("offset", task.Offset).Logger()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch panicked: %v", r)
			logger.Error().Str("stack", string(debug.Stack())).Msg("Recovered from batch panic")
			e.fail(context.WithoutCancel(ctx), task.SyncID, err.Error())
		}
	}()

	cancelled, err := e.progress.IsCancelled(ctx, task.SyncID)
	if err != nil {
		return e.bail(ctx, task, 0, fmt.Errorf("read cancellation: %w", err))
	}
	if cancelled {
		logger.Info().Msg("Sync cancelled, batch skipped")
		return nil
	}

	job, err := e.progress.Get(ctx, task.SyncID)
	if err != nil {
		return e.bail(ctx, task, 0, fmt.Errorf("load job: %w", err))
	}
	if job == nil {
		logger.Warn().Msg("Sync job expired, batch dropped")
		return nil
	}
	if job.IsTerminal() {
		return nil
	}
	// Redelivered or superseded tasks start behind the job's cursor.
	if task.Offset != job.NextOffset {
		logger.Info().Int("next_offset", job.NextOffset).Msg("Stale batch dropped")
		return nil
	}
	if job.Status == models.JobPending {
		if err := e.progress.Start(ctx, task.SyncID); err != nil {
			return e.bail(ctx, task, 0, fmt.Errorf("start job: %w", err))
		}
	}

	strategy, ok := e.strategies.Get(task.Type)
	if !ok {
		return e.abort(ctx, task, fmt.Errorf("%w: %s", ErrUnknownSyncType, task.Type))
	}

	items, err := strategy.List(ctx, task.Offset, e.batchSize, task.Options)
	if err != nil {
		return e.bail(ctx, task, 0, fmt.Errorf("list %s at %d: %w", task.Type, task.Offset, err))
	}
	if len(items) == 0 {
		e.complete(ctx, task.SyncID)
		return nil
	}

	for i, item := range items {
		if ctx.Err() != nil {
			return e.resume(ctx, task, i)
		}
		cancelled, err := e.progress.IsCancelled(ctx, task.SyncID)
		if err != nil {
			return e.bail(ctx, task, i, fmt.Errorf("read cancellation: %w", err))
		}
		if cancelled {
			logger.Info().Int("item", i).Msg("Sync cancelled mid-batch")
			return nil
		}

		result := strategy.SyncOne(ctx, item.ID, task.Options)
		// An item cut short by shutdown is synced again on resume.
		if ctx.Err() != nil {
			return e.resume(ctx, task, i)
		}
		metrics.IncSyncItem(task.Type, result.Success)
		errMsg := ""
		if !result.Success {
			errMsg = result.Message
			logger.Warn().Int64("local_id", item.ID).Str("error", errMsg).Msg("Item sync failed")
		}

		job, err = e.progress.Increment(ctx, task.SyncID, task.Offset+i, result.Success, item.Label, errMsg)
		if errors.Is(err, domain.ErrStaleBatch) {
			logger.Info().Int("position", task.Offset+i).Msg("Item already recorded by another delivery, batch dropped")
			return nil
		}
		if err != nil {
			return e.bail(ctx, task, i, fmt.Errorf("record progress: %w", err))
		}
		if job == nil {
			logger.Warn().Msg("Sync job expired mid-batch")
			return nil
		}
		if job.Status == models.JobCompleted {
			e.finished(ctx, job)
			return nil
		}
		if job.IsTerminal() {
			return nil
		}

		if e.itemDelay > 0 && i < len(items)-1 {
			select {
			case <-ctx.Done():
				return e.resume(ctx, task, i+1)
			case <-time.After(e.itemDelay):
			}
		}
	}

	cancelled, err = e.progress.IsCancelled(ctx, task.SyncID)
	if err != nil {
		return e.bail(ctx, task, len(items), fmt.Errorf("read cancellation: %w", err))
	}
	if cancelled {
		return nil
	}

	if job.IsActive() && job.Processed < job.Total {
		next := task
		next.Offset = job.NextOffset
		next.Attempt = 0
		next.EnqueuedAt = time.Time{}
		if err := e.enqueue(ctx, next); err != nil {
			return e.bail(ctx, task, len(items), fmt.Errorf("schedule next batch: %w", err))
		}
		return nil
	}
	if job.IsActive() {
		e.complete(ctx, task.SyncID)
	}
	return nil
}

// resume re-queues the unprocessed tail of an interrupted batch, starting
// at the job's cursor when it can be read.
func (e *Engine) resume(ctx context.Context, task models.BatchTask, done int) error {
	bg := context.WithoutCancel(ctx)
	next := task
	next.Offset = task.Offset + done
	next.EnqueuedAt = time.Time{}
	if job, err := e.progress.Get(bg, task.SyncID); err == nil && job != nil {
		if job.IsTerminal() {
			return nil
		}
		next.Offset = job.NextOffset
	}
	if err := e.queue.Enqueue(bg, next); err != nil {
		return e.abort(bg, task, fmt.Errorf("requeue interrupted batch: %w", err))
	}
	e.logger.Info().Str("sync_id", task.SyncID).Int("offset", next.Offset).Msg("Batch interrupted, remainder requeued")
	return nil
}

// bail requeues the batch when ctx ended and fails the job otherwise.
func (e *Engine) bail(ctx context.Context, task models.BatchTask, done int, cause error) error {
	if ctx.Err() != nil {
		return e.resume(ctx, task, done)
	}
	return e.abort(ctx, task, cause)
}

func (e *Engine) enqueue(ctx context.Context, task models.BatchTask) error {
	return e.retry.Do(ctx, func(attempt int) error {
		task.Attempt = attempt
		return e.queue.Enqueue(ctx, task)
	})
}

func (e *Engine) abort(ctx context.Context, task models.BatchTask, cause error) error {
	e.fail(context.WithoutCancel(ctx), task.SyncID, cause.Error())
	return cause
}

func (e *Engine) fail(ctx context.Context, syncID, msg string) {
	changed, err := e.progress.Fail(ctx, syncID, msg)
	if err != nil {
		e.logger.Error().Err(err).Str("sync_id", syncID).Msg("Failed to mark sync failed")
		return
	}
	if changed {
		e.logger.Error().Str("sync_id", syncID).Str("error", msg).Msg("Sync failed")
		e.notifyFinished(ctx, syncID)
	}
}

func (e *Engine) complete(ctx context.Context, syncID string) {
	changed, err := e.progress.Complete(ctx, syncID)
	if err != nil {
		e.logger.Error().Err(err).Str("sync_id", syncID).Msg("Failed to mark sync completed")
		return
	}
	if changed {
		e.notifyFinished(ctx, syncID)
	}
}

func (e *Engine) notifyFinished(ctx context.Context, syncID string) {
	job, err := e.progress.Get(ctx, syncID)
	if err != nil || job == nil {
		return
	}
	e.finished(ctx, job)
}

// finished reports a terminal job to metrics and the notifier.
func (e *Engine) finished(ctx context.Context, job *models.SyncJob) {
	metrics.IncSyncJob(job.Type, job.Status)
	e.logger.Info().
		Str("sync_id", job.SyncID).
		Str("type", job.Type).
		Str("status", job.Status).
		Int("processed", job.Processed).
		Int("success", job.SuccessCount).
		Int("failed", job.FailedCount).
		Msg("Sync finished")

	if e.notifier == nil {
		return
	}
	if err := e.notifier.JobFinished(context.WithoutCancel(ctx), job); err != nil {
		e.logger.Warn().Err(err).Str("sync_id", job.SyncID).Msg("Failed to notify sync result")
	}
}

// Cancel stops a pending or running job. Batches already taken by a worker
// stop at their next cancellation check.
func (e *Engine) Cancel(ctx context.Context, syncID string) error {
	job, err := e.progress.Get(ctx, syncID)
	if err != nil {
		return err
	}
	if job == nil {
		return domain.ErrNotFound
	}
	if !job.IsActive() {
		return ErrNotCancellable
	}

	changed, err := e.progress.Cancel(ctx, syncID)
	if err != nil {
		return fmt.Errorf("cancel sync: %w", err)
	}
	if !changed {
		return ErrNotCancellable
	}

	removed, err := e.queue.Remove(ctx, syncID)
	if err != nil {
		e.logger.Warn().Err(err).Str("sync_id", syncID).Msg("Failed to remove queued batches")
	}
	e.logger.Info().Str("sync_id", syncID).Int("dequeued", removed).Msg("Sync cancelled")
	e.notifyFinished(ctx, syncID)
	return nil
}

// Get returns the progress snapshot of a job.
func (e *Engine) Get(ctx context.Context, syncID string) (*models.Snapshot, error) {
	job, err := e.progress.Get(ctx, syncID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrNotFound
	}
	snap := job.Snapshot(e.now())
	return &snap, nil
}

// ListActive returns snapshots of every job in the active index.
func (e *Engine) ListActive(ctx context.Context) ([]models.Snapshot, error) {
	active, err := e.progress.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Snapshot, 0, len(active))
	for _, syncID := range active {
		job, err := e.progress.Get(ctx, syncID)
		if err != nil {
			return nil, err
		}
		if job == nil {
			continue
		}
		out = append(out, job.Snapshot(e.now()))
	}
	return out, nil
}
