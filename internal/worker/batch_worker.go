package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"propsync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Handler executes one batch task.
type Handler func(ctx context.Context, task models.BatchTask) error

// BatchWorker is the work queue of sync batches: a redis list shared by all
// processes, with an in-process queue used when redis is missing or down.
type BatchWorker struct {
	redis         *redis.Client
	queueKey      string
	deadLetterKey string
	workers       int
	pollInterval  time.Duration

	mu     sync.Mutex
	local  []models.BatchTask
	notify chan struct{}

	logger *zerolog.Logger
}

// NewBatchWorker builds a queue consumed by the given number of workers.
func NewBatchWorker(redisClient *redis.Client, queueKey string, workers int, logger *zerolog.Logger) *BatchWorker {
	if queueKey == "" {
		queueKey = "propsync:batches"
	}
	if workers <= 0 {
		workers = 1
	}
	l := logger.With().Str("component", "batch_worker").Logger()

	return &BatchWorker{
		redis:         redisClient,
		queueKey:      queueKey,
		deadLetterKey: queueKey + ":deadletter",
		workers:       workers,
		pollInterval:  time.Second,
		notify:        make(chan struct{}, 1),
		logger:        &l,
	}
}

// Enqueue schedules a task, via redis when possible.
func (w *BatchWorker) Enqueue(ctx context.Context, task models.BatchTask) error {
	if task.SyncID == "" {
		return errors.New("sync id is required")
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}

	if w.redis != nil {
		err := w.pushRedis(ctx, w.queueKey, task)
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Str("sync_id", task.SyncID).Msg("Redis push failed, falling back to memory queue")
	}

	w.mu.Lock()
	w.local = append(w.local, task)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return nil
}

// Remove drops queued tasks of a sync. Tasks already taken by a worker are
// not affected.
func (w *BatchWorker) Remove(ctx context.Context, syncID string) (int, error) {
	removed := 0

	w.mu.Lock()
	kept := w.local[:0]
	for _, t := range w.local {
		if t.SyncID == syncID {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	w.local = kept
	w.mu.Unlock()

	if w.redis == nil {
		return removed, nil
	}

	raw, err := w.redis.LRange(ctx, w.queueKey, 0, -1).Result()
	if err != nil {
		return removed, fmt.Errorf("list queued batches: %w", err)
	}
	for _, item := range raw {
		var task models.BatchTask
		if err := json.Unmarshal([]byte(item), &task); err != nil || task.SyncID != syncID {
			continue
		}
		n, err := w.redis.LRem(ctx, w.queueKey, 0, item).Result()
		if err != nil {
			return removed, fmt.Errorf("remove queued batch: %w", err)
		}
		removed += int(n)
	}
	return removed, nil
}

// Len returns the number of queued tasks.
func (w *BatchWorker) Len(ctx context.Context) (int64, error) {
	w.mu.Lock()
	n := int64(len(w.local))
	w.mu.Unlock()

	if w.redis == nil {
		return n, nil
	}
	remote, err := w.redis.LLen(ctx, w.queueKey).Result()
	if err != nil {
		return n, err
	}
	return n + remote, nil
}

// DeadLetters returns up to limit tasks whose handler failed, newest first.
func (w *BatchWorker) DeadLetters(ctx context.Context, limit int64) ([]models.BatchTask, error) {
	if w.redis == nil {
		return nil, nil
	}
	raw, err := w.redis.LRange(ctx, w.deadLetterKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]models.BatchTask, 0, len(raw))
	for _, item := range raw {
		var task models.BatchTask
		if err := json.Unmarshal([]byte(item), &task); err == nil {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// Run starts the consumers and blocks until ctx is done.
func (w *BatchWorker) Run(ctx context.Context, handler Handler) {
	w.logger.Info().Int("workers", w.workers).Str("queue", w.queueKey).Msg("Batch workers started")
	defer w.logger.Info().Msg("Batch workers stopped")

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id, handler)
		}(i)
	}
	wg.Wait()
}

func (w *BatchWorker) loop(ctx context.Context, id int, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.process(ctx, id, t, handler)
			continue
		}

		if w.redis != nil {
			if t, ok := w.tryRedis(ctx); ok {
				w.process(ctx, id, t, handler)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.notify:
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *BatchWorker) tryLocalQueue() (models.BatchTask, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.local) == 0 {
		return models.BatchTask{}, false
	}
	t := w.local[0]
	w.local = w.local[1:]
	return t, true
}

func (w *BatchWorker) tryRedis(ctx context.Context) (models.BatchTask, bool) {
	res, err := w.redis.BRPop(ctx, w.pollInterval, w.queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return models.BatchTask{}, false
		}
		w.logger.Error().Err(err).Msg("Redis BRPOP failed")
		select {
		case <-ctx.Done():
		case <-w.notify:
		case <-time.After(w.pollInterval):
		}
		return models.BatchTask{}, false
	}
	if len(res) != 2 {
		return models.BatchTask{}, false
	}
	var task models.BatchTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode queued batch")
		return models.BatchTask{}, false
	}
	return task, true
}

func (w *BatchWorker) process(ctx context.Context, id int, task models.BatchTask, handler Handler) {
	start := time.Now()
	err := handler(ctx, task)
	event := w.logger.Debug()
	if err != nil {
		event = w.logger.Error().Err(err)
	}
	event.
		Int("worker", id).
		Str("sync_id", task.SyncID).
		Str("type", task.Type).
		Int("offset", task.Offset).
		Dur("duration", time.Since(start)).
		Msg("Batch processed")

	if err != nil {
		w.pushDeadLetter(context.WithoutCancel(ctx), task)
	}
}

func (w *BatchWorker) pushRedis(ctx context.Context, key string, task models.BatchTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

func (w *BatchWorker) pushDeadLetter(ctx context.Context, task models.BatchTask) {
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, w.deadLetterKey, task); err != nil {
		w.logger.Error().Err(err).Str("sync_id", task.SyncID).Msg("Dead letter push failed")
	}
}
