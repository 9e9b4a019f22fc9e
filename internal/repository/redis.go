package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"propsync/internal/config"
	"propsync/internal/domain"
	"propsync/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "propsync:sync:"
	activeKey    = "propsync:active_syncs"
)

var errTxConflict = errors.New("progress store: too many concurrent updates")

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// RedisProgressStore keeps each job as a JSON string with a TTL and the
// per-type active index in a hash. Read-modify-write cycles run as
// optimistic WATCH/MULTI transactions.
type RedisProgressStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisProgressStore(client *redis.Client, ttl time.Duration) *RedisProgressStore {
	if ttl <= 0 {
		ttl = models.DefaultProgressTTL
	}
	return &RedisProgressStore{
		client: client,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func jobKey(syncID string) string {
	return jobKeyPrefix + syncID
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func loadJob(ctx context.Context, g getter, key string) (*models.SyncJob, error) {
	val, err := g.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job from redis: %w", err)
	}
	var job models.SyncJob
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (r *RedisProgressStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errTxConflict
}

func (r *RedisProgressStore) Create(ctx context.Context, syncType string, total int, opts models.Options) (string, bool, error) {
	var (
		syncID  string
		created bool
	)
	err := r.watch(ctx, func(tx *redis.Tx) error {
		existing, err := tx.HGet(ctx, activeKey, syncType).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to read active index: %w", err)
		}
		if existing != "" {
			job, err := loadJob(ctx, tx, jobKey(existing))
			if err != nil {
				return err
			}
			if job != nil && job.IsActive() {
				syncID, created = existing, false
				return nil
			}
		}

		id := NewSyncID(syncType)
		data, err := json.Marshal(models.NewSyncJob(id, syncType, total, opts, r.now()))
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, jobKey(id), data, r.ttl)
			pipe.HSet(ctx, activeKey, syncType, id)
			return nil
		})
		if err != nil {
			return err
		}
		syncID, created = id, true
		return nil
	}, activeKey)
	if err != nil {
		return "", false, err
	}
	return syncID, created, nil
}

// update applies m to the stored job. A missing job yields (nil, false, nil).
func (r *RedisProgressStore) update(ctx context.Context, syncID string, m mutation) (*models.SyncJob, bool, error) {
	key := jobKey(syncID)
	var (
		result  *models.SyncJob
		changed bool
	)
	err := r.watch(ctx, func(tx *redis.Tx) error {
		job, err := loadJob(ctx, tx, key)
		if err != nil {
			return err
		}
		result, changed = job, false
		if job == nil || !m(job, r.now()) {
			return nil
		}

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		var activeID string
		if job.IsTerminal() {
			activeID, err = tx.HGet(ctx, activeKey, job.Type).Result()
			if err != nil && err != redis.Nil {
				return fmt.Errorf("failed to read active index: %w", err)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			if activeID == syncID {
				pipe.HDel(ctx, activeKey, job.Type)
			}
			return nil
		})
		if err != nil {
			return err
		}
		changed = true
		return nil
	}, key, activeKey)
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

func (r *RedisProgressStore) Start(ctx context.Context, syncID string) error {
	job, _, err := r.update(ctx, syncID, startJob)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("start %s: %w", syncID, domain.ErrNotFound)
	}
	return nil
}

func (r *RedisProgressStore) Increment(ctx context.Context, syncID string, position int, success bool, item, errMsg string) (*models.SyncJob, error) {
	job, changed, err := r.update(ctx, syncID, incrementJob(position, success, item, errMsg))
	if err != nil {
		return nil, err
	}
	return incrementResult(syncID, position, job, changed)
}

func (r *RedisProgressStore) Complete(ctx context.Context, syncID string) (bool, error) {
	_, changed, err := r.update(ctx, syncID, finishJob(models.JobCompleted, ""))
	return changed, err
}

func (r *RedisProgressStore) Fail(ctx context.Context, syncID, msg string) (bool, error) {
	_, changed, err := r.update(ctx, syncID, finishJob(models.JobFailed, msg))
	return changed, err
}

func (r *RedisProgressStore) Cancel(ctx context.Context, syncID string) (bool, error) {
	_, changed, err := r.update(ctx, syncID, finishJob(models.JobCancelled, ""))
	return changed, err
}

func (r *RedisProgressStore) IsCancelled(ctx context.Context, syncID string) (bool, error) {
	job, err := r.Get(ctx, syncID)
	if err != nil {
		return false, err
	}
	return job != nil && job.Status == models.JobCancelled, nil
}

func (r *RedisProgressStore) Get(ctx context.Context, syncID string) (*models.SyncJob, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return loadJob(ctx, r.client, jobKey(syncID))
}

// GetActiveSyncID returns the active job of a type. Index entries whose job
// expired or finished are dropped on the way.
func (r *RedisProgressStore) GetActiveSyncID(ctx context.Context, syncType string) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("redis client is nil")
	}
	id, err := r.client.HGet(ctx, activeKey, syncType).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read active index: %w", err)
	}

	job, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if job == nil || job.IsTerminal() {
		return "", r.RemoveActive(ctx, syncType, id)
	}
	return id, nil
}

func (r *RedisProgressStore) ListActive(ctx context.Context) (map[string]string, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	active, err := r.client.HGetAll(ctx, activeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active syncs: %w", err)
	}
	return active, nil
}

// RemoveActive drops the index entry of a type if it still points at syncID.
// An empty syncID removes the entry unconditionally.
func (r *RedisProgressStore) RemoveActive(ctx context.Context, syncType, syncID string) error {
	return r.watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, activeKey, syncType).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		if syncID != "" && current != syncID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, activeKey, syncType)
			return nil
		})
		return err
	}, activeKey)
}

func (r *RedisProgressStore) ClearActive(ctx context.Context) (map[string]string, error) {
	var cleared map[string]string
	err := r.watch(ctx, func(tx *redis.Tx) error {
		active, err := tx.HGetAll(ctx, activeKey).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, activeKey)
			return nil
		})
		if err != nil {
			return err
		}
		cleared = active
		return nil
	}, activeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to clear active syncs: %w", err)
	}
	return cleared, nil
}

// Purge deletes job records not written for longer than olderThan.
func (r *RedisProgressStore) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	cutoff := r.now().Add(-olderThan)
	purged := 0

	iter := r.client.Scan(ctx, 0, jobKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		job, err := loadJob(ctx, r.client, key)
		if err != nil {
			return purged, err
		}
		if job == nil || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return purged, fmt.Errorf("failed to purge %s: %w", key, err)
		}
		purged++
	}
	if err := iter.Err(); err != nil {
		return purged, fmt.Errorf("failed to scan jobs: %w", err)
	}
	return purged, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
