package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"propsync/internal/domain"
	"propsync/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverProgressStore routes calls to the primary store and switches to
// the fallback while the primary is failing, probing it again every minute.
type FailoverProgressStore struct {
	primary   domain.ProgressStore
	fallback  domain.ProgressStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverProgressStore(primary, fallback domain.ProgressStore, logger *zerolog.Logger) *FailoverProgressStore {
	return &FailoverProgressStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverProgressStore) markDown(op string, err error) {
	r.logger.Error().Err(err).Str("op", op).Msg("Primary progress store failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverProgressStore) recoveryDue() bool {
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

// storeFailure reports whether err means the store itself is unhealthy.
// Answers such as not-found, a stale batch or the caller's own context
// ending say nothing about the store.
func storeFailure(ctx context.Context, err error) bool {
	switch {
	case err == nil,
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrStaleBatch),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		ctx.Err() != nil:
		return false
	}
	return true
}

func call[T any](ctx context.Context, r *FailoverProgressStore, op string, fn func(domain.ProgressStore) (T, error)) (T, error) {
	if !r.isDown.Load() {
		v, err := fn(r.primary)
		if !storeFailure(ctx, err) {
			return v, err
		}
		r.markDown(op, err)
	} else if r.recoveryDue() {
		v, err := fn(r.primary)
		if !storeFailure(ctx, err) {
			if ctx.Err() == nil {
				r.isDown.Store(false)
				r.logger.Info().Str("op", op).Msg("Primary progress store recovered")
			}
			return v, err
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	return fn(r.fallback)
}

type createResult struct {
	id      string
	created bool
}

func (r *FailoverProgressStore) Create(ctx context.Context, syncType string, total int, opts models.Options) (string, bool, error) {
	res, err := call(ctx, r, "create", func(s domain.ProgressStore) (createResult, error) {
		id, created, err := s.Create(ctx, syncType, total, opts)
		return createResult{id: id, created: created}, err
	})
	return res.id, res.created, err
}

func (r *FailoverProgressStore) Start(ctx context.Context, syncID string) error {
	_, err := call(ctx, r, "start", func(s domain.ProgressStore) (struct{}, error) {
		return struct{}{}, s.Start(ctx, syncID)
	})
	return err
}

func (r *FailoverProgressStore) Increment(ctx context.Context, syncID string, position int, success bool, item, errMsg string) (*models.SyncJob, error) {
	return call(ctx, r, "increment", func(s domain.ProgressStore) (*models.SyncJob, error) {
		return s.Increment(ctx, syncID, position, success, item, errMsg)
	})
}

func (r *FailoverProgressStore) Complete(ctx context.Context, syncID string) (bool, error) {
	return call(ctx, r, "complete", func(s domain.ProgressStore) (bool, error) {
		return s.Complete(ctx, syncID)
	})
}

func (r *FailoverProgressStore) Fail(ctx context.Context, syncID, msg string) (bool, error) {
	return call(ctx, r, "fail", func(s domain.ProgressStore) (bool, error) {
		return s.Fail(ctx, syncID, msg)
	})
}

func (r *FailoverProgressStore) Cancel(ctx context.Context, syncID string) (bool, error) {
	return call(ctx, r, "cancel", func(s domain.ProgressStore) (bool, error) {
		return s.Cancel(ctx, syncID)
	})
}

func (r *FailoverProgressStore) IsCancelled(ctx context.Context, syncID string) (bool, error) {
	return call(ctx, r, "is_cancelled", func(s domain.ProgressStore) (bool, error) {
		return s.IsCancelled(ctx, syncID)
	})
}

func (r *FailoverProgressStore) Get(ctx context.Context, syncID string) (*models.SyncJob, error) {
	return call(ctx, r, "get", func(s domain.ProgressStore) (*models.SyncJob, error) {
		return s.Get(ctx, syncID)
	})
}

func (r *FailoverProgressStore) GetActiveSyncID(ctx context.Context, syncType string) (string, error) {
	return call(ctx, r, "get_active", func(s domain.ProgressStore) (string, error) {
		return s.GetActiveSyncID(ctx, syncType)
	})
}

func (r *FailoverProgressStore) ListActive(ctx context.Context) (map[string]string, error) {
	return call(ctx, r, "list_active", func(s domain.ProgressStore) (map[string]string, error) {
		return s.ListActive(ctx)
	})
}

func (r *FailoverProgressStore) RemoveActive(ctx context.Context, syncType, syncID string) error {
	_, err := call(ctx, r, "remove_active", func(s domain.ProgressStore) (struct{}, error) {
		return struct{}{}, s.RemoveActive(ctx, syncType, syncID)
	})
	return err
}

func (r *FailoverProgressStore) ClearActive(ctx context.Context) (map[string]string, error) {
	return call(ctx, r, "clear_active", func(s domain.ProgressStore) (map[string]string, error) {
		return s.ClearActive(ctx)
	})
}

func (r *FailoverProgressStore) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	return call(ctx, r, "purge", func(s domain.ProgressStore) (int, error) {
		return s.Purge(ctx, olderThan)
	})
}
