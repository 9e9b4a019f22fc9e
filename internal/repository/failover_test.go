package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"propsync/internal/domain"
	"propsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
	domain.ProgressStore
}

func (m *mockStore) Get(ctx context.Context, syncID string) (*models.SyncJob, error) {
	args := m.Called(ctx, syncID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncJob), args.Error(1)
}

func (m *mockStore) Start(ctx context.Context, syncID string) error {
	args := m.Called(ctx, syncID)
	return args.Error(0)
}

func (m *mockStore) Create(ctx context.Context, syncType string, total int, opts models.Options) (string, bool, error) {
	args := m.Called(ctx, syncType, total, opts)
	return args.String(0), args.Bool(1), args.Error(2)
}

func TestFailoverProgressStore(t *testing.T) {
	primary := new(mockStore)
	fallback := new(mockStore)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverProgressStore(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		job := &models.SyncJob{SyncID: "sync_1"}
		primary.On("Get", ctx, "sync_1").Return(job, nil).Once()

		got, err := repo.Get(ctx, "sync_1")
		assert.NoError(t, err)
		assert.Equal(t, job, got)
		primary.AssertExpectations(t)
	})

	t.Run("NotFoundIsNotAnOutage", func(t *testing.T) {
		primary.On("Start", ctx, "sync_gone").Return(domain.ErrNotFound).Once()

		err := repo.Start(ctx, "sync_gone")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.False(t, repo.isDown.Load())
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Create", ctx, models.SyncUsers, 3, models.Options(nil)).Return("", false, errors.New("connection refused")).Once()
		fallback.On("Create", ctx, models.SyncUsers, 3, models.Options(nil)).Return("sync_mem", true, nil).Once()

		id, created, err := repo.Create(ctx, models.SyncUsers, 3, nil)
		require.NoError(t, err)
		assert.Equal(t, "sync_mem", id)
		assert.True(t, created)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		job := &models.SyncJob{SyncID: "sync_mem"}
		fallback.On("Get", ctx, "sync_mem").Return(job, nil).Once()

		got, err := repo.Get(ctx, "sync_mem")
		require.NoError(t, err)
		assert.Equal(t, job, got)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

		job := &models.SyncJob{SyncID: "sync_3"}
		primary.On("Get", ctx, "sync_3").Return(job, nil).Once()

		got, err := repo.Get(ctx, "sync_3")
		assert.NoError(t, err)
		assert.Equal(t, job, got)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})
}

func TestFailoverProgressStore_MemoryFallback(t *testing.T) {
	store, s := newRedisStore(t)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverProgressStore(store, NewMemoryProgressStore(time.Hour), &logger)
	ctx := context.Background()

	s.Close()

	id, created, err := repo.Create(ctx, models.SyncProperties, 2, nil)
	require.NoError(t, err)
	assert.True(t, created)

	job, err := repo.Increment(ctx, id, 0, true, "Listing 1", "")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Processed)
}

func TestFailoverProgressStore_CancelledCallerIsNotAnOutage(t *testing.T) {
	store, _ := newRedisStore(t)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverProgressStore(store, NewMemoryProgressStore(time.Hour), &logger)
	ctx := context.Background()

	id, created, err := repo.Create(ctx, models.SyncProperties, 10, nil)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, repo.Start(ctx, id))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	job, err := repo.Increment(cancelled, id, 0, true, "Listing 1", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, job)
	assert.False(t, repo.isDown.Load())

	// the job is still served from redis afterwards
	job, err = repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 0, job.Processed)

	activeID, err := repo.GetActiveSyncID(ctx, models.SyncProperties)
	require.NoError(t, err)
	assert.Equal(t, id, activeID)
}

func TestFailoverProgressStore_DoneContextSkipsFallback(t *testing.T) {
	primary := new(mockStore)
	fallback := new(mockStore)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverProgressStore(primary, fallback, &logger)
	repo.isDown.Store(true)
	repo.lastCheck.Store(time.Now().UnixNano())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Get(ctx, "sync_1")
	assert.ErrorIs(t, err, context.Canceled)
	fallback.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}
