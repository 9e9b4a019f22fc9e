package export

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"propsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeSource struct {
	entries []models.SyncLogEntry
	stats   map[string]int64
	err     error
	limit   uint64
}

func (f *fakeSource) ListSyncLog(_ context.Context, _ time.Time, limit uint64) ([]models.SyncLogEntry, error) {
	f.limit = limit
	return f.entries, f.err
}

func (f *fakeSource) GetStats(context.Context) (map[string]int64, error) {
	return f.stats, nil
}

func TestWriteSyncReport(t *testing.T) {
	ts := time.Date(2025, 5, 4, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		entries: []models.SyncLogEntry{
			{ID: 2, EntityType: models.EntityUser, EntityID: 3, Action: models.ActionCreate,
				Direction: models.DirectionPush, Status: models.LogFailed,
				ErrorMessage: "validation failed: email required", CreatedAt: ts},
			{ID: 1, EntityType: models.EntityProperty, EntityID: 42, Action: models.ActionUpdate,
				Direction: models.DirectionWebhook, Status: models.LogSuccess, CreatedAt: ts},
		},
		stats: map[string]int64{models.EntityUser: 4, models.EntityProperty: 10},
	}
	logger := zerolog.Nop()
	r := NewReporter(src, &logger)

	var buf bytes.Buffer
	require.NoError(t, r.WriteSyncReport(context.Background(), &buf, time.Time{}, 0))
	assert.Equal(t, uint64(DefaultLogLimit), src.limit)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{logSheet, mappingSheet}, f.GetSheetList())

	rows, err := f.GetRows(logSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, logHeaders, rows[0])
	assert.Equal(t, "wp_user", rows[1][2])
	assert.Equal(t, "validation failed: email required", rows[1][7])
	assert.Equal(t, "webhook", rows[2][5])

	stats, err := f.GetRows(mappingSheet)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, []string{"property", "10"}, stats[1])
	assert.Equal(t, []string{"wp_user", "4"}, stats[2])
}

func TestWriteSyncReport_SourceError(t *testing.T) {
	logger := zerolog.Nop()
	r := NewReporter(&fakeSource{err: errors.New("db locked")}, &logger)

	err := r.WriteSyncReport(context.Background(), &bytes.Buffer{}, time.Time{}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db locked")
}

func TestSaveSyncReport(t *testing.T) {
	logger := zerolog.Nop()
	r := NewReporter(&fakeSource{stats: map[string]int64{}}, &logger)

	path, err := r.SaveSyncReport(context.Background(), t.TempDir(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.FileExists(t, path)
}
