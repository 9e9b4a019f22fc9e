package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncJob_RecordItem(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	t.Run("CompletesExactlyOnce", func(t *testing.T) {
		job := NewSyncJob("sync_1", SyncProperties, 10, nil, now)
		job.Status = JobRunning

		completions := 0
		for i := 0; i < 10; i++ {
			if job.RecordItem(true, fmt.Sprintf("item %d", i), "", now) {
				completions++
			}
		}
		assert.Equal(t, 1, completions)
		assert.Equal(t, JobCompleted, job.Status)
		assert.Equal(t, 10, job.Processed)
		assert.Equal(t, 10, job.NextOffset)
		require.NotNil(t, job.FinishedAt)

		assert.False(t, job.RecordItem(true, "extra", "", now))
		assert.Equal(t, 10, job.Processed)
	})

	t.Run("FailureAppendsError", func(t *testing.T) {
		job := NewSyncJob("sync_2", SyncUsers, 3, nil, now)
		job.RecordItem(false, "bob@example.com", "validation failed: email required", now)

		assert.Equal(t, JobRunning, job.Status)
		assert.Equal(t, 1, job.FailedCount)
		require.Len(t, job.Errors, 1)
		assert.Equal(t, "bob@example.com", job.Errors[0].Item)
		assert.Equal(t, "validation failed: email required", job.Errors[0].Message)
	})

	t.Run("ErrorsBounded", func(t *testing.T) {
		job := NewSyncJob("sync_3", SyncUsers, 100, nil, now)
		for i := 0; i < 60; i++ {
			job.RecordItem(false, fmt.Sprintf("item %d", i), "boom", now)
		}
		assert.Len(t, job.Errors, MaxJobErrors)
		assert.Equal(t, "item 10", job.Errors[0].Item)
		assert.Equal(t, "item 59", job.Errors[MaxJobErrors-1].Item)
	})

	t.Run("CancelledIgnored", func(t *testing.T) {
		job := NewSyncJob("sync_4", SyncAgencies, 5, nil, now)
		job.Finish(JobCancelled, now)
		job.RecordItem(true, "x", "", now)
		assert.Equal(t, 0, job.Processed)
		assert.Equal(t, JobCancelled, job.Status)
	})
}

func TestSyncJob_Snapshot(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	t.Run("ZeroTotal", func(t *testing.T) {
		job := NewSyncJob("s", SyncAgencies, 0, nil, start)
		snap := job.Snapshot(start.Add(time.Minute))
		assert.Equal(t, 0, snap.Percentage)
		assert.Nil(t, snap.EstimatedSeconds)
	})

	t.Run("Running", func(t *testing.T) {
		job := NewSyncJob("s", SyncProperties, 50, nil, start)
		job.Status = JobRunning
		job.Processed = 25

		snap := job.Snapshot(start.Add(100 * time.Second))
		assert.Equal(t, 50, snap.Percentage)
		assert.Equal(t, int64(100), snap.ElapsedSeconds)
		require.NotNil(t, snap.EstimatedSeconds)
		assert.InDelta(t, 100.0, *snap.EstimatedSeconds, 0.001)
	})

	t.Run("FinishedUsesFinishTime", func(t *testing.T) {
		job := NewSyncJob("s", SyncProperties, 3, nil, start)
		job.Processed = 3
		job.Finish(JobCompleted, start.Add(30*time.Second))

		snap := job.Snapshot(start.Add(time.Hour))
		assert.Equal(t, 100, snap.Percentage)
		assert.Equal(t, int64(30), snap.ElapsedSeconds)
		assert.Nil(t, snap.EstimatedSeconds)
	})
}

func TestSubKey(t *testing.T) {
	assert.Nil(t, SubKey(""))
	assert.Equal(t, "property_type", SubKeyValue(SubKey("property_type")))
	assert.Equal(t, "", SubKeyValue(nil))
}

func TestUser_DisplayName(t *testing.T) {
	assert.Equal(t, "Ann Lee", (&User{FirstName: "Ann", LastName: "Lee"}).DisplayName())
	assert.Equal(t, "a@b.c", (&User{Email: "a@b.c"}).DisplayName())
	assert.True(t, (&User{Role: RoleAdministrator}).IsAdmin())
}
