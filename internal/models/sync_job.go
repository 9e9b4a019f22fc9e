package models

import (
	"math"
	"time"
)

// Options carries per-job parameters such as the taxonomy name.
type Options map[string]string

// SyncError is one failed item recorded on a job.
type SyncError struct {
	Item    string    `json:"item"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// SyncJob is the progress record of a background sync.
type SyncJob struct {
	SyncID       string      `json:"sync_id"`
	Type         string      `json:"type"`
	Status       string      `json:"status"`
	Total        int         `json:"total"`
	Processed    int         `json:"processed"`
	SuccessCount int         `json:"success_count"`
	FailedCount  int         `json:"failed_count"`
	CurrentItem  string      `json:"current_item"`
	NextOffset   int         `json:"next_offset"`
	Errors       []SyncError `json:"errors"`
	Options      Options     `json:"options,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
}

// NewSyncJob builds a pending job.
func NewSyncJob(syncID, syncType string, total int, opts Options, now time.Time) *SyncJob {
	return &SyncJob{
		SyncID:    syncID,
		Type:      syncType,
		Status:    JobPending,
		Total:     total,
		Errors:    []SyncError{},
		Options:   opts,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// IsActive reports whether the job is pending or running.
func (j *SyncJob) IsActive() bool {
	return j.Status == JobPending || j.Status == JobRunning
}

// IsTerminal reports whether the job reached a final status.
func (j *SyncJob) IsTerminal() bool {
	return !j.IsActive()
}

// AddError appends an error keeping only the most recent MaxJobErrors.
func (j *SyncJob) AddError(item, msg string, now time.Time) {
	j.Errors = append(j.Errors, SyncError{Item: item, Message: msg, Time: now})
	if len(j.Errors) > MaxJobErrors {
		j.Errors = j.Errors[len(j.Errors)-MaxJobErrors:]
	}
}

// RecordItem applies one processed item and advances NextOffset, the
// position of the next item to sync. Terminal jobs are left untouched.
// Returns true when the call moved the job to completed.
func (j *SyncJob) RecordItem(success bool, item, errMsg string, now time.Time) bool {
	if j.IsTerminal() {
		return false
	}
	if j.Status == JobPending {
		j.Status = JobRunning
	}
	j.Processed++
	j.NextOffset++
	j.CurrentItem = item
	if success {
		j.SuccessCount++
	} else {
		j.FailedCount++
		j.AddError(item, errMsg, now)
	}
	j.UpdatedAt = now
	if j.Processed >= j.Total {
		j.Finish(JobCompleted, now)
		return true
	}
	return false
}

// Finish moves the job to a terminal status.
func (j *SyncJob) Finish(status string, now time.Time) {
	j.Status = status
	j.UpdatedAt = now
	j.FinishedAt = &now
}

// Snapshot is the polling view of a job.
type Snapshot struct {
	*SyncJob
	Percentage       int      `json:"percentage"`
	ElapsedSeconds   int64    `json:"elapsed_seconds"`
	EstimatedSeconds *float64 `json:"estimated_remaining_seconds,omitempty"`
}

// Snapshot derives progress figures for now.
func (j *SyncJob) Snapshot(now time.Time) Snapshot {
	s := Snapshot{SyncJob: j}
	if j.Total > 0 {
		s.Percentage = int(math.Round(float64(j.Processed) / float64(j.Total) * 100))
	}

	end := now
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	elapsed := end.Sub(j.StartedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	s.ElapsedSeconds = int64(elapsed)

	if j.Status == JobRunning && j.Processed > 0 {
		remaining := elapsed / float64(j.Processed) * float64(j.Total-j.Processed)
		if remaining < 0 {
			remaining = 0
		}
		s.EstimatedSeconds = &remaining
	}
	return s
}
