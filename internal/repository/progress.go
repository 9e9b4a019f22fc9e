package repository

import (
	"fmt"
	"strings"
	"time"

	"propsync/internal/domain"
	"propsync/internal/models"

	"github.com/google/uuid"
)

const maxTxRetries = 20

// NewSyncID builds a job identifier such as sync_properties_1f2e3d4c5b6a.
func NewSyncID(syncType string) string {
	return fmt.Sprintf("sync_%s_%s", syncType, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// mutation changes a job in place and reports whether it changed.
type mutation func(job *models.SyncJob, now time.Time) bool

func startJob(job *models.SyncJob, now time.Time) bool {
	if job.Status != models.JobPending {
		return false
	}
	job.Status = models.JobRunning
	job.UpdatedAt = now
	return true
}

func incrementJob(position int, success bool, item, errMsg string) mutation {
	return func(job *models.SyncJob, now time.Time) bool {
		if job.IsTerminal() || job.NextOffset != position {
			return false
		}
		job.RecordItem(success, item, errMsg, now)
		return true
	}
}

// incrementResult turns an unapplied increment of an active job into
// ErrStaleBatch.
func incrementResult(syncID string, position int, job *models.SyncJob, changed bool) (*models.SyncJob, error) {
	if job != nil && !changed && job.IsActive() {
		return nil, fmt.Errorf("%s at %d, next is %d: %w", syncID, position, job.NextOffset, domain.ErrStaleBatch)
	}
	return job, nil
}

func finishJob(status, msg string) mutation {
	return func(job *models.SyncJob, now time.Time) bool {
		if job.IsTerminal() {
			return false
		}
		if msg != "" {
			job.AddError("", msg, now)
		}
		job.Finish(status, now)
		return true
	}
}

func cloneJob(job *models.SyncJob) *models.SyncJob {
	if job == nil {
		return nil
	}
	c := *job
	c.Errors = append([]models.SyncError{}, job.Errors...)
	if job.Options != nil {
		c.Options = make(models.Options, len(job.Options))
		for k, v := range job.Options {
			c.Options[k] = v
		}
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
