package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"propsync/internal/domain"
	"propsync/internal/models"
)

const maxSummaryErrors = 5

type multi []domain.Notifier

// Multi notifies every non-nil notifier and joins their errors. It returns
// nil when no notifier is given.
func Multi(notifiers ...domain.Notifier) domain.Notifier {
	out := make(multi, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (m multi) JobFinished(ctx context.Context, job *models.SyncJob) error {
	var errs []error
	for _, n := range m {
		if err := n.JobFinished(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatJobSummary renders a short plain text report of a finished job.
func FormatJobSummary(job *models.SyncJob) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sync %s %s\n", job.Type, strings.ToUpper(job.Status))
	fmt.Fprintf(&b, "ID: %s\n", job.SyncID)
	fmt.Fprintf(&b, "Processed: %d/%d (ok %d, failed %d)\n", job.Processed, job.Total, job.SuccessCount, job.FailedCount)
	fmt.Fprintf(&b, "Duration: %s", jobDuration(job).Round(time.Second))

	if len(job.Errors) == 0 {
		return b.String()
	}
	b.WriteString("\nErrors:")
	errs := job.Errors
	if len(errs) > maxSummaryErrors {
		errs = errs[len(errs)-maxSummaryErrors:]
	}
	for _, e := range errs {
		if e.Item != "" {
			fmt.Fprintf(&b, "\n- %s: %s", e.Item, e.Message)
		} else {
			fmt.Fprintf(&b, "\n- %s", e.Message)
		}
	}
	if more := len(job.Errors) - len(errs); more > 0 {
		fmt.Fprintf(&b, "\n(+%d more)", more)
	}
	return b.String()
}

func jobDuration(job *models.SyncJob) time.Duration {
	end := job.UpdatedAt
	if job.FinishedAt != nil {
		end = *job.FinishedAt
	}
	if d := end.Sub(job.StartedAt); d > 0 {
		return d
	}
	return 0
}

// jobRow is the spreadsheet row of a finished job.
func jobRow(job *models.SyncJob) []interface{} {
	finished := ""
	if job.FinishedAt != nil {
		finished = job.FinishedAt.UTC().Format(time.RFC3339)
	}
	lastError := ""
	if n := len(job.Errors); n > 0 {
		lastError = job.Errors[n-1].Message
	}
	return []interface{}{
		job.SyncID,
		job.Type,
		job.Status,
		job.Total,
		job.Processed,
		job.SuccessCount,
		job.FailedCount,
		job.StartedAt.UTC().Format(time.RFC3339),
		finished,
		int64(jobDuration(job).Seconds()),
		lastError,
	}
}
