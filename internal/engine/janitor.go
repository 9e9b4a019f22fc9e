package engine

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// JanitorReport lists what a reconciliation pass changed.
type JanitorReport struct {
	Dropped []string `json:"dropped"`
	Failed  []string `json:"failed"`
	Purged  int      `json:"purged"`
}

// ReconcileActive repairs the active index: entries whose job expired or
// finished are dropped, jobs without progress for the staleness window are
// failed, and old records are purged.
func (e *Engine) ReconcileActive(ctx context.Context) (*JanitorReport, error) {
	active, err := e.progress.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active syncs: %w", err)
	}

	report := &JanitorReport{Dropped: []string{}, Failed: []string{}}
	now := e.now()

	for _, syncType := range sortedKeys(active) {
		syncID := active[syncType]
		job, err := e.progress.Get(ctx, syncID)
		if err != nil {
			return report, fmt.Errorf("load %s: %w", syncID, err)
		}

		if job == nil || job.IsTerminal() {
			if err := e.progress.RemoveActive(ctx, syncType, syncID); err != nil {
				return report, fmt.Errorf("drop %s: %w", syncID, err)
			}
			report.Dropped = append(report.Dropped, syncID)
			continue
		}

		if idle := now.Sub(job.UpdatedAt); idle > e.staleAfter {
			e.fail(ctx, syncID, fmt.Sprintf("stale: no progress for %s", idle.Truncate(time.Second)))
			if _, err := e.queue.Remove(ctx, syncID); err != nil {
				e.logger.Warn().Err(err).Str("sync_id", syncID).Msg("Failed to remove queued batches")
			}
			report.Failed = append(report.Failed, syncID)
		}
	}

	purged, err := e.progress.Purge(ctx, e.staleAfter)
	if err != nil {
		return report, fmt.Errorf("purge old syncs: %w", err)
	}
	report.Purged = purged

	if len(report.Dropped)+len(report.Failed)+report.Purged > 0 {
		e.logger.Info().
			Strs("dropped", report.Dropped).
			Strs("failed", report.Failed).
			Int("purged", report.Purged).
			Msg("Janitor reconciled active syncs")
	}
	return report, nil
}

// RunJanitor reconciles on every tick until ctx is done.
func (e *Engine) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ReconcileActive(ctx); err != nil {
				e.logger.Error().Err(err).Msg("Janitor pass failed")
			}
		}
	}
}

// ForceClear empties the active index unconditionally, cancels the jobs it
// pointed at and drops their queued batches.
func (e *Engine) ForceClear(ctx context.Context) (map[string]string, error) {
	cleared, err := e.progress.ClearActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("clear active index: %w", err)
	}

	for _, syncType := range sortedKeys(cleared) {
		syncID := cleared[syncType]
		changed, err := e.progress.Cancel(ctx, syncID)
		if err != nil {
			e.logger.Warn().Err(err).Str("sync_id", syncID).Msg("Failed to cancel cleared sync")
		} else if changed {
			e.notifyFinished(ctx, syncID)
		}
		if _, err := e.queue.Remove(ctx, syncID); err != nil {
			e.logger.Warn().Err(err).Str("sync_id", syncID).Msg("Failed to remove queued batches")
		}
	}

	e.logger.Warn().Int("cleared", len(cleared)).Msg("Active sync index force-cleared")
	return cleared, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
