package models

import "time"

// BatchTask is one queued page of a sync job.
type BatchTask struct {
	SyncID     string    `json:"sync_id"`
	Type       string    `json:"type"`
	Offset     int       `json:"offset"`
	Options    Options   `json:"options,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
