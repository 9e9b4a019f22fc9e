package models

import "time"

// EntityMapping links a local record to its CRM counterpart.
type EntityMapping struct {
	ID                int64     `json:"id"`
	EntityType        string    `json:"entity_type"`
	LocalID           int64     `json:"local_id"`
	RemoteUUID        string    `json:"remote_uuid"`
	SubKey            *string   `json:"sub_key,omitempty"`
	LastSyncedAt      time.Time `json:"last_synced_at"`
	LastSyncDirection string    `json:"last_sync_direction"`
	SyncHash          *string   `json:"sync_hash,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SubKey returns a pointer form of a sub key. Empty strings mean "no sub key".
func SubKey(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SubKeyValue dereferences a sub key, returning "" for nil.
func SubKeyValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// SyncLogEntry is one append-only audit record of a sync attempt.
type SyncLogEntry struct {
	ID           int64     `json:"id" bson:"-"`
	EntityType   string    `json:"entity_type" bson:"entity_type"`
	EntityID     int64     `json:"entity_id" bson:"entity_id"`
	Action       string    `json:"action" bson:"action"`
	Direction    string    `json:"direction" bson:"direction"`
	Status       string    `json:"status" bson:"status"`
	Request      string    `json:"request,omitempty" bson:"request,omitempty"`
	Response     string    `json:"response,omitempty" bson:"response,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty" bson:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

// SyncResult is the outcome of syncing one item.
type SyncResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	RemoteUUID   string `json:"remote_uuid,omitempty"`
	Action       string `json:"action,omitempty"`
	MappingSaved bool   `json:"mapping_saved"`
	Skipped      bool   `json:"skipped,omitempty"`
}

// Failure builds an unsuccessful SyncResult.
func Failure(msg string) SyncResult {
	return SyncResult{Success: false, Message: msg}
}
