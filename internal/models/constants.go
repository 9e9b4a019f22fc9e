package models

import "time"

// Entity types stored in the entity map.
const (
	EntityProperty = "property"
	EntityAgency   = "agency"
	EntityUser     = "wp_user"
	EntityTaxonomy = "taxonomy"
	EntityMedia    = "media"
	EntityLead     = "lead"
	EntityContact  = "contact"
)

// Sync directions.
const (
	DirectionPush    = "push"
	DirectionPull    = "pull"
	DirectionWebhook = "webhook"
)

// Sync job types.
const (
	SyncProperties = "properties"
	SyncAgencies   = "agencies"
	SyncUsers      = "wp_users"
	SyncTaxonomy   = "taxonomy"
)

// Sync job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Sync log actions and statuses.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"

	LogSuccess = "success"
	LogFailed  = "failed"
)

// Well-known taxonomies and roles.
const (
	TaxonomyPropertyStatus = "property_status"
	TaxonomyPropertyType   = "property_type"

	RoleAdministrator = "administrator"
)

const (
	// DefaultBatchSize items per background batch
	DefaultBatchSize = 25

	// MaxJobErrors bound of the per-job error list
	MaxJobErrors = 50

	// DefaultProgressTTL lifetime of a progress record after its last write
	DefaultProgressTTL = time.Hour

	// DefaultStaleAfter age after which a job is considered abandoned
	DefaultStaleAfter = 2 * time.Hour
)

var entityTypes = map[string]bool{
	EntityProperty: true,
	EntityAgency:   true,
	EntityUser:     true,
	EntityTaxonomy: true,
	EntityMedia:    true,
	EntityLead:     true,
	EntityContact:  true,
}

var syncTypes = map[string]bool{
	SyncProperties: true,
	SyncAgencies:   true,
	SyncUsers:      true,
	SyncTaxonomy:   true,
}

// IsValidEntityType reports whether t is a known entity type.
func IsValidEntityType(t string) bool {
	return entityTypes[t]
}

// IsValidSyncType reports whether t is a known sync job type.
func IsValidSyncType(t string) bool {
	return syncTypes[t]
}
