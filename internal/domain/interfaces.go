package domain

import (
	"context"
	"errors"
	"time"

	"propsync/internal/models"
)

var (
	// ErrNotFound is returned when a record addressed by id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleBatch is returned when a progress write names an item
	// position the job has already moved past.
	ErrStaleBatch = errors.New("stale batch position")
)

// MappingRepository persists local id <-> CRM uuid links.
type MappingRepository interface {
	GetRemoteUUID(ctx context.Context, entityType string, localID int64, subKey *string) (string, error)
	GetLocalID(ctx context.Context, remoteUUID, entityType string) (int64, error)
	GetMapping(ctx context.Context, entityType string, localID int64, subKey *string) (*models.EntityMapping, error)
	SaveMapping(ctx context.Context, m *models.EntityMapping) error
	GetSyncHash(ctx context.Context, entityType string, localID int64, subKey *string) (string, error)
	UpdateSyncHash(ctx context.Context, entityType string, localID int64, subKey *string, hash string) error
	DeleteMapping(ctx context.Context, entityType string, localID int64, subKey *string) error
	DeleteEntityMappings(ctx context.Context, entityType string, localID int64) (int64, error)
	ClearType(ctx context.Context, entityType string) (int64, error)
	GetStats(ctx context.Context) (map[string]int64, error)
}

// ProgressStore keeps the TTL-bound progress records of background syncs
// and the per-type active job index.
type ProgressStore interface {
	// Create registers a pending job. When another job of the type is still
	// active it returns that job's id and created=false.
	Create(ctx context.Context, syncType string, total int, opts models.Options) (syncID string, created bool, err error)
	Start(ctx context.Context, syncID string) error
	// Increment records the item at position, which must equal the job's
	// NextOffset. Otherwise the job is returned unchanged with ErrStaleBatch.
	Increment(ctx context.Context, syncID string, position int, success bool, item, errMsg string) (*models.SyncJob, error)
	Complete(ctx context.Context, syncID string) (bool, error)
	Fail(ctx context.Context, syncID, msg string) (bool, error)
	Cancel(ctx context.Context, syncID string) (bool, error)
	IsCancelled(ctx context.Context, syncID string) (bool, error)
	Get(ctx context.Context, syncID string) (*models.SyncJob, error)
	GetActiveSyncID(ctx context.Context, syncType string) (string, error)
	ListActive(ctx context.Context) (map[string]string, error)
	RemoveActive(ctx context.Context, syncType, syncID string) error
	ClearActive(ctx context.Context) (map[string]string, error)
	Purge(ctx context.Context, olderThan time.Duration) (int, error)
}

type ListingStore interface {
	CountListings(ctx context.Context) (int, error)
	ListListings(ctx context.Context, offset, limit int) ([]models.ListItem, error)
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	FindListingByReference(ctx context.Context, reference string) (*models.Listing, error)
	CreateListing(ctx context.Context, l *models.Listing) error
	UpdateListing(ctx context.Context, l *models.Listing) error
	TrashListing(ctx context.Context, id int64) error
	SetListingTerm(ctx context.Context, listingID int64, taxonomy string, termID int64) error
}

type TermStore interface {
	CountTerms(ctx context.Context, taxonomies []string) (int, error)
	ListTerms(ctx context.Context, taxonomies []string, offset, limit int) ([]models.ListItem, error)
	GetTerm(ctx context.Context, id int64) (*models.Term, error)
	FindTermByName(ctx context.Context, taxonomy, name string) (*models.Term, error)
	CreateTerm(ctx context.Context, t *models.Term) error
	UpdateTerm(ctx context.Context, t *models.Term) error
	DeleteTerm(ctx context.Context, id int64) error
}

type AgencyStore interface {
	CountAgencies(ctx context.Context) (int, error)
	ListAgencies(ctx context.Context, offset, limit int) ([]models.ListItem, error)
	GetAgency(ctx context.Context, id int64) (*models.Agency, error)
	FindAgencyByName(ctx context.Context, name string) (*models.Agency, error)
	CreateAgency(ctx context.Context, a *models.Agency) error
	UpdateAgency(ctx context.Context, a *models.Agency) error
	DeleteAgency(ctx context.Context, id int64) error
}

type UserStore interface {
	CountUsers(ctx context.Context) (int, error)
	ListUsers(ctx context.Context, offset, limit int) ([]models.ListItem, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	UpdateUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id int64) error
}

// LocalStore is the content system the engine syncs from and the
// reconciler writes into.
type LocalStore interface {
	ListingStore
	TermStore
	AgencyStore
	UserStore
}

// Strategy syncs one kind of local record to the CRM.
type Strategy interface {
	Type() string
	EntityType() string
	Count(ctx context.Context, opts models.Options) (int, error)
	List(ctx context.Context, offset, limit int, opts models.Options) ([]models.ListItem, error)
	SyncOne(ctx context.Context, localID int64, opts models.Options) models.SyncResult
}

// Deleter is implemented by strategies that can remove the CRM copy of a
// deleted local record.
type Deleter interface {
	DeleteOne(ctx context.Context, localID int64, subKey *string) models.SyncResult
}

// Hasher is implemented by strategies whose pushes are skipped when the
// payload did not change.
type Hasher interface {
	Hash(ctx context.Context, localID int64) (string, error)
}

// BatchQueue carries batch tasks to the background workers.
type BatchQueue interface {
	Enqueue(ctx context.Context, task models.BatchTask) error
	Remove(ctx context.Context, syncID string) (int, error)
}

// AuditLog is the append-only sync log sink.
type AuditLog interface {
	Record(ctx context.Context, entry *models.SyncLogEntry) error
}

// Notifier is told when a sync job reaches a final status.
type Notifier interface {
	JobFinished(ctx context.Context, job *models.SyncJob) error
}

// EventPublisher emits local lifecycle notifications.
type EventPublisher interface {
	PublishJSON(ctx context.Context, eventType string, payload interface{}) error
}
