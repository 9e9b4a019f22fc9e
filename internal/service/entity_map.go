package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"propsync/internal/domain"
	"propsync/internal/models"

	"github.com/rs/zerolog"
)

var ErrInvalidMapping = errors.New("invalid mapping")

// EntityMap is the identity table between local ids and CRM uuids.
type EntityMap struct {
	repo   domain.MappingRepository
	logger *zerolog.Logger
	now    func() time.Time
}

func NewEntityMap(repo domain.MappingRepository, logger *zerolog.Logger) *EntityMap {
	return &EntityMap{repo: repo, logger: logger, now: time.Now}
}

// GetRemoteUUID returns "" when the record was never synced. A nil sub key
// only matches rows stored without one.
func (m *EntityMap) GetRemoteUUID(ctx context.Context, entityType string, localID int64, subKey *string) (string, error) {
	return m.repo.GetRemoteUUID(ctx, entityType, localID, normalize(subKey))
}

// GetLocalID resolves a CRM uuid back to the local id, 0 when unmapped.
func (m *EntityMap) GetLocalID(ctx context.Context, remoteUUID, entityType string) (int64, error) {
	if remoteUUID == "" {
		return 0, nil
	}
	return m.repo.GetLocalID(ctx, remoteUUID, entityType)
}

// SaveMapping upserts the row for (entityType, localID, subKey).
func (m *EntityMap) SaveMapping(ctx context.Context, localID int64, entityType, remoteUUID string, subKey *string, direction string, syncHash *string) error {
	if !models.IsValidEntityType(entityType) {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidMapping, entityType)
	}
	if localID <= 0 || remoteUUID == "" {
		return fmt.Errorf("%w: local id and remote uuid are required", ErrInvalidMapping)
	}
	switch direction {
	case models.DirectionPush, models.DirectionPull, models.DirectionWebhook:
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidMapping, direction)
	}

	now := m.now().UTC()
	return m.repo.SaveMapping(ctx, &models.EntityMapping{
		EntityType:        entityType,
		LocalID:           localID,
		RemoteUUID:        remoteUUID,
		SubKey:            normalize(subKey),
		LastSyncedAt:      now,
		LastSyncDirection: direction,
		SyncHash:          syncHash,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
}

func (m *EntityMap) GetSyncHash(ctx context.Context, entityType string, localID int64, subKey *string) (string, error) {
	return m.repo.GetSyncHash(ctx, entityType, localID, normalize(subKey))
}

func (m *EntityMap) UpdateSyncHash(ctx context.Context, entityType string, localID int64, subKey *string, hash string) error {
	return m.repo.UpdateSyncHash(ctx, entityType, localID, normalize(subKey), hash)
}

// Unchanged reports whether hash equals the stored sync hash of a mapped
// record. Unmapped records are never unchanged.
func (m *EntityMap) Unchanged(ctx context.Context, entityType string, localID int64, subKey *string, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	stored, err := m.GetSyncHash(ctx, entityType, localID, subKey)
	if err != nil {
		return false, err
	}
	return stored != "" && stored == hash, nil
}

func (m *EntityMap) DeleteMapping(ctx context.Context, entityType string, localID int64, subKey *string) error {
	return m.repo.DeleteMapping(ctx, entityType, localID, normalize(subKey))
}

// DeleteMappingsForEntity drops every sub key row of one local record.
func (m *EntityMap) DeleteMappingsForEntity(ctx context.Context, entityType string, localID int64) (int64, error) {
	return m.repo.DeleteEntityMappings(ctx, entityType, localID)
}

func (m *EntityMap) ClearType(ctx context.Context, entityType string) (int64, error) {
	if !models.IsValidEntityType(entityType) {
		return 0, fmt.Errorf("%w: unknown entity type %q", ErrInvalidMapping, entityType)
	}
	n, err := m.repo.ClearType(ctx, entityType)
	if err != nil {
		return 0, err
	}
	m.logger.Info().Str("entity_type", entityType).Int64("deleted", n).Msg("Cleared entity mappings")
	return n, nil
}

func (m *EntityMap) GetStats(ctx context.Context) (map[string]int64, error) {
	return m.repo.GetStats(ctx)
}

func normalize(subKey *string) *string {
	if subKey == nil {
		return nil
	}
	return models.SubKey(*subKey)
}
