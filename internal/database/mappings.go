package database

import (
	"context"
	"database/sql"
	"fmt"

	"propsync/internal/models"

	sq "github.com/Masterminds/squirrel"
)

const mappingsTable = "entity_mappings"

var mappingColumns = []string{
	"id", "entity_type", "local_id", "remote_uuid", "sub_key",
	"last_synced_at", "last_sync_direction", "sync_hash", "created_at", "updated_at",
}

// A NULL sub key is stored as '' so the unique key treats it as one value.
func mappingKey(entityType string, localID int64, subKey *string) sq.Eq {
	return sq.Eq{
		"entity_type": entityType,
		"local_id":    localID,
		"sub_key":     models.SubKeyValue(subKey),
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// GetRemoteUUID returns the CRM uuid for a local record, or "" when unmapped.
func (db *DB) GetRemoteUUID(ctx context.Context, entityType string, localID int64, subKey *string) (string, error) {
	var uuid string
	_, err := db.queryRow(ctx, db.sb.Select("remote_uuid").
		From(mappingsTable).
		Where(mappingKey(entityType, localID, subKey)).
		Limit(1), &uuid)
	if err != nil {
		return "", fmt.Errorf("get remote uuid: %w", err)
	}
	return uuid, nil
}

// GetLocalID returns the local id mapped to a CRM uuid, or 0 when unmapped.
func (db *DB) GetLocalID(ctx context.Context, remoteUUID, entityType string) (int64, error) {
	var id int64
	_, err := db.queryRow(ctx, db.sb.Select("local_id").
		From(mappingsTable).
		Where(sq.Eq{"entity_type": entityType, "remote_uuid": remoteUUID}).
		OrderBy("id").
		Limit(1), &id)
	if err != nil {
		return 0, fmt.Errorf("get local id: %w", err)
	}
	return id, nil
}

// GetMapping returns the full mapping row, or nil when absent.
func (db *DB) GetMapping(ctx context.Context, entityType string, localID int64, subKey *string) (*models.EntityMapping, error) {
	var (
		m      models.EntityMapping
		sub    string
		hash   sql.NullString
		exists bool
		err    error
	)
	exists, err = db.queryRow(ctx, db.sb.Select(mappingColumns...).
		From(mappingsTable).
		Where(mappingKey(entityType, localID, subKey)).
		Limit(1),
		&m.ID, &m.EntityType, &m.LocalID, &m.RemoteUUID, &sub,
		&m.LastSyncedAt, &m.LastSyncDirection, &hash, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	if !exists {
		return nil, nil
	}
	m.SubKey = models.SubKey(sub)
	if hash.Valid {
		m.SyncHash = &hash.String
	}
	return &m, nil
}

// SaveMapping updates the mapping for (entity_type, local_id, sub_key) or
// inserts it. The insert is itself an upsert for the case where a concurrent
// writer created the row between the update and the insert.
func (db *DB) SaveMapping(ctx context.Context, m *models.EntityMapping) error {
	ts := now()
	subKey := models.SubKey(models.SubKeyValue(m.SubKey))

	affected, err := db.exec(ctx, db.sb.Update(mappingsTable).
		Set("remote_uuid", m.RemoteUUID).
		Set("last_synced_at", ts).
		Set("last_sync_direction", m.LastSyncDirection).
		Set("sync_hash", nullString(m.SyncHash)).
		Set("updated_at", ts).
		Where(mappingKey(m.EntityType, m.LocalID, subKey)))
	if err != nil {
		return fmt.Errorf("update mapping: %w", err)
	}
	if affected > 0 {
		return nil
	}

	_, err = db.exec(ctx, db.sb.Insert(mappingsTable).
		Columns("entity_type", "local_id", "remote_uuid", "sub_key",
			"last_synced_at", "last_sync_direction", "sync_hash", "created_at", "updated_at").
		Values(m.EntityType, m.LocalID, m.RemoteUUID, models.SubKeyValue(subKey),
			ts, m.LastSyncDirection, nullString(m.SyncHash), ts, ts).
		Suffix(`ON CONFLICT (entity_type, local_id, sub_key) DO UPDATE SET
            remote_uuid = excluded.remote_uuid,
            last_synced_at = excluded.last_synced_at,
            last_sync_direction = excluded.last_sync_direction,
            sync_hash = excluded.sync_hash,
            updated_at = excluded.updated_at`))
	if err != nil {
		return fmt.Errorf("insert mapping: %w", err)
	}
	return nil
}

// GetSyncHash returns the stored payload hash, "" when absent.
func (db *DB) GetSyncHash(ctx context.Context, entityType string, localID int64, subKey *string) (string, error) {
	var hash sql.NullString
	_, err := db.queryRow(ctx, db.sb.Select("sync_hash").
		From(mappingsTable).
		Where(mappingKey(entityType, localID, subKey)).
		Limit(1), &hash)
	if err != nil {
		return "", fmt.Errorf("get sync hash: %w", err)
	}
	return hash.String, nil
}

// UpdateSyncHash sets the payload hash of an existing mapping.
func (db *DB) UpdateSyncHash(ctx context.Context, entityType string, localID int64, subKey *string, hash string) error {
	_, err := db.exec(ctx, db.sb.Update(mappingsTable).
		Set("sync_hash", hash).
		Set("updated_at", now()).
		Where(mappingKey(entityType, localID, subKey)))
	if err != nil {
		return fmt.Errorf("update sync hash: %w", err)
	}
	return nil
}

// DeleteMapping removes one mapping row.
func (db *DB) DeleteMapping(ctx context.Context, entityType string, localID int64, subKey *string) error {
	if _, err := db.exec(ctx, db.sb.Delete(mappingsTable).Where(mappingKey(entityType, localID, subKey))); err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return nil
}

// DeleteEntityMappings removes every sub key mapping of a local record.
func (db *DB) DeleteEntityMappings(ctx context.Context, entityType string, localID int64) (int64, error) {
	n, err := db.exec(ctx, db.sb.Delete(mappingsTable).Where(sq.Eq{"entity_type": entityType, "local_id": localID}))
	if err != nil {
		return 0, fmt.Errorf("delete entity mappings: %w", err)
	}
	return n, nil
}

// ClearType removes all mappings of an entity type.
func (db *DB) ClearType(ctx context.Context, entityType string) (int64, error) {
	n, err := db.exec(ctx, db.sb.Delete(mappingsTable).Where(sq.Eq{"entity_type": entityType}))
	if err != nil {
		return 0, fmt.Errorf("clear mappings: %w", err)
	}
	return n, nil
}

// GetStats returns the number of mappings per entity type.
func (db *DB) GetStats(ctx context.Context) (map[string]int64, error) {
	query, args, err := db.sb.Select("entity_type", "COUNT(*)").
		From(mappingsTable).
		GroupBy("entity_type").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mapping stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var (
			entityType string
			n          int64
		)
		if err := rows.Scan(&entityType, &n); err != nil {
			return nil, err
		}
		stats[entityType] = n
	}
	return stats, rows.Err()
}
