package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"propsync/internal/models"

	sq "github.com/Masterminds/squirrel"
)

const syncLogTable = "sync_log"

// Record appends an entry to the sync log.
func (db *DB) Record(ctx context.Context, entry *models.SyncLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	id, err := db.insertReturningID(ctx, db.sb.Insert(syncLogTable).
		Columns("entity_type", "entity_id", "action", "direction", "status",
			"request", "response", "error_message", "created_at").
		Values(entry.EntityType, entry.EntityID, entry.Action, entry.Direction, entry.Status,
			entry.Request, entry.Response, entry.ErrorMessage, entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to record sync log: %w", err)
	}
	entry.ID = id
	return nil
}

// ListSyncLog returns entries created at or after since, newest first.
func (db *DB) ListSyncLog(ctx context.Context, since time.Time, limit uint64) ([]models.SyncLogEntry, error) {
	sb := db.sb.Select("id", "entity_type", "entity_id", "action", "direction", "status",
		"request", "response", "error_message", "created_at").
		From(syncLogTable).
		Where(sq.GtOrEq{"created_at": since.UTC()}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		sb = sb.Limit(limit)
	}

	query, args, err := sb.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync log: %w", err)
	}
	defer rows.Close()

	var entries []models.SyncLogEntry
	for rows.Next() {
		var (
			e                       models.SyncLogEntry
			request, response, emsg sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.Direction, &e.Status,
			&request, &response, &emsg, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Request, e.Response, e.ErrorMessage = request.String, response.String, emsg.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
