package database

import (
	"context"
	"fmt"

	"propsync/internal/models"

	sq "github.com/Masterminds/squirrel"
)

const agenciesTable = "agencies"

func (db *DB) CountAgencies(ctx context.Context) (int, error) {
	return db.count(ctx, db.sb.Select("COUNT(*)").From(agenciesTable))
}

func (db *DB) ListAgencies(ctx context.Context, offset, limit int) ([]models.ListItem, error) {
	items, err := db.listItems(ctx, db.sb.Select("id", "name").
		From(agenciesTable).
		OrderBy("id ASC").
		Offset(uint64(offset)).
		Limit(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("list agencies: %w", err)
	}
	return items, nil
}

func (db *DB) GetAgency(ctx context.Context, id int64) (*models.Agency, error) {
	return db.getAgency(ctx, sq.Eq{"id": id})
}

func (db *DB) FindAgencyByName(ctx context.Context, name string) (*models.Agency, error) {
	return db.getAgency(ctx, sq.Eq{"name": name})
}

func (db *DB) getAgency(ctx context.Context, where sq.Eq) (*models.Agency, error) {
	var a models.Agency
	exists, err := db.queryRow(ctx, db.sb.Select("id", "name", "email", "phone", "website", "created_at", "updated_at").
		From(agenciesTable).
		Where(where).
		OrderBy("id").
		Limit(1),
		&a.ID, &a.Name, &a.Email, &a.Phone, &a.Website, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get agency: %w", err)
	}
	if !exists {
		return nil, nil
	}
	return &a, nil
}

func (db *DB) CreateAgency(ctx context.Context, a *models.Agency) error {
	ts := now()
	id, err := db.insertReturningID(ctx, db.sb.Insert(agenciesTable).
		Columns("name", "email", "phone", "website", "created_at", "updated_at").
		Values(a.Name, a.Email, a.Phone, a.Website, ts, ts))
	if err != nil {
		return fmt.Errorf("create agency: %w", err)
	}
	a.ID = id
	a.CreatedAt, a.UpdatedAt = ts, ts
	return nil
}

func (db *DB) UpdateAgency(ctx context.Context, a *models.Agency) error {
	ts := now()
	_, err := db.exec(ctx, db.sb.Update(agenciesTable).
		Set("name", a.Name).
		Set("email", a.Email).
		Set("phone", a.Phone).
		Set("website", a.Website).
		Set("updated_at", ts).
		Where(sq.Eq{"id": a.ID}))
	if err != nil {
		return fmt.Errorf("update agency: %w", err)
	}
	a.UpdatedAt = ts
	return nil
}

func (db *DB) DeleteAgency(ctx context.Context, id int64) error {
	if _, err := db.exec(ctx, db.sb.Delete(agenciesTable).Where(sq.Eq{"id": id})); err != nil {
		return fmt.Errorf("delete agency: %w", err)
	}
	return nil
}
