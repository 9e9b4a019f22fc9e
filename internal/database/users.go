package database

import (
	"context"
	"fmt"
	"strings"

	"propsync/internal/models"

	sq "github.com/Masterminds/squirrel"
)

const usersTable = "users"

func (db *DB) CountUsers(ctx context.Context) (int, error) {
	return db.count(ctx, db.sb.Select("COUNT(*)").From(usersTable))
}

// ListUsers pages through users ordered by id, labelled by email.
func (db *DB) ListUsers(ctx context.Context, offset, limit int) ([]models.ListItem, error) {
	items, err := db.listItems(ctx, db.sb.Select("id", "email").
		From(usersTable).
		OrderBy("id ASC").
		Offset(uint64(offset)).
		Limit(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return items, nil
}

func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return db.getUser(ctx, sq.Eq{"id": id})
}

// FindUserByEmail matches emails case-insensitively.
func (db *DB) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, nil
	}
	return db.getUser(ctx, sq.Eq{"LOWER(email)": strings.ToLower(email)})
}

func (db *DB) getUser(ctx context.Context, where sq.Eq) (*models.User, error) {
	var u models.User
	exists, err := db.queryRow(ctx, db.sb.Select("id", "email", "first_name", "last_name", "phone", "role", "created_at", "updated_at").
		From(usersTable).
		Where(where).
		Limit(1),
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !exists {
		return nil, nil
	}
	return &u, nil
}

func (db *DB) CreateUser(ctx context.Context, u *models.User) error {
	ts := now()
	if u.Role == "" {
		u.Role = "subscriber"
	}
	id, err := db.insertReturningID(ctx, db.sb.Insert(usersTable).
		Columns("email", "first_name", "last_name", "phone", "role", "created_at", "updated_at").
		Values(u.Email, u.FirstName, u.LastName, u.Phone, u.Role, ts, ts))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	u.ID = id
	u.CreatedAt, u.UpdatedAt = ts, ts
	return nil
}

func (db *DB) UpdateUser(ctx context.Context, u *models.User) error {
	ts := now()
	_, err := db.exec(ctx, db.sb.Update(usersTable).
		Set("email", u.Email).
		Set("first_name", u.FirstName).
		Set("last_name", u.LastName).
		Set("phone", u.Phone).
		Set("role", u.Role).
		Set("updated_at", ts).
		Where(sq.Eq{"id": u.ID}))
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	u.UpdatedAt = ts
	return nil
}

func (db *DB) DeleteUser(ctx context.Context, id int64) error {
	if _, err := db.exec(ctx, db.sb.Delete(usersTable).Where(sq.Eq{"id": id})); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
