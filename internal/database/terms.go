package database

import (
	"context"
	"fmt"

	"propsync/internal/models"

	sq "github.com/Masterminds/squirrel"
)

const termsTable = "terms"

func taxonomyFilter(taxonomies []string) sq.Sqlizer {
	if len(taxonomies) == 0 {
		return sq.Expr("1=1")
	}
	return sq.Eq{"taxonomy": taxonomies}
}

// CountTerms counts terms of the given taxonomies, all terms when empty.
func (db *DB) CountTerms(ctx context.Context, taxonomies []string) (int, error) {
	return db.count(ctx, db.sb.Select("COUNT(*)").From(termsTable).Where(taxonomyFilter(taxonomies)))
}

// ListTerms pages through terms ordered by id.
func (db *DB) ListTerms(ctx context.Context, taxonomies []string, offset, limit int) ([]models.ListItem, error) {
	items, err := db.listItems(ctx, db.sb.Select("id", "taxonomy || ': ' || name").
		From(termsTable).
		Where(taxonomyFilter(taxonomies)).
		OrderBy("id ASC").
		Offset(uint64(offset)).
		Limit(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	return items, nil
}

// GetTerm returns a term, nil when absent.
func (db *DB) GetTerm(ctx context.Context, id int64) (*models.Term, error) {
	return db.getTerm(ctx, sq.Eq{"id": id})
}

// FindTermByName looks a term up by its natural key.
func (db *DB) FindTermByName(ctx context.Context, taxonomy, name string) (*models.Term, error) {
	return db.getTerm(ctx, sq.Eq{"taxonomy": taxonomy, "name": name})
}

func (db *DB) getTerm(ctx context.Context, where sq.Eq) (*models.Term, error) {
	var t models.Term
	exists, err := db.queryRow(ctx, db.sb.Select("id", "taxonomy", "name", "slug", "description", "parent_id").
		From(termsTable).
		Where(where).
		Limit(1),
		&t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.Description, &t.ParentID)
	if err != nil {
		return nil, fmt.Errorf("get term: %w", err)
	}
	if !exists {
		return nil, nil
	}
	return &t, nil
}

func (db *DB) CreateTerm(ctx context.Context, t *models.Term) error {
	id, err := db.insertReturningID(ctx, db.sb.Insert(termsTable).
		Columns("taxonomy", "name", "slug", "description", "parent_id").
		Values(t.Taxonomy, t.Name, t.Slug, t.Description, t.ParentID))
	if err != nil {
		return fmt.Errorf("create term: %w", err)
	}
	t.ID = id
	return nil
}

func (db *DB) UpdateTerm(ctx context.Context, t *models.Term) error {
	_, err := db.exec(ctx, db.sb.Update(termsTable).
		Set("name", t.Name).
		Set("slug", t.Slug).
		Set("description", t.Description).
		Set("parent_id", t.ParentID).
		Where(sq.Eq{"id": t.ID}))
	if err != nil {
		return fmt.Errorf("update term: %w", err)
	}
	return nil
}

// DeleteTerm removes a term and its listing assignments.
func (db *DB) DeleteTerm(ctx context.Context, id int64) error {
	if _, err := db.exec(ctx, db.sb.Delete(listingTermsTable).Where(sq.Eq{"term_id": id})); err != nil {
		return fmt.Errorf("delete term assignments: %w", err)
	}
	if _, err := db.exec(ctx, db.sb.Delete(termsTable).Where(sq.Eq{"id": id})); err != nil {
		return fmt.Errorf("delete term: %w", err)
	}
	return nil
}
