package database

import (
	"context"
	"fmt"

	"propsync/internal/models"

	sq "github.com/Masterminds/squirrel"
)

const (
	listingsTable     = "listings"
	listingTermsTable = "listing_terms"
)

var listingColumns = []string{
	"id", "title", "description", "reference", "price", "address", "city",
	"bedrooms", "bathrooms", "area", "agency_id", "trashed", "created_at", "updated_at",
}

// CountListings counts listings that are not trashed.
func (db *DB) CountListings(ctx context.Context) (int, error) {
	return db.count(ctx, db.sb.Select("COUNT(*)").From(listingsTable).Where(sq.Eq{"trashed": false}))
}

// ListListings pages through non-trashed listings ordered by id.
func (db *DB) ListListings(ctx context.Context, offset, limit int) ([]models.ListItem, error) {
	items, err := db.listItems(ctx, db.sb.Select("id", "title").
		From(listingsTable).
		Where(sq.Eq{"trashed": false}).
		OrderBy("id ASC").
		Offset(uint64(offset)).
		Limit(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	for i := range items {
		if items[i].Label == "" {
			items[i].Label = fmt.Sprintf("Listing #%d", items[i].ID)
		}
	}
	return items, nil
}

// GetListing returns a listing with its term assignments, nil when absent.
func (db *DB) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	return db.getListing(ctx, sq.Eq{"id": id})
}

// FindListingByReference looks a listing up by its reference code.
func (db *DB) FindListingByReference(ctx context.Context, reference string) (*models.Listing, error) {
	if reference == "" {
		return nil, nil
	}
	return db.getListing(ctx, sq.Eq{"reference": reference})
}

func (db *DB) getListing(ctx context.Context, where sq.Eq) (*models.Listing, error) {
	var l models.Listing
	exists, err := db.queryRow(ctx, db.sb.Select(listingColumns...).
		From(listingsTable).
		Where(where).
		OrderBy("id").
		Limit(1),
		&l.ID, &l.Title, &l.Description, &l.Reference, &l.Price, &l.Address, &l.City,
		&l.Bedrooms, &l.Bathrooms, &l.Area, &l.AgencyID, &l.Trashed, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if !exists {
		return nil, nil
	}

	terms, err := db.listingTerms(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	l.Terms = terms
	return &l, nil
}

func (db *DB) listingTerms(ctx context.Context, listingID int64) (map[string]int64, error) {
	query, args, err := db.sb.Select("taxonomy", "term_id").
		From(listingTermsTable).
		Where(sq.Eq{"listing_id": listingID}).
		OrderBy("taxonomy").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing terms: %w", err)
	}
	defer rows.Close()

	terms := make(map[string]int64)
	for rows.Next() {
		var (
			taxonomy string
			termID   int64
		)
		if err := rows.Scan(&taxonomy, &termID); err != nil {
			return nil, err
		}
		terms[taxonomy] = termID
	}
	return terms, rows.Err()
}

// CreateListing inserts a listing and its term assignments.
func (db *DB) CreateListing(ctx context.Context, l *models.Listing) error {
	ts := now()
	id, err := db.insertReturningID(ctx, db.sb.Insert(listingsTable).
		Columns("title", "description", "reference", "price", "address", "city",
			"bedrooms", "bathrooms", "area", "agency_id", "trashed", "created_at", "updated_at").
		Values(l.Title, l.Description, l.Reference, l.Price, l.Address, l.City,
			l.Bedrooms, l.Bathrooms, l.Area, l.AgencyID, false, ts, ts))
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	l.ID = id
	l.CreatedAt, l.UpdatedAt = ts, ts

	for taxonomy, termID := range l.Terms {
		if err := db.SetListingTerm(ctx, l.ID, taxonomy, termID); err != nil {
			return err
		}
	}
	return nil
}

// UpdateListing overwrites the listing fields. Terms are managed separately.
func (db *DB) UpdateListing(ctx context.Context, l *models.Listing) error {
	ts := now()
	_, err := db.exec(ctx, db.sb.Update(listingsTable).
		Set("title", l.Title).
		Set("description", l.Description).
		Set("reference", l.Reference).
		Set("price", l.Price).
		Set("address", l.Address).
		Set("city", l.City).
		Set("bedrooms", l.Bedrooms).
		Set("bathrooms", l.Bathrooms).
		Set("area", l.Area).
		Set("agency_id", l.AgencyID).
		Set("trashed", l.Trashed).
		Set("updated_at", ts).
		Where(sq.Eq{"id": l.ID}))
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	l.UpdatedAt = ts
	return nil
}

// TrashListing soft-deletes a listing.
func (db *DB) TrashListing(ctx context.Context, id int64) error {
	_, err := db.exec(ctx, db.sb.Update(listingsTable).
		Set("trashed", true).
		Set("updated_at", now()).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("trash listing: %w", err)
	}
	return nil
}

// SetListingTerm assigns the single term of a taxonomy to a listing.
func (db *DB) SetListingTerm(ctx context.Context, listingID int64, taxonomy string, termID int64) error {
	_, err := db.exec(ctx, db.sb.Insert(listingTermsTable).
		Columns("listing_id", "taxonomy", "term_id").
		Values(listingID, taxonomy, termID).
		Suffix("ON CONFLICT (listing_id, taxonomy) DO UPDATE SET term_id = excluded.term_id"))
	if err != nil {
		return fmt.Errorf("set listing term: %w", err)
	}
	return nil
}
