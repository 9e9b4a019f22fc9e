package webhook

import (
	"context"
	"fmt"

	"propsync/internal/models"

	"github.com/gosimple/slug"
)

func (r *Reconciler) upsertListing(createOnly bool) handler {
	return func(ctx context.Context, p models.WebhookPayload) (models.WebhookResult, error) {
		var data models.ListingData
		if err := decode(p.Data, &data); err != nil {
			return models.WebhookResult{}, err
		}

		listing, err := r.mappedListing(ctx, p.UUID)
		if err != nil {
			return models.WebhookResult{}, err
		}
		if listing != nil && createOnly {
			return skipped(listing.ID, "listing already exists"), nil
		}
		if listing == nil && data.Reference != "" {
			if listing, err = r.store.FindListingByReference(ctx, data.Reference); err != nil {
				return models.WebhookResult{}, fmt.Errorf("find listing by reference: %w", err)
			}
		}

		status := models.ResultUpdated
		if listing == nil {
			if data.Title == "" {
				return models.WebhookResult{}, fmt.Errorf("%w: title is required", ErrInvalidPayload)
			}
			listing = &models.Listing{}
			status = models.ResultCreated
		}
		if err := r.applyListing(ctx, listing, data); err != nil {
			return models.WebhookResult{}, err
		}

		if status == models.ResultCreated {
			err = r.store.CreateListing(ctx, listing)
		} else {
			err = r.store.UpdateListing(ctx, listing)
		}
		if err != nil {
			return models.WebhookResult{}, err
		}
		r.saveMapping(ctx, listing.ID, models.EntityProperty, p.UUID, nil)

		if data.Status != nil && data.Status.Name != "" {
			if err := r.assignStatus(ctx, listing.ID, *data.Status); err != nil {
				return models.WebhookResult{}, err
			}
		}
		return models.WebhookResult{Status: status, LocalID: listing.ID}, nil
	}
}

func (r *Reconciler) deleteListing(ctx context.Context, p models.WebhookPayload) (models.WebhookResult, error) {
	localID, err := r.mappings.GetLocalID(ctx, p.UUID, models.EntityProperty)
	if err != nil {
		return models.WebhookResult{}, err
	}
	if localID == 0 {
		return skipped(0, "listing not mapped"), nil
	}
	if err := r.store.TrashListing(ctx, localID); err != nil {
		return models.WebhookResult{}, err
	}
	r.dropMappings(ctx, models.EntityProperty, localID)
	return models.WebhookResult{Status: models.ResultDeleted, LocalID: localID}, nil
}

func (r *Reconciler) listingStatusChanged(ctx context.Context, p models.WebhookPayload) (models.WebhookResult, error) {
	var data models.ListingData
	if err := decode(p.Data, &data); err != nil {
		return models.WebhookResult{}, err
	}
	if data.Status == nil || data.Status.Name == "" {
		return models.WebhookResult{}, fmt.Errorf("%w: status name is required", ErrInvalidPayload)
	}

	listing, err := r.mappedListing(ctx, p.UUID)
	if err != nil {
		return models.WebhookResult{}, err
	}
	if listing == nil {
		return skipped(0, "listing not mapped"), nil
	}
	if err := r.assignStatus(ctx, listing.ID, *data.Status); err != nil {
		return models.WebhookResult{}, err
	}
	return models.WebhookResult{Status: models.ResultUpdated, LocalID: listing.ID}, nil
}

// mappedListing returns the local listing linked to uuid, nil when the
// mapping or the record is missing.
func (r *Reconciler) mappedListing(ctx context.Context, uuid string) (*models.Listing, error) {
	localID, err := r.mappings.GetLocalID(ctx, uuid, models.EntityProperty)
	if err != nil || localID == 0 {
		return nil, err
	}
	return r.store.GetListing(ctx, localID)
}

func (r *Reconciler) applyListing(ctx context.Context, l *models.Listing, d models.ListingData) error {
	if d.Title != "" {
		l.Title = d.Title
	}
	l.Description = d.Description
	if d.Reference != "" {
		l.Reference = d.Reference
	}
	l.Price = d.Price
	l.Address = d.Address
	l.City = d.City
	l.Bedrooms = d.Bedrooms
	l.Bathrooms = d.Bathrooms
	l.Area = d.Area
	l.Trashed = false

	if d.AgencyUUID != "" {
		agencyID, err := r.mappings.GetLocalID(ctx, d.AgencyUUID, models.EntityAgency)
		if err != nil {
			return fmt.Errorf("resolve agency: %w", err)
		}
		if agencyID != 0 {
			l.AgencyID = agencyID
		}
	}
	return nil
}

// assignStatus finds or creates the status term and assigns it to the
// listing. A term uuid is recorded in the Entity Map.
func (r *Reconciler) assignStatus(ctx context.Context, listingID int64, ref models.RemoteRef) error {
	var term *models.Term
	if ref.UUID != "" {
		termID, err := r.mappings.GetLocalID(ctx, ref.UUID, models.EntityTaxonomy)
		if err != nil {
			return err
		}
		if termID != 0 {
			if term, err = r.store.GetTerm(ctx, termID); err != nil {
				return err
			}
		}
	}
	if term == nil {
		var err error
		if term, err = r.store.FindTermByName(ctx, models.TaxonomyPropertyStatus, ref.Name); err != nil {
			return err
		}
	}
	if term == nil {
		term = &models.Term{Taxonomy: models.TaxonomyPropertyStatus, Name: ref.Name, Slug: slug.Make(ref.Name)}
		if err := r.store.CreateTerm(ctx, term); err != nil {
			return err
		}
	}
	if ref.UUID != "" {
		r.saveMapping(ctx, term.ID, models.EntityTaxonomy, ref.UUID, models.SubKey(term.Taxonomy))
	}
	return r.store.SetListingTerm(ctx, listingID, term.Taxonomy, term.ID)
}
