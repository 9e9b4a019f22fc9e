package webhook

import (
	"context"
	"fmt"

	"propsync/internal/models"

	"github.com/gosimple/slug"
)

func (r *Reconciler) upsertTerm(createOnly bool) handler {
	return func(ctx context.Context, p models.WebhookPayload) (models.WebhookResult, error) {
		var data models.TermData
		if err := decode(p.Data, &data); err != nil {
			return models.WebhookResult{}, err
		}
		if data.Taxonomy == "" || data.Name == "" {
			return models.WebhookResult{}, fmt.Errorf("%w: taxonomy and name are required", ErrInvalidPayload)
		}

		term, err := r.mappedTerm(ctx, p.UUID)
		if err != nil {
			return models.WebhookResult{}, err
		}
		if term != nil && createOnly {
			return skipped(term.ID, "term already exists"), nil
		}
		if term == nil {
			if term, err = r.store.FindTermByName(ctx, data.Taxonomy, data.Name); err != nil {
				return models.WebhookResult{}, err
			}
		}

		status := models.ResultUpdated
		if term == nil {
			term = &models.Term{Taxonomy: data.Taxonomy}
			status = models.ResultCreated
		}
		term.Name = data.Name
		term.Slug = data.Slug
		if term.Slug == "" {
			term.Slug = slug.Make(data.Name)
		}
		term.Description = data.Description

		if status == models.ResultCreated {
			err = r.store.CreateTerm(ctx, term)
		} else {
			err = r.store.UpdateTerm(ctx, term)
		}
		if err != nil {
			return models.WebhookResult{}, err
		}
		r.saveMapping(ctx, term.ID, models.EntityTaxonomy, p.UUID, models.SubKey(term.Taxonomy))
		return models.WebhookResult{Status: status, LocalID: term.ID}, nil
	}
}

func (r *Reconciler) deleteTerm(ctx context.Context, p models.WebhookPayload) (models.WebhookResult, error) {
	localID, err := r.mappings.GetLocalID(ctx, p.UUID, models.EntityTaxonomy)
	if err != nil {
		return models.WebhookResult{}, err
	}
	if localID == 0 {
		return skipped(0, "term not mapped"), nil
	}
	if err := r.store.DeleteTerm(ctx, localID); err != nil {
		return models.WebhookResult{}, err
	}
	r.dropMappings(ctx, models.EntityTaxonomy, localID)
	return models.WebhookResult{Status: models.ResultDeleted, LocalID: localID}, nil
}

func (r *Reconciler) mappedTerm(ctx context.Context, uuid string) (*models.Term, error) {
	localID, err := r.mappings.GetLocalID(ctx, uuid, models.EntityTaxonomy)
	if err != nil || localID == 0 {
		return nil, err
	}
	return r.store.GetTerm(ctx, localID)
}
