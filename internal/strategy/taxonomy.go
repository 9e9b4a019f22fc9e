package strategy

import (
	"context"
	"fmt"

	"propsync/internal/crm"
	"propsync/internal/domain"
	"propsync/internal/models"
)

type termPayload struct {
	Name        string `json:"name"`
	Slug        string `json:"slug,omitempty"`
	Description string `json:"description,omitempty"`
	ParentUUID  string `json:"parent_uuid,omitempty"`
}

// TaxonomyStrategy pushes taxonomy terms. The taxonomy name is the mapping
// sub key, so one term id may be linked once per taxonomy.
type TaxonomyStrategy struct {
	store      domain.TermStore
	taxonomies []string
	pusher
}

// NewTaxonomyStrategy builds the strategy. taxonomies is the default set a
// sync without a "taxonomy" option iterates; empty means every taxonomy.
func NewTaxonomyStrategy(store domain.TermStore, taxonomies []string, deps Deps) *TaxonomyStrategy {
	return &TaxonomyStrategy{store: store, taxonomies: taxonomies, pusher: newPusher(deps, "taxonomy_strategy")}
}

func (s *TaxonomyStrategy) Type() string       { return models.SyncTaxonomy }
func (s *TaxonomyStrategy) EntityType() string { return models.EntityTaxonomy }

func (s *TaxonomyStrategy) scope(opts models.Options) []string {
	if t := opts["taxonomy"]; t != "" {
		return []string{t}
	}
	return s.taxonomies
}

func (s *TaxonomyStrategy) Count(ctx context.Context, opts models.Options) (int, error) {
	return s.store.CountTerms(ctx, s.scope(opts))
}

func (s *TaxonomyStrategy) List(ctx context.Context, offset, limit int, opts models.Options) ([]models.ListItem, error) {
	return s.store.ListTerms(ctx, s.scope(opts), offset, limit)
}

func (s *TaxonomyStrategy) SyncOne(ctx context.Context, localID int64, _ models.Options) models.SyncResult {
	term, err := s.store.GetTerm(ctx, localID)
	if err != nil {
		return models.Failure(fmt.Sprintf("load term %d: %v", localID, err))
	}
	if term == nil {
		return models.Failure(fmt.Sprintf("term %d not found", localID))
	}

	subKey := models.SubKey(term.Taxonomy)
	collection := crm.TaxonomyPath(term.Taxonomy)
	return s.push(ctx, pushRequest{
		entityType: models.EntityTaxonomy,
		localID:    term.ID,
		subKey:     subKey,
		collection: collection,
		findPath:   collection + "/find-by-name",
		findParam:  "name",
		findValue:  term.Name,
		payload: termPayload{
			Name:        term.Name,
			Slug:        term.Slug,
			Description: term.Description,
			ParentUUID:  s.optionalUUID(ctx, models.EntityTaxonomy, term.ParentID, subKey),
		},
	})
}

// DeleteOne removes the CRM term. subKey carries the taxonomy because the
// local term is usually gone by now.
func (s *TaxonomyStrategy) DeleteOne(ctx context.Context, localID int64, subKey *string) models.SyncResult {
	taxonomy := models.SubKeyValue(subKey)
	if taxonomy == "" {
		return models.Failure("taxonomy is required to delete a term")
	}
	return s.remove(ctx, models.EntityTaxonomy, localID, subKey, crm.TaxonomyPath(taxonomy))
}
