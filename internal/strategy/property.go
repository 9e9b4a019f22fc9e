package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"propsync/internal/crm"
	"propsync/internal/domain"
	"propsync/internal/models"
)

// listingPayload is the CRM body of a listing. Volatile fields such as
// timestamps are left out so the hash only changes with content.
type listingPayload struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Reference   string            `json:"reference,omitempty"`
	Price       float64           `json:"price"`
	Address     string            `json:"address"`
	City        string            `json:"city"`
	Bedrooms    int               `json:"bedrooms"`
	Bathrooms   int               `json:"bathrooms"`
	Area        float64           `json:"area"`
	AgencyUUID  string            `json:"agency_uuid,omitempty"`
	Terms       map[string]string `json:"terms,omitempty"`
}

// PropertyStrategy pushes listings.
type PropertyStrategy struct {
	store domain.ListingStore
	pusher
}

func NewPropertyStrategy(store domain.ListingStore, deps Deps) *PropertyStrategy {
	return &PropertyStrategy{store: store, pusher: newPusher(deps, "property_strategy")}
}

func (s *PropertyStrategy) Type() string       { return models.SyncProperties }
func (s *PropertyStrategy) EntityType() string { return models.EntityProperty }

func (s *PropertyStrategy) Count(ctx context.Context, _ models.Options) (int, error) {
	return s.store.CountListings(ctx)
}

func (s *PropertyStrategy) List(ctx context.Context, offset, limit int, _ models.Options) ([]models.ListItem, error) {
	return s.store.ListListings(ctx, offset, limit)
}

func (s *PropertyStrategy) SyncOne(ctx context.Context, localID int64, _ models.Options) models.SyncResult {
	listing, err := s.load(ctx, localID)
	if err != nil {
		return models.Failure(err.Error())
	}

	payload := s.payload(ctx, listing)
	hash, err := hashPayload(payload)
	if err != nil {
		return models.Failure(err.Error())
	}

	return s.push(ctx, pushRequest{
		entityType: models.EntityProperty,
		localID:    listing.ID,
		collection: crm.PathListings,
		findPath:   crm.PathListings + "/find-by-reference",
		findParam:  "reference",
		findValue:  listing.Reference,
		payload:    payload,
		hash:       &hash,
	})
}

// Hash returns the content hash of the listing's push payload.
func (s *PropertyStrategy) Hash(ctx context.Context, localID int64) (string, error) {
	listing, err := s.load(ctx, localID)
	if err != nil {
		return "", err
	}
	return hashPayload(s.payload(ctx, listing))
}

func (s *PropertyStrategy) DeleteOne(ctx context.Context, localID int64, _ *string) models.SyncResult {
	return s.remove(ctx, models.EntityProperty, localID, nil, crm.PathListings)
}

func (s *PropertyStrategy) load(ctx context.Context, localID int64) (*models.Listing, error) {
	listing, err := s.store.GetListing(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("load listing %d: %w", localID, err)
	}
	if listing == nil || listing.Trashed {
		return nil, fmt.Errorf("listing %d not found", localID)
	}
	return listing, nil
}

func (s *PropertyStrategy) payload(ctx context.Context, l *models.Listing) listingPayload {
	p := listingPayload{
		Title:       l.Title,
		Description: l.Description,
		Reference:   l.Reference,
		Price:       l.Price,
		Address:     l.Address,
		City:        l.City,
		Bedrooms:    l.Bedrooms,
		Bathrooms:   l.Bathrooms,
		Area:        l.Area,
		AgencyUUID:  s.optionalUUID(ctx, models.EntityAgency, l.AgencyID, nil),
	}

	taxonomies := make([]string, 0, len(l.Terms))
	for taxonomy := range l.Terms {
		taxonomies = append(taxonomies, taxonomy)
	}
	sort.Strings(taxonomies)
	for _, taxonomy := range taxonomies {
		uuid := s.optionalUUID(ctx, models.EntityTaxonomy, l.Terms[taxonomy], models.SubKey(taxonomy))
		if uuid == "" {
			continue
		}
		if p.Terms == nil {
			p.Terms = make(map[string]string)
		}
		p.Terms[taxonomy] = uuid
	}
	return p
}

func hashPayload(payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
