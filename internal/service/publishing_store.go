package service

import (
	"context"

	"propsync/internal/domain"
	"propsync/internal/events"
	"propsync/internal/models"

	"github.com/rs/zerolog"
)

// PublishingStore emits lifecycle events for every mutation of the wrapped
// Local Store. Events carry the origin found in the mutation's context.
type PublishingStore struct {
	domain.LocalStore
	publisher domain.EventPublisher
	logger    *zerolog.Logger
}

func NewPublishingStore(store domain.LocalStore, publisher domain.EventPublisher, logger *zerolog.Logger) *PublishingStore {
	return &PublishingStore{LocalStore: store, publisher: publisher, logger: logger}
}

func (s *PublishingStore) publish(ctx context.Context, eventType, entityType string, localID int64, subKey string) {
	payload := events.EntityPayload{EntityType: entityType, LocalID: localID, SubKey: subKey}
	if err := s.publisher.PublishJSON(ctx, eventType, payload); err != nil {
		s.logger.Error().Err(err).
			Str("event", eventType).
			Str("entity_type", entityType).
			Int64("local_id", localID).
			Msg("Failed to publish entity event")
	}
}

func (s *PublishingStore) CreateListing(ctx context.Context, l *models.Listing) error {
	if err := s.LocalStore.CreateListing(ctx, l); err != nil {
		return err
	}
	s.publish(ctx, events.EventEntitySaved, models.EntityProperty, l.ID, "")
	return nil
}

func (s *PublishingStore) UpdateListing(ctx context.Context, l *models.Listing) error {
	if err := s.LocalStore.UpdateListing(ctx, l); err != nil {
		return err
	}
	s.publish(ctx, events.EventEntitySaved, models.EntityProperty, l.ID, "")
	return nil
}

func (s *PublishingStore) TrashListing(ctx context.Context, id int64) error {
	if err := s.LocalStore.TrashListing(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, events.EventEntityDeleted, models.EntityProperty, id, "")
	return nil
}

func (s *PublishingStore) SetListingTerm(ctx context.Context, listingID int64, taxonomy string, termID int64) error {
	if err := s.LocalStore.SetListingTerm(ctx, listingID, taxonomy, termID); err != nil {
		return err
	}
	s.publish(ctx, events.EventEntitySaved, models.EntityProperty, listingID, "")
	return nil
}

func (s *PublishingStore) CreateTerm(ctx context.Context, t *models.Term) error {
	if err := s.LocalStore.CreateTerm(ctx, t); err != nil {
		return err
	}
	s.publish(ctx, events.EventEntitySaved, models.EntityTaxonomy, t.ID, t.Taxonomy)
	return nil
}

func (s *PublishingStore) UpdateTerm(ctx context.Context, t *models.Term) error {
	if err := s.LocalStore.UpdateTerm(ctx, t); err != nil {
		return err
	}
	s.publish(ctx, events.EventEntitySaved, models.EntityTaxonomy, t.ID, t.Taxonomy)
	return nil
}

func (s *PublishingStore) DeleteTerm(ctx context.Context, id int64) error {
	term, err := s.LocalStore.GetTerm(ctx, id)
	if err != nil {
		return err
	}
	if err := s.LocalStore.DeleteTerm(ctx, id); err != nil {
		return err
	}
	taxonomy := ""
	if term != nil {
		taxonomy = term.Taxonomy
	}
	s.publish(ctx, events.EventEntityDeleted, models.EntityTaxonomy, id, taxonomy)
	return nil
}

func (s *PublishingStore) CreateAgency(ctx context.Context, a *models.Agency) error {
	if err := s.LocalStore.CreateAgency(ctx, a); err != nil {
		return err
	}
	s.publish(ctx, events.EventEntitySaved, models.EntityAgency, a.ID, "")
	return nil
}

func (s *PublishingStore) UpdateAgency(ctx context.Context, a *models.Agency) error {
	if err := s.LocalStore.UpdateAgency(ctx, a); err != nil {
		return err
	}
	s.publish(ctx, events.EventEntitySaved, models.EntityAgency, a.ID, "")
	return nil
}

func (s *PublishingStore) DeleteAgency(ctx context.Context, id int64) error {
	if err := s.LocalStore.DeleteAgency(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, events.EventEntityDeleted, models.EntityAgency, id, "")
	return nil
}

func (s *PublishingStore) CreateUser(ctx context.Context, u *models.User) error {
	if err := s.LocalStore.CreateUser(ctx, u); err != nil {
		return err
	}
	s.publish(ctx, events.EventEntitySaved, models.EntityUser, u.ID, "")
	return nil
}

func (s *PublishingStore) UpdateUser(ctx context.Context, u *models.User) error {
	if err := s.LocalStore.UpdateUser(ctx, u); err != nil {
		return err
	}
	s.publish(ctx, events.EventEntitySaved, models.EntityUser, u.ID, "")
	return nil
}

func (s *PublishingStore) DeleteUser(ctx context.Context, id int64) error {
	if err := s.LocalStore.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, events.EventEntityDeleted, models.EntityUser, id, "")
	return nil
}
