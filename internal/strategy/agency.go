package strategy

import (
	"context"
	"fmt"

	"propsync/internal/crm"
	"propsync/internal/domain"
	"propsync/internal/models"
)

type agencyPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Website string `json:"website,omitempty"`
}

// AgencyStrategy pushes agencies.
type AgencyStrategy struct {
	store domain.AgencyStore
	pusher
}

func NewAgencyStrategy(store domain.AgencyStore, deps Deps) *AgencyStrategy {
	return &AgencyStrategy{store: store, pusher: newPusher(deps, "agency_strategy")}
}

func (s *AgencyStrategy) Type() string       { return models.SyncAgencies }
func (s *AgencyStrategy) EntityType() string { return models.EntityAgency }

func (s *AgencyStrategy) Count(ctx context.Context, _ models.Options) (int, error) {
	return s.store.CountAgencies(ctx)
}

func (s *AgencyStrategy) List(ctx context.Context, offset, limit int, _ models.Options) ([]models.ListItem, error) {
	return s.store.ListAgencies(ctx, offset, limit)
}

func (s *AgencyStrategy) SyncOne(ctx context.Context, localID int64, _ models.Options) models.SyncResult {
	agency, err := s.store.GetAgency(ctx, localID)
	if err != nil {
		return models.Failure(fmt.Sprintf("load agency %d: %v", localID, err))
	}
	if agency == nil {
		return models.Failure(fmt.Sprintf("agency %d not found", localID))
	}

	return s.push(ctx, pushRequest{
		entityType: models.EntityAgency,
		localID:    agency.ID,
		collection: crm.PathAgencies,
		findPath:   crm.PathAgencies + "/find-by-name",
		findParam:  "name",
		findValue:  agency.Name,
		payload: agencyPayload{
			Name:    agency.Name,
			Email:   agency.Email,
			Phone:   agency.Phone,
			Website: agency.Website,
		},
	})
}

func (s *AgencyStrategy) DeleteOne(ctx context.Context, localID int64, _ *string) models.SyncResult {
	return s.remove(ctx, models.EntityAgency, localID, nil, crm.PathAgencies)
}
