package strategy

import (
	"context"
	"fmt"

	"propsync/internal/crm"
	"propsync/internal/domain"
	"propsync/internal/models"
)

type userPayload struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role,omitempty"`
}

// UserStrategy pushes site users.
type UserStrategy struct {
	store domain.UserStore
	pusher
}

func NewUserStrategy(store domain.UserStore, deps Deps) *UserStrategy {
	return &UserStrategy{store: store, pusher: newPusher(deps, "user_strategy")}
}

func (s *UserStrategy) Type() string       { return models.SyncUsers }
func (s *UserStrategy) EntityType() string { return models.EntityUser }

func (s *UserStrategy) Count(ctx context.Context, _ models.Options) (int, error) {
	return s.store.CountUsers(ctx)
}

func (s *UserStrategy) List(ctx context.Context, offset, limit int, _ models.Options) ([]models.ListItem, error) {
	return s.store.ListUsers(ctx, offset, limit)
}

func (s *UserStrategy) SyncOne(ctx context.Context, localID int64, _ models.Options) models.SyncResult {
	user, err := s.store.GetUser(ctx, localID)
	if err != nil {
		return models.Failure(fmt.Sprintf("load user %d: %v", localID, err))
	}
	if user == nil {
		return models.Failure(fmt.Sprintf("user %d not found", localID))
	}
	if user.Email == "" {
		return models.Failure("validation failed: email required")
	}

	return s.push(ctx, pushRequest{
		entityType: models.EntityUser,
		localID:    user.ID,
		collection: crm.PathUsers,
		findPath:   crm.PathUsers + "/find-by-email",
		findParam:  "email",
		findValue:  user.Email,
		payload: userPayload{
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Phone:     user.Phone,
			Role:      user.Role,
		},
	})
}

func (s *UserStrategy) DeleteOne(ctx context.Context, localID int64, _ *string) models.SyncResult {
	return s.remove(ctx, models.EntityUser, localID, nil, crm.PathUsers)
}
