package webhook

import (
	"context"
	"fmt"

	"propsync/internal/models"
)

func (r *Reconciler) upsertUser(createOnly bool) handler {
	return func(ctx context.Context, p models.WebhookPayload) (models.WebhookResult, error) {
		var data models.UserData
		if err := decode(p.Data, &data); err != nil {
			return models.WebhookResult{}, err
		}

		user, err := r.mappedUser(ctx, p.UUID)
		if err != nil {
			return models.WebhookResult{}, err
		}
		if user != nil && createOnly {
			return skipped(user.ID, "user already exists"), nil
		}
		if user == nil && data.Email != "" {
			if user, err = r.store.FindUserByEmail(ctx, data.Email); err != nil {
				return models.WebhookResult{}, err
			}
		}

		status := models.ResultUpdated
		if user == nil {
			if data.Email == "" {
				return models.WebhookResult{}, fmt.Errorf("%w: email is required", ErrInvalidPayload)
			}
			user = &models.User{}
			status = models.ResultCreated
		}
		if data.Email != "" {
			user.Email = data.Email
		}
		user.FirstName = data.FirstName
		user.LastName = data.LastName
		user.Phone = data.Phone
		switch {
		case data.Role == "" || user.IsAdmin():
		case data.Role == models.RoleAdministrator:
			r.logger.Warn().Str("uuid", p.UUID).Str("email", user.Email).Msg("Webhook asked for administrator role, ignored")
		default:
			user.Role = data.Role
		}

		if status == models.ResultCreated {
			err = r.store.CreateUser(ctx, user)
		} else {
			err = r.store.UpdateUser(ctx, user)
		}
		if err != nil {
			return models.WebhookResult{}, err
		}
		r.saveMapping(ctx, user.ID, models.EntityUser, p.UUID, nil)
		return models.WebhookResult{Status: status, LocalID: user.ID}, nil
	}
}

func (r *Reconciler) deleteUser(ctx context.Context, p models.WebhookPayload) (models.WebhookResult, error) {
	user, err := r.mappedUser(ctx, p.UUID)
	if err != nil {
		return models.WebhookResult{}, err
	}
	if user == nil {
		return skipped(0, "user not mapped"), nil
	}
	if user.IsAdmin() {
		return skipped(user.ID, "administrators are never deleted by webhook"), nil
	}
	if err := r.store.DeleteUser(ctx, user.ID); err != nil {
		return models.WebhookResult{}, err
	}
	r.dropMappings(ctx, models.EntityUser, user.ID)
	return models.WebhookResult{Status: models.ResultDeleted, LocalID: user.ID}, nil
}

func (r *Reconciler) mappedUser(ctx context.Context, uuid string) (*models.User, error) {
	localID, err := r.mappings.GetLocalID(ctx, uuid, models.EntityUser)
	if err != nil || localID == 0 {
		return nil, err
	}
	return r.store.GetUser(ctx, localID)
}
