package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"propsync/internal/domain"
	"propsync/internal/events"
	"propsync/internal/metrics"
	"propsync/internal/models"

	"github.com/rs/zerolog"
)

var (
	ErrUnsupportedAction = errors.New("unsupported webhook action")
	ErrInvalidPayload    = errors.New("invalid webhook payload")
)

// Mappings is the Entity Map as used by the reconciler.
type Mappings interface {
	GetLocalID(ctx context.Context, remoteUUID, entityType string) (int64, error)
	SaveMapping(ctx context.Context, localID int64, entityType, remoteUUID string, subKey *string, direction string, syncHash *string) error
	DeleteMappingsForEntity(ctx context.Context, entityType string, localID int64) (int64, error)
}

type handler func(ctx context.Context, p models.WebhookPayload) (models.WebhookResult, error)

// Reconciler applies CRM change events to the Local Store. Every mutation
// runs under a webhook origin so outbound auto-sync ignores it.
type Reconciler struct {
	store    domain.LocalStore
	mappings Mappings
	audit    domain.AuditLog
	handlers map[string]handler
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewReconciler(store domain.LocalStore, mappings Mappings, audit domain.AuditLog, logger *zerolog.Logger) *Reconciler {
	l := logger.With().Str("component", "webhook_reconciler").Logger()
	r := &Reconciler{
		store:    store,
		mappings: mappings,
		audit:    audit,
		logger:   &l,
		now:      time.Now,
	}
	r.handlers = map[string]handler{
		models.WebhookListingCreated:       r.upsertListing(true),
		models.WebhookListingUpdated:       r.upsertListing(false),
		models.WebhookListingDeleted:       r.deleteListing,
		models.WebhookListingStatusChanged: r.listingStatusChanged,
		models.WebhookTaxonomyCreated:      r.upsertTerm(true),
		models.WebhookTaxonomyUpdated:      r.upsertTerm(false),
		models.WebhookTaxonomyDeleted:      r.deleteTerm,
		models.WebhookUserCreated:          r.upsertUser(true),
		models.WebhookUserUpdated:          r.upsertUser(false),
		models.WebhookUserDeleted:          r.deleteUser,
	}
	return r
}

// Supports reports whether action has a handler.
func (r *Reconciler) Supports(action string) bool {
	_, ok := r.handlers[action]
	return ok
}

// Process applies one webhook event.
func (r *Reconciler) Process(ctx context.Context, action string, payload models.WebhookPayload) (models.WebhookResult, error) {
	h, ok := r.handlers[action]
	if !ok {
		metrics.IncWebhook(action, "unsupported")
		return models.WebhookResult{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, action)
	}
	if payload.UUID == "" {
		metrics.IncWebhook(action, "invalid")
		return models.WebhookResult{}, fmt.Errorf("%w: uuid is required", ErrInvalidPayload)
	}

	ctx = events.WithOrigin(ctx, events.OriginWebhook)
	result, err := h(ctx, payload)

	outcome := result.Status
	if err != nil {
		outcome = "error"
		if errors.Is(err, ErrInvalidPayload) {
			outcome = "invalid"
		}
	}
	metrics.IncWebhook(action, outcome)
	r.record(ctx, action, payload, result, err)

	event := r.logger.Info()
	if err != nil {
		event = r.logger.Error().Err(err)
	}
	event.
		Str("action", action).
		Str("remote_uuid", payload.UUID).
		Str("result", result.Status).
		Int64("local_id", result.LocalID).
		Msg("Webhook processed")
	return result, err
}

func (r *Reconciler) record(ctx context.Context, action string, p models.WebhookPayload, result models.WebhookResult, procErr error) {
	if r.audit == nil {
		return
	}
	entry := &models.SyncLogEntry{
		EntityType: entityTypeOf(action),
		EntityID:   result.LocalID,
		Action:     logActionOf(action),
		Direction:  models.DirectionWebhook,
		Status:     models.LogSuccess,
		Request:    string(p.Data),
		Response:   result.Status,
		CreatedAt:  r.now().UTC(),
	}
	if procErr != nil {
		entry.Status = models.LogFailed
		entry.ErrorMessage = procErr.Error()
	}
	if err := r.audit.Record(ctx, entry); err != nil {
		r.logger.Error().Err(err).Str("action", action).Msg("Failed to write sync log")
	}
}

func (r *Reconciler) saveMapping(ctx context.Context, localID int64, entityType, uuid string, subKey *string) {
	if err := r.mappings.SaveMapping(ctx, localID, entityType, uuid, subKey, models.DirectionWebhook, nil); err != nil {
		r.logger.Warn().Err(err).
			Str("entity_type", entityType).
			Int64("local_id", localID).
			Str("remote_uuid", uuid).
			Msg("Applied webhook without mapping")
	}
}

func (r *Reconciler) dropMappings(ctx context.Context, entityType string, localID int64) {
	if _, err := r.mappings.DeleteMappingsForEntity(ctx, entityType, localID); err != nil {
		r.logger.Warn().Err(err).Str("entity_type", entityType).Int64("local_id", localID).Msg("Failed to drop mappings")
	}
}

func decode(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: data is required", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func skipped(localID int64, msg string) models.WebhookResult {
	return models.WebhookResult{Status: models.ResultSkipped, LocalID: localID, Message: msg}
}

func entityTypeOf(action string) string {
	switch {
	case strings.HasPrefix(action, "listing."):
		return models.EntityProperty
	case strings.HasPrefix(action, "taxonomy."):
		return models.EntityTaxonomy
	case strings.HasPrefix(action, "user."):
		return models.EntityUser
	}
	return ""
}

func logActionOf(action string) string {
	switch {
	case strings.HasSuffix(action, ".created"):
		return models.ActionCreate
	case strings.HasSuffix(action, ".deleted"):
		return models.ActionDelete
	}
	return models.ActionUpdate
}
