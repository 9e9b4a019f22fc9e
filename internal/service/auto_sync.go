package service

import (
	"context"
	"fmt"

	"propsync/internal/domain"
	"propsync/internal/events"
	"propsync/internal/models"

	"github.com/rs/zerolog"
)

// StrategyLookup finds the strategy that pushes one entity type.
type StrategyLookup interface {
	ForEntity(entityType string) (domain.Strategy, bool)
}

// AutoSync pushes single records to the CRM when the content system
// reports a save or delete. Changes applied by the webhook reconciler are
// ignored so they are not echoed back.
type AutoSync struct {
	strategies StrategyLookup
	mappings   *EntityMap
	logger     *zerolog.Logger
}

func NewAutoSync(strategies StrategyLookup, mappings *EntityMap, logger *zerolog.Logger) *AutoSync {
	return &AutoSync{strategies: strategies, mappings: mappings, logger: logger}
}

// Register subscribes the handlers on bus.
func (a *AutoSync) Register(bus *events.EventBus) {
	bus.Subscribe(events.EventEntitySaved, a.HandleSaved)
	bus.Subscribe(events.EventEntityDeleted, a.HandleDeleted)
}

func (a *AutoSync) HandleSaved(ctx context.Context, event *events.Event) error {
	payload, strategy, ok, err := a.resolve(event)
	if err != nil || !ok {
		return err
	}

	if hasher, ok := strategy.(domain.Hasher); ok {
		hash, err := hasher.Hash(ctx, payload.LocalID)
		if err != nil {
			return fmt.Errorf("hash %s %d: %w", payload.EntityType, payload.LocalID, err)
		}
		unchanged, err := a.mappings.Unchanged(ctx, payload.EntityType, payload.LocalID, models.SubKey(payload.SubKey), hash)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Failed to read sync hash, pushing anyway")
		} else if unchanged {
			a.logger.Debug().
				Str("entity_type", payload.EntityType).
				Int64("local_id", payload.LocalID).
				Msg("Content unchanged, skipping push")
			return nil
		}
	}

	opts := models.Options{}
	if payload.SubKey != "" && payload.EntityType == models.EntityTaxonomy {
		opts["taxonomy"] = payload.SubKey
	}
	ctx = events.WithOrigin(ctx, events.OriginSync)
	return a.report(payload, "push", strategy.SyncOne(ctx, payload.LocalID, opts))
}

func (a *AutoSync) HandleDeleted(ctx context.Context, event *events.Event) error {
	payload, strategy, ok, err := a.resolve(event)
	if err != nil || !ok {
		return err
	}
	deleter, ok := strategy.(domain.Deleter)
	if !ok {
		return nil
	}
	ctx = events.WithOrigin(ctx, events.OriginSync)
	return a.report(payload, "delete", deleter.DeleteOne(ctx, payload.LocalID, models.SubKey(payload.SubKey)))
}

func (a *AutoSync) resolve(event *events.Event) (events.EntityPayload, domain.Strategy, bool, error) {
	var payload events.EntityPayload
	if event.Origin == events.OriginWebhook || event.Origin == events.OriginSync {
		return payload, nil, false, nil
	}
	if err := event.Decode(&payload); err != nil {
		return payload, nil, false, fmt.Errorf("decode %s event: %w", event.Type, err)
	}
	strategy, ok := a.strategies.ForEntity(payload.EntityType)
	if !ok {
		return payload, nil, false, nil
	}
	return payload, strategy, true, nil
}

func (a *AutoSync) report(payload events.EntityPayload, op string, result models.SyncResult) error {
	if !result.Success {
		return fmt.Errorf("auto %s %s %d: %s", op, payload.EntityType, payload.LocalID, result.Message)
	}
	a.logger.Info().
		Str("entity_type", payload.EntityType).
		Int64("local_id", payload.LocalID).
		Str("remote_uuid", result.RemoteUUID).
		Str("action", result.Action).
		Bool("skipped", result.Skipped).
		Msgf("Auto %s finished", op)
	return nil
}
