package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"propsync/internal/crm"
	"propsync/internal/domain"
	"propsync/internal/models"

	"github.com/rs/zerolog"
)

const maxSnapshotBytes = 4096

// CRM is the part of the CRM client the strategies use.
type CRM interface {
	Post(ctx context.Context, path string, data interface{}) *crm.Response
	Put(ctx context.Context, path string, data interface{}) *crm.Response
	Delete(ctx context.Context, path string) *crm.Response
	FindUUID(ctx context.Context, path, param, value string) (string, error)
}

// Mappings is the Entity Map as seen by the strategies.
type Mappings interface {
	GetRemoteUUID(ctx context.Context, entityType string, localID int64, subKey *string) (string, error)
	SaveMapping(ctx context.Context, localID int64, entityType, remoteUUID string, subKey *string, direction string, syncHash *string) error
	DeleteMapping(ctx context.Context, entityType string, localID int64, subKey *string) error
}

// Deps are the collaborators shared by every strategy.
type Deps struct {
	CRM      CRM
	Mappings Mappings
	Audit    domain.AuditLog
	Logger   *zerolog.Logger
}

type pusher struct {
	crm      CRM
	mappings Mappings
	audit    domain.AuditLog
	logger   *zerolog.Logger
	now      func() time.Time
}

func newPusher(deps Deps, component string) pusher {
	logger := deps.Logger.With().Str("component", component).Logger()
	return pusher{
		crm:      deps.CRM,
		mappings: deps.Mappings,
		audit:    deps.Audit,
		logger:   &logger,
		now:      time.Now,
	}
}

// pushRequest describes one upsert of a local record into the CRM.
type pushRequest struct {
	entityType string
	localID    int64
	subKey     *string
	collection string
	findPath   string
	findParam  string
	findValue  string
	payload    interface{}
	hash       *string
}

// push resolves the CRM uuid (mapping first, then natural key), updates or
// creates the remote record and refreshes the mapping.
func (p *pusher) push(ctx context.Context, req pushRequest) models.SyncResult {
	uuid, err := p.mappings.GetRemoteUUID(ctx, req.entityType, req.localID, req.subKey)
	if err != nil {
		return models.Failure(fmt.Sprintf("mapping lookup failed: %v", err))
	}

	if uuid == "" && req.findPath != "" && req.findValue != "" {
		uuid, err = p.crm.FindUUID(ctx, req.findPath, req.findParam, req.findValue)
		if err != nil {
			return models.Failure(err.Error())
		}
		if uuid != "" {
			p.logger.Info().
				Str("entity_type", req.entityType).
				Int64("local_id", req.localID).
				Str("remote_uuid", uuid).
				Msg("Linked to existing CRM record by natural key")
		}
	}

	var resp *crm.Response
	action := models.ActionCreate
	if uuid != "" {
		action = models.ActionUpdate
		resp = p.crm.Put(ctx, crm.ResourcePath(req.collection, uuid), req.payload)
		if resp.IsNotFound() {
			p.logger.Warn().
				Str("entity_type", req.entityType).
				Int64("local_id", req.localID).
				Str("remote_uuid", uuid).
				Msg("CRM record vanished, recreating")
			if err := p.mappings.DeleteMapping(ctx, req.entityType, req.localID, req.subKey); err != nil {
				p.logger.Error().Err(err).Msg("Failed to drop stale mapping")
			}
			uuid = ""
		}
	}
	if uuid == "" {
		action = models.ActionCreate
		resp = p.crm.Post(ctx, req.collection, req.payload)
	}

	p.record(ctx, req.entityType, req.localID, action, req.payload, resp)

	if !resp.IsSuccess() {
		return models.Failure(resp.Message())
	}
	if action == models.ActionCreate {
		uuid = resp.UUID()
		if uuid == "" {
			return models.Failure("crm response carried no uuid")
		}
	}

	result := models.SyncResult{Success: true, RemoteUUID: uuid, Action: action, MappingSaved: true}
	if err := p.mappings.SaveMapping(ctx, req.localID, req.entityType, uuid, req.subKey, models.DirectionPush, req.hash); err != nil {
		p.logger.Warn().Err(err).
			Str("entity_type", req.entityType).
			Int64("local_id", req.localID).
			Str("remote_uuid", uuid).
			Msg("pushed without mapping")
		result.MappingSaved = false
		result.Message = "pushed without mapping: " + err.Error()
	}
	return result
}

// remove deletes the CRM copy of a local record and its mapping. Unmapped
// records and records already gone from the CRM are not errors.
func (p *pusher) remove(ctx context.Context, entityType string, localID int64, subKey *string, collection string) models.SyncResult {
	uuid, err := p.mappings.GetRemoteUUID(ctx, entityType, localID, subKey)
	if err != nil {
		return models.Failure(fmt.Sprintf("mapping lookup failed: %v", err))
	}
	if uuid == "" {
		return models.SyncResult{Success: true, Skipped: true, Action: models.ActionDelete, Message: "not mapped"}
	}

	resp := p.crm.Delete(ctx, crm.ResourcePath(collection, uuid))
	p.record(ctx, entityType, localID, models.ActionDelete, nil, resp)
	if !resp.IsSuccess() && !resp.IsNotFound() {
		return models.Failure(resp.Message())
	}

	if err := p.mappings.DeleteMapping(ctx, entityType, localID, subKey); err != nil {
		p.logger.Warn().Err(err).Str("entity_type", entityType).Int64("local_id", localID).Msg("Failed to drop mapping after delete")
	}
	return models.SyncResult{Success: true, RemoteUUID: uuid, Action: models.ActionDelete}
}

func (p *pusher) record(ctx context.Context, entityType string, localID int64, action string, payload interface{}, resp *crm.Response) {
	if p.audit == nil {
		return
	}
	entry := &models.SyncLogEntry{
		EntityType: entityType,
		EntityID:   localID,
		Action:     action,
		Direction:  models.DirectionPush,
		Status:     models.LogSuccess,
		Response:   truncate(string(resp.Raw())),
		CreatedAt:  p.now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			entry.Request = truncate(string(raw))
		}
	}
	if !resp.IsSuccess() {
		entry.Status = models.LogFailed
		entry.ErrorMessage = resp.Message()
	}
	if err := p.audit.Record(ctx, entry); err != nil {
		p.logger.Error().Err(err).Str("entity_type", entityType).Int64("local_id", localID).Msg("Failed to write sync log")
	}
}

// optionalUUID looks up the CRM uuid of a related record, "" when unmapped.
func (p *pusher) optionalUUID(ctx context.Context, entityType string, localID int64, subKey *string) string {
	if localID <= 0 {
		return ""
	}
	uuid, err := p.mappings.GetRemoteUUID(ctx, entityType, localID, subKey)
	if err != nil {
		p.logger.Warn().Err(err).Str("entity_type", entityType).Int64("local_id", localID).Msg("Related mapping lookup failed")
		return ""
	}
	return uuid
}

func truncate(s string) string {
	if len(s) <= maxSnapshotBytes {
		return s
	}
	return s[:maxSnapshotBytes]
}
