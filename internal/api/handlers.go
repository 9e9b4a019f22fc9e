package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"propsync/internal/domain"
	"propsync/internal/engine"
	"propsync/internal/events"
	"propsync/internal/models"
	"propsync/internal/service"
)

const defaultReportDays = 7

type startSyncRequest struct {
	Type    string         `json:"type"`
	Options models.Options `json:"options"`
}

func (s *HTTPServer) handleStartSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "sync engine is not available")
		return
	}

	var body startSyncRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	body.Type = strings.TrimSpace(body.Type)
	if body.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	res, err := s.deps.Engine.Start(r.Context(), body.Type, body.Options)
	switch {
	case errors.Is(err, engine.ErrCRMNotConfigured):
		writeError(w, http.StatusPreconditionFailed, err.Error())
		return
	case errors.Is(err, engine.ErrUnknownSyncType), errors.Is(err, engine.ErrNothingToSync):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.logger.Error().Err(err).Str("type", body.Type).Msg("Failed to start sync")
		writeError(w, http.StatusInternalServerError, "failed to start sync")
		return
	}

	if res.AlreadyRunning {
		writeJSON(w, http.StatusConflict, map[string]any{
			"sync_id":         res.SyncID,
			"already_running": true,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"sync_id": res.SyncID,
		"total":   res.Total,
	})
}

func (s *HTTPServer) handleGetSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "sync engine is not available")
		return
	}

	snap, err := s.deps.Engine.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "sync not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleCancelSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "sync engine is not available")
		return
	}

	syncID := r.PathValue("id")
	err := s.deps.Engine.Cancel(r.Context(), syncID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "sync not found")
	case errors.Is(err, engine.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"sync_id": syncID, "status": models.JobCancelled})
	}
}

func (s *HTTPServer) handleActiveSyncs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "sync engine is not available")
		return
	}

	active, err := s.deps.Engine.ListActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"syncs": active})
}

func (s *HTTPServer) handleForceClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "sync engine is not available")
		return
	}

	cleared, err := s.deps.Engine.ForceClear(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Warn().Int("cleared", len(cleared)).Msg("Active syncs force-cleared")
	writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

func (s *HTTPServer) handleJanitor(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "sync engine is not available")
		return
	}

	report, err := s.deps.Engine.ReconcileActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleMappingStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Mappings == nil {
		writeError(w, http.StatusServiceUnavailable, "entity map is not available")
		return
	}

	stats, err := s.deps.Mappings.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *HTTPServer) handleClearMappings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Mappings == nil {
		writeError(w, http.StatusServiceUnavailable, "entity map is not available")
		return
	}

	entityType := r.PathValue("entity_type")
	n, err := s.deps.Mappings.ClearType(r.Context(), entityType)
	if errors.Is(err, service.ErrInvalidMapping) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity_type": entityType, "deleted": n})
}

type localEventRequest struct {
	Event      string `json:"event"`
	EntityType string `json:"entity_type"`
	LocalID    int64  `json:"local_id"`
	SubKey     string `json:"sub_key"`
}

// handleLocalEvent accepts lifecycle notifications from the content system
// and feeds them to the in-process bus as local changes.
func (s *HTTPServer) handleLocalEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "auto sync is disabled")
		return
	}

	var body localEventRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Event != events.EventEntitySaved && body.Event != events.EventEntityDeleted {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported event %q", body.Event))
		return
	}
	if !models.IsValidEntityType(body.EntityType) || body.LocalID <= 0 {
		writeError(w, http.StatusBadRequest, "entity_type and local_id are required")
		return
	}

	ctx := events.WithOrigin(r.Context(), events.OriginLocal)
	err := s.deps.Events.PublishJSON(ctx, body.Event, events.EntityPayload{
		EntityType: body.EntityType,
		LocalID:    body.LocalID,
		SubKey:     body.SubKey,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *HTTPServer) handleSyncReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeError(w, http.StatusServiceUnavailable, "reports are not available")
		return
	}

	since, err := reportSince(r, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="sync-log.xlsx"`)
	if err := s.deps.Reports.WriteSyncReport(r.Context(), w, since, 0); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write sync report")
		w.Header().Del("Content-Disposition")
		writeError(w, http.StatusInternalServerError, "failed to build report")
	}
}

// reportSince reads ?since=RFC3339 or ?days=N, defaulting to the last week.
func reportSince(r *http.Request, now time.Time) (time.Time, error) {
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, errors.New("invalid since; expected RFC3339")
		}
		return t, nil
	}

	days := defaultReportDays
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return time.Time{}, errors.New("days must be a positive integer")
		}
		days = n
	}
	return now.AddDate(0, 0, -days), nil
}

func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}
