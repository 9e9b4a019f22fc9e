package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"propsync/internal/config"
	"propsync/internal/domain"
	"propsync/internal/engine"
	"propsync/internal/events"
	"propsync/internal/models"
	"propsync/internal/service"
	"propsync/internal/webhook"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

type fakeEngine struct {
	startRes  *engine.StartResult
	startErr  error
	started   []string
	snapshots map[string]*models.Snapshot
	cancelErr error
	cleared   map[string]string
}

func (f *fakeEngine) Start(_ context.Context, syncType string, _ models.Options) (*engine.StartResult, error) {
	f.started = append(f.started, syncType)
	return f.startRes, f.startErr
}

func (f *fakeEngine) Get(_ context.Context, syncID string) (*models.Snapshot, error) {
	if s, ok := f.snapshots[syncID]; ok {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeEngine) Cancel(_ context.Context, _ string) error { return f.cancelErr }

func (f *fakeEngine) ListActive(context.Context) ([]models.Snapshot, error) {
	out := []models.Snapshot{}
	for _, s := range f.snapshots {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeEngine) ReconcileActive(context.Context) (*engine.JanitorReport, error) {
	return &engine.JanitorReport{Dropped: []string{"agencies"}, Failed: []string{}}, nil
}

func (f *fakeEngine) ForceClear(context.Context) (map[string]string, error) {
	return f.cleared, nil
}

type fakeWebhooks struct {
	result  models.WebhookResult
	err     error
	actions []string
}

func (f *fakeWebhooks) Process(_ context.Context, action string, _ models.WebhookPayload) (models.WebhookResult, error) {
	f.actions = append(f.actions, action)
	return f.result, f.err
}

type fakeMappings struct {
	cleared []string
}

func (f *fakeMappings) GetStats(context.Context) (map[string]int64, error) {
	return map[string]int64{models.EntityProperty: 3}, nil
}

func (f *fakeMappings) ClearType(_ context.Context, entityType string) (int64, error) {
	if !models.IsValidEntityType(entityType) {
		return 0, fmt.Errorf("%w: unknown entity type %q", service.ErrInvalidMapping, entityType)
	}
	f.cleared = append(f.cleared, entityType)
	return 2, nil
}

type fakeReports struct{ since time.Time }

func (f *fakeReports) WriteSyncReport(_ context.Context, w io.Writer, since time.Time, _ uint64) error {
	f.since = since
	_, err := w.Write([]byte("PK"))
	return err
}

type testServer struct {
	ts       *httptest.Server
	engine   *fakeEngine
	webhooks *fakeWebhooks
	mappings *fakeMappings
	reports  *fakeReports
	bus      *events.EventBus
}

func newTestServer(t *testing.T, cfg *config.APIConfig) *testServer {
	t.Helper()
	if cfg == nil {
		cfg = &config.APIConfig{
			Enabled: true,
			HTTP:    config.APIHTTPConfig{Enabled: true},
			Auth:    config.APIAuthConfig{Enabled: false},
		}
	}

	s := &testServer{
		engine:   &fakeEngine{snapshots: map[string]*models.Snapshot{}},
		webhooks: &fakeWebhooks{result: models.WebhookResult{Status: models.ResultCreated, LocalID: 9}},
		mappings: &fakeMappings{},
		reports:  &fakeReports{},
		bus:      events.NewEventBus(),
	}
	logger := zerolog.New(io.Discard)
	srv := NewHTTPServer(cfg, config.WebhookConfig{
		Secret:          testSecret,
		SecretHeader:    "X-Webhook-Secret",
		SignatureHeader: "X-Webhook-Signature",
		MaxBodyBytes:    1024,
	}, Deps{
		Engine:   s.engine,
		Webhooks: s.webhooks,
		Mappings: s.mappings,
		Events:   s.bus,
		Reports:  s.reports,
		Ready: map[string]ReadinessCheck{
			"database": func(context.Context) error { return nil },
		},
	}, &logger)

	s.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(s.ts.Close)
	return s
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, s.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func TestStartSync(t *testing.T) {
	t.Run("Accepted", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.engine.startRes = &engine.StartResult{SyncID: "sync_wp_users_1", Total: 3}

		resp, body := s.do(t, http.MethodPost, "/api/v1/syncs", `{"type":"wp_users"}`)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, "sync_wp_users_1", body["sync_id"])
		assert.EqualValues(t, 3, body["total"])
		assert.Equal(t, []string{"wp_users"}, s.engine.started)
	})

	t.Run("AlreadyRunning", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.engine.startRes = &engine.StartResult{SyncID: "sync_properties_1", AlreadyRunning: true}

		resp, body := s.do(t, http.MethodPost, "/api/v1/syncs", `{"type":"properties"}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "sync_properties_1", body["sync_id"])
		assert.Equal(t, true, body["already_running"])
	})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"NotConfigured", engine.ErrCRMNotConfigured, http.StatusPreconditionFailed},
		{"UnknownType", fmt.Errorf("%w: %q", engine.ErrUnknownSyncType, "media"), http.StatusUnprocessableEntity},
		{"NothingToSync", engine.ErrNothingToSync, http.StatusUnprocessableEntity},
		{"Internal", errors.New("redis down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.engine.startErr = tt.err
			resp, _ := s.do(t, http.MethodPost, "/api/v1/syncs", `{"type":"agencies"}`)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	t.Run("BadBody", func(t *testing.T) {
		s := newTestServer(t, nil)
		resp, _ := s.do(t, http.MethodPost, "/api/v1/syncs", `{"type":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, _ = s.do(t, http.MethodPost, "/api/v1/syncs", `{}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Empty(t, s.engine.started)
	})
}

func TestSyncQueries(t *testing.T) {
	s := newTestServer(t, nil)
	job := models.NewSyncJob("sync_agencies_1", models.SyncAgencies, 4, nil, time.Now())
	snap := job.Snapshot(time.Now())
	s.engine.snapshots["sync_agencies_1"] = &snap
	s.engine.cleared = map[string]string{models.SyncAgencies: "sync_agencies_1"}

	resp, body := s.do(t, http.MethodGet, "/api/v1/syncs/sync_agencies_1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sync_agencies_1", body["sync_id"])
	assert.Equal(t, models.JobPending, body["status"])

	resp, _ = s.do(t, http.MethodGet, "/api/v1/syncs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/v1/syncs/active", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["syncs"], 1)

	resp, body = s.do(t, http.MethodPost, "/api/v1/syncs/force-clear", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"agencies": "sync_agencies_1"}, body["cleared"])

	resp, body = s.do(t, http.MethodPost, "/api/v1/syncs/janitor", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"agencies"}, body["dropped"])
}

func TestCancelSync(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, http.MethodPost, "/api/v1/syncs/sync_x/cancel", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.JobCancelled, body["status"])

	s.engine.cancelErr = fmt.Errorf("cancel: %w", domain.ErrNotFound)
	resp, _ = s.do(t, http.MethodPost, "/api/v1/syncs/sync_x/cancel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	s.engine.cancelErr = engine.ErrNotCancellable
	resp, _ = s.do(t, http.MethodPost, "/api/v1/syncs/sync_x/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMappingsRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, http.MethodGet, "/api/v1/mappings/stats", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"property": float64(3)}, body["stats"])

	resp, body = s.do(t, http.MethodDelete, "/api/v1/mappings/wp_user", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["deleted"])
	assert.Equal(t, []string{"wp_user"}, s.mappings.cleared)

	resp, _ = s.do(t, http.MethodDelete, "/api/v1/mappings/planet", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLocalEvents(t *testing.T) {
	s := newTestServer(t, nil)

	var got []*events.Event
	s.bus.Subscribe(events.EventEntitySaved, func(_ context.Context, e *events.Event) error {
		got = append(got, e)
		return nil
	})

	resp, _ := s.do(t, http.MethodPost, "/api/v1/events",
		`{"event":"entity.saved","entity_type":"taxonomy","local_id":5,"sub_key":"property_type"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, got, 1)
	assert.Equal(t, events.OriginLocal, got[0].Origin)
	var p events.EntityPayload
	require.NoError(t, got[0].Decode(&p))
	assert.Equal(t, events.EntityPayload{EntityType: models.EntityTaxonomy, LocalID: 5, SubKey: "property_type"}, p)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/events", `{"event":"entity.renamed","entity_type":"property","local_id":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/events", `{"event":"entity.saved","entity_type":"property"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, got, 1)
}

func TestSyncReport(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := s.do(t, http.MethodGet, "/api/v1/reports/sync-log.xlsx?since=2025-01-02T00:00:00Z", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), s.reports.since.UTC())

	resp, _ = s.do(t, http.MethodGet, "/api/v1/reports/sync-log.xlsx?days=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReportSince(t *testing.T) {
	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	r := httptest.NewRequest(http.MethodGet, "/x", http.NoBody)
	since, err := reportSince(r, now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -defaultReportDays), since)

	r = httptest.NewRequest(http.MethodGet, "/x?days=30", http.NoBody)
	since, err = reportSince(r, now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -30), since)

	r = httptest.NewRequest(http.MethodGet, "/x?since=yesterday", http.NoBody)
	_, err = reportSince(r, now)
	assert.Error(t, err)
}

func TestWebhook(t *testing.T) {
	body := `{"action":"listing.created","uuid":"L1","data":{"title":"Flat"}}`

	t.Run("SecretHeader", func(t *testing.T) {
		s := newTestServer(t, nil)
		resp, out := s.do(t, http.MethodPost, "/api/v1/webhooks/crm", body, "X-Webhook-Secret", testSecret)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, out["success"])
		assert.Equal(t, []string{"listing.created"}, s.webhooks.actions)
	})

	t.Run("Signature", func(t *testing.T) {
		s := newTestServer(t, nil)
		sig := "sha256=" + hex.EncodeToString(Sign([]byte(testSecret), []byte(body)))
		resp, _ := s.do(t, http.MethodPost, "/api/v1/webhooks/crm", body, "X-Webhook-Signature", sig)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Unauthorized", func(t *testing.T) {
		s := newTestServer(t, nil)
		resp, _ := s.do(t, http.MethodPost, "/api/v1/webhooks/crm", body)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp, _ = s.do(t, http.MethodPost, "/api/v1/webhooks/crm", body, "X-Webhook-Secret", "nope")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		sig := "sha256=" + hex.EncodeToString(Sign([]byte("other"), []byte(body)))
		resp, _ = s.do(t, http.MethodPost, "/api/v1/webhooks/crm", body, "X-Webhook-Signature", sig)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Empty(t, s.webhooks.actions)
	})

	t.Run("BypassesAPIKeyAuth", func(t *testing.T) {
		cfg := &config.APIConfig{
			Enabled: true,
			HTTP:    config.APIHTTPConfig{Enabled: true},
			Auth: config.APIAuthConfig{
				Enabled: true,
				APIKeys: []config.APIClientKey{{Key: "k", Extra: "e"}},
			},
		}
		s := newTestServer(t, cfg)
		resp, _ := s.do(t, http.MethodPost, "/api/v1/webhooks/crm", body, "X-Webhook-Secret", testSecret)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Malformed", func(t *testing.T) {
		s := newTestServer(t, nil)
		resp, _ := s.do(t, http.MethodPost, "/api/v1/webhooks/crm", `{"action":`, "X-Webhook-Secret", testSecret)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, _ = s.do(t, http.MethodPost, "/api/v1/webhooks/crm", `{"uuid":"x"}`, "X-Webhook-Secret", testSecret)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("TooLarge", func(t *testing.T) {
		s := newTestServer(t, nil)
		big := `{"action":"listing.created","uuid":"L1","data":{"title":"` + strings.Repeat("x", 2048) + `"}}`
		resp, _ := s.do(t, http.MethodPost, "/api/v1/webhooks/crm", big, "X-Webhook-Secret", testSecret)
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})

	errCases := []struct {
		name string
		err  error
		want int
	}{
		{"Unsupported", fmt.Errorf("%w: %q", webhook.ErrUnsupportedAction, "media.created"), http.StatusBadRequest},
		{"Invalid", fmt.Errorf("%w: uuid is required", webhook.ErrInvalidPayload), http.StatusBadRequest},
		{"Processing", errors.New("database is locked"), http.StatusInternalServerError},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.webhooks.err = tt.err
			resp, _ := s.do(t, http.MethodPost, "/api/v1/webhooks/crm", body, "X-Webhook-Secret", testSecret)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAuth(t *testing.T) {
	cfg := &config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: "reader", Extra: "r-extra", Permissions: []string{permReadSync}},
				{Key: "admin", Extra: "a-extra"},
			},
		},
	}
	s := newTestServer(t, cfg)

	resp, _ := s.do(t, http.MethodGet, "/api/v1/syncs/active", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/syncs/active", "", "x-api-key", "wrong", "x-api-extra", "r-extra")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/syncs/active", "", "x-api-key", "reader", "x-api-extra", "bad")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/syncs/active", "", "x-api-key", "reader", "x-api-extra", "r-extra")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/syncs/force-clear", "", "x-api-key", "reader", "x-api-extra", "r-extra")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/syncs/force-clear", "", "x-api-key", "admin", "x-api-extra", "a-extra")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	cfg := &config.APIConfig{
		Enabled:   true,
		HTTP:      config.APIHTTPConfig{Enabled: true},
		RateLimit: config.APIRateLimitConfig{RPS: 1, Burst: 1},
	}
	s := newTestServer(t, cfg)

	resp, _ := s.do(t, http.MethodGet, "/api/v1/mappings/stats", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/mappings/stats", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := s.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ready"])

	logger := zerolog.New(io.Discard)
	failing := NewHTTPServer(&config.APIConfig{}, config.WebhookConfig{}, Deps{
		Ready: map[string]ReadinessCheck{
			"database": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		},
	}, &logger)
	rec := httptest.NewRecorder()
	failing.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestUnavailableDeps(t *testing.T) {
	logger := zerolog.New(io.Discard)
	srv := NewHTTPServer(&config.APIConfig{}, config.WebhookConfig{Secret: testSecret}, Deps{}, &logger)

	for _, path := range []string{"/api/v1/syncs/active", "/api/v1/mappings/stats"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := s.do(t, http.MethodOptions, "/api/v1/syncs", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHTTPServer_ShutdownUnstarted(t *testing.T) {
	logger := zerolog.New(io.Discard)
	srv := NewHTTPServer(&config.APIConfig{}, config.WebhookConfig{}, Deps{}, &logger)
	assert.NoError(t, srv.Shutdown(context.Background()))
}
