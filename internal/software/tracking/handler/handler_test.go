package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/domain/geo"
	"fleet-tracker/internal/domain/user"
	"fleet-tracker/internal/general/jwt"
	"fleet-tracker/internal/general/logger"
	"fleet-tracker/internal/software/tracking/service"
)

type fixture struct {
	svc *service.TrackingService
	mgr *jwt.Manager
	mux *http.ServeMux
}

func newFixture(t *testing.T, devTokens bool) *fixture {
	t.Helper()
	mgr, err := jwt.NewManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc := service.NewTrackingService(logger.Discard(), service.Config{PathCapacity: 8})
	t.Cleanup(svc.Close)

	mux := http.NewServeMux()
	NewTrackingHTTPHandler(svc, logger.Discard(), mgr, nil, devTokens).RegisterRoutes(mux)
	return &fixture{svc: svc, mgr: mgr, mux: mux}
}

func (f *fixture) do(t *testing.T, method, path string, role user.Role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if role != "" {
		token, _, err := f.mgr.IssueToken("tester", role)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestListEntitiesFiltersByStatus(t *testing.T) {
	f := newFixture(t, false)
	f.svc.Store().ApplyUpdate("b", geo.Position{Lat: 1, Lon: 1})
	f.svc.Store().ApplyUpdate("a", geo.Position{Lat: 2, Lon: 2})
	f.svc.Presence().SetStatus("b", fleet.StatusBusy)

	rec := f.do(t, http.MethodGet, "/entities", user.RoleViewer, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	all := decode[struct {
		Entities []EntityResponse `json:"entities"`
		Version  uint64           `json:"version"`
	}](t, rec)
	if len(all.Entities) != 2 || all.Entities[0].ID != "a" || all.Entities[1].Status != fleet.StatusBusy {
		t.Fatalf("unexpected list %+v", all)
	}
	if all.Version != 2 {
		t.Fatalf("expected version 2, got %d", all.Version)
	}

	rec = f.do(t, http.MethodGet, "/entities?status=busy", user.RoleAdmin, "")
	busy := decode[struct {
		Entities []EntityResponse `json:"entities"`
	}](t, rec)
	if len(busy.Entities) != 1 || busy.Entities[0].ID != "b" {
		t.Fatalf("expected only b, got %+v", busy.Entities)
	}

	rec = f.do(t, http.MethodGet, "/entities?status=parked", user.RoleViewer, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestGetEntity(t *testing.T) {
	f := newFixture(t, false)
	f.svc.Store().ApplyUpdate("veh-1", geo.Position{Lat: 5, Lon: 6})

	rec := f.do(t, http.MethodGet, "/entities/veh-1", user.RoleViewer, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode[EntityResponse](t, rec)
	if got.ID != "veh-1" || got.Current.Lat != 5 || got.Status != fleet.StatusActive || len(got.Path) != 1 {
		t.Fatalf("unexpected entity %+v", got)
	}

	rec = f.do(t, http.MethodGet, "/entities/nope", user.RoleViewer, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCountEntities(t *testing.T) {
	f := newFixture(t, false)
	f.svc.Store().ApplyUpdate("a", geo.Position{})
	f.svc.Store().ApplyUpdate("b", geo.Position{})
	f.svc.Presence().SetStatus("a", fleet.StatusAvailable)

	rec := f.do(t, http.MethodGet, "/entities/count", user.RoleViewer, "")
	got := decode[struct {
		Active  int    `json:"active"`
		Version uint64 `json:"version"`
	}](t, rec)
	if got.Active != 2 || got.Version != 2 {
		t.Fatalf("unexpected count %+v", got)
	}

	rec = f.do(t, http.MethodGet, "/entities/count?status=AVAILABLE", user.RoleViewer, "")
	got = decode[struct {
		Active  int    `json:"active"`
		Version uint64 `json:"version"`
	}](t, rec)
	if got.Active != 1 {
		t.Fatalf("expected 1 available, got %d", got.Active)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	f := newFixture(t, false)

	if rec := f.do(t, http.MethodGet, "/entities", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/entities", user.RolePublisher, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for publisher, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/resync", user.RoleViewer, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer resync, got %d", rec.Code)
	}
}

type failingResync struct{}

func (failingResync) RequestSnapshot(context.Context) error { return errors.New("broker down") }

func TestResync(t *testing.T) {
	f := newFixture(t, false)

	if rec := f.do(t, http.MethodPost, "/resync", user.RoleAdmin, ""); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with no feeds, got %d", rec.Code)
	}

	f.svc.Adapter().Open("rabbitmq", failingResync{})
	if rec := f.do(t, http.MethodPost, "/resync", user.RoleAdmin, ""); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when a feed fails, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	f.svc.Store().ApplyUpdate("a", geo.Position{})

	rec := f.do(t, http.MethodGet, "/health", "", "")
	got := decode[struct {
		Status   string `json:"status"`
		Entities int    `json:"entities"`
	}](t, rec)
	if rec.Code != http.StatusOK || got.Status != "ok" || got.Entities != 1 {
		t.Fatalf("unexpected health %d %+v", rec.Code, got)
	}
}

func TestCreateToken(t *testing.T) {
	disabled := newFixture(t, false)
	if rec := disabled.do(t, http.MethodPost, "/tokens", "", `{"subject":"x","role":"VIEWER"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when dev tokens are off, got %d", rec.Code)
	}

	f := newFixture(t, true)
	rec := f.do(t, http.MethodPost, "/tokens", "", `{"subject":"map-1","role":"viewer"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[TokenResponse](t, rec)
	claims, err := f.mgr.ParseAndValidate(got.Token)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.Subject != "map-1" || claims.Role != user.RoleViewer {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if rec := f.do(t, http.MethodPost, "/tokens", "", `{"subject":"map-1","role":"root"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", rec.Code)
	}
}
