package trackerservice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestConcurrencyLimitRejectsWhenFullAndCancelled(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	h := withConcurrencyLimit(1, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
	}))

	go h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/entities", nil))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities", nil).WithContext(ctx))
	close(release)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while the slot is taken, got %d", rec.Code)
	}
}

func TestConcurrencyLimitLetsWebSocketsThrough(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	served := make(chan string, 2)
	h := withConcurrencyLimit(1, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served <- r.URL.Path
		if r.URL.Path == "/entities" {
			<-release
		}
	}))

	go h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/entities", nil))
	<-served

	req := httptest.NewRequest(http.MethodGet, "/ws/viewer", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	h.ServeHTTP(httptest.NewRecorder(), req)

	select {
	case path := <-served:
		if path != "/ws/viewer" {
			t.Fatalf("unexpected path %q", path)
		}
	default:
		t.Fatalf("expected the upgrade request to bypass the limiter")
	}
}
