package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(basePath string) *Server {
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("webhook"))
	})
	return New(":0", slog.New(slog.NewTextHandler(io.Discard, nil)), nil, Handlers{Webhook: webhook}, basePath)
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRoutes(t *testing.T) {
	h := newTestServer("").Handler()

	if rec := get(t, h, http.MethodGet, "/"); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("root: %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, http.MethodPost, "/healthz"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("healthz post: expected 405, got %d", rec.Code)
	}
	if rec := get(t, h, http.MethodPost, "/webhook"); rec.Body.String() != "webhook" {
		t.Fatalf("webhook not mounted: %q", rec.Body.String())
	}
	if rec := get(t, h, http.MethodGet, "/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if rec := get(t, h, http.MethodGet, "/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path: expected 404, got %d", rec.Code)
	}
}

func TestBasePath(t *testing.T) {
	h := newTestServer("bot/").Handler()

	if rec := get(t, h, http.MethodPost, "/bot/webhook"); rec.Body.String() != "webhook" {
		t.Fatalf("webhook under base path: %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, http.MethodGet, "/bot"); rec.Code != http.StatusOK {
		t.Fatalf("base root: %d", rec.Code)
	}
	if rec := get(t, h, http.MethodPost, "/webhook"); rec.Code != http.StatusNotFound {
		t.Fatalf("path outside base must 404, got %d", rec.Code)
	}
	if rec := get(t, h, http.MethodGet, "/botx/healthz"); rec.Code != http.StatusNotFound {
		t.Fatalf("prefix lookalike must 404, got %d", rec.Code)
	}
}

func TestNormaliseBasePath(t *testing.T) {
	cases := map[string]string{"": "", "/": "", "bot": "/bot", "/bot/": "/bot", " /a/b ": "/a/b"}
	for in, want := range cases {
		if got := normaliseBasePath(in); got != want {
			t.Fatalf("%q: expected %q, got %q", in, want, got)
		}
	}
}
