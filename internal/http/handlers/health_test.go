package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openmusic/openmusic/internal/http/handlers"
)

func TestReadyz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }

	tests := []struct {
		name       string
		checks     map[string]handlers.Check
		wantStatus int
		wantBody   string
	}{
		{"no checks", nil, http.StatusOK, "ready"},
		{"all up", map[string]handlers.Check{"db": ok, "broker": ok}, http.StatusOK, "ready"},
		{"broker down", map[string]handlers.Check{"db": ok, "broker": down}, http.StatusServiceUnavailable, "broker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewHealthHandler(tt.checks)
			r := setupRouter(http.MethodGet, "/readyz", h.Readyz)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Fatalf("body %s does not mention %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}
