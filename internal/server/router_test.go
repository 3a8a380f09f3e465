package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nmoreau/billing-core/internal/config"
	"github.com/nmoreau/billing-core/internal/db"
)

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Config{
		ArtifactRoot:  t.TempDir(),
		AssetRoot:     t.TempDir(),
		DownloadTTL:   5 * time.Minute,
		ConsumeGrace:  time.Minute,
		RenderTimeout: 10 * time.Second,
	}
	return New(gdb, cfg)
}

func TestHealthEndpoints(t *testing.T) {
	h := setupRouter(t)
	for _, path := range []string{"/health", "/healthz"} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, w.Code)
		}
	}
}

func TestMethodGuards(t *testing.T) {
	h := setupRouter(t)
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/documents"},
		{http.MethodGet, "/documents/lock?id=1"},
		{http.MethodGet, "/documents/pdf?id=1"},
		{http.MethodPost, "/download/sometoken"},
		{http.MethodPut, "/companies"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405 got %d", tc.method, tc.path, w.Code)
		}
		if w.Header().Get("Allow") == "" {
			t.Fatalf("%s %s: missing Allow header", tc.method, tc.path)
		}
	}
}

func TestUnknownPathAndRoot(t *testing.T) {
	h := setupRouter(t)

	r := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "openapi") {
		t.Fatalf("root: got %d %q", w.Code, w.Body.String())
	}
}

func TestLogPathRedactsTokens(t *testing.T) {
	if got := logPath("/download/abc123"); got != "/download/[token]" {
		t.Fatalf("expected redacted path got %s", got)
	}
	if got := logPath("/documents/view"); got != "/documents/view" {
		t.Fatalf("expected untouched path got %s", got)
	}
}
