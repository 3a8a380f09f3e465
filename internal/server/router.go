package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nmoreau/billing-core/internal/actor"
	"github.com/nmoreau/billing-core/internal/artifact"
	"github.com/nmoreau/billing-core/internal/config"
	"github.com/nmoreau/billing-core/internal/credential"
	"github.com/nmoreau/billing-core/internal/handlers"
	"github.com/nmoreau/billing-core/internal/httpx"
	"github.com/nmoreau/billing-core/internal/pdf"
	"github.com/nmoreau/billing-core/internal/services"
)

// New constructs the root http.Handler with all routes and middlewares
// applied.
func New(db *gorm.DB, cfg config.Config) http.Handler {
	renderer := pdf.New(cfg.AssetRoot)
	store := artifact.NewStore(db, cfg.ArtifactRoot, cfg.DownloadTTL)
	creds := credential.NewManager(db, cfg.DownloadTTL)
	snapshots := services.NewSnapshotService(db)
	statuses := services.NewStatusService(db, snapshots, nil)
	generator := services.NewGenerateService(db, snapshots, renderer, store, creds, cfg.RenderTimeout)

	companies := handlers.NewCompanyHandler(db)
	clients := handlers.NewClientHandler(db)
	docs := handlers.NewDocumentHandler(db, statuses, snapshots, generator, renderer)
	download := handlers.NewDownloadHandler(db, creds, store, statuses, cfg.ConsumeGrace)

	mux := http.NewServeMux()

	// --- Health endpoints ---
	//revive:disable:unused-parameter simple handlers intentionally ignore *http.Request
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Exec("SELECT 1").Error; err != nil {
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/companies", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			companies.List(w, r)
		case http.MethodPost:
			companies.Create(w, r)
		default:
			methodNotAllowed(w, "GET,POST")
		}
	})
	mux.HandleFunc("/companies/view", companies.View)

	mux.HandleFunc("/clients", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			clients.List(w, r)
		case http.MethodPost:
			clients.Create(w, r)
		default:
			methodNotAllowed(w, "GET,POST")
		}
	})

	mux.HandleFunc("/documents", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			docs.List(w, r)
		case http.MethodPost:
			docs.Create(w, r)
		default:
			methodNotAllowed(w, "GET,POST")
		}
	})
	mux.HandleFunc("/documents/view", docs.View)
	mux.HandleFunc("/documents/preview", docs.Preview)
	mux.HandleFunc("/documents/lock", postOnly(docs.Lock))
	mux.HandleFunc("/documents/payment", postOnly(docs.Payment))
	mux.HandleFunc("/documents/pdf", postOnly(docs.GeneratePDF))

	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, "GET")
			return
		}
		download.Serve(w, r)
	})

	// OpenAPI spec
	mux.HandleFunc("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		http.ServeFile(w, r, "openapi.yaml")
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, werr := w.Write([]byte("billing-core API - see /openapi.yaml")); werr != nil {
			_ = werr
		}
	})
	//revive:enable:unused-parameter

	return withRecover(withLogging(actor.Middleware(mux)))
}

func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, "POST")
			return
		}
		h(w, r)
	}
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
}

// statusWriter captures the response code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Printf("%s %s %d %s", r.Method, logPath(r.URL.Path), sw.status, time.Since(start).Round(time.Millisecond))
	})
}

// logPath hides download tokens from the request log. The raw token
// must never land anywhere durable.
func logPath(path string) string {
	if strings.HasPrefix(path, "/download/") && len(path) > len("/download/") {
		return "/download/[token]"
	}
	return path
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
