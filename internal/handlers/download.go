package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nmoreau/billing-core/internal/actor"
	"github.com/nmoreau/billing-core/internal/artifact"
	"github.com/nmoreau/billing-core/internal/credential"
	"github.com/nmoreau/billing-core/internal/httpx"
	"github.com/nmoreau/billing-core/internal/models"
	"github.com/nmoreau/billing-core/internal/services"
)

// DownloadHandler redeems single-use tokens and streams the PDF. The
// three failure modes map to distinct responses: unknown or purged
// tokens 404, expired 410 token_expired, already consumed 410
// token_consumed. Unknown and malformed tokens are indistinguishable
// on the wire.
type DownloadHandler struct {
	DB          *gorm.DB
	Credentials *credential.Manager
	Artifacts   *artifact.Store
	Statuses    *services.StatusService

	// Grace is how long the artifact file outlives its redemption, so
	// slow clients can finish streaming before the bytes disappear.
	Grace time.Duration
}

func NewDownloadHandler(db *gorm.DB, creds *credential.Manager, store *artifact.Store, statuses *services.StatusService, grace time.Duration) *DownloadHandler {
	return &DownloadHandler{DB: db, Credentials: creds, Artifacts: store, Statuses: statuses, Grace: grace}
}

// Serve handles GET /download/{token}.
func (h *DownloadHandler) Serve(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, "/download/")
	if token == "" || strings.Contains(token, "/") {
		httpx.JSONError(w, http.StatusNotFound, "token_not_found", nil)
		return
	}

	now := time.Now().UTC()
	cred, art, err := h.Credentials.Redeem(token, now)
	if err != nil {
		switch {
		case errors.Is(err, credential.ErrNotFound):
			httpx.JSONError(w, http.StatusNotFound, "token_not_found", nil)
		case errors.Is(err, credential.ErrExpired):
			httpx.JSONError(w, http.StatusGone, "token_expired", nil)
		case errors.Is(err, credential.ErrConsumed):
			httpx.JSONError(w, http.StatusGone, "token_consumed", nil)
		default:
			log.Printf("redeem: %v", err)
			httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		}
		return
	}

	body, err := h.Artifacts.Open(art)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			httpx.JSONError(w, http.StatusNotFound, "artifact_not_found", nil)
			return
		}
		log.Printf("artifact open: %v", err)
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	defer body.Close()

	// The open file descriptor keeps the bytes readable even if the
	// grace timer unlinks the path mid stream.
	artifactID := art.ID
	time.AfterFunc(h.Grace, func() {
		var fresh models.RenderedArtifact
		if err := h.DB.First(&fresh, artifactID).Error; err != nil {
			return
		}
		if fresh.DeletedAt != nil {
			return
		}
		if err := h.Artifacts.Delete(&fresh, time.Now().UTC()); err != nil {
			log.Printf("grace delete artifact %s: %v", fresh.PublicID, err)
		}
	})

	who := actor.FromContext(r.Context())
	if err := h.Statuses.ClientView(art.DocumentID, who); err != nil &&
		!errors.Is(err, services.ErrInvalidTransition) && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("client view transition: %v", err)
	}
	err = services.AppendAudit(h.DB, art.CompanyID, art.DocumentID, who, models.AuditPDFDownloaded,
		fmt.Sprintf("artifact %s, issued to %s", art.PublicID, cred.IssuedTo))
	if err != nil {
		log.Printf("audit download: %v", err)
	}

	httpx.PDF(w, downloadFilename(h.DB, art), art.ByteSize, body)
}

// downloadFilename prefers the document number, falling back to the
// artifact's public id when the document row is gone.
func downloadFilename(db *gorm.DB, art *models.RenderedArtifact) string {
	var doc models.Document
	if err := db.Select("number").First(&doc, art.DocumentID).Error; err == nil && doc.Number != "" {
		return doc.Number + ".pdf"
	}
	return art.PublicID + ".pdf"
}
