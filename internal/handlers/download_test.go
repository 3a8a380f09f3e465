package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nmoreau/billing-core/internal/credential"
	"github.com/nmoreau/billing-core/internal/models"
)

type pdfResponse struct {
	DownloadURL string `json:"download_url"`
	ExpiresAt   string `json:"expires_at"`
	Reused      bool   `json:"reused"`
	Pages       int    `json:"pages"`
	ByteSize    int64  `json:"byte_size"`
}

func generatePDF(t *testing.T, fx *appFixture, docID uint, who string) pdfResponse {
	t.Helper()
	w := postJSON(t, fx.docs.GeneratePDF, fmt.Sprintf("/documents/pdf?id=%d", docID), "", who)
	if w.Code != http.StatusCreated {
		t.Fatalf("generate: expected 201 got %d: %s", w.Code, w.Body.String())
	}
	var res pdfResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode pdf response: %v", err)
	}
	return res
}

func fetchDownload(t *testing.T, fx *appFixture, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	fx.download.Serve(w, req)
	return w
}

func TestGenerateAndDownloadRoundtrip(t *testing.T) {
	fx := newAppFixture(t)
	company, client := seedTenant(t, fx.db)
	created := decodeDoc(t, postJSON(t, fx.docs.Create, "/documents", invoiceBody(company.ID, client.ID), ""))
	if w := postJSON(t, fx.docs.Lock, fmt.Sprintf("/documents/lock?id=%d", created.ID), "", ""); w.Code != http.StatusOK {
		t.Fatalf("lock: %d %s", w.Code, w.Body.String())
	}

	res := generatePDF(t, fx, created.ID, "ops@atelier")
	if res.Reused {
		t.Fatalf("first generate should not reuse")
	}
	if !strings.HasPrefix(res.DownloadURL, "/download/") {
		t.Fatalf("unexpected download url %s", res.DownloadURL)
	}
	if res.Pages < 1 || res.ByteSize <= 0 {
		t.Fatalf("implausible artifact: pages=%d bytes=%d", res.Pages, res.ByteSize)
	}
	if _, err := time.Parse(time.RFC3339, res.ExpiresAt); err != nil {
		t.Fatalf("expires_at not RFC3339: %v", err)
	}

	w := fetchDownload(t, fx, res.DownloadURL)
	if w.Code != http.StatusOK {
		t.Fatalf("download: expected 200 got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected application/pdf got %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "INV-0001.pdf") {
		t.Fatalf("expected document number in disposition, got %s", cd)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("body is not a pdf")
	}

	var doc models.Document
	if err := fx.db.First(&doc, created.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if doc.Status != models.StatusViewed {
		t.Fatalf("expected viewed after download got %s", doc.Status)
	}
	if n := countAudit(t, fx, created.ID, models.AuditPDFDownloaded); n != 1 {
		t.Fatalf("expected 1 download audit row got %d", n)
	}

	// Single use: the same link is gone for good.
	w = fetchDownload(t, fx, res.DownloadURL)
	if w.Code != http.StatusGone {
		t.Fatalf("second download: expected 410 got %d", w.Code)
	}
	if code, _ := decodeError(t, w); code != "token_consumed" {
		t.Fatalf("expected token_consumed got %s", code)
	}

	// The grace timer retires the artifact shortly after redemption.
	var art models.RenderedArtifact
	if err := fx.db.First(&art).Error; err != nil {
		t.Fatalf("artifact row: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		var fresh models.RenderedArtifact
		if err := fx.db.First(&fresh, art.ID).Error; err != nil {
			t.Fatalf("poll artifact: %v", err)
		}
		if fresh.DeletedAt != nil {
			if _, err := os.Stat(fresh.StoragePath); !os.IsNotExist(err) {
				t.Fatalf("expected blob removed, stat err %v", err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("artifact never retired after grace window")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGenerateReusesLiveArtifact(t *testing.T) {
	fx := newAppFixture(t)
	company, client := seedTenant(t, fx.db)
	created := decodeDoc(t, postJSON(t, fx.docs.Create, "/documents", invoiceBody(company.ID, client.ID), ""))
	if w := postJSON(t, fx.docs.Lock, fmt.Sprintf("/documents/lock?id=%d", created.ID), "", ""); w.Code != http.StatusOK {
		t.Fatalf("lock: %d", w.Code)
	}

	first := generatePDF(t, fx, created.ID, "")
	second := generatePDF(t, fx, created.ID, "")
	if !second.Reused {
		t.Fatalf("expected second generate to reuse the live artifact")
	}
	var artifacts int64
	fx.db.Model(&models.RenderedArtifact{}).Count(&artifacts)
	if artifacts != 1 {
		t.Fatalf("expected 1 artifact got %d", artifacts)
	}

	// Re-issuing replaced the first credential.
	w := fetchDownload(t, fx, first.DownloadURL)
	if w.Code != http.StatusNotFound {
		t.Fatalf("replaced token: expected 404 got %d", w.Code)
	}
	w = fetchDownload(t, fx, second.DownloadURL)
	if w.Code != http.StatusOK {
		t.Fatalf("fresh token: expected 200 got %d: %s", w.Code, w.Body.String())
	}

	// The download consumed the artifact, so the next generate renders anew.
	third := generatePDF(t, fx, created.ID, "")
	if third.Reused {
		t.Fatalf("expected fresh render after consumption")
	}
	fx.db.Model(&models.RenderedArtifact{}).Count(&artifacts)
	if artifacts != 2 {
		t.Fatalf("expected 2 artifacts got %d", artifacts)
	}
}

func TestDownloadTokenErrors(t *testing.T) {
	fx := newAppFixture(t)
	company, client := seedTenant(t, fx.db)
	created := decodeDoc(t, postJSON(t, fx.docs.Create, "/documents", invoiceBody(company.ID, client.ID), ""))

	// Unknown but well-formed, malformed, and empty all read as not found.
	for _, path := range []string{
		"/download/" + strings.Repeat("A", 43),
		"/download/zz",
		"/download/",
	} {
		w := fetchDownload(t, fx, path)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404 got %d", path, w.Code)
		}
		if code, _ := decodeError(t, w); code != "token_not_found" {
			t.Fatalf("%s: expected token_not_found got %s", path, code)
		}
	}

	// An expired credential is reported as such, not as missing.
	art := &models.RenderedArtifact{
		PublicID:    uuid.NewString(),
		CompanyID:   company.ID,
		DocumentID:  created.ID,
		SnapshotID:  1,
		TemplateID:  "invoice",
		StoragePath: "/nonexistent.pdf",
		ByteSize:    10,
		Pages:       1,
		ContentHash: strings.Repeat("0", 64),
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}
	if err := fx.db.Create(art).Error; err != nil {
		t.Fatalf("artifact: %v", err)
	}
	raw := strings.Repeat("B", 43)
	cred := &models.DownloadCredential{
		ArtifactID:  art.ID,
		TokenDigest: credential.Digest(raw),
		IssuedTo:    "anonymous",
		IssuedAt:    time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt:   time.Now().UTC().Add(-time.Hour),
	}
	if err := fx.db.Create(cred).Error; err != nil {
		t.Fatalf("credential: %v", err)
	}

	w := fetchDownload(t, fx, "/download/"+raw)
	if w.Code != http.StatusGone {
		t.Fatalf("expected 410 got %d", w.Code)
	}
	if code, _ := decodeError(t, w); code != "token_expired" {
		t.Fatalf("expected token_expired got %s", code)
	}
}

func countAudit(t *testing.T, fx *appFixture, documentID uint, action string) int64 {
	t.Helper()
	var n int64
	err := fx.db.Model(&models.AuditEntry{}).
		Where("document_id = ? AND action = ?", documentID, action).
		Count(&n).Error
	if err != nil {
		t.Fatalf("count audit: %v", err)
	}
	return n
}
