package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/nmoreau/billing-core/internal/artifact"
	"github.com/nmoreau/billing-core/internal/credential"
	"github.com/nmoreau/billing-core/internal/models"
	"github.com/nmoreau/billing-core/internal/pdf"
)

func newGenerateFixture(t *testing.T) (*gorm.DB, *GenerateService, *models.Document) {
	t.Helper()
	db := setupServicesTestDB(t)
	_, _, doc := createBillingFixture(t, db)
	svc := NewGenerateService(
		db,
		NewSnapshotService(db),
		pdf.New(t.TempDir()),
		artifact.NewStore(db, t.TempDir(), 5*time.Minute),
		credential.NewManager(db, 5*time.Minute),
		10*time.Second,
	)
	return db, svc, doc
}

func TestGeneratePipeline(t *testing.T) {
	db, svc, doc := newGenerateFixture(t)

	res, err := svc.Generate(doc.ID, "nina")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Reused {
		t.Error("first generate must render, not reuse")
	}
	if len(res.RawToken) != 43 {
		t.Errorf("token length = %d, want 43", len(res.RawToken))
	}
	if res.Artifact.Pages < 1 {
		t.Errorf("pages = %d, want >= 1", res.Artifact.Pages)
	}
	if res.Credential.ExpiresAt.After(res.Artifact.ExpiresAt) {
		t.Error("credential must not outlive its artifact")
	}

	out, err := os.ReadFile(res.Artifact.StoragePath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Error("artifact is not a PDF")
	}
	sum := sha256.Sum256(out)
	if res.Artifact.ContentHash != hex.EncodeToString(sum[:]) {
		t.Error("content hash does not match stored bytes")
	}

	var fresh models.Document
	if err := db.First(&fresh, doc.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.CurrentSnapshotID == nil {
		t.Error("generate must lock the document")
	}
	if fresh.Status != models.StatusDraft {
		t.Errorf("status = %s, generate must never transition", fresh.Status)
	}
	if got := auditCount(t, db, doc.ID, models.AuditPDFGenerated); got != 1 {
		t.Errorf("expected 1 pdf_generated audit row got %d", got)
	}
}

func TestGenerateReusesLiveArtifact(t *testing.T) {
	db, svc, doc := newGenerateFixture(t)

	first, err := svc.Generate(doc.ID, "nina")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.Generate(doc.ID, "nina")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Reused {
		t.Error("second generate should reuse the live artifact")
	}
	if second.Artifact.ID != first.Artifact.ID {
		t.Errorf("artifact id = %d, want %d reused", second.Artifact.ID, first.Artifact.ID)
	}
	if second.RawToken == first.RawToken {
		t.Error("reissued token must be fresh")
	}

	var artifacts int64
	if err := db.Model(&models.RenderedArtifact{}).Where("document_id = ?", doc.ID).Count(&artifacts).Error; err != nil {
		t.Fatalf("count artifacts: %v", err)
	}
	if artifacts != 1 {
		t.Fatalf("expected 1 artifact got %d", artifacts)
	}
	var creds int64
	if err := db.Model(&models.DownloadCredential{}).Where("artifact_id = ?", first.Artifact.ID).Count(&creds).Error; err != nil {
		t.Fatalf("count credentials: %v", err)
	}
	if creds != 1 {
		t.Fatalf("expected the replaced credential to leave 1 row, got %d", creds)
	}

	// the replaced token is dead
	if _, _, err := svc.Credentials.Redeem(first.RawToken, time.Now()); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("old token: want ErrNotFound got %v", err)
	}
	if _, _, err := svc.Credentials.Redeem(second.RawToken, time.Now()); err != nil {
		t.Fatalf("new token: %v", err)
	}
}

func TestGenerateAfterConsumptionRendersFresh(t *testing.T) {
	db, svc, doc := newGenerateFixture(t)

	first, err := svc.Generate(doc.ID, "nina")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, _, err := svc.Credentials.Redeem(first.RawToken, time.Now()); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	second, err := svc.Generate(doc.ID, "nina")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Reused {
		t.Error("consumed artifact must not be reused")
	}
	if second.Artifact.ID == first.Artifact.ID {
		t.Error("expected a fresh artifact after consumption")
	}

	var artifacts int64
	if err := db.Model(&models.RenderedArtifact{}).Where("document_id = ?", doc.ID).Count(&artifacts).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if artifacts != 2 {
		t.Fatalf("expected 2 artifacts got %d", artifacts)
	}
}

func TestGenerateUsesLiveBranding(t *testing.T) {
	db, svc, doc := newGenerateFixture(t)

	first, err := svc.Generate(doc.ID, "nina")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	// consume so the second call renders instead of reusing
	if _, _, err := svc.Credentials.Redeem(first.RawToken, time.Now()); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	err = db.Model(&models.Company{}).
		Where("id = ?", doc.CompanyID).
		Update("primary_color", "#FF0000").Error
	if err != nil {
		t.Fatalf("restyle: %v", err)
	}

	second, err := svc.Generate(doc.ID, "nina")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Artifact.SnapshotID != first.Artifact.SnapshotID {
		t.Fatalf("snapshot changed across renders: %d -> %d",
			first.Artifact.SnapshotID, second.Artifact.SnapshotID)
	}
	if second.Artifact.ContentHash == first.Artifact.ContentHash {
		t.Error("restyled company should change the rendered bytes for the same snapshot")
	}
}

func TestGenerateRenderTimeout(t *testing.T) {
	_, svc, doc := newGenerateFixture(t)
	svc.RenderTimeout = time.Nanosecond

	_, err := svc.Generate(doc.ID, "nina")
	if !errors.Is(err, pdf.ErrRenderTimeout) {
		t.Fatalf("want ErrRenderTimeout got %v", err)
	}
}

func TestGenerateValidationBubblesUp(t *testing.T) {
	db, svc, _ := newGenerateFixture(t)
	empty := &models.Document{
		CompanyID: 1, ClientID: 1,
		Kind: models.DocumentKindInvoice, Number: "INV-0099",
		Status: models.StatusDraft, Currency: "EUR",
		IssueDate: time.Now(), DueDate: time.Now().AddDate(0, 1, 0),
	}
	if err := db.Create(empty).Error; err != nil {
		t.Fatalf("fixture: %v", err)
	}
	_, err := svc.Generate(empty.ID, "nina")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError got %v", err)
	}
}
