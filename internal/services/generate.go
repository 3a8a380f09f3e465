package services

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nmoreau/billing-core/internal/artifact"
	"github.com/nmoreau/billing-core/internal/credential"
	"github.com/nmoreau/billing-core/internal/models"
	"github.com/nmoreau/billing-core/internal/pdf"
)

// GenerateService runs the PDF pipeline: ensure the document is locked,
// render (or reuse) an artifact for its snapshot, persist it and issue a
// single-use download credential.
type GenerateService struct {
	DB            *gorm.DB
	Snapshots     *SnapshotService
	Renderer      *pdf.Renderer
	Artifacts     *artifact.Store
	Credentials   *credential.Manager
	RenderTimeout time.Duration
}

func NewGenerateService(db *gorm.DB, snapshots *SnapshotService, renderer *pdf.Renderer, store *artifact.Store, creds *credential.Manager, renderTimeout time.Duration) *GenerateService {
	return &GenerateService{
		DB:            db,
		Snapshots:     snapshots,
		Renderer:      renderer,
		Artifacts:     store,
		Credentials:   creds,
		RenderTimeout: renderTimeout,
	}
}

// GenerateResult is what the PDF endpoint hands back. RawToken is the
// only place the download token ever appears in clear.
type GenerateResult struct {
	Document   *models.Document
	Artifact   *models.RenderedArtifact
	Credential *models.DownloadCredential
	RawToken   string
	Reused     bool
}

// Generate produces a downloadable PDF for the document. The first call
// on an unlocked document freezes its snapshot as a side effect; status
// is never touched. Amounts come from the frozen snapshot, branding from
// the company as it is now, so a restyle shows up on the next render
// without touching the snapshot. A live artifact for the same snapshot
// skips the render, but the credential is always minted fresh.
func (s *GenerateService) Generate(documentID uint, actor string) (*GenerateResult, error) {
	var doc models.Document
	if err := s.DB.First(&doc, documentID).Error; err != nil {
		return nil, err
	}

	snap, err := s.Snapshots.Lock(doc.ID, actor)
	if err != nil {
		return nil, err
	}
	if doc.CurrentSnapshotID == nil {
		doc.CurrentSnapshotID = &snap.ID
	}

	var company models.Company
	if err := s.DB.First(&company, doc.CompanyID).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	templateID := pdf.TemplateFor(doc.Kind)

	a, err := s.Artifacts.Reusable(doc.ID, snap.ID, now)
	if err != nil {
		return nil, err
	}
	reused := a != nil
	if a == nil {
		data, err := snap.Data()
		if err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", snap.PublicID, err)
		}
		out, err := s.render(data, templateID, company.Branding())
		if err != nil {
			return nil, err
		}
		a, err = s.Artifacts.Persist(&doc, snap, templateID, out)
		if err != nil {
			return nil, err
		}
	}

	raw, cred, err := s.Credentials.Issue(a, actor, now)
	if err != nil {
		return nil, err
	}

	detail := fmt.Sprintf("artifact %s, %d pages, %d bytes", a.PublicID, a.Pages, a.ByteSize)
	if reused {
		detail += " (reused)"
	}
	if err := AppendAudit(s.DB, doc.CompanyID, doc.ID, actor, models.AuditPDFGenerated, detail); err != nil {
		return nil, err
	}

	return &GenerateResult{
		Document:   &doc,
		Artifact:   a,
		Credential: cred,
		RawToken:   raw,
		Reused:     reused,
	}, nil
}

// render runs the engine under the configured ceiling. On a breach the
// worker's eventual result lands in a buffered channel and is dropped;
// nothing blocks.
func (s *GenerateService) render(data models.SnapshotData, templateID string, b models.Branding) ([]byte, error) {
	if s.RenderTimeout <= 0 {
		return s.Renderer.Render(data, templateID, b)
	}

	type rendered struct {
		out []byte
		err error
	}
	ch := make(chan rendered, 1)
	go func() {
		out, err := s.Renderer.Render(data, templateID, b)
		ch <- rendered{out: out, err: err}
	}()

	timer := time.NewTimer(s.RenderTimeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.out, r.err
	case <-timer.C:
		return nil, pdf.ErrRenderTimeout
	}
}
