// Package artifact persists rendered PDFs on the local filesystem and
// keeps their lifecycle records in the database.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"gorm.io/gorm"

	"github.com/nmoreau/billing-core/internal/models"
)

// ErrNotFound is returned when an artifact's bytes are gone: the record
// is soft-deleted or the file is no longer on disk.
var ErrNotFound = errors.New("artifact: not found")

// Store writes artifacts under Root. Layout:
// <root>/<companyID>/<documentID>/<publicID>.pdf. Download tokens never
// appear in paths.
type Store struct {
	DB   *gorm.DB
	Root string
	TTL  time.Duration
}

func NewStore(db *gorm.DB, root string, ttl time.Duration) *Store {
	return &Store{DB: db, Root: root, TTL: ttl}
}

// Persist writes the rendered bytes to a temp file, counts pages, and
// renames into place so a partial artifact is never visible under its
// final name. The record carries the sha256 of the exact bytes served.
func (s *Store) Persist(doc *models.Document, snap *models.DocumentSnapshot, templateID string, data []byte) (*models.RenderedArtifact, error) {
	publicID := uuid.NewString()
	dir := filepath.Join(s.Root,
		strconv.FormatUint(uint64(doc.CompanyID), 10),
		strconv.FormatUint(uint64(doc.ID), 10),
	)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	final := filepath.Join(dir, publicID+".pdf")

	tmp, err := os.CreateTemp(dir, ".tmp-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("artifact temp: %w", err)
	}
	tmpName := tmp.Name()
	// no-op once the rename below has succeeded
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("artifact write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("artifact close: %w", err)
	}
	pages, err := api.PageCountFile(tmpName)
	if err != nil {
		return nil, fmt.Errorf("artifact page count: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return nil, fmt.Errorf("artifact rename: %w", err)
	}

	sum := sha256.Sum256(data)
	now := time.Now()
	a := &models.RenderedArtifact{
		PublicID:    publicID,
		CompanyID:   doc.CompanyID,
		DocumentID:  doc.ID,
		SnapshotID:  snap.ID,
		TemplateID:  templateID,
		StoragePath: final,
		ByteSize:    int64(len(data)),
		Pages:       pages,
		ContentHash: hex.EncodeToString(sum[:]),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.TTL),
	}
	if err := s.DB.Create(a).Error; err != nil {
		_ = os.Remove(final)
		return nil, fmt.Errorf("artifact record: %w", err)
	}
	return a, nil
}

// Open returns a reader over the stored bytes. Soft-deleted records and
// missing files surface as ErrNotFound.
func (s *Store) Open(a *models.RenderedArtifact) (io.ReadCloser, error) {
	if a.DeletedAt != nil {
		return nil, ErrNotFound
	}
	f, err := os.Open(a.StoragePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Delete removes the file (idempotent on missing files) and soft-marks
// the record. The row stays for history until the retention purge.
func (s *Store) Delete(a *models.RenderedArtifact, now time.Time) error {
	if err := os.Remove(a.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := s.DB.Model(a).Update("deleted_at", now).Error; err != nil {
		return err
	}
	a.DeletedAt = &now
	return nil
}

// Reusable returns the newest live artifact for (document, snapshot), or
// nil when a fresh render is needed. Reuse skips the render, nothing
// more: the caller still issues a new credential.
func (s *Store) Reusable(documentID, snapshotID uint, now time.Time) (*models.RenderedArtifact, error) {
	var a models.RenderedArtifact
	err := s.DB.
		Where("document_id = ? AND snapshot_id = ? AND deleted_at IS NULL AND consumed_at IS NULL AND expires_at > ?",
			documentID, snapshotID, now).
		Order("id desc").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
