package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nmoreau/billing-core/internal/models"
	"github.com/nmoreau/billing-core/internal/validation"
)

// SnapshotService freezes documents into immutable snapshots. A document
// is locked at most once: the first successful Lock pins the snapshot,
// every later call returns the stored one untouched.
type SnapshotService struct {
	DB *gorm.DB
}

func NewSnapshotService(db *gorm.DB) *SnapshotService {
	return &SnapshotService{DB: db}
}

// Lock validates the document, computes its totals and freezes the lot
// into a snapshot. Concurrent callers race on the document's
// current_snapshot_id cell: exactly one insert survives, the loser's
// row is rolled back and the loser gets ErrIntegrity.
func (s *SnapshotService) Lock(documentID uint, actor string) (*models.DocumentSnapshot, error) {
	var doc models.Document
	err := s.DB.Preload("LineItems", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC, id ASC")
	}).First(&doc, documentID).Error
	if err != nil {
		return nil, err
	}

	// Regeneration: already locked, hand back the frozen copy.
	if doc.CurrentSnapshotID != nil {
		var snap models.DocumentSnapshot
		if err := s.DB.First(&snap, *doc.CurrentSnapshotID).Error; err != nil {
			return nil, err
		}
		return &snap, nil
	}

	var company models.Company
	if err := s.DB.First(&company, doc.CompanyID).Error; err != nil {
		return nil, err
	}
	var client models.Client
	if err := s.DB.First(&client, doc.ClientID).Error; err != nil {
		return nil, err
	}

	if err := validateForLock(&doc, &company); err != nil {
		return nil, err
	}

	totals := ComputeTotals(doc.LineItems, doc.TaxRate)
	lockedAt := time.Now().UTC()
	payload, err := json.Marshal(buildSnapshotData(&doc, &company, &client, totals, lockedAt))
	if err != nil {
		return nil, err
	}

	snap := &models.DocumentSnapshot{
		PublicID:   uuid.NewString(),
		DocumentID: doc.ID,
		Payload:    datatypes.JSON(payload),
		Subtotal:   totals.Subtotal,
		TaxTotal:   totals.TaxTotal,
		Total:      totals.Total,
		LockedBy:   actor,
		LockedAt:   lockedAt,
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var version int
		err := tx.Model(&models.DocumentSnapshot{}).
			Where("document_id = ?", doc.ID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&version).Error
		if err != nil {
			return err
		}
		snap.Version = version + 1

		if err := tx.Create(snap).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Document{}).
			Where("id = ? AND current_snapshot_id IS NULL", doc.ID).
			Update("current_snapshot_id", snap.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another lock won while we were building. Returning the
			// error rolls the whole transaction back, insert included,
			// so the loser leaves no orphan row behind.
			return ErrIntegrity
		}

		return AppendAudit(tx, doc.CompanyID, doc.ID, actor, models.AuditSnapshotLocked,
			fmt.Sprintf("version %d, total %s %s", snap.Version, totals.Total.StringFixed(2), doc.Currency))
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Preview assembles the render payload for a document without locking
// anything: the frozen payload when a snapshot exists, a live build
// otherwise. The branding returned is always the company's current one
// so color changes show up in previews immediately.
func (s *SnapshotService) Preview(documentID uint) (models.SnapshotData, models.Branding, error) {
	var doc models.Document
	err := s.DB.Preload("LineItems", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC, id ASC")
	}).First(&doc, documentID).Error
	if err != nil {
		return models.SnapshotData{}, models.Branding{}, err
	}
	var company models.Company
	if err := s.DB.First(&company, doc.CompanyID).Error; err != nil {
		return models.SnapshotData{}, models.Branding{}, err
	}

	if doc.CurrentSnapshotID != nil {
		var snap models.DocumentSnapshot
		if err := s.DB.First(&snap, *doc.CurrentSnapshotID).Error; err != nil {
			return models.SnapshotData{}, models.Branding{}, err
		}
		data, err := snap.Data()
		if err != nil {
			return models.SnapshotData{}, models.Branding{}, err
		}
		return data, company.Branding(), nil
	}

	var client models.Client
	if err := s.DB.First(&client, doc.ClientID).Error; err != nil {
		return models.SnapshotData{}, models.Branding{}, err
	}
	totals := ComputeTotals(doc.LineItems, doc.TaxRate)
	data := buildSnapshotData(&doc, &company, &client, totals, time.Now().UTC())
	return data, company.Branding(), nil
}

// validateForLock enforces the preconditions for freezing a document.
func validateForLock(doc *models.Document, company *models.Company) error {
	v := validation.Violations{}
	if len(doc.LineItems) == 0 {
		v["line_items"] = "at_least_one_required"
	}
	for i := range doc.LineItems {
		li := &doc.LineItems[i]
		prefix := fmt.Sprintf("line_items[%d].", i)
		validation.Required(prefix+"description", li.Description, v)
		validation.NonNegativeDecimal(prefix+"quantity", li.Quantity, v)
		validation.NonNegativeDecimal(prefix+"unit_price", li.UnitPrice, v)
		validation.NonNegativeDecimal(prefix+"discount", li.Discount, v)
		if li.Discount.Sign() >= 0 && li.Discount.Cmp(li.Quantity.Mul(li.UnitPrice)) > 0 {
			v[prefix+"discount"] = "exceeds_line_amount"
		}
	}
	validation.RangeDecimal("tax_rate", doc.TaxRate, decimal.Zero, decimal.NewFromInt(1), v)
	if company.PrimaryColor != "" {
		if _, err := models.ParseHexColor(company.PrimaryColor); err != nil {
			v["branding.primary_color"] = "invalid_hex_color"
		}
	}
	if company.AccentColor != "" {
		if _, err := models.ParseHexColor(company.AccentColor); err != nil {
			v["branding.accent_color"] = "invalid_hex_color"
		}
	}
	if v.Empty() {
		return nil
	}
	return &ValidationError{Violations: v}
}

// buildSnapshotData assembles the frozen payload: parties, branding and
// amounts exactly as the document reads at lock time.
func buildSnapshotData(doc *models.Document, company *models.Company, client *models.Client, totals Totals, lockedAt time.Time) models.SnapshotData {
	lines := make([]models.SnapshotLine, len(doc.LineItems))
	for i := range doc.LineItems {
		li := &doc.LineItems[i]
		lines[i] = models.SnapshotLine{
			Position:    li.Position,
			Description: li.Description,
			Quantity:    li.Quantity.String(),
			UnitPrice:   li.UnitPrice.StringFixed(2),
			Discount:    li.Discount.StringFixed(2),
			LineTotal:   totals.Lines[i].String(),
		}
	}
	return models.SnapshotData{
		DocumentID: doc.ID,
		Kind:       doc.Kind,
		Number:     doc.Number,
		IssueDate:  doc.IssueDate.Format("2006-01-02"),
		DueDate:    doc.DueDate.Format("2006-01-02"),
		Currency:   doc.Currency,
		Company: models.SnapshotParty{
			Name:               company.Name,
			Email:              company.Email,
			Phone:              company.Phone,
			RegistrationNumber: company.RegistrationNumber,
			TaxNumber:          company.TaxNumber,
			AddressLines:       company.AddressLines(),
		},
		Client: models.SnapshotParty{
			Name:         client.Name,
			Email:        client.Email,
			Phone:        client.Phone,
			TaxNumber:    client.TaxNumber,
			AddressLines: client.AddressLines(),
		},
		Branding: company.Branding(),
		Lines:    lines,
		Subtotal: totals.Subtotal.StringFixed(2),
		TaxRate:  doc.TaxRate.String(),
		TaxTotal: totals.TaxTotal.StringFixed(2),
		Total:    totals.Total.StringFixed(2),
		Notes:    doc.Notes,
		LockedAt: lockedAt,
	}
}
