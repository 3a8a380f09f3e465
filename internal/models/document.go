package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DocumentKind discriminates the billing document variants sharing the
// documents table and the rendering pipeline.
type DocumentKind string

const (
	DocumentKindInvoice DocumentKind = "invoice"
	DocumentKindQuote   DocumentKind = "quote"
	DocumentKindReceipt DocumentKind = "receipt"
)

// ValidKind reports whether k names a supported document kind.
func ValidKind(k DocumentKind) bool {
	switch k {
	case DocumentKindInvoice, DocumentKindQuote, DocumentKindReceipt:
		return true
	}
	return false
}

// DocumentStatus tracks a document through its lifecycle. Transitions go
// through services.StatusService; nothing writes the column directly.
type DocumentStatus string

const (
	StatusDraft         DocumentStatus = "draft"
	StatusSent          DocumentStatus = "sent"
	StatusViewed        DocumentStatus = "viewed"
	StatusPartiallyPaid DocumentStatus = "partially_paid"
	StatusPaid          DocumentStatus = "paid"
	StatusOverdue       DocumentStatus = "overdue"
)

// Document is an invoice, quote or receipt.
type Document struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CompanyID uint    `gorm:"not null;index;uniqueIndex:idx_documents_company_kind_number,priority:1" json:"company_id"`
	Company   Company `gorm:"foreignKey:CompanyID" json:"-"`
	ClientID  uint    `gorm:"index;not null" json:"client_id"`
	Client    *Client `gorm:"foreignKey:ClientID" json:"client,omitempty"`

	Kind   DocumentKind   `gorm:"size:20;not null;uniqueIndex:idx_documents_company_kind_number,priority:2" json:"kind"`
	Number string         `gorm:"size:50;not null;uniqueIndex:idx_documents_company_kind_number,priority:3" json:"number"`
	Status DocumentStatus `gorm:"size:20;not null;default:'draft'" json:"status"`

	IssueDate time.Time `gorm:"not null" json:"issue_date"`
	DueDate   time.Time `gorm:"not null" json:"due_date"`

	Currency string          `gorm:"size:3;not null;default:'EUR'" json:"currency"`
	TaxRate  decimal.Decimal `gorm:"type:decimal(6,5);not null" json:"tax_rate"`
	Notes    string          `gorm:"type:text" json:"notes,omitempty"`

	// CurrentSnapshotID is the lock cell: nil while the document is
	// mutable, set exactly once by the snapshot builder.
	CurrentSnapshotID *uint             `gorm:"index" json:"current_snapshot_id,omitempty"`
	CurrentSnapshot   *DocumentSnapshot `gorm:"foreignKey:CurrentSnapshotID" json:"-"`

	// AmountPaid accumulates recorded payments.
	AmountPaid decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"amount_paid"`

	LineItems []LineItem `gorm:"foreignKey:DocumentID" json:"line_items,omitempty"`
}

// IsDraft returns true while the document is in draft status.
func (d *Document) IsDraft() bool {
	return d.Status == StatusDraft
}

// Locked reports whether a snapshot has been pinned to the document.
func (d *Document) Locked() bool {
	return d.CurrentSnapshotID != nil
}

// CanEdit returns true while line items may still change: draft status
// and no snapshot taken yet.
func (d *Document) CanEdit() bool {
	return d.Status == StatusDraft && d.CurrentSnapshotID == nil
}

// LineItem is one billed row on a document. Discount is an absolute
// amount subtracted from quantity*unit_price.
type LineItem struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	DocumentID uint `gorm:"index;not null" json:"document_id"`
	Position   int  `gorm:"not null;default:0" json:"position"`

	Description string          `gorm:"size:500;not null" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:decimal(12,3);not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	Discount    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Total returns quantity*unit_price - discount at full precision.
// Rounding happens at document boundaries, never per line.
func (li *LineItem) Total() decimal.Decimal {
	return li.Quantity.Mul(li.UnitPrice).Sub(li.Discount)
}

// GenerateDocumentNumber returns the next number for a company and kind.
// Format: prefix + zero padded sequence (e.g. INV-0007). Callers run it
// inside the create transaction; the unique index on (company, kind,
// number) catches the rare race.
func GenerateDocumentNumber(db *gorm.DB, company *Company, kind DocumentKind) (string, error) {
	var count int64
	err := db.Model(&Document{}).
		Where("company_id = ? AND kind = ?", company.ID, kind).
		Count(&count).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%04d", company.PrefixFor(kind), count+1), nil
}
