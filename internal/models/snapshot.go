package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// DocumentSnapshot is the frozen copy of a document taken at lock time.
// Rows are write-once: nothing in this codebase updates or deletes one
// while the owning document exists.
type DocumentSnapshot struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	PublicID   string `gorm:"size:36;uniqueIndex;not null" json:"public_id"`
	DocumentID uint   `gorm:"not null;uniqueIndex:idx_snapshots_document_version,priority:1" json:"document_id"`
	Version    int    `gorm:"not null;uniqueIndex:idx_snapshots_document_version,priority:2" json:"version"`

	// Payload is the complete frozen SnapshotData.
	Payload datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`

	// Denormalized from the payload for queries.
	Subtotal decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	TaxTotal decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"tax_total"`
	Total    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`

	LockedBy  string    `gorm:"size:255;not null" json:"locked_by"`
	LockedAt  time.Time `gorm:"not null" json:"locked_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Data decodes the frozen payload.
func (s *DocumentSnapshot) Data() (SnapshotData, error) {
	var d SnapshotData
	err := json.Unmarshal(s.Payload, &d)
	return d, err
}

// SnapshotData is the JSON shape frozen into a snapshot payload. Amounts
// are decimal strings: boundary amounts fixed to two places, line totals
// at full precision.
type SnapshotData struct {
	DocumentID uint         `json:"document_id"`
	Kind       DocumentKind `json:"kind"`
	Number     string       `json:"number"`
	IssueDate  string       `json:"issue_date"`
	DueDate    string       `json:"due_date"`
	Currency   string       `json:"currency"`

	Company  SnapshotParty  `json:"company"`
	Client   SnapshotParty  `json:"client"`
	Branding Branding       `json:"branding"`
	Lines    []SnapshotLine `json:"lines"`

	Subtotal string `json:"subtotal"`
	TaxRate  string `json:"tax_rate"`
	TaxTotal string `json:"tax_total"`
	Total    string `json:"total"`
	Notes    string `json:"notes,omitempty"`

	LockedAt time.Time `json:"locked_at"`
}

// SnapshotParty is the printable identity block for either side of a
// document.
type SnapshotParty struct {
	Name               string   `json:"name"`
	Email              string   `json:"email,omitempty"`
	Phone              string   `json:"phone,omitempty"`
	RegistrationNumber string   `json:"registration_number,omitempty"`
	TaxNumber          string   `json:"tax_number,omitempty"`
	AddressLines       []string `json:"address_lines,omitempty"`
}

// SnapshotLine is one frozen line with its computed total.
type SnapshotLine struct {
	Position    int    `json:"position"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Discount    string `json:"discount"`
	LineTotal   string `json:"line_total"`
}
