package models

import "time"

// Audit actions recorded by the services layer.
const (
	AuditDocumentCreated = "document_created"
	AuditSnapshotLocked  = "snapshot_locked"
	AuditDocumentSent    = "document_sent"
	AuditDocumentViewed  = "document_viewed"
	AuditPaymentRecorded = "payment_recorded"
	AuditMarkedOverdue   = "marked_overdue"
	AuditPDFGenerated    = "pdf_generated"
	AuditPDFDownloaded   = "pdf_downloaded"
)

// AuditEntry is an append-only trail row. Services insert, nothing
// updates or deletes; the sweeper's retention purge skips this table.
type AuditEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CompanyID  uint      `gorm:"index;not null" json:"company_id"`
	DocumentID uint      `gorm:"index;not null" json:"document_id"`
	Actor      string    `gorm:"size:255;not null" json:"actor"`
	Action     string    `gorm:"size:100;not null" json:"action"`
	Detail     string    `gorm:"size:1024" json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
