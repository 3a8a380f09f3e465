package models

import "time"

// RenderedArtifact records one PDF produced by the renderer: where its
// bytes live, what they hash to, how many pages, and how long they may
// be served. Rows outlive their files: DeletedAt is a soft mark set by
// the sweeper (not a gorm soft delete) so generation and download
// history stays queryable until the retention purge.
type RenderedArtifact struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	PublicID   string `gorm:"size:36;uniqueIndex;not null" json:"public_id"`
	CompanyID  uint   `gorm:"index;not null" json:"company_id"`
	DocumentID uint   `gorm:"index;not null" json:"document_id"`
	SnapshotID uint   `gorm:"index;not null" json:"snapshot_id"`

	TemplateID  string `gorm:"size:20;not null" json:"template_id"`
	StoragePath string `gorm:"size:1024;not null" json:"-"`
	ByteSize    int64  `gorm:"not null" json:"byte_size"`
	Pages       int    `gorm:"not null" json:"pages"`
	ContentHash string `gorm:"size:64;not null" json:"content_hash"`

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `gorm:"index;not null" json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	DeletedAt  *time.Time `gorm:"index" json:"deleted_at,omitempty"`
}

// Live reports whether the artifact may still be served at instant now.
func (a *RenderedArtifact) Live(now time.Time) bool {
	return a.DeletedAt == nil && a.ConsumedAt == nil && now.Before(a.ExpiresAt)
}
