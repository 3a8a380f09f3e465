package models

import "time"

// DownloadCredential is the server side of a single-use download token.
// Only the sha256 digest of the token is stored; the raw value appears
// once, in the issue response. ArtifactID carries a unique index so an
// artifact never has more than one credential.
type DownloadCredential struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	ArtifactID uint              `gorm:"uniqueIndex;not null" json:"artifact_id"`
	Artifact   *RenderedArtifact `gorm:"foreignKey:ArtifactID" json:"-"`

	TokenDigest string `gorm:"size:64;uniqueIndex;not null" json:"-"`
	IssuedTo    string `gorm:"size:255;not null" json:"issued_to"`

	IssuedAt   time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt  time.Time  `gorm:"index;not null" json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// Live reports whether the credential can still be redeemed at now.
func (c *DownloadCredential) Live(now time.Time) bool {
	return c.ConsumedAt == nil && now.Before(c.ExpiresAt)
}
