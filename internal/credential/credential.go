// Package credential issues and redeems single-use download tokens.
//
// Raw tokens are returned to the caller exactly once at issue time.
// Only a SHA-256 digest is stored, so a leaked database copy cannot be
// replayed, and a lost token cannot be recovered, only reissued.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nmoreau/billing-core/internal/models"
)

var (
	// ErrNotFound covers malformed tokens and digests with no matching
	// row. Callers must not be able to tell the two apart.
	ErrNotFound = errors.New("credential: not found")
	ErrExpired  = errors.New("credential: expired")
	ErrConsumed = errors.New("credential: consumed")
)

const tokenBytes = 32

// Manager owns the credential lifecycle for rendered artifacts.
type Manager struct {
	DB  *gorm.DB
	TTL time.Duration
}

func NewManager(db *gorm.DB, ttl time.Duration) *Manager {
	return &Manager{DB: db, TTL: ttl}
}

// Issue mints a fresh token for the artifact and returns the raw form.
// An unconsumed credential already attached to the artifact is replaced
// in the same transaction. A consumed credential is never replaced;
// callers get ErrConsumed and must render a new artifact instead.
func (m *Manager) Issue(a *models.RenderedArtifact, issuedTo string, now time.Time) (string, *models.DownloadCredential, error) {
	raw, digest, err := newToken()
	if err != nil {
		return "", nil, err
	}

	// A credential never outlives its artifact.
	expires := now.Add(m.TTL)
	if a.ExpiresAt.Before(expires) {
		expires = a.ExpiresAt
	}
	cred := &models.DownloadCredential{
		ArtifactID:  a.ID,
		TokenDigest: digest,
		IssuedTo:    issuedTo,
		IssuedAt:    now,
		ExpiresAt:   expires,
	}

	err = m.DB.Transaction(func(tx *gorm.DB) error {
		var existing models.DownloadCredential
		err := tx.Where("artifact_id = ?", a.ID).First(&existing).Error
		switch {
		case err == nil:
			if existing.ConsumedAt != nil {
				return ErrConsumed
			}
			if err := tx.Delete(&models.DownloadCredential{}, existing.ID).Error; err != nil {
				return fmt.Errorf("replace credential: %w", err)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Create(cred).Error
	})
	if err != nil {
		return "", nil, err
	}
	return raw, cred, nil
}

// Redeem consumes the credential matching the raw token. Exactly one
// caller wins; everyone after the winner gets ErrConsumed. The winning
// redemption also stamps the artifact as consumed so it is never reused
// for a later issue.
func (m *Manager) Redeem(raw string, now time.Time) (*models.DownloadCredential, *models.RenderedArtifact, error) {
	if !wellFormed(raw) {
		return nil, nil, ErrNotFound
	}
	digest := Digest(raw)

	var (
		cred models.DownloadCredential
		art  models.RenderedArtifact
	)
	err := m.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("token_digest = ?", digest).First(&cred).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		res := tx.Model(&models.DownloadCredential{}).
			Where("id = ? AND consumed_at IS NULL AND expires_at > ?", cred.ID, now).
			Update("consumed_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race or ran out the clock. Re-read to say which;
			// expiry wins even when the token was also consumed.
			if err := tx.First(&cred, cred.ID).Error; err != nil {
				return err
			}
			if !cred.ExpiresAt.After(now) {
				return ErrExpired
			}
			return ErrConsumed
		}
		cred.ConsumedAt = &now

		if err := tx.First(&art, cred.ArtifactID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return tx.Model(&models.RenderedArtifact{}).
			Where("id = ? AND consumed_at IS NULL", art.ID).
			Update("consumed_at", now).Error
	})
	if err != nil {
		return nil, nil, err
	}
	art.ConsumedAt = &now
	return &cred, &art, nil
}

// Digest returns the stored form of a raw token.
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func newToken() (raw, digest string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("credential: entropy: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, Digest(raw), nil
}

func wellFormed(raw string) bool {
	if len(raw) != base64.RawURLEncoding.EncodedLen(tokenBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(raw)
	return err == nil
}
