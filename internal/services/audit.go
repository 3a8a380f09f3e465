package services

import (
	"gorm.io/gorm"

	"github.com/nmoreau/billing-core/internal/models"
)

// AppendAudit writes one trail row. db may be a transaction handle so a
// caller can commit the row together with the change it describes.
func AppendAudit(db *gorm.DB, companyID, documentID uint, actor, action, detail string) error {
	return db.Create(&models.AuditEntry{
		CompanyID:  companyID,
		DocumentID: documentID,
		Actor:      actor,
		Action:     action,
		Detail:     detail,
	}).Error
}
