package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nmoreau/billing-core/internal/models"
	"github.com/nmoreau/billing-core/internal/validation"
)

// Notifier receives lifecycle events that leave the system. The
// reference deployment emails the client; this repo ships a log
// implementation and keeps the seam for a real sender.
type Notifier interface {
	DocumentSent(doc *models.Document, clientEmail string)
}

// LogNotifier writes send events to the process log.
type LogNotifier struct{}

func (LogNotifier) DocumentSent(doc *models.Document, clientEmail string) {
	log.Printf("notify: document %s (id=%d) sent to %q", doc.Number, doc.ID, clientEmail)
}

const schedulerActor = "scheduler"

// StatusService drives the document lifecycle across draft, sent,
// viewed, partially_paid, paid and overdue. Every successful transition
// appends exactly one audit row. Status updates are conditional on the
// status the decision was made against, so two racing callers cannot
// both win the same transition.
type StatusService struct {
	DB        *gorm.DB
	Snapshots *SnapshotService
	Notifier  Notifier
}

func NewStatusService(db *gorm.DB, snapshots *SnapshotService, n Notifier) *StatusService {
	if n == nil {
		n = LogNotifier{}
	}
	return &StatusService{DB: db, Snapshots: snapshots, Notifier: n}
}

// LockForSend moves a draft to sent, freezing a snapshot first when the
// document does not have one yet. Non-draft documents are rejected.
func (s *StatusService) LockForSend(documentID uint, actor string) (*models.Document, error) {
	var doc models.Document
	if err := s.DB.First(&doc, documentID).Error; err != nil {
		return nil, err
	}
	if doc.Status != models.StatusDraft {
		return nil, ErrInvalidTransition
	}

	if doc.CurrentSnapshotID == nil {
		snap, err := s.Snapshots.Lock(doc.ID, actor)
		if err != nil {
			return nil, err
		}
		doc.CurrentSnapshotID = &snap.ID
	}

	res := s.DB.Model(&models.Document{}).
		Where("id = ? AND status = ?", doc.ID, models.StatusDraft).
		Update("status", models.StatusSent)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrInvalidTransition
	}
	doc.Status = models.StatusSent

	if err := AppendAudit(s.DB, doc.CompanyID, doc.ID, actor, models.AuditDocumentSent, "draft -> sent"); err != nil {
		return nil, err
	}

	var client models.Client
	if err := s.DB.First(&client, doc.ClientID).Error; err == nil {
		s.Notifier.DocumentSent(&doc, client.Email)
	}
	return &doc, nil
}

// ClientView marks a sent document as viewed. Later states swallow the
// event: a client re-opening a paid invoice is not a regression and not
// an audit line. Drafts cannot be viewed by clients at all.
func (s *StatusService) ClientView(documentID uint, actor string) error {
	var doc models.Document
	if err := s.DB.First(&doc, documentID).Error; err != nil {
		return err
	}
	switch doc.Status {
	case models.StatusDraft:
		return ErrInvalidTransition
	case models.StatusSent:
		res := s.DB.Model(&models.Document{}).
			Where("id = ? AND status = ?", doc.ID, models.StatusSent).
			Update("status", models.StatusViewed)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// a concurrent viewer or payment got there first
			return nil
		}
		return AppendAudit(s.DB, doc.CompanyID, doc.ID, actor, models.AuditDocumentViewed, "sent -> viewed")
	default:
		return nil
	}
}

// RecordPayment adds a positive amount to the document's cumulative
// AmountPaid and settles the status: partially_paid below the total,
// paid at or above it. Fully paid documents take no further payments.
func (s *StatusService) RecordPayment(documentID uint, amount decimal.Decimal, actor string) (*models.Document, error) {
	v := validation.Violations{}
	validation.PositiveDecimal("amount", amount, v)
	if !v.Empty() {
		return nil, &ValidationError{Violations: v}
	}

	var doc models.Document
	err := s.DB.Preload("LineItems", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC, id ASC")
	}).First(&doc, documentID).Error
	if err != nil {
		return nil, err
	}
	if doc.Status == models.StatusPaid {
		return nil, ErrInvalidTransition
	}

	total, err := s.documentTotal(&doc)
	if err != nil {
		return nil, err
	}

	newPaid := doc.AmountPaid.Add(amount)
	newStatus := models.StatusPartiallyPaid
	if newPaid.GreaterThanOrEqual(total) {
		newStatus = models.StatusPaid
	}

	res := s.DB.Model(&models.Document{}).
		Where("id = ? AND status = ?", doc.ID, doc.Status).
		Updates(map[string]interface{}{"amount_paid": newPaid, "status": newStatus})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrInvalidTransition
	}
	doc.AmountPaid = newPaid
	doc.Status = newStatus

	detail := fmt.Sprintf("amount %s, paid %s of %s %s",
		amount.StringFixed(2), newPaid.StringFixed(2), total.StringFixed(2), doc.Currency)
	if err := AppendAudit(s.DB, doc.CompanyID, doc.ID, actor, models.AuditPaymentRecorded, detail); err != nil {
		return nil, err
	}
	return &doc, nil
}

// documentTotal prefers the frozen snapshot total; unlocked drafts get a
// live computation over their current lines.
func (s *StatusService) documentTotal(doc *models.Document) (decimal.Decimal, error) {
	if doc.CurrentSnapshotID != nil {
		var snap models.DocumentSnapshot
		if err := s.DB.First(&snap, *doc.CurrentSnapshotID).Error; err != nil {
			return decimal.Zero, err
		}
		return snap.Total, nil
	}
	return ComputeTotals(doc.LineItems, doc.TaxRate).Total, nil
}

// MarkOverdue moves a past-due sent/viewed/partially_paid document to
// overdue. Anything else, including a document not yet past its due
// date, is an invalid transition.
func (s *StatusService) MarkOverdue(documentID uint, actor string) (*models.Document, error) {
	return s.markOverdue(documentID, actor, time.Now().UTC())
}

func (s *StatusService) markOverdue(documentID uint, actor string, now time.Time) (*models.Document, error) {
	var doc models.Document
	if err := s.DB.First(&doc, documentID).Error; err != nil {
		return nil, err
	}
	if !overdueEligible(doc.Status) || !doc.DueDate.Before(now) {
		return nil, ErrInvalidTransition
	}

	res := s.DB.Model(&models.Document{}).
		Where("id = ? AND status = ?", doc.ID, doc.Status).
		Update("status", models.StatusOverdue)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrInvalidTransition
	}

	detail := fmt.Sprintf("%s -> overdue, due %s", doc.Status, doc.DueDate.Format("2006-01-02"))
	doc.Status = models.StatusOverdue
	if err := AppendAudit(s.DB, doc.CompanyID, doc.ID, actor, models.AuditMarkedOverdue, detail); err != nil {
		return nil, err
	}
	return &doc, nil
}

func overdueEligible(st models.DocumentStatus) bool {
	switch st {
	case models.StatusSent, models.StatusViewed, models.StatusPartiallyPaid:
		return true
	}
	return false
}

// ScanOverdue transitions every eligible past-due document and reports
// how many moved. Rows that changed state between selection and update
// are skipped, not errors; the next scan settles them.
func (s *StatusService) ScanOverdue(now time.Time) (int, error) {
	var ids []uint
	err := s.DB.Model(&models.Document{}).
		Where("status IN ? AND due_date < ?",
			[]models.DocumentStatus{models.StatusSent, models.StatusViewed, models.StatusPartiallyPaid}, now).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, id := range ids {
		if _, err := s.markOverdue(id, schedulerActor, now); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return moved, err
		}
		moved++
	}
	return moved, nil
}
