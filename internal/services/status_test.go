package services

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nmoreau/billing-core/internal/models"
)

type captureNotifier struct {
	sent []string
}

func (c *captureNotifier) DocumentSent(doc *models.Document, clientEmail string) {
	c.sent = append(c.sent, doc.Number+"->"+clientEmail)
}

func newStatusFixture(t *testing.T) (*gorm.DB, *StatusService, *captureNotifier, *models.Document) {
	t.Helper()
	db := setupServicesTestDB(t)
	_, _, doc := createBillingFixture(t, db)
	n := &captureNotifier{}
	svc := NewStatusService(db, NewSnapshotService(db), n)
	return db, svc, n, doc
}

func TestLockForSend(t *testing.T) {
	db, svc, n, doc := newStatusFixture(t)

	sent, err := svc.LockForSend(doc.ID, "nina")
	if err != nil {
		t.Fatalf("lock for send: %v", err)
	}
	if sent.Status != models.StatusSent {
		t.Errorf("status = %s, want sent", sent.Status)
	}
	if sent.CurrentSnapshotID == nil {
		t.Error("sending must freeze a snapshot")
	}
	if len(n.sent) != 1 || n.sent[0] != "INV-0001->compta@globex.test" {
		t.Errorf("notifier calls = %v", n.sent)
	}
	if got := auditCount(t, db, doc.ID, models.AuditDocumentSent); got != 1 {
		t.Errorf("expected 1 document_sent audit row got %d", got)
	}
	if got := auditCount(t, db, doc.ID, models.AuditSnapshotLocked); got != 1 {
		t.Errorf("expected 1 snapshot_locked audit row got %d", got)
	}

	if _, err := svc.LockForSend(doc.ID, "nina"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second send: want ErrInvalidTransition got %v", err)
	}
}

func TestLockForSendPropagatesValidation(t *testing.T) {
	db, svc, n, _ := newStatusFixture(t)

	empty := &models.Document{
		CompanyID: 1, ClientID: 1,
		Kind: models.DocumentKindInvoice, Number: "INV-0009",
		Status: models.StatusDraft, Currency: "EUR",
		IssueDate: time.Now(), DueDate: time.Now().AddDate(0, 1, 0),
	}
	if err := db.Create(empty).Error; err != nil {
		t.Fatalf("fixture: %v", err)
	}

	_, err := svc.LockForSend(empty.ID, "nina")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError got %v", err)
	}
	if len(n.sent) != 0 {
		t.Error("failed send must not notify")
	}
	var fresh models.Document
	if err := db.First(&fresh, empty.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.Status != models.StatusDraft {
		t.Errorf("status = %s, want draft untouched", fresh.Status)
	}
}

func TestClientView(t *testing.T) {
	db, svc, _, doc := newStatusFixture(t)

	// drafts are never client-visible
	if err := svc.ClientView(doc.ID, "anonymous"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("view on draft: want ErrInvalidTransition got %v", err)
	}

	if _, err := svc.LockForSend(doc.ID, "nina"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.ClientView(doc.ID, "anonymous"); err != nil {
		t.Fatalf("view: %v", err)
	}
	var fresh models.Document
	if err := db.First(&fresh, doc.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.Status != models.StatusViewed {
		t.Errorf("status = %s, want viewed", fresh.Status)
	}
	if got := auditCount(t, db, doc.ID, models.AuditDocumentViewed); got != 1 {
		t.Errorf("expected 1 document_viewed audit row got %d", got)
	}

	// repeat views are silent no-ops
	if err := svc.ClientView(doc.ID, "anonymous"); err != nil {
		t.Fatalf("repeat view: %v", err)
	}
	if got := auditCount(t, db, doc.ID, models.AuditDocumentViewed); got != 1 {
		t.Errorf("repeat view must not add audit rows, got %d", got)
	}

	// nor do views on terminal states
	if err := db.Model(&models.Document{}).Where("id = ?", doc.ID).Update("status", models.StatusPaid).Error; err != nil {
		t.Fatalf("force paid: %v", err)
	}
	if err := svc.ClientView(doc.ID, "anonymous"); err != nil {
		t.Fatalf("view on paid: %v", err)
	}
	if err := db.First(&fresh, doc.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.Status != models.StatusPaid {
		t.Errorf("status = %s, viewing must never regress", fresh.Status)
	}
}

func TestRecordPayment(t *testing.T) {
	db, svc, _, doc := newStatusFixture(t)
	if _, err := svc.LockForSend(doc.ID, "nina"); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, err := svc.RecordPayment(doc.ID, decimal.RequireFromString("50.00"), "nina")
	if err != nil {
		t.Fatalf("first payment: %v", err)
	}
	if got.Status != models.StatusPartiallyPaid {
		t.Errorf("status = %s, want partially_paid", got.Status)
	}
	if got.AmountPaid.StringFixed(2) != "50.00" {
		t.Errorf("amount paid = %s, want 50.00", got.AmountPaid.StringFixed(2))
	}

	got, err = svc.RecordPayment(doc.ID, decimal.RequireFromString("49.00"), "nina")
	if err != nil {
		t.Fatalf("second payment: %v", err)
	}
	if got.Status != models.StatusPaid {
		t.Errorf("status = %s, want paid after covering 99.00", got.Status)
	}
	if got.AmountPaid.StringFixed(2) != "99.00" {
		t.Errorf("amount paid = %s, want 99.00", got.AmountPaid.StringFixed(2))
	}

	if _, err := svc.RecordPayment(doc.ID, decimal.NewFromInt(1), "nina"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("payment on paid: want ErrInvalidTransition got %v", err)
	}
	if got := auditCount(t, db, doc.ID, models.AuditPaymentRecorded); got != 2 {
		t.Errorf("expected 2 payment audit rows got %d", got)
	}
}

func TestRecordPaymentValidatesAmount(t *testing.T) {
	_, svc, _, doc := newStatusFixture(t)
	for _, amount := range []string{"0", "-5"} {
		_, err := svc.RecordPayment(doc.ID, decimal.RequireFromString(amount), "nina")
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("amount %s: expected ValidationError got %v", amount, err)
		}
		if _, ok := verr.Violations["amount"]; !ok {
			t.Errorf("amount %s: expected amount violation, got %v", amount, verr.Violations)
		}
	}
}

func TestRecordPaymentOverpaySettles(t *testing.T) {
	_, svc, _, doc := newStatusFixture(t)
	got, err := svc.RecordPayment(doc.ID, decimal.RequireFromString("200.00"), "nina")
	if err != nil {
		t.Fatalf("overpay: %v", err)
	}
	if got.Status != models.StatusPaid {
		t.Errorf("status = %s, want paid on overpayment", got.Status)
	}
}

func TestRecordPaymentOnDraftUsesLiveTotal(t *testing.T) {
	_, svc, _, doc := newStatusFixture(t)
	// no snapshot yet: total computed from the current lines (99.00)
	got, err := svc.RecordPayment(doc.ID, decimal.RequireFromString("99.00"), "nina")
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if got.Status != models.StatusPaid {
		t.Errorf("status = %s, want paid", got.Status)
	}
}

func TestMarkOverdue(t *testing.T) {
	db, svc, _, doc := newStatusFixture(t)

	// drafts cannot be overdue
	if _, err := svc.MarkOverdue(doc.ID, "nina"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("overdue on draft: want ErrInvalidTransition got %v", err)
	}

	if _, err := svc.LockForSend(doc.ID, "nina"); err != nil {
		t.Fatalf("send: %v", err)
	}
	// fixture due date 2025-03-31 is in the past
	got, err := svc.MarkOverdue(doc.ID, "nina")
	if err != nil {
		t.Fatalf("overdue: %v", err)
	}
	if got.Status != models.StatusOverdue {
		t.Errorf("status = %s, want overdue", got.Status)
	}
	if n := auditCount(t, db, doc.ID, models.AuditMarkedOverdue); n != 1 {
		t.Errorf("expected 1 marked_overdue audit row got %d", n)
	}

	if _, err := svc.MarkOverdue(doc.ID, "nina"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second overdue: want ErrInvalidTransition got %v", err)
	}
}

func TestMarkOverdueBeforeDueDate(t *testing.T) {
	db, svc, _, doc := newStatusFixture(t)
	if _, err := svc.LockForSend(doc.ID, "nina"); err != nil {
		t.Fatalf("send: %v", err)
	}
	err := db.Model(&models.Document{}).Where("id = ?", doc.ID).
		Update("due_date", time.Now().AddDate(0, 0, 14)).Error
	if err != nil {
		t.Fatalf("push due date: %v", err)
	}
	if _, err := svc.MarkOverdue(doc.ID, "nina"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("not yet due: want ErrInvalidTransition got %v", err)
	}
}

func TestScanOverdue(t *testing.T) {
	db := setupServicesTestDB(t)
	company, client, doc := createBillingFixture(t, db)
	svc := NewStatusService(db, NewSnapshotService(db), &captureNotifier{})

	if _, err := svc.LockForSend(doc.ID, "nina"); err != nil {
		t.Fatalf("send: %v", err)
	}

	pastDue := time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)
	futureDue := time.Now().AddDate(0, 2, 0)
	mk := func(number string, status models.DocumentStatus, due time.Time) *models.Document {
		d := &models.Document{
			CompanyID: company.ID, ClientID: client.ID,
			Kind: models.DocumentKindInvoice, Number: number,
			Status: status, Currency: "EUR",
			IssueDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), DueDate: due,
			TaxRate: decimal.RequireFromString("0.10"),
		}
		if err := db.Create(d).Error; err != nil {
			t.Fatalf("doc %s: %v", number, err)
		}
		return d
	}
	viewed := mk("INV-1001", models.StatusViewed, pastDue)
	notDue := mk("INV-1002", models.StatusSent, futureDue)
	draft := mk("INV-1003", models.StatusDraft, pastDue)

	moved, err := svc.ScanOverdue(time.Now().UTC())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if moved != 2 {
		t.Fatalf("moved = %d, want 2 (the sent and viewed past-due rows)", moved)
	}

	assertStatus := func(id uint, want models.DocumentStatus) {
		t.Helper()
		var d models.Document
		if err := db.First(&d, id).Error; err != nil {
			t.Fatalf("reload %d: %v", id, err)
		}
		if d.Status != want {
			t.Errorf("document %d status = %s, want %s", id, d.Status, want)
		}
	}
	assertStatus(doc.ID, models.StatusOverdue)
	assertStatus(viewed.ID, models.StatusOverdue)
	assertStatus(notDue.ID, models.StatusSent)
	assertStatus(draft.ID, models.StatusDraft)

	again, err := svc.ScanOverdue(time.Now().UTC())
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if again != 0 {
		t.Fatalf("second scan moved %d, want 0", again)
	}
}
