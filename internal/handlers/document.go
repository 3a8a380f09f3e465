package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nmoreau/billing-core/internal/actor"
	"github.com/nmoreau/billing-core/internal/httpx"
	"github.com/nmoreau/billing-core/internal/models"
	"github.com/nmoreau/billing-core/internal/pdf"
	"github.com/nmoreau/billing-core/internal/services"
	"github.com/nmoreau/billing-core/internal/validation"
)

const (
	dateLayout     = "2006-01-02"
	defaultNetDays = 30
)

// DocumentHandler exposes the document lifecycle over JSON. The acting
// principal comes from the X-Actor header via actor.Middleware; there
// are no role checks at this layer.
type DocumentHandler struct {
	DB        *gorm.DB
	Statuses  *services.StatusService
	Snapshots *services.SnapshotService
	Generator *services.GenerateService
	Renderer  *pdf.Renderer
}

func NewDocumentHandler(db *gorm.DB, statuses *services.StatusService, snapshots *services.SnapshotService, generator *services.GenerateService, renderer *pdf.Renderer) *DocumentHandler {
	return &DocumentHandler{DB: db, Statuses: statuses, Snapshots: snapshots, Generator: generator, Renderer: renderer}
}

// Create inserts a draft document together with its line items. The
// number is assigned from the company's prefix sequence inside the same
// transaction, so two concurrent creates never share one.
func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input struct {
		CompanyID uint   `json:"company_id"`
		ClientID  uint   `json:"client_id"`
		Kind      string `json:"kind"`
		IssueDate string `json:"issue_date"`
		DueDate   string `json:"due_date"`
		Currency  string `json:"currency"`
		TaxRate   string `json:"tax_rate"`
		Notes     string `json:"notes"`
		LineItems []struct {
			Description string `json:"description"`
			Quantity    string `json:"quantity"`
			UnitPrice   string `json:"unit_price"`
			Discount    string `json:"discount"`
		} `json:"line_items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}

	v := validation.Violations{}
	if input.CompanyID == 0 {
		v["company_id"] = "required"
	}
	if input.ClientID == 0 {
		v["client_id"] = "required"
	}
	kind := models.DocumentKind(input.Kind)
	if !models.ValidKind(kind) {
		v["kind"] = "must_be_invoice_quote_or_receipt"
	}

	issueDate := time.Now().UTC().Truncate(24 * time.Hour)
	if input.IssueDate != "" {
		d, err := time.Parse(dateLayout, input.IssueDate)
		if err != nil {
			v["issue_date"] = "must_be_yyyy_mm_dd"
		} else {
			issueDate = d
		}
	}
	dueDate := issueDate.AddDate(0, 0, defaultNetDays)
	if input.DueDate != "" {
		d, err := time.Parse(dateLayout, input.DueDate)
		if err != nil {
			v["due_date"] = "must_be_yyyy_mm_dd"
		} else {
			dueDate = d
		}
	}
	if dueDate.Before(issueDate) {
		v["due_date"] = "before_issue_date"
	}

	taxRate := decimal.Zero
	if input.TaxRate != "" {
		taxRate = parseAmount("tax_rate", input.TaxRate, v)
	}

	lines := make([]models.LineItem, 0, len(input.LineItems))
	for i, li := range input.LineItems {
		prefix := fmt.Sprintf("line_items[%d].", i)
		validation.Required(prefix+"description", li.Description, v)
		item := models.LineItem{
			Position:    i + 1,
			Description: li.Description,
			Quantity:    parseAmount(prefix+"quantity", li.Quantity, v),
			UnitPrice:   parseAmount(prefix+"unit_price", li.UnitPrice, v),
		}
		if li.Discount != "" {
			item.Discount = parseAmount(prefix+"discount", li.Discount, v)
		}
		lines = append(lines, item)
	}
	if !v.Empty() {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", v)
		return
	}

	var company models.Company
	if err := h.DB.First(&company, input.CompanyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.JSONError(w, http.StatusNotFound, "company_not_found", nil)
			return
		}
		httpx.JSONError(w, http.StatusInternalServerError, "document_create_failed", nil)
		return
	}
	var client models.Client
	if err := h.DB.First(&client, "id = ? AND company_id = ?", input.ClientID, company.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.JSONError(w, http.StatusNotFound, "client_not_found", nil)
			return
		}
		httpx.JSONError(w, http.StatusInternalServerError, "document_create_failed", nil)
		return
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = company.DefaultCurrency
	}

	who := actor.FromContext(r.Context())
	doc := models.Document{
		CompanyID: company.ID,
		ClientID:  client.ID,
		Kind:      kind,
		Status:    models.StatusDraft,
		IssueDate: issueDate,
		DueDate:   dueDate,
		Currency:  currency,
		TaxRate:   taxRate,
		Notes:     input.Notes,
		LineItems: lines,
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		number, err := models.GenerateDocumentNumber(tx, &company, kind)
		if err != nil {
			return err
		}
		doc.Number = number
		if err := tx.Create(&doc).Error; err != nil {
			return err
		}
		return services.AppendAudit(tx, doc.CompanyID, doc.ID, who, models.AuditDocumentCreated,
			fmt.Sprintf("%s %s, %d lines", doc.Kind, doc.Number, len(doc.LineItems)))
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") {
			httpx.JSONError(w, http.StatusConflict, "number_conflict", nil)
			return
		}
		log.Printf("document create: %v", err)
		httpx.JSONError(w, http.StatusInternalServerError, "document_create_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

// List returns a page of a company's documents, newest first.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	companyID, ok := uintParam(r, "company_id")
	if !ok {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", validation.Violations{"company_id": "required"})
		return
	}

	pageSize := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			pageSize = n
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 1 {
			offset = (n - 1) * pageSize
		}
	}

	dbq := h.DB.Where("company_id = ?", companyID)
	if status := r.URL.Query().Get("status"); status != "" {
		dbq = dbq.Where("status = ?", status)
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		dbq = dbq.Where("kind = ?", kind)
	}

	var total int64
	dbq.Model(&models.Document{}).Count(&total)
	var docs []models.Document
	if err := dbq.Order("id desc").Limit(pageSize).Offset(offset).Find(&docs).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "document_list_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": docs, "total": total, "limit": pageSize, "offset": offset})
}

// View returns one document with its lines and client.
func (h *DocumentHandler) View(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var doc models.Document
	err := h.DB.Preload("LineItems", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC, id ASC")
	}).Preload("Client").First(&doc, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.JSONError(w, http.StatusNotFound, "document_not_found", nil)
			return
		}
		httpx.JSONError(w, http.StatusInternalServerError, "document_view_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

// Lock freezes the document and moves it draft -> sent.
func (h *DocumentHandler) Lock(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	doc, err := h.Statuses.LockForSend(id, actor.FromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

// Payment records an amount against the document and advances its
// status to partially_paid or paid.
func (h *DocumentHandler) Payment(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var input struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	v := validation.Violations{}
	amount := parseAmount("amount", input.Amount, v)
	if input.Amount == "" {
		v["amount"] = "required"
	}
	if !v.Empty() {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", v)
		return
	}
	doc, err := h.Statuses.RecordPayment(id, amount, actor.FromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

// GeneratePDF runs the snapshot -> render -> persist -> credential
// pipeline and returns the single-use download link. The raw token
// appears in this response and nowhere else.
func (h *DocumentHandler) GeneratePDF(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	res, err := h.Generator.Generate(id, actor.FromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"download_url": "/download/" + res.RawToken,
		"expires_at":   res.Credential.ExpiresAt.UTC().Format(time.RFC3339),
		"reused":       res.Reused,
		"pages":        res.Artifact.Pages,
		"byte_size":    res.Artifact.ByteSize,
	})
}

// Preview renders the document as themed HTML. Locked documents show
// their frozen payload; drafts are computed live. Branding is always
// the company's current one.
func (h *DocumentHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	data, branding, err := h.Snapshots.Preview(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	html, err := h.Renderer.RenderHTML(data, pdf.TemplateFor(data.Kind), branding)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(html); err != nil {
		log.Printf("preview write: %v", err)
	}
}

// parseAmount converts a decimal string, recording a violation when it
// does not parse. Empty strings count as zero; callers that require a
// value check for emptiness themselves.
func parseAmount(field, raw string, v validation.Violations) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		v[field] = "invalid_decimal"
		return decimal.Zero
	}
	return d
}

func uintParam(r *http.Request, name string) (uint, bool) {
	raw := r.URL.Query().Get(name)
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

// writeServiceError maps service errors onto the HTTP surface. Render
// details never reach the client; they are logged server side only.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", verr.Violations)
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.JSONError(w, http.StatusConflict, "invalid_status_transition", nil)
	case errors.Is(err, services.ErrIntegrity):
		httpx.JSONError(w, http.StatusConflict, "snapshot_lock_conflict", nil)
	case errors.Is(err, gorm.ErrRecordNotFound):
		httpx.JSONError(w, http.StatusNotFound, "document_not_found", nil)
	case errors.Is(err, pdf.ErrRenderTimeout):
		log.Printf("render timeout: %v", err)
		httpx.JSONError(w, http.StatusGatewayTimeout, "render_timeout", nil)
	case errors.Is(err, pdf.ErrRender):
		log.Printf("render: %v", err)
		httpx.JSONError(w, http.StatusInternalServerError, "render_failed", nil)
	default:
		log.Printf("internal: %v", err)
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}
