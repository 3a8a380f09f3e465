package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/nmoreau/billing-core/internal/httpx"
	"github.com/nmoreau/billing-core/internal/models"
	"github.com/nmoreau/billing-core/internal/validation"
)

// CompanyHandler manages the issuing tenants. Thin intake: enough to
// provision a company and point documents at it.
type CompanyHandler struct {
	DB *gorm.DB
}

func NewCompanyHandler(db *gorm.DB) *CompanyHandler { return &CompanyHandler{DB: db} }

func (h *CompanyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name               string `json:"name"`
		RegistrationNumber string `json:"registration_number"`
		TaxNumber          string `json:"tax_number"`
		Email              string `json:"email"`
		Phone              string `json:"phone"`
		AddressLine1       string `json:"address_line1"`
		AddressLine2       string `json:"address_line2"`
		City               string `json:"city"`
		PostalCode         string `json:"postal_code"`
		Country            string `json:"country"`
		InvoicePrefix      string `json:"invoice_prefix"`
		QuotePrefix        string `json:"quote_prefix"`
		ReceiptPrefix      string `json:"receipt_prefix"`
		DefaultCurrency    string `json:"default_currency"`
		PrimaryColor       string `json:"primary_color"`
		AccentColor        string `json:"accent_color"`
		FontFamily         string `json:"font_family"`
		LogoPath           string `json:"logo_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	v := validation.Violations{}
	validation.Required("name", input.Name, v)
	if input.PrimaryColor != "" {
		if _, err := models.ParseHexColor(input.PrimaryColor); err != nil {
			v["primary_color"] = "invalid_hex_color"
		}
	}
	if input.AccentColor != "" {
		if _, err := models.ParseHexColor(input.AccentColor); err != nil {
			v["accent_color"] = "invalid_hex_color"
		}
	}
	if !v.Empty() {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", v)
		return
	}

	company := models.Company{
		Name:               strings.TrimSpace(input.Name),
		RegistrationNumber: input.RegistrationNumber,
		TaxNumber:          input.TaxNumber,
		Email:              input.Email,
		Phone:              input.Phone,
		AddressLine1:       input.AddressLine1,
		AddressLine2:       input.AddressLine2,
		City:               input.City,
		PostalCode:         input.PostalCode,
		Country:            input.Country,
		InvoicePrefix:      choose(input.InvoicePrefix, "INV-"),
		QuotePrefix:        choose(input.QuotePrefix, "QUO-"),
		ReceiptPrefix:      choose(input.ReceiptPrefix, "REC-"),
		DefaultCurrency:    choose(strings.ToUpper(strings.TrimSpace(input.DefaultCurrency)), "EUR"),
		PrimaryColor:       input.PrimaryColor,
		AccentColor:        input.AccentColor,
		FontFamily:         input.FontFamily,
		LogoPath:           input.LogoPath,
	}
	if err := h.DB.Create(&company).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "company_create_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusCreated, company)
}

func (h *CompanyHandler) List(w http.ResponseWriter, r *http.Request) {
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
	var total int64
	h.DB.Model(&models.Company{}).Count(&total)
	var companies []models.Company
	if err := h.DB.Order("id desc").Limit(pageSize).Offset(offset).Find(&companies).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "company_list_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": companies, "total": total, "limit": pageSize, "offset": offset})
}

func (h *CompanyHandler) View(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var company models.Company
	if err := h.DB.First(&company, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.JSONError(w, http.StatusNotFound, "company_not_found", nil)
			return
		}
		httpx.JSONError(w, http.StatusInternalServerError, "company_view_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, company)
}

func choose(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}
