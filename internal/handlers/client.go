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

// ClientHandler manages billed parties. Clients belong to exactly one
// company and every read is scoped by it.
type ClientHandler struct {
	DB *gorm.DB
}

func NewClientHandler(db *gorm.DB) *ClientHandler { return &ClientHandler{DB: db} }

func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input struct {
		CompanyID    uint   `json:"company_id"`
		Name         string `json:"name"`
		ContactName  string `json:"contact_name"`
		Email        string `json:"email"`
		Phone        string `json:"phone"`
		TaxNumber    string `json:"tax_number"`
		AddressLine1 string `json:"address_line1"`
		AddressLine2 string `json:"address_line2"`
		City         string `json:"city"`
		PostalCode   string `json:"postal_code"`
		Country      string `json:"country"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	v := validation.Violations{}
	if input.CompanyID == 0 {
		v["company_id"] = "required"
	}
	validation.Required("name", input.Name, v)
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
		httpx.JSONError(w, http.StatusInternalServerError, "client_create_failed", nil)
		return
	}

	client := models.Client{
		CompanyID:    company.ID,
		Name:         strings.TrimSpace(input.Name),
		ContactName:  input.ContactName,
		Email:        input.Email,
		Phone:        input.Phone,
		TaxNumber:    input.TaxNumber,
		AddressLine1: input.AddressLine1,
		AddressLine2: input.AddressLine2,
		City:         input.City,
		PostalCode:   input.PostalCode,
		Country:      input.Country,
	}
	if err := h.DB.Create(&client).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "client_create_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusCreated, client)
}

func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
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
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		dbq = dbq.Where("lower(name) LIKE ? OR lower(contact_name) LIKE ?", like, like)
	}
	var total int64
	dbq.Model(&models.Client{}).Count(&total)
	var clients []models.Client
	if err := dbq.Order("name asc").Limit(pageSize).Offset(offset).Find(&clients).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "client_list_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": clients, "total": total, "limit": pageSize, "offset": offset})
}
