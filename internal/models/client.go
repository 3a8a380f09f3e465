package models

import (
	"strings"
	"time"
)

// Client is the billed party, scoped to a company.
type Client struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CompanyID uint    `gorm:"index;not null" json:"company_id"`
	Company   Company `gorm:"foreignKey:CompanyID" json:"-"`

	Name        string `gorm:"size:255;not null" json:"name"`
	ContactName string `gorm:"size:255" json:"contact_name,omitempty"`
	Email       string `gorm:"size:255" json:"email,omitempty"`
	Phone       string `gorm:"size:50" json:"phone,omitempty"`
	TaxNumber   string `gorm:"size:50" json:"tax_number,omitempty"`

	AddressLine1 string `gorm:"size:255" json:"address_line1,omitempty"`
	AddressLine2 string `gorm:"size:255" json:"address_line2,omitempty"`
	City         string `gorm:"size:100" json:"city,omitempty"`
	PostalCode   string `gorm:"size:20" json:"postal_code,omitempty"`
	Country      string `gorm:"size:100" json:"country,omitempty"`
}

// AddressLines returns the non-empty postal lines in display order.
func (c *Client) AddressLines() []string {
	return addressLines(c.AddressLine1, c.AddressLine2, c.PostalCode, c.City, c.Country)
}

// FullAddress renders the postal block as newline separated lines.
func (c *Client) FullAddress() string {
	return strings.Join(c.AddressLines(), "\n")
}
