package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Company is the issuing tenant. Documents, snapshots and rendered
// artifacts all hang off a company; numbering prefixes and branding
// live here.
type Company struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name               string `gorm:"size:255;not null" json:"name"`
	RegistrationNumber string `gorm:"size:50" json:"registration_number,omitempty"`
	TaxNumber          string `gorm:"size:50" json:"tax_number,omitempty"`
	Email              string `gorm:"size:255" json:"email,omitempty"`
	Phone              string `gorm:"size:50" json:"phone,omitempty"`

	// Address printed on documents
	AddressLine1 string `gorm:"size:255" json:"address_line1,omitempty"`
	AddressLine2 string `gorm:"size:255" json:"address_line2,omitempty"`
	City         string `gorm:"size:100" json:"city,omitempty"`
	PostalCode   string `gorm:"size:20" json:"postal_code,omitempty"`
	Country      string `gorm:"size:100" json:"country,omitempty"`

	// Numbering prefixes per document kind
	InvoicePrefix string `gorm:"size:20;not null;default:'INV-'" json:"invoice_prefix"`
	QuotePrefix   string `gorm:"size:20;not null;default:'QUO-'" json:"quote_prefix"`
	ReceiptPrefix string `gorm:"size:20;not null;default:'REC-'" json:"receipt_prefix"`

	DefaultCurrency string `gorm:"size:3;not null;default:'EUR'" json:"default_currency"`

	// Branding applied by the renderer and the HTML preview
	PrimaryColor string `gorm:"size:7" json:"primary_color,omitempty"`
	AccentColor  string `gorm:"size:7" json:"accent_color,omitempty"`
	FontFamily   string `gorm:"size:50" json:"font_family,omitempty"`
	LogoPath     string `gorm:"size:500" json:"logo_path,omitempty"`
}

// Branding bundles the presentation settings a renderer needs. It is a
// value copy: snapshots embed one so historical documents keep the colors
// they were locked with even after the company restyles.
type Branding struct {
	PrimaryColor string `json:"primary_color"`
	AccentColor  string `json:"accent_color"`
	FontFamily   string `json:"font_family"`
	LogoPath     string `json:"logo_path"`
}

// Branding returns the company's current presentation settings as a value.
func (c *Company) Branding() Branding {
	return Branding{
		PrimaryColor: c.PrimaryColor,
		AccentColor:  c.AccentColor,
		FontFamily:   c.FontFamily,
		LogoPath:     c.LogoPath,
	}
}

// PrefixFor returns the numbering prefix configured for a document kind.
func (c *Company) PrefixFor(kind DocumentKind) string {
	switch kind {
	case DocumentKindQuote:
		return c.QuotePrefix
	case DocumentKindReceipt:
		return c.ReceiptPrefix
	default:
		return c.InvoicePrefix
	}
}

// AddressLines returns the non-empty postal lines in display order.
func (c *Company) AddressLines() []string {
	return addressLines(c.AddressLine1, c.AddressLine2, c.PostalCode, c.City, c.Country)
}

// RGB holds the numeric components of a parsed hex color.
type RGB struct {
	R int
	G int
	B int
}

// ParseHexColor parses a "#RRGGBB" color (leading '#' optional) into its
// numeric components.
func ParseHexColor(s string) (RGB, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return RGB{}, fmt.Errorf("color %q: want 6 hex digits", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("color %q: %w", s, err)
	}
	return RGB{R: int(v >> 16 & 0xFF), G: int(v >> 8 & 0xFF), B: int(v & 0xFF)}, nil
}

func addressLines(line1, line2, postal, city, country string) []string {
	var out []string
	if line1 != "" {
		out = append(out, line1)
	}
	if line2 != "" {
		out = append(out, line2)
	}
	cityLine := strings.TrimSpace(postal + " " + city)
	if cityLine != "" {
		out = append(out, cityLine)
	}
	if country != "" {
		out = append(out, country)
	}
	return out
}
