// Package pdf renders frozen document snapshots to PDF bytes and HTML
// previews. Rendering is pure: same snapshot, template and branding in,
// same bytes out. Layouts are a sealed set; callers pick an id, never
// supply layout code.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontfamily"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/shopspring/decimal"

	"github.com/nmoreau/billing-core/internal/models"
)

var (
	// ErrRender wraps failures inside the PDF engine or its output check.
	ErrRender = errors.New("pdf: render failed")
	// ErrUnknownTemplate rejects template ids outside the sealed set. It
	// is a render failure for callers that only check ErrRender.
	ErrUnknownTemplate = fmt.Errorf("%w: unknown template", ErrRender)
	// ErrRenderTimeout marks a render cut off at the configured ceiling.
	ErrRenderTimeout = errors.New("pdf: render timed out")
)

// Sealed template ids, one per document kind.
const (
	TemplateInvoice = "invoice"
	TemplateQuote   = "quote"
	TemplateReceipt = "receipt"
)

// TemplateFor maps a document kind to its template id.
func TemplateFor(kind models.DocumentKind) string {
	return string(kind)
}

// Renderer turns snapshots into bytes. Stateless apart from the asset
// root used to resolve logo paths.
type Renderer struct {
	AssetRoot string
}

func New(assetRoot string) *Renderer {
	return &Renderer{AssetRoot: assetRoot}
}

// Default ink used when stored branding does not parse: near-black
// primary, dark gray accent.
var (
	defaultPrimary = props.Color{Red: 26, Green: 26, Blue: 26}
	defaultAccent  = props.Color{Red: 74, Green: 74, Blue: 74}
)

// theme is the resolved, render-ready form of a Branding: parsed colors,
// an engine-accepted font family, and a verified logo path.
type theme struct {
	primary props.Color
	accent  props.Color
	family  string
	logo    string
}

func (r *Renderer) themeFor(b models.Branding) theme {
	th := theme{primary: defaultPrimary, accent: defaultAccent, family: normalizeFamily(b.FontFamily)}
	if rgb, err := models.ParseHexColor(b.PrimaryColor); err == nil {
		th.primary = props.Color{Red: rgb.R, Green: rgb.G, Blue: rgb.B}
	}
	if rgb, err := models.ParseHexColor(b.AccentColor); err == nil {
		th.accent = props.Color{Red: rgb.R, Green: rgb.G, Blue: rgb.B}
	}
	if b.LogoPath != "" {
		// confine lookups under the asset root
		p := filepath.Join(r.AssetRoot, filepath.Clean("/"+b.LogoPath))
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			th.logo = p
		}
	}
	return th
}

// normalizeFamily maps a stored font name onto the engine's core fonts.
// Unknown names fall back to helvetica rather than failing the render.
func normalizeFamily(family string) string {
	switch strings.ToLower(strings.TrimSpace(family)) {
	case "arial":
		return fontfamily.Arial
	case "courier":
		return fontfamily.Courier
	case "times", "times new roman":
		return "times"
	default:
		return fontfamily.Helvetica
	}
}

// Render produces the PDF for a snapshot. Identical inputs yield
// identical bytes: the engine metadata (including creation date) is
// pinned from the snapshot, not the clock.
func (r *Renderer) Render(snap models.SnapshotData, templateID string, b models.Branding) ([]byte, error) {
	tmpl, ok := templates[templateID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}
	th := r.themeFor(b)

	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(15).
		WithTopMargin(15).
		WithRightMargin(15).
		WithDefaultFont(&props.Font{Family: th.family, Size: 10}).
		WithTitle(snap.Number, true).
		WithAuthor(snap.Company.Name, true).
		WithCreator("billing-core", true).
		WithCreationDate(snap.LockedAt).
		Build()

	m := maroto.New(cfg)
	buildDocument(m, snap, th, tmpl)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	out := doc.GetBytes()
	if err := validatePDF(out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return out, nil
}

// validatePDF runs the emitted bytes through pdfcpu before anyone
// persists or serves them.
func validatePDF(b []byte) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.Validate(bytes.NewReader(b), cfg)
}

// money formats a stored decimal string to two places with its currency.
func money(amount, currency string) string {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return amount + " " + currency
	}
	return d.StringFixed(2) + " " + currency
}

// taxRateLabel renders a fractional rate ("0.08875") as a percentage
// ("8.875%").
func taxRateLabel(rate string) string {
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return rate
	}
	s := d.Mul(decimal.NewFromInt(100)).String()
	return s + "%"
}
