package pdf

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/nmoreau/billing-core/internal/models"
)

// RenderHTML produces a browser preview of a snapshot. Branding lands in
// CSS custom properties as numeric RGB components, resolved through the
// same fallbacks as the PDF path, so both surfaces show the same theme.
func (r *Renderer) RenderHTML(snap models.SnapshotData, templateID string, b models.Branding) ([]byte, error) {
	tmpl, ok := templates[templateID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}
	th := r.themeFor(b)

	type lineView struct {
		Description string
		Quantity    string
		UnitPrice   string
		Amount      string
	}
	lines := make([]lineView, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		desc := l.Description
		if l.Discount != "" && l.Discount != "0" {
			desc += " (less " + money(l.Discount, snap.Currency) + ")"
		}
		lines = append(lines, lineView{
			Description: desc,
			Quantity:    l.Quantity,
			UnitPrice:   money(l.UnitPrice, snap.Currency),
			Amount:      money(l.LineTotal, snap.Currency),
		})
	}

	data := map[string]any{
		"Heading":  tmpl.heading,
		"DateLine": tmpl.dateLine(snap),
		"Snap":     snap,
		"From":     partyLines(snap.Company),
		"To":       partyLines(snap.Client),
		"Lines":    lines,
		"Subtotal": money(snap.Subtotal, snap.Currency),
		"TaxLabel": "Tax (" + taxRateLabel(snap.TaxRate) + ")",
		"TaxTotal": money(snap.TaxTotal, snap.Currency),
		"Total":    money(snap.Total, snap.Currency),
		"Font":     th.family,
		"PR":       th.primary.Red, "PG": th.primary.Green, "PB": th.primary.Blue,
		"AR": th.accent.Red, "AG": th.accent.Green, "AB": th.accent.Blue,
	}
	var buf bytes.Buffer
	if err := previewTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

var previewTmpl = template.Must(template.New("preview").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Heading}} {{.Snap.Number}}</title>
<style>
:root {
  --primary-r: {{.PR}};
  --primary-g: {{.PG}};
  --primary-b: {{.PB}};
  --accent-r: {{.AR}};
  --accent-g: {{.AG}};
  --accent-b: {{.AB}};
  --doc-font: {{.Font}}, sans-serif;
}
body { font-family: var(--doc-font); margin: 2rem auto; max-width: 52rem; color: #1a1a1a; }
h1 { color: rgb(var(--primary-r), var(--primary-g), var(--primary-b)); font-size: 1.4rem; }
.meta, th { color: rgb(var(--accent-r), var(--accent-g), var(--accent-b)); }
.parties { display: flex; gap: 4rem; margin: 1.5rem 0; }
.parties h2 { font-size: 0.8rem; text-transform: uppercase; color: rgb(var(--accent-r), var(--accent-g), var(--accent-b)); }
table { width: 100%; border-collapse: collapse; }
th, td { text-align: right; padding: 0.4rem 0.6rem; border-bottom: 1px solid #ddd; }
th:first-child, td:first-child { text-align: left; }
tfoot td { border-bottom: none; }
.total td { font-weight: bold; color: rgb(var(--primary-r), var(--primary-g), var(--primary-b)); }
.notes { margin-top: 1.5rem; font-size: 0.9rem; }
</style>
</head>
<body>
<h1>{{.Heading}} {{.Snap.Number}}</h1>
<p class="meta">Issued {{.Snap.IssueDate}} &middot; {{.DateLine}}</p>
<div class="parties">
  <div><h2>From</h2>{{range .From}}<div>{{.}}</div>{{end}}</div>
  <div><h2>Bill to</h2>{{range .To}}<div>{{.}}</div>{{end}}</div>
</div>
<table>
  <thead>
    <tr><th>Description</th><th>Qty</th><th>Unit price</th><th>Amount</th></tr>
  </thead>
  <tbody>
    {{range .Lines}}<tr><td>{{.Description}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Amount}}</td></tr>
    {{end}}
  </tbody>
  <tfoot>
    <tr><td colspan="3">Subtotal</td><td>{{.Subtotal}}</td></tr>
    <tr><td colspan="3">{{.TaxLabel}}</td><td>{{.TaxTotal}}</td></tr>
    <tr class="total"><td colspan="3">Total</td><td>{{.Total}}</td></tr>
  </tfoot>
</table>
{{if .Snap.Notes}}<div class="notes"><strong>Notes</strong><p>{{.Snap.Notes}}</p></div>{{end}}
</body>
</html>
`))
