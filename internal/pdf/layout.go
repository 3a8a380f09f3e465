package pdf

import (
	"strings"

	"github.com/johnfercher/maroto/v2/pkg/components/image"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/nmoreau/billing-core/internal/models"
)

// docTemplate binds a sealed template id to its wording. All three kinds
// share one grid; only headings and the date line differ.
type docTemplate struct {
	heading  string
	dateLine func(snap models.SnapshotData) string
}

var templates = map[string]docTemplate{
	TemplateInvoice: {heading: "Invoice", dateLine: func(s models.SnapshotData) string { return "Due " + s.DueDate }},
	TemplateQuote:   {heading: "Quote", dateLine: func(s models.SnapshotData) string { return "Valid until " + s.DueDate }},
	TemplateReceipt: {heading: "Receipt", dateLine: func(s models.SnapshotData) string { return "Paid " + s.IssueDate }},
}

func buildDocument(m core.Maroto, snap models.SnapshotData, th theme, tmpl docTemplate) {
	heading := strings.ToUpper(tmpl.heading) + " " + snap.Number

	// Header: logo when the theme resolved one, company name otherwise.
	if th.logo != "" {
		m.AddRow(18,
			image.NewFromFileCol(3, th.logo, props.Rect{Percent: 90}),
			text.NewCol(5, snap.Company.Name, props.Text{Size: 14, Style: fontstyle.Bold, Color: &th.primary}),
			text.NewCol(4, heading, props.Text{Size: 12, Style: fontstyle.Bold, Align: align.Right, Color: &th.primary}),
		)
	} else {
		m.AddRow(18,
			text.NewCol(8, snap.Company.Name, props.Text{Size: 16, Style: fontstyle.Bold, Color: &th.primary}),
			text.NewCol(4, heading, props.Text{Size: 12, Style: fontstyle.Bold, Align: align.Right, Color: &th.primary}),
		)
	}
	m.AddRow(6,
		text.NewCol(8, "Issued "+snap.IssueDate, props.Text{Size: 9, Color: &th.accent}),
		text.NewCol(4, tmpl.dateLine(snap), props.Text{Size: 9, Align: align.Right, Color: &th.accent}),
	)
	m.AddRows(line.NewRow(4, props.Line{Color: &th.accent, Thickness: 0.4, SizePercent: 100}))

	// Party blocks, side by side
	m.AddRow(7,
		text.NewCol(6, "From", props.Text{Size: 9, Style: fontstyle.Bold, Color: &th.accent}),
		text.NewCol(6, "Bill to", props.Text{Size: 9, Style: fontstyle.Bold, Color: &th.accent}),
	)
	from := partyLines(snap.Company)
	to := partyLines(snap.Client)
	for i := 0; i < len(from) || i < len(to); i++ {
		var left, right string
		if i < len(from) {
			left = from[i]
		}
		if i < len(to) {
			right = to[i]
		}
		m.AddRow(5,
			text.NewCol(6, left, props.Text{Size: 9}),
			text.NewCol(6, right, props.Text{Size: 9}),
		)
	}

	// Line items
	m.AddRows(line.NewRow(6, props.Line{Color: &th.primary, Thickness: 0.8, SizePercent: 100}))
	m.AddRow(8,
		text.NewCol(6, "Description", props.Text{Size: 9, Style: fontstyle.Bold, Color: &th.primary}),
		text.NewCol(2, "Qty", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right, Color: &th.primary}),
		text.NewCol(2, "Unit price", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right, Color: &th.primary}),
		text.NewCol(2, "Amount", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right, Color: &th.primary}),
	)
	for _, l := range snap.Lines {
		desc := l.Description
		if l.Discount != "" && l.Discount != "0" {
			desc += " (less " + money(l.Discount, snap.Currency) + ")"
		}
		m.AddRow(6,
			text.NewCol(6, desc, props.Text{Size: 9}),
			text.NewCol(2, l.Quantity, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money(l.UnitPrice, snap.Currency), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money(l.LineTotal, snap.Currency), props.Text{Size: 9, Align: align.Right}),
		)
	}

	// Totals
	m.AddRows(line.NewRow(4, props.Line{Color: &th.accent, Thickness: 0.4, SizePercent: 100}))
	m.AddRow(6,
		text.NewCol(8, "", props.Text{}),
		text.NewCol(2, "Subtotal", props.Text{Size: 9, Align: align.Right, Color: &th.accent}),
		text.NewCol(2, money(snap.Subtotal, snap.Currency), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(6,
		text.NewCol(8, "", props.Text{}),
		text.NewCol(2, "Tax ("+taxRateLabel(snap.TaxRate)+")", props.Text{Size: 9, Align: align.Right, Color: &th.accent}),
		text.NewCol(2, money(snap.TaxTotal, snap.Currency), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		text.NewCol(8, "", props.Text{}),
		text.NewCol(2, "Total", props.Text{Size: 11, Style: fontstyle.Bold, Align: align.Right, Color: &th.primary}),
		text.NewCol(2, money(snap.Total, snap.Currency), props.Text{Size: 11, Style: fontstyle.Bold, Align: align.Right, Color: &th.primary}),
	)

	if snap.Notes != "" {
		m.AddRow(6, text.NewCol(12, "Notes", props.Text{Size: 9, Style: fontstyle.Bold, Color: &th.accent}))
		m.AddRow(10, text.NewCol(12, snap.Notes, props.Text{Size: 9}))
	}
}

// partyLines flattens an identity block into printable lines.
func partyLines(p models.SnapshotParty) []string {
	lines := []string{p.Name}
	lines = append(lines, p.AddressLines...)
	if p.Email != "" {
		lines = append(lines, p.Email)
	}
	if p.Phone != "" {
		lines = append(lines, p.Phone)
	}
	if p.RegistrationNumber != "" {
		lines = append(lines, "Reg. "+p.RegistrationNumber)
	}
	if p.TaxNumber != "" {
		lines = append(lines, "Tax "+p.TaxNumber)
	}
	return lines
}
