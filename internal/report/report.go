package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html/template"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"backoffice/backend/internal/domain"
	"backoffice/backend/internal/register"
)

const sheetName = "Week"

// weekHTMLTmpl renders the printable week sheet. Store ids and adjustment
// names are escaped by html/template.
var weekHTMLTmpl = template.Must(template.New("week-report").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal, symbol string) string { return register.FormatAmount(d, symbol) },
}).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Register Week {{.Detail.Week.StartDate}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    td.num { text-align: right; }
    h2, h3 { margin-bottom: 4px; }
  </style>
</head>
<body>
  <h2>Register Week {{.Detail.Week.StartDate}} to {{.Detail.Week.EndDate}}</h2>
  <p>Store: {{.Detail.Week.StoreID}}</p>
  <p>Opening PB: {{money .Detail.Summary.OpeningBalance .Currency}}</p>

  <h3>Daily Entries</h3>
  <table>
    <thead><tr><th>Date</th><th>Business</th><th>Payout</th><th>Card</th><th>Over/Short</th><th>Cash</th></tr></thead>
    <tbody>{{range .Detail.Entries}}<tr><td>{{.EntryDate}}</td><td class="num">{{money .Business $.Currency}}</td><td class="num">{{money .Payout $.Currency}}</td><td class="num">{{money .Card $.Currency}}</td><td class="num">{{money .OverShort $.Currency}}</td><td class="num">{{money .Cash $.Currency}}</td></tr>{{end}}</tbody>
    <tfoot><tr><th>Total</th><td class="num">{{money .Detail.Summary.TotalBusiness .Currency}}</td><td class="num">{{money .Detail.Summary.TotalPayout .Currency}}</td><td class="num">{{money .Detail.Summary.TotalCard .Currency}}</td><td class="num">{{money .Detail.Summary.TotalOverShort .Currency}}</td><td class="num">{{money .Detail.Summary.TotalCash .Currency}}</td></tr></tfoot>
  </table>

  <h3>Payouts</h3>
  <table>
    <thead><tr><th>Name</th><th>Amount</th></tr></thead>
    <tbody>{{range .Detail.Payouts}}<tr><td>{{.Name}}</td><td class="num">{{money .Amount $.Currency}}</td></tr>{{end}}</tbody>
    <tfoot><tr><th>Total</th><td class="num">{{money .Detail.Summary.TotalPayouts .Currency}}</td></tr></tfoot>
  </table>

  <h3>Additional Cash</h3>
  <table>
    <thead><tr><th>Name</th><th>Amount</th></tr></thead>
    <tbody>{{range .Detail.AdditionalCash}}<tr><td>{{.Name}}</td><td class="num">{{money .Amount $.Currency}}</td></tr>{{end}}</tbody>
    <tfoot><tr><th>Total</th><td class="num">{{money .Detail.Summary.TotalAdditionalCash .Currency}}</td></tr></tfoot>
  </table>

  <h3>Closing PB: {{money .Detail.Summary.ClosingBalance .Currency}}</h3>
</body>
</html>
`))

// RenderHTML writes the printable sheet of one week.
func RenderHTML(w io.Writer, detail domain.WeekDetail, currency string) error {
	var buf bytes.Buffer
	err := weekHTMLTmpl.Execute(&buf, struct {
		Detail   domain.WeekDetail
		Currency string
	}{Detail: detail, Currency: currency})
	if err != nil {
		return fmt.Errorf("render week report: %w", err)
	}
	_, err = buf.WriteTo(w)
	return err
}

// WriteCSV writes the week as section,key,value rows.
func WriteCSV(w io.Writer, detail domain.WeekDetail) error {
	cw := csv.NewWriter(w)
	s := detail.Summary
	rows := [][]string{
		{"section", "key", "value"},
		{"week", "store_id", detail.Week.StoreID},
		{"week", "start_date", detail.Week.StartDate},
		{"week", "end_date", detail.Week.EndDate},
	}
	for _, e := range detail.Entries {
		rows = append(rows,
			[]string{"entry", e.EntryDate + "_business", e.Business.StringFixed(2)},
			[]string{"entry", e.EntryDate + "_payout", e.Payout.StringFixed(2)},
			[]string{"entry", e.EntryDate + "_card", e.Card.StringFixed(2)},
			[]string{"entry", e.EntryDate + "_over_short", e.OverShort.StringFixed(2)},
			[]string{"entry", e.EntryDate + "_cash", e.Cash.StringFixed(2)},
		)
	}
	for _, a := range detail.Adjustments() {
		rows = append(rows, []string{string(a.Kind), a.Name, a.Amount.StringFixed(2)})
	}
	rows = append(rows,
		[]string{"summary", "total_business", s.TotalBusiness.StringFixed(2)},
		[]string{"summary", "total_payout", s.TotalPayout.StringFixed(2)},
		[]string{"summary", "total_card", s.TotalCard.StringFixed(2)},
		[]string{"summary", "total_over_short", s.TotalOverShort.StringFixed(2)},
		[]string{"summary", "total_cash", s.TotalCash.StringFixed(2)},
		[]string{"summary", "total_payouts", s.TotalPayouts.StringFixed(2)},
		[]string{"summary", "total_additional_cash", s.TotalAdditionalCash.StringFixed(2)},
		[]string{"summary", "opening_balance", s.OpeningBalance.StringFixed(2)},
		[]string{"summary", "closing_balance", s.ClosingBalance.StringFixed(2)},
	)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write week csv: %w", err)
	}
	return nil
}

// WriteXLSX writes the week as a single-sheet workbook.
func WriteXLSX(w io.Writer, detail domain.WeekDetail) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	s := detail.Summary
	rows := [][]any{
		{"Store", detail.Week.StoreID},
		{"Week", detail.Week.StartDate, detail.Week.EndDate},
		{"Opening PB", amount(s.OpeningBalance)},
		{},
		{"Date", "Business", "Payout", "Card", "Over/Short", "Cash"},
	}
	for _, e := range detail.Entries {
		rows = append(rows, []any{e.EntryDate, amount(e.Business), amount(e.Payout), amount(e.Card), amount(e.OverShort), amount(e.Cash)})
	}
	rows = append(rows,
		[]any{"Total", amount(s.TotalBusiness), amount(s.TotalPayout), amount(s.TotalCard), amount(s.TotalOverShort), amount(s.TotalCash)},
		[]any{},
		[]any{"Kind", "Name", "Amount"},
	)
	for _, a := range detail.Adjustments() {
		rows = append(rows, []any{string(a.Kind), a.Name, amount(a.Amount)})
	}
	rows = append(rows,
		[]any{},
		[]any{"Total Payouts", amount(s.TotalPayouts)},
		[]any{"Total Additional Cash", amount(s.TotalAdditionalCash)},
		[]any{"Closing PB", amount(s.ClosingBalance)},
	)

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write week xlsx: %w", err)
	}
	return nil
}

func amount(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
