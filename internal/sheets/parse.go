// Package sheets turns supplier spreadsheets into certificates.
package sheets

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/codecalc/junction-engine/internal/textutil"
	"github.com/codecalc/junction-engine/pkg/models"
)

// Workbook is a spreadsheet file as fetched from a Source.
type Workbook struct {
	Name string
	Data []byte
}

// Header aliases, folded (lowercase, no accents). The first alias found wins.
var (
	administratorHeaders = []string{"administradora"}
	typeHeaders          = []string{"tipo", "destino", "segmento", "bem", "objetivo"}
	creditHeaders        = []string{"credito", "valor credito", "valor do credito", "valor"}
	entryHeaders         = []string{"entrada fornecedor", "entrada parceiro", "entrada"}
	installmentHeaders   = []string{"parcelas"}
	dueDateHeaders       = []string{"vencimento", "data de vencimento"}
	supplierHeaders      = []string{"fornecedor", "parceiro"}
)

var thousandsOnly = regexp.MustCompile(`^-?\d{1,3}(\.\d{3})+$`)

var dateLayouts = []string{
	"2/1/2006",
	"2/1/06",
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

type columns struct {
	administrator, typ, credit, entry, installments, dueDate, supplier int
}

func mapColumns(header []string) columns {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := textutil.Fold(h)
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}
	pick := func(aliases []string) int {
		for _, a := range aliases {
			if i, ok := index[a]; ok {
				return i
			}
		}
		return -1
	}
	return columns{
		administrator: pick(administratorHeaders),
		typ:           pick(typeHeaders),
		credit:        pick(creditHeaders),
		entry:         pick(entryHeaders),
		installments:  pick(installmentHeaders),
		dueDate:       pick(dueDateHeaders),
		supplier:      pick(supplierHeaders),
	}
}

// Parse reads the first sheet of wb. Rows without an administrator or a type
// are skipped. Certificate IDs are "<workbook>#<spreadsheet row>".
func Parse(wb Workbook) ([]models.Certificate, error) {
	f, err := excelize.OpenReader(bytes.NewReader(wb.Data))
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", wb.Name, err)
	}
	defer f.Close()

	sheetNames := f.GetSheetList()
	if len(sheetNames) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheetNames[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows of %s: %w", wb.Name, err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	cols := mapColumns(rows[0])
	certs := make([]models.Certificate, 0, len(rows)-1)
	for i, row := range rows[1:] {
		cell := func(col int) string {
			if col < 0 || col >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[col])
		}

		admin, typ := cell(cols.administrator), cell(cols.typ)
		if admin == "" || typ == "" {
			continue
		}
		certs = append(certs, models.Certificate{
			ID:            fmt.Sprintf("%s#%d", wb.Name, i+2),
			Administrator: admin,
			Type:          typ,
			Credit:        ParseMoney(cell(cols.credit)),
			SupplierEntry: ParseMoney(cell(cols.entry)),
			Installments:  cell(cols.installments),
			DueDate:       ParseDate(cell(cols.dueDate)),
			Supplier:      cell(cols.supplier),
			Source:        wb.Name,
		})
	}
	return certs, nil
}

// ParseMoney reads a BRL amount such as "R$ 1.234,56". Plain numbers
// ("1234.56") are read as-is; anything unparseable is 0.
func ParseMoney(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, "R$", ""))
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0
	}
	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case thousandsOnly.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseDate reads day-first dates, ISO dates and Excel serial numbers.
// It returns nil when s is not a date.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial >= 1 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return &t
		}
	}
	return nil
}
