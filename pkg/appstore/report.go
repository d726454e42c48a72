package appstore

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// SalesRow is one line of a SALES/SUMMARY report.
type SalesRow struct {
	SKU                string  `json:"sku"`
	Title              string  `json:"title"`
	ProductTypeID      string  `json:"product_type_id"`
	Units              float64 `json:"units"`
	DeveloperProceeds  float64 `json:"developer_proceeds"`
	CustomerPrice      float64 `json:"customer_price"`
	CustomerCurrency   string  `json:"customer_currency"`
	CurrencyOfProceeds string  `json:"currency_of_proceeds"`
	CountryCode        string  `json:"country_code"`
	AppleIdentifier    string  `json:"apple_identifier"`
	ParentIdentifier   string  `json:"parent_identifier"`
	Device             string  `json:"device"`
}

// Product type identifiers for first-time downloads and updates.
var (
	downloadTypes = map[string]bool{"1": true, "1F": true, "1T": true, "1E": true, "1EP": true, "1EU": true, "F1": true}
	updateTypes   = map[string]bool{"7": true, "7F": true, "7T": true, "F7": true}
)

// IsDownload reports whether the row counts first-time app downloads.
func (r SalesRow) IsDownload() bool { return downloadTypes[r.ProductTypeID] }

// IsUpdate reports whether the row counts app updates.
func (r SalesRow) IsUpdate() bool { return updateTypes[r.ProductTypeID] }

// IsPaid reports whether the row carries money.
func (r SalesRow) IsPaid() bool { return r.CustomerPrice != 0 || r.DeveloperProceeds != 0 }

// Gross is units times customer price.
func (r SalesRow) Gross() float64 { return r.Units * r.CustomerPrice }

// Net is units times developer proceeds.
func (r SalesRow) Net() float64 { return r.Units * r.DeveloperProceeds }

// ParseSalesReport reads the tab-separated report body. Columns are located
// by header name so Apple adding columns does not shift values.
func ParseSalesReport(r io.Reader) ([]SalesRow, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return []SalesRow{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "appstore: read report header")
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, required := range []string{"Units", "Product Type Identifier", "Apple Identifier"} {
		if _, ok := idx[required]; !ok {
			return nil, eris.Errorf("appstore: report missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	num := func(rec []string, name string) (float64, error) {
		s := field(rec, name)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	}

	rows := []SalesRow{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "appstore: read report line %d", line)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}

		row := SalesRow{
			SKU:                field(rec, "SKU"),
			Title:              field(rec, "Title"),
			ProductTypeID:      field(rec, "Product Type Identifier"),
			CustomerCurrency:   field(rec, "Customer Currency"),
			CurrencyOfProceeds: field(rec, "Currency of Proceeds"),
			CountryCode:        field(rec, "Country Code"),
			AppleIdentifier:    field(rec, "Apple Identifier"),
			ParentIdentifier:   field(rec, "Parent Identifier"),
			Device:             field(rec, "Device"),
		}
		if row.Units, err = num(rec, "Units"); err != nil {
			return nil, eris.Wrapf(err, "appstore: line %d units", line)
		}
		if row.DeveloperProceeds, err = num(rec, "Developer Proceeds"); err != nil {
			return nil, eris.Wrapf(err, "appstore: line %d proceeds", line)
		}
		if row.CustomerPrice, err = num(rec, "Customer Price"); err != nil {
			return nil, eris.Wrapf(err, "appstore: line %d customer price", line)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
