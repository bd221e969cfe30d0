package service

import (
	"fmt"
	"strings"

	"github.com/cpqbox/quote/backend/model"
	"github.com/shopspring/decimal"
)

// Catalog columns shared by the spreadsheet header and the quote_catalog table
var catalogColumns = []string{
	"fefco", "x_mm", "y_mm", "z_mm", "material", "print", "sla_type",
	"qty_min", "qty_max",
	"lead_time_std", "lead_time_rush", "lead_time_strg",
	"price_std", "margin_std", "price_rush", "margin_rush", "price_strg", "margin_strg",
	"sku", "terms",
}

// catalogRow is one catalog line before money parsing. Prices and margins
// stay text until converted so no precision is lost on the way in.
type catalogRow struct {
	Fefco    string `db:"fefco"`
	XMM      int    `db:"x_mm"`
	YMM      int    `db:"y_mm"`
	ZMM      int    `db:"z_mm"`
	Material string `db:"material"`
	Print    string `db:"print"`
	SLAType  string `db:"sla_type"`
	QtyMin   int    `db:"qty_min"`
	QtyMax   int    `db:"qty_max"`

	LeadTimeStd  string `db:"lead_time_std"`
	LeadTimeRush string `db:"lead_time_rush"`
	LeadTimeStrg string `db:"lead_time_strg"`

	PriceStd   string `db:"price_std"`
	MarginStd  string `db:"margin_std"`
	PriceRush  string `db:"price_rush"`
	MarginRush string `db:"margin_rush"`
	PriceStrg  string `db:"price_strg"`
	MarginStrg string `db:"margin_strg"`

	SKU   string   `db:"sku"`
	Terms []string `db:"terms"`
}

func (r *catalogRow) toRecord() (model.PriceRecord, error) {
	if r.QtyMin < 0 || r.QtyMax < r.QtyMin {
		return model.PriceRecord{}, fmt.Errorf("invalid quantity band %d..%d", r.QtyMin, r.QtyMax)
	}

	rec := model.PriceRecord{
		Fefco:    normalizeKey(r.Fefco),
		XMM:      r.XMM,
		YMM:      r.YMM,
		ZMM:      r.ZMM,
		Material: normalizeKey(r.Material),
		Print:    normalizeKey(r.Print),
		SLAType:  normalizeKey(r.SLAType),
		QtyMin:   r.QtyMin,
		QtyMax:   r.QtyMax,
		SKU:      strings.TrimSpace(r.SKU),
	}
	for _, t := range r.Terms {
		if t = strings.TrimSpace(t); t != "" {
			rec.Terms = append(rec.Terms, t)
		}
	}

	var err error
	if rec.Standard, err = parseTier(r.PriceStd, r.MarginStd, r.LeadTimeStd); err != nil {
		return model.PriceRecord{}, fmt.Errorf("standard tier: %w", err)
	}
	if rec.Rush, err = parseTier(r.PriceRush, r.MarginRush, r.LeadTimeRush); err != nil {
		return model.PriceRecord{}, fmt.Errorf("rush tier: %w", err)
	}
	if rec.Strategic, err = parseTier(r.PriceStrg, r.MarginStrg, r.LeadTimeStrg); err != nil {
		return model.PriceRecord{}, fmt.Errorf("strategic tier: %w", err)
	}
	return rec, nil
}

func parseTier(price, margin, leadTime string) (model.Tier, error) {
	p, err := parseMoney(price)
	if err != nil {
		return model.Tier{}, fmt.Errorf("price %q: %w", price, err)
	}
	if p.IsNegative() {
		return model.Tier{}, fmt.Errorf("price %q is negative", price)
	}
	m, err := parseMoney(margin)
	if err != nil {
		return model.Tier{}, fmt.Errorf("margin %q: %w", margin, err)
	}
	return model.Tier{Price: p, Margin: m, LeadTime: strings.TrimSpace(leadTime)}, nil
}

// parseMoney accepts both "12.50" and "12,50" and ignores thousand spaces
func parseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(s)
	return decimal.NewFromString(s)
}
