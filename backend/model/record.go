package model

import (
	"github.com/shopspring/decimal"
)

// TierName identifies one of the three commercial options offered in a quote
type TierName string

const (
	TierStandard  TierName = "Стандарт"
	TierRush      TierName = "Срочно"
	TierStrategic TierName = "Стратегический"
)

// Tiers in the order they appear in a quote
var Tiers = []TierName{TierStandard, TierRush, TierStrategic}

// TierForSLA maps the requested SLA type to the tier it selects
func TierForSLA(sla string) TierName {
	switch sla {
	case SLARush:
		return TierRush
	case SLAStrategic:
		return TierStrategic
	default:
		return TierStandard
	}
}

// Tier holds the price, margin and lead time of one option
type Tier struct {
	Price    decimal.Decimal `json:"price_per_unit"`
	Margin   decimal.Decimal `json:"margin_pct"`
	LeadTime string          `json:"lead_time"`
}

// PriceRecord is one catalog row: a product key plus a quantity band
type PriceRecord struct {
	Fefco    string `json:"fefco"`
	XMM      int    `json:"x_mm"`
	YMM      int    `json:"y_mm"`
	ZMM      int    `json:"z_mm"`
	Material string `json:"material"`
	Print    string `json:"print"`
	SLAType  string `json:"sla_type"`

	QtyMin int `json:"qty_min"`
	QtyMax int `json:"qty_max"`

	SKU   string   `json:"sku"`
	Terms []string `json:"terms"`

	Standard  Tier `json:"standard"`
	Rush      Tier `json:"rush"`
	Strategic Tier `json:"strategic"`
}

// Tier returns the tier values for the given option name
func (p *PriceRecord) Tier(name TierName) Tier {
	switch name {
	case TierRush:
		return p.Rush
	case TierStrategic:
		return p.Strategic
	default:
		return p.Standard
	}
}

// InBand reports whether qty falls inside [QtyMin, QtyMax]
func (p *PriceRecord) InBand(qty int) bool {
	return qty >= p.QtyMin && qty <= p.QtyMax
}
