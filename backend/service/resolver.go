package service

import (
	"fmt"

	"github.com/cpqbox/quote/backend/model"
)

// LookupPolicy selects how a quantity is matched against catalog bands
type LookupPolicy string

const (
	// PolicyStrict requires a band that contains the requested quantity
	PolicyStrict LookupPolicy = "strict"
	// PolicyFallback picks the band whose midpoint is nearest to the quantity
	PolicyFallback LookupPolicy = "fallback"
)

// ParsePolicy converts a configuration value into a LookupPolicy
func ParsePolicy(s string) (LookupPolicy, error) {
	switch LookupPolicy(s) {
	case PolicyStrict, PolicyFallback:
		return LookupPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown lookup policy %q", s)
	}
}

// Resolve picks exactly one record for req from candidates.
//
// Only candidates matching all key fields are eligible. Under PolicyStrict the
// eligible record whose band contains the quantity wins; overlapping bands
// are ordered the same way as under fallback.
// Under PolicyFallback the record minimizing |qty - (qty_min+qty_max)/2| wins,
// ties going to the smaller qty_min, then the smaller qty_max, then SKU.
// Returns a NotFound error when nothing is eligible.
func Resolve(req *model.QuoteRequest, candidates []model.PriceRecord, policy LookupPolicy) (model.PriceRecord, error) {
	var (
		best  *model.PriceRecord
		bestD int
	)
	for i := range candidates {
		c := &candidates[i]
		if !KeyMatches(req, c) {
			continue
		}
		if policy != PolicyFallback && !c.InBand(req.Qty) {
			continue
		}
		d := midpointDistance(req.Qty, c)
		if best == nil || less(d, c, bestD, best) {
			best, bestD = c, d
		}
	}

	if best == nil {
		return model.PriceRecord{}, &model.PipelineError{
			Kind:  model.KindNotFound,
			Stage: "lookup",
			Err:   fmt.Errorf("%w: policy=%s qty=%d", model.ErrNotFound, policy, req.Qty),
		}
	}
	return *best, nil
}

// midpointDistance is |2*qty - (qty_min+qty_max)|, twice the real distance,
// kept in integers so half-unit midpoints compare exactly.
func midpointDistance(qty int, rec *model.PriceRecord) int {
	d := 2*qty - (rec.QtyMin + rec.QtyMax)
	if d < 0 {
		return -d
	}
	return d
}

func less(d int, a *model.PriceRecord, bestD int, b *model.PriceRecord) bool {
	if d != bestD {
		return d < bestD
	}
	if a.QtyMin != b.QtyMin {
		return a.QtyMin < b.QtyMin
	}
	if a.QtyMax != b.QtyMax {
		return a.QtyMax < b.QtyMax
	}
	return a.SKU < b.SKU
}
