package service

import (
	"context"
	"strings"

	"github.com/cpqbox/quote/backend/model"
	"golang.org/x/text/unicode/norm"
)

// LookupProvider returns every catalog record whose key fields match the
// request. Quantity bands are not filtered here; Resolve applies the policy.
// An empty result with a nil error means nothing matched.
type LookupProvider interface {
	FetchCandidates(ctx context.Context, req *model.QuoteRequest) ([]model.PriceRecord, error)
}

// normalizeKey makes catalog strings comparable with form input
func normalizeKey(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// catalogKey is the seven-field identity of a catalog product
type catalogKey struct {
	fefco    string
	x, y, z  int
	material string
	print    string
	sla      string
}

func requestKey(req *model.QuoteRequest) catalogKey {
	return catalogKey{
		fefco:    normalizeKey(req.Fefco),
		x:        req.XMM,
		y:        req.YMM,
		z:        req.ZMM,
		material: normalizeKey(req.Material),
		print:    normalizeKey(req.Print),
		sla:      normalizeKey(req.SLAType),
	}
}

func recordKey(rec *model.PriceRecord) catalogKey {
	return catalogKey{
		fefco:    normalizeKey(rec.Fefco),
		x:        rec.XMM,
		y:        rec.YMM,
		z:        rec.ZMM,
		material: normalizeKey(rec.Material),
		print:    normalizeKey(rec.Print),
		sla:      normalizeKey(rec.SLAType),
	}
}

// KeyMatches reports whether rec is eligible for req on all seven key fields
func KeyMatches(req *model.QuoteRequest, rec *model.PriceRecord) bool {
	return requestKey(req) == recordKey(rec)
}
