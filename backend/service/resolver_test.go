package service

import (
	"strings"
	"testing"

	"github.com/cpqbox/quote/backend/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFallbackPicksNearestMidpoint(t *testing.T) {
	req := scenarioRequest()
	candidates := []model.PriceRecord{
		bandRecord(100, 500, "SMALL"),
		bandRecord(501, 2000, "LARGE"),
	}

	rec, err := Resolve(&req, candidates, PolicyFallback)
	require.NoError(t, err)
	assert.Equal(t, "LARGE", rec.SKU, "|1000-1250|=250 beats |1000-300|=700")
}

func TestResolveFallbackTieBreak(t *testing.T) {
	req := scenarioRequest()
	req.Qty = 600

	// midpoints 300 and 900 are both 300 away from 600
	candidates := []model.PriceRecord{
		bandRecord(800, 1000, "HIGH"),
		bandRecord(200, 400, "LOW"),
	}

	rec, err := Resolve(&req, candidates, PolicyFallback)
	require.NoError(t, err)
	assert.Equal(t, "LOW", rec.SKU)
}

func TestResolveFallbackHalfUnitMidpoint(t *testing.T) {
	req := scenarioRequest()
	req.Qty = 3

	// midpoints 2.5 and 3.5 are both 0.5 away from 3
	candidates := []model.PriceRecord{
		bandRecord(3, 4, "B"),
		bandRecord(2, 3, "A"),
	}

	rec, err := Resolve(&req, candidates, PolicyFallback)
	require.NoError(t, err)
	assert.Equal(t, "A", rec.SKU)
}

func TestResolveStrict(t *testing.T) {
	candidates := []model.PriceRecord{
		bandRecord(100, 500, "SMALL"),
		bandRecord(501, 2000, "LARGE"),
	}

	tests := []struct {
		name    string
		qty     int
		wantSKU string
	}{
		{"lower edge", 100, "SMALL"},
		{"upper edge", 500, "SMALL"},
		{"second band lower edge", 501, "LARGE"},
		{"inside second band", 1000, "LARGE"},
		{"below every band", 99, ""},
		{"above every band", 2001, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := scenarioRequest()
			req.Qty = tt.qty

			rec, err := Resolve(&req, candidates, PolicyStrict)
			if tt.wantSKU == "" {
				require.Error(t, err)
				assert.Equal(t, model.KindNotFound, model.Classify(err))
				assert.ErrorIs(t, err, model.ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSKU, rec.SKU)
		})
	}
}

func TestResolveStrictOverlappingBands(t *testing.T) {
	req := scenarioRequest()
	req.Qty = 450

	candidates := []model.PriceRecord{
		bandRecord(100, 500, "WIDE"),
		bandRecord(400, 500, "NARROW"),
	}

	rec, err := Resolve(&req, candidates, PolicyStrict)
	require.NoError(t, err)
	assert.Equal(t, "NARROW", rec.SKU)
}

func TestResolveRequiresAllKeyFields(t *testing.T) {
	base := scenarioRequest()
	mutations := map[string]func(r *model.PriceRecord){
		"fefco":    func(r *model.PriceRecord) { r.Fefco = "0202" },
		"x":        func(r *model.PriceRecord) { r.XMM = 301 },
		"y":        func(r *model.PriceRecord) { r.YMM = 201 },
		"z":        func(r *model.PriceRecord) { r.ZMM = 151 },
		"material": func(r *model.PriceRecord) { r.Material = "Микрогофрокартон Белый" },
		"print":    func(r *model.PriceRecord) { r.Print = "1+0" },
		"sla":      func(r *model.PriceRecord) { r.SLAType = model.SLARush },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			rec := bandRecord(501, 2000, "X")
			mutate(&rec)
			for _, policy := range []LookupPolicy{PolicyStrict, PolicyFallback} {
				_, err := Resolve(&base, []model.PriceRecord{rec}, policy)
				assert.Equal(t, model.KindNotFound, model.Classify(err), "policy %s", policy)
			}
		})
	}
}

func TestResolveEmptyCandidates(t *testing.T) {
	req := scenarioRequest()
	for _, policy := range []LookupPolicy{PolicyStrict, PolicyFallback} {
		_, err := Resolve(&req, nil, policy)
		assert.Equal(t, model.KindNotFound, model.Classify(err))
	}
}

func TestResolveNormalizesKeys(t *testing.T) {
	req := scenarioRequest()
	req.Material = "  Микрогофрокартон Крафт "
	req.SLAType = model.SLAStrategic

	// "й" stored decomposed as и + combining breve
	rec := bandRecord(501, 2000, "NFD")
	rec.SLAType = strings.Replace(model.SLAStrategic, "й", "\u0438\u0306", 1)

	got, err := Resolve(&req, []model.PriceRecord{rec}, PolicyStrict)
	require.NoError(t, err)
	assert.Equal(t, "NFD", got.SKU)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("fallback")
	require.NoError(t, err)
	assert.Equal(t, PolicyFallback, p)

	_, err = ParsePolicy("nearest")
	assert.Error(t, err)
}
