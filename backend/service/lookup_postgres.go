package service

import (
	"context"
	"fmt"

	"github.com/cpqbox/quote/backend/model"
	"github.com/cpqbox/quote/backend/pkg/logger"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const selectCandidatesQuery = `
SELECT fefco, x_mm, y_mm, z_mm, material, print, sla_type,
       qty_min, qty_max,
       lead_time_std, lead_time_rush, lead_time_strg,
       price_std::text  AS price_std,  margin_std::text  AS margin_std,
       price_rush::text AS price_rush, margin_rush::text AS margin_rush,
       price_strg::text AS price_strg, margin_strg::text AS margin_strg,
       sku, terms
FROM quote_catalog
WHERE fefco = $1 AND x_mm = $2 AND y_mm = $3 AND z_mm = $4
  AND material = $5 AND print = $6 AND sla_type = $7`

const qtyBandPredicate = `
  AND $8 BETWEEN qty_min AND qty_max`

// PostgresProvider queries the quote_catalog table. Under the strict policy
// the quantity band is filtered in SQL as well; under fallback every band of
// the product is returned so the resolver can measure distances.
type PostgresProvider struct {
	db     DBTX
	policy LookupPolicy
}

var _ LookupProvider = (*PostgresProvider)(nil)

func NewPostgresProvider(db DBTX, policy LookupPolicy) *PostgresProvider {
	return &PostgresProvider{db: db, policy: policy}
}

func (p *PostgresProvider) FetchCandidates(ctx context.Context, req *model.QuoteRequest) ([]model.PriceRecord, error) {
	query, args := p.buildQuery(req)

	var rows []catalogRow
	if err := pgxscan.Select(ctx, p.db, &rows, query, args...); err != nil {
		return nil, model.NewError(model.KindUpstream, "lookup", fmt.Errorf("failed to query catalog: %w", err))
	}

	records := make([]model.PriceRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			logger.Warn(ctx, "Skipped malformed catalog row", "sku", rows[i].SKU, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (p *PostgresProvider) buildQuery(req *model.QuoteRequest) (string, []any) {
	args := []any{
		normalizeKey(req.Fefco),
		req.XMM,
		req.YMM,
		req.ZMM,
		normalizeKey(req.Material),
		normalizeKey(req.Print),
		normalizeKey(req.SLAType),
	}
	if p.policy == PolicyStrict {
		return selectCandidatesQuery + qtyBandPredicate, append(args, req.Qty)
	}
	return selectCandidatesQuery, args
}
