package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cpqbox/quote/backend/config"
	"github.com/cpqbox/quote/backend/model"
	"github.com/cpqbox/quote/backend/pkg/logger"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const defaultSheetsRefreshTimeout = 20 * time.Second

// sheetSnapshot is an immutable copy of the catalog. checkedAt is the last
// refresh attempt, successful or not; loadedAt is when records were read.
type sheetSnapshot struct {
	records   []model.PriceRecord
	loadedAt  time.Time
	checkedAt time.Time
}

// SheetsProvider serves candidates from an in-memory copy of the catalog tab.
// The copy is replaced atomically after the cache TTL; concurrent readers
// share a single refresh and keep the previous copy if the refresh fails.
// A failed refresh is not retried until another TTL has passed.
type SheetsProvider struct {
	values         *sheets.SpreadsheetsValuesService
	spreadsheetID  string
	readRange      string
	ttl            time.Duration
	refreshTimeout time.Duration

	snapshot atomic.Pointer[sheetSnapshot]
	refresh  singleflight.Group
	now      func() time.Time
}

var _ LookupProvider = (*SheetsProvider)(nil)

// NewSheetsProvider creates the Sheets API client once. opts are passed to
// the client; when empty, credentials come from cfg.
func NewSheetsProvider(ctx context.Context, cfg *config.SheetsConfig, opts ...option.ClientOption) (*SheetsProvider, error) {
	if len(opts) == 0 {
		switch {
		case cfg.CredentialsFile != "":
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		case cfg.APIKey != "":
			opts = append(opts, option.WithAPIKey(cfg.APIKey))
		}
		opts = append(opts, option.WithScopes(sheets.SpreadsheetsReadonlyScope))
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}

	refreshTimeout := cfg.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = defaultSheetsRefreshTimeout
	}

	return &SheetsProvider{
		values:         svc.Spreadsheets.Values,
		spreadsheetID:  cfg.SpreadsheetID,
		readRange:      cfg.Tab + "!A:Z",
		ttl:            cfg.CacheTTL,
		refreshTimeout: refreshTimeout,
		now:            time.Now,
	}, nil
}

// Warm loads the first snapshot so the first request does not pay for it
func (p *SheetsProvider) Warm(ctx context.Context) error {
	_, err := p.load(ctx)
	return err
}

func (p *SheetsProvider) FetchCandidates(ctx context.Context, req *model.QuoteRequest) ([]model.PriceRecord, error) {
	snap := p.snapshot.Load()
	if snap == nil || p.now().Sub(snap.checkedAt) >= p.ttl {
		fresh, err := p.load(ctx)
		switch {
		case err == nil:
			snap = fresh
		case ctx.Err() != nil:
			// The caller's deadline, not the catalog, is the failure here.
			return nil, ctx.Err()
		case snap != nil:
			logger.Warn(ctx, "Catalog refresh failed, serving previous snapshot",
				"error", err, "age", p.now().Sub(snap.loadedAt).String())
		default:
			return nil, model.NewError(model.KindUpstream, "lookup", err)
		}
	}

	matches := []model.PriceRecord{}
	for i := range snap.records {
		if KeyMatches(req, &snap.records[i]) {
			matches = append(matches, snap.records[i])
		}
	}
	return matches, nil
}

// load refreshes the snapshot. The refresh is shared by concurrent callers
// and detached from their cancellation; each caller stops waiting when its
// own ctx is done.
func (p *SheetsProvider) load(ctx context.Context) (*sheetSnapshot, error) {
	ch := p.refresh.DoChan("catalog", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.refreshTimeout)
		defer cancel()

		resp, err := p.values.Get(p.spreadsheetID, p.readRange).Context(rctx).Do()
		if err != nil {
			if prev := p.snapshot.Load(); prev != nil {
				p.snapshot.Store(&sheetSnapshot{records: prev.records, loadedAt: prev.loadedAt, checkedAt: p.now()})
			}
			return nil, fmt.Errorf("failed to read sheet %s: %w", p.readRange, err)
		}

		records, skipped := parseSheet(resp.Values)
		if skipped > 0 {
			logger.Warn(ctx, "Skipped malformed catalog rows", "skipped", skipped, "loaded", len(records))
		}
		now := p.now()
		snap := &sheetSnapshot{records: records, loadedAt: now, checkedAt: now}
		p.snapshot.Store(snap)
		logger.Debug(ctx, "Catalog snapshot refreshed", "records", len(records))
		return snap, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sheetSnapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// parseSheet converts rows into records using the first row as the header.
// Rows that cannot be parsed are counted and dropped.
func parseSheet(rows [][]any) ([]model.PriceRecord, int) {
	if len(rows) == 0 {
		return nil, 0
	}

	header := make(map[string]int, len(rows[0]))
	for i, cell := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(fmt.Sprint(cell)))] = i
	}

	var (
		records []model.PriceRecord
		skipped int
	)
	for _, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		rec, err := parseSheetRow(header, row)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped
}

func parseSheetRow(header map[string]int, row []any) (model.PriceRecord, error) {
	cell := func(name string) string {
		i, ok := header[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(row[i]))
	}
	var firstErr error
	num := func(name string) int {
		n, err := strconv.Atoi(strings.ReplaceAll(cell(name), " ", ""))
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("column %s: %w", name, err)
		}
		return n
	}

	r := catalogRow{
		Fefco:        cell("fefco"),
		XMM:          num("x_mm"),
		YMM:          num("y_mm"),
		ZMM:          num("z_mm"),
		Material:     cell("material"),
		Print:        cell("print"),
		SLAType:      cell("sla_type"),
		QtyMin:       num("qty_min"),
		QtyMax:       num("qty_max"),
		LeadTimeStd:  cell("lead_time_std"),
		LeadTimeRush: cell("lead_time_rush"),
		LeadTimeStrg: cell("lead_time_strg"),
		PriceStd:     cell("price_std"),
		MarginStd:    cell("margin_std"),
		PriceRush:    cell("price_rush"),
		MarginRush:   cell("margin_rush"),
		PriceStrg:    cell("price_strg"),
		MarginStrg:   cell("margin_strg"),
		SKU:          cell("sku"),
		Terms:        strings.Split(cell("terms"), ";"),
	}
	if firstErr != nil {
		return model.PriceRecord{}, firstErr
	}
	if r.Fefco == "" || r.Material == "" || r.SLAType == "" {
		return model.PriceRecord{}, errors.New("missing key columns")
	}
	return r.toRecord()
}

func isBlankRow(row []any) bool {
	for _, c := range row {
		if strings.TrimSpace(fmt.Sprint(c)) != "" {
			return false
		}
	}
	return true
}
