package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cpqbox/quote/backend/config"
	"github.com/cpqbox/quote/backend/model"
	"github.com/cpqbox/quote/backend/pkg/logger"
	"github.com/sashabaranov/go-openai/jsonschema"
)

const generateStage = "generate"

const systemPrompt = `Ты составляешь коммерческие предложения для производителя гофроупаковки.
Пиши на русском языке, деловым и дружелюбным тоном.
Не указывай цены, маржу, суммы и сроки в днях: эти значения подставляются в документ отдельно.
Отвечай строго в формате JSON по заданной схеме.`

// QuoteGenerator produces the narrative part of a quote. Prices, margins
// and lead times are never requested from the model; they are copied from
// the PriceRecord when the document is rendered.
type QuoteGenerator struct {
	client     CompletionClient
	schema     *jsonschema.Definition
	timeout    time.Duration
	retryDelay time.Duration
	salt       string
	branding   config.BrandingConfig
}

func NewQuoteGenerator(client CompletionClient, cfg *config.OpenAIConfig, branding config.BrandingConfig, salt string) *QuoteGenerator {
	return &QuoteGenerator{
		client:     client,
		schema:     NarrativeSchema(),
		timeout:    cfg.Timeout,
		retryDelay: cfg.RetryDelay,
		salt:       salt,
		branding:   branding,
	}
}

// NarrativeSchema is the strict schema for generated quote text
func NarrativeSchema() *jsonschema.Definition {
	tiers := make([]string, len(model.Tiers))
	for i, t := range model.Tiers {
		tiers[i] = string(t)
	}
	stringList := jsonschema.Definition{Type: jsonschema.Array, Items: &jsonschema.Definition{Type: jsonschema.String}}

	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"echo_price_hash": {Type: jsonschema.String},
			"summary":         {Type: jsonschema.String},
			"options": {
				Type: jsonschema.Array,
				Items: &jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"tier":              {Type: jsonschema.String, Enum: tiers},
						"description":       {Type: jsonschema.String},
						"lead_time_wording": {Type: jsonschema.String},
						"notes":             stringList,
					},
					Required:             []string{"tier", "description", "lead_time_wording", "notes"},
					AdditionalProperties: false,
				},
			},
			"what_included":  stringList,
			"important":      stringList,
			"call_to_action": stringList,
		},
		Required:             []string{"echo_price_hash", "summary", "options", "what_included", "important", "call_to_action"},
		AdditionalProperties: false,
	}
}

// PriceHash binds generated text to the exact numbers it was written for
func PriceHash(rec *model.PriceRecord, qty int, salt string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%d", salt, rec.SKU, rec.QtyMin, rec.QtyMax, qty)
	for _, name := range model.Tiers {
		t := rec.Tier(name)
		fmt.Fprintf(h, "|%s:%s:%s:%s", name, t.Price.String(), t.Margin.String(), t.LeadTime)
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Generate fills q.Narrative. A failed attempt is retried once after the
// configured delay; a second failure is returned as Upstream, or Timeout when
// the per-call deadline was hit.
func (g *QuoteGenerator) Generate(ctx context.Context, q *model.ResolvedQuote) error {
	q.PriceHash = PriceHash(&q.Record, q.Request.Qty, g.salt)
	req := CompletionRequest{
		System:     systemPrompt,
		User:       g.buildPrompt(q),
		SchemaName: "quote_narrative",
		Schema:     g.schema,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.retryDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, 1), ctx)

	attempt := 0
	var narrative model.Narrative
	err := backoff.RetryNotify(func() error {
		attempt++
		n, err := g.attempt(ctx, req, q.PriceHash)
		if err != nil {
			return err
		}
		narrative = n
		return nil
	}, policy, func(err error, wait time.Duration) {
		logger.Warn(ctx, "Narrative generation failed, retrying", "attempt", attempt, "wait", wait.String(), "error", err)
	})
	if err != nil {
		var pe *model.PipelineError
		if errors.As(err, &pe) {
			return pe
		}
		kind := model.KindUpstream
		if errors.Is(err, context.DeadlineExceeded) {
			kind = model.KindTimeout
		}
		return model.NewError(kind, generateStage, err)
	}

	q.Narrative = narrative
	return nil
}

func (g *QuoteGenerator) attempt(ctx context.Context, req CompletionRequest, priceHash string) (model.Narrative, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	content, err := g.client.Complete(callCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return model.Narrative{}, model.NewError(model.KindTimeout, generateStage, err)
		}
		return model.Narrative{}, model.NewError(model.KindUpstream, generateStage, err)
	}

	var n model.Narrative
	if err := jsonschema.VerifySchemaAndUnmarshal(*g.schema, []byte(content), &n); err != nil {
		return model.Narrative{}, model.NewError(model.KindUpstream, generateStage, fmt.Errorf("schema-invalid output: %w", err))
	}
	if err := checkNarrative(&n, priceHash); err != nil {
		return model.Narrative{}, model.NewError(model.KindUpstream, generateStage, err)
	}
	return n, nil
}

// checkNarrative enforces what the schema cannot express: each tier exactly
// once, non-empty wording, and the echoed price hash
func checkNarrative(n *model.Narrative, priceHash string) error {
	if n.EchoPriceHash != priceHash {
		return errors.New("price hash mismatch")
	}
	if strings.TrimSpace(n.Summary) == "" {
		return errors.New("empty summary")
	}
	if len(n.Options) != len(model.Tiers) {
		return fmt.Errorf("expected %d options, got %d", len(model.Tiers), len(n.Options))
	}
	seen := make(map[model.TierName]bool, len(model.Tiers))
	for _, o := range n.Options {
		if seen[o.Tier] {
			return fmt.Errorf("duplicate option %q", o.Tier)
		}
		seen[o.Tier] = true
		if strings.TrimSpace(o.Description) == "" {
			return fmt.Errorf("option %q has no description", o.Tier)
		}
	}
	for _, t := range model.Tiers {
		if !seen[t] {
			return fmt.Errorf("missing option %q", t)
		}
	}
	return nil
}

func (g *QuoteGenerator) buildPrompt(q *model.ResolvedQuote) string {
	r := &q.Request
	rec := &q.Record

	printType := r.Print
	if printType == "" {
		printType = "без печати"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Составь тексты коммерческого предложения.\n\n")
	fmt.Fprintf(&b, "КОНТРОЛЬ:\n- Номер заявки: %s\n- Дата: %s\n- Действительно до: %s\n- Хеш цен: %s\n\n",
		q.LeadID, q.IssuedAt.Format("02.01.2006"), q.ValidUntil.Format("02.01.2006"), q.PriceHash)
	fmt.Fprintf(&b, "ПОКУПАТЕЛЬ:\n- Компания: %s\n- Город: %s\n\n", orDash(r.Company), orDash(r.City))
	fmt.Fprintf(&b, "ПАРАМЕТРЫ ЗАКАЗА:\n- FEFCO: %s\n- Размеры: %s мм\n- Материал: %s\n- Печать: %s\n- Количество: %d шт\n- Выбранный вариант: %s\n\n",
		r.Fefco, r.Dimensions(), r.Material, printType, r.Qty, model.TierForSLA(r.SLAType))
	fmt.Fprintf(&b, "КАТАЛОГ:\n- Артикул: %s\n", orDash(rec.SKU))
	if len(rec.Terms) > 0 {
		fmt.Fprintf(&b, "- Условия: %s\n", strings.Join(rec.Terms, "; "))
	}
	fmt.Fprintf(&b, "\nБРЕНДИНГ:\n- Компания: %s\n- Контакты: %s\n\n", g.branding.CompanyName, g.branding.ContactInfo)

	tierNames := make([]string, len(model.Tiers))
	for i, t := range model.Tiers {
		tierNames[i] = `"` + string(t) + `"`
	}
	fmt.Fprintf(&b, "ТРЕБОВАНИЯ:\n")
	fmt.Fprintf(&b, "1. Ровно 3 варианта: %s, каждый по одному разу.\n", strings.Join(tierNames, ", "))
	fmt.Fprintf(&b, "2. Не пиши цены, суммы, проценты и количество дней.\n")
	fmt.Fprintf(&b, "3. Опиши, чем варианты отличаются по скорости и выгоде.\n")
	fmt.Fprintf(&b, "4. Перечисли, что входит в стоимость, и важные условия.\n")
	fmt.Fprintf(&b, "5. Добавь призыв к действию.\n")
	fmt.Fprintf(&b, "6. Верни echo_price_hash равным %s.\n", q.PriceHash)
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "не указано"
	}
	return s
}
