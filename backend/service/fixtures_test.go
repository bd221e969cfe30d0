package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cpqbox/quote/backend/config"
	"github.com/cpqbox/quote/backend/model"
	"github.com/shopspring/decimal"
)

const testSalt = "test-salt"

func scenarioRequest() model.QuoteRequest {
	return model.QuoteRequest{
		Fefco:       "0201",
		XMM:         300,
		YMM:         200,
		ZMM:         150,
		Material:    "Микрогофрокартон Крафт",
		Qty:         1000,
		SLAType:     model.SLAStandard,
		Company:     "ООО Ромашка",
		ContactName: "Иван Петров",
		City:        "Москва",
		Phone:       "+7 (999) 123-45-67",
		Email:       "ivan.petrov@example.com",
	}
}

func bandRecord(qtyMin, qtyMax int, sku string) model.PriceRecord {
	return model.PriceRecord{
		Fefco:    "0201",
		XMM:      300,
		YMM:      200,
		ZMM:      150,
		Material: "Микрогофрокартон Крафт",
		SLAType:  model.SLAStandard,
		QtyMin:   qtyMin,
		QtyMax:   qtyMax,
		SKU:      sku,
		Terms:    []string{"Предоплата 50%", "Доставка по Москве бесплатно"},
		Standard: model.Tier{
			Price:    decimal.RequireFromString("42.50"),
			Margin:   decimal.RequireFromString("18"),
			LeadTime: "10 рабочих дней",
		},
		Rush: model.Tier{
			Price:    decimal.RequireFromString("51.00"),
			Margin:   decimal.RequireFromString("22.5"),
			LeadTime: "5 рабочих дней",
		},
		Strategic: model.Tier{
			Price:    decimal.RequireFromString("38.90"),
			Margin:   decimal.RequireFromString("12"),
			LeadTime: "20 рабочих дней",
		},
	}
}

func validNarrative(priceHash string) model.Narrative {
	return model.Narrative{
		EchoPriceHash: priceHash,
		Summary:       "Предлагаем три варианта изготовления коробок FEFCO 0201.",
		Options: []model.NarrativeOption{
			{Tier: model.TierStandard, Description: "Оптимальный баланс цены и срока.", LeadTimeWording: "Обычная очередь производства.", Notes: []string{"Подходит для плановых закупок"}},
			{Tier: model.TierRush, Description: "Приоритетное производство.", LeadTimeWording: "Заказ ставится первым в очередь.", Notes: []string{}},
			{Tier: model.TierStrategic, Description: "Лучшая цена при гибком сроке.", LeadTimeWording: "Производство в окно загрузки.", Notes: []string{"Выгодно для регулярных поставок"}},
		},
		WhatIncluded: []string{"Изготовление", "Упаковка на паллеты"},
		Important:    []string{"Цены указаны без НДС"},
		CallToAction: []string{"Подтвердите выбранный вариант ответным письмом"},
	}
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// staticProvider returns fixed records filtered by key, like the real providers
type staticProvider struct {
	records []model.PriceRecord
	err     error
}

func (p *staticProvider) FetchCandidates(_ context.Context, req *model.QuoteRequest) ([]model.PriceRecord, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := []model.PriceRecord{}
	for i := range p.records {
		if KeyMatches(req, &p.records[i]) {
			out = append(out, p.records[i])
		}
	}
	return out, nil
}

// scriptedCompletion answers each call with the next reply; the last reply repeats
type scriptedCompletion struct {
	mu      sync.Mutex
	replies []func(ctx context.Context, req CompletionRequest) (string, error)
	calls   []CompletionRequest
}

func (c *scriptedCompletion) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	i := len(c.calls) - 1
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	reply := c.replies[i]
	c.mu.Unlock()
	return reply(ctx, req)
}

func (c *scriptedCompletion) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func reply(content string) func(context.Context, CompletionRequest) (string, error) {
	return func(context.Context, CompletionRequest) (string, error) {
		return content, nil
	}
}

func replyErr(err error) func(context.Context, CompletionRequest) (string, error) {
	return func(context.Context, CompletionRequest) (string, error) {
		return "", err
	}
}

func blockUntilDone(ctx context.Context, _ CompletionRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func testOpenAIConfig() *config.OpenAIConfig {
	return &config.OpenAIConfig{
		Timeout:    time.Second,
		RetryDelay: time.Millisecond,
	}
}

func testBranding() config.BrandingConfig {
	return config.BrandingConfig{
		CompanyName: "CPQ System",
		ContactInfo: "+7 (495) 123-45-67",
		ValidDays:   7,
	}
}

func newTestGenerator(client CompletionClient) *QuoteGenerator {
	return NewQuoteGenerator(client, testOpenAIConfig(), testBranding(), testSalt)
}
