package service

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cpqbox/quote/backend/config"
	"github.com/cpqbox/quote/backend/model"
	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	fontFamily = "go"
	pageMargin = 15.0
	lineHeight = 5.5
)

// PdfRenderer lays out a ResolvedQuote on a fixed A4 template. Every numeric
// value comes from the PriceRecord; the narrative only supplies wording.
type PdfRenderer struct {
	branding config.BrandingConfig
	printer  *message.Printer
}

func NewPdfRenderer(branding config.BrandingConfig) *PdfRenderer {
	return &PdfRenderer{
		branding: branding,
		printer:  message.NewPrinter(language.Russian),
	}
}

// Render returns the PDF bytes for q
func (r *PdfRenderer) Render(q *model.ResolvedQuote) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddUTF8FontFromBytes(fontFamily, "", goregular.TTF)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", gobold.TTF)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle("Коммерческое предложение "+q.LeadID, true)
	pdf.SetAuthor(r.branding.CompanyName, true)
	pdf.SetCreationDate(q.IssuedAt)
	pdf.SetModificationDate(q.IssuedAt)

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(fontFamily, "", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 4, fmt.Sprintf("%s · %s · стр. %d", r.branding.CompanyName, r.branding.ContactInfo, pdf.PageNo()),
			"T", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	r.header(pdf, q)
	r.orderSummary(pdf, q)
	r.options(pdf, q)
	r.bulletSection(pdf, "Что входит в стоимость", q.Narrative.WhatIncluded)
	r.bulletSection(pdf, "Важно", append(append([]string{}, q.Narrative.Important...), q.Record.Terms...))
	r.callToAction(pdf, q)

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to lay out pdf: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *PdfRenderer) header(pdf *fpdf.Fpdf, q *model.ResolvedQuote) {
	pdf.SetFont(fontFamily, "B", 16)
	pdf.SetTextColor(0, 86, 179)
	pdf.CellFormat(0, 9, r.branding.CompanyName, "", 1, "L", false, 0, "")

	pdf.SetFont(fontFamily, "B", 13)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 8, "Коммерческое предложение № "+q.LeadID, "", 1, "L", false, 0, "")

	pdf.SetFont(fontFamily, "", 10)
	pdf.CellFormat(0, lineHeight, "Дата: "+q.IssuedAt.Format("02.01.2006"), "", 1, "L", false, 0, "")
	pdf.SetTextColor(200, 35, 51)
	pdf.CellFormat(0, lineHeight, "Действительно до: "+q.ValidUntil.Format("02.01.2006"), "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	if q.Request.Company != "" {
		pdf.CellFormat(0, lineHeight, "Для: "+q.Request.Company, "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)

	pdf.SetFont(fontFamily, "", 11)
	pdf.MultiCell(0, lineHeight, q.Narrative.Summary, "", "L", false)
	pdf.Ln(3)
}

func (r *PdfRenderer) orderSummary(pdf *fpdf.Fpdf, q *model.ResolvedQuote) {
	req := &q.Request
	printType := req.Print
	if printType == "" {
		printType = "без печати"
	}
	rows := [][2]string{
		{"Конструкция FEFCO", req.Fefco},
		{"Размеры", req.Dimensions() + " мм"},
		{"Материал", req.Material},
		{"Печать", printType},
		{"Тираж", r.printer.Sprintf("%d шт", req.Qty)},
	}
	if q.Record.SKU != "" {
		rows = append(rows, [2]string{"Артикул", q.Record.SKU})
	}

	r.sectionTitle(pdf, "Параметры заказа")
	pdf.SetFont(fontFamily, "", 10)
	pdf.SetFillColor(245, 247, 250)
	for i, row := range rows {
		fill := i%2 == 0
		pdf.CellFormat(55, 6.5, row[0], "", 0, "L", fill, 0, "")
		pdf.CellFormat(0, 6.5, row[1], "", 1, "L", fill, 0, "")
	}
	pdf.Ln(4)
}

func (r *PdfRenderer) options(pdf *fpdf.Fpdf, q *model.ResolvedQuote) {
	r.sectionTitle(pdf, "Варианты исполнения")
	chosen := model.TierForSLA(q.Request.SLAType)
	qty := decimal.NewFromInt(int64(q.Request.Qty))

	for _, name := range model.Tiers {
		tier := q.Record.Tier(name)
		text, _ := q.Narrative.Option(name)

		title := string(name)
		if name == chosen {
			title += " (выбранный вариант)"
			pdf.SetFillColor(232, 244, 253)
		} else {
			pdf.SetFillColor(248, 249, 250)
		}
		pdf.SetFont(fontFamily, "B", 12)
		pdf.CellFormat(0, 8, title, "", 1, "L", true, 0, "")

		pdf.SetFont(fontFamily, "", 10)
		pdf.CellFormat(60, lineHeight, "Цена за единицу: "+r.money(tier.Price), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, lineHeight, "Сумма: "+r.money(tier.Price.Mul(qty)), "", 1, "L", false, 0, "")
		if tier.LeadTime != "" {
			pdf.CellFormat(0, lineHeight, "Срок изготовления: "+tier.LeadTime, "", 1, "L", false, 0, "")
		}
		if text.Description != "" {
			pdf.MultiCell(0, lineHeight, text.Description, "", "L", false)
		}
		if text.LeadTimeWording != "" {
			pdf.SetTextColor(100, 100, 100)
			pdf.MultiCell(0, lineHeight, text.LeadTimeWording, "", "L", false)
			pdf.SetTextColor(0, 0, 0)
		}
		for _, note := range text.Notes {
			pdf.MultiCell(0, lineHeight, "• "+note, "", "L", false)
		}
		pdf.Ln(3)
	}
}

func (r *PdfRenderer) bulletSection(pdf *fpdf.Fpdf, title string, items []string) {
	if len(items) == 0 {
		return
	}
	r.sectionTitle(pdf, title)
	pdf.SetFont(fontFamily, "", 10)
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			continue
		}
		pdf.MultiCell(0, lineHeight, "• "+item, "", "L", false)
	}
	pdf.Ln(3)
}

func (r *PdfRenderer) callToAction(pdf *fpdf.Fpdf, q *model.ResolvedQuote) {
	if len(q.Narrative.CallToAction) == 0 {
		return
	}
	pdf.SetFillColor(40, 167, 69)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont(fontFamily, "B", 11)
	pdf.MultiCell(0, 7, strings.Join(q.Narrative.CallToAction, "\n"), "", "C", true)
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(2)

	pdf.SetFont(fontFamily, "", 9)
	pdf.MultiCell(0, lineHeight, fmt.Sprintf("Предложение действительно до %s. %s, %s.",
		q.ValidUntil.Format("02.01.2006"), r.branding.CompanyName, r.branding.ContactInfo), "", "L", false)
}

func (r *PdfRenderer) sectionTitle(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont(fontFamily, "B", 12)
	pdf.SetTextColor(0, 86, 179)
	pdf.CellFormat(0, 8, title, "B", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(1)
}

// money formats d as rubles with Russian digit grouping, without going
// through floating point
func (r *PdfRenderer) money(d decimal.Decimal) string {
	fixed := d.StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")
	sign := ""
	if rest, ok := strings.CutPrefix(intPart, "-"); ok {
		sign, intPart = "-", rest
	}
	n, err := decimal.NewFromString(intPart)
	if err != nil || !n.IsInteger() {
		return fixed + " руб."
	}
	return sign + r.printer.Sprintf("%d", n.IntPart()) + "," + frac + " руб."
}
