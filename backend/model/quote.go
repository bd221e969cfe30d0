package model

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// Dimension and quantity limits accepted by the quote form
const (
	MinDimensionMM = 20
	MaxDimensionMM = 1200
	MinQty         = 1
	MaxQty         = 100000
)

// FEFCO codes
var FefcoCodes = []string{
	"0201", "0202", "0203", "0204", "0205",
	"0206", "0207", "0208", "0209", "0210",
}

// Materials
var Materials = []string{
	"Микрогофрокартон Крафт",
	"Микрогофрокартон Белый",
	"Одностенный гофрокартон",
	"Двухстенный гофрокартон",
	"Трехстенный гофрокартон",
}

// PrintTypes lists color schemes; an empty print means an unprinted box
var PrintTypes = []string{"1+0", "1+1", "2+0", "2+1", "4+0", "4+1"}

// SLA types
const (
	SLAStandard  = "стандарт"
	SLARush      = "срочно"
	SLAStrategic = "стратегический"
)

var SLATypes = []string{SLAStandard, SLARush, SLAStrategic}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// QuoteRequest is a validated quote form submission
type QuoteRequest struct {
	Fefco    string `json:"fefco"`
	XMM      int    `json:"x_mm"`
	YMM      int    `json:"y_mm"`
	ZMM      int    `json:"z_mm"`
	Material string `json:"material"`
	Print    string `json:"print,omitempty"`
	Qty      int    `json:"qty"`
	SLAType  string `json:"sla_type"`

	Company     string `json:"company,omitempty"`
	ContactName string `json:"contact_name,omitempty"`
	City        string `json:"city,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	TgUsername  string `json:"tg_username,omitempty"`
}

// Validate checks field ranges and enums. All problems are reported at once
// in a single Validation error.
func (r *QuoteRequest) Validate() error {
	var problems []string
	add := func(field, msg string) {
		problems = append(problems, field+": "+msg)
	}

	if !slices.Contains(FefcoCodes, r.Fefco) {
		add("fefco", "unsupported FEFCO code")
	}
	for _, d := range []struct {
		name  string
		value int
	}{{"x_mm", r.XMM}, {"y_mm", r.YMM}, {"z_mm", r.ZMM}} {
		if d.value < MinDimensionMM || d.value > MaxDimensionMM {
			add(d.name, fmt.Sprintf("must be between %d and %d", MinDimensionMM, MaxDimensionMM))
		}
	}
	if !slices.Contains(Materials, r.Material) {
		add("material", "unsupported material")
	}
	if r.Print != "" && !slices.Contains(PrintTypes, r.Print) {
		add("print", "unsupported print type")
	}
	if r.Qty < MinQty || r.Qty > MaxQty {
		add("qty", fmt.Sprintf("must be between %d and %d", MinQty, MaxQty))
	}
	if !slices.Contains(SLATypes, r.SLAType) {
		add("sla_type", "unsupported SLA type")
	}

	for _, f := range []struct {
		name  string
		value string
		max   int
	}{
		{"company", r.Company, 200},
		{"contact_name", r.ContactName, 100},
		{"city", r.City, 100},
		{"phone", r.Phone, 20},
		{"email", r.Email, 254},
		{"tg_username", r.TgUsername, 50},
	} {
		if utf8.RuneCountInString(f.value) > f.max {
			add(f.name, fmt.Sprintf("must be at most %d characters", f.max))
		}
	}
	if r.Email != "" && !emailPattern.MatchString(r.Email) {
		add("email", "invalid email address")
	}

	if len(problems) > 0 {
		return &PipelineError{
			Kind:    KindValidation,
			Stage:   "validate",
			Message: "Validation failed: " + strings.Join(problems, "; "),
		}
	}
	return nil
}

// Dimensions returns the box size formatted as XxYxZ
func (r *QuoteRequest) Dimensions() string {
	return fmt.Sprintf("%d×%d×%d", r.XMM, r.YMM, r.ZMM)
}
