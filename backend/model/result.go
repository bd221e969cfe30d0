package model

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// State of a quote request inside the pipeline
type State string

const (
	StateReceived  State = "received"
	StateLookedUp  State = "looked_up"
	StateGenerated State = "generated"
	StateRendered  State = "rendered"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// NarrativeOption is the generated wording for one tier. It never carries
// prices, margins or lead time values; those are read from the PriceRecord.
type NarrativeOption struct {
	Tier            TierName `json:"tier"`
	Description     string   `json:"description"`
	LeadTimeWording string   `json:"lead_time_wording"`
	Notes           []string `json:"notes"`
}

// Narrative is the schema-constrained text produced by the completion service
type Narrative struct {
	EchoPriceHash string            `json:"echo_price_hash"`
	Summary       string            `json:"summary"`
	Options       []NarrativeOption `json:"options"`
	WhatIncluded  []string          `json:"what_included"`
	Important     []string          `json:"important"`
	CallToAction  []string          `json:"call_to_action"`
}

// Option returns the narrative for the given tier
func (n *Narrative) Option(name TierName) (NarrativeOption, bool) {
	for _, o := range n.Options {
		if o.Tier == name {
			return o, true
		}
	}
	return NarrativeOption{}, false
}

// ResolvedQuote binds one request to its catalog record and generated text.
// It lives only for the duration of a single pipeline run.
type ResolvedQuote struct {
	LeadID     string
	Request    QuoteRequest
	Record     PriceRecord
	Narrative  Narrative
	PriceHash  string
	IssuedAt   time.Time
	ValidUntil time.Time
}

// QuoteArtifact is a stored PDF
type QuoteArtifact struct {
	LeadID      string
	URL         string
	ContentType string
	Data        []byte
}

// PipelineResult is the uniform outcome returned to the HTTP layer
type PipelineResult struct {
	OK        bool
	PDFURL    string
	LeadID    string
	ErrorKind ErrorKind
	Message   string
}

// Success builds a successful result
func Success(pdfURL, leadID string) PipelineResult {
	return PipelineResult{OK: true, PDFURL: pdfURL, LeadID: leadID}
}

// Failure builds a failed result from err; the message is the public one
func Failure(err error) PipelineResult {
	res := PipelineResult{ErrorKind: Classify(err)}
	var pe *PipelineError
	if errors.As(err, &pe) {
		res.Message = pe.PublicMessage()
	} else {
		res.Message = res.ErrorKind.PublicMessage()
	}
	return res
}

// HTTPStatus maps the result to a response code
func (r PipelineResult) HTTPStatus() int {
	if r.OK {
		return http.StatusOK
	}
	return r.ErrorKind.HTTPStatus()
}

type pipelineResultJSON struct {
	OK     bool   `json:"ok"`
	PDFURL string `json:"pdf_url,omitempty"`
	LeadID string `json:"lead_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (r PipelineResult) MarshalJSON() ([]byte, error) {
	if r.OK {
		return json.Marshal(pipelineResultJSON{OK: true, PDFURL: r.PDFURL, LeadID: r.LeadID})
	}
	return json.Marshal(pipelineResultJSON{Error: r.Message})
}
