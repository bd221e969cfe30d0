package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/cpqbox/quote/backend/config"
	"github.com/cpqbox/quote/backend/model"
	"github.com/cpqbox/quote/backend/pkg/pii"
)

// Telegram rejects document captions longer than this many characters
const maxCaptionRunes = 1024

// Notification is one operator message with the quote attached
type Notification struct {
	LeadID   string
	Caption  string
	FileName string
	Document []byte
}

// Notifier delivers a notification to the operator channel
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// DeliveryError is a failed send. Retryable is set only when Telegram
// certainly did not accept the message, so a retry cannot duplicate it.
type DeliveryError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("telegram delivery failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("telegram delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a definite non-delivery
func IsRetryable(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Retryable
}

// TelegramResponse is the envelope of every Bot API answer
type TelegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters"`
}

// TelegramNotifier sends documents with sendDocument to a single chat
type TelegramNotifier struct {
	config     *config.TelegramConfig
	httpClient *http.Client
}

var _ Notifier = (*TelegramNotifier)(nil)

func NewTelegramNotifier(cfg *config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		config:     cfg,
		httpClient: &http.Client{},
	}
}

// Send uploads the document with its caption. The request deadline comes from ctx.
func (s *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	body, contentType, err := buildDocumentForm(s.config.ChatID, n)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendDocument", strings.TrimRight(s.config.APIURL, "/"), s.config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// The token is part of the URL; never let it reach the logs.
		err = redactToken(err, s.config.BotToken)
		return &DeliveryError{Retryable: isDialError(err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &DeliveryError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var result TelegramResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return &DeliveryError{StatusCode: resp.StatusCode, Retryable: resp.StatusCode >= 500, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK || !result.OK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return &DeliveryError{
			StatusCode: resp.StatusCode,
			Retryable:  retryable && !result.OK,
			Err:        fmt.Errorf("telegram API error %d: %s", result.ErrorCode, result.Description),
		}
	}
	return nil
}

func buildDocumentForm(chatID string, n Notification) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("chat_id", chatID); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("caption", truncateRunes(n.Caption, maxCaptionRunes)); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("document", n.FileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(n.Document); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// isDialError reports a failure to connect, where no request bytes were sent
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<redacted>"), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}

// OperatorSummary is the caption sent to the operator chat. Personal fields
// are masked; commercial values come from the resolved record.
func OperatorSummary(q *model.ResolvedQuote) string {
	r := &q.Request
	var b strings.Builder
	fmt.Fprintf(&b, "КП %s — %s %s, %d шт", q.LeadID, r.Fefco, r.Dimensions(), r.Qty)

	tierName := model.TierForSLA(r.SLAType)
	tier := q.Record.Tier(tierName)
	fmt.Fprintf(&b, "\n%s: %s руб./шт, маржа %s%%", tierName, tier.Price.StringFixed(2), tier.Margin.String())
	if q.Record.SKU != "" {
		fmt.Fprintf(&b, "\nSKU: %s", q.Record.SKU)
	}

	contact := []struct{ label, value string }{
		{"Компания", r.Company},
		{"Город", r.City},
		{"Контакт", pii.MaskName(r.ContactName)},
		{"Телефон", pii.MaskPhone(r.Phone)},
		{"Email", pii.MaskEmail(r.Email)},
		{"Telegram", pii.MaskUsername(r.TgUsername)},
	}
	for _, c := range contact {
		if c.value != "" {
			fmt.Fprintf(&b, "\n%s: %s", c.label, c.value)
		}
	}
	return b.String()
}
