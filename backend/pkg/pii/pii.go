// Package pii masks personal data before it reaches logs or operator chats.
package pii

import (
	"log/slog"
	"strings"
	"unicode"
)

const maskRune = '*'

// MaskPhone keeps formatting and the last two digits: +7 (999) 123-45-67 -> +* (***) ***-**-67
func MaskPhone(phone string) string {
	digits := 0
	for _, r := range phone {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	var b strings.Builder
	seen := 0
	for _, r := range phone {
		if unicode.IsDigit(r) {
			seen++
			if seen <= digits-2 {
				b.WriteRune(maskRune)
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MaskEmail keeps the first letter of the local part and the domain
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return maskWord(email)
	}
	return maskWord(email[:at]) + email[at:]
}

// MaskName masks every word of a personal name except its first letter
func MaskName(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = maskWord(w)
	}
	return strings.Join(words, " ")
}

// MaskUsername masks a messenger handle, keeping a leading @
func MaskUsername(username string) string {
	if rest, ok := strings.CutPrefix(username, "@"); ok {
		return "@" + maskWord(rest)
	}
	return maskWord(username)
}

func maskWord(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return ""
	}
	return string(runes[0]) + "***"
}

var maskers = map[string]func(string) string{
	"phone":        MaskPhone,
	"email":        MaskEmail,
	"contact_name": MaskName,
	"tg_username":  MaskUsername,
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook that masks string
// attributes named after the personal fields of a quote request.
func ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	mask, ok := maskers[a.Key]
	if !ok || a.Value.Kind() != slog.KindString {
		return a
	}
	return slog.String(a.Key, mask(a.Value.String()))
}
