package matching

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// ErrEmptyAddress is returned when an address normalizes to nothing.
var ErrEmptyAddress = errors.New("empty address")

var folder = cases.Fold()

// NormalizeAddress canonicalizes a channel address so the same person
// always produces the same identity key on that channel.
func NormalizeAddress(ch domain.Channel, raw string) (string, error) {
	var out string
	switch ch.AddressKind() {
	case domain.AddressEmail:
		out = NormalizeEmail(raw)
	case domain.AddressPhone:
		out = NormalizePhone(raw)
	default:
		out = NormalizeHandle(raw)
	}
	if out == "" {
		return "", ErrEmptyAddress
	}
	return out, nil
}

// NormalizeEmail lowercases and trims an email address. Values without a
// single '@' separating two non-empty parts normalize to "".
func NormalizeEmail(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "mailto:")
	if i := strings.LastIndexByte(s, '<'); i >= 0 && strings.HasSuffix(s, ">") {
		s = s[i+1 : len(s)-1]
	}
	local, domainPart, ok := strings.Cut(s, "@")
	if !ok || local == "" || domainPart == "" || strings.Contains(domainPart, "@") {
		return ""
	}
	return s
}

// NormalizePhone keeps digits and a leading '+'. Fewer than 5 digits
// normalize to "".
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.ToLower(s), "tel:")
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if digits := strings.TrimPrefix(out, "+"); len(digits) < 5 {
		return ""
	}
	if strings.HasPrefix(out, "00") {
		out = "+" + out[2:]
	}
	return out
}

// NormalizeHandle lowercases a chat handle and strips a leading '@'.
func NormalizeHandle(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "@")
	return folder.String(s)
}

// NameKey folds case, strips accents and punctuation and collapses
// whitespace, so "José  O'Neil" and "jose oneil" share a key.
func NameKey(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, name)
	if err != nil {
		s = name
	}
	s = folder.String(s)
	var b strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			space = true
		}
	}
	return b.String()
}

// NameBlock is the blocking key used to fetch fuzzy-name candidates.
func NameBlock(key string) string {
	r := []rune(strings.ReplaceAll(key, " ", ""))
	if len(r) > 2 {
		r = r[:2]
	}
	return string(r)
}

// CompactName is NameKey without separators, the shape handles usually take.
func CompactName(key string) string { return strings.ReplaceAll(key, " ", "") }

// EmailDomain returns the part after '@'.
func EmailDomain(email string) string {
	_, d, _ := strings.Cut(email, "@")
	return d
}

// freeMailDomains never count as a shared-organization signal.
var freeMailDomains = map[string]bool{
	"gmail.com": true, "googlemail.com": true, "outlook.com": true, "hotmail.com": true,
	"live.com": true, "yahoo.com": true, "icloud.com": true, "me.com": true,
	"aol.com": true, "proton.me": true, "protonmail.com": true, "gmx.com": true,
}

// IsFreeMail reports whether the domain is a consumer mailbox provider.
func IsFreeMail(domainPart string) bool { return freeMailDomains[domainPart] }

// PhoneSuffix is the last n digits of a normalized phone.
func PhoneSuffix(phone string, n int) string {
	d := strings.TrimPrefix(phone, "+")
	if len(d) <= n {
		return d
	}
	return d[len(d)-n:]
}
