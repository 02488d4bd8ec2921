// Package matching scores how likely a new channel identity belongs to an
// existing contact. Scoring is pure: callers fetch candidates and decide
// what to do with the confidence.
package matching

import (
	"slices"

	"github.com/xrash/smetrics"
)

// Signal names one piece of evidence behind a match.
type Signal string

const (
	SignalEmail       Signal = "email"
	SignalPhone       Signal = "phone"
	SignalHandle      Signal = "handle"
	SignalNameExact   Signal = "name_exact"
	SignalNameFuzzy   Signal = "name_fuzzy"
	SignalEmailDomain Signal = "email_domain"
	SignalPhoneSuffix Signal = "phone_suffix"
	SignalHandleName  Signal = "handle_name"
)

// Confidence contributed by each rule. Signals are combined by taking the
// strongest rule that fires, never by summing.
const (
	ConfidenceEmail        = 0.95
	ConfidencePhone        = 0.95
	ConfidenceNameWithWeak = 0.6
	ConfidenceFuzzyName    = 0.4
)

// phoneSuffixDigits is how many trailing digits make two phones "similar".
const phoneSuffixDigits = 7

// Profile is everything known about one side of a comparison. All values
// are expected to be normalized (see NormalizeEmail, NormalizePhone,
// NormalizeHandle, NameKey).
type Profile struct {
	Names   []string
	Emails  []string
	Phones  []string
	Handles []string
}

// Options tunes Blend.
type Options struct {
	// FuzzyRatio is the minimum edit-distance similarity for two names to
	// count as a fuzzy match.
	FuzzyRatio float64
}

// Match is the blended result of comparing two profiles.
type Match struct {
	Confidence float64
	Signals    []Signal
}

// Blend compares a candidate identity profile with a contact profile.
//
// Rules (the highest firing rule wins):
//   - identical normalized email: 0.95
//   - identical normalized phone: 0.95
//   - identical name key plus at least one weak signal: 0.6
//   - name similarity above FuzzyRatio (exact names included): 0.4
//
// Weak signals are a shared non-free email domain, a shared phone
// suffix, a shared chat handle and a handle equal to the compacted name.
// They never raise confidence on their own.
func Blend(candidate, contact Profile, opts Options) Match {
	var m Match
	fire := func(s Signal, c float64) {
		if !slices.Contains(m.Signals, s) {
			m.Signals = append(m.Signals, s)
		}
		if c > m.Confidence {
			m.Confidence = c
		}
	}

	if intersects(candidate.Emails, contact.Emails) {
		fire(SignalEmail, ConfidenceEmail)
	}
	if intersects(candidate.Phones, contact.Phones) {
		fire(SignalPhone, ConfidencePhone)
	}

	weak := weakSignals(candidate, contact)
	exact := intersects(nonEmpty(candidate.Names), nonEmpty(contact.Names))
	switch {
	case exact && len(weak) > 0:
		fire(SignalNameExact, ConfidenceNameWithWeak)
		for _, s := range weak {
			fire(s, ConfidenceNameWithWeak)
		}
	case exact:
		fire(SignalNameExact, ConfidenceFuzzyName)
	case bestRatio(candidate.Names, contact.Names) > opts.FuzzyRatio:
		fire(SignalNameFuzzy, ConfidenceFuzzyName)
	}
	slices.Sort(m.Signals)
	return m
}

func weakSignals(a, b Profile) []Signal {
	var out []Signal
	if sharedOrgDomain(a.Emails, b.Emails) {
		out = append(out, SignalEmailDomain)
	}
	if sharedSuffix(a.Phones, b.Phones) {
		out = append(out, SignalPhoneSuffix)
	}
	if intersects(a.Handles, b.Handles) {
		out = append(out, SignalHandle)
	}
	if handleMatchesName(a.Handles, b.Names) || handleMatchesName(b.Handles, a.Names) {
		out = append(out, SignalHandleName)
	}
	return out
}

// Ratio is 1 - levenshtein(a, b) / max(len(a), len(b)).
func Ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	longest := max(len(a), len(b))
	d := smetrics.WagnerFischer(a, b, 1, 1, 1)
	return 1 - float64(d)/float64(longest)
}

func bestRatio(as, bs []string) float64 {
	best := 0.0
	for _, a := range as {
		for _, b := range bs {
			if a == "" || b == "" {
				continue
			}
			if r := Ratio(a, b); r > best {
				best = r
			}
		}
	}
	return best
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if x != "" && slices.Contains(b, x) {
			return true
		}
	}
	return false
}

func nonEmpty(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sharedOrgDomain(a, b []string) bool {
	for _, x := range a {
		dx := EmailDomain(x)
		if dx == "" || IsFreeMail(dx) {
			continue
		}
		for _, y := range b {
			if EmailDomain(y) == dx {
				return true
			}
		}
	}
	return false
}

func sharedSuffix(a, b []string) bool {
	for _, x := range a {
		if len(PhoneSuffix(x, phoneSuffixDigits)) < phoneSuffixDigits {
			continue
		}
		for _, y := range b {
			if PhoneSuffix(x, phoneSuffixDigits) == PhoneSuffix(y, phoneSuffixDigits) {
				return true
			}
		}
	}
	return false
}

func handleMatchesName(handles, names []string) bool {
	for _, h := range handles {
		hc := CompactName(NameKey(h))
		if len(hc) < 4 {
			continue
		}
		for _, n := range names {
			if n != "" && CompactName(n) == hc {
				return true
			}
		}
	}
	return false
}
