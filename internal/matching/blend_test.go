package matching

import (
	"math/rand"
	"testing"
	"time"

	"github.com/tbourn/unified-inbox/internal/domain"
)

var opts = Options{FuzzyRatio: 0.85}

func TestBlend_Rules(t *testing.T) {
	cases := []struct {
		name      string
		probe, on Profile
		want      float64
		signal    Signal
	}{
		{
			name:   "email",
			probe:  Profile{Emails: []string{"sarah@acme.com"}},
			on:     Profile{Emails: []string{"sarah@acme.com"}, Names: []string{"sarah chen"}},
			want:   ConfidenceEmail,
			signal: SignalEmail,
		},
		{
			name:   "phone",
			probe:  Profile{Phones: []string{"+15551234567"}},
			on:     Profile{Phones: []string{"+15551234567"}},
			want:   ConfidencePhone,
			signal: SignalPhone,
		},
		{
			name:   "exact name with org domain",
			probe:  Profile{Names: []string{"sarah chen"}, Emails: []string{"s.chen@acme.com"}},
			on:     Profile{Names: []string{"sarah chen"}, Emails: []string{"sarah@acme.com"}},
			want:   ConfidenceNameWithWeak,
			signal: SignalEmailDomain,
		},
		{
			name:   "exact name with phone suffix",
			probe:  Profile{Names: []string{"sarah chen"}, Phones: []string{"5551234567"}},
			on:     Profile{Names: []string{"sarah chen"}, Phones: []string{"+15551234567"}},
			want:   ConfidenceNameWithWeak,
			signal: SignalPhoneSuffix,
		},
		{
			name:   "exact name with handle",
			probe:  Profile{Names: []string{"sarah chen"}, Handles: []string{"sarah_chen"}},
			on:     Profile{Names: []string{"sarah chen"}},
			want:   ConfidenceNameWithWeak,
			signal: SignalHandleName,
		},
		{
			name:   "exact name alone",
			probe:  Profile{Names: []string{"sarah chen"}, Phones: []string{"+15550000000"}},
			on:     Profile{Names: []string{"sarah chen"}, Emails: []string{"sarah@acme.com"}},
			want:   ConfidenceFuzzyName,
			signal: SignalNameExact,
		},
		{
			name:   "free mail domain is not a weak signal",
			probe:  Profile{Names: []string{"sarah chen"}, Emails: []string{"sc@gmail.com"}},
			on:     Profile{Names: []string{"sarah chen"}, Emails: []string{"other@gmail.com"}},
			want:   ConfidenceFuzzyName,
			signal: SignalNameExact,
		},
		{
			name:   "fuzzy name",
			probe:  Profile{Names: []string{"sarah chenn"}},
			on:     Profile{Names: []string{"sarah chen"}},
			want:   ConfidenceFuzzyName,
			signal: SignalNameFuzzy,
		},
		{
			name:  "unrelated",
			probe: Profile{Names: []string{"marcus"}, Emails: []string{"m@x.io"}},
			on:    Profile{Names: []string{"sarah chen"}, Emails: []string{"s@y.io"}},
			want:  0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := Blend(tc.probe, tc.on, opts)
			if m.Confidence != tc.want {
				t.Fatalf("confidence = %v; want %v (signals %v)", m.Confidence, tc.want, m.Signals)
			}
			if tc.signal != "" {
				found := false
				for _, s := range m.Signals {
					found = found || s == tc.signal
				}
				if !found {
					t.Fatalf("signals %v missing %s", m.Signals, tc.signal)
				}
			}
		})
	}
}

func TestBlend_MaxNotSum(t *testing.T) {
	p := Profile{
		Names:  []string{"sarah chen"},
		Emails: []string{"sarah@acme.com"},
		Phones: []string{"+15551234567"},
	}
	m := Blend(p, p, opts)
	if m.Confidence != 0.95 {
		t.Fatalf("correlated signals must not inflate confidence, got %v", m.Confidence)
	}
	if m.Confidence > 1 {
		t.Fatalf("confidence out of range")
	}
}

func TestBlend_Symmetric(t *testing.T) {
	a := Profile{Names: []string{"sarah chen"}, Handles: []string{"sarahchen"}}
	b := Profile{Names: []string{"sarah chen"}, Emails: []string{"s@acme.io"}}
	if Blend(a, b, opts).Confidence != Blend(b, a, opts).Confidence {
		t.Fatalf("blend should be symmetric")
	}
}

func TestRatio(t *testing.T) {
	if Ratio("abc", "abc") != 1 {
		t.Fatalf("identical strings")
	}
	if Ratio("", "abc") != 0 {
		t.Fatalf("empty vs non-empty")
	}
	if r := Ratio("kitten", "sitting"); r < 0.57 || r > 0.58 {
		t.Fatalf("kitten/sitting ratio = %v", r)
	}
}

func TestRank_DeterministicTieBreak(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	probe := Profile{Emails: []string{"sarah@acme.com"}}
	prof := Profile{Emails: []string{"sarah@acme.com"}}
	cands := []Candidate{
		{ContactID: "c-b", CreatedAt: base, Profile: prof},
		{ContactID: "c-a", CreatedAt: base, Profile: prof},
		{ContactID: "c-old", CreatedAt: base.Add(-time.Hour), Profile: prof},
		{ContactID: "c-none", CreatedAt: base, Profile: Profile{Names: []string{"zed"}}},
	}
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		r.Shuffle(len(cands), func(i, j int) { cands[i], cands[j] = cands[j], cands[i] })
		got := Rank(probe, cands, opts)
		if len(got) != 3 {
			t.Fatalf("zero-confidence candidates should be dropped, got %d", len(got))
		}
		if got[0].ContactID != "c-old" || got[1].ContactID != "c-a" || got[2].ContactID != "c-b" {
			t.Fatalf("order = %s %s %s", got[0].ContactID, got[1].ContactID, got[2].ContactID)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		ch   domain.Channel
		in   string
		want string
	}{
		{domain.ChannelEmail, "  Sarah@ACME.com ", "sarah@acme.com"},
		{domain.ChannelEmail, "Sarah Chen <sarah@acme.com>", "sarah@acme.com"},
		{domain.ChannelWhatsApp, "+1 (555) 123-4567", "+15551234567"},
		{domain.ChannelSMS, "0044 20 7946 0000", "+442079460000"},
		{domain.ChannelTelegram, "@SarahChen", "sarahchen"},
		{domain.ChannelSlack, "U024BE7LH", "u024be7lh"},
	}
	for _, tc := range cases {
		got, err := NormalizeAddress(tc.ch, tc.in)
		if err != nil || got != tc.want {
			t.Fatalf("NormalizeAddress(%s, %q) = %q, %v; want %q", tc.ch, tc.in, got, err, tc.want)
		}
	}
	for _, bad := range []struct {
		ch domain.Channel
		in string
	}{{domain.ChannelEmail, "not-an-email"}, {domain.ChannelSMS, "12"}, {domain.ChannelDiscord, " @ "}} {
		if _, err := NormalizeAddress(bad.ch, bad.in); err == nil {
			t.Fatalf("NormalizeAddress(%s, %q) should fail", bad.ch, bad.in)
		}
	}
	if got := NameKey("  José   O'Neil-Smith "); got != "jose oneil smith" {
		t.Fatalf("NameKey = %q", got)
	}
	if NameBlock("jose oneil") != "jo" {
		t.Fatalf("NameBlock")
	}
}
