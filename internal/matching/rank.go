package matching

import (
	"cmp"
	"slices"
	"time"
)

// Candidate is an existing contact considered for a probe identity.
type Candidate struct {
	ContactID string
	CreatedAt time.Time
	Profile   Profile
}

// Ranked pairs a candidate with its match.
type Ranked struct {
	Candidate
	Match Match
}

// Rank scores every candidate against probe and returns those with a
// positive confidence, best first. Ties go to the older contact, then to
// the smaller ID, so the outcome never depends on input order.
func Rank(probe Profile, cands []Candidate, opts Options) []Ranked {
	out := make([]Ranked, 0, len(cands))
	for _, c := range cands {
		m := Blend(probe, c.Profile, opts)
		if m.Confidence > 0 {
			out = append(out, Ranked{Candidate: c, Match: m})
		}
	}
	slices.SortFunc(out, func(a, b Ranked) int {
		if c := cmp.Compare(b.Match.Confidence, a.Match.Confidence); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ContactID, b.ContactID)
	})
	return out
}
