// Package priority computes the 0..100 priority score of a thread from
// its sentiment, the feeds it belongs to, the customer tier and how long
// the customer has been waiting.
package priority

import (
	"math"
	"time"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// Component ceilings. They sum to 100, so the total never needs clamping
// in practice; Score clamps anyway.
const (
	MaxSentiment = 30
	MaxFeeds     = 30
	MaxTier      = 20
	MaxWait      = 20
)

// Scorer is a pure, deterministic priority function.
type Scorer struct {
	// FeedWeightCap caps the summed weight of member feeds (<= MaxFeeds).
	FeedWeightCap int
	// WaitSaturation is the time constant of the wait component: after
	// one WaitSaturation the component reaches ~63% of MaxWait.
	WaitSaturation time.Duration
}

// NewScorer returns a Scorer with the given cap and saturation, falling
// back to 30 and 12h for non-positive values.
func NewScorer(weightCap int, saturation time.Duration) Scorer {
	if weightCap <= 0 || weightCap > MaxFeeds {
		weightCap = MaxFeeds
	}
	if saturation <= 0 {
		saturation = 12 * time.Hour
	}
	return Scorer{FeedWeightCap: weightCap, WaitSaturation: saturation}
}

// Input is what a score is computed from.
type Input struct {
	Sentiment   domain.Sentiment
	FeedWeights []int
	Tier        domain.Tier
	Wait        time.Duration
}

// Breakdown reports each component alongside the total.
type Breakdown struct {
	Sentiment int `json:"sentiment"`
	Feeds     int `json:"feeds"`
	Tier      int `json:"tier"`
	Wait      int `json:"wait"`
	Total     int `json:"total"`
}

// Score computes the priority breakdown. It is monotonic: more negative
// sentiment, membership in an additional weighted feed, a higher tier or
// a longer wait never lower the total.
func (s Scorer) Score(in Input) Breakdown {
	b := Breakdown{
		Sentiment: sentimentPoints(in.Sentiment),
		Feeds:     s.feedPoints(in.FeedWeights),
		Tier:      tierPoints(in.Tier),
		Wait:      s.waitPoints(in.Wait),
	}
	b.Total = clamp(b.Sentiment+b.Feeds+b.Tier+b.Wait, 0, 100)
	return b
}

// Unknown sentiment scores like neutral so a missing annotation neither
// hides nor inflates a thread.
func sentimentPoints(s domain.Sentiment) int {
	switch s {
	case domain.SentimentNegative:
		return MaxSentiment
	case domain.SentimentPositive:
		return 0
	default:
		return 10
	}
}

func (s Scorer) feedPoints(weights []int) int {
	limit := s.FeedWeightCap
	if limit <= 0 || limit > MaxFeeds {
		limit = MaxFeeds
	}
	sum := 0
	for _, w := range weights {
		sum += clamp(w, 0, MaxFeeds)
		if sum >= limit {
			return limit
		}
	}
	return sum
}

func tierPoints(t domain.Tier) int {
	switch t {
	case domain.TierVIP:
		return MaxTier
	case domain.TierPremium:
		return 10
	default:
		return 0
	}
}

func (s Scorer) waitPoints(wait time.Duration) int {
	if wait <= 0 {
		return 0
	}
	tau := s.WaitSaturation
	if tau <= 0 {
		tau = 12 * time.Hour
	}
	v := MaxWait * (1 - math.Exp(-wait.Hours()/tau.Hours()))
	return clamp(int(math.Floor(v)), 0, MaxWait)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
