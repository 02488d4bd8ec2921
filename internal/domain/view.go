package domain

import (
	"slices"
	"strings"
	"time"
)

// Sentiment is the annotated tone of a thread. The empty value means no
// annotation is available yet.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment maps free-form labels onto the known sentiments.
func ParseSentiment(s string) Sentiment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return SentimentPositive
	case "neutral", "mixed":
		return SentimentNeutral
	case "negative":
		return SentimentNegative
	default:
		return ""
	}
}

// Priority is a coarse urgency label, either set by an agent or
// suggested by annotation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority normalizes s to a known Priority.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, true
	}
	return "", false
}

// Rank orders labels low (1) to urgent (4); unknown is 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

// ThreadView is the flattened, derived view of a thread that feeds and
// the priority scorer evaluate. It is rebuilt whenever the thread, its
// contact or its annotation changes and is never persisted.
type ThreadView struct {
	ThreadID     string
	ContactID    string
	Version      int64
	Tags         []string
	Priority     Priority
	Sentiment    Sentiment
	Intent       string
	Confidence   float64
	CustomerTier Tier
	Assignee     string
	WaitTime     time.Duration
	Channels     []Channel
	MessageCount int
	Unread       bool
	Stale        bool
}

// BuildView derives the view of t from its contact tier, latest
// annotation (nil when none) and the channels its messages used.
// Manual priority wins over the suggested one; tags are the union of
// manual and suggested tags.
func BuildView(t Thread, tier Tier, ann *AnnotationSnapshot, channels []Channel, now time.Time) ThreadView {
	v := ThreadView{
		ThreadID:     t.ID,
		ContactID:    t.ContactID,
		Version:      t.Version,
		Priority:     t.Priority,
		CustomerTier: tier,
		Assignee:     t.Assignee,
		MessageCount: t.MessageCount,
		Unread:       t.Unread,
		Stale:        t.Stale(),
	}
	if v.CustomerTier == "" {
		v.CustomerTier = TierStandard
	}
	tags := append([]string(nil), t.Tags...)
	if ann != nil {
		v.Sentiment = ann.Sentiment
		v.Intent = ann.Intent
		v.Confidence = ann.Confidence
		if v.Priority == "" {
			v.Priority = ann.SuggestedPriority
		}
		tags = append(tags, ann.SuggestedTags...)
	}
	v.Tags = normalizeSet(tags)

	chans := append([]Channel(nil), channels...)
	slices.Sort(chans)
	v.Channels = slices.Compact(chans)

	// Wait time counts from the last inbound message that has not been
	// acknowledged yet.
	if t.LastInboundAt != nil && (t.AcknowledgedAt == nil || t.AcknowledgedAt.Before(*t.LastInboundAt)) {
		if w := now.Sub(*t.LastInboundAt); w > 0 {
			v.WaitTime = w
		}
	}
	return v
}

// WaitHours is WaitTime in fractional hours.
func (v ThreadView) WaitHours() float64 { return v.WaitTime.Hours() }

// SameClassification reports whether two views would classify identically.
// Version, Stale and sub-minute wait changes are ignored so repeated
// refreshes of an unchanged thread skip re-evaluation.
func (v ThreadView) SameClassification(o ThreadView) bool {
	return v.ThreadID == o.ThreadID &&
		v.Priority == o.Priority &&
		v.Sentiment == o.Sentiment &&
		v.Intent == o.Intent &&
		v.Confidence == o.Confidence &&
		v.CustomerTier == o.CustomerTier &&
		v.Assignee == o.Assignee &&
		v.MessageCount == o.MessageCount &&
		v.Unread == o.Unread &&
		v.WaitTime.Truncate(time.Minute) == o.WaitTime.Truncate(time.Minute) &&
		slices.Equal(v.Tags, o.Tags) &&
		slices.Equal(v.Channels, o.Channels)
}

func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// NormalizeTags lowercases, trims, sorts and de-duplicates tags.
func NormalizeTags(in []string) []string { return normalizeSet(in) }
