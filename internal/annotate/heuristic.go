package annotate

import (
	"context"
	"strings"
	"time"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/search"
)

// Heuristic is a deterministic keyword annotator. It needs no network
// and gives the same answer for the same messages, which makes it the
// default when no model is configured.
type Heuristic struct{}

var (
	negativeWords = set("angry", "annoyed", "awful", "broken", "cancel", "complaint", "disappointed",
		"frustrated", "furious", "horrible", "ridiculous", "terrible", "unacceptable", "useless", "worst",
		"still", "again", "twice", "overcharged", "scam")
	positiveWords = set("thanks", "thank", "great", "awesome", "love", "perfect", "excellent",
		"appreciate", "amazing", "helpful", "resolved", "happy")
	urgentWords = set("urgent", "urgently", "asap", "immediately", "emergency", "critical", "outage", "down")

	intents = []struct {
		intent string
		tag    string
		words  map[string]struct{}
	}{
		{"payment_issue", "payment", set("charge", "charged", "charges", "refund", "invoice", "billing", "billed", "payment", "card", "overcharged")},
		{"sales_inquiry", "sales", set("demo", "pricing", "price", "quote", "enterprise", "plan", "upgrade", "trial", "purchase")},
		{"technical_support", "technical", set("bug", "error", "crash", "crashes", "login", "password", "disconnect", "disconnecting", "broken", "outage", "down")},
		{"shipping", "shipping", set("shipping", "delivery", "package", "tracking", "shipped", "arrive", "arrived")},
		{"cancellation", "churn-risk", set("cancel", "cancellation", "unsubscribe", "leave", "switching")},
	}

	taskMarkers = []string{"please ", "can you ", "could you ", "need you to ", "i need ", "we need "}
	weekdays    = []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
	}
)

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Annotate scores customer messages only; agent replies and notes do not
// shift sentiment or intent.
func (Heuristic) Annotate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	resp := Response{ComputedForVersion: req.AnnotationVersion}

	var neg, pos, urgent, words int
	intentHits := make([]int, len(intents))
	var last time.Time
	for _, m := range req.Messages {
		if !m.FromCustomer {
			continue
		}
		if m.SentAt.After(last) {
			last = m.SentAt
		}
		for _, w := range search.Tokenize(m.Body) {
			words++
			if _, ok := negativeWords[w]; ok {
				neg++
			}
			if _, ok := positiveWords[w]; ok {
				pos++
			}
			if _, ok := urgentWords[w]; ok {
				urgent++
			}
			for i, in := range intents {
				if _, ok := in.words[w]; ok {
					intentHits[i]++
				}
			}
		}
		resp.Tasks = append(resp.Tasks, extractTasks(m.Body)...)
		resp.Deadlines = append(resp.Deadlines, extractDeadlines(m.Body, m.SentAt)...)
	}

	switch {
	case neg > pos:
		resp.Sentiment = domain.SentimentNegative
	case pos > neg:
		resp.Sentiment = domain.SentimentPositive
	case words > 0:
		resp.Sentiment = domain.SentimentNeutral
	}

	best := -1
	for i, n := range intentHits {
		if n > 0 && (best < 0 || n > intentHits[best]) {
			best = i
		}
	}
	if best >= 0 {
		resp.Intent = intents[best].intent
		for i, n := range intentHits {
			if n > 0 {
				resp.SuggestedTags = append(resp.SuggestedTags, intents[i].tag)
			}
		}
	} else if words > 0 {
		resp.Intent = "general"
	}

	switch {
	case urgent > 0:
		resp.SuggestedPriority = domain.PriorityUrgent
	case neg >= 2:
		resp.SuggestedPriority = domain.PriorityHigh
	case neg == 1 || best >= 0:
		resp.SuggestedPriority = domain.PriorityMedium
	case words > 0:
		resp.SuggestedPriority = domain.PriorityLow
	}

	// More evidence, more confidence; capped below certainty.
	signals := neg + pos + urgent
	for _, n := range intentHits {
		signals += n
	}
	if words > 0 {
		resp.Confidence = 0.3 + 0.1*float64(min(signals, 6))
	}
	resp.normalize()
	return resp, nil
}

func extractTasks(body string) []string {
	var out []string
	for _, sentence := range splitSentences(body) {
		lower := strings.ToLower(sentence)
		for _, mk := range taskMarkers {
			if strings.Contains(lower, mk) {
				out = append(out, sentence)
				break
			}
		}
	}
	return out
}

// extractDeadlines understands "today", "tomorrow", "by <weekday>" and
// "next week", relative to when the message was sent.
func extractDeadlines(body string, sent time.Time) []domain.Deadline {
	if sent.IsZero() {
		return nil
	}
	day := time.Date(sent.Year(), sent.Month(), sent.Day(), 17, 0, 0, 0, sent.Location())
	var out []domain.Deadline
	for _, sentence := range splitSentences(body) {
		lower := strings.ToLower(sentence)
		var due time.Time
		switch {
		case strings.Contains(lower, "today") || strings.Contains(lower, "tonight"):
			due = day
		case strings.Contains(lower, "tomorrow"):
			due = day.AddDate(0, 0, 1)
		case strings.Contains(lower, "next week"):
			due = day.AddDate(0, 0, 7)
		default:
			for _, wd := range weekdays {
				if strings.Contains(lower, "by "+strings.ToLower(wd.String())) {
					delta := (int(wd) - int(day.Weekday()) + 7) % 7
					if delta == 0 {
						delta = 7
					}
					due = day.AddDate(0, 0, delta)
					break
				}
			}
		}
		if !due.IsZero() {
			out = append(out, domain.Deadline{Task: sentence, Due: due})
		}
	}
	return out
}

func splitSentences(s string) []string {
	f := func(r rune) bool { return r == '.' || r == '!' || r == '?' || r == '\n' }
	var out []string
	for _, part := range strings.FieldsFunc(s, f) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
