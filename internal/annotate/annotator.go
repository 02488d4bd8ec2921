// Package annotate defines the contract with the AI annotation service and
// ships two implementations: a deterministic keyword annotator used by
// default and in tests, and an OpenAI-backed one. Retry and rate limiting
// wrap any Annotator.
package annotate

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// ErrUnavailable is returned when the service cannot produce an
// annotation right now; callers may retry.
var ErrUnavailable = errors.New("annotation service unavailable")

// ErrRejected marks failures retrying cannot fix (bad request, bad key,
// unparsable response).
var ErrRejected = errors.New("annotation request rejected")

// Message is one conversation entry sent for annotation. Internal notes
// are never included.
type Message struct {
	Channel      domain.Channel `json:"channel"`
	FromCustomer bool           `json:"from_customer"`
	SentAt       time.Time      `json:"sent_at"`
	Body         string         `json:"body"`
}

// Request asks for an annotation of the most recent messages of a thread.
// AnnotationVersion is the thread version the messages reflect.
type Request struct {
	ThreadID          string    `json:"thread_id"`
	Messages          []Message `json:"messages"`
	AnnotationVersion int64     `json:"annotation_version"`
}

// Response is the service's view of a thread. ComputedForVersion echoes
// the request's AnnotationVersion.
type Response struct {
	Sentiment          domain.Sentiment  `json:"sentiment"`
	Intent             string            `json:"intent"`
	Tasks              []string          `json:"tasks"`
	Deadlines          []domain.Deadline `json:"deadlines"`
	Confidence         float64           `json:"confidence"`
	SuggestedTags      []string          `json:"suggested_tags,omitempty"`
	SuggestedPriority  domain.Priority   `json:"suggested_priority,omitempty"`
	ComputedForVersion int64             `json:"computed_for_version"`
}

// Annotator produces annotations. Implementations must be safe for
// concurrent use.
type Annotator interface {
	Annotate(ctx context.Context, req Request) (Response, error)
}

// AnnotatorFunc adapts a function to Annotator.
type AnnotatorFunc func(ctx context.Context, req Request) (Response, error)

// Annotate calls f.
func (f AnnotatorFunc) Annotate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// normalize clamps confidence and normalizes labels in place.
func (r *Response) normalize() {
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	r.Sentiment = domain.ParseSentiment(string(r.Sentiment))
	if p, ok := domain.ParsePriority(string(r.SuggestedPriority)); ok {
		r.SuggestedPriority = p
	} else {
		r.SuggestedPriority = ""
	}
	r.SuggestedTags = domain.NormalizeTags(r.SuggestedTags)
}
