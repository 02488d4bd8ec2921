package annotate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/unified-inbox/internal/domain"
	"golang.org/x/time/rate"
)

func customer(body string, at time.Time) Message {
	return Message{Channel: domain.ChannelEmail, FromCustomer: true, SentAt: at, Body: body}
}

func TestHeuristic_NegativePayment(t *testing.T) {
	at := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC) // Wednesday
	resp, err := Heuristic{}.Annotate(context.Background(), Request{
		ThreadID:          "t1",
		AnnotationVersion: 7,
		Messages: []Message{
			customer("I was charged twice this month. This is unacceptable!", at),
			{Channel: domain.ChannelEmail, FromCustomer: false, Body: "Thanks, we love hearing from you", SentAt: at},
			customer("Please refund the duplicate charge by Friday.", at.Add(time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if resp.ComputedForVersion != 7 {
		t.Fatalf("ComputedForVersion = %d", resp.ComputedForVersion)
	}
	if resp.Sentiment != domain.SentimentNegative {
		t.Fatalf("sentiment = %q", resp.Sentiment)
	}
	if resp.Intent != "payment_issue" {
		t.Fatalf("intent = %q", resp.Intent)
	}
	if resp.SuggestedPriority != domain.PriorityHigh {
		t.Fatalf("priority = %q", resp.SuggestedPriority)
	}
	if len(resp.SuggestedTags) == 0 || resp.SuggestedTags[0] != "payment" {
		t.Fatalf("tags = %v", resp.SuggestedTags)
	}
	if len(resp.Tasks) != 1 || len(resp.Deadlines) != 1 {
		t.Fatalf("tasks=%v deadlines=%v", resp.Tasks, resp.Deadlines)
	}
	if resp.Deadlines[0].Due.Weekday() != time.Friday || resp.Deadlines[0].Due.Day() != 6 {
		t.Fatalf("deadline = %v", resp.Deadlines[0].Due)
	}
	if resp.Confidence <= 0 || resp.Confidence > 1 {
		t.Fatalf("confidence = %v", resp.Confidence)
	}
}

func TestHeuristic_UrgentAndEmpty(t *testing.T) {
	at := time.Now()
	resp, _ := Heuristic{}.Annotate(context.Background(), Request{Messages: []Message{customer("Our checkout is down, need help ASAP", at)}})
	if resp.SuggestedPriority != domain.PriorityUrgent {
		t.Fatalf("priority = %q", resp.SuggestedPriority)
	}
	resp, _ = Heuristic{}.Annotate(context.Background(), Request{})
	if resp.Sentiment != "" || resp.Intent != "" || resp.Confidence != 0 {
		t.Fatalf("no messages should produce an empty annotation: %+v", resp)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Heuristic{}).Annotate(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled context: %v", err)
	}
}

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxAttempts: n, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestResilient_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	next := AnnotatorFunc(func(ctx context.Context, req Request) (Response, error) {
		if calls.Add(1) < 3 {
			return Response{}, ErrUnavailable
		}
		return Response{Sentiment: domain.SentimentNeutral, ComputedForVersion: req.AnnotationVersion}, nil
	})
	var retries atomic.Int32
	r := NewResilient(next, fastRetry(5), nil)
	r.OnRetry = func(error, time.Duration) { retries.Add(1) }
	resp, err := r.Annotate(context.Background(), Request{ThreadID: "t", AnnotationVersion: 3})
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if resp.ComputedForVersion != 3 || calls.Load() != 3 || retries.Load() != 2 {
		t.Fatalf("resp=%+v calls=%d retries=%d", resp, calls.Load(), retries.Load())
	}
}

func TestResilient_Exhausted(t *testing.T) {
	var calls atomic.Int32
	next := AnnotatorFunc(func(context.Context, Request) (Response, error) {
		calls.Add(1)
		return Response{}, errors.New("connection reset")
	})
	_, err := NewResilient(next, fastRetry(3), nil).Annotate(context.Background(), Request{ThreadID: "t"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v; want ErrUnavailable", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d; want 3", calls.Load())
	}
}

func TestResilient_RejectedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	next := AnnotatorFunc(func(context.Context, Request) (Response, error) {
		calls.Add(1)
		return Response{}, ErrRejected
	})
	_, err := NewResilient(next, fastRetry(5), nil).Annotate(context.Background(), Request{})
	if !errors.Is(err, ErrRejected) || calls.Load() != 1 {
		t.Fatalf("err=%v calls=%d", err, calls.Load())
	}
}

func TestResilient_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	next := AnnotatorFunc(func(context.Context, Request) (Response, error) {
		cancel()
		return Response{}, ErrUnavailable
	})
	_, err := NewResilient(next, fastRetry(5), rate.NewLimiter(rate.Inf, 1)).Annotate(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
}

func TestResilient_PerAttemptTimeout(t *testing.T) {
	next := AnnotatorFunc(func(ctx context.Context, _ Request) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	})
	cfg := fastRetry(2)
	cfg.Timeout = 5 * time.Millisecond
	_, err := NewResilient(next, cfg, nil).Annotate(context.Background(), Request{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("timeouts should exhaust into ErrUnavailable, got %v", err)
	}
}

func TestDecodeResponse(t *testing.T) {
	resp, err := decodeResponse("```json\n{\"sentiment\":\"Negative\",\"intent\":\"refund\",\"confidence\":1.7,\"suggested_priority\":\"HIGH\",\"suggested_tags\":[\"Billing\",\"billing\"]}\n```")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Sentiment != domain.SentimentNegative || resp.Confidence != 1 || resp.SuggestedPriority != domain.PriorityHigh {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.SuggestedTags) != 1 || resp.SuggestedTags[0] != "billing" {
		t.Fatalf("tags = %v", resp.SuggestedTags)
	}
	if _, err := decodeResponse("not json"); !errors.Is(err, ErrRejected) {
		t.Fatalf("bad json should be rejected, got %v", err)
	}
	if _, err := decodeResponse("  "); !errors.Is(err, ErrRejected) {
		t.Fatalf("empty output should be rejected, got %v", err)
	}
}

func TestTranscript(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := transcript(Request{Messages: []Message{customer(" hi ", at)}})
	want := "[2026-01-02T03:04:05Z customer via email] hi\n"
	if got != want {
		t.Fatalf("transcript = %q; want %q", got, want)
	}
}
