package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
)

const openAIInstructions = `You annotate customer support conversations.
Reply with one JSON object and nothing else, using these keys:
"sentiment": "positive" | "neutral" | "negative" (the customer's tone),
"intent": short snake_case label such as payment_issue, sales_inquiry, technical_support,
"tasks": array of short imperative strings the support team must do,
"deadlines": array of {"task": string, "due": RFC3339 timestamp},
"confidence": number between 0 and 1,
"suggested_tags": array of short lowercase tags,
"suggested_priority": "low" | "medium" | "high" | "urgent".`

const openAIMaxOutputTokens = 800

// OpenAI annotates threads with a model behind the OpenAI Responses API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI builds an OpenAI annotator. baseURL may be empty.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	opts := []ooption.RequestOption{ooption.WithAPIKey(strings.TrimSpace(apiKey))}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, ooption.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

// Annotate sends the transcript and decodes the model's JSON reply.
func (o *OpenAI) Annotate(ctx context.Context, req Request) (Response, error) {
	obj := oshared.NewResponseFormatJSONObjectParam()
	params := oresponses.ResponseNewParams{
		Model:           oshared.ResponsesModel(o.model),
		MaxOutputTokens: openai.Int(openAIMaxOutputTokens),
		Instructions:    openai.String(openAIInstructions),
		Input:           oresponses.ResponseNewParamsInputUnion{OfString: openai.String(transcript(req))},
		Text: oresponses.ResponseTextConfigParam{
			Format: oresponses.ResponseFormatTextConfigUnionParam{OfJSONObject: &obj},
		},
	}
	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return Response{}, classifyOpenAIError(err)
	}
	out, err := decodeResponse(outputText(*resp))
	if err != nil {
		return Response{}, err
	}
	out.ComputedForVersion = req.AnnotationVersion
	return out, nil
}

func transcript(req Request) string {
	var b strings.Builder
	for _, m := range req.Messages {
		who := "agent"
		if m.FromCustomer {
			who = "customer"
		}
		fmt.Fprintf(&b, "[%s %s via %s] %s\n", m.SentAt.UTC().Format("2006-01-02T15:04:05Z"), who, m.Channel, strings.TrimSpace(m.Body))
	}
	return b.String()
}

func outputText(resp oresponses.Response) string {
	var sb strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.AsMessage().Content {
			if part.Type == "output_text" {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String()
}

// decodeResponse parses the model output, tolerating code fences.
func decodeResponse(text string) (Response, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return Response{}, fmt.Errorf("%w: empty model output", ErrRejected)
	}
	var out Response
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return Response{}, fmt.Errorf("%w: decode model output: %v", ErrRejected, err)
	}
	out.normalize()
	return out, nil
}

// classifyOpenAIError maps API failures onto ErrUnavailable (retry) or
// ErrRejected (do not retry).
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		case apiErr.StatusCode >= 400:
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
