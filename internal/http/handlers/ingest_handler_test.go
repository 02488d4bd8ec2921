package handlers

import (
	"net/http"
	"testing"
)

func TestIngest_CreatesThenReplays(t *testing.T) {
	api := newAPI(t)
	req := IngestRequest{
		ExternalMessageID: "wamid.1",
		SenderAddress:     "+1 (555) 012-3456",
		Timestamp:         t0,
		Body:              "I was charged twice",
		SenderName:        "Sarah Chen",
	}

	w := api.do(t, http.MethodPost, "/channels/whatsapp/messages", req)
	expectStatus(t, w, http.StatusCreated)
	first := decode[IngestResponse](t, w)
	if first.Duplicate || first.Resolution != "new" || first.Thread == nil || first.Message == nil {
		t.Fatalf("first delivery = %+v", first)
	}
	if first.Thread.ContactID != first.ContactID || first.Thread.MessageCount != 1 {
		t.Fatalf("thread = %+v", first.Thread)
	}

	w = api.do(t, http.MethodPost, "/channels/whatsapp/messages", req)
	expectStatus(t, w, http.StatusOK)
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("missing replay header")
	}
	again := decode[IngestResponse](t, w)
	if !again.Duplicate || again.Message.ID != first.Message.ID || again.Resolution != "" {
		t.Fatalf("redelivery = %+v", again)
	}
}

func TestIngest_IdempotencyKeyStandsInForExternalID(t *testing.T) {
	api := newAPI(t)
	req := IngestRequest{SenderAddress: "a@example.org", Timestamp: t0, Body: "hello"}

	w := api.do(t, http.MethodPost, "/channels/email/messages", req, "Idempotency-Key", "delivery-42")
	expectStatus(t, w, http.StatusCreated)
	w = api.do(t, http.MethodPost, "/channels/email/messages", req, "Idempotency-Key", "delivery-42")
	expectStatus(t, w, http.StatusOK)
	if !decode[IngestResponse](t, w).Duplicate {
		t.Fatalf("key reuse must be a duplicate")
	}
}

func TestIngest_Rejects(t *testing.T) {
	api := newAPI(t)

	w := api.do(t, http.MethodPost, "/channels/pigeon/messages", IngestRequest{SenderAddress: "x", Body: "x", ExternalMessageID: "1"})
	expectCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)

	w = api.do(t, http.MethodPost, "/channels/email/messages", nil)
	expectCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)

	w = api.do(t, http.MethodPost, "/channels/email/messages", IngestRequest{ExternalMessageID: "2", Timestamp: t0, Body: "no sender"})
	expectCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)

	w = api.do(t, http.MethodPost, "/channels/email/messages", IngestRequest{ExternalMessageID: "3", SenderAddress: "nobody", Timestamp: t0, Body: "x"})
	expectCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)
}
