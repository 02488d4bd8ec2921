package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/http/middleware"
)

// IngestRequest is the connector payload. The channel comes from the path.
type IngestRequest struct {
	ExternalMessageID string    `json:"external_message_id" example:"wamid.HBgLMTU1NTAxMjM0NTY3FQIAEhgg"`
	SenderAddress     string    `json:"sender_address" example:"+1 (555) 012-3456"`
	RecipientAddress  string    `json:"recipient_address,omitempty" example:"+1 (555) 000-1000"`
	Timestamp         time.Time `json:"timestamp" example:"2026-03-02T12:00:00Z"`
	Body              string    `json:"body" example:"Hi, I was charged twice for my order"`
	Subject           string    `json:"subject,omitempty"`
	Attachments       []string  `json:"attachments,omitempty"`
	SenderName        string    `json:"sender_name,omitempty" example:"Sarah Chen"`
	SenderEmail       string    `json:"sender_email,omitempty" example:"sarah.chen@acme.com"`
	SenderPhone       string    `json:"sender_phone,omitempty"`
}

// IngestResponse reports where a delivery landed.
type IngestResponse struct {
	Message   *domain.Message `json:"message"`
	Thread    *domain.Thread  `json:"thread"`
	ContactID string          `json:"contact_id"`
	Duplicate bool            `json:"duplicate"`
	// Resolution is empty for duplicates.
	Resolution string `json:"resolution,omitempty" example:"auto_attach"`
}

// Ingest godoc
// @ID          ingestMessage
// @Summary     Deliver a channel message
// @Description Resolves the sender to a contact, appends the message to the contact's current thread and schedules annotation.
// @Description Redeliveries (same channel and external message id) return the original message with duplicate=true and Idempotency-Replayed: true.
// @Description When external_message_id is empty the Idempotency-Key header is used instead.
// @Tags        Ingest
// @Accept      json
// @Produce     json
// @Param       channel          path    string  true  "Channel"  Enums(email, whatsapp, sms, telegram, slack, discord)
// @Param       Idempotency-Key  header  string  false "Delivery id when the payload carries none"
// @Param       body             body    handlers.IngestRequest  true  "Delivery"
// @Success     201  {object}  handlers.IngestResponse  "Accepted"
// @Success     200  {object}  handlers.IngestResponse  "Redelivery"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /channels/{channel}/messages [post]
func (h *Handlers) Ingest(c *gin.Context) {
	ch, known := domain.ParseChannel(c.Param("channel"))
	if !known {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown channel")
		return
	}
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.ExternalMessageID == "" {
		req.ExternalMessageID, _ = middleware.GetIdempotencyKey(c)
	}

	res, err := h.ingest.Ingest(c.Request.Context(), domain.InboundMessage{
		Channel:           ch,
		SenderAddress:     req.SenderAddress,
		RecipientAddress:  req.RecipientAddress,
		ExternalMessageID: req.ExternalMessageID,
		Timestamp:         req.Timestamp,
		Body:              req.Body,
		Attachments:       req.Attachments,
		Subject:           req.Subject,
		SenderName:        req.SenderName,
		SenderEmail:       req.SenderEmail,
		SenderPhone:       req.SenderPhone,
	})
	if err != nil {
		failErr(c, err)
		return
	}

	out := IngestResponse{
		Message:    res.Message,
		Thread:     res.Thread,
		ContactID:  res.ContactID,
		Duplicate:  res.Duplicate,
		Resolution: res.Resolved,
	}
	if res.Duplicate {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, out)
		return
	}
	ok(c, http.StatusCreated, out)
}
