package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/observability"
	"github.com/tbourn/unified-inbox/internal/repo"
)

const ingestTracer = "services/IngestService"

// ownerAttempts bounds how often ingest re-resolves when the sender's
// identity moves to another contact between resolution and locking.
const ownerAttempts = 4

// IngestService accepts connector deliveries: it resolves the sender,
// appends the message to the right thread and deduplicates redeliveries
// by (channel, external message id).
type IngestService struct {
	DB         *gorm.DB
	Locks      *KeyedMutex
	Identities *IdentityService
	Threads    *ThreadService
	Validate   *validator.Validate
}

// NewIngestService wires an IngestService over the identity and thread
// services.
func NewIngestService(db *gorm.DB, locks *KeyedMutex, ids *IdentityService, threads *ThreadService) *IngestService {
	return &IngestService{
		DB:         db,
		Locks:      locks,
		Identities: ids,
		Threads:    threads,
		Validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// IngestResult is what a connector gets back. Duplicate is true when the
// delivery was seen before; Message and Thread then describe the original.
type IngestResult struct {
	Message   *domain.Message `json:"message"`
	Thread    *domain.Thread  `json:"thread"`
	ContactID string          `json:"contact_id"`
	Duplicate bool            `json:"duplicate"`
	Resolved  string          `json:"resolution,omitempty"`
}

// Ingest stores one inbound message. Redelivery of an accepted message is
// a no-op that returns the original.
func (s *IngestService) Ingest(ctx context.Context, in domain.InboundMessage) (*IngestResult, error) {
	ctx, span := observability.StartSpan(ctx, ingestTracer, "Ingest", attribute.String("channel", string(in.Channel)))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	res, err := s.ingest(ctx, in)
	switch {
	case err != nil && errors.Is(err, ErrInvalidInbound):
		observability.InboundMessage(string(in.Channel), "invalid")
	case err != nil:
		observability.InboundMessage(string(in.Channel), "error")
	case res.Duplicate:
		observability.InboundMessage(string(in.Channel), "duplicate")
		span.SetAttributes(attribute.Bool("ingest.duplicate", true))
	default:
		observability.InboundMessage(string(in.Channel), "accepted")
	}
	return res, err
}

func (s *IngestService) ingest(ctx context.Context, in domain.InboundMessage) (*IngestResult, error) {
	ch, err := s.check(&in)
	if err != nil {
		return nil, err
	}
	if dup, err := s.duplicate(ctx, ch, in.ExternalMessageID); dup != nil || err != nil {
		return dup, err
	}

	hints := Hints{DisplayName: in.SenderName, Email: in.SenderEmail, Phone: in.SenderPhone}
	for attempt := 0; attempt < ownerAttempts; attempt++ {
		rr, err := s.Identities.Resolve(ctx, ch, in.SenderAddress, hints)
		if err != nil {
			return nil, err
		}
		res, err := s.appendLocked(ctx, ch, in, rr)
		if errors.Is(err, errOwnerMoved) {
			continue
		}
		if errors.Is(err, ErrDuplicateMessage) {
			return s.duplicate(ctx, ch, in.ExternalMessageID)
		}
		if err != nil {
			return nil, err
		}
		s.Threads.notifier().ThreadChanged(res.Thread.ID, true)
		return res, nil
	}
	return nil, ErrConflictingVersion
}

var errOwnerMoved = errors.New("identity owner moved")

// appendLocked stores the message under the resolved contact's lock after
// confirming the identity still belongs to it.
func (s *IngestService) appendLocked(ctx context.Context, ch domain.Channel, in domain.InboundMessage, rr *ResolveResult) (*IngestResult, error) {
	unlock := s.Locks.Lock(rr.Contact.ID)
	defer unlock()

	res := &IngestResult{ContactID: rr.Contact.ID, Resolved: rr.Outcome}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ident, err := repo.GetIdentity(ctx, tx, rr.Identity.ID)
		if err != nil {
			return err
		}
		owner, err := repo.GetContact(ctx, tx, ident.ContactID)
		if err != nil {
			return err
		}
		if owner.ID != rr.Contact.ID || !owner.Active {
			return errOwnerMoved
		}

		th, msg, err := s.Threads.appendTx(ctx, tx, owner.ID, domain.Message{
			SentAt:           in.Timestamp,
			Channel:          ch,
			SenderIdentityID: &ident.ID,
			ExternalID:       in.ExternalMessageID,
			Body:             in.Body,
			Attachments:      in.Attachments,
		}, in.Subject)
		if err != nil {
			return err
		}
		_, err = repo.CreateReceipt(ctx, tx, domain.InboundReceipt{
			Channel:           ch,
			ExternalMessageID: in.ExternalMessageID,
			MessageID:         msg.ID,
			ThreadID:          th.ID,
			ContactID:         owner.ID,
		})
		if errors.Is(err, repo.ErrDuplicate) {
			// A concurrent delivery of the same message won; roll back ours.
			return ErrDuplicateMessage
		}
		if err != nil {
			return err
		}
		res.Thread, res.Message = th, msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// check validates the payload and returns its channel.
func (s *IngestService) check(in *domain.InboundMessage) (domain.Channel, error) {
	ch, ok := domain.ParseChannel(string(in.Channel))
	if !ok {
		return "", fmt.Errorf("%w: unknown channel %q", ErrInvalidInbound, in.Channel)
	}
	in.Channel = ch
	in.ExternalMessageID = strings.TrimSpace(in.ExternalMessageID)
	in.SenderAddress = strings.TrimSpace(in.SenderAddress)
	if err := s.Validate.Struct(in); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInbound, err)
	}
	if strings.TrimSpace(in.Body) == "" && len(in.Attachments) == 0 {
		return "", fmt.Errorf("%w: empty message", ErrInvalidInbound)
	}
	in.Timestamp = in.Timestamp.UTC()
	return ch, nil
}

// duplicate returns the original delivery of (ch, externalID), or nil if
// there is none.
func (s *IngestService) duplicate(ctx context.Context, ch domain.Channel, externalID string) (*IngestResult, error) {
	r, err := repo.FindReceipt(ctx, s.DB, ch, externalID)
	if err != nil || r == nil {
		return nil, err
	}
	msg, err := repo.GetMessage(ctx, s.DB, r.MessageID)
	if err != nil {
		return nil, err
	}
	// The message may have been rehomed by a thread merge.
	th, err := repo.GetThread(ctx, s.DB, msg.ThreadID)
	if err != nil {
		return nil, err
	}
	return &IngestResult{Message: msg, Thread: th, ContactID: th.ContactID, Duplicate: true}, nil
}
