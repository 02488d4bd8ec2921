// Package services – IdentityService
//
// IdentityService is the Identity Resolver. It maps (channel, address)
// pairs to contacts, scores unknown identities against existing contacts
// and either attaches them, suggests a merge, or starts a new contact.
// Manual merge and unmerge run under per-contact locks with optimistic
// version checks on the contacts involved, and every change is recorded
// in the contact's provenance log.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/matching"
	"github.com/tbourn/unified-inbox/internal/observability"
	"github.com/tbourn/unified-inbox/internal/repo"
)

const identityTracer = "services/IdentityService"

// resolveAttempts bounds retries after losing an identity insert race.
const resolveAttempts = 3

// IdentityService resolves and reorganizes contacts.
type IdentityService struct {
	DB      *gorm.DB
	Locks   *KeyedMutex
	Threads *ThreadService
	Notify  Notifier

	AutoMergeThreshold float64
	SuggestionFloor    float64
	FuzzyRatio         float64
	// MergeRetries bounds how often a merge or unmerge is retried after an
	// optimistic version conflict.
	MergeRetries int
}

// NewIdentityService returns an IdentityService with the default
// thresholds.
func NewIdentityService(db *gorm.DB, locks *KeyedMutex, threads *ThreadService) *IdentityService {
	return &IdentityService{
		DB:                 db,
		Locks:              locks,
		Threads:            threads,
		Notify:             nopNotifier{},
		AutoMergeThreshold: 0.9,
		SuggestionFloor:    0.5,
		FuzzyRatio:         0.85,
		MergeRetries:       3,
	}
}

func (s *IdentityService) notifier() Notifier {
	if s.Notify == nil {
		return nopNotifier{}
	}
	return s.Notify
}

// Hints are profile details a connector knows about the sender beyond the
// address itself.
type Hints struct {
	DisplayName string
	Email       string
	Phone       string
}

// Resolution outcomes.
const (
	ResolvedExisting   = "existing"
	ResolvedAttached   = "auto_attach"
	ResolvedSuggested  = "suggested"
	ResolvedNewContact = "new"
)

// ResolveResult describes how an identity was resolved.
type ResolveResult struct {
	Contact    *domain.Contact         `json:"contact"`
	Identity   *domain.Identity        `json:"identity"`
	Outcome    string                  `json:"outcome"`
	Confidence float64                 `json:"confidence"`
	Signals    []matching.Signal       `json:"signals,omitempty"`
	Suggestion *domain.MergeSuggestion `json:"suggestion,omitempty"`
}

// Resolve returns the contact owning (ch, address), creating or attaching
// the identity when it is new.
func (s *IdentityService) Resolve(ctx context.Context, ch domain.Channel, address string, hints Hints) (*ResolveResult, error) {
	ctx, span := observability.StartSpan(ctx, identityTracer, "Resolve", attribute.String("channel", string(ch)))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	addr, err := matching.NormalizeAddress(ch, address)
	if err != nil {
		err = fmt.Errorf("%w: %s address: %v", ErrInvalidInbound, ch, err)
		return nil, err
	}

	var res *ResolveResult
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		res, err = s.resolveOnce(ctx, ch, addr, hints)
		if !errors.Is(err, repo.ErrDuplicate) && !errors.Is(err, repo.ErrStaleVersion) {
			break
		}
	}
	if errors.Is(err, repo.ErrStaleVersion) {
		err = ErrConflictingVersion
	}
	if err != nil {
		return nil, err
	}
	observability.Resolution(res.Outcome)
	span.SetAttributes(attribute.String("resolve.outcome", res.Outcome), attribute.String("contact.id", res.Contact.ID))
	return res, nil
}

func (s *IdentityService) resolveOnce(ctx context.Context, ch domain.Channel, addr string, hints Hints) (*ResolveResult, error) {
	ident, err := repo.GetIdentityByAddress(ctx, s.DB, ch, addr)
	if err == nil {
		c, err := repo.ResolveActiveContact(ctx, s.DB, ident.ContactID)
		if err != nil {
			return nil, err
		}
		return &ResolveResult{Contact: c, Identity: ident, Outcome: ResolvedExisting, Confidence: 1}, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	probe, draft := s.probe(ch, addr, hints)
	nameKey := matching.NameKey(hints.DisplayName)
	cands, err := repo.FindCandidateContacts(ctx, s.DB, repo.CandidateQuery{
		Emails:    probe.Emails,
		Phones:    probe.Phones,
		Handles:   probe.Handles,
		NameKey:   nameKey,
		NameBlock: matching.NameBlock(nameKey),
	})
	if err != nil {
		return nil, err
	}
	ranked := matching.Rank(probe, candidates(cands), matching.Options{FuzzyRatio: s.FuzzyRatio})

	if len(ranked) > 0 && ranked[0].Match.Confidence >= s.AutoMergeThreshold {
		return s.attach(ctx, ranked[0], draft)
	}
	var best *matching.Ranked
	if len(ranked) > 0 && ranked[0].Match.Confidence >= s.SuggestionFloor {
		best = &ranked[0]
	}
	return s.createContact(ctx, draft, nameKey, best)
}

// probe builds the match profile of a new identity and the identity row
// that would store it.
func (s *IdentityService) probe(ch domain.Channel, addr string, hints Hints) (matching.Profile, domain.Identity) {
	draft := domain.Identity{
		Channel:     ch,
		Address:     addr,
		DisplayName: strings.TrimSpace(hints.DisplayName),
		Email:       matching.NormalizeEmail(hints.Email),
		Phone:       matching.NormalizePhone(hints.Phone),
	}
	switch ch.AddressKind() {
	case domain.AddressEmail:
		draft.Email = addr
	case domain.AddressPhone:
		draft.Phone = addr
	}
	return profileOf([]domain.Identity{draft}, ""), draft
}

// profileOf summarizes identities (and an optional contact name key) for
// matching.
func profileOf(idents []domain.Identity, nameKey string) matching.Profile {
	var p matching.Profile
	add := func(list *[]string, v string) {
		if v == "" {
			return
		}
		for _, x := range *list {
			if x == v {
				return
			}
		}
		*list = append(*list, v)
	}
	add(&p.Names, nameKey)
	for _, id := range idents {
		add(&p.Names, matching.NameKey(id.DisplayName))
		add(&p.Emails, id.Email)
		add(&p.Phones, id.Phone)
		if id.Channel.AddressKind() == domain.AddressHandle {
			add(&p.Handles, id.Address)
		}
	}
	return p
}

func candidates(cs []domain.Contact) []matching.Candidate {
	out := make([]matching.Candidate, len(cs))
	for i, c := range cs {
		out[i] = matching.Candidate{
			ContactID: c.ID,
			CreatedAt: c.CreatedAt,
			Profile:   profileOf(c.Identities, c.NameKey),
		}
	}
	return out
}

// attach adds draft to the matched contact under its lock.
func (s *IdentityService) attach(ctx context.Context, best matching.Ranked, draft domain.Identity) (*ResolveResult, error) {
	unlock := s.Locks.Lock(best.ContactID)
	defer unlock()

	res := &ResolveResult{Outcome: ResolvedAttached, Confidence: best.Match.Confidence, Signals: best.Match.Signals}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := repo.GetContact(ctx, tx, best.ContactID)
		if err != nil {
			return err
		}
		if !c.Active {
			return repo.ErrStaleVersion
		}
		draft.ContactID = c.ID
		ident, err := repo.CreateIdentity(ctx, tx, draft)
		if err != nil {
			return err
		}
		updates := map[string]any{}
		if c.DisplayName == "" && draft.DisplayName != "" {
			updates["display_name"] = draft.DisplayName
			updates["name_key"] = matching.NameKey(draft.DisplayName)
			updates["name_block"] = matching.NameBlock(matching.NameKey(draft.DisplayName))
		}
		if err := repo.BumpContact(ctx, tx, c.ID, c.Version, updates); err != nil {
			return err
		}
		conf := best.Match.Confidence
		if err := repo.AppendProvenance(ctx, tx, domain.ProvenanceEntry{
			ContactID:  c.ID,
			Kind:       domain.ProvenanceAttached,
			Actor:      domain.ActorSystem,
			IdentityID: &ident.ID,
			Confidence: &conf,
			Signals:    signalStrings(best.Match.Signals),
		}); err != nil {
			return err
		}
		res.Identity = ident
		res.Contact, err = repo.GetContact(ctx, tx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("component", "identity").
		Str("contact_id", res.Contact.ID).Str("identity_id", res.Identity.ID).
		Float64("confidence", res.Confidence).Msg("identity auto-attached")
	return res, nil
}

// createContact starts a new contact for draft and, when best is set,
// suggests merging it into best.
func (s *IdentityService) createContact(ctx context.Context, draft domain.Identity, nameKey string, best *matching.Ranked) (*ResolveResult, error) {
	res := &ResolveResult{Outcome: ResolvedNewContact}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := repo.CreateContact(ctx, tx, draft.DisplayName, nameKey, matching.NameBlock(nameKey), domain.TierStandard)
		if err != nil {
			return err
		}
		draft.ContactID = c.ID
		ident, err := repo.CreateIdentity(ctx, tx, draft)
		if err != nil {
			return err
		}
		entry := domain.ProvenanceEntry{
			ContactID:  c.ID,
			Kind:       domain.ProvenanceCreated,
			Actor:      domain.ActorSystem,
			IdentityID: &ident.ID,
		}
		if best != nil {
			conf := best.Match.Confidence
			entry.Confidence = &conf
			entry.Signals = signalStrings(best.Match.Signals)
			sug, err := repo.CreateSuggestion(ctx, tx, domain.MergeSuggestion{
				ContactID:   c.ID,
				CandidateID: best.ContactID,
				IdentityID:  ident.ID,
				Confidence:  best.Match.Confidence,
				Signals:     signalStrings(best.Match.Signals),
			})
			if err != nil {
				return err
			}
			res.Suggestion = sug
			res.Outcome = ResolvedSuggested
			res.Confidence = best.Match.Confidence
			res.Signals = best.Match.Signals
		}
		if err := repo.AppendProvenance(ctx, tx, entry); err != nil {
			return err
		}
		res.Contact, res.Identity = c, ident
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func signalStrings(sig []matching.Signal) []string {
	out := make([]string, len(sig))
	for i, s := range sig {
		out[i] = string(s)
	}
	return out
}

// Merge folds source into target: identities and threads move to target,
// source becomes inactive and points at target, and overlapping threads
// are merged. Merging a contact into itself, or one that already resolves
// to target, is a no-op returning the surviving contact.
func (s *IdentityService) Merge(ctx context.Context, targetID, sourceID, actor string) (*domain.Contact, error) {
	ctx, span := observability.StartSpan(ctx, identityTracer, "Merge",
		attribute.String("contact.target", targetID), attribute.String("contact.source", sourceID))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	if actor = strings.TrimSpace(actor); actor == "" {
		actor = domain.ActorSystem
	}
	for attempt := 0; attempt <= s.MergeRetries; attempt++ {
		var target, source *domain.Contact
		if target, err = s.active(ctx, targetID); err != nil {
			return nil, err
		}
		if source, err = s.active(ctx, sourceID); err != nil {
			return nil, err
		}
		if target.ID == source.ID {
			return target, nil
		}

		var out *domain.Contact
		var changed, closed []string
		unlock := s.Locks.LockMany(target.ID, source.ID)
		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			out, changed, closed, err = s.mergeTx(ctx, tx, target.ID, source.ID, actor)
			return err
		})
		unlock()
		if errors.Is(err, repo.ErrStaleVersion) {
			continue
		}
		if err != nil {
			observability.ContactOp("merge", "error")
			return nil, err
		}
		for _, id := range closed {
			s.notifier().ThreadClosed(id)
		}
		for _, id := range changed {
			s.notifier().ThreadChanged(id, true)
		}
		s.refreshContact(ctx, out.ID, changed)
		observability.ContactOp("merge", "ok")
		log.Info().Str("component", "identity").Str("actor", actor).
			Str("target_id", out.ID).Str("source_id", source.ID).
			Int("threads_merged", len(closed)).Msg("contacts merged")
		return out, nil
	}
	observability.ContactOp("merge", "conflict")
	err = ErrConflictingVersion
	return nil, err
}

func (s *IdentityService) mergeTx(ctx context.Context, tx *gorm.DB, targetID, sourceID, actor string) (*domain.Contact, []string, []string, error) {
	target, err := repo.GetContact(ctx, tx, targetID)
	if err != nil {
		return nil, nil, nil, err
	}
	source, err := repo.GetContact(ctx, tx, sourceID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !target.Active || !source.Active {
		// Someone merged one of them while we waited for the locks.
		return nil, nil, nil, repo.ErrStaleVersion
	}

	idents, err := repo.ListIdentities(ctx, tx, source.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	moved, err := repo.ListContactThreads(ctx, tx, source.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := repo.MoveIdentities(ctx, tx, source.ID, target.ID); err != nil {
		return nil, nil, nil, err
	}
	if err := repo.MoveThreads(ctx, tx, source.ID, target.ID); err != nil {
		return nil, nil, nil, err
	}
	movedIDs := make([]string, len(moved))
	for i, th := range moved {
		movedIDs[i] = th.ID
	}
	if err := repo.RetargetReceiptContact(ctx, tx, movedIDs, target.ID); err != nil {
		return nil, nil, nil, err
	}

	entries := make([]domain.ProvenanceEntry, 0, len(idents)+1)
	for _, id := range idents {
		identID := id.ID
		entries = append(entries, domain.ProvenanceEntry{
			ContactID: target.ID, Kind: domain.ProvenanceMerge, Actor: actor,
			IdentityID: &identID, OtherContactID: &source.ID,
		})
	}
	entries = append(entries, domain.ProvenanceEntry{
		ContactID: source.ID, Kind: domain.ProvenanceMergedInto, Actor: actor, OtherContactID: &target.ID,
	})
	if err := repo.AppendProvenance(ctx, tx, entries...); err != nil {
		return nil, nil, nil, err
	}

	if err := repo.DeactivateContact(ctx, tx, source.ID, source.Version, target.ID); err != nil {
		return nil, nil, nil, err
	}
	updates := map[string]any{}
	if source.Tier.Rank() > target.Tier.Rank() {
		updates["tier"] = source.Tier
	}
	if target.DisplayName == "" && source.DisplayName != "" {
		updates["display_name"] = source.DisplayName
		updates["name_key"] = source.NameKey
		updates["name_block"] = source.NameBlock
	}
	if err := repo.BumpContact(ctx, tx, target.ID, target.Version, updates); err != nil {
		return nil, nil, nil, err
	}

	if err := repo.AcceptSuggestionsBetween(ctx, tx, target.ID, source.ID, actor); err != nil {
		return nil, nil, nil, err
	}
	if err := repo.RetargetSuggestions(ctx, tx, source.ID, target.ID, actor); err != nil {
		return nil, nil, nil, err
	}

	changed, closed, err := s.Threads.consolidate(ctx, tx, target.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	out, err := repo.GetContact(ctx, tx, target.ID)
	return out, changed, closed, err
}

// refreshContact schedules a refresh of every open thread of a contact
// not already covered by skip; tier changes affect all of them.
func (s *IdentityService) refreshContact(ctx context.Context, contactID string, skip []string) {
	open, err := repo.ListContactThreads(ctx, s.DB, contactID, domain.ThreadOpen)
	if err != nil {
		log.Warn().Err(err).Str("component", "identity").Str("contact_id", contactID).Msg("list threads for refresh")
		return
	}
	seen := make(map[string]bool, len(skip))
	for _, id := range skip {
		seen[id] = true
	}
	for _, th := range open {
		if !seen[th.ID] {
			s.notifier().ThreadChanged(th.ID, false)
		}
	}
}

// active loads the surviving contact for id.
func (s *IdentityService) active(ctx context.Context, id string) (*domain.Contact, error) {
	c, err := repo.ResolveActiveContact(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrContactNotFound
	}
	return c, err
}

// UnmergeResult reports what an unmerge moved. Ambiguous lists threads
// that mix messages of the detached identity with others; they stay with
// Contact and are flagged for manual review.
type UnmergeResult struct {
	Contact   *domain.Contact `json:"contact"`
	Detached  *domain.Contact `json:"detached"`
	Moved     []string        `json:"moved_threads"`
	Ambiguous []string        `json:"ambiguous_threads"`
}

// Unmerge detaches one identity from a contact. The identity returns to
// the contact it was last merged from when that contact can be restored,
// otherwise it starts a new contact. Threads move only when every
// customer message in them came from that identity. Unmerging a
// contact's only identity is a no-op.
func (s *IdentityService) Unmerge(ctx context.Context, contactID, identityID, actor string) (*UnmergeResult, error) {
	ctx, span := observability.StartSpan(ctx, identityTracer, "Unmerge",
		attribute.String("contact.id", contactID), attribute.String("identity.id", identityID))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	if actor = strings.TrimSpace(actor); actor == "" {
		actor = domain.ActorSystem
	}
	for attempt := 0; attempt <= s.MergeRetries; attempt++ {
		var res *UnmergeResult
		res, err = s.unmergeOnce(ctx, contactID, identityID, actor)
		if errors.Is(err, repo.ErrStaleVersion) {
			continue
		}
		if err != nil {
			if !errors.Is(err, ErrNotOwned) {
				observability.ContactOp("unmerge", "error")
			}
			return nil, err
		}
		for _, id := range res.Moved {
			s.notifier().ThreadChanged(id, false)
		}
		for _, id := range res.Ambiguous {
			s.notifier().ThreadChanged(id, false)
		}
		observability.ContactOp("unmerge", "ok")
		return res, nil
	}
	observability.ContactOp("unmerge", "conflict")
	err = ErrConflictingVersion
	return nil, err
}

func (s *IdentityService) unmergeOnce(ctx context.Context, contactID, identityID, actor string) (*UnmergeResult, error) {
	contact, err := repo.GetContact(ctx, s.DB, contactID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, err
	}
	ident, err := repo.GetIdentity(ctx, s.DB, identityID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	if ident.ContactID != contact.ID {
		return nil, ErrNotOwned
	}

	origin, err := repo.MergeOrigin(ctx, s.DB, contact.ID, ident.ID)
	if err != nil {
		return nil, err
	}
	keys := []string{contact.ID}
	if origin != "" {
		keys = append(keys, origin)
	}
	unlock := s.Locks.LockMany(keys...)
	defer unlock()

	res := &UnmergeResult{Moved: []string{}, Ambiguous: []string{}}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		contact, err := repo.GetContact(ctx, tx, contactID)
		if err != nil {
			return err
		}
		idents, err := repo.ListIdentities(ctx, tx, contact.ID)
		if err != nil {
			return err
		}
		owned := false
		for _, id := range idents {
			owned = owned || id.ID == identityID
		}
		if !owned {
			return ErrNotOwned
		}
		if len(idents) == 1 {
			res.Contact, res.Detached = contact, contact
			return nil
		}

		dest, restored, err := s.unmergeDestination(ctx, tx, contact, origin, ident)
		if err != nil {
			return err
		}
		if err := repo.MoveIdentity(ctx, tx, ident.ID, contact.ID, dest.ID); err != nil {
			return err
		}

		threads, err := repo.ListContactThreads(ctx, tx, contact.ID, domain.ThreadOpen, domain.ThreadArchived)
		if err != nil {
			return err
		}
		for _, th := range threads {
			senders, err := customerSenders(ctx, tx, th.ID)
			if err != nil {
				return err
			}
			switch {
			case len(senders) == 1 && senders[0] == ident.ID:
				if err := repo.MoveThread(ctx, tx, th.ID, contact.ID, dest.ID); err != nil {
					return err
				}
				res.Moved = append(res.Moved, th.ID)
			case containsString(senders, ident.ID):
				if err := repo.UpdateThread(ctx, tx, th.ID, map[string]any{"needs_review": true}); err != nil {
					return err
				}
				res.Ambiguous = append(res.Ambiguous, th.ID)
			}
		}
		if err := repo.RetargetReceiptContact(ctx, tx, res.Moved, dest.ID); err != nil {
			return err
		}

		destKind := domain.ProvenanceCreated
		if restored {
			destKind = domain.ProvenanceRestored
		}
		if err := repo.AppendProvenance(ctx, tx,
			domain.ProvenanceEntry{ContactID: contact.ID, Kind: domain.ProvenanceUnmerge, Actor: actor, IdentityID: &ident.ID, OtherContactID: &dest.ID},
			domain.ProvenanceEntry{ContactID: dest.ID, Kind: destKind, Actor: actor, IdentityID: &ident.ID, OtherContactID: &contact.ID},
		); err != nil {
			return err
		}
		if err := repo.BumpContact(ctx, tx, contact.ID, contact.Version, nil); err != nil {
			return err
		}
		if res.Contact, err = repo.GetContact(ctx, tx, contact.ID); err != nil {
			return err
		}
		res.Detached, err = repo.GetContact(ctx, tx, dest.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// unmergeDestination returns the contact that receives a detached
// identity: its merge origin, reactivated if needed, or a new contact.
func (s *IdentityService) unmergeDestination(ctx context.Context, tx *gorm.DB, from *domain.Contact, origin string, ident *domain.Identity) (*domain.Contact, bool, error) {
	if origin != "" {
		o, err := repo.GetContact(ctx, tx, origin)
		switch {
		case err == nil && o.Active && o.ID != from.ID:
			if err := repo.BumpContact(ctx, tx, o.ID, o.Version, nil); err != nil {
				return nil, false, err
			}
			return o, true, nil
		case err == nil && !o.Active && o.MergedInto != nil:
			if root, rerr := repo.ResolveActiveContact(ctx, tx, o.ID); rerr == nil && root.ID == from.ID {
				if err := repo.ReactivateContact(ctx, tx, o.ID, o.Version); err != nil {
					return nil, false, err
				}
				return o, true, nil
			}
		case err != nil && !errors.Is(err, repo.ErrNotFound):
			return nil, false, err
		}
	}
	name := ident.DisplayName
	if name == "" {
		name = ident.Address
	}
	key := matching.NameKey(ident.DisplayName)
	c, err := repo.CreateContact(ctx, tx, name, key, matching.NameBlock(key), domain.TierStandard)
	return c, false, err
}

// customerSenders lists the identities that wrote in a thread, ignoring
// agent replies.
func customerSenders(ctx context.Context, db *gorm.DB, threadID string) ([]string, error) {
	all, err := repo.ThreadSenders(ctx, db, threadID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, id := range all {
		if id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// ContactDetail is the Console's contact view.
type ContactDetail struct {
	Contact     domain.Contact           `json:"contact"`
	Suggestions []domain.MergeSuggestion `json:"suggestions"`
	Provenance  []domain.ProvenanceEntry `json:"provenance"`
}

// GetContact returns a contact (inactive ones included, for audit) with
// its identities, pending suggestions and provenance log.
func (s *IdentityService) GetContact(ctx context.Context, id string) (*ContactDetail, error) {
	c, err := repo.GetContactWithIdentities(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, err
	}
	sugs, err := repo.ListContactSuggestions(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	prov, err := repo.ListProvenance(ctx, s.DB, id, 200)
	if err != nil {
		return nil, err
	}
	if c.Identities == nil {
		c.Identities = []domain.Identity{}
	}
	return &ContactDetail{Contact: *c, Suggestions: sugs, Provenance: prov}, nil
}

// SetTier changes a contact's customer tier and refreshes its threads.
func (s *IdentityService) SetTier(ctx context.Context, id string, tier domain.Tier) (*domain.Contact, error) {
	switch tier {
	case domain.TierStandard, domain.TierPremium, domain.TierVIP:
	default:
		return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidInbound, tier)
	}
	c, err := s.active(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := s.Locks.Lock(c.ID)
	err = repo.BumpContact(ctx, s.DB, c.ID, c.Version, map[string]any{"tier": tier})
	unlock()
	if errors.Is(err, repo.ErrStaleVersion) {
		return nil, ErrConflictingVersion
	}
	if err != nil {
		return nil, err
	}
	s.refreshContact(ctx, c.ID, nil)
	c.Tier = tier
	c.Version++
	return c, nil
}

// ListSuggestions returns a page of pending merge suggestions, most
// confident first.
func (s *IdentityService) ListSuggestions(ctx context.Context, page, pageSize int) ([]domain.MergeSuggestion, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountSuggestions(ctx, s.DB, domain.SuggestionPending)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.MergeSuggestion{}, 0, nil
	}
	items, err := repo.ListSuggestionsPage(ctx, s.DB, domain.SuggestionPending, (page-1)*pageSize, pageSize)
	return items, total, err
}

// AcceptSuggestion merges the suggested contact into its candidate, which
// survives.
func (s *IdentityService) AcceptSuggestion(ctx context.Context, id, actor string) (*domain.Contact, error) {
	sug, err := s.pendingSuggestion(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := s.Merge(ctx, sug.CandidateID, sug.ContactID, actor)
	if err != nil {
		return nil, err
	}
	// A merge elsewhere may already have joined the two; close it anyway.
	if err := repo.ResolveSuggestion(ctx, s.DB, id, domain.SuggestionAccepted, actor); err != nil && !errors.Is(err, repo.ErrStaleVersion) {
		return nil, err
	}
	return c, nil
}

// RejectSuggestion dismisses a pending suggestion.
func (s *IdentityService) RejectSuggestion(ctx context.Context, id, actor string) error {
	if _, err := s.pendingSuggestion(ctx, id); err != nil {
		return err
	}
	err := repo.ResolveSuggestion(ctx, s.DB, id, domain.SuggestionRejected, actor)
	if errors.Is(err, repo.ErrStaleVersion) {
		return ErrSuggestionNotFound
	}
	return err
}

// AcceptAll accepts every pending suggestion, most confident first, and
// returns how many merges were applied. Suggestions superseded by an
// earlier merge in the batch are skipped; those whose contact is gone
// are closed as superseded.
func (s *IdentityService) AcceptAll(ctx context.Context, actor string) (int, error) {
	accepted := 0
	for {
		batch, err := repo.ListSuggestionsPage(ctx, s.DB, domain.SuggestionPending, 0, 50)
		if err != nil {
			return accepted, err
		}
		if len(batch) == 0 {
			return accepted, nil
		}
		for _, sug := range batch {
			if err := ctx.Err(); err != nil {
				return accepted, err
			}
			_, err := s.AcceptSuggestion(ctx, sug.ID, actor)
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrSuggestionNotFound):
			case errors.Is(err, ErrContactNotFound):
				err = repo.ResolveSuggestion(ctx, s.DB, sug.ID, domain.SuggestionSuperseded, actor)
				if err != nil && !errors.Is(err, repo.ErrStaleVersion) {
					return accepted, fmt.Errorf("supersede suggestion %s: %w", sug.ID, err)
				}
			default:
				return accepted, err
			}
		}
		// Stop when a pass left the head of the queue pending.
		if still, err := repo.ListSuggestionsPage(ctx, s.DB, domain.SuggestionPending, 0, 1); err != nil {
			return accepted, err
		} else if len(still) == 1 && still[0].ID == batch[0].ID {
			return accepted, fmt.Errorf("suggestion %s is still pending after accept all", batch[0].ID)
		}
	}
}

func (s *IdentityService) pendingSuggestion(ctx context.Context, id string) (*domain.MergeSuggestion, error) {
	sug, err := repo.GetSuggestion(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSuggestionNotFound
	}
	if err != nil {
		return nil, err
	}
	if sug.Status != domain.SuggestionPending {
		return nil, ErrSuggestionNotFound
	}
	return sug, nil
}
