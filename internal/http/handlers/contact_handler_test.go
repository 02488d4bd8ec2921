package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/services"
)

func withName(name string) func(*IngestRequest) {
	return func(r *IngestRequest) { r.SenderName = name }
}

func TestContact_GetAndTier(t *testing.T) {
	api := newAPI(t)
	res := api.deliver(t, "email", "sarah@acme.com", "hi", t0, withName("Sarah Chen"))

	w := api.do(t, http.MethodGet, "/contacts/"+res.ContactID, nil)
	expectStatus(t, w, http.StatusOK)
	d := decode[services.ContactDetail](t, w)
	if d.Contact.ID != res.ContactID || len(d.Contact.Identities) != 1 || len(d.Provenance) == 0 {
		t.Fatalf("detail = %+v", d)
	}

	w = api.do(t, http.MethodPut, "/contacts/"+res.ContactID+"/tier", SetTierRequest{Tier: " VIP "})
	expectStatus(t, w, http.StatusOK)
	if c := decode[domain.Contact](t, w); c.Tier != domain.TierVIP {
		t.Fatalf("tier = %s", c.Tier)
	}

	w = api.do(t, http.MethodPut, "/contacts/"+res.ContactID+"/tier", SetTierRequest{Tier: "gold"})
	expectCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)

	w = api.do(t, http.MethodGet, "/contacts/missing", nil)
	expectCode(t, w, http.StatusNotFound, ErrCodeNotFound)
}

func TestContact_MergeAndUnmerge(t *testing.T) {
	api := newAPI(t)
	a := api.deliver(t, "email", "a@example.org", "first", t0.Add(-time.Hour))
	b := api.deliver(t, "sms", "+15550102000", "second", t0)

	w := api.do(t, http.MethodPost, "/contacts/"+a.ContactID+"/merge", MergeRequest{SourceID: b.ContactID}, "X-Agent-ID", "alex")
	expectStatus(t, w, http.StatusOK)
	if c := decode[domain.Contact](t, w); c.ID != a.ContactID {
		t.Fatalf("survivor = %s, want %s", c.ID, a.ContactID)
	}

	w = api.do(t, http.MethodGet, "/contacts/"+a.ContactID+"/threads", nil)
	expectStatus(t, w, http.StatusOK)
	if page := decode[ThreadsResponse](t, w); page.Pagination.Total != 1 || page.Threads[0].MessageCount != 2 {
		t.Fatalf("threads after merge = %+v", page)
	}

	d := decode[services.ContactDetail](t, api.do(t, http.MethodGet, "/contacts/"+a.ContactID, nil))
	var smsID string
	for _, id := range d.Contact.Identities {
		if id.Channel == domain.ChannelSMS {
			smsID = id.ID
		}
	}
	if smsID == "" {
		t.Fatalf("identities = %+v", d.Contact.Identities)
	}
	if len(d.Provenance) == 0 || d.Provenance[0].Actor != "alex" {
		t.Fatalf("provenance = %+v", d.Provenance)
	}

	w = api.do(t, http.MethodPost, "/contacts/"+a.ContactID+"/unmerge", UnmergeRequest{IdentityID: smsID})
	expectStatus(t, w, http.StatusOK)
	un := decode[services.UnmergeResult](t, w)
	if un.Detached == nil || un.Detached.ID == a.ContactID {
		t.Fatalf("unmerge = %+v", un)
	}
	if un.Moved == nil || un.Ambiguous == nil {
		t.Fatalf("thread lists must be present: %+v", un)
	}

	w = api.do(t, http.MethodPost, "/contacts/"+a.ContactID+"/unmerge", UnmergeRequest{IdentityID: smsID})
	expectCode(t, w, http.StatusConflict, ErrCodeNotOwned)

	w = api.do(t, http.MethodPost, "/contacts/"+a.ContactID+"/merge", map[string]string{})
	expectCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestSuggestions_AcceptRejectAll(t *testing.T) {
	api := newAPI(t)
	first := api.deliver(t, "email", "sarah@acme.com", "hello", t0, withName("Sarah Chen"))
	second := api.deliver(t, "email", "s.chen@acme.com", "hello again", t0, withName("sarah chen"))
	if second.Resolution != "suggested" {
		t.Fatalf("resolution = %q, want suggested", second.Resolution)
	}

	w := api.do(t, http.MethodGet, "/suggestions", nil)
	expectStatus(t, w, http.StatusOK)
	page := decode[SuggestionsResponse](t, w)
	if len(page.Suggestions) != 1 || page.Pagination.Total != 1 {
		t.Fatalf("suggestions = %+v", page)
	}
	sug := page.Suggestions[0]
	if sug.CandidateID != first.ContactID || sug.ContactID != second.ContactID {
		t.Fatalf("suggestion = %+v", sug)
	}

	w = api.do(t, http.MethodPost, "/suggestions/"+sug.ID+"/accept", nil)
	expectStatus(t, w, http.StatusOK)
	if c := decode[domain.Contact](t, w); c.ID != first.ContactID {
		t.Fatalf("accepted into %s, want %s", c.ID, first.ContactID)
	}
	w = api.do(t, http.MethodPost, "/suggestions/"+sug.ID+"/reject", nil)
	expectCode(t, w, http.StatusNotFound, ErrCodeNotFound)

	w = api.do(t, http.MethodPost, "/suggestions/accept-all", nil)
	expectStatus(t, w, http.StatusOK)
	if n := decode[AcceptAllResponse](t, w).Merged; n != 0 {
		t.Fatalf("merged = %d, want 0", n)
	}
	if page := decode[SuggestionsResponse](t, api.do(t, http.MethodGet, "/suggestions", nil)); len(page.Suggestions) != 0 {
		t.Fatalf("pending after accept = %+v", page.Suggestions)
	}
}
