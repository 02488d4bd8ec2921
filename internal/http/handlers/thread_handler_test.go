package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/services"
)

func TestThreads_ListFiltersAndValidation(t *testing.T) {
	api := newAPI(t)
	api.deliver(t, "email", "j@example.org", "x", t0.Add(-time.Hour))
	b := api.deliver(t, "sms", "+15550003333", "y", t0)

	w := api.do(t, http.MethodGet, "/threads", nil)
	expectStatus(t, w, http.StatusOK)
	if page := decode[ThreadsResponse](t, w); page.Pagination.Total != 2 || len(page.Threads) != 2 {
		t.Fatalf("open threads = %+v", page)
	}
	if w.Header().Get("ETag") != "" {
		t.Fatalf("open listings must not carry an ETag")
	}

	w = api.do(t, http.MethodGet, "/threads?channel=SMS&page_size=1", nil)
	expectStatus(t, w, http.StatusOK)
	page := decode[ThreadsResponse](t, w)
	if page.Pagination.Total != 1 || page.Threads[0].ID != b.Thread.ID || page.Pagination.PageSize != 1 {
		t.Fatalf("sms threads = %+v", page)
	}

	w = api.do(t, http.MethodGet, "/threads?contact_id="+b.ContactID, nil)
	if page := decode[ThreadsResponse](t, w); page.Pagination.Total != 1 {
		t.Fatalf("contact filter = %+v", page)
	}

	expectCode(t, api.do(t, http.MethodGet, "/threads?status=deleted", nil), http.StatusBadRequest, ErrCodeBadRequest)
	expectCode(t, api.do(t, http.MethodGet, "/threads?channel=fax", nil), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestThreads_ArchivedListingETag(t *testing.T) {
	api := newAPI(t)
	res := api.deliver(t, "email", "k@example.org", "done", t0)
	expectStatus(t, api.do(t, http.MethodPost, "/threads/"+res.Thread.ID+"/archive", nil), http.StatusOK)

	w := api.do(t, http.MethodGet, "/threads?status=archived", nil)
	expectStatus(t, w, http.StatusOK)
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("archived listing must carry an ETag")
	}
	if page := decode[ThreadsResponse](t, w); page.Pagination.Total != 1 || page.Threads[0].Status != domain.ThreadArchived {
		t.Fatalf("archived = %+v", page)
	}

	w = api.do(t, http.MethodGet, "/threads?status=archived", nil, "If-None-Match", etag)
	expectStatus(t, w, http.StatusNotModified)

	w = api.do(t, http.MethodGet, "/threads?status=archived&page=2", nil, "If-None-Match", etag)
	expectStatus(t, w, http.StatusOK)
}

func TestThread_DetailPatchNoteAndActions(t *testing.T) {
	api := newAPI(t)
	res := api.deliver(t, "email", "g@example.org", "urgent help", t0.Add(-time.Hour))
	other := api.deliver(t, "email", "h@example.org", "question", t0.Add(-2*time.Hour))
	id := res.Thread.ID

	high, tags := "HIGH", []string{"Payment", "payment"}
	w := api.do(t, http.MethodPatch, "/threads/"+id, PatchThreadRequest{Priority: &high, Tags: &tags})
	expectStatus(t, w, http.StatusOK)
	if th := decode[domain.Thread](t, w); th.Priority != domain.PriorityHigh || len(th.Tags) != 1 {
		t.Fatalf("patched = %+v", th)
	}
	bad := "whenever"
	expectCode(t, api.do(t, http.MethodPatch, "/threads/"+id, PatchThreadRequest{Priority: &bad}), http.StatusBadRequest, ErrCodeInvalidFilter)

	w = api.do(t, http.MethodPost, "/threads/"+id+"/notes", NoteRequest{Body: "called them back"}, "X-Agent-ID", "alex")
	expectStatus(t, w, http.StatusCreated)
	if m := decode[domain.Message](t, w); !m.Internal || m.Author != "alex" {
		t.Fatalf("note = %+v", m)
	}
	expectCode(t, api.do(t, http.MethodPost, "/threads/"+id+"/notes", NoteRequest{Body: "  "}), http.StatusBadRequest, ErrCodeBadRequest)

	w = api.do(t, http.MethodGet, "/threads/"+id, nil)
	expectStatus(t, w, http.StatusOK)
	d := decode[services.ThreadDetail](t, w)
	if len(d.Messages) != 2 || d.Thread.Version != res.Thread.Version || d.Feeds == nil {
		t.Fatalf("detail = %+v", d)
	}

	next := decode[UpNextResponse](t, api.do(t, http.MethodGet, "/up-next", nil))
	if len(next.Threads) != 2 {
		t.Fatalf("up next = %+v", next)
	}
	w = api.do(t, http.MethodPost, "/threads/"+id+"/acknowledge", nil)
	expectStatus(t, w, http.StatusOK)
	if th := decode[domain.Thread](t, w); th.Unread || th.AcknowledgedAt == nil {
		t.Fatalf("acknowledged = %+v", th)
	}
	next = decode[UpNextResponse](t, api.do(t, http.MethodGet, "/up-next?limit=5", nil))
	if len(next.Threads) != 1 || next.Threads[0].ID != other.Thread.ID {
		t.Fatalf("up next after ack = %+v", next)
	}

	expectCode(t, api.do(t, http.MethodPost, "/threads/"+id+"/merge", MergeThreadsRequest{OtherID: other.Thread.ID}),
		http.StatusUnprocessableEntity, ErrCodeContactMismatch)

	expectStatus(t, api.do(t, http.MethodPost, "/threads/"+id+"/archive", nil), http.StatusOK)
	expectCode(t, api.do(t, http.MethodPost, "/threads/"+id+"/archive", nil), http.StatusConflict, ErrCodeThreadClosed)
	expectCode(t, api.do(t, http.MethodGet, "/threads/missing", nil), http.StatusNotFound, ErrCodeNotFound)
}

func TestSearch(t *testing.T) {
	api := newAPI(t)
	res := api.deliver(t, "email", "k@example.org", "my parcel tracking number is wrong", t0)
	api.deliver(t, "email", "l@example.org", "love the product", t0)
	if err := api.pipeline.Refresh(context.Background(), res.Thread.ID); err != nil {
		t.Fatal(err)
	}

	w := api.do(t, http.MethodGet, "/search?q=parcel+tracking&limit=5", nil)
	expectStatus(t, w, http.StatusOK)
	out := decode[SearchResponse](t, w)
	if out.Query != "parcel tracking" || len(out.Hits) != 1 || out.Hits[0].Thread.ID != res.Thread.ID {
		t.Fatalf("search = %+v", out)
	}

	expectCode(t, api.do(t, http.MethodGet, "/search", nil), http.StatusBadRequest, ErrCodeBadRequest)
}
