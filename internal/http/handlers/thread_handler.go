package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/services"
	"github.com/tbourn/unified-inbox/internal/utils"
)

// PatchThreadRequest edits a thread. Omitted fields are left unchanged;
// an empty priority clears the manual override.
type PatchThreadRequest struct {
	Assignee *string   `json:"assignee,omitempty" example:"alex"`
	Priority *string   `json:"priority,omitempty" example:"high"`
	Tags     *[]string `json:"tags,omitempty"`
}

// NoteRequest is an internal note body.
type NoteRequest struct {
	Body string `json:"body" binding:"required" example:"Refund approved, waiting on finance"`
}

// MergeThreadsRequest names the thread to fold into the one in the path.
type MergeThreadsRequest struct {
	OtherID string `json:"other_id" binding:"required"`
}

// UpNextResponse is the focused work queue.
type UpNextResponse struct {
	Threads []domain.Thread `json:"threads"`
}

// SearchResponse lists search hits, best first.
type SearchResponse struct {
	Query string               `json:"query"`
	Hits  []services.SearchHit `json:"hits"`
}

// threadQuery reads the status and channel filters. It writes a 400 and
// returns false on bad input.
func threadQuery(c *gin.Context) (services.ThreadQuery, bool) {
	var q services.ThreadQuery
	switch st := domain.ThreadStatus(strings.ToLower(c.Query("status"))); st {
	case "", domain.ThreadOpen, domain.ThreadArchived, domain.ThreadMerged:
		q.Status = st
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status must be open, archived or merged")
		return q, false
	}
	if raw := c.Query("channel"); raw != "" {
		ch, known := domain.ParseChannel(raw)
		if !known {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown channel")
			return q, false
		}
		q.Channel = ch
	}
	return q, true
}

// listThreads writes a page of threads. Closed listings only change when
// rows are updated, so they carry a weak ETag; open listings are re-scored
// continuously and never do.
func (h *Handlers) listThreads(c *gin.Context, q services.ThreadQuery) {
	ctx := c.Request.Context()
	page, size := pageParams(c)

	if q.Status != "" && q.Status != domain.ThreadOpen {
		if count, maxTS, err := h.threads.Stats(ctx, q); err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			etag := fmt.Sprintf(`W/"threads:%s:%s:%s:%d:%d:%d:%d"`, q.Status, q.Channel, q.ContactID, page, size, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.threads.ListPage(ctx, q, page, size)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, threadsPage(items, page, size, total))
}

// ListThreads godoc
// @ID          listThreads
// @Summary     List threads
// @Description Threads sorted by priority score, then most recent activity. Archived and merged listings support a weak ETag via If-None-Match and may return 304.
// @Tags        Threads
// @Produce     json
// @Param       status         query   string  false  "Thread status"  Enums(open, archived, merged) default(open)
// @Param       channel        query   string  false  "Last channel"   Enums(email, whatsapp, sms, telegram, slack, discord)
// @Param       contact_id     query   string  false  "Contact"        format(uuid)
// @Param       page           query   int     false  "Page"           minimum(1) default(1)
// @Param       page_size      query   int     false  "Page size"      minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.ThreadsResponse
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /threads [get]
func (h *Handlers) ListThreads(c *gin.Context) {
	q, good := threadQuery(c)
	if !good {
		return
	}
	q.ContactID = strings.TrimSpace(c.Query("contact_id"))
	h.listThreads(c, q)
}

// GetThread godoc
// @ID          getThread
// @Summary     Thread detail
// @Description Messages in order (internal notes included), the latest annotation and feed memberships with confidence.
// @Tags        Threads
// @Produce     json
// @Param       id   path  string  true  "Thread ID"  format(uuid)
// @Success     200  {object}  services.ThreadDetail
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /threads/{id} [get]
func (h *Handlers) GetThread(c *gin.Context) {
	d, err := h.threads.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// PatchThread godoc
// @ID          patchThread
// @Summary     Edit a thread
// @Description Sets the assignee, the manual priority or the tags of an open thread.
// @Tags        Threads
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Thread ID"  format(uuid)
// @Param       body  body  handlers.PatchThreadRequest  true  "Edits"
// @Success     200  {object}  domain.Thread
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Thread closed"
// @Router      /threads/{id} [patch]
func (h *Handlers) PatchThread(c *gin.Context) {
	var req PatchThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	th, err := h.threads.Patch(c.Request.Context(), c.Param("id"), services.ThreadPatch{
		Assignee: req.Assignee,
		Priority: req.Priority,
		Tags:     req.Tags,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, th)
}

// AddNote godoc
// @ID          addNote
// @Summary     Add an internal note
// @Description The note is visible to agents only and is never sent to the annotation service.
// @Tags        Threads
// @Accept      json
// @Produce     json
// @Param       X-Agent-ID  header  string  false  "Author"
// @Param       id          path    string  true   "Thread ID"  format(uuid)
// @Param       body        body    handlers.NoteRequest  true  "Note"
// @Success     201  {object}  domain.Message
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /threads/{id}/notes [post]
func (h *Handlers) AddNote(c *gin.Context) {
	var req NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Body) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		return
	}
	m, err := h.threads.AddNote(c.Request.Context(), c.Param("id"), actor(c), req.Body)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, m)
}

// Acknowledge godoc
// @ID          acknowledgeThread
// @Summary     Mark a thread read
// @Description Clears unread and stops the wait clock until the next inbound message.
// @Tags        Threads
// @Produce     json
// @Param       id  path  string  true  "Thread ID"  format(uuid)
// @Success     200  {object}  domain.Thread
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Thread closed"
// @Router      /threads/{id}/acknowledge [post]
func (h *Handlers) Acknowledge(c *gin.Context) {
	th, err := h.threads.Acknowledge(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, th)
}

// Archive godoc
// @ID          archiveThread
// @Summary     Archive a thread
// @Description The contact's next inbound message starts a new thread.
// @Tags        Threads
// @Produce     json
// @Param       id  path  string  true  "Thread ID"  format(uuid)
// @Success     200  {object}  domain.Thread
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Thread closed"
// @Router      /threads/{id}/archive [post]
func (h *Handlers) Archive(c *gin.Context) {
	th, err := h.threads.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, th)
}

// MergeThreads godoc
// @ID          mergeThreads
// @Summary     Merge two threads
// @Description Both threads must belong to the same contact. The older thread survives and receives every message in order.
// @Tags        Threads
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Thread ID"  format(uuid)
// @Param       body  body  handlers.MergeThreadsRequest  true  "Other thread"
// @Success     200  {object}  domain.Thread  "Surviving thread"
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Thread closed"
// @Failure     422  {object}  handlers.ErrorResponse  "Different contacts"
// @Router      /threads/{id}/merge [post]
func (h *Handlers) MergeThreads(c *gin.Context) {
	var req MergeThreadsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "other_id required")
		return
	}
	th, err := h.threads.MergeThreads(c.Request.Context(), c.Param("id"), req.OtherID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, th)
}

// UpNext godoc
// @ID          upNext
// @Summary     Focused work queue
// @Description Open threads waiting on a reply, highest priority first.
// @Tags        Threads
// @Produce     json
// @Param       limit  query  int  false  "Max threads"  minimum(1) maximum(100) default(10)
// @Success     200  {object}  handlers.UpNextResponse
// @Router      /up-next [get]
func (h *Handlers) UpNext(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 10)
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	items, err := h.threads.UpNext(c.Request.Context(), limit)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Thread{}
	}
	ok(c, http.StatusOK, UpNextResponse{Threads: items})
}

// Search godoc
// @ID          searchThreads
// @Summary     Search open threads
// @Description Ranks open threads by how well their messages cover the query terms.
// @Tags        Threads
// @Produce     json
// @Param       q      query  string  true   "Query"
// @Param       limit  query  int     false  "Max hits"  minimum(1) maximum(50) default(10)
// @Success     200  {object}  handlers.SearchResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /search [get]
func (h *Handlers) Search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q required")
		return
	}
	limit := utils.AtoiDefault(c.Query("limit"), 10)
	if limit < 1 || limit > 50 {
		limit = 10
	}
	hits, err := h.threads.Search(c.Request.Context(), q, limit)
	if err != nil {
		failErr(c, err)
		return
	}
	if hits == nil {
		hits = []services.SearchHit{}
	}
	ok(c, http.StatusOK, SearchResponse{Query: q, Hits: hits})
}
