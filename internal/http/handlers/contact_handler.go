package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// SetTierRequest changes a contact's customer tier.
type SetTierRequest struct {
	Tier string `json:"tier" binding:"required" example:"vip"`
}

// MergeRequest folds source into the contact named in the path.
type MergeRequest struct {
	SourceID string `json:"source_id" binding:"required" example:"0d6f3c1e-9a51-4e0b-8d43-1f6a2b7c9e10"`
}

// UnmergeRequest detaches one identity from the contact named in the path.
type UnmergeRequest struct {
	IdentityID string `json:"identity_id" binding:"required"`
}

// SuggestionsResponse is a page of pending merge suggestions.
type SuggestionsResponse struct {
	Suggestions []domain.MergeSuggestion `json:"suggestions"`
	Pagination  Pagination               `json:"pagination"`
}

// AcceptAllResponse counts the suggestions merged.
type AcceptAllResponse struct {
	Merged int `json:"merged"`
}

// GetContact godoc
// @ID          getContact
// @Summary     Contact detail
// @Description Returns the contact with its identities, pending suggestions and provenance log. Merged-away contacts are returned for audit with active=false.
// @Tags        Contacts
// @Produce     json
// @Param       id   path  string  true  "Contact ID"  format(uuid)
// @Success     200  {object}  services.ContactDetail
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /contacts/{id} [get]
func (h *Handlers) GetContact(c *gin.Context) {
	d, err := h.contacts.GetContact(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// ContactThreads godoc
// @ID          listContactThreads
// @Summary     Threads of a contact
// @Tags        Contacts
// @Produce     json
// @Param       id         path   string  true   "Contact ID"  format(uuid)
// @Param       status     query  string  false  "Thread status"  Enums(open, archived, merged) default(open)
// @Param       page       query  int     false  "Page"  minimum(1) default(1)
// @Param       page_size  query  int     false  "Page size"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ThreadsResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /contacts/{id}/threads [get]
func (h *Handlers) ContactThreads(c *gin.Context) {
	q, good := threadQuery(c)
	if !good {
		return
	}
	q.ContactID = c.Param("id")
	h.listThreads(c, q)
}

// SetTier godoc
// @ID          setContactTier
// @Summary     Set customer tier
// @Description Changes the tier and re-scores the contact's open threads.
// @Tags        Contacts
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Contact ID"  format(uuid)
// @Param       body  body  handlers.SetTierRequest  true  "Tier"
// @Success     200  {object}  domain.Contact
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /contacts/{id}/tier [put]
func (h *Handlers) SetTier(c *gin.Context) {
	var req SetTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tier required")
		return
	}
	ct, err := h.contacts.SetTier(c.Request.Context(), c.Param("id"), domain.Tier(strings.ToLower(strings.TrimSpace(req.Tier))))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ct)
}

// MergeContacts godoc
// @ID          mergeContacts
// @Summary     Merge two contacts
// @Description Moves every identity and thread of source into the contact in the path, then consolidates their open threads. Merging a contact into itself, or one already merged into it, is a no-op.
// @Tags        Contacts
// @Accept      json
// @Produce     json
// @Param       X-Agent-ID  header  string  false  "Acting agent"
// @Param       id          path    string  true   "Surviving contact ID"  format(uuid)
// @Param       body        body    handlers.MergeRequest  true  "Source contact"
// @Success     200  {object}  domain.Contact
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Version conflict"
// @Router      /contacts/{id}/merge [post]
func (h *Handlers) MergeContacts(c *gin.Context) {
	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "source_id required")
		return
	}
	ct, err := h.contacts.Merge(c.Request.Context(), c.Param("id"), req.SourceID, actor(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ct)
}

// UnmergeContact godoc
// @ID          unmergeContact
// @Summary     Detach an identity
// @Description Restores the identity to the contact it was merged from, or a new contact. Threads written only by that identity move with it; mixed threads stay and are flagged needs_review.
// @Tags        Contacts
// @Accept      json
// @Produce     json
// @Param       X-Agent-ID  header  string  false  "Acting agent"
// @Param       id          path    string  true   "Contact ID"  format(uuid)
// @Param       body        body    handlers.UnmergeRequest  true  "Identity"
// @Success     200  {object}  services.UnmergeResult
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Identity not owned, or version conflict"
// @Router      /contacts/{id}/unmerge [post]
func (h *Handlers) UnmergeContact(c *gin.Context) {
	var req UnmergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "identity_id required")
		return
	}
	res, err := h.contacts.Unmerge(c.Request.Context(), c.Param("id"), req.IdentityID, actor(c))
	if err != nil {
		failErr(c, err)
		return
	}
	if res.Moved == nil {
		res.Moved = []string{}
	}
	if res.Ambiguous == nil {
		res.Ambiguous = []string{}
	}
	ok(c, http.StatusOK, res)
}

// ListSuggestions godoc
// @ID          listSuggestions
// @Summary     Pending merge suggestions
// @Tags        Suggestions
// @Produce     json
// @Param       page       query  int  false  "Page"  minimum(1) default(1)
// @Param       page_size  query  int  false  "Page size"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.SuggestionsResponse
// @Router      /suggestions [get]
func (h *Handlers) ListSuggestions(c *gin.Context) {
	page, size := pageParams(c)
	items, total, err := h.contacts.ListSuggestions(c.Request.Context(), page, size)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.MergeSuggestion{}
	}
	ok(c, http.StatusOK, SuggestionsResponse{Suggestions: items, Pagination: paginate(page, size, total)})
}

// AcceptSuggestion godoc
// @ID          acceptSuggestion
// @Summary     Accept a merge suggestion
// @Description Merges the suggested contact into the candidate.
// @Tags        Suggestions
// @Produce     json
// @Param       X-Agent-ID  header  string  false  "Acting agent"
// @Param       id          path    string  true   "Suggestion ID"  format(uuid)
// @Success     200  {object}  domain.Contact
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /suggestions/{id}/accept [post]
func (h *Handlers) AcceptSuggestion(c *gin.Context) {
	ct, err := h.contacts.AcceptSuggestion(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ct)
}

// RejectSuggestion godoc
// @ID          rejectSuggestion
// @Summary     Reject a merge suggestion
// @Tags        Suggestions
// @Param       X-Agent-ID  header  string  false  "Acting agent"
// @Param       id          path    string  true   "Suggestion ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /suggestions/{id}/reject [post]
func (h *Handlers) RejectSuggestion(c *gin.Context) {
	if err := h.contacts.RejectSuggestion(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// AcceptAllSuggestions godoc
// @ID          acceptAllSuggestions
// @Summary     Accept every pending suggestion
// @Tags        Suggestions
// @Produce     json
// @Param       X-Agent-ID  header  string  false  "Acting agent"
// @Success     200  {object}  handlers.AcceptAllResponse
// @Router      /suggestions/accept-all [post]
func (h *Handlers) AcceptAllSuggestions(c *gin.Context) {
	n, err := h.contacts.AcceptAll(c.Request.Context(), actor(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, AcceptAllResponse{Merged: n})
}
