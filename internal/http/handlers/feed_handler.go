package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/services"
)

// FilterRequest is one smart filter of a feed.
type FilterRequest struct {
	Label     string           `json:"label" example:"Angry VIPs"`
	Predicate domain.Predicate `json:"predicate"`
}

// FeedRequest is a complete feed definition. Version is required on
// update and must match the stored feed.
type FeedRequest struct {
	Name        string          `json:"name" binding:"required" example:"Urgent billing"`
	Description string          `json:"description,omitempty"`
	Threshold   *float64        `json:"threshold,omitempty" example:"0.5"`
	Weight      int             `json:"weight,omitempty" example:"10"`
	Filters     []FilterRequest `json:"filters"`
	Version     int64           `json:"version,omitempty" example:"1"`
}

func (r FeedRequest) input() services.FeedInput {
	in := services.FeedInput{
		Name:        r.Name,
		Description: r.Description,
		Threshold:   r.Threshold,
		Weight:      r.Weight,
		Filters:     make([]services.FilterInput, 0, len(r.Filters)),
	}
	for _, f := range r.Filters {
		in.Filters = append(in.Filters, services.FilterInput{Label: f.Label, Predicate: f.Predicate})
	}
	return in
}

// ReorderRequest lists every filter id of the feed in the new order. A
// zero Version skips the concurrency check.
type ReorderRequest struct {
	Version   int64    `json:"version"`
	FilterIDs []string `json:"filter_ids" binding:"required"`
}

// FeedsResponse lists every feed.
type FeedsResponse struct {
	Feeds []services.FeedDetail `json:"feeds"`
}

// CreateFeed godoc
// @ID          createFeed
// @Summary     Create a feed
// @Description Validates the filters, stores the feed and starts a re-scan of every open thread. Poll the status endpoint with the returned generation.
// @Tags        Feeds
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.FeedRequest  true  "Feed"
// @Success     201  {object}  services.FeedDetail
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid filter"
// @Failure     409  {object}  handlers.ErrorResponse  "Name taken"
// @Router      /feeds [post]
func (h *Handlers) CreateFeed(c *gin.Context) {
	var req FeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	d, err := h.feeds.Create(c.Request.Context(), req.input())
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Location", c.FullPath()+"/"+d.Feed.ID)
	ok(c, http.StatusCreated, d)
}

// ListFeeds godoc
// @ID          listFeeds
// @Summary     List feeds
// @Tags        Feeds
// @Produce     json
// @Success     200  {object}  handlers.FeedsResponse
// @Router      /feeds [get]
func (h *Handlers) ListFeeds(c *gin.Context) {
	items, err := h.feeds.List(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []services.FeedDetail{}
	}
	ok(c, http.StatusOK, FeedsResponse{Feeds: items})
}

// GetFeed godoc
// @ID          getFeed
// @Summary     Feed definition
// @Tags        Feeds
// @Produce     json
// @Param       id   path  string  true  "Feed ID"  format(uuid)
// @Success     200  {object}  services.FeedDetail
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /feeds/{id} [get]
func (h *Handlers) GetFeed(c *gin.Context) {
	d, err := h.feeds.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// UpdateFeed godoc
// @ID          updateFeed
// @Summary     Replace a feed's definition
// @Description Replaces name, threshold, weight and filters. Fails with version_conflict when the feed changed since it was read.
// @Tags        Feeds
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Feed ID"  format(uuid)
// @Param       body  body  handlers.FeedRequest  true  "Feed with version"
// @Success     200  {object}  services.FeedDetail
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Version conflict or name taken"
// @Router      /feeds/{id} [put]
func (h *Handlers) UpdateFeed(c *gin.Context) {
	var req FeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Version <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "version required")
		return
	}
	d, err := h.feeds.UpdateFilters(c.Request.Context(), c.Param("id"), req.Version, req.input())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// ReorderFilters godoc
// @ID          reorderFilters
// @Summary     Reorder a feed's filters
// @Description Display order only; membership is unchanged and no re-scan starts.
// @Tags        Feeds
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Feed ID"  format(uuid)
// @Param       body  body  handlers.ReorderRequest  true  "New order"
// @Success     200  {object}  services.FeedDetail
// @Failure     400  {object}  handlers.ErrorResponse  "Not a permutation of the feed's filters"
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Version conflict"
// @Router      /feeds/{id}/order [put]
func (h *Handlers) ReorderFilters(c *gin.Context) {
	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "filter_ids required")
		return
	}
	d, err := h.feeds.ReorderFilters(c.Request.Context(), c.Param("id"), req.Version, req.FilterIDs)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// DeleteFeed godoc
// @ID          deleteFeed
// @Summary     Delete a feed
// @Tags        Feeds
// @Param       id  path  string  true  "Feed ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /feeds/{id} [delete]
func (h *Handlers) DeleteFeed(c *gin.Context) {
	if err := h.feeds.Delete(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// FeedThreads godoc
// @ID          listFeedThreads
// @Summary     Threads in a feed
// @Description Open member threads in priority order. During a re-scan the previous membership is served.
// @Tags        Feeds
// @Produce     json
// @Param       id         path   string  true   "Feed ID"  format(uuid)
// @Param       page       query  int     false  "Page"  minimum(1) default(1)
// @Param       page_size  query  int     false  "Page size"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ThreadsResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /feeds/{id}/threads [get]
func (h *Handlers) FeedThreads(c *gin.Context) {
	page, size := pageParams(c)
	items, total, err := h.feeds.ThreadsPage(c.Request.Context(), c.Param("id"), page, size)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, threadsPage(items, page, size, total))
}

// FeedStatus godoc
// @ID          feedStatus
// @Summary     Re-scan status
// @Description With generation set, blocks until that re-scan completed or the server's wait bound passes, then returns the current status.
// @Tags        Feeds
// @Produce     json
// @Param       id          path   string  true   "Feed ID"  format(uuid)
// @Param       generation  query  int     false  "Re-scan generation to wait for"
// @Success     200  {object}  classify.Status
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /feeds/{id}/status [get]
func (h *Handlers) FeedStatus(c *gin.Context) {
	id := c.Param("id")
	raw := c.Query("generation")
	if raw == "" {
		st, err := h.feeds.Status(c.Request.Context(), id)
		if err != nil {
			failErr(c, err)
			return
		}
		ok(c, http.StatusOK, st)
		return
	}
	gen, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "generation must be a non-negative integer")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.MaxRescanWait)
	defer cancel()
	st, err := h.feeds.WaitRescan(ctx, id, gen)
	if errors.Is(err, context.DeadlineExceeded) && c.Request.Context().Err() == nil {
		// Bound reached: report progress so far.
		st, err = h.feeds.Status(c.Request.Context(), id)
	}
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}
