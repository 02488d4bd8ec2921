// Package handlers exposes the inbox over REST for channel connectors and
// the agent console.
//
// Handlers are transport-thin: they bind and validate input, call the
// services through the narrow contracts below and translate results and
// service errors into HTTP responses.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unified-inbox/internal/classify"
	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/http/middleware"
	"github.com/tbourn/unified-inbox/internal/services"
	"github.com/tbourn/unified-inbox/internal/utils"
)

//
// Service contracts (context-aware)
//

// Ingester accepts connector deliveries.
type Ingester interface {
	Ingest(ctx context.Context, in domain.InboundMessage) (*services.IngestResult, error)
}

// ContactService covers contact detail, manual merges and the suggestion
// workflow. The actor is recorded in the provenance log.
type ContactService interface {
	GetContact(ctx context.Context, id string) (*services.ContactDetail, error)
	SetTier(ctx context.Context, id string, tier domain.Tier) (*domain.Contact, error)
	Merge(ctx context.Context, targetID, sourceID, actor string) (*domain.Contact, error)
	Unmerge(ctx context.Context, contactID, identityID, actor string) (*services.UnmergeResult, error)
	ListSuggestions(ctx context.Context, page, pageSize int) ([]domain.MergeSuggestion, int64, error)
	AcceptSuggestion(ctx context.Context, id, actor string) (*domain.Contact, error)
	RejectSuggestion(ctx context.Context, id, actor string) error
	AcceptAll(ctx context.Context, actor string) (int, error)
}

// ThreadService covers the console's thread views and actions.
type ThreadService interface {
	Get(ctx context.Context, id string) (*services.ThreadDetail, error)
	ListPage(ctx context.Context, q services.ThreadQuery, page, pageSize int) ([]domain.Thread, int64, error)
	Stats(ctx context.Context, q services.ThreadQuery) (int64, *time.Time, error)
	UpNext(ctx context.Context, limit int) ([]domain.Thread, error)
	Acknowledge(ctx context.Context, id string) (*domain.Thread, error)
	Archive(ctx context.Context, id string) (*domain.Thread, error)
	Patch(ctx context.Context, id string, p services.ThreadPatch) (*domain.Thread, error)
	AddNote(ctx context.Context, threadID, author, body string) (*domain.Message, error)
	MergeThreads(ctx context.Context, aID, bID string) (*domain.Thread, error)
	Search(ctx context.Context, q string, k int) ([]services.SearchHit, error)
}

// FeedService covers feed definitions, their members and re-scan status.
type FeedService interface {
	Create(ctx context.Context, in services.FeedInput) (*services.FeedDetail, error)
	Get(ctx context.Context, id string) (*services.FeedDetail, error)
	List(ctx context.Context) ([]services.FeedDetail, error)
	UpdateFilters(ctx context.Context, id string, version int64, in services.FeedInput) (*services.FeedDetail, error)
	ReorderFilters(ctx context.Context, id string, version int64, order []string) (*services.FeedDetail, error)
	Delete(ctx context.Context, id string) error
	ThreadsPage(ctx context.Context, id string, page, pageSize int) ([]domain.Thread, int64, error)
	Status(ctx context.Context, id string) (classify.Status, error)
	WaitRescan(ctx context.Context, id string, gen uint64) (classify.Status, error)
}

//
// Handler wiring
//

// Handlers groups the REST endpoints.
type Handlers struct {
	ingest   Ingester
	contacts ContactService
	threads  ThreadService
	feeds    FeedService

	// MaxRescanWait bounds how long GET /feeds/{id}/status may block.
	MaxRescanWait time.Duration
}

// New binds Handlers to the services.
func New(ingest Ingester, contacts ContactService, threads ThreadService, feeds FeedService) *Handlers {
	return &Handlers{ingest: ingest, contacts: contacts, threads: threads, feeds: feeds, MaxRescanWait: 30 * time.Second}
}

// Register mounts every endpoint on r, typically the versioned API group.
func (h *Handlers) Register(r gin.IRoutes) {
	// Connectors
	r.POST("/channels/:channel/messages", h.Ingest)

	// Contacts and identity review
	r.GET("/contacts/:id", h.GetContact)
	r.GET("/contacts/:id/threads", h.ContactThreads)
	r.PUT("/contacts/:id/tier", h.SetTier)
	r.POST("/contacts/:id/merge", h.MergeContacts)
	r.POST("/contacts/:id/unmerge", h.UnmergeContact)
	r.GET("/suggestions", h.ListSuggestions)
	r.POST("/suggestions/accept-all", h.AcceptAllSuggestions)
	r.POST("/suggestions/:id/accept", h.AcceptSuggestion)
	r.POST("/suggestions/:id/reject", h.RejectSuggestion)

	// Threads
	r.GET("/threads", h.ListThreads)
	r.GET("/threads/:id", h.GetThread)
	r.PATCH("/threads/:id", h.PatchThread)
	r.POST("/threads/:id/notes", h.AddNote)
	r.POST("/threads/:id/acknowledge", h.Acknowledge)
	r.POST("/threads/:id/archive", h.Archive)
	r.POST("/threads/:id/merge", h.MergeThreads)
	r.GET("/up-next", h.UpNext)
	r.GET("/search", h.Search)

	// Feeds
	r.POST("/feeds", h.CreateFeed)
	r.GET("/feeds", h.ListFeeds)
	r.GET("/feeds/:id", h.GetFeed)
	r.PUT("/feeds/:id", h.UpdateFeed)
	r.PUT("/feeds/:id/order", h.ReorderFilters)
	r.DELETE("/feeds/:id", h.DeleteFeed)
	r.GET("/feeds/:id/threads", h.FeedThreads)
	r.GET("/feeds/:id/status", h.FeedStatus)
}

//
// Shared DTOs and helpers
//

// Pagination carries list metadata.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func pageParams(c *gin.Context) (page, size int) {
	return utils.PageParams(c.Query("page"), c.Query("page_size"), 20, 100)
}

func paginate(page, size int, total int64) Pagination {
	pages := utils.TotalPages(total, size)
	return Pagination{Page: page, PageSize: size, Total: total, TotalPages: pages, HasNext: page < pages}
}

// ThreadsResponse is a page of threads.
type ThreadsResponse struct {
	Threads    []domain.Thread `json:"threads"`
	Pagination Pagination      `json:"pagination"`
}

func threadsPage(items []domain.Thread, page, size int, total int64) ThreadsResponse {
	if items == nil {
		items = []domain.Thread{}
	}
	return ThreadsResponse{Threads: items, Pagination: paginate(page, size, total)}
}

func actor(c *gin.Context) string { return middleware.AgentFrom(c) }
