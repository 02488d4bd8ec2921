package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/unified-inbox/internal/annotate"
	"github.com/tbourn/unified-inbox/internal/config"
	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/http/handlers"
	"github.com/tbourn/unified-inbox/internal/priority"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/search"
	"github.com/tbourn/unified-inbox/internal/services"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newHandlers(t *testing.T, db *gorm.DB) *handlers.Handlers {
	t.Helper()
	locks := services.NewKeyedMutex()
	idx := search.New()
	p := services.NewPipeline(db, priority.NewScorer(30, 12*time.Hour), annotate.Heuristic{}, idx,
		services.PipelineConfig{Workers: 1, QueueSize: 16})
	t.Cleanup(p.Close)

	threads := services.NewThreadService(db, locks, 14*24*time.Hour)
	threads.Notify = p
	threads.Feeds = p.Engine
	threads.Index = idx
	ids := services.NewIdentityService(db, locks, threads)
	ids.Notify = p
	ingest := services.NewIngestService(db, locks, ids, threads)
	feeds := services.NewFeedService(db, p.Engine, threads, 0.5)
	return handlers.New(ingest, ids, threads, feeds)
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   100,
		OTEL:        config.OTELConfig{ServiceName: "unified-inbox-test"},
	}
}

func newRouter(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)
	r := gin.New()
	RegisterRoutes(r, db, newHandlers(t, db), cfg)
	return r, db
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postMessage(channel, body string, headers ...string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/channels/"+channel+"/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return req
}

func TestRegisterRoutes_HealthMetricsAndFallbacks(t *testing.T) {
	r, _ := newRouter(t, baseConfig())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("/health: %d %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("ACAO=%q want *", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control=%q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "inbox_http_requests_total") {
		t.Fatalf("/metrics: %d", w.Code)
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/nope", nil))
	var er handlers.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil || w.Code != http.StatusNotFound || er.Code != handlers.ErrCodeNotFound {
		t.Fatalf("404 fallback: %d %s", w.Code, w.Body.String())
	}

	w = serve(r, httptest.NewRequest(http.MethodPost, "/health", nil))
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil || w.Code != http.StatusMethodNotAllowed || er.Code != handlers.ErrCodeMethodNotAllowed {
		t.Fatalf("405 fallback: %d %s", w.Code, w.Body.String())
	}

	// Routes are mounted under the base path only.
	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/feeds", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/api/v1/feeds: %d %s", w.Code, w.Body.String())
	}
	w = serve(r, httptest.NewRequest(http.MethodGet, "/feeds", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("/feeds without prefix: %d", w.Code)
	}
}

func TestRegisterRoutes_CORSOriginEcho(t *testing.T) {
	cfg := baseConfig()
	cfg.CORS.AllowedOrigins = []string{"https://inbox.example.com"}
	r, _ := newRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://inbox.example.com")
	w := serve(r, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://inbox.example.com" {
		t.Fatalf("ACAO=%q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = serve(r, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("disallowed origin echoed: %q", got)
	}
}

func TestRegisterRoutes_IngestAndReplay(t *testing.T) {
	r, db := newRouter(t, baseConfig())

	body := `{"sender_address":"ada@example.org","timestamp":"2026-03-02T12:00:00Z","body":"invoice is wrong"}`
	w := serve(r, postMessage("email", body, "Idempotency-Key", "conn-42"))
	if w.Code != http.StatusCreated {
		t.Fatalf("first delivery: %d %s", w.Code, w.Body.String())
	}
	rec, err := repo.FindReceipt(context.Background(), db, domain.ChannelEmail, "conn-42")
	if err != nil || rec == nil {
		t.Fatalf("receipt: %+v err=%v", rec, err)
	}

	w = serve(r, postMessage("email", body, "Idempotency-Key", "conn-42"))
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay: %d headers=%v", w.Code, w.Header())
	}
	var resp handlers.IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || !resp.Duplicate || resp.Message == nil || resp.Message.ID != rec.MessageID {
		t.Fatalf("replay body: %s", w.Body.String())
	}

	w = serve(r, postMessage("email", body, "Idempotency-Key", "bad key!"))
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
		t.Fatalf("bad key: %d %s", w.Code, w.Body.String())
	}
}

func TestReceiptLookup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := repo.CreateReceipt(ctx, db, domain.InboundReceipt{
		ID: uuid.NewString(), Channel: domain.ChannelSMS, ExternalMessageID: "k1",
		MessageID: uuid.NewString(), ThreadID: uuid.NewString(), ContactID: uuid.NewString(),
	}); err != nil {
		t.Fatalf("seed receipt: %v", err)
	}
	look := receiptLookup(db)

	if seen, err := look(ctx, "sms", "k1"); err != nil || !seen {
		t.Fatalf("hit: seen=%v err=%v", seen, err)
	}
	if seen, err := look(ctx, "email", "k1"); err != nil || seen {
		t.Fatalf("other channel: seen=%v err=%v", seen, err)
	}
	if seen, err := look(ctx, "fax", "k1"); err != nil || seen {
		t.Fatalf("unknown channel: seen=%v err=%v", seen, err)
	}

	sqlDB, _ := db.DB()
	_ = sqlDB.Close()
	if seen, err := look(ctx, "sms", "k1"); err == nil || seen {
		t.Fatalf("closed db: seen=%v err=%v", seen, err)
	}
}

func TestRegisterRoutes_Gzip(t *testing.T) {
	r, _ := newRouter(t, baseConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feeds", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := serve(r, req)
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding=%q", w.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	plain, _ := io.ReadAll(zr)
	if !strings.Contains(string(plain), `"feeds"`) {
		t.Fatalf("body=%s", plain)
	}

}

func TestRegisterRoutes_Swagger(t *testing.T) {
	cfg := baseConfig()
	r, _ := newRouter(t, cfg)
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("swagger served while disabled: %d", w.Code)
	}

	cfg.SwaggerEnabled = true
	r, _ = newRouter(t, cfg)
	w := serve(r, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/threads") {
		t.Fatalf("doc.json: %d", w.Code)
	}
}

func TestLimitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(8))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	if w := serve(r, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("short"))); w.Code != http.StatusOK {
		t.Fatalf("small body: %d", w.Code)
	}
	if w := serve(r, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("much too long"))); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("large body: %d", w.Code)
	}
}

func TestGroupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, tc := range []struct{ prefix, path string }{
		{"", "/ping"},
		{"/", "/ping"},
		{"/api", "/api/ping"},
	} {
		r := gin.New()
		groupWithPrefix(r, tc.prefix).GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		if w := serve(r, httptest.NewRequest(http.MethodGet, tc.path, nil)); w.Code != http.StatusNoContent {
			t.Fatalf("prefix %q: %d", tc.prefix, w.Code)
		}
	}
}
