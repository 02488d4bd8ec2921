package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/unified-inbox/internal/annotate"
	"github.com/tbourn/unified-inbox/internal/http/middleware"
	"github.com/tbourn/unified-inbox/internal/priority"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/search"
	"github.com/tbourn/unified-inbox/internal/services"
)

type testAPI struct {
	r        *gin.Engine
	h        *Handlers
	db       *gorm.DB
	pipeline *services.Pipeline
}

// newAPI serves the handlers over real services and an in-memory
// database. The pipeline is wired but its workers are not started.
func newAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:api_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
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

	locks := services.NewKeyedMutex()
	idx := search.New()
	p := services.NewPipeline(db, priority.NewScorer(30, 12*time.Hour), annotate.Heuristic{}, idx,
		services.PipelineConfig{Workers: 1, QueueSize: 64})
	t.Cleanup(p.Close)

	threads := services.NewThreadService(db, locks, 14*24*time.Hour)
	threads.Notify = p
	threads.Feeds = p.Engine
	threads.Index = idx
	ids := services.NewIdentityService(db, locks, threads)
	ids.Notify = p
	ingest := services.NewIngestService(db, locks, ids, threads)
	feeds := services.NewFeedService(db, p.Engine, threads, 0.5)

	h := New(ingest, ids, threads, feeds)
	h.MaxRescanWait = 2 * time.Second

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Agent(), middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	h.Register(r)
	return &testAPI{r: r, h: h, db: db, pipeline: p}
}

// do sends a JSON request and returns the recorder.
func (a *testAPI) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body=%s)", v, err, w.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status=%d want %d body=%s", w.Code, want, w.Body.String())
	}
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, w, status)
	if er := decode[ErrorResponse](t, w); er.Code != code {
		t.Fatalf("code=%q want %q", er.Code, code)
	}
}

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// deliver ingests one message and returns the response.
func (a *testAPI) deliver(t *testing.T, channel, from, body string, at time.Time, extra ...func(*IngestRequest)) IngestResponse {
	t.Helper()
	req := IngestRequest{
		ExternalMessageID: uuid.NewString(),
		SenderAddress:     from,
		Timestamp:         at,
		Body:              body,
	}
	for _, f := range extra {
		f(&req)
	}
	w := a.do(t, http.MethodPost, "/channels/"+channel+"/messages", req)
	expectStatus(t, w, http.StatusCreated)
	return decode[IngestResponse](t, w)
}
