package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/unified-inbox/internal/annotate"
	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/priority"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/search"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection serializes writers; shared-cache SQLite otherwise
	// reports table locks under concurrent transactions.
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

// recorder is a Notifier that remembers what it was told.
type recorder struct {
	changed    []string
	reannotate []string
	closed     []string
}

func (r *recorder) ThreadChanged(id string, reannotate bool) {
	r.changed = append(r.changed, id)
	if reannotate {
		r.reannotate = append(r.reannotate, id)
	}
}

func (r *recorder) ThreadClosed(id string) { r.closed = append(r.closed, id) }

// stack wires every service over one database with a fixed clock.
type stack struct {
	db       *gorm.DB
	threads  *ThreadService
	ids      *IdentityService
	ingest   *IngestService
	feeds    *FeedService
	pipeline *Pipeline
	now      time.Time
}

// newStack builds the services; ann may be nil for the heuristic
// annotator. The pipeline is wired as notifier but not started, so tests
// drive Refresh and Annotate explicitly.
func newStack(t *testing.T, ann annotate.Annotator) *stack {
	t.Helper()
	db := newSvcDB(t)
	if ann == nil {
		ann = annotate.Heuristic{}
	}
	st := &stack{db: db, now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
	locks := NewKeyedMutex()
	idx := search.New()

	st.pipeline = NewPipeline(db, priority.NewScorer(30, 12*time.Hour), ann, idx, PipelineConfig{Workers: 1, QueueSize: 64})
	st.pipeline.Now = func() time.Time { return st.now }
	t.Cleanup(st.pipeline.Close)

	st.threads = NewThreadService(db, locks, 14*24*time.Hour)
	st.threads.Notify = st.pipeline
	st.threads.Feeds = st.pipeline.Engine
	st.threads.Index = idx

	st.ids = NewIdentityService(db, locks, st.threads)
	st.ids.Notify = st.pipeline
	st.ingest = NewIngestService(db, locks, st.ids, st.threads)
	st.feeds = NewFeedService(db, st.pipeline.Engine, st.threads, 0.5)
	return st
}

var extSeq int

// inbound builds a connector message with a fresh external ID.
func inbound(ch domain.Channel, from, body string, at time.Time) domain.InboundMessage {
	extSeq++
	return domain.InboundMessage{
		Channel:           ch,
		SenderAddress:     from,
		ExternalMessageID: fmt.Sprintf("ext-%d-%s", extSeq, uuid.NewString()[:8]),
		Timestamp:         at,
		Body:              body,
	}
}

func (st *stack) mustIngest(t *testing.T, in domain.InboundMessage) *IngestResult {
	t.Helper()
	res, err := st.ingest.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("ingest %s/%s: %v", in.Channel, in.SenderAddress, err)
	}
	return res
}

// assertPartition checks every identity belongs to exactly one active
// contact.
func assertPartition(t *testing.T, db *gorm.DB) {
	t.Helper()
	var idents []domain.Identity
	if err := db.Find(&idents).Error; err != nil {
		t.Fatalf("list identities: %v", err)
	}
	for _, id := range idents {
		c, err := repo.GetContact(context.Background(), db, id.ContactID)
		if err != nil {
			t.Fatalf("identity %s: owner %s: %v", id.ID, id.ContactID, err)
		}
		if !c.Active {
			t.Fatalf("identity %s (%s) owned by inactive contact %s", id.ID, id.Address, c.ID)
		}
	}
}

func countMessages(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Message{}).Count(&n).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return n
}
