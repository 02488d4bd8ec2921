package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(AllModels()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Contact{}).TableName():            "contacts",
		(Identity{}).TableName():           "identities",
		(ProvenanceEntry{}).TableName():    "provenance",
		(MergeSuggestion{}).TableName():    "merge_suggestions",
		(Thread{}).TableName():             "threads",
		(Message{}).TableName():            "messages",
		(AnnotationSnapshot{}).TableName(): "annotations",
		(Feed{}).TableName():               "feeds",
		(SmartFilter{}).TableName():        "smart_filters",
		(InboundReceipt{}).TableName():     "inbound_receipts",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()
	for _, tc := range []struct {
		model any
		index string
	}{
		{&Identity{}, "ux_identity_address"},
		{&Thread{}, "idx_contact_threads"},
		{&Message{}, "idx_thread_msgs"},
		{&SmartFilter{}, "idx_feed_filters"},
		{&InboundReceipt{}, "ux_receipt_external"},
		{&ProvenanceEntry{}, "idx_prov_contact"},
	} {
		if !m.HasIndex(tc.model, tc.index) {
			t.Fatalf("expected index %s on %T", tc.index, tc.model)
		}
	}
}

func TestIdentityAddressUnique(t *testing.T) {
	db := newDomainDB(t)
	c := Contact{ID: uuid.NewString(), DisplayName: "Sarah", Tier: TierStandard, Active: true}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("create contact: %v", err)
	}
	a := Identity{ID: uuid.NewString(), Channel: ChannelEmail, Address: "sarah@acme.io", ContactID: c.ID}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("create identity: %v", err)
	}
	b := Identity{ID: uuid.NewString(), Channel: ChannelEmail, Address: "sarah@acme.io", ContactID: c.ID}
	if err := db.Create(&b).Error; err == nil {
		t.Fatalf("expected unique violation for duplicate (channel, address)")
	}
	other := Identity{ID: uuid.NewString(), Channel: ChannelSlack, Address: "sarah@acme.io", ContactID: c.ID}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("same address on another channel should be allowed: %v", err)
	}
}

func TestThreadJSONColumnsRoundTrip(t *testing.T) {
	db := newDomainDB(t)
	c := Contact{ID: uuid.NewString(), Active: true}
	db.Create(&c)
	now := time.Now().UTC().Truncate(time.Second)
	th := Thread{ID: uuid.NewString(), ContactID: c.ID, Status: ThreadOpen, Tags: []string{"billing", "vip"},
		FirstMessageAt: now, LastMessageAt: now, Version: 1}
	if err := db.Create(&th).Error; err != nil {
		t.Fatalf("create thread: %v", err)
	}
	var got Thread
	if err := db.First(&got, "id = ?", th.ID).Error; err != nil {
		t.Fatalf("load thread: %v", err)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "billing" {
		t.Fatalf("tags = %v", got.Tags)
	}
	if !got.Stale() {
		t.Fatalf("thread with AnnotatedVersion 0 < Version 1 should be stale")
	}

	f := Feed{ID: uuid.NewString(), Name: "Urgent", Threshold: 0.5, Version: 1,
		Filters: []SmartFilter{{ID: uuid.NewString(), Position: 0, Predicate: And(Equals(FieldSentiment, "negative"), Threshold(FieldWaitTime, ">", 2))}}}
	if err := db.Create(&f).Error; err != nil {
		t.Fatalf("create feed: %v", err)
	}
	var sf SmartFilter
	if err := db.First(&sf, "feed_id = ?", f.ID).Error; err != nil {
		t.Fatalf("load filter: %v", err)
	}
	if sf.Predicate.Kind != PredicateAnd || len(sf.Predicate.All) != 2 || sf.Predicate.All[1].Number != 2 {
		t.Fatalf("predicate not round-tripped: %+v", sf.Predicate)
	}
}

func TestTierAndPriorityRanks(t *testing.T) {
	if !(TierVIP.Rank() > TierPremium.Rank() && TierPremium.Rank() > TierStandard.Rank()) {
		t.Fatalf("tier ranks out of order")
	}
	if !(PriorityUrgent.Rank() > PriorityHigh.Rank() && PriorityHigh.Rank() > PriorityMedium.Rank() &&
		PriorityMedium.Rank() > PriorityLow.Rank() && PriorityLow.Rank() > Priority("").Rank()) {
		t.Fatalf("priority ranks out of order")
	}
	if p, ok := ParsePriority(" High "); !ok || p != PriorityHigh {
		t.Fatalf("ParsePriority = %q %v", p, ok)
	}
	if _, ok := ParseChannel("fax"); ok {
		t.Fatalf("fax is not a channel")
	}
	if c, ok := ParseChannel("WhatsApp"); !ok || c.AddressKind() != AddressPhone {
		t.Fatalf("whatsapp should parse and use phone addresses")
	}
}
