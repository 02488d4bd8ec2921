package repo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// countingPlugin records that OpenSQLite registered it.
type countingPlugin struct{ inits int }

func (p *countingPlugin) Name() string { return "counting" }

func (p *countingPlugin) Initialize(*gorm.DB) error { p.inits++; return nil }

type failingPlugin struct{}

func (failingPlugin) Name() string { return "failing" }

func (failingPlugin) Initialize(*gorm.DB) error { return errors.New("no tracer") }

func TestOpenSQLite_Errors(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "does-not-exist", "inbox.db")
	if db, err := OpenSQLite(bad); err == nil || db != nil || !os.IsNotExist(err) {
		t.Fatalf("missing dir: db=%v err=%v", db, err)
	}

	_, err := OpenSQLite(filepath.Join(t.TempDir(), "inbox.db"), failingPlugin{})
	if err == nil || !strings.Contains(err.Error(), "failing") {
		t.Fatalf("plugin error not reported: %v", err)
	}
}

func TestOpenSQLite_PragmasPoolPluginsAndMigrate(t *testing.T) {
	plugin := &countingPlugin{}
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "inbox.db"), plugin)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if plugin.inits != 1 {
		t.Fatalf("plugin initialized %d times", plugin.inits)
	}

	for pragma, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1", // NORMAL
		"foreign_keys": "1",
		"busy_timeout": "5000",
	} {
		var got string
		if err := db.Raw("PRAGMA " + pragma + ";").Row().Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", pragma, err)
		}
		if strings.ToLower(got) != want {
			t.Fatalf("PRAGMA %s = %q, want %q", pragma, got, want)
		}
	}

	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("expected MaxOpenConnections=10, got %d", stats.MaxOpenConnections)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range domain.AllModels() {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}

	// Foreign keys are enforced: an identity cannot point at a missing contact.
	ctx := context.Background()
	if _, err := CreateIdentity(ctx, db, domain.Identity{Channel: domain.ChannelEmail, Address: "a@b.io", ContactID: "missing"}); err == nil {
		t.Fatalf("expected FK violation for dangling identity")
	}

	c, err := CreateContact(ctx, db, "Ana", "ana", "an", "")
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	if c.Tier != domain.TierStandard || !c.Active || c.Version != 1 {
		t.Fatalf("unexpected contact defaults: %+v", c)
	}
	got, err := GetContact(ctx, db, c.ID)
	if err != nil || got.DisplayName != "Ana" {
		t.Fatalf("readback contact failed: err=%v got=%+v", err, got)
	}
	if _, err := GetContact(ctx, db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
