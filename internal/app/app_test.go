package app

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/domain"
)

func TestSqlitePath(t *testing.T) {
	cases := []struct {
		name, workdir, want string
	}{
		{"wagate.db", "/var/wagate", "/var/wagate/data/wagate.db"},
		{"", "/w", "/w/data/wagate.db"},
		{"/tmp/x.db", "/w", "/tmp/x.db"},
		{":memory:", "/w", ":memory:"},
	}
	for _, tc := range cases {
		if got := sqlitePath(tc.name, tc.workdir); got != tc.want {
			t.Errorf("sqlitePath(%q, %q) = %q, want %q", tc.name, tc.workdir, got, tc.want)
		}
	}
}

func TestGetDatabaseRejectsUnknownType(t *testing.T) {
	if _, err := getDatabase(config.DBConfig{Type: "oracle"}, t.TempDir()); err == nil {
		t.Fatal("expected error")
	}
}

func TestMigrateCreatesSessionTable(t *testing.T) {
	dir := t.TempDir()
	db, err := getDatabase(config.DBConfig{Type: "sqlite", Name: filepath.Join(dir, "t.db")}, dir)
	if err != nil {
		t.Fatal(err)
	}
	a := NewApplication(config.Default())
	a.OverrideDB(db)
	if err := a.MigrateDB(false); err != nil {
		t.Fatal(err)
	}
	if !db.Migrator().HasTable(&domain.WaSession{}) {
		t.Fatal("wa_session not created")
	}
	a.DropAll()
	if db.Migrator().HasTable(&domain.WaSession{}) {
		t.Fatal("wa_session not dropped")
	}
}

func TestAddJobRecoversPanics(t *testing.T) {
	cfg := config.Default()
	a := NewApplication(cfg)
	if err := a.AddJob("@every 1s", "early", func() {}); err == nil {
		t.Fatal("expected error before scheduler init")
	}
	a.initJob()
	defer a.sched.Stop()

	var runs int32
	if err := a.AddJob("@every 1s", "panicky", func() {
		atomic.AddInt32(&runs, 1)
		panic("boom")
	}); err != nil {
		t.Fatal(err)
	}
	if err := a.AddJob("not a spec", "bad", func() {}); err == nil {
		t.Fatal("invalid spec accepted")
	}

	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&runs) < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if atomic.LoadInt32(&runs) < 2 {
		t.Fatalf("runs = %d", atomic.LoadInt32(&runs))
	}
}
