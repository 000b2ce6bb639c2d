package repo

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "chat.db")
	db, err := OpenSQLite(path)
	if err == nil || db != nil {
		t.Fatalf("expected error for %q, got db=%v err=%v", path, db, err)
	}
}

func TestOpenSQLite_PragmasPoolAndSchema(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

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
	if n := sqlDB.Stats().MaxOpenConnections; n != 10 {
		t.Fatalf("MaxOpenConnections = %d, want 10", n)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, tbl := range []any{&domain.Conversation{}, &domain.Participant{}, &domain.Message{}, &domain.Idempotency{}} {
		if !db.Migrator().HasTable(tbl) {
			t.Fatalf("table for %T missing", tbl)
		}
	}

	conv, err := CreateConversation(context.Background(), db, nil, false, []int64{1, 2})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := CreateMessage(context.Background(), db, conv.ID, 1, "hi"); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
}

func TestOpen_DriverSelection(t *testing.T) {
	cases := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"default driver", Options{Path: filepath.Join(t.TempDir(), "a.db")}, false},
		{"case-insensitive with tracing and verbose", Options{Driver: " SQLite ", Path: filepath.Join(t.TempDir(), "b.db"), Tracing: true, Verbose: true}, false},
		{"unsupported", Options{Driver: "mysql"}, true},
		{"postgres without dsn", Options{Driver: DriverPostgres, DSN: "  "}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, err := Open(tc.opts)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				t.Cleanup(func() { _ = sqlDB.Close() })
			}
			if err := db.Exec("SELECT 1").Error; err != nil {
				t.Fatalf("exec: %v", err)
			}
		})
	}
}

func TestNow_UTCMicroseconds(t *testing.T) {
	n := Now()
	if n.Location() != time.UTC {
		t.Fatalf("Now() location = %v", n.Location())
	}
	if n.Nanosecond()%int(time.Microsecond) != 0 {
		t.Fatalf("Now() not truncated to microseconds: %v", n)
	}
}
