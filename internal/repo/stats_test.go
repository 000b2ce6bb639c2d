package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if migrate {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func mustConversation(t *testing.T, db *gorm.DB, group bool, users ...int64) int64 {
	t.Helper()
	c, err := CreateConversation(context.Background(), db, nil, group, users)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return c.ID
}

func mustMessage(t *testing.T, db *gorm.DB, conv, sender int64, content string) int64 {
	t.Helper()
	m, err := CreateMessage(context.Background(), db, conv, sender, content)
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	return m.ID
}

func TestConversationsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t, false)
	_, _, _, err := ConversationsStats(context.Background(), db, 1)
	if err == nil {
		t.Fatalf("expected error due to missing participants table")
	}
}

func TestConversationsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, true)
	count, maxID, maxRead, err := ConversationsStats(context.Background(), db, 1)
	if err != nil {
		t.Fatalf("ConversationsStats error: %v", err)
	}
	if count != 0 || maxID != 0 || maxRead != nil {
		t.Fatalf("expected (0, 0, nil), got (%d, %d, %v)", count, maxID, maxRead)
	}
}

func TestConversationsStats_MovesOnMessageAndRead(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, true)

	a := mustConversation(t, db, false, 1, 2)
	b := mustConversation(t, db, false, 1, 3)
	other := mustConversation(t, db, false, 2, 3)

	count, maxID, maxRead, err := ConversationsStats(ctx, db, 1)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if count != 2 || maxID != 0 || maxRead != nil {
		t.Fatalf("unexpected initial stats: (%d, %d, %v)", count, maxID, maxRead)
	}

	m1 := mustMessage(t, db, a, 2, "hi")
	_ = mustMessage(t, db, other, 2, "not mine") // must not count for user 1

	_, maxID, _, err = ConversationsStats(ctx, db, 1)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if maxID != m1 {
		t.Fatalf("maxMessageID = %d, want %d", maxID, m1)
	}

	t1 := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	if _, err := SetReadPosition(ctx, db, a, 1, t1); err != nil {
		t.Fatalf("set read a: %v", err)
	}
	if _, err := SetReadPosition(ctx, db, b, 1, t2); err != nil {
		t.Fatalf("set read b: %v", err)
	}

	_, _, maxRead, err = ConversationsStats(ctx, db, 1)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if maxRead == nil || !maxRead.Equal(t2) {
		t.Fatalf("maxReadAt = %v, want %v", maxRead, t2)
	}
}
