package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/hub"
	"github.com/tbourn/go-chat-realtime/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
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
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// testRepo adapts the repo package functions to the service contracts.
type testRepo struct{}

func (testRepo) CreateConversation(ctx context.Context, db *gorm.DB, name *string, isGroup bool, ids []int64) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, db, name, isGroup, ids)
}
func (testRepo) FindDirectConversation(ctx context.Context, db *gorm.DB, ids []int64) (*domain.Conversation, error) {
	return repo.FindDirectConversation(ctx, db, ids)
}
func (testRepo) GetParticipants(ctx context.Context, db *gorm.DB, id int64) ([]domain.Participant, error) {
	return repo.GetParticipants(ctx, db, id)
}
func (testRepo) ListConversations(ctx context.Context, db *gorm.DB, uid int64) ([]domain.Conversation, error) {
	return repo.ListConversations(ctx, db, uid)
}
func (testRepo) ParticipantsByConversation(ctx context.Context, db *gorm.DB, ids []int64) (map[int64][]domain.Participant, error) {
	return repo.ParticipantsByConversation(ctx, db, ids)
}
func (testRepo) CreateMessage(ctx context.Context, db *gorm.DB, conv, sender int64, content string) (*domain.Message, error) {
	return repo.CreateMessage(ctx, db, conv, sender, content)
}
func (testRepo) ListMessages(ctx context.Context, db *gorm.DB, conv int64, limit int, before int64) ([]domain.Message, error) {
	return repo.ListMessages(ctx, db, conv, limit, before)
}
func (testRepo) GetMessage(ctx context.Context, db *gorm.DB, id int64) (*domain.Message, error) {
	return repo.GetMessage(ctx, db, id)
}
func (testRepo) CountUnread(ctx context.Context, db *gorm.DB, conv, uid int64, at *time.Time) (int64, error) {
	return repo.CountUnread(ctx, db, conv, uid, at)
}
func (testRepo) GetReadPositions(ctx context.Context, db *gorm.DB, conv int64) (map[int64]*time.Time, error) {
	return repo.GetReadPositions(ctx, db, conv)
}
func (testRepo) SetReadPosition(ctx context.Context, db *gorm.DB, conv, uid int64, at time.Time) (time.Time, error) {
	return repo.SetReadPosition(ctx, db, conv, uid, at)
}

// failingMessages makes CreateMessage fail while everything else works.
type failingMessages struct{ testRepo }

func (failingMessages) CreateMessage(context.Context, *gorm.DB, int64, int64, string) (*domain.Message, error) {
	return nil, gorm.ErrInvalidDB
}

type sent struct {
	users []int64
	ev    hub.Event
}

// recorder is a Broadcaster that remembers every call.
type recorder struct {
	mu    sync.Mutex
	calls []sent
}

func (r *recorder) Broadcast(ids []int64, ev hub.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sent{users: append([]int64(nil), ids...), ev: ev})
	return len(ids)
}

func (r *recorder) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.calls...)
}

type fixture struct {
	db   *gorm.DB
	rec  *recorder
	msgs *MessageService
	conv *ConversationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newSvcDB(t)
	rec := &recorder{}
	return &fixture{
		db:  db,
		rec: rec,
		msgs: &MessageService{
			DB:            db,
			Messages:      testRepo{},
			Conversations: testRepo{},
			Reads:         testRepo{},
			Hub:           rec,
		},
		conv: NewConversationService(db, testRepo{}, testRepo{}),
	}
}

func (f *fixture) conversation(t *testing.T, group bool, users ...int64) int64 {
	t.Helper()
	c, err := repo.CreateConversation(context.Background(), f.db, nil, group, users)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return c.ID
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	seen := map[int64]int{}
	for _, x := range a {
		seen[x]++
	}
	for _, x := range b {
		seen[x]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

func payload[T any](t *testing.T, ev hub.Event) T {
	t.Helper()
	var out T
	b, err := json.Marshal(ev.Payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return out
}
