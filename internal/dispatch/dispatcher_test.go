package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/hub"
	"github.com/tbourn/go-chat-realtime/internal/services"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeConn) ID() string    { return "conn-1" }
func (f *fakeConn) UserID() int64 { return 7 }
func (f *fakeConn) Close() error  { return nil }

func (f *fakeConn) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, b)
	return nil
}

func (f *fakeConn) errors(t *testing.T) []hub.ErrorPayload {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []hub.ErrorPayload
	for _, b := range f.frames {
		var fr hub.Frame
		if err := json.Unmarshal(b, &fr); err != nil {
			t.Fatalf("frame: %v", err)
		}
		if fr.Type != hub.TypeError {
			t.Fatalf("unexpected frame type %q", fr.Type)
		}
		var p hub.ErrorPayload
		_ = json.Unmarshal(fr.Payload, &p)
		out = append(out, p)
	}
	return out
}

type call struct {
	sender, conv int64
	content      string
	ctxErr       error
	hasDeadline  bool
}

type fakeSender struct {
	err   error
	calls []call
}

func (f *fakeSender) Send(ctx context.Context, sender, conv int64, content string) (*domain.Message, error) {
	_, ok := ctx.Deadline()
	f.calls = append(f.calls, call{sender, conv, content, ctx.Err(), ok})
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Message{ID: 1, ConversationID: conv, SenderID: sender, Content: content}, nil
}

func TestDispatcher_ValidSendReachesServiceWithoutReply(t *testing.T) {
	s := &fakeSender{}
	d := New(s, time.Second, zerolog.Nop())
	c := &fakeConn{}

	// The caller's context is already cancelled, as when the socket closed
	// right after the frame arrived.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Handle(ctx, c, []byte(`{"type":"message.new","payload":{"conversation_id":3,"content":"hi"}}`))

	if len(s.calls) != 1 {
		t.Fatalf("expected one Send call, got %d", len(s.calls))
	}
	got := s.calls[0]
	if got.sender != 7 || got.conv != 3 || got.content != "hi" {
		t.Fatalf("unexpected call: %+v", got)
	}
	if got.ctxErr != nil || !got.hasDeadline {
		t.Fatalf("dispatch context must be detached and bounded: err=%v deadline=%v", got.ctxErr, got.hasDeadline)
	}
	if errs := c.errors(t); len(errs) != 0 {
		t.Fatalf("success must not reply, got %+v", errs)
	}
}

func TestDispatcher_RejectsBadFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"not json", `{oops`, hub.CodeBadRequest},
		{"missing type", `{"payload":{}}`, hub.CodeBadRequest},
		{"unknown type", `{"type":"typing.start","payload":{}}`, hub.CodeUnsupportedType},
		{"outbound-only type", `{"type":"conversation.read","payload":{}}`, hub.CodeUnsupportedType},
		{"payload not object", `{"type":"message.new","payload":"hi"}`, hub.CodeBadRequest},
		{"missing conversation", `{"type":"message.new","payload":{"content":"hi"}}`, hub.CodeBadRequest},
		{"negative conversation", `{"type":"message.new","payload":{"conversation_id":-1,"content":"hi"}}`, hub.CodeBadRequest},
		{"missing content", `{"type":"message.new","payload":{"conversation_id":1}}`, hub.CodeBadRequest},
		{"wrong content type", `{"type":"message.new","payload":{"conversation_id":1,"content":5}}`, hub.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSender{}
			d := New(s, 0, zerolog.Nop())
			c := &fakeConn{}

			d.Handle(context.Background(), c, []byte(tt.raw))

			if len(s.calls) != 0 {
				t.Fatalf("service must not be called")
			}
			errs := c.errors(t)
			if len(errs) != 1 || errs[0].Code != tt.code {
				t.Fatalf("got %+v, want code %q", errs, tt.code)
			}
		})
	}
}

func TestDispatcher_MapsServiceErrors(t *testing.T) {
	tests := []struct {
		err  error
		code string
		msg  string
	}{
		{services.ErrEmptyContent, hub.CodeBadRequest, services.ErrEmptyContent.Error()},
		{services.ErrTooLong, hub.CodeBadRequest, services.ErrTooLong.Error()},
		{services.ErrNotParticipant, hub.CodeForbidden, services.ErrNotParticipant.Error()},
		{services.ErrConversationNotFound, hub.CodeForbidden, services.ErrNotParticipant.Error()},
		{fmt.Errorf("%w: disk full", services.ErrPersistence), hub.CodeInternal, "internal error"},
		{errors.New("boom"), hub.CodeInternal, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			d := New(&fakeSender{err: tt.err}, time.Second, zerolog.Nop())
			c := &fakeConn{}

			d.Handle(context.Background(), c, []byte(`{"type":"message.new","payload":{"conversation_id":1,"content":"x"}}`))

			errs := c.errors(t)
			if len(errs) != 1 || errs[0].Code != tt.code || errs[0].Message != tt.msg {
				t.Fatalf("got %+v, want %s/%q", errs, tt.code, tt.msg)
			}
		})
	}
}
