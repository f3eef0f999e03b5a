package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/R2D1-BOT/retell-telegram-proxy/internal/model/chat"
)

// channelDispatcher forwards every dispatched message to a channel so tests
// can observe the asynchronous hand-off.
type channelDispatcher struct {
	received chan chat.InboundMessage
}

func (d *channelDispatcher) Dispatch(_ context.Context, msg chat.InboundMessage) {
	d.received <- msg
}

func setupRouter() (*chi.Mux, *channelDispatcher) {
	dispatcher := &channelDispatcher{received: make(chan chat.InboundMessage, 4)}
	handler := New(dispatcher)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, dispatcher
}

func postUpdate(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func waitDispatch(t *testing.T, d *channelDispatcher) chat.InboundMessage {
	t.Helper()
	select {
	case msg := <-d.received:
		return msg
	case <-time.After(time.Second):
		t.Fatal("message was not dispatched")
		return chat.InboundMessage{}
	}
}

func assertNoDispatch(t *testing.T, d *channelDispatcher) {
	t.Helper()
	select {
	case msg := <-d.received:
		t.Fatalf("unexpected dispatch %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpdateDispatchedAndAcknowledged(t *testing.T) {
	r, dispatcher := setupRouter()

	resp := postUpdate(r, `{"update_id":7,"message":{"message_id":1,"chat":{"id":42},"text":"hello"}}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	msg := waitDispatch(t, dispatcher)
	if msg.ChatID != 42 {
		t.Fatalf("expected chat 42, got %d", msg.ChatID)
	}
	if msg.Text != "hello" || msg.IsEnd {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestEndCommandFlagged(t *testing.T) {
	r, dispatcher := setupRouter()

	postUpdate(r, `{"message":{"chat":{"id":42},"text":"/end"}}`)

	msg := waitDispatch(t, dispatcher)
	if !msg.IsEnd {
		t.Fatalf("expected end command flag, got %+v", msg)
	}
}

func TestMalformedUpdateAcknowledgedAndDropped(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"message": nope`},
		{"missing message", `{"update_id":1}`},
		{"missing text", `{"message":{"chat":{"id":42}}}`},
		{"blank text", `{"message":{"chat":{"id":42},"text":"  "}}`},
		{"missing chat id", `{"message":{"text":"hello"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, dispatcher := setupRouter()

			resp := postUpdate(r, tc.body)
			if resp.Code != http.StatusOK {
				t.Fatalf("malformed updates must still be acknowledged, got %d", resp.Code)
			}
			assertNoDispatch(t, dispatcher)
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestUnsupportedMethodRejected(t *testing.T) {
	r, dispatcher := setupRouter()

	req := httptest.NewRequest(http.MethodPut, "/webhook", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
	assertNoDispatch(t, dispatcher)
}
