package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"taskchat/internal/infrastructure/realtime"
	chat "taskchat/internal/pkg/chat/application/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var errStoreDown = errors.New("store down")

type fakeRepo struct {
	mu            sync.Mutex
	conversations map[string]*chat.Conversation
	messages      []chat.Message
	createErr     error
	findErr       error
	seq           int
}

func newFakeRepo(convs ...chat.Conversation) *fakeRepo {
	r := &fakeRepo{conversations: make(map[string]*chat.Conversation)}
	for i := range convs {
		c := convs[i]
		r.conversations[c.ID] = &c
	}
	return r
}

func (r *fakeRepo) FindConversation(_ context.Context, id string) (*chat.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	c, ok := r.conversations[id]
	if !ok {
		return nil, chat.ErrConversationNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *fakeRepo) CreateMessage(_ context.Context, m chat.Message) (*chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	c, ok := r.conversations[m.ConversationID]
	if !ok {
		return nil, chat.ErrConversationNotFound
	}
	r.seq++
	m.ID = fmt.Sprintf("msg-%d", r.seq)
	r.messages = append(r.messages, m)
	c.LastMessageAt = m.CreatedAt
	return &m, nil
}

func (r *fakeRepo) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type fakeDirectory struct {
	users map[string]chat.User
	err   error
}

func (d *fakeDirectory) FindUserByID(_ context.Context, id string) (*chat.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[id]
	if !ok {
		return nil, chat.ErrUserNotFound
	}
	return &u, nil
}

func defaultDirectory() *fakeDirectory {
	return &fakeDirectory{users: map[string]chat.User{
		"alice":   {ID: "alice", Name: "Alice"},
		"bob":     {ID: "bob", Name: "Bob"},
		"mallory": {ID: "mallory", Name: "Mallory"},
	}}
}

func newTestServer(t *testing.T, repo *fakeRepo, dir *fakeDirectory) (*httptest.Server, *realtime.Router) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rt := realtime.NewRouter(realtime.NewPresenceRegistry())
	ctl := NewChatSocketController(repo, dir, rt)

	r := gin.New()
	r.GET("/ws", ctl.Handle())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(rt.Close)
	return srv, rt
}

// dial opens a websocket for the given user and consumes the "connected" ack.
func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, userID), nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { ws.Close() })

	frame := readFrame(t, ws)
	if frame["type"] != "connected" {
		t.Fatalf("expected connected ack, got %v", frame)
	}
	return ws
}

func wsURL(srv *httptest.Server, userID string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user_id=" + url.QueryEscape(userID)
}

func send(t *testing.T, ws *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := ws.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return frame
}

// expectSilence asserts that no frame arrives within a short window. The
// read deadline corrupts the connection state, so call it last for a socket.
func expectSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := ws.ReadMessage(); err == nil {
		t.Fatalf("expected no frame, got %s", data)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHandshakeRejectsMissingUserID(t *testing.T) {
	srv, _ := newTestServer(t, newFakeRepo(), defaultDirectory())

	_, resp, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err == nil {
		t.Fatal("expected handshake to fail without user_id")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", resp)
	}
}

func TestHandshakeRejectsUnknownUser(t *testing.T) {
	srv, rt := newTestServer(t, newFakeRepo(), defaultDirectory())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "ghost"), nil)
	if err == nil {
		t.Fatal("expected handshake to fail for unknown user")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
	if rt.Presence().Online("ghost") {
		t.Fatal("rejected connection must leave no presence behind")
	}
}

func TestHandshakeRejectsWhenDirectoryDown(t *testing.T) {
	dir := defaultDirectory()
	dir.err = errStoreDown
	srv, rt := newTestServer(t, newFakeRepo(), dir)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "alice"), nil)
	if err == nil {
		t.Fatal("expected handshake to fail when the directory is down")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", resp)
	}
	if rt.Presence().Online("alice") {
		t.Fatal("rejected connection must leave no presence behind")
	}
}

func TestJoinConversationAuthorization(t *testing.T) {
	repo := newFakeRepo(chat.Conversation{ID: "c1", TaskID: "t1", ClientID: "alice", WorkerID: "bob"})
	srv, _ := newTestServer(t, repo, defaultDirectory())

	alice := dial(t, srv, "alice")
	mallory := dial(t, srv, "mallory")

	send(t, alice, map[string]any{"type": "join:conversation", "conversation_id": "c1"})
	frame := readFrame(t, alice)
	if frame["type"] != "joined" || frame["conversation_id"] != "c1" {
		t.Fatalf("expected joined ack, got %v", frame)
	}

	send(t, mallory, map[string]any{"type": "join:conversation", "conversation_id": "c1"})
	frame = readFrame(t, mallory)
	if frame["type"] != "error" || frame["message"] != "not authorized" {
		t.Fatalf("expected not authorized error, got %v", frame)
	}

	send(t, mallory, map[string]any{"type": "join:conversation", "conversation_id": "nope"})
	frame = readFrame(t, mallory)
	if frame["type"] != "error" || frame["message"] != "conversation not found" {
		t.Fatalf("expected conversation not found error, got %v", frame)
	}
}

func TestJoinConversationStoreDown(t *testing.T) {
	repo := newFakeRepo(chat.Conversation{ID: "c1", ClientID: "alice", WorkerID: "bob"})
	repo.findErr = errStoreDown
	srv, _ := newTestServer(t, repo, defaultDirectory())

	alice := dial(t, srv, "alice")
	send(t, alice, map[string]any{"type": "join:conversation", "conversation_id": "c1"})
	frame := readFrame(t, alice)
	if frame["type"] != "error" || frame["message"] != "failed to join conversation" {
		t.Fatalf("expected generic join failure, got %v", frame)
	}
}

// The central scenario: a participant with the conversation open gets the
// feed event, both participants get exactly one inbox event, outsiders get
// nothing, and the sender's callback carries the persisted message.
func TestSendMessageFanOut(t *testing.T) {
	repo := newFakeRepo(chat.Conversation{ID: "c1", TaskID: "t1", ClientID: "alice", WorkerID: "bob"})
	srv, _ := newTestServer(t, repo, defaultDirectory())

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	mallory := dial(t, srv, "mallory")

	send(t, alice, map[string]any{"type": "join:conversation", "conversation_id": "c1"})
	if frame := readFrame(t, alice); frame["type"] != "joined" {
		t.Fatalf("expected joined ack, got %v", frame)
	}
	// bob keeps the conversation closed: he should only see the inbox event.

	send(t, alice, map[string]any{
		"type":            "message:send",
		"conversation_id": "c1",
		"content":         "hello",
		"ack_id":          "a1",
	})

	// Alice is in the room: feed event first, then her own inbox event,
	// then the callback.
	feed := readFrame(t, alice)
	if feed["type"] != "message:new" || feed["conversation_id"] != "c1" {
		t.Fatalf("expected message:new, got %v", feed)
	}
	msg, ok := feed["message"].(map[string]any)
	if !ok || msg["content"] != "hello" || msg["sender_id"] != "alice" || msg["task_id"] != "t1" {
		t.Fatalf("unexpected feed message payload: %v", feed)
	}
	if msg["read"] != false {
		t.Fatalf("new message must start unread: %v", msg)
	}

	inbox := readFrame(t, alice)
	if inbox["type"] != "conversation:newMessage" || inbox["sender_id"] != "alice" {
		t.Fatalf("expected conversation:newMessage for sender, got %v", inbox)
	}

	ack := readFrame(t, alice)
	if ack["type"] != "message:ack" || ack["ack_id"] != "a1" {
		t.Fatalf("expected message:ack a1, got %v", ack)
	}
	if _, hasErr := ack["error"]; hasErr {
		t.Fatalf("successful send must not carry an error: %v", ack)
	}

	// Bob gets exactly one inbox event and no feed event.
	bobInbox := readFrame(t, bob)
	if bobInbox["type"] != "conversation:newMessage" || bobInbox["conversation_id"] != "c1" {
		t.Fatalf("expected conversation:newMessage for bob, got %v", bobInbox)
	}
	last, ok := bobInbox["last_message"].(map[string]any)
	if !ok || last["content"] != "hello" {
		t.Fatalf("unexpected inbox payload: %v", bobInbox)
	}

	if repo.messageCount() != 1 {
		t.Fatalf("expected exactly one persisted message, got %d", repo.messageCount())
	}

	expectSilence(t, mallory)
	expectSilence(t, bob)
}

func TestSendMessageStoreDownShortCircuitsFanOut(t *testing.T) {
	repo := newFakeRepo(chat.Conversation{ID: "c1", ClientID: "alice", WorkerID: "bob"})
	srv, _ := newTestServer(t, repo, defaultDirectory())

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")

	repo.mu.Lock()
	repo.createErr = errStoreDown
	repo.mu.Unlock()

	send(t, alice, map[string]any{
		"type":            "message:send",
		"conversation_id": "c1",
		"content":         "hello",
		"ack_id":          "a1",
	})

	ack := readFrame(t, alice)
	if ack["type"] != "message:ack" || ack["ack_id"] != "a1" || ack["error"] != "failed to send message" {
		t.Fatalf("expected failure ack, got %v", ack)
	}
	if repo.messageCount() != 0 {
		t.Fatal("failed send must persist nothing")
	}
	expectSilence(t, bob)
	expectSilence(t, alice)
}

func TestSendMessageUnauthorizedWithoutAck(t *testing.T) {
	repo := newFakeRepo(chat.Conversation{ID: "c1", ClientID: "alice", WorkerID: "bob"})
	srv, _ := newTestServer(t, repo, defaultDirectory())

	mallory := dial(t, srv, "mallory")
	send(t, mallory, map[string]any{
		"type":            "message:send",
		"conversation_id": "c1",
		"content":         "hi there",
	})

	frame := readFrame(t, mallory)
	if frame["type"] != "error" || frame["message"] != "not authorized" {
		t.Fatalf("expected not authorized error, got %v", frame)
	}
	if repo.messageCount() != 0 {
		t.Fatal("unauthorized send must persist nothing")
	}
}

func TestTypingRelayExcludesSender(t *testing.T) {
	repo := newFakeRepo(chat.Conversation{ID: "c1", TaskID: "t1", ClientID: "alice", WorkerID: "bob"})
	srv, _ := newTestServer(t, repo, defaultDirectory())

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")

	for _, ws := range []*websocket.Conn{alice, bob} {
		send(t, ws, map[string]any{"type": "join:conversation", "conversation_id": "c1"})
		if frame := readFrame(t, ws); frame["type"] != "joined" {
			t.Fatalf("expected joined ack, got %v", frame)
		}
	}

	send(t, alice, map[string]any{"type": "typing:start", "conversation_id": "c1"})
	frame := readFrame(t, bob)
	if frame["type"] != "typing:start" || frame["user_id"] != "alice" || frame["user_name"] != "Alice" {
		t.Fatalf("expected typing:start from Alice, got %v", frame)
	}

	send(t, alice, map[string]any{"type": "typing:stop", "conversation_id": "c1"})
	frame = readFrame(t, bob)
	if frame["type"] != "typing:stop" || frame["user_id"] != "alice" {
		t.Fatalf("expected typing:stop from alice, got %v", frame)
	}
	if _, hasName := frame["user_name"]; hasName {
		t.Fatalf("typing:stop must not carry a display name: %v", frame)
	}

	// The sender never sees their own indicator: the next frame alice
	// receives must be the feed event for the message below, not typing.
	send(t, alice, map[string]any{"type": "message:send", "conversation_id": "c1", "content": "done typing"})
	frame = readFrame(t, alice)
	if frame["type"] != "message:new" {
		t.Fatalf("alice should not receive her own typing signal, got %v", frame)
	}
}

func TestTypingIgnoredForNonMembers(t *testing.T) {
	repo := newFakeRepo(chat.Conversation{ID: "c1", ClientID: "alice", WorkerID: "bob"})
	srv, _ := newTestServer(t, repo, defaultDirectory())

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	mallory := dial(t, srv, "mallory")

	send(t, bob, map[string]any{"type": "join:conversation", "conversation_id": "c1"})
	if frame := readFrame(t, bob); frame["type"] != "joined" {
		t.Fatalf("expected joined ack, got %v", frame)
	}

	// mallory never joined c1; her typing must reach nobody.
	send(t, mallory, map[string]any{"type": "typing:start", "conversation_id": "c1"})

	// alice is a participant but has not joined the room either.
	send(t, alice, map[string]any{"type": "typing:start", "conversation_id": "c1"})

	expectSilence(t, bob)
}

func TestLeaveConversationStopsFeedNotInbox(t *testing.T) {
	repo := newFakeRepo(chat.Conversation{ID: "c1", ClientID: "alice", WorkerID: "bob"})
	srv, _ := newTestServer(t, repo, defaultDirectory())

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")

	send(t, alice, map[string]any{"type": "join:conversation", "conversation_id": "c1"})
	if frame := readFrame(t, alice); frame["type"] != "joined" {
		t.Fatalf("expected joined ack, got %v", frame)
	}
	send(t, alice, map[string]any{"type": "leave:conversation", "conversation_id": "c1"})
	if frame := readFrame(t, alice); frame["type"] != "left" {
		t.Fatalf("expected left ack, got %v", frame)
	}

	send(t, bob, map[string]any{"type": "message:send", "conversation_id": "c1", "content": "ping"})

	// Alice left the room, so no feed event; as a participant she still
	// gets the inbox event.
	frame := readFrame(t, alice)
	if frame["type"] != "conversation:newMessage" {
		t.Fatalf("expected only the inbox event after leaving, got %v", frame)
	}
	expectSilence(t, alice)
}

func TestDisconnectCleansPresence(t *testing.T) {
	repo := newFakeRepo()
	srv, rt := newTestServer(t, repo, defaultDirectory())

	tab1 := dial(t, srv, "alice")
	tab2 := dial(t, srv, "alice")

	waitFor(t, func() bool { return len(rt.Presence().Connections("alice")) == 2 })

	tab1.Close()
	waitFor(t, func() bool { return len(rt.Presence().Connections("alice")) == 1 })
	if !rt.Presence().Online("alice") {
		t.Fatal("alice should stay online while one tab remains")
	}

	tab2.Close()
	waitFor(t, func() bool { return !rt.Presence().Online("alice") })
}
