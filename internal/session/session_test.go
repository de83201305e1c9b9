package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderoom-dev/roomsync/internal/channel"
	"github.com/coderoom-dev/roomsync/internal/event"
	"github.com/coderoom-dev/roomsync/internal/fstree"
	"github.com/coderoom-dev/roomsync/internal/wire"
	"github.com/coderoom-dev/roomsync/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testServer plays the collaboration server: it records inbound frames
// and lets tests push authoritative events back.
type testServer struct {
	srv *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn

	inbound chan wire.Frame
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{inbound: make(chan wire.Frame, 64)}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := wire.DecodeFrame(raw)
			if err != nil {
				continue
			}
			select {
			case ts.inbound <- frame:
			default:
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) latest() *websocket.Conn {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.conns) == 0 {
		return nil
	}
	return ts.conns[len(ts.conns)-1]
}

func (ts *testServer) push(t *testing.T, eventName string, payload any) {
	t.Helper()
	raw, err := wire.EncodeFrame(eventName, payload)
	require.NoError(t, err)
	conn := ts.latest()
	require.NotNil(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func (ts *testServer) expect(t *testing.T, eventName string) wire.Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-ts.inbound:
			if frame.Event == eventName {
				return frame
			}
		case <-deadline:
			t.Fatalf("server never received %s", eventName)
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newTestSession(t *testing.T, ts *testServer, userID string) *Session {
	t.Helper()
	cfg := channel.DefaultConfig(ts.srv.URL)
	cfg.ReconnectInitialInterval = 20 * time.Millisecond
	cfg.ReconnectMaxInterval = 50 * time.Millisecond
	ch := channel.New(cfg)
	t.Cleanup(func() { ch.Close() })

	s := New(ch, event.NewBus(), Config{
		UserID:         userID,
		DocSyncTimeout: time.Minute,
	})
	t.Cleanup(s.Close)
	return s
}

func snapshotPayload(roomID, ownerID string, members []map[string]string, tree []map[string]any) map[string]any {
	return map[string]any{
		"roomId":  roomID,
		"room":    map[string]any{"id": roomID, "name": "Room " + roomID, "ownerId": ownerID},
		"members": members,
		"tree":    tree,
	}
}

func joinRoom(t *testing.T, s *Session, ts *testServer, roomID string) {
	t.Helper()
	require.NoError(t, s.Join(context.Background(), roomID))
	ts.expect(t, wire.EventRoomJoin)
}

func TestSession_JoinEmitsJoinAndAwaitsSnapshot(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u1")

	require.NoError(t, s.Join(context.Background(), "r1"))

	frame := ts.expect(t, wire.EventRoomJoin)
	assert.JSONEq(t, `{"roomId":"r1","userId":"u1"}`, string(frame.Data))
	assert.Equal(t, "r1", s.ActiveRoomID())
	assert.False(t, s.HasRoomSnapshot())
	assert.Equal(t, StateAwaitingSnapshot, s.State())
}

func TestSession_SnapshotThenDelta(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u1")
	joinRoom(t, s, ts, "r1")

	// A delta arriving before the snapshot must be dropped, not queued.
	ts.push(t, wire.EventFSCreate, map[string]any{
		"roomId": "r1",
		"id":     "early", "name": "early.txt", "type": "file",
	})

	ts.push(t, wire.EventRoomSnapshot, snapshotPayload("r1", "owner",
		[]map[string]string{{"userId": "u1", "role": "editor"}},
		[]map[string]any{{"id": "f0", "name": "readme.md", "type": "file"}},
	))
	waitFor(t, time.Second, s.HasRoomSnapshot)

	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, 1, s.Tree().Len())
	_, ok := s.Tree().Get("early")
	assert.False(t, ok, "pre-snapshot delta must not survive")

	// After the snapshot, a confirmed fs:create lands in the store.
	ts.push(t, wire.EventFSCreate, map[string]any{
		"roomId": "r1",
		"id":     "f1", "name": "main.py", "type": "file",
	})
	waitFor(t, time.Second, func() bool { _, ok := s.Tree().Get("f1"); return ok })
}

func TestSession_EventsForOtherRoomsAreDropped(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u1")
	joinRoom(t, s, ts, "r1")

	ts.push(t, wire.EventRoomSnapshot, snapshotPayload("r1", "owner",
		[]map[string]string{{"userId": "u1", "role": "editor"}}, nil))
	waitFor(t, time.Second, s.HasRoomSnapshot)

	ts.push(t, wire.EventFSCreate, map[string]any{
		"roomId": "r2",
		"id":     "foreign", "name": "x", "type": "file",
	})
	// Give the frame time to be (mis)applied.
	ts.push(t, wire.EventFSCreate, map[string]any{
		"roomId": "r1",
		"id":     "local", "name": "y", "type": "file",
	})
	waitFor(t, time.Second, func() bool { _, ok := s.Tree().Get("local"); return ok })

	_, ok := s.Tree().Get("foreign")
	assert.False(t, ok)
}

func TestSession_SnapshotResolvesRole(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u1")
	joinRoom(t, s, ts, "r1")

	ts.push(t, wire.EventRoomSnapshot, snapshotPayload("r1", "u1",
		[]map[string]string{{"userId": "U1 ", "role": "owner"}}, nil))
	waitFor(t, time.Second, s.HasRoomSnapshot)

	// Identity matching is normalized, so "U1 " still resolves.
	assert.Equal(t, types.RoleOwner, s.Access().Role())
	assert.NoError(t, s.FS().CreateNode(fstree.CreateNodeInput{
		RoomID: "r1",
		Name:   "new.txt",
		Type:   types.NodeFile,
	}))
}

func TestSession_PendingApprovalIsNotAFailure(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u2")
	joinRoom(t, s, ts, "r1")

	var roomErrors int
	var mu sync.Mutex
	s.Bus().Subscribe(event.RoomError, func(e event.Event) {
		mu.Lock()
		roomErrors++
		mu.Unlock()
	})

	ts.push(t, wire.EventRoomError, map[string]any{
		"roomId":  "r1",
		"message": "waiting for the owner to assign your role",
		"code":    "pending-approval",
	})
	waitFor(t, time.Second, s.IsAwaitingRoleAssignment)
	assert.Contains(t, s.AwaitingRoleMessage(), "assign your role")

	// The error is still surfaced on the bus for display.
	mu.Lock()
	assert.Equal(t, 1, roomErrors)
	mu.Unlock()

	// The assignment arrives; the sub-state clears.
	ts.push(t, wire.EventRoomAssignRole, map[string]any{
		"roomId": "r1", "userId": "u2", "role": "editor",
	})
	waitFor(t, time.Second, func() bool { return !s.IsAwaitingRoleAssignment() })
	assert.Equal(t, types.RoleEditor, s.Access().Role())
}

func TestSession_JoinRequestsUpsertAndPrune(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u1")
	joinRoom(t, s, ts, "r1")

	ts.push(t, wire.EventRoomSnapshot, snapshotPayload("r1", "u1",
		[]map[string]string{{"userId": "u1", "role": "owner"}}, nil))
	waitFor(t, time.Second, s.HasRoomSnapshot)

	req := map[string]any{"roomId": "r1", "userId": "u9", "name": "Nina"}
	ts.push(t, wire.EventRoomJoinRequest, req)
	waitFor(t, time.Second, func() bool { return len(s.JoinRequests()) == 1 })

	// A rerequest from the same user updates in place.
	req["name"] = "Nina R."
	ts.push(t, wire.EventRoomJoinRequest, req)
	waitFor(t, time.Second, func() bool {
		reqs := s.JoinRequests()
		return len(reqs) == 1 && reqs[0].Name == "Nina R."
	})

	// Once the user is a member, the request is settled.
	ts.push(t, wire.EventRoomSnapshot, snapshotPayload("r1", "u1",
		[]map[string]string{
			{"userId": "u1", "role": "owner"},
			{"userId": "u9", "role": "viewer"},
		}, nil))
	waitFor(t, time.Second, func() bool { return len(s.JoinRequests()) == 0 })
}

func TestSession_AssignRoleRequiresOwner(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u1")
	joinRoom(t, s, ts, "r1")

	ts.push(t, wire.EventRoomSnapshot, snapshotPayload("r1", "owner",
		[]map[string]string{{"userId": "u1", "role": "editor"}}, nil))
	waitFor(t, time.Second, s.HasRoomSnapshot)

	assert.ErrorIs(t, s.AssignRole("u9", types.RoleViewer), ErrNotOwner)
}

func TestSession_AssignRoleSendsRequest(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u1")
	joinRoom(t, s, ts, "r1")

	ts.push(t, wire.EventRoomSnapshot, snapshotPayload("r1", "u1",
		[]map[string]string{{"userId": "u1", "role": "owner"}}, nil))
	waitFor(t, time.Second, s.HasRoomSnapshot)

	require.NoError(t, s.AssignRole("u9", types.RoleEditor))
	frame := ts.expect(t, wire.EventRoomAssignRole)
	assert.JSONEq(t, `{"roomId":"r1","userId":"u9","role":"editor"}`, string(frame.Data))
}

func TestSession_CreateRoomRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u1")

	done := make(chan struct{})
	var roomID string
	var createErr error
	go func() {
		defer close(done)
		roomID, createErr = s.CreateRoom(context.Background(), "design review")
	}()

	frame := ts.expect(t, wire.EventRoomCreate)
	assert.JSONEq(t, `{"name":"design review","userId":"u1"}`, string(frame.Data))
	ts.push(t, wire.EventRoomCreated, map[string]any{"roomId": "r-new"})

	<-done
	require.NoError(t, createErr)
	assert.Equal(t, "r-new", roomID)
}

func TestSession_CreateRoomServerError(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u1")

	done := make(chan struct{})
	var createErr error
	go func() {
		defer close(done)
		_, createErr = s.CreateRoom(context.Background(), "dup")
	}()

	ts.expect(t, wire.EventRoomCreate)
	ts.push(t, wire.EventRoomError, map[string]any{"message": "name already taken"})

	<-done
	require.Error(t, createErr)
	assert.Contains(t, createErr.Error(), "name already taken")
}

func TestSession_PresenceFlow(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u1")
	joinRoom(t, s, ts, "r1")

	ts.push(t, wire.EventRoomSnapshot, snapshotPayload("r1", "owner",
		[]map[string]string{{"userId": "u1", "role": "editor"}}, nil))
	waitFor(t, time.Second, s.HasRoomSnapshot)

	ts.push(t, wire.EventPresenceUpdate, map[string]any{
		"roomId": "r1",
		"users": []map[string]any{
			{"userId": "u1", "name": "Ada", "color": "#f00"},
			{"userId": "u2", "name": "Bob", "color": "#0f0"},
		},
	})
	waitFor(t, time.Second, func() bool { return s.Presence().Len() == 2 })

	ts.push(t, wire.EventPresenceLeave, map[string]any{"roomId": "r1", "userId": "u2"})
	waitFor(t, time.Second, func() bool {
		u, ok := s.Presence().Get("u2")
		return ok && !u.Online
	})
	// The roster keeps the entry; only the flag flips.
	assert.Equal(t, 2, s.Presence().Len())
}

func TestSession_DocumentFlow(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u1")
	joinRoom(t, s, ts, "r1")

	ts.push(t, wire.EventRoomSnapshot, snapshotPayload("r1", "owner",
		[]map[string]string{{"userId": "u1", "role": "editor"}}, nil))
	waitFor(t, time.Second, s.HasRoomSnapshot)

	fs, _, err := s.OpenFile("f1")
	require.NoError(t, err)
	frame := ts.expect(t, wire.EventDocJoin)
	assert.JSONEq(t, `{"roomId":"r1","fileId":"f1"}`, string(frame.Data))

	// Empty history: the server answers with an empty log.
	ts.push(t, wire.EventDocSync, map[string]any{
		"roomId": "r1", "fileId": "f1", "updates": []any{},
	})
	waitFor(t, time.Second, fs.Synced)

	fs.Edit("print('hi')")
	ts.expect(t, wire.EventDocUpdate)
	assert.Equal(t, "print('hi')", fs.Text())
}

func TestSession_LeaveTearsDownCompletely(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u1")
	joinRoom(t, s, ts, "r1")

	ts.push(t, wire.EventRoomSnapshot, snapshotPayload("r1", "owner",
		[]map[string]string{{"userId": "u1", "role": "editor"}},
		[]map[string]any{{"id": "f1", "name": "a.txt", "type": "file"}}))
	waitFor(t, time.Second, s.HasRoomSnapshot)
	_, _, err := s.OpenFile("f1")
	require.NoError(t, err)

	var left bool
	var mu sync.Mutex
	s.Bus().Subscribe(event.RoomLeft, func(e event.Event) {
		mu.Lock()
		left = true
		mu.Unlock()
	})

	s.Leave()
	ts.expect(t, wire.EventRoomLeave)

	assert.Empty(t, s.ActiveRoomID())
	assert.Equal(t, StateDisconnected, s.State())
	assert.False(t, s.HasRoomSnapshot())
	assert.Equal(t, 0, s.Tree().Len())
	assert.Equal(t, 0, s.Presence().Len())
	assert.Equal(t, 0, s.Documents().Len())
	mu.Lock()
	assert.True(t, left)
	mu.Unlock()

	// After a full teardown, events for the old room fall on the floor.
	ts.push(t, wire.EventFSCreate, map[string]any{
		"roomId": "r1", "id": "ghost", "name": "g", "type": "file",
	})
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, s.Tree().Len())
}

func TestSession_ReconnectRejoinsAndRegates(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u1")
	joinRoom(t, s, ts, "r1")

	ts.push(t, wire.EventRoomSnapshot, snapshotPayload("r1", "owner",
		[]map[string]string{{"userId": "u1", "role": "editor"}}, nil))
	waitFor(t, time.Second, s.HasRoomSnapshot)

	// Drop the transport. The session must rejoin by itself and gate
	// deltas until the fresh snapshot lands.
	ts.latest().Close()
	ts.expect(t, wire.EventRoomJoin)
	assert.False(t, s.HasRoomSnapshot())

	ts.push(t, wire.EventRoomSnapshot, snapshotPayload("r1", "owner",
		[]map[string]string{{"userId": "u1", "role": "editor"}}, nil))
	waitFor(t, time.Second, s.HasRoomSnapshot)
	assert.Equal(t, StateReady, s.State())
}

func TestSession_JoinIsIdempotentPerRoom(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, "u1")
	joinRoom(t, s, ts, "r1")

	require.NoError(t, s.Join(context.Background(), "r1"))
	require.NoError(t, s.Join(context.Background(), "r1"))

	// No extra room:join frames beyond the first.
	select {
	case frame := <-ts.inbound:
		t.Fatalf("unexpected extra frame %s", frame.Event)
	case <-time.After(100 * time.Millisecond):
	}
}
