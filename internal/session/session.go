// Package session implements the room session controller: the
// lifecycle owner for everything scoped to the active room.
//
// A session composes the channel, the event bus, the tree and presence
// stores, the document manager and the access machine. None of these
// are globals; tearing the session down disposes the room-scoped state
// and listeners so nothing leaks into the next room.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coderoom-dev/roomsync/internal/access"
	"github.com/coderoom-dev/roomsync/internal/channel"
	"github.com/coderoom-dev/roomsync/internal/document"
	"github.com/coderoom-dev/roomsync/internal/event"
	"github.com/coderoom-dev/roomsync/internal/fstree"
	"github.com/coderoom-dev/roomsync/internal/logging"
	"github.com/coderoom-dev/roomsync/internal/presence"
	"github.com/coderoom-dev/roomsync/internal/wire"
	"github.com/coderoom-dev/roomsync/pkg/types"
)

// State is the coarse lifecycle state of the session.
type State string

const (
	StateDisconnected     State = "disconnected"
	StateConnecting       State = "connecting"
	StateAwaitingSnapshot State = "awaiting-snapshot"
	StateReady            State = "ready"
)

var (
	// ErrNoActiveRoom is returned by room-scoped operations before Join.
	ErrNoActiveRoom = errors.New("no active room")
	// ErrNotOwner is returned when a non-owner tries to assign roles.
	ErrNotOwner = errors.New("only the room owner can assign roles")
	// ErrCreateTimeout is returned when the server answers a room
	// creation request with neither room:created nor room:error in time.
	ErrCreateTimeout = errors.New("room creation timed out")
)

// Config configures a session.
type Config struct {
	// UserID is the local user identity sent with room joins.
	UserID string
	// UserName and UserEmail are sent with room joins so the server can
	// surface them on join requests and presence.
	UserName  string
	UserEmail string
	// DocSyncTimeout bounds the wait for a doc:sync per opened file.
	DocSyncTimeout time.Duration
	// RoomCreateTimeout bounds CreateRoom.
	RoomCreateTimeout time.Duration
}

// Session is the room session controller.
type Session struct {
	cfg Config
	log zerolog.Logger

	ch  *channel.Channel
	bus *event.Bus

	tree      *fstree.Store
	fsActions *fstree.Actions
	roster    *presence.Store
	docs      *document.Manager
	roles     *access.Machine

	mu           sync.Mutex
	state        State
	activeRoomID string
	hasSnapshot  bool
	joinSent     bool
	registered   bool
	unregister   []func()
	room         types.Room
	members      []types.RoomMember
	joinRequests map[string]types.RoomJoinRequest
}

// New creates a session on top of an injected channel and bus. The
// channel may be shared across consecutive sessions; the bus should be
// fresh per session.
func New(ch *channel.Channel, bus *event.Bus, cfg Config) *Session {
	if cfg.RoomCreateTimeout <= 0 {
		cfg.RoomCreateTimeout = 10 * time.Second
	}
	s := &Session{
		cfg:          cfg,
		log:          logging.With().Str("component", "session").Str("userId", cfg.UserID).Logger(),
		ch:           ch,
		bus:          bus,
		tree:         fstree.NewStore(),
		roster:       presence.NewStore(),
		roles:        access.NewMachine(cfg.UserID),
		state:        StateDisconnected,
		joinRequests: make(map[string]types.RoomJoinRequest),
	}
	s.fsActions = fstree.NewActions(ch, s.roles)
	s.docs = document.NewManager("", ch, cfg.DocSyncTimeout)
	return s
}

// Accessors for the room-scoped components. Callers read through these;
// all mutation flows through server-confirmed events.

func (s *Session) Bus() *event.Bus              { return s.bus }
func (s *Session) Channel() *channel.Channel    { return s.ch }
func (s *Session) Tree() *fstree.Store          { return s.tree }
func (s *Session) FS() *fstree.Actions          { return s.fsActions }
func (s *Session) Presence() *presence.Store    { return s.roster }
func (s *Session) Documents() *document.Manager { return s.docs }
func (s *Session) Access() *access.Machine      { return s.roles }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveRoomID returns the joined room id, empty when idle.
func (s *Session) ActiveRoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRoomID
}

// Room returns the room descriptor from the last snapshot.
func (s *Session) Room() types.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Members returns the member list from the last snapshot.
func (s *Session) Members() []types.RoomMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.RoomMember(nil), s.members...)
}

// HasRoomSnapshot reports whether an authoritative snapshot has been
// observed since the last (re)connect. Incremental events are dropped
// until this flips true; the snapshot that follows makes up for them.
func (s *Session) HasRoomSnapshot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasSnapshot
}

// IsConnected reports transport-level connectivity.
func (s *Session) IsConnected() bool {
	return s.ch.Connected()
}

// IsAwaitingRoleAssignment reports whether the server acknowledged the
// join but the owner has not assigned a role yet.
func (s *Session) IsAwaitingRoleAssignment() bool {
	return s.roles.Phase() == access.PhaseRequested
}

// AwaitingRoleMessage returns the display message for the pending
// approval state, if any.
func (s *Session) AwaitingRoleMessage() string {
	return s.roles.Message()
}

// JoinRequests returns the pending join requests, owner view only.
func (s *Session) JoinRequests() []types.RoomJoinRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.RoomJoinRequest, 0, len(s.joinRequests))
	for _, req := range s.joinRequests {
		out = append(out, req)
	}
	return out
}

// ensureRegistered attaches the channel handlers exactly once per
// session activation. Rejoining the same room never attaches a second
// set.
func (s *Session) ensureRegisteredLocked() {
	if s.registered {
		return
	}
	s.registered = true
	s.unregister = []func(){
		s.ch.OnFrame(s.routeFrame),
		s.ch.OnConnect(s.onConnect),
		s.ch.OnDisconnect(s.onDisconnect),
	}
}

// Join connects the channel if needed and requests membership in the
// room. Joining the room that is already active is a no-op; joining a
// different room tears the previous one down first.
func (s *Session) Join(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("join: %w", wire.ErrMalformed)
	}

	s.mu.Lock()
	if s.activeRoomID == roomID {
		s.mu.Unlock()
		return nil
	}
	if s.activeRoomID != "" {
		s.mu.Unlock()
		s.Leave()
		s.mu.Lock()
	}
	s.activeRoomID = roomID
	s.hasSnapshot = false
	s.joinSent = false
	s.state = StateConnecting
	s.ensureRegisteredLocked()
	s.mu.Unlock()

	if err := s.ch.Connect(ctx); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}

	// When the channel was already up, onConnect will not fire; emit
	// the join directly. The joinSent flag keeps the two paths from
	// double-sending.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch.Connected() && !s.joinSent {
		s.sendJoinLocked()
	}
	return nil
}

// sendJoinLocked emits room:join for the active room. Caller holds mu.
func (s *Session) sendJoinLocked() {
	roomID := s.activeRoomID
	if roomID == "" {
		return
	}
	s.joinSent = true
	s.state = StateAwaitingSnapshot
	join := wire.RoomJoin{
		RoomID: roomID,
		UserID: s.cfg.UserID,
		Name:   s.cfg.UserName,
		Email:  s.cfg.UserEmail,
	}
	if err := s.ch.Send(wire.EventRoomJoin, join); err != nil {
		s.log.Debug().Err(err).Str("roomId", roomID).Msg("room:join not sent")
		s.joinSent = false
		return
	}
	s.bus.PublishSync(event.Event{Type: event.RoomJoined, Data: event.RoomJoinedData{RoomID: roomID}})
}

// Leave tears the session's room scope down completely: the leave
// notice is sent best-effort, handlers are detached, stores cleared
// and the role machine reset. The channel itself stays open for the
// next room.
func (s *Session) Leave() {
	s.mu.Lock()
	roomID := s.activeRoomID
	if roomID == "" {
		s.mu.Unlock()
		return
	}
	s.activeRoomID = ""
	s.hasSnapshot = false
	s.joinSent = false
	s.state = StateDisconnected
	s.room = types.Room{}
	s.members = nil
	s.joinRequests = make(map[string]types.RoomJoinRequest)
	unregister := s.unregister
	s.unregister = nil
	s.registered = false
	s.mu.Unlock()

	if err := s.ch.Send(wire.EventRoomLeave, wire.RoomLeave{RoomID: roomID}); err != nil {
		s.log.Debug().Err(err).Str("roomId", roomID).Msg("room:leave not sent")
	}
	for _, fn := range unregister {
		fn()
	}

	s.docs.CloseAll()
	s.tree.Clear()
	s.roster.Clear()
	s.roles.Reset()

	s.bus.PublishSync(event.Event{Type: event.RoomLeft, Data: event.RoomLeftData{RoomID: roomID}})
	s.log.Info().Str("roomId", roomID).Msg("left room")
}

// CreateRoom asks the server to create a room and waits for the
// outcome. The wait is bounded by RoomCreateTimeout and the context.
func (s *Session) CreateRoom(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("create room: %w", wire.ErrMalformed)
	}

	s.mu.Lock()
	s.ensureRegisteredLocked()
	s.mu.Unlock()

	if err := s.ch.Connect(ctx); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}

	created := make(chan string, 1)
	failed := make(chan error, 1)
	unsubCreated := s.bus.Subscribe(event.RoomCreated, func(e event.Event) {
		if d, ok := e.Data.(event.RoomCreatedData); ok {
			select {
			case created <- d.RoomID:
			default:
			}
		}
	})
	defer unsubCreated()
	unsubError := s.bus.Subscribe(event.RoomError, func(e event.Event) {
		if d, ok := e.Data.(event.RoomErrorData); ok {
			select {
			case failed <- wire.RoomError{RoomID: d.RoomID, Message: d.Message, Code: d.Code}:
			default:
			}
		}
	})
	defer unsubError()

	if err := s.ch.Send(wire.EventRoomCreate, wire.RoomCreate{Name: name, UserID: s.cfg.UserID}); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}

	timer := time.NewTimer(s.cfg.RoomCreateTimeout)
	defer timer.Stop()
	select {
	case roomID := <-created:
		return roomID, nil
	case err := <-failed:
		return "", fmt.Errorf("create room: %w", err)
	case <-timer.C:
		return "", ErrCreateTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// AssignRole grants a role to another user. Only the room owner may
// call this; the membership change comes back as a server event.
func (s *Session) AssignRole(userID string, role types.RoomRole) error {
	s.mu.Lock()
	roomID := s.activeRoomID
	s.mu.Unlock()
	if roomID == "" {
		return ErrNoActiveRoom
	}
	if s.roles.Role() != types.RoleOwner {
		return ErrNotOwner
	}
	if userID == "" || !role.Valid() {
		return fmt.Errorf("assign role: %w", wire.ErrMalformed)
	}
	return s.ch.Send(wire.EventRoomAssignRole, wire.RoomAssignRole{
		RoomID: roomID,
		UserID: userID,
		Role:   string(role),
	})
}

// OpenFile opens a replicated document in the active room.
func (s *Session) OpenFile(fileID string) (*document.FileSync, *document.Awareness, error) {
	s.mu.Lock()
	roomID := s.activeRoomID
	s.mu.Unlock()
	if roomID == "" {
		return nil, nil, ErrNoActiveRoom
	}
	if fileID == "" {
		return nil, nil, fmt.Errorf("open file: %w", wire.ErrMalformed)
	}
	fs, aw := s.docs.Open(roomID, fileID)
	return fs, aw, nil
}

// Close leaves the room and closes the bus. The channel is left to its
// owner.
func (s *Session) Close() {
	s.Leave()
	_ = s.bus.Close()
}

// onConnect runs on every successful transport (re)connect. A
// reconnect behaves exactly like an initial join: the snapshot flag
// drops, the join request is re-emitted and open documents rejoin.
func (s *Session) onConnect() {
	s.bus.PublishSync(event.Event{Type: event.ChannelConnected, Data: nil})

	s.mu.Lock()
	s.hasSnapshot = false
	s.joinSent = false
	hasRoom := s.activeRoomID != ""
	if hasRoom {
		s.sendJoinLocked()
	}
	s.mu.Unlock()

	if hasRoom {
		s.docs.RejoinAll()
	}
}

func (s *Session) onDisconnect() {
	s.mu.Lock()
	s.joinSent = false
	if s.activeRoomID != "" {
		s.state = StateConnecting
	}
	s.mu.Unlock()
	s.bus.PublishSync(event.Event{Type: event.ChannelDisconnected, Data: nil})
}

// acceptScoped applies the room filter: events carrying a different
// room id than the active one are dropped. Events without a room id
// pass; the taxonomy keeps those unambiguous.
func (s *Session) acceptScoped(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRoomID == "" {
		return false
	}
	return roomID == "" || roomID == s.activeRoomID
}

// acceptDelta additionally gates on the snapshot: incremental events
// observed before the authoritative snapshot are dropped, not queued.
// The snapshot that follows supersedes anything they carried.
func (s *Session) acceptDelta(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRoomID == "" || !s.hasSnapshot {
		return false
	}
	return roomID == "" || roomID == s.activeRoomID
}

// routeFrame translates inbound wire frames into typed bus events.
// It runs on the channel read loop, so publishing synchronously keeps
// per-room event order identical to arrival order.
func (s *Session) routeFrame(frame wire.Frame) {
	switch frame.Event {
	case wire.EventRoomSnapshot:
		s.handleRoomSnapshot(frame)
	case wire.EventRoomError:
		s.handleRoomError(frame)
	case wire.EventRoomCreated:
		s.handleRoomCreated(frame)
	case wire.EventRoomJoinRequest:
		s.handleJoinRequest(frame)
	case wire.EventRoomAssignRole:
		s.handleRoleAssignment(frame)

	case wire.EventFSSnapshot:
		s.handleFSSnapshot(frame)
	case wire.EventFSCreate, wire.EventFSRename:
		s.handleFSUpsert(frame)
	case wire.EventFSDelete:
		s.handleFSDelete(frame)

	case wire.EventPresenceUpdate:
		s.handlePresenceRoster(frame)
	case wire.EventPresenceJoin:
		s.handlePresenceJoin(frame)
	case wire.EventPresenceLeave:
		s.handlePresenceLeave(frame)

	case wire.EventDocSync:
		s.handleDocSync(frame)
	case wire.EventDocUpdate:
		s.handleDocUpdate(frame)
	case wire.EventAwarenessUpdate:
		s.handleAwareness(frame)

	default:
		s.log.Debug().Str("event", frame.Event).Msg("ignoring unknown event")
	}
}

func (s *Session) handleRoomSnapshot(frame wire.Frame) {
	snap, err := wire.DecodeRoomSnapshot(frame.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed room:snapshot")
		return
	}
	if !s.acceptScoped(snap.RoomID) {
		return
	}

	s.roles.ApplyMembers(snap.Members)
	s.tree.SetSnapshot(snap.Tree)

	s.mu.Lock()
	s.hasSnapshot = true
	s.state = StateReady
	s.room = snap.Room
	s.members = snap.Members
	// Requests for users who are members now are settled.
	for _, member := range snap.Members {
		delete(s.joinRequests, member.UserID)
	}
	s.mu.Unlock()

	s.bus.PublishSync(event.Event{Type: event.RoomSnapshot, Data: event.RoomSnapshotData{Snapshot: snap}})
	s.log.Info().Str("roomId", snap.RoomID).Int("members", len(snap.Members)).Int("nodes", len(snap.Tree)).Msg("room snapshot applied")
}

func (s *Session) handleRoomError(frame wire.Frame) {
	roomErr := wire.DecodeRoomError(frame.Data)
	if roomErr.RoomID != "" && !s.acceptScoped(roomErr.RoomID) {
		// Still surface it to a pending CreateRoom waiter via the bus.
		s.mu.Lock()
		active := s.activeRoomID
		s.mu.Unlock()
		if active != "" {
			return
		}
	}

	if roomErr.IsPendingApproval() {
		// Soft condition: the user is in, just roleless. Not a failure.
		s.roles.SetRequested(roomErr.Message)
		s.log.Info().Str("roomId", roomErr.RoomID).Msg("awaiting role assignment")
	} else {
		s.log.Warn().Str("roomId", roomErr.RoomID).Str("code", roomErr.Code).Msg(roomErr.Message)
	}

	s.bus.PublishSync(event.Event{Type: event.RoomError, Data: event.RoomErrorData{
		RoomID:  roomErr.RoomID,
		Message: roomErr.Message,
		Code:    roomErr.Code,
	}})
}

func (s *Session) handleRoomCreated(frame wire.Frame) {
	roomID, err := wire.DecodeRoomCreated(frame.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed room:created")
		return
	}
	s.bus.PublishSync(event.Event{Type: event.RoomCreated, Data: event.RoomCreatedData{RoomID: roomID}})
}

func (s *Session) handleJoinRequest(frame wire.Frame) {
	req, err := wire.DecodeRoomJoinRequest(frame.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed room:join-request")
		return
	}
	if !s.acceptScoped(req.RoomID) {
		return
	}

	s.mu.Lock()
	// Keyed by user id: a rerequest updates in place instead of piling
	// up duplicate entries.
	s.joinRequests[req.UserID] = req
	s.mu.Unlock()

	s.bus.PublishSync(event.Event{Type: event.RoomJoinRequest, Data: event.RoomJoinRequestData{Request: req}})
}

func (s *Session) handleRoleAssignment(frame wire.Frame) {
	ra, err := wire.DecodeRoleAssignment(frame.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed role assignment")
		return
	}
	if !s.acceptScoped(ra.RoomID) {
		return
	}

	s.roles.ApplyAssignment(ra.UserID, ra.Role)

	s.mu.Lock()
	delete(s.joinRequests, ra.UserID)
	s.mu.Unlock()

	s.bus.PublishSync(event.Event{Type: event.RoomRoleAssigned, Data: event.RoomRoleAssignedData{
		RoomID: ra.RoomID,
		UserID: ra.UserID,
		Role:   ra.Role,
	}})
}

func (s *Session) handleFSSnapshot(frame wire.Frame) {
	snap, err := wire.DecodeFSSnapshot(frame.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed fs:snapshot")
		return
	}
	if !s.acceptScoped(snap.RoomID) {
		return
	}
	s.tree.SetSnapshot(snap.Nodes)
	s.bus.PublishSync(event.Event{Type: event.FSSnapshot, Data: event.FSSnapshotData{RoomID: snap.RoomID, Nodes: snap.Nodes}})
}

func (s *Session) handleFSUpsert(frame wire.Frame) {
	ev, err := wire.DecodeFSNodeEvent(frame.Data)
	if err != nil {
		s.log.Warn().Err(err).Str("event", frame.Event).Msg("dropping malformed fs node event")
		return
	}
	if !s.acceptDelta(ev.RoomID) {
		return
	}
	s.tree.UpsertNode(ev.Node)
	s.bus.PublishSync(event.Event{Type: event.FSNodeUpsert, Data: event.FSNodeUpsertData{RoomID: ev.RoomID, Node: ev.Node}})
}

func (s *Session) handleFSDelete(frame wire.Frame) {
	ev, err := wire.DecodeFSDeleteEvent(frame.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed fs:delete")
		return
	}
	if !s.acceptDelta(ev.RoomID) {
		return
	}
	s.tree.RemoveNode(ev.ID)
	s.bus.PublishSync(event.Event{Type: event.FSNodeRemove, Data: event.FSNodeRemoveData{RoomID: ev.RoomID, ID: ev.ID}})
}

func (s *Session) handlePresenceRoster(frame wire.Frame) {
	snap, err := wire.DecodePresenceSnapshot(frame.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed presence:update")
		return
	}
	if !s.acceptScoped(snap.RoomID) {
		return
	}
	s.roster.SetSnapshot(snap.Users)
	s.bus.PublishSync(event.Event{Type: event.PresenceSnapshot, Data: event.PresenceSnapshotData{RoomID: snap.RoomID, Users: snap.Users}})
}

func (s *Session) handlePresenceJoin(frame wire.Frame) {
	ev, err := wire.DecodePresenceUser(frame.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed presence:join")
		return
	}
	if !s.acceptDelta(ev.RoomID) {
		return
	}
	s.roster.UpsertUser(ev.User)
	s.bus.PublishSync(event.Event{Type: event.PresenceJoin, Data: event.PresenceJoinData{RoomID: ev.RoomID, User: ev.User}})
}

func (s *Session) handlePresenceLeave(frame wire.Frame) {
	ev, err := wire.DecodePresenceLeave(frame.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed presence:leave")
		return
	}
	if !s.acceptDelta(ev.RoomID) {
		return
	}
	s.roster.MarkOffline(ev.UserID)
	s.bus.PublishSync(event.Event{Type: event.PresenceLeave, Data: event.PresenceLeaveData{RoomID: ev.RoomID, UserID: ev.UserID}})
}

func (s *Session) handleDocSync(frame wire.Frame) {
	ev, err := wire.DecodeDocSync(frame.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed doc:sync")
		return
	}
	if !s.acceptScoped(ev.RoomID) {
		return
	}
	s.docs.HandleSync(ev.RoomID, ev.FileID, ev.Updates)
	s.bus.PublishSync(event.Event{Type: event.DocSync, Data: event.DocSyncData{RoomID: ev.RoomID, FileID: ev.FileID, Updates: ev.Updates}})
}

func (s *Session) handleDocUpdate(frame wire.Frame) {
	ev, err := wire.DecodeDocUpdate(frame.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed doc:update")
		return
	}
	if !s.acceptScoped(ev.RoomID) {
		return
	}
	s.docs.HandleUpdate(ev.RoomID, ev.FileID, ev.Update)
	s.bus.PublishSync(event.Event{Type: event.DocUpdate, Data: event.DocUpdateData{RoomID: ev.RoomID, FileID: ev.FileID, Update: ev.Update}})
}

func (s *Session) handleAwareness(frame wire.Frame) {
	ev, err := wire.DecodeAwareness(frame.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed awareness:update")
		return
	}
	if !s.acceptScoped(ev.RoomID) {
		return
	}
	s.docs.HandleAwareness(ev.RoomID, ev.FileID, ev.ClientID, ev.State)
	s.bus.PublishSync(event.Event{Type: event.AwarenessUpdate, Data: event.AwarenessUpdateData{
		RoomID:   ev.RoomID,
		FileID:   ev.FileID,
		ClientID: ev.ClientID,
		State:    ev.State,
	}})
}
