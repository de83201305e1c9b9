package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coderoom-dev/roomsync/pkg/types"
)

// RoomError is the decoded form of room:error. RoomID is empty for
// errors that are not scoped to a room.
type RoomError struct {
	RoomID  string
	Message string
	Code    string
}

// pendingKeywords mark an error as a soft pending-approval condition
// rather than a hard failure.
var pendingKeywords = []string{"pending", "approval", "assign-role", "assign role"}

// IsPendingApproval reports whether the error indicates the user has
// joined but still awaits a role assignment.
func (e RoomError) IsPendingApproval() bool {
	probe := strings.ToLower(e.Code + " " + e.Message)
	for _, kw := range pendingKeywords {
		if strings.Contains(probe, kw) {
			return true
		}
	}
	return false
}

func (e RoomError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("room error [%s]: %s", e.Code, e.Message)
	}
	return "room error: " + e.Message
}

// DecodeRoomError never fails: the server is allowed to send a bare
// string, a {message} object or a {error} object, and an unreadable
// payload still becomes a displayable error.
func DecodeRoomError(data json.RawMessage) RoomError {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil && asString != "" {
		return RoomError{Message: asString}
	}

	var raw struct {
		RoomID  string `json:"roomId"`
		Message string `json:"message"`
		Err     string `json:"error"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return RoomError{Message: "unknown room error"}
	}

	msg := raw.Message
	if msg == "" {
		msg = raw.Err
	}
	if msg == "" {
		msg = "unknown room error"
	}
	return RoomError{RoomID: raw.RoomID, Message: msg, Code: raw.Code}
}

// rawNode mirrors the loose node shape on the wire: parentId may be a
// string or null, updatedAt a unix-millis number or an RFC3339 string.
type rawNode struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	ParentID  *string         `json:"parentId"`
	Path      string          `json:"path"`
	UpdatedAt json.RawMessage `json:"updatedAt"`
}

func (n rawNode) toNode() (types.FSNode, error) {
	if n.ID == "" || n.Name == "" {
		return types.FSNode{}, fmt.Errorf("%w: node missing id or name", ErrMalformed)
	}
	nodeType := types.FSNodeType(n.Type)
	if !nodeType.Valid() {
		return types.FSNode{}, fmt.Errorf("%w: unknown node type %q", ErrMalformed, n.Type)
	}

	node := types.FSNode{
		ID:        n.ID,
		Name:      n.Name,
		Type:      nodeType,
		Path:      n.Path,
		UpdatedAt: decodeMillis(n.UpdatedAt),
	}
	if n.ParentID != nil {
		node.ParentID = *n.ParentID
	}
	if node.Path == "" {
		node.Path = node.Name
	}
	return node, nil
}

// decodeMillis accepts a unix-millis number or a parseable timestamp
// string and falls back to now.
func decodeMillis(raw json.RawMessage) int64 {
	if len(raw) > 0 {
		var n int64
		if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
			return n
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.UnixMilli()
			}
		}
	}
	return time.Now().UnixMilli()
}

// DecodeFSNode decodes a single node descriptor.
func DecodeFSNode(data json.RawMessage) (types.FSNode, error) {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.FSNode{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return raw.toNode()
}

// FSNodeEvent is a decoded fs:create / fs:rename notification.
type FSNodeEvent struct {
	RoomID string
	Node   types.FSNode
}

// DecodeFSNodeEvent accepts either a flat node descriptor (with an
// optional roomId alongside) or a {roomId, node} wrapper.
func DecodeFSNodeEvent(data json.RawMessage) (FSNodeEvent, error) {
	var wrapped struct {
		RoomID string          `json:"roomId"`
		Node   json.RawMessage `json:"node"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return FSNodeEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	body := data
	if len(wrapped.Node) > 0 && string(wrapped.Node) != "null" {
		body = wrapped.Node
	}
	node, err := DecodeFSNode(body)
	if err != nil {
		return FSNodeEvent{}, err
	}
	return FSNodeEvent{RoomID: wrapped.RoomID, Node: node}, nil
}

// FSSnapshot is a decoded fs:snapshot payload. Invalid entries are
// dropped, not rejected wholesale.
type FSSnapshot struct {
	RoomID string
	Nodes  []types.FSNode
}

// DecodeFSSnapshot decodes an fs:snapshot payload.
func DecodeFSSnapshot(data json.RawMessage) (FSSnapshot, error) {
	var raw struct {
		RoomID string            `json:"roomId"`
		Nodes  []json.RawMessage `json:"nodes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return FSSnapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.RoomID == "" {
		return FSSnapshot{}, fmt.Errorf("%w: snapshot missing roomId", ErrMalformed)
	}

	snap := FSSnapshot{RoomID: raw.RoomID, Nodes: make([]types.FSNode, 0, len(raw.Nodes))}
	for _, entry := range raw.Nodes {
		node, err := DecodeFSNode(entry)
		if err != nil {
			continue
		}
		snap.Nodes = append(snap.Nodes, node)
	}
	return snap, nil
}

// FSDeleteEvent is a decoded fs:delete notification.
type FSDeleteEvent struct {
	RoomID string
	ID     string
}

// DecodeFSDeleteEvent decodes an fs:delete payload.
func DecodeFSDeleteEvent(data json.RawMessage) (FSDeleteEvent, error) {
	var raw struct {
		RoomID string `json:"roomId"`
		ID     string `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return FSDeleteEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.ID == "" {
		return FSDeleteEvent{}, fmt.Errorf("%w: delete missing id", ErrMalformed)
	}
	return FSDeleteEvent{RoomID: raw.RoomID, ID: raw.ID}, nil
}

// DecodeRoomSnapshot decodes a room:snapshot payload. Members with
// unknown roles and malformed tree nodes are dropped.
func DecodeRoomSnapshot(data json.RawMessage) (types.RoomSnapshot, error) {
	var raw struct {
		RoomID  string `json:"roomId"`
		Room    struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			OwnerID string `json:"ownerId"`
		} `json:"room"`
		Members []struct {
			UserID string `json:"userId"`
			Role   string `json:"role"`
		} `json:"members"`
		Tree []json.RawMessage `json:"tree"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.RoomSnapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.RoomID == "" || raw.Room.ID == "" {
		return types.RoomSnapshot{}, fmt.Errorf("%w: snapshot missing room identity", ErrMalformed)
	}

	snap := types.RoomSnapshot{
		RoomID: raw.RoomID,
		Room: types.Room{
			ID:      raw.Room.ID,
			Name:    raw.Room.Name,
			OwnerID: raw.Room.OwnerID,
		},
	}
	for _, m := range raw.Members {
		role := types.RoomRole(m.Role)
		if m.UserID == "" || !role.Valid() {
			continue
		}
		snap.Members = append(snap.Members, types.RoomMember{UserID: m.UserID, Role: role})
	}
	for _, entry := range raw.Tree {
		node, err := DecodeFSNode(entry)
		if err != nil {
			continue
		}
		snap.Tree = append(snap.Tree, node)
	}
	return snap, nil
}

// DecodeRoomCreated decodes a room:created payload.
func DecodeRoomCreated(data json.RawMessage) (string, error) {
	var raw struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.RoomID == "" {
		return "", fmt.Errorf("%w: created missing roomId", ErrMalformed)
	}
	return raw.RoomID, nil
}

// DecodeRoomJoinRequest accepts either a bare request or a {request}
// wrapper, defaulting RequestedAt to now when absent.
func DecodeRoomJoinRequest(data json.RawMessage) (types.RoomJoinRequest, error) {
	var wrapped struct {
		Request json.RawMessage `json:"request"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Request) > 0 {
		data = wrapped.Request
	}

	var raw struct {
		RoomID      string `json:"roomId"`
		UserID      string `json:"userId"`
		Name        string `json:"name"`
		Email       string `json:"email"`
		RequestedAt int64  `json:"requestedAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.RoomJoinRequest{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.RoomID == "" || raw.UserID == "" || raw.Name == "" {
		return types.RoomJoinRequest{}, fmt.Errorf("%w: join request missing identity", ErrMalformed)
	}
	if raw.RequestedAt == 0 {
		raw.RequestedAt = time.Now().UnixMilli()
	}
	return types.RoomJoinRequest{
		RoomID:      raw.RoomID,
		UserID:      raw.UserID,
		Name:        raw.Name,
		Email:       raw.Email,
		RequestedAt: raw.RequestedAt,
	}, nil
}

// RoleAssignment is a decoded room:assign-role notification.
type RoleAssignment struct {
	RoomID string
	UserID string
	Role   types.RoomRole
}

// DecodeRoleAssignment decodes a role-assignment payload.
func DecodeRoleAssignment(data json.RawMessage) (RoleAssignment, error) {
	var raw struct {
		RoomID string `json:"roomId"`
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return RoleAssignment{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	role := types.RoomRole(raw.Role)
	if raw.RoomID == "" || raw.UserID == "" || !role.Valid() {
		return RoleAssignment{}, fmt.Errorf("%w: invalid role assignment", ErrMalformed)
	}
	return RoleAssignment{RoomID: raw.RoomID, UserID: raw.UserID, Role: role}, nil
}

// rawPresenceUser tolerates both flat users and {roomId, user}
// wrappers, with online defaulting to true and lastSeen to now.
type rawPresenceUser struct {
	UserID   string             `json:"userId"`
	Name     string             `json:"name"`
	Color    string             `json:"color"`
	Cursor   *types.CursorRange `json:"cursor"`
	Online   *bool              `json:"online"`
	LastSeen int64              `json:"lastSeen"`
}

func (u rawPresenceUser) toUser() (types.PresenceUser, error) {
	if u.UserID == "" || u.Name == "" || u.Color == "" {
		return types.PresenceUser{}, fmt.Errorf("%w: presence user missing identity", ErrMalformed)
	}
	user := types.PresenceUser{
		UserID:   u.UserID,
		Name:     u.Name,
		Color:    u.Color,
		Cursor:   u.Cursor,
		Online:   true,
		LastSeen: u.LastSeen,
	}
	if u.Online != nil {
		user.Online = *u.Online
	}
	if user.LastSeen == 0 {
		user.LastSeen = time.Now().UnixMilli()
	}
	return user, nil
}

// PresenceUserEvent is a decoded presence:join payload.
type PresenceUserEvent struct {
	RoomID string
	User   types.PresenceUser
}

// DecodePresenceUser decodes a single presence user event.
func DecodePresenceUser(data json.RawMessage) (PresenceUserEvent, error) {
	var wrapped struct {
		RoomID string          `json:"roomId"`
		User   json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.User) > 0 {
		var raw rawPresenceUser
		if err := json.Unmarshal(wrapped.User, &raw); err != nil {
			return PresenceUserEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		user, err := raw.toUser()
		if err != nil {
			return PresenceUserEvent{}, err
		}
		return PresenceUserEvent{RoomID: wrapped.RoomID, User: user}, nil
	}

	var raw rawPresenceUser
	if err := json.Unmarshal(data, &raw); err != nil {
		return PresenceUserEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	user, err := raw.toUser()
	if err != nil {
		return PresenceUserEvent{}, err
	}
	return PresenceUserEvent{User: user}, nil
}

// DecodePresenceSnapshot decodes a presence:update roster payload,
// dropping invalid entries.
func DecodePresenceSnapshot(data json.RawMessage) (types.PresenceSnapshot, error) {
	var raw struct {
		RoomID string            `json:"roomId"`
		Users  []rawPresenceUser `json:"users"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.PresenceSnapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.RoomID == "" {
		return types.PresenceSnapshot{}, fmt.Errorf("%w: presence snapshot missing roomId", ErrMalformed)
	}

	snap := types.PresenceSnapshot{RoomID: raw.RoomID}
	for _, entry := range raw.Users {
		user, err := entry.toUser()
		if err != nil {
			continue
		}
		snap.Users = append(snap.Users, user)
	}
	return snap, nil
}

// PresenceLeaveEvent is a decoded presence:leave payload.
type PresenceLeaveEvent struct {
	RoomID string
	UserID string
}

// DecodePresenceLeave decodes a presence:leave payload.
func DecodePresenceLeave(data json.RawMessage) (PresenceLeaveEvent, error) {
	var raw struct {
		RoomID string `json:"roomId"`
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return PresenceLeaveEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.UserID == "" {
		return PresenceLeaveEvent{}, fmt.Errorf("%w: leave missing userId", ErrMalformed)
	}
	return PresenceLeaveEvent{RoomID: raw.RoomID, UserID: raw.UserID}, nil
}

// DocSyncEvent is a decoded doc:sync payload.
type DocSyncEvent struct {
	RoomID  string
	FileID  string
	Updates json.RawMessage
}

// DecodeDocSync decodes a doc:sync payload. The update log stays
// opaque; the document package owns its encoding.
func DecodeDocSync(data json.RawMessage) (DocSyncEvent, error) {
	var raw struct {
		RoomID  string          `json:"roomId"`
		FileID  string          `json:"fileId"`
		Updates json.RawMessage `json:"updates"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return DocSyncEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.RoomID == "" || raw.FileID == "" {
		return DocSyncEvent{}, fmt.Errorf("%w: doc sync missing identity", ErrMalformed)
	}
	return DocSyncEvent{RoomID: raw.RoomID, FileID: raw.FileID, Updates: raw.Updates}, nil
}

// DecodeDocUpdate decodes a doc:update payload.
func DecodeDocUpdate(data json.RawMessage) (DocUpdate, error) {
	var raw DocUpdate
	if err := json.Unmarshal(data, &raw); err != nil {
		return DocUpdate{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.RoomID == "" || raw.FileID == "" || len(raw.Update) == 0 {
		return DocUpdate{}, fmt.Errorf("%w: doc update missing identity or body", ErrMalformed)
	}
	return raw, nil
}

// AwarenessEvent is a decoded awareness:update payload. State is nil
// when the owning client cleared or disconnected.
type AwarenessEvent struct {
	RoomID   string
	FileID   string
	ClientID string
	State    *types.AwarenessState
}

// DecodeAwareness decodes an awareness:update payload.
func DecodeAwareness(data json.RawMessage) (AwarenessEvent, error) {
	var raw struct {
		RoomID   string                `json:"roomId"`
		FileID   string                `json:"fileId"`
		ClientID string                `json:"clientId"`
		State    *types.AwarenessState `json:"state"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return AwarenessEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.RoomID == "" || raw.FileID == "" || raw.ClientID == "" {
		return AwarenessEvent{}, fmt.Errorf("%w: awareness missing identity", ErrMalformed)
	}
	if raw.State != nil && raw.State.User.UserID == "" {
		return AwarenessEvent{}, fmt.Errorf("%w: awareness state missing user", ErrMalformed)
	}
	return AwarenessEvent{
		RoomID:   raw.RoomID,
		FileID:   raw.FileID,
		ClientID: raw.ClientID,
		State:    raw.State,
	}, nil
}
