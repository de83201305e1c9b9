package event

import (
	"encoding/json"

	"github.com/coderoom-dev/roomsync/pkg/types"
)

// RoomJoinedData is the data for room.joined events, published after
// the join request for a room has been emitted on the channel.
type RoomJoinedData struct {
	RoomID string `json:"roomId"`
}

// RoomLeftData is the data for room.left events. Subscribing stores
// clear their room-scoped state on receipt.
type RoomLeftData struct {
	RoomID string `json:"roomId"`
}

// RoomSnapshotData is the data for room.snapshot events.
type RoomSnapshotData struct {
	Snapshot types.RoomSnapshot `json:"snapshot"`
}

// RoomCreatedData is the data for room.created events.
type RoomCreatedData struct {
	RoomID string `json:"roomId"`
}

// RoomErrorData is the data for room.error events. RoomID may be empty
// for errors that are not scoped to a room.
type RoomErrorData struct {
	RoomID  string `json:"roomId,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// RoomJoinRequestData is the data for room.join-request events,
// delivered to owners while another user awaits a role.
type RoomJoinRequestData struct {
	Request types.RoomJoinRequest `json:"request"`
}

// RoomRoleAssignedData is the data for room.role-assigned events.
type RoomRoleAssignedData struct {
	RoomID string         `json:"roomId"`
	UserID string         `json:"userId"`
	Role   types.RoomRole `json:"role"`
}

// FSSnapshotData is the data for fs.snapshot events.
type FSSnapshotData struct {
	RoomID string         `json:"roomId"`
	Nodes  []types.FSNode `json:"nodes"`
}

// FSNodeUpsertData is the data for fs.node-upsert events (server
// confirmed create or rename).
type FSNodeUpsertData struct {
	RoomID string       `json:"roomId,omitempty"`
	Node   types.FSNode `json:"node"`
}

// FSNodeRemoveData is the data for fs.node-remove events.
type FSNodeRemoveData struct {
	RoomID string `json:"roomId,omitempty"`
	ID     string `json:"id"`
}

// PresenceSnapshotData is the data for presence.snapshot events.
type PresenceSnapshotData struct {
	RoomID string               `json:"roomId"`
	Users  []types.PresenceUser `json:"users"`
}

// PresenceJoinData is the data for presence.join events.
type PresenceJoinData struct {
	RoomID string             `json:"roomId,omitempty"`
	User   types.PresenceUser `json:"user"`
}

// PresenceLeaveData is the data for presence.leave events.
type PresenceLeaveData struct {
	RoomID string `json:"roomId,omitempty"`
	UserID string `json:"userId"`
}

// DocSyncData is the data for doc.sync events: the initial state of a
// replicated document, delivered as an update log to replay. The
// update encoding is owned by the document package; the router treats
// it as opaque.
type DocSyncData struct {
	RoomID  string          `json:"roomId"`
	FileID  string          `json:"fileId"`
	Updates json.RawMessage `json:"updates"`
}

// DocUpdateData is the data for doc.update events: one incremental
// delta for a replicated document.
type DocUpdateData struct {
	RoomID string          `json:"roomId"`
	FileID string          `json:"fileId"`
	Update json.RawMessage `json:"update"`
}

// AwarenessUpdateData is the data for awareness.update events. A nil
// State clears the entry for ClientID.
type AwarenessUpdateData struct {
	RoomID   string                `json:"roomId"`
	FileID   string                `json:"fileId"`
	ClientID string                `json:"clientId"`
	State    *types.AwarenessState `json:"state"`
}
