// Package wire defines the channel message taxonomy and the validating
// decode boundary for payloads arriving from the collaboration server.
//
// Payload shapes on the wire are loose: fields may be missing, nested
// one level deep, or carried as the wrong primitive. Every inbound
// message type has exactly one decode function here that returns a
// typed payload or an error; malformed payloads never cross this
// boundary.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names exchanged with the server. Outbound and inbound names
// share one namespace; direction is noted where it is not symmetric.
const (
	// Rooms.
	EventRoomJoin        = "room:join"         // out
	EventRoomLeave       = "room:leave"        // out
	EventRoomCreate      = "room:create"       // out
	EventRoomAssignRole  = "room:assign-role"  // out, echoed back on assignment
	EventRoomCreated     = "room:created"      // in
	EventRoomSnapshot    = "room:snapshot"     // in
	EventRoomError       = "room:error"        // in
	EventRoomJoinRequest = "room:join-request" // in

	// Filesystem tree.
	EventFSSnapshot = "fs:snapshot" // in
	EventFSCreate   = "fs:create"
	EventFSRename   = "fs:rename"
	EventFSDelete   = "fs:delete"

	// Presence.
	EventPresenceUpdate = "presence:update"
	EventPresenceJoin   = "presence:join"
	EventPresenceLeave  = "presence:leave"

	// Replicated documents.
	EventDocJoin   = "doc:join" // out
	EventDocSync   = "doc:sync" // in
	EventDocUpdate = "doc:update"

	// Ephemeral awareness.
	EventAwarenessUpdate = "awareness:update"
)

// ErrMalformed is returned by decode functions when a payload is
// structurally invalid. Callers drop such payloads rather than apply
// them.
var ErrMalformed = errors.New("malformed payload")

// Frame is the envelope for every channel message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeFrame parses a raw channel message into a Frame.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return f, nil
}

// EncodeFrame serializes an outbound message.
func EncodeFrame(eventName string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", eventName, err)
	}
	return json.Marshal(Frame{Event: eventName, Data: data})
}

// RoomJoin is the outbound payload for room:join.
type RoomJoin struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

// RoomLeave is the outbound payload for room:leave.
type RoomLeave struct {
	RoomID string `json:"roomId"`
}

// RoomCreate is the outbound payload for room:create.
type RoomCreate struct {
	Name   string `json:"name"`
	UserID string `json:"userId"`
}

// RoomAssignRole is the outbound payload for room:assign-role.
type RoomAssignRole struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// FSCreate is the outbound payload for fs:create. ParentID is nil for
// nodes created at the room root; it is serialized as an explicit null
// so the server never has to guess.
type FSCreate struct {
	RoomID   string  `json:"roomId"`
	ParentID *string `json:"parentId"`
	Name     string  `json:"name"`
	Type     string  `json:"type"`
}

// FSRename is the outbound payload for fs:rename. Renames never move a
// node; ParentID is untouched.
type FSRename struct {
	RoomID string `json:"roomId"`
	ID     string `json:"id"`
	Name   string `json:"name"`
}

// FSDelete is the outbound payload for fs:delete. Deleting a folder
// implicitly deletes all descendants.
type FSDelete struct {
	RoomID string `json:"roomId"`
	ID     string `json:"id"`
}

// DocJoin is the outbound payload for doc:join, requesting the initial
// state of a replicated document.
type DocJoin struct {
	RoomID string `json:"roomId"`
	FileID string `json:"fileId"`
}

// DocUpdate is the payload for doc:update in both directions. Update
// is the opaque delta encoding owned by the document package.
type DocUpdate struct {
	RoomID string          `json:"roomId"`
	FileID string          `json:"fileId"`
	Update json.RawMessage `json:"update"`
}

// AwarenessUpdate is the payload for awareness:update in both
// directions. A null state clears the entry for ClientID.
type AwarenessUpdate struct {
	RoomID   string          `json:"roomId"`
	FileID   string          `json:"fileId"`
	ClientID string          `json:"clientId"`
	State    json.RawMessage `json:"state"`
}
