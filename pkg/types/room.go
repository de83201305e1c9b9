// Package types defines the shared data model for the room
// synchronization client: rooms, members, filesystem nodes, presence
// entries and document payloads exchanged with the collaboration server.
package types

// RoomRole is the membership role of a user inside a room.
type RoomRole string

const (
	RoleOwner  RoomRole = "owner"
	RoleEditor RoomRole = "editor"
	RoleViewer RoomRole = "viewer"
)

// Valid reports whether the role is one of the known roles.
func (r RoomRole) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// CanEdit reports whether the role allows filesystem and document mutation.
func (r RoomRole) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

// Room is the shared collaboration session users join by id.
// Identity is immutable; the name may be changed by the owner.
type Room struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"ownerId"`
}

// RoomMember is a user that has been granted access to a room.
// Exactly one member per room holds RoleOwner.
type RoomMember struct {
	UserID string   `json:"userId"`
	Role   RoomRole `json:"role"`
}

// RoomJoinRequest exists while a user has connected to a room but has
// not yet been assigned a role. It is removed once the user appears in
// the member list.
type RoomJoinRequest struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	RequestedAt int64  `json:"requestedAt"` // unix millis
}

// RoomSnapshot is the single authoritative bootstrap payload for a
// room, delivered by the server on every (re)join.
type RoomSnapshot struct {
	RoomID  string       `json:"roomId"`
	Room    Room         `json:"room"`
	Members []RoomMember `json:"members"`
	Tree    []FSNode     `json:"tree"`
}
