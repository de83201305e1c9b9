package types

// CursorRange is an editor selection. A collapsed selection (caret) has
// Start == End.
type CursorRange struct {
	Start CursorPos `json:"start"`
	End   CursorPos `json:"end"`
}

// CursorPos is a 1-based editor position.
type CursorPos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// PresenceUser is one entry of the room roster. Entries are retained
// when a user goes offline; Online toggles instead.
type PresenceUser struct {
	UserID   string       `json:"userId"`
	Name     string       `json:"name"`
	Color    string       `json:"color"`
	Cursor   *CursorRange `json:"cursor,omitempty"`
	Online   bool         `json:"online"`
	LastSeen int64        `json:"lastSeen"` // unix millis
}

// PresenceSnapshot is the bulk roster payload for a room.
type PresenceSnapshot struct {
	RoomID string         `json:"roomId"`
	Users  []PresenceUser `json:"users"`
}

// AwarenessUser identifies the human behind an ephemeral client.
type AwarenessUser struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

// AwarenessState is the ephemeral per-client state broadcast alongside
// a document. It is keyed by a random client id distinct from the user
// id (one user may run several clients) and is never persisted.
type AwarenessState struct {
	User   AwarenessUser `json:"user"`
	Cursor *CursorRange  `json:"cursor,omitempty"`
}
