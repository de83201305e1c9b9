package types

// FSNodeType distinguishes files from folders in the room tree.
type FSNodeType string

const (
	NodeFile   FSNodeType = "file"
	NodeFolder FSNodeType = "folder"
)

// Valid reports whether the node type is a known value.
func (t FSNodeType) Valid() bool {
	return t == NodeFile || t == NodeFolder
}

// FSNode is one entry of the room's file tree. Nodes with an empty
// ParentID are roots. Deleting a folder implies deleting all
// descendants.
type FSNode struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     FSNodeType `json:"type"`
	ParentID string     `json:"parentId,omitempty"`
	Path     string     `json:"path"`
	// UpdatedAt is the server-side modification time in unix millis.
	// The server is the ordering authority; clients apply last-write-wins
	// per node id.
	UpdatedAt int64 `json:"updatedAt"`
}
