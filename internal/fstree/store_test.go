package fstree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderoom-dev/roomsync/internal/access"
	"github.com/coderoom-dev/roomsync/internal/wire"
	"github.com/coderoom-dev/roomsync/pkg/types"
)

func file(id, name, parent string) types.FSNode {
	return types.FSNode{ID: id, Name: name, Type: types.NodeFile, ParentID: parent, Path: name}
}

func folder(id, name, parent string) types.FSNode {
	return types.FSNode{ID: id, Name: name, Type: types.NodeFolder, ParentID: parent, Path: name}
}

func TestStore_UpsertAndGet(t *testing.T) {
	s := NewStore()
	s.UpsertNode(file("f1", "main.py", ""))

	node, ok := s.Get("f1")
	require.True(t, ok)
	assert.Equal(t, "main.py", node.Name)

	// Last event wins per node id.
	renamed := file("f1", "app.py", "")
	s.UpsertNode(renamed)
	node, _ = s.Get("f1")
	assert.Equal(t, "app.py", node.Name)
	assert.Equal(t, 1, s.Len())
}

func TestStore_UpsertDropsInvalidNodes(t *testing.T) {
	s := NewStore()
	s.UpsertNode(types.FSNode{Name: "no-id", Type: types.NodeFile})
	s.UpsertNode(types.FSNode{ID: "x", Name: "bad-type", Type: "symlink"})
	assert.Equal(t, 0, s.Len())
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	s := NewStore()
	s.UpsertNode(file("f1", "a", ""))
	s.UpsertNode(file("f2", "b", ""))

	s.RemoveNode("f1")
	after := s.Nodes()
	s.RemoveNode("f1")
	assert.Equal(t, after, s.Nodes())
	assert.Equal(t, 1, s.Len())
}

func TestStore_CascadingDeleteClosure(t *testing.T) {
	s := NewStore()
	s.UpsertNode(folder("d1", "src", ""))
	s.UpsertNode(folder("d2", "pkg", "d1"))
	s.UpsertNode(file("f1", "a.go", "d2"))
	s.UpsertNode(file("f2", "b.go", "d1"))
	s.UpsertNode(file("f3", "top.md", ""))

	// Only the root delete notification arrives; descendants go too.
	s.RemoveNode("d1")

	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("f3")
	assert.True(t, ok)
}

func TestStore_SnapshotReplacesWholesale(t *testing.T) {
	s := NewStore()
	s.UpsertNode(file("x", "stale.txt", ""))

	// A rejoin snapshot that does not include "x" must not leave a
	// ghost node behind.
	s.SetSnapshot([]types.FSNode{file("f1", "fresh.txt", "")})

	_, ok := s.Get("x")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestStore_ChildrenOfOrdersFoldersFirst(t *testing.T) {
	s := NewStore()
	s.UpsertNode(file("f1", "zz.txt", ""))
	s.UpsertNode(folder("d1", "aa", ""))
	s.UpsertNode(file("f2", "bb.txt", ""))
	s.UpsertNode(file("f3", "inner.txt", "d1"))

	kids := s.ChildrenOf("")
	require.Len(t, kids, 3)
	assert.Equal(t, "d1", kids[0].ID)
	assert.Equal(t, "f2", kids[1].ID)
	assert.Equal(t, "f1", kids[2].ID)
}

// recordingSender captures outbound frames.
type recordingSender struct {
	events   []string
	payloads []any
}

func (r *recordingSender) Send(eventName string, payload any) error {
	r.events = append(r.events, eventName)
	r.payloads = append(r.payloads, payload)
	return nil
}

func editorGuard(t *testing.T) *access.Machine {
	t.Helper()
	m := access.NewMachine("u1")
	m.ApplyMembers([]types.RoomMember{{UserID: "u1", Role: types.RoleEditor}})
	return m
}

func viewerGuard(t *testing.T) *access.Machine {
	t.Helper()
	m := access.NewMachine("u1")
	m.ApplyMembers([]types.RoomMember{{UserID: "u1", Role: types.RoleViewer}})
	return m
}

func TestActions_CreateNodeSendsRequest(t *testing.T) {
	sender := &recordingSender{}
	actions := NewActions(sender, editorGuard(t))

	require.NoError(t, actions.CreateNode(CreateNodeInput{
		RoomID: "r1",
		Name:   "main.py",
		Type:   types.NodeFile,
	}))

	require.Len(t, sender.events, 1)
	assert.Equal(t, wire.EventFSCreate, sender.events[0])
	payload := sender.payloads[0].(wire.FSCreate)
	assert.Nil(t, payload.ParentID) // room root
}

func TestActions_ViewerIsBlockedInCore(t *testing.T) {
	sender := &recordingSender{}
	actions := NewActions(sender, viewerGuard(t))

	assert.ErrorIs(t, actions.CreateNode(CreateNodeInput{RoomID: "r1", Name: "x", Type: types.NodeFile}), access.ErrViewerReadOnly)
	assert.ErrorIs(t, actions.RenameNode("r1", "f1", "y"), access.ErrViewerReadOnly)
	assert.ErrorIs(t, actions.DeleteNode("r1", "f1"), access.ErrViewerReadOnly)
	assert.Empty(t, sender.events)
}

func TestActions_RejectsMalformedInput(t *testing.T) {
	sender := &recordingSender{}
	actions := NewActions(sender, editorGuard(t))

	assert.ErrorIs(t, actions.CreateNode(CreateNodeInput{RoomID: "r1", Name: "x", Type: "symlink"}), wire.ErrMalformed)
	assert.ErrorIs(t, actions.RenameNode("r1", "", "y"), wire.ErrMalformed)
	assert.ErrorIs(t, actions.DeleteNode("", "f1"), wire.ErrMalformed)
	assert.Empty(t, sender.events)
}
