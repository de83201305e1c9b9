package fstree

import (
	"fmt"

	"github.com/coderoom-dev/roomsync/internal/wire"
	"github.com/coderoom-dev/roomsync/pkg/types"
)

// Sender transmits outbound frames. Satisfied by the channel manager.
type Sender interface {
	Send(eventName string, payload any) error
}

// Guard decides whether the local user may mutate the tree. Satisfied
// by the access role machine.
type Guard interface {
	CanMutateFS() error
}

// Actions sends filesystem mutation requests over the channel. All
// requests are fire-and-forget: the store is updated only when the
// server-confirmed event arrives.
type Actions struct {
	sender Sender
	guard  Guard
}

// NewActions creates the action sender.
func NewActions(sender Sender, guard Guard) *Actions {
	return &Actions{sender: sender, guard: guard}
}

// CreateNodeInput describes a node creation request. A nil ParentID
// targets the room root.
type CreateNodeInput struct {
	RoomID   string
	ParentID *string
	Name     string
	Type     types.FSNodeType
}

// CreateNode requests creation of a new node under ParentID.
func (a *Actions) CreateNode(in CreateNodeInput) error {
	if err := a.guard.CanMutateFS(); err != nil {
		return err
	}
	if in.RoomID == "" || in.Name == "" || !in.Type.Valid() {
		return fmt.Errorf("create node: %w", wire.ErrMalformed)
	}
	return a.sender.Send(wire.EventFSCreate, wire.FSCreate{
		RoomID:   in.RoomID,
		ParentID: in.ParentID,
		Name:     in.Name,
		Type:     string(in.Type),
	})
}

// RenameNode requests a name change. The node keeps its parent.
func (a *Actions) RenameNode(roomID, id, name string) error {
	if err := a.guard.CanMutateFS(); err != nil {
		return err
	}
	if roomID == "" || id == "" || name == "" {
		return fmt.Errorf("rename node: %w", wire.ErrMalformed)
	}
	return a.sender.Send(wire.EventFSRename, wire.FSRename{
		RoomID: roomID,
		ID:     id,
		Name:   name,
	})
}

// DeleteNode requests deletion of a node and, implicitly, all its
// descendants.
func (a *Actions) DeleteNode(roomID, id string) error {
	if err := a.guard.CanMutateFS(); err != nil {
		return err
	}
	if roomID == "" || id == "" {
		return fmt.Errorf("delete node: %w", wire.ErrMalformed)
	}
	return a.sender.Send(wire.EventFSDelete, wire.FSDelete{
		RoomID: roomID,
		ID:     id,
	})
}
