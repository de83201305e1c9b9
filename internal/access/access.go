// Package access tracks the local user's membership role in the
// active room and gates mutation affordances on it.
//
// Roles are never inferred client-side: they arrive exclusively via
// room snapshots and explicit role-assignment events. Until a snapshot
// names the local user, the user is treated as having no role at all.
package access

import (
	"errors"
	"strings"
	"sync"

	"github.com/coderoom-dev/roomsync/pkg/types"
)

// Phase is the coarse position in the role lifecycle.
type Phase string

const (
	// PhaseUnknown: no snapshot observed yet.
	PhaseUnknown Phase = "unknown"
	// PhaseRequested: connected, but the owner has not assigned a
	// role yet.
	PhaseRequested Phase = "requested"
	// PhaseMember: the user appears in the member list.
	PhaseMember Phase = "member"
)

// ErrAwaitingRole is returned for mutations attempted before any role
// has been assigned.
var ErrAwaitingRole = errors.New("awaiting role assignment")

// ErrViewerReadOnly is returned for mutations attempted with the
// viewer role.
var ErrViewerReadOnly = errors.New("viewer role is read-only")

// Machine is the per-room role state machine for the local user.
type Machine struct {
	mu      sync.RWMutex
	userID  string
	phase   Phase
	role    types.RoomRole
	message string
}

// NewMachine creates a role machine for the given local user identity.
func NewMachine(userID string) *Machine {
	return &Machine{userID: userID, phase: PhaseUnknown}
}

// Reset returns the machine to its pre-snapshot state. Called on room
// leave and on reconnect before the fresh snapshot arrives.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = PhaseUnknown
	m.role = ""
	m.message = ""
}

// SetRequested records that the server acknowledged the join but no
// role has been assigned yet. The explanatory message is preserved for
// display.
func (m *Machine) SetRequested(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = PhaseRequested
	m.role = ""
	m.message = message
}

// ApplyMembers resolves the local user's role from a member list.
// When the user is absent the current phase is kept: a snapshot that
// does not name the user yet does not un-request them.
func (m *Machine) ApplyMembers(members []types.RoomMember) {
	role, ok := ResolveRole(members, m.userID)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = PhaseMember
	m.role = role
	m.message = ""
}

// ApplyAssignment records an explicit role-assignment event for the
// local user. Assignments for other users are ignored.
func (m *Machine) ApplyAssignment(userID string, role types.RoomRole) {
	if !identityMatches(m.userID, userID) || !role.Valid() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = PhaseMember
	m.role = role
	m.message = ""
}

// Phase returns the current lifecycle phase.
func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Role returns the assigned role, empty until PhaseMember.
func (m *Machine) Role() types.RoomRole {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.role
}

// Message returns the pending-approval message, if any.
func (m *Machine) Message() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.message
}

// CanMutateFS reports whether the local user may invoke filesystem
// mutation operations. This gate applies in the core, not just the UI.
func (m *Machine) CanMutateFS() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.phase != PhaseMember:
		return ErrAwaitingRole
	case !m.role.CanEdit():
		return ErrViewerReadOnly
	}
	return nil
}

// ResolveRole finds the role for a user id in a member list using
// normalized matching.
func ResolveRole(members []types.RoomMember, userID string) (types.RoomRole, bool) {
	for _, member := range members {
		if identityMatches(userID, member.UserID) {
			return member.Role, true
		}
	}
	return "", false
}

func identityMatches(a, b string) bool {
	na := strings.ToLower(strings.TrimSpace(a))
	nb := strings.ToLower(strings.TrimSpace(b))
	return na != "" && na == nb
}
