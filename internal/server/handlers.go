package server

import (
	"net/http"

	"github.com/coderoom-dev/roomsync/pkg/types"
)

// StatusResponse is the /status payload.
type StatusResponse struct {
	State               string `json:"state"`
	Connected           bool   `json:"connected"`
	ActiveRoomID        string `json:"activeRoomId,omitempty"`
	HasRoomSnapshot     bool   `json:"hasRoomSnapshot"`
	Role                string `json:"role,omitempty"`
	AwaitingRole        bool   `json:"awaitingRole"`
	AwaitingRoleMessage string `json:"awaitingRoleMessage,omitempty"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		State:               string(s.sess.State()),
		Connected:           s.sess.IsConnected(),
		ActiveRoomID:        s.sess.ActiveRoomID(),
		HasRoomSnapshot:     s.sess.HasRoomSnapshot(),
		Role:                string(s.sess.Access().Role()),
		AwaitingRole:        s.sess.IsAwaitingRoleAssignment(),
		AwaitingRoleMessage: s.sess.AwaitingRoleMessage(),
	})
}

// RoomResponse is the /room payload.
type RoomResponse struct {
	Room         types.Room              `json:"room"`
	Members      []types.RoomMember      `json:"members"`
	JoinRequests []types.RoomJoinRequest `json:"joinRequests"`
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	if s.sess.ActiveRoomID() == "" {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no active room")
		return
	}
	writeJSON(w, http.StatusOK, RoomResponse{
		Room:         s.sess.Room(),
		Members:      s.sess.Members(),
		JoinRequests: s.sess.JoinRequests(),
	})
}

// getTree returns the whole tree, or one folder level with ?parent=.
func (s *Server) getTree(w http.ResponseWriter, r *http.Request) {
	tree := s.sess.Tree()

	if parent, ok := queryParam(r, "parent"); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"nodes": tree.ChildrenOf(parent),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": tree.Nodes(),
	})
}

func (s *Server) getPresence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"users": s.sess.Presence().Users(),
	})
}

func (s *Server) getDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"files": s.sess.Documents().OpenFiles(),
	})
}

// queryParam distinguishes an absent parameter from an empty one;
// ?parent= (empty) legitimately selects the room root.
func queryParam(r *http.Request, key string) (string, bool) {
	values := r.URL.Query()
	if _, present := values[key]; !present {
		return "", false
	}
	return values.Get(key), true
}
