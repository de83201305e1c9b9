package document

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coderoom-dev/roomsync/pkg/types"
)

// openFile bundles the replicated document and its awareness map.
type openFile struct {
	sync *FileSync
	aw   *Awareness
}

// Manager tracks the open replicated documents of one room session,
// keyed by (roomId, fileId). Opening the same file twice returns the
// same instances, mirroring how one editor buffer backs any number of
// panes.
type Manager struct {
	replica  string
	clientID string
	sender   Sender
	timeout  time.Duration

	mu    sync.Mutex
	files map[string]*openFile
}

// NewManager creates a document manager. The replica id attributes
// document updates to this process; the awareness client id is minted
// fresh so two sessions of the same user never collide.
func NewManager(replica string, sender Sender, timeout time.Duration) *Manager {
	if replica == "" {
		replica = uuid.NewString()
	}
	return &Manager{
		replica:  replica,
		clientID: uuid.NewString(),
		sender:   sender,
		timeout:  timeout,
		files:    make(map[string]*openFile),
	}
}

// ClientID returns the awareness client id of this session.
func (m *Manager) ClientID() string { return m.clientID }

func fileKey(roomID, fileID string) string {
	return roomID + ":" + fileID
}

// Open returns the synchronizer and awareness map for a file, creating
// and joining them on first access.
func (m *Manager) Open(roomID, fileID string) (*FileSync, *Awareness) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fileKey(roomID, fileID)
	if f, ok := m.files[key]; ok {
		return f.sync, f.aw
	}
	f := &openFile{
		sync: NewFileSync(roomID, fileID, m.replica, m.sender, m.timeout),
		aw:   NewAwareness(m.clientID),
	}
	m.files[key] = f
	return f.sync, f.aw
}

// Lookup returns an already-open file, or false.
func (m *Manager) Lookup(roomID, fileID string) (*FileSync, *Awareness, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileKey(roomID, fileID)]
	if !ok {
		return nil, nil, false
	}
	return f.sync, f.aw, true
}

// HandleSync routes a doc:sync update log to its file. Logs for files
// this session never opened are dropped.
func (m *Manager) HandleSync(roomID, fileID string, updates json.RawMessage) {
	if f, _, ok := m.Lookup(roomID, fileID); ok {
		f.HandleSync(updates)
	}
}

// HandleUpdate routes a remote doc:update to its file.
func (m *Manager) HandleUpdate(roomID, fileID string, update json.RawMessage) {
	if f, _, ok := m.Lookup(roomID, fileID); ok {
		f.HandleRemoteUpdate(update)
	}
}

// HandleAwareness routes a remote awareness:update to its file's
// awareness map. A nil state clears the entry for that client.
func (m *Manager) HandleAwareness(roomID, fileID, clientID string, state *types.AwarenessState) {
	if _, aw, ok := m.Lookup(roomID, fileID); ok {
		aw.ApplyRemote(clientID, state)
	}
}

// RejoinAll reissues doc:join for every open file, used after the
// channel reconnects. Replayed logs are absorbed by update dedup.
func (m *Manager) RejoinAll() {
	m.mu.Lock()
	files := make([]*openFile, 0, len(m.files))
	for _, f := range m.files {
		files = append(files, f)
	}
	m.mu.Unlock()

	for _, f := range files {
		f.sync.Rejoin()
	}
}

// Close tears down one open file.
func (m *Manager) Close(roomID, fileID string) {
	m.mu.Lock()
	key := fileKey(roomID, fileID)
	f, ok := m.files[key]
	if ok {
		delete(m.files, key)
	}
	m.mu.Unlock()

	if ok {
		f.sync.Close()
		f.aw.Clear()
	}
}

// CloseAll tears down every open file, used on room leave.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	files := m.files
	m.files = make(map[string]*openFile)
	m.mu.Unlock()

	for _, f := range files {
		f.sync.Close()
		f.aw.Clear()
	}
}

// FileInfo describes one open file for status surfaces.
type FileInfo struct {
	RoomID string `json:"roomId"`
	FileID string `json:"fileId"`
	Synced bool   `json:"synced"`
	Length int    `json:"length"`
}

// OpenFiles lists the open files, sorted by (roomId, fileId).
func (m *Manager) OpenFiles() []FileInfo {
	m.mu.Lock()
	files := make([]*openFile, 0, len(m.files))
	for _, f := range m.files {
		files = append(files, f)
	}
	m.mu.Unlock()

	out := make([]FileInfo, 0, len(files))
	for _, f := range files {
		out = append(out, FileInfo{
			RoomID: f.sync.RoomID(),
			FileID: f.sync.FileID(),
			Synced: f.sync.Synced(),
			Length: f.sync.Doc().Len(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomID != out[j].RoomID {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].FileID < out[j].FileID
	})
	return out
}

// Len reports how many files are open.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}
