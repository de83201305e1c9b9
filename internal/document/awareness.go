package document

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/coderoom-dev/roomsync/internal/wire"
	"github.com/coderoom-dev/roomsync/pkg/types"
)

// Awareness holds the ephemeral per-client state (identity plus cursor)
// for one open file. Entries are keyed by awareness client id, which is
// distinct from the user id: the same user in two editor panes is two
// clients.
//
// Awareness is not replicated state. Nothing is persisted, there is no
// history, and a null state on the wire deletes the entry outright.
type Awareness struct {
	mu       sync.Mutex
	clientID string
	local    *types.AwarenessState
	remotes  map[string]types.AwarenessState
	version  uint64
}

// NewAwareness creates an empty awareness map owned by the given local
// client id.
func NewAwareness(clientID string) *Awareness {
	return &Awareness{
		clientID: clientID,
		remotes:  make(map[string]types.AwarenessState),
	}
}

// ClientID returns the local client id.
func (a *Awareness) ClientID() string {
	return a.clientID
}

// SetLocal replaces the local state. Nil clears it, announcing that
// this client no longer has a cursor in the file.
func (a *Awareness) SetLocal(state *types.AwarenessState) {
	a.mu.Lock()
	a.local = state
	a.version++
	a.mu.Unlock()
}

// Local returns the local state, or nil.
func (a *Awareness) Local() *types.AwarenessState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.local
}

// ApplyRemote merges one awareness:update. A nil state removes the
// entry. Echoes of the local client id are ignored; the local state is
// authoritative here.
func (a *Awareness) ApplyRemote(clientID string, state *types.AwarenessState) {
	if clientID == "" || clientID == a.clientID {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if state == nil {
		if _, ok := a.remotes[clientID]; !ok {
			return
		}
		delete(a.remotes, clientID)
	} else {
		a.remotes[clientID] = *state
	}
	a.version++
}

// Remotes returns a copy of all remote states.
func (a *Awareness) Remotes() map[string]types.AwarenessState {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]types.AwarenessState, len(a.remotes))
	for id, st := range a.remotes {
		out[id] = st
	}
	return out
}

// Version is a change counter; it bumps on every local or remote
// mutation. Pollers use it to skip idle ticks.
func (a *Awareness) Version() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version
}

// Clear drops every entry, local included. Called when the file or the
// room is closed.
func (a *Awareness) Clear() {
	a.mu.Lock()
	a.local = nil
	a.remotes = make(map[string]types.AwarenessState)
	a.version++
	a.mu.Unlock()
}

// encodeState marshals an awareness state for the wire; nil becomes an
// explicit JSON null.
func encodeState(state *types.AwarenessState) (json.RawMessage, error) {
	if state == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(state)
}

// SetLocalAwareness updates the local awareness state for this file and
// broadcasts it. Broadcast failures are tolerable: awareness is lossy
// by design of the medium, the next update supersedes this one.
func (f *FileSync) SetLocalAwareness(aw *Awareness, state *types.AwarenessState) {
	aw.SetLocal(state)

	raw, err := encodeState(state)
	if err != nil {
		f.log.Error().Err(err).Msg("encode awareness state")
		return
	}
	if err := f.sender.Send(wire.EventAwarenessUpdate, wire.AwarenessUpdate{
		RoomID:   f.roomID,
		FileID:   f.fileID,
		ClientID: aw.ClientID(),
		State:    raw,
	}); err != nil {
		f.log.Debug().Err(err).Msg("awareness:update not sent")
	}
}

// CursorCallbacks receives the poller's per-client decisions.
type CursorCallbacks struct {
	// Set is invoked when a remote client's state appears or changes.
	Set func(clientID string, state types.AwarenessState)
	// Clear is invoked when a remote client's state disappears.
	Clear func(clientID string)
}

// CursorPoller drives remote cursor rendering from an awareness map on
// a fixed interval. Each tick it diffs the remote states against what
// was last rendered and invokes callbacks only for clients that
// actually changed, so an idle room costs nothing beyond the tick.
type CursorPoller struct {
	aw        *Awareness
	interval  time.Duration
	callbacks CursorCallbacks

	mu          sync.Mutex
	lastVersion uint64
	rendered    map[string]types.AwarenessState

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// DefaultCursorPollInterval matches a comfortable rendering cadence;
// faster adds churn without visible benefit.
const DefaultCursorPollInterval = 120 * time.Millisecond

// NewCursorPoller creates a poller. Start must be called to begin
// ticking; interval zero means DefaultCursorPollInterval.
func NewCursorPoller(aw *Awareness, interval time.Duration, callbacks CursorCallbacks) *CursorPoller {
	if interval <= 0 {
		interval = DefaultCursorPollInterval
	}
	return &CursorPoller{
		aw:        aw,
		interval:  interval,
		callbacks: callbacks,
		rendered:  make(map[string]types.AwarenessState),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the poll loop.
func (p *CursorPoller) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.Tick()
			}
		}
	}()
}

// Tick runs one diff pass. Exported so tests and manual drivers can
// step the poller without real time.
func (p *CursorPoller) Tick() {
	version := p.aw.Version()

	p.mu.Lock()
	defer p.mu.Unlock()
	if version == p.lastVersion {
		return
	}
	p.lastVersion = version

	current := p.aw.Remotes()
	for id := range p.rendered {
		if _, ok := current[id]; !ok {
			if p.callbacks.Clear != nil {
				p.callbacks.Clear(id)
			}
			delete(p.rendered, id)
		}
	}
	for id, st := range current {
		if prev, ok := p.rendered[id]; ok && awarenessEqual(prev, st) {
			continue
		}
		if p.callbacks.Set != nil {
			p.callbacks.Set(id, st)
		}
		p.rendered[id] = st
	}
}

// Stop terminates the poll loop and waits for it to exit. Rendered
// state is left as is; callers clear decorations themselves if the
// file is closing.
func (p *CursorPoller) Stop() {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()

	p.stopOnce.Do(func() { close(p.stop) })
	if started {
		<-p.done
	}
}

func awarenessEqual(a, b types.AwarenessState) bool {
	if a.User != b.User {
		return false
	}
	switch {
	case a.Cursor == nil && b.Cursor == nil:
		return true
	case a.Cursor == nil || b.Cursor == nil:
		return false
	}
	return *a.Cursor == *b.Cursor
}
