package document

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coderoom-dev/roomsync/internal/logging"
	"github.com/coderoom-dev/roomsync/internal/wire"
)

// Sender transmits outbound frames. Satisfied by the channel manager.
type Sender interface {
	Send(eventName string, payload any) error
}

// DefaultSyncTimeout bounds how long a file waits for the initial
// doc:sync before treating the local replica as authoritative. A
// server that never answers (fresh file, nothing persisted) must not
// wedge the editor.
const DefaultSyncTimeout = 2 * time.Second

// FileSync synchronizes one replicated document identified by
// (roomId, fileId).
//
// Attaching sends doc:join and waits for the doc:sync update log.
// Until that log arrives, locally generated updates are buffered, not
// transmitted: sending a delta based on pre-sync state would race the
// history replay on the server side. Remote updates are applied
// immediately in every state; the CRDT makes ordering irrelevant.
type FileSync struct {
	roomID string
	fileID string

	mu       sync.Mutex
	doc      *Doc
	sender   Sender
	synced   bool
	buffered []Update
	fallback *time.Timer
	closed   bool

	log zerolog.Logger
}

// NewFileSync opens a document and requests its initial state. The
// replica id scopes update attribution; timeout bounds the doc:sync
// wait (zero means DefaultSyncTimeout).
func NewFileSync(roomID, fileID, replica string, sender Sender, timeout time.Duration) *FileSync {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	fs := &FileSync{
		roomID: roomID,
		fileID: fileID,
		doc:    NewDoc(replica),
		sender: sender,
		log: logging.With().
			Str("component", "document").
			Str("roomId", roomID).
			Str("fileId", fileID).
			Logger(),
	}
	fs.fallback = time.AfterFunc(timeout, fs.onFallback)

	if err := sender.Send(wire.EventDocJoin, wire.DocJoin{RoomID: roomID, FileID: fileID}); err != nil {
		// The join will be reissued by the session on reconnect; the
		// fallback timer covers the meantime.
		fs.log.Debug().Err(err).Msg("doc:join not sent")
	}
	return fs
}

// RoomID returns the owning room id.
func (f *FileSync) RoomID() string { return f.roomID }

// FileID returns the file id.
func (f *FileSync) FileID() string { return f.fileID }

// Synced reports whether the initial state has been established.
func (f *FileSync) Synced() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.synced
}

// Text returns the current document text.
func (f *FileSync) Text() string {
	return f.doc.Text()
}

// Doc exposes the underlying replica, mainly for tests and the status
// surface.
func (f *FileSync) Doc() *Doc { return f.doc }

func (f *FileSync) onFallback() {
	f.mu.Lock()
	already := f.synced || f.closed
	f.mu.Unlock()
	if already {
		return
	}
	f.log.Debug().Msg("doc:sync timed out, treating local state as initial")
	f.markSynced()
}

// HandleSync replays the update log delivered by doc:sync and flips
// the file into the synced state. A second doc:sync (rejoin after
// reconnect) is replayed too; known updates are skipped by the dedup
// set.
func (f *FileSync) HandleSync(updates json.RawMessage) {
	if err := f.doc.ApplyEncodedLog(updates); err != nil {
		f.log.Warn().Err(err).Msg("dropping malformed doc:sync log")
	}
	f.markSynced()
}

// HandleRemoteUpdate merges one doc:update from another replica.
func (f *FileSync) HandleRemoteUpdate(update json.RawMessage) {
	if err := f.doc.ApplyEncoded(update); err != nil {
		f.log.Warn().Err(err).Msg("dropping malformed doc:update")
	}
}

func (f *FileSync) markSynced() {
	f.mu.Lock()
	if f.synced || f.closed {
		f.mu.Unlock()
		return
	}
	f.synced = true
	f.fallback.Stop()
	pending := f.buffered
	f.buffered = nil
	f.mu.Unlock()

	for _, u := range pending {
		f.transmit(u)
	}
}

// Edit reconciles the document with the full editor buffer and
// transmits the resulting delta. While the file is still syncing the
// delta is buffered and flushed once the initial state is known.
func (f *FileSync) Edit(newText string) {
	update, changed := f.doc.SetText(newText)
	if !changed {
		return
	}

	f.mu.Lock()
	if !f.synced {
		f.buffered = append(f.buffered, update)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	f.transmit(update)
}

func (f *FileSync) transmit(u Update) {
	raw, err := EncodeUpdate(u)
	if err != nil {
		f.log.Error().Err(err).Msg("encode update")
		return
	}
	if err := f.sender.Send(wire.EventDocUpdate, wire.DocUpdate{
		RoomID: f.roomID,
		FileID: f.fileID,
		Update: raw,
	}); err != nil {
		f.log.Debug().Err(err).Str("updateId", u.ID).Msg("doc:update not sent")
	}
}

// Rejoin reissues doc:join, typically after a channel reconnect, and
// rearms nothing: the document keeps its state and the dedup set
// absorbs the replayed log.
func (f *FileSync) Rejoin() {
	if err := f.sender.Send(wire.EventDocJoin, wire.DocJoin{RoomID: f.roomID, FileID: f.fileID}); err != nil {
		f.log.Debug().Err(err).Msg("doc:join not sent")
	}
}

// Close stops the fallback timer. The document itself stays readable.
func (f *FileSync) Close() {
	f.mu.Lock()
	f.closed = true
	f.fallback.Stop()
	f.mu.Unlock()
}
