// Package document maintains one convergent replicated text document
// per open file, scoped by (roomId, fileId).
//
// A document is not a scalar string. It is a sequence of characters
// with dense order positions, replicated by exchanging update deltas.
// Update application is associative, commutative and idempotent: any
// merge order of the same update set yields the same text on every
// replica, which is what allows concurrent editing without a
// server-visible lock.
package document

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/coderoom-dev/roomsync/internal/wire"
)

// posBase is the exclusive upper bound for one position digit.
const posBase uint32 = 1 << 16

// ItemID identifies one character: the replica that created it plus a
// per-replica logical clock.
type ItemID struct {
	Replica string `json:"r"`
	Clock   uint64 `json:"c"`
}

func compareID(a, b ItemID) int {
	if a.Replica != b.Replica {
		return strings.Compare(a.Replica, b.Replica)
	}
	switch {
	case a.Clock < b.Clock:
		return -1
	case a.Clock > b.Clock:
		return 1
	}
	return 0
}

// posElem is one element of a position path. The creating replica is
// part of the element, so concurrent inserts between the same
// neighbors still produce totally ordered, distinct positions.
type posElem struct {
	D uint32 `json:"d"`
	R string `json:"r"`
}

// Position is a dense order path. Positions are absolute: applying an
// insert never depends on other items being present.
type Position []posElem

func compareElem(a, b posElem) int {
	switch {
	case a.D < b.D:
		return -1
	case a.D > b.D:
		return 1
	}
	return strings.Compare(a.R, b.R)
}

func comparePosition(a, b Position) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareElem(a[i], b[i]); c != 0 {
			return c
		}
	}
	// A strict prefix sorts first.
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

var (
	minElem = posElem{D: 0}
	maxElem = posElem{D: posBase}
)

// positionBetween allocates a fresh position strictly between left and
// right. Empty slices stand for the document boundaries.
func positionBetween(left, right Position, replica string, rng *rand.Rand) Position {
	prefix := make(Position, 0, len(left)+1)
	rightBounded := true

	for depth := 0; ; depth++ {
		lE := minElem
		if depth < len(left) {
			lE = left[depth]
		}
		rE := maxElem
		if rightBounded {
			if depth < len(right) {
				rE = right[depth]
			}
		}

		if rightBounded && compareElem(lE, rE) == 0 {
			prefix = append(prefix, lE)
			continue
		}

		if gap := rE.D - lE.D; gap > 1 {
			// Small random step keeps interleaved appends from
			// producing ever-deeper paths.
			step := uint32(1)
			if gap > 2 {
				step = 1 + uint32(rng.Int63n(int64(gap-1)))
			}
			return append(prefix, posElem{D: lE.D + step, R: replica})
		}

		// Adjacent digits (or same digit, different replica): follow
		// left and descend. Anything under this prefix still sorts
		// before right, so right stops constraining deeper levels.
		prefix = append(prefix, lE)
		rightBounded = false
	}
}

// Item is one replicated character.
type Item struct {
	ID  ItemID   `json:"id"`
	Pos Position `json:"pos"`
	Ch  string   `json:"ch"`
}

func compareItem(a, b *Item) int {
	if c := comparePosition(a.Pos, b.Pos); c != 0 {
		return c
	}
	return compareID(a.ID, b.ID)
}

// OpKind discriminates update operations.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpDelete OpKind = "delete"
)

// Op is a single character operation inside an update.
type Op struct {
	Kind   OpKind  `json:"kind"`
	Item   *Item   `json:"item,omitempty"`
	Target *ItemID `json:"target,omitempty"`
}

// Update is the unit of replication: a batch of operations from one
// replica, identified by a ULID so duplicated deliveries are ignored.
type Update struct {
	ID      string `json:"id"`
	Replica string `json:"replica"`
	Ops     []Op   `json:"ops"`
}

// Doc is one replicated document.
type Doc struct {
	mu      sync.Mutex
	replica string
	clock   uint64
	rng     *rand.Rand

	items   map[ItemID]*Item
	order   []*Item
	deleted map[ItemID]bool
	applied map[string]bool
}

// NewDoc creates an empty document for the given replica id.
func NewDoc(replica string) *Doc {
	return &Doc{
		replica: replica,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		items:   make(map[ItemID]*Item),
		deleted: make(map[ItemID]bool),
		applied: make(map[string]bool),
	}
}

// Text renders the visible document.
func (d *Doc) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.textLocked()
}

func (d *Doc) textLocked() string {
	var b strings.Builder
	for _, item := range d.order {
		if !d.deleted[item.ID] {
			b.WriteString(item.Ch)
		}
	}
	return b.String()
}

// Len returns the visible character count.
func (d *Doc) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, item := range d.order {
		if !d.deleted[item.ID] {
			n++
		}
	}
	return n
}

// Apply merges one update into the document. Reapplying an update, or
// applying a set of updates in any order, converges to the same text.
// It reports whether the update changed anything.
func (d *Doc) Apply(u Update) bool {
	if u.ID == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.applied[u.ID] {
		return false
	}
	d.applied[u.ID] = true

	for _, op := range u.Ops {
		switch op.Kind {
		case OpInsert:
			if op.Item != nil {
				d.insertItemLocked(*op.Item)
			}
		case OpDelete:
			if op.Target != nil {
				// Tombstone regardless of arrival order: a delete
				// landing before its insert still wins.
				d.deleted[*op.Target] = true
			}
		}
	}
	return true
}

func (d *Doc) insertItemLocked(item Item) {
	if _, exists := d.items[item.ID]; exists {
		return
	}
	stored := item
	d.items[item.ID] = &stored

	idx := sort.Search(len(d.order), func(i int) bool {
		return compareItem(d.order[i], &stored) >= 0
	})
	d.order = append(d.order, nil)
	copy(d.order[idx+1:], d.order[idx:])
	d.order[idx] = &stored
}

// visibleLocked returns the currently visible items in order.
func (d *Doc) visibleLocked() []*Item {
	out := make([]*Item, 0, len(d.order))
	for _, item := range d.order {
		if !d.deleted[item.ID] {
			out = append(out, item)
		}
	}
	return out
}

// insertTextLocked inserts runes at a visible index, returning the
// generated ops.
func (d *Doc) insertTextLocked(index int, text string) []Op {
	visible := d.visibleLocked()
	if index < 0 {
		index = 0
	}
	if index > len(visible) {
		index = len(visible)
	}

	var left Position
	if index > 0 {
		left = visible[index-1].Pos
	}
	var right Position
	if index < len(visible) {
		right = visible[index].Pos
	}

	ops := make([]Op, 0, len(text))
	for _, r := range text {
		d.clock++
		item := Item{
			ID:  ItemID{Replica: d.replica, Clock: d.clock},
			Pos: positionBetween(left, right, d.replica, d.rng),
			Ch:  string(r),
		}
		d.insertItemLocked(item)
		ops = append(ops, Op{Kind: OpInsert, Item: &item})
		left = item.Pos
	}
	return ops
}

// deleteRangeLocked tombstones count visible characters starting at a
// visible index, returning the generated ops.
func (d *Doc) deleteRangeLocked(index, count int) []Op {
	visible := d.visibleLocked()
	if index < 0 || index >= len(visible) || count <= 0 {
		return nil
	}
	if index+count > len(visible) {
		count = len(visible) - index
	}

	ops := make([]Op, 0, count)
	for _, item := range visible[index : index+count] {
		id := item.ID
		d.deleted[id] = true
		ops = append(ops, Op{Kind: OpDelete, Target: &id})
	}
	return ops
}

// newUpdateID allocates a sortable unique update id.
func (d *Doc) newUpdateID() string {
	return ulid.Make().String()
}

// finishUpdate wraps ops into an Update and records it as applied so
// the local replica never double-applies its own delta.
func (d *Doc) finishUpdate(ops []Op) (Update, bool) {
	if len(ops) == 0 {
		return Update{}, false
	}
	u := Update{ID: d.newUpdateID(), Replica: d.replica, Ops: ops}
	d.applied[u.ID] = true
	return u, true
}

// InsertAt inserts text at a visible index and returns the update to
// transmit.
func (d *Doc) InsertAt(index int, text string) (Update, bool) {
	if text == "" {
		return Update{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finishUpdate(d.insertTextLocked(index, text))
}

// DeleteRange deletes count characters at a visible index and returns
// the update to transmit.
func (d *Doc) DeleteRange(index, count int) (Update, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finishUpdate(d.deleteRangeLocked(index, count))
}

// ApplyEncoded decodes and applies one wire-encoded update.
func (d *Doc) ApplyEncoded(raw json.RawMessage) error {
	var u Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return fmt.Errorf("%w: %v", wire.ErrMalformed, err)
	}
	if u.ID == "" {
		return fmt.Errorf("%w: update missing id", wire.ErrMalformed)
	}
	d.Apply(u)
	return nil
}

// ApplyEncodedLog decodes and replays a wire-encoded update log, as
// delivered by the initial doc:sync. Malformed entries abort the
// replay; already-known updates are skipped.
func (d *Doc) ApplyEncodedLog(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return fmt.Errorf("%w: %v", wire.ErrMalformed, err)
	}
	for _, u := range updates {
		if u.ID == "" {
			return fmt.Errorf("%w: update missing id", wire.ErrMalformed)
		}
		d.Apply(u)
	}
	return nil
}

// EncodeUpdate serializes an update for transmission.
func EncodeUpdate(u Update) (json.RawMessage, error) {
	raw, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	return raw, nil
}
