package document

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// SetText reconciles the document with a full editor buffer. The new
// text is diffed against the current state and translated into splice
// operations, so unchanged regions keep their character identities and
// concurrent remote edits to them still land where they should.
//
// It returns the update to transmit, or false when nothing changed.
func (d *Doc) SetText(newText string) (Update, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	old := d.textLocked()
	if old == newText {
		return Update{}, false
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(old, newText, false))

	var ops []Op
	idx := 0
	for _, diff := range diffs {
		n := utf8.RuneCountInString(diff.Text)
		switch diff.Type {
		case diffmatchpatch.DiffEqual:
			idx += n
		case diffmatchpatch.DiffDelete:
			ops = append(ops, d.deleteRangeLocked(idx, n)...)
		case diffmatchpatch.DiffInsert:
			ops = append(ops, d.insertTextLocked(idx, diff.Text)...)
			idx += n
		}
	}
	return d.finishUpdate(ops)
}
