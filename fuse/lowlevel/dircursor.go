package lowlevel

import "github.com/merklefs/merklefs/internal/meta"

// dirEntry is one (name, target inode) pair in a fixed, deterministic
// serving order captured when the cursor is opened.
type dirEntry struct {
	name string
	ino  uint64
}

// dirCursor walks a directory's entries in a stable order, supporting
// the seek-forward/rewind-and-readvance semantics readdir needs: a
// client's offset is always relative to this cursor's own ordering,
// never the underlying map's iteration order, which Go does not
// guarantee is stable across ranges.
type dirCursor struct {
	entries []dirEntry
	offset  int
}

// newDirCursor snapshots dir's entries into a stable order. Names "."
// and ".." are never stored: they are not present in the directory
// payload's entry map, and the kernel synthesises them itself.
func newDirCursor(dir *meta.Inode) *dirCursor {
	dirents := dir.Dirents()
	entries := make([]dirEntry, 0, len(dirents))
	for name, ino := range dirents {
		entries = append(entries, dirEntry{name: name, ino: ino})
	}
	return &dirCursor{entries: entries}
}

// seek moves the cursor to logical offset off: if off is behind the
// current position it rewinds to the start and re-advances; if ahead,
// it advances the difference.
func (c *dirCursor) seek(off int) {
	if off < c.offset {
		c.offset = 0
	}
	for c.offset < off && c.offset < len(c.entries) {
		c.offset++
	}
}

// hasNext reports whether the cursor has more entries to serve.
func (c *dirCursor) hasNext() bool {
	return c.offset < len(c.entries)
}

// peek returns the entry at the cursor's current position and the
// offset value the caller should record alongside it, without
// advancing.
func (c *dirCursor) peek() (entry dirEntry, nextOffset int, ok bool) {
	if !c.hasNext() {
		return dirEntry{}, 0, false
	}
	return c.entries[c.offset], c.offset + 1, true
}

// advance moves the cursor one entry forward.
func (c *dirCursor) advance() {
	if c.hasNext() {
		c.offset++
	}
}
