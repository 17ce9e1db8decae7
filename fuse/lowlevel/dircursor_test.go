package lowlevel

import (
	"testing"

	"github.com/merklefs/merklefs/internal/meta"
)

// TestDirCursorOwnOrderIsStable checks that a single cursor's own
// entry order does not change across repeated full passes, which is
// the guarantee readdir actually depends on: the snapshot taken at
// OpenDir time, not the source map's (unspecified) range order.
func TestDirCursorOwnOrderIsStable(t *testing.T) {
	fs := meta.NewDefault()
	fs.Mkdir("/a", 0o755)
	fs.Mkdir("/b", 0o755)
	fs.Mkdir("/c", 0o755)

	dir := fs.MustGet(fs.RootIno())
	c := newDirCursor(dir)

	var first []string
	for c.hasNext() {
		e, _, _ := c.peek()
		first = append(first, e.name)
		c.advance()
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 entries, got %v", first)
	}

	c.seek(0)
	var second []string
	for c.hasNext() {
		e, _, _ := c.peek()
		second = append(second, e.name)
		c.advance()
	}

	for i := range first {
		if first[i] != second[i] {
			t.Errorf("cursor order changed across passes: %v vs %v", first, second)
		}
	}
}

func TestDirCursorSeekForwardAndRewind(t *testing.T) {
	fs := meta.NewDefault()
	fs.Mkdir("/a", 0o755)
	fs.Mkdir("/b", 0o755)
	fs.Mkdir("/c", 0o755)
	dir := fs.MustGet(fs.RootIno())

	c := newDirCursor(dir)
	c.seek(2)
	if c.offset != 2 {
		t.Fatalf("offset after seek(2) = %d, want 2", c.offset)
	}

	c.seek(0)
	if c.offset != 0 {
		t.Fatalf("offset after seek(0) = %d, want 0", c.offset)
	}

	c.seek(100)
	if c.offset != 3 {
		t.Fatalf("offset after seek(100) = %d, want 3 (clamped to entry count)", c.offset)
	}
	if c.hasNext() {
		t.Error("hasNext() true after seeking past the end")
	}
}

func TestDirCursorEmptyDirectory(t *testing.T) {
	fs := meta.NewDefault()
	dir := fs.MustGet(fs.RootIno())
	c := newDirCursor(dir)
	if c.hasNext() {
		t.Error("hasNext() true for an empty directory")
	}
}
