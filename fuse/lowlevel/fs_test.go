package lowlevel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/merklefs/merklefs/internal/meta"
	"github.com/merklefs/merklefs/internal/pool"
)

type noopFetcher struct{}

func (noopFetcher) Fetch(ctx context.Context, key string) (bool, error) { return false, nil }

func buildTestFS(t *testing.T) *FS {
	t.Helper()

	tree := meta.NewDefault()
	tree.Mkdir("/dir", 0o755)
	reg, err := tree.Creat("/dir/file", 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if err := tree.SetHash(reg, "abc123", 5); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.Symlink("/dir/file", "/link"); err != nil {
		t.Fatal(err)
	}
	tree.Mount()

	poolDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(poolDir, "abc123"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	return &FS{
		meta:    tree,
		pool:    pool.New(poolDir, noopFetcher{}),
		handles: newHandlerMap(),
		log:     zap.NewNop(),
	}
}

func TestLookupFindsExistingEntry(t *testing.T) {
	fsys := buildTestFS(t)
	var out fuse.EntryOut
	status := fsys.Lookup(nil, &fuse.InHeader{NodeId: fsys.meta.RootIno()}, "dir", &out)
	if status != fuse.OK {
		t.Fatalf("Lookup status = %v, want OK", status)
	}
	if out.NodeId == 0 {
		t.Error("Lookup returned NodeId 0 for an existing entry")
	}
}

func TestLookupReturnsNegativeDentryForMiss(t *testing.T) {
	fsys := buildTestFS(t)
	var out fuse.EntryOut
	status := fsys.Lookup(nil, &fuse.InHeader{NodeId: fsys.meta.RootIno()}, "nope", &out)
	if status != fuse.OK {
		t.Fatalf("Lookup status = %v, want OK (negative dentry)", status)
	}
	if out.NodeId != 0 {
		t.Errorf("Lookup NodeId = %d, want 0 for a missing entry", out.NodeId)
	}
}

func TestGetAttrUnknownInode(t *testing.T) {
	fsys := buildTestFS(t)
	var out fuse.AttrOut
	status := fsys.GetAttr(nil, &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: 999}}, &out)
	if status != fuse.ENOENT {
		t.Errorf("GetAttr status = %v, want ENOENT", status)
	}
}

func TestReadlinkOnSymlink(t *testing.T) {
	fsys := buildTestFS(t)
	linkIno := fsys.meta.Lookup(fsys.meta.RootIno(), "link")
	data, status := fsys.Readlink(nil, &fuse.InHeader{NodeId: linkIno})
	if status != fuse.OK {
		t.Fatalf("Readlink status = %v, want OK", status)
	}
	if string(data) != "/dir/file" {
		t.Errorf("Readlink = %q, want /dir/file", data)
	}
}

func TestReadlinkOnNonSymlink(t *testing.T) {
	fsys := buildTestFS(t)
	_, status := fsys.Readlink(nil, &fuse.InHeader{NodeId: fsys.meta.RootIno()})
	if status != fuse.EINVAL {
		t.Errorf("Readlink status = %v, want EINVAL", status)
	}
}

func TestOpenDirRequiresDirectory(t *testing.T) {
	fsys := buildTestFS(t)
	fileIno := fsys.meta.Lookup(fsys.meta.RootIno(), "dir/file")

	var out fuse.OpenOut
	status := fsys.OpenDir(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: fileIno}}, &out)
	if status != fuse.ENOTDIR {
		t.Errorf("OpenDir on a regular file = %v, want ENOTDIR", status)
	}
}

func TestOpenDirAndReadDir(t *testing.T) {
	fsys := buildTestFS(t)

	var openOut fuse.OpenOut
	status := fsys.OpenDir(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: fsys.meta.RootIno()}}, &openOut)
	if status != fuse.OK {
		t.Fatalf("OpenDir status = %v, want OK", status)
	}

	list := fuse.NewDirEntryList(make([]byte, 4096), 0)
	status = fsys.ReadDir(nil, &fuse.ReadIn{Fh: openOut.Fh}, list)
	if status != fuse.OK {
		t.Fatalf("ReadDir status = %v, want OK", status)
	}

	fsys.ReleaseDir(&fuse.ReleaseIn{Fh: openOut.Fh})
	if _, ok := fsys.handles.get(openOut.Fh); ok {
		t.Error("directory handle still present after ReleaseDir")
	}
}

func TestOpenAndReadRegularFile(t *testing.T) {
	fsys := buildTestFS(t)
	fileIno := fsys.meta.Lookup(fsys.meta.RootIno(), "dir/file")

	var openOut fuse.OpenOut
	status := fsys.Open(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: fileIno}}, &openOut)
	if status != fuse.OK {
		t.Fatalf("Open status = %v, want OK", status)
	}

	fsys.noSplice = true
	buf := make([]byte, 16)
	result, status := fsys.Read(nil, &fuse.ReadIn{Fh: openOut.Fh, Offset: 0, Size: 5}, buf)
	if status != fuse.OK {
		t.Fatalf("Read status = %v, want OK", status)
	}
	data, status := result.Bytes(buf)
	if status != fuse.OK {
		t.Fatalf("Bytes status = %v, want OK", status)
	}
	if string(data) != "hello" {
		t.Errorf("Read = %q, want %q", data, "hello")
	}

	fsys.Release(nil, &fuse.ReleaseIn{Fh: openOut.Fh})
	if _, ok := fsys.handles.get(openOut.Fh); ok {
		t.Error("file handle still present after Release")
	}
}

func TestOpenNonRegularFileFails(t *testing.T) {
	fsys := buildTestFS(t)
	var out fuse.OpenOut
	status := fsys.Open(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: fsys.meta.RootIno()}}, &out)
	if status != fuse.EINVAL {
		t.Errorf("Open on a directory = %v, want EINVAL", status)
	}
}

func TestUnsupportedWriteOperationsReturnEROFS(t *testing.T) {
	fsys := buildTestFS(t)

	if status := fsys.SetAttr(nil, &fuse.SetAttrIn{}, &fuse.AttrOut{}); status != fuse.EROFS {
		t.Errorf("SetAttr = %v, want EROFS", status)
	}
	if status := fsys.Mkdir(nil, &fuse.MkdirIn{}, "x", &fuse.EntryOut{}); status != fuse.EROFS {
		t.Errorf("Mkdir = %v, want EROFS", status)
	}
	if status := fsys.Unlink(nil, &fuse.InHeader{}, "x"); status != fuse.EROFS {
		t.Errorf("Unlink = %v, want EROFS", status)
	}
	if status := fsys.Create(nil, &fuse.CreateIn{}, "x", &fuse.CreateOut{}); status != fuse.EROFS {
		t.Errorf("Create = %v, want EROFS", status)
	}
	if _, status := fsys.Write(nil, &fuse.WriteIn{}, nil); status != fuse.EROFS {
		t.Errorf("Write = %v, want EROFS", status)
	}
	if status := fsys.Fsync(nil, &fuse.FsyncIn{}); status != fuse.EROFS {
		t.Errorf("Fsync = %v, want EROFS", status)
	}
}

func TestUnsupportedExtendedAttrAndLockOpsReturnENOSYS(t *testing.T) {
	fsys := buildTestFS(t)

	if _, status := fsys.GetXAttr(nil, &fuse.InHeader{}, "user.x", nil); status != fuse.ENOSYS {
		t.Errorf("GetXAttr = %v, want ENOSYS", status)
	}
	if status := fsys.SetLk(nil, &fuse.LkIn{}); status != fuse.ENOSYS {
		t.Errorf("SetLk = %v, want ENOSYS", status)
	}
}

// TestReadDirPagesOneEntryPerCall mirrors a client whose read buffer
// only ever admits a single directory entry per call: it must see the
// full entry set across successive calls with no entry omitted or
// repeated, each call advancing the cursor by exactly one entry.
func TestReadDirPagesOneEntryPerCall(t *testing.T) {
	tree := meta.NewDefault()
	tree.Mkdir("/foo", 0o755)
	tree.Mkdir("/bar", 0o755)
	tree.Mount()

	fsys := &FS{
		meta:    tree,
		pool:    pool.New(t.TempDir(), noopFetcher{}),
		handles: newHandlerMap(),
		log:     zap.NewNop(),
	}

	var openOut fuse.OpenOut
	if status := fsys.OpenDir(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: fsys.meta.RootIno()}}, &openOut); status != fuse.OK {
		t.Fatalf("OpenDir status = %v, want OK", status)
	}

	h, ok := fsys.handles.get(openOut.Fh)
	if !ok {
		t.Fatal("directory handle missing after OpenDir")
	}
	wantOrder := make([]string, len(h.dir.entries))
	for i, e := range h.dir.entries {
		wantOrder[i] = e.name
	}
	if len(wantOrder) != 2 {
		t.Fatalf("expected 2 entries in the snapshot, got %v", wantOrder)
	}

	// A 40-byte list admits exactly one 3-character-named entry: each
	// takes go-fuse's 24-byte dirent header plus the name padded to 8
	// bytes, 32 bytes in all, so a second entry (64 bytes) does not fit.
	const oneEntryBudget = 40

	var seenOrder []string
	offset := uint64(0)
	for call := 0; call < len(wantOrder); call++ {
		before := h.dir.offset
		list := fuse.NewDirEntryList(make([]byte, oneEntryBudget), offset)
		status := fsys.ReadDir(nil, &fuse.ReadIn{Fh: openOut.Fh, Offset: offset}, list)
		if status != fuse.OK {
			t.Fatalf("ReadDir call %d status = %v, want OK", call, status)
		}
		advanced := h.dir.offset - before
		if advanced != 1 {
			t.Fatalf("ReadDir call %d advanced the cursor by %d, want exactly 1", call, advanced)
		}
		seenOrder = append(seenOrder, wantOrder[before])
		offset = uint64(h.dir.offset)
	}

	if h.dir.hasNext() {
		t.Error("cursor still has entries left after paging through the full set")
	}
	if len(seenOrder) != len(wantOrder) {
		t.Fatalf("saw %d entries across paginated calls, want %d", len(seenOrder), len(wantOrder))
	}
	for i := range wantOrder {
		if seenOrder[i] != wantOrder[i] {
			t.Errorf("entry %d = %q, want %q (no entry should be omitted or repeated)", i, seenOrder[i], wantOrder[i])
		}
	}
}

func TestStatFsReportsSyntheticUsage(t *testing.T) {
	fsys := buildTestFS(t)
	var out fuse.StatfsOut
	status := fsys.StatFs(nil, &fuse.InHeader{}, &out)
	if status != fuse.OK {
		t.Fatalf("StatFs status = %v, want OK", status)
	}
	if out.Bsize != BlockSize {
		t.Errorf("Bsize = %d, want %d", out.Bsize, BlockSize)
	}
}
