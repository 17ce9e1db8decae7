package meta

import (
	"fmt"
	"syscall"
	"time"

	"github.com/merklefs/merklefs/internal/pathseg"
)

// DefaultRootIno is the conventional inode number of the root
// directory.
const DefaultRootIno = 1

// FileSystem is a contiguous, append-only inode table with hierarchical
// name resolution and, before Mount is called, directory-entry
// mutation. It is safe for concurrent readers once mounted; pre-mount
// mutation is expected to happen from a single goroutine that builds
// the tree before handing it to the FUSE session loop.
type FileSystem struct {
	rootIno uint64
	inodes  []*Inode
	mntTS   time.Time
	mounted bool
}

// New builds an empty filesystem containing only a root directory
// inode numbered root.
func New(root uint64) *FileSystem {
	fs := &FileSystem{rootIno: root}
	fs.mknod(TypeDir | 0o755)
	return fs
}

// NewDefault is New(DefaultRootIno).
func NewDefault() *FileSystem {
	return New(DefaultRootIno)
}

// RootIno returns the filesystem's root inode number.
func (fs *FileSystem) RootIno() uint64 { return fs.rootIno }

// MountTime returns the timestamp captured the first time Mount is
// called, reported as atime/mtime/ctime for every inode. Before Mount
// it is the zero time.
func (fs *FileSystem) MountTime() time.Time { return fs.mntTS }

// Len returns the number of inodes in the table.
func (fs *FileSystem) Len() int { return len(fs.inodes) }

// Mount freezes the filesystem: subsequent calls to the mutating
// operations (Creat, Mkdir, Symlink, Link, Unlinkat, SetHash) return an
// error instead of touching the table. Lookups and other read-only
// queries remain available and require no further synchronization.
func (fs *FileSystem) Mount() {
	if fs.mntTS.IsZero() {
		fs.mntTS = time.Now()
	}
	fs.mounted = true
}

// Mounted reports whether Mount has been called.
func (fs *FileSystem) Mounted() bool { return fs.mounted }

func (fs *FileSystem) nextIno() uint64 {
	return fs.rootIno + uint64(len(fs.inodes))
}

// mknod allocates the next dense inode number, builds an inode with the
// payload variant dictated by mode's type bits, appends it, and returns
// its number. It never fails: the table only grows.
func (fs *FileSystem) mknod(mode uint32) uint64 {
	ino := fs.nextIno()
	fs.inodes = append(fs.inodes, &Inode{
		Ino:     ino,
		Mode:    mode,
		Payload: newPayload(mode),
	})
	return ino
}

// Get returns the inode numbered ino, or ok=false if ino is 0 or out of
// the table's dense range. Inode 0 always means "no such entry" per the
// data model, never an out-of-range table access.
func (fs *FileSystem) Get(ino uint64) (*Inode, bool) {
	if ino < fs.rootIno {
		return nil, false
	}
	i := ino - fs.rootIno
	if i >= uint64(len(fs.inodes)) {
		return nil, false
	}
	return fs.inodes[i], true
}

// MustGet is Get but panics on a miss. Callers that already know ino is
// valid (e.g. the kernel-protocol adapter resolving a NodeId it
// previously handed out) use this to turn an out-of-range index into
// an immediate panic rather than silently propagating a nil inode.
func (fs *FileSystem) MustGet(ino uint64) *Inode {
	i, ok := fs.Get(ino)
	if !ok {
		panic(fmt.Sprintf("meta: inode %d out of range", ino))
	}
	return i
}

// Lookup walks path component by component starting at parent. At each
// step the current inode must be a directory; if not, or if a
// component is absent, Lookup returns 0. path == "" or "/" returns
// parent unchanged without requiring parent to be a directory.
func (fs *FileSystem) Lookup(parent uint64, path string) uint64 {
	segments := pathseg.Segments(path)
	if len(segments) == 0 {
		return parent
	}

	cur := parent
	for _, seg := range segments {
		if cur == 0 {
			return 0
		}
		ino, ok := fs.Get(cur)
		if !ok || !ino.IsDir() {
			return 0
		}
		next, exists := ino.Dirents()[seg]
		if !exists {
			return 0
		}
		cur = next
	}
	return cur
}

// Creat allocates a regular inode with mode's permission bits and links
// it under path's final component, resolving all preceding components
// from the root.
func (fs *FileSystem) Creat(path string, mode uint32) (uint64, error) {
	if fs.mounted {
		return 0, errFrozen("creat")
	}
	ino := fs.mknod(TypeReg | (mode &^ uint32(typeMask)))
	if err := fs.linkat(fs.rootIno, path, ino); err != nil {
		return 0, err
	}
	return ino, nil
}

// Mkdir allocates a directory inode and links it under path, as Creat
// does for regular files.
func (fs *FileSystem) Mkdir(path string, mode uint32) (uint64, error) {
	if fs.mounted {
		return 0, errFrozen("mkdir")
	}
	ino := fs.mknod(TypeDir | (mode &^ uint32(typeMask)))
	if err := fs.linkat(fs.rootIno, path, ino); err != nil {
		return 0, err
	}
	return ino, nil
}

// Symlink allocates a symlink inode carrying target and links it under
// path.
func (fs *FileSystem) Symlink(target, path string) (uint64, error) {
	if fs.mounted {
		return 0, errFrozen("symlink")
	}
	ino := fs.mknod(TypeLnk | 0o777)
	fs.inodes[ino-fs.rootIno].Payload = &LinkPayload{Target: target}
	fs.inodes[ino-fs.rootIno].Size = uint64(len(target))
	if err := fs.linkat(fs.rootIno, path, ino); err != nil {
		return 0, err
	}
	return ino, nil
}

// SetHash sets a regular inode's content hash and reported size.
// Needed by anything building a tree programmatically (tests, a
// metadata-document generator): Creat has no way to carry a hash
// argument of its own.
func (fs *FileSystem) SetHash(ino uint64, hash string, size uint64) error {
	if fs.mounted {
		return errFrozen("sethash")
	}
	i, ok := fs.Get(ino)
	if !ok || !i.IsReg() {
		return syscall.EINVAL
	}
	i.Payload = &RegPayload{Hash: hash}
	i.Size = size
	return nil
}

// Link resolves oldpath (which must exist), links the same inode under
// newpath, then unlinks oldpath. This composes to rename semantics but
// is not atomic: a crash or concurrent lookup between the two steps can
// observe the inode linked under both names or under neither.
func (fs *FileSystem) Link(oldpath, newpath string) error {
	if fs.mounted {
		return errFrozen("link")
	}
	ino := fs.Lookup(fs.rootIno, oldpath)
	if ino == 0 {
		return syscall.ENOENT
	}
	if err := fs.linkat(fs.rootIno, newpath, ino); err != nil {
		return err
	}
	return fs.unlinkat(fs.rootIno, oldpath)
}

// Unlinkat removes path's final component entry from its parent
// directory, resolving parent-relative preceding components starting
// at parent.
func (fs *FileSystem) Unlinkat(parent uint64, path string) error {
	if fs.mounted {
		return errFrozen("unlinkat")
	}
	return fs.unlinkat(parent, path)
}

// linkat walks path from parent, tracking explicitly which segment is
// the final one instead of leaning on the path cursor's terminal state,
// which is ambiguous on certain trailing-separator inputs.
func (fs *FileSystem) linkat(parent uint64, path string, target uint64) error {
	segments := pathseg.Segments(path)
	if len(segments) == 0 {
		return syscall.EINVAL
	}

	cur := parent
	for idx, seg := range segments {
		if cur == 0 {
			return syscall.ENOENT
		}
		dir, ok := fs.Get(cur)
		if !ok {
			return syscall.ENOENT
		}
		if !dir.IsDir() {
			return syscall.ENOTDIR
		}

		if idx == len(segments)-1 {
			dir.Dirents()[seg] = target
			return nil
		}

		next, exists := dir.Dirents()[seg]
		if !exists {
			return syscall.ENOENT
		}
		cur = next
	}
	return nil
}

func (fs *FileSystem) unlinkat(parent uint64, path string) error {
	segments := pathseg.Segments(path)
	if len(segments) == 0 {
		return syscall.EINVAL
	}

	cur := parent
	for idx, seg := range segments {
		if cur == 0 {
			return syscall.ENOENT
		}
		dir, ok := fs.Get(cur)
		if !ok {
			return syscall.ENOENT
		}
		if !dir.IsDir() {
			return syscall.ENOTDIR
		}

		if idx == len(segments)-1 {
			if _, exists := dir.Dirents()[seg]; !exists {
				return syscall.ENOENT
			}
			delete(dir.Dirents(), seg)
			return nil
		}

		next, exists := dir.Dirents()[seg]
		if !exists {
			return syscall.ENOENT
		}
		cur = next
	}
	return nil
}

func errFrozen(op string) error {
	return fmt.Errorf("meta: %s: filesystem is mounted read-only", op)
}
