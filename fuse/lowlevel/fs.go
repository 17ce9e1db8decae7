package lowlevel

import (
	"context"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/merklefs/merklefs/internal/meta"
	"github.com/merklefs/merklefs/internal/pool"
)

// FS answers kernel requests against a metadata tree and a blob pool.
// It implements no mutating operation: every write-path callback
// replies with EROFS or ENOSYS, the uniform answer for a tree that is
// immutable once mounted.
type FS struct {
	meta *meta.FileSystem
	pool *pool.Pool

	handles *handlerMap

	cacheTimeout time.Duration
	noSplice     bool
	debug        bool

	uid, gid uint32

	mountID uuid.UUID
	server  *fuse.Server
	log     *zap.Logger
}

func (fs *FS) String() string { return "merklefs" }

func (fs *FS) SetDebug(debug bool) { fs.debug = debug }

// logDebug emits op and fields at Debug level when --debug is set.
// Every reply path below calls this just before returning, giving a
// per-call trace of what the kernel asked for and how it was answered.
func (fs *FS) logDebug(op string, fields ...zap.Field) {
	if fs.debug {
		fs.log.Debug(op, fields...)
	}
}

func (fs *FS) OnUnmount() {}

// Init records the server and logs which capabilities the kernel
// settings carry: export support, flock forwarding and splice
// read/write as reported, writeback caching only when a positive cache
// timeout is configured, and splice as off when disabled. It does not
// request or change any capability itself.
func (fs *FS) Init(server *fuse.Server) {
	fs.server = server

	caps := server.KernelSettings()
	granted := func(bit uint32) bool { return caps.Flags&bit != 0 }

	fs.log.Info("negotiated kernel capabilities",
		zap.Bool("export_support", granted(fuse.CAP_EXPORT_SUPPORT)),
		zap.Bool("writeback_cache", fs.cacheTimeout > 0 && granted(fuse.CAP_WRITEBACK_CACHE)),
		zap.Bool("flock_locks", granted(fuse.CAP_FLOCK_LOCKS)),
		zap.Bool("splice_read", !fs.noSplice && granted(fuse.CAP_SPLICE_READ)),
		zap.Bool("splice_write", !fs.noSplice && granted(fuse.CAP_SPLICE_WRITE)),
	)
}

func (fs *FS) entryTimeout() time.Duration {
	if fs.cacheTimeout > 0 {
		return fs.cacheTimeout
	}
	return 0
}

func (fs *FS) fillEntryOut(i *meta.Inode, out *fuse.EntryOut) {
	timeout := fs.entryTimeout()
	out.SetEntryTimeout(timeout)
	out.SetAttrTimeout(timeout)

	out.NodeId = i.Ino
	out.Generation = 1
	out.Ino = i.Ino
	fs.fillAttr(i, &out.Attr)
}

func (fs *FS) fillAttrOut(i *meta.Inode, out *fuse.AttrOut) {
	out.SetTimeout(fs.entryTimeout())
	fs.fillAttr(i, &out.Attr)
}

func (fs *FS) fillAttr(i *meta.Inode, out *fuse.Attr) {
	mtime := fs.meta.MountTime()

	out.Ino = i.Ino
	out.Size = i.Size
	out.Mode = i.Mode
	out.Blksize = BlockSize
	out.Blocks = (i.Size + 511) / 512
	out.Nlink = 1
	out.Uid = fs.uid
	out.Gid = fs.gid

	out.SetTimes(&mtime, &mtime, &mtime)
}

func parseError(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	return fuse.ToStatus(err)
}

func (fs *FS) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	parent, ok := fs.meta.Get(header.NodeId)
	if !ok {
		fs.logDebug("lookup", zap.Uint64("parent", header.NodeId), zap.String("name", name), zap.String("status", "ENOENT"))
		return fuse.ENOENT
	}
	if !parent.IsDir() {
		fs.logDebug("lookup", zap.Uint64("parent", header.NodeId), zap.String("name", name), zap.String("status", "ENOTDIR"))
		return fuse.ENOTDIR
	}

	ino := fs.meta.Lookup(header.NodeId, name)
	if ino == 0 {
		out.NodeId = 0
		out.SetEntryTimeout(fs.entryTimeout())
		fs.logDebug("lookup", zap.Uint64("parent", header.NodeId), zap.String("name", name), zap.Uint64("ino", 0))
		return fuse.OK
	}

	i := fs.meta.MustGet(ino)
	fs.fillEntryOut(i, out)
	fs.logDebug("lookup", zap.Uint64("parent", header.NodeId), zap.String("name", name), zap.Uint64("ino", ino))
	return fuse.OK
}

func (fs *FS) Forget(nodeid, nlookup uint64) {}

func (fs *FS) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	if input.NodeId == 0 {
		fs.logDebug("getattr", zap.Uint64("inode", input.NodeId), zap.String("status", "ENOENT"))
		return fuse.ENOENT
	}
	i, ok := fs.meta.Get(input.NodeId)
	if !ok {
		fs.logDebug("getattr", zap.Uint64("inode", input.NodeId), zap.String("status", "ENOENT"))
		return fuse.ENOENT
	}
	fs.fillAttrOut(i, out)
	fs.logDebug("getattr", zap.Uint64("inode", input.NodeId))
	return fuse.OK
}

func (fs *FS) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	fs.logDebug("setattr", zap.Uint64("inode", input.NodeId), zap.String("status", "EROFS"))
	return fuse.EROFS
}

func (fs *FS) Mknod(cancel <-chan struct{}, input *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
	fs.logDebug("mknod", zap.Uint64("parent", input.NodeId), zap.String("name", name), zap.String("status", "EROFS"))
	return fuse.EROFS
}

func (fs *FS) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	fs.logDebug("mkdir", zap.Uint64("parent", input.NodeId), zap.String("name", name), zap.String("status", "EROFS"))
	return fuse.EROFS
}

func (fs *FS) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	fs.logDebug("unlink", zap.Uint64("parent", header.NodeId), zap.String("name", name), zap.String("status", "EROFS"))
	return fuse.EROFS
}

func (fs *FS) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	fs.logDebug("rmdir", zap.Uint64("parent", header.NodeId), zap.String("name", name), zap.String("status", "EROFS"))
	return fuse.EROFS
}

func (fs *FS) Rename(cancel <-chan struct{}, input *fuse.RenameIn, oldName, newName string) fuse.Status {
	fs.logDebug("rename", zap.String("old", oldName), zap.String("new", newName), zap.String("status", "EROFS"))
	return fuse.EROFS
}

func (fs *FS) Link(cancel <-chan struct{}, input *fuse.LinkIn, filename string, out *fuse.EntryOut) fuse.Status {
	fs.logDebug("link", zap.String("name", filename), zap.String("status", "EROFS"))
	return fuse.EROFS
}

func (fs *FS) Symlink(cancel <-chan struct{}, header *fuse.InHeader, pointedTo, linkName string, out *fuse.EntryOut) fuse.Status {
	fs.logDebug("symlink", zap.String("name", linkName), zap.String("status", "EROFS"))
	return fuse.EROFS
}

func (fs *FS) Readlink(cancel <-chan struct{}, header *fuse.InHeader) ([]byte, fuse.Status) {
	i, ok := fs.meta.Get(header.NodeId)
	if !ok {
		fs.logDebug("readlink", zap.Uint64("inode", header.NodeId), zap.String("status", "ENOENT"))
		return nil, fuse.ENOENT
	}
	if !i.IsLnk() {
		fs.logDebug("readlink", zap.Uint64("inode", header.NodeId), zap.String("status", "EINVAL"))
		return nil, fuse.EINVAL
	}
	fs.logDebug("readlink", zap.Uint64("inode", header.NodeId))
	return []byte(i.Readlink()), fuse.OK
}

func (fs *FS) Access(cancel <-chan struct{}, input *fuse.AccessIn) fuse.Status {
	fs.logDebug("access", zap.Uint64("inode", input.NodeId))
	return fuse.OK
}

func (fs *FS) GetXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string, dest []byte) (uint32, fuse.Status) {
	fs.logDebug("getxattr", zap.Uint64("inode", header.NodeId), zap.String("attr", attr), zap.String("status", "ENOSYS"))
	return 0, fuse.ENOSYS
}

func (fs *FS) ListXAttr(cancel <-chan struct{}, header *fuse.InHeader, dest []byte) (uint32, fuse.Status) {
	fs.logDebug("listxattr", zap.Uint64("inode", header.NodeId), zap.String("status", "ENOSYS"))
	return 0, fuse.ENOSYS
}

func (fs *FS) SetXAttr(cancel <-chan struct{}, input *fuse.SetXAttrIn, attr string, data []byte) fuse.Status {
	fs.logDebug("setxattr", zap.Uint64("inode", input.NodeId), zap.String("attr", attr), zap.String("status", "ENOSYS"))
	return fuse.ENOSYS
}

func (fs *FS) RemoveXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string) fuse.Status {
	fs.logDebug("removexattr", zap.Uint64("inode", header.NodeId), zap.String("attr", attr), zap.String("status", "ENOSYS"))
	return fuse.ENOSYS
}

func (fs *FS) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	fs.logDebug("create", zap.Uint64("parent", input.NodeId), zap.String("name", name), zap.String("status", "EROFS"))
	return fuse.EROFS
}

func (fs *FS) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	i, ok := fs.meta.Get(input.NodeId)
	if !ok {
		fs.logDebug("open", zap.Uint64("inode", input.NodeId), zap.String("status", "ENOENT"))
		return fuse.ENOENT
	}
	if !i.IsReg() {
		fs.logDebug("open", zap.Uint64("inode", input.NodeId), zap.String("status", "EINVAL"))
		return fuse.EINVAL
	}

	flags := int(input.Flags)
	if fs.cacheTimeout > 0 {
		if flags&syscall.O_ACCMODE == syscall.O_WRONLY {
			flags = flags&^syscall.O_ACCMODE | syscall.O_RDWR
		}
		flags &^= syscall.O_APPEND
	}

	f, err := fs.pool.Open(context.Background(), i.Hash(), flags)
	if err != nil {
		fs.logDebug("open", zap.Uint64("inode", input.NodeId), zap.Error(err))
		return parseError(err)
	}

	h := fs.handles.newFile(f)
	out.Fh = h.id
	if fs.cacheTimeout > 0 {
		out.OpenFlags |= fuse.FOPEN_KEEP_CACHE
	}
	fs.logDebug("open", zap.Uint64("inode", input.NodeId), zap.Uint64("fh", h.id))
	return fuse.OK
}

func (fs *FS) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	h, ok := fs.handles.get(input.Fh)
	if !ok || h.file == nil {
		fs.logDebug("read", zap.Uint64("fh", input.Fh), zap.String("status", "ENOENT"))
		return nil, fuse.ENOENT
	}

	if fs.noSplice {
		n, err := h.file.ReadAt(buf, int64(input.Offset))
		if err != nil && n == 0 {
			fs.logDebug("read", zap.Uint64("fh", input.Fh), zap.Error(err))
			return nil, parseError(err)
		}
		fs.logDebug("read", zap.Uint64("fh", input.Fh), zap.Uint64("offset", input.Offset), zap.Int("n", n), zap.Bool("splice", false))
		return fuse.ReadResultData(buf[:n]), fuse.OK
	}

	fs.logDebug("read", zap.Uint64("fh", input.Fh), zap.Uint64("offset", input.Offset), zap.Int("size", len(buf)), zap.Bool("splice", true))
	return fuse.ReadResultFd(h.file.Fd(), int64(input.Offset), len(buf)), fuse.OK
}

func (fs *FS) Lseek(cancel <-chan struct{}, in *fuse.LseekIn, out *fuse.LseekOut) fuse.Status {
	fs.logDebug("lseek", zap.Uint64("fh", in.Fh), zap.String("status", "ENOSYS"))
	return fuse.ENOSYS
}

func (fs *FS) GetLk(cancel <-chan struct{}, input *fuse.LkIn, out *fuse.LkOut) fuse.Status {
	fs.logDebug("getlk", zap.Uint64("fh", input.Fh), zap.String("status", "ENOSYS"))
	return fuse.ENOSYS
}

func (fs *FS) SetLk(cancel <-chan struct{}, input *fuse.LkIn) fuse.Status {
	fs.logDebug("setlk", zap.Uint64("fh", input.Fh), zap.String("status", "ENOSYS"))
	return fuse.ENOSYS
}

func (fs *FS) SetLkw(cancel <-chan struct{}, input *fuse.LkIn) fuse.Status {
	fs.logDebug("setlkw", zap.Uint64("fh", input.Fh), zap.String("status", "ENOSYS"))
	return fuse.ENOSYS
}

func (fs *FS) Ioctl(cancel <-chan struct{}, input *fuse.IoctlIn, inbuf []byte, output *fuse.IoctlOut, outbuf []byte) fuse.Status {
	fs.logDebug("ioctl", zap.Uint64("fh", input.Fh), zap.String("status", "ENOSYS"))
	return fuse.ENOSYS
}

func (fs *FS) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	h, ok := fs.handles.del(input.Fh)
	fs.logDebug("release", zap.Uint64("fh", input.Fh))
	if !ok || h.file == nil {
		return
	}
	h.file.Close()
}

func (fs *FS) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	fs.logDebug("write", zap.Uint64("fh", input.Fh), zap.String("status", "EROFS"))
	return 0, fuse.EROFS
}

func (fs *FS) CopyFileRange(cancel <-chan struct{}, input *fuse.CopyFileRangeIn) (uint32, fuse.Status) {
	fs.logDebug("copy_file_range", zap.String("status", "ENOSYS"))
	return 0, fuse.ENOSYS
}

func (fs *FS) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	_, ok := fs.handles.get(input.Fh)
	if !ok {
		fs.logDebug("flush", zap.Uint64("fh", input.Fh), zap.String("status", "ENOENT"))
		return fuse.ENOENT
	}
	fs.logDebug("flush", zap.Uint64("fh", input.Fh))
	return fuse.OK
}

func (fs *FS) Fsync(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	fs.logDebug("fsync", zap.Uint64("fh", input.Fh), zap.String("status", "EROFS"))
	return fuse.EROFS
}

func (fs *FS) Fallocate(cancel <-chan struct{}, input *fuse.FallocateIn) fuse.Status {
	fs.logDebug("fallocate", zap.Uint64("fh", input.Fh), zap.String("status", "EROFS"))
	return fuse.EROFS
}

func (fs *FS) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	i, ok := fs.meta.Get(input.NodeId)
	if !ok {
		fs.logDebug("opendir", zap.Uint64("inode", input.NodeId), zap.String("status", "ENOENT"))
		return fuse.ENOENT
	}
	if !i.IsDir() {
		fs.logDebug("opendir", zap.Uint64("inode", input.NodeId), zap.String("status", "ENOTDIR"))
		return fuse.ENOTDIR
	}

	h := fs.handles.newDir(newDirCursor(i))
	out.Fh = h.id
	if fs.cacheTimeout > 0 {
		out.OpenFlags |= fuse.FOPEN_CACHE_DIR | fuse.FOPEN_KEEP_CACHE
	}
	fs.logDebug("opendir", zap.Uint64("inode", input.NodeId), zap.Uint64("fh", h.id))
	return fuse.OK
}

func (fs *FS) readdir(input *fuse.ReadIn, out *fuse.DirEntryList, plus bool) fuse.Status {
	h, ok := fs.handles.get(input.Fh)
	if !ok || h.dir == nil {
		fs.logDebug("readdir", zap.Uint64("fh", input.Fh), zap.Bool("plus", plus), zap.String("status", "ENOENT"))
		return fuse.ENOENT
	}

	offset := int(input.Offset)
	if offset != h.dir.offset {
		h.dir.seek(offset)
	}

	added := 0
	for h.dir.hasNext() {
		entry, _, _ := h.dir.peek()

		target, ok := fs.meta.Get(entry.ino)
		if !ok {
			if added > 0 {
				break
			}
			fs.logDebug("readdir", zap.Uint64("fh", input.Fh), zap.Bool("plus", plus), zap.String("status", "ENOENT"))
			return fuse.ENOENT
		}

		if plus {
			lookupEntry := out.AddDirLookupEntry(fuse.DirEntry{
				Mode: target.Mode &^ 0o7777,
				Name: entry.name,
				Ino:  entry.ino,
			})
			if lookupEntry == nil {
				break
			}
			fs.fillEntryOut(target, lookupEntry)
		} else {
			if !out.AddDirEntry(fuse.DirEntry{
				Mode: target.Mode &^ 0o7777,
				Name: entry.name,
				Ino:  entry.ino,
			}) {
				break
			}
		}

		h.dir.advance()
		added++
	}

	fs.logDebug("readdir", zap.Uint64("fh", input.Fh), zap.Bool("plus", plus), zap.Int("offset", offset), zap.Int("added", added))
	return fuse.OK
}

func (fs *FS) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	return fs.readdir(input, out, false)
}

func (fs *FS) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	return fs.readdir(input, out, true)
}

func (fs *FS) ReleaseDir(input *fuse.ReleaseIn) {
	fs.handles.del(input.Fh)
	fs.logDebug("releasedir", zap.Uint64("fh", input.Fh))
}

func (fs *FS) FsyncDir(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	fs.logDebug("fsyncdir", zap.Uint64("fh", input.Fh))
	return fuse.OK
}

func (fs *FS) StatFs(cancel <-chan struct{}, input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	out.Bsize = BlockSize
	out.Blocks = MaximumBlocks
	out.Bfree = MaximumBlocks
	out.Bavail = MaximumBlocks
	out.Files = uint64(fs.meta.Len())
	out.Ffree = MaximumInodes - uint64(fs.meta.Len())
	fs.logDebug("statfs")
	return fuse.OK
}

func (fs *FS) Statx(cancel <-chan struct{}, input *fuse.StatxIn, out *fuse.StatxOut) fuse.Status {
	fs.logDebug("statx", zap.String("status", "ENOSYS"))
	return fuse.ENOSYS
}
