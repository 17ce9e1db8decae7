// Package meta holds the in-memory, serialisable inode table that
// backs a mounted merklefs tree: hierarchical name resolution,
// pre-mount directory-entry mutation, and the JSON document format
// used to persist and load a tree.
package meta

import "syscall"

// Mode bits reuse the POSIX type bits from the syscall package so a
// mode word carries both file type and permissions.
const (
	typeMask = syscall.S_IFMT
	TypeDir  = syscall.S_IFDIR
	TypeReg  = syscall.S_IFREG
	TypeLnk  = syscall.S_IFLNK
)

// Payload is the tagged union of an inode's type-specific data. Exactly
// one of *DirPayload, *LinkPayload, *RegPayload implements it, and
// which one an inode carries is determined entirely by its Mode's file
// type bits.
type Payload interface {
	isPayload()
}

// DirPayload maps a directory's entry names to child inode numbers.
type DirPayload struct {
	Entries map[string]uint64
}

// LinkPayload holds a symlink's target string.
type LinkPayload struct {
	Target string
}

// RegPayload holds a regular file's content hash — opaque to this
// package, used only as a filename component under the blob pool.
type RegPayload struct {
	Hash string
}

func (*DirPayload) isPayload()  {}
func (*LinkPayload) isPayload() {}
func (*RegPayload) isPayload()  {}

// Inode is one entry in a FileSystem's inode table.
type Inode struct {
	Ino     uint64
	Mode    uint32
	Size    uint64
	Payload Payload
}

// IsDir reports whether the inode's type bits mark it as a directory.
func (i *Inode) IsDir() bool { return i.Mode&typeMask == TypeDir }

// IsLnk reports whether the inode's type bits mark it as a symlink.
func (i *Inode) IsLnk() bool { return i.Mode&typeMask == TypeLnk }

// IsReg reports whether the inode's type bits mark it as a regular file.
func (i *Inode) IsReg() bool { return i.Mode&typeMask == TypeReg }

// Dirents returns the inode's directory-entry map. It panics if the
// inode is not a directory — a payload/mode mismatch is a programmer
// error, not a condition callers are expected to recover from.
func (i *Inode) Dirents() map[string]uint64 {
	return i.Payload.(*DirPayload).Entries
}

// Readlink returns the inode's symlink target. It panics if the inode
// is not a symlink.
func (i *Inode) Readlink() string {
	return i.Payload.(*LinkPayload).Target
}

// Hash returns the inode's content hash. It panics if the inode is not
// a regular file.
func (i *Inode) Hash() string {
	return i.Payload.(*RegPayload).Hash
}

func newPayload(mode uint32) Payload {
	switch mode & typeMask {
	case TypeDir:
		return &DirPayload{Entries: make(map[string]uint64)}
	case TypeLnk:
		return &LinkPayload{}
	default:
		return &RegPayload{}
	}
}
