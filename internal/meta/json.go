package meta

import (
	"encoding/json"
	"fmt"
)

// wireInode is the on-the-wire shape of one array element in a
// metadata document: ino/mode/size always present, and exactly one of
// dirents/value depending on file type. Dirents is a pointer so that
// an empty directory still encodes as "dirents": {}.
type wireInode struct {
	Ino     uint64             `json:"ino"`
	Mode    uint32             `json:"mode"`
	Size    uint64             `json:"size"`
	Dirents *map[string]uint64 `json:"dirents,omitempty"`
	Value   *string            `json:"value,omitempty"`
}

// MarshalJSON encodes the filesystem as the dense, ordered array of
// inode objects described in the metadata document format. The element
// at index 0 is always the root.
func (fs *FileSystem) MarshalJSON() ([]byte, error) {
	out := make([]wireInode, len(fs.inodes))
	for i, ino := range fs.inodes {
		w := wireInode{Ino: ino.Ino, Mode: ino.Mode, Size: ino.Size}
		switch p := ino.Payload.(type) {
		case *DirPayload:
			entries := p.Entries
			if entries == nil {
				entries = map[string]uint64{}
			}
			w.Dirents = &entries
		case *LinkPayload:
			w.Value = &p.Target
		case *RegPayload:
			w.Value = &p.Hash
		default:
			return nil, fmt.Errorf("meta: inode %d has unknown payload type %T", ino.Ino, ino.Payload)
		}
		out[i] = w
	}
	return json.Marshal(out)
}

// UnmarshalJSON replaces the filesystem's contents with the tree
// decoded from a metadata document. The root inode number is taken
// from the first array element rather than requiring it as a separate
// argument.
func (fs *FileSystem) UnmarshalJSON(data []byte) error {
	var wire []wireInode
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("meta: decode metadata document: %w", err)
	}
	if len(wire) == 0 {
		return fmt.Errorf("meta: metadata document is empty")
	}

	inodes := make([]*Inode, len(wire))
	for i, w := range wire {
		ino := &Inode{Ino: w.Ino, Mode: w.Mode, Size: w.Size}
		switch w.Mode & typeMask {
		case TypeDir:
			if w.Dirents == nil {
				return fmt.Errorf("meta: inode %d is a directory but has no dirents field", w.Ino)
			}
			entries := make(map[string]uint64, len(*w.Dirents))
			for k, v := range *w.Dirents {
				entries[k] = v
			}
			ino.Payload = &DirPayload{Entries: entries}
		case TypeLnk:
			if w.Value == nil {
				return fmt.Errorf("meta: inode %d is a symlink but has no value field", w.Ino)
			}
			ino.Payload = &LinkPayload{Target: *w.Value}
		default:
			if w.Value == nil {
				return fmt.Errorf("meta: inode %d is a regular file but has no value field", w.Ino)
			}
			ino.Payload = &RegPayload{Hash: *w.Value}
		}
		inodes[i] = ino
	}

	fs.rootIno = wire[0].Ino
	fs.inodes = inodes
	return nil
}
