package pool

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Verify reads f from the beginning, hashes it with blake3, and checks
// the hex digest against wantHash (the blob's pool filename). f's
// offset is restored afterward so the caller's subsequent reads are
// unaffected.
func Verify(f *os.File, wantHash string) error {
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	defer f.Seek(pos, io.SeekStart)

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != wantHash {
		return &errMismatch{want: wantHash, got: got}
	}
	return nil
}
