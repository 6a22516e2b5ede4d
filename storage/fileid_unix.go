//go:build unix

package storage

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

func fileID(name string) (FileID, error) {
	var st unix.Stat_t
	if err := unix.Lstat(name, &st); err != nil {
		return FileID{}, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}
	return FileID{
		Device: uint64(st.Dev),
		Inode:  uint64(st.Ino),
		Links:  uint64(st.Nlink),
	}, nil
}

// IsCrossDevice reports whether err came from an attempt to link or rename
// across filesystems.
func IsCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}
