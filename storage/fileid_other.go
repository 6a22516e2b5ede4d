//go:build !unix && !windows

package storage

import (
	"errors"
	"io/fs"
)

func fileID(name string) (FileID, error) {
	return FileID{}, &fs.PathError{Op: "lstat", Path: name, Err: errors.ErrUnsupported}
}

// IsCrossDevice always reports false where device ids are unavailable.
func IsCrossDevice(err error) bool {
	return false
}
