//go:build windows

package storage

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/windows"
)

func fileID(name string) (FileID, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return FileID{}, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}

	// FILE_FLAG_OPEN_REPARSE_POINT keeps symlinks from being followed and
	// FILE_FLAG_BACKUP_SEMANTICS allows opening directories.
	h, err := windows.CreateFile(p, 0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OPEN_REPARSE_POINT, 0)
	if err != nil {
		return FileID{}, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}
	defer func() {
		_ = windows.CloseHandle(h)
	}()

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &info); err != nil {
		return FileID{}, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}
	return FileID{
		Device: uint64(info.VolumeSerialNumber),
		Inode:  uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow),
		Links:  uint64(info.NumberOfLinks),
	}, nil
}

// IsCrossDevice reports whether err came from an attempt to link or rename
// across volumes.
func IsCrossDevice(err error) bool {
	return errors.Is(err, windows.ERROR_NOT_SAME_DEVICE)
}
