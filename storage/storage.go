// Package storage is the filesystem seam used by the scanner and the link
// consolidator. Everything that touches the live tree goes through FS so tests
// can inject failures between individual steps.
package storage

import (
	"io"
	"io/fs"
)

// Reader provides read access to a file
type Reader interface {
	io.ReadCloser
}

// FileID identifies the storage behind a directory entry.
type FileID struct {
	Device uint64 // Device (or volume serial) holding the file
	Inode  uint64 // Inode (or file index) on that device
	Links  uint64 // Number of directory entries sharing the inode
}

// Known reports whether the id was actually resolved.
func (id FileID) Known() bool {
	return id.Inode != 0
}

// SameFile reports whether both ids refer to the same underlying storage.
func (id FileID) SameFile(other FileID) bool {
	return id.Known() && id.Device == other.Device && id.Inode == other.Inode
}

// SameDevice reports whether both ids live on the same device. Hardlinks
// cannot span devices.
func (id FileID) SameDevice(other FileID) bool {
	return id.Device == other.Device
}

// FS defines the filesystem operations the deduplicator relies on.
type FS interface {
	// Open opens a file for reading
	Open(name string) (Reader, error)

	// Lstat describes the entry without following symlinks
	Lstat(name string) (fs.FileInfo, error)

	// Stat describes the entry, following symlinks
	Stat(name string) (fs.FileInfo, error)

	// EvalSymlinks returns name with every symlink in it resolved
	EvalSymlinks(name string) (string, error)

	// ReadDir lists a directory sorted by name
	ReadDir(name string) ([]fs.DirEntry, error)

	// FileID resolves device, inode and link count without following symlinks
	FileID(name string) (FileID, error)

	// Remove deletes a single directory entry
	Remove(name string) error

	// Link creates newname as a hardlink to oldname
	Link(oldname, newname string) error

	// Rename moves a directory entry
	Rename(oldpath, newpath string) error

	// Name returns the provider name
	Name() string
}
