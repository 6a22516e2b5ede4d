package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Local implements FS on top of the operating system's filesystem.
type Local struct{}

// NewLocal creates a new local filesystem provider
func NewLocal() *Local {
	return &Local{}
}

// Open opens a file for reading
func (l *Local) Open(name string) (Reader, error) {
	return os.Open(name)
}

// Lstat describes name without following symlinks
func (l *Local) Lstat(name string) (fs.FileInfo, error) {
	return os.Lstat(name)
}

// Stat describes name, following symlinks
func (l *Local) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// EvalSymlinks resolves every symlink in name
func (l *Local) EvalSymlinks(name string) (string, error) {
	return filepath.EvalSymlinks(name)
}

// ReadDir lists a directory. Entries read before an error are returned along
// with it.
func (l *Local) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(name)
}

// FileID resolves the device/inode pair for name
func (l *Local) FileID(name string) (FileID, error) {
	return fileID(name)
}

// Remove deletes a single directory entry
func (l *Local) Remove(name string) error {
	return os.Remove(name)
}

// Link creates newname as a hardlink to oldname
func (l *Local) Link(oldname, newname string) error {
	return os.Link(oldname, newname)
}

// Rename moves a directory entry
func (l *Local) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// Name returns the provider name
func (l *Local) Name() string {
	return "local"
}

// Ensure Local implements FS interface
var _ FS = (*Local)(nil)
