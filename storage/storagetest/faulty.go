// Package storagetest provides storage.FS implementations for tests.
package storagetest

import (
	"io/fs"
	"sync"

	"github.com/luinbytes/linkdedup/storage"
)

// Op names a storage.FS method that can be made to fail.
type Op string

const (
	OpOpen         Op = "open"
	OpLstat        Op = "lstat"
	OpEvalSymlinks Op = "evalsymlinks"
	OpReadDir      Op = "readdir"
	OpFileID       Op = "fileid"
	OpRemove       Op = "remove"
	OpLink         Op = "link"
	OpRename       Op = "rename"
)

// Faulty wraps another FS and returns injected errors for chosen
// (operation, path) pairs. The path of Link is the new name.
type Faulty struct {
	storage.FS

	mu     sync.Mutex
	faults map[Op]map[string]error
	ids    map[string]storage.FileID
	calls  []Call

	// Before runs ahead of every mutating call (remove, link, rename); tests
	// use it to race the tree between steps.
	Before func(op Op, path string)
}

// Call records one mutating call.
type Call struct {
	Op   Op
	Path string
}

// NewFaulty wraps fsys, defaulting to the local filesystem.
func NewFaulty(fsys storage.FS) *Faulty {
	if fsys == nil {
		fsys = storage.NewLocal()
	}
	return &Faulty{
		FS:     fsys,
		faults: make(map[Op]map[string]error),
		ids:    make(map[string]storage.FileID),
	}
}

// OverrideID makes FileID report id for path, e.g. to place a file on another
// device.
func (f *Faulty) OverrideID(path string, id storage.FileID) *Faulty {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids[path] = id
	return f
}

// Fail makes op on path return err.
func (f *Faulty) Fail(op Op, path string, err error) *Faulty {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.faults[op] == nil {
		f.faults[op] = make(map[string]error)
	}
	f.faults[op][path] = &fs.PathError{Op: string(op), Path: path, Err: err}
	return f
}

// Calls returns the mutating calls seen so far.
func (f *Faulty) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *Faulty) fault(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.faults[op][path]
}

func (f *Faulty) mutate(op Op, path string) error {
	if f.Before != nil {
		f.Before(op, path)
	}
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: op, Path: path})
	f.mu.Unlock()
	return f.fault(op, path)
}

func (f *Faulty) Open(name string) (storage.Reader, error) {
	if err := f.fault(OpOpen, name); err != nil {
		return nil, err
	}
	return f.FS.Open(name)
}

func (f *Faulty) Lstat(name string) (fs.FileInfo, error) {
	if err := f.fault(OpLstat, name); err != nil {
		return nil, err
	}
	return f.FS.Lstat(name)
}

func (f *Faulty) EvalSymlinks(name string) (string, error) {
	if err := f.fault(OpEvalSymlinks, name); err != nil {
		return "", err
	}
	return f.FS.EvalSymlinks(name)
}

func (f *Faulty) ReadDir(name string) ([]fs.DirEntry, error) {
	if err := f.fault(OpReadDir, name); err != nil {
		return nil, err
	}
	return f.FS.ReadDir(name)
}

func (f *Faulty) FileID(name string) (storage.FileID, error) {
	if err := f.fault(OpFileID, name); err != nil {
		return storage.FileID{}, err
	}
	f.mu.Lock()
	id, ok := f.ids[name]
	f.mu.Unlock()
	if ok {
		return id, nil
	}
	return f.FS.FileID(name)
}

func (f *Faulty) Remove(name string) error {
	if err := f.mutate(OpRemove, name); err != nil {
		return err
	}
	return f.FS.Remove(name)
}

func (f *Faulty) Link(oldname, newname string) error {
	if err := f.mutate(OpLink, newname); err != nil {
		return err
	}
	return f.FS.Link(oldname, newname)
}

func (f *Faulty) Rename(oldpath, newpath string) error {
	if err := f.mutate(OpRename, oldpath); err != nil {
		return err
	}
	return f.FS.Rename(oldpath, newpath)
}

// Name returns the provider name
func (f *Faulty) Name() string {
	return "faulty(" + f.FS.Name() + ")"
}

var _ storage.FS = (*Faulty)(nil)
