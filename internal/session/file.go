package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a Store persisted as a small JSON document next to the track, so
// that segment state survives a restart. Every change rewrites the document
// via a temp file and os.Rename.
type File struct {
	path string

	mut    sync.Mutex
	st     state
	loaded bool
}

var _ Store = (*File)(nil)

func NewFile(path string) *File {
	return &File{path: path}
}

// StatePath returns the default state file location for a track file.
func StatePath(trackPath string) string {
	return trackPath + ".state"
}

func (f *File) Path() string {
	return f.path
}

func (f *File) IsSegmentOpen() (bool, error) {
	f.mut.Lock()
	defer f.mut.Unlock()
	if err := f.load(); err != nil {
		return false, err
	}
	return f.st.SegmentOpen, nil
}

func (f *File) SetSegmentOpen(open bool) error {
	f.mut.Lock()
	defer f.mut.Unlock()
	return f.update(func(st *state) { st.SegmentOpen = open })
}

func (f *File) PointCount() (int, error) {
	f.mut.Lock()
	defer f.mut.Unlock()
	if err := f.load(); err != nil {
		return 0, err
	}
	return f.st.PointCount, nil
}

func (f *File) NextPointCount() (int, error) {
	f.mut.Lock()
	defer f.mut.Unlock()
	if err := f.update(func(st *state) { st.PointCount++ }); err != nil {
		return 0, err
	}
	return f.st.PointCount, nil
}

func (f *File) ClearPointCount() error {
	f.mut.Lock()
	defer f.mut.Unlock()
	return f.update(func(st *state) { st.PointCount = 0 })
}

func (f *File) load() error {
	if f.loaded {
		return nil
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.loaded = true
		return nil
	} else if err != nil {
		return fmt.Errorf("read session state: %w", err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse session state %s: %w", f.path, err)
	}
	f.st = st
	f.loaded = true
	return nil
}

// update applies fn and persists the result. The in-memory copy is only
// replaced once the document is safely on disk.
func (f *File) update(fn func(*state)) error {
	if err := f.load(); err != nil {
		return err
	}
	next := f.st
	fn(&next)
	if err := f.save(next); err != nil {
		return err
	}
	f.st = next
	return nil
}

func (f *File) save(st state) (err error) {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("persist session state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persist session state: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("persist session state: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persist session state: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("persist session state: %w", err)
	}
	if err = os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("persist session state: %w", err)
	}
	return nil
}
