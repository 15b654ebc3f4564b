package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Manifest keeps a JSON list of every track file it has been notified
// about. The list is rewritten atomically on each notification.
type Manifest struct {
	Path string

	mut sync.Mutex
}

type ManifestEntry struct {
	Path     string    `json:"path"`
	MimeType string    `json:"mime_type"`
	Size     int64     `json:"size"`
	Updated  time.Time `json:"updated"`
}

func (m *Manifest) Notify(path, mimeType string) error {
	m.mut.Lock()
	defer m.mut.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	entries, err := m.Entries()
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	entry := ManifestEntry{Path: abs, MimeType: mimeType, Size: info.Size(), Updated: info.ModTime().UTC()}
	replaced := false
	for i := range entries {
		if entries[i].Path == abs {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Path < entries[b].Path })

	return m.write(entries)
}

// Entries returns the current manifest contents, or nothing if it has not
// been written yet.
func (m *Manifest) Entries() ([]ManifestEntry, error) {
	data, err := os.ReadFile(m.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", m.Path, err)
	}
	return entries, nil
}

func (m *Manifest) write(entries []ManifestEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	dir := filepath.Dir(m.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(m.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("manifest: %w", err)
	}
	return nil
}
