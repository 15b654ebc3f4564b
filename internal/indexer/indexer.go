// Package indexer tells interested parties that a track file changed.
//
// Notifications are best effort. The track writer logs and counts a failed
// notification but never fails a write because of one.
package indexer

import (
	"errors"

	"golang.org/x/exp/slog"
)

type Indexer interface {
	Notify(path, mimeType string) error
}

type Nop struct{}

func (Nop) Notify(string, string) error { return nil }

type Func func(path, mimeType string) error

func (f Func) Notify(path, mimeType string) error { return f(path, mimeType) }

// Log writes a debug line per notification.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(path, mimeType string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("Track file updated", "path", path, "mime", mimeType)
	return nil
}

// Multi notifies every indexer in turn and returns the joined errors.
type Multi []Indexer

func (m Multi) Notify(path, mimeType string) error {
	var errs []error
	for _, idx := range m {
		if err := idx.Notify(path, mimeType); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
