// ABOUTME: File-backed manifest store with atomic temp-file-and-rename saves
// ABOUTME: Loads, merges and persists LoRaWAN connection snapshots by deveui

package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// indent matches the layout other node tools write the manifest with.
const indent = "   "

// Store reads and writes the manifest file at a fixed path.
type Store struct {
	path   string
	logger *slog.Logger

	// rename replaces the manifest with the written temp file.
	rename func(oldpath, newpath string) error
}

// NewStore creates a store for the manifest at path. The file does not need
// to exist yet.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "manifest"),
		rename: os.Rename,
	}
}

// Path returns the manifest file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the manifest. A missing file yields an empty document.
func (s *Store) Load() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("manifest not found, starting empty", "path", s.path)
			return Document{}, nil
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	obj, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", s.path, err)
	}
	if obj == nil {
		return Document{}, nil
	}
	return Document(obj), nil
}

// Save writes doc to the manifest path atomically. On failure the previous
// file is left as it was and the temp file is removed.
func (s *Store) Save(doc Document) (err error) {
	data, err := json.MarshalIndent(doc, "", indent)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		// After a successful rename the temp path no longer exists.
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
			s.logger.Warn("removing temp manifest", "path", tmpPath, "error", rmErr)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp manifest: %w", err)
	}
	if err := tmp.Chmod(s.fileMode()); err != nil {
		tmp.Close()
		return fmt.Errorf("setting manifest mode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp manifest: %w", err)
	}

	if err := s.rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing manifest: %w", err)
	}

	s.logger.Debug("manifest saved", "path", s.path, "bytes", len(data))
	return nil
}

// fileMode keeps the mode of an existing manifest.
func (s *Store) fileMode() fs.FileMode {
	if info, err := os.Stat(s.path); err == nil {
		return info.Mode().Perm()
	}
	return 0o644
}

// Upsert merges the candidate into the manifest entry with the same deveui,
// or appends it, and saves the manifest. Candidates that fail validation are
// dropped and the reason is returned.
func (s *Store) Upsert(c Connection) error {
	rec, err := toRecord(c)
	if err != nil {
		return err
	}

	if !ValidateShape(rec) {
		s.logger.Error("dropping manifest candidate", "dev_eui", c.Device.DevEUI, "error", ErrInvalidShape)
		return ErrInvalidShape
	}

	doc, err := s.Load()
	if err != nil {
		return err
	}

	list, _ := doc[ConnectionsKey].([]any)
	if idx := doc.indexOf(c.Device.DevEUI); idx >= 0 {
		existing := list[idx].(map[string]any)
		merge(existing, rec)
		s.logger.Debug("manifest connection updated", "dev_eui", c.Device.DevEUI)
	} else {
		if err := checkRequired(rec); err != nil {
			s.logger.Error("dropping manifest candidate", "dev_eui", c.Device.DevEUI, "error", err)
			return err
		}
		list = append(list, rec)
		s.logger.Debug("manifest connection added", "dev_eui", c.Device.DevEUI)
	}
	doc[ConnectionsKey] = list

	return s.Save(doc)
}
