package prefs

import (
	"fmt"
	"os"
	"path/filepath"
)

const appDirName = "spm-relay"

// FileStorage keeps the preference document in dir/notification_preferences.json.
type FileStorage struct {
	dir string
}

// NewFileStorage returns storage rooted at dir. Pass an empty string to use
// the default XDG state path.
func NewFileStorage(dir string) *FileStorage {
	if dir == "" {
		dir = defaultStateDir()
	}
	return &FileStorage{dir: dir}
}

// Path returns the full path to the preference file.
func (s *FileStorage) Path() string {
	return filepath.Join(s.dir, StorageKey+".json")
}

func (s *FileStorage) Load() ([]byte, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading preferences: %w", err)
	}
	return data, nil
}

// Save writes data using an atomic temp-file-then-rename pattern.
func (s *FileStorage) Save(data []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating preferences dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".prefs-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("renaming preferences file: %w", err)
	}
	committed = true

	return nil
}

// defaultStateDir returns ~/.local/state/spm-relay, respecting
// XDG_STATE_HOME if set.
func defaultStateDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
