package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SavedSession is what pbsctl keeps on disk between invocations.
type SavedSession struct {
	Gateway string `json:"gateway"`
	UserID  string `json:"user_id"`
	Token   string `json:"token"`
}

// SaveSession writes s to path with owner-only permissions.
func SaveSession(path string, s SavedSession) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// LoadSession reads a session written by SaveSession. A missing file yields
// an empty session and no error.
func LoadSession(path string) (SavedSession, error) {
	var s SavedSession
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read session: %w", err)
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parse session %s: %w", path, err)
	}
	return s, nil
}
