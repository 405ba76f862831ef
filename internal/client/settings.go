package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	UserName string        `yaml:"user_name"`
	Endpoint string        `yaml:"endpoint"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

func DefaultSettings() Settings {
	return Settings{
		UserName: "David",
		Endpoint: "http://localhost:8081",
		Database: "worklist.db",
		Timeout:  15 * time.Second,
	}
}

// LoadSettings reads path over the defaults. A missing file is not an error.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if s.UserName == "" {
		s.UserName = DefaultSettings().UserName
	}
	return s, nil
}

func SaveSettings(path string, s Settings) error {
	b, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0o644)
}

// UserNameStore holds the user the client acts as. Changes are written back to
// the settings file; empty names are ignored.
type UserNameStore struct {
	mu       sync.RWMutex
	path     string
	settings Settings
}

func NewUserNameStore(path string, s Settings) *UserNameStore {
	return &UserNameStore{path: path, settings: s}
}

func (u *UserNameStore) UserName() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.settings.UserName
}

func (u *UserNameStore) SetUserName(name string) error {
	if name == "" {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if name == u.settings.UserName {
		return nil
	}
	u.settings.UserName = name
	if u.path == "" {
		return nil
	}
	return SaveSettings(u.path, u.settings)
}
