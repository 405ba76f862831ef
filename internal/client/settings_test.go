package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoadSettingsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worklist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("user_name: Anna\nendpoint: http://api:8081\ntimeout: 3s\n"), 0o644))

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "Anna", s.UserName)
	assert.Equal(t, "http://api:8081", s.Endpoint)
	assert.Equal(t, "worklist.db", s.Database)
	assert.Equal(t, 3*time.Second, s.Timeout)
}

func TestUserNameStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "worklist.yaml")
	u := NewUserNameStore(path, DefaultSettings())
	assert.Equal(t, "David", u.UserName())

	require.NoError(t, u.SetUserName(""))
	assert.Equal(t, "David", u.UserName())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "empty name is ignored")

	require.NoError(t, u.SetUserName("Anna"))
	assert.Equal(t, "Anna", u.UserName())

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "Anna", s.UserName)
	assert.Equal(t, 15*time.Second, s.Timeout)
}
