package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s := NewMemory()

	assert.Equal(t, DefaultModel, s.SelectedModel())
	assert.Equal(t, "google", s.String(KeyChatProvider))
	assert.Equal(t, 14, s.Int(KeyChatFontSize))
	assert.Equal(t, "medium", s.String(KeyWindowBreakpoint))
	assert.Equal(t, "transparent", s.String(KeyWindowTransparency))
	assert.False(t, s.Bool(KeyWindowPositionSaved))
	assert.Empty(t, s.SelectedMicrophone())
	assert.Empty(t, s.String(KeyGroqAPIKey))
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetSelectedModel("base.en"))
	require.NoError(t, s.SetInt(KeyChatFontSize, 18))
	require.NoError(t, s.SetFloat(KeyWindowPositionX, 120.5))
	require.NoError(t, s.SetBool(KeyWindowPositionSaved, true))
	require.NoError(t, s.SetSelectedMicrophone("USB Mic"))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "base.en", reopened.SelectedModel())
	assert.Equal(t, 18, reopened.Int(KeyChatFontSize))
	assert.InDelta(t, 120.5, reopened.Float(KeyWindowPositionX), 1e-9)
	assert.True(t, reopened.Bool(KeyWindowPositionSaved))
	assert.Equal(t, "USB Mic", reopened.SelectedMicrophone())

	require.NoError(t, reopened.SetSelectedMicrophone(""))
	assert.Empty(t, reopened.SelectedMicrophone())
}

func TestMalformedValueFallsBackToDefault(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.SetString(KeyChatFontSize, "huge"))
	assert.Equal(t, 14, s.Int(KeyChatFontSize))
}

func TestOpenInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("::: not yaml"), 0644))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, s.SelectedModel())
}
