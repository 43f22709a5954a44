// Package settings is a small persisted key/value store with typed
// accessors. Reads fall back to per-key defaults.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	KeySelectedModel       = "SelectedWhisperModel"
	KeySelectedMicrophone  = "SelectedMicrophone"
	KeyChatProvider        = "chatProvider"
	KeyGroqAPIKey          = "groqAPIKey"
	KeyGoogleAPIKey        = "googleAPIKey"
	KeyOpenAIAPIKey        = "openaiAPIKey"
	KeyWindowPositionX     = "windowPositionX"
	KeyWindowPositionY     = "windowPositionY"
	KeyWindowPositionSaved = "windowPositionSaved"
	KeyWindowBreakpoint    = "windowBreakpoint"
	KeyWindowTransparency  = "windowTransparency"
	KeyChatFontSize        = "chatFontSize"
)

const DefaultModel = "small.en"

var defaults = map[string]string{
	KeySelectedModel:       DefaultModel,
	KeyChatProvider:        "google",
	KeyWindowBreakpoint:    "medium",
	KeyWindowTransparency:  "transparent",
	KeyChatFontSize:        "14",
	KeyWindowPositionSaved: "false",
}

// Store is safe for concurrent use. Every write is persisted immediately
// when the store has a path.
type Store struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

// Open loads path. A missing file yields an empty store that will be
// created on the first write.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: map[string]string{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if s.values == nil {
		s.values = map[string]string{}
	}
	return s, nil
}

// NewMemory returns a store that is never written to disk.
func NewMemory() *Store {
	return &Store{values: map[string]string{}}
}

func (s *Store) Path() string { return s.path }

func (s *Store) lookup(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if ok {
		return v, true
	}
	v, ok = defaults[key]
	return v, ok
}

func (s *Store) String(key string) string {
	v, _ := s.lookup(key)
	return v
}

func (s *Store) Int(key string) int {
	v, _ := s.lookup(key)
	n, err := strconv.Atoi(v)
	if err != nil {
		n, _ = strconv.Atoi(defaults[key])
	}
	return n
}

func (s *Store) Float(key string) float64 {
	v, _ := s.lookup(key)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		f, _ = strconv.ParseFloat(defaults[key], 64)
	}
	return f
}

func (s *Store) Bool(key string) bool {
	v, _ := s.lookup(key)
	b, err := strconv.ParseBool(v)
	if err != nil {
		b, _ = strconv.ParseBool(defaults[key])
	}
	return b
}

func (s *Store) SetString(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.saveLocked()
}

func (s *Store) SetInt(key string, value int) error {
	return s.SetString(key, strconv.Itoa(value))
}

func (s *Store) SetFloat(key string, value float64) error {
	return s.SetString(key, strconv.FormatFloat(value, 'f', -1, 64))
}

func (s *Store) SetBool(key string, value bool) error {
	return s.SetString(key, strconv.FormatBool(value))
}

// Delete removes key so reads return its default again.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return s.saveLocked()
}

func (s *Store) SelectedModel() string { return s.String(KeySelectedModel) }

func (s *Store) SetSelectedModel(id string) error { return s.SetString(KeySelectedModel, id) }

func (s *Store) SelectedMicrophone() string { return s.String(KeySelectedMicrophone) }

func (s *Store) SetSelectedMicrophone(name string) error {
	if name == "" {
		return s.Delete(KeySelectedMicrophone)
	}
	return s.SetString(KeySelectedMicrophone, name)
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("install settings: %w", err)
	}
	return nil
}
