// Package hotkey listens for a global key combination such as
// Ctrl+Shift+Space.
package hotkey

import (
	"errors"
	"fmt"
	"strings"
)

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// Binding is a key with the modifiers that must be held with it. Key is a
// lower-case name from Keys.
type Binding struct {
	Ctrl  bool
	Shift bool
	Key   string
}

// Default is used when no binding is configured.
var Default = Binding{Ctrl: true, Shift: true, Key: "space"}

var (
	ErrUnknownKey  = errors.New("unknown key")
	ErrNoModifiers = errors.New("binding needs ctrl or shift")
)

// Keys lists every key name a binding can use. The modifiers are limited to
// ctrl and shift because those are the only ones every backend shares.
func Keys() []string {
	keys := []string{"space"}
	for c := 'a'; c <= 'z'; c++ {
		keys = append(keys, string(c))
	}
	for c := '0'; c <= '9'; c++ {
		keys = append(keys, string(c))
	}
	for i := 1; i <= 12; i++ {
		keys = append(keys, fmt.Sprintf("f%d", i))
	}
	return keys
}

func validKey(k string) bool {
	for _, name := range Keys() {
		if name == k {
			return true
		}
	}
	return false
}

// Parse reads a binding written as "+"-separated parts, e.g.
// "ctrl+shift+space" or "Ctrl+F9". The last part is the key. Function keys
// may be bound without modifiers.
func Parse(s string) (Binding, error) {
	parts := strings.Split(strings.ToLower(strings.ReplaceAll(s, " ", "")), "+")
	var b Binding
	for _, p := range parts[:len(parts)-1] {
		switch p {
		case "ctrl", "control":
			b.Ctrl = true
		case "shift":
			b.Shift = true
		default:
			return Binding{}, fmt.Errorf("hotkey %q: unsupported modifier %q", s, p)
		}
	}
	b.Key = parts[len(parts)-1]
	if !validKey(b.Key) {
		return Binding{}, fmt.Errorf("hotkey %q: %w %q", s, ErrUnknownKey, b.Key)
	}
	if !b.Ctrl && !b.Shift && !strings.HasPrefix(b.Key, "f") {
		return Binding{}, fmt.Errorf("hotkey %q: %w", s, ErrNoModifiers)
	}
	return b, nil
}

// String is the form shown to users, e.g. "Ctrl+Shift+Space".
func (b Binding) String() string {
	var parts []string
	if b.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if b.Shift {
		parts = append(parts, "Shift")
	}
	key := strings.ToUpper(b.Key)
	if b.Key == "space" {
		key = "Space"
	}
	return strings.Join(append(parts, key), "+")
}
