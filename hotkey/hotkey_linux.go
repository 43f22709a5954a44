//go:build linux

package hotkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Key codes from linux/input-event-codes.h.
const (
	evKey     = 1
	keyLCtrl  = 29
	keyRCtrl  = 97
	keyLShift = 42
	keyRShift = 54
)

var keyCodes = func() map[string]uint16 {
	m := map[string]uint16{"space": 57}
	for _, row := range []struct {
		first uint16
		keys  string
	}{
		{16, "qwertyuiop"},
		{30, "asdfghjkl"},
		{44, "zxcvbnm"},
		{2, "1234567890"},
	} {
		for j, c := range row.keys {
			m[string(c)] = row.first + uint16(j)
		}
	}
	for i := 1; i <= 10; i++ {
		m[fmt.Sprintf("f%d", i)] = 58 + uint16(i)
	}
	m["f11"], m["f12"] = 87, 88
	return m
}()

// struct input_event on 64-bit: 16 bytes of timeval, then type, code, value.
const inputEventSize = 24

var errNoKeyboards = errors.New("no keyboard devices found (is the user in the 'input' group?)")

// chord tracks one binding across a stream of key events. Left and right
// modifiers are tracked separately so releasing one keeps the other held.
type chord struct {
	b     Binding
	key   uint16
	ctrl  [2]bool
	shift [2]bool
	down  bool
}

func newChord(b Binding) *chord {
	return &chord{b: b, key: keyCodes[b.Key]}
}

// feed applies one key event. It returns +1 when the binding goes down and
// -1 when its key is released. Auto-repeat (value 2) changes nothing.
func (c *chord) feed(code uint16, value int32) int {
	if value == 2 {
		return 0
	}
	pressed := value == 1
	switch code {
	case keyLCtrl:
		c.ctrl[0] = pressed
	case keyRCtrl:
		c.ctrl[1] = pressed
	case keyLShift:
		c.shift[0] = pressed
	case keyRShift:
		c.shift[1] = pressed
	case c.key:
		if pressed && !c.down && c.modsHeld() {
			c.down = true
			return 1
		}
		if !pressed && c.down {
			c.down = false
			return -1
		}
	}
	return 0
}

func (c *chord) modsHeld() bool {
	ctrl := c.ctrl[0] || c.ctrl[1]
	shift := c.shift[0] || c.shift[1]
	return ctrl == c.b.Ctrl && shift == c.b.Shift
}

// evdevHotkey reads /dev/input directly, which works on X11 and Wayland
// alike but needs read access to the keyboard devices.
type evdevHotkey struct {
	binding Binding
	keydown chan struct{}
	keyup   chan struct{}
	files   []*os.File
	once    sync.Once
}

func New(b Binding) Hotkey {
	return &evdevHotkey{
		binding: b,
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}
}

func (h *evdevHotkey) Register() error {
	paths, err := findKeyboards()
	if err != nil {
		return fmt.Errorf("finding keyboards: %w", err)
	}
	if len(paths) == 0 {
		return errNoKeyboards
	}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		h.files = append(h.files, f)
		go h.watch(f)
	}
	if len(h.files) == 0 {
		return fmt.Errorf("could not open any of %d keyboard devices (run: sudo usermod -aG input $USER, then log in again)", len(paths))
	}
	return nil
}

// watch runs until the device is closed by Unregister.
func (h *evdevHotkey) watch(f *os.File) {
	c := newChord(h.binding)
	buf := make([]byte, inputEventSize*16)
	for {
		n, err := f.Read(buf)
		if err != nil {
			return
		}
		for off := 0; off+inputEventSize <= n; off += inputEventSize {
			ev := buf[off : off+inputEventSize]
			if binary.LittleEndian.Uint16(ev[16:]) != evKey {
				continue
			}
			code := binary.LittleEndian.Uint16(ev[18:])
			value := int32(binary.LittleEndian.Uint32(ev[20:]))
			switch c.feed(code, value) {
			case 1:
				notify(h.keydown)
			case -1:
				notify(h.keyup)
			}
		}
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (h *evdevHotkey) Unregister() {
	h.once.Do(func() {
		for _, f := range h.files {
			f.Close()
		}
	})
}

func (h *evdevHotkey) Keydown() <-chan struct{} { return h.keydown }
func (h *evdevHotkey) Keyup() <-chan struct{}   { return h.keyup }

// findKeyboards returns the event devices whose key capability bitmap is
// wide enough to be a keyboard rather than a power button or lid switch.
func findKeyboards() ([]string, error) {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "event") {
			continue
		}
		caps, err := os.ReadFile(filepath.Join("/sys/class/input", name, "device", "capabilities", "key"))
		if err != nil || len(strings.TrimSpace(string(caps))) <= 10 {
			continue
		}
		paths = append(paths, filepath.Join("/dev/input", name))
	}
	return paths, nil
}

func Diagnose() (string, error) {
	paths, err := findKeyboards()
	if err != nil {
		return "", fmt.Errorf("cannot scan input devices: %w", err)
	}
	if len(paths) == 0 {
		return "", errNoKeyboards
	}
	for _, p := range paths {
		if f, err := os.Open(p); err == nil {
			f.Close()
			return fmt.Sprintf("%d keyboard(s) found, opened %s", len(paths), p), nil
		}
	}
	return "", fmt.Errorf("found %d keyboard(s) but cannot open any (run: sudo usermod -aG input $USER)", len(paths))
}
