package hotkey

import (
	"context"
	"sync/atomic"
	"time"
)

// Hybrid turns one key combination into recording toggles. Pressing the key
// always toggles. Holding it past longPress makes the release toggle again
// (push-to-talk); a shorter tap leaves recording on until the next press is
// released.
type Hybrid struct {
	toggles chan struct{}
	toggle  atomic.Bool
	done    chan struct{}
}

// DefaultLongPress separates a tap from a hold.
const DefaultLongPress = 350 * time.Millisecond

func NewHybrid(ctx context.Context, hk Hotkey, longPress time.Duration) *Hybrid {
	h := &Hybrid{
		toggles: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go h.run(ctx, hk, longPress)
	return h
}

// Toggles delivers one value per toggle request.
func (h *Hybrid) Toggles() <-chan struct{} { return h.toggles }

// IsToggle reports whether the current press was a tap, i.e. recording
// continues after the key is released.
func (h *Hybrid) IsToggle() bool { return h.toggle.Load() }

// Done is closed when the run loop exits.
func (h *Hybrid) Done() <-chan struct{} { return h.done }

func (h *Hybrid) emit(ctx context.Context) bool {
	select {
	case h.toggles <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func wait(ctx context.Context, ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *Hybrid) run(ctx context.Context, hk Hotkey, longPress time.Duration) {
	defer close(h.done)
	for {
		if !wait(ctx, hk.Keydown()) || !h.emit(ctx) {
			return
		}
		h.toggle.Store(false)

		timer := time.NewTimer(longPress)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			// Hold: release stops.
			if !wait(ctx, hk.Keyup()) || !h.emit(ctx) {
				return
			}
		case <-hk.Keyup():
			timer.Stop()
			h.toggle.Store(true)
			// Tap: the next full press stops, on release.
			if !wait(ctx, hk.Keydown()) || !wait(ctx, hk.Keyup()) || !h.emit(ctx) {
				return
			}
			h.toggle.Store(false)
		}
	}
}
