// Package mute silences system output while the microphone is live so the
// capture does not pick up playback.
package mute

import "sync"

type Muter interface {
	Mute() error
	Unmute() error
}

// Noop never touches the system.
type Noop struct{}

func (Noop) Mute() error   { return nil }
func (Noop) Unmute() error { return nil }

// Fake records calls and returns Err from both methods.
type Fake struct {
	mu      sync.Mutex
	Err     error
	muted   bool
	mutes   int
	unmutes int
}

func (f *Fake) Mute() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutes++
	if f.Err != nil {
		return f.Err
	}
	f.muted = true
	return nil
}

func (f *Fake) Unmute() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmutes++
	if f.Err != nil {
		return f.Err
	}
	f.muted = false
	return nil
}

func (f *Fake) Muted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted
}

// Counts returns how many times Mute and Unmute were called.
func (f *Fake) Counts() (mutes, unmutes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutes, f.unmutes
}

// restorer tracks whether we muted the output ourselves, so Unmute never
// undoes a mute the user set.
type restorer struct {
	mu     sync.Mutex
	active bool
	get    func() (bool, error)
	set    func(bool) error
}

func (r *restorer) Mute() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil
	}
	muted, err := r.get()
	if err != nil {
		return err
	}
	if muted {
		return nil
	}
	if err := r.set(true); err != nil {
		return err
	}
	r.active = true
	return nil
}

func (r *restorer) Unmute() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	r.active = false
	return r.set(false)
}
