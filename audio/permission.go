package audio

import (
	"context"
	"errors"
)

var ErrNoInputDevice = errors.New("no capture devices available")

// DeviceAccess checks microphone access by asking the audio system for its
// input devices. Desktop audio servers refuse enumeration to clients that
// are not allowed to record, and an empty list leaves nothing to record from.
type DeviceAccess struct {
	Ctx Context
}

func (d DeviceAccess) Request(ctx context.Context) (bool, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		devices, err := d.Ctx.Devices()
		ch <- result{len(devices), err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return false, r.err
		}
		if r.n == 0 {
			return false, ErrNoInputDevice
		}
		return true, nil
	}
}
