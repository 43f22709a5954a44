package transcriber

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake returns a fixed text (or error) and records what it was given.
type Fake struct {
	text    string
	err     error
	loadErr error
	delay   time.Duration

	mu      sync.Mutex
	loaded  string
	loads   int
	calls   int
	samples int
}

func NewFake(text string, err error) *Fake {
	return &Fake{text: text, err: err}
}

// FailLoad makes every Load fail.
func (f *Fake) FailLoad(err error) *Fake {
	f.loadErr = err
	return f
}

// WithDelay makes Transcribe take at least d, honouring cancellation.
func (f *Fake) WithDelay(d time.Duration) *Fake {
	f.delay = d
	return f
}

func (f *Fake) Load(modelPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrModelLoadFailed, modelPath, f.loadErr)
	}
	if f.loaded != modelPath {
		f.loaded = modelPath
		f.loads++
	}
	return nil
}

func (f *Fake) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	f.mu.Lock()
	f.calls++
	f.samples = len(samples)
	f.mu.Unlock()
	if sampleRate != SampleRate {
		return "", fmt.Errorf("fake engine: unsupported sample rate %d", sampleRate)
	}
	if f.err != nil {
		return "", fmt.Errorf("fake engine: %w", f.err)
	}
	return f.text, nil
}

func (f *Fake) Close() error { return nil }

func (f *Fake) Loaded() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *Fake) Loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) LastSampleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.samples
}
