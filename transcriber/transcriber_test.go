package transcriber

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJoinSegments(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		want     string
	}{
		{"empty", nil, ""},
		{"single", []string{" hello "}, "hello"},
		{"multiple", []string{" Hello", " world."}, "Hello world."},
		{"blank segments", []string{"", "  ", "ok"}, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JoinSegments(tt.segments); got != tt.want {
				t.Errorf("JoinSegments(%q) = %q, want %q", tt.segments, got, tt.want)
			}
		})
	}
}

func TestFakeLoad(t *testing.T) {
	f := NewFake("hi", nil)
	if err := f.Load("/m/a.bin"); err != nil {
		t.Fatal(err)
	}
	if err := f.Load("/m/a.bin"); err != nil {
		t.Fatal(err)
	}
	if got := f.Loads(); got != 1 {
		t.Errorf("Loads() = %d, want 1 for repeated path", got)
	}

	bad := NewFake("", nil).FailLoad(errors.New("missing"))
	if err := bad.Load("/m/b.bin"); !errors.Is(err, ErrModelLoadFailed) {
		t.Errorf("Load error = %v, want ErrModelLoadFailed", err)
	}
}

func TestFakeTranscribe(t *testing.T) {
	f := NewFake("test", nil)
	got, err := f.Transcribe(context.Background(), make([]float32, 32000), SampleRate)
	if err != nil {
		t.Fatal(err)
	}
	if got != "test" {
		t.Errorf("Transcribe() = %q, want %q", got, "test")
	}
	if f.Calls() != 1 || f.LastSampleCount() != 32000 {
		t.Errorf("calls=%d samples=%d, want 1 and 32000", f.Calls(), f.LastSampleCount())
	}

	if _, err := f.Transcribe(context.Background(), nil, 44100); err == nil {
		t.Error("expected error for wrong sample rate")
	}
}

func TestFakeTranscribeCancelled(t *testing.T) {
	f := NewFake("slow", nil).WithDelay(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Transcribe(ctx, nil, SampleRate); !errors.Is(err, context.Canceled) {
		t.Errorf("Transcribe error = %v, want context.Canceled", err)
	}
}
