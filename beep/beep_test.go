package beep

import (
	"math"
	"testing"
)

func TestGenerateTick(t *testing.T) {
	s := generateTick(1000, 100, 0.5, 0.5, 10)
	if len(s) != 500 {
		t.Fatalf("len = %d, want 500", len(s))
	}
	if s[0] != 0 {
		t.Errorf("tick should start at zero crossing, got %d", s[0])
	}
	limit := int16(math.Ceil(32767 * 0.5))
	var early, late int16
	for i, v := range s {
		if v > limit || v < -limit {
			t.Fatalf("sample %d = %d exceeds volume", i, v)
		}
		a := v
		if a < 0 {
			a = -a
		}
		if i < 50 {
			early = max(early, a)
		} else if i >= 450 {
			late = max(late, a)
		}
	}
	if late >= early {
		t.Errorf("envelope does not decay: early peak %d, late peak %d", early, late)
	}
}

func TestToneSamples(t *testing.T) {
	single := tones[CueStart].samples(sampleRate, tones[CueStart].duration)
	if want := int(sampleRate * tones[CueStart].duration); len(single) != want {
		t.Errorf("start cue len = %d, want %d", len(single), want)
	}

	e := tones[CueError]
	double := e.samples(sampleRate, e.duration)
	beep := int(sampleRate * e.duration)
	gap := int(sampleRate * doubleGap)
	if len(double) != 2*beep+gap {
		t.Fatalf("error cue len = %d, want %d", len(double), 2*beep+gap)
	}
	for i := beep; i < beep+gap; i++ {
		if double[i] != 0 {
			t.Fatalf("gap sample %d = %d, want silence", i, double[i])
		}
	}
}

func TestEveryCueHasTone(t *testing.T) {
	for _, c := range []Cue{CueStart, CueStop, CueError} {
		if _, ok := tones[c]; !ok {
			t.Errorf("cue %d has no tone", c)
		}
	}
}

func TestDisable(t *testing.T) {
	if !Enabled() {
		t.Fatal("enabled by default")
	}
	Disable()
	t.Cleanup(func() { disabled.Store(false) })
	if Enabled() {
		t.Fatal("still enabled after Disable")
	}
	// Must return without touching the audio system.
	Play(CueError)
}
