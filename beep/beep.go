// Package beep plays short audible cues for recording start, stop and
// errors.
package beep

import (
	"math"
	"sync/atomic"
)

type Cue int

const (
	CueStart Cue = iota
	CueStop
	CueError
)

var disabled atomic.Bool

func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

const sampleRate = 44100

type tone struct {
	freq     float64
	volume   float64
	decay    float64
	duration float64 // seconds; darwin shortens ticks
	double   bool    // two short beeps with a gap
}

var tones = map[Cue]tone{
	// Start: high pitch, short
	CueStart: {freq: 1200, volume: 0.5, decay: 60, duration: 0.2},
	// Stop: medium pitch, slightly longer
	CueStop: {freq: 900, volume: 0.5, decay: 40, duration: 0.2},
	// Error: low pitch double-beep
	CueError: {freq: 350, volume: 0.6, decay: 30, duration: 0.08, double: true},
}

const doubleGap = 0.05

// Play emits the cue without blocking.
func Play(c Cue) {
	if disabled.Load() {
		return
	}
	if _, ok := tones[c]; !ok {
		return
	}
	go play(c)
}

// samples renders a cue as mono int16 PCM.
func (t tone) samples(rate int, duration float64) []int16 {
	if !t.double {
		return generateTick(rate, t.freq, duration, t.volume, t.decay)
	}
	beep := generateTick(rate, t.freq, duration, t.volume, t.decay)
	gap := make([]int16, int(float64(rate)*doubleGap))
	out := make([]int16, 0, len(beep)*2+len(gap))
	out = append(out, beep...)
	out = append(out, gap...)
	return append(out, beep...)
}

func generateTick(rate int, freq, duration, volume, decay float64) []int16 {
	n := int(float64(rate) * duration)
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / float64(rate)
		envelope := math.Exp(-t * decay)
		out[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return out
}
