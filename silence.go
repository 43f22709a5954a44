package main

import "time"

const (
	tickInterval        = 100 * time.Millisecond
	silenceWarnEvery    = 8 * time.Second
	silenceAutoCloseDur = 30 * time.Second
	speechMinRatio      = 0.10
	speechClearRatio    = 0.25 // higher threshold to clear warning (hysteresis)

	// A level sample is voice when it clears both speechLevelDB and the
	// room's noise floor by voiceMarginDB.
	speechLevelDB = -45.0
	voiceMarginDB = 10.0
	// floorRiseDB is how far the noise floor may climb per sample. It drops
	// to any quieter sample at once, so pauses between words pull it down
	// while a steady fan or hum lifts it within a few seconds.
	floorRiseDB = 0.2
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice detected
	SilenceWarnClear              // speech resumed after warning
	SilenceRepeat                 // repeat cue (every 8s)
	SilenceAutoClose              // 30s auto-close (toggle mode)
)

// voiceWindow is a ring of the most recent voice/no-voice verdicts.
type voiceWindow struct {
	marks  []bool
	filled int
	next   int
	voiced int
}

func newVoiceWindow(size int) *voiceWindow {
	return &voiceWindow{marks: make([]bool, size)}
}

func (w *voiceWindow) push(voice bool) {
	if w.filled == len(w.marks) && w.marks[w.next] {
		w.voiced--
	}
	w.marks[w.next] = voice
	if voice {
		w.voiced++
	}
	w.next = (w.next + 1) % len(w.marks)
	w.filled = min(w.filled+1, len(w.marks))
}

func (w *voiceWindow) full() bool { return w.filled == len(w.marks) }

// recent is the voiced share of the last n verdicts, 1 when there are none.
func (w *voiceWindow) recent(n int) float64 {
	n = min(n, w.filled)
	if n == 0 {
		return 1
	}
	count := 0
	for i := 1; i <= n; i++ {
		if w.marks[(w.next-i+len(w.marks))%len(w.marks)] {
			count++
		}
	}
	return float64(count) / float64(n)
}

// silenceMonitor watches the level samples of one recording and reports
// when the microphone seems to pick up nothing but the room.
type silenceMonitor struct {
	warnAt   int
	isToggle func() bool

	window  *voiceWindow
	floorDB float64
	ticks   int
	warned  bool
	lastCue int
}

func newSilenceMonitor(isToggle func() bool) *silenceMonitor {
	if isToggle == nil {
		isToggle = func() bool { return false }
	}
	return &silenceMonitor{
		warnAt:   int(silenceWarnEvery / tickInterval),
		isToggle: isToggle,
		window:   newVoiceWindow(int(silenceAutoCloseDur / tickInterval)),
	}
}

// isVoice classifies one sample and then moves the noise floor.
func (m *silenceMonitor) isVoice(levelDB float64) bool {
	if m.ticks == 0 {
		m.floorDB = levelDB
	}
	voice := levelDB > speechLevelDB && levelDB > m.floorDB+voiceMarginDB
	if levelDB < m.floorDB {
		m.floorDB = levelDB
	} else {
		m.floorDB = min(levelDB, m.floorDB+floorRiseDB)
	}
	return voice
}

// TickLevel feeds one level sample in dBFS.
func (m *silenceMonitor) TickLevel(levelDB float64) SilenceEvent {
	m.window.push(m.isVoice(levelDB))
	m.ticks++

	r := m.window.recent(m.warnAt)
	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastCue = m.ticks
		return SilenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}

	// Push-to-talk recordings end when the key is released.
	if !m.isToggle() {
		return SilenceNone
	}
	if m.window.full() && m.window.recent(len(m.window.marks)) < speechMinRatio {
		return SilenceAutoClose
	}
	if m.warned && m.ticks-m.lastCue >= m.warnAt {
		m.lastCue = m.ticks
		return SilenceRepeat
	}
	return SilenceNone
}
