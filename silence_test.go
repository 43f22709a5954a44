package main

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"typeless/beep"
	"typeless/session"
)

func pttMonitor() *silenceMonitor {
	return newSilenceMonitor(func() bool { return false })
}

func toggleMonitor() *silenceMonitor {
	return newSilenceMonitor(func() bool { return true })
}

const (
	quietDB  = -90.0
	speechDB = -20.0
)

// firstEvent feeds n level samples and returns the first event other than
// SilenceNone along with its tick index, or SilenceNone and -1.
func firstEvent(m *silenceMonitor, n int, level func(i int) float64) (SilenceEvent, int) {
	for i := range n {
		if ev := m.TickLevel(level(i)); ev != SilenceNone {
			return ev, i
		}
	}
	return SilenceNone, -1
}

func silent(int) float64 { return quietDB }

// talking has a short pause every fourth sample, as speech does.
func talking(i int) float64 {
	if i%4 == 0 {
		return quietDB
	}
	return speechDB
}

// every returns speech on one sample in n.
func every(n int) func(int) float64 {
	return func(i int) float64 {
		if i%n == 0 {
			return speechDB
		}
		return quietDB
	}
}

func TestSilenceWarnAfter8s(t *testing.T) {
	ev, at := firstEvent(pttMonitor(), 200, silent)
	if ev != SilenceWarn || at != 79 {
		t.Fatalf("got event %d at tick %d, want SilenceWarn at tick 79", ev, at)
	}
}

func TestSilenceWarnClearsOnSpeech(t *testing.T) {
	m := pttMonitor()
	firstEvent(m, 80, silent)
	ev, _ := firstEvent(m, 80, talking)
	if ev != SilenceWarnClear {
		t.Fatalf("got event %d, want SilenceWarnClear", ev)
	}
}

func TestWarnStaysDuringNoise(t *testing.T) {
	m := pttMonitor()
	firstEvent(m, 80, silent)
	// 10% speech stays below the clear threshold.
	if ev, at := firstEvent(m, 80, every(10)); ev == SilenceWarnClear {
		t.Fatalf("warning cleared at tick %d", at)
	}
}

func TestSilenceEventsByMode(t *testing.T) {
	tests := []struct {
		name    string
		toggle  bool
		level   func(int) float64
		ticks   int
		want    map[SilenceEvent]int
		notWant []SilenceEvent
	}{
		{
			name:    "speech never warns",
			level:   talking,
			ticks:   400,
			notWant: []SilenceEvent{SilenceWarn, SilenceAutoClose},
		},
		{
			name:    "push-to-talk warns once",
			level:   silent,
			ticks:   400,
			want:    map[SilenceEvent]int{SilenceWarn: 1},
			notWant: []SilenceEvent{SilenceRepeat, SilenceAutoClose},
		},
		{
			name:   "toggle repeats then closes",
			toggle: true,
			level:  silent,
			ticks:  300,
			want:   map[SilenceEvent]int{SilenceWarn: 1, SilenceRepeat: 2, SilenceAutoClose: 1},
		},
		{
			name:   "toggle with regular speech stays open",
			toggle: true,
			level: func(i int) float64 {
				if i%10 < 7 {
					return speechDB
				}
				return quietDB
			},
			ticks:   500,
			notWant: []SilenceEvent{SilenceAutoClose},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := pttMonitor()
			if tt.toggle {
				m = toggleMonitor()
			}
			got := map[SilenceEvent]int{}
			for i := range tt.ticks {
				ev := m.TickLevel(tt.level(i))
				got[ev]++
				if ev == SilenceAutoClose {
					break
				}
			}
			for ev, n := range tt.want {
				if got[ev] != n {
					t.Errorf("event %d fired %d times, want %d", ev, got[ev], n)
				}
			}
			for _, ev := range tt.notWant {
				if got[ev] != 0 {
					t.Errorf("event %d fired %d times", ev, got[ev])
				}
			}
		})
	}
}

func TestVoiceThreshold(t *testing.T) {
	m := pttMonitor()
	m.TickLevel(quietDB)
	m.TickLevel(speechLevelDB + 10)
	m.TickLevel(speechLevelDB)
	if m.window.voiced != 1 {
		t.Errorf("voiced = %d, want 1", m.window.voiced)
	}
}

func TestSteadyHumIsNotVoice(t *testing.T) {
	// A fan at -35 dBFS is above the absolute threshold but never rises
	// above its own floor.
	ev, at := firstEvent(pttMonitor(), 200, func(int) float64 { return -35 })
	if ev != SilenceWarn || at != 79 {
		t.Fatalf("got event %d at tick %d, want SilenceWarn at tick 79", ev, at)
	}
}

func TestNoiseFloorRisesSlowly(t *testing.T) {
	m := pttMonitor()
	m.TickLevel(quietDB)
	for range 10 {
		m.TickLevel(speechDB)
	}
	// Ten speech samples lift the floor by at most 2 dB.
	if want := quietDB + 10*floorRiseDB; m.floorDB > want+1e-9 {
		t.Errorf("floor = %.2f, want at most %.2f", m.floorDB, want)
	}
	m.TickLevel(quietDB - 5)
	if m.floorDB != quietDB-5 {
		t.Errorf("floor = %.2f, want it to drop to %.2f", m.floorDB, quietDB-5)
	}
}

func TestVoiceWindow(t *testing.T) {
	w := newVoiceWindow(4)
	if w.recent(4) != 1 {
		t.Errorf("empty window ratio = %v, want 1", w.recent(4))
	}
	for _, v := range []bool{true, false, false, false, true} {
		w.push(v)
	}
	// The first true has rolled out.
	if !w.full() || w.voiced != 1 {
		t.Fatalf("full=%v voiced=%d, want full with 1 voiced", w.full(), w.voiced)
	}
	if got := w.recent(2); got != 0.5 {
		t.Errorf("recent(2) = %v, want 0.5", got)
	}
	if got := w.recent(1); got != 1 {
		t.Errorf("recent(1) = %v, want 1", got)
	}
}

func TestWatcherAutoClosesSilentToggleRecording(t *testing.T) {
	beep.Disable()
	var sent []tea.Msg
	toggles := 0
	w := &watcher{
		send:     func(msg tea.Msg) { sent = append(sent, msg) },
		toggle:   func() { toggles++ },
		isToggle: func() bool { return true },
	}

	w.handle(session.Event{Kind: session.StateChanged, State: session.Recording, Prev: session.RequestingPermission})
	for range int(silenceAutoCloseDur/tickInterval) + 10 {
		w.handle(session.Event{Kind: session.LevelSample, Level: -90})
	}
	if toggles != 1 {
		t.Fatalf("toggles = %d, want 1", toggles)
	}

	warned := false
	for _, msg := range sent {
		if v, ok := msg.(noVoiceMsg); ok && bool(v) {
			warned = true
		}
	}
	if !warned {
		t.Error("expected a no-voice warning before auto-close")
	}

	w.handle(session.Event{Kind: session.StateChanged, State: session.Transcribing, Prev: session.Recording})
	if last, ok := sent[len(sent)-1].(sessionMsg); !ok || last.State != session.Transcribing {
		t.Errorf("last message = %#v, want the transcribing state change", sent[len(sent)-1])
	}
	if v, ok := sent[len(sent)-2].(noVoiceMsg); !ok || bool(v) {
		t.Errorf("expected warning cleared when recording stops, got %#v", sent[len(sent)-2])
	}
}

func TestWatcherIgnoresLevelsOutsideRecording(t *testing.T) {
	toggles := 0
	w := &watcher{send: func(tea.Msg) {}, toggle: func() { toggles++ }, isToggle: func() bool { return true }}
	for range 400 {
		w.handle(session.Event{Kind: session.LevelSample, Level: -90})
	}
	if toggles != 0 {
		t.Errorf("toggles = %d, want 0", toggles)
	}
}
