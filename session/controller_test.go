package session

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typeless/audio"
	"typeless/models"
	"typeless/mute"
	"typeless/transcriber"
)

const waitFor = 5 * time.Second

type stubModels struct {
	mu   sync.Mutex
	path string
	err  error
}

func (m *stubModels) Selected() string { return "tiny.en" }

func (m *stubModels) ResolveSelected() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path, m.err
}

type stubPermission struct {
	granted bool
	err     error
	gate    chan struct{} // when set, Request waits for it
}

func (p *stubPermission) Request(ctx context.Context) (bool, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return p.granted, p.err
}

// eventLog is an Observer that keeps every event in order.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnEvent(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) states() []State {
	var out []State
	for _, ev := range l.all() {
		if ev.Kind == StateChanged {
			out = append(out, ev.State)
		}
	}
	return out
}

func (l *eventLog) kind(k EventKind) []Event {
	var out []Event
	for _, ev := range l.all() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	ctrl       *Controller
	audio      *audio.FakeContext
	recorder   *audio.Recorder
	engine     *transcriber.Fake
	models     *stubModels
	permission *stubPermission
	muter      *mute.Fake
	log        *eventLog
	dir        string
	device     string
}

type harnessOption func(*harness)

func withEngine(e *transcriber.Fake) harnessOption { return func(h *harness) { h.engine = e } }
func withPCM(pcm []byte) harnessOption {
	return func(h *harness) { h.audio = audio.NewFakeContextPCM(pcm, false) }
}

// silence is two seconds of 16 kHz mono zeros.
func silence() []byte { return make([]byte, 2*audio.SampleRate*2) }

func tone(n int, amplitude int16) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func newHarness(t *testing.T, hopts []harnessOption, opts ...Option) *harness {
	t.Helper()
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "ggml-tiny.en.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("model"), 0644))

	h := &harness{
		audio:      audio.NewFakeContextPCM(silence(), false),
		engine:     transcriber.NewFake("test", nil),
		models:     &stubModels{path: modelPath},
		permission: &stubPermission{granted: true},
		muter:      &mute.Fake{},
		log:        &eventLog{},
		dir:        filepath.Join(dir, "recordings"),
	}
	for _, o := range hopts {
		o(h)
	}
	h.recorder = audio.NewRecorder(h.audio)
	h.ctrl = New(Deps{
		Capture:       h.recorder,
		Models:        h.models,
		Engine:        h.engine,
		Permission:    h.permission,
		Muter:         h.muter,
		RecordingsDir: h.dir,
		Device:        func() string { return h.device },
	}, opts...)
	h.ctrl.Subscribe(h.log)
	h.ctrl.Start(context.Background())
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ctrl.State() == want }, waitFor, time.Millisecond,
		"state never became %s (states %v)", want, h.log.states())
}

// waitSettled waits until the controller is back in Idle after at least n
// state changes.
func (h *harness) waitSettled(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := h.log.states()
		return len(s) >= n && s[len(s)-1] == Idle
	}, waitFor, time.Millisecond, "controller did not settle (states %v)", h.log.states())
}

func (h *harness) recordings(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRecordAndTranscribe(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, Idle, h.ctrl.State())

	h.ctrl.ToggleRecording()
	h.waitState(t, Recording)

	snap := h.ctrl.Snapshot()
	assert.NotEmpty(t, snap.SessionID)
	assert.Equal(t, filepath.Join(h.dir, "recording-"+snap.SessionID+".wav"), snap.CapturedFile)
	assert.False(t, snap.StartedAt.IsZero())

	h.ctrl.ToggleRecording()
	h.waitSettled(t, 4)

	assert.Equal(t, []State{RequestingPermission, Recording, Transcribing, Idle}, h.log.states())

	done := h.log.kind(TranscriptionDone)
	require.Len(t, done, 1)
	assert.Equal(t, Result{Text: "test", SessionID: snap.SessionID}, done[0].Result)
	assert.Equal(t, done[0].Result, h.ctrl.Snapshot().LastResult)
	assert.Empty(t, h.log.kind(ConditionRaised))

	assert.Equal(t, 2*audio.SampleRate, h.engine.LastSampleCount())
	assert.Equal(t, h.models.path, h.engine.Loaded())
	assert.Empty(t, h.recordings(t), "recording kept after a successful transcription")

	require.Eventually(t, func() bool {
		m, u := h.muter.Counts()
		return m == 1 && u == 1
	}, waitFor, time.Millisecond)
	assert.False(t, h.muter.Muted())
	assert.False(t, h.recorder.Capturing())
}

func TestModelLoadedOnceAcrossSessions(t *testing.T) {
	h := newHarness(t, nil)
	for i := 1; i <= 3; i++ {
		h.ctrl.ToggleRecording()
		h.waitState(t, Recording)
		h.ctrl.ToggleRecording()
		h.waitSettled(t, 4*i)
	}
	assert.Len(t, h.log.kind(TranscriptionDone), 3)
	assert.Equal(t, 1, h.engine.Loads())
	assert.Equal(t, 3, h.engine.Calls())
}

func TestKeepRecordings(t *testing.T) {
	h := newHarness(t, nil, WithKeepRecordings(true))
	h.ctrl.ToggleRecording()
	h.waitState(t, Recording)
	h.ctrl.ToggleRecording()
	h.waitSettled(t, 4)
	assert.Len(t, h.recordings(t), 1)
}

func TestToggleIgnoredWhileRequestingPermission(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, []harnessOption{func(h *harness) { h.permission.gate = gate }})

	h.ctrl.ToggleRecording()
	h.waitState(t, RequestingPermission)

	// A second toggle must neither start a second capture nor stop one that
	// never started.
	h.ctrl.ToggleRecording()
	require.Eventually(t, func() bool { return len(h.ctrl.toggles) == 0 }, waitFor, time.Millisecond)
	assert.Equal(t, RequestingPermission, h.ctrl.State())

	close(gate)
	h.waitState(t, Recording)
	assert.True(t, h.recorder.Capturing())
	assert.Equal(t, []State{RequestingPermission, Recording}, h.log.states())

	h.ctrl.ToggleRecording()
	h.waitSettled(t, 4)
	assert.Len(t, h.log.kind(TranscriptionDone), 1)
}

func TestToggleIgnoredWhileTranscribing(t *testing.T) {
	h := newHarness(t, []harnessOption{withEngine(transcriber.NewFake("slow", nil).WithDelay(200 * time.Millisecond))})

	h.ctrl.ToggleRecording()
	h.waitState(t, Recording)
	h.ctrl.ToggleRecording()
	h.waitState(t, Transcribing)

	h.ctrl.ToggleRecording()
	h.waitSettled(t, 4)

	// Give a wrongly accepted toggle time to show up.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []State{RequestingPermission, Recording, Transcribing, Idle}, h.log.states())
	assert.Equal(t, Idle, h.ctrl.State())
	assert.False(t, h.recorder.Capturing())
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t, []harnessOption{func(h *harness) { h.permission.granted = false }})

	h.ctrl.ToggleRecording()
	h.waitSettled(t, 3)

	assert.Equal(t, []State{RequestingPermission, Error, Idle}, h.log.states())
	conds := h.log.kind(ConditionRaised)
	require.Len(t, conds, 1)
	assert.Equal(t, PermissionDenied, conds[0].Condition)
	assert.Equal(t, PermissionDenied, h.ctrl.Snapshot().LastCondition)

	assert.Empty(t, h.recordings(t))
	m, _ := h.muter.Counts()
	assert.Zero(t, m)
	assert.Zero(t, h.engine.Calls())
}

func TestPermissionError(t *testing.T) {
	h := newHarness(t, []harnessOption{func(h *harness) { h.permission.err = audio.ErrNoInputDevice }})

	h.ctrl.ToggleRecording()
	h.waitSettled(t, 3)

	conds := h.log.kind(ConditionRaised)
	require.Len(t, conds, 1)
	assert.Equal(t, PermissionDenied, conds[0].Condition)
	assert.ErrorIs(t, conds[0].Err, audio.ErrNoInputDevice)
}

func TestCaptureStartFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.audio.FailStart(errors.New("device busy"))

	h.ctrl.ToggleRecording()
	h.waitSettled(t, 3)

	assert.Equal(t, []State{RequestingPermission, Error, Idle}, h.log.states())
	conds := h.log.kind(ConditionRaised)
	require.Len(t, conds, 1)
	assert.Equal(t, CaptureStartFailed, conds[0].Condition)
	assert.ErrorIs(t, conds[0].Err, audio.ErrCaptureStartFailed)

	assert.False(t, h.recorder.Capturing())
	m, u := h.muter.Counts()
	assert.Zero(t, m)
	assert.Zero(t, u)

	// The controller is usable again once the device recovers.
	h.audio.FailStart(nil)
	h.ctrl.ToggleRecording()
	h.waitState(t, Recording)
}

func TestModelUnavailableKeepsRecording(t *testing.T) {
	h := newHarness(t, nil)
	h.models.err = models.ErrModelUnavailable

	h.ctrl.ToggleRecording()
	h.waitState(t, Recording)
	h.ctrl.ToggleRecording()
	h.waitSettled(t, 5)

	assert.Equal(t, []State{RequestingPermission, Recording, Transcribing, Error, Idle}, h.log.states())

	done := h.log.kind(TranscriptionDone)
	require.Len(t, done, 1)
	assert.Empty(t, done[0].Result.Text)

	conds := h.log.kind(ConditionRaised)
	require.Len(t, conds, 1)
	assert.Equal(t, ModelUnavailable, conds[0].Condition)
	assert.ErrorIs(t, conds[0].Err, models.ErrModelUnavailable)

	assert.Zero(t, h.engine.Calls())
	assert.Len(t, h.recordings(t), 1)
}

func TestModelLoadFailed(t *testing.T) {
	h := newHarness(t, []harnessOption{withEngine(transcriber.NewFake("x", nil).FailLoad(errors.New("bad magic")))})

	h.ctrl.ToggleRecording()
	h.waitState(t, Recording)
	h.ctrl.ToggleRecording()
	h.waitSettled(t, 5)

	conds := h.log.kind(ConditionRaised)
	require.Len(t, conds, 1)
	assert.Equal(t, ModelUnavailable, conds[0].Condition)
	assert.ErrorIs(t, conds[0].Err, transcriber.ErrModelLoadFailed)
}

func TestTranscriptionFailedKeepsRecording(t *testing.T) {
	h := newHarness(t, []harnessOption{withEngine(transcriber.NewFake("", errors.New("engine crashed")))})

	h.ctrl.ToggleRecording()
	h.waitState(t, Recording)
	h.ctrl.ToggleRecording()
	h.waitSettled(t, 5)

	assert.Equal(t, []State{RequestingPermission, Recording, Transcribing, Error, Idle}, h.log.states())
	conds := h.log.kind(ConditionRaised)
	require.Len(t, conds, 1)
	assert.Equal(t, TranscriptionFailed, conds[0].Condition)
	assert.Empty(t, h.log.kind(TranscriptionDone))
	assert.Len(t, h.recordings(t), 1)
}

func TestMissingRecordingSkipsTranscription(t *testing.T) {
	h := newHarness(t, nil)

	h.ctrl.ToggleRecording()
	h.waitState(t, Recording)
	require.NoError(t, os.Remove(h.ctrl.Snapshot().CapturedFile))
	h.ctrl.ToggleRecording()
	h.waitSettled(t, 4)

	assert.Equal(t, []State{RequestingPermission, Recording, Transcribing, Idle}, h.log.states())
	assert.Empty(t, h.log.kind(TranscriptionDone))
	assert.Empty(t, h.log.kind(ConditionRaised))
	assert.Zero(t, h.engine.Calls())
}

func TestLevelOnlyWhileRecording(t *testing.T) {
	h := newHarness(t, []harnessOption{withPCM(tone(audio.SampleRate, 8000))}, WithLevelInterval(5*time.Millisecond))

	h.ctrl.ToggleRecording()
	h.waitState(t, Recording)
	require.Eventually(t, func() bool { return len(h.log.kind(LevelSample)) >= 3 }, waitFor, time.Millisecond)
	assert.Greater(t, h.ctrl.Snapshot().LevelDB, audio.SilenceFloorDB)

	h.ctrl.ToggleRecording()
	h.waitSettled(t, 4)
	time.Sleep(30 * time.Millisecond)

	recording := false
	for _, ev := range h.log.all() {
		switch ev.Kind {
		case StateChanged:
			recording = ev.State == Recording
		case LevelSample:
			assert.True(t, recording, "level sample published outside Recording")
			assert.Greater(t, ev.Level, -20.0)
		}
	}
	assert.Equal(t, audio.SilenceFloorDB, h.ctrl.Snapshot().LevelDB)
}

func TestDeviceOverride(t *testing.T) {
	h := newHarness(t, []harnessOption{func(h *harness) { h.device = "Fake Microphone" }})

	h.ctrl.ToggleRecording()
	h.waitState(t, Recording)
	assert.Equal(t, "Fake Microphone", h.audio.DefaultInput())
}

func TestCloseWhileRecording(t *testing.T) {
	h := newHarness(t, nil)

	h.ctrl.ToggleRecording()
	h.waitState(t, Recording)
	path := h.ctrl.Snapshot().CapturedFile

	h.ctrl.Close()

	assert.False(t, h.recorder.Capturing())
	assert.FileExists(t, path)
	assert.Zero(t, h.engine.Calls())
	m, u := h.muter.Counts()
	assert.Equal(t, 1, m)
	assert.GreaterOrEqual(t, u, 1)

	for range h.ctrl.Events() {
	}
}

func TestEventsChannel(t *testing.T) {
	h := newHarness(t, nil, WithEventBuffer(32))
	events := h.ctrl.Events()

	h.ctrl.ToggleRecording()
	h.waitState(t, Recording)
	h.ctrl.ToggleRecording()
	h.waitSettled(t, 4)

	var got []State
	timeout := time.After(waitFor)
	for len(got) < 4 {
		select {
		case ev := <-events:
			if ev.Kind == StateChanged {
				got = append(got, ev.State)
			}
		case <-timeout:
			t.Fatalf("got states %v", got)
		}
	}
	assert.Equal(t, []State{RequestingPermission, Recording, Transcribing, Idle}, got)
}

func TestCloseWithoutStart(t *testing.T) {
	c := New(Deps{})
	c.ToggleRecording()
	c.Close()
	c.Close()
	_, ok := <-c.Events()
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "requesting_permission", RequestingPermission.String())
	assert.Equal(t, "transcribing", Transcribing.String())
	assert.Equal(t, "state(42)", State(42).String())
}
