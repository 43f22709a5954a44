// Package session runs one record-then-transcribe attempt at a time: it
// asks for microphone access, captures to a WAV file, and hands the audio to
// the transcription engine.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"typeless/audio"
	"typeless/internal/broadcast"
	"typeless/log"
	"typeless/mute"
	"typeless/transcriber"
)

// Capture is the exclusive owner of the microphone.
type Capture interface {
	StartCapture(outputPath, deviceOverride string) error
	StopCapture()
	CurrentLevel() float64
}

// Models resolves the selected model to a file on disk.
type Models interface {
	Selected() string
	ResolveSelected() (string, error)
}

type Permission interface {
	Request(ctx context.Context) (bool, error)
}

type Deps struct {
	Capture    Capture
	Models     Models
	Engine     transcriber.Engine
	Permission Permission
	Muter      mute.Muter // nil means no muting

	RecordingsDir string
	// Device returns the preferred microphone, read at every capture
	// start. Nil or "" keeps the system default.
	Device func() string
}

type Option func(*Controller)

// WithLevelInterval sets how often the level is sampled while recording.
func WithLevelInterval(d time.Duration) Option {
	return func(c *Controller) { c.levelInterval = d }
}

// WithEventBuffer sets the buffer of the channel returned by Events.
func WithEventBuffer(n int) Option {
	return func(c *Controller) { c.eventBuffer = n }
}

// WithKeepRecordings keeps the captured file after a successful
// transcription.
func WithKeepRecordings(keep bool) Option {
	return func(c *Controller) { c.keepRecordings = keep }
}

const (
	defaultLevelInterval = 100 * time.Millisecond
	defaultEventBuffer   = 64
)

// attempt is the loop-owned record of the session in flight.
type attempt struct {
	id        string
	gen       uint64
	path      string
	startedAt time.Time
	model     chan error    // background model load result, buffered 1
	muted     chan struct{} // closed once Mute has returned
}

type permissionMsg struct {
	gen     uint64
	granted bool
	err     error
}

type transcribedMsg struct {
	gen       uint64
	text      string
	noAudio   bool
	condition Condition
	err       error
}

type Controller struct {
	deps           Deps
	levelInterval  time.Duration
	eventBuffer    int
	keepRecordings bool

	toggles chan struct{}
	posts   chan any
	hub     *broadcast.Hub[Event]
	events  <-chan Event

	startOnce sync.Once
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	bg        sync.WaitGroup

	mu        sync.RWMutex
	snap      Snapshot
	observers []Observer

	// Owned by the run loop.
	state   State
	cur     *attempt
	gen     uint64
	ticker  *time.Ticker
	levelCh <-chan time.Time
}

func New(deps Deps, opts ...Option) *Controller {
	c := &Controller{
		deps:          deps,
		levelInterval: defaultLevelInterval,
		eventBuffer:   defaultEventBuffer,
		toggles:       make(chan struct{}, 1),
		posts:         make(chan any),
		hub:           broadcast.New[Event](),
		loopDone:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.deps.Muter == nil {
		c.deps.Muter = mute.Noop{}
	}
	if c.deps.RecordingsDir == "" {
		c.deps.RecordingsDir = filepath.Join(os.TempDir(), "typeless")
	}
	c.events, _ = c.hub.Subscribe(c.eventBuffer)
	c.snap = Snapshot{State: Idle, LevelDB: audio.SilenceFloorDB}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Start launches the run loop. The loop stops when ctx is done or Close is
// called.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go func() {
			select {
			case <-ctx.Done():
				c.cancel()
			case <-c.ctx.Done():
			}
		}()
		go c.loop()
	})
}

// Close stops the run loop. A recording in progress is stopped without
// being transcribed and its file is kept.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		// Never started: there is no loop to wait for.
		c.startOnce.Do(func() { close(c.loopDone) })
		<-c.loopDone
		c.bg.Wait()
		c.hub.Close()
	})
}

// ToggleRecording asks the run loop to start or stop recording. It never
// blocks; a toggle that arrives while another is still queued is
// coalesced into it.
func (c *Controller) ToggleRecording() {
	select {
	case c.toggles <- struct{}{}:
	default:
		log.Info("toggle_coalesced")
	}
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.State
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Events returns the controller's buffered event channel. Events that do
// not fit in the buffer are dropped. The channel is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Subscribe registers an observer that sees every event, in order.
func (c *Controller) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return
		case <-c.toggles:
			c.toggle()
		case <-c.levelCh:
			c.sampleLevel()
		case m := <-c.posts:
			switch m := m.(type) {
			case permissionMsg:
				c.permissionResult(m)
			case transcribedMsg:
				c.transcribed(m)
			}
		}
	}
}

// post hands a background result to the loop. It gives up once the
// controller is closing.
func (c *Controller) post(m any) {
	select {
	case c.posts <- m:
	case <-c.ctx.Done():
	}
}

func (c *Controller) goBackground(fn func()) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		fn()
	}()
}

func (c *Controller) toggle() {
	switch c.state {
	case Idle:
		c.requestPermission()
	case Recording:
		c.stopRecording()
	default:
		log.Info("toggle_ignored: " + c.state.String())
	}
}

func (c *Controller) requestPermission() {
	c.gen++
	c.cur = &attempt{
		id:    uuid.NewString(),
		gen:   c.gen,
		model: make(chan error, 1),
		muted: make(chan struct{}),
	}
	c.setState(RequestingPermission)

	gen := c.gen
	c.goBackground(func() {
		granted, err := c.deps.Permission.Request(c.ctx)
		c.post(permissionMsg{gen: gen, granted: granted, err: err})
	})
}

func (c *Controller) permissionResult(m permissionMsg) {
	if c.cur == nil || m.gen != c.cur.gen || c.state != RequestingPermission {
		return
	}
	if !m.granted || m.err != nil {
		err := m.err
		if err == nil {
			err = errors.New("microphone access denied")
		}
		c.fail(PermissionDenied, err)
		return
	}

	a := c.cur
	a.path = filepath.Join(c.deps.RecordingsDir, "recording-"+a.id+".wav")
	device := ""
	if c.deps.Device != nil {
		device = c.deps.Device()
	}
	if err := c.deps.Capture.StartCapture(a.path, device); err != nil {
		c.fail(CaptureStartFailed, err)
		return
	}
	a.startedAt = time.Now()

	c.mu.Lock()
	c.snap.StartedAt = a.startedAt
	c.snap.CapturedFile = a.path
	c.mu.Unlock()
	c.setState(Recording)

	c.ticker = time.NewTicker(c.levelInterval)
	c.levelCh = c.ticker.C

	c.goBackground(func() {
		defer close(a.muted)
		if err := c.deps.Muter.Mute(); err != nil {
			log.Warnf("mute output: %v", err)
		}
	})
	c.goBackground(func() { a.model <- c.loadModel() })
}

func (c *Controller) loadModel() error {
	path, err := c.deps.Models.ResolveSelected()
	if err != nil {
		return err
	}
	return c.deps.Engine.Load(path)
}

func (c *Controller) stopLevel() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	c.levelCh = nil
	c.mu.Lock()
	c.snap.LevelDB = audio.SilenceFloorDB
	c.mu.Unlock()
}

func (c *Controller) sampleLevel() {
	if c.state != Recording || c.cur == nil {
		return
	}
	level := c.deps.Capture.CurrentLevel()
	c.mu.Lock()
	c.snap.LevelDB = level
	c.mu.Unlock()
	c.publish(Event{Kind: LevelSample, SessionID: c.cur.id, Level: level})
}

func (c *Controller) stopRecording() {
	c.stopLevel()
	c.deps.Capture.StopCapture()
	c.setState(Transcribing)

	a := c.cur
	c.goBackground(func() {
		c.unmute(a)
		c.post(c.transcribe(a))
	})
}

// unmute runs after the attempt's Mute has returned, so a short recording
// cannot leave the output muted.
func (c *Controller) unmute(a *attempt) {
	<-a.muted
	if err := c.deps.Muter.Unmute(); err != nil {
		log.Warnf("unmute output: %v", err)
	}
}

func (c *Controller) transcribe(a *attempt) transcribedMsg {
	msg := transcribedMsg{gen: a.gen}

	data, err := os.ReadFile(a.path)
	if errors.Is(err, os.ErrNotExist) {
		msg.noAudio = true
		return msg
	}
	if err != nil {
		msg.condition, msg.err = TranscriptionFailed, fmt.Errorf("read recording: %w", err)
		return msg
	}
	samples := audio.DecodeWAV(data)

	var loadErr error
	select {
	case loadErr = <-a.model:
	case <-c.ctx.Done():
		msg.condition, msg.err = TranscriptionFailed, c.ctx.Err()
		return msg
	}
	if loadErr != nil {
		msg.condition, msg.err = ModelUnavailable, loadErr
		return msg
	}

	start := time.Now()
	text, err := c.deps.Engine.Transcribe(c.ctx, samples, audio.SampleRate)
	if err != nil {
		msg.condition, msg.err = TranscriptionFailed, err
		return msg
	}
	log.TranscriptionResult(a.id, c.deps.Models.Selected(), float64(len(samples))/audio.SampleRate, time.Since(start), len(text))

	if !c.keepRecordings {
		if err := os.Remove(a.path); err != nil {
			log.Warnf("remove recording: %v", err)
		}
	}
	msg.text = text
	return msg
}

func (c *Controller) transcribed(m transcribedMsg) {
	if c.cur == nil || m.gen != c.cur.gen || c.state != Transcribing {
		return
	}
	id := c.cur.id

	switch {
	case m.noAudio:
		log.Info("no_recording: " + id)
		c.finish()
	case m.condition == ModelUnavailable:
		// The recording is kept and an empty result still closes the session.
		c.deliver(Result{SessionID: id})
		c.fail(ModelUnavailable, m.err)
	case m.condition != "":
		c.fail(m.condition, m.err)
	default:
		c.deliver(Result{Text: m.text, SessionID: id})
		c.finish()
	}
}

func (c *Controller) deliver(r Result) {
	c.mu.Lock()
	c.snap.LastResult = r
	c.mu.Unlock()
	if r.Text != "" {
		log.TranscriptionText(r.Text)
	}
	c.publish(Event{Kind: TranscriptionDone, SessionID: r.SessionID, Result: r})
}

// fail publishes cond, passes through Error and ends the attempt in Idle.
func (c *Controller) fail(cond Condition, err error) {
	id := ""
	if c.cur != nil {
		id = c.cur.id
	}
	log.Condition(id, string(cond), err)

	c.mu.Lock()
	c.snap.LastCondition = cond
	c.snap.LastErr = err
	c.mu.Unlock()

	c.setState(Error)
	c.publish(Event{Kind: ConditionRaised, SessionID: id, Condition: cond, Err: err})
	c.finish()
}

func (c *Controller) finish() {
	c.stopLevel()
	c.setState(Idle)
	c.cur = nil
	c.mu.Lock()
	c.snap.SessionID = ""
	c.snap.StartedAt = time.Time{}
	c.snap.CapturedFile = ""
	c.mu.Unlock()
}

func (c *Controller) shutdown() {
	if c.state == Recording {
		c.stopLevel()
		c.deps.Capture.StopCapture()
		c.unmute(c.cur)
		log.Info("recording_abandoned: " + c.cur.path)
		c.setState(Idle)
		c.cur = nil
	}
}

func (c *Controller) setState(s State) {
	prev := c.state
	if prev == s {
		return
	}
	c.state = s
	id := ""
	if c.cur != nil {
		id = c.cur.id
	}

	c.mu.Lock()
	c.snap.State = s
	if id != "" {
		c.snap.SessionID = id
	}
	c.mu.Unlock()

	log.StateChange(id, prev.String(), s.String())
	c.publish(Event{Kind: StateChanged, SessionID: id, State: s, Prev: prev})
}

func (c *Controller) publish(ev Event) {
	c.mu.RLock()
	observers := c.observers
	c.mu.RUnlock()
	for _, o := range observers {
		o.OnEvent(ev)
	}
	c.hub.Publish(ev)
}
