// Package models manages the local library of whisper model files:
// downloading, installing, deleting and selecting them.
package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"typeless/internal/broadcast"
	"typeless/log"
)

var (
	ErrUnknownModel     = errors.New("unknown model")
	ErrNotDownloaded    = errors.New("model is not downloaded")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrDownloadFailed   = errors.New("download failed")
)

// Selection persists the selected model id.
type Selection interface {
	SelectedModel() string
	SetSelectedModel(id string) error
}

type ManagerConfig struct {
	Dir        string // user-downloaded models, created on first access
	BundledDir string // optional read-only models shipped with the app
	Client     *http.Client
	Selection  Selection
	// BaseURL replaces the public download location, e.g. for a mirror.
	BaseURL string
}

type task struct {
	gen       uint64
	cancel    context.CancelFunc
	cancelled atomic.Bool
	// claimed is set by whichever of Cancel or the completion path gets
	// there first; the other backs off.
	claimed atomic.Bool
	// done is closed once run has returned.
	done chan struct{}
}

func (t *task) claim() bool { return t.claimed.CompareAndSwap(false, true) }

type Manager struct {
	cfg ManagerConfig

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	events *broadcast.Hub[Event]

	mu     sync.Mutex
	states map[string]State
	tasks  map[string]*task
	gen    uint64

	// beforeInstall, when set, runs after a download claims its install
	// and before the file is moved into place.
	beforeInstall func(id string)
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		cfg:    cfg,
		ctx:    ctx,
		stop:   stop,
		events: broadcast.New[Event](),
		states: map[string]State{},
		tasks:  map[string]*task{},
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		log.Warnf("create model dir %s: %v", cfg.Dir, err)
	}
	for _, d := range catalog {
		if m.installed(d) {
			m.states[d.ID] = State{Status: Downloaded}
		} else {
			m.states[d.ID] = State{Status: NotDownloaded}
		}
	}
	return m
}

func (m *Manager) Dir() string { return m.cfg.Dir }

// Subscribe returns a channel of state and selection events.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.Subscribe(buffer)
}

func (m *Manager) State(id string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[id]
}

// States returns a copy of every model's state.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}

// Path is where the model file for id is used from. A bundled copy wins
// over a downloaded one.
func (m *Manager) Path(id string) string {
	d, ok := Lookup(id)
	if !ok {
		return ""
	}
	if p := m.bundledPath(d); p != "" && nonEmpty(p) {
		return p
	}
	return m.downloadPath(d)
}

func (m *Manager) downloadPath(d Descriptor) string {
	return filepath.Join(m.cfg.Dir, d.FileName)
}

func (m *Manager) bundledPath(d Descriptor) string {
	if m.cfg.BundledDir == "" {
		return ""
	}
	return filepath.Join(m.cfg.BundledDir, d.FileName)
}

func (m *Manager) installed(d Descriptor) bool {
	return nonEmpty(m.Path(d.ID))
}

func (m *Manager) url(d Descriptor) string {
	if m.cfg.BaseURL != "" {
		return m.cfg.BaseURL + d.FileName
	}
	return d.URL
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// EnsureDownloaded starts a download unless the model is already present.
func (m *Manager) EnsureDownloaded(id string) error {
	if _, ok := Lookup(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	if m.State(id).Status == Downloaded {
		return nil
	}
	return m.Download(id)
}

// Download starts fetching id in the background. Calling it while the same
// model is already downloading does nothing.
func (m *Manager) Download(id string) error {
	d, ok := Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}

	m.mu.Lock()
	if m.states[id].Status == Downloading {
		m.mu.Unlock()
		return nil
	}
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: manager closed", ErrDownloadFailed)
	}
	m.gen++
	ctx, cancel := context.WithCancel(m.ctx)
	t := &task{gen: m.gen, cancel: cancel, done: make(chan struct{})}
	m.tasks[id] = t
	m.setLocked(id, State{Status: Downloading})
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, t, d)
	return nil
}

func (m *Manager) run(ctx context.Context, t *task, d Descriptor) {
	defer m.wg.Done()
	defer close(t.done)
	defer t.cancel()

	log.Info("model_download_start: " + d.ID + " " + m.url(d))
	res := transfer(ctx, m.cfg.Client, m.url(d), m.cfg.Dir, t.cancelled.Load, func(p float64) {
		m.progress(d.ID, t, p)
	})

	switch res.outcome {
	case outcomeCancelled:
		// Cancel already reset the state and owns the task entry.
		if res.tmpPath != "" {
			os.Remove(res.tmpPath)
		}
		log.ModelDownload(d.ID, "cancelled", 0, "")
		return

	case outcomeFailed:
		m.complete(d.ID, t, State{Status: Failed, Reason: res.err.Error()})
		return
	}

	if !t.claim() {
		os.Remove(res.tmpPath)
		return
	}
	if m.beforeInstall != nil {
		m.beforeInstall(d.ID)
	}
	// Install before the temp file can be reclaimed; publish afterwards.
	if err := install(res.tmpPath, m.downloadPath(d), res.expected); err != nil {
		os.Remove(res.tmpPath)
		m.finish(d.ID, t, State{Status: Failed, Reason: err.Error()})
		return
	}
	m.finish(d.ID, t, State{Status: Downloaded})
}

// progress publishes only while t is still the live task for id, so no
// update can follow a cancel.
func (m *Manager) progress(id string, t *task, p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasks[id] != t || t.claimed.Load() {
		return
	}
	if cur := m.states[id]; cur.Status == Downloading && p <= cur.Progress {
		return
	}
	m.setLocked(id, State{Status: Downloading, Progress: p})
}

// complete records a failure unless Cancel got there first.
func (m *Manager) complete(id string, t *task, s State) {
	if !t.claim() {
		return
	}
	m.finish(id, t, s)
}

func (m *Manager) finish(id string, t *task, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.tasks[id]; !ok || cur.gen != t.gen {
		return
	}
	delete(m.tasks, id)
	m.setLocked(id, s)
	log.ModelDownload(id, s.Status.String(), 0, s.Reason)
}

// Cancel stops an in-flight download and returns the model to
// NotDownloaded. It does nothing once the download has started installing.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	t := m.tasks[id]
	if t == nil || !t.claim() {
		m.mu.Unlock()
		return
	}
	t.cancelled.Store(true)
	delete(m.tasks, id)
	m.setLocked(id, State{Status: NotDownloaded})
	m.mu.Unlock()

	t.cancel()
}

// Delete cancels any download and removes the downloaded file. The model
// always ends up NotDownloaded; a file that is already gone is fine. A
// download that is already installing is allowed to finish first, so its
// file is removed too.
func (m *Manager) Delete(id string) error {
	d, ok := Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	m.mu.Lock()
	t := m.tasks[id]
	m.mu.Unlock()
	m.Cancel(id)
	if t != nil {
		<-t.done
	}

	if err := os.Remove(m.downloadPath(d)); err != nil && !os.IsNotExist(err) {
		log.Warnf("delete model %s: %v", id, err)
	}

	m.mu.Lock()
	m.setLocked(id, State{Status: NotDownloaded})
	m.mu.Unlock()
	return nil
}

// Select makes id the active model. Only downloaded models can be selected.
func (m *Manager) Select(id string) error {
	if _, ok := Lookup(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}

	// The selection is persisted outside mu so a slow settings write does
	// not hold up other models' progress.
	s := m.State(id)
	if s.Status != Downloaded {
		return fmt.Errorf("%w: %s is %s", ErrNotDownloaded, id, s.Status)
	}
	if m.cfg.Selection != nil {
		if err := m.cfg.Selection.SetSelectedModel(id); err != nil {
			return fmt.Errorf("save selection: %w", err)
		}
	}
	m.events.Publish(Event{Kind: SelectionChanged, Model: id, State: s})
	log.Info("model_selected: " + id)
	return nil
}

func (m *Manager) Selected() string {
	if m.cfg.Selection == nil {
		return ""
	}
	return m.cfg.Selection.SelectedModel()
}

// ResolveSelected returns the file for the selected model, checking that
// it is actually present.
func (m *Manager) ResolveSelected() (string, error) {
	id := m.Selected()
	if _, ok := Lookup(id); !ok {
		return "", fmt.Errorf("%w: %w: %q", ErrModelUnavailable, ErrUnknownModel, id)
	}
	path := m.Path(id)
	if !nonEmpty(path) {
		return "", fmt.Errorf("%w: %s not found at %s", ErrModelUnavailable, id, path)
	}
	return path, nil
}

// Close cancels all downloads and waits for them to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	for id, t := range m.tasks {
		if t.claim() {
			t.cancelled.Store(true)
			delete(m.tasks, id)
			m.setLocked(id, State{Status: NotDownloaded})
		}
	}
	m.mu.Unlock()

	m.stop()
	m.wg.Wait()
	m.events.Close()
}

func (m *Manager) setLocked(id string, s State) {
	m.states[id] = s
	m.events.Publish(Event{Kind: StateChanged, Model: id, State: s})
}
