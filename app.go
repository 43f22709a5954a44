package main

import (
	"fmt"
	"net/http"

	"typeless/audio"
	"typeless/beep"
	"typeless/clipboard"
	"typeless/config"
	"typeless/log"
	"typeless/models"
	"typeless/mute"
	"typeless/session"
	"typeless/settings"
	"typeless/transcriber"
	"typeless/transcriber/whisper"
)

// app holds the long-lived pieces every command shares.
type app struct {
	cfg      *config.Config
	settings *settings.Store
	models   *models.Manager
	engine   transcriber.Engine
}

func newApp(cfg *config.Config, engine transcriber.Engine) (*app, error) {
	store, err := settings.Open(cfg.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	mgr := models.NewManager(models.ManagerConfig{
		Dir:        cfg.ModelsDir,
		BundledDir: cfg.BundledModelsDir,
		Client:     &http.Client{Timeout: cfg.DownloadTimeout},
		Selection:  store,
	})
	return &app{cfg: cfg, settings: store, models: mgr, engine: engine}, nil
}

func newEngine(cfg *config.Config) transcriber.Engine {
	return whisper.New(whisper.Config{Language: cfg.Language, Threads: cfg.Threads})
}

// device is the capture device override: the --device flag or
// TYPELESS_DEVICE, else the microphone picked with `typeless devices --pick`.
func (a *app) device() string {
	if a.cfg.Device != "" {
		return a.cfg.Device
	}
	return a.settings.SelectedMicrophone()
}

func (a *app) newController(actx audio.Context, muter mute.Muter, opts ...session.Option) *session.Controller {
	return a.newControllerWith(actx, a.models, muter, opts...)
}

func (a *app) newControllerWith(actx audio.Context, lib session.Models, muter mute.Muter, opts ...session.Option) *session.Controller {
	return session.New(session.Deps{
		Capture:       audio.NewRecorder(actx),
		Models:        lib,
		Engine:        a.engine,
		Permission:    audio.DeviceAccess{Ctx: actx},
		Muter:         muter,
		RecordingsDir: a.cfg.RecordingsDir,
		Device:        a.device,
	}, opts...)
}

func (a *app) Close() {
	a.models.Close()
	if err := a.engine.Close(); err != nil {
		log.Warnf("close engine: %v", err)
	}
}

// cues plays the start, stop and error sounds for a session.
func cues(ev session.Event) {
	switch ev.Kind {
	case session.StateChanged:
		switch {
		case ev.State == session.Recording:
			beep.Play(beep.CueStart)
		case ev.Prev == session.Recording && ev.State == session.Transcribing:
			beep.Play(beep.CueStop)
		}
	case session.ConditionRaised:
		beep.Play(beep.CueError)
	}
}

// copyResult puts every non-empty transcription on the clipboard.
func copyResult(ev session.Event) {
	if ev.Kind != session.TranscriptionDone || ev.Result.Text == "" {
		return
	}
	if err := clipboard.Copy(ev.Result.Text); err != nil {
		log.Warnf("copy transcription: %v", err)
	}
}
