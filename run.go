package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"typeless/audio"
	"typeless/beep"
	"typeless/hotkey"
	"typeless/log"
	"typeless/mute"
	"typeless/session"
	"typeless/shutdown"
)

type RunCmd struct {
	Listen    bool          `default:"true" negatable:"" help:"Listen for the global hotkey."`
	LongPress time.Duration `default:"350ms" help:"Long-press threshold between push-to-talk and tap-to-toggle."`
	Copy      bool          `default:"true" negatable:"" help:"Copy each transcription to the clipboard."`
	Mute      bool          `default:"true" negatable:"" help:"Mute system output while recording."`
	Keep      bool          `help:"Keep recordings after they are transcribed."`
}

func (c *RunCmd) Run(g *Globals) error {
	cfg, err := g.setup()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, newEngine(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		return fmt.Errorf("initializing audio: %w", err)
	}
	defer actx.Close()

	go beep.Init()

	var muter mute.Muter = mute.Noop{}
	if c.Mute {
		muter = mute.New()
	}
	ctrl := a.newController(actx, muter,
		session.WithLevelInterval(tickInterval),
		session.WithKeepRecordings(c.Keep),
	)
	ctrl.Subscribe(session.ObserverFunc(cues))
	if c.Copy {
		ctrl.Subscribe(session.ObserverFunc(copyResult))
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()
	ctrl.Start(ctx)
	defer ctrl.Close()

	log.SessionStart(a.models.Selected(), a.device())

	var isToggle func() bool
	hotkeyLabel := ""
	if c.Listen {
		binding, err := hotkey.Parse(cfg.Hotkey)
		if err != nil {
			return err
		}
		hk := hotkey.New(binding)
		if err := hk.Register(); err != nil {
			log.Errorf("hotkey register error: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: global hotkey unavailable: %v\n", err)
		} else {
			defer hk.Unregister()
			hy := hotkey.NewHybrid(ctx, hk, c.LongPress)
			isToggle = hy.IsToggle
			hotkeyLabel = binding.String()
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hy.Toggles():
						log.Info("hotkey_toggle")
						ctrl.ToggleRecording()
					}
				}
			}()
		}
	}

	modelEvents, unsubscribe := a.models.Subscribe(32)
	defer unsubscribe()

	m := newTUIModel(ctrl, a.models, a.device(), hotkeyLabel)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	w := &watcher{send: p.Send, toggle: ctrl.ToggleRecording, isToggle: isToggle}
	go w.run(ctrl.Events())
	go func() {
		for ev := range modelEvents {
			p.Send(modelMsg(ev))
		}
	}()

	final, err := p.Run()
	if fm, ok := final.(tuiModel); ok && fm.count > 0 {
		log.SessionEnd(fm.count)
	}
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// watcher forwards controller events to the TUI and applies the silence
// rules to each recording.
type watcher struct {
	send     func(tea.Msg)
	toggle   func()
	isToggle func() bool

	mon *silenceMonitor
}

func (w *watcher) run(events <-chan session.Event) {
	for ev := range events {
		w.handle(ev)
	}
}

func (w *watcher) handle(ev session.Event) {
	switch ev.Kind {
	case session.StateChanged:
		if ev.State == session.Recording {
			w.mon = newSilenceMonitor(w.isToggle)
		} else if ev.Prev == session.Recording {
			w.mon = nil
			w.send(noVoiceMsg(false))
		}

	case session.LevelSample:
		if w.mon == nil {
			break
		}
		switch w.mon.TickLevel(ev.Level) {
		case SilenceWarn:
			log.Info("no_voice_warning")
			w.send(noVoiceMsg(true))
			beep.Play(beep.CueError)
		case SilenceWarnClear:
			w.send(noVoiceMsg(false))
		case SilenceRepeat:
			log.Info("silence_during_warning")
			beep.Play(beep.CueError)
		case SilenceAutoClose:
			log.Info("silence_auto_close")
			w.mon = nil
			w.toggle()
		}
	}
	w.send(sessionMsg(ev))
}
