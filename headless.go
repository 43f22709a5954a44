package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"typeless/audio"
	"typeless/beep"
	"typeless/log"
	"typeless/mute"
	"typeless/session"
	"typeless/shutdown"
	"typeless/transcriber"
)

// HeadlessCmd drives one controller from stdin, replaying a WAV file as the
// microphone. Commands, one per line:
//
//	TOGGLE      start or stop recording
//	WAIT        block until the controller is idle again
//	SLEEP <ms>  pause the script
//	QUIT        exit
//
// A toggle is ignored while the microphone is being requested, so scripts
// sleep between the two toggles of a recording.
type HeadlessCmd struct {
	WAV      string `name:"wav" required:"" type:"existingfile" help:"WAV file replayed as microphone input."`
	FakeText string `name:"fake-text" help:"Skip whisper and return this text for every recording."`
	Realtime bool   `default:"true" negatable:"" help:"Replay audio at recording speed."`
}

func (c *HeadlessCmd) Run(g *Globals) error {
	cfg, err := g.setup()
	if err != nil {
		return err
	}
	beep.Disable()

	var engine transcriber.Engine
	if c.FakeText != "" {
		engine = transcriber.NewFake(c.FakeText, nil)
	} else {
		engine = newEngine(cfg)
	}
	a, err := newApp(cfg, engine)
	if err != nil {
		return err
	}
	defer a.Close()

	fake, err := audio.NewFakeContext(c.WAV, c.Realtime)
	if err != nil {
		return fmt.Errorf("loading WAV: %w", err)
	}

	var lib session.Models = a.models
	if c.FakeText != "" {
		lib = fixedModel{}
	}
	ctrl := a.newControllerWith(fake, lib, mute.Noop{})

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	log.SessionStart(lib.Selected(), "headless")
	n, err := runHeadless(ctx, ctrl, os.Stdin, os.Stdout)
	log.SessionEnd(n)
	return err
}

// fixedModel stands in for the model library when the engine is fake.
type fixedModel struct{}

func (fixedModel) Selected() string                 { return "fake" }
func (fixedModel) ResolveSelected() (string, error) { return "fake", nil }

// runHeadless executes the script in in against ctrl and reports state
// changes, results and conditions to out. It returns the number of
// transcriptions delivered.
func runHeadless(ctx context.Context, ctrl *session.Controller, in io.Reader, out io.Writer) (int, error) {
	var mu sync.Mutex
	count := 0
	idle := make(chan struct{}, 1)
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	ctrl.Subscribe(session.ObserverFunc(func(ev session.Event) {
		switch ev.Kind {
		case session.StateChanged:
			printf("STATE %s\n", ev.State)
			if ev.State == session.Idle {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		case session.TranscriptionDone:
			mu.Lock()
			count++
			mu.Unlock()
			printf("TEXT %s\n", ev.Result.Text)
		case session.ConditionRaised:
			printf("CONDITION %s\n", ev.Condition)
		}
	}))
	ctrl.Start(ctx)

	result := func(err error) (int, error) {
		ctrl.Close()
		mu.Lock()
		defer mu.Unlock()
		return count, err
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case cmd == "":
		case cmd == "TOGGLE":
			ctrl.ToggleRecording()
		case cmd == "WAIT":
			select {
			case <-idle:
			case <-ctx.Done():
				return result(nil)
			}
		case cmd == "QUIT":
			return result(nil)
		case strings.HasPrefix(cmd, "SLEEP "):
			ms, err := strconv.Atoi(strings.TrimSpace(cmd[6:]))
			if err != nil {
				printf("ERROR bad sleep %q\n", cmd[6:])
				continue
			}
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return result(nil)
			}
		default:
			log.Warn("headless_unknown_command: " + cmd)
			printf("ERROR unknown command %q\n", cmd)
		}
	}
	return result(scanner.Err())
}
