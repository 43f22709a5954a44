// Package doctor runs interactive diagnostics for the hotkey, microphone,
// model library, transcription engine and clipboard.
package doctor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"typeless/audio"
	"typeless/clipboard"
	"typeless/hotkey"
	"typeless/models"
	"typeless/transcriber"
)

type Config struct {
	Models     *models.Manager
	Engine     transcriber.Engine
	Device     string
	Hotkey     hotkey.Binding
	SkipHotkey bool

	In  io.Reader
	Out io.Writer
}

// check is one diagnostic step. run returns a detail line on success.
type check struct {
	name string
	run  func() (string, error)
}

// errSkipped marks a check that did not apply.
var errSkipped = errors.New("skipped")

const recordFor = 3 * time.Second

// Run executes the checks in order and returns an exit code (0 = all pass).
// A failing check stops the run, since later ones depend on it.
func Run(cfg Config) int {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	tty := saveTerminal(os.Stdin)

	fmt.Fprintln(cfg.Out, "typeless doctor - interactive system diagnostics")
	fmt.Fprintln(cfg.Out, "================================================")

	d := &doctor{cfg: cfg, in: bufio.NewReader(cfg.In), tty: tty}
	defer d.cleanup()
	watchInterrupt(cfg.Out, tty, d.cleanup)

	ok := runChecks(cfg.Out, []check{
		{"Hotkey detection", d.checkHotkey},
		{"Microphone", d.checkMicrophone},
		{"Selected model", d.checkModel},
		{"Transcription", d.checkTranscription},
		{"Clipboard", d.checkClipboard},
	})

	fmt.Fprintln(cfg.Out)
	if ok {
		fmt.Fprintln(cfg.Out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(cfg.Out, "Some checks failed. See details above.")
	return 1
}

func runChecks(w io.Writer, checks []check) bool {
	for i, c := range checks {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "[%d/%d] %s\n", i+1, len(checks), c.name)
		detail, err := c.run()
		switch {
		case errors.Is(err, errSkipped):
			fmt.Fprintf(w, "  SKIP: %s\n", detail)
		case err != nil:
			fmt.Fprintf(w, "  FAIL: %v\n", err)
			return false
		default:
			fmt.Fprintf(w, "  PASS: %s\n", detail)
		}
	}
	return true
}

type doctor struct {
	cfg Config
	in  *bufio.Reader
	tty *terminal

	wavPath   string
	modelPath string
}

func (d *doctor) cleanup() {
	if d.wavPath != "" {
		os.Remove(d.wavPath)
	}
}

func (d *doctor) ask(prompt string) string {
	fmt.Fprint(d.cfg.Out, prompt)
	line, _ := d.in.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(line))
}

func (d *doctor) checkHotkey() (string, error) {
	if d.cfg.SkipHotkey {
		return "disabled by flag", errSkipped
	}
	fmt.Fprintf(d.cfg.Out, "Press %s...\n", d.cfg.Hotkey)

	hk := hotkey.New(d.cfg.Hotkey)
	if err := hk.Register(); err != nil {
		return "", fmt.Errorf("could not register hotkey: %w", err)
	}
	defer hk.Unregister()

	select {
	case <-hk.Keydown():
		// Wait for keyup to avoid triggering the next step.
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		// The hotkey may leave the terminal in raw mode.
		d.tty.restore()
		return "hotkey detected", nil
	case <-time.After(10 * time.Second):
		return "", errors.New("timeout waiting for hotkey")
	}
}

func (d *doctor) checkMicrophone() (string, error) {
	actx, err := audio.NewContext()
	if err != nil {
		return "", fmt.Errorf("cannot connect to audio: %w", err)
	}
	defer actx.Close()

	if _, err := (audio.DeviceAccess{Ctx: actx}).Request(context.Background()); err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", "typeless-doctor-*.wav")
	if err != nil {
		return "", err
	}
	f.Close()
	d.wavPath = f.Name()

	d.ask("Press Enter and speak for 3 seconds...")
	rec := audio.NewRecorder(actx)
	if err := rec.StartCapture(d.wavPath, d.cfg.Device); err != nil {
		return "", err
	}

	fmt.Fprint(d.cfg.Out, "  Recording")
	peak := audio.SilenceFloorDB
	ticks := int(recordFor / (100 * time.Millisecond))
	for i := 1; i <= ticks; i++ {
		time.Sleep(100 * time.Millisecond)
		peak = max(peak, rec.CurrentLevel())
		if i%5 == 0 {
			fmt.Fprint(d.cfg.Out, ".")
		}
	}
	rec.StopCapture()
	fmt.Fprintln(d.cfg.Out, " done")

	info, err := os.Stat(d.wavPath)
	if err != nil {
		return "", err
	}
	if info.Size() <= audio.WAVHeaderSize {
		return "", errors.New("no audio captured")
	}
	if peak <= audio.SilenceFloorDB {
		return "", errors.New("captured only digital silence (muted or wrong device?)")
	}
	return fmt.Sprintf("recorded %.1f KB, peak %.1f dBFS", float64(info.Size())/1024, peak), nil
}

func (d *doctor) checkModel() (string, error) {
	if d.cfg.Models == nil {
		return "no model manager", errSkipped
	}
	path, err := d.cfg.Models.ResolveSelected()
	if err != nil {
		return "", fmt.Errorf("%w (run: typeless models download %s)", err, d.cfg.Models.Selected())
	}
	d.modelPath = path
	return fmt.Sprintf("%s at %s", d.cfg.Models.Selected(), filepath.Dir(path)), nil
}

func (d *doctor) checkTranscription() (string, error) {
	if d.cfg.Engine == nil || d.modelPath == "" {
		return "no engine or model", errSkipped
	}
	if err := d.cfg.Engine.Load(d.modelPath); err != nil {
		return "", err
	}
	data, err := os.ReadFile(d.wavPath)
	if err != nil {
		return "", err
	}

	fmt.Fprintln(d.cfg.Out, "  Transcribing...")
	text, err := d.cfg.Engine.Transcribe(context.Background(), audio.DecodeWAV(data), audio.SampleRate)
	if err != nil {
		return "", fmt.Errorf("transcription error: %w", err)
	}
	if text == "" {
		text = "(no speech detected)"
	}
	fmt.Fprintf(d.cfg.Out, "\n  Transcribed text: %s\n\n", text)

	switch d.ask("Is this correct? [y/n]: ") {
	case "y", "yes":
		return "transcription verified by user", nil
	}
	return "", errors.New("transcription not confirmed")
}

func (d *doctor) checkClipboard() (string, error) {
	if !clipboard.Available() {
		return "", errors.New("no clipboard tool found (install xclip, xsel or wl-clipboard)")
	}
	want := fmt.Sprintf("typeless-doctor-%d", time.Now().UnixNano())

	ch := make(chan error, 1)
	go func() {
		if err := clipboard.Copy(want); err != nil {
			ch <- fmt.Errorf("clipboard write failed: %w", err)
			return
		}
		got, err := clipboard.Read()
		if err != nil {
			ch <- fmt.Errorf("clipboard read failed: %w", err)
			return
		}
		if got != want {
			ch <- fmt.Errorf("clipboard mismatch: wrote %q, got %q", want, got)
			return
		}
		ch <- nil
	}()

	select {
	case err := <-ch:
		if err != nil {
			return "", err
		}
		return "clipboard write/read verified", nil
	case <-time.After(3 * time.Second):
		return "", errors.New("clipboard timed out (clipboard tool hung, compositor not accessible?)")
	}
}
