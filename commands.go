package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"typeless/audio"
	"typeless/clipboard"
	"typeless/doctor"
	"typeless/hotkey"
	"typeless/log"
	"typeless/models"
	"typeless/shutdown"
	"typeless/transcriber"
)

type ModelsCmd struct {
	List     ModelsListCmd     `cmd:"" default:"1" help:"List models and their download state."`
	Download ModelsDownloadCmd `cmd:"" help:"Download a model, waiting until it finishes."`
	Delete   ModelsDeleteCmd   `cmd:"" help:"Delete a downloaded model."`
	Select   ModelsSelectCmd   `cmd:"" help:"Use a downloaded model for transcription."`
}

type ModelsListCmd struct{}

func (c *ModelsListCmd) Run(g *Globals) error {
	a, err := openApp(g)
	if err != nil {
		return err
	}
	defer a.Close()
	listModels(os.Stdout, a.models.States(), a.models.Selected())
	return nil
}

func listModels(w io.Writer, states map[string]models.State, selected string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tSIZE\tSTATE")
	for _, d := range models.Catalog() {
		mark := ""
		if d.ID == selected {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, d.ID, d.DisplayName, d.SizeLabel, states[d.ID])
	}
	tw.Flush()
}

type ModelsDownloadCmd struct {
	ID     string `arg:"" help:"Model id, e.g. small.en."`
	Select bool   `help:"Select the model once it is downloaded."`
}

func (c *ModelsDownloadCmd) Run(g *Globals) error {
	a, err := openApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	if err := downloadModel(ctx, a.models, c.ID, os.Stdout); err != nil {
		return err
	}
	if c.Select {
		return a.models.Select(c.ID)
	}
	return nil
}

// downloadModel starts a download and reports progress until it settles.
// Cancelling ctx cancels the download.
func downloadModel(ctx context.Context, mgr *models.Manager, id string, w io.Writer) error {
	events, unsubscribe := mgr.Subscribe(64)
	defer unsubscribe()

	if err := mgr.EnsureDownloaded(id); err != nil {
		return err
	}
	if mgr.State(id).Status == models.Downloaded {
		fmt.Fprintf(w, "%s is already downloaded\n", id)
		return nil
	}

	lastPct := -1
	for {
		select {
		case <-ctx.Done():
			mgr.Cancel(id)
			fmt.Fprintln(w)
			return fmt.Errorf("download of %s cancelled", id)
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("%w: %s: manager closed", models.ErrDownloadFailed, id)
			}
			if ev.Model != id || ev.Kind != models.StateChanged {
				continue
			}
			switch ev.State.Status {
			case models.Downloading:
				if pct := int(ev.State.Progress * 100); pct != lastPct {
					lastPct = pct
					fmt.Fprintf(w, "\rdownloading %s %3d%%", id, pct)
				}
			case models.Downloaded:
				fmt.Fprintf(w, "\rdownloaded %s to %s\n", id, mgr.Path(id))
				return nil
			case models.Failed:
				fmt.Fprintln(w)
				return fmt.Errorf("%w: %s: %s", models.ErrDownloadFailed, id, ev.State.Reason)
			case models.NotDownloaded:
				fmt.Fprintln(w)
				return fmt.Errorf("download of %s cancelled", id)
			}
		}
	}
}

type ModelsDeleteCmd struct {
	ID string `arg:"" help:"Model id."`
}

func (c *ModelsDeleteCmd) Run(g *Globals) error {
	a, err := openApp(g)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.models.Delete(c.ID); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", c.ID)
	return nil
}

type ModelsSelectCmd struct {
	ID string `arg:"" help:"Model id."`
}

func (c *ModelsSelectCmd) Run(g *Globals) error {
	a, err := openApp(g)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.models.Select(c.ID); err != nil {
		if errors.Is(err, models.ErrNotDownloaded) {
			return fmt.Errorf("%w (run: typeless models download %s)", err, c.ID)
		}
		return err
	}
	fmt.Printf("selected %s\n", c.ID)
	return nil
}

// openApp is setup plus the shared app, for commands that need models but
// no audio.
func openApp(g *Globals) (*app, error) {
	cfg, err := g.setup()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, newEngine(cfg))
}

type DevicesCmd struct {
	Pick bool `help:"Choose the preferred microphone interactively and remember it."`
}

func (c *DevicesCmd) Run(g *Globals) error {
	a, err := openApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	actx, err := audio.NewContext()
	if err != nil {
		return fmt.Errorf("initializing audio: %w", err)
	}
	defer actx.Close()

	if c.Pick {
		dev, err := audio.SelectDevice(actx, a.device())
		if err != nil {
			return err
		}
		if err := a.settings.SetSelectedMicrophone(dev.Name); err != nil {
			return fmt.Errorf("save microphone: %w", err)
		}
		log.Info("device_selected: " + dev.Name)
		fmt.Printf("using %s\n", dev.Name)
		return nil
	}

	devices, err := actx.Devices()
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}
	current := a.device()
	for _, d := range devices {
		mark := " "
		if d.Name == current || d.ID == current {
			mark = "*"
		}
		bt := ""
		if audio.IsBluetooth(d.Name) {
			bt = "  [lower audio quality]"
		}
		fmt.Printf("%s %s%s\n", mark, d.Name, bt)
	}
	return nil
}

type TranscribeCmd struct {
	File string `arg:"" type:"existingfile" help:"16 kHz mono 16-bit WAV file."`
	Copy bool   `help:"Copy the text to the clipboard."`
}

func (c *TranscribeCmd) Run(g *Globals) error {
	a, err := openApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	text, err := transcribeFile(ctx, a.models, a.engine, c.File)
	if err != nil {
		return err
	}
	fmt.Println(text)
	log.TranscriptionText(text)
	if c.Copy {
		return clipboard.Copy(text)
	}
	return nil
}

// transcribeFile runs the selected model over a WAV file.
func transcribeFile(ctx context.Context, lib interface{ ResolveSelected() (string, error) }, engine transcriber.Engine, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	samples := audio.DecodeWAV(data)

	modelPath, err := lib.ResolveSelected()
	if err != nil {
		return "", err
	}
	if err := engine.Load(modelPath); err != nil {
		return "", err
	}

	start := time.Now()
	text, err := engine.Transcribe(ctx, samples, audio.SampleRate)
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", path, err)
	}
	log.TranscriptionResult("", modelPath, float64(len(samples))/audio.SampleRate, time.Since(start), len(text))
	return text, nil
}

type DoctorCmd struct {
	SkipHotkey bool `help:"Skip the interactive hotkey check."`
}

func (c *DoctorCmd) Run(g *Globals) error {
	a, err := openApp(g)
	if err != nil {
		return err
	}
	defer a.Close()
	binding, err := hotkey.Parse(a.cfg.Hotkey)
	if err != nil {
		return err
	}
	code := doctor.Run(doctor.Config{
		Models:     a.models,
		Engine:     a.engine,
		Device:     a.device(),
		Hotkey:     binding,
		SkipHotkey: c.SkipHotkey,
	})
	if code != 0 {
		return errors.New("some doctor checks failed")
	}
	return nil
}
