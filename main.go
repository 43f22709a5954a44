package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/alecthomas/kong"

	"typeless/config"
	"typeless/hotkey"
	"typeless/log"
)

var version = "dev"

// Globals are the flags shared by every command. Set flags win over the
// environment.
type Globals struct {
	LogPath  string   `name:"logpath" help:"Log directory path (default: OS-specific location, use ./ for current dir)."`
	Device   string   `help:"Use named microphone device."`
	Language string   `help:"Language code for transcription (e.g. en, es, fr), or auto."`
	Profile  string   `help:"Enable pprof profiling server (e.g. localhost:6060)."`
	Hotkey   string   `help:"Global hotkey combination, e.g. ctrl+shift+f9 (default ${combo})."`
	EnvFile  []string `name:"env-file" help:"Read environment overrides from these files instead of .env."`
}

// CLI is the typeless command tree.
type CLI struct {
	Globals

	Run        RunCmd        `cmd:"" default:"withargs" help:"Record with the global hotkey from a terminal UI."`
	Models     ModelsCmd     `cmd:"" help:"List, download, delete and select whisper models."`
	Devices    DevicesCmd    `cmd:"" help:"List capture devices or pick the preferred one."`
	Transcribe TranscribeCmd `cmd:"" help:"Transcribe a WAV file with the selected model."`
	Headless   HeadlessCmd   `cmd:"" hidden:"" help:"Stdin-driven session for integration tests."`
	Doctor     DoctorCmd     `cmd:"" help:"Run interactive system diagnostics."`
	Version    VersionCmd    `cmd:"" help:"Print version and exit."`
}

func run() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("typeless"),
		kong.Description("Local voice capture and transcription."),
		kong.UsageOnError(),
		kong.Vars{"combo": hotkey.Default.String()},
	)
	err := ctx.Run(&cli.Globals)
	log.Close()
	ctx.FatalIfErrorf(err)
}

// setup loads configuration, applies flag overrides and starts logging.
func (g *Globals) setup() (*config.Config, error) {
	cfg, err := config.Load(g.EnvFile...)
	if err != nil {
		return nil, err
	}
	if g.LogPath != "" {
		cfg.LogPath = g.LogPath
	}
	if g.Device != "" {
		cfg.Device = g.Device
	}
	if g.Hotkey != "" {
		cfg.Hotkey = g.Hotkey
	}
	if g.Language != "" {
		cfg.Language = g.Language
	}

	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve log directory: %w", err)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	if g.Profile != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", g.Profile)
			if err := http.ListenAndServe(g.Profile, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}
	return cfg, nil
}

// initCrashLog sends fatal runtime errors, including those raised inside
// cgo, to crash_log.txt in the log directory.
func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	crashFile.Close()
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("typeless %s\n", version)
	return nil
}
