package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"typeless/audio"
	"typeless/session"
	"typeless/transcriber"
)

func newHeadlessController(t *testing.T, text string) (*session.Controller, string) {
	t.Helper()
	// One second of silence.
	fake := audio.NewFakeContextPCM(make([]byte, audio.SampleRate*2), false)
	dir := t.TempDir()
	ctrl := session.New(session.Deps{
		Capture:       audio.NewRecorder(fake),
		Models:        fixedModel{},
		Engine:        transcriber.NewFake(text, nil),
		Permission:    audio.DeviceAccess{Ctx: fake},
		RecordingsDir: dir,
	})
	t.Cleanup(ctrl.Close)
	return ctrl, dir
}

func TestHeadlessScript(t *testing.T) {
	ctrl, dir := newHeadlessController(t, "hello from the fake engine")
	script := "TOGGLE\nSLEEP 200\nTOGGLE\nWAIT\nQUIT\nTOGGLE\n"

	var out bytes.Buffer
	n, err := runHeadless(context.Background(), ctrl, strings.NewReader(script), &out)
	if err != nil {
		t.Fatalf("runHeadless: %v", err)
	}
	if n != 1 {
		t.Errorf("transcriptions = %d, want 1", n)
	}

	want := []string{
		"STATE requesting_permission",
		"STATE recording",
		"STATE transcribing",
		"TEXT hello from the fake engine",
		"STATE idle",
	}
	got := strings.Split(strings.TrimSpace(out.String()), "\n")
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("output:\n%s\nwant:\n%s", out.String(), strings.Join(want, "\n"))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("recording left behind: %s", filepath.Join(dir, entries[0].Name()))
	}
}

func TestHeadlessUnknownCommands(t *testing.T) {
	ctrl, _ := newHeadlessController(t, "unused")
	var out bytes.Buffer
	n, err := runHeadless(context.Background(), ctrl, strings.NewReader("\nJUMP\nSLEEP soon\n"), &out)
	if err != nil {
		t.Fatalf("runHeadless: %v", err)
	}
	if n != 0 {
		t.Errorf("transcriptions = %d, want 0", n)
	}
	for _, want := range []string{`ERROR unknown command "JUMP"`, `ERROR bad sleep "soon"`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestHeadlessWaitStopsOnCancel(t *testing.T) {
	ctrl, _ := newHeadlessController(t, "unused")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	if _, err := runHeadless(ctx, ctrl, strings.NewReader("WAIT\n"), &out); err != nil {
		t.Fatalf("runHeadless: %v", err)
	}
}
