//go:build darwin

package mute

import (
	"fmt"
	"os/exec"
	"strings"
)

// New mutes system output through AppleScript.
func New() Muter {
	return &restorer{get: outputMuted, set: setOutputMuted}
}

func outputMuted() (bool, error) {
	out, err := exec.Command("osascript", "-e", "output muted of (get volume settings)").Output()
	if err != nil {
		return false, fmt.Errorf("osascript: %w", err)
	}
	return strings.TrimSpace(string(out)) == "true", nil
}

func setOutputMuted(mute bool) error {
	script := fmt.Sprintf("set volume output muted %t", mute)
	if out, err := exec.Command("osascript", "-e", script).CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
