package doctor

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"typeless/shutdown"
)

// terminal remembers the tty mode stdin had when the doctor started. The
// hotkey check can leave it raw, and an interrupt must not leave it that way.
type terminal struct {
	fd    int
	state *term.State
}

func saveTerminal(f *os.File) *terminal {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return &terminal{fd: fd}
	}
	st, err := term.GetState(fd)
	if err != nil {
		return &terminal{fd: fd}
	}
	return &terminal{fd: fd, state: st}
}

func (t *terminal) restore() {
	if t == nil || t.state == nil {
		return
	}
	term.Restore(t.fd, t.state)
}

// onInterrupt restores the terminal, runs cleanup and exits with status 1
// after the first value on sig.
func onInterrupt(sig <-chan os.Signal, out io.Writer, t *terminal, cleanup func(), exit func(int)) {
	<-sig
	t.restore()
	cleanup()
	fmt.Fprintln(out, "\nInterrupted")
	exit(1)
}

func watchInterrupt(out io.Writer, t *terminal, cleanup func()) {
	sig := make(chan os.Signal, 1)
	shutdown.Notify(sig)
	go onInterrupt(sig, out, t, cleanup, os.Exit)
}
