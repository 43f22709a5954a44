// Package clipboard puts transcriptions on the system clipboard.
package clipboard

import cb "github.com/atotto/clipboard"

// Available reports whether a clipboard backend was found (xclip, xsel,
// wl-copy or termux on linux).
func Available() bool {
	return !cb.Unsupported
}

func Read() (string, error) {
	return cb.ReadAll()
}

// Copy replaces the clipboard contents. Empty text leaves the clipboard
// alone.
func Copy(text string) error {
	if text == "" {
		return nil
	}
	return cb.WriteAll(text)
}
