package transcriber

import (
	"context"
	"errors"
	"strings"
)

// SampleRate is the only rate engines are fed with.
const SampleRate = 16000

var ErrModelLoadFailed = errors.New("model load failed")

// Engine turns normalized mono samples into text using a model file.
type Engine interface {
	// Load prepares the model at path. Loading the path that is already
	// loaded is a no-op. Errors wrap ErrModelLoadFailed.
	Load(modelPath string) error
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
	Close() error
}

// JoinSegments concatenates segment texts the way they read in the
// transcript: trimmed and separated by single spaces.
func JoinSegments(segments []string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
