// Package whisper runs transcription locally with whisper.cpp.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"typeless/log"
	"typeless/transcriber"
)

type Config struct {
	Language string // language code, or "auto" for detection
	Threads  uint   // 0 = library default
}

// Engine keeps one model loaded and opens a fresh context per call.
type Engine struct {
	cfg Config

	mu    sync.Mutex
	model whisper.Model
	path  string
}

var _ transcriber.Engine = (*Engine)(nil)

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Load(modelPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model != nil && e.path == modelPath {
		return nil
	}

	info, err := os.Stat(modelPath)
	if err != nil {
		return fmt.Errorf("%w: %w", transcriber.ErrModelLoadFailed, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", transcriber.ErrModelLoadFailed, modelPath)
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", transcriber.ErrModelLoadFailed, modelPath, err)
	}

	if e.model != nil {
		e.model.Close()
	}
	e.model = model
	e.path = modelPath
	log.Info(fmt.Sprintf("whisper model loaded: %s (multilingual=%v)", modelPath, model.IsMultilingual()))
	return nil
}

func (e *Engine) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if sampleRate != transcriber.SampleRate {
		return "", fmt.Errorf("whisper: sample rate %d, want %d", sampleRate, transcriber.SampleRate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model == nil {
		return "", fmt.Errorf("%w: no model loaded", transcriber.ErrModelLoadFailed)
	}
	if len(samples) == 0 {
		return "", nil
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create whisper context: %w", err)
	}

	if lang := e.cfg.Language; lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			log.Warnf("whisper: set language %q: %v", lang, err)
		}
	}
	if e.cfg.Threads > 0 {
		wctx.SetThreads(e.cfg.Threads)
	}

	// Returning false from the encoder callback aborts processing.
	keepGoing := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, keepGoing, nil, nil); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("whisper process: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var segments []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("get segment: %w", err)
		}
		segments = append(segments, segment.Text)
	}
	return transcriber.JoinSegments(segments), nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	e.path = ""
	return err
}
