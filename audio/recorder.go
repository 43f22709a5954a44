package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"typeless/log"
)

// SilenceFloorDB is reported whenever there is no signal to measure.
const SilenceFloorDB = -160.0

var (
	ErrCaptureStartFailed = errors.New("capture start failed")
	ErrAlreadyCapturing   = errors.New("a capture is already open")
)

const frameQueueSize = 256

// Recorder is the only component that opens the microphone. It writes one
// capture at a time to a mono 16 kHz PCM WAV file and meters its level.
type Recorder struct {
	ctx Context

	mu     sync.Mutex
	active *capture

	level atomic.Uint64
}

type capture struct {
	dev  CaptureDevice
	path string
	file *os.File
	enc  *wav.Encoder

	frames chan []byte
	done   chan struct{}

	mu       sync.Mutex
	closed   bool
	writeErr error
	written  uint64
}

func NewRecorder(ctx Context) *Recorder {
	r := &Recorder{ctx: ctx}
	r.storeLevel(SilenceFloorDB)
	return r
}

// StartCapture opens the input device and begins writing to outputPath.
// When deviceOverride is set it is first made the default input; failing
// to do so is logged and capture continues on the current default.
func (r *Recorder) StartCapture(outputPath, deviceOverride string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return fmt.Errorf("%w: %w", ErrCaptureStartFailed, ErrAlreadyCapturing)
	}

	if deviceOverride != "" {
		if err := r.ctx.SetDefaultInput(deviceOverride); err != nil {
			log.Warnf("set default input %q: %v", deviceOverride, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("%w: %w", ErrCaptureStartFailed, err)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCaptureStartFailed, err)
	}

	enc := wav.NewEncoder(f, SampleRate, BitsPerSample, Channels, 1)
	// Header goes out immediately so even an empty capture is a valid file.
	if err := enc.Write(newIntBuffer(nil)); err != nil {
		f.Close()
		os.Remove(outputPath)
		return fmt.Errorf("%w: write header: %w", ErrCaptureStartFailed, err)
	}

	dev, err := r.ctx.NewCapture(nil, DefaultCaptureConfig())
	if err != nil {
		f.Close()
		os.Remove(outputPath)
		return fmt.Errorf("%w: %w", ErrCaptureStartFailed, err)
	}

	c := &capture{
		dev:    dev,
		path:   outputPath,
		file:   f,
		enc:    enc,
		frames: make(chan []byte, frameQueueSize),
		done:   make(chan struct{}),
	}
	go c.writeLoop()

	dev.SetCallback(func(data []byte, frameCount uint32) {
		if len(data) < 2 {
			return
		}
		r.storeLevel(levelDB(data))
		pcm := make([]byte, len(data))
		copy(pcm, data)
		c.push(pcm)
	})

	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		c.finish()
		os.Remove(outputPath)
		return fmt.Errorf("%w: %w", ErrCaptureStartFailed, err)
	}

	r.active = c
	log.Info("capture_start: " + dev.DeviceName())
	return nil
}

// StopCapture closes the device and finalizes the file. It is a no-op when
// nothing is being captured.
func (r *Recorder) StopCapture() {
	r.mu.Lock()
	c := r.active
	r.active = nil
	r.mu.Unlock()

	if c == nil {
		return
	}

	c.dev.Stop()
	c.dev.ClearCallback()
	c.dev.Close()
	if err := c.finish(); err != nil {
		log.Errorf("capture finalize %s: %v", c.path, err)
	}
	r.storeLevel(SilenceFloorDB)
	log.Info(fmt.Sprintf("capture_stop: %d bytes", c.written))
}

// CurrentLevel returns the level of the most recent buffer in dBFS, or
// SilenceFloorDB when not capturing.
func (r *Recorder) CurrentLevel() float64 {
	r.mu.Lock()
	active := r.active != nil
	r.mu.Unlock()
	if !active {
		return SilenceFloorDB
	}
	return math.Float64frombits(r.level.Load())
}

func (r *Recorder) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *Recorder) storeLevel(db float64) {
	r.level.Store(math.Float64bits(db))
}

func (c *capture) push(pcm []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.frames <- pcm
}

func (c *capture) writeLoop() {
	defer close(c.done)
	for pcm := range c.frames {
		if c.writeErr != nil {
			continue
		}
		samples := make([]int, len(pcm)/2)
		for i := range samples {
			samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		}
		if err := c.enc.Write(newIntBuffer(samples)); err != nil {
			c.writeErr = err
			continue
		}
		c.written += uint64(len(samples) * 2)
	}
}

// finish drains the queue, patches the header sizes and closes the file.
func (c *capture) finish() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	c.mu.Unlock()
	<-c.done

	err := c.writeErr
	if cerr := c.enc.Close(); err == nil {
		err = cerr
	}
	if cerr := c.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func newIntBuffer(samples []int) *goaudio.IntBuffer {
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: Channels, SampleRate: SampleRate},
		Data:           samples,
		SourceBitDepth: BitsPerSample,
	}
}

// levelDB is the RMS of an S16LE buffer in dBFS.
func levelDB(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return SilenceFloorDB
	}
	var sumSquares float64
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(data[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	rms := math.Sqrt(sumSquares / float64(n))
	if rms == 0 {
		return SilenceFloorDB
	}
	return max(20*math.Log10(rms), SilenceFloorDB)
}
