package audio

import (
	"errors"
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext replays PCM from a WAV file (or an in-memory buffer) as if it
// came from a microphone.
type FakeContext struct {
	pcm      []byte
	realtime bool

	mu           sync.Mutex
	devices      []DeviceInfo
	defaultInput string
	startErr     error
	newErr       error
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	return NewFakeContextPCM(PCMFromWAV(data), realtime), nil
}

// NewFakeContextPCM builds a fake context from raw S16LE mono samples.
func NewFakeContextPCM(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{
		pcm:      pcm,
		realtime: realtime,
		devices:  []DeviceInfo{{ID: "fake-0", Name: "Fake Microphone"}},
	}
}

// PCMFromWAV strips the fixed-size header.
func PCMFromWAV(data []byte) []byte {
	if len(data) > WAVHeaderSize {
		return data[WAVHeaderSize:]
	}
	return nil
}

// FailStart makes captures created afterwards fail in Start.
func (f *FakeContext) FailStart(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

// FailOpen makes NewCapture fail.
func (f *FakeContext) FailOpen(err error) {
	f.mu.Lock()
	f.newErr = err
	f.mu.Unlock()
}

func (f *FakeContext) DefaultInput() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.defaultInput
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DeviceInfo(nil), f.devices...), nil
}

func (f *FakeContext) SetDefaultInput(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := FindDevice(f.devices, name); !ok {
		return errors.New("input device not found: " + name)
	}
	f.defaultInput = name
	return nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(device *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	name := "fake"
	if device != nil {
		name = device.Name
	} else if f.defaultInput != "" {
		name = f.defaultInput
	}
	return &FakeCapture{
		pcm:       f.pcm,
		realtime:  f.realtime,
		name:      name,
		startErr:  f.startErr,
		audioDone: make(chan struct{}),
	}, nil
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	name      string
	startErr  error
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return f.name }

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	chunkBytes := fakeFrameSize * fakeBytesPerFrame

	if !f.realtime {
		f.mu.Lock()
		cb := f.cb
		f.mu.Unlock()
		if cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
		close(f.audioDone)
		close(f.feedDone)
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(SampleRate)
	go func() {
		defer close(f.feedDone)
		pos := 0
		for pos < len(f.pcm) {
			f.mu.Lock()
			cb := f.cb
			f.mu.Unlock()
			if cb != nil {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
		close(f.audioDone)
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
}

func (f *FakeCapture) Close() { f.Stop() }
