package audio

import "strings"

const WAVHeaderSize = 44

// Fixed capture format. Everything downstream (decoder, engine) assumes it.
const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

// DefaultCaptureConfig is the only configuration the recorder opens devices with.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{SampleRate: SampleRate, Channels: Channels}
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	// SetDefaultInput makes the named device the input used when
	// NewCapture is called without an explicit device.
	SetDefaultInput(name string) error
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// FindDevice matches a device by name or ID.
func FindDevice(devices []DeviceInfo, name string) (*DeviceInfo, bool) {
	for i := range devices {
		if devices[i].Name == name || devices[i].ID == name {
			return &devices[i], true
		}
	}
	return nil, false
}
