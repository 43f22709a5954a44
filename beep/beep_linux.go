//go:build linux

package beep

import (
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"typeless/log"
)

var (
	rendered  map[Cue][]int16
	soundOnce sync.Once
)

// Stereo, interleaved, to match the usual sink format. The 200ms tails give
// pulse time to fill its buffer.
func initSound() {
	rendered = map[Cue][]int16{}
	for c, t := range tones {
		rendered[c] = stereo(t.samples(sampleRate, t.duration))
	}
}

func stereo(mono []int16) []int16 {
	out := make([]int16, len(mono)*2)
	for i, s := range mono {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

func Init() { soundOnce.Do(initSound) }

func play(c Cue) {
	soundOnce.Do(initSound)
	samples := rendered[c]
	if len(samples) == 0 {
		return
	}
	client, err := pulse.NewClient()
	if err != nil {
		log.Warnf("pulse playback: %v", err)
		return
	}
	defer client.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	stream, err := client.NewPlayback(reader,
		pulse.PlaybackStereo,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm), uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		log.Warnf("pulse playback: %v", err)
		return
	}
	stream.Start()
	stream.Drain()
	stream.Stop()
	stream.Close()
}
