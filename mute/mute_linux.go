//go:build linux

package mute

import (
	"fmt"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

const defaultSink = "@DEFAULT_SINK@"

// New mutes the pulse default sink.
func New() Muter {
	return &restorer{get: sinkMuted, set: setSinkMute}
}

func sinkMuted() (bool, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return false, fmt.Errorf("pulse: %w", err)
	}
	defer c.Close()

	var info proto.GetSinkInfoReply
	err = c.RawRequest(&proto.GetSinkInfo{SinkIndex: proto.Undefined, SinkName: defaultSink}, &info)
	if err != nil {
		return false, fmt.Errorf("pulse sink info: %w", err)
	}
	return info.Mute, nil
}

func setSinkMute(mute bool) error {
	c, err := pulse.NewClient()
	if err != nil {
		return fmt.Errorf("pulse: %w", err)
	}
	defer c.Close()

	err = c.RawRequest(&proto.SetSinkMute{SinkIndex: proto.Undefined, SinkName: defaultSink, Mute: mute}, nil)
	if err != nil {
		return fmt.Errorf("pulse set sink mute: %w", err)
	}
	return nil
}
