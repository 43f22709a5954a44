package models

import "fmt"

type Status int

const (
	NotDownloaded Status = iota
	Downloading
	Downloaded
	Failed
)

func (s Status) String() string {
	switch s {
	case NotDownloaded:
		return "not_downloaded"
	case Downloading:
		return "downloading"
	case Downloaded:
		return "downloaded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// State is the download state of one model. Progress is meaningful only
// while Downloading, Reason only when Failed.
type State struct {
	Status   Status
	Progress float64
	Reason   string
}

func (s State) String() string {
	switch s.Status {
	case Downloading:
		return fmt.Sprintf("downloading %.0f%%", s.Progress*100)
	case Failed:
		return "failed: " + s.Reason
	}
	return s.Status.String()
}

type EventKind int

const (
	StateChanged EventKind = iota
	SelectionChanged
)

// Event is published whenever a model's state or the selection changes.
type Event struct {
	Kind  EventKind
	Model string
	State State
}
