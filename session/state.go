package session

import (
	"fmt"
	"time"
)

type State int

const (
	Idle State = iota
	RequestingPermission
	Recording
	Transcribing
	// Error is passed through on every failed attempt, immediately
	// followed by Idle.
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RequestingPermission:
		return "requesting_permission"
	case Recording:
		return "recording"
	case Transcribing:
		return "transcribing"
	case Error:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Condition names why an attempt did not produce a normal result.
type Condition string

const (
	PermissionDenied    Condition = "PermissionDenied"
	CaptureStartFailed  Condition = "CaptureStartFailed"
	ModelUnavailable    Condition = "ModelUnavailable"
	TranscriptionFailed Condition = "TranscriptionFailed"
)

// Result is produced once per completed session.
type Result struct {
	Text      string
	SessionID string
}

type EventKind int

const (
	StateChanged EventKind = iota
	LevelSample
	TranscriptionDone
	ConditionRaised
)

// Event is published by the controller's run loop. Only the fields for the
// given Kind are set.
type Event struct {
	Kind      EventKind
	SessionID string

	State State // StateChanged
	Prev  State // StateChanged

	Level float64 // LevelSample, dBFS

	Result Result // TranscriptionDone

	Condition Condition // ConditionRaised
	Err       error     // ConditionRaised
}

// Snapshot is a consistent copy of the controller's observable fields.
type Snapshot struct {
	State         State
	SessionID     string
	StartedAt     time.Time
	CapturedFile  string
	LevelDB       float64
	LastResult    Result
	LastCondition Condition
	LastErr       error
}

// Observer is called on the controller's run loop for every event. It
// must not block or call back into the controller synchronously.
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }
