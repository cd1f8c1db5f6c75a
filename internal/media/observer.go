package media

import (
	"strconv"
	"strings"
)

// State is a step of the extended video construction.
type State string

const (
	StateIdle          State = "IDLE"
	StateProbing       State = "PROBING"
	StatePlanning      State = "PLANNING"
	StateManifestReady State = "MANIFEST_READY"
	StateRunning       State = "RUNNING"
	StateValidating    State = "VALIDATING"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
	StateCancelled     State = "CANCELLED"
)

// ProgressEvent is a progress line taken from ffmpeg's merged output.
// It is meant for display only.
type ProgressEvent struct {
	// Line is the progress line exactly as ffmpeg printed it, without the
	// terminating carriage return or newline.
	Line string
	// OutTime is the "time=" position in seconds, or 0 if it could not be read.
	OutTime float64
}

// Observer receives construction state changes and progress events.
// Calls for a single Extend happen from one goroutine at a time and must
// return quickly; slow observers lose progress events, not output.
type Observer interface {
	OnState(state State)
	OnProgress(ev ProgressEvent)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	State    func(State)
	Progress func(ProgressEvent)
}

// OnState implements Observer.
func (o ObserverFuncs) OnState(state State) {
	if o.State != nil {
		o.State(state)
	}
}

// OnProgress implements Observer.
func (o ObserverFuncs) OnProgress(ev ProgressEvent) {
	if o.Progress != nil {
		o.Progress(ev)
	}
}

// nopObserver is used when the caller passes nil.
type nopObserver struct{}

func (nopObserver) OnState(State)            {}
func (nopObserver) OnProgress(ProgressEvent) {}

const progressMarker = "time="

// parseProgress reports whether line is an ffmpeg progress line and
// extracts its time position.
func parseProgress(line string) (ProgressEvent, bool) {
	idx := strings.Index(line, progressMarker)
	if idx == -1 {
		return ProgressEvent{}, false
	}
	ev := ProgressEvent{Line: line}

	value := line[idx+len(progressMarker):]
	if end := strings.IndexAny(value, " \t"); end != -1 {
		value = value[:end]
	}
	if secs, ok := parseClock(value); ok {
		ev.OutTime = secs
	}
	return ev, true
}

// parseClock converts "HH:MM:SS.ms" to seconds.
func parseClock(value string) (float64, bool) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.ParseFloat(parts[0], 64)
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}
	return hours*3600 + minutes*60 + seconds, true
}
