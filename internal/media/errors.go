package media

import (
	"errors"
	"fmt"
	"strings"
)

// Static errors for media operations.
var (
	// ErrInvalidDuration is returned when a source or target duration is not positive.
	ErrInvalidDuration = errors.New("invalid duration: must be positive")
	// ErrSourceNotFound is returned when the source media file does not exist.
	ErrSourceNotFound = errors.New("source file does not exist")
	// ErrRepeatLimit is returned when a plan needs more repetitions than allowed.
	ErrRepeatLimit = errors.New("repeat count exceeds configured limit")
	// ErrUnparsableDuration is returned when ffprobe output is not a single number.
	ErrUnparsableDuration = errors.New("ffprobe output is not a duration")
	// ErrOutputMissing is returned when ffmpeg exits cleanly without producing output.
	ErrOutputMissing = errors.New("output file missing after successful exit")
)

// Kind classifies a construction failure so callers can branch without
// inspecting error strings.
type Kind string

const (
	// KindInput covers a missing source file and non-positive durations.
	KindInput Kind = "input"
	// KindProbe covers ffprobe failures and unparsable probe output.
	KindProbe Kind = "probe"
	// KindManifest covers failures writing the concat manifest.
	KindManifest Kind = "manifest"
	// KindExternalTool covers a non-zero exit from ffmpeg.
	KindExternalTool Kind = "external_tool"
	// KindOutputMissing covers a zero exit with no output file on disk.
	KindOutputMissing Kind = "output_missing"
	// KindCancelled covers caller-initiated interruption.
	KindCancelled Kind = "cancelled"
)

// Error is the single error type surfaced by the extended video constructor.
// It carries enough context (path, exit code, tool output) to diagnose a
// failure without reading logs.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "probe" or "run ffmpeg".
	Op string
	// Path is the file the operation was working on.
	Path string
	// ExitCode is the subprocess exit code, or -1 when the process never ran
	// to completion. Zero for errors not tied to a subprocess.
	ExitCode int
	// Detail holds the offending tool output or parse input.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Op)
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Kind == KindExternalTool || (e.Kind == KindProbe && e.ExitCode != 0) {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, "\noutput: %s", e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" when err is not a media *Error.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

// ExitCodeOf returns the subprocess exit code carried by err, if any.
func ExitCodeOf(err error) (int, bool) {
	var me *Error
	if errors.As(err, &me) && me.Kind == KindExternalTool {
		return me.ExitCode, true
	}
	return 0, false
}
