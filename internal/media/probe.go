package media

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// DurationProber reports the true playback length of a media file.
type DurationProber interface {
	Probe(ctx context.Context, path string) (float64, error)
}

// FFprobe implements DurationProber using the ffprobe CLI.
type FFprobe struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFprobe creates a new FFprobe.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobe(ffprobePath string) *FFprobe {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobe{ffprobePath: ffprobePath}
}

// Probe returns the container duration of path in seconds. The output must
// be a single positive number; anything else is a probe error.
func (p *FFprobe) Probe(ctx context.Context, path string) (float64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, &Error{Kind: KindProbe, Op: "probe", Path: path, Err: err}
	}

	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, &Error{Kind: KindCancelled, Op: "probe", Path: path, Err: ctx.Err()}
		}
		probeErr := &Error{
			Kind:     KindProbe,
			Op:       "probe",
			Path:     path,
			ExitCode: -1,
			Detail:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			probeErr.ExitCode = exitErr.ExitCode()
		}
		return 0, probeErr
	}

	duration, err := parseDuration(stdout.String())
	if err != nil {
		return 0, &Error{
			Kind:   KindProbe,
			Op:     "parse duration",
			Path:   path,
			Detail: stdout.String(),
			Err:    err,
		}
	}
	return duration, nil
}

// parseDuration accepts exactly one line holding a positive float.
func parseDuration(out string) (float64, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" || strings.ContainsAny(trimmed, "\r\n") {
		return 0, ErrUnparsableDuration
	}
	duration, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, ErrUnparsableDuration
	}
	if !positive(duration) {
		return 0, ErrInvalidDuration
	}
	return duration, nil
}

// Verify interface implementation at compile time.
var _ DurationProber = (*FFprobe)(nil)
