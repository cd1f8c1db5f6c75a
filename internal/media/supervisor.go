package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// defaultStopGrace is how long ffmpeg gets to exit after SIGINT before it is killed.
	defaultStopGrace = 10 * time.Second
	// progressBuffer bounds queued progress events; extra events are dropped.
	progressBuffer = 32
	// maxTailLines is how many non-progress output lines are kept for errors.
	maxTailLines = 20
)

// RunResult is the outcome of a successful ffmpeg run.
type RunResult struct {
	OutputPath string
	SizeBytes  int64
	// DroppedProgress counts progress events discarded because the observer lagged.
	DroppedProgress int
}

// Runner repeats and trims a manifest into an output file.
type Runner interface {
	Run(ctx context.Context, manifestPath string, trimSeconds float64, outputPath string, obs Observer) (*RunResult, error)
}

// FFmpegSupervisor implements Runner by supervising a single ffmpeg process.
type FFmpegSupervisor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	stopGrace  time.Duration
	logger     *slog.Logger
}

// SupervisorOption configures an FFmpegSupervisor.
type SupervisorOption func(*FFmpegSupervisor)

// WithStopGrace sets how long ffmpeg may take to exit after an interrupt
// before it is killed.
func WithStopGrace(d time.Duration) SupervisorOption {
	return func(s *FFmpegSupervisor) {
		if d > 0 {
			s.stopGrace = d
		}
	}
}

// WithSupervisorLogger sets the logger used for process lifecycle messages.
func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(s *FFmpegSupervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFFmpegSupervisor creates a new FFmpegSupervisor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegSupervisor(ffmpegPath string, opts ...SupervisorOption) *FFmpegSupervisor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	s := &FFmpegSupervisor{
		ffmpegPath: ffmpegPath,
		stopGrace:  defaultStopGrace,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// repeatArgs builds the stream-copy invocation for a concat manifest.
func repeatArgs(manifestPath string, trimSeconds float64, outputPath string) []string {
	return []string{
		"-f", "concat", // Use concat demuxer
		"-safe", "0", // Allow absolute paths
		"-i", manifestPath, // Input file list
		"-t", fmt.Sprintf("%.3f", trimSeconds), // Trim to exact duration
		"-c", "copy", // Copy streams without re-encoding
		"-y",       // Overwrite output file
		outputPath, // Output file
	}
}

// Run executes ffmpeg and blocks until it exits. Output is drained while the
// process runs; progress lines go to obs and are never allowed to stall the
// pipe. When ctx is cancelled ffmpeg is interrupted, then killed after the
// stop grace period.
func (s *FFmpegSupervisor) Run(ctx context.Context, manifestPath string, trimSeconds float64, outputPath string, obs Observer) (*RunResult, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	args := repeatArgs(manifestPath, trimSeconds, outputPath)

	// A file left at outputPath by an earlier run must not pass as output.
	if err := os.Remove(outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &Error{Kind: KindInput, Op: "remove stale output", Path: outputPath, Err: err}
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = s.stopGrace

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	events := make(chan ProgressEvent, progressBuffer)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for ev := range events {
			obs.OnProgress(ev)
		}
	}()

	drained := make(chan drainResult, 1)
	go func() {
		drained <- drainOutput(pr, events)
	}()

	s.logger.Debug("starting ffmpeg",
		slog.String("manifest", manifestPath),
		slog.String("output", outputPath),
		slog.Float64("trim_seconds", trimSeconds),
	)

	runErr := cmd.Run()
	_ = pw.Close()
	out := <-drained
	<-dispatched

	if out.dropped > 0 {
		s.logger.Debug("progress events dropped",
			slog.Int("dropped", out.dropped),
		)
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return nil, &Error{
				Kind:     KindCancelled,
				Op:       "run ffmpeg",
				Path:     outputPath,
				ExitCode: -1,
				Err:      ctx.Err(),
			}
		}
		toolErr := &Error{
			Kind:     KindExternalTool,
			Op:       "run ffmpeg",
			Path:     outputPath,
			ExitCode: -1,
			Detail:   out.tail,
			Err:      runErr,
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			toolErr.ExitCode = exitErr.ExitCode()
		}
		return nil, toolErr
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &Error{
				Kind:   KindOutputMissing,
				Op:     "validate output",
				Path:   outputPath,
				Detail: out.tail,
				Err:    ErrOutputMissing,
			}
		}
		return nil, &Error{Kind: KindOutputMissing, Op: "stat output", Path: outputPath, Err: err}
	}

	return &RunResult{
		OutputPath:      outputPath,
		SizeBytes:       info.Size(),
		DroppedProgress: out.dropped,
	}, nil
}

type drainResult struct {
	tail    string
	dropped int
}

// drainOutput reads r until EOF, forwarding progress lines without blocking
// and keeping the last non-progress lines. It closes events when done.
func drainOutput(r io.Reader, events chan<- ProgressEvent) drainResult {
	defer close(events)

	var res drainResult
	tail := make([]string, 0, maxTailLines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLinesWithCR)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if ev, ok := parseProgress(line); ok {
			select {
			case events <- ev:
			default:
				res.dropped++
			}
			continue
		}
		if len(tail) == maxTailLines {
			tail = tail[1:]
		}
		tail = append(tail, strings.TrimSpace(line))
	}
	// A scanner error (e.g. an overlong line) must not leave the writer blocked.
	if scanner.Err() != nil {
		_, _ = io.Copy(io.Discard, r)
	}

	res.tail = strings.Join(tail, "\n")
	return res
}

// scanLinesWithCR handles both \r and \n as line delimiters, since ffmpeg
// rewrites its progress line with carriage returns.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for i := 0; i < len(data); i++ {
		if data[i] == '\r' || data[i] == '\n' {
			advance = i + 1
			for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
				advance++
			}
			return advance, data[0:i], nil
		}
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

// Verify interface implementation at compile time.
var _ Runner = (*FFmpegSupervisor)(nil)
