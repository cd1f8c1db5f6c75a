// Package media builds extended-duration videos by repeating a source file
// with ffmpeg's concat demuxer and stream copy, without re-encoding.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultContainerExt is the extension of every produced file.
const DefaultContainerExt = ".mp4"

// Result is what a successful construction hands to consumers such as an
// uploader. It never exposes the manifest.
type Result struct {
	OutputPath             string
	DurationHoursRequested float64
	SizeBytes              int64
	Plan                   Plan
}

// Constructor is the contract of Extender, for callers that want to fake it.
type Constructor interface {
	Extend(ctx context.Context, sourcePath string, targetHours float64, obs Observer) (*Result, error)
}

// Extender sequences probe, plan, manifest, ffmpeg and validation, and owns
// cleanup of the manifest on every exit path.
type Extender struct {
	prober       DurationProber
	planner      Planner
	manifests    *ManifestBuilder
	runner       Runner
	outputDir    string
	containerExt string
	logger       *slog.Logger
}

// ExtenderOption configures an Extender.
type ExtenderOption func(*Extender)

// WithMaxRepeatCount rejects plans that need more than n repetitions.
// Zero, the default, leaves the count unbounded.
func WithMaxRepeatCount(n int) ExtenderOption {
	return func(e *Extender) {
		if n >= 0 {
			e.planner.MaxRepeatCount = n
		}
	}
}

// WithContainerExt overrides the output container extension.
func WithContainerExt(ext string) ExtenderOption {
	return func(e *Extender) {
		if ext == "" {
			return
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		e.containerExt = ext
	}
}

// WithLogger sets the extender's logger.
func WithLogger(logger *slog.Logger) ExtenderOption {
	return func(e *Extender) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExtender creates an Extender writing results into outputDir.
func NewExtender(prober DurationProber, manifests *ManifestBuilder, runner Runner, outputDir string, opts ...ExtenderOption) *Extender {
	e := &Extender{
		prober:       prober,
		manifests:    manifests,
		runner:       runner,
		outputDir:    outputDir,
		containerExt: DefaultContainerExt,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OutputName returns the deterministic file name for a source and target,
// e.g. "1h_clip.mp4" or "0.5h_clip.mp4". Hours are written with at most six
// decimals so float noise such as 0.30000000000000004 does not leak into it.
func OutputName(sourcePath string, targetHours float64, containerExt string) string {
	base := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return formatHours(targetHours) + "h_" + stem + containerExt
}

func formatHours(hours float64) string {
	s := strconv.FormatFloat(hours, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// Extend builds a file of exactly targetHours by repeating sourcePath.
// Input errors are returned before any subprocess is spawned. Once the
// manifest exists it is released however Extend returns.
func (e *Extender) Extend(ctx context.Context, sourcePath string, targetHours float64, obs Observer) (res *Result, err error) {
	if obs == nil {
		obs = nopObserver{}
	}
	logger := e.logger.With(slog.String("source", sourcePath))

	obs.OnState(StateIdle)
	defer func() {
		switch {
		case err == nil:
			obs.OnState(StateDone)
		case KindOf(err) == KindCancelled:
			obs.OnState(StateCancelled)
		default:
			obs.OnState(StateFailed)
		}
	}()

	if !positive(targetHours) {
		return nil, &Error{
			Kind:   KindInput,
			Op:     "extend",
			Path:   sourcePath,
			Detail: fmt.Sprintf("target hours %v", targetHours),
			Err:    ErrInvalidDuration,
		}
	}
	info, err := os.Stat(sourcePath)
	if err != nil || info.IsDir() {
		return nil, &Error{Kind: KindInput, Op: "extend", Path: sourcePath, Err: ErrSourceNotFound}
	}

	obs.OnState(StateProbing)
	sourceDuration, err := e.prober.Probe(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	obs.OnState(StatePlanning)
	plan, err := e.planner.Plan(sourceDuration, targetHours)
	if err != nil {
		return nil, err
	}
	logger.Info("repetition plan ready",
		slog.Float64("source_seconds", plan.SourceDuration),
		slog.Float64("target_seconds", plan.TargetDuration),
		slog.Int("repeat_count", plan.RepeatCount),
	)

	if err := os.MkdirAll(e.outputDir, 0750); err != nil {
		return nil, &Error{Kind: KindInput, Op: "create output directory", Path: e.outputDir, Err: err}
	}
	outputPath := filepath.Join(e.outputDir, OutputName(sourcePath, targetHours, e.containerExt))

	manifest, err := e.manifests.Build(ctx, sourcePath, plan.RepeatCount)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindCancelled, Op: "build manifest", Path: sourcePath, Err: ctx.Err()}
		}
		return nil, err
	}
	defer func() {
		if releaseErr := manifest.Release(ctx); releaseErr != nil {
			logger.Warn("failed to remove manifest",
				slog.String("manifest", manifest.Path()),
				slog.String("error", releaseErr.Error()),
			)
		}
	}()
	obs.OnState(StateManifestReady)

	obs.OnState(StateRunning)
	logger.Info("running ffmpeg",
		slog.String("output", outputPath),
		slog.String("manifest", manifest.Path()),
	)
	run, err := e.runner.Run(ctx, manifest.Path(), plan.TrimSeconds, outputPath, obs)
	if err != nil {
		if k := KindOf(err); k == KindCancelled || k == KindExternalTool {
			e.discardOutput(logger, outputPath)
		}
		return nil, err
	}

	obs.OnState(StateValidating)
	if ctx.Err() != nil {
		e.discardOutput(logger, outputPath)
		return nil, &Error{Kind: KindCancelled, Op: "validate output", Path: outputPath, Err: ctx.Err()}
	}

	logger.Info("extended video ready",
		slog.String("output", run.OutputPath),
		slog.Int64("size_bytes", run.SizeBytes),
		slog.String("size_gb", fmt.Sprintf("%.2f", float64(run.SizeBytes)/(1<<30))),
	)

	return &Result{
		OutputPath:             run.OutputPath,
		DurationHoursRequested: targetHours,
		SizeBytes:              run.SizeBytes,
		Plan:                   plan,
	}, nil
}

// discardOutput removes a partial output so it cannot be mistaken for a
// finished file.
func (e *Extender) discardOutput(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove partial output",
			slog.String("output", path),
			slog.String("error", err.Error()),
		)
	}
}

// Verify interface implementation at compile time.
var _ Constructor = (*Extender)(nil)
