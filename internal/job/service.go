package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/maauso/longplay/internal/media"
	"github.com/maauso/longplay/internal/storage"
)

// Static errors for the extend service.
var (
	// ErrInvalidInput is returned when a job request is missing its source or
	// asks for a non-positive duration.
	ErrInvalidInput = errors.New("invalid job input")
	// ErrPublishUnavailable is returned when a job asks to publish but no
	// remote store is configured.
	ErrPublishUnavailable = errors.New("publishing is not configured")
	// ErrJobTerminal is returned when cancelling a job that already finished.
	ErrJobTerminal = errors.New("job already finished")
	// ErrShuttingDown is returned when a job is submitted after Shutdown.
	ErrShuttingDown = errors.New("service is shutting down")
)

// ExtendInput contains the input parameters for building an extended video.
type ExtendInput struct {
	// SourcePath is the local media file to repeat.
	SourcePath string
	// DurationHours is the target duration of the output.
	DurationHours float64
	// Publish indicates whether to upload the finished file.
	Publish bool
}

// ExtendOutput contains the result of processing a job.
type ExtendOutput struct {
	// JobID is the unique identifier for the job.
	JobID string
	// Status is the final job status.
	Status Status
	// OutputPath is the local path to the finished file.
	OutputPath string
	// SizeBytes is the size of the finished file.
	SizeBytes int64
	// VideoURL is the published URL, if the job asked to publish.
	VideoURL string
	// Error contains any error message if processing failed.
	Error string
}

// ExtendService runs extended video jobs one at a time.
//
// Jobs are created QUEUED and wait for a single construction slot, so at most
// one ffmpeg process is live per service. Running or queued jobs can be
// cancelled by ID.
type ExtendService struct {
	repo     Repository
	extender media.Constructor
	store    storage.Storage
	logger   *slog.Logger

	// slot holds a token while a job is being constructed.
	slot chan struct{}

	// retention is how long finished jobs are kept. Zero keeps them forever.
	retention time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// ServiceOption configures an ExtendService.
type ServiceOption func(*ExtendService)

// WithRetention drops finished jobs older than d whenever a new job is
// created. Zero or negative keeps every job.
func WithRetention(d time.Duration) ServiceOption {
	return func(s *ExtendService) {
		if d > 0 {
			s.retention = d
		}
	}
}

// NewExtendService creates a new ExtendService.
// store may be nil, in which case publishing is unavailable.
func NewExtendService(repo Repository, extender media.Constructor, store storage.Storage, logger *slog.Logger, opts ...ServiceOption) *ExtendService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ExtendService{
		repo:     repo,
		extender: extender,
		store:    store,
		logger:   logger,
		slot:     make(chan struct{}, 1),
		cancels:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CanPublish reports whether jobs may ask for publication.
func (s *ExtendService) CanPublish() bool {
	return s.store != nil && s.store.CanPublish()
}

// CreateJob validates input and persists a new QUEUED job.
func (s *ExtendService) CreateJob(ctx context.Context, input ExtendInput) (*Job, error) {
	if input.SourcePath == "" {
		return nil, fmt.Errorf("%w: source path is required", ErrInvalidInput)
	}
	if input.DurationHours <= 0 || math.IsNaN(input.DurationHours) || math.IsInf(input.DurationHours, 0) {
		return nil, fmt.Errorf("%w: duration hours must be positive, got %v", ErrInvalidInput, input.DurationHours)
	}
	if input.Publish && !s.CanPublish() {
		return nil, ErrPublishUnavailable
	}

	s.pruneFinished(ctx)

	job := New()
	job.SourcePath = input.SourcePath
	job.DurationHours = input.DurationHours
	job.Publish = input.Publish

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("source", input.SourcePath),
		slog.Float64("duration_hours", input.DurationHours),
		slog.Bool("publish", input.Publish),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return job, nil
}

// GetJob retrieves a job by ID.
func (s *ExtendService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, oldest first.
func (s *ExtendService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Process creates a job and runs it to completion.
func (s *ExtendService) Process(ctx context.Context, input ExtendInput) (*ExtendOutput, error) {
	job, err := s.CreateJob(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.ProcessExistingJob(ctx, job.ID)
}

// ProcessExistingJob waits for the construction slot and runs a QUEUED job.
// The job's final state is persisted before it returns; the returned error
// is the construction failure, if any.
func (s *ExtendService) ProcessExistingJob(ctx context.Context, jobID string) (*ExtendOutput, error) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.cancels[jobID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.cancels, jobID)
		s.mu.Unlock()
		s.wg.Done()
	}()

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return outputFor(job), nil
	}

	logger := s.logger.With(slog.String("job_id", jobID))

	select {
	case s.slot <- struct{}{}:
	case <-jobCtx.Done():
		logger.Info("job cancelled while queued")
		_ = job.Cancel()
		s.save(ctx, job)
		return outputFor(job), nil
	}
	defer func() { <-s.slot }()

	// A cancel may have landed between lookup and slot acquisition.
	if jobCtx.Err() != nil {
		_ = job.Cancel()
		s.save(ctx, job)
		return outputFor(job), nil
	}

	if err := job.Start(); err != nil {
		return nil, err
	}
	s.save(ctx, job)
	logger.Info("job started")

	res, err := s.extender.Extend(jobCtx, job.SourcePath, job.DurationHours, s.observerFor(ctx, job))
	if err != nil {
		return s.finishWithError(ctx, logger, job, err)
	}

	job.SetOutput(res.OutputPath, res.SizeBytes, res.Plan.RepeatCount)

	if job.Publish {
		videoURL, err := s.publish(jobCtx, res.OutputPath)
		if err != nil {
			if jobCtx.Err() != nil {
				_ = job.Cancel()
				s.save(ctx, job)
				return outputFor(job), err
			}
			logger.Error("failed to publish output",
				slog.String("output", res.OutputPath),
				slog.String("error", err.Error()),
			)
			_ = job.Fail("publish", err.Error())
			s.save(ctx, job)
			return outputFor(job), err
		}
		job.SetVideoURL(videoURL)
	}

	if err := job.Complete(); err != nil {
		return nil, err
	}
	s.save(ctx, job)

	logger.Info("job completed",
		slog.String("output", res.OutputPath),
		slog.Int64("size_bytes", res.SizeBytes),
		slog.Int("repeat_count", res.Plan.RepeatCount),
	)

	return outputFor(job), nil
}

// CancelJob cancels a queued or running job.
// Returns ErrJobNotFound for unknown IDs and ErrJobTerminal when the job
// already finished.
func (s *ExtendService) CancelJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return ErrJobTerminal
	}

	// A job with a live processor is cancelled through its context so the
	// processor records the final state.
	if cancel, ok := s.cancels[jobID]; ok {
		s.logger.Info("cancelling job", slog.String("job_id", jobID))
		cancel()
		return nil
	}

	if err := job.Cancel(); err != nil {
		return err
	}
	s.logger.Info("cancelled queued job", slog.String("job_id", jobID))
	return s.repo.Save(ctx, job)
}

// Shutdown stops accepting jobs, cancels every queued or running job and
// waits for them to record their final state or for ctx to end.
func (s *ExtendService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for jobs: %w", ctx.Err())
	}
}

// finishWithError records a construction failure on the job.
func (s *ExtendService) finishWithError(ctx context.Context, logger *slog.Logger, job *Job, err error) (*ExtendOutput, error) {
	kind := media.KindOf(err)
	if kind == media.KindCancelled {
		logger.Info("job cancelled")
		_ = job.Cancel()
	} else {
		logger.Error("job failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		_ = job.Fail(string(kind), err.Error())
	}
	s.save(ctx, job)
	return outputFor(job), err
}

// publish uploads the finished file under its base name.
func (s *ExtendService) publish(ctx context.Context, outputPath string) (string, error) {
	f, err := s.store.Open(ctx, outputPath)
	if err != nil {
		return "", fmt.Errorf("open output: %w", err)
	}
	defer func() { _ = f.Close() }()

	videoURL, err := s.store.Publish(ctx, filepath.Base(outputPath), f)
	if err != nil {
		return "", fmt.Errorf("publish output: %w", err)
	}
	return videoURL, nil
}

// pruneFinished applies the retention window. Failures are logged only.
func (s *ExtendService) pruneFinished(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	removed, err := s.repo.PruneFinished(ctx, time.Now().Add(-s.retention))
	if err != nil {
		s.logger.Warn("failed to prune finished jobs", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		s.logger.Debug("pruned finished jobs", slog.Int("removed", removed))
	}
}

// save persists job, ignoring cancellation of ctx so final states are kept.
func (s *ExtendService) save(ctx context.Context, job *Job) {
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// observerFor mirrors constructor stages and progress onto job.
func (s *ExtendService) observerFor(ctx context.Context, job *Job) media.Observer {
	targetSeconds := job.DurationHours * media.SecondsPerHour
	return media.ObserverFuncs{
		State: func(state media.State) {
			job.SetStage(string(state))
			s.save(ctx, job)
		},
		Progress: func(ev media.ProgressEvent) {
			if ev.OutTime <= 0 || targetSeconds <= 0 {
				return
			}
			if job.UpdateProgress(int(ev.OutTime / targetSeconds * 100)) {
				s.save(ctx, job)
			}
		},
	}
}

func outputFor(job *Job) *ExtendOutput {
	snap := job.Clone()
	return &ExtendOutput{
		JobID:      snap.ID,
		Status:     snap.Status,
		OutputPath: snap.OutputPath,
		SizeBytes:  snap.SizeBytes,
		VideoURL:   snap.VideoURL,
		Error:      snap.Error,
	}
}
