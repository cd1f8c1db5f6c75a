// Package job tracks extended video requests from submission to a final
// status and runs them through a media.Constructor.
package job

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/maauso/longplay/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusQueued indicates the job is waiting for the ffmpeg slot.
	StatusQueued Status = "QUEUED"
	// StatusRunning indicates the job is being constructed.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job encountered an error during execution.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled before it finished.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions lists the statuses reachable from each status. Terminal
// statuses have no entry.
var validTransitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Job represents a request to build one extended-duration video.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Stage is the constructor step last reported, e.g. "PROBING" or "RUNNING".
	Stage string
	// Progress is the percentage of the target duration written so far (0-100).
	Progress int
	// Error contains any error message if the job failed.
	Error string
	// ErrorKind classifies the failure, e.g. "probe" or "external_tool".
	ErrorKind string
	// SourcePath is the local media file being repeated.
	SourcePath string
	// DurationHours is the requested output duration.
	DurationHours float64
	// Publish indicates whether to upload the result to S3.
	Publish bool
	// RepeatCount is how many times the source was repeated.
	RepeatCount int
	// OutputPath is the path to the finished file.
	OutputPath string
	// SizeBytes is the size of the finished file.
	SizeBytes int64
	// VideoURL is the S3 URL if Publish was true.
	VideoURL string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a QUEUED job with a fresh ID.
func New() *Job {
	now := time.Now()
	return &Job{
		ID:        id.Generate(),
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// transitionLocked moves the job to status and stamps the matching
// timestamp. The caller holds j.mu.
func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, j.Status, status)
	}
	j.Status = status
	j.UpdatedAt = time.Now()
	if status == StatusRunning {
		j.StartedAt = j.UpdatedAt
	} else if status.Terminal() {
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start moves a QUEUED job to RUNNING.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(StatusRunning)
}

// Complete moves a RUNNING job to COMPLETED at 100% progress.
func (j *Job) Complete() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Progress = 100
	return nil
}

// Fail moves a RUNNING job to FAILED and records why. kind is the media
// error kind, or "publish" when only the upload failed.
func (j *Job) Fail(kind, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.ErrorKind = kind
	j.Error = errMsg
	return nil
}

// Cancel moves a QUEUED or RUNNING job to CANCELLED.
func (j *Job) Cancel() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(StatusCancelled)
}

// SetStage records the constructor step the job is in.
func (j *Job) SetStage(stage string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Stage = stage
	j.UpdatedAt = time.Now()
}

// UpdateProgress sets the progress percentage (0-100) and reports whether
// it changed.
func (j *Job) UpdateProgress(progress int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress == j.Progress {
		return false
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
	return true
}

// SetOutput records the finished file.
func (j *Job) SetOutput(outputPath string, sizeBytes int64, repeatCount int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = outputPath
	j.SizeBytes = sizeBytes
	j.RepeatCount = repeatCount
	j.UpdatedAt = time.Now()
}

// SetVideoURL records where the finished file was published.
func (j *Job) SetVideoURL(videoURL string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.VideoURL = videoURL
	j.UpdatedAt = time.Now()
}

// IsTerminal reports whether the job has finished in any way.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status.Terminal()
}

// Clone returns a copy that shares no state with j.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return &Job{
		ID:            j.ID,
		Status:        j.Status,
		Stage:         j.Stage,
		Progress:      j.Progress,
		Error:         j.Error,
		ErrorKind:     j.ErrorKind,
		SourcePath:    j.SourcePath,
		DurationHours: j.DurationHours,
		Publish:       j.Publish,
		RepeatCount:   j.RepeatCount,
		OutputPath:    j.OutputPath,
		SizeBytes:     j.SizeBytes,
		VideoURL:      j.VideoURL,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
}
