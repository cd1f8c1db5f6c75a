// Package server provides the HTTP server for the longplay API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/longplay/internal/job"
)

// CreateJobRequest is the HTTP request body for creating a new job.
type CreateJobRequest struct {
	// SourcePath is the local media file to repeat.
	SourcePath string `json:"source_path" validate:"required"`
	// DurationHours is the target duration. The server default applies when omitted.
	DurationHours *float64 `json:"duration_hours,omitempty" validate:"omitempty,gt=0"`
	// Publish indicates whether to upload the finished file to S3.
	Publish bool `json:"publish"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Stage         string     `json:"stage,omitempty"`
	Progress      int        `json:"progress"`
	SourcePath    string     `json:"source_path"`
	DurationHours float64    `json:"duration_hours"`
	RepeatCount   int        `json:"repeat_count,omitempty"`
	OutputPath    string     `json:"output_path,omitempty"`
	SizeBytes     int64      `json:"size_bytes,omitempty"`
	VideoURL      string     `json:"video_url,omitempty"`
	Error         string     `json:"error,omitempty"`
	ErrorKind     string     `json:"error_kind,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ListJobsResponse is the HTTP response for listing jobs.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

// newJobResponse maps a job to its wire representation.
func newJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:            j.ID,
		Status:        string(j.Status),
		Stage:         j.Stage,
		Progress:      j.Progress,
		SourcePath:    j.SourcePath,
		DurationHours: j.DurationHours,
		RepeatCount:   j.RepeatCount,
		OutputPath:    j.OutputPath,
		SizeBytes:     j.SizeBytes,
		VideoURL:      j.VideoURL,
		Error:         j.Error,
		ErrorKind:     j.ErrorKind,
		CreatedAt:     j.CreatedAt,
	}
	if !j.StartedAt.IsZero() {
		started := j.StartedAt
		resp.StartedAt = &started
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}
