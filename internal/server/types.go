// Package server provides the HTTP server for the AudioCut API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CreateJobRequest is the HTTP request body for creating a new job.
type CreateJobRequest struct {
	// Filename is the original file name; its extension helps format
	// detection and its base name prefixes every part.
	Filename string `json:"filename" validate:"required,max=255"`
	// AudioBase64 is the base64-encoded source audio.
	AudioBase64 string `json:"audio_base64" validate:"required,base64"`
	// CutPoints are initial cut times in seconds.
	CutPoints []float64 `json:"cut_points" validate:"omitempty,max=1000,dive,gte=0"`
	// PushToS3 indicates whether exported parts are uploaded to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// CutPointRequest is the body of POST /jobs/{id}/cut-points.
type CutPointRequest struct {
	Time *float64 `json:"time" validate:"required,gte=0"`
}

// AutoCutRequest is the body of POST /jobs/{id}/cut-points/auto. Zero
// values take the defaults (45 s target, 500 ms silence, -40 dBFS).
type AutoCutRequest struct {
	TargetSec    float64  `json:"target_sec" validate:"omitempty,gte=0.1"`
	MinSilenceMs int      `json:"min_silence_ms" validate:"gte=0,max=60000"`
	ThresholdDB  *float64 `json:"threshold_db" validate:"omitempty,lte=0,gte=-120"`
	// Replace drops the existing cut points first.
	Replace bool `json:"replace"`
}

// ExportRequest is the optional body of POST /jobs/{id}/export.
type ExportRequest struct {
	// PushToS3 overrides the job setting when present.
	PushToS3 *bool `json:"push_to_s3"`
}

// CutPointResponse is one cut point of a job.
type CutPointResponse struct {
	ID    string  `json:"id"`
	Time  float64 `json:"time"`
	Label string  `json:"label"`
}

// PartResponse describes one exported part.
type PartResponse struct {
	Number    int     `json:"number"`
	Filename  string  `json:"filename"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	// Label is "mm:ss.cc - mm:ss.cc".
	Label    string `json:"label"`
	Size     int    `json:"size"`
	Location string `json:"location,omitempty"`
	Error    string `json:"error,omitempty"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	SourceName string  `json:"source_name"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Duration   float64 `json:"duration"`
	// CutPoints are sorted by time.
	CutPoints []CutPointResponse `json:"cut_points"`
	// PlannedParts is the number of files an export would produce now.
	PlannedParts int            `json:"planned_parts"`
	Parts        []PartResponse `json:"parts"`
	PushToS3     bool           `json:"push_to_s3"`
	// Error contains the first failure of the last export.
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobListResponse is the HTTP response for GET /jobs.
type JobListResponse struct {
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
	Status string `json:"status"`
}
