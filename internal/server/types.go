// Package server provides the HTTP surface of the Renderly API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// ScenePayload describes one background clip in a create request.
type ScenePayload struct {
	// VisualDescription is what the clip shows.
	VisualDescription string `json:"visual_description" validate:"required,max=1000"`
	// CameraMovement is the camera direction for the clip.
	CameraMovement string `json:"camera_movement" validate:"required,max=500"`
	// Mood is the tone of the clip.
	Mood string `json:"mood" validate:"required,max=500"`
	// Duration is the clip length in seconds; zero means 8.
	Duration int `json:"duration,omitempty" validate:"omitempty,min=4,max=8"`
	// TextOverlay is optional on-screen text.
	TextOverlay string `json:"text_overlay,omitempty" validate:"max=500"`
}

// AvatarPosition places the presenter; omitted fields take their defaults.
type AvatarPosition struct {
	Scale *float64 `json:"scale,omitempty" validate:"omitempty,gte=0.1,lte=1"`
	X     *float64 `json:"x,omitempty" validate:"omitempty,gte=-1,lte=1"`
	Y     *float64 `json:"y,omitempty" validate:"omitempty,gte=-1,lte=1"`
}

// CreateJobRequest is the HTTP request body for creating a new job.
type CreateJobRequest struct {
	ProductID      string          `json:"product_id,omitempty" validate:"max=255"`
	ProductTitle   string          `json:"product_title" validate:"required,max=500"`
	Scenes         []ScenePayload  `json:"scenes" validate:"required,min=1,max=20,dive"`
	ImageURL       string          `json:"image_url" validate:"required,url"`
	AvatarID       string          `json:"avatar_id" validate:"required,max=255"`
	VoiceID        string          `json:"voice_id" validate:"required,max=255"`
	AvatarScript   string          `json:"avatar_script" validate:"required"`
	AvatarPosition *AvatarPosition `json:"avatar_position,omitempty"`
	WebhookURL     string          `json:"webhook_url,omitempty" validate:"omitempty,url"`
	// PushToS3 archives the final video to S3 before completion.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	JobID                string `json:"job_id"`
	Status               string `json:"status"`
	Message              string `json:"message"`
	EstimatedTimeSeconds int    `json:"estimated_time_seconds"`
}

// JobError is the error block of a failed job.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID                    string     `json:"id"`
	Status                string     `json:"status"`
	Progress              int        `json:"progress"`
	ProductID             string     `json:"product_id,omitempty"`
	ProductTitle          string     `json:"product_title"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	ProcessingTimeSeconds *float64   `json:"processing_time_seconds,omitempty"`
	// BrollVideoURL is the public URL of the background video once generated.
	BrollVideoURL string `json:"broll_video_url,omitempty"`
	// FinalVideoURL is set once the job completed.
	FinalVideoURL string    `json:"final_video_url,omitempty"`
	Error         *JobError `json:"error,omitempty"`
	CreditsUsed   int       `json:"credits_used"`
}

// ListJobsResponse is the HTTP response for listing jobs.
type ListJobsResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
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
	// Status is "ok" or "degraded".
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	// Database is "ok", "unavailable", or "memory" when no database is used.
	Database string `json:"database"`
}
