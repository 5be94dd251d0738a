package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/renderly/internal/job"
)

// SecondsPerScene is the rough wall-clock cost of one scene, used for the
// estimate returned on creation.
const SecondsPerScene = 120

// maxListLimit caps GET /jobs.
const maxListLimit = 100

// JobQueue hands accepted jobs to the pipeline workers.
type JobQueue interface {
	Submit(jobID string) error
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   *job.Service
	queue     JobQueue
	validator *validator.Validate
	logger    *slog.Logger
	dbPing    func(ctx context.Context) error
	now       func() time.Time
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithQueue sets where accepted jobs are dispatched.
// Without a queue, CreateJob only stores the job.
func WithQueue(q JobQueue) HandlerOption {
	return func(h *Handlers) {
		h.queue = q
	}
}

// WithDatabasePing adds a database check to GET /health.
func WithDatabasePing(ping func(ctx context.Context) error) HandlerOption {
	return func(h *Handlers) {
		h.dbPing = ping
	}
}

// WithHandlerClock overrides the health timestamp clock.
func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *Handlers) {
		h.now = now
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Timestamp: h.now(), Database: "memory"}
	code := http.StatusOK

	if h.dbPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.dbPing(ctx); err != nil {
			h.logger.Warn("database health check failed", slog.String("error", err.Error()))
			resp.Status = "degraded"
			resp.Database = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}

	writeJSON(w, code, resp)
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	createdJob, err := h.service.CreateJob(r.Context(), toInput(req))
	if err != nil {
		if errors.Is(err, job.ErrArchiveUnavailable) {
			writeError(w, http.StatusBadRequest, err.Error(), "S3_NOT_CONFIGURED")
			return
		}
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	if h.queue != nil {
		if err := h.queue.Submit(createdJob.ID); err != nil {
			h.logger.Warn("failed to dispatch job",
				slog.String("job_id", createdJob.ID),
				slog.String("error", err.Error()),
			)
			// Fail the stored job so it does not linger as pending.
			if rejectErr := h.service.Reject(context.WithoutCancel(r.Context()), createdJob.ID, "job queue is full; resubmit later"); rejectErr != nil {
				h.logger.Error("failed to reject undispatched job",
					slog.String("job_id", createdJob.ID),
					slog.String("error", rejectErr.Error()),
				)
			}
			writeError(w, http.StatusServiceUnavailable, "too many jobs in progress, retry later", "QUEUE_FULL")
			return
		}
	}

	h.logger.Info("job accepted",
		slog.String("job_id", createdJob.ID),
		slog.Int("scenes", len(req.Scenes)),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		JobID:                createdJob.ID,
		Status:               string(createdJob.Status),
		Message:              "Video generation started",
		EstimatedTimeSeconds: len(req.Scenes) * SecondsPerScene,
	})
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, newJobResponse(foundJob))
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := job.ListFilter{Limit: maxListLimit}
	if s := q.Get("status"); s != "" {
		status := job.Status(s)
		if !status.IsValid() {
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(s), "INVALID_STATUS")
			return
		}
		filter.Status = status
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "INVALID_LIMIT")
			return
		}
		filter.Limit = min(n, maxListLimit)
	}

	jobs, err := h.service.ListJobs(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list jobs",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(jobs)), Count: len(jobs)}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, newJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// toInput maps a validated request to the job input, applying defaults.
func toInput(req CreateJobRequest) job.Input {
	scenes := make([]job.Scene, len(req.Scenes))
	for i, s := range req.Scenes {
		duration := s.Duration
		if duration == 0 {
			duration = 8
		}
		scenes[i] = job.Scene{
			VisualDescription: s.VisualDescription,
			CameraMovement:    s.CameraMovement,
			Mood:              s.Mood,
			Duration:          duration,
			TextOverlay:       s.TextOverlay,
		}
	}

	placement := job.DefaultPlacement()
	if p := req.AvatarPosition; p != nil {
		if p.Scale != nil {
			placement.Scale = *p.Scale
		}
		if p.X != nil {
			placement.X = *p.X
		}
		if p.Y != nil {
			placement.Y = *p.Y
		}
	}

	return job.Input{
		ProductID:    req.ProductID,
		ProductTitle: req.ProductTitle,
		Scenes:       scenes,
		Script:       req.AvatarScript,
		PresenterID:  req.AvatarID,
		VoiceID:      req.VoiceID,
		ImageURL:     req.ImageURL,
		Placement:    placement,
		WebhookURL:   req.WebhookURL,
		PushToS3:     req.PushToS3,
	}
}

func newJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:            j.ID,
		Status:        string(j.Status),
		Progress:      j.Progress,
		ProductID:     j.Input.ProductID,
		ProductTitle:  j.Input.ProductTitle,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		BrollVideoURL: j.Artifacts.BrollPublicURL,
		FinalVideoURL: j.FinalURL,
		CreditsUsed:   j.CreditsUsed,
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		seconds := j.ProcessingTime.Seconds()
		resp.CompletedAt = &completed
		resp.ProcessingTimeSeconds = &seconds
	}
	if j.Failure != nil {
		resp.Error = &JobError{
			Kind:    string(j.Failure.Kind),
			Message: j.Failure.Message,
			Step:    j.Failure.Step,
		}
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
